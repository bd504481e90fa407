package match

import (
	"math"
	"sort"

	"github.com/opensupplyhub/dedupe-hub/internal/debug"
	"github.com/opensupplyhub/dedupe-hub/internal/gazetteer"
	"github.com/opensupplyhub/dedupe-hub/internal/model"
)

// Kind classifies a gazetteer result by the number of facilities it names
type Kind string

const (
	KindSingle   Kind = "single"
	KindMultiple Kind = "multiple"
)

// FacilityScore is the best confidence reached for one facility
type FacilityScore struct {
	FacilityID string  `json:"facility_id"`
	Confidence float64 `json:"confidence"`
	Exact      bool    `json:"exact"`
}

// Decision is the classified outcome for one item
type Decision struct {
	Kind       Kind
	Scores     []FacilityScore
	Statuses   []model.MatchStatus // parallel to Scores
	ItemStatus model.ItemStatus
	FacilityID string // the automatic match, if any
}

// ReduceCandidates keeps the highest confidence per facility, rounded to four
// decimals, ordered by confidence then facility ID. A facility is exact when
// any of its records was.
func ReduceCandidates(candidates []gazetteer.Candidate) []FacilityScore {
	best := make(map[string]*FacilityScore)
	for _, c := range candidates {
		confidence := roundConfidence(c.Score)
		fs, ok := best[c.FacilityID]
		if !ok {
			best[c.FacilityID] = &FacilityScore{FacilityID: c.FacilityID, Confidence: confidence, Exact: c.Exact}
			continue
		}
		if confidence > fs.Confidence {
			fs.Confidence = confidence
		}
		fs.Exact = fs.Exact || c.Exact
	}

	scores := make([]FacilityScore, 0, len(best))
	for _, fs := range best {
		scores = append(scores, *fs)
	}
	sort.Slice(scores, func(i, j int) bool {
		if scores[i].Confidence != scores[j].Confidence {
			return scores[i].Confidence > scores[j].Confidence
		}
		return scores[i].FacilityID < scores[j].FacilityID
	})
	return scores
}

func roundConfidence(score float64) float64 {
	return math.Round(score*10000) / 10000
}

// Decide classifies reduced scores against the automatic threshold. No scores
// yields the zero Decision.
func Decide(localDebug bool, scores []FacilityScore, t Thresholds) Decision {
	if len(scores) == 0 {
		return Decision{}
	}

	debug.DebugHeader(localDebug)
	defer debug.DebugFooter(localDebug)

	d := Decision{
		Kind:       KindSingle,
		Scores:     scores,
		Statuses:   make([]model.MatchStatus, len(scores)),
		ItemStatus: model.ItemPotentialMatch,
	}
	if len(scores) > 1 {
		d.Kind = KindMultiple
	}

	winner := -1
	switch d.Kind {
	case KindSingle:
		if scores[0].Confidence >= t.Automatic {
			winner = 0
			debug.DebugOutput(localDebug, "single: %s %.4f >= %.4f automatic",
				scores[0].FacilityID, scores[0].Confidence, t.Automatic)
		}
	case KindMultiple:
		var quality []int
		for i, fs := range scores {
			if fs.Confidence >= t.Automatic {
				quality = append(quality, i)
			}
		}

		switch {
		case len(quality) == 1:
			winner = quality[0]
			debug.DebugOutput(localDebug, "multiple: one quality match %s", scores[winner].FacilityID)
		case len(quality) > 1:
			exact := -1
			exactCount := 0
			for _, i := range quality {
				if scores[i].Exact {
					exact = i
					exactCount++
				}
			}
			if exactCount == 1 {
				winner = exact
				debug.DebugOutput(localDebug, "multiple: %d quality matches, one exact %s",
					len(quality), scores[winner].FacilityID)
			} else {
				debug.DebugOutput(localDebug, "multiple: %d quality matches, %d exact, review needed",
					len(quality), exactCount)
			}
		}
	}

	for i := range d.Statuses {
		switch {
		case winner < 0:
			d.Statuses[i] = model.MatchPending
		case i == winner:
			d.Statuses[i] = model.MatchAutomatic
		default:
			d.Statuses[i] = model.MatchRejected
		}
	}
	if winner >= 0 {
		d.ItemStatus = model.ItemMatched
		d.FacilityID = scores[winner].FacilityID
	}
	return d
}

// GazetteerItemMatch turns raw gazetteer candidates for one item into the
// matches to persist. Without candidates the item is left alone.
func GazetteerItemMatch(localDebug bool, itemID int64, candidates []gazetteer.Candidate, t Thresholds) (ItemMatch, bool) {
	scores := ReduceCandidates(candidates)
	if len(scores) == 0 {
		return ItemMatch{}, false
	}

	d := Decide(localDebug, scores, t)

	im := ItemMatch{
		ItemID:     itemID,
		Status:     d.ItemStatus,
		FacilityID: d.FacilityID,
		Matches:    make([]model.FacilityMatch, 0, len(scores)),
	}
	for i, fs := range d.Scores {
		im.Matches = append(im.Matches, model.FacilityMatch{
			ItemID:     itemID,
			FacilityID: fs.FacilityID,
			Confidence: fs.Confidence,
			Status:     d.Statuses[i],
			Results: map[string]interface{}{
				"match_type":          TypeGazetteer,
				"kind":                string(d.Kind),
				"gazetteer_threshold": t.Gazetteer,
				"automatic_threshold": t.Automatic,
				"exact":               fs.Exact,
			},
			IsActive: true,
		})
	}
	return im, true
}
