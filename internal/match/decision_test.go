package match

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opensupplyhub/dedupe-hub/internal/gazetteer"
	"github.com/opensupplyhub/dedupe-hub/internal/model"
)

func TestReduceCandidates(t *testing.T) {
	scores := ReduceCandidates([]gazetteer.Candidate{
		{RecordID: "F:b", FacilityID: "b", Score: 0.912345},
		{RecordID: "M:1", FacilityID: "a", Score: 0.7},
		{RecordID: "M:2", FacilityID: "b", Score: 0.6, Exact: true},
		{RecordID: "F:c", FacilityID: "c", Score: 0.7},
	})

	assert.Equal(t, []FacilityScore{
		{FacilityID: "b", Confidence: 0.9123, Exact: true},
		{FacilityID: "a", Confidence: 0.7},
		{FacilityID: "c", Confidence: 0.7},
	}, scores)

	assert.Empty(t, ReduceCandidates(nil))
}

func TestDecide(t *testing.T) {
	thresholds := Thresholds{Gazetteer: 0.5, Automatic: 0.8}

	tests := []struct {
		name       string
		scores     []FacilityScore
		kind       Kind
		statuses   []model.MatchStatus
		itemStatus model.ItemStatus
		facilityID string
	}{
		{
			name:       "single above automatic",
			scores:     []FacilityScore{{FacilityID: "a", Confidence: 0.8}},
			kind:       KindSingle,
			statuses:   []model.MatchStatus{model.MatchAutomatic},
			itemStatus: model.ItemMatched,
			facilityID: "a",
		},
		{
			name:       "single below automatic",
			scores:     []FacilityScore{{FacilityID: "a", Confidence: 0.79, Exact: true}},
			kind:       KindSingle,
			statuses:   []model.MatchStatus{model.MatchPending},
			itemStatus: model.ItemPotentialMatch,
		},
		{
			name:       "multiple with one quality match",
			scores:     []FacilityScore{{FacilityID: "a", Confidence: 0.95}, {FacilityID: "b", Confidence: 0.6}},
			kind:       KindMultiple,
			statuses:   []model.MatchStatus{model.MatchAutomatic, model.MatchRejected},
			itemStatus: model.ItemMatched,
			facilityID: "a",
		},
		{
			name: "multiple quality matches with one exact",
			scores: []FacilityScore{
				{FacilityID: "a", Confidence: 0.95},
				{FacilityID: "b", Confidence: 0.9, Exact: true},
				{FacilityID: "c", Confidence: 0.55},
			},
			kind:       KindMultiple,
			statuses:   []model.MatchStatus{model.MatchRejected, model.MatchAutomatic, model.MatchRejected},
			itemStatus: model.ItemMatched,
			facilityID: "b",
		},
		{
			name:       "multiple quality matches without exact",
			scores:     []FacilityScore{{FacilityID: "a", Confidence: 0.95}, {FacilityID: "b", Confidence: 0.9}},
			kind:       KindMultiple,
			statuses:   []model.MatchStatus{model.MatchPending, model.MatchPending},
			itemStatus: model.ItemPotentialMatch,
		},
		{
			name:       "multiple quality matches all exact",
			scores:     []FacilityScore{{FacilityID: "a", Confidence: 0.99, Exact: true}, {FacilityID: "b", Confidence: 0.99, Exact: true}},
			kind:       KindMultiple,
			statuses:   []model.MatchStatus{model.MatchPending, model.MatchPending},
			itemStatus: model.ItemPotentialMatch,
		},
		{
			name:       "exact below automatic does not win",
			scores:     []FacilityScore{{FacilityID: "a", Confidence: 0.7, Exact: true}, {FacilityID: "b", Confidence: 0.6}},
			kind:       KindMultiple,
			statuses:   []model.MatchStatus{model.MatchPending, model.MatchPending},
			itemStatus: model.ItemPotentialMatch,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := Decide(false, tt.scores, thresholds)
			assert.Equal(t, tt.kind, d.Kind)
			assert.Equal(t, tt.statuses, d.Statuses)
			assert.Equal(t, tt.itemStatus, d.ItemStatus)
			assert.Equal(t, tt.facilityID, d.FacilityID)
		})
	}
}

func TestDecideWithoutScores(t *testing.T) {
	assert.NotPanics(t, func() {
		assert.Equal(t, Decision{}, Decide(true, nil, DefaultThresholds()))
		assert.Equal(t, Decision{}, Decide(false, []FacilityScore{}, DefaultThresholds()))
	})
}

func TestGazetteerItemMatch(t *testing.T) {
	thresholds := DefaultThresholds()

	_, ok := GazetteerItemMatch(false, 1, nil, thresholds)
	assert.False(t, ok)

	im, ok := GazetteerItemMatch(false, 7, []gazetteer.Candidate{
		{RecordID: "F:a", FacilityID: "a", Score: 0.97, Exact: true},
		{RecordID: "F:b", FacilityID: "b", Score: 0.52},
	}, thresholds)
	require.True(t, ok)
	assert.Equal(t, model.ItemMatched, im.Status)
	assert.Equal(t, "a", im.FacilityID)
	require.Len(t, im.Matches, 2)

	first := im.Matches[0]
	assert.Equal(t, int64(7), first.ItemID)
	assert.Equal(t, model.MatchAutomatic, first.Status)
	assert.True(t, first.IsActive)
	assert.Equal(t, map[string]interface{}{
		"match_type":          TypeGazetteer,
		"kind":                "multiple",
		"gazetteer_threshold": 0.5,
		"automatic_threshold": 0.8,
		"exact":               true,
	}, first.Results)
	assert.Equal(t, model.MatchRejected, im.Matches[1].Status)
	assert.Equal(t, false, im.Matches[1].Results["exact"])
}
