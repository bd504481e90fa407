package match

import (
	"context"
	"sort"

	"github.com/rs/zerolog"

	"github.com/opensupplyhub/dedupe-hub/internal/debug"
	"github.com/opensupplyhub/dedupe-hub/internal/model"
	"github.com/opensupplyhub/dedupe-hub/internal/store"
)

// ExactMatcher attaches items to the facility of an already matched item with
// the same country, clean name and clean address
type ExactMatcher struct {
	store      store.Store
	log        zerolog.Logger
	localDebug bool
}

// NewExactMatcher creates the exact stage
func NewExactMatcher(s store.Store, log zerolog.Logger, localDebug bool) *ExactMatcher {
	return &ExactMatcher{
		store:      s,
		log:        log.With().Str("stage", TypeExact).Logger(),
		localDebug: localDebug,
	}
}

// Name implements Matcher
func (m *ExactMatcher) Name() string {
	return TypeExact
}

// Process implements Matcher
func (m *ExactMatcher) Process(ctx context.Context, messy []model.FacilityListItem) (_ []ItemMatch, err error) {
	defer mon.Task()(&ctx)(&err)
	debug.DebugHeader(m.localDebug)
	defer debug.DebugFooter(m.localDebug)

	var results []ItemMatch
	for _, item := range messy {
		if item.CleanName == "" || item.CleanAddress == "" {
			debug.DebugOutput(m.localDebug, "item %d: empty clean name or address, skipping", item.ID)
			continue
		}

		candidates, err := m.store.ExactCandidates(ctx, item.CountryCode, item.CleanName, item.CleanAddress)
		if err != nil {
			return nil, Error.New("exact lookup for item %d: %w", item.ID, err)
		}
		if len(candidates) == 0 {
			continue
		}

		best := pickExact(item, candidates)
		debug.DebugOutput(m.localDebug, "item %d: exact match %s via item %d (%d candidates)",
			item.ID, best.FacilityID, best.ItemID, len(candidates))

		results = append(results, ItemMatch{
			ItemID:     item.ID,
			Status:     model.ItemMatched,
			FacilityID: best.FacilityID,
			Matches: []model.FacilityMatch{{
				ItemID:     item.ID,
				FacilityID: best.FacilityID,
				Confidence: 1.0,
				Status:     model.MatchAutomatic,
				Results: map[string]interface{}{
					"match_type":      TypeExact,
					"matched_item_id": best.ItemID,
				},
				IsActive: true,
			}},
		})
	}

	saved, err := persist(ctx, m.store, batchFrom(ctx), results)
	if err != nil {
		return nil, err
	}

	m.log.Debug().Int("items", len(messy)).Int("matched", len(saved)).Msg("exact stage complete")
	return saved, nil
}

// pickExact prefers a facility reached through the item's own contributor,
// then the oldest facility, then the lowest facility ID
func pickExact(item model.FacilityListItem, candidates []store.ExactCandidate) store.ExactCandidate {
	sorted := append([]store.ExactCandidate(nil), candidates...)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		aOwn, bOwn := a.ContributorID == item.ContributorID, b.ContributorID == item.ContributorID
		if aOwn != bOwn {
			return aOwn
		}
		if !a.FacilityCreatedAt.Equal(b.FacilityCreatedAt) {
			return a.FacilityCreatedAt.Before(b.FacilityCreatedAt)
		}
		if a.FacilityID != b.FacilityID {
			return a.FacilityID < b.FacilityID
		}
		return a.ItemID < b.ItemID
	})
	return sorted[0]
}
