// Package match assigns facility list items to facilities.
package match

import (
	"context"
	"time"

	"github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"

	"github.com/opensupplyhub/dedupe-hub/internal/model"
	"github.com/opensupplyhub/dedupe-hub/internal/store"
)

var (
	mon = monkit.Package()

	// Error is the class of errors returned by this package
	Error = errs.Class("match")
)

// match_type values written to FacilityMatch.Results
const (
	TypeExact        = "exact"
	TypeGazetteer    = "gazetteer"
	TypeNewFacility  = "new_facility"
	TypeExactInBatch = "exact_in_batch"
)

// Thresholds defines the confidence cut-offs
type Thresholds struct {
	Gazetteer float64 // candidates scoring below are discarded
	Automatic float64 // matches at or above need no review
}

// DefaultThresholds returns the production thresholds
func DefaultThresholds() Thresholds {
	return Thresholds{
		Gazetteer: 0.5,
		Automatic: 0.8,
	}
}

// Matcher is one stage of the cumulative matcher. Process persists its
// outcomes before returning them.
type Matcher interface {
	Name() string
	Process(ctx context.Context, messy []model.FacilityListItem) ([]ItemMatch, error)
}

// ItemMatch is the outcome of matching one item
type ItemMatch struct {
	ItemID     int64                 `json:"item_id"`
	Status     model.ItemStatus      `json:"status"`
	FacilityID string                `json:"facility_id,omitempty"`
	Matches    []model.FacilityMatch `json:"matches,omitempty"`
	Message    string                `json:"message,omitempty"`
}

// batch identifies the matcher run a stage is working for
type batch struct {
	ID        string
	StartedAt time.Time
}

type batchKey struct{}

func withBatch(ctx context.Context, b batch) context.Context {
	return context.WithValue(ctx, batchKey{}, b)
}

func batchFrom(ctx context.Context) batch {
	if b, ok := ctx.Value(batchKey{}).(batch); ok {
		return b
	}
	return batch{StartedAt: time.Now()}
}

func (b batch) result(err bool, message string) model.ProcessingResult {
	return model.ProcessingResult{
		Action:     model.ActionMatch,
		StartedAt:  b.StartedAt,
		FinishedAt: time.Now(),
		Error:      err,
		Message:    message,
		BatchID:    b.ID,
	}
}

// persist saves the outcomes of a stage and fills in the stored matches
func persist(ctx context.Context, s store.Store, b batch, results []ItemMatch) ([]ItemMatch, error) {
	if len(results) == 0 {
		return nil, nil
	}

	outcomes := make([]store.Outcome, 0, len(results))
	for _, r := range results {
		outcomes = append(outcomes, r.outcome(b))
	}

	saved, err := s.SaveOutcomes(ctx, outcomes)
	if err != nil {
		return nil, Error.New("failed to save outcomes: %w", err)
	}
	return attachSaved(results, saved), nil
}

func (r ItemMatch) outcome(b batch) store.Outcome {
	isError := r.Status == model.ItemErrorMatching
	return store.Outcome{
		ItemID:     r.ItemID,
		Status:     r.Status,
		FacilityID: r.FacilityID,
		Result:     b.result(isError, r.Message),
		Matches:    r.Matches,
	}
}

func attachSaved(results []ItemMatch, saved []model.FacilityMatch) []ItemMatch {
	byItem := make(map[int64][]model.FacilityMatch, len(results))
	for _, m := range saved {
		byItem[m.ItemID] = append(byItem[m.ItemID], m)
	}
	for i := range results {
		if matches, ok := byItem[results[i].ItemID]; ok {
			results[i].Matches = matches
		}
	}
	return results
}
