// Package store persists facility list items, facilities and matches in the
// tables owned by the Open Supply Hub Django application.
package store

import (
	"context"
	"time"

	"github.com/zeebo/errs"

	"github.com/opensupplyhub/dedupe-hub/internal/gazetteer"
	"github.com/opensupplyhub/dedupe-hub/internal/model"
)

var (
	// Error is the class of errors returned by this package
	Error = errs.Class("store")
	// ErrNotFound is returned when a requested row does not exist
	ErrNotFound = errs.Class("not found")
	// ErrConflict is returned when an insert violates a unique key
	ErrConflict = errs.Class("conflict")
)

// Store is everything the matcher, the gazetteer cache and the API need from
// persistence
type Store interface {
	gazetteer.Source

	Ping(ctx context.Context) error

	// ListItems returns every item of a facility list ordered by row index.
	// An unknown list returns ErrNotFound.
	ListItems(ctx context.Context, listID int64) ([]model.FacilityListItem, error)
	// GetItems returns the items with the given IDs ordered by ID. Unknown IDs
	// are left out.
	GetItems(ctx context.Context, ids []int64) ([]model.FacilityListItem, error)

	// ExactCandidates returns matched items sharing the country, clean name
	// and clean address, together with their open facility
	ExactCandidates(ctx context.Context, countryCode, cleanName, cleanAddress string) ([]ExactCandidate, error)

	// SaveOutcomes persists matches and item updates in one transaction and
	// returns the inserted matches with their IDs
	SaveOutcomes(ctx context.Context, outcomes []Outcome) ([]model.FacilityMatch, error)
	// CreateFacility inserts facility and persists outcomes in one
	// transaction. A taken facility ID returns ErrConflict.
	CreateFacility(ctx context.Context, facility model.Facility, outcomes []Outcome) ([]model.FacilityMatch, error)
	// MarkDuplicates sets items to DUPLICATE, detaches them from their
	// facility and deactivates their matches
	MarkDuplicates(ctx context.Context, itemIDs []int64, result model.ProcessingResult) error

	SaveRun(ctx context.Context, run model.MatchRun) error
	GetRun(ctx context.Context, batchID string) (model.MatchRun, error)
}

// ExactCandidate is an already matched item that an exact match can reuse
type ExactCandidate struct {
	ItemID            int64
	ContributorID     int64
	FacilityID        string
	FacilityCreatedAt time.Time
}

// Outcome is the persisted result of matching one item
type Outcome struct {
	ItemID int64
	Status model.ItemStatus
	// FacilityID is the facility the item is now attached to, empty for none
	FacilityID string
	Result     model.ProcessingResult
	Matches    []model.FacilityMatch
}

// Source is a contributor upload that items belong to
type Source struct {
	ID            int64 `json:"id"`
	ListID        int64 `json:"list_id"`
	ContributorID int64 `json:"contributor_id"`
}

// canonical record ID prefixes
const (
	facilityRecordPrefix = "F:"
	matchRecordPrefix    = "M:"
)

var (
	// matched item statuses that count towards a facility
	matchedItemStatuses = []string{string(model.ItemMatched), string(model.ItemConfirmedMatch)}
	// match statuses whose items are aliases of the facility
	aliasMatchStatuses = []string{string(model.MatchAutomatic), string(model.MatchConfirmed), string(model.MatchMerged)}
)
