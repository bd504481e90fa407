package model

import (
	"time"
)

// ItemStatus is the processing state of a facility list item
type ItemStatus string

const (
	ItemUploaded          ItemStatus = "UPLOADED"
	ItemParsed            ItemStatus = "PARSED"
	ItemGeocoded          ItemStatus = "GEOCODED"
	ItemGeocodedNoResults ItemStatus = "GEOCODED_NO_RESULTS"
	ItemMatched           ItemStatus = "MATCHED"
	ItemPotentialMatch    ItemStatus = "POTENTIAL_MATCH"
	ItemConfirmedMatch    ItemStatus = "CONFIRMED_MATCH"
	ItemError             ItemStatus = "ERROR"
	ItemErrorParsing      ItemStatus = "ERROR_PARSING"
	ItemErrorGeocoding    ItemStatus = "ERROR_GEOCODING"
	ItemErrorMatching     ItemStatus = "ERROR_MATCHING"
	ItemDuplicate         ItemStatus = "DUPLICATE"
	ItemDeleted           ItemStatus = "DELETED"
	ItemRemoved           ItemStatus = "ITEM_REMOVED"
)

// Matchable reports whether an item in this status is picked up by the matcher
func (s ItemStatus) Matchable() bool {
	return s == ItemGeocoded || s == ItemGeocodedNoResults
}

// Resolved reports whether a matcher stage has taken ownership of the item
func (s ItemStatus) Resolved() bool {
	return s == ItemMatched || s == ItemPotentialMatch
}

// MatchStatus is the moderation state of a facility match
type MatchStatus string

const (
	MatchPending   MatchStatus = "PENDING"
	MatchAutomatic MatchStatus = "AUTOMATIC"
	MatchConfirmed MatchStatus = "CONFIRMED"
	MatchRejected  MatchStatus = "REJECTED"
	MatchMerged    MatchStatus = "MERGED"
)

// ActionMatch is the processing result action written by the matcher
const ActionMatch = "match"

// Point is a WGS84 location
type Point struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// ProcessingResult is one entry in an item's processing history
type ProcessingResult struct {
	Action     string    `json:"action"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Error      bool      `json:"error"`
	Message    string    `json:"message,omitempty"`
	BatchID    string    `json:"batch_id,omitempty"`
}

// FacilityListItem is one contributed row describing a claimed facility
type FacilityListItem struct {
	ID                int64              `json:"id"`
	SourceID          int64              `json:"source_id"`
	ContributorID     int64              `json:"contributor_id"`
	RowIndex          int                `json:"row_index"`
	Status            ItemStatus         `json:"status"`
	Name              string             `json:"name"`
	Address           string             `json:"address"`
	CountryCode       string             `json:"country_code"`
	CleanName         string             `json:"clean_name"`
	CleanAddress      string             `json:"clean_address"`
	Location          *Point             `json:"location,omitempty"`
	FacilityID        string             `json:"facility_id,omitempty"`
	ProcessingResults []ProcessingResult `json:"processing_results,omitempty"`
	CreatedAt         time.Time          `json:"created_at"`
}

// Facility is a canonical production facility identified by its OS ID
type Facility struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	Address       string    `json:"address"`
	CountryCode   string    `json:"country_code"`
	Location      Point     `json:"location"`
	CreatedFromID int64     `json:"created_from_id"`
	CreatedAt     time.Time `json:"created_at"`
	IsClosed      bool      `json:"is_closed"`
}

// FacilityMatch links a list item to a facility with a confidence
type FacilityMatch struct {
	ID         int64                  `json:"id"`
	ItemID     int64                  `json:"facility_list_item_id"`
	FacilityID string                 `json:"facility_id"`
	Confidence float64                `json:"confidence"`
	Status     MatchStatus            `json:"status"`
	Results    map[string]interface{} `json:"results"`
	IsActive   bool                   `json:"is_active"`
	CreatedAt  time.Time              `json:"created_at"`
}

// LabeledPair is a moderator decision usable as model training data
type LabeledPair struct {
	ItemName        string
	ItemAddress     string
	FacilityName    string
	FacilityAddress string
	Match           bool
}

// MatchRun summarises one cumulative matcher execution
type MatchRun struct {
	BatchID       string     `json:"batch_id"`
	ListID        *int64     `json:"list_id,omitempty"`
	StartedAt     time.Time  `json:"started_at"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
	Processed     int        `json:"processed"`
	Automatic     int        `json:"automatic"`
	Pending       int        `json:"pending"`
	NewFacilities int        `json:"new_facilities"`
	Errors        int        `json:"errors"`
	Duplicates    int        `json:"duplicates"`
	Skipped       int        `json:"skipped"`
	Failed        bool       `json:"failed"`
	Notes         string     `json:"notes,omitempty"`
}
