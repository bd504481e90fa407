package store

import (
	"context"
	"encoding/json"
	"io"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/opensupplyhub/dedupe-hub/internal/gazetteer"
	"github.com/opensupplyhub/dedupe-hub/internal/model"
)

type historyRow struct {
	id         int64
	facilityID string
}

// Memory is an in-process Store with the same semantics as Postgres
type Memory struct {
	mu sync.Mutex

	sources    map[int64]Source
	items      map[int64]model.FacilityListItem
	facilities map[string]model.Facility
	matches    map[int64]model.FacilityMatch
	runs       map[string]model.MatchRun

	facilityHistory []historyRow
	matchHistory    []historyRow
	nextMatchID     int64
}

var _ Store = (*Memory)(nil)

// NewMemory creates an empty store
func NewMemory() *Memory {
	return &Memory{
		sources:    make(map[int64]Source),
		items:      make(map[int64]model.FacilityListItem),
		facilities: make(map[string]model.Facility),
		matches:    make(map[int64]model.FacilityMatch),
		runs:       make(map[string]model.MatchRun),
	}
}

// PutSource adds or replaces a source
func (m *Memory) PutSource(src Source) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sources[src.ID] = src
}

// PutItem adds or replaces an item. The contributor is taken from its source.
func (m *Memory) PutItem(item model.FacilityListItem) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if src, ok := m.sources[item.SourceID]; ok {
		item.ContributorID = src.ContributorID
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = time.Now()
	}
	m.items[item.ID] = item
}

// PutFacility adds or replaces a facility and records it in history
func (m *Memory) PutFacility(f model.Facility) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if f.CreatedAt.IsZero() {
		f.CreatedAt = time.Now()
	}
	m.facilities[f.ID] = f
	m.recordFacilityLocked(f.ID)
}

// PutMatch adds a match, assigning an ID when it has none
func (m *Memory) PutMatch(match model.FacilityMatch) model.FacilityMatch {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.insertMatchLocked(match)
}

// Item returns a copy of the item with the given ID
func (m *Memory) Item(id int64) (model.FacilityListItem, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.items[id]
	return item, ok
}

// Facility returns the facility with the given OS ID
func (m *Memory) Facility(id string) (model.Facility, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.facilities[id]
	return f, ok
}

// Facilities returns all facilities ordered by ID
func (m *Memory) Facilities() []model.Facility {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.Facility, 0, len(m.facilities))
	for _, f := range m.facilities {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// MatchesForItem returns the matches of an item ordered by ID
func (m *Memory) MatchesForItem(itemID int64) []model.FacilityMatch {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.FacilityMatch
	for _, match := range m.matches {
		if match.ItemID == itemID {
			out = append(out, match)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Fixtures is the JSON document LoadFixtures reads
type Fixtures struct {
	Sources    []Source                 `json:"sources"`
	Facilities []model.Facility         `json:"facilities"`
	Items      []model.FacilityListItem `json:"items"`
	Matches    []model.FacilityMatch    `json:"matches"`
}

// LoadFixtures seeds the store from a JSON fixtures document
func (m *Memory) LoadFixtures(r io.Reader) error {
	var fx Fixtures
	if err := json.NewDecoder(r).Decode(&fx); err != nil {
		return Error.New("failed to decode fixtures: %w", err)
	}
	for _, src := range fx.Sources {
		m.PutSource(src)
	}
	for _, f := range fx.Facilities {
		m.PutFacility(f)
	}
	for _, item := range fx.Items {
		m.PutItem(item)
	}
	for _, match := range fx.Matches {
		m.PutMatch(match)
	}
	return nil
}

func (m *Memory) recordFacilityLocked(facilityID string) {
	m.facilityHistory = append(m.facilityHistory, historyRow{
		id:         int64(len(m.facilityHistory) + 1),
		facilityID: facilityID,
	})
}

func (m *Memory) recordMatchLocked(facilityID string) {
	m.matchHistory = append(m.matchHistory, historyRow{
		id:         int64(len(m.matchHistory) + 1),
		facilityID: facilityID,
	})
}

func (m *Memory) insertMatchLocked(match model.FacilityMatch) model.FacilityMatch {
	if match.ID == 0 {
		m.nextMatchID++
		match.ID = m.nextMatchID
	} else if match.ID > m.nextMatchID {
		m.nextMatchID = match.ID
	}
	if match.CreatedAt.IsZero() {
		match.CreatedAt = time.Now()
	}
	m.matches[match.ID] = match
	m.recordMatchLocked(match.FacilityID)
	return match
}

// Ping always succeeds
func (m *Memory) Ping(ctx context.Context) error {
	return nil
}

// ListItems implements Store
func (m *Memory) ListItems(ctx context.Context, listID int64) ([]model.FacilityListItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sourceIDs := make(map[int64]bool)
	for _, src := range m.sources {
		if src.ListID == listID {
			sourceIDs[src.ID] = true
		}
	}
	if len(sourceIDs) == 0 {
		return nil, ErrNotFound.New("facility list %d", listID)
	}

	var out []model.FacilityListItem
	for _, item := range m.items {
		if sourceIDs[item.SourceID] {
			out = append(out, item)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].RowIndex != out[j].RowIndex {
			return out[i].RowIndex < out[j].RowIndex
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// GetItems implements Store
func (m *Memory) GetItems(ctx context.Context, ids []int64) ([]model.FacilityListItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []model.FacilityListItem
	seen := make(map[int64]bool, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		if item, ok := m.items[id]; ok {
			out = append(out, item)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// ExactCandidates implements Store
func (m *Memory) ExactCandidates(ctx context.Context, countryCode, cleanName, cleanAddress string) ([]ExactCandidate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []ExactCandidate
	for _, item := range m.items {
		if item.CountryCode != countryCode || item.CleanName != cleanName || item.CleanAddress != cleanAddress {
			continue
		}
		if !contains(matchedItemStatuses, string(item.Status)) || item.FacilityID == "" {
			continue
		}
		f, ok := m.facilities[item.FacilityID]
		if !ok || f.IsClosed {
			continue
		}
		out = append(out, ExactCandidate{
			ItemID:            item.ID,
			ContributorID:     item.ContributorID,
			FacilityID:        f.ID,
			FacilityCreatedAt: f.CreatedAt,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ItemID < out[j].ItemID })
	return out, nil
}

// LatestVersions implements gazetteer.Source
func (m *Memory) LatestVersions(ctx context.Context) (gazetteer.Versions, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return gazetteer.Versions{
		Facility: int64(len(m.facilityHistory)),
		Match:    int64(len(m.matchHistory)),
	}, nil
}

// ChangedFacilities implements gazetteer.Source
func (m *Memory) ChangedFacilities(ctx context.Context, since gazetteer.Versions) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	changed := make(map[string]bool)
	for _, row := range m.facilityHistory {
		if row.id > since.Facility {
			changed[row.facilityID] = true
		}
	}
	for _, row := range m.matchHistory {
		if row.id > since.Match && row.facilityID != "" {
			changed[row.facilityID] = true
		}
	}

	out := make([]string, 0, len(changed))
	for id := range changed {
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}

// CanonicalRecords implements gazetteer.Source
func (m *Memory) CanonicalRecords(ctx context.Context, facilityIDs []string) ([]gazetteer.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var wanted map[string]bool
	if facilityIDs != nil {
		wanted = make(map[string]bool, len(facilityIDs))
		for _, id := range facilityIDs {
			wanted[id] = true
		}
	}
	include := func(f model.Facility) bool {
		return !f.IsClosed && (wanted == nil || wanted[f.ID])
	}

	var out []gazetteer.Record
	for _, f := range m.facilities {
		if include(f) {
			name, address := m.facilityTextLocked(f)
			out = append(out, facilityRecord(f.ID, f.CountryCode, name, address))
		}
	}
	for _, match := range m.matches {
		if !match.IsActive || !contains(aliasMatchStatuses, string(match.Status)) {
			continue
		}
		f, ok := m.facilities[match.FacilityID]
		if !ok || !include(f) {
			continue
		}
		item, ok := m.items[match.ItemID]
		if !ok || !contains(matchedItemStatuses, string(item.Status)) {
			continue
		}
		out = append(out, matchRecord(match.ID, f.ID, item))
	}

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// LabeledPairs implements gazetteer.Source
func (m *Memory) LabeledPairs(ctx context.Context) ([]model.LabeledPair, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ids := make([]int64, 0, len(m.matches))
	for id := range m.matches {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	var out []model.LabeledPair
	for _, id := range ids {
		match := m.matches[id]
		if match.Status != model.MatchConfirmed && match.Status != model.MatchRejected {
			continue
		}
		item, ok := m.items[match.ItemID]
		if !ok {
			continue
		}
		f, ok := m.facilities[match.FacilityID]
		if !ok {
			continue
		}
		name, address := m.facilityTextLocked(f)
		out = append(out, labeledPair(item.CleanName, item.CleanAddress, name, address, match.Status == model.MatchConfirmed))
	}
	return out, nil
}

// SaveOutcomes implements Store
func (m *Memory) SaveOutcomes(ctx context.Context, outcomes []Outcome) ([]model.FacilityMatch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.checkOutcomesLocked(outcomes); err != nil {
		return nil, err
	}
	return m.applyOutcomesLocked(outcomes), nil
}

// CreateFacility implements Store
func (m *Memory) CreateFacility(ctx context.Context, facility model.Facility, outcomes []Outcome) ([]model.FacilityMatch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.facilities[facility.ID]; exists {
		return nil, ErrConflict.New("facility %s already exists", facility.ID)
	}
	if err := m.checkOutcomesLocked(outcomes); err != nil {
		return nil, err
	}

	if facility.CreatedAt.IsZero() {
		facility.CreatedAt = time.Now()
	}
	m.facilities[facility.ID] = facility
	m.recordFacilityLocked(facility.ID)

	return m.applyOutcomesLocked(outcomes), nil
}

func (m *Memory) checkOutcomesLocked(outcomes []Outcome) error {
	for _, o := range outcomes {
		if _, ok := m.items[o.ItemID]; !ok {
			return ErrNotFound.New("facility list item %d", o.ItemID)
		}
	}
	return nil
}

func (m *Memory) applyOutcomesLocked(outcomes []Outcome) []model.FacilityMatch {
	var saved []model.FacilityMatch
	for _, o := range outcomes {
		for _, match := range o.Matches {
			match.ID = 0
			match.ItemID = o.ItemID
			saved = append(saved, m.insertMatchLocked(match))
		}

		item := m.items[o.ItemID]
		item.Status = o.Status
		item.FacilityID = o.FacilityID
		item.ProcessingResults = append(item.ProcessingResults, o.Result)
		m.items[o.ItemID] = item
	}
	return saved
}

// MarkDuplicates implements Store
func (m *Memory) MarkDuplicates(ctx context.Context, itemIDs []int64, result model.ProcessingResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	ids := make(map[int64]bool, len(itemIDs))
	for _, id := range itemIDs {
		item, ok := m.items[id]
		if !ok {
			return ErrNotFound.New("facility list item %d", id)
		}
		ids[id] = true
		item.Status = model.ItemDuplicate
		item.FacilityID = ""
		item.ProcessingResults = append(item.ProcessingResults, result)
		m.items[id] = item
	}

	matchIDs := make([]int64, 0)
	for id, match := range m.matches {
		if ids[match.ItemID] && match.IsActive {
			matchIDs = append(matchIDs, id)
		}
	}
	sort.Slice(matchIDs, func(i, j int) bool { return matchIDs[i] < matchIDs[j] })
	for _, id := range matchIDs {
		match := m.matches[id]
		match.IsActive = false
		m.matches[id] = match
		m.recordMatchLocked(match.FacilityID)
	}
	return nil
}

// SaveRun implements Store
func (m *Memory) SaveRun(ctx context.Context, run model.MatchRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs[run.BatchID] = run
	return nil
}

// GetRun implements Store
func (m *Memory) GetRun(ctx context.Context, batchID string) (model.MatchRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[batchID]
	if !ok {
		return model.MatchRun{}, ErrNotFound.New("match run %s", batchID)
	}
	return run, nil
}

// facilityTextLocked returns the stored clean text of the item that created
// the facility, falling back to the facility's own name and address
func (m *Memory) facilityTextLocked(f model.Facility) (name, address string) {
	if item, ok := m.items[f.CreatedFromID]; ok && item.CleanName != "" {
		return item.CleanName, item.CleanAddress
	}
	return f.Name, f.Address
}

func facilityRecord(id, countryCode, name, address string) gazetteer.Record {
	return gazetteer.NewRecord(facilityRecordPrefix+id, id, countryCode, name, address)
}

func matchRecord(matchID int64, facilityID string, item model.FacilityListItem) gazetteer.Record {
	return gazetteer.NewRecord(matchRecordPrefix+strconv.FormatInt(matchID, 10), facilityID,
		item.CountryCode, item.CleanName, item.CleanAddress)
}

// labeledPair carries the text as stored; the gazetteer cleans both sides when training
func labeledPair(itemName, itemAddress, facilityName, facilityAddress string, match bool) model.LabeledPair {
	return model.LabeledPair{
		ItemName:        itemName,
		ItemAddress:     itemAddress,
		FacilityName:    facilityName,
		FacilityAddress: facilityAddress,
		Match:           match,
	}
}

func contains(values []string, v string) bool {
	for _, s := range values {
		if s == v {
			return true
		}
	}
	return false
}
