package gazetteer

import (
	"context"
	"sort"
	"sync"

	"github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"
	"golang.org/x/sync/errgroup"

	"github.com/opensupplyhub/dedupe-hub/internal/normalize"
)

var (
	mon = monkit.Package()

	// Error is the class of errors returned by this package
	Error = errs.Class("gazetteer")
)

// Record is a canonical or messy record. Name and Address are already cleaned.
type Record struct {
	ID          string
	FacilityID  string
	CountryCode string
	Name        string
	Address     string
}

// NewRecord builds a record from uncleaned or partially cleaned text. Every
// side of a comparison goes through here so equal text always cleans equal.
func NewRecord(id, facilityID, countryCode, name, address string) Record {
	return Record{
		ID:          id,
		FacilityID:  facilityID,
		CountryCode: countryCode,
		Name:        normalize.CleanName(name),
		Address:     normalize.CleanAddress(address),
	}
}

// Candidate is a scored canonical record for a messy record
type Candidate struct {
	RecordID   string  `json:"record_id"`
	FacilityID string  `json:"facility_id"`
	Score      float64 `json:"score"`
	Exact      bool    `json:"exact"`
}

// Options tunes blocking and batch search
type Options struct {
	MaxBlockSize int
	Workers      int
}

// DefaultOptions returns the blocking defaults
func DefaultOptions() Options {
	return Options{MaxBlockSize: 2000, Workers: 4}
}

// Gazetteer is an in-memory blocked index of canonical records with a pair model
type Gazetteer struct {
	mu    sync.RWMutex
	model *Model
	opts  Options

	records    map[string]prepared
	byFacility map[string]map[string]struct{}
	// blocks maps country -> blocking key -> record IDs
	blocks map[string]map[string]map[string]struct{}
}

// New creates an empty gazetteer scoring with model
func New(model *Model, opts Options) *Gazetteer {
	if opts.MaxBlockSize < 1 {
		opts.MaxBlockSize = DefaultOptions().MaxBlockSize
	}
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	return &Gazetteer{
		model:      model,
		opts:       opts,
		records:    make(map[string]prepared),
		byFacility: make(map[string]map[string]struct{}),
		blocks:     make(map[string]map[string]map[string]struct{}),
	}
}

// Model returns the pair model used for scoring
func (g *Gazetteer) Model() *Model {
	return g.model
}

// Len is the number of indexed records
func (g *Gazetteer) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.records)
}

// Facilities is the number of distinct facilities with indexed records
func (g *Gazetteer) Facilities() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.byFacility)
}

// Index adds records, replacing any record with the same ID
func (g *Gazetteer) Index(records []Record) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.indexLocked(records)
}

// Unindex removes records by ID. Unknown IDs are ignored.
func (g *Gazetteer) Unindex(ids []string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, id := range ids {
		g.removeLocked(id)
	}
}

// UnindexFacilities removes every record belonging to the given facilities
func (g *Gazetteer) UnindexFacilities(facilityIDs []string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.unindexFacilitiesLocked(facilityIDs)
}

// Update atomically drops all records of facilityIDs and indexes records.
// Searches never observe the intermediate state.
func (g *Gazetteer) Update(facilityIDs []string, records []Record) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.unindexFacilitiesLocked(facilityIDs)
	g.indexLocked(records)
}

func (g *Gazetteer) unindexFacilitiesLocked(facilityIDs []string) {
	for _, facilityID := range facilityIDs {
		ids := make([]string, 0, len(g.byFacility[facilityID]))
		for id := range g.byFacility[facilityID] {
			ids = append(ids, id)
		}
		for _, id := range ids {
			g.removeLocked(id)
		}
	}
}

func (g *Gazetteer) indexLocked(records []Record) {
	for _, rec := range records {
		if rec.ID == "" || rec.CountryCode == "" {
			continue
		}
		g.removeLocked(rec.ID)

		p := prepare(rec)
		g.records[rec.ID] = p

		if g.byFacility[rec.FacilityID] == nil {
			g.byFacility[rec.FacilityID] = make(map[string]struct{})
		}
		g.byFacility[rec.FacilityID][rec.ID] = struct{}{}

		country := g.blocks[rec.CountryCode]
		if country == nil {
			country = make(map[string]map[string]struct{})
			g.blocks[rec.CountryCode] = country
		}
		for _, key := range blockingKeys(p) {
			if country[key] == nil {
				country[key] = make(map[string]struct{})
			}
			country[key][rec.ID] = struct{}{}
		}
	}
}

func (g *Gazetteer) removeLocked(id string) {
	p, ok := g.records[id]
	if !ok {
		return
	}
	delete(g.records, id)

	if ids := g.byFacility[p.rec.FacilityID]; ids != nil {
		delete(ids, id)
		if len(ids) == 0 {
			delete(g.byFacility, p.rec.FacilityID)
		}
	}

	country := g.blocks[p.rec.CountryCode]
	for _, key := range blockingKeys(p) {
		if ids := country[key]; ids != nil {
			delete(ids, id)
			if len(ids) == 0 {
				delete(country, key)
			}
		}
	}
	if len(country) == 0 {
		delete(g.blocks, p.rec.CountryCode)
	}
}

// blockingKeys are field-prefixed tokens so a name token never blocks with
// an address token
func blockingKeys(p prepared) []string {
	keys := make([]string, 0, len(p.nameTokens)+len(p.addressTokens))
	for _, t := range p.nameTokens {
		keys = append(keys, "n:"+t)
	}
	for _, t := range p.addressTokens {
		keys = append(keys, "a:"+t)
	}
	return keys
}

// Search scores the canonical records blocked with messy and returns those
// scoring at least threshold, best first. n <= 0 returns all of them.
func (g *Gazetteer) Search(messy Record, threshold float64, n int) []Candidate {
	g.mu.RLock()
	defer g.mu.RUnlock()

	m := prepare(messy)
	var candidates []Candidate
	for id := range g.blockLocked(m) {
		canonical := g.records[id]
		score := g.model.Probability(computeFeatures(m, canonical))
		if score < threshold {
			continue
		}
		candidates = append(candidates, Candidate{
			RecordID:   id,
			FacilityID: canonical.rec.FacilityID,
			Score:      score,
			Exact:      isExact(m.rec, canonical.rec),
		})
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Score != candidates[j].Score {
			return candidates[i].Score > candidates[j].Score
		}
		return candidates[i].RecordID < candidates[j].RecordID
	})

	if n > 0 && len(candidates) > n {
		candidates = candidates[:n]
	}
	return candidates
}

// blockLocked collects the IDs of records sharing a usable blocking key with
// m in the same country. Keys with more than MaxBlockSize records are skipped;
// when every key is that common the least common one is used alone.
func (g *Gazetteer) blockLocked(m prepared) map[string]struct{} {
	found := make(map[string]struct{})
	country := g.blocks[m.rec.CountryCode]
	if country == nil {
		return found
	}

	var smallest map[string]struct{}
	used := 0
	for _, key := range blockingKeys(m) {
		ids, ok := country[key]
		if !ok {
			continue
		}
		if len(ids) > g.opts.MaxBlockSize {
			if smallest == nil || len(ids) < len(smallest) {
				smallest = ids
			}
			continue
		}
		used++
		for id := range ids {
			found[id] = struct{}{}
		}
	}

	if used == 0 && smallest != nil {
		for id := range smallest {
			found[id] = struct{}{}
		}
	}
	return found
}

func isExact(messy, canonical Record) bool {
	return messy.Name != "" && messy.Address != "" &&
		messy.Name == canonical.Name && messy.Address == canonical.Address
}

// SearchBatch runs Search for every messy record on a bounded worker pool.
// Results are keyed by messy record ID; records without candidates are absent.
func (g *Gazetteer) SearchBatch(ctx context.Context, messy []Record, threshold float64, n int) (_ map[string][]Candidate, err error) {
	defer mon.Task()(&ctx)(&err)

	results := make([][]Candidate, len(messy))

	group, gctx := errgroup.WithContext(ctx)
	group.SetLimit(g.opts.Workers)
	for i := range messy {
		i := i
		group.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			results[i] = g.Search(messy[i], threshold, n)
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, Error.Wrap(err)
	}

	out := make(map[string][]Candidate, len(messy))
	for i, rec := range messy {
		if len(results[i]) > 0 {
			out[rec.ID] = results[i]
		}
	}
	return out, nil
}
