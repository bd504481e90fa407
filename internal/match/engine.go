package match

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/opensupplyhub/dedupe-hub/internal/debug"
	"github.com/opensupplyhub/dedupe-hub/internal/gazetteer"
	"github.com/opensupplyhub/dedupe-hub/internal/model"
	"github.com/opensupplyhub/dedupe-hub/internal/store"
)

const (
	// maxOSIDAttempts bounds facility ID generation on collisions
	maxOSIDAttempts = 5

	msgNoLocation = "could not create facility without a geocoded location"
	msgIneligible = "item is not ready for matching"
)

// Config holds the dependencies of a CumulativeMatcher
type Config struct {
	Store  store.Store
	Stages []Matcher
	Logger zerolog.Logger
	Debug  bool
}

// CumulativeMatcher runs matcher stages in order over the items of a batch.
// Each stage only sees the items earlier stages left unresolved; whatever is
// left at the end becomes a new facility.
type CumulativeMatcher struct {
	store      store.Store
	stages     []Matcher
	log        zerolog.Logger
	localDebug bool

	now     func() time.Time
	newOSID func(countryCode string, at time.Time) (string, error)
}

// NewCumulativeMatcher creates a matcher running the configured stages
func NewCumulativeMatcher(cfg Config) *CumulativeMatcher {
	return &CumulativeMatcher{
		store:      cfg.Store,
		stages:     cfg.Stages,
		log:        cfg.Logger,
		localDebug: cfg.Debug,
		now:        time.Now,
		newOSID:    model.GenerateOSID,
	}
}

// NewDefault creates the production pipeline: exact matching, then gazetteer
// matching
func NewDefault(s store.Store, cache *gazetteer.Cache, t Thresholds, log zerolog.Logger, localDebug bool) *CumulativeMatcher {
	return NewCumulativeMatcher(Config{
		Store: s,
		Stages: []Matcher{
			NewExactMatcher(s, log, localDebug),
			NewGazetteerMatcher(s, cache, t, log, localDebug),
		},
		Logger: log,
		Debug:  localDebug,
	})
}

// ItemSummary reports what happened to one item in a run
type ItemSummary struct {
	ItemID     int64            `json:"item_id"`
	Status     model.ItemStatus `json:"status"`
	FacilityID string           `json:"facility_id,omitempty"`
	Stage      string           `json:"stage,omitempty"`
	Message    string           `json:"message,omitempty"`
	Skipped    bool             `json:"skipped,omitempty"`
}

// Summary is the result of a matcher run
type Summary struct {
	Run   model.MatchRun `json:"run"`
	Items []ItemSummary  `json:"items"`
}

// MatchList matches the items of a facility list
func (c *CumulativeMatcher) MatchList(ctx context.Context, listID int64) (*Summary, error) {
	items, err := c.store.ListItems(ctx, listID)
	if err != nil {
		return nil, err
	}
	return c.Match(ctx, &listID, items)
}

// MatchItems matches the items with the given IDs. Unknown IDs are ignored.
func (c *CumulativeMatcher) MatchItems(ctx context.Context, ids []int64) (*Summary, error) {
	items, err := c.store.GetItems(ctx, ids)
	if err != nil {
		return nil, err
	}
	return c.Match(ctx, nil, items)
}

// Match runs every stage over the eligible items, creates facilities for the
// rest and resolves duplicates within each source. A stage error stops the
// run: the items it was given are marked as failed and the error is returned
// together with the summary so far.
func (c *CumulativeMatcher) Match(ctx context.Context, listID *int64, items []model.FacilityListItem) (_ *Summary, err error) {
	defer mon.Task()(&ctx)(&err)
	debug.DebugHeader(c.localDebug)
	defer debug.DebugFooter(c.localDebug)

	b := batch{ID: uuid.NewString(), StartedAt: c.now()}
	ctx = withBatch(ctx, b)

	run := &runState{
		summary: &Summary{Run: model.MatchRun{BatchID: b.ID, ListID: listID, StartedAt: b.StartedAt}},
		items:   make(map[int64]model.FacilityListItem, len(items)),
		index:   make(map[int64]int, len(items)),
	}
	log := c.log.With().Str("batch_id", b.ID).Logger()

	if err := c.store.SaveRun(ctx, run.summary.Run); err != nil {
		return nil, Error.New("failed to record match run: %w", err)
	}

	var messy []model.FacilityListItem
	for _, item := range items {
		run.items[item.ID] = item
		if !item.Status.Matchable() {
			run.record(ItemSummary{ItemID: item.ID, Status: item.Status, Message: msgIneligible, Skipped: true})
			run.summary.Run.Skipped++
			continue
		}
		messy = append(messy, item)
	}
	run.summary.Run.Processed = len(messy)
	debug.DebugOutput(c.localDebug, "batch %s: %d items, %d eligible", b.ID, len(items), len(messy))

	for _, stage := range c.stages {
		if len(messy) == 0 {
			break
		}

		results, err := stage.Process(ctx, messy)
		if err != nil {
			return c.fail(ctx, log, run, stage.Name(), messy, err)
		}

		resolved := make(map[int64]bool, len(results))
		for _, r := range results {
			if !r.Status.Resolved() {
				continue
			}
			resolved[r.ItemID] = true
			run.apply(r, stage.Name())
		}

		var remaining []model.FacilityListItem
		for _, item := range messy {
			if !resolved[item.ID] {
				remaining = append(remaining, item)
			}
		}
		debug.DebugOutput(c.localDebug, "stage %s resolved %d, %d remaining", stage.Name(), len(resolved), len(remaining))
		log.Debug().Str("stage", stage.Name()).Int("resolved", len(resolved)).Int("remaining", len(remaining)).Msg("stage complete")
		messy = remaining
	}

	if err := c.createFacilities(ctx, run, messy); err != nil {
		return c.fail(ctx, log, run, TypeNewFacility, run.unsettled(messy), err)
	}

	if err := c.resolveDuplicates(ctx, run); err != nil {
		return c.fail(ctx, log, run, "duplicates", nil, err)
	}

	c.finish(ctx, log, run)
	return run.summary, nil
}

// runState accumulates the outcome of one run
type runState struct {
	summary *Summary
	items   map[int64]model.FacilityListItem
	// index maps item ID to its position in summary.Items
	index map[int64]int
}

func (r *runState) record(s ItemSummary) {
	if i, ok := r.index[s.ItemID]; ok {
		r.summary.Items[i] = s
		return
	}
	r.index[s.ItemID] = len(r.summary.Items)
	r.summary.Items = append(r.summary.Items, s)
}

func (r *runState) apply(m ItemMatch, stage string) {
	r.record(ItemSummary{
		ItemID:     m.ItemID,
		Status:     m.Status,
		FacilityID: m.FacilityID,
		Stage:      stage,
		Message:    m.Message,
	})
}

// unsettled returns the items without a recorded outcome
func (r *runState) unsettled(items []model.FacilityListItem) []model.FacilityListItem {
	var out []model.FacilityListItem
	for _, item := range items {
		if _, ok := r.index[item.ID]; !ok {
			out = append(out, item)
		}
	}
	return out
}

// tally fills the run counters from the item outcomes
func (r *runState) tally() {
	run := &r.summary.Run
	run.Automatic, run.Pending, run.Errors, run.Duplicates = 0, 0, 0, 0
	for _, s := range r.summary.Items {
		if s.Skipped {
			continue
		}
		switch s.Status {
		case model.ItemMatched:
			run.Automatic++
		case model.ItemPotentialMatch:
			run.Pending++
		case model.ItemErrorMatching:
			run.Errors++
		case model.ItemDuplicate:
			run.Duplicates++
		}
	}
}

// createFacilities groups the unmatched items by country, clean name and
// clean address. The first located item of a group creates the facility and
// the rest of the group match it.
func (c *CumulativeMatcher) createFacilities(ctx context.Context, run *runState, unmatched []model.FacilityListItem) (err error) {
	defer mon.Task()(&ctx)(&err)

	b := batchFrom(ctx)
	for _, group := range groupUnmatched(unmatched) {
		creator := -1
		for i, item := range group {
			if item.Location != nil && item.Status == model.ItemGeocoded {
				creator = i
				break
			}
		}

		if creator < 0 {
			debug.DebugOutput(c.localDebug, "group of %d items has no location", len(group))
			results := make([]ItemMatch, 0, len(group))
			for _, item := range group {
				results = append(results, ItemMatch{ItemID: item.ID, Status: model.ItemErrorMatching, Message: msgNoLocation})
			}
			saved, err := persist(ctx, c.store, b, results)
			if err != nil {
				return err
			}
			for _, r := range saved {
				run.apply(r, TypeNewFacility)
			}
			continue
		}

		saved, err := c.createFacility(ctx, b, group, creator)
		if err != nil {
			return err
		}
		for _, r := range saved {
			run.apply(r, TypeNewFacility)
		}
		run.summary.Run.NewFacilities++
	}
	return nil
}

func (c *CumulativeMatcher) createFacility(ctx context.Context, b batch, group []model.FacilityListItem, creator int) ([]ItemMatch, error) {
	source := group[creator]

	for attempt := 1; attempt <= maxOSIDAttempts; attempt++ {
		id, err := c.newOSID(source.CountryCode, c.now())
		if err != nil {
			return nil, Error.Wrap(err)
		}

		facility := model.Facility{
			ID:            id,
			Name:          source.Name,
			Address:       source.Address,
			CountryCode:   source.CountryCode,
			Location:      *source.Location,
			CreatedFromID: source.ID,
		}

		results := make([]ItemMatch, 0, len(group))
		outcomes := make([]store.Outcome, 0, len(group))
		for i, item := range group {
			matchType := TypeExactInBatch
			if i == creator {
				matchType = TypeNewFacility
			}
			r := ItemMatch{
				ItemID:     item.ID,
				Status:     model.ItemMatched,
				FacilityID: id,
				Matches: []model.FacilityMatch{{
					ItemID:     item.ID,
					FacilityID: id,
					Confidence: 1.0,
					Status:     model.MatchAutomatic,
					Results:    map[string]interface{}{"match_type": matchType},
					IsActive:   true,
				}},
			}
			results = append(results, r)
			outcomes = append(outcomes, r.outcome(b))
		}

		saved, err := c.store.CreateFacility(ctx, facility, outcomes)
		if store.ErrConflict.Has(err) {
			c.log.Warn().Str("facility_id", id).Int("attempt", attempt).Msg("facility ID collision, regenerating")
			continue
		}
		if err != nil {
			return nil, Error.New("failed to create facility for item %d: %w", source.ID, err)
		}

		debug.DebugOutput(c.localDebug, "created facility %s from item %d for %d items", id, source.ID, len(group))
		return attachSaved(results, saved), nil
	}

	return nil, Error.New("no free facility ID for item %d after %d attempts", source.ID, maxOSIDAttempts)
}

// groupUnmatched returns groups of identical items ordered by their first
// member. Members are ordered by row index then ID. Items with neither a clean
// name nor a clean address are never grouped with others.
func groupUnmatched(items []model.FacilityListItem) [][]model.FacilityListItem {
	sorted := append([]model.FacilityListItem(nil), items...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].RowIndex != sorted[j].RowIndex {
			return sorted[i].RowIndex < sorted[j].RowIndex
		}
		return sorted[i].ID < sorted[j].ID
	})

	var groups [][]model.FacilityListItem
	byKey := make(map[string]int)
	for _, item := range sorted {
		key := item.CountryCode + "\x00" + item.CleanName + "\x00" + item.CleanAddress
		if item.CleanName == "" && item.CleanAddress == "" {
			key = "#" + strconv.FormatInt(item.ID, 10)
		}
		if i, ok := byKey[key]; ok {
			groups[i] = append(groups[i], item)
			continue
		}
		byKey[key] = len(groups)
		groups = append(groups, []model.FacilityListItem{item})
	}
	return groups
}

// resolveDuplicates keeps, for every source, only the lowest row matched to a
// facility in this run. The other rows become duplicates.
func (c *CumulativeMatcher) resolveDuplicates(ctx context.Context, run *runState) error {
	type key struct {
		sourceID   int64
		facilityID string
	}
	groups := make(map[key][]model.FacilityListItem)
	var order []key
	for _, s := range run.summary.Items {
		if s.Skipped || s.Status != model.ItemMatched || s.FacilityID == "" {
			continue
		}
		item := run.items[s.ItemID]
		k := key{item.SourceID, s.FacilityID}
		if _, ok := groups[k]; !ok {
			order = append(order, k)
		}
		groups[k] = append(groups[k], item)
	}

	b := batchFrom(ctx)
	for _, k := range order {
		members := groups[k]
		if len(members) < 2 {
			continue
		}
		sort.SliceStable(members, func(i, j int) bool {
			if members[i].RowIndex != members[j].RowIndex {
				return members[i].RowIndex < members[j].RowIndex
			}
			return members[i].ID < members[j].ID
		})

		keeper := members[0]
		message := fmt.Sprintf("duplicate of facility list item %d matched to %s", keeper.ID, k.facilityID)
		ids := make([]int64, 0, len(members)-1)
		for _, dup := range members[1:] {
			ids = append(ids, dup.ID)
		}

		if err := c.store.MarkDuplicates(ctx, ids, b.result(false, message)); err != nil {
			return Error.New("failed to mark duplicates: %w", err)
		}
		for _, id := range ids {
			prev := run.summary.Items[run.index[id]]
			run.record(ItemSummary{ItemID: id, Status: model.ItemDuplicate, Stage: prev.Stage, Message: message})
		}
		debug.DebugOutput(c.localDebug, "source %d: %d duplicates of item %d", k.sourceID, len(ids), keeper.ID)
	}
	return nil
}

// fail marks items as failed, records the run as failed and returns cause
func (c *CumulativeMatcher) fail(ctx context.Context, log zerolog.Logger, run *runState, stage string, items []model.FacilityListItem, cause error) (*Summary, error) {
	message := fmt.Sprintf("%s stage failed: %v", stage, cause)
	log.Error().Err(cause).Str("stage", stage).Int("items", len(items)).Msg("match run failed")

	// the failing context may be cancelled, errors are still recorded
	saveCtx := context.WithoutCancel(ctx)

	results := make([]ItemMatch, 0, len(items))
	for _, item := range items {
		results = append(results, ItemMatch{ItemID: item.ID, Status: model.ItemErrorMatching, Message: message})
	}
	if _, err := persist(saveCtx, c.store, batchFrom(ctx), results); err != nil {
		log.Error().Err(err).Msg("failed to mark items as errored")
	} else {
		for _, r := range results {
			run.apply(r, stage)
		}
	}

	run.summary.Run.Failed = true
	run.summary.Run.Notes = message
	c.finish(saveCtx, log, run)

	return run.summary, Error.New("%s: %w", stage, cause)
}

func (c *CumulativeMatcher) finish(ctx context.Context, log zerolog.Logger, run *runState) {
	run.tally()
	completed := c.now()
	run.summary.Run.CompletedAt = &completed

	if err := c.store.SaveRun(ctx, run.summary.Run); err != nil {
		log.Error().Err(err).Msg("failed to record match run completion")
	}

	r := run.summary.Run
	log.Info().
		Int("processed", r.Processed).
		Int("automatic", r.Automatic).
		Int("pending", r.Pending).
		Int("new_facilities", r.NewFacilities).
		Int("errors", r.Errors).
		Int("duplicates", r.Duplicates).
		Int("skipped", r.Skipped).
		Bool("failed", r.Failed).
		Dur("took", completed.Sub(r.StartedAt)).
		Msg("match run complete")
}
