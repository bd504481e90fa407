package match

import (
	"context"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/opensupplyhub/dedupe-hub/internal/debug"
	"github.com/opensupplyhub/dedupe-hub/internal/gazetteer"
	"github.com/opensupplyhub/dedupe-hub/internal/model"
	"github.com/opensupplyhub/dedupe-hub/internal/store"
)

// GazetteerMatcher scores items against the cached gazetteer of canonical
// facility records
type GazetteerMatcher struct {
	store      store.Store
	cache      *gazetteer.Cache
	thresholds Thresholds
	log        zerolog.Logger
	localDebug bool
}

// NewGazetteerMatcher creates the gazetteer stage
func NewGazetteerMatcher(s store.Store, cache *gazetteer.Cache, t Thresholds, log zerolog.Logger, localDebug bool) *GazetteerMatcher {
	return &GazetteerMatcher{
		store:      s,
		cache:      cache,
		thresholds: t,
		log:        log.With().Str("stage", TypeGazetteer).Logger(),
		localDebug: localDebug,
	}
}

// Name implements Matcher
func (m *GazetteerMatcher) Name() string {
	return TypeGazetteer
}

// Process implements Matcher
func (m *GazetteerMatcher) Process(ctx context.Context, messy []model.FacilityListItem) (_ []ItemMatch, err error) {
	defer mon.Task()(&ctx)(&err)
	finish := debug.DebugTiming(m.localDebug, "gazetteer stage")
	defer finish()

	if len(messy) == 0 {
		return nil, nil
	}

	g, err := m.cache.Latest(ctx)
	if err != nil {
		return nil, Error.New("gazetteer unavailable: %w", err)
	}

	records := make([]gazetteer.Record, 0, len(messy))
	for _, item := range messy {
		records = append(records, messyRecord(item))
	}

	found, err := g.SearchBatch(ctx, records, m.thresholds.Gazetteer, 0)
	if err != nil {
		return nil, Error.Wrap(err)
	}

	var results []ItemMatch
	for _, item := range messy {
		candidates := found[strconv.FormatInt(item.ID, 10)]
		im, ok := GazetteerItemMatch(m.localDebug, item.ID, candidates, m.thresholds)
		if !ok {
			debug.DebugOutput(m.localDebug, "item %d: no gazetteer candidates", item.ID)
			continue
		}
		debug.DebugOutput(m.localDebug, "item %d: %s with %d facilities", item.ID, im.Status, len(im.Matches))
		results = append(results, im)
	}

	saved, err := persist(ctx, m.store, batchFrom(ctx), results)
	if err != nil {
		return nil, err
	}

	m.log.Debug().
		Int("items", len(messy)).
		Int("records", g.Len()).
		Int("resolved", len(saved)).
		Msg("gazetteer stage complete")
	return saved, nil
}

func messyRecord(item model.FacilityListItem) gazetteer.Record {
	return gazetteer.NewRecord(strconv.FormatInt(item.ID, 10), "", item.CountryCode, item.CleanName, item.CleanAddress)
}
