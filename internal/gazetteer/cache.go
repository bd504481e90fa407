package gazetteer

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/opensupplyhub/dedupe-hub/internal/model"
)

// Versions are the latest history IDs of the facility and facility match
// history tables. Both only ever grow.
type Versions struct {
	Facility int64 `json:"facility"`
	Match    int64 `json:"match"`
}

// Source is the data the cache builds gazetteers from
type Source interface {
	// LatestVersions returns the current history versions
	LatestVersions(ctx context.Context) (Versions, error)
	// CanonicalRecords returns the records of active facilities. A nil
	// facilityIDs returns every facility.
	CanonicalRecords(ctx context.Context, facilityIDs []string) ([]Record, error)
	// ChangedFacilities returns facility IDs touched by history rows newer
	// than since, in either history table
	ChangedFacilities(ctx context.Context, since Versions) ([]string, error)
	// LabeledPairs returns moderator decisions usable for training
	LabeledPairs(ctx context.Context) ([]model.LabeledPair, error)
}

// CacheOptions configures gazetteer construction
type CacheOptions struct {
	Gazetteer Options
	BaseModel *Model
	Train     TrainOptions
	// Settings is optional persistent model storage
	Settings *Settings
}

// Status describes the cached gazetteer
type Status struct {
	Built      bool      `json:"built"`
	Versions   Versions  `json:"versions"`
	Records    int       `json:"records"`
	Facilities int       `json:"facilities"`
	Trained    bool      `json:"trained"`
	BuiltAt    time.Time `json:"built_at,omitempty"`
	UpdatedAt  time.Time `json:"updated_at,omitempty"`
	Rebuilds   int       `json:"rebuilds"`
	Updates    int       `json:"updates"`
}

// Cache holds one trained gazetteer and keeps it in step with the history
// tables. One Cache is shared by everything in a process.
type Cache struct {
	mu     sync.Mutex
	source Source
	opts   CacheOptions
	log    zerolog.Logger

	gazetteer *Gazetteer
	versions  Versions
	builtAt   time.Time
	updatedAt time.Time
	rebuilds  int
	updates   int
}

// NewCache creates an empty cache. The first Latest call builds the gazetteer.
func NewCache(source Source, opts CacheOptions, log zerolog.Logger) *Cache {
	if opts.BaseModel == nil {
		opts.BaseModel = DefaultModel()
	}
	if opts.Train.Epochs == 0 {
		opts.Train = DefaultTrainOptions()
	}
	return &Cache{
		source: source,
		opts:   opts,
		log:    log.With().Str("component", "gazetteer_cache").Logger(),
	}
}

// Latest returns a gazetteer reflecting every facility and match change
// recorded up to the moment of the call
func (c *Cache) Latest(ctx context.Context) (_ *Gazetteer, err error) {
	defer mon.Task()(&ctx)(&err)

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.gazetteer == nil {
		if err := c.rebuildLocked(ctx); err != nil {
			return nil, err
		}
		return c.gazetteer, nil
	}

	latest, err := c.source.LatestVersions(ctx)
	if err != nil {
		return nil, Error.New("failed to read history versions: %w", err)
	}

	if latest == c.versions {
		return c.gazetteer, nil
	}

	if latest.Facility < c.versions.Facility || latest.Match < c.versions.Match {
		c.log.Warn().
			Interface("cached", c.versions).
			Interface("latest", latest).
			Msg("history versions moved backwards, rebuilding")
		if err := c.rebuildLocked(ctx); err != nil {
			return nil, err
		}
		return c.gazetteer, nil
	}

	changed, err := c.source.ChangedFacilities(ctx, c.versions)
	if err != nil {
		return nil, Error.New("failed to read changed facilities: %w", err)
	}

	var records []Record
	if len(changed) > 0 {
		records, err = c.source.CanonicalRecords(ctx, changed)
		if err != nil {
			return nil, Error.New("failed to read canonical records: %w", err)
		}
	}

	c.gazetteer.Update(changed, records)
	c.log.Info().
		Interface("from", c.versions).
		Interface("to", latest).
		Int("facilities", len(changed)).
		Int("records", len(records)).
		Msg("gazetteer updated")

	c.versions = latest
	c.updatedAt = time.Now()
	c.updates++
	return c.gazetteer, nil
}

// Rebuild discards the cached gazetteer and builds a new one
func (c *Cache) Rebuild(ctx context.Context) (_ *Gazetteer, err error) {
	defer mon.Task()(&ctx)(&err)

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.rebuildLocked(ctx); err != nil {
		return nil, err
	}
	return c.gazetteer, nil
}

// Status reports the state of the cached gazetteer
func (c *Cache) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	status := Status{
		Built:     c.gazetteer != nil,
		Versions:  c.versions,
		BuiltAt:   c.builtAt,
		UpdatedAt: c.updatedAt,
		Rebuilds:  c.rebuilds,
		Updates:   c.updates,
	}
	if c.gazetteer != nil {
		status.Records = c.gazetteer.Len()
		status.Facilities = c.gazetteer.Facilities()
		status.Trained = c.gazetteer.Model().Trained
	}
	return status
}

// rebuildLocked reads versions before records, so a write racing with the
// rebuild is applied again by the next Latest rather than lost
func (c *Cache) rebuildLocked(ctx context.Context) error {
	start := time.Now()

	versions, err := c.source.LatestVersions(ctx)
	if err != nil {
		return Error.New("failed to read history versions: %w", err)
	}

	pairs, err := c.source.LabeledPairs(ctx)
	if err != nil {
		return Error.New("failed to read labelled pairs: %w", err)
	}

	pairModel, err := c.trainOrLoad(toTrainingPairs(pairs))
	if err != nil {
		return err
	}

	records, err := c.source.CanonicalRecords(ctx, nil)
	if err != nil {
		return Error.New("failed to read canonical records: %w", err)
	}

	g := New(pairModel, c.opts.Gazetteer)
	g.Index(records)

	c.gazetteer = g
	c.versions = versions
	c.builtAt = time.Now()
	c.updatedAt = c.builtAt
	c.rebuilds++

	c.log.Info().
		Int("records", g.Len()).
		Int("facilities", g.Facilities()).
		Int("labelled_pairs", len(pairs)).
		Bool("trained", pairModel.Trained).
		Interface("versions", versions).
		Dur("took", time.Since(start)).
		Msg("gazetteer rebuilt")
	return nil
}

func (c *Cache) trainOrLoad(pairs []TrainingPair) (*Model, error) {
	fingerprint := Fingerprint(c.opts.BaseModel, pairs)

	if c.opts.Settings != nil {
		stored, ok, err := c.opts.Settings.Load(fingerprint)
		if err != nil {
			c.log.Warn().Err(err).Msg("ignoring unreadable stored model")
		} else if ok {
			c.log.Debug().Str("fingerprint", fingerprint).Msg("loaded stored model")
			return stored, nil
		}
	}

	trained := Train(c.opts.BaseModel, pairs, c.opts.Train)

	if c.opts.Settings != nil {
		if err := c.opts.Settings.Save(fingerprint, trained); err != nil {
			return nil, err
		}
	}
	return trained, nil
}

// toTrainingPairs turns moderator decisions into comparable records cleaned
// the same way as indexed records. Country is irrelevant to the features so
// it is left empty.
func toTrainingPairs(pairs []model.LabeledPair) []TrainingPair {
	out := make([]TrainingPair, 0, len(pairs))
	for _, p := range pairs {
		out = append(out, TrainingPair{
			A:     NewRecord("", "", "", p.ItemName, p.ItemAddress),
			B:     NewRecord("", "", "", p.FacilityName, p.FacilityAddress),
			Match: p.Match,
		})
	}
	return out
}
