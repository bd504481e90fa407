package gazetteer

import (
	"context"
	"errors"
	"path/filepath"
	"sort"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opensupplyhub/dedupe-hub/internal/model"
)

type change struct {
	version    int64
	facilityID string
}

type fakeSource struct {
	mu       sync.Mutex
	versions Versions
	records  map[string][]Record
	changes  []change
	pairs    []model.LabeledPair
	fail     error

	canonicalCalls int
}

func newFakeSource() *fakeSource {
	src := &fakeSource{records: make(map[string][]Record)}
	for _, rec := range testRecords() {
		src.records[rec.FacilityID] = append(src.records[rec.FacilityID], rec)
	}
	src.versions = Versions{Facility: 3, Match: 1}
	return src
}

func (s *fakeSource) put(version int64, facilityID string, recs ...Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(recs) == 0 {
		delete(s.records, facilityID)
	} else {
		s.records[facilityID] = recs
	}
	s.changes = append(s.changes, change{version: version, facilityID: facilityID})
	s.versions.Facility = version
}

func (s *fakeSource) LatestVersions(ctx context.Context) (Versions, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.versions, s.fail
}

func (s *fakeSource) CanonicalRecords(ctx context.Context, facilityIDs []string) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.canonicalCalls++

	var out []Record
	if facilityIDs == nil {
		for _, recs := range s.records {
			out = append(out, recs...)
		}
	} else {
		for _, id := range facilityIDs {
			out = append(out, s.records[id]...)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *fakeSource) ChangedFacilities(ctx context.Context, since Versions) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, c := range s.changes {
		if c.version > since.Facility {
			out = append(out, c.facilityID)
		}
	}
	return out, nil
}

func (s *fakeSource) LabeledPairs(ctx context.Context) ([]model.LabeledPair, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pairs, nil
}

func TestCacheBuildsOnce(t *testing.T) {
	ctx := context.Background()
	src := newFakeSource()
	cache := NewCache(src, CacheOptions{Gazetteer: DefaultOptions()}, zerolog.Nop())

	assert.False(t, cache.Status().Built)

	first, err := cache.Latest(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, first.Len())

	second, err := cache.Latest(ctx)
	require.NoError(t, err)
	assert.Same(t, first, second)
	assert.Equal(t, 1, src.canonicalCalls)

	status := cache.Status()
	assert.True(t, status.Built)
	assert.Equal(t, 1, status.Rebuilds)
	assert.Equal(t, 0, status.Updates)
	assert.Equal(t, Versions{Facility: 3, Match: 1}, status.Versions)
	assert.False(t, status.Trained)
}

func TestCacheIncrementalUpdate(t *testing.T) {
	ctx := context.Background()
	src := newFakeSource()
	cache := NewCache(src, CacheOptions{Gazetteer: DefaultOptions()}, zerolog.Nop())

	first, err := cache.Latest(ctx)
	require.NoError(t, err)

	src.put(4, "f9", Record{ID: "r9", FacilityID: "f9", CountryCode: "BD", Name: "delta textiles", Address: "road 2 gazipur"})
	src.put(5, "f2")

	updated, err := cache.Latest(ctx)
	require.NoError(t, err)
	assert.Same(t, first, updated)
	assert.Equal(t, 3, updated.Len())

	found := updated.Search(Record{CountryCode: "BD", Name: "delta textiles", Address: "road 2 gazipur"}, 0.5, 0)
	require.Len(t, found, 1)
	assert.Equal(t, "f9", found[0].FacilityID)
	assert.Empty(t, updated.Search(Record{CountryCode: "BD", Name: "best knit", Address: "house 12 road 3 dhaka"}, 0.5, 0))

	status := cache.Status()
	assert.Equal(t, 1, status.Rebuilds)
	assert.Equal(t, 1, status.Updates)
	assert.Equal(t, int64(5), status.Versions.Facility)
}

func TestCacheRebuildsWhenVersionsMoveBackwards(t *testing.T) {
	ctx := context.Background()
	src := newFakeSource()
	cache := NewCache(src, CacheOptions{Gazetteer: DefaultOptions()}, zerolog.Nop())

	first, err := cache.Latest(ctx)
	require.NoError(t, err)

	src.mu.Lock()
	src.versions = Versions{Facility: 1, Match: 0}
	src.mu.Unlock()

	second, err := cache.Latest(ctx)
	require.NoError(t, err)
	assert.NotSame(t, first, second)
	assert.Equal(t, 2, cache.Status().Rebuilds)
	assert.Equal(t, Versions{Facility: 1, Match: 0}, cache.Status().Versions)
}

func TestCacheSourceError(t *testing.T) {
	src := newFakeSource()
	refused := errors.New("connection refused")
	src.fail = refused
	cache := NewCache(src, CacheOptions{}, zerolog.Nop())

	_, err := cache.Latest(context.Background())
	require.Error(t, err)
	assert.True(t, Error.Has(err))
	assert.ErrorIs(t, err, refused)
	assert.False(t, cache.Status().Built)

	_, err = cache.Rebuild(context.Background())
	assert.ErrorIs(t, err, refused)
}

func TestCacheStoresTrainedModel(t *testing.T) {
	ctx := context.Background()
	settings, err := OpenSettings(filepath.Join(t.TempDir(), "settings.db"))
	require.NoError(t, err)
	defer func() { require.NoError(t, settings.Close()) }()

	src := newFakeSource()
	for _, p := range trainingPairs() {
		src.pairs = append(src.pairs, model.LabeledPair{
			ItemName:        p.A.Name,
			ItemAddress:     p.A.Address,
			FacilityName:    p.B.Name,
			FacilityAddress: p.B.Address,
			Match:           p.Match,
		})
	}

	cache := NewCache(src, CacheOptions{Gazetteer: DefaultOptions(), Settings: settings}, zerolog.Nop())
	g, err := cache.Rebuild(ctx)
	require.NoError(t, err)
	require.True(t, g.Model().Trained)

	fingerprint := Fingerprint(DefaultModel(), toTrainingPairs(src.pairs))
	stored, ok, err := settings.Load(fingerprint)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, g.Model(), stored)
}
