package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opensupplyhub/dedupe-hub/internal/match"
	"github.com/opensupplyhub/dedupe-hub/internal/model"
	"github.com/opensupplyhub/dedupe-hub/internal/payload"
	"github.com/opensupplyhub/dedupe-hub/internal/store"
)

type fakeMatcher struct {
	mu    sync.Mutex
	lists []int64
	items [][]int64
	err   error
	// summary is returned alongside err when set
	summary bool
}

func (f *fakeMatcher) result() (*match.Summary, error) {
	if f.err != nil && !f.summary {
		return nil, f.err
	}
	return &match.Summary{Run: model.MatchRun{BatchID: "batch-1", Processed: 1}}, f.err
}

func (f *fakeMatcher) MatchList(ctx context.Context, listID int64) (*match.Summary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lists = append(f.lists, listID)
	return f.result()
}

func (f *fakeMatcher) MatchItems(ctx context.Context, ids []int64) (*match.Summary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.items = append(f.items, ids)
	return f.result()
}

func setupQueue(t *testing.T) (*Queue, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	q := New(rdb, Options{Block: 10 * time.Millisecond}, zerolog.Nop())
	return q, rdb
}

func pendingCount(t *testing.T, rdb *redis.Client, q *Queue) int64 {
	t.Helper()
	pending, err := rdb.XPending(context.Background(), q.opts.Stream, q.opts.Group).Result()
	require.NoError(t, err)
	return pending.Count
}

func TestEnqueueAndConsume(t *testing.T) {
	ctx := context.Background()
	q, rdb := setupQueue(t)
	require.NoError(t, q.EnsureGroup(ctx))
	require.NoError(t, q.EnsureGroup(ctx))

	listID := int64(7)
	_, err := q.Enqueue(ctx, payload.MatchRequest{ListID: &listID})
	require.NoError(t, err)
	_, err = q.Enqueue(ctx, payload.MatchRequest{ItemIDs: []int64{4, 5}})
	require.NoError(t, err)

	m := &fakeMatcher{}
	handled, err := q.ConsumeOnce(ctx, m)
	require.NoError(t, err)

	assert.Equal(t, 2, handled)
	assert.Equal(t, []int64{7}, m.lists)
	assert.Equal(t, [][]int64{{4, 5}}, m.items)
	assert.Zero(t, pendingCount(t, rdb, q))
}

func TestEnqueueRejectsInvalidRequest(t *testing.T) {
	q, _ := setupQueue(t)
	_, err := q.Enqueue(context.Background(), payload.MatchRequest{})
	assert.Error(t, err)
}

func TestInvalidEntriesAreAcked(t *testing.T) {
	ctx := context.Background()
	q, rdb := setupQueue(t)
	require.NoError(t, q.EnsureGroup(ctx))

	for _, values := range []map[string]interface{}{
		{payloadField: `{"list_id": "seven"}`},
		{"other": "field"},
	} {
		require.NoError(t, rdb.XAdd(ctx, &redis.XAddArgs{Stream: q.opts.Stream, Values: values}).Err())
	}

	m := &fakeMatcher{}
	handled, err := q.ConsumeOnce(ctx, m)
	require.NoError(t, err)

	assert.Equal(t, 2, handled)
	assert.Empty(t, m.lists)
	assert.Empty(t, m.items)
	assert.Zero(t, pendingCount(t, rdb, q))
}

func TestUnknownListIsAcked(t *testing.T) {
	ctx := context.Background()
	q, rdb := setupQueue(t)

	listID := int64(404)
	_, err := q.Enqueue(ctx, payload.MatchRequest{ListID: &listID})
	require.NoError(t, err)

	m := &fakeMatcher{err: store.ErrNotFound.New("facility list %d", listID)}
	_, err = q.ConsumeOnce(ctx, m)
	require.NoError(t, err)

	assert.Equal(t, []int64{404}, m.lists)
	assert.Zero(t, pendingCount(t, rdb, q))
}

func TestFailedRunIsAcked(t *testing.T) {
	ctx := context.Background()
	q, rdb := setupQueue(t)

	_, err := q.Enqueue(ctx, payload.MatchRequest{ItemIDs: []int64{1}})
	require.NoError(t, err)

	m := &fakeMatcher{err: errors.New("stage failed"), summary: true}
	_, err = q.ConsumeOnce(ctx, m)
	require.NoError(t, err)
	assert.Zero(t, pendingCount(t, rdb, q))
}

func TestTransientErrorStaysPending(t *testing.T) {
	ctx := context.Background()
	q, rdb := setupQueue(t)

	_, err := q.Enqueue(ctx, payload.MatchRequest{ItemIDs: []int64{1, 2}})
	require.NoError(t, err)

	m := &fakeMatcher{err: errors.New("connection refused")}
	handled, err := q.ConsumeOnce(ctx, m)
	require.NoError(t, err)
	assert.Equal(t, 1, handled)
	assert.Equal(t, int64(1), pendingCount(t, rdb, q))

	m.err = nil
	handled, err = q.read(ctx, m, "0")
	require.NoError(t, err)
	assert.Equal(t, 1, handled)
	assert.Len(t, m.items, 2)
	assert.Zero(t, pendingCount(t, rdb, q))
}

func TestConsumeStopsOnCancel(t *testing.T) {
	q, _ := setupQueue(t)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- q.Consume(ctx, &fakeMatcher{}) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("consumer did not stop")
	}
}
