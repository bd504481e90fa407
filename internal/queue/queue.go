// Package queue feeds match requests from a Redis stream into the matcher.
package queue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/opensupplyhub/dedupe-hub/internal/match"
	"github.com/opensupplyhub/dedupe-hub/internal/payload"
	"github.com/opensupplyhub/dedupe-hub/internal/store"
)

// payloadField is the stream entry field holding the JSON request
const payloadField = "payload"

// Matcher runs match requests. *match.CumulativeMatcher implements it.
type Matcher interface {
	MatchList(ctx context.Context, listID int64) (*match.Summary, error)
	MatchItems(ctx context.Context, ids []int64) (*match.Summary, error)
}

// Options names the stream and consumer
type Options struct {
	Stream   string
	Group    string
	Consumer string
	// Block is how long one read waits for new entries
	Block time.Duration
	// Count is the maximum number of entries per read
	Count int64
}

func (o *Options) defaults() {
	if o.Stream == "" {
		o.Stream = "dedupe:match"
	}
	if o.Group == "" {
		o.Group = "dedupe-hub"
	}
	if o.Consumer == "" {
		o.Consumer = "consumer-1"
	}
	if o.Block <= 0 {
		o.Block = 5 * time.Second
	}
	if o.Count <= 0 {
		o.Count = 10
	}
}

// Queue is a consumer group on one stream
type Queue struct {
	rdb  *redis.Client
	opts Options
	log  zerolog.Logger
}

// New returns a queue using rdb. The group is created on first use.
func New(rdb *redis.Client, opts Options, log zerolog.Logger) *Queue {
	opts.defaults()
	return &Queue{
		rdb:  rdb,
		opts: opts,
		log:  log.With().Str("component", "queue").Str("stream", opts.Stream).Logger(),
	}
}

// Ping verifies Redis connectivity
func (q *Queue) Ping(ctx context.Context) error {
	return q.rdb.Ping(ctx).Err()
}

// Close closes the Redis connection
func (q *Queue) Close() error {
	return q.rdb.Close()
}

// EnsureGroup creates the stream and consumer group if they do not exist
func (q *Queue) EnsureGroup(ctx context.Context) error {
	err := q.rdb.XGroupCreateMkStream(ctx, q.opts.Stream, q.opts.Group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("failed to create consumer group %s: %w", q.opts.Group, err)
	}
	return nil
}

// Enqueue validates req and appends it to the stream, returning the entry ID
func (q *Queue) Enqueue(ctx context.Context, req payload.MatchRequest) (string, error) {
	data, err := payload.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("invalid match request: %w", err)
	}

	id, err := q.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: q.opts.Stream,
		Values: map[string]interface{}{payloadField: string(data)},
	}).Result()
	if err != nil {
		return "", fmt.Errorf("failed to enqueue match request: %w", err)
	}
	return id, nil
}

// Consume handles entries until ctx is cancelled. Entries left pending by a
// previous run of this consumer are handled first.
func (q *Queue) Consume(ctx context.Context, m Matcher) error {
	if err := q.EnsureGroup(ctx); err != nil {
		return err
	}

	if _, err := q.read(ctx, m, "0"); err != nil && ctx.Err() == nil {
		return err
	}

	q.log.Info().Str("group", q.opts.Group).Str("consumer", q.opts.Consumer).Msg("consuming match requests")
	for {
		if _, err := q.read(ctx, m, ">"); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
	}
}

// ConsumeOnce performs a single read of new entries and returns how many
// were handled
func (q *Queue) ConsumeOnce(ctx context.Context, m Matcher) (int, error) {
	if err := q.EnsureGroup(ctx); err != nil {
		return 0, err
	}
	return q.read(ctx, m, ">")
}

func (q *Queue) read(ctx context.Context, m Matcher, id string) (int, error) {
	streams, err := q.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    q.opts.Group,
		Consumer: q.opts.Consumer,
		Streams:  []string{q.opts.Stream, id},
		Count:    q.opts.Count,
		Block:    q.opts.Block,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read stream %s: %w", q.opts.Stream, err)
	}

	handled := 0
	for _, stream := range streams {
		for _, msg := range stream.Messages {
			if q.handle(ctx, m, msg) {
				if err := q.rdb.XAck(ctx, q.opts.Stream, q.opts.Group, msg.ID).Err(); err != nil {
					return handled, fmt.Errorf("failed to ack %s: %w", msg.ID, err)
				}
			}
			handled++
		}
	}
	return handled, nil
}

// handle runs one entry and reports whether it should be acknowledged.
// Entries that never reached the matcher because of a transient error stay
// pending.
func (q *Queue) handle(ctx context.Context, m Matcher, msg redis.XMessage) bool {
	log := q.log.With().Str("entry_id", msg.ID).Logger()

	raw, ok := msg.Values[payloadField].(string)
	if !ok {
		log.Error().Msg("entry has no payload, dropping")
		return true
	}

	req, err := payload.ValidateMatchRequest([]byte(raw))
	if err != nil {
		log.Error().Err(err).Msg("invalid match request, dropping")
		return true
	}

	var summary *match.Summary
	if req.ListID != nil {
		log = log.With().Int64("list_id", *req.ListID).Logger()
		summary, err = m.MatchList(ctx, *req.ListID)
	} else {
		log = log.With().Int("items", len(req.ItemIDs)).Logger()
		summary, err = m.MatchItems(ctx, req.ItemIDs)
	}

	switch {
	case err == nil:
		log.Info().Str("batch_id", summary.Run.BatchID).
			Int("processed", summary.Run.Processed).
			Int("automatic", summary.Run.Automatic).
			Int("pending", summary.Run.Pending).
			Int("new_facilities", summary.Run.NewFacilities).
			Msg("match request complete")
		return true
	case store.ErrNotFound.Has(err):
		log.Warn().Err(err).Msg("match request references unknown rows, dropping")
		return true
	case summary != nil:
		log.Error().Err(err).Str("batch_id", summary.Run.BatchID).Msg("match run failed")
		return true
	default:
		log.Error().Err(err).Msg("match request not started, leaving pending")
		return false
	}
}
