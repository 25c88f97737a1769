// Package rediscache wraps a rateio.Repository with a Redis cache for
// allocation history.
//
// Only ListAllocationHistory is cached. Generator and eligibility reads
// always go to the wrapped repository because the builder compares two
// generator reads to detect concurrent edits. A successful save deletes the
// generator's history key. Redis failures are logged and the wrapped
// repository answers instead.
package rediscache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/warp/rateio-engine/rateio"
)

// KeyPrefix namespaces history entries.
const KeyPrefix = "rateio:history:"

// DefaultTTL applies when New is given a non-positive ttl.
const DefaultTTL = 5 * time.Minute

type Repository struct {
	inner  rateio.Repository
	rdb    redis.Cmdable
	ttl    time.Duration
	logger zerolog.Logger
}

var _ rateio.Repository = (*Repository)(nil)

func New(inner rateio.Repository, rdb redis.Cmdable, ttl time.Duration, logger zerolog.Logger) *Repository {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Repository{inner: inner, rdb: rdb, ttl: ttl, logger: logger}
}

// Key returns the cache key for a generator's history.
func Key(id rateio.GeneratorID) string {
	return KeyPrefix + string(id)
}

func (r *Repository) GetGenerator(ctx context.Context, id rateio.GeneratorID) (rateio.Generator, error) {
	return r.inner.GetGenerator(ctx, id)
}

func (r *Repository) GetEligibleSubscribers(ctx context.Context, id rateio.GeneratorID) ([]rateio.Subscriber, error) {
	return r.inner.GetEligibleSubscribers(ctx, id)
}

// SaveAllocationRecord writes through and invalidates the history key.
func (r *Repository) SaveAllocationRecord(ctx context.Context, rec rateio.Record) (rateio.RecordID, error) {
	id, err := r.inner.SaveAllocationRecord(ctx, rec)
	if err != nil {
		return "", err
	}
	r.Invalidate(ctx, rec.GeneratorID)
	return id, nil
}

// ListAllocationHistory serves from Redis when possible.
func (r *Repository) ListAllocationHistory(ctx context.Context, id rateio.GeneratorID) ([]rateio.Record, error) {
	key := Key(id)

	raw, err := r.rdb.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var records []rateio.Record
		if err := json.Unmarshal(raw, &records); err == nil {
			return records, nil
		}
		r.logger.Warn().Str("key", key).Msg("discarding undecodable history cache entry")
	case errors.Is(err, redis.Nil):
	default:
		r.logger.Warn().Err(err).Str("key", key).Msg("history cache read failed")
	}

	records, err := r.inner.ListAllocationHistory(ctx, id)
	if err != nil {
		return nil, err
	}

	payload, err := json.Marshal(records)
	if err != nil {
		r.logger.Warn().Err(err).Str("key", key).Msg("history cache encode failed")
		return records, nil
	}
	if err := r.rdb.Set(ctx, key, payload, r.ttl).Err(); err != nil {
		r.logger.Warn().Err(err).Str("key", key).Msg("history cache write failed")
	}
	return records, nil
}

// Invalidate drops the cached history for a generator.
func (r *Repository) Invalidate(ctx context.Context, id rateio.GeneratorID) {
	if err := r.rdb.Del(context.WithoutCancel(ctx), Key(id)).Err(); err != nil {
		r.logger.Warn().Err(err).Str("generator_id", string(id)).Msg("history cache invalidation failed")
	}
}
