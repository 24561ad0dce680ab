// Package cache stores serialized match results keyed by a digest of the
// operation and normalized query, with singleflight collapsing of concurrent
// misses for the same key.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/medassist-io/codematch/pkg/metrics"
	"github.com/medassist-io/codematch/pkg/redis"
	"golang.org/x/sync/singleflight"
)

const keyPrefix = "match:"

// Backend stores opaque byte values with a TTL. Implemented by RedisBackend
// and the in-process Memory cache.
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration)
	Flush(ctx context.Context) error
}

// RedisBackend adapts the shared Redis client to the Backend interface.
// Errors degrade to cache misses; the cache is an optimization, not a
// dependency.
type RedisBackend struct {
	client *redis.Client
	logger *slog.Logger
}

// NewRedisBackend wraps an existing Redis client.
func NewRedisBackend(client *redis.Client) *RedisBackend {
	return &RedisBackend{
		client: client,
		logger: slog.Default().With("component", "result-cache"),
	}
}

func (b *RedisBackend) Get(ctx context.Context, key string) ([]byte, bool) {
	val, err := b.client.Get(ctx, key)
	if err != nil {
		if !redis.IsNilError(err) {
			b.logger.Warn("cache get failed", "key", key, "error", err)
		}
		return nil, false
	}
	return []byte(val), true
}

func (b *RedisBackend) Set(ctx context.Context, key string, value []byte, ttl time.Duration) {
	if err := b.client.Set(ctx, key, value, ttl); err != nil {
		b.logger.Warn("cache set failed", "key", key, "error", err)
	}
}

func (b *RedisBackend) Flush(ctx context.Context) error {
	deleted, err := b.client.FlushByPattern(ctx, keyPrefix+"*")
	if err != nil {
		return fmt.Errorf("flushing result cache: %w", err)
	}
	b.logger.Info("result cache flushed", "keys", deleted)
	return nil
}

// Store is the result cache used by the matching service.
type Store struct {
	backend Backend
	ttl     time.Duration
	group   singleflight.Group
	metrics *metrics.Metrics

	hits   atomic.Int64
	misses atomic.Int64
}

// NewStore creates a Store over the given backend; metrics may be nil.
func NewStore(backend Backend, ttl time.Duration, m *metrics.Metrics) *Store {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Store{backend: backend, ttl: ttl, metrics: m}
}

// Key derives a stable cache key from the operation name, the normalized
// query, and the result limit.
func Key(op, normalized string, limit int) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%d", op, normalized, limit)))
	return keyPrefix + hex.EncodeToString(sum[:16])
}

// Flush removes every cached result.
func (s *Store) Flush(ctx context.Context) error {
	return s.backend.Flush(ctx)
}

// Stats returns hit and miss counts since startup.
func (s *Store) Stats() (hits, misses int64) {
	return s.hits.Load(), s.misses.Load()
}

// GetOrCompute returns the cached value for key, or runs compute and caches
// its result. compute reports whether its result is cacheable; results built
// against an unavailable corpus are served but never stored. Concurrent
// callers for the same key share one compute call.
func GetOrCompute[T any](ctx context.Context, s *Store, key string, compute func(ctx context.Context) (T, bool, error)) (T, error) {
	var zero T
	if raw, ok := s.backend.Get(ctx, key); ok {
		var out T
		if err := json.Unmarshal(raw, &out); err == nil {
			s.hits.Add(1)
			if s.metrics != nil {
				s.metrics.CacheHitsTotal.Inc()
			}
			return out, nil
		}
		// A corrupt entry falls through to recompute and overwrite.
	}
	s.misses.Add(1)
	if s.metrics != nil {
		s.metrics.CacheMissesTotal.Inc()
	}

	v, err, _ := s.group.Do(key, func() (interface{}, error) {
		out, cacheable, err := compute(ctx)
		if err != nil {
			return zero, err
		}
		if cacheable {
			if raw, err := json.Marshal(out); err == nil {
				s.backend.Set(ctx, key, raw, s.ttl)
			}
		}
		return out, nil
	})
	if err != nil {
		return zero, err
	}
	return v.(T), nil
}
