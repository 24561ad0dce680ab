package corpus

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/medassist-io/codematch/pkg/metrics"
	"golang.org/x/sync/singleflight"
)

// unavailableRetryInterval bounds how long an empty snapshot from a failed
// load is served before the next access retries the loader.
const unavailableRetryInterval = 30 * time.Second

// Loader reads the active, non-soft-deleted reference vocabulary rows from
// the external data store.
type Loader interface {
	LoadActive(ctx context.Context) ([]RawEntry, error)
}

// Store owns the current corpus snapshot. Reads are lock-free; rebuilds go
// through a singleflight group so concurrent cache misses trigger exactly one
// load.
type Store struct {
	loader  Loader
	ttl     time.Duration
	group   singleflight.Group
	current atomic.Pointer[Snapshot]
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewStore creates a Store around the given loader. ttl controls how long a
// successfully built snapshot is served before a reload; metrics may be nil.
func NewStore(loader Loader, ttl time.Duration, m *metrics.Metrics) *Store {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Store{
		loader:  loader,
		ttl:     ttl,
		metrics: m,
		logger:  slog.Default().With("component", "corpus-store"),
	}
}

// Snapshot returns the current corpus snapshot, loading it on first access,
// after TTL expiry, or after Invalidate. A failed load yields an empty
// snapshot flagged Unavailable rather than an error; the matching service
// turns that into a "no match" result.
func (s *Store) Snapshot(ctx context.Context) *Snapshot {
	if snap := s.current.Load(); snap != nil && !s.expired(snap) {
		return snap
	}
	v, _, _ := s.group.Do("corpus", func() (interface{}, error) {
		if snap := s.current.Load(); snap != nil && !s.expired(snap) {
			return snap, nil
		}
		return s.load(ctx), nil
	})
	return v.(*Snapshot)
}

// Invalidate drops the current snapshot so the next access reloads.
func (s *Store) Invalidate() {
	s.current.Store(nil)
	s.logger.Info("corpus snapshot invalidated")
}

func (s *Store) expired(snap *Snapshot) bool {
	if snap.Unavailable {
		return time.Since(snap.LoadedAt) >= unavailableRetryInterval
	}
	return time.Since(snap.LoadedAt) >= s.ttl
}

func (s *Store) load(ctx context.Context) *Snapshot {
	start := time.Now()
	raw, err := s.loader.LoadActive(ctx)
	if err != nil {
		s.logger.Error("corpus load failed", "error", err)
		if s.metrics != nil {
			s.metrics.CorpusLoadsTotal.WithLabelValues("failure").Inc()
		}
		snap := &Snapshot{LoadedAt: time.Now(), Unavailable: true}
		s.current.Store(snap)
		return snap
	}

	snap := &Snapshot{
		Entries:  buildEntries(raw),
		LoadedAt: time.Now(),
	}
	s.current.Store(snap)

	elapsed := time.Since(start)
	if s.metrics != nil {
		s.metrics.CorpusLoadsTotal.WithLabelValues("success").Inc()
		s.metrics.CorpusLoadDuration.Observe(elapsed.Seconds())
		s.metrics.CorpusSize.Set(float64(len(snap.Entries)))
	}
	s.logger.Info("corpus loaded",
		"rows", len(raw),
		"entries", len(snap.Entries),
		"duration_ms", elapsed.Milliseconds(),
	)
	return snap
}
