package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestMemoryGetSet(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	if _, ok := m.Get(ctx, "missing"); ok {
		t.Error("expected miss for unknown key")
	}

	m.Set(ctx, "k", []byte("v"), time.Minute)
	got, ok := m.Get(ctx, "k")
	if !ok || string(got) != "v" {
		t.Errorf("expected hit with %q, got %q (ok=%v)", "v", got, ok)
	}
}

func TestMemoryExpiry(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	m.Set(ctx, "k", []byte("v"), 10*time.Millisecond)
	time.Sleep(30 * time.Millisecond)
	if _, ok := m.Get(ctx, "k"); ok {
		t.Error("expected expired entry to miss")
	}
}

func TestMemoryFlush(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	m.Set(ctx, "a", []byte("1"), time.Minute)
	m.Set(ctx, "b", []byte("2"), time.Minute)
	if err := m.Flush(ctx); err != nil {
		t.Fatalf("flush failed: %v", err)
	}
	if m.Len() != 0 {
		t.Errorf("expected empty cache after flush, got %d entries", m.Len())
	}
}

func TestKeyStableAndDistinct(t *testing.T) {
	a := Key("best", "type2 diabetes", 1)
	b := Key("best", "type2 diabetes", 1)
	if a != b {
		t.Error("same inputs must produce the same key")
	}
	if Key("best", "type2 diabetes", 1) == Key("top", "type2 diabetes", 1) {
		t.Error("different operations must produce different keys")
	}
	if Key("top", "type2 diabetes", 5) == Key("top", "type2 diabetes", 10) {
		t.Error("different limits must produce different keys")
	}
}

func TestGetOrComputeCachesResult(t *testing.T) {
	ctx := context.Background()
	store := NewStore(NewMemory(), time.Minute, nil)

	var calls atomic.Int64
	compute := func(ctx context.Context) (string, bool, error) {
		calls.Add(1)
		return "result", true, nil
	}

	for i := 0; i < 3; i++ {
		got, err := GetOrCompute(ctx, store, Key("best", "q", 1), compute)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got != "result" {
			t.Errorf("got %q", got)
		}
	}
	if calls.Load() != 1 {
		t.Errorf("expected 1 compute call, got %d", calls.Load())
	}

	hits, misses := store.Stats()
	if hits != 2 || misses != 1 {
		t.Errorf("expected 2 hits / 1 miss, got %d / %d", hits, misses)
	}
}

func TestGetOrComputeSkipsUncacheable(t *testing.T) {
	ctx := context.Background()
	store := NewStore(NewMemory(), time.Minute, nil)

	var calls atomic.Int64
	compute := func(ctx context.Context) (string, bool, error) {
		calls.Add(1)
		return "transient", false, nil
	}

	key := Key("best", "q", 1)
	for i := 0; i < 3; i++ {
		if _, err := GetOrCompute(ctx, store, key, compute); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if calls.Load() != 3 {
		t.Errorf("uncacheable results must recompute every time, got %d calls", calls.Load())
	}
}

func TestGetOrComputePropagatesError(t *testing.T) {
	ctx := context.Background()
	store := NewStore(NewMemory(), time.Minute, nil)

	wantErr := errors.New("boom")
	_, err := GetOrCompute(ctx, store, Key("best", "q", 1), func(ctx context.Context) (string, bool, error) {
		return "", false, wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Errorf("expected wrapped compute error, got %v", err)
	}
}

func TestGetOrComputeCollapsesConcurrentMisses(t *testing.T) {
	ctx := context.Background()
	store := NewStore(NewMemory(), time.Minute, nil)

	var calls atomic.Int64
	compute := func(ctx context.Context) (int, bool, error) {
		calls.Add(1)
		time.Sleep(20 * time.Millisecond)
		return 42, false, nil
	}

	key := Key("top", "concurrent", 10)
	const goroutines = 16
	var wg sync.WaitGroup
	wg.Add(goroutines)
	for i := 0; i < goroutines; i++ {
		go func() {
			defer wg.Done()
			got, err := GetOrCompute(ctx, store, key, compute)
			if err != nil || got != 42 {
				t.Errorf("got %d, err %v", got, err)
			}
		}()
	}
	wg.Wait()

	if calls.Load() != 1 {
		t.Errorf("expected singleflight to collapse to 1 compute, got %d", calls.Load())
	}
}
