package matcher

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/medassist-io/codematch/internal/corpus"
	"github.com/medassist-io/codematch/internal/matcher/cache"
	"github.com/medassist-io/codematch/pkg/config"
	apperrors "github.com/medassist-io/codematch/pkg/errors"
)

type countingLoader struct {
	calls   atomic.Int64
	entries []corpus.RawEntry
	err     error
}

func (l *countingLoader) LoadActive(ctx context.Context) ([]corpus.RawEntry, error) {
	l.calls.Add(1)
	if l.err != nil {
		return nil, l.err
	}
	return l.entries, nil
}

var clinicalRows = []corpus.RawEntry{
	{Code: "E11.9", Description: "Type 2 diabetes mellitus without complications"},
	{Code: "I10", Description: "Essential (primary) hypertension"},
	{Code: "J45.909", Description: "Unspecified asthma, uncomplicated"},
	{Code: "R07.9", Description: "Chest pain, unspecified"},
	{Code: "M54.5", Description: "Low back pain"},
}

func testConfig() config.MatchingConfig {
	return config.MatchingConfig{
		BestMatchThreshold:      60,
		ListMatchThreshold:      40,
		HighConfidenceThreshold: 90,
		MaxResults:              50,
		DefaultLimit:            10,
		CorpusTTL:               time.Hour,
	}
}

func newTestService(loader corpus.Loader, withCache bool) *Service {
	store := corpus.NewStore(loader, time.Hour, nil)
	var results *cache.Store
	if withCache {
		results = cache.NewStore(cache.NewMemory(), time.Minute, nil)
	}
	return NewService(store, results, testConfig(), nil, nil)
}

func TestBestMatchEmptyQuerySkipsCorpus(t *testing.T) {
	loader := &countingLoader{entries: clinicalRows}
	svc := newTestService(loader, true)

	for _, q := range []string{"", "   ", "\t\n"} {
		got := svc.BestMatch(context.Background(), q)
		if got.Success {
			t.Errorf("query %q: expected no match", q)
		}
		if got.Confidence != 0 {
			t.Errorf("query %q: expected confidence 0, got %d", q, got.Confidence)
		}
		if got.Message != MsgInvalidQuery {
			t.Errorf("query %q: expected %q, got %q", q, MsgInvalidQuery, got.Message)
		}
	}
	if calls := loader.calls.Load(); calls != 0 {
		t.Errorf("empty queries must not touch the corpus loader, got %d calls", calls)
	}
}

func TestBestMatchExactDescription(t *testing.T) {
	svc := newTestService(&countingLoader{entries: clinicalRows}, false)

	got := svc.BestMatch(context.Background(), "Type 2 diabetes mellitus without complications")
	if !got.Success {
		t.Fatalf("expected match, got message %q", got.Message)
	}
	if got.Code != "E11.9" {
		t.Errorf("expected E11.9, got %s", got.Code)
	}
	if got.Confidence < 95 {
		t.Errorf("exact description should score >= 95, got %d", got.Confidence)
	}
	if got.MatchType != MatchTypeExcellent {
		t.Errorf("expected %q, got %q", MatchTypeExcellent, got.MatchType)
	}
}

func TestBestMatchParaphrase(t *testing.T) {
	svc := newTestService(&countingLoader{entries: clinicalRows}, false)

	got := svc.BestMatch(context.Background(), "diabetes type 2")
	if !got.Success {
		t.Fatalf("expected match, got message %q", got.Message)
	}
	if got.Code != "E11.9" {
		t.Errorf("expected E11.9, got %s", got.Code)
	}
	if got.Confidence < 70 {
		t.Errorf("paraphrase should score >= 70, got %d", got.Confidence)
	}
}

func TestBestMatchSynonymLimitation(t *testing.T) {
	// "high blood pressure" shares no word with "essential primary
	// hypertension", so the lexical pre-filter rejects the correct entry.
	// Known limitation of word-overlap filtering; synonym expansion would
	// have to happen upstream of this service.
	svc := newTestService(&countingLoader{entries: clinicalRows}, false)

	got := svc.BestMatch(context.Background(), "high blood pressure")
	if got.Success {
		t.Fatalf("expected no match for synonym-only query, got %s", got.Code)
	}
	if got.Message != MsgNoCandidates {
		t.Errorf("expected %q, got %q", MsgNoCandidates, got.Message)
	}
}

func TestBestMatchUnknownTerm(t *testing.T) {
	svc := newTestService(&countingLoader{entries: clinicalRows}, false)

	got := svc.BestMatch(context.Background(), "completely unknown rare disease xyz123")
	if got.Success {
		t.Fatalf("expected no match, got %s", got.Code)
	}
	if got.Confidence != 0 {
		t.Errorf("expected confidence 0, got %d", got.Confidence)
	}
}

func TestBestMatchThresholdLaw(t *testing.T) {
	// A single shared word with an otherwise different description passes
	// the filter but must not clear the 60 threshold.
	rows := []corpus.RawEntry{
		{Code: "Z00", Description: "pain somewhere entirely unrelated to the query text"},
	}
	svc := newTestService(&countingLoader{entries: rows}, false)

	got := svc.BestMatch(context.Background(), "pain")
	if got.Success && got.Confidence < 60 {
		t.Errorf("threshold law violated: success with confidence %d", got.Confidence)
	}
	if !got.Success && got.Message != MsgBelowThreshold && got.Message != MsgNoCandidates {
		t.Errorf("unexpected no-match message %q", got.Message)
	}
}

func TestBestMatchCaseInsensitive(t *testing.T) {
	svc := newTestService(&countingLoader{entries: clinicalRows}, false)

	ctx := context.Background()
	variants := []string{"Type 2 Diabetes", "type 2 diabetes", "TYPE 2 DIABETES"}
	first := svc.BestMatch(ctx, variants[0])
	for _, v := range variants[1:] {
		got := svc.BestMatch(ctx, v)
		if got.Code != first.Code || got.Confidence != first.Confidence {
			t.Errorf("case variant %q diverged: (%s, %d) vs (%s, %d)",
				v, got.Code, got.Confidence, first.Code, first.Confidence)
		}
	}
}

func TestBestMatchDeterministic(t *testing.T) {
	svc := newTestService(&countingLoader{entries: clinicalRows}, false)

	ctx := context.Background()
	first := svc.BestMatch(ctx, "chest pain")
	for i := 0; i < 20; i++ {
		got := svc.BestMatch(ctx, "chest pain")
		if got != first {
			t.Fatalf("result changed between calls: %+v vs %+v", got, first)
		}
	}
}

func TestBestMatchCorpusUnavailable(t *testing.T) {
	loader := &countingLoader{err: errors.New("connection refused")}
	svc := newTestService(loader, false)

	got := svc.BestMatch(context.Background(), "diabetes")
	if got.Success {
		t.Fatal("expected no match when corpus is unavailable")
	}
	if got.Message != MsgCorpusUnavailable {
		t.Errorf("expected %q, got %q", MsgCorpusUnavailable, got.Message)
	}
	if got.Confidence != 0 {
		t.Errorf("expected confidence 0, got %d", got.Confidence)
	}
}

func TestBestMatchUnavailableResultNotCached(t *testing.T) {
	loader := &countingLoader{err: errors.New("connection refused")}
	store := corpus.NewStore(loader, time.Hour, nil)
	results := cache.NewStore(cache.NewMemory(), time.Minute, nil)
	svc := NewService(store, results, testConfig(), nil, nil)

	ctx := context.Background()
	if got := svc.BestMatch(ctx, "diabetes type 2"); got.Success {
		t.Fatal("expected no match while corpus is down")
	}

	// Recovery: the unavailable result must not have been cached.
	loader.err = nil
	loader.entries = clinicalRows
	store.Invalidate()

	got := svc.BestMatch(ctx, "diabetes type 2")
	if !got.Success {
		t.Fatalf("expected match after recovery, got %q", got.Message)
	}
	if got.Code != "E11.9" {
		t.Errorf("expected E11.9, got %s", got.Code)
	}
}

func TestBestMatchServedFromCache(t *testing.T) {
	svc := newTestService(&countingLoader{entries: clinicalRows}, true)

	ctx := context.Background()
	svc.BestMatch(ctx, "asthma")
	svc.BestMatch(ctx, "asthma")

	hits, misses := svc.CacheStats()
	if hits != 1 || misses != 1 {
		t.Errorf("expected 1 hit / 1 miss, got %d / %d", hits, misses)
	}
}

func TestTopMatchesOrderedAndBounded(t *testing.T) {
	rows := []corpus.RawEntry{
		{Code: "A01", Description: "acute chest pain"},
		{Code: "B02", Description: "chronic chest pain"},
		{Code: "C03", Description: "chest pain unspecified"},
		{Code: "D04", Description: "abdominal pain"},
	}
	svc := newTestService(&countingLoader{entries: rows}, false)

	got, err := svc.TopMatches(context.Background(), "chest pain", 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) > 2 {
		t.Fatalf("expected at most 2 results, got %d", len(got))
	}
	for i := 1; i < len(got); i++ {
		if got[i].Score > got[i-1].Score {
			t.Errorf("results not sorted by score descending at %d", i)
		}
	}
}

func TestTopMatchesHighConfidenceReason(t *testing.T) {
	svc := newTestService(&countingLoader{entries: clinicalRows}, false)

	got, err := svc.TopMatches(context.Background(), "type 2 diabetes mellitus without complications", 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) == 0 {
		t.Fatal("expected at least one result")
	}
	if got[0].Score < 90 {
		t.Fatalf("expected high-confidence top result, got %d", got[0].Score)
	}
	if got[0].Reason != ReasonHighSimilarity {
		t.Errorf("expected %q, got %q", ReasonHighSimilarity, got[0].Reason)
	}
}

func TestTopMatchesInvalidQuery(t *testing.T) {
	svc := newTestService(&countingLoader{entries: clinicalRows}, false)

	_, err := svc.TopMatches(context.Background(), "   ", 5)
	if !errors.Is(err, apperrors.ErrInvalidQuery) {
		t.Errorf("expected ErrInvalidQuery, got %v", err)
	}
}

func TestTopMatchesCorpusUnavailable(t *testing.T) {
	svc := newTestService(&countingLoader{err: errors.New("connection refused")}, false)

	_, err := svc.TopMatches(context.Background(), "diabetes", 5)
	if !errors.Is(err, apperrors.ErrCorpusUnavailable) {
		t.Errorf("expected ErrCorpusUnavailable, got %v", err)
	}
}

func TestBulkMatchIsolation(t *testing.T) {
	svc := newTestService(&countingLoader{entries: clinicalRows}, false)

	items := make([]BulkItem, 0, 10)
	for i := 0; i < 10; i++ {
		text := "chest pain"
		if i == 4 {
			// Invalid input on one item must not abort the batch.
			text = "   "
		}
		items = append(items, BulkItem{ID: fmt.Sprintf("item-%d", i), Text: text})
	}

	got := svc.BulkMatch(context.Background(), items)
	if len(got) != 10 {
		t.Fatalf("expected 10 results, got %d", len(got))
	}
	for i, r := range got {
		if r.ID != items[i].ID {
			t.Errorf("result %d: expected ID %s, got %s", i, items[i].ID, r.ID)
		}
		if r.Suggestions == nil {
			t.Errorf("result %d: suggestions must never be nil", i)
		}
		if i == 4 && len(r.Suggestions) != 0 {
			t.Errorf("failed item should have empty suggestions, got %d", len(r.Suggestions))
		}
		if i != 4 && len(r.Suggestions) == 0 {
			t.Errorf("result %d: expected suggestions", i)
		}
	}
}

func TestBulkMatchCancellation(t *testing.T) {
	svc := newTestService(&countingLoader{entries: clinicalRows}, false)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	items := []BulkItem{
		{ID: "a", Text: "chest pain"},
		{ID: "b", Text: "asthma"},
	}
	got := svc.BulkMatch(ctx, items)
	if len(got) != 2 {
		t.Fatalf("cancelled batch must still return every item, got %d", len(got))
	}
	for _, r := range got {
		if len(r.Suggestions) != 0 {
			t.Errorf("item %s: expected empty suggestions after cancellation", r.ID)
		}
	}
}

func TestInvalidateCorpusForcesReloadAndFlush(t *testing.T) {
	loader := &countingLoader{entries: clinicalRows}
	store := corpus.NewStore(loader, time.Hour, nil)
	results := cache.NewStore(cache.NewMemory(), time.Minute, nil)
	svc := NewService(store, results, testConfig(), nil, nil)

	ctx := context.Background()
	svc.BestMatch(ctx, "asthma")
	if err := svc.InvalidateCorpus(ctx); err != nil {
		t.Fatalf("invalidate failed: %v", err)
	}
	svc.BestMatch(ctx, "asthma")

	if calls := loader.calls.Load(); calls != 2 {
		t.Errorf("expected corpus reload after invalidate, got %d loads", calls)
	}
	hits, _ := svc.CacheStats()
	if hits != 0 {
		t.Errorf("expected cache flush to prevent hits, got %d", hits)
	}
}

type recordingSink struct {
	events []MatchEvent
}

func (r *recordingSink) RecordMatch(ctx context.Context, e MatchEvent) {
	r.events = append(r.events, e)
}

func TestBestMatchEmitsEvent(t *testing.T) {
	store := corpus.NewStore(&countingLoader{entries: clinicalRows}, time.Hour, nil)
	sink := &recordingSink{}
	svc := NewService(store, nil, testConfig(), nil, sink)

	svc.BestMatch(context.Background(), "chest pain")
	if len(sink.events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(sink.events))
	}
	e := sink.events[0]
	if e.Operation != "best" || !e.Matched || e.Code == "" {
		t.Errorf("unexpected event %+v", e)
	}
}
