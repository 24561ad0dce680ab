package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/medassist-io/codematch/internal/matcher"
	"github.com/medassist-io/codematch/internal/matcher/ranker"
	apperrors "github.com/medassist-io/codematch/pkg/errors"
)

type stubMatcher struct {
	suggestion  matcher.Suggestion
	top         []ranker.Candidate
	topErr      error
	invalidated bool
}

func (s *stubMatcher) BestMatch(ctx context.Context, text string) matcher.Suggestion {
	return s.suggestion
}

func (s *stubMatcher) TopMatches(ctx context.Context, text string, maxResults int) ([]ranker.Candidate, error) {
	return s.top, s.topErr
}

func (s *stubMatcher) BulkMatch(ctx context.Context, items []matcher.BulkItem) []matcher.BulkResult {
	out := make([]matcher.BulkResult, len(items))
	for i, item := range items {
		out[i] = matcher.BulkResult{ID: item.ID, Suggestions: []ranker.Candidate{}}
	}
	return out
}

func (s *stubMatcher) InvalidateCorpus(ctx context.Context) error {
	s.invalidated = true
	return nil
}

func (s *stubMatcher) CacheStats() (int64, int64) { return 3, 1 }

func serve(h *Handler, method, target, body string) *httptest.ResponseRecorder {
	mux := http.NewServeMux()
	h.Register(mux)
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func TestSuggestReturnsMatch(t *testing.T) {
	stub := &stubMatcher{suggestion: matcher.Suggestion{
		Success: true, Code: "E11.9", Confidence: 95,
		MatchType: matcher.MatchTypeExcellent, Message: "Safe to approve automatically",
	}}
	rec := serve(New(stub, nil), http.MethodGet, "/api/v1/suggest?q=diabetes", "")

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var got matcher.Suggestion
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Code != "E11.9" || got.Confidence != 95 {
		t.Errorf("unexpected suggestion %+v", got)
	}
}

func TestSuggestNoMatchIsStill200(t *testing.T) {
	stub := &stubMatcher{suggestion: matcher.Suggestion{
		Success: false, Confidence: 0,
		MatchType: matcher.MatchTypeNone, Message: matcher.MsgNoCandidates,
	}}
	rec := serve(New(stub, nil), http.MethodGet, "/api/v1/suggest?q=nothing", "")
	if rec.Code != http.StatusOK {
		t.Errorf("no-match must be 200, got %d", rec.Code)
	}
}

func TestTopMatchesRequiresQuery(t *testing.T) {
	rec := serve(New(&stubMatcher{}, nil), http.MethodGet, "/api/v1/matches", "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for missing q, got %d", rec.Code)
	}
}

func TestTopMatchesRejectsBadLimit(t *testing.T) {
	rec := serve(New(&stubMatcher{}, nil), http.MethodGet, "/api/v1/matches?q=x&limit=zero", "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for bad limit, got %d", rec.Code)
	}
}

func TestTopMatchesCorpusUnavailableMapsTo503(t *testing.T) {
	stub := &stubMatcher{topErr: apperrors.ErrCorpusUnavailable}
	rec := serve(New(stub, nil), http.MethodGet, "/api/v1/matches?q=diabetes", "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", rec.Code)
	}
}

func TestBulkMatchRejectsEmptyBody(t *testing.T) {
	rec := serve(New(&stubMatcher{}, nil), http.MethodPost, "/api/v1/match/bulk", `{"items":[]}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for empty items, got %d", rec.Code)
	}
}

func TestBulkMatchReturnsEveryItem(t *testing.T) {
	body := `{"items":[{"id":"a","text":"chest pain"},{"id":"b","text":"asthma"}]}`
	rec := serve(New(&stubMatcher{}, nil), http.MethodPost, "/api/v1/match/bulk", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var got struct {
		Results []matcher.BulkResult `json:"results"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got.Results) != 2 {
		t.Errorf("expected 2 results, got %d", len(got.Results))
	}
}

func TestCorpusInvalidateBroadcasts(t *testing.T) {
	stub := &stubMatcher{}
	broadcasts := 0
	h := New(stub, func(ctx context.Context) error {
		broadcasts++
		return nil
	})
	rec := serve(h, http.MethodPost, "/api/v1/corpus/invalidate", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !stub.invalidated {
		t.Error("local service was not invalidated")
	}
	if broadcasts != 1 {
		t.Errorf("expected 1 broadcast, got %d", broadcasts)
	}
}

func TestCacheStats(t *testing.T) {
	rec := serve(New(&stubMatcher{}, nil), http.MethodGet, "/api/v1/cache/stats", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var got map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got["hits"].(float64) != 3 || got["misses"].(float64) != 1 {
		t.Errorf("unexpected stats %v", got)
	}
}
