// Package handler exposes the matching service over HTTP.
package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/medassist-io/codematch/internal/matcher"
	"github.com/medassist-io/codematch/internal/matcher/ranker"
	apperrors "github.com/medassist-io/codematch/pkg/errors"
	"github.com/medassist-io/codematch/pkg/logger"
)

// maxBulkItems bounds a single bulk request.
const maxBulkItems = 500

// Matcher is the service surface the handler needs.
type Matcher interface {
	BestMatch(ctx context.Context, text string) matcher.Suggestion
	TopMatches(ctx context.Context, text string, maxResults int) ([]ranker.Candidate, error)
	BulkMatch(ctx context.Context, items []matcher.BulkItem) []matcher.BulkResult
	InvalidateCorpus(ctx context.Context) error
	CacheStats() (hits, misses int64)
}

// Handler routes HTTP requests to the matching service. broadcast, when set,
// fans an invalidation out to every matcher instance; the local service is
// always invalidated regardless.
type Handler struct {
	svc       Matcher
	broadcast func(ctx context.Context) error
	logger    *slog.Logger
}

// New creates a Handler; broadcast may be nil for single-instance setups.
func New(svc Matcher, broadcast func(ctx context.Context) error) *Handler {
	return &Handler{
		svc:       svc,
		broadcast: broadcast,
		logger:    slog.Default().With("component", "match-handler"),
	}
}

// Register installs the API routes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/suggest", h.Suggest)
	mux.HandleFunc("GET /api/v1/matches", h.TopMatches)
	mux.HandleFunc("POST /api/v1/match/bulk", h.BulkMatch)
	mux.HandleFunc("GET /api/v1/cache/stats", h.CacheStats)
	mux.HandleFunc("POST /api/v1/corpus/invalidate", h.CorpusInvalidate)
}

// Suggest returns the single best match for the q parameter. The suggestion
// always carries HTTP 200; no-match is an expected outcome, not an error.
func (h *Handler) Suggest(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	log := logger.FromContext(ctx)

	q := r.URL.Query().Get("q")
	suggestion := h.svc.BestMatch(ctx, q)

	log.Info("suggest completed",
		"matched", suggestion.Success,
		"confidence", suggestion.Confidence,
		"latency_ms", time.Since(start).Milliseconds(),
	)
	h.writeJSON(w, http.StatusOK, suggestion)
}

// TopMatches returns the ranked candidate list for the q parameter.
func (h *Handler) TopMatches(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	log := logger.FromContext(ctx)

	q := r.URL.Query().Get("q")
	if q == "" {
		h.writeError(w, http.StatusBadRequest, "query parameter 'q' is required")
		return
	}

	limit := 0
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		parsed, err := strconv.Atoi(limitStr)
		if err != nil || parsed < 1 {
			h.writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = parsed
	}

	results, err := h.svc.TopMatches(ctx, q, limit)
	if err != nil {
		log.Warn("top matches failed", "query", q, "error", err)
		h.writeError(w, apperrors.HTTPStatusCode(err), err.Error())
		return
	}
	if results == nil {
		results = []ranker.Candidate{}
	}

	log.Info("top matches completed",
		"query", q,
		"returned", len(results),
		"latency_ms", time.Since(start).Milliseconds(),
	)
	h.writeJSON(w, http.StatusOK, map[string]any{
		"query":   q,
		"matches": results,
	})
}

// BulkMatch runs the matcher over a JSON array of {id, text} items.
func (h *Handler) BulkMatch(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	log := logger.FromContext(ctx)

	var req struct {
		Items []matcher.BulkItem `json:"items"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if len(req.Items) == 0 {
		h.writeError(w, http.StatusBadRequest, "items must not be empty")
		return
	}
	if len(req.Items) > maxBulkItems {
		h.writeError(w, http.StatusBadRequest,
			fmt.Sprintf("at most %d items per request", maxBulkItems))
		return
	}

	results := h.svc.BulkMatch(ctx, req.Items)

	log.Info("bulk match completed",
		"items", len(req.Items),
		"latency_ms", time.Since(start).Milliseconds(),
	)
	h.writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

// CacheStats reports result-cache hit counters.
func (h *Handler) CacheStats(w http.ResponseWriter, r *http.Request) {
	hits, misses := h.svc.CacheStats()
	total := hits + misses
	var hitRate float64
	if total > 0 {
		hitRate = float64(hits) / float64(total) * 100
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"hits":     hits,
		"misses":   misses,
		"total":    total,
		"hit_rate": fmt.Sprintf("%.1f%%", hitRate),
	})
}

// CorpusInvalidate drops the corpus snapshot and result cache, and broadcasts
// the invalidation to the other instances when a broadcaster is configured.
func (h *Handler) CorpusInvalidate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if err := h.svc.InvalidateCorpus(ctx); err != nil {
		h.logger.Error("corpus invalidation failed", "error", err)
		h.writeError(w, http.StatusInternalServerError, "corpus invalidation failed")
		return
	}
	if h.broadcast != nil {
		if err := h.broadcast(ctx); err != nil {
			// Local invalidation succeeded; the other instances fall back
			// to TTL expiry.
			h.logger.Error("invalidation broadcast failed", "error", err)
		}
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "invalidated"})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to write response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
