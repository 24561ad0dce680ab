package matcher

import (
	"context"
	"log/slog"
	"time"

	"github.com/medassist-io/codematch/internal/corpus"
	"github.com/medassist-io/codematch/internal/matcher/cache"
	"github.com/medassist-io/codematch/internal/matcher/filter"
	"github.com/medassist-io/codematch/internal/matcher/ranker"
	"github.com/medassist-io/codematch/pkg/config"
	apperrors "github.com/medassist-io/codematch/pkg/errors"
	"github.com/medassist-io/codematch/pkg/metrics"
)

// Service is the matching engine facade. All methods are safe for concurrent
// use.
type Service struct {
	corpus  *corpus.Store
	ranker  *ranker.Ranker
	results *cache.Store
	cfg     config.MatchingConfig
	metrics *metrics.Metrics
	events  EventSink
	logger  *slog.Logger
}

// NewService wires the matching engine. results, m, and events may be nil;
// a nil results store disables caching, a nil events sink disables analytics.
func NewService(store *corpus.Store, results *cache.Store, cfg config.MatchingConfig, m *metrics.Metrics, events EventSink) *Service {
	return &Service{
		corpus:  store,
		ranker:  ranker.New(),
		results: results,
		cfg:     cfg,
		metrics: m,
		events:  events,
		logger:  slog.Default().With("component", "matcher"),
	}
}

// BestMatch returns the single best suggestion for text, or a no-match
// suggestion with confidence 0 and an explanatory message. Expected failure
// conditions never surface as errors.
func (s *Service) BestMatch(ctx context.Context, text string) Suggestion {
	start := time.Now()
	q := filter.BuildQuery(text)
	if q.Empty() {
		s.observe("best", "invalid_query", start)
		return noMatch(MsgInvalidQuery)
	}

	compute := func(ctx context.Context) (Suggestion, bool, error) {
		return s.bestMatchUncached(ctx, q)
	}

	var (
		out Suggestion
		err error
	)
	if s.results != nil {
		out, err = cache.GetOrCompute(ctx, s.results, cache.Key("best", q.Normalized, 1), compute)
	} else {
		out, _, err = compute(ctx)
	}
	if err != nil {
		// Only programming errors reach here; expected conditions are
		// encoded in the Suggestion itself.
		s.logger.Error("best match failed", "query", q.Normalized, "error", err)
		s.observe("best", "error", start)
		return noMatch(MsgCorpusUnavailable)
	}

	s.observe("best", resultType(out), start)
	if s.metrics != nil && out.Success {
		s.metrics.MatchConfidence.Observe(float64(out.Confidence))
	}
	s.record(ctx, "best", q.Normalized, out.Code, out.Confidence, out.Success)
	return out
}

func (s *Service) bestMatchUncached(ctx context.Context, q filter.Query) (Suggestion, bool, error) {
	snap := s.corpus.Snapshot(ctx)
	if snap.Unavailable {
		return noMatch(MsgCorpusUnavailable), false, nil
	}

	candidates := filter.Candidates(q, snap)
	if s.metrics != nil {
		s.metrics.CandidatesPerQuery.Observe(float64(len(candidates)))
	}
	if len(candidates) == 0 {
		return noMatch(MsgNoCandidates), true, nil
	}

	ranked := s.ranker.Rank(ctx, q.Normalized, candidates, ranker.Options{
		MinScore: s.cfg.BestMatchThreshold,
		Limit:    1,
		Workers:  s.cfg.ScoreWorkers,
		BestOnly: true,
	})
	if len(ranked) == 0 {
		return noMatch(MsgBelowThreshold), true, nil
	}

	best := ranked[0]
	return Suggestion{
		Success:     true,
		Code:        best.Code,
		Description: best.Description,
		Confidence:  best.Score,
		MatchType:   matchTypeFor(best.Score),
		Message:     recommendationFor(best.Score),
	}, true, nil
}

// TopMatches returns up to maxResults candidates above the list threshold,
// sorted by score descending. It returns ErrInvalidQuery for empty text and
// ErrCorpusUnavailable when the reference data cannot be read; an empty slice
// with a nil error means no candidate qualified.
func (s *Service) TopMatches(ctx context.Context, text string, maxResults int) ([]ranker.Candidate, error) {
	start := time.Now()
	q := filter.BuildQuery(text)
	if q.Empty() {
		s.observe("top", "invalid_query", start)
		return nil, apperrors.ErrInvalidQuery
	}
	if maxResults <= 0 {
		maxResults = s.cfg.DefaultLimit
	}
	if maxResults > s.cfg.MaxResults {
		maxResults = s.cfg.MaxResults
	}

	compute := func(ctx context.Context) ([]ranker.Candidate, bool, error) {
		return s.topMatchesUncached(ctx, q, maxResults)
	}

	var (
		out []ranker.Candidate
		err error
	)
	if s.results != nil {
		out, err = cache.GetOrCompute(ctx, s.results, cache.Key("top", q.Normalized, maxResults), compute)
	} else {
		out, _, err = compute(ctx)
	}
	if err != nil {
		s.observe("top", "corpus_unavailable", start)
		return nil, err
	}

	result := "no_match"
	if len(out) > 0 {
		result = "matched"
	}
	s.observe("top", result, start)
	topCode, topScore := "", 0
	if len(out) > 0 {
		topCode, topScore = out[0].Code, out[0].Score
	}
	s.record(ctx, "top", q.Normalized, topCode, topScore, len(out) > 0)
	return out, nil
}

func (s *Service) topMatchesUncached(ctx context.Context, q filter.Query, maxResults int) ([]ranker.Candidate, bool, error) {
	snap := s.corpus.Snapshot(ctx)
	if snap.Unavailable {
		return nil, false, apperrors.ErrCorpusUnavailable
	}

	candidates := filter.Candidates(q, snap)
	if s.metrics != nil {
		s.metrics.CandidatesPerQuery.Observe(float64(len(candidates)))
	}

	ranked := s.ranker.Rank(ctx, q.Normalized, candidates, ranker.Options{
		MinScore: s.cfg.ListMatchThreshold,
		Limit:    maxResults,
		Workers:  s.cfg.ScoreWorkers,
	})
	for i := range ranked {
		if ranked[i].Score >= s.cfg.HighConfidenceThreshold {
			ranked[i].Reason = ReasonHighSimilarity
		}
	}
	return ranked, true, nil
}

// BulkMatch runs TopMatches independently for each item. A failing item stays
// in the output with empty suggestions; cancellation stops issuing new items
// but every input ID is still represented in the result.
func (s *Service) BulkMatch(ctx context.Context, items []BulkItem) []BulkResult {
	out := make([]BulkResult, len(items))
	for i, item := range items {
		out[i] = BulkResult{ID: item.ID, Suggestions: []ranker.Candidate{}}
		if ctx.Err() != nil {
			s.countBulk("cancelled")
			continue
		}
		suggestions, err := s.matchBulkItem(ctx, item)
		if err != nil {
			s.logger.Warn("bulk item failed", "id", item.ID, "error", err)
			s.countBulk("failed")
			continue
		}
		out[i].Suggestions = suggestions
		s.countBulk("ok")
	}
	return out
}

// matchBulkItem isolates one item: a panic while matching it is converted to
// an error so the rest of the batch continues.
func (s *Service) matchBulkItem(ctx context.Context, item BulkItem) (suggestions []ranker.Candidate, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			suggestions, err = nil, apperrors.Newf(apperrors.ErrScoringFailed, 500, "item %s: %v", item.ID, rec)
		}
	}()
	got, err := s.TopMatches(ctx, item.Text, s.cfg.DefaultLimit)
	if err != nil {
		return nil, err
	}
	if got == nil {
		got = []ranker.Candidate{}
	}
	return got, nil
}

// InvalidateCorpus drops the corpus snapshot and flushes the result cache so
// the next request sees fresh reference data.
func (s *Service) InvalidateCorpus(ctx context.Context) error {
	s.corpus.Invalidate()
	if s.results != nil {
		if err := s.results.Flush(ctx); err != nil {
			return err
		}
	}
	s.logger.Info("corpus and result cache invalidated")
	return nil
}

// CacheStats reports result-cache hits and misses since startup.
func (s *Service) CacheStats() (hits, misses int64) {
	if s.results == nil {
		return 0, 0
	}
	return s.results.Stats()
}

func noMatch(message string) Suggestion {
	return Suggestion{
		Success:    false,
		Confidence: 0,
		MatchType:  MatchTypeNone,
		Message:    message,
	}
}

func resultType(s Suggestion) string {
	if s.Success {
		return "matched"
	}
	switch s.Message {
	case MsgCorpusUnavailable:
		return "corpus_unavailable"
	case MsgNoCandidates:
		return "no_match"
	case MsgBelowThreshold:
		return "below_threshold"
	default:
		return "no_match"
	}
}

func (s *Service) countBulk(status string) {
	if s.metrics == nil {
		return
	}
	s.metrics.BulkItemsTotal.WithLabelValues(status).Inc()
}

func (s *Service) observe(operation, result string, start time.Time) {
	if s.metrics == nil {
		return
	}
	s.metrics.MatchRequestsTotal.WithLabelValues(operation, result).Inc()
	s.metrics.MatchLatency.WithLabelValues(operation, "all").Observe(time.Since(start).Seconds())
}

func (s *Service) record(ctx context.Context, operation, query, code string, confidence int, matched bool) {
	if s.events == nil {
		return
	}
	s.events.RecordMatch(ctx, MatchEvent{
		Operation:  operation,
		Query:      query,
		Code:       code,
		Confidence: confidence,
		Matched:    matched,
		Timestamp:  time.Now().UTC(),
	})
}
