package analytics

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/medassist-io/codematch/internal/matcher"
	"github.com/medassist-io/codematch/pkg/kafka"
)

// AggregatedStats is the running summary of match traffic served by the stats
// endpoint.
type AggregatedStats struct {
	TotalRequests    int64        `json:"total_requests"`
	Matched          int64        `json:"matched"`
	NoMatch          int64        `json:"no_match"`
	BestRequests     int64        `json:"best_requests"`
	ListRequests     int64        `json:"list_requests"`
	AvgConfidence    float64      `json:"avg_confidence"`
	TopQueries       []QueryCount `json:"top_queries"`
	NoMatchQueries   []QueryCount `json:"no_match_queries"`
	QueriesPerMinute float64      `json:"queries_per_minute"`
}

// QueryCount pairs a normalized query with how often it was seen.
type QueryCount struct {
	Query string `json:"query"`
	Count int64  `json:"count"`
}

// Aggregator maintains running counters over match events. Events arrive via
// the handler returned by HandleEvent, fed by a Kafka consumer.
type Aggregator struct {
	mu             sync.RWMutex
	totalRequests  atomic.Int64
	matched        atomic.Int64
	noMatch        atomic.Int64
	bestRequests   atomic.Int64
	listRequests   atomic.Int64
	confidenceSum  atomic.Int64
	queryCounts    map[string]int64
	noMatchQueries map[string]int64
	startTime      time.Time

	logger *slog.Logger
}

// NewAggregator creates an empty Aggregator.
func NewAggregator() *Aggregator {
	return &Aggregator{
		queryCounts:    make(map[string]int64),
		noMatchQueries: make(map[string]int64),
		startTime:      time.Now(),
		logger:         slog.Default().With("component", "analytics-aggregator"),
	}
}

// HandleEvent returns the Kafka handler feeding the aggregator. Undecodable
// events are logged and skipped; they must not stall the partition.
func HandleEvent(agg *Aggregator) kafka.MessageHandler {
	return func(ctx context.Context, key []byte, value []byte) error {
		event, err := kafka.DecodeJSON[matcher.MatchEvent](value)
		if err != nil {
			agg.logger.Error("failed to decode match event", "error", err)
			return nil
		}
		agg.recordEvent(event)
		return nil
	}
}

func (a *Aggregator) recordEvent(event matcher.MatchEvent) {
	a.totalRequests.Add(1)
	if event.Matched {
		a.matched.Add(1)
		a.confidenceSum.Add(int64(event.Confidence))
	} else {
		a.noMatch.Add(1)
	}
	switch event.Operation {
	case "best":
		a.bestRequests.Add(1)
	case "top":
		a.listRequests.Add(1)
	}

	a.mu.Lock()
	a.queryCounts[event.Query]++
	if !event.Matched {
		a.noMatchQueries[event.Query]++
	}
	a.mu.Unlock()
}

// Stats returns a point-in-time summary.
func (a *Aggregator) Stats() AggregatedStats {
	a.mu.RLock()
	defer a.mu.RUnlock()

	stats := AggregatedStats{
		TotalRequests: a.totalRequests.Load(),
		Matched:       a.matched.Load(),
		NoMatch:       a.noMatch.Load(),
		BestRequests:  a.bestRequests.Load(),
		ListRequests:  a.listRequests.Load(),
	}
	if stats.Matched > 0 {
		stats.AvgConfidence = float64(a.confidenceSum.Load()) / float64(stats.Matched)
	}
	stats.TopQueries = topN(a.queryCounts, 10)
	stats.NoMatchQueries = topN(a.noMatchQueries, 10)
	elapsed := time.Since(a.startTime).Minutes()
	if elapsed > 0 {
		stats.QueriesPerMinute = float64(stats.TotalRequests) / elapsed
	}
	return stats
}

func topN(counts map[string]int64, n int) []QueryCount {
	result := make([]QueryCount, 0, len(counts))
	for query, count := range counts {
		result = append(result, QueryCount{Query: query, Count: count})
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Count != result[j].Count {
			return result[i].Count > result[j].Count
		}
		return result[i].Query < result[j].Query
	})
	if len(result) > n {
		result = result[:n]
	}
	return result
}
