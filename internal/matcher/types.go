// Package matcher is the core matching service: it takes free-text clinical
// descriptions and maps them to canonical reference codes using the corpus
// store, the candidate pre-filter, the parallel ranker, and the result cache.
package matcher

import (
	"context"
	"time"

	"github.com/medassist-io/codematch/internal/matcher/ranker"
)

// Match type labels for the single-best path, keyed to confidence tiers.
const (
	MatchTypeExcellent = "Excellent Match"
	MatchTypeVeryGood  = "Very Good Match"
	MatchTypeGood      = "Good Match"
	MatchTypeModerate  = "Moderate Match"
	MatchTypeLow       = "Low Match"
	MatchTypeNone      = "No Match"
)

// ReasonHighSimilarity replaces the metric-specific reason on the list path
// when a candidate meets the high-confidence threshold.
const ReasonHighSimilarity = "High similarity match"

// No-match messages. Each no-match result names its cause so the caller can
// react appropriately (prompt manual selection vs offer a retry).
const (
	MsgInvalidQuery      = "Query text is empty"
	MsgCorpusUnavailable = "Reference data is temporarily unavailable, try again later"
	MsgNoCandidates      = "No reference descriptions share a word with the query"
	MsgBelowThreshold    = "Best candidate scored below the match threshold"
)

// Suggestion is the single-best-match response.
type Suggestion struct {
	Success     bool   `json:"success"`
	Code        string `json:"code,omitempty"`
	Description string `json:"description,omitempty"`
	Confidence  int    `json:"confidence"`
	MatchType   string `json:"match_type"`
	Message     string `json:"message"`
}

// BulkItem is one entry of a bulk match request.
type BulkItem struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// BulkResult is the per-item output of a bulk match. A failed or cancelled
// item keeps its place in the output with empty Suggestions.
type BulkResult struct {
	ID          string             `json:"id"`
	Suggestions []ranker.Candidate `json:"suggestions"`
}

// MatchEvent describes one completed match operation, emitted to the
// analytics pipeline.
type MatchEvent struct {
	Operation  string    `json:"operation"`
	Query      string    `json:"query"`
	Code       string    `json:"code,omitempty"`
	Confidence int       `json:"confidence"`
	Matched    bool      `json:"matched"`
	Timestamp  time.Time `json:"timestamp"`
}

// EventSink receives match events for asynchronous analytics. Implementations
// must not block the request path.
type EventSink interface {
	RecordMatch(ctx context.Context, e MatchEvent)
}

// matchTypeFor maps a confidence score to its tier label.
func matchTypeFor(confidence int) string {
	switch {
	case confidence >= 90:
		return MatchTypeExcellent
	case confidence >= 80:
		return MatchTypeVeryGood
	case confidence >= 70:
		return MatchTypeGood
	case confidence >= 60:
		return MatchTypeModerate
	default:
		return MatchTypeLow
	}
}

// recommendationFor maps a confidence score to the human-readable
// recommendation paired with its tier.
func recommendationFor(confidence int) string {
	switch {
	case confidence >= 90:
		return "Safe to approve automatically"
	case confidence >= 80:
		return "Recommend approval"
	case confidence >= 70:
		return "Review before approval"
	case confidence >= 60:
		return "Manual verification recommended"
	default:
		return "Manual review required"
	}
}
