// Package filter narrows the corpus to candidates sharing at least one
// significant word with the query, so the expensive similarity metrics only
// run over a small subset of entries.
package filter

import (
	"github.com/medassist-io/codematch/internal/corpus"
	"github.com/medassist-io/codematch/internal/matcher/normalizer"
)

// Query is an incoming description prepared for matching.
type Query struct {
	Raw         string
	Normalized  string
	Significant map[string]struct{}
}

// BuildQuery normalizes raw text and extracts its significant tokens.
func BuildQuery(raw string) Query {
	normalized := normalizer.Normalize(raw)
	return Query{
		Raw:         raw,
		Normalized:  normalized,
		Significant: normalizer.SignificantTokens(normalized),
	}
}

// Empty reports whether the query normalizes to nothing.
func (q Query) Empty() bool {
	return q.Normalized == ""
}

// Candidates returns the snapshot entries sharing at least one significant
// token with the query, preserving snapshot order. A query with no
// significant words matches nothing: short fragments would otherwise pull in
// the whole corpus.
func Candidates(q Query, snap *corpus.Snapshot) []corpus.Entry {
	if snap == nil || len(q.Significant) == 0 {
		return nil
	}
	var out []corpus.Entry
	for _, e := range snap.Entries {
		if overlaps(q.Significant, e.FilterTokens) {
			out = append(out, e)
		}
	}
	return out
}

func overlaps(query map[string]struct{}, tokens []string) bool {
	for _, tok := range tokens {
		if _, ok := query[tok]; ok {
			return true
		}
	}
	return false
}
