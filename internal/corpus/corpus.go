// Package corpus holds the reference vocabulary in memory. A Store builds an
// immutable Snapshot from an injected Loader, caches it for a configurable
// TTL, collapses concurrent cache misses into a single load, and swaps
// snapshots atomically so readers never observe a partially built corpus.
package corpus

import (
	"time"

	"github.com/medassist-io/codematch/internal/matcher/normalizer"
)

// RawEntry is a (code, description) pair as read from the reference table.
type RawEntry struct {
	Code        string
	Description string
}

// Entry is one reference vocabulary row, normalized once at load time.
// Entries are immutable after construction.
type Entry struct {
	Code        string
	Description string
	Normalized  string
	// FilterTokens are the normalized description tokens of significant
	// length, precomputed for the candidate pre-filter.
	FilterTokens []string
}

// Snapshot is one immutable build of the corpus. Unavailable marks a snapshot
// produced after a failed load; it carries no entries and is retried sooner
// than the regular TTL.
type Snapshot struct {
	Entries     []Entry
	LoadedAt    time.Time
	Unavailable bool
}

// Size returns the number of entries in the snapshot.
func (s *Snapshot) Size() int {
	if s == nil {
		return 0
	}
	return len(s.Entries)
}

func buildEntries(raw []RawEntry) []Entry {
	entries := make([]Entry, 0, len(raw))
	for _, r := range raw {
		normalized := normalizer.Normalize(r.Description)
		if normalized == "" {
			continue
		}
		tokens := make([]string, 0, 4)
		for tok := range normalizer.SignificantTokens(normalized) {
			tokens = append(tokens, tok)
		}
		entries = append(entries, Entry{
			Code:         r.Code,
			Description:  r.Description,
			Normalized:   normalized,
			FilterTokens: tokens,
		})
	}
	return entries
}
