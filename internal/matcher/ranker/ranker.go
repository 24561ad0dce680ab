// Package ranker scores filtered candidates against a query in parallel and
// returns them in deterministic order.
package ranker

import (
	"context"
	"log/slog"
	"runtime"
	"sort"

	"github.com/medassist-io/codematch/internal/corpus"
	"github.com/medassist-io/codematch/internal/matcher/scorer"
	"golang.org/x/sync/errgroup"
)

// Candidate is one scored corpus entry.
type Candidate struct {
	Code        string `json:"code"`
	Description string `json:"description"`
	Score       int    `json:"score"`
	Reason      string `json:"reason"`
}

// Options controls scoring and ordering.
type Options struct {
	// MinScore drops candidates scoring below it.
	MinScore int
	// Limit caps the result length; zero means unlimited.
	Limit int
	// Workers bounds scoring concurrency; zero means GOMAXPROCS.
	Workers int
	// BestOnly restricts scoring to the token-set ratio, which is the
	// single metric used on the best-match path.
	BestOnly bool
}

// Ranker scores candidates concurrently. The zero value is not usable; use
// New.
type Ranker struct {
	logger *slog.Logger
	// score is swappable in tests to exercise failure isolation.
	score func(query string, e corpus.Entry, bestOnly bool) (int, string)
}

// New returns a Ranker using the production scoring metrics.
func New() *Ranker {
	return &Ranker{
		logger: slog.Default().With("component", "ranker"),
		score:  scoreEntry,
	}
}

func scoreEntry(query string, e corpus.Entry, bestOnly bool) (int, string) {
	if bestOnly {
		return scorer.TokenSetRatio(query, e.Normalized), scorer.ReasonTokenSet
	}
	return scorer.BestScore(query, e.Normalized)
}

// Rank scores every entry against the normalized query, drops entries below
// MinScore, and sorts the rest by score descending with code ascending as the
// tie-break. A panic while scoring one entry drops that entry only.
func (r *Ranker) Rank(ctx context.Context, query string, entries []corpus.Entry, opts Options) []Candidate {
	if len(entries) == 0 {
		return nil
	}

	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	// One slot per entry: no shared accumulator, no locking.
	slots := make([]*Candidate, len(entries))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, e := range entries {
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			c, ok := r.scoreOne(query, e, opts)
			if ok {
				slots[i] = &c
			}
			return nil
		})
	}
	// Workers never return errors; Wait only synchronises the fan-in.
	_ = g.Wait()

	out := make([]Candidate, 0, len(entries))
	for _, c := range slots {
		if c != nil {
			out = append(out, *c)
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Code < out[j].Code
	})

	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out
}

func (r *Ranker) scoreOne(query string, e corpus.Entry, opts Options) (c Candidate, ok bool) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Warn("scoring panicked, dropping candidate",
				"code", e.Code, "panic", rec)
			ok = false
		}
	}()

	score, reason := r.score(query, e, opts.BestOnly)
	if score < opts.MinScore {
		return Candidate{}, false
	}
	return Candidate{
		Code:        e.Code,
		Description: e.Description,
		Score:       score,
		Reason:      reason,
	}, true
}
