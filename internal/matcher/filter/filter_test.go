package filter

import (
	"context"
	"testing"

	"github.com/medassist-io/codematch/internal/corpus"
)

type staticLoader []corpus.RawEntry

func (l staticLoader) LoadActive(ctx context.Context) ([]corpus.RawEntry, error) {
	return l, nil
}

func snapshotOf(pairs ...[2]string) *corpus.Snapshot {
	raw := make([]corpus.RawEntry, len(pairs))
	for i, p := range pairs {
		raw[i] = corpus.RawEntry{Code: p[0], Description: p[1]}
	}
	store := corpus.NewStore(staticLoader(raw), 0, nil)
	return store.Snapshot(context.Background())
}

func TestBuildQueryNormalizes(t *testing.T) {
	q := BuildQuery("  Type-2 Diabetes  ")
	if q.Normalized != "type2 diabetes" {
		t.Errorf("unexpected normalized form %q", q.Normalized)
	}
	if _, ok := q.Significant["diabetes"]; !ok {
		t.Error("expected 'diabetes' among significant tokens")
	}
	if _, ok := q.Significant["type2"]; !ok {
		t.Error("expected 'type2' among significant tokens")
	}
}

func TestCandidatesRequireSharedWord(t *testing.T) {
	snap := snapshotOf(
		[2]string{"E11.9", "Type 2 diabetes mellitus without complications"},
		[2]string{"I10", "Essential (primary) hypertension"},
		[2]string{"J45.909", "Unspecified asthma, uncomplicated"},
	)

	got := Candidates(BuildQuery("diabetes type 2"), snap)
	if len(got) != 1 {
		t.Fatalf("expected 1 candidate, got %d", len(got))
	}
	if got[0].Code != "E11.9" {
		t.Errorf("expected E11.9, got %s", got[0].Code)
	}
}

func TestCandidatesSynonymsDoNotMatch(t *testing.T) {
	// Word-overlap filtering is lexical: "high blood pressure" shares no
	// word with "hypertension", so the hypertension entry never reaches
	// scoring. Synonym resolution is out of scope for the filter.
	snap := snapshotOf([2]string{"I10", "Essential (primary) hypertension"})

	if got := Candidates(BuildQuery("high blood pressure"), snap); len(got) != 0 {
		t.Errorf("expected no candidates for synonym query, got %d", len(got))
	}
}

func TestCandidatesShortTokensIgnored(t *testing.T) {
	snap := snapshotOf([2]string{"R07.9", "Chest pain, unspecified"})

	// "of" and "in" are below the significant length and must not match.
	if got := Candidates(BuildQuery("of in"), snap); len(got) != 0 {
		t.Errorf("short-token query should yield no candidates, got %d", len(got))
	}
}

func TestCandidatesEmptyQuery(t *testing.T) {
	snap := snapshotOf([2]string{"I10", "Essential (primary) hypertension"})

	q := BuildQuery("   ")
	if !q.Empty() {
		t.Error("whitespace query should be empty")
	}
	if got := Candidates(q, snap); got != nil {
		t.Errorf("empty query should yield nil candidates, got %v", got)
	}
}

func TestCandidatesNilSnapshot(t *testing.T) {
	if got := Candidates(BuildQuery("diabetes"), nil); got != nil {
		t.Errorf("nil snapshot should yield nil candidates, got %v", got)
	}
}

func TestCandidatesPreserveSnapshotOrder(t *testing.T) {
	snap := snapshotOf(
		[2]string{"A01", "acute viral infection"},
		[2]string{"B02", "chronic viral infection"},
		[2]string{"C03", "viral pneumonia"},
	)

	got := Candidates(BuildQuery("viral"), snap)
	if len(got) != 3 {
		t.Fatalf("expected 3 candidates, got %d", len(got))
	}
	for i, want := range []string{"A01", "B02", "C03"} {
		if got[i].Code != want {
			t.Errorf("position %d: expected %s, got %s", i, want, got[i].Code)
		}
	}
}
