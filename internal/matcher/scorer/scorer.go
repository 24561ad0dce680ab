// Package scorer implements the string-similarity metrics used to rank corpus
// candidates against a query. All inputs are assumed to be normalized already;
// every function is pure and safe for concurrent use.
//
// The core metric is the token-set ratio: it ignores word order and scores a
// query highly when its words are a subset of the candidate's, which suits
// clinical phrases where order varies ("type 2 diabetes" vs "diabetes type 2")
// and descriptions carry extra qualifiers. Token-sort ratio and partial ratio
// supplement it on the list-ranking path.
package scorer

import (
	"math"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/agnivade/levenshtein"
)

// Reasons reported for the winning metric on the list-ranking path.
const (
	ReasonTokenSet  = "Token set match"
	ReasonTokenSort = "Token sort match"
	ReasonPartial   = "Partial text match"
)

// Ratio returns the Levenshtein similarity of a and b scaled to 0-100:
// 100*(1 - distance/maxLen). Two empty strings are identical by convention.
func Ratio(a, b string) int {
	if a == b {
		return 100
	}
	if a == "" || b == "" {
		return 0
	}
	dist := levenshtein.ComputeDistance(a, b)
	maxLen := utf8.RuneCountInString(a)
	if n := utf8.RuneCountInString(b); n > maxLen {
		maxLen = n
	}
	score := int(math.Round(100 * (1 - float64(dist)/float64(maxLen))))
	return clamp(score)
}

// TokenSortRatio sorts the tokens of both strings alphabetically before
// applying Ratio, making the comparison insensitive to word order.
func TokenSortRatio(a, b string) int {
	return Ratio(sortedJoin(strings.Fields(a)), sortedJoin(strings.Fields(b)))
}

// TokenSetRatio compares the token sets of a and b. It reconstructs three
// strings - the sorted intersection, the intersection plus a's remainder, and
// the intersection plus b's remainder - and returns the best pairwise Ratio
// among them. A query whose words are all contained in the candidate scores
// 100 regardless of extra qualifiers on the candidate.
func TokenSetRatio(a, b string) int {
	setA := tokenSet(a)
	setB := tokenSet(b)
	if len(setA) == 0 && len(setB) == 0 {
		return 100
	}
	if len(setA) == 0 || len(setB) == 0 {
		return 0
	}

	var intersection, onlyA, onlyB []string
	for tok := range setA {
		if _, ok := setB[tok]; ok {
			intersection = append(intersection, tok)
		} else {
			onlyA = append(onlyA, tok)
		}
	}
	for tok := range setB {
		if _, ok := setA[tok]; !ok {
			onlyB = append(onlyB, tok)
		}
	}
	sort.Strings(intersection)
	sort.Strings(onlyA)
	sort.Strings(onlyB)

	base := strings.Join(intersection, " ")
	combinedA := joinNonEmpty(base, strings.Join(onlyA, " "))
	combinedB := joinNonEmpty(base, strings.Join(onlyB, " "))

	best := Ratio(base, combinedA)
	if s := Ratio(base, combinedB); s > best {
		best = s
	}
	if s := Ratio(combinedA, combinedB); s > best {
		best = s
	}
	return best
}

// PartialRatio returns the best Ratio between the shorter string and any
// equal-length rune window of the longer one, catching cases where one string
// is a prefix, suffix, or substring of the other.
func PartialRatio(a, b string) int {
	shorter, longer := []rune(a), []rune(b)
	if len(shorter) > len(longer) {
		shorter, longer = longer, shorter
	}
	if len(shorter) == 0 {
		if len(longer) == 0 {
			return 100
		}
		return 0
	}
	if len(shorter) == len(longer) {
		return Ratio(string(shorter), string(longer))
	}

	s := string(shorter)
	best := 0
	for i := 0; i+len(shorter) <= len(longer); i++ {
		window := string(longer[i : i+len(shorter)])
		if score := Ratio(s, window); score > best {
			best = score
			if best == 100 {
				break
			}
		}
	}
	return best
}

// BestScore returns the maximum of the three metrics for query vs candidate
// along with the reason naming the winning metric. Ties resolve in the fixed
// order token-set, token-sort, partial, keeping ranking deterministic.
func BestScore(query, candidate string) (int, string) {
	score := TokenSetRatio(query, candidate)
	reason := ReasonTokenSet
	if s := TokenSortRatio(query, candidate); s > score {
		score = s
		reason = ReasonTokenSort
	}
	if s := PartialRatio(query, candidate); s > score {
		score = s
		reason = ReasonPartial
	}
	return score, reason
}

func tokenSet(s string) map[string]struct{} {
	fields := strings.Fields(s)
	set := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		set[f] = struct{}{}
	}
	return set
}

func sortedJoin(tokens []string) string {
	sorted := make([]string, len(tokens))
	copy(sorted, tokens)
	sort.Strings(sorted)
	return strings.Join(sorted, " ")
}

func joinNonEmpty(a, b string) string {
	switch {
	case a == "":
		return b
	case b == "":
		return a
	default:
		return a + " " + b
	}
}

func clamp(score int) int {
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}
