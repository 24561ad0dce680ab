// Package normalizer provides the deterministic text-cleaning function applied
// to every corpus description at load time and to every incoming query at
// match time. The two sides must go through the same function; any divergence
// breaks scoring consistency.
package normalizer

import "strings"

// MinSignificantLength is the minimum token length considered by the
// candidate pre-filter.
const MinSignificantLength = 3

// shorthand collapses common clinical spelling variants into one canonical
// token. Longer patterns come first: once lowercased, "type i" is a prefix of
// "type ii" and would clobber it.
var shorthand = []struct {
	pattern     string
	replacement string
}{
	{"type ii", "type2"},
	{"type 2", "type2"},
	{"type i", "type1"},
	{"type 1", "type1"},
}

var separators = strings.NewReplacer("-", " ", "_", " ")

// Normalize lowercases text, replaces hyphens and underscores with spaces,
// collapses whitespace runs, and canonicalises clinical shorthand. Empty
// input normalizes to the empty string. Normalize is pure and idempotent.
func Normalize(text string) string {
	if text == "" {
		return ""
	}
	s := strings.ToLower(text)
	s = separators.Replace(s)
	s = strings.Join(strings.Fields(s), " ")
	for _, r := range shorthand {
		s = strings.ReplaceAll(s, r.pattern, r.replacement)
	}
	return s
}

// Tokenize returns the whitespace-separated tokens of the normalized form of
// text.
func Tokenize(text string) []string {
	return strings.Fields(Normalize(text))
}

// SignificantTokens returns the set of normalized tokens of length >=
// MinSignificantLength. Only the pre-filter consumes this set; scoring uses
// the full normalized text.
func SignificantTokens(text string) map[string]struct{} {
	tokens := Tokenize(text)
	set := make(map[string]struct{}, len(tokens))
	for _, tok := range tokens {
		if len(tok) >= MinSignificantLength {
			set[tok] = struct{}{}
		}
	}
	return set
}
