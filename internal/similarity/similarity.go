// Package similarity scores how alike two pieces of text are.
//
// Two scorers are provided. Keyword compares keyword sets and is used for
// loose matching of SQL text and issue descriptions. Levenshtein is a
// normalized edit-distance score used for rule titles and descriptions.
// Both are pure, symmetric and bounded in [0, 1].
package similarity

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	// ContainmentScore is returned when one text contains the other.
	ContainmentScore = 0.8

	// MaxKeywords caps the number of keywords considered per side.
	MaxKeywords = 10
)

var stopWords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "as": {}, "at": {}, "be": {},
	"by": {}, "for": {}, "from": {}, "has": {}, "in": {}, "is": {}, "it": {},
	"of": {}, "on": {}, "or": {}, "that": {}, "the": {}, "this": {}, "to": {},
	"was": {}, "were": {}, "will": {}, "with": {}, "should": {}, "can": {},
	"not": {}, "no": {}, "do": {}, "does": {}, "use": {}, "using": {},
	"的": {}, "了": {}, "和": {}, "是": {}, "在": {}, "与": {}, "或": {},
}

// Keyword returns the keyword similarity of a and b.
//
//   - identical text (case-insensitive) scores 1.0
//   - containment in either direction scores ContainmentScore
//   - otherwise the Jaccard index of the keyword sets
//
// Empty input on either side scores 0.
func Keyword(a, b string) float64 {
	a = strings.ToLower(strings.TrimSpace(a))
	b = strings.ToLower(strings.TrimSpace(b))

	if a == "" || b == "" {
		return 0.0
	}
	if a == b {
		return 1.0
	}
	if strings.Contains(a, b) || strings.Contains(b, a) {
		return ContainmentScore
	}

	ka := Keywords(a)
	kb := Keywords(b)
	return jaccard(ka, kb)
}

// Keywords extracts up to MaxKeywords distinct keywords from text.
//
// Text is split on anything that is not a letter or digit. Stop-words and
// single-rune tokens are dropped. Order of first appearance is preserved.
func Keywords(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_'
	})

	seen := make(map[string]struct{}, len(fields))
	keywords := make([]string, 0, MaxKeywords)
	for _, f := range fields {
		if utf8.RuneCountInString(f) <= 1 {
			continue
		}
		if _, stop := stopWords[f]; stop {
			continue
		}
		if _, dup := seen[f]; dup {
			continue
		}
		seen[f] = struct{}{}
		keywords = append(keywords, f)
		if len(keywords) == MaxKeywords {
			break
		}
	}
	return keywords
}

func jaccard(a, b []string) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0.0
	}

	set := make(map[string]struct{}, len(a))
	for _, k := range a {
		set[k] = struct{}{}
	}

	union := make(map[string]struct{}, len(a)+len(b))
	for _, k := range a {
		union[k] = struct{}{}
	}

	intersection := 0
	for _, k := range b {
		if _, ok := set[k]; ok {
			intersection++
		}
		union[k] = struct{}{}
	}

	if len(union) == 0 {
		return 0.0
	}
	return float64(intersection) / float64(len(union))
}

// Levenshtein returns 1 - distance/max(len(a), len(b)) over runes,
// compared case-insensitively. Two empty strings score 0.
func Levenshtein(a, b string) float64 {
	ra := []rune(strings.ToLower(strings.TrimSpace(a)))
	rb := []rune(strings.ToLower(strings.TrimSpace(b)))

	if len(ra) == 0 && len(rb) == 0 {
		return 0.0
	}
	if string(ra) == string(rb) {
		return 1.0
	}

	distance := EditDistance(ra, rb)
	maxLen := max(len(ra), len(rb))
	return 1.0 - float64(distance)/float64(maxLen)
}

// EditDistance computes the Levenshtein distance between two rune slices.
func EditDistance(a, b []rune) int {
	if len(a) == 0 {
		return len(b)
	}
	if len(b) == 0 {
		return len(a)
	}

	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}

	for i := 1; i <= len(a); i++ {
		curr[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			curr[j] = min(
				prev[j]+1,      // deletion
				curr[j-1]+1,    // insertion
				prev[j-1]+cost, // substitution
			)
		}
		prev, curr = curr, prev
	}

	return prev[len(b)]
}
