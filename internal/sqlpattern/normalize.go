// Package sqlpattern canonicalizes SQL text into structural keys.
//
// Two statements that differ only in literal values produce the same key,
// which lets historical analyses be grouped by query shape:
//
//	SELECT * FROM users WHERE id = 1        -> select * from users where id = {id}
//	SELECT * FROM users WHERE id = 42       -> select * from users where id = {id}
//	SELECT name FROM t WHERE tag IN ('a','b') -> select name from t where tag in ({list})
//
// Normalize is total: it never fails and always returns a best-effort key,
// even for input that is not valid SQL.
package sqlpattern

import (
	"regexp"
	"strings"
)

// Placeholders substituted for literal values.
const (
	PlaceholderID     = "{id}"
	PlaceholderValue  = "{value}"
	PlaceholderNumber = "{number}"
	PlaceholderList   = "{list}"
)

var (
	singleQuoted = regexp.MustCompile(`'(?:[^'\\]|\\.|'')*'`)
	doubleQuoted = regexp.MustCompile(`"(?:[^"\\]|\\.)*"`)
	decimalLit   = regexp.MustCompile(`\b\d+\.\d+\b`)
	integerLit   = regexp.MustCompile(`\b\d+\b`)

	placeholderRun = regexp.MustCompile(`\{(?:id|value|number|list)\}(?:, \{(?:id|value|number|list)\})+`)

	// space matches what unicode.IsSpace accepts, so the regexps agree
	// with strings.TrimSpace on non-ASCII blanks such as U+00A0.
	whitespace   = regexp.MustCompile(space + `+`)
	commaSpacing = regexp.MustCompile(space + `*,` + space + `*`)
	openParen    = regexp.MustCompile(`\(` + space + `+`)
	closeParen   = regexp.MustCompile(space + `+\)`)
	trailingSemi = regexp.MustCompile(`(?:;|` + space + `)+$`)
)

const space = `[\s\x0B\x{85}\p{Z}]`

// Normalize returns the structural key for sql.
//
// Literals are replaced first (strings, then decimals, then integers) so that
// digits inside quoted strings never leak into the key. Whitespace is then
// collapsed and spacing around commas and parentheses is made uniform.
// The key is lower-case. Normalize(Normalize(s)) == Normalize(s).
func Normalize(sql string) string {
	s := strings.ToLower(strings.TrimSpace(sql))
	if s == "" {
		return ""
	}

	s = singleQuoted.ReplaceAllString(s, PlaceholderValue)
	s = doubleQuoted.ReplaceAllString(s, PlaceholderValue)
	s = decimalLit.ReplaceAllString(s, PlaceholderNumber)
	s = integerLit.ReplaceAllString(s, PlaceholderID)

	s = whitespace.ReplaceAllString(s, " ")
	s = commaSpacing.ReplaceAllString(s, ", ")
	s = openParen.ReplaceAllString(s, "(")
	s = closeParen.ReplaceAllString(s, ")")
	s = trailingSemi.ReplaceAllString(s, "")

	s = placeholderRun.ReplaceAllString(s, PlaceholderList)

	return strings.TrimSpace(s)
}

// SameShape reports whether two statements normalize to the same key.
func SameShape(a, b string) bool {
	return Normalize(a) == Normalize(b)
}
