package llm

import (
	"encoding/json"
	"regexp"
	"strings"
)

// Tier names the extraction step that recovered a JSON value.
type Tier string

const (
	TierDirect    Tier = "direct"
	TierFenced    Tier = "fenced"
	TierBraceSpan Tier = "brace_span"
)

// ParseResult is the outcome of ExtractJSON. When OK is false, Reason says
// why and Value is nil.
type ParseResult struct {
	OK     bool
	Value  json.RawMessage
	Tier   Tier
	Reason string
}

var fencedBlock = regexp.MustCompile("(?s)```[a-zA-Z]*\\s*\\n?(.*?)```")

// ExtractJSON recovers a JSON value from free-form model output.
//
// Tiers, in order:
//  1. the whole trimmed text parses as JSON
//  2. the body of a fenced code block parses as JSON
//  3. a {...} or [...] span parses as JSON: first the span from the first
//     opening to the last closing delimiter, then the longest balanced span
func ExtractJSON(text string) ParseResult {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return ParseResult{Reason: "empty response"}
	}

	if json.Valid([]byte(trimmed)) {
		return ParseResult{OK: true, Value: json.RawMessage(trimmed), Tier: TierDirect}
	}

	for _, m := range fencedBlock.FindAllStringSubmatch(trimmed, -1) {
		body := strings.TrimSpace(m[1])
		if body != "" && json.Valid([]byte(body)) {
			return ParseResult{OK: true, Value: json.RawMessage(body), Tier: TierFenced}
		}
	}

	if span, ok := braceSpan(trimmed); ok {
		return ParseResult{OK: true, Value: json.RawMessage(span), Tier: TierBraceSpan}
	}

	return ParseResult{Reason: "no valid JSON object found in response"}
}

func braceSpan(s string) (string, bool) {
	for _, pair := range [][2]byte{{'{', '}'}, {'[', ']'}} {
		start := strings.IndexByte(s, pair[0])
		end := strings.LastIndexByte(s, pair[1])
		if start >= 0 && end > start {
			candidate := s[start : end+1]
			if json.Valid([]byte(candidate)) {
				return candidate, true
			}
		}
	}

	best := ""
	for _, span := range balancedSpans(s) {
		if len(span) > len(best) && json.Valid([]byte(span)) {
			best = span
		}
	}
	return best, best != ""
}

// balancedSpans returns every top-level {...} or [...] span whose
// delimiters balance, ignoring delimiters inside JSON strings.
func balancedSpans(s string) []string {
	var (
		spans    []string
		stack    []byte
		start    = -1
		inString bool
		escaped  bool
	)

	for i := 0; i < len(s); i++ {
		ch := s[i]

		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}

		switch ch {
		case '"':
			if len(stack) > 0 {
				inString = true
			}
		case '{', '[':
			if len(stack) == 0 {
				start = i
			}
			stack = append(stack, ch)
		case '}', ']':
			if len(stack) == 0 {
				continue
			}
			open := stack[len(stack)-1]
			if (open == '{' && ch != '}') || (open == '[' && ch != ']') {
				// Mismatched; restart the scan from here.
				stack = stack[:0]
				start = -1
				continue
			}
			stack = stack[:len(stack)-1]
			if len(stack) == 0 && start >= 0 {
				spans = append(spans, s[start:i+1])
				start = -1
			}
		}
	}

	return spans
}
