// Package generator turns a learning context into candidate audit rules.
//
// Generation tries the text generator twice, first with a focused prompt and
// then with a broader prompt that includes similar historical queries. When
// neither reply yields a usable rule, a deterministic template generator
// takes over, so a learning attempt never comes back empty because the
// model failed.
package generator

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/rulelearn/internal/history"
	"github.com/fyrsmithlabs/rulelearn/internal/llm"
	"github.com/fyrsmithlabs/rulelearn/internal/rules"
)

// DefaultMaxRules caps the rules returned per learning attempt.
const DefaultMaxRules = 3

// Confidence bounds applied to model-produced rules.
const (
	minLLMConfidence     = 0.5
	maxLLMConfidence     = 0.95
	defaultLLMConfidence = 0.7
)

// Stage names an attempt in the generation chain.
type Stage string

const (
	StagePrimary Stage = "generate"
	StageDeep    Stage = "generate_deep"
)

// Failure records why a model attempt produced no rules.
type Failure struct {
	Stage  Stage
	Reason string
}

// Result is the outcome of one Generate call.
type Result struct {
	Rules    []*rules.Candidate
	Source   rules.Source
	Failures []Failure
}

// Generator produces candidate rules.
type Generator struct {
	gen      llm.TextGenerator
	logger   *zap.Logger
	maxRules int
	useLLM   bool
	now      func() time.Time
}

// Option configures a Generator.
type Option func(*Generator)

// WithMaxRules caps the rules returned per call.
func WithMaxRules(n int) Option {
	return func(g *Generator) {
		if n > 0 {
			g.maxRules = n
		}
	}
}

// WithLLM toggles the model attempts. When off, only templates are used.
func WithLLM(enabled bool) Option {
	return func(g *Generator) {
		g.useLLM = enabled
	}
}

// WithClock overrides the time source for rule timestamps.
func WithClock(now func() time.Time) Option {
	return func(g *Generator) {
		if now != nil {
			g.now = now
		}
	}
}

// New creates a generator backed by gen.
func New(gen llm.TextGenerator, logger *zap.Logger, opts ...Option) (*Generator, error) {
	if gen == nil {
		return nil, fmt.Errorf("text generator cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}

	g := &Generator{
		gen:      gen,
		logger:   logger,
		maxRules: DefaultMaxRules,
		useLLM:   true,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// Generate returns up to the configured maximum of candidate rules for lc,
// de-duplicated by (category, type, title). Model failures are reported in
// Result.Failures and never returned as an error.
func (g *Generator) Generate(ctx context.Context, lc history.LearningContext) Result {
	var res Result

	if g.useLLM {
		attempts := []struct {
			stage  Stage
			source rules.Source
			prompt string
		}{
			{StagePrimary, rules.SourceLLM, buildPrompt(lc, g.maxRules)},
			{StageDeep, rules.SourceLLMDeep, buildDeepPrompt(lc, g.maxRules)},
		}

		for _, a := range attempts {
			candidates, reason := g.attempt(ctx, a.prompt, a.source, lc)
			if len(candidates) > 0 {
				res.Rules = candidates
				res.Source = a.source
				g.logger.Info("generated rules",
					zap.String("source", string(a.source)),
					zap.Int("count", len(candidates)),
					zap.String("sql_pattern", lc.SQLPattern))
				return res
			}
			res.Failures = append(res.Failures, Failure{Stage: a.stage, Reason: reason})
			g.logger.Warn("rule generation attempt failed",
				zap.String("stage", string(a.stage)),
				zap.String("reason", reason))
		}
	}

	res.Rules = g.fallbackRules(lc, g.maxRules)
	res.Source = rules.SourceFallback
	g.logger.Info("generated fallback rules",
		zap.Int("count", len(res.Rules)),
		zap.String("sql_pattern", lc.SQLPattern))
	return res
}

func (g *Generator) attempt(ctx context.Context, prompt string, source rules.Source, lc history.LearningContext) ([]*rules.Candidate, string) {
	reply, err := g.gen.Generate(ctx, prompt)
	if err != nil {
		return nil, err.Error()
	}

	parsed := llm.ExtractJSON(reply)
	if !parsed.OK {
		return nil, parsed.Reason
	}

	raw, err := decodeRules(parsed.Value)
	if err != nil {
		return nil, err.Error()
	}

	out := make([]*rules.Candidate, 0, len(raw))
	for _, r := range raw {
		if c := g.toCandidate(r, source, lc); c != nil {
			out = append(out, c)
		}
	}
	if len(out) == 0 {
		return nil, "reply contained no well-formed rules"
	}

	out = dedupeBatch(out)
	if len(out) > g.maxRules {
		out = out[:g.maxRules]
	}
	return out, ""
}

// rawRule is a rule as the model writes it.
type rawRule struct {
	Title       string          `json:"title"`
	Description string          `json:"description"`
	Category    string          `json:"category"`
	Type        string          `json:"type"`
	Severity    string          `json:"severity"`
	Condition   string          `json:"condition"`
	Example     string          `json:"example"`
	Confidence  json.RawMessage `json:"confidence"`
}

// decodeRules accepts {"rules": [...]}, a bare array, or a single rule object.
func decodeRules(value json.RawMessage) ([]rawRule, error) {
	trimmed := strings.TrimSpace(string(value))
	if strings.HasPrefix(trimmed, "[") {
		var list []rawRule
		if err := json.Unmarshal(value, &list); err != nil {
			return nil, fmt.Errorf("decoding rule list: %w", err)
		}
		return list, nil
	}

	var wrapper struct {
		Rules []rawRule `json:"rules"`
	}
	if err := json.Unmarshal(value, &wrapper); err != nil {
		return nil, fmt.Errorf("decoding rules: %w", err)
	}
	if len(wrapper.Rules) > 0 {
		return wrapper.Rules, nil
	}

	var single rawRule
	if err := json.Unmarshal(value, &single); err == nil && single.Title != "" {
		return []rawRule{single}, nil
	}
	return nil, nil
}

func (g *Generator) toCandidate(r rawRule, source rules.Source, lc history.LearningContext) *rules.Candidate {
	title := strings.TrimSpace(r.Title)
	desc := strings.TrimSpace(r.Description)
	category := rules.Category(strings.ToLower(strings.TrimSpace(r.Category)))
	if title == "" || desc == "" || !category.Valid() {
		return nil
	}

	c := rules.NewCandidate(source, g.now())
	c.Title = title
	c.Description = desc
	c.Category = category
	c.Type = strings.TrimSpace(r.Type)
	c.Severity = rules.Severity(strings.ToLower(strings.TrimSpace(r.Severity)))
	c.Condition = strings.TrimSpace(r.Condition)
	c.Example = strings.TrimSpace(r.Example)
	c.Confidence = clamp(parseConfidence(r.Confidence), minLLMConfidence, maxLLMConfidence)
	c.SQLPattern = lc.SQLPattern
	c.DatabaseType = lc.DatabaseType
	return c
}

// parseConfidence reads a number or numeric string. Values above 1 are
// read as percentages. Missing or unreadable values use the default.
func parseConfidence(raw json.RawMessage) float64 {
	if len(raw) == 0 || string(raw) == "null" {
		return defaultLLMConfidence
	}

	var f float64
	if err := json.Unmarshal(raw, &f); err != nil {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return defaultLLMConfidence
		}
		if _, err := fmt.Sscanf(strings.TrimSuffix(strings.TrimSpace(s), "%"), "%g", &f); err != nil {
			return defaultLLMConfidence
		}
	}

	if math.IsNaN(f) || math.IsInf(f, 0) {
		return defaultLLMConfidence
	}
	if f > 1 && f <= 100 {
		f /= 100
	}
	return f
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// dedupeBatch keeps the first rule of each (category, type, title) key.
func dedupeBatch(in []*rules.Candidate) []*rules.Candidate {
	seen := make(map[string]struct{}, len(in))
	out := make([]*rules.Candidate, 0, len(in))
	for _, c := range in {
		key := c.Key()
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, c)
	}
	return out
}
