// Package evaluation scores candidate rules.
//
// A score combines deterministic basic validation with a rubric grade from
// the text generator: combined = round(0.3*basic + 0.7*llm). When the
// model cannot be reached or its reply cannot be parsed, a neutral grade of
// 50 stands in so that the combined score is always defined.
package evaluation

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"math"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/rulelearn/internal/history"
	"github.com/fyrsmithlabs/rulelearn/internal/llm"
	"github.com/fyrsmithlabs/rulelearn/internal/rules"
	"github.com/fyrsmithlabs/rulelearn/internal/validation"
)

// Score weights and cut-offs.
const (
	BasicWeight = 0.3
	LLMWeight   = 0.7

	NeutralLLMScore = 50
	KeepScore       = 60
	MaxBasicIssues  = 3

	excellentScore = 85
	goodScore      = 70
	fairScore      = 50

	cacheDescriptionPrefix = 50
)

// Evaluator grades candidates and caches results for the life of the process.
type Evaluator struct {
	gen    llm.TextGenerator
	logger *zap.Logger

	mu    sync.Mutex
	cache map[string]rules.Evaluation
}

// New creates an evaluator backed by gen.
func New(gen llm.TextGenerator, logger *zap.Logger) (*Evaluator, error) {
	if gen == nil {
		return nil, fmt.Errorf("text generator cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}
	return &Evaluator{
		gen:    gen,
		logger: logger,
		cache:  make(map[string]rules.Evaluation),
	}, nil
}

// CacheKey identifies candidates that would receive the same grade.
func CacheKey(c *rules.Candidate) string {
	desc := []rune(strings.TrimSpace(c.Description))
	if len(desc) > cacheDescriptionPrefix {
		desc = desc[:cacheDescriptionPrefix]
	}
	return strings.Join([]string{
		strings.TrimSpace(c.Title),
		strings.TrimSpace(c.Type),
		string(c.Category),
		string(desc),
	}, "|")
}

// Evaluate grades c and returns the evaluation. It never fails: model
// errors degrade to the neutral grade and are flagged with LLMFailed.
func (e *Evaluator) Evaluate(ctx context.Context, c *rules.Candidate, lc history.LearningContext) *rules.Evaluation {
	key := CacheKey(c)

	e.mu.Lock()
	if cached, ok := e.cache[key]; ok {
		e.mu.Unlock()
		e.logger.Debug("evaluation cache hit", zap.String("rule_title", c.Title))
		return cloneEvaluation(cached)
	}
	e.mu.Unlock()

	ev := e.evaluate(ctx, c, lc)

	e.mu.Lock()
	e.cache[key] = *cloneEvaluation(*ev)
	e.mu.Unlock()

	return ev
}

// ClearCache drops every cached evaluation.
func (e *Evaluator) ClearCache() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cache = make(map[string]rules.Evaluation)
}

func (e *Evaluator) evaluate(ctx context.Context, c *rules.Candidate, lc history.LearningContext) *rules.Evaluation {
	basic := validation.Basic(c)

	ev := &rules.Evaluation{
		BasicScore:  basic.Score,
		BasicIssues: basic.Issues,
	}

	if !basic.Passed {
		ev.CombinedScore = Combine(basic.Score, 0)
		ev.QualityLevel = rules.QualityPoor
		ev.ShouldKeep = false
		e.logger.Info("rule failed basic validation",
			zap.String("rule_title", c.Title),
			zap.Int("basic_score", basic.Score),
			zap.Strings("issues", basic.Issues))
		return ev
	}

	grade, err := e.grade(ctx, c, lc)
	if err != nil {
		e.logger.Warn("llm evaluation failed, using neutral score",
			zap.String("rule_title", c.Title),
			zap.Error(err))
		grade = rubricGrade{Score: NeutralLLMScore, QualityLevel: string(rules.QualityFair)}
		ev.LLMFailed = true
	}

	ev.LLMScore = clampScore(grade.Score)
	ev.DimensionScores = grade.DimensionScores
	ev.Strengths = grade.Strengths
	ev.Issues = grade.Issues
	ev.LLMShouldKeep = grade.ShouldKeep

	ev.CombinedScore = Combine(ev.BasicScore, ev.LLMScore)
	ev.QualityLevel = Level(ev.CombinedScore)
	ev.ShouldKeep = ShouldKeep(ev.CombinedScore, ev.LLMShouldKeep, len(ev.BasicIssues))

	e.logger.Debug("rule evaluated",
		zap.String("rule_title", c.Title),
		zap.Int("basic_score", ev.BasicScore),
		zap.Int("llm_score", ev.LLMScore),
		zap.Int("combined_score", ev.CombinedScore),
		zap.String("quality_level", string(ev.QualityLevel)),
		zap.Bool("should_keep", ev.ShouldKeep))
	return ev
}

// Combine returns round(0.3*basic + 0.7*llm) clamped to [0,100].
func Combine(basic, llmScore int) int {
	v := math.Round(float64(clampScore(float64(basic)))*BasicWeight + float64(clampScore(float64(llmScore)))*LLMWeight)
	return clampScore(v)
}

// Level buckets a combined score.
func Level(score int) rules.QualityLevel {
	switch {
	case score >= excellentScore:
		return rules.QualityExcellent
	case score >= goodScore:
		return rules.QualityGood
	case score >= fairScore:
		return rules.QualityFair
	default:
		return rules.QualityPoor
	}
}

// ShouldKeep reports whether a rule is worth keeping. An explicit negative
// verdict from the model overrides a passing score.
func ShouldKeep(combined int, llmShouldKeep *bool, basicIssues int) bool {
	if llmShouldKeep != nil && !*llmShouldKeep {
		return false
	}
	return combined >= KeepScore && basicIssues < MaxBasicIssues
}

// rubricGrade is the JSON object the rubric prompt asks for.
type rubricGrade struct {
	Score           float64            `json:"score"`
	QualityLevel    string             `json:"qualityLevel"`
	ShouldKeep      *bool              `json:"shouldKeep"`
	DimensionScores map[string]float64 `json:"dimensionScores"`
	Strengths       []string           `json:"strengths"`
	Issues          []string           `json:"issues"`
}

func (e *Evaluator) grade(ctx context.Context, c *rules.Candidate, lc history.LearningContext) (rubricGrade, error) {
	reply, err := e.gen.Generate(ctx, buildRubricPrompt(c, lc))
	if err != nil {
		return rubricGrade{}, err
	}

	parsed := llm.ExtractJSON(reply)
	if !parsed.OK {
		return rubricGrade{}, fmt.Errorf("parsing evaluation reply: %s", parsed.Reason)
	}

	var g rubricGrade
	if err := json.Unmarshal(parsed.Value, &g); err != nil {
		return rubricGrade{}, fmt.Errorf("decoding evaluation reply: %w", err)
	}
	if g.fractional() {
		g.Score *= 100
		for k, v := range g.DimensionScores {
			g.DimensionScores[k] = v * 100
		}
	}
	return g, nil
}

// fractional reports whether the reply graded on [0,1] instead of 0-100.
// A score in (0,1] alone is not enough: a poor 1/100 beside 0-100
// dimension scores stays as it is.
func (g rubricGrade) fractional() bool {
	if !(g.Score > 0 && g.Score <= 1) {
		return false
	}
	for _, v := range g.DimensionScores {
		if !(v >= 0 && v <= 1) {
			return false
		}
	}
	return true
}

func clampScore(v float64) int {
	switch {
	case math.IsNaN(v) || v < 0:
		return 0
	case v > 100:
		return 100
	}
	return int(math.Round(v))
}

func cloneEvaluation(ev rules.Evaluation) *rules.Evaluation {
	out := ev
	if ev.BasicIssues != nil {
		out.BasicIssues = append([]string(nil), ev.BasicIssues...)
	}
	if ev.Strengths != nil {
		out.Strengths = append([]string(nil), ev.Strengths...)
	}
	if ev.Issues != nil {
		out.Issues = append([]string(nil), ev.Issues...)
	}
	out.DimensionScores = maps.Clone(ev.DimensionScores)
	if ev.LLMShouldKeep != nil {
		keep := *ev.LLMShouldKeep
		out.LLMShouldKeep = &keep
	}
	return &out
}
