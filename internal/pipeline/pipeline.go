// Package pipeline wires the rule-learning components into one object.
//
// A learning run takes analysis records, turns each into a learning
// context, generates candidate rules, evaluates them, checks them against
// the approved corpus, routes them to approve, manual review or reject,
// and writes them out. After every run one quality sample is fed to the
// threshold adjuster, which may move the threshold used by the next run.
//
// Runs are sequential. A Pipeline must not be shared by concurrent runs.
package pipeline

import (
	"context"
	"fmt"
	"sort"

	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/rulelearn/internal/approval"
	"github.com/fyrsmithlabs/rulelearn/internal/evaluation"
	"github.com/fyrsmithlabs/rulelearn/internal/generator"
	"github.com/fyrsmithlabs/rulelearn/internal/history"
	"github.com/fyrsmithlabs/rulelearn/internal/rules"
	"github.com/fyrsmithlabs/rulelearn/internal/threshold"
)

// StageEvaluate labels evaluator model failures in metrics.
const StageEvaluate = "evaluate"

// Deps are the collaborators of a Pipeline. Meter is optional.
type Deps struct {
	Analyzer  *history.Analyzer
	Generator *generator.Generator
	Evaluator *evaluation.Evaluator
	Approver  *approval.Approver
	Threshold *threshold.Adjuster
	Logger    *zap.Logger
	Meter     metric.Meter
}

// Options tune a Pipeline.
type Options struct {
	// StateFile, when set, receives the adjuster state after every run.
	StateFile string
	// MaxPatterns caps the SQL patterns processed by LearnFromHistory.
	// Zero means no cap.
	MaxPatterns int
}

// Summary reports one learning run. A run with zero approvals is a valid
// outcome.
type Summary struct {
	Records       int `json:"records"`
	Skipped       int `json:"skipped"`
	Generated     int `json:"generated"`
	Evaluated     int `json:"evaluated"`
	Approved      int `json:"approved"`
	ManualReview  int `json:"manualReview"`
	Rejected      int `json:"rejected"`
	Deduplicated  int `json:"deduplicated"`
	WriteFailures int `json:"writeFailures"`

	Threshold  float64 `json:"threshold"`
	Adjustment float64 `json:"adjustment"`
	Reason     string  `json:"reason,omitempty"`

	// Paths lists the rule files written during the run.
	Paths []string `json:"paths,omitempty"`
}

// Pipeline is the rule-learning pipeline.
type Pipeline struct {
	analyzer  *history.Analyzer
	generator *generator.Generator
	evaluator *evaluation.Evaluator
	approver  *approval.Approver
	adjuster  *threshold.Adjuster
	logger    *zap.Logger
	metrics   *metrics
	opts      Options
}

// New validates deps and builds a pipeline.
func New(deps Deps, opts Options) (*Pipeline, error) {
	switch {
	case deps.Analyzer == nil:
		return nil, fmt.Errorf("history analyzer cannot be nil")
	case deps.Generator == nil:
		return nil, fmt.Errorf("rule generator cannot be nil")
	case deps.Evaluator == nil:
		return nil, fmt.Errorf("quality evaluator cannot be nil")
	case deps.Approver == nil:
		return nil, fmt.Errorf("approver cannot be nil")
	case deps.Threshold == nil:
		return nil, fmt.Errorf("threshold adjuster cannot be nil")
	case deps.Logger == nil:
		return nil, fmt.Errorf("logger cannot be nil")
	}
	if opts.MaxPatterns < 0 {
		return nil, fmt.Errorf("max patterns cannot be negative")
	}

	m, err := newMetrics(deps.Meter)
	if err != nil {
		return nil, fmt.Errorf("creating pipeline metrics: %w", err)
	}

	return &Pipeline{
		analyzer:  deps.Analyzer,
		generator: deps.Generator,
		evaluator: deps.Evaluator,
		approver:  deps.Approver,
		adjuster:  deps.Threshold,
		logger:    deps.Logger,
		metrics:   m,
		opts:      opts,
	}, nil
}

// ShouldTriggerLearning reports whether record is worth learning from.
func (p *Pipeline) ShouldTriggerLearning(record history.AnalysisRecord) bool {
	return p.analyzer.ShouldTriggerLearning(record)
}

// Threshold returns the approval threshold in effect.
func (p *Pipeline) Threshold() float64 {
	return p.adjuster.Current()
}

// LearnFromAnalysis runs a single live analysis through the pipeline. A
// record that does not qualify for learning is counted as skipped.
func (p *Pipeline) LearnFromAnalysis(ctx context.Context, record history.AnalysisRecord) (Summary, error) {
	var b batch
	b.summary.Records = 1

	if !p.analyzer.ShouldTriggerLearning(record) {
		b.summary.Skipped = 1
		p.logger.Debug("record does not qualify for learning",
			zap.String("record_id", record.ID))
		return p.finish(ctx, &b), nil
	}

	p.learn(ctx, p.analyzer.BuildContext(ctx, record), &b)
	return p.finish(ctx, &b), nil
}

// LearnFromHistory learns from the quality history. Records are grouped by
// SQL pattern, groups are ordered by the priority of their most pressing
// recurring issue, and one representative record per group is processed.
// Cancelling ctx stops the run between patterns.
func (p *Pipeline) LearnFromHistory(ctx context.Context) (Summary, error) {
	records, err := p.analyzer.GetQualityHistory(ctx, p.analyzer.MinConfidence())
	if err != nil {
		return Summary{Threshold: p.adjuster.Current()}, fmt.Errorf("loading quality history: %w", err)
	}

	var b batch
	b.summary.Records = len(records)

	groups := p.rankGroups(records)
	if p.opts.MaxPatterns > 0 && len(groups) > p.opts.MaxPatterns {
		b.summary.Skipped = len(groups) - p.opts.MaxPatterns
		groups = groups[:p.opts.MaxPatterns]
	}

	p.logger.Info("learning from history",
		zap.Int("records", len(records)),
		zap.Int("patterns", len(groups)))

	for _, g := range groups {
		if err := ctx.Err(); err != nil {
			summary := p.finish(ctx, &b)
			return summary, fmt.Errorf("learning interrupted: %w", err)
		}
		p.learn(ctx, p.analyzer.BuildContext(ctx, g.representative), &b)
	}

	return p.finish(ctx, &b), nil
}

// batch accumulates one run.
type batch struct {
	summary    Summary
	qualitySum float64
	confSum    float64
}

func (p *Pipeline) learn(ctx context.Context, lc history.LearningContext, b *batch) {
	res := p.generator.Generate(ctx, lc)
	for _, f := range res.Failures {
		p.metrics.recordFailure(ctx, string(f.Stage))
	}
	p.metrics.recordGenerated(ctx, string(res.Source), len(res.Rules))
	b.summary.Generated += len(res.Rules)

	evaluated := make([]*rules.Candidate, 0, len(res.Rules))
	for _, c := range res.Rules {
		if err := c.Transition(rules.StateValidated); err != nil {
			p.logger.Error("unexpected rule state", zap.String("rule_title", c.Title), zap.Error(err))
			continue
		}

		ev := p.evaluator.Evaluate(ctx, c, lc)
		if ev.LLMFailed {
			p.metrics.recordFailure(ctx, StageEvaluate)
		}
		c.Evaluation = ev
		if err := c.Transition(rules.StateEvaluated); err != nil {
			p.logger.Error("unexpected rule state", zap.String("rule_title", c.Title), zap.Error(err))
			continue
		}

		evaluated = append(evaluated, c)
		b.qualitySum += float64(ev.CombinedScore)
		b.confSum += c.Confidence
	}
	b.summary.Evaluated += len(evaluated)

	if len(evaluated) == 0 {
		return
	}

	out := p.approver.Process(evaluated, p.adjuster.Current())
	b.summary.Approved += out.Approved
	b.summary.ManualReview += out.ManualReview
	b.summary.Rejected += out.Rejected
	b.summary.Deduplicated += out.Deduplicated
	b.summary.WriteFailures += out.WriteFailures

	for _, r := range out.Routed {
		action := string(r.Decision.Action)
		if r.Deduplicated {
			action = "deduplicated"
		}
		p.metrics.recordDecision(ctx, action)
		if r.Path != "" {
			b.summary.Paths = append(b.summary.Paths, r.Path)
		}
	}
}

const noSampleReason = "no new quality sample; threshold held"

// finish feeds the run to the adjuster and completes the summary.
func (p *Pipeline) finish(ctx context.Context, b *batch) Summary {
	s := b.summary

	recorded := false
	if s.Evaluated > 0 {
		n := float64(s.Evaluated)
		_, recorded = p.adjuster.RecordQualityData(s.Evaluated, s.Approved, b.qualitySum/n, b.confSum/n)
	}

	// The window only moves the threshold once per new sample.
	if recorded {
		rec := p.adjuster.Adjust()
		s.Adjustment = rec.Adjustment
		s.Reason = rec.Reason
	} else {
		s.Reason = noSampleReason
	}
	s.Threshold = p.adjuster.Current()
	p.metrics.recordThreshold(ctx, s.Threshold)

	if p.opts.StateFile != "" {
		if err := p.adjuster.Save(p.opts.StateFile); err != nil {
			p.logger.Warn("failed to save threshold state",
				zap.String("path", p.opts.StateFile),
				zap.Error(err))
		}
	}

	p.logger.Info("learning run complete",
		zap.Int("generated", s.Generated),
		zap.Int("evaluated", s.Evaluated),
		zap.Int("approved", s.Approved),
		zap.Int("manual_review", s.ManualReview),
		zap.Int("rejected", s.Rejected),
		zap.Int("deduplicated", s.Deduplicated),
		zap.Int("write_failures", s.WriteFailures),
		zap.Float64("threshold", s.Threshold))
	return s
}

type group struct {
	pattern        string
	priority       int
	size           int
	representative history.AnalysisRecord
}

// rankGroups orders SQL-pattern groups by their best recurring issue
// priority, then by size, then by pattern for a stable order.
func (p *Pipeline) rankGroups(records []history.AnalysisRecord) []group {
	byPattern := history.GroupBySQLPattern(records)
	minFreq := p.analyzer.MinFrequency()

	out := make([]group, 0, len(byPattern))
	for pattern, recs := range byPattern {
		g := group{pattern: pattern, size: len(recs), representative: pickRepresentative(recs)}
		if fps := history.IdentifyHighFrequencyPatterns(recs, minFreq); len(fps) > 0 {
			g.priority = fps[0].Priority
		}
		out = append(out, g)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].priority != out[j].priority {
			return out[i].priority > out[j].priority
		}
		if out[i].size != out[j].size {
			return out[i].size > out[j].size
		}
		return out[i].pattern < out[j].pattern
	})
	return out
}

// pickRepresentative returns the record with the most issues, then the
// highest confidence, then the newest.
func pickRepresentative(recs []history.AnalysisRecord) history.AnalysisRecord {
	best := recs[0]
	for _, r := range recs[1:] {
		switch {
		case r.IssueCount() != best.IssueCount():
			if r.IssueCount() > best.IssueCount() {
				best = r
			}
		case r.AverageConfidence() != best.AverageConfidence():
			if r.AverageConfidence() > best.AverageConfidence() {
				best = r
			}
		case r.Timestamp.After(best.Timestamp):
			best = r
		}
	}
	return best
}
