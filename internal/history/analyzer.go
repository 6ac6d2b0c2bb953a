package history

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/rulelearn/internal/sqlpattern"
)

// Default analyzer settings.
const (
	DefaultMinConfidence  = 0.7
	DefaultMinFrequency   = 3
	DefaultSimilarRecords = 5
)

var categoryWeights = map[Dimension]int{
	DimensionSecurity:    3,
	DimensionPerformance: 2,
	DimensionStandards:   1,
}

var severityWeights = map[string]int{
	"critical": 5,
	"high":     4,
	"medium":   3,
	"low":      2,
	"info":     1,
}

// Priority scores a recurring issue signature.
//
// priority = categoryWeight x severityWeight x frequency. Unknown severities
// weigh the same as info.
func Priority(category Dimension, severity string, frequency int) int {
	sw, ok := severityWeights[strings.ToLower(severity)]
	if !ok {
		sw = 1
	}
	return categoryWeights[category] * sw * frequency
}

// Analyzer filters and groups history into learnable patterns.
type Analyzer struct {
	store  Store
	logger *zap.Logger

	enabled       bool
	minConfidence float64
	minFrequency  int
	similarLimit  int
	now           func() time.Time
}

// AnalyzerOption configures an Analyzer.
type AnalyzerOption func(*Analyzer)

// WithLearningEnabled toggles ShouldTriggerLearning globally.
func WithLearningEnabled(enabled bool) AnalyzerOption {
	return func(a *Analyzer) {
		a.enabled = enabled
	}
}

// WithMinConfidence sets the confidence floor for learnable records.
func WithMinConfidence(c float64) AnalyzerOption {
	return func(a *Analyzer) {
		a.minConfidence = c
	}
}

// WithMinFrequency sets the default recurrence floor for frequent patterns.
func WithMinFrequency(n int) AnalyzerOption {
	return func(a *Analyzer) {
		if n > 0 {
			a.minFrequency = n
		}
	}
}

// WithSimilarRecords sets how many similar records BuildContext attaches.
func WithSimilarRecords(n int) AnalyzerOption {
	return func(a *Analyzer) {
		if n >= 0 {
			a.similarLimit = n
		}
	}
}

// WithClock overrides the time source used for context timestamps.
func WithClock(now func() time.Time) AnalyzerOption {
	return func(a *Analyzer) {
		if now != nil {
			a.now = now
		}
	}
}

// NewAnalyzer creates an analyzer over store.
func NewAnalyzer(store Store, logger *zap.Logger, opts ...AnalyzerOption) (*Analyzer, error) {
	if store == nil {
		return nil, fmt.Errorf("history store cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}

	a := &Analyzer{
		store:         store,
		logger:        logger,
		enabled:       true,
		minConfidence: DefaultMinConfidence,
		minFrequency:  DefaultMinFrequency,
		similarLimit:  DefaultSimilarRecords,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}

	return a, nil
}

// MinConfidence returns the configured confidence floor.
func (a *Analyzer) MinConfidence() float64 {
	return a.minConfidence
}

// MinFrequency returns the configured recurrence floor.
func (a *Analyzer) MinFrequency() int {
	return a.minFrequency
}

// GetQualityHistory returns stored records that are worth learning from.
func (a *Analyzer) GetQualityHistory(ctx context.Context, minConfidence float64) ([]AnalysisRecord, error) {
	all, err := a.store.GetAllHistory(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading history: %w", err)
	}

	quality := FilterQuality(all, minConfidence)

	a.logger.Debug("filtered quality history",
		zap.Int("total", len(all)),
		zap.Int("quality", len(quality)),
		zap.Float64("min_confidence", minConfidence))

	return quality, nil
}

// FilterQuality keeps records that succeeded, have non-empty SQL, report at
// least one issue and whose average confidence is at least minConfidence.
func FilterQuality(records []AnalysisRecord, minConfidence float64) []AnalysisRecord {
	out := make([]AnalysisRecord, 0, len(records))
	for i := range records {
		if isLearnable(&records[i], minConfidence) {
			out = append(out, records[i])
		}
	}
	return out
}

func isLearnable(r *AnalysisRecord, minConfidence float64) bool {
	if !r.Succeeded() {
		return false
	}
	if strings.TrimSpace(r.SQL) == "" {
		return false
	}
	if r.IssueCount() == 0 {
		return false
	}
	avg := r.AverageConfidence()
	return avg > 0 && avg >= minConfidence
}

// GroupBySQLPattern maps each normalized SQL key to the records sharing it.
// Records keep their input order within a group.
func GroupBySQLPattern(records []AnalysisRecord) map[string][]AnalysisRecord {
	groups := make(map[string][]AnalysisRecord)
	for _, r := range records {
		key := sqlpattern.Normalize(r.SQL)
		groups[key] = append(groups[key], r)
	}
	return groups
}

// IdentifyHighFrequencyPatterns returns issue signatures that occur at least
// minFrequency times, highest priority first. A non-positive minFrequency
// uses DefaultMinFrequency.
func IdentifyHighFrequencyPatterns(records []AnalysisRecord, minFrequency int) []FrequentPattern {
	if minFrequency <= 0 {
		minFrequency = DefaultMinFrequency
	}

	type signature struct {
		category Dimension
		typ      string
		severity string
	}

	counts := make(map[signature]*FrequentPattern)
	var order []signature

	for i := range records {
		for _, d := range Dimensions {
			for _, issue := range records[i].IssuesFor(d) {
				typ := strings.TrimSpace(issue.Type)
				if typ == "" {
					continue
				}
				sig := signature{category: d, typ: typ, severity: strings.ToLower(strings.TrimSpace(issue.Severity))}
				p, ok := counts[sig]
				if !ok {
					p = &FrequentPattern{Category: d, Type: sig.typ, Severity: sig.severity}
					counts[sig] = p
					order = append(order, sig)
				}
				p.Frequency++
				if issue.Description != "" {
					p.Examples = append(p.Examples, issue.Description)
				}
			}
		}
	}

	patterns := make([]FrequentPattern, 0, len(order))
	for _, sig := range order {
		p := counts[sig]
		if p.Frequency < minFrequency {
			continue
		}
		p.Priority = Priority(p.Category, p.Severity, p.Frequency)
		patterns = append(patterns, *p)
	}

	sort.SliceStable(patterns, func(i, j int) bool {
		if patterns[i].Priority != patterns[j].Priority {
			return patterns[i].Priority > patterns[j].Priority
		}
		return patterns[i].Frequency > patterns[j].Frequency
	})

	return patterns
}

// ShouldTriggerLearning reports whether a single live analysis is worth
// learning from.
func (a *Analyzer) ShouldTriggerLearning(record AnalysisRecord) bool {
	if !a.enabled {
		return false
	}
	return isLearnable(&record, a.minConfidence)
}

// BuildContext assembles the learning context for record.
//
// Similar records come from the store's search. A search failure is logged
// and yields a context without similar records.
func (a *Analyzer) BuildContext(ctx context.Context, record AnalysisRecord) LearningContext {
	lc := LearningContext{
		SQL:          record.SQL,
		SQLPattern:   sqlpattern.Normalize(record.SQL),
		DatabaseType: record.DatabaseType,
		Patterns: Patterns{
			Performance: record.IssuesFor(DimensionPerformance),
			Security:    record.IssuesFor(DimensionSecurity),
			Standards:   record.IssuesFor(DimensionStandards),
		},
		Summaries: make(map[string]string, len(Dimensions)),
		Timestamp: a.now(),
	}
	for _, d := range Dimensions {
		if s := record.SummaryFor(d); s != "" {
			lc.Summaries[string(d)] = s
		}
	}

	if a.similarLimit == 0 {
		return lc
	}

	// One extra so the record itself can be dropped.
	similar, err := a.store.SearchHistory(ctx, SearchQuery{SQL: record.SQL, Limit: a.similarLimit + 1})
	if err != nil {
		a.logger.Warn("similar record search failed",
			zap.String("sql_pattern", lc.SQLPattern),
			zap.Error(err))
		return lc
	}

	for _, s := range similar {
		if record.ID != "" && s.ID == record.ID {
			continue
		}
		lc.SimilarRecords = append(lc.SimilarRecords, s)
		if len(lc.SimilarRecords) == a.similarLimit {
			break
		}
	}

	return lc
}
