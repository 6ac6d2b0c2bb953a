// Package history models past SQL analyses and mines them for learnable patterns.
//
// Records come from a Store (a JSON directory or a SQLite database) and are
// read-only to this package. The Analyzer filters them down to high-confidence
// successes, groups them by normalized SQL shape, and ranks recurring issues.
package history

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrRecordNotFound indicates a record id has no stored analysis.
	ErrRecordNotFound = errors.New("analysis record not found")

	// ErrInvalidRecord indicates a record is missing required fields.
	ErrInvalidRecord = errors.New("invalid analysis record")
)

// Dimension names one of the three analysis dimensions.
type Dimension string

const (
	DimensionPerformance Dimension = "performance"
	DimensionSecurity    Dimension = "security"
	DimensionStandards   Dimension = "standards"
)

// Dimensions lists every dimension in a stable order.
var Dimensions = []Dimension{DimensionPerformance, DimensionSecurity, DimensionStandards}

// Issue is one finding reported by an analysis dimension.
type Issue struct {
	Type        string `json:"type"`
	Severity    string `json:"severity"`
	Description string `json:"description"`
	Suggestion  string `json:"suggestion,omitempty"`
}

// PerformanceAnalysis is the performance dimension of an analysis.
type PerformanceAnalysis struct {
	Summary    string   `json:"summary"`
	Issues     []Issue  `json:"issues"`
	Confidence *float64 `json:"confidence,omitempty"`
}

// SecurityAnalysis is the security dimension of an analysis.
type SecurityAnalysis struct {
	Summary         string   `json:"summary"`
	Vulnerabilities []Issue  `json:"vulnerabilities"`
	Confidence      *float64 `json:"confidence,omitempty"`
}

// StandardsAnalysis is the coding-standards dimension of an analysis.
type StandardsAnalysis struct {
	Summary    string   `json:"summary"`
	Violations []Issue  `json:"violations"`
	Confidence *float64 `json:"confidence,omitempty"`
}

// Analysis groups the three dimensions. Any dimension may be absent.
type Analysis struct {
	Performance *PerformanceAnalysis `json:"performance,omitempty"`
	Security    *SecurityAnalysis    `json:"security,omitempty"`
	Standards   *StandardsAnalysis   `json:"standards,omitempty"`
}

// AnalysisRecord is one historical SQL check.
type AnalysisRecord struct {
	ID           string    `json:"id"`
	SQL          string    `json:"sql"`
	DatabaseType string    `json:"databaseType"`
	Timestamp    time.Time `json:"timestamp"`
	Error        string    `json:"error,omitempty"`
	Analysis     *Analysis `json:"analysis,omitempty"`
}

// Succeeded reports whether the analysis completed without error.
func (r *AnalysisRecord) Succeeded() bool {
	return r.Analysis != nil && r.Error == ""
}

// AverageConfidence is the mean confidence of the dimensions that report one.
// Returns 0 when no dimension reports a confidence.
func (r *AnalysisRecord) AverageConfidence() float64 {
	if r.Analysis == nil {
		return 0
	}

	var sum float64
	var n int
	add := func(c *float64) {
		if c != nil {
			sum += *c
			n++
		}
	}

	if p := r.Analysis.Performance; p != nil {
		add(p.Confidence)
	}
	if s := r.Analysis.Security; s != nil {
		add(s.Confidence)
	}
	if s := r.Analysis.Standards; s != nil {
		add(s.Confidence)
	}

	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

// IssuesFor returns the issue list of a single dimension.
func (r *AnalysisRecord) IssuesFor(d Dimension) []Issue {
	if r.Analysis == nil {
		return nil
	}
	switch d {
	case DimensionPerformance:
		if r.Analysis.Performance != nil {
			return r.Analysis.Performance.Issues
		}
	case DimensionSecurity:
		if r.Analysis.Security != nil {
			return r.Analysis.Security.Vulnerabilities
		}
	case DimensionStandards:
		if r.Analysis.Standards != nil {
			return r.Analysis.Standards.Violations
		}
	}
	return nil
}

// SummaryFor returns the summary text of a single dimension.
func (r *AnalysisRecord) SummaryFor(d Dimension) string {
	if r.Analysis == nil {
		return ""
	}
	switch d {
	case DimensionPerformance:
		if r.Analysis.Performance != nil {
			return r.Analysis.Performance.Summary
		}
	case DimensionSecurity:
		if r.Analysis.Security != nil {
			return r.Analysis.Security.Summary
		}
	case DimensionStandards:
		if r.Analysis.Standards != nil {
			return r.Analysis.Standards.Summary
		}
	}
	return ""
}

// IssueCount is the total number of issues across all dimensions.
func (r *AnalysisRecord) IssueCount() int {
	total := 0
	for _, d := range Dimensions {
		total += len(r.IssuesFor(d))
	}
	return total
}

// Patterns holds the issues of a learning context, per dimension.
type Patterns struct {
	Performance []Issue `json:"performance"`
	Security    []Issue `json:"security"`
	Standards   []Issue `json:"standards"`
}

// LearningContext is the bundle fed into rule generation. Not persisted.
type LearningContext struct {
	SQL            string            `json:"sql"`
	SQLPattern     string            `json:"sqlPattern"`
	DatabaseType   string            `json:"databaseType"`
	Patterns       Patterns          `json:"patterns"`
	Summaries      map[string]string `json:"summaries,omitempty"`
	SimilarRecords []AnalysisRecord  `json:"similarRecords,omitempty"`
	Timestamp      time.Time         `json:"timestamp"`
}

// IssueCount is the total number of issues in the context.
func (c *LearningContext) IssueCount() int {
	return len(c.Patterns.Performance) + len(c.Patterns.Security) + len(c.Patterns.Standards)
}

// SearchQuery filters SearchHistory results.
type SearchQuery struct {
	// SQL is compared against stored statements by normalized shape.
	SQL string

	// Limit caps the number of results. Zero means no limit.
	Limit int

	// DateFrom drops records older than this instant when non-zero.
	DateFrom time.Time
}

// Store is the read side of the history collaborator.
type Store interface {
	GetAllHistory(ctx context.Context) ([]AnalysisRecord, error)
	SearchHistory(ctx context.Context, q SearchQuery) ([]AnalysisRecord, error)
}

// FrequentPattern is an issue signature that recurs across records.
type FrequentPattern struct {
	Category  Dimension `json:"category"`
	Type      string    `json:"type"`
	Severity  string    `json:"severity"`
	Frequency int       `json:"frequency"`
	Priority  int       `json:"priority"`

	// Examples holds a description from each occurrence, first seen first.
	Examples []string `json:"examples,omitempty"`
}
