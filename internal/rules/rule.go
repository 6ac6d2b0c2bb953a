// Package rules defines candidate audit rules, their lifecycle and their
// on-disk markdown representation.
//
// A Candidate moves through an explicit state machine:
//
//	generated -> validated -> evaluated -> approved | manual_review | rejected
//
// Only the three terminal states are ever persisted. The directory a rule
// file lives in is its state; the file itself carries no status field.
package rules

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrInvalidTransition indicates a lifecycle transition that is not allowed.
	ErrInvalidTransition = errors.New("invalid rule state transition")

	// ErrNotTerminal indicates an attempt to persist a rule that has no decision yet.
	ErrNotTerminal = errors.New("rule is not in a terminal state")

	// ErrMalformedRuleFile indicates a rule file could not be parsed.
	ErrMalformedRuleFile = errors.New("malformed rule file")
)

// Category is the analysis dimension a rule belongs to.
type Category string

const (
	CategoryPerformance Category = "performance"
	CategorySecurity    Category = "security"
	CategoryStandards   Category = "standards"
)

// Valid reports whether c is a known category.
func (c Category) Valid() bool {
	switch c {
	case CategoryPerformance, CategorySecurity, CategoryStandards:
		return true
	}
	return false
}

// Severity ranks how serious a rule violation is.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
	SeverityInfo     Severity = "info"
)

// Valid reports whether s is a known severity.
func (s Severity) Valid() bool {
	switch s {
	case SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow, SeverityInfo:
		return true
	}
	return false
}

// Source records which generation path produced a rule.
type Source string

const (
	SourceLLM      Source = "llm"
	SourceLLMDeep  Source = "llm_deep"
	SourceFallback Source = "fallback"
)

// QualityLevel buckets a combined quality score.
type QualityLevel string

const (
	QualityExcellent QualityLevel = "excellent"
	QualityGood      QualityLevel = "good"
	QualityFair      QualityLevel = "fair"
	QualityPoor      QualityLevel = "poor"
)

// Action is the outcome of auto-approval.
type Action string

const (
	ActionApprove      Action = "approve"
	ActionManualReview Action = "manual_review"
	ActionReject       Action = "reject"
)

// Evaluation is the quality assessment attached to a candidate.
type Evaluation struct {
	BasicScore      int                `json:"basicScore"`
	BasicIssues     []string           `json:"basicIssues"`
	LLMScore        int                `json:"llmScore"`
	DimensionScores map[string]float64 `json:"dimensionScores,omitempty"`
	Strengths       []string           `json:"strengths,omitempty"`
	Issues          []string           `json:"issues,omitempty"`
	CombinedScore   int                `json:"combinedScore"`
	QualityLevel    QualityLevel       `json:"qualityLevel"`
	ShouldKeep      bool               `json:"shouldKeep"`

	// LLMShouldKeep is the evaluator model's own verdict; nil when unknown.
	LLMShouldKeep *bool `json:"llmShouldKeep,omitempty"`

	// LLMFailed is set when the neutral default replaced the model's score.
	LLMFailed bool `json:"llmFailed,omitempty"`
}

// Decision is the routing decision for an evaluated candidate.
type Decision struct {
	Action Action `json:"action"`
	Reason string `json:"reason"`
}

// Candidate is a generated audit rule.
type Candidate struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Category    Category `json:"category"`
	Type        string   `json:"type"`
	Severity    Severity `json:"severity"`
	Condition   string   `json:"condition"`
	Example     string   `json:"example"`
	Confidence  float64  `json:"confidence"`

	SQLPattern   string    `json:"sqlPattern,omitempty"`
	DatabaseType string    `json:"databaseType,omitempty"`
	Source       Source    `json:"source,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`

	State      State       `json:"state"`
	Evaluation *Evaluation `json:"evaluation,omitempty"`
	Approval   *Decision   `json:"approval,omitempty"`
}

// NewCandidate returns a candidate in the generated state with a fresh id.
func NewCandidate(source Source, createdAt time.Time) *Candidate {
	return &Candidate{
		ID:        uuid.New().String(),
		Source:    source,
		CreatedAt: createdAt,
		State:     StateGenerated,
	}
}

// Key identifies a rule for batch de-duplication.
func (c *Candidate) Key() string {
	return Key(c.Category, c.Type, c.Title)
}

// Key builds the (category, type, title) de-duplication key.
func Key(category Category, typ, title string) string {
	norm := func(s string) string {
		return strings.ToLower(strings.TrimSpace(s))
	}
	return fmt.Sprintf("%s|%s|%s", norm(string(category)), norm(typ), norm(title))
}

// ShortID is the first eight characters of the id, used in file names.
func (c *Candidate) ShortID() string {
	id := strings.ReplaceAll(c.ID, "-", "")
	if len(id) > 8 {
		return id[:8]
	}
	if id == "" {
		return "00000000"
	}
	return id
}
