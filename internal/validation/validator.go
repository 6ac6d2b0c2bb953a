// Package validation runs deterministic checks on candidate rules.
//
// Three levels exist:
//   - basic: required fields, minimum lengths, confidence range and enums
//   - completeness: stricter lengths, a SQL example, and a confidence floor
//   - security: severity constraints for security rules
//
// All checks are pure and never touch the network or the filesystem.
package validation

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/fyrsmithlabs/rulelearn/internal/rules"
)

// ErrUnknownLevel indicates a validation level that does not exist.
var ErrUnknownLevel = errors.New("unknown validation level")

// ErrUnknownPolicy indicates a security policy that does not exist.
var ErrUnknownPolicy = errors.New("unknown security policy")

// Level selects a validation pass.
type Level string

const (
	LevelBasic        Level = "basic"
	LevelCompleteness Level = "completeness"
	LevelSecurity     Level = "security"
)

// SecurityPolicy selects which severities a security rule may carry.
type SecurityPolicy string

const (
	// PolicyStrict allows critical and high.
	PolicyStrict SecurityPolicy = "strict"
	// PolicyLoose also allows medium.
	PolicyLoose SecurityPolicy = "loose"
)

// Score debits.
const (
	penaltyMissing    = 20
	penaltyShort      = 10
	penaltyOutOfRange = 15
	penaltyInvalidEnu = 15

	passingScore = 60
)

// Basic minimum lengths, in runes.
const (
	basicMinTitle       = 5
	basicMinDescription = 10
)

// Completeness minimum lengths, in runes.
const (
	completeMinTitle       = 10
	completeMinDescription = 30
	completeMinCondition   = 15
)

// DefaultCompletenessThreshold is the confidence a complete rule needs.
const DefaultCompletenessThreshold = 0.7

var sqlKeyword = regexp.MustCompile(`(?i)\b(select|insert|update|delete|create|alter|drop|with|merge|replace)\b`)

// Result is the outcome of one validation pass.
type Result struct {
	Passed bool     `json:"passed"`
	Score  int      `json:"score"`
	Issues []string `json:"issues"`
	Reason string   `json:"reason,omitempty"`
}

// Validator holds the configurable parts of validation.
type Validator struct {
	completenessThreshold float64
	policy                SecurityPolicy
}

// Option configures a Validator.
type Option func(*Validator)

// WithCompletenessThreshold sets the confidence floor for completeness.
func WithCompletenessThreshold(t float64) Option {
	return func(v *Validator) {
		v.completenessThreshold = t
	}
}

// WithSecurityPolicy sets the security severity policy.
func WithSecurityPolicy(p SecurityPolicy) Option {
	return func(v *Validator) {
		v.policy = p
	}
}

// New creates a validator. An unknown security policy is an error.
func New(opts ...Option) (*Validator, error) {
	v := &Validator{
		completenessThreshold: DefaultCompletenessThreshold,
		policy:                PolicyStrict,
	}
	for _, opt := range opts {
		opt(v)
	}

	switch v.policy {
	case PolicyStrict, PolicyLoose:
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownPolicy, v.policy)
	}
	if v.completenessThreshold < 0 || v.completenessThreshold > 1 {
		return nil, fmt.Errorf("completeness threshold %.2f out of range [0,1]", v.completenessThreshold)
	}
	return v, nil
}

// Validate runs the named level against c.
func (v *Validator) Validate(level Level, c *rules.Candidate) (Result, error) {
	switch level {
	case LevelBasic:
		return Basic(c), nil
	case LevelCompleteness:
		return Completeness(c, v.completenessThreshold), nil
	case LevelSecurity:
		return Security(c, v.policy), nil
	default:
		return Result{}, fmt.Errorf("%w: %q", ErrUnknownLevel, level)
	}
}

// Completeness runs the completeness level with the configured threshold.
func (v *Validator) Completeness(c *rules.Candidate) Result {
	return Completeness(c, v.completenessThreshold)
}

// Security runs the security level with the configured policy.
func (v *Validator) Security(c *rules.Candidate) Result {
	return Security(c, v.policy)
}

// Basic checks required fields, lengths, the confidence range and enums.
//
// The score starts at 100 and is debited per violation, floored at 0. The
// result passes only when every core field is present, both enums are
// valid and the score is at least 60.
func Basic(c *rules.Candidate) Result {
	score := 100
	var issues []string
	blocking := false

	required := []struct {
		name  string
		value string
		core  bool
	}{
		{"title", c.Title, true},
		{"description", c.Description, true},
		{"category", string(c.Category), true},
		{"type", c.Type, true},
		{"severity", string(c.Severity), true},
		{"condition", c.Condition, false},
		{"example", c.Example, false},
	}
	for _, f := range required {
		if strings.TrimSpace(f.value) == "" {
			score -= penaltyMissing
			issues = append(issues, fmt.Sprintf("missing required field: %s", f.name))
			if f.core {
				blocking = true
			}
		}
	}

	if n := runeLen(c.Title); n > 0 && n < basicMinTitle {
		score -= penaltyShort
		issues = append(issues, fmt.Sprintf("title too short: %d < %d characters", n, basicMinTitle))
	}
	if n := runeLen(c.Description); n > 0 && n < basicMinDescription {
		score -= penaltyShort
		issues = append(issues, fmt.Sprintf("description too short: %d < %d characters", n, basicMinDescription))
	}

	switch {
	case math.IsNaN(c.Confidence) || math.IsInf(c.Confidence, 0):
		score -= penaltyOutOfRange
		issues = append(issues, fmt.Sprintf("confidence %v is not a number in [0,1]", c.Confidence))
		blocking = true
	case c.Confidence < 0 || c.Confidence > 1:
		score -= penaltyOutOfRange
		issues = append(issues, fmt.Sprintf("confidence %.2f out of range [0,1]", c.Confidence))
	}

	if c.Category != "" && !c.Category.Valid() {
		score -= penaltyInvalidEnu
		issues = append(issues, fmt.Sprintf("invalid category: %q", c.Category))
		blocking = true
	}
	if c.Severity != "" && !c.Severity.Valid() {
		score -= penaltyInvalidEnu
		issues = append(issues, fmt.Sprintf("invalid severity: %q", c.Severity))
		blocking = true
	}

	score = max(score, 0)
	return Result{
		Passed: !blocking && score >= passingScore,
		Score:  score,
		Issues: issues,
	}
}

// Completeness applies stricter lengths, requires a SQL keyword in the
// example and a confidence of at least threshold.
func Completeness(c *rules.Candidate, threshold float64) Result {
	var issues []string

	if n := runeLen(c.Title); n < completeMinTitle {
		issues = append(issues, fmt.Sprintf("title shorter than %d characters", completeMinTitle))
	}
	if n := runeLen(c.Description); n < completeMinDescription {
		issues = append(issues, fmt.Sprintf("description shorter than %d characters", completeMinDescription))
	}
	if n := runeLen(c.Condition); n < completeMinCondition {
		issues = append(issues, fmt.Sprintf("condition shorter than %d characters", completeMinCondition))
	}
	if !sqlKeyword.MatchString(c.Example) {
		issues = append(issues, "example contains no SQL statement")
	}
	if !(c.Confidence >= threshold) {
		issues = append(issues, fmt.Sprintf("confidence %.2f below completeness threshold %.2f", c.Confidence, threshold))
	}

	return finish(issues, "rule is complete")
}

// Security requires security rules to carry a severity the policy allows.
// Non-security rules pass.
func Security(c *rules.Candidate, policy SecurityPolicy) Result {
	if c.Category != rules.CategorySecurity {
		return finish(nil, "not a security rule")
	}

	allowed := []rules.Severity{rules.SeverityCritical, rules.SeverityHigh}
	if policy == PolicyLoose {
		allowed = append(allowed, rules.SeverityMedium)
	}
	for _, s := range allowed {
		if c.Severity == s {
			return finish(nil, "security severity accepted")
		}
	}

	names := make([]string, len(allowed))
	for i, s := range allowed {
		names[i] = string(s)
	}
	return finish([]string{fmt.Sprintf("security rule severity %q not in {%s}", c.Severity, strings.Join(names, ", "))}, "")
}

func finish(issues []string, okReason string) Result {
	score := max(100-penaltyMissing*len(issues), 0)
	if len(issues) == 0 {
		return Result{Passed: true, Score: score, Reason: okReason}
	}
	return Result{
		Passed: false,
		Score:  score,
		Issues: issues,
		Reason: strings.Join(issues, "; "),
	}
}

func runeLen(s string) int {
	return utf8.RuneCountInString(strings.TrimSpace(s))
}
