// Package approval routes evaluated rules to approve, manual review or
// reject, and persists the batch into the rules directory layout.
package approval

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/rulelearn/internal/dedup"
	"github.com/fyrsmithlabs/rulelearn/internal/rules"
	"github.com/fyrsmithlabs/rulelearn/internal/validation"
)

// DefaultMinQualityScore is the combined score below which a rule needs review.
const DefaultMinQualityScore = 70

// maxBasicIssues is the number of basic issues a rule may carry and still
// be approved without review.
const maxBasicIssues = 2

// Policy holds the static part of the approval decision.
type Policy struct {
	MinQualityScore       int
	CompletenessThreshold float64
	SecurityPolicy        validation.SecurityPolicy
}

// DefaultPolicy returns the default approval policy.
func DefaultPolicy() Policy {
	return Policy{
		MinQualityScore:       DefaultMinQualityScore,
		CompletenessThreshold: validation.DefaultCompletenessThreshold,
		SecurityPolicy:        validation.PolicyStrict,
	}
}

// Approver decides and persists.
type Approver struct {
	policy    Policy
	validator *validation.Validator
	detector  *dedup.Detector
	writer    *rules.Writer
	logger    *zap.Logger
}

// New creates an approver. The detector checks candidates against the
// approved directory of writer.
func New(policy Policy, detector *dedup.Detector, writer *rules.Writer, logger *zap.Logger) (*Approver, error) {
	if detector == nil {
		return nil, fmt.Errorf("duplicate detector cannot be nil")
	}
	if writer == nil {
		return nil, fmt.Errorf("rule writer cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}
	if policy.MinQualityScore < 0 || policy.MinQualityScore > 100 {
		return nil, fmt.Errorf("min quality score %d out of range [0,100]", policy.MinQualityScore)
	}

	v, err := validation.New(
		validation.WithCompletenessThreshold(policy.CompletenessThreshold),
		validation.WithSecurityPolicy(policy.SecurityPolicy),
	)
	if err != nil {
		return nil, fmt.Errorf("creating validator: %w", err)
	}

	return &Approver{
		policy:    policy,
		validator: v,
		detector:  detector,
		writer:    writer,
		logger:    logger,
	}, nil
}

// Decide returns the action for c. The first matching condition wins:
//
//  1. the evaluation says not to keep the rule: reject
//  2. combined score below the minimum quality: manual review
//  3. confidence below threshold: manual review
//  4. more than two basic issues: manual review
//  5. completeness fails: manual review
//  6. security severity check fails: manual review
//  7. exact or high-similarity duplicate: reject
//  8. otherwise: approve
//
// Decide is pure: equal inputs always produce equal decisions.
func (a *Approver) Decide(c *rules.Candidate, ev *rules.Evaluation, threshold float64, dup dedup.Result) rules.Decision {
	if ev == nil {
		return reject("rule has no evaluation")
	}
	if !ev.ShouldKeep {
		return reject(fmt.Sprintf("evaluation recommends discarding the rule (combined score %d, quality %s)", ev.CombinedScore, ev.QualityLevel))
	}
	if ev.CombinedScore < a.policy.MinQualityScore {
		return review(fmt.Sprintf("combined score %d below minimum %d", ev.CombinedScore, a.policy.MinQualityScore))
	}
	if !(c.Confidence >= threshold) {
		return review(fmt.Sprintf("confidence %.2f below approval threshold %.2f", c.Confidence, threshold))
	}
	if n := len(ev.BasicIssues); n > maxBasicIssues {
		return review(fmt.Sprintf("%d basic validation issues", n))
	}
	if res := a.validator.Completeness(c); !res.Passed {
		return review("incomplete rule: " + res.Reason)
	}
	if res := a.validator.Security(c); !res.Passed {
		return review("security check failed: " + res.Reason)
	}
	if dup.IsDuplicate {
		title := ""
		if len(dup.Matches) > 0 {
			title = dup.Matches[0].Title
		}
		return reject(fmt.Sprintf("%s duplicate of %q (similarity %.2f)", dup.Type, title, dup.Similarity))
	}
	return rules.Decision{Action: rules.ActionApprove, Reason: fmt.Sprintf("combined score %d, confidence %.2f", ev.CombinedScore, c.Confidence)}
}

func reject(reason string) rules.Decision {
	return rules.Decision{Action: rules.ActionReject, Reason: reason}
}

func review(reason string) rules.Decision {
	return rules.Decision{Action: rules.ActionManualReview, Reason: reason}
}
