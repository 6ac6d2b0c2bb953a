package approval

import (
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/rulelearn/internal/dedup"
	"github.com/fyrsmithlabs/rulelearn/internal/rules"
)

// Routed is one candidate after Process.
type Routed struct {
	Rule      *rules.Candidate
	Decision  rules.Decision
	Duplicate dedup.Result

	// Path is where the rule file was written; empty when nothing was written.
	Path string
	// Deduplicated is set for approved rules dropped in favour of an
	// earlier rule of the same batch.
	Deduplicated bool
	// WriteErr is the persistence error, if any.
	WriteErr error
}

// Outcome summarizes a processed batch.
type Outcome struct {
	Routed []Routed

	Approved      int
	ManualReview  int
	Rejected      int
	Deduplicated  int
	WriteFailures int
}

// ApprovedRules returns the approved rules that were written.
func (o Outcome) ApprovedRules() []*rules.Candidate {
	var out []*rules.Candidate
	for _, r := range o.Routed {
		if r.Decision.Action == rules.ActionApprove && !r.Deduplicated && r.WriteErr == nil {
			out = append(out, r.Rule)
		}
	}
	return out
}

// Process decides every evaluated candidate against the corpus as it was
// before the batch, drops approved candidates that repeat an earlier
// approved (category, type, title) key of the batch, and writes the rest
// into their status directories. Candidates must be in the evaluated state.
// Write failures are logged and counted; the batch continues.
func (a *Approver) Process(batch []*rules.Candidate, threshold float64) Outcome {
	approvedDir, err := a.writer.StatusDir(rules.StateApproved)
	if err != nil {
		approvedDir = a.writer.Root()
	}

	out := Outcome{Routed: make([]Routed, len(batch))}
	for i, c := range batch {
		dup := a.detector.Check(c, approvedDir)
		decision := a.Decide(c, c.Evaluation, threshold, dup)
		c.Approval = &decision
		out.Routed[i] = Routed{Rule: c, Decision: decision, Duplicate: dup}
	}

	seen := make(map[string]struct{})
	for i := range out.Routed {
		r := &out.Routed[i]
		c := r.Rule

		if r.Decision.Action == rules.ActionApprove {
			key := c.Key()
			if _, dup := seen[key]; dup {
				r.Deduplicated = true
				out.Deduplicated++
				a.logger.Info("dropped in-batch duplicate",
					zap.String("rule_title", c.Title),
					zap.String("category", string(c.Category)))
				continue
			}
			seen[key] = struct{}{}
		}

		state, err := rules.StateFor(r.Decision.Action)
		if err == nil {
			err = c.Transition(state)
		}
		if err != nil {
			r.WriteErr = err
			out.WriteFailures++
			a.logger.Error("rule cannot reach terminal state",
				zap.String("rule_title", c.Title),
				zap.String("state", string(c.State)),
				zap.Error(err))
			continue
		}

		path, err := a.writer.Write(c)
		if err != nil {
			r.WriteErr = err
			out.WriteFailures++
			a.logger.Error("failed to write rule file",
				zap.String("rule_title", c.Title),
				zap.String("action", string(r.Decision.Action)),
				zap.Error(err))
			continue
		}
		r.Path = path

		switch r.Decision.Action {
		case rules.ActionApprove:
			out.Approved++
			a.detector.Add(approvedDir, path, c)
		case rules.ActionManualReview:
			out.ManualReview++
		case rules.ActionReject:
			out.Rejected++
		}

		a.logger.Info("rule routed",
			zap.String("rule_title", c.Title),
			zap.String("category", string(c.Category)),
			zap.String("action", string(r.Decision.Action)),
			zap.String("reason", r.Decision.Reason),
			zap.String("path", path))
	}

	return out
}
