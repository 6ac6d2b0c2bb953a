package rules

import "fmt"

// State is a point in the rule lifecycle.
type State string

const (
	StateGenerated    State = "generated"
	StateValidated    State = "validated"
	StateEvaluated    State = "evaluated"
	StateApproved     State = "approved"
	StateManualReview State = "manual_review"
	StateRejected     State = "rejected"
)

var transitions = map[State][]State{
	StateGenerated: {StateValidated},
	StateValidated: {StateEvaluated},
	StateEvaluated: {StateApproved, StateManualReview, StateRejected},
}

// Terminal reports whether s is a persisted end state.
func (s State) Terminal() bool {
	switch s {
	case StateApproved, StateManualReview, StateRejected:
		return true
	}
	return false
}

// CanTransition reports whether from -> to is allowed.
func CanTransition(from, to State) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Transition moves the candidate to state to.
func (c *Candidate) Transition(to State) error {
	if !CanTransition(c.State, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, c.State, to)
	}
	c.State = to
	return nil
}

// StateFor maps an approval action to its terminal state.
func StateFor(a Action) (State, error) {
	switch a {
	case ActionApprove:
		return StateApproved, nil
	case ActionManualReview:
		return StateManualReview, nil
	case ActionReject:
		return StateRejected, nil
	}
	return "", fmt.Errorf("unknown approval action %q", a)
}

// DirName is the status directory a terminal state is stored under.
func (s State) DirName() (string, error) {
	switch s {
	case StateApproved:
		return "approved", nil
	case StateManualReview:
		return "manual_review", nil
	case StateRejected:
		return "issues", nil
	}
	return "", fmt.Errorf("%w: %s", ErrNotTerminal, s)
}
