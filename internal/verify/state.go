// Package verify drives candidate claims through evidence collection and
// scoring, and folds the outcomes into a dependency graph.
package verify

import (
	"fmt"

	"depverify/internal/errors"
)

// State is a step of the per-claim state machine.
type State string

const (
	StatePending    State = "pending"
	StateCollecting State = "collecting"
	StateScoring    State = "scoring"
	StateConfirmed  State = "confirmed"
	StateRejected   State = "rejected"
	StateNeedsRetry State = "needs_retry"
	StateTerminal   State = "terminal"
)

// transitions lists the legal successors of each state.
var transitions = map[State][]State{
	"":              {StatePending},
	StatePending:    {StateCollecting},
	StateCollecting: {StateScoring},
	StateScoring:    {StateConfirmed, StateRejected, StateNeedsRetry},
	StateNeedsRetry: {StateCollecting, StateRejected},
	StateConfirmed:  {StateTerminal},
	StateRejected:   {StateTerminal},
}

// CanTransition reports whether from -> to is a legal step.
func CanTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Status is the final outcome of a claim.
type Status string

const (
	StatusConfirmed Status = "confirmed"
	StatusRejected  Status = "rejected"

	// StatusCancelled marks a claim that never reached a terminal state
	// because the run was cancelled.
	StatusCancelled Status = "cancelled"

	// StatusFailed marks a claim whose processing hit a structural error:
	// an evidence invariant violation, or a node attribute conflict while
	// adding its edge. ClaimResult.Error holds the cause.
	StatusFailed Status = "failed"
)

// machine records the path a claim takes through the states.
type machine struct {
	current State
	history []State
}

func (m *machine) advance(to State) error {
	if !CanTransition(m.current, to) {
		return errors.New(errors.InternalError,
			fmt.Sprintf("illegal claim transition %s -> %s", m.current, to), nil)
	}
	m.current = to
	m.history = append(m.history, to)
	return nil
}
