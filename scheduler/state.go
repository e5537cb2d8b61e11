package scheduler

import "fmt"

// State represents a task's position in its lifecycle. States advance
// monotonically; a task never moves backwards. Cancellation is not a state,
// it is an orthogonal flag (see Task.Cancel).
type State int32

const (
	StateInitialized State = iota // Created, not yet submitted to a queue
	StatePending                  // Submitted, waiting for dependencies to finish
	StateEvaluating               // Dependencies finished, conditions being evaluated
	StateReady                    // All conditions satisfied, waiting for dispatch
	StateExecuting                // Work entry point invoked
	StateFinishing                // Finish signal received, observers about to fire
	StateFinished                 // Terminal
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateInitialized:
		return "initialized"
	case StatePending:
		return "pending"
	case StateEvaluating:
		return "evaluating_conditions"
	case StateReady:
		return "ready"
	case StateExecuting:
		return "executing"
	case StateFinishing:
		return "finishing"
	case StateFinished:
		return "finished"
	}
	return fmt.Sprintf("State(%d)", int32(s))
}
