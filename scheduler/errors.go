package scheduler

import (
	"errors"
	"fmt"
)

// Sentinel errors returned by queue and task operations.
var (
	// ErrAlreadySubmitted indicates the task has already been submitted to a queue.
	ErrAlreadySubmitted = errors.New("task already submitted")

	// ErrQueueClosed indicates the queue no longer accepts work.
	ErrQueueClosed = errors.New("queue closed")

	// ErrNotExecuting indicates an operation that is only legal while the
	// task's work entry point is running.
	ErrNotExecuting = errors.New("task is not executing")

	// ErrSelfDependency indicates a task was asked to depend on itself.
	ErrSelfDependency = errors.New("task cannot depend on itself")

	// ErrCycle indicates submitting the task would create a dependency cycle.
	ErrCycle = errors.New("dependency cycle detected")

	// ErrCircuitOpen indicates a breaker condition vetoed the task because
	// its category's circuit breaker is open.
	ErrCircuitOpen = errors.New("circuit breaker open")
)

// ConditionError records a condition veto. It carries the name of the
// condition that failed and the underlying cause, if any.
type ConditionError struct {
	Condition string
	Err       error
}

func (e *ConditionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("condition %q failed: %v", e.Condition, e.Err)
	}
	return fmt.Sprintf("condition %q failed", e.Condition)
}

func (e *ConditionError) Unwrap() error {
	return e.Err
}
