package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sony/gobreaker"
)

// CircuitBreakerRegistry manages per-category circuit breakers. Categories
// are arbitrary strings, typically naming a downstream system the tasks in
// that category depend on.
type CircuitBreakerRegistry struct {
	logger   *slog.Logger
	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
}

// NewCircuitBreakerRegistry creates a new circuit breaker registry.
func NewCircuitBreakerRegistry(logger *slog.Logger) *CircuitBreakerRegistry {
	if logger == nil {
		logger = slog.Default()
	}
	return &CircuitBreakerRegistry{
		logger:   logger,
		breakers: make(map[string]*gobreaker.CircuitBreaker),
	}
}

// Get returns the circuit breaker for the given category.
// Creates a new one if it doesn't exist.
func (r *CircuitBreakerRegistry) Get(category string) *gobreaker.CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cb, ok := r.breakers[category]; ok {
		return cb
	}

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        category,
		MaxRequests: 3, // Allow 3 test requests in half-open state
		Interval:    0, // Don't clear counts automatically
		Timeout:     30 * time.Second, // Stay open for 30s before testing recovery
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			r.logger.Warn("circuit breaker state change", "category", name, "from", from.String(), "to", to.String())
		},
		IsSuccessful: func(err error) bool {
			// Don't count cancellation as a downstream failure
			if err == nil {
				return true
			}
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return true
			}
			return false
		},
	})

	r.breakers[category] = cb
	return cb
}

// NewBreakerCondition returns a condition that vetoes its task while the
// circuit breaker is open. Half-open breakers let tasks through; the paired
// observer reports their outcomes.
func NewBreakerCondition(cb *gobreaker.CircuitBreaker) Condition {
	return breakerCondition{cb}
}

type breakerCondition struct {
	cb *gobreaker.CircuitBreaker
}

func (c breakerCondition) Name() string { return "CircuitClosed(" + c.cb.Name() + ")" }

func (c breakerCondition) DependencyFor(*Task) *Task { return nil }

func (c breakerCondition) Evaluate(t *Task, done func(error)) {
	if c.cb.State() == gobreaker.StateOpen {
		done(&ConditionError{
			Condition: c.Name(),
			Err:       fmt.Errorf("%w: %s", ErrCircuitOpen, c.cb.Name()),
		})
		return
	}
	done(nil)
}

// NewBreakerObserver returns an observer that feeds task outcomes into the
// circuit breaker. Cancelled tasks are not counted.
func NewBreakerObserver(cb *gobreaker.CircuitBreaker) Observer {
	return breakerObserver{cb}
}

type breakerObserver struct {
	cb *gobreaker.CircuitBreaker
}

func (o breakerObserver) TaskStarted(*Task)         {}
func (o breakerObserver) TaskProduced(*Task, *Task) {}

func (o breakerObserver) TaskFinished(t *Task, errs []error) {
	if t.Canceled() {
		return
	}
	o.cb.Execute(func() (interface{}, error) {
		if len(errs) > 0 {
			return nil, errs[0]
		}
		return nil, nil
	})
}
