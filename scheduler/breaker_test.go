package scheduler

import (
	"errors"
	"sync/atomic"
	"testing"

	"github.com/sony/gobreaker"
)

// trip drives the breaker to the open state with consecutive failures.
func trip(cb *gobreaker.CircuitBreaker) {
	for i := 0; i < 5; i++ {
		cb.Execute(func() (interface{}, error) {
			return nil, errors.New("downstream failure")
		})
	}
}

// TestBreakerRegistry_ReusesInstances verifies one breaker per category.
func TestBreakerRegistry_ReusesInstances(t *testing.T) {
	reg := NewCircuitBreakerRegistry(nil)

	a := reg.Get("payments")
	b := reg.Get("payments")
	c := reg.Get("search")

	if a != b {
		t.Error("Same category should return the same breaker")
	}
	if a == c {
		t.Error("Different categories should have distinct breakers")
	}
	if a.Name() != "payments" {
		t.Errorf("Expected breaker named payments, got %q", a.Name())
	}
}

// TestBreakerCondition_VetoWhenOpen verifies tasks are vetoed while the
// circuit is open and admitted while it is closed.
func TestBreakerCondition_VetoWhenOpen(t *testing.T) {
	q := NewQueue(DefaultConfig())
	defer q.Close()
	reg := NewCircuitBreakerRegistry(nil)
	cb := reg.Get("downstream")

	ok := New("closed-circuit", func(tk *Task) { tk.Finish() })
	if err := ok.AddCondition(NewBreakerCondition(cb)); err != nil {
		t.Fatal(err)
	}
	if err := q.Submit(ok); err != nil {
		t.Fatal(err)
	}
	waitFinished(t, ok)
	if len(ok.Errors()) != 0 {
		t.Fatalf("Closed circuit should admit the task, got %v", ok.Errors())
	}

	trip(cb)
	if cb.State() != gobreaker.StateOpen {
		t.Fatalf("Expected open breaker, got %s", cb.State())
	}

	var ran atomic.Bool
	vetoed := New("open-circuit", func(tk *Task) {
		ran.Store(true)
		tk.Finish()
	})
	if err := vetoed.AddCondition(NewBreakerCondition(cb)); err != nil {
		t.Fatal(err)
	}
	if err := q.Submit(vetoed); err != nil {
		t.Fatal(err)
	}
	waitFinished(t, vetoed)

	if ran.Load() {
		t.Error("Task must not run while the circuit is open")
	}
	errs := vetoed.Errors()
	if len(errs) != 1 || !errors.Is(errs[0], ErrCircuitOpen) {
		t.Errorf("Expected ErrCircuitOpen, got %v", errs)
	}
}

// TestBreakerObserver_RecordsOutcomes verifies finished tasks feed the
// breaker's failure counters.
func TestBreakerObserver_RecordsOutcomes(t *testing.T) {
	q := NewQueue(DefaultConfig())
	defer q.Close()
	reg := NewCircuitBreakerRegistry(nil)
	cb := reg.Get("flaky-store")

	for i := 0; i < 5; i++ {
		task := New("failing", func(tk *Task) { tk.Finish(errors.New("store down")) })
		if err := task.AddObserver(NewBreakerObserver(cb)); err != nil {
			t.Fatal(err)
		}
		if err := q.Submit(task); err != nil {
			t.Fatal(err)
		}
		waitFinished(t, task)
	}

	if cb.State() != gobreaker.StateOpen {
		t.Errorf("Expected 5 failures to open the breaker, got %s", cb.State())
	}
}

// TestBreakerObserver_IgnoresCancelled verifies cancelled tasks do not count
// against the breaker.
func TestBreakerObserver_IgnoresCancelled(t *testing.T) {
	q := NewQueue(DefaultConfig())
	defer q.Close()
	q.Suspend()
	reg := NewCircuitBreakerRegistry(nil)
	cb := reg.Get("quiet")

	for i := 0; i < 10; i++ {
		task := New("cancelled", func(tk *Task) { tk.Finish() })
		if err := task.AddObserver(NewBreakerObserver(cb)); err != nil {
			t.Fatal(err)
		}
		if err := q.Submit(task); err != nil {
			t.Fatal(err)
		}
		task.Cancel()
		waitFinished(t, task)
	}

	if cb.State() != gobreaker.StateClosed {
		t.Errorf("Cancelled tasks should leave the breaker closed, got %s", cb.State())
	}
}
