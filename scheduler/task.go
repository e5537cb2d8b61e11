package scheduler

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// Work is a task's entry point. It is invoked at most once, on a worker
// goroutine, after the task's dependencies have finished and its conditions
// are satisfied. The work may finish the task synchronously before returning,
// or return immediately and finish later from any goroutine (a timer
// callback, a network completion handler). Returning frees the worker slot;
// only Finish ends the task.
type Work func(t *Task)

// Task is a unit of asynchronous work with an explicit lifecycle. Tasks are
// created by the caller, configured with dependencies, conditions and
// observers, and then submitted to a Queue exactly once. A task finishes
// exactly once; finishing twice is a programmer error and panics.
type Task struct {
	id   string
	name string
	work Work

	ctx      context.Context
	cancel   context.CancelFunc
	canceled atomic.Bool

	mu          sync.Mutex
	state       State
	submitted   bool
	finishing   bool
	deps        []*Task
	conditions  []Condition
	observers   []Observer
	errs        []error
	producer    func(*Task) error
	cancelHooks []func()
	finishHooks []func()

	done chan struct{}
}

// New creates a task that runs the given work entry point. The name is
// diagnostic only; the task's identity is its generated ID.
func New(name string, work Work) *Task {
	ctx, cancel := context.WithCancel(context.Background())
	return &Task{
		id:     uuid.NewString(),
		name:   name,
		work:   work,
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
}

// NewSync wraps a plain function as a task that finishes when the function
// returns. The function receives the task's context, which is cancelled when
// the task is cancelled.
func NewSync(name string, fn func(ctx context.Context) error) *Task {
	return New(name, func(t *Task) {
		t.Finish(fn(t.Context()))
	})
}

// ID returns the task's unique handle.
func (t *Task) ID() string { return t.id }

// Name returns the task's diagnostic name.
func (t *Task) Name() string { return t.name }

// State returns the task's current lifecycle state.
func (t *Task) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Context returns a context that is cancelled when the task is cancelled and,
// at the latest, when it finishes. Long-running work should watch it.
func (t *Task) Context() context.Context { return t.ctx }

// Done returns a channel closed once the task reaches StateFinished.
func (t *Task) Done() <-chan struct{} { return t.done }

// Canceled reports whether Cancel has been called. Cancellation is
// cooperative: it prevents execution from starting but never preempts work
// already in flight.
func (t *Task) Canceled() bool { return t.canceled.Load() }

// Cancel marks the task cancelled and cancels its context. Safe to call from
// any goroutine, any number of times, in any state. A task cancelled before
// it reaches StateExecuting finishes without its work being invoked.
func (t *Task) Cancel() {
	if !t.canceled.CompareAndSwap(false, true) {
		return
	}
	t.cancel()
	t.mu.Lock()
	hooks := make([]func(), len(t.cancelHooks))
	copy(hooks, t.cancelHooks)
	t.mu.Unlock()
	for _, h := range hooks {
		h()
	}
}

// cancelQuiet sets the cancellation flag without running cancel hooks. Used
// by the queue's own loop, which handles the consequences itself.
func (t *Task) cancelQuiet() {
	if t.canceled.CompareAndSwap(false, true) {
		t.cancel()
	}
}

// Errors returns the errors accumulated so far, in arrival order.
func (t *Task) Errors() []error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]error(nil), t.errs...)
}

// Dependencies returns the tasks that must finish before this one may run.
func (t *Task) Dependencies() []*Task {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]*Task(nil), t.deps...)
}

// AddDependency adds a task that must reach StateFinished before this task
// leaves StatePending. Only legal before submission.
func (t *Task) AddDependency(dep *Task) error {
	if dep == nil {
		return fmt.Errorf("task %q: nil dependency", t.name)
	}
	if dep == t {
		return ErrSelfDependency
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.submitted {
		return ErrAlreadySubmitted
	}
	t.deps = append(t.deps, dep)
	return nil
}

// AddCondition attaches a condition evaluated before the task may execute.
// Only legal before submission.
func (t *Task) AddCondition(c Condition) error {
	if c == nil {
		return fmt.Errorf("task %q: nil condition", t.name)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.submitted {
		return ErrAlreadySubmitted
	}
	t.conditions = append(t.conditions, c)
	return nil
}

// AddObserver attaches a lifecycle observer. Only legal before submission.
func (t *Task) AddObserver(o Observer) error {
	if o == nil {
		return fmt.Errorf("task %q: nil observer", t.name)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.submitted {
		return ErrAlreadySubmitted
	}
	t.observers = append(t.observers, o)
	return nil
}

// Produce hands a new task to the queue this task is running on. Only legal
// while the task is executing. The produced task is submitted like any other
// and observers are notified.
func (t *Task) Produce(child *Task) error {
	if child == nil {
		return fmt.Errorf("task %q: nil produced task", t.name)
	}
	t.mu.Lock()
	state := t.state
	relay := t.producer
	obs := append([]Observer(nil), t.observers...)
	t.mu.Unlock()

	if state != StateExecuting || relay == nil {
		return ErrNotExecuting
	}
	if err := relay(child); err != nil {
		return err
	}
	for _, o := range obs {
		notifyProduced(o, t, child)
	}
	return nil
}

// Finish signals that the task's work is complete, recording any non-nil
// errors. It may be called from any goroutine, synchronously from the work
// entry point or long after it returned. Calling Finish twice is a programmer
// error and panics: a silent double finish would corrupt dependent
// scheduling.
func (t *Task) Finish(errs ...error) {
	t.finish(errs)
}

func (t *Task) finish(errs []error) {
	t.mu.Lock()
	if t.finishing {
		name := t.name
		t.mu.Unlock()
		panic(fmt.Sprintf("scheduler: task %q finished twice", name))
	}
	t.finishing = true
	t.state = StateFinishing
	for _, e := range errs {
		if e != nil {
			t.errs = append(t.errs, e)
		}
	}
	t.mu.Unlock()

	t.mu.Lock()
	t.state = StateFinished
	final := append([]error(nil), t.errs...)
	obs := append([]Observer(nil), t.observers...)
	hooks := t.finishHooks
	t.finishHooks = nil
	t.mu.Unlock()

	for _, o := range obs {
		notifyFinished(o, t, final)
	}
	close(t.done)
	t.cancel()
	for _, h := range hooks {
		h()
	}
}

func (t *Task) isSubmitted() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.submitted
}

// bind marks the task as owned by q. Fails if the task was already submitted
// anywhere or has moved past StateInitialized.
func (t *Task) bind(q *Queue) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.submitted {
		return ErrAlreadySubmitted
	}
	if t.state != StateInitialized {
		return fmt.Errorf("task %q is %s, not %s", t.name, t.state, StateInitialized)
	}
	t.submitted = true
	t.producer = q.Submit
	t.cancelHooks = append(t.cancelHooks, func() {
		q.send(queueMsg{kind: msgCancelled, task: t})
	})
	t.observers = append(t.observers, queueObserver{q})
	return nil
}

// setState advances the lifecycle state. States are monotonic; regressing is
// an engine bug and panics.
func (t *Task) setState(s State) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if s <= t.state {
		panic(fmt.Sprintf("scheduler: task %q state %s -> %s", t.name, t.state, s))
	}
	t.state = s
}

// conditionsCopy returns the attached conditions in submission order.
func (t *Task) conditionsCopy() []Condition {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Condition(nil), t.conditions...)
}

// whenFinished registers f to run after the task finishes and its observers
// have fired. Returns false, without registering, if the task has already
// finished.
func (t *Task) whenFinished(f func()) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state == StateFinished {
		return false
	}
	t.finishHooks = append(t.finishHooks, f)
	return true
}

// addCancelHook registers f to run when the task is cancelled externally.
func (t *Task) addCancelHook(f func()) {
	t.mu.Lock()
	t.cancelHooks = append(t.cancelHooks, f)
	t.mu.Unlock()
}

// notifyStarted tells every observer the task entered StateExecuting.
func (t *Task) notifyStarted() {
	t.mu.Lock()
	obs := append([]Observer(nil), t.observers...)
	t.mu.Unlock()
	for _, o := range obs {
		notifyStarted(o, t)
	}
}

// runWork invokes the work entry point. The task may still be unfinished when
// this returns.
func (t *Task) runWork() {
	t.work(t)
}
