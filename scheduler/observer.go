package scheduler

import "time"

// Observer receives task lifecycle notifications. Hooks are advisory: they
// must not block for long, and a panic inside a hook is swallowed rather than
// allowed to affect the task's own result.
type Observer interface {
	// TaskStarted fires when the task enters StateExecuting.
	TaskStarted(t *Task)

	// TaskProduced fires when the task hands a new task to its queue.
	TaskProduced(t, child *Task)

	// TaskFinished fires after the task settles at StateFinished, with the
	// accumulated errors in arrival order.
	TaskFinished(t *Task, errs []error)
}

// FuncObserver adapts up to three functions into an Observer. Nil fields are
// skipped.
type FuncObserver struct {
	OnStart   func(t *Task)
	OnProduce func(t, child *Task)
	OnFinish  func(t *Task, errs []error)
}

func (f FuncObserver) TaskStarted(t *Task) {
	if f.OnStart != nil {
		f.OnStart(t)
	}
}

func (f FuncObserver) TaskProduced(t, child *Task) {
	if f.OnProduce != nil {
		f.OnProduce(t, child)
	}
}

func (f FuncObserver) TaskFinished(t *Task, errs []error) {
	if f.OnFinish != nil {
		f.OnFinish(t, errs)
	}
}

// Timeout returns an observer that cancels the task if it has not finished
// within d of starting. Cancellation remains cooperative: work already in
// flight is asked to stop, never preempted.
func Timeout(d time.Duration) Observer {
	return timeout{d: d}
}

type timeout struct {
	d time.Duration
}

func (o timeout) TaskStarted(t *Task) {
	time.AfterFunc(o.d, func() {
		select {
		case <-t.Done():
		default:
			t.Cancel()
		}
	})
}

func (timeout) TaskProduced(t, child *Task)        {}
func (timeout) TaskFinished(t *Task, errs []error) {}

// queueObserver is the internal observer a queue attaches at submission. Its
// finish hook drives tracking removal and exclusivity release.
type queueObserver struct {
	q *Queue
}

func (o queueObserver) TaskStarted(t *Task)         {}
func (o queueObserver) TaskProduced(t, child *Task) {}

func (o queueObserver) TaskFinished(t *Task, errs []error) {
	o.q.send(queueMsg{kind: msgFinished, task: t})
}

// The notify helpers isolate observer panics from the engine.

func notifyStarted(o Observer, t *Task) {
	defer func() { _ = recover() }()
	o.TaskStarted(t)
}

func notifyProduced(o Observer, t, child *Task) {
	defer func() { _ = recover() }()
	o.TaskProduced(t, child)
}

func notifyFinished(o Observer, t *Task, errs []error) {
	defer func() { _ = recover() }()
	o.TaskFinished(t, errs)
}
