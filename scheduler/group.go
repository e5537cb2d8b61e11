package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
)

// Group is a task whose work is the completion of a set of child tasks. The
// children run on a private queue with its own controller, so their
// exclusivity categories never interact with the outer queue's. The group
// finishes once every child has finished, carrying the children's errors in
// the order the children finished.
type Group struct {
	*Task

	pq      *Queue
	started atomic.Bool

	mu        sync.Mutex
	childErrs []error
}

// NewGroup builds a group over the given children. Children may also be added
// later with Add, until the group starts executing.
func NewGroup(name string, children ...*Task) (*Group, error) {
	g := &Group{}
	g.Task = New(name, func(*Task) { g.run() })
	g.pq = NewQueue(DefaultConfig())
	g.pq.Suspend()

	g.Task.addCancelHook(func() { g.pq.CancelAll() })
	g.Task.whenFinished(func() {
		if !g.started.Load() {
			go g.teardown()
		}
	})

	for _, c := range children {
		if err := g.Add(c); err != nil {
			g.teardown()
			return nil, err
		}
	}
	return g, nil
}

// Add submits a child to the group's private queue. The child will not run
// before the group itself starts executing.
func (g *Group) Add(child *Task) error {
	if err := child.AddObserver(groupCollector{g}); err != nil {
		return err
	}
	return g.pq.Submit(child)
}

// run is the group's work entry point. It releases the private queue and
// arranges for the group to finish once the queue drains. The entry point
// returns immediately; an empty group finishes via the idle callback too.
func (g *Group) run() {
	g.started.Store(true)
	// The context ends on any cancellation path, including queue-level
	// CancelAll, which sets the flag without running cancel hooks. The
	// cascade must reach the children either way.
	go func() {
		<-g.Context().Done()
		g.pq.CancelAll()
	}()
	g.pq.notifyIdle(g.settle)
	g.pq.Resume()
}

func (g *Group) settle() {
	g.mu.Lock()
	errs := append([]error(nil), g.childErrs...)
	g.mu.Unlock()
	g.Finish(errs...)
	g.pq.Close()
}

// teardown releases the private queue when the group will never execute,
// either because construction failed or the group finished cancelled before
// starting.
func (g *Group) teardown() {
	g.pq.CancelAll()
	g.pq.Wait(context.Background())
	g.pq.Close()
}

// groupCollector accumulates child errors in finish order.
type groupCollector struct {
	g *Group
}

func (c groupCollector) TaskStarted(*Task)         {}
func (c groupCollector) TaskProduced(*Task, *Task) {}

func (c groupCollector) TaskFinished(t *Task, errs []error) {
	if len(errs) == 0 {
		return
	}
	c.g.mu.Lock()
	c.g.childErrs = append(c.g.childErrs, errs...)
	c.g.mu.Unlock()
}
