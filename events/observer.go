package events

import (
	"time"

	"github.com/aristath/taskqueue/scheduler"
)

// BusObserver bridges task lifecycle notifications onto a Bus. Attach it to
// a task with AddObserver to publish that task's lifecycle on TopicTask.
type BusObserver struct {
	Bus *Bus
}

func (o BusObserver) TaskStarted(t *scheduler.Task) {
	o.Bus.Publish(TopicTask, TaskStartedEvent{
		ID:        t.ID(),
		Name:      t.Name(),
		Timestamp: time.Now(),
	})
}

func (o BusObserver) TaskProduced(t, child *scheduler.Task) {
	o.Bus.Publish(TopicTask, TaskProducedEvent{
		ID:        t.ID(),
		Name:      t.Name(),
		ChildID:   child.ID(),
		ChildName: child.Name(),
		Timestamp: time.Now(),
	})
}

func (o BusObserver) TaskFinished(t *scheduler.Task, errs []error) {
	var msgs []string
	for _, err := range errs {
		msgs = append(msgs, err.Error())
	}
	o.Bus.Publish(TopicTask, TaskFinishedEvent{
		ID:        t.ID(),
		Name:      t.Name(),
		Canceled:  t.Canceled(),
		Errors:    msgs,
		Timestamp: time.Now(),
	})
}
