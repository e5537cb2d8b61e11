package events

import (
	"time"
)

// Event is the base interface for all events.
type Event interface {
	EventType() string
	TaskID() string
}

// Topic constants
const (
	TopicTask = "task"
)

// Event type constants
const (
	EventTypeTaskStarted  = "task.started"
	EventTypeTaskProduced = "task.produced"
	EventTypeTaskFinished = "task.finished"
)

// TaskStartedEvent is published when a task begins execution.
type TaskStartedEvent struct {
	ID        string
	Name      string
	Timestamp time.Time
}

func (e TaskStartedEvent) EventType() string { return EventTypeTaskStarted }
func (e TaskStartedEvent) TaskID() string    { return e.ID }

// TaskProducedEvent is published when an executing task submits a follow-up
// task to its queue.
type TaskProducedEvent struct {
	ID        string
	Name      string
	ChildID   string
	ChildName string
	Timestamp time.Time
}

func (e TaskProducedEvent) EventType() string { return EventTypeTaskProduced }
func (e TaskProducedEvent) TaskID() string    { return e.ID }

// TaskFinishedEvent is published when a task finishes, whether it succeeded,
// failed or was cancelled.
type TaskFinishedEvent struct {
	ID        string
	Name      string
	Canceled  bool
	Errors    []string
	Timestamp time.Time
}

func (e TaskFinishedEvent) EventType() string { return EventTypeTaskFinished }
func (e TaskFinishedEvent) TaskID() string    { return e.ID }
