package scheduler

import (
	"sync"
	"time"
)

// NewDelay returns a task that finishes successfully after d has elapsed.
// The task holds no worker slot while waiting; its work entry point returns
// immediately and a timer finishes it. Non-positive durations finish during
// the entry point. Cancelling the delay stops the timer and finishes the
// task at once.
func NewDelay(d time.Duration) *Task {
	return NewNamedDelay("delay", d)
}

// NewNamedDelay is NewDelay with a caller-chosen diagnostic name.
func NewNamedDelay(name string, d time.Duration) *Task {
	return delayTask(name, func() time.Duration { return d })
}

// NewDelayUntil returns a task that finishes successfully at the given wall
// clock time. Times in the past behave like a zero delay.
func NewDelayUntil(at time.Time) *Task {
	return delayTask("delay-until", func() time.Duration { return time.Until(at) })
}

func delayTask(name string, remaining func() time.Duration) *Task {
	return New(name, func(t *Task) {
		d := remaining()
		if d <= 0 {
			t.Finish()
			return
		}

		// Finishing cancels the task context, so both the timer path and
		// the cancellation path race into the same Once.
		var once sync.Once
		timer := time.AfterFunc(d, func() {
			once.Do(func() { t.Finish() })
		})
		go func() {
			select {
			case <-t.Context().Done():
				timer.Stop()
				once.Do(func() { t.Finish() })
			case <-t.Done():
				timer.Stop()
			}
		}()
	})
}
