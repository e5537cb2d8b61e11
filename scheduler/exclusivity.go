package scheduler

import "sync"

// Controller provides per-category mutual exclusion. Each category holds a
// FIFO sequence of task IDs in submission order; a task is eligible to
// execute only while it is at the head of every category it claims. A task
// claiming several categories is enqueued in all of them in one critical
// section, and removed from all of them in one critical section, so two tasks
// can never each hold a category the other needs.
//
// A Controller is typically owned by one Queue, but sharing a single instance
// across queues makes their categories mutually exclusive too. Promotion
// wakeups cross queue boundaries: each registrant leaves a notify callback,
// and Remove fires the callbacks of newly promoted tasks whichever queue owns
// them.
type Controller struct {
	mu        sync.Mutex
	sequences map[string][]string
	notifiers map[string]func()
}

// NewController creates an empty controller.
func NewController() *Controller {
	return &Controller{
		sequences: make(map[string][]string),
		notifiers: make(map[string]func()),
	}
}

// Add enqueues the task at the tail of every named category. The notify
// callback, if non-nil, is invoked whenever a later Remove promotes the task
// to the head of a category; it must be safe to call from any goroutine.
func (c *Controller) Add(taskID string, categories []string, notify func()) {
	if len(categories) == 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, cat := range categories {
		c.sequences[cat] = append(c.sequences[cat], taskID)
	}
	if notify != nil {
		c.notifiers[taskID] = notify
	}
}

// Ready reports whether the task is at the head of every named category.
func (c *Controller) Ready(taskID string, categories []string) bool {
	if len(categories) == 0 {
		return true
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, cat := range categories {
		seq := c.sequences[cat]
		if len(seq) == 0 || seq[0] != taskID {
			return false
		}
	}
	return true
}

// Remove dequeues the task from every named category and returns the IDs of
// tasks newly at the head of a category, firing each one's notify callback.
// A task is removed only once it has finished, whatever the outcome, so a
// veto or cancellation still frees the category. Removal from the middle of
// a sequence is legal: a task that never became eligible still finished.
func (c *Controller) Remove(taskID string, categories []string) []string {
	if len(categories) == 0 {
		return nil
	}
	c.mu.Lock()

	var promoted []string
	seen := make(map[string]bool)

	for _, cat := range categories {
		seq := c.sequences[cat]
		idx := -1
		for i, id := range seq {
			if id == taskID {
				idx = i
				break
			}
		}
		if idx == -1 {
			continue
		}
		seq = append(seq[:idx], seq[idx+1:]...)
		if len(seq) == 0 {
			delete(c.sequences, cat)
			continue
		}
		c.sequences[cat] = seq
		if idx == 0 && !seen[seq[0]] {
			seen[seq[0]] = true
			promoted = append(promoted, seq[0])
		}
	}

	delete(c.notifiers, taskID)
	var wake []func()
	for _, id := range promoted {
		if fn, ok := c.notifiers[id]; ok {
			wake = append(wake, fn)
		}
	}
	c.mu.Unlock()

	// Callbacks typically message a queue loop, possibly the one calling
	// Remove, so they run on their own goroutines and outside the lock.
	for _, fn := range wake {
		go fn()
	}
	return promoted
}
