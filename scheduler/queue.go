package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/semaphore"
)

// Config holds queue configuration.
type Config struct {
	// MaxConcurrent bounds how many tasks occupy worker slots at once. A
	// slot is held only while a task's work entry point is on the stack;
	// tasks that return early and finish later do not count against it.
	MaxConcurrent int

	// Controller serializes exclusivity categories. When nil the queue
	// owns a private one.
	Controller *Controller

	// Logger receives queue diagnostics. When nil, slog.Default is used.
	Logger *slog.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{MaxConcurrent: 4}
}

// Queue accepts tasks and drives each through dependency waiting, condition
// evaluation and execution. All admission decisions happen on a single
// internal goroutine fed by a message channel, so per-queue scheduling state
// needs no locking; tasks produced by running tasks, finish signals and
// cancellations all arrive as messages.
type Queue struct {
	ctrl   *Controller
	sem    *semaphore.Weighted
	logger *slog.Logger

	events chan queueMsg
	closed chan struct{}

	// Owned by the loop goroutine.
	tracked   map[string]*taskEntry
	readyList []*taskEntry
	suspended bool
	waiters   []chan struct{}
	idleFns   []func()
}

type msgKind uint8

const (
	msgSubmit msgKind = iota
	msgDepDone
	msgCondDone
	msgFinished
	msgCancelled
	msgWorkDone
	msgPromoted
	msgCancelAll
	msgSuspend
	msgResume
	msgWait
	msgNotifyIdle
	msgClose
)

type queueMsg struct {
	kind  msgKind
	task  *Task
	err   error
	reply chan error
	idle  chan struct{}
	fn    func()
}

// taskPhase mirrors a tracked task's position through admission. It is owned
// by the loop goroutine; the task's own State is the externally visible view.
type taskPhase uint8

const (
	phasePending taskPhase = iota
	phaseEvaluating
	phaseReady
	phaseExecuting
	phaseFinishing
)

type taskEntry struct {
	t          *Task
	phase      taskPhase
	remaining  int // unfinished dependencies
	categories []string
}

// NewQueue creates a queue and starts its admission loop.
func NewQueue(cfg Config) *Queue {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = DefaultConfig().MaxConcurrent
	}
	if cfg.Controller == nil {
		cfg.Controller = NewController()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	q := &Queue{
		ctrl:    cfg.Controller,
		sem:     semaphore.NewWeighted(int64(cfg.MaxConcurrent)),
		logger:  cfg.Logger.With("component", "queue"),
		events:  make(chan queueMsg, 64),
		closed:  make(chan struct{}),
		tracked: make(map[string]*taskEntry),
	}
	go q.loop()
	return q
}

// Submit accepts a task for scheduling. It wires condition-declared
// dependencies (submitting them here if they are not submitted anywhere),
// registers exclusivity categories, validates the dependency graph and moves
// the task to StatePending. Submitting the same task instance twice is
// rejected with ErrAlreadySubmitted.
func (q *Queue) Submit(t *Task) error {
	if t == nil {
		return errors.New("nil task")
	}
	reply := make(chan error, 1)
	if !q.send(queueMsg{kind: msgSubmit, task: t, reply: reply}) {
		return ErrQueueClosed
	}
	select {
	case err := <-reply:
		return err
	case <-q.closed:
		return ErrQueueClosed
	}
}

// SubmitAll submits each task independently and joins any errors. No ordering
// is implied among the tasks beyond their own dependencies and categories.
func (q *Queue) SubmitAll(tasks ...*Task) error {
	var errs []error
	for _, t := range tasks {
		if err := q.Submit(t); err != nil {
			errs = append(errs, fmt.Errorf("submit %q: %w", t.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// CancelAll marks every tracked task cancelled. It does not wait for
// executing tasks to observe the flag and finish.
func (q *Queue) CancelAll() {
	q.send(queueMsg{kind: msgCancelAll})
}

// Suspend stops dispatching newly eligible tasks. Tasks already executing are
// unaffected; dependency waiting and condition evaluation continue.
func (q *Queue) Suspend() {
	q.send(queueMsg{kind: msgSuspend})
}

// Resume re-enables dispatch. Eligible tasks run in the order they became
// eligible.
func (q *Queue) Resume() {
	q.send(queueMsg{kind: msgResume})
}

// Wait blocks until the queue tracks no tasks, the context is cancelled or
// the queue is closed.
func (q *Queue) Wait(ctx context.Context) error {
	idle := make(chan struct{})
	if !q.send(queueMsg{kind: msgWait, idle: idle}) {
		return ErrQueueClosed
	}
	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-q.closed:
		return ErrQueueClosed
	}
}

// Close stops the admission loop. Callers should Wait first; tasks still
// tracked are abandoned, not finished.
func (q *Queue) Close() {
	q.send(queueMsg{kind: msgClose})
}

// notifyIdle registers f to run once the queue next tracks no tasks. Fires
// immediately when already idle. Used by Group.
func (q *Queue) notifyIdle(f func()) {
	q.send(queueMsg{kind: msgNotifyIdle, fn: f})
}

// send delivers a message to the loop unless the queue has closed.
func (q *Queue) send(msg queueMsg) bool {
	select {
	case q.events <- msg:
		return true
	case <-q.closed:
		return false
	}
}

// loop is the admission goroutine. It never calls Submit, Cancel or a task's
// finish path synchronously: those go through goroutines or messages, so the
// loop can never deadlock against its own channel.
func (q *Queue) loop() {
	defer close(q.closed)
	for {
		msg := <-q.events
		switch msg.kind {
		case msgSubmit:
			msg.reply <- q.handleSubmit(msg.task)
		case msgDepDone:
			q.handleDepDone(msg.task)
		case msgCondDone:
			q.handleCondDone(msg.task, msg.err)
		case msgFinished:
			q.handleFinished(msg.task)
		case msgCancelled:
			q.handleCancelled(msg.task)
		case msgWorkDone, msgPromoted:
			q.drainReady()
		case msgCancelAll:
			q.handleCancelAll()
		case msgSuspend:
			q.suspended = true
		case msgResume:
			if q.suspended {
				q.suspended = false
				q.drainReady()
			}
		case msgWait:
			if len(q.tracked) == 0 {
				close(msg.idle)
			} else {
				q.waiters = append(q.waiters, msg.idle)
			}
		case msgNotifyIdle:
			if len(q.tracked) == 0 {
				go msg.fn()
			} else {
				q.idleFns = append(q.idleFns, msg.fn)
			}
		case msgClose:
			return
		}
	}
}

// handleSubmit wires and tracks a task. Runs on the loop goroutine.
func (q *Queue) handleSubmit(t *Task) error {
	// Insert condition-declared dependencies before anything starts
	// waiting, so the dependency graph is stable from here on.
	for _, c := range t.conditionsCopy() {
		dep := c.DependencyFor(t)
		if dep == nil {
			continue
		}
		if err := t.AddDependency(dep); err != nil {
			return fmt.Errorf("condition %q dependency: %w", c.Name(), err)
		}
		if dep.isSubmitted() {
			continue
		}
		if err := q.handleSubmit(dep); err != nil {
			return fmt.Errorf("condition %q dependency: %w", c.Name(), err)
		}
	}

	if err := validateGraph(q.trackedTasks(), t); err != nil {
		return err
	}

	if err := t.bind(q); err != nil {
		q.logger.Warn("submit rejected", "task", t.Name(), "error", err)
		return err
	}

	// The promotion callback crosses queue boundaries when the controller
	// is shared: whichever queue finishes the head task, this queue hears
	// about its own promotions.
	categories := exclusivityCategories(t)
	if len(categories) > 0 {
		q.ctrl.Add(t.ID(), categories, func() {
			q.send(queueMsg{kind: msgPromoted})
		})
	}

	t.setState(StatePending)
	entry := &taskEntry{t: t, categories: categories}

	for _, dep := range t.Dependencies() {
		dependent := t
		if dep.whenFinished(func() {
			q.send(queueMsg{kind: msgDepDone, task: dependent})
		}) {
			entry.remaining++
		}
	}

	q.tracked[t.ID()] = entry
	q.logger.Debug("task submitted", "task", t.Name(), "id", t.ID(), "deps", entry.remaining)

	if t.Canceled() {
		q.finishCancelled(entry)
		return nil
	}
	q.maybeEvaluate(entry)
	return nil
}

func (q *Queue) trackedTasks() []*Task {
	tasks := make([]*Task, 0, len(q.tracked))
	for _, e := range q.tracked {
		tasks = append(tasks, e.t)
	}
	return tasks
}

// exclusivityCategories collects categories from the task's conditions in
// submission order, deduplicated.
func exclusivityCategories(t *Task) []string {
	var cats []string
	seen := make(map[string]bool)
	for _, c := range t.conditionsCopy() {
		ec, ok := c.(ExclusiveCondition)
		if !ok {
			continue
		}
		cat := ec.ExclusivityCategory()
		if cat == "" || seen[cat] {
			continue
		}
		seen[cat] = true
		cats = append(cats, cat)
	}
	return cats
}

func (q *Queue) handleDepDone(t *Task) {
	entry, ok := q.tracked[t.ID()]
	if !ok || entry.phase != phasePending {
		return
	}
	entry.remaining--
	q.maybeEvaluate(entry)
}

// maybeEvaluate moves a pending task whose dependencies have all finished
// into condition evaluation.
func (q *Queue) maybeEvaluate(entry *taskEntry) {
	if entry.phase != phasePending || entry.remaining > 0 {
		return
	}
	if entry.t.Canceled() {
		q.finishCancelled(entry)
		return
	}
	entry.phase = phaseEvaluating
	entry.t.setState(StateEvaluating)

	conds := entry.t.conditionsCopy()
	if len(conds) == 0 {
		q.admitEvaluated(entry, nil)
		return
	}
	go q.evaluate(entry.t, conds)
}

// evaluate runs every condition concurrently and reports the first failure
// in condition order back to the loop. Each condition's callback is single
// shot even if the condition misbehaves and calls it twice.
func (q *Queue) evaluate(t *Task, conds []Condition) {
	results := make([]error, len(conds))
	var wg sync.WaitGroup
	wg.Add(len(conds))

	for i, c := range conds {
		i, c := i, c
		var once sync.Once
		go c.Evaluate(t, func(err error) {
			once.Do(func() {
				results[i] = err
				wg.Done()
			})
		})
	}
	wg.Wait()

	var veto error
	for i, err := range results {
		if err == nil {
			continue
		}
		var ce *ConditionError
		if !errors.As(err, &ce) {
			err = &ConditionError{Condition: conds[i].Name(), Err: err}
		}
		veto = err
		break
	}
	q.send(queueMsg{kind: msgCondDone, task: t, err: veto})
}

func (q *Queue) handleCondDone(t *Task, veto error) {
	entry, ok := q.tracked[t.ID()]
	if !ok || entry.phase != phaseEvaluating {
		return
	}
	q.admitEvaluated(entry, veto)
}

func (q *Queue) admitEvaluated(entry *taskEntry, veto error) {
	if veto != nil {
		q.logger.Info("condition veto", "task", entry.t.Name(), "error", veto)
		entry.t.cancelQuiet()
		entry.phase = phaseFinishing
		go entry.t.finish([]error{veto})
		return
	}
	if entry.t.Canceled() {
		q.finishCancelled(entry)
		return
	}
	entry.phase = phaseReady
	entry.t.setState(StateReady)
	q.readyList = append(q.readyList, entry)
	q.drainReady()
}

// drainReady dispatches ready tasks in the order they became ready, subject
// to suspension, exclusivity heads and free worker slots.
func (q *Queue) drainReady() {
	if q.suspended || len(q.readyList) == 0 {
		return
	}
	var keep []*taskEntry
	for i, entry := range q.readyList {
		if entry.phase != phaseReady {
			continue
		}
		if entry.t.Canceled() {
			q.finishCancelled(entry)
			continue
		}
		if !q.ctrl.Ready(entry.t.ID(), entry.categories) {
			keep = append(keep, entry)
			continue
		}
		if !q.sem.TryAcquire(1) {
			keep = append(keep, q.readyList[i:]...)
			break
		}
		q.dispatch(entry)
	}
	q.readyList = keep
}

func (q *Queue) dispatch(entry *taskEntry) {
	entry.phase = phaseExecuting
	t := entry.t
	t.setState(StateExecuting)
	q.logger.Debug("task executing", "task", t.Name(), "id", t.ID())

	go func() {
		t.notifyStarted()
		t.runWork()
		q.sem.Release(1)
		q.send(queueMsg{kind: msgWorkDone})
	}()
}

func (q *Queue) handleFinished(t *Task) {
	entry, ok := q.tracked[t.ID()]
	if !ok {
		return
	}
	// The task may have been finished externally while parked in the ready
	// list; advancing the phase keeps drainReady from dispatching it.
	entry.phase = phaseFinishing
	delete(q.tracked, t.ID())
	if promoted := q.ctrl.Remove(t.ID(), entry.categories); len(promoted) > 0 {
		q.logger.Debug("exclusivity released", "task", t.Name(), "promoted", promoted)
	}
	q.logger.Debug("task finished", "task", t.Name(), "id", t.ID(), "errors", len(t.Errors()))

	q.drainReady()
	q.checkIdle()
}

func (q *Queue) handleCancelled(t *Task) {
	entry, ok := q.tracked[t.ID()]
	if !ok {
		return
	}
	switch entry.phase {
	case phasePending, phaseEvaluating, phaseReady:
		q.finishCancelled(entry)
	}
}

func (q *Queue) handleCancelAll() {
	entries := make([]*taskEntry, 0, len(q.tracked))
	for _, e := range q.tracked {
		entries = append(entries, e)
	}
	for _, e := range entries {
		e.t.cancelQuiet()
	}
	for _, e := range entries {
		switch e.phase {
		case phasePending, phaseEvaluating, phaseReady:
			q.finishCancelled(e)
		}
	}
}

// finishCancelled finishes a task that was cancelled before execution began.
// The work entry point is never invoked; the task carries the cancellation
// marker and no execution errors.
func (q *Queue) finishCancelled(entry *taskEntry) {
	entry.phase = phaseFinishing
	t := entry.t
	go t.finish(nil)
}

func (q *Queue) checkIdle() {
	if len(q.tracked) > 0 {
		return
	}
	for _, w := range q.waiters {
		close(w)
	}
	q.waiters = nil
	for _, f := range q.idleFns {
		go f()
	}
	q.idleFns = nil
}
