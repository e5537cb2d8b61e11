package scheduler

import "fmt"

// Condition is a precondition evaluated against a task before it may execute.
// Evaluation is asynchronous: Evaluate must report its result through done
// exactly once, from any goroutine, and must not assume it is called on any
// particular one. A nil error means satisfied; a non-nil error vetoes the
// task.
//
// A condition may also declare one extra dependency to be scheduled ahead of
// the guarded task (for example "request access" ahead of "use access"). The
// queue submits the dependency and wires it in before the task starts
// waiting.
type Condition interface {
	// Name identifies the condition in diagnostics and serves as the
	// default exclusivity category when the condition is wrapped with
	// Exclusive.
	Name() string

	// DependencyFor returns a task to insert ahead of t, or nil.
	DependencyFor(t *Task) *Task

	// Evaluate reports the result through done exactly once.
	Evaluate(t *Task, done func(error))
}

// ExclusiveCondition is implemented by conditions that additionally claim an
// exclusivity category. The queue registers the task with its controller
// under that category at submission time.
type ExclusiveCondition interface {
	Condition
	ExclusivityCategory() string
}

// Negate inverts a condition: it is satisfied exactly when c fails. The
// wrapped condition's dependency is not injected, since scheduling work to
// satisfy a condition we want to fail would be self-defeating.
func Negate(c Condition) Condition {
	return negated{inner: c}
}

type negated struct {
	inner Condition
}

func (n negated) Name() string                { return "Not" + n.inner.Name() }
func (n negated) DependencyFor(t *Task) *Task { return nil }

func (n negated) Evaluate(t *Task, done func(error)) {
	n.inner.Evaluate(t, func(err error) {
		if err != nil {
			done(nil)
			return
		}
		done(&ConditionError{
			Condition: n.Name(),
			Err:       fmt.Errorf("wrapped condition %q was satisfied", n.inner.Name()),
		})
	})
}

// Silence suppresses a condition's dependency injection while keeping its
// veto. The wrapped condition's error, if any, still reaches observers.
func Silence(c Condition) Condition {
	return silenced{inner: c}
}

type silenced struct {
	inner Condition
}

func (s silenced) Name() string                       { return s.inner.Name() }
func (s silenced) DependencyFor(t *Task) *Task        { return nil }
func (s silenced) Evaluate(t *Task, done func(error)) { s.inner.Evaluate(t, done) }

// Exclusive wraps a condition so that tasks carrying it are serialized per
// category: at most one such task executes at a time, in submission order.
// The category is the wrapped condition's name; dependency and evaluation
// semantics pass through unchanged.
func Exclusive(c Condition) Condition {
	return exclusive{inner: c}
}

type exclusive struct {
	inner Condition
}

func (e exclusive) Name() string                       { return e.inner.Name() }
func (e exclusive) DependencyFor(t *Task) *Task        { return e.inner.DependencyFor(t) }
func (e exclusive) Evaluate(t *Task, done func(error)) { e.inner.Evaluate(t, done) }
func (e exclusive) ExclusivityCategory() string        { return e.inner.Name() }

// Mutex returns a bare mutual-exclusion condition: always satisfied, only
// claiming the named category.
func Mutex(category string) Condition {
	return Exclusive(satisfied{name: category})
}

type satisfied struct {
	name string
}

func (s satisfied) Name() string                       { return s.name }
func (s satisfied) DependencyFor(t *Task) *Task        { return nil }
func (s satisfied) Evaluate(t *Task, done func(error)) { done(nil) }

// NoFailedDependencies vetoes a task when any of its dependencies finished
// cancelled or with errors. Without it, a dependent becomes eligible no
// matter how its dependencies ended.
func NoFailedDependencies() Condition {
	return noFailedDeps{}
}

type noFailedDeps struct{}

func (noFailedDeps) Name() string                { return "NoFailedDependencies" }
func (noFailedDeps) DependencyFor(t *Task) *Task { return nil }

func (c noFailedDeps) Evaluate(t *Task, done func(error)) {
	for _, dep := range t.Dependencies() {
		if dep.Canceled() {
			done(&ConditionError{
				Condition: c.Name(),
				Err:       fmt.Errorf("dependency %q was cancelled", dep.Name()),
			})
			return
		}
		if len(dep.Errors()) > 0 {
			done(&ConditionError{
				Condition: c.Name(),
				Err:       fmt.Errorf("dependency %q finished with errors", dep.Name()),
			})
			return
		}
	}
	done(nil)
}
