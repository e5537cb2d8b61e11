package scheduler

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

// failing is a condition that always vetoes with a fixed error.
type failing struct {
	err error
}

func (f failing) Name() string                       { return "AlwaysFails" }
func (f failing) DependencyFor(t *Task) *Task        { return nil }
func (f failing) Evaluate(t *Task, done func(error)) { done(f.err) }

// TestCondition_VetoPreventsExecution verifies a failed condition finishes
// the task with a ConditionError and the work never runs.
func TestCondition_VetoPreventsExecution(t *testing.T) {
	q := NewQueue(DefaultConfig())
	defer q.Close()

	var ran atomic.Bool
	task := New("guarded", func(tk *Task) {
		ran.Store(true)
		tk.Finish()
	})
	cause := errors.New("not allowed")
	if err := task.AddCondition(failing{err: cause}); err != nil {
		t.Fatal(err)
	}

	if err := q.Submit(task); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	waitFinished(t, task)

	if ran.Load() {
		t.Error("Vetoed task must not execute")
	}
	errs := task.Errors()
	if len(errs) != 1 {
		t.Fatalf("Expected 1 error, got %v", errs)
	}
	var ce *ConditionError
	if !errors.As(errs[0], &ce) {
		t.Fatalf("Expected ConditionError, got %T", errs[0])
	}
	if ce.Condition != "AlwaysFails" || !errors.Is(ce, cause) {
		t.Errorf("Unexpected condition error: %v", ce)
	}
}

// TestCondition_NegateInverts verifies Negate turns failure into success and
// vice versa.
func TestCondition_NegateInverts(t *testing.T) {
	q := NewQueue(DefaultConfig())
	defer q.Close()

	passes := New("passes", func(tk *Task) { tk.Finish() })
	if err := passes.AddCondition(Negate(failing{err: errors.New("nope")})); err != nil {
		t.Fatal(err)
	}
	if err := q.Submit(passes); err != nil {
		t.Fatal(err)
	}
	waitFinished(t, passes)
	if len(passes.Errors()) != 0 {
		t.Errorf("Negated failing condition should pass, got %v", passes.Errors())
	}

	var ran atomic.Bool
	vetoed := New("vetoed", func(tk *Task) {
		ran.Store(true)
		tk.Finish()
	})
	if err := vetoed.AddCondition(Negate(satisfied{name: "ok"})); err != nil {
		t.Fatal(err)
	}
	if err := q.Submit(vetoed); err != nil {
		t.Fatal(err)
	}
	waitFinished(t, vetoed)
	if ran.Load() {
		t.Error("Negated satisfied condition must veto")
	}
}

// depInjecting declares a dependency for the guarded task.
type depInjecting struct {
	dep *Task
}

func (d depInjecting) Name() string                       { return "WithDependency" }
func (d depInjecting) DependencyFor(t *Task) *Task        { return d.dep }
func (d depInjecting) Evaluate(t *Task, done func(error)) { done(nil) }

// TestCondition_DependencyInjection verifies a condition's dependency is
// submitted and runs before the guarded task.
func TestCondition_DependencyInjection(t *testing.T) {
	q := NewQueue(DefaultConfig())
	defer q.Close()

	var depRan, taskSawDep atomic.Bool
	dep := New("injected", func(tk *Task) {
		depRan.Store(true)
		tk.Finish()
	})
	task := New("guarded", func(tk *Task) {
		taskSawDep.Store(depRan.Load())
		tk.Finish()
	})
	if err := task.AddCondition(depInjecting{dep: dep}); err != nil {
		t.Fatal(err)
	}

	if err := q.Submit(task); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	waitFinished(t, task)
	waitFinished(t, dep)

	if !depRan.Load() {
		t.Error("Injected dependency never ran")
	}
	if !taskSawDep.Load() {
		t.Error("Guarded task ran before its injected dependency finished")
	}
}

// TestCondition_SilenceSuppressesDependency verifies Silence keeps the veto
// but drops the dependency.
func TestCondition_SilenceSuppressesDependency(t *testing.T) {
	q := NewQueue(DefaultConfig())
	defer q.Close()

	var depRan atomic.Bool
	dep := New("suppressed", func(tk *Task) {
		depRan.Store(true)
		tk.Finish()
	})
	task := New("guarded", func(tk *Task) { tk.Finish() })
	if err := task.AddCondition(Silence(depInjecting{dep: dep})); err != nil {
		t.Fatal(err)
	}

	if err := q.Submit(task); err != nil {
		t.Fatal(err)
	}
	waitFinished(t, task)

	time.Sleep(20 * time.Millisecond)
	if depRan.Load() {
		t.Error("Silenced condition's dependency must not be scheduled")
	}
	if len(task.Errors()) != 0 {
		t.Errorf("Silenced satisfied condition should pass, got %v", task.Errors())
	}
}

// TestCondition_NoFailedDependencies verifies the veto fires for failed and
// cancelled dependencies and passes for clean ones.
func TestCondition_NoFailedDependencies(t *testing.T) {
	tests := []struct {
		name     string
		depWork  Work
		cancel   bool
		wantVeto bool
	}{
		{
			name:     "clean dependency passes",
			depWork:  func(tk *Task) { tk.Finish() },
			wantVeto: false,
		},
		{
			name:     "failed dependency vetoes",
			depWork:  func(tk *Task) { tk.Finish(errors.New("dep broke")) },
			wantVeto: true,
		},
		{
			name:     "cancelled dependency vetoes",
			depWork:  func(tk *Task) { tk.Finish() },
			cancel:   true,
			wantVeto: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := NewQueue(DefaultConfig())
			defer q.Close()

			dep := New("dep", tt.depWork)
			if tt.cancel {
				dep.Cancel()
			}

			var ran atomic.Bool
			task := New("dependent", func(tk *Task) {
				ran.Store(true)
				tk.Finish()
			})
			if err := task.AddDependency(dep); err != nil {
				t.Fatal(err)
			}
			if err := task.AddCondition(NoFailedDependencies()); err != nil {
				t.Fatal(err)
			}

			if err := q.SubmitAll(dep, task); err != nil {
				t.Fatal(err)
			}
			waitFinished(t, task)

			if tt.wantVeto {
				if ran.Load() {
					t.Error("Dependent must not run")
				}
				if len(task.Errors()) == 0 {
					t.Error("Expected a condition error")
				}
			} else {
				if !ran.Load() {
					t.Error("Dependent should have run")
				}
				if len(task.Errors()) != 0 {
					t.Errorf("Unexpected errors: %v", task.Errors())
				}
			}
		})
	}
}

// TestCondition_MutexCategory verifies the Mutex helper claims the category
// it names.
func TestCondition_MutexCategory(t *testing.T) {
	c := Mutex("io")
	ec, ok := c.(ExclusiveCondition)
	if !ok {
		t.Fatal("Mutex should implement ExclusiveCondition")
	}
	if got := ec.ExclusivityCategory(); got != "io" {
		t.Errorf("Expected category io, got %q", got)
	}
}
