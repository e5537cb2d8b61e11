package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"
)

// waitFinished blocks until the task finishes or the test times out.
func waitFinished(t *testing.T, task *Task) {
	t.Helper()
	select {
	case <-task.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("task %q did not finish in time", task.Name())
	}
}

// TestTask_InitialState verifies a fresh task starts in StateInitialized.
func TestTask_InitialState(t *testing.T) {
	task := New("noop", func(*Task) {})

	if got := task.State(); got != StateInitialized {
		t.Errorf("Expected state %s, got %s", StateInitialized, got)
	}
	if task.ID() == "" {
		t.Error("Expected a non-empty task ID")
	}
	if task.Canceled() {
		t.Error("Fresh task should not be cancelled")
	}
}

// TestTask_FinishRecordsErrors verifies Finish stores non-nil errors in order.
func TestTask_FinishRecordsErrors(t *testing.T) {
	task := New("failing", func(*Task) {})

	errA := errors.New("first")
	errB := errors.New("second")
	task.Finish(errA, nil, errB)

	waitFinished(t, task)

	errs := task.Errors()
	if len(errs) != 2 {
		t.Fatalf("Expected 2 errors, got %d", len(errs))
	}
	if errs[0] != errA || errs[1] != errB {
		t.Errorf("Errors out of order: %v", errs)
	}
	if got := task.State(); got != StateFinished {
		t.Errorf("Expected state %s, got %s", StateFinished, got)
	}
}

// TestTask_DoubleFinishPanics verifies that finishing twice is a programmer
// error, not a silent no-op.
func TestTask_DoubleFinishPanics(t *testing.T) {
	task := New("once", func(*Task) {})
	task.Finish()

	defer func() {
		if recover() == nil {
			t.Error("Expected second Finish to panic")
		}
	}()
	task.Finish()
}

// TestTask_CancelIsIdempotent verifies Cancel can be called repeatedly from
// any state.
func TestTask_CancelIsIdempotent(t *testing.T) {
	task := New("cancelme", func(*Task) {})

	task.Cancel()
	task.Cancel()

	if !task.Canceled() {
		t.Error("Expected task to be cancelled")
	}
	select {
	case <-task.Context().Done():
	default:
		t.Error("Expected task context to be cancelled")
	}
}

// TestTask_FinishCancelsContext verifies the task context ends at finish even
// without an explicit Cancel.
func TestTask_FinishCancelsContext(t *testing.T) {
	task := New("ctx", func(*Task) {})
	task.Finish()
	waitFinished(t, task)

	select {
	case <-task.Context().Done():
	default:
		t.Error("Expected context cancelled after finish")
	}
	if task.Canceled() {
		t.Error("Finishing normally should not set the cancelled flag")
	}
}

// TestTask_AddDependencyValidation verifies dependency wiring rejects nil and
// self references.
func TestTask_AddDependencyValidation(t *testing.T) {
	task := New("a", func(*Task) {})

	if err := task.AddDependency(nil); err == nil {
		t.Error("Expected error for nil dependency")
	}
	if err := task.AddDependency(task); !errors.Is(err, ErrSelfDependency) {
		t.Errorf("Expected ErrSelfDependency, got %v", err)
	}

	dep := New("b", func(*Task) {})
	if err := task.AddDependency(dep); err != nil {
		t.Fatalf("AddDependency failed: %v", err)
	}
	if deps := task.Dependencies(); len(deps) != 1 || deps[0] != dep {
		t.Errorf("Unexpected dependencies: %v", deps)
	}
}

// TestTask_ConfigurationAfterSubmitRejected verifies that dependencies,
// conditions and observers cannot be added once the task is submitted.
func TestTask_ConfigurationAfterSubmitRejected(t *testing.T) {
	q := NewQueue(DefaultConfig())
	defer q.Close()

	block := make(chan struct{})
	task := New("busy", func(tk *Task) {
		<-block
		tk.Finish()
	})
	if err := q.Submit(task); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	if err := task.AddDependency(New("late", func(*Task) {})); !errors.Is(err, ErrAlreadySubmitted) {
		t.Errorf("AddDependency: expected ErrAlreadySubmitted, got %v", err)
	}
	if err := task.AddCondition(Mutex("m")); !errors.Is(err, ErrAlreadySubmitted) {
		t.Errorf("AddCondition: expected ErrAlreadySubmitted, got %v", err)
	}
	if err := task.AddObserver(FuncObserver{}); !errors.Is(err, ErrAlreadySubmitted) {
		t.Errorf("AddObserver: expected ErrAlreadySubmitted, got %v", err)
	}

	close(block)
	waitFinished(t, task)
}

// TestTask_ProduceOutsideExecutionRejected verifies Produce only works while
// the task is executing.
func TestTask_ProduceOutsideExecutionRejected(t *testing.T) {
	task := New("idle", func(*Task) {})
	child := New("child", func(*Task) {})

	if err := task.Produce(child); !errors.Is(err, ErrNotExecuting) {
		t.Errorf("Expected ErrNotExecuting, got %v", err)
	}
}

// TestTask_NewSyncFinishesOnReturn verifies the synchronous wrapper finishes
// the task with the function's error.
func TestTask_NewSyncFinishesOnReturn(t *testing.T) {
	q := NewQueue(DefaultConfig())
	defer q.Close()

	wantErr := errors.New("boom")
	task := NewSync("sync", func(ctx context.Context) error { return wantErr })
	if err := q.Submit(task); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	waitFinished(t, task)
	errs := task.Errors()
	if len(errs) != 1 || !errors.Is(errs[0], wantErr) {
		t.Errorf("Expected [%v], got %v", wantErr, errs)
	}
}

// TestTask_AsyncFinish verifies a task may return from its entry point and
// finish later from another goroutine.
func TestTask_AsyncFinish(t *testing.T) {
	q := NewQueue(DefaultConfig())
	defer q.Close()

	release := make(chan struct{})
	task := New("async", func(tk *Task) {
		go func() {
			<-release
			tk.Finish()
		}()
	})
	if err := q.Submit(task); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	// The entry point returns immediately; the task must still be live.
	time.Sleep(20 * time.Millisecond)
	select {
	case <-task.Done():
		t.Fatal("Task finished before its completion signal")
	default:
	}

	close(release)
	waitFinished(t, task)
}
