package operation

import (
	"errors"
	"testing"
	"time"
)

func strPtr(s string) *string { return &s }

func TestLifecycleIdleToCompleted(t *testing.T) {
	op := New()
	if op.Status() != StatusIdle {
		t.Fatalf("new operation status = %s", op.Status())
	}
	if err := op.Start(Options{Phase: "loading"}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if op.Status() != StatusRunning {
		t.Fatalf("status after Start = %s", op.Status())
	}
	if err := op.Start(Options{}); err == nil {
		t.Fatal("second Start on running operation should fail")
	}
	op.Stop()
	if op.Status() != StatusCompleted {
		t.Errorf("status after Stop = %s", op.Status())
	}
	if op.Err() != nil {
		t.Errorf("completed operation carries error %v", op.Err())
	}
}

func TestSetErrorMovesToFailed(t *testing.T) {
	op := New()
	_ = op.Start(Options{})
	boom := errors.New("boom")
	op.SetError(boom)
	if op.Status() != StatusFailed {
		t.Errorf("status = %s, want failed", op.Status())
	}
	if !errors.Is(op.Err(), boom) {
		t.Errorf("err = %v", op.Err())
	}
	// Terminal: a late Stop must not resurrect it.
	op.Stop()
	if op.Status() != StatusFailed {
		t.Errorf("Stop after failure changed status to %s", op.Status())
	}
}

func TestCancelInvalidatesToken(t *testing.T) {
	op := New()
	_ = op.Start(Options{})
	token := op.Token()
	if token.Err() != nil {
		t.Fatal("token invalid while running")
	}

	op.Cancel()
	if op.Status() != StatusCancelled {
		t.Fatalf("status = %s, want cancelled", op.Status())
	}
	select {
	case <-token.Done():
	case <-time.After(time.Second):
		t.Fatal("token not cancelled")
	}
	if !errors.Is(op.Err(), ErrCancelled) {
		t.Errorf("err = %v, want ErrCancelled", op.Err())
	}
	if !op.Snapshot().CancelRequested {
		t.Error("CancelRequested not recorded")
	}
	// Cancel when not running is a no-op.
	op.Cancel()
	if op.Status() != StatusCancelled {
		t.Errorf("second Cancel changed status to %s", op.Status())
	}
}

func TestMutationsRequireRunning(t *testing.T) {
	op := New()
	if err := op.Stop(); !errors.Is(err, ErrNotRunning) {
		t.Errorf("Stop on idle operation = %v, want ErrNotRunning", err)
	}
	if err := op.SetError(errors.New("boom")); !errors.Is(err, ErrNotRunning) {
		t.Errorf("SetError on idle operation = %v, want ErrNotRunning", err)
	}
	if err := op.Cancel(); !errors.Is(err, ErrNotRunning) {
		t.Errorf("Cancel on idle operation = %v, want ErrNotRunning", err)
	}
	if op.Status() != StatusIdle {
		t.Fatalf("refused mutations moved status to %s", op.Status())
	}

	_ = op.Start(Options{})
	if err := op.Stop(); err != nil {
		t.Fatalf("Stop on running operation: %v", err)
	}
	if err := op.Stop(); !errors.Is(err, ErrNotRunning) {
		t.Errorf("second Stop = %v, want ErrNotRunning", err)
	}
	if op.Status() != StatusCompleted {
		t.Errorf("status = %s, want completed", op.Status())
	}
}

func TestTimeoutFailsWithTimeoutError(t *testing.T) {
	op := New()
	_ = op.Start(Options{Timeout: 20 * time.Millisecond})
	token := op.Token()

	select {
	case <-token.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("timeout never fired")
	}
	if op.Status() != StatusFailed {
		t.Fatalf("status after timeout = %s", op.Status())
	}
	var te *TimeoutError
	if !errors.As(op.Err(), &te) {
		t.Fatalf("err = %v, want *TimeoutError", op.Err())
	}
	if te.After != 20*time.Millisecond {
		t.Errorf("TimeoutError.After = %v", te.After)
	}
}

func TestStopDisarmsTimeout(t *testing.T) {
	op := New()
	_ = op.Start(Options{Timeout: 30 * time.Millisecond})
	op.Stop()
	time.Sleep(60 * time.Millisecond)
	if op.Status() != StatusCompleted {
		t.Errorf("timer fired after Stop: status = %s", op.Status())
	}
}

func TestRetryBudget(t *testing.T) {
	op := New()
	_ = op.Start(Options{})
	op.SetError(errors.New("transient"))

	const maxRetries = 3
	for i := 1; i <= maxRetries; i++ {
		if err := op.Retry(maxRetries); err != nil {
			t.Fatalf("Retry %d: %v", i, err)
		}
		if op.Status() != StatusRunning {
			t.Fatalf("Retry %d did not re-enter running", i)
		}
		if got := op.Snapshot().RetryCount; got != i {
			t.Fatalf("retry count after Retry %d = %d", i, got)
		}
		op.SetError(errors.New("transient"))
	}

	// Budget spent: the next Retry must refuse and fail terminally.
	if err := op.Retry(maxRetries); !errors.Is(err, ErrMaxRetries) {
		t.Fatalf("Retry beyond budget = %v, want ErrMaxRetries", err)
	}
	if op.Status() != StatusFailed {
		t.Errorf("status = %s, want failed", op.Status())
	}
	if !errors.Is(op.Err(), ErrMaxRetries) {
		t.Errorf("err = %v, want ErrMaxRetries", op.Err())
	}
}

func TestStartResetsRetryCount(t *testing.T) {
	op := New()
	_ = op.Start(Options{})
	op.SetError(errors.New("x"))
	_ = op.Retry(5)
	op.SetError(errors.New("x"))

	if err := op.Start(Options{}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if got := op.Snapshot().RetryCount; got != 0 {
		t.Errorf("fresh Start kept retry count %d", got)
	}
}

func TestProgressClampsAndRequiresRunning(t *testing.T) {
	op := New()
	op.UpdateProgress(50) // idle, ignored
	if op.Snapshot().HasProgress {
		t.Error("progress recorded while idle")
	}
	_ = op.Start(Options{})
	op.UpdateProgress(-10)
	if got := op.Snapshot().Progress; got != 0 {
		t.Errorf("progress = %v, want clamp to 0", got)
	}
	op.UpdateProgress(150)
	if got := op.Snapshot().Progress; got != 100 {
		t.Errorf("progress = %v, want clamp to 100", got)
	}
}

func TestSubTasksDriveProgress(t *testing.T) {
	op := New()
	_ = op.Start(Options{})
	op.AddSubTask(SubTask{ID: "a", Status: "pending"})
	op.AddSubTask(SubTask{ID: "b", Status: "pending"})
	op.AddSubTask(SubTask{ID: "c", Status: "pending"})
	op.AddSubTask(SubTask{ID: "d", Status: "pending"})

	if got := op.Snapshot().Progress; got != 0 {
		t.Fatalf("initial aggregate = %v", got)
	}
	if !op.UpdateSubTask("a", SubTaskPatch{Status: strPtr("completed")}) {
		t.Fatal("UpdateSubTask a not found")
	}
	op.UpdateSubTask("b", SubTaskPatch{Status: strPtr("completed")})
	if got := op.Snapshot().Progress; got != 50 {
		t.Errorf("aggregate after 2/4 = %v, want 50", got)
	}

	// Explicit progress is ignored while sub-tasks own the aggregate.
	op.UpdateProgress(10)
	if got := op.Snapshot().Progress; got != 50 {
		t.Errorf("explicit progress overrode sub-task aggregate: %v", got)
	}
	if op.UpdateSubTask("nope", SubTaskPatch{Status: strPtr("completed")}) {
		t.Error("UpdateSubTask on unknown id reported true")
	}
}

func TestEstimatedRemaining(t *testing.T) {
	op := New()
	_ = op.Start(Options{})
	base := time.Now()
	op.now = func() time.Time { return base }
	op.mu.Lock()
	op.startedAt = base.Add(-10 * time.Second)
	op.mu.Unlock()
	op.UpdateProgress(25)

	remaining, ok := op.EstimatedRemaining()
	if !ok {
		t.Fatal("estimate unavailable")
	}
	if remaining != 30*time.Second {
		t.Errorf("remaining = %v, want 30s", remaining)
	}

	op.Stop()
	if _, ok := op.EstimatedRemaining(); ok {
		t.Error("estimate available after completion")
	}
}

func TestEstimatedRemainingUndefinedAtZeroProgress(t *testing.T) {
	op := New()
	_ = op.Start(Options{})
	if _, ok := op.EstimatedRemaining(); ok {
		t.Error("estimate available with no progress")
	}
}
