package operation

import (
	"context"
	"sync"
	"time"

	"github.com/loykin/livesync/internal/metrics"
)

// Status is the operation state machine position:
// Idle -> Running -> (Completed | Failed | Cancelled).
type Status string

const (
	StatusIdle      Status = "idle"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// SubTask is one unit of a multi-step operation. Parent progress is
// recomputed from sub-task completion.
type SubTask struct {
	ID     string `json:"id"`
	Name   string `json:"name,omitempty"`
	Status string `json:"status"` // pending, running, completed, failed
}

// SubTaskPatch updates selected SubTask fields.
type SubTaskPatch struct {
	Name   *string
	Status *string
}

// Options configures one run of an operation.
type Options struct {
	Phase string
	// Timeout forces the operation into Failed with a *TimeoutError and
	// invalidates its token, exactly as explicit cancellation. Zero
	// disables the timer.
	Timeout time.Duration
}

// View is an immutable snapshot of an operation for readers.
type View struct {
	Status          Status        `json:"status"`
	Err             error         `json:"-"`
	Error           string        `json:"error,omitempty"`
	Progress        float64       `json:"progress"`
	HasProgress     bool          `json:"has_progress"`
	Phase           string        `json:"phase,omitempty"`
	StartedAt       time.Time     `json:"started_at"`
	Elapsed         time.Duration `json:"elapsed"`
	RetryCount      int           `json:"retry_count"`
	CancelRequested bool          `json:"cancel_requested"`
	SubTasks        []SubTask     `json:"sub_tasks,omitempty"`
}

// Operation tracks one logical asynchronous unit of work independent of
// the push channel: loading, progress, retry, cancellation. Cancellation
// is cooperative via Token(): work must check the token before applying
// results, which is how a cancelled operation's late result is kept out
// of the state store.
type Operation struct {
	mu              sync.Mutex
	status          Status
	err             error
	progress        float64
	hasProgress     bool
	phase           string
	startedAt       time.Time
	retryCount      int
	cancelRequested bool
	subTasks        []SubTask

	ctx     context.Context
	cancel  context.CancelFunc
	timer   *time.Timer
	timeout time.Duration

	now func() time.Time
}

func New() *Operation {
	return &Operation{status: StatusIdle, now: time.Now}
}

// Start moves the operation into Running and arms its cancellation token
// (and timeout, if configured). Starting a running operation is an error.
func (o *Operation) Start(opts Options) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.status == StatusRunning {
		return &ValidationError{Reason: "operation already running"}
	}
	o.beginLocked(opts.Phase, opts.Timeout)
	o.retryCount = 0
	return nil
}

// beginLocked resets per-run state and arms token and timer.
func (o *Operation) beginLocked(phase string, timeout time.Duration) {
	o.status = StatusRunning
	o.err = nil
	o.progress = 0
	o.hasProgress = false
	o.phase = phase
	o.startedAt = o.now()
	o.cancelRequested = false
	o.subTasks = nil
	o.timeout = timeout
	o.ctx, o.cancel = context.WithCancel(context.Background())
	if o.timer != nil {
		o.timer.Stop()
		o.timer = nil
	}
	if timeout > 0 {
		o.timer = time.AfterFunc(timeout, o.expire)
	}
}

// Token returns the cancellation token for the current run. Asynchronous
// work tied to the operation must consult it before applying results.
func (o *Operation) Token() context.Context {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.ctx == nil {
		return context.Background()
	}
	return o.ctx
}

// Stop marks a running operation Completed. ErrNotRunning otherwise.
func (o *Operation) Stop() error {
	if !o.finish(StatusCompleted, nil) {
		return ErrNotRunning
	}
	return nil
}

// Cancel requests cooperative cancellation and moves a running operation
// to Cancelled. In-flight work is not preempted; its eventual result is
// discarded by the token check. ErrNotRunning when there is nothing to
// cancel.
func (o *Operation) Cancel() error {
	o.mu.Lock()
	if o.status != StatusRunning {
		o.mu.Unlock()
		return ErrNotRunning
	}
	o.cancelRequested = true
	o.mu.Unlock()
	o.finish(StatusCancelled, ErrCancelled)
	return nil
}

// SetError marks a running operation Failed with err. ErrNotRunning
// otherwise.
func (o *Operation) SetError(err error) error {
	if !o.finish(StatusFailed, err) {
		return ErrNotRunning
	}
	return nil
}

// finish reports whether the operation was actually running and moved
// to st.
func (o *Operation) finish(st Status, err error) bool {
	o.mu.Lock()
	if o.status != StatusRunning {
		o.mu.Unlock()
		return false
	}
	o.status = st
	o.err = err
	if o.timer != nil {
		o.timer.Stop()
		o.timer = nil
	}
	if o.cancel != nil {
		o.cancel()
	}
	o.mu.Unlock()
	metrics.IncOperation(string(st))
	return true
}

// expire is the timeout path: terminal Failed, token invalidated.
func (o *Operation) expire() {
	o.mu.Lock()
	timeout := o.timeout
	o.mu.Unlock()
	o.finish(StatusFailed, &TimeoutError{After: timeout})
}

// UpdateProgress sets explicit progress (0..100) on a running operation.
// Ignored while sub-tasks are registered; they own the aggregate then.
func (o *Operation) UpdateProgress(p float64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.status != StatusRunning || len(o.subTasks) > 0 {
		return
	}
	if p < 0 {
		p = 0
	}
	if p > 100 {
		p = 100
	}
	o.progress = p
	o.hasProgress = true
}

// Retry re-runs the operation unless the budget is spent: once retryCount
// reaches maxRetries the operation goes straight to Failed with
// ErrMaxRetries instead of re-entering Running.
func (o *Operation) Retry(maxRetries int) error {
	o.mu.Lock()
	if o.retryCount >= maxRetries {
		o.mu.Unlock()
		o.forceFail(ErrMaxRetries)
		return ErrMaxRetries
	}
	o.retryCount++
	count := o.retryCount
	o.beginLocked(o.phase, o.timeout)
	o.retryCount = count
	o.mu.Unlock()
	return nil
}

// forceFail marks the operation Failed regardless of current status.
func (o *Operation) forceFail(err error) {
	o.mu.Lock()
	changed := o.status != StatusFailed
	o.status = StatusFailed
	o.err = err
	if o.timer != nil {
		o.timer.Stop()
		o.timer = nil
	}
	if o.cancel != nil {
		o.cancel()
	}
	o.mu.Unlock()
	if changed {
		metrics.IncOperation(string(StatusFailed))
	}
}

// AddSubTask registers a sub-task and recomputes aggregate progress.
func (o *Operation) AddSubTask(st SubTask) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.subTasks = append(o.subTasks, st)
	o.recomputeProgressLocked()
}

// UpdateSubTask patches the sub-task with the given id. Progress is
// recomputed as completed/total*100 whenever completion changes.
func (o *Operation) UpdateSubTask(id string, patch SubTaskPatch) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	for i := range o.subTasks {
		if o.subTasks[i].ID != id {
			continue
		}
		if patch.Name != nil {
			o.subTasks[i].Name = *patch.Name
		}
		if patch.Status != nil {
			o.subTasks[i].Status = *patch.Status
		}
		o.recomputeProgressLocked()
		return true
	}
	return false
}

func (o *Operation) recomputeProgressLocked() {
	if len(o.subTasks) == 0 {
		return
	}
	completed := 0
	for _, st := range o.subTasks {
		if st.Status == "completed" {
			completed++
		}
	}
	o.progress = float64(completed) / float64(len(o.subTasks)) * 100
	o.hasProgress = true
}

// Elapsed reports time since the current run started.
func (o *Operation) Elapsed() time.Duration {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.startedAt.IsZero() {
		return 0
	}
	return o.now().Sub(o.startedAt)
}

// EstimatedRemaining linearly extrapolates from elapsed time and
// progress. Undefined (ok=false) when the operation is not running or
// progress is zero.
func (o *Operation) EstimatedRemaining() (time.Duration, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.status != StatusRunning || !o.hasProgress || o.progress <= 0 {
		return 0, false
	}
	elapsed := o.now().Sub(o.startedAt)
	total := time.Duration(float64(elapsed) / (o.progress / 100))
	remaining := total - elapsed
	if remaining < 0 {
		remaining = 0
	}
	return remaining, true
}

// Snapshot returns a copy of the visible operation state.
func (o *Operation) Snapshot() View {
	o.mu.Lock()
	defer o.mu.Unlock()
	v := View{
		Status:          o.status,
		Err:             o.err,
		Progress:        o.progress,
		HasProgress:     o.hasProgress,
		Phase:           o.phase,
		StartedAt:       o.startedAt,
		RetryCount:      o.retryCount,
		CancelRequested: o.cancelRequested,
	}
	if o.err != nil {
		v.Error = o.err.Error()
	}
	if !o.startedAt.IsZero() {
		v.Elapsed = o.now().Sub(o.startedAt)
	}
	if len(o.subTasks) > 0 {
		v.SubTasks = make([]SubTask, len(o.subTasks))
		copy(v.SubTasks, o.subTasks)
	}
	return v
}

// Status returns the current state machine position.
func (o *Operation) Status() Status {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.status
}

// Err returns the terminal error, if any.
func (o *Operation) Err() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.err
}
