package operation

import (
	"fmt"
	"sync"
)

// Registry tracks arbitrarily many concurrent operations by id. Entries
// are added on start and removed only explicitly, so cardinality stays
// caller-controlled. Operations are fully independent: no ordering is
// guaranteed or required between them.
type Registry struct {
	mu  sync.RWMutex
	ops map[string]*Operation
}

func NewRegistry() *Registry {
	return &Registry{ops: make(map[string]*Operation)}
}

// StartOperation creates and starts a tracked operation under id.
// Restarting an id whose operation is still running is an error.
func (r *Registry) StartOperation(id string, opts Options) (*Operation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if op, ok := r.ops[id]; ok && op.Status() == StatusRunning {
		return nil, fmt.Errorf("operation %q already running", id)
	}
	op := New()
	if err := op.Start(opts); err != nil {
		return nil, err
	}
	r.ops[id] = op
	return op, nil
}

// Get returns the operation for id, if tracked.
func (r *Registry) Get(id string) (*Operation, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	op, ok := r.ops[id]
	return op, ok
}

// StopOperation marks the operation Completed; ErrNotRunning when it has
// already reached a terminal state.
func (r *Registry) StopOperation(id string) error {
	op, ok := r.Get(id)
	if !ok {
		return fmt.Errorf("operation %q not tracked", id)
	}
	return op.Stop()
}

// SetOperationError marks the operation Failed with err.
func (r *Registry) SetOperationError(id string, err error) error {
	op, ok := r.Get(id)
	if !ok {
		return fmt.Errorf("operation %q not tracked", id)
	}
	return op.SetError(err)
}

// CancelOperation requests cooperative cancellation.
func (r *Registry) CancelOperation(id string) error {
	op, ok := r.Get(id)
	if !ok {
		return fmt.Errorf("operation %q not tracked", id)
	}
	return op.Cancel()
}

// RemoveOperation drops the entry. A still-running operation is cancelled
// first so its token consumers unwind.
func (r *Registry) RemoveOperation(id string) {
	r.mu.Lock()
	op, ok := r.ops[id]
	delete(r.ops, id)
	r.mu.Unlock()
	if ok && op.Status() == StatusRunning {
		_ = op.Cancel()
	}
}

// HasActive reports whether any tracked operation is running.
func (r *Registry) HasActive() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, op := range r.ops {
		if op.Status() == StatusRunning {
			return true
		}
	}
	return false
}

// HasErrors reports whether any tracked operation holds a terminal error.
func (r *Registry) HasErrors() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, op := range r.ops {
		if op.Err() != nil {
			return true
		}
	}
	return false
}

// Len reports the number of tracked operations.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.ops)
}

// Views snapshots every tracked operation.
func (r *Registry) Views() map[string]View {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]View, len(r.ops))
	for id, op := range r.ops {
		out[id] = op.Snapshot()
	}
	return out
}
