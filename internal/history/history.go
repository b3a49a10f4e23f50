package history

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/loykin/livesync/internal/state"
)

// Event represents one completed task to be exported to external systems.
type Event struct {
	OccurredAt time.Time        `json:"occurred_at"`
	Task       state.TaskRecord `json:"task"`
}

// Sink is a destination for task history events (audit/statistics systems).
// Implementations must be safe for concurrent use.
type Sink interface {
	Send(ctx context.Context, e Event) error
	Close() error
}

// Recorder fans task events out to every configured sink from its own
// goroutine. Record never blocks the caller: events queue on a buffered
// channel and are dropped with a warning when the drain falls behind, so
// a slow or hung sink cannot stall event application. Sink failures are
// logged and do not affect the other sinks.
type Recorder struct {
	sinks  []Sink
	logger *slog.Logger

	mu     sync.Mutex
	closed bool
	events chan Event
	done   chan struct{}
}

func NewRecorder(logger *slog.Logger, sinks ...Sink) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Recorder{
		sinks:  sinks,
		logger: logger,
		events: make(chan Event, 256),
		done:   make(chan struct{}),
	}
	go r.drain()
	return r
}

func (r *Recorder) drain() {
	defer close(r.done)
	for e := range r.events {
		for _, s := range r.sinks {
			if err := s.Send(context.Background(), e); err != nil {
				r.logger.Warn("history sink send failed", "task_id", e.Task.ID, "err", err)
			}
		}
	}
}

// Record queues the task for delivery to all sinks. It returns
// immediately; a full queue drops the event rather than blocking.
func (r *Recorder) Record(task state.TaskRecord) {
	e := Event{OccurredAt: time.Now().UTC(), Task: task}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	select {
	case r.events <- e:
	default:
		r.logger.Warn("history sinks lagging; dropping task event", "task_id", task.ID)
	}
}

// Close drains the queue, then closes every sink. It returns the first
// sink close error encountered.
func (r *Recorder) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	close(r.events)
	r.mu.Unlock()
	<-r.done

	var first error
	for _, s := range r.sinks {
		if err := s.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
