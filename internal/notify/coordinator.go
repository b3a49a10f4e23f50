package notify

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/loykin/livesync/internal/connection"
	"github.com/loykin/livesync/internal/metrics"
)

type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

type Category string

const (
	CategoryConnection Category = "connection"
	CategoryOperation  Category = "operation"
)

// DefaultWindow is the dedupe window when the caller does not choose one.
const DefaultWindow = 2500 * time.Millisecond

// Record is one user-visible notification. Records sharing a DedupeKey
// within the dedupe window collapse into a single visible notification.
type Record struct {
	ID         string    `json:"id"`
	Category   Category  `json:"category"`
	Severity   Severity  `json:"severity"`
	Message    string    `json:"message"`
	CreatedAt  time.Time `json:"created_at"`
	DedupeKey  string    `json:"dedupe_key"`
	Persistent bool      `json:"persistent"`
}

// Coordinator decides which internal events the user actually sees. It
// observes connection transitions and operation outcomes, and suppresses
// repeats inside the dedupe window so a flapping connection cannot storm
// the user. Suppressed records are dropped, not queued.
// recentCap bounds the queryable log of delivered notifications.
const recentCap = 100

type Coordinator struct {
	mu       sync.Mutex
	window   time.Duration
	lastSeen map[string]time.Time
	recent   []Record
	out      chan Record
	logger   *slog.Logger
	now      func() time.Time
}

func NewCoordinator(window time.Duration, logger *slog.Logger) *Coordinator {
	if window <= 0 {
		window = DefaultWindow
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		window:   window,
		lastSeen: make(map[string]time.Time),
		out:      make(chan Record, 64),
		logger:   logger,
		now:      time.Now,
	}
}

// Events delivers the notifications that survived deduplication.
func (c *Coordinator) Events() <-chan Record { return c.out }

// Recent returns the latest delivered notifications, newest first.
func (c *Coordinator) Recent() []Record {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Record, len(c.recent))
	copy(out, c.recent)
	return out
}

// Notify offers one record for delivery. It reports false when the record
// was suppressed by the dedupe window.
func (c *Coordinator) Notify(rec Record) bool {
	now := c.now()
	c.mu.Lock()
	if rec.DedupeKey != "" {
		if seen, ok := c.lastSeen[rec.DedupeKey]; ok && now.Sub(seen) < c.window {
			c.mu.Unlock()
			metrics.IncSuppressed()
			c.logger.Debug("notification suppressed", "dedupe_key", rec.DedupeKey)
			return false
		}
		c.lastSeen[rec.DedupeKey] = now
		c.pruneLocked(now)
	}
	c.mu.Unlock()

	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now.UTC()
	}
	c.mu.Lock()
	c.recent = append([]Record{rec}, c.recent...)
	if len(c.recent) > recentCap {
		c.recent = c.recent[:recentCap]
	}
	c.mu.Unlock()
	metrics.IncNotification(string(rec.Severity))
	select {
	case c.out <- rec:
	default:
		c.logger.Warn("notification subscriber lagging; dropping", "dedupe_key", rec.DedupeKey)
	}
	return true
}

// pruneLocked drops dedupe entries older than the window so the map does
// not grow with every distinct key ever seen.
func (c *Coordinator) pruneLocked(now time.Time) {
	for k, seen := range c.lastSeen {
		if now.Sub(seen) >= c.window {
			delete(c.lastSeen, k)
		}
	}
}

// WatchConnection consumes manager transitions until the channel closes
// or every sender stops. Severity mapping: Reconnecting is informational
// and non-persistent; Closed after repeated failures is a warning.
func (c *Coordinator) WatchConnection(transitions <-chan connection.Transition) {
	for t := range transitions {
		c.connectionNotice(t)
	}
}

func (c *Coordinator) connectionNotice(t connection.Transition) {
	switch t.To {
	case connection.StateReconnecting:
		c.Notify(Record{
			Category:  CategoryConnection,
			Severity:  SeverityInfo,
			Message:   "connection lost; reconnecting",
			DedupeKey: "connection/reconnecting",
		})
	case connection.StateConnected:
		if t.From != connection.StateReconnecting && t.Attempt == 0 {
			return
		}
		c.Notify(Record{
			Category:  CategoryConnection,
			Severity:  SeverityInfo,
			Message:   "connection restored",
			DedupeKey: "connection/restored",
		})
	case connection.StateClosed:
		sev := SeverityInfo
		msg := "connection closed"
		if t.Attempt > 0 {
			sev = SeverityWarning
			msg = fmt.Sprintf("connection closed after %d failed reconnect attempts", t.Attempt)
		}
		c.Notify(Record{
			Category:  CategoryConnection,
			Severity:  sev,
			Message:   msg,
			DedupeKey: "connection/closed",
		})
	}
}

// OperationFailed surfaces a failed caller-issued operation. These are
// the only failures classified as error severity; they persist until
// dismissed by the UI layer.
func (c *Coordinator) OperationFailed(id string, err error) {
	c.Notify(Record{
		Category:   CategoryOperation,
		Severity:   SeverityError,
		Message:    fmt.Sprintf("operation %s failed: %v", id, err),
		DedupeKey:  "operation/" + id + "/failed",
		Persistent: true,
	})
}

// OperationCompleted surfaces a finished operation at info severity.
func (c *Coordinator) OperationCompleted(id string) {
	c.Notify(Record{
		Category:  CategoryOperation,
		Severity:  SeverityInfo,
		Message:   fmt.Sprintf("operation %s completed", id),
		DedupeKey: "operation/" + id + "/completed",
	})
}
