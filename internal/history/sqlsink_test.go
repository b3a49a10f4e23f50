package history

import (
	"context"
	"testing"
	"time"

	"github.com/loykin/livesync/internal/state"
)

func TestSQLSinkRoundTrip(t *testing.T) {
	s, err := NewSQLSinkFromDSN(":memory:")
	if err != nil {
		t.Fatalf("NewSQLSinkFromDSN: %v", err)
	}
	defer func() { _ = s.Close() }()

	e := Event{
		OccurredAt: time.Now(),
		Task: state.TaskRecord{
			ID:               "t1",
			AgentID:          "researcher",
			Status:           "completed",
			Result:           "42",
			ExecutionSeconds: 1.5,
			CompletedAt:      time.Now(),
		},
	}
	if err := s.Send(context.Background(), e); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if err := s.Send(context.Background(), e); err != nil {
		t.Fatalf("second Send: %v", err)
	}

	var count int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM task_history WHERE task_id = ?`, "t1").Scan(&count); err != nil {
		t.Fatalf("count query: %v", err)
	}
	if count != 2 {
		t.Errorf("rows = %d, want 2 (append-only)", count)
	}

	var agentID, status string
	err = s.db.QueryRow(`SELECT agent_id, status FROM task_history LIMIT 1`).Scan(&agentID, &status)
	if err != nil {
		t.Fatalf("row query: %v", err)
	}
	if agentID != "researcher" || status != "completed" {
		t.Errorf("stored %s/%s", agentID, status)
	}
}

func TestSQLSinkEmptyDSN(t *testing.T) {
	if _, err := NewSQLSinkFromDSN("  "); err == nil {
		t.Fatal("empty DSN accepted")
	}
}

// failSink always errors; the recorder must log and continue.
type failSink struct{ sends int }

func (f *failSink) Send(ctx context.Context, e Event) error {
	f.sends++
	return context.DeadlineExceeded
}

func (f *failSink) Close() error { return nil }

// captureSink records everything it receives.
type captureSink struct{ events []Event }

func (c *captureSink) Send(ctx context.Context, e Event) error {
	c.events = append(c.events, e)
	return nil
}

func (c *captureSink) Close() error { return nil }

func TestRecorderFansOutPastFailures(t *testing.T) {
	bad := &failSink{}
	good := &captureSink{}
	r := NewRecorder(nil, bad, good)

	r.Record(state.TaskRecord{ID: "t1"})
	r.Record(state.TaskRecord{ID: "t2"})

	// Close waits for the queue to drain before closing the sinks.
	if err := r.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if bad.sends != 2 {
		t.Errorf("failing sink saw %d sends", bad.sends)
	}
	if len(good.events) != 2 {
		t.Fatalf("healthy sink saw %d events, want 2", len(good.events))
	}
	if good.events[0].Task.ID != "t1" || good.events[1].Task.ID != "t2" {
		t.Errorf("healthy sink events out of order: %+v", good.events)
	}
	// Record after Close is a quiet no-op.
	r.Record(state.TaskRecord{ID: "t3"})
	if len(good.events) != 2 {
		t.Errorf("record after Close reached a sink")
	}
}

// blockSink holds every Send until released, standing in for a hung
// database connection.
type blockSink struct{ release chan struct{} }

func (b *blockSink) Send(ctx context.Context, e Event) error {
	<-b.release
	return nil
}

func (b *blockSink) Close() error { return nil }

func TestRecordNeverBlocksOnSlowSink(t *testing.T) {
	sink := &blockSink{release: make(chan struct{})}
	r := NewRecorder(nil, sink)

	start := time.Now()
	for i := 0; i < 50; i++ {
		r.Record(state.TaskRecord{ID: "t"})
	}
	if elapsed := time.Since(start); elapsed > 200*time.Millisecond {
		t.Fatalf("Record stalled for %v behind a busy sink", elapsed)
	}

	close(sink.release)
	if err := r.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
}
