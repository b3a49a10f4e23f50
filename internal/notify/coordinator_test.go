package notify

import (
	"errors"
	"testing"
	"time"

	"github.com/loykin/livesync/internal/connection"
)

func newTestCoordinator(window time.Duration) (*Coordinator, *time.Time) {
	c := NewCoordinator(window, nil)
	now := time.Now()
	c.now = func() time.Time { return now }
	return c, &now
}

func drain(c *Coordinator) []Record {
	var out []Record
	for {
		select {
		case r := <-c.Events():
			out = append(out, r)
		default:
			return out
		}
	}
}

func TestNotifySuppressesWithinWindow(t *testing.T) {
	c, now := newTestCoordinator(2500 * time.Millisecond)
	rec := Record{Category: CategoryConnection, Severity: SeverityInfo, Message: "m", DedupeKey: "k"}

	if !c.Notify(rec) {
		t.Fatal("first notify suppressed")
	}
	if c.Notify(rec) {
		t.Fatal("duplicate inside window delivered")
	}
	*now = now.Add(2400 * time.Millisecond)
	if c.Notify(rec) {
		t.Fatal("duplicate just inside window delivered")
	}
	*now = now.Add(200 * time.Millisecond)
	if !c.Notify(rec) {
		t.Fatal("notify after window suppressed")
	}
	if got := len(drain(c)); got != 2 {
		t.Errorf("delivered %d records, want 2", got)
	}
}

func TestNotifyDistinctKeysIndependent(t *testing.T) {
	c, _ := newTestCoordinator(time.Second)
	if !c.Notify(Record{Message: "a", DedupeKey: "a"}) {
		t.Error("first key suppressed")
	}
	if !c.Notify(Record{Message: "b", DedupeKey: "b"}) {
		t.Error("second key suppressed by first")
	}
}

func TestNotifyWithoutKeyNeverSuppressed(t *testing.T) {
	c, _ := newTestCoordinator(time.Second)
	for i := 0; i < 3; i++ {
		if !c.Notify(Record{Message: "no key"}) {
			t.Fatalf("keyless notify %d suppressed", i)
		}
	}
}

func TestNotifyFillsIDAndTimestamp(t *testing.T) {
	c, _ := newTestCoordinator(time.Second)
	c.Notify(Record{Message: "m", DedupeKey: "k"})
	recs := drain(c)
	if len(recs) != 1 {
		t.Fatalf("delivered %d", len(recs))
	}
	if recs[0].ID == "" {
		t.Error("ID not assigned")
	}
	if recs[0].CreatedAt.IsZero() {
		t.Error("CreatedAt not stamped")
	}
}

func TestRecentNewestFirst(t *testing.T) {
	c, _ := newTestCoordinator(time.Millisecond)
	c.Notify(Record{Message: "first", DedupeKey: "a"})
	c.Notify(Record{Message: "second", DedupeKey: "b"})

	recent := c.Recent()
	if len(recent) != 2 {
		t.Fatalf("recent = %d records", len(recent))
	}
	if recent[0].Message != "second" || recent[1].Message != "first" {
		t.Errorf("recent order = %q, %q", recent[0].Message, recent[1].Message)
	}
}

func TestConnectionSeverityMapping(t *testing.T) {
	c, _ := newTestCoordinator(time.Millisecond)

	c.connectionNotice(connection.Transition{
		From: connection.StateConnected, To: connection.StateReconnecting, Attempt: 0,
	})
	c.connectionNotice(connection.Transition{
		From: connection.StateReconnecting, To: connection.StateConnected, Attempt: 2,
	})
	c.connectionNotice(connection.Transition{
		From: connection.StateReconnecting, To: connection.StateClosed, Attempt: 4,
	})

	recs := drain(c)
	if len(recs) != 3 {
		t.Fatalf("delivered %d records, want 3", len(recs))
	}
	if recs[0].Severity != SeverityInfo || recs[0].Persistent {
		t.Errorf("reconnecting record = %+v, want transient info", recs[0])
	}
	if recs[1].Severity != SeverityInfo {
		t.Errorf("restored severity = %s", recs[1].Severity)
	}
	if recs[2].Severity != SeverityWarning {
		t.Errorf("closed-after-failures severity = %s, want warning", recs[2].Severity)
	}
}

func TestCleanCloseIsInfo(t *testing.T) {
	c, _ := newTestCoordinator(time.Millisecond)
	c.connectionNotice(connection.Transition{
		From: connection.StateConnected, To: connection.StateClosed, Attempt: 0,
	})
	recs := drain(c)
	if len(recs) != 1 || recs[0].Severity != SeverityInfo {
		t.Errorf("clean close records = %+v, want single info", recs)
	}
}

func TestInitialConnectIsSilent(t *testing.T) {
	c, _ := newTestCoordinator(time.Millisecond)
	c.connectionNotice(connection.Transition{
		From: connection.StateConnecting, To: connection.StateConnected, Attempt: 0,
	})
	if recs := drain(c); len(recs) != 0 {
		t.Errorf("initial connect produced %+v", recs)
	}
}

func TestOperationNotifications(t *testing.T) {
	c, _ := newTestCoordinator(time.Millisecond)
	c.OperationFailed("execute/researcher", errors.New("agent exploded"))
	c.OperationCompleted("execute/researcher")

	recs := drain(c)
	if len(recs) != 2 {
		t.Fatalf("delivered %d records", len(recs))
	}
	if recs[0].Severity != SeverityError || !recs[0].Persistent {
		t.Errorf("failure record = %+v, want persistent error", recs[0])
	}
	if recs[1].Severity != SeverityInfo || recs[1].Persistent {
		t.Errorf("completion record = %+v, want transient info", recs[1])
	}
}
