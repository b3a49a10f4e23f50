package state

import (
	"fmt"
	"testing"
	"time"
)

func agentAt(id string, status string, ts time.Time) Agent {
	return Agent{ID: id, Name: id, Status: status, LastUpdated: ts}
}

func TestApplyAgentIdempotent(t *testing.T) {
	s := NewStore(10, nil)
	ts := time.Now()
	a := agentAt("researcher", "idle", ts)

	if !s.ApplyAgent(a) {
		t.Fatalf("first apply rejected")
	}
	// Same timestamp is a tie and must be accepted again.
	if !s.ApplyAgent(a) {
		t.Fatalf("idempotent re-apply rejected")
	}
	snap := s.Snapshot()
	if len(snap.Agents) != 1 {
		t.Fatalf("expected 1 agent, got %d", len(snap.Agents))
	}
	if got := snap.Agents["researcher"].Status; got != "idle" {
		t.Errorf("expected status idle, got %s", got)
	}
}

func TestApplyAgentRejectsStale(t *testing.T) {
	s := NewStore(10, nil)
	base := time.Now()

	if !s.ApplyAgent(agentAt("worker", "busy", base.Add(5*time.Second))) {
		t.Fatalf("newer record rejected")
	}
	if s.ApplyAgent(agentAt("worker", "idle", base.Add(3*time.Second))) {
		t.Fatalf("stale record accepted")
	}
	if got := s.Snapshot().Agents["worker"].Status; got != "busy" {
		t.Errorf("expected status busy after stale apply, got %s", got)
	}
}

func TestApplySystemStatusRejectsStale(t *testing.T) {
	s := NewStore(10, nil)
	base := time.Now()

	s.ApplySystemStatus(SystemStatus{Healthy: true, ActiveAgents: 3, LastUpdated: base.Add(5 * time.Second)})
	if s.ApplySystemStatus(SystemStatus{Healthy: false, LastUpdated: base.Add(3 * time.Second)}) {
		t.Fatalf("stale system status accepted")
	}
	snap := s.Snapshot()
	if !snap.HasSystem || !snap.System.Healthy || snap.System.ActiveAgents != 3 {
		t.Errorf("system status overwritten by stale update: %+v", snap.System)
	}
}

func TestAppendTaskBounded(t *testing.T) {
	const capacity = 10
	s := NewStore(capacity, nil)
	base := time.Now()

	for i := 0; i < capacity+5; i++ {
		s.AppendTask(TaskRecord{
			ID:          fmt.Sprintf("task-%d", i),
			Status:      "completed",
			CompletedAt: base.Add(time.Duration(i) * time.Second),
		})
	}
	snap := s.Snapshot()
	if len(snap.TaskHistory) != capacity {
		t.Fatalf("expected history of %d, got %d", capacity, len(snap.TaskHistory))
	}
	// Newest first; oldest five evicted.
	if snap.TaskHistory[0].ID != "task-14" {
		t.Errorf("expected newest task-14 first, got %s", snap.TaskHistory[0].ID)
	}
	if snap.TaskHistory[capacity-1].ID != "task-5" {
		t.Errorf("expected oldest surviving task-5 last, got %s", snap.TaskHistory[capacity-1].ID)
	}
}

func TestAppendTaskUpsertPromotes(t *testing.T) {
	s := NewStore(10, nil)
	s.AppendTask(TaskRecord{ID: "a", Status: "running"})
	s.AppendTask(TaskRecord{ID: "b", Status: "running"})
	s.AppendTask(TaskRecord{ID: "a", Status: "completed", Result: "done"})

	snap := s.Snapshot()
	if len(snap.TaskHistory) != 2 {
		t.Fatalf("expected 2 entries after upsert, got %d", len(snap.TaskHistory))
	}
	if snap.TaskHistory[0].ID != "a" || snap.TaskHistory[0].Status != "completed" {
		t.Errorf("expected a/completed promoted to front, got %s/%s",
			snap.TaskHistory[0].ID, snap.TaskHistory[0].Status)
	}
	if snap.TaskHistory[1].ID != "b" {
		t.Errorf("expected b second, got %s", snap.TaskHistory[1].ID)
	}
}

func TestTaskObserverSeesAcceptedTasks(t *testing.T) {
	s := NewStore(10, nil)
	var seen []string
	s.SetTaskObserver(func(tr TaskRecord) { seen = append(seen, tr.ID) })

	s.AppendTask(TaskRecord{ID: "x"})
	s.AppendTask(TaskRecord{}) // missing id, dropped
	s.AppendTask(TaskRecord{ID: "y"})

	if len(seen) != 2 || seen[0] != "x" || seen[1] != "y" {
		t.Errorf("observer saw %v, want [x y]", seen)
	}
}

func TestSnapshotIsIndependent(t *testing.T) {
	s := NewStore(10, nil)
	ts := time.Now()
	s.ApplyAgent(agentAt("a1", "idle", ts))
	s.AppendTask(TaskRecord{ID: "t1"})

	snap := s.Snapshot()
	snap.Agents["a1"] = agentAt("a1", "mutated", ts)
	snap.TaskHistory[0].Status = "mutated"

	fresh := s.Snapshot()
	if fresh.Agents["a1"].Status == "mutated" {
		t.Errorf("snapshot mutation leaked into agent store")
	}
	if fresh.TaskHistory[0].Status == "mutated" {
		t.Errorf("snapshot mutation leaked into task history")
	}
}
