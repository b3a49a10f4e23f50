package state

import (
	"log/slog"
	"sync"

	"github.com/loykin/livesync/internal/metrics"
)

// DefaultHistoryCapacity bounds the task history when the caller does not
// choose a capacity.
const DefaultHistoryCapacity = 100

// Store merges partial backend updates into one authoritative local view.
// Merge rules:
//   - per entity key, last-write-wins by LastUpdated; ties accept the
//     incoming record; older records are silently discarded
//   - task history is newest-first, deduplicated by task id, bounded
//
// Stale data arriving out of order is an expected, non-exceptional
// condition; rejected applies are surfaced only at debug level.
// All methods are safe for concurrent use.
type Store struct {
	mu        sync.RWMutex
	agents    map[string]Agent
	system    SystemStatus
	hasSystem bool
	tasks     []TaskRecord
	capacity  int
	onTask    func(TaskRecord)
	logger    *slog.Logger
}

func NewStore(capacity int, logger *slog.Logger) *Store {
	if capacity <= 0 {
		capacity = DefaultHistoryCapacity
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		agents:   make(map[string]Agent),
		capacity: capacity,
		logger:   logger,
	}
}

// SetTaskObserver registers fn to be called after every accepted AppendTask.
// Used to fan completed tasks out to history sinks. Must be set before the
// store starts receiving updates.
func (s *Store) SetTaskObserver(fn func(TaskRecord)) {
	s.mu.Lock()
	s.onTask = fn
	s.mu.Unlock()
}

// ApplyAgent merges one agent record. It reports whether the record was
// accepted; false means it was older than the stored one and dropped.
func (s *Store) ApplyAgent(a Agent) bool {
	if a.ID == "" {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.agents[a.ID]; ok && a.LastUpdated.Before(cur.LastUpdated) {
		metrics.IncStaleDrop()
		s.logger.Debug("stale agent update ignored",
			"agent_id", a.ID, "incoming", a.LastUpdated, "stored", cur.LastUpdated)
		return false
	}
	s.agents[a.ID] = a
	return true
}

// ApplySystemStatus merges the backend-wide status record under the same
// last-write-wins rule as agents.
func (s *Store) ApplySystemStatus(st SystemStatus) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.hasSystem && st.LastUpdated.Before(s.system.LastUpdated) {
		metrics.IncStaleDrop()
		s.logger.Debug("stale system status ignored",
			"incoming", st.LastUpdated, "stored", s.system.LastUpdated)
		return false
	}
	s.system = st
	s.hasSystem = true
	return true
}

// AppendTask upserts t into the bounded history. A repeated task id
// replaces the existing entry's content and moves it to the front, so a
// task progressing from running to completed keeps a single entry. At
// capacity the oldest entry is evicted.
func (s *Store) AppendTask(t TaskRecord) {
	if t.ID == "" {
		return
	}
	s.mu.Lock()
	for i, cur := range s.tasks {
		if cur.ID == t.ID {
			s.tasks = append(s.tasks[:i], s.tasks[i+1:]...)
			break
		}
	}
	s.tasks = append([]TaskRecord{t}, s.tasks...)
	if len(s.tasks) > s.capacity {
		s.tasks = s.tasks[:s.capacity]
	}
	observer := s.onTask
	s.mu.Unlock()
	if observer != nil {
		observer(t)
	}
}

// Snapshot returns an independent copy of the current view.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	agents := make(map[string]Agent, len(s.agents))
	for id, a := range s.agents {
		agents[id] = a
	}
	tasks := make([]TaskRecord, len(s.tasks))
	copy(tasks, s.tasks)
	return Snapshot{
		Agents:      agents,
		System:      s.system,
		HasSystem:   s.hasSystem,
		TaskHistory: tasks,
	}
}

// TaskCount reports the current history length.
func (s *Store) TaskCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tasks)
}

// AgentCount reports the number of tracked agents.
func (s *Store) AgentCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.agents)
}
