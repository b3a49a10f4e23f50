package state

import (
	"encoding/json"
	"time"
)

// Agent is the tracked record for one remote agent, keyed by ID.
// LastUpdated orders concurrent updates: the store never lets an older
// record overwrite a newer one.
type Agent struct {
	ID          string          `json:"agent_id"`
	Name        string          `json:"name,omitempty"`
	Status      string          `json:"status"`
	Model       string          `json:"model,omitempty"`
	Detail      json.RawMessage `json:"detail,omitempty"`
	LastUpdated time.Time       `json:"last_updated"`
}

// SystemStatus is the single backend-wide health record.
type SystemStatus struct {
	Healthy          bool      `json:"healthy"`
	ActiveAgents     int       `json:"active_agents"`
	QueueDepth       int       `json:"queue_depth"`
	CompressionRatio float64   `json:"compression_ratio,omitempty"`
	Detail           string    `json:"detail,omitempty"`
	LastUpdated      time.Time `json:"last_updated"`
}

// TaskRecord is one task execution result kept in the bounded history.
type TaskRecord struct {
	ID               string    `json:"task_id"`
	AgentID          string    `json:"agent_id,omitempty"`
	Status           string    `json:"status"`
	Result           string    `json:"result,omitempty"`
	Error            string    `json:"error,omitempty"`
	ExecutionSeconds float64   `json:"execution_time_seconds,omitempty"`
	CompletedAt      time.Time `json:"completed_at"`
}

// Snapshot is an independent copy of the store contents. Mutating it
// never affects the store.
type Snapshot struct {
	Agents      map[string]Agent `json:"agents"`
	System      SystemStatus     `json:"system_status"`
	HasSystem   bool             `json:"has_system_status"`
	TaskHistory []TaskRecord     `json:"task_history"`
}
