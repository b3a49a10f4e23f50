package history

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	_ "modernc.org/sqlite"
)

// SQLSink appends task history events into a SQLite table task_history.
// The schema is created if missing.
// DSN examples:
//   - sqlite:///path/to/file.db or :memory:
//
// Note: this sink is independent from the in-memory store; it only appends.

type SQLSink struct {
	db *sql.DB
}

func NewSQLSinkFromDSN(dsn string) (*SQLSink, error) {
	d := strings.TrimSpace(dsn)
	if d == "" {
		return nil, errors.New("empty DSN for SQL history sink")
	}
	path := strings.TrimPrefix(d, "sqlite://")
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	s := &SQLSink{db: db}
	if err := s.ensureSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLSink) ensureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS task_history(
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			occurred_at TIMESTAMP NOT NULL,
			task_id TEXT NOT NULL,
			agent_id TEXT NOT NULL,
			status TEXT NOT NULL,
			result TEXT NULL,
			error TEXT NULL,
			execution_seconds REAL NOT NULL,
			completed_at TIMESTAMP NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_task_history_task_id ON task_history(task_id);`,
		`CREATE INDEX IF NOT EXISTS idx_task_history_agent_id ON task_history(agent_id);`,
	}
	for _, q := range stmts {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLSink) Send(ctx context.Context, e Event) error {
	t := e.Task
	result := interface{}(nil)
	if t.Result != "" {
		result = t.Result
	}
	taskErr := interface{}(nil)
	if t.Error != "" {
		taskErr = t.Error
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO task_history(occurred_at, task_id, agent_id, status, result, error, execution_seconds, completed_at)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?);`,
		e.OccurredAt.UTC(), t.ID, t.AgentID, t.Status, result, taskErr, t.ExecutionSeconds, t.CompletedAt.UTC())
	return err
}

func (s *SQLSink) Close() error { return s.db.Close() }
