package livesync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/loykin/livesync/internal/config"
	"github.com/loykin/livesync/internal/connection"
	"github.com/loykin/livesync/internal/event"
	"github.com/loykin/livesync/internal/history"
	"github.com/loykin/livesync/internal/metrics"
	"github.com/loykin/livesync/internal/notify"
	"github.com/loykin/livesync/internal/operation"
	"github.com/loykin/livesync/internal/state"
	"github.com/loykin/livesync/pkg/client"
)

// Re-export core types for external consumers.
// These are aliases so conversions are zero-cost.

type Agent = state.Agent

type SystemStatus = state.SystemStatus

type TaskRecord = state.TaskRecord

type Snapshot = state.Snapshot

type Notification = notify.Record

type Transition = connection.Transition

type OperationView = operation.View

type FileConfig = config.FileConfig

var (
	ErrMaxRetries = operation.ErrMaxRetries
	ErrCancelled  = operation.ErrCancelled
)

// Core wires the live synchronization pipeline together: the websocket
// connection manager feeds the dispatcher, the dispatcher updates the
// state store, completed tasks flow to the history recorder, and the
// notification coordinator watches connection transitions.
type Core struct {
	cfg         config.FileConfig
	logger      *slog.Logger
	api         *client.Client
	store       *state.Store
	dispatcher  *event.Dispatcher
	manager     *connection.Manager
	registry    *operation.Registry
	coordinator *notify.Coordinator
	recorder    *history.Recorder
}

// New builds a Core from the given configuration. The sqlite history
// sink is attached only when history.sqlite_dsn is set.
func New(cfg config.FileConfig, logger *slog.Logger) (*Core, error) {
	if logger == nil {
		logger = slog.Default()
	}
	st := state.NewStore(cfg.History.Capacity, logger)
	api := client.New(client.Config{
		BaseURL:    cfg.API.BaseURL,
		Timeout:    cfg.API.Timeout,
		Logger:     logger,
		MaxRetries: 3,
	})

	var sinks []history.Sink
	if dsn := cfg.History.SQLiteDSN; dsn != "" {
		sink, err := history.NewSQLSinkFromDSN(dsn)
		if err != nil {
			return nil, fmt.Errorf("open history sink: %w", err)
		}
		sinks = append(sinks, sink)
	}
	recorder := history.NewRecorder(logger, sinks...)
	st.SetTaskObserver(recorder.Record)

	c := &Core{
		cfg:         cfg,
		logger:      logger,
		api:         api,
		store:       st,
		registry:    operation.NewRegistry(),
		coordinator: notify.NewCoordinator(cfg.Notify.DedupeWindow, logger),
		recorder:    recorder,
	}
	c.dispatcher = c.buildDispatcher()
	c.manager = connection.NewManager(connection.Config{
		URL: cfg.Stream.URL,
		Backoff: connection.Backoff{
			Base:   cfg.Stream.BaseDelay,
			Max:    cfg.Stream.MaxDelay,
			Jitter: cfg.Stream.Jitter,
		},
		StabilityWindow: cfg.Stream.StabilityWindow,
		OnConnected:     c.reseed,
		Logger:          logger,
	})
	return c, nil
}

// buildDispatcher maps stream event types onto store mutations. Payloads
// that fail to decode are logged and dropped; the stream stays up.
func (c *Core) buildDispatcher() *event.Dispatcher {
	d := event.NewDispatcher(c.logger)

	systemHandler := func(env event.Envelope) {
		var s state.SystemStatus
		if err := json.Unmarshal(env.Data, &s); err != nil {
			c.logger.Warn("bad system status payload", "err", err)
			return
		}
		if s.LastUpdated.IsZero() {
			s.LastUpdated = env.ReceivedAt
		}
		c.store.ApplySystemStatus(s)
	}
	d.Handle(event.TypeSystemStatus, systemHandler)
	d.Handle(event.TypeStatusUpdate, systemHandler)

	d.Handle(event.TypeAgentUpdate, func(env event.Envelope) {
		var a state.Agent
		if err := json.Unmarshal(env.Data, &a); err != nil {
			c.logger.Warn("bad agent payload", "err", err)
			return
		}
		if a.ID == "" {
			c.logger.Warn("agent payload missing agent_id")
			return
		}
		if a.LastUpdated.IsZero() {
			a.LastUpdated = env.ReceivedAt
		}
		c.store.ApplyAgent(a)
	})

	d.Handle(event.TypeTaskCompleted, func(env event.Envelope) {
		var t state.TaskRecord
		if err := json.Unmarshal(env.Data, &t); err != nil {
			c.logger.Warn("bad task payload", "err", err)
			return
		}
		if t.ID == "" {
			c.logger.Warn("task payload missing task_id")
			return
		}
		if t.CompletedAt.IsZero() {
			t.CompletedAt = env.ReceivedAt
		}
		c.store.AppendTask(t)
	})

	return d
}

// reseed refreshes the full state over REST after each (re)connect so
// updates missed while disconnected are not lost.
func (c *Core) reseed(ctx context.Context) {
	if status, err := c.api.SystemStatus(ctx); err != nil {
		c.logger.Warn("reseed system status failed", "err", err)
	} else {
		c.store.ApplySystemStatus(status)
	}
	agents, err := c.api.Agents(ctx)
	if err != nil {
		c.logger.Warn("reseed agents failed", "err", err)
		return
	}
	for _, a := range agents {
		c.store.ApplyAgent(a)
	}
}

// Run opens the stream connection and starts the routing goroutines.
// It returns once the pipeline is up; events flow in the background
// until Close.
func (c *Core) Run(ctx context.Context) error {
	if err := c.manager.Open(ctx); err != nil {
		return err
	}
	go c.coordinator.WatchConnection(c.manager.Transitions())
	go func() {
		for env := range c.manager.Envelopes() {
			c.dispatcher.Route(env)
		}
	}()
	return nil
}

// Close stops the connection and flushes the history sinks.
func (c *Core) Close() error {
	c.manager.Close()
	return c.recorder.Close()
}

// Snapshot returns a deep copy of the current dashboard state.
func (c *Core) Snapshot() Snapshot { return c.store.Snapshot() }

// Notifications delivers deduplicated user-facing notifications.
func (c *Core) Notifications() <-chan Notification { return c.coordinator.Events() }

// ConnectionState reports the stream connection state.
func (c *Core) ConnectionState() connection.State { return c.manager.State() }

// Operations returns a point-in-time view of all tracked operations.
func (c *Core) Operations() map[string]OperationView { return c.registry.Views() }

// Store exposes the state store for embedding (debug server wiring).
func (c *Core) Store() *state.Store { return c.store }

// Connection exposes the connection manager for embedding.
func (c *Core) Connection() *connection.Manager { return c.manager }

// Registry exposes the operation registry for embedding.
func (c *Core) Registry() *operation.Registry { return c.registry }

// Notifier exposes the notification coordinator for embedding.
func (c *Core) Notifier() *notify.Coordinator { return c.coordinator }

// ExecuteAgent runs an agent through the REST API while tracking it as
// an operation. A cancel issued through the registry aborts the request;
// results arriving after cancellation are discarded so the store never
// sees output from an abandoned run.
func (c *Core) ExecuteAgent(ctx context.Context, agentID string, params json.RawMessage) (TaskRecord, error) {
	if agentID == "" {
		return TaskRecord{}, &operation.ValidationError{Field: "agent_id", Reason: "must not be empty"}
	}
	if len(params) > 0 && !json.Valid(params) {
		return TaskRecord{}, &operation.ValidationError{Field: "parameters", Reason: "must be valid JSON"}
	}

	opID := "execute/" + agentID
	op, err := c.registry.StartOperation(opID, operation.Options{
		Phase:   "executing " + agentID,
		Timeout: c.cfg.API.Timeout + 5*time.Second,
	})
	if err != nil {
		return TaskRecord{}, err
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(op.Token(), cancel)
	defer stop()

	result, err := c.api.Execute(runCtx, agentID, params)
	if op.Token().Err() != nil {
		// Cancelled mid-flight; whatever came back is stale.
		c.logger.Info("discarding result of cancelled execution", "agent_id", agentID)
		return TaskRecord{}, ErrCancelled
	}
	if err != nil {
		c.registry.SetOperationError(opID, err)
		c.coordinator.OperationFailed(opID, err)
		return TaskRecord{}, err
	}

	task := result.ToTaskRecord(agentID)
	c.store.AppendTask(task)
	if result.Error != "" {
		execErr := errors.New(result.Error)
		c.registry.SetOperationError(opID, execErr)
		c.coordinator.OperationFailed(opID, execErr)
		return task, nil
	}
	if err := c.registry.StopOperation(opID); err == nil {
		c.coordinator.OperationCompleted(opID)
	}
	return task, nil
}

// CancelOperation aborts a running operation by id.
func (c *Core) CancelOperation(id string) error { return c.registry.CancelOperation(id) }

// RegisterMetrics registers the collectors on reg, or on the default
// registry when reg is nil.
func RegisterMetrics(reg prometheus.Registerer) error { return metrics.Register(reg) }

// LoadConfig reads configuration from path (defaults when empty).
func LoadConfig(path string) (FileConfig, error) { return config.Load(path) }
