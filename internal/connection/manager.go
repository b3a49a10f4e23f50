package connection

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/loykin/livesync/internal/event"
	"github.com/loykin/livesync/internal/metrics"
)

// ErrClosed is returned by Open after Close: a closed manager is terminal
// and never reconnects.
var ErrClosed = errors.New("connection manager closed")

// Config describes one managed push channel.
type Config struct {
	URL string
	// Dialer defaults to DialWebSocket.
	Dialer  Dialer
	Backoff Backoff
	// StabilityWindow is how long a connection must stay up before the
	// backoff attempt counter resets. A brief reconnect-then-drop keeps
	// the counter climbing. Tunable; defaults to 10s.
	StabilityWindow time.Duration
	// OnConnected runs on every Connected transition. The manager replays
	// nothing on reconnect; callers use this hook to request a fresh
	// snapshot from the REST surface.
	OnConnected func(ctx context.Context)
	Logger      *slog.Logger
}

// Manager owns the push-channel lifecycle: dialing, the read loop, and
// reconnection with capped exponential backoff. Decoded envelopes are
// delivered on a channel in strict arrival order. At most one live
// channel exists per manager; a second Open tears down the first.
type Manager struct {
	cfg Config

	mu          sync.Mutex
	state       State
	closed      bool
	cancel      context.CancelFunc
	done        chan struct{}
	lastAttempt int

	envelopes   chan event.Envelope
	transitions chan Transition
}

func NewManager(cfg Config) *Manager {
	if cfg.Dialer == nil {
		cfg.Dialer = DialWebSocket
	}
	if cfg.StabilityWindow <= 0 {
		cfg.StabilityWindow = DefaultStabilityWindow
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Manager{
		cfg:         cfg,
		state:       StateDisconnected,
		envelopes:   make(chan event.Envelope, 64),
		transitions: make(chan Transition, 32),
	}
}

// Envelopes delivers decoded push events in arrival order. The channel
// is closed by Close.
func (m *Manager) Envelopes() <-chan event.Envelope { return m.envelopes }

// Transitions delivers state changes. Slow consumers lose transitions
// rather than stalling the connection state machine. The channel is
// closed by Close, after the final Closed transition.
func (m *Manager) Transitions() <-chan Transition { return m.transitions }

func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Open starts the connect/read/reconnect loop. If a previous Open is
// still active it is torn down first, so at most one live channel exists.
func (m *Manager) Open(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	prevCancel, prevDone := m.cancel, m.done
	m.mu.Unlock()

	if prevCancel != nil {
		prevCancel()
		<-prevDone
	}

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		cancel()
		return ErrClosed
	}
	m.cancel = cancel
	m.done = done
	m.mu.Unlock()

	go m.run(runCtx, done)
	return nil
}

// Close shuts the channel down for good. Deliberate: no auto-reconnect
// logic may undo it.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	cancel, done := m.cancel, m.done
	attempt := m.lastAttempt
	m.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	m.transition(StateClosed, attempt, nil)
	// The run loop has stopped; closing the channels lets subscribers
	// (envelope routers, transition watchers) unwind instead of parking
	// on receive forever.
	close(m.transitions)
	close(m.envelopes)
}

func (m *Manager) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	attempt := 0
	for {
		if !m.transition(StateConnecting, attempt, nil) {
			return
		}
		conn, err := m.cfg.Dialer(ctx, m.cfg.URL)
		if err == nil {
			if !m.transition(StateConnected, attempt, nil) {
				_ = conn.Close()
				return
			}
			connectedAt := time.Now()
			if m.cfg.OnConnected != nil {
				go m.cfg.OnConnected(ctx)
			}
			err = m.readLoop(ctx, conn)
			_ = conn.Close()
			if ctx.Err() != nil {
				return
			}
			if time.Since(connectedAt) >= m.cfg.StabilityWindow {
				attempt = 0
			}
		} else if ctx.Err() != nil {
			return
		}

		metrics.IncReconnect()
		if !m.transition(StateReconnecting, attempt, err) {
			return
		}
		delay := m.cfg.Backoff.Delay(attempt)
		m.cfg.Logger.Info("stream reconnecting",
			"url", m.cfg.URL, "attempt", attempt, "delay", delay, "error", err)
		if !sleep(ctx, delay) {
			return
		}
		attempt++
	}
}

func (m *Manager) readLoop(ctx context.Context, conn Conn) error {
	for {
		data, err := conn.Read(ctx)
		if err != nil {
			return err
		}
		env, derr := event.Decode(data)
		if derr != nil {
			metrics.IncDecodeError()
			m.cfg.Logger.Warn("dropping undecodable frame", "error", derr)
			continue
		}
		select {
		case m.envelopes <- env:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// transition moves to next and publishes the change. It refuses to
// override Closed, reporting false so the run loop stops.
func (m *Manager) transition(next State, attempt int, cause error) bool {
	m.mu.Lock()
	if m.closed && next != StateClosed {
		m.mu.Unlock()
		return false
	}
	prev := m.state
	m.state = next
	if next == StateReconnecting {
		m.lastAttempt = attempt
	} else if next == StateConnected {
		m.lastAttempt = 0
	}
	m.mu.Unlock()

	if prev == next {
		return true
	}
	metrics.SetConnectionState(prev.String(), false)
	metrics.SetConnectionState(next.String(), true)
	t := Transition{From: prev, To: next, At: time.Now().UTC(), Attempt: attempt, Err: cause}
	select {
	case m.transitions <- t:
	default:
		m.cfg.Logger.Debug("transition subscriber lagging; dropping", "from", prev, "to", next)
	}
	return true
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
