package event

import (
	"log/slog"

	"github.com/loykin/livesync/internal/metrics"
)

// Handler consumes one routed envelope. Handlers run on the caller's
// goroutine; Route never reorders or buffers.
type Handler func(Envelope)

// Dispatcher routes envelopes to per-type handlers in arrival order.
// Types without a registered handler go to the fallback, which defaults
// to a no-op so new server event kinds never break old clients.
type Dispatcher struct {
	handlers map[Type]Handler
	fallback Handler
	logger   *slog.Logger
}

func NewDispatcher(logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		handlers: make(map[Type]Handler),
		logger:   logger,
	}
}

// Handle registers h for envelopes of type t, replacing any previous handler.
func (d *Dispatcher) Handle(t Type, h Handler) {
	d.handlers[t] = h
}

// HandleUnknown replaces the default no-op fallback for unregistered types.
func (d *Dispatcher) HandleUnknown(h Handler) {
	d.fallback = h
}

// Route invokes the handler registered for env's type. Registration is
// expected to be complete before the stream starts; Route takes no lock.
func (d *Dispatcher) Route(env Envelope) {
	metrics.IncEvent(string(env.Type))
	if h, ok := d.handlers[env.Type]; ok {
		h(env)
		return
	}
	if d.fallback != nil {
		d.fallback(env)
		return
	}
	d.logger.Debug("ignoring unhandled event type", "event_type", env.Type)
}
