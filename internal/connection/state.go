package connection

import "time"

// State is the push-channel lifecycle state. It is owned exclusively by
// the Manager and mutated only by its internal transition function.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateReconnecting State = "reconnecting"
	StateClosed       State = "closed"
)

func (s State) String() string { return string(s) }

// Transition is one observed state change, published to subscribers such
// as the notification coordinator.
type Transition struct {
	From    State
	To      State
	At      time.Time
	Attempt int   // reconnect attempt counter at transition time
	Err     error // transport error that caused the transition, if any
}
