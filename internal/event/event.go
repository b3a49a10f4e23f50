package event

import (
	"encoding/json"
	"fmt"
	"time"
)

// Type discriminates inbound push events. Servers may emit kinds this
// client has never seen; those are still valid envelopes.
type Type string

const (
	TypeSystemStatus  Type = "system_status"
	TypeStatusUpdate  Type = "status_update"
	TypeTaskCompleted Type = "task_completed"
	TypeAgentUpdate   Type = "agent_update"
)

// Envelope is one decoded push message. It is constructed per inbound
// frame and consumed immediately by the dispatcher; nothing stores it.
type Envelope struct {
	Type       Type            `json:"event_type"`
	Data       json.RawMessage `json:"data"`
	ReceivedAt time.Time       `json:"-"`
}

// DecodeError reports a frame that could not be turned into an Envelope.
// A single bad frame is dropped and logged; it never tears the stream down.
type DecodeError struct {
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("decode envelope: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("decode envelope: %s", e.Reason)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Decode parses a raw push frame into an Envelope. Decoding is strict:
// non-JSON payloads and envelopes without an event_type produce a
// *DecodeError. Unknown event_type values are not an error.
func Decode(raw []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}, &DecodeError{Reason: "malformed JSON", Err: err}
	}
	if env.Type == "" {
		return Envelope{}, &DecodeError{Reason: "missing event_type"}
	}
	env.ReceivedAt = time.Now().UTC()
	return env, nil
}
