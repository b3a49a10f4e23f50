package connection

import (
	"context"
	"fmt"
	"time"

	"github.com/coder/websocket"
)

// TransportError wraps channel-level failures (refused dial, dropped
// connection). It is always recoverable: the Manager routes it to
// Reconnecting, never to the caller.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string { return fmt.Sprintf("transport %s: %v", e.Op, e.Err) }

func (e *TransportError) Unwrap() error { return e.Err }

// Conn is one live push channel. The Manager owns at most one at a time.
type Conn interface {
	// Read blocks for the next raw frame.
	Read(ctx context.Context) ([]byte, error)
	Close() error
}

// Dialer establishes a Conn. Tests inject scripted dialers; production
// uses DialWebSocket.
type Dialer func(ctx context.Context, url string) (Conn, error)

type wsConn struct {
	c *websocket.Conn
}

func (w *wsConn) Read(ctx context.Context) ([]byte, error) {
	_, data, err := w.c.Read(ctx)
	if err != nil {
		return nil, &TransportError{Op: "read", Err: err}
	}
	return data, nil
}

func (w *wsConn) Close() error {
	return w.c.Close(websocket.StatusNormalClosure, "bye")
}

// DialWebSocket opens a websocket push channel against url.
func DialWebSocket(ctx context.Context, url string) (Conn, error) {
	dctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	c, resp, err := websocket.Dial(dctx, url, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, &TransportError{Op: "dial", Err: err}
	}
	// Push feeds can outrun the default 32 KiB limit on busy backends.
	c.SetReadLimit(1 << 20)
	return &wsConn{c: c}, nil
}
