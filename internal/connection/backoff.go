package connection

import (
	"math/rand"
	"time"
)

const (
	DefaultBaseDelay       = 500 * time.Millisecond
	DefaultMaxDelay        = 30 * time.Second
	DefaultJitter          = 0.2
	DefaultStabilityWindow = 10 * time.Second
)

// Backoff computes reconnect delays: base * 2^attempt capped at Max, with
// uniform +-Jitter applied after the cap. The attempt counter is owned by
// the Manager and resets only after a stable connected period, so a
// flapping connection keeps climbing instead of hammering the server.
type Backoff struct {
	Base   time.Duration
	Max    time.Duration
	Jitter float64        // fraction of the delay, e.g. 0.2 for +-20%
	Rand   func() float64 // uniform [0,1); nil uses math/rand
}

// Delay returns the wait before reconnect attempt n (0-based).
func (b Backoff) Delay(attempt int) time.Duration {
	base := b.Base
	if base <= 0 {
		base = DefaultBaseDelay
	}
	maxDelay := b.Max
	if maxDelay <= 0 {
		maxDelay = DefaultMaxDelay
	}
	d := base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= maxDelay {
			d = maxDelay
			break
		}
	}
	if d > maxDelay {
		d = maxDelay
	}
	if b.Jitter <= 0 {
		return d
	}
	rnd := b.Rand
	if rnd == nil {
		rnd = rand.Float64
	}
	// Map [0,1) onto [-jitter,+jitter).
	f := 1 + b.Jitter*(2*rnd()-1)
	jittered := time.Duration(float64(d) * f)
	if jittered < 0 {
		return 0
	}
	return jittered
}
