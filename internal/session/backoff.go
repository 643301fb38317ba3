package session

import (
	"math/rand"
	"time"
)

// Backoff computes reconnect delays: capped exponential growth plus a
// random jitter so simultaneous clients do not reconnect in lockstep.
type Backoff struct {
	Base   time.Duration
	Cap    time.Duration
	Jitter time.Duration

	// rand returns a value in [0, 1). Injectable for tests.
	rand func() float64
}

func NewBackoff(base, ceiling, jitter time.Duration) Backoff {
	return Backoff{Base: base, Cap: ceiling, Jitter: jitter, rand: rand.Float64}
}

// Delay returns the wait before reconnect attempt number attempt
// (zero-based): min(base * 2^attempt, cap) plus jitter.
func (b Backoff) Delay(attempt int) time.Duration {
	d := b.Base
	for i := 0; i < attempt && d < b.Cap; i++ {
		d *= 2
	}
	if d > b.Cap {
		d = b.Cap
	}

	r := rand.Float64
	if b.rand != nil {
		r = b.rand
	}
	return d + time.Duration(r()*float64(b.Jitter))
}
