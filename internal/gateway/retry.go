package gateway

import (
	"math"
	"math/rand/v2"
	"time"
)

// Backoff controls how long a queue lane pauses after a failed operation and
// between consecutive operations.
type Backoff struct {
	Base      time.Duration
	Max       time.Duration
	JitterMin time.Duration
	JitterMax time.Duration
}

// DefaultBackoff returns a Backoff with a 1s base, a 5m cap and a
// 1.5s-3.5s inter-operation delay.
func DefaultBackoff() *Backoff {
	return &Backoff{
		Base:      1 * time.Second,
		Max:       5 * time.Minute,
		JitterMin: 1500 * time.Millisecond,
		JitterMax: 3500 * time.Millisecond,
	}
}

// Delay returns the pause after a failure observed with queueLen operations
// pending (the failed one included): Base * 2^queueLen, capped at Max when
// Max is positive.
func (b *Backoff) Delay(queueLen int) time.Duration {
	if queueLen < 0 {
		queueLen = 0
	}
	delay := float64(b.Base) * math.Pow(2, float64(queueLen))
	if b.Max > 0 && delay > float64(b.Max) {
		return b.Max
	}
	if delay > math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(delay)
}

// Jitter returns a uniformly random delay in [JitterMin, JitterMax).
func (b *Backoff) Jitter() time.Duration {
	span := b.JitterMax - b.JitterMin
	if span <= 0 {
		return b.JitterMin
	}
	return b.JitterMin + rand.N(span)
}
