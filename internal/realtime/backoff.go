package realtime

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Backoff yields reconnect delays of min(initial*2^attempt, max) for at most
// maxRetries attempts.
type Backoff struct {
	policy backoff.BackOff
}

// NewBackoff creates a capped, jitter-free exponential policy.
func NewBackoff(initial, max time.Duration, maxRetries int) *Backoff {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = initial
	exp.MaxInterval = max
	exp.Multiplier = 2
	exp.RandomizationFactor = 0
	exp.MaxElapsedTime = 0
	exp.Reset()

	if maxRetries < 0 {
		maxRetries = 0
	}
	return &Backoff{policy: backoff.WithMaxRetries(exp, uint64(maxRetries))}
}

// Next returns the delay before the next attempt. ok is false once the retry
// budget is spent.
func (b *Backoff) Next() (time.Duration, bool) {
	d := b.policy.NextBackOff()
	if d == backoff.Stop {
		return 0, false
	}
	return d, true
}

// Reset restores the full retry budget and the initial delay.
func (b *Backoff) Reset() {
	b.policy.Reset()
}
