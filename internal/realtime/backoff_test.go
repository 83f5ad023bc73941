package realtime

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func drain(b *Backoff) []time.Duration {
	var out []time.Duration
	for {
		d, ok := b.Next()
		if !ok {
			return out
		}
		out = append(out, d)
	}
}

func TestBackoff_DefaultSequence(t *testing.T) {
	b := NewBackoff(time.Second, 30*time.Second, 5)

	assert.Equal(t, []time.Duration{
		1 * time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		16 * time.Second,
	}, drain(b))

	_, ok := b.Next()
	assert.False(t, ok, "stays exhausted")

	b.Reset()
	d, ok := b.Next()
	assert.True(t, ok)
	assert.Equal(t, time.Second, d, "reset restarts from the initial delay")
}

func TestBackoff_Capped(t *testing.T) {
	b := NewBackoff(time.Second, 5*time.Second, 6)
	assert.Equal(t, []time.Duration{
		1 * time.Second,
		2 * time.Second,
		4 * time.Second,
		5 * time.Second,
		5 * time.Second,
		5 * time.Second,
	}, drain(b))
}

func TestBackoff_ZeroRetries(t *testing.T) {
	_, ok := NewBackoff(time.Second, time.Second, 0).Next()
	assert.False(t, ok)
}
