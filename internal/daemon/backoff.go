package daemon

import (
	"time"

	"github.com/cenkalti/backoff/v5"
)

// BackoffConfig shapes reconnect delays.
type BackoffConfig struct {
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64
}

// DefaultBackoffConfig doubles from 5s up to a 60s ceiling.
func DefaultBackoffConfig() BackoffConfig {
	return BackoffConfig{
		Initial:    5 * time.Second,
		Max:        60 * time.Second,
		Multiplier: 2,
	}
}

// Backoff hands out reconnect delays. Not safe for concurrent use; the
// controller loop owns it.
type Backoff struct {
	b *backoff.ExponentialBackOff
}

// NewBackoff creates a deterministic (no jitter) exponential backoff.
func NewBackoff(cfg BackoffConfig) *Backoff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = cfg.Initial
	b.MaxInterval = cfg.Max
	b.Multiplier = cfg.Multiplier
	b.RandomizationFactor = 0
	b.Reset()
	return &Backoff{b: b}
}

// Next returns the delay before the next attempt.
func (b *Backoff) Next() time.Duration {
	return b.b.NextBackOff()
}

// Reset starts over from the initial delay.
func (b *Backoff) Reset() {
	b.b.Reset()
}
