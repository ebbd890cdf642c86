package notify

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Reconnect delay defaults.
const (
	DefaultBackoffFloor   = 3 * time.Second
	DefaultBackoffCeiling = 30 * time.Second
)

// Backoff is a deterministic doubling delay: floor, 2*floor, 4*floor ... capped at ceiling.
// After N consecutive failures Delay returns min(floor*2^N, ceiling).
type Backoff struct {
	exp     *backoff.ExponentialBackOff
	pending time.Duration
}

func NewBackoff(floor, ceiling time.Duration) *Backoff {
	if floor <= 0 {
		floor = DefaultBackoffFloor
	}
	if ceiling < floor {
		ceiling = floor
	}

	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = floor
	exp.MaxInterval = ceiling
	exp.Multiplier = 2
	exp.RandomizationFactor = 0
	exp.MaxElapsedTime = 0

	b := &Backoff{exp: exp}
	b.Reset()
	return b
}

// Delay is the wait the next reconnect will use.
func (b *Backoff) Delay() time.Duration {
	return b.pending
}

// Next returns the current delay and doubles it for the following failure.
func (b *Backoff) Next() time.Duration {
	d := b.pending
	b.pending = b.exp.NextBackOff()
	return d
}

// Reset drops back to the floor.
func (b *Backoff) Reset() {
	b.exp.Reset()
	b.pending = b.exp.NextBackOff()
}
