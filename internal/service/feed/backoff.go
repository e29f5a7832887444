package feed

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

// newBackoff returns the reconnect delay policy: initial, then doubling on
// every failure up to max, without jitter and without an overall deadline.
func newBackoff(initial, max time.Duration) *backoff.ExponentialBackOff {
	b := &backoff.ExponentialBackOff{
		InitialInterval:     initial,
		RandomizationFactor: 0,
		Multiplier:          2,
		MaxInterval:         max,
		MaxElapsedTime:      0,
		Stop:                backoff.Stop,
		Clock:               backoff.SystemClock,
	}
	b.Reset()
	return b
}
