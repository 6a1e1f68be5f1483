package pricefeed

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Timer is a pending one-shot callback
type Timer interface {
	Stop() bool
}

// Scheduler arms one-shot timers; tests substitute a manual one
type Scheduler interface {
	AfterFunc(d time.Duration, f func()) Timer
}

type wallClock struct{}

func (wallClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// newBackoff returns an unjittered exponential policy that never stops:
// base, 2*base, 4*base and so on, capped at maxDelay
func newBackoff(base, maxDelay time.Duration) *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = base
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxInterval = maxDelay
	b.MaxElapsedTime = 0
	b.Reset()

	return b
}
