package relay

import (
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/julienstroheker/mavrelay/internal/endpoint"
)

// DefaultBackoff is the pause after an empty poll when none is configured
const DefaultBackoff = time.Second

// Class is the category a receive error falls into
type Class int

const (
	// Transient errors are retried after a backoff
	Transient Class = iota
	// Fatal errors end the endpoint's receive worker
	Fatal
)

func (c Class) String() string {
	if c == Transient {
		return "transient"
	}
	return "fatal"
}

// ErrorPolicy decides what a receive worker does with an error
type ErrorPolicy struct {
	// Backoff is the pause after a transient error
	Backoff time.Duration
	// BackoffMax, when set, makes consecutive pauses grow exponentially up to it
	BackoffMax time.Duration
}

// Classify maps a receive error to its class. Only "nothing arrived" is
// transient; anything else means the endpoint can no longer receive.
func (p ErrorPolicy) Classify(err error) Class {
	if errors.Is(err, endpoint.ErrNoData) {
		return Transient
	}
	return Fatal
}

// NewBackOff returns a fresh backoff for one worker. It never gives up.
func (p ErrorPolicy) NewBackOff() backoff.BackOff {
	initial := p.Backoff
	if initial <= 0 {
		initial = DefaultBackoff
	}
	if p.BackoffMax <= initial {
		return backoff.NewConstantBackOff(initial)
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = initial
	b.MaxInterval = p.BackoffMax
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}
