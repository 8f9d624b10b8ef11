// Copyright (c) 2025 Lazycat Apps
// Licensed under the MIT License. See LICENSE file in the project root for details.

package registry

import (
	"time"

	"github.com/sony/gobreaker/v2"
)

// BreakerSettings configures the per-instance circuit breaker. Defaults
// mirror a conservative production posture: five consecutive failures trips
// the breaker, a half-open probe is allowed after thirty seconds.
type BreakerSettings struct {
	ConsecutiveFailures uint32
	OpenTimeout         time.Duration
	HalfOpenMaxRequests uint32
}

// DefaultBreakerSettings returns the registry's default breaker posture.
func DefaultBreakerSettings() BreakerSettings {
	return BreakerSettings{
		ConsecutiveFailures: 5,
		OpenTimeout:         30 * time.Second,
		HalfOpenMaxRequests: 1,
	}
}

// breaker wraps gobreaker's two-step API: the worker calls Allow() before
// attempting a backend call, then reports the outcome with the returned
// done func. This "ask, then report" shape fits a long-running scan poll
// loop better than gobreaker's single Execute(func) wrapper, which would
// have to wrap an entire multi-hour scan lifecycle in one call.
type breaker struct {
	cb *gobreaker.TwoStepCircuitBreaker[struct{}]
}

func newBreaker(name string, s BreakerSettings) *breaker {
	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: s.HalfOpenMaxRequests,
		Timeout:     s.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= s.ConsecutiveFailures
		},
	}
	return &breaker{cb: gobreaker.NewTwoStepCircuitBreaker[struct{}](settings)}
}

// allow reports whether a call may proceed, and returns the function that
// must be invoked with the outcome once the call completes.
func (b *breaker) allow() (done func(success bool), err error) {
	d, err := b.cb.Allow()
	if err != nil {
		return nil, err
	}
	return d, nil
}

// state returns the breaker's current state name for status reporting.
func (b *breaker) state() string {
	return b.cb.State().String()
}
