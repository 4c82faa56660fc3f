// Package ratelimit throttles outbound API calls to a fixed calls-per-second
// ceiling. All callers sharing a Limiter are serialized through one lock, so
// consecutive granted calls are always at least 1/rate apart.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Clock abstracts time retrieval and sleeping so the limiter is deterministic
// in tests.
type Clock interface {
	Now() time.Time
	Sleep(ctx context.Context, d time.Duration) error
}

// RealClock uses the actual wall clock.
type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }

func (RealClock) Sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

type Limiter struct {
	minInterval time.Duration
	clock       Clock

	mu       sync.Mutex
	lastCall time.Time
}

// New creates a limiter allowing callsPerSecond granted calls per second.
func New(callsPerSecond float64) *Limiter {
	return NewWithClock(callsPerSecond, RealClock{})
}

func NewWithClock(callsPerSecond float64, clock Clock) *Limiter {
	if callsPerSecond <= 0 {
		callsPerSecond = 1
	}
	return &Limiter{
		minInterval: time.Duration(float64(time.Second) / callsPerSecond),
		clock:       clock,
	}
}

// Wait blocks until at least 1/rate has elapsed since the previous granted
// call, then advances the last-call timestamp. Callers are served
// first-come-first-served through the lock. Returns early with the context's
// error if it is cancelled while waiting.
func (l *Limiter) Wait(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.lastCall.IsZero() {
		if wait := l.minInterval - l.clock.Now().Sub(l.lastCall); wait > 0 {
			if err := l.clock.Sleep(ctx, wait); err != nil {
				return err
			}
		}
	}
	l.lastCall = l.clock.Now()
	return nil
}
