// Package ratelimit paces intern calls with a token bucket shared by all
// workers of a run.
package ratelimit

import (
	"context"
	"math"
	"sync"
	"time"
)

// Limiter hands out one token per intern call. A nil Limiter never waits.
type Limiter struct {
	mu       sync.Mutex
	rate     float64
	burst    float64
	tokens   float64
	lastFill time.Time
	waited   time.Duration
	granted  uint64
}

// Status describes the bucket and how much pacing it has applied so far.
type Status struct {
	Rate      float64
	Burst     float64
	Remaining float64
	Granted   uint64
	Waited    time.Duration
}

// New returns a limiter allowing rate calls per second with a burst of
// burst calls. A non-positive rate returns nil. Burst defaults to one
// second worth of calls.
func New(rate float64, burst int) *Limiter {
	if rate <= 0 {
		return nil
	}
	b := float64(burst)
	if b <= 0 {
		b = math.Max(rate, 1)
	}
	return &Limiter{
		rate:     rate,
		burst:    b,
		tokens:   b,
		lastFill: time.Now(),
	}
}

// TryTake consumes a token if one is available.
func (l *Limiter) TryTake() bool {
	if l == nil {
		return true
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.refillLocked(time.Now())
	if l.tokens < 1 {
		return false
	}
	l.tokens--
	l.granted++
	return true
}

// Wait blocks until a token is available or ctx is done.
func (l *Limiter) Wait(ctx context.Context) error {
	if l == nil {
		return nil
	}
	start := time.Now()
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		l.mu.Lock()
		now := time.Now()
		l.refillLocked(now)
		if l.tokens >= 1 {
			l.tokens--
			l.granted++
			l.waited += now.Sub(start)
			l.mu.Unlock()
			return nil
		}
		delay := time.Duration((1 - l.tokens) / l.rate * float64(time.Second))
		l.mu.Unlock()
		if delay < time.Millisecond {
			delay = time.Millisecond
		}

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}
}

func (l *Limiter) refillLocked(now time.Time) {
	elapsed := now.Sub(l.lastFill)
	if elapsed <= 0 {
		l.lastFill = now
		return
	}
	l.tokens = math.Min(l.burst, l.tokens+elapsed.Seconds()*l.rate)
	l.lastFill = now
}

// Status returns a snapshot of the bucket.
func (l *Limiter) Status() Status {
	if l == nil {
		return Status{}
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.refillLocked(time.Now())
	return Status{
		Rate:      l.rate,
		Burst:     l.burst,
		Remaining: l.tokens,
		Granted:   l.granted,
		Waited:    l.waited,
	}
}
