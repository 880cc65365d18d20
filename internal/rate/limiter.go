// Package rate throttles outbound unsubscribe attempts: a bounded
// number of operations in flight, a jittered pause between requests,
// and a global back-off when a server signals rate limiting.
package rate

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"
)

// DefaultBackoff is the pause applied after a 429 response that did
// not carry a Retry-After value.
const DefaultBackoff = 30 * time.Second

// Limiter gates outbound attempts. Acquire must be paired with Release
// on every exit path.
type Limiter struct {
	sem chan struct{}

	mu          sync.Mutex
	lastDone    time.Time
	pausedUntil time.Time
	minDelay    time.Duration
	maxDelay    time.Duration
	rng         *rand.Rand
}

// NewLimiter returns a limiter allowing at most concurrency operations
// in flight, spaced by a uniform random delay in [minDelay, maxDelay]
// since the previous operation completed. Non-positive arguments fall
// back to the defaults (3 concurrent, 2-5 s spacing).
func NewLimiter(concurrency int, minDelay, maxDelay time.Duration) *Limiter {
	if concurrency <= 0 {
		concurrency = 3
	}
	if minDelay <= 0 {
		minDelay = 2 * time.Second
	}
	if maxDelay < minDelay {
		maxDelay = minDelay + 3*time.Second
	}
	return &Limiter{
		sem:      make(chan struct{}, concurrency),
		minDelay: minDelay,
		maxDelay: maxDelay,
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Acquire blocks until an in-flight slot is free, the jittered spacing
// since the last completed request has elapsed, and any throttle pause
// has expired. It honors ctx cancellation on every wait.
func (l *Limiter) Acquire(ctx context.Context) error {
	select {
	case l.sem <- struct{}{}:
	case <-ctx.Done():
		return fmt.Errorf("rate acquire canceled: %w", ctx.Err())
	}

	for {
		wait := l.nextWait()
		if wait <= 0 {
			return nil
		}

		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
			// Re-check: another goroutine may have completed meanwhile,
			// or a throttle pause may have been set while we slept.
		case <-ctx.Done():
			timer.Stop()
			<-l.sem
			return fmt.Errorf("rate acquire canceled: %w", ctx.Err())
		}
	}
}

// Release frees the in-flight slot and stamps the global
// last-completion time. Callers must invoke it on success, failure,
// and cancellation alike.
func (l *Limiter) Release() {
	l.mu.Lock()
	l.lastDone = time.Now()
	l.mu.Unlock()
	<-l.sem
}

// HandleThrottled pauses all acquisition after a server rate-limit
// signal. retryAfter <= 0 applies the default back-off.
func (l *Limiter) HandleThrottled(retryAfter time.Duration) {
	if retryAfter <= 0 {
		retryAfter = DefaultBackoff
	}
	until := time.Now().Add(retryAfter)

	l.mu.Lock()
	if until.After(l.pausedUntil) {
		l.pausedUntil = until
	}
	l.mu.Unlock()
}

// nextWait computes how long the caller must still wait before
// proceeding, honoring both the jittered spacing and any pause.
func (l *Limiter) nextWait() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	var wait time.Duration

	if !l.lastDone.IsZero() {
		jitter := l.minDelay
		if span := l.maxDelay - l.minDelay; span > 0 {
			jitter += time.Duration(l.rng.Int63n(int64(span) + 1))
		}
		if next := l.lastDone.Add(jitter); next.After(now) {
			wait = next.Sub(now)
		}
	}
	if l.pausedUntil.After(now) {
		if paused := l.pausedUntil.Sub(now); paused > wait {
			wait = paused
		}
	}
	return wait
}
