package rate

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLimiter_ConcurrencyCap(t *testing.T) {
	l := NewLimiter(2, time.Millisecond, 2*time.Millisecond)
	ctx := context.Background()

	var inFlight, peak int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := l.Acquire(ctx); !assert.NoError(t, err) {
				return
			}
			n := atomic.AddInt32(&inFlight, 1)
			for {
				p := atomic.LoadInt32(&peak)
				if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			atomic.AddInt32(&inFlight, -1)
			l.Release()
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(2))
}

func TestLimiter_SpacingBetweenRequests(t *testing.T) {
	l := NewLimiter(1, 30*time.Millisecond, 30*time.Millisecond)
	ctx := context.Background()

	require.NoError(t, l.Acquire(ctx))
	l.Release()

	start := time.Now()
	require.NoError(t, l.Acquire(ctx))
	l.Release()

	assert.GreaterOrEqual(t, time.Since(start), 25*time.Millisecond)
}

func TestLimiter_ThrottlePause(t *testing.T) {
	l := NewLimiter(1, time.Millisecond, time.Millisecond)
	ctx := context.Background()

	l.HandleThrottled(50 * time.Millisecond)

	start := time.Now()
	require.NoError(t, l.Acquire(ctx))
	l.Release()

	assert.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)
}

func TestLimiter_AcquireCanceled(t *testing.T) {
	l := NewLimiter(1, time.Second, time.Second)
	ctx := context.Background()

	// Occupy the only slot.
	require.NoError(t, l.Acquire(ctx))

	canceled, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := l.Acquire(canceled)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	// The slot is still usable after the canceled waiter gave up.
	l.Release()
	require.NoError(t, l.Acquire(ctx))
	l.Release()
}

func TestLimiter_CancellationDuringDelayReleasesSlot(t *testing.T) {
	l := NewLimiter(1, 500*time.Millisecond, 500*time.Millisecond)

	require.NoError(t, l.Acquire(context.Background()))
	l.Release()

	// The next acquire must wait out the spacing delay; cancel it early.
	canceled, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.Error(t, l.Acquire(canceled))

	// The semaphore slot must have been returned.
	select {
	case l.sem <- struct{}{}:
		<-l.sem
	default:
		t.Fatal("semaphore slot leaked after canceled acquire")
	}
}

func TestLimiter_DefaultBackoff(t *testing.T) {
	l := NewLimiter(1, time.Millisecond, time.Millisecond)
	l.HandleThrottled(0)

	l.mu.Lock()
	remaining := time.Until(l.pausedUntil)
	l.mu.Unlock()

	assert.Greater(t, remaining, 25*time.Second)
	assert.LessOrEqual(t, remaining, DefaultBackoff)
}

func TestNewLimiter_Defaults(t *testing.T) {
	l := NewLimiter(0, 0, 0)
	assert.Equal(t, 3, cap(l.sem))
	assert.Equal(t, 2*time.Second, l.minDelay)
	assert.Equal(t, 5*time.Second, l.maxDelay)
}
