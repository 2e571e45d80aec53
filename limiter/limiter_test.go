package limiter

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTryAcquireUpToCapacity(t *testing.T) {
	l := NewRequestLimiter(3)

	for i := 0; i < 3; i++ {
		require.True(t, l.TryAcquire(), "acquire %d", i)
	}
	assert.False(t, l.TryAcquire())
	assert.Equal(t, 3, l.InFlight())

	l.Release()
	assert.Equal(t, 2, l.InFlight())
	assert.True(t, l.TryAcquire())

	stats := l.Stats()
	assert.Equal(t, 4, int(stats.Acquired))
	assert.Equal(t, 1, int(stats.Rejected))
	assert.Equal(t, 3, stats.Peak)
	assert.Equal(t, 3, stats.Capacity)
}

func TestDefaultCapacity(t *testing.T) {
	assert.Equal(t, DefaultMaxConcurrent, NewRequestLimiter(0).Capacity())
	assert.Equal(t, DefaultMaxConcurrent, NewRequestLimiter(-1).Capacity())
}

func TestReleaseWithNothingHeld(t *testing.T) {
	l := NewRequestLimiter(1)

	l.Release()
	assert.Equal(t, 0, l.InFlight())
	assert.True(t, l.TryAcquire())
}

// checkWithLimiter mirrors how callers guard a network call
func checkWithLimiter(l *RequestLimiter, call func() error) (bool, error) {
	if !l.TryAcquire() {
		return false, nil
	}
	defer l.Release()
	return true, call()
}

func TestReleaseOnFailure(t *testing.T) {
	l := NewRequestLimiter(3)
	before := l.InFlight()

	acquired, err := checkWithLimiter(l, func() error { return errors.New("network down") })
	assert.True(t, acquired)
	assert.Error(t, err)
	assert.Equal(t, before, l.InFlight())

	assert.Panics(t, func() {
		checkWithLimiter(l, func() error { panic("boom") })
	})
	assert.Equal(t, before, l.InFlight())
}

func TestConcurrentHoldersNeverExceedCapacity(t *testing.T) {
	l := NewRequestLimiter(3)

	var current, maxSeen atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for attempt := 0; attempt < 100; attempt++ {
				if !l.TryAcquire() {
					continue
				}
				n := current.Add(1)
				for {
					seen := maxSeen.Load()
					if n <= seen || maxSeen.CompareAndSwap(seen, n) {
						break
					}
				}
				current.Add(-1)
				l.Release()
			}
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, maxSeen.Load(), int64(3))
	assert.Equal(t, 0, l.InFlight())
	assert.LessOrEqual(t, l.Stats().Peak, 3)
}

func TestStatusView(t *testing.T) {
	l := NewRequestLimiter(2)
	l.TryAcquire()

	status := l.Status()
	assert.Equal(t, 1, status.InFlight)
	assert.Equal(t, 2, status.Capacity)
	assert.Equal(t, uint64(1), status.Acquired)
}

func BenchmarkTryAcquireRelease(b *testing.B) {
	l := NewRequestLimiter(DefaultMaxConcurrent)
	for i := 0; i < b.N; i++ {
		if l.TryAcquire() {
			l.Release()
		}
	}
}
