/*
Package limiter bounds how many status checks may be in flight at once.

The limiter is cooperative: TryAcquire never blocks. A caller that is refused a
slot waits a randomized delay and tries again instead of queueing.
*/
package limiter

import (
	"sync"

	"github.com/Nexora-Open-Source/markstatus/monitoring"
	"github.com/Nexora-Open-Source/markstatus/types"
)

// DefaultMaxConcurrent is the process-wide bound on in-flight status checks
const DefaultMaxConcurrent = 3

// Stats is a snapshot of limiter counters
type Stats struct {
	InFlight int
	Capacity int
	Peak     int
	Acquired uint64
	Rejected uint64
}

// RequestLimiter is a non-blocking counting semaphore
type RequestLimiter struct {
	mutex    sync.Mutex
	inFlight int
	max      int
	peak     int
	acquired uint64
	rejected uint64
}

// NewRequestLimiter creates a limiter admitting at most max concurrent holders.
// A non-positive max selects DefaultMaxConcurrent.
func NewRequestLimiter(max int) *RequestLimiter {
	if max <= 0 {
		max = DefaultMaxConcurrent
	}
	return &RequestLimiter{max: max}
}

// TryAcquire takes a slot if one is free and reports whether it did
func (l *RequestLimiter) TryAcquire() bool {
	l.mutex.Lock()
	if l.inFlight >= l.max {
		l.rejected++
		l.mutex.Unlock()
		monitoring.RecordLimiterRejection()
		return false
	}

	l.inFlight++
	l.acquired++
	if l.inFlight > l.peak {
		l.peak = l.inFlight
	}
	inFlight := l.inFlight
	l.mutex.Unlock()

	monitoring.UpdateChecksInFlight(inFlight)
	return true
}

// Release returns a slot taken by TryAcquire. Each successful acquire must be
// released exactly once; a release with nothing held is ignored.
func (l *RequestLimiter) Release() {
	l.mutex.Lock()
	if l.inFlight > 0 {
		l.inFlight--
	}
	inFlight := l.inFlight
	l.mutex.Unlock()

	monitoring.UpdateChecksInFlight(inFlight)
}

// InFlight returns the number of held slots
func (l *RequestLimiter) InFlight() int {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	return l.inFlight
}

// Capacity returns the maximum number of concurrent holders
func (l *RequestLimiter) Capacity() int {
	return l.max
}

// Stats returns a snapshot of the limiter counters
func (l *RequestLimiter) Stats() Stats {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	return Stats{
		InFlight: l.inFlight,
		Capacity: l.max,
		Peak:     l.peak,
		Acquired: l.acquired,
		Rejected: l.rejected,
	}
}

// Status returns the JSON view of the limiter
func (l *RequestLimiter) Status() types.LimiterStatus {
	s := l.Stats()
	return types.LimiterStatus{
		InFlight: s.InFlight,
		Capacity: s.Capacity,
		Peak:     s.Peak,
		Acquired: s.Acquired,
		Rejected: s.Rejected,
	}
}
