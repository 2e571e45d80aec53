/*
Package reconciler keeps the displayed mark status of feed items consistent
with the status cache and the remote API.

A Manager is created once per application session and owns the shared cache,
limiter and jitter. Each mounted feed card gets a Reconciler from
Manager.Mount. The reconciler runs one check cycle:

	Idle -> Scheduled -> Checking -> Settled

A fresh cache entry settles the cycle without any network call. Otherwise the
check waits a jittered delay, competes for a limiter slot, calls the API and
writes the cache. Rate-limited checks back off and retry while the card stays
mounted. Unmounting stops pending timers; a check already in flight still
completes and writes the cache but no longer notifies the card.

User mutations (RequestMutation) bypass the limiter. They update the card
optimistically, then confirm or revert once the API answers.
*/
package reconciler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Nexora-Open-Source/markstatus/cache"
	"github.com/Nexora-Open-Source/markstatus/limiter"
	"github.com/Nexora-Open-Source/markstatus/monitoring"
	"github.com/Nexora-Open-Source/markstatus/scheduler"
	"github.com/Nexora-Open-Source/markstatus/types"
	"github.com/sirupsen/logrus"
)

// StatusAPI is the remote API consumed by reconcilers
type StatusAPI interface {
	CheckStatus(ctx context.Context, itemID string) (bool, error)
	SetMarked(ctx context.Context, itemID string) error
	ClearMarked(ctx context.Context, itemID string) error
}

// Listener receives status updates for one mounted item. Callbacks for a
// reconciler are serialized and must not call back into it synchronously.
type Listener interface {
	OnStatusResolved(itemID string, marked bool)
	OnStatusError(itemID string, kind types.ErrorKind, message string)
}

// CountDeltaListener is optionally implemented by a Listener that tracks how
// many users marked the item.
type CountDeltaListener interface {
	OnCountDelta(itemID string, delta int)
}

// SleepFunc waits for d or until ctx is done
type SleepFunc func(ctx context.Context, d time.Duration) error

// Stats are cumulative reconciler counters
type Stats struct {
	Mounted          int64
	CacheHits        uint64
	Checks           uint64
	CheckFailures    uint64
	RateLimited      uint64
	LimiterSaturated uint64
	Mutations        uint64
	MutationFailures uint64
}

// Option configures a Manager
type Option func(*Manager)

// WithSleep replaces the timer used for every scheduled delay
func WithSleep(sleep SleepFunc) Option {
	return func(m *Manager) {
		if sleep != nil {
			m.sleep = sleep
		}
	}
}

// WithClock replaces the clock used for observation times
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// WithMaxRateLimitRetries stops retrying a rate-limited check after n retries.
// Zero keeps retrying for as long as the item stays mounted.
func WithMaxRateLimitRetries(n int) Option {
	return func(m *Manager) {
		if n >= 0 {
			m.maxRateLimitRetries = n
		}
	}
}

// WithCheckTimeout bounds a single status check call
func WithCheckTimeout(d time.Duration) Option {
	return func(m *Manager) {
		m.checkTimeout = d
	}
}

// WithMutationTimeout bounds a single mark/unmark call
func WithMutationTimeout(d time.Duration) Option {
	return func(m *Manager) {
		m.mutationTimeout = d
	}
}

// Manager owns the state shared by every reconciler of a session
type Manager struct {
	api     StatusAPI
	cache   *cache.StatusCache
	limiter *limiter.RequestLimiter
	jitter  *scheduler.Jitter
	logger  *logrus.Logger

	sleep               SleepFunc
	now                 func() time.Time
	maxRateLimitRetries int
	checkTimeout        time.Duration
	mutationTimeout     time.Duration

	wg               sync.WaitGroup
	mounted          atomic.Int64
	cacheHits        atomic.Uint64
	checks           atomic.Uint64
	checkFailures    atomic.Uint64
	rateLimited      atomic.Uint64
	limiterSaturated atomic.Uint64
	mutations        atomic.Uint64
	mutationFailures atomic.Uint64
}

// NewManager creates a Manager around the shared session components
func NewManager(statusAPI StatusAPI, statusCache *cache.StatusCache, checkLimiter *limiter.RequestLimiter, jitter *scheduler.Jitter, logger *logrus.Logger, opts ...Option) *Manager {
	if logger == nil {
		logger = logrus.New()
	}

	m := &Manager{
		api:             statusAPI,
		cache:           statusCache,
		limiter:         checkLimiter,
		jitter:          jitter,
		logger:          logger,
		sleep:           scheduler.Sleep,
		now:             time.Now,
		checkTimeout:    10 * time.Second,
		mutationTimeout: 10 * time.Second,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Cache returns the shared status cache
func (m *Manager) Cache() *cache.StatusCache {
	return m.cache
}

// Limiter returns the shared status check limiter
func (m *Manager) Limiter() *limiter.RequestLimiter {
	return m.limiter
}

// Mount starts reconciling itemID at position index in the feed. A fresh
// cached status is delivered to listener before Mount returns.
func (m *Manager) Mount(itemID string, index int, listener Listener) *Reconciler {
	ctx, cancel := context.WithCancel(context.Background())
	r := &Reconciler{
		manager:  m,
		itemID:   itemID,
		index:    index,
		listener: listener,
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
		mounted:  true,
	}
	monitoring.UpdateMountedItems(int(m.mounted.Add(1)))

	entry, found, fresh := m.cache.Lookup(itemID, m.now())
	if found {
		r.emit(entry.Marked, true)
	}
	if fresh {
		m.cacheHits.Add(1)
		r.setState(StateSettled)
		close(r.done)
		m.logger.WithFields(logrus.Fields{
			"item_id": itemID,
			"marked":  entry.Marked,
		}).Debug("Mark status served from cache")
		return r
	}

	m.wg.Add(1)
	go r.run()
	return r
}

// Wait blocks until every check cycle, including ones still in flight after
// unmount, has finished.
func (m *Manager) Wait() {
	m.wg.Wait()
}

// Stats returns a snapshot of the cumulative counters
func (m *Manager) Stats() Stats {
	return Stats{
		Mounted:          m.mounted.Load(),
		CacheHits:        m.cacheHits.Load(),
		Checks:           m.checks.Load(),
		CheckFailures:    m.checkFailures.Load(),
		RateLimited:      m.rateLimited.Load(),
		LimiterSaturated: m.limiterSaturated.Load(),
		Mutations:        m.mutations.Load(),
		MutationFailures: m.mutationFailures.Load(),
	}
}
