package reconciler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Nexora-Open-Source/markstatus/api"
	"github.com/Nexora-Open-Source/markstatus/cache"
	"github.com/Nexora-Open-Source/markstatus/limiter"
	"github.com/Nexora-Open-Source/markstatus/scheduler"
	"github.com/Nexora-Open-Source/markstatus/types"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// fixedSource always returns the same fraction of n
type fixedSource struct {
	num, den int64
}

func (f fixedSource) Int64N(n int64) int64 {
	return (n - 1) * f.num / f.den
}

// With fixedSource{1, 2} and index 0:
//
//	initial 500ms, per check 1s, saturated 3.5s, backoff 22.5s
const (
	halfSaturated = 3500 * time.Millisecond
	halfBackoff   = 22500 * time.Millisecond
)

type mockStatusAPI struct {
	mock.Mock
}

func (m *mockStatusAPI) CheckStatus(ctx context.Context, itemID string) (bool, error) {
	args := m.Called(ctx, itemID)
	return args.Bool(0), args.Error(1)
}

func (m *mockStatusAPI) SetMarked(ctx context.Context, itemID string) error {
	return m.Called(ctx, itemID).Error(0)
}

func (m *mockStatusAPI) ClearMarked(ctx context.Context, itemID string) error {
	return m.Called(ctx, itemID).Error(0)
}

type checkReply struct {
	marked bool
	err    error
}

// fakeAPI replays check replies in order, repeating the last one
type fakeAPI struct {
	mu          sync.Mutex
	replies     []checkReply
	calls       int
	inFlight    int
	maxInFlight int
	latency     time.Duration
	checkGate   chan struct{}
	started     chan struct{}
	setGate     chan struct{}
	setErr      error
}

func newFakeAPI(replies ...checkReply) *fakeAPI {
	return &fakeAPI{replies: replies, started: make(chan struct{}, 64)}
}

func (f *fakeAPI) CheckStatus(ctx context.Context, itemID string) (bool, error) {
	f.mu.Lock()
	var reply checkReply
	if len(f.replies) > 0 {
		reply = f.replies[min(f.calls, len(f.replies)-1)]
	}
	f.calls++
	f.inFlight++
	if f.inFlight > f.maxInFlight {
		f.maxInFlight = f.inFlight
	}
	gate, latency := f.checkGate, f.latency
	f.mu.Unlock()

	select {
	case f.started <- struct{}{}:
	default:
	}
	if gate != nil {
		<-gate
	}
	if latency > 0 {
		time.Sleep(latency)
	}

	f.mu.Lock()
	f.inFlight--
	f.mu.Unlock()
	return reply.marked, reply.err
}

func (f *fakeAPI) SetMarked(ctx context.Context, itemID string) error {
	return f.mutate()
}

func (f *fakeAPI) ClearMarked(ctx context.Context, itemID string) error {
	return f.mutate()
}

func (f *fakeAPI) mutate() error {
	f.mu.Lock()
	gate, err := f.setGate, f.setErr
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}
	return err
}

func (f *fakeAPI) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeAPI) peak() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.maxInFlight
}

// recordingListener captures every callback
type recordingListener struct {
	mu       sync.Mutex
	items    []string
	resolved []bool
	kinds    []types.ErrorKind
	messages []string
	deltas   []int
}

func (l *recordingListener) OnStatusResolved(itemID string, marked bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.items = append(l.items, itemID)
	l.resolved = append(l.resolved, marked)
}

func (l *recordingListener) OnStatusError(itemID string, kind types.ErrorKind, message string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.kinds = append(l.kinds, kind)
	l.messages = append(l.messages, message)
}

func (l *recordingListener) OnCountDelta(itemID string, delta int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.deltas = append(l.deltas, delta)
}

func (l *recordingListener) values() []bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]bool(nil), l.resolved...)
}

func (l *recordingListener) errorKinds() []types.ErrorKind {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]types.ErrorKind(nil), l.kinds...)
}

// instantSleeper records delays and returns at once unless ctx is done
type instantSleeper struct {
	mu     sync.Mutex
	delays []time.Duration
	hook   func(d time.Duration)
}

func (s *instantSleeper) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	s.delays = append(s.delays, d)
	hook := s.hook
	s.mu.Unlock()

	if hook != nil {
		hook(d)
	}
	return ctx.Err()
}

func (s *instantSleeper) recorded() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.delays...)
}

// gateSleeper blocks every sleep until the gate opens
type gateSleeper struct {
	mu     sync.Mutex
	delays []time.Duration
	gate   chan struct{}
}

func newGateSleeper() *gateSleeper {
	return &gateSleeper{gate: make(chan struct{})}
}

func (s *gateSleeper) Sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.delays = append(s.delays, d)
	s.mu.Unlock()

	select {
	case <-s.gate:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *gateSleeper) recorded() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.delays...)
}

// stepClock advances one millisecond per reading
type stepClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Millisecond)
	return c.now
}

func newTestManager(t *testing.T, statusAPI StatusAPI, opts ...Option) *Manager {
	t.Helper()

	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	statusCache := cache.NewStatusCache(cache.DefaultDuration, logger)
	jitter := scheduler.NewJitter(scheduler.DefaultDelays(), fixedSource{1, 2})
	return NewManager(statusAPI, statusCache, limiter.NewRequestLimiter(limiter.DefaultMaxConcurrent), jitter, logger, opts...)
}

func waitDone(t *testing.T, r *Reconciler) {
	t.Helper()
	select {
	case <-r.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("reconciler for %s did not settle", r.ItemID())
	}
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "idle", StateIdle.String())
	assert.Equal(t, "scheduled", StateScheduled.String())
	assert.Equal(t, "checking", StateChecking.String())
	assert.Equal(t, "settled", StateSettled.String())
	assert.Equal(t, "unknown", State(42).String())
}

func TestMountServesFreshCacheWithoutNetwork(t *testing.T) {
	statusAPI := &mockStatusAPI{}
	m := newTestManager(t, statusAPI)

	_, _, err := m.Cache().PutCheck("p1", true, time.Now())
	require.NoError(t, err)

	listener := &recordingListener{}
	r := m.Mount("p1", 0, listener)

	assert.Equal(t, []bool{true}, listener.values())
	assert.Equal(t, StateSettled, r.State())
	waitDone(t, r)
	statusAPI.AssertNotCalled(t, "CheckStatus", mock.Anything, mock.Anything)
	assert.Equal(t, uint64(1), m.Stats().CacheHits)
}

func TestFirstCheckWaitsForInitialDelay(t *testing.T) {
	fake := newFakeAPI(checkReply{marked: false})
	sleeper := newGateSleeper()
	m := newTestManager(t, fake, WithSleep(sleeper.Sleep))

	listener := &recordingListener{}
	r := m.Mount("p1", 0, listener)

	require.Eventually(t, func() bool { return len(sleeper.recorded()) >= 1 }, time.Second, time.Millisecond)
	initial := sleeper.recorded()[0]
	assert.GreaterOrEqual(t, initial, time.Duration(0))
	assert.LessOrEqual(t, initial, time.Second)
	assert.Equal(t, StateScheduled, r.State())
	assert.Equal(t, 0, fake.callCount())
	assert.Empty(t, listener.values())

	close(sleeper.gate)
	waitDone(t, r)

	assert.Equal(t, 1, fake.callCount())
	assert.Equal(t, []bool{false}, listener.values())
	assert.Equal(t, StateSettled, r.State())

	entry, found := m.Cache().Get("p1")
	require.True(t, found)
	assert.False(t, entry.Marked)
	assert.Equal(t, cache.SourceCheck, entry.Source)
	assert.Equal(t, 0, m.Limiter().InFlight())
}

func TestStaleEntryShownThenRefreshed(t *testing.T) {
	fake := newFakeAPI(checkReply{marked: false})
	m := newTestManager(t, fake, WithSleep((&instantSleeper{}).Sleep))

	_, _, err := m.Cache().PutCheck("p1", true, time.Now().Add(-2*time.Minute))
	require.NoError(t, err)

	listener := &recordingListener{}
	r := m.Mount("p1", 0, listener)
	waitDone(t, r)

	assert.Equal(t, []bool{true, false}, listener.values())
	assert.Equal(t, 1, fake.callCount())
}

func TestCacheFilledWhileScheduled(t *testing.T) {
	fake := newFakeAPI(checkReply{marked: false})
	sleeper := &instantSleeper{}
	m := newTestManager(t, fake, WithSleep(sleeper.Sleep))

	var once sync.Once
	sleeper.hook = func(time.Duration) {
		once.Do(func() {
			m.Cache().PutMutation("p1", true, time.Now())
		})
	}

	listener := &recordingListener{}
	r := m.Mount("p1", 0, listener)
	waitDone(t, r)

	assert.Equal(t, 0, fake.callCount())
	assert.Equal(t, []bool{true}, listener.values())
	assert.Equal(t, uint64(1), m.Stats().CacheHits)
}

func TestOptimisticMutationRevertsWhenForbidden(t *testing.T) {
	statusAPI := &mockStatusAPI{}
	sleeper := newGateSleeper()
	m := newTestManager(t, statusAPI, WithSleep(sleeper.Sleep))

	listener := &recordingListener{}
	r := m.Mount("p2", 1, listener)
	defer r.Unmount()

	statusAPI.On("SetMarked", mock.Anything, "p2").
		Run(func(args mock.Arguments) {
			assert.Equal(t, []bool{true}, listener.values())
		}).
		Return(api.NewError(types.ErrorKindForbidden, "own post")).
		Once()

	shown := r.RequestMutation(context.Background(), true)

	assert.False(t, shown)
	assert.False(t, r.Current())
	assert.Equal(t, []bool{true, false}, listener.values())
	assert.Equal(t, []types.ErrorKind{types.ErrorKindForbidden}, listener.errorKinds())
	assert.Equal(t, []string{MessageForbidden}, listener.messages)
	assert.Empty(t, listener.deltas)

	_, found := m.Cache().Get("p2")
	assert.False(t, found)
	assert.Equal(t, uint64(1), m.Stats().MutationFailures)
	statusAPI.AssertExpectations(t)
}

func TestMutationSuccessUpdatesCacheAndCount(t *testing.T) {
	statusAPI := &mockStatusAPI{}
	statusAPI.On("SetMarked", mock.Anything, "p1").Return(nil).Once()
	statusAPI.On("ClearMarked", mock.Anything, "p1").Return(nil).Once()

	m := newTestManager(t, statusAPI, WithSleep(newGateSleeper().Sleep))
	listener := &recordingListener{}
	r := m.Mount("p1", 0, listener)
	defer r.Unmount()

	assert.True(t, r.RequestMutation(context.Background(), true))
	entry, found := m.Cache().Get("p1")
	require.True(t, found)
	assert.True(t, entry.Marked)
	assert.Equal(t, cache.SourceMutation, entry.Source)

	assert.False(t, r.RequestMutation(context.Background(), false))
	entry, _ = m.Cache().Get("p1")
	assert.False(t, entry.Marked)

	assert.Equal(t, []bool{true, true, false, false}, listener.values())
	assert.Equal(t, []int{1, -1}, listener.deltas)
	assert.Empty(t, listener.errorKinds())
	statusAPI.AssertExpectations(t)
}

func TestConflictIsTreatedAsSuccess(t *testing.T) {
	for _, desired := range []bool{true, false} {
		t.Run(map[bool]string{true: "mark", false: "unmark"}[desired], func(t *testing.T) {
			statusAPI := &mockStatusAPI{}
			conflict := api.NewError(types.ErrorKindConflict, "already in that state")
			statusAPI.On("SetMarked", mock.Anything, "p1").Return(conflict).Maybe()
			statusAPI.On("ClearMarked", mock.Anything, "p1").Return(conflict).Maybe()

			m := newTestManager(t, statusAPI, WithSleep(newGateSleeper().Sleep))
			listener := &recordingListener{}
			r := m.Mount("p1", 0, listener)
			defer r.Unmount()

			assert.Equal(t, desired, r.RequestMutation(context.Background(), desired))
			assert.Equal(t, []bool{desired, desired}, listener.values())
			assert.Empty(t, listener.errorKinds())
			assert.Empty(t, listener.deltas)

			entry, found := m.Cache().Get("p1")
			require.True(t, found)
			assert.Equal(t, desired, entry.Marked)
			assert.Equal(t, uint64(0), m.Stats().MutationFailures)
		})
	}
}

func TestMutationFailureMessages(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		kind    types.ErrorKind
		message string
	}{
		{"rate limited", api.NewError(types.ErrorKindRateLimited, "slow down"), types.ErrorKindRateLimited, MessageRateLimited},
		{"network", errors.New("connection reset"), types.ErrorKindNetwork, MessageFailed},
		{"server error", api.NewError(types.ErrorKindNetwork, "status 500"), types.ErrorKindNetwork, MessageFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			statusAPI := &mockStatusAPI{}
			statusAPI.On("SetMarked", mock.Anything, "p1").Return(tt.err).Once()

			m := newTestManager(t, statusAPI, WithSleep(newGateSleeper().Sleep))
			listener := &recordingListener{}
			r := m.Mount("p1", 0, listener)
			defer r.Unmount()

			assert.False(t, r.RequestMutation(context.Background(), true))
			assert.Equal(t, []bool{true, false}, listener.values())
			assert.Equal(t, []types.ErrorKind{tt.kind}, listener.errorKinds())
			assert.Equal(t, []string{tt.message}, listener.messages)
		})
	}
}

func TestMutationWinsOverInFlightCheck(t *testing.T) {
	fake := newFakeAPI(checkReply{marked: false})
	fake.checkGate = make(chan struct{})
	clock := &stepClock{now: time.Now()}
	m := newTestManager(t, fake, WithSleep((&instantSleeper{}).Sleep), WithClock(clock.Now))

	listener := &recordingListener{}
	r := m.Mount("p3", 0, listener)
	<-fake.started

	assert.True(t, r.RequestMutation(context.Background(), true))
	close(fake.checkGate)
	waitDone(t, r)

	entry, found := m.Cache().Get("p3")
	require.True(t, found)
	assert.True(t, entry.Marked)
	assert.Equal(t, cache.SourceMutation, entry.Source)
	assert.True(t, r.Current())
	assert.NotContains(t, listener.values(), false)
}

func TestCheckResultHeldBackDuringMutation(t *testing.T) {
	fake := newFakeAPI(checkReply{marked: false})
	fake.checkGate = make(chan struct{})
	fake.setGate = make(chan struct{})
	m := newTestManager(t, fake, WithSleep((&instantSleeper{}).Sleep))

	listener := &recordingListener{}
	r := m.Mount("p1", 0, listener)
	<-fake.started

	result := make(chan bool, 1)
	go func() {
		result <- r.RequestMutation(context.Background(), true)
	}()
	require.Eventually(t, func() bool { return len(listener.values()) == 1 }, time.Second, time.Millisecond)

	close(fake.checkGate)
	waitDone(t, r)
	assert.Equal(t, []bool{true}, listener.values())

	close(fake.setGate)
	assert.True(t, <-result)
	assert.Equal(t, []bool{true, true}, listener.values())

	entry, _ := m.Cache().Get("p1")
	assert.True(t, entry.Marked)
}

func TestRateLimitedCheckBacksOff(t *testing.T) {
	fake := newFakeAPI(
		checkReply{err: api.NewError(types.ErrorKindRateLimited, "slow down")},
		checkReply{marked: true},
	)
	sleeper := &instantSleeper{}
	m := newTestManager(t, fake, WithSleep(sleeper.Sleep))

	listener := &recordingListener{}
	r := m.Mount("p1", 0, listener)
	waitDone(t, r)

	assert.Equal(t, 2, fake.callCount())
	assert.Equal(t, []bool{true}, listener.values())
	assert.Contains(t, sleeper.recorded(), halfBackoff)
	assert.Equal(t, uint64(1), m.Stats().RateLimited)
	assert.Equal(t, 0, m.Limiter().InFlight())
}

func TestRateLimitRetryCeiling(t *testing.T) {
	fake := newFakeAPI(checkReply{err: api.NewError(types.ErrorKindRateLimited, "slow down")})
	m := newTestManager(t, fake, WithSleep((&instantSleeper{}).Sleep), WithMaxRateLimitRetries(2))

	listener := &recordingListener{}
	r := m.Mount("p1", 0, listener)
	waitDone(t, r)

	assert.Equal(t, 3, fake.callCount())
	assert.Empty(t, listener.values())
	assert.Empty(t, listener.errorKinds())
	assert.Equal(t, StateSettled, r.State())
	assert.Equal(t, 0, m.Limiter().InFlight())
}

func TestRateLimitRetriesUntilUnmounted(t *testing.T) {
	fake := newFakeAPI(checkReply{err: api.NewError(types.ErrorKindRateLimited, "slow down")})
	m := newTestManager(t, fake, WithSleep((&instantSleeper{}).Sleep))

	listener := &recordingListener{}
	r := m.Mount("p1", 0, listener)

	require.Eventually(t, func() bool { return fake.callCount() >= 5 }, 2*time.Second, time.Millisecond)
	r.Unmount()
	waitDone(t, r)

	assert.Empty(t, listener.values())
	assert.Equal(t, 0, m.Limiter().InFlight())
}

func TestNetworkCheckFailureIsDropped(t *testing.T) {
	fake := newFakeAPI(checkReply{err: errors.New("connection refused")})
	m := newTestManager(t, fake, WithSleep((&instantSleeper{}).Sleep))

	listener := &recordingListener{}
	r := m.Mount("p1", 0, listener)
	waitDone(t, r)

	assert.Equal(t, 1, fake.callCount())
	assert.Empty(t, listener.values())
	assert.Empty(t, listener.errorKinds())
	assert.Equal(t, uint64(1), m.Stats().CheckFailures)
	assert.Equal(t, 0, m.Limiter().InFlight())

	_, found := m.Cache().Get("p1")
	assert.False(t, found)
}

func TestSaturatedLimiterReschedules(t *testing.T) {
	fake := newFakeAPI(checkReply{marked: true})
	sleeper := &instantSleeper{}
	m := newTestManager(t, fake, WithSleep(sleeper.Sleep))

	for i := 0; i < limiter.DefaultMaxConcurrent; i++ {
		require.True(t, m.Limiter().TryAcquire())
	}

	saturated := 0
	sleeper.hook = func(d time.Duration) {
		if d != halfSaturated {
			return
		}
		saturated++
		if saturated == 2 {
			for i := 0; i < limiter.DefaultMaxConcurrent; i++ {
				m.Limiter().Release()
			}
		}
	}

	listener := &recordingListener{}
	r := m.Mount("p1", 0, listener)
	waitDone(t, r)

	assert.Equal(t, 1, fake.callCount())
	assert.Equal(t, []bool{true}, listener.values())
	assert.Equal(t, uint64(2), m.Stats().LimiterSaturated)
	assert.Equal(t, 0, m.Limiter().InFlight())
}

func TestUnmountCancelsScheduledCheck(t *testing.T) {
	fake := newFakeAPI(checkReply{marked: true})
	sleeper := newGateSleeper()
	m := newTestManager(t, fake, WithSleep(sleeper.Sleep))

	listener := &recordingListener{}
	r := m.Mount("p1", 0, listener)
	require.Eventually(t, func() bool { return len(sleeper.recorded()) >= 1 }, time.Second, time.Millisecond)

	r.Unmount()
	waitDone(t, r)

	assert.Equal(t, 0, fake.callCount())
	assert.Empty(t, listener.values())
	assert.Equal(t, StateSettled, r.State())
}

func TestUnmountDuringCheckStillWritesCache(t *testing.T) {
	fake := newFakeAPI(checkReply{marked: true})
	fake.checkGate = make(chan struct{})
	m := newTestManager(t, fake, WithSleep((&instantSleeper{}).Sleep))

	listener := &recordingListener{}
	r := m.Mount("p1", 0, listener)
	<-fake.started

	r.Unmount()
	close(fake.checkGate)
	waitDone(t, r)
	m.Wait()

	assert.Empty(t, listener.values())
	entry, found := m.Cache().Get("p1")
	require.True(t, found)
	assert.True(t, entry.Marked)
	assert.Equal(t, 0, m.Limiter().InFlight())
}

func TestUnmountIsIdempotent(t *testing.T) {
	m := newTestManager(t, newFakeAPI(), WithSleep(newGateSleeper().Sleep))

	first := m.Mount("p1", 0, &recordingListener{})
	second := m.Mount("p2", 1, &recordingListener{})
	defer second.Unmount()
	assert.Equal(t, int64(2), m.Stats().Mounted)

	first.Unmount()
	first.Unmount()
	assert.Equal(t, int64(1), m.Stats().Mounted)
}

func TestConcurrentChecksNeverExceedLimit(t *testing.T) {
	fake := newFakeAPI(checkReply{marked: true})
	fake.latency = 5 * time.Millisecond

	scaled := func(ctx context.Context, d time.Duration) error {
		return scheduler.Sleep(ctx, d/1000)
	}
	m := newTestManager(t, fake, WithSleep(scaled))

	listener := &recordingListener{}
	reconcilers := make([]*Reconciler, 0, 10)
	for i := 0; i < 10; i++ {
		reconcilers = append(reconcilers, m.Mount(string(rune('a'+i)), i, listener))
	}
	for _, r := range reconcilers {
		waitDone(t, r)
	}

	assert.Equal(t, 10, fake.callCount())
	assert.LessOrEqual(t, fake.peak(), limiter.DefaultMaxConcurrent)
	assert.LessOrEqual(t, m.Limiter().Stats().Peak, limiter.DefaultMaxConcurrent)
	assert.Equal(t, 0, m.Limiter().InFlight())
	assert.Len(t, listener.values(), 10)
	assert.Equal(t, uint64(10), m.Stats().Checks)
}
