package reconciler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Nexora-Open-Source/markstatus/api"
	"github.com/Nexora-Open-Source/markstatus/monitoring"
	"github.com/Nexora-Open-Source/markstatus/types"
	"github.com/sirupsen/logrus"
)

// State is the position of a reconciler in its check cycle
type State int32

const (
	StateIdle State = iota
	StateScheduled
	StateChecking
	StateSettled
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateScheduled:
		return "scheduled"
	case StateChecking:
		return "checking"
	case StateSettled:
		return "settled"
	default:
		return "unknown"
	}
}

// User-facing messages for failed mutations
const (
	MessageForbidden   = "You can't mark your own post"
	MessageRateLimited = "You're doing that too often. Please try again later"
	MessageFailed      = "Couldn't update the mark. Please try again"
)

// Reconciler tracks the mark status of one mounted feed item
type Reconciler struct {
	manager  *Manager
	itemID   string
	index    int
	listener Listener

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	state  atomic.Int32
	once   sync.Once

	// emitMu serializes listener callbacks and guards the fields below
	emitMu    sync.Mutex
	mounted   bool
	current   bool
	mutations int
}

// ItemID returns the reconciled item
func (r *Reconciler) ItemID() string {
	return r.itemID
}

// Index returns the feed position the item was mounted at
func (r *Reconciler) Index() int {
	return r.index
}

// State returns the current check cycle state
func (r *Reconciler) State() State {
	return State(r.state.Load())
}

// Done is closed when the check cycle has finished
func (r *Reconciler) Done() <-chan struct{} {
	return r.done
}

// Current returns the last value delivered to the listener
func (r *Reconciler) Current() bool {
	r.emitMu.Lock()
	defer r.emitMu.Unlock()
	return r.current
}

// Unmount stops pending timers and detaches the listener. No callback fires
// after Unmount returns. Safe to call more than once.
func (r *Reconciler) Unmount() {
	r.once.Do(func() {
		r.cancel()

		r.emitMu.Lock()
		r.mounted = false
		r.emitMu.Unlock()

		monitoring.UpdateMountedItems(int(r.manager.mounted.Add(-1)))
		r.manager.logger.WithField("item_id", r.itemID).Debug("Reconciler unmounted")
	})
}

func (r *Reconciler) setState(s State) {
	r.state.Store(int32(s))
}

// emit delivers marked to the listener. Check results are held back while a
// mutation is in flight so the optimistic value stays on screen.
func (r *Reconciler) emit(marked bool, fromCheck bool) {
	r.emitMu.Lock()
	defer r.emitMu.Unlock()

	if !r.mounted || (fromCheck && r.mutations > 0) {
		return
	}
	r.current = marked
	if r.listener != nil {
		r.listener.OnStatusResolved(r.itemID, marked)
	}
}

func (r *Reconciler) run() {
	m := r.manager
	defer m.wg.Done()
	defer close(r.done)
	defer r.setState(StateSettled)

	r.setState(StateScheduled)
	delay := m.jitter.InitialDelay(r.index)
	m.logger.WithFields(logrus.Fields{
		"item_id":  r.itemID,
		"index":    r.index,
		"delay_ms": delay.Milliseconds(),
	}).Debug("Mark status check scheduled")

	if err := m.sleep(r.ctx, delay); err != nil {
		return
	}

	retries := 0
	for {
		if err := m.sleep(r.ctx, m.jitter.PerCheckDelay(r.index)); err != nil {
			return
		}

		// another mount of the same item may have refreshed the cache meanwhile
		if entry, _, fresh := m.cache.Lookup(r.itemID, m.now()); fresh {
			m.cacheHits.Add(1)
			r.emit(entry.Marked, true)
			return
		}

		if !m.limiter.TryAcquire() {
			m.limiterSaturated.Add(1)
			monitoring.RecordBackoff("limiter_saturated")
			if err := m.sleep(r.ctx, m.jitter.SaturatedDelay()); err != nil {
				return
			}
			continue
		}

		r.setState(StateChecking)
		err := r.check()
		if err == nil {
			return
		}

		if !api.IsRateLimited(err) {
			m.logger.WithFields(logrus.Fields{
				"item_id": r.itemID,
				"timeout": api.IsTimeout(err),
				"error":   err.Error(),
			}).Debug("Mark status check dropped")
			return
		}

		retries++
		if m.maxRateLimitRetries > 0 && retries > m.maxRateLimitRetries {
			m.logger.WithFields(logrus.Fields{
				"item_id": r.itemID,
				"retries": retries - 1,
			}).Warn("Giving up mark status check after repeated rate limiting")
			return
		}

		r.setState(StateScheduled)
		backoff := m.jitter.BackoffDelay()
		monitoring.RecordBackoff("rate_limited")
		m.logger.WithFields(logrus.Fields{
			"item_id":    r.itemID,
			"attempt":    retries,
			"backoff_ms": backoff.Milliseconds(),
		}).Warn("Mark status check rate limited, backing off")

		if err := m.sleep(r.ctx, backoff); err != nil {
			return
		}
	}
}

// check performs one limited status check. The caller must hold a limiter
// slot; check releases it whatever the outcome.
func (r *Reconciler) check() error {
	m := r.manager
	defer m.limiter.Release()

	// the call outlives an unmount so its result can still reach the cache
	ctx := context.WithoutCancel(r.ctx)
	if m.checkTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.checkTimeout)
		defer cancel()
	}
	ctx, span := monitoring.CreateSpan(ctx, "reconciler.check")
	defer span.End()
	monitoring.SetSpanAttributes(span, map[string]interface{}{
		"item.id":    r.itemID,
		"item.index": r.index,
	})

	m.checks.Add(1)
	issuedAt := m.now()
	start := time.Now()

	marked, err := m.api.CheckStatus(ctx, r.itemID)
	if err != nil {
		kind := api.KindOf(err)
		if kind == types.ErrorKindRateLimited {
			m.rateLimited.Add(1)
		} else {
			m.checkFailures.Add(1)
		}
		monitoring.RecordStatusCheck(string(kind), time.Since(start).Seconds())
		monitoring.SetSpanError(span, err)
		return err
	}

	result := "unmarked"
	if marked {
		result = "marked"
	}
	monitoring.RecordStatusCheck(result, time.Since(start).Seconds())

	held, applied, err := m.cache.PutCheck(r.itemID, marked, issuedAt)
	if err != nil {
		// only an empty item id fails; nothing to show for it
		m.logger.WithError(err).WithField("item_id", r.itemID).Error("Failed to cache mark status")
		return nil
	}
	monitoring.SetSpanAttributes(span, map[string]interface{}{
		"mark.value":   held.Marked,
		"cache.update": applied,
	})

	r.emit(held.Marked, true)
	return nil
}

// RequestMutation marks (desired=true) or unmarks the item on behalf of the
// user and returns the value left on screen. The listener sees desired at
// once; a failure reverts it and reports the reason through OnStatusError.
func (r *Reconciler) RequestMutation(ctx context.Context, desired bool) bool {
	m := r.manager
	action := "unmark"
	if desired {
		action = "mark"
	}

	previous := r.beginMutation(desired)
	defer r.endMutation()

	if m.mutationTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.mutationTimeout)
		defer cancel()
	}
	ctx, span := monitoring.CreateSpan(ctx, "reconciler.mutation")
	defer span.End()
	monitoring.SetSpanAttributes(span, map[string]interface{}{
		"item.id": r.itemID,
		"action":  action,
	})

	m.mutations.Add(1)
	startedAt := m.now()
	start := time.Now()

	var err error
	if desired {
		err = m.api.SetMarked(ctx, r.itemID)
	} else {
		err = m.api.ClearMarked(ctx, r.itemID)
	}

	if err == nil || api.KindOf(err) == types.ErrorKindConflict {
		outcome := "success"
		if err != nil {
			// already in the requested state server-side
			outcome = "conflict"
		}
		monitoring.RecordMutation(action, outcome, time.Since(start).Seconds())

		if _, cacheErr := m.cache.PutMutation(r.itemID, desired, m.now()); cacheErr != nil {
			m.logger.WithError(cacheErr).WithField("item_id", r.itemID).Error("Failed to cache mutation")
		}
		r.resolveMutation(desired, err == nil)

		m.logger.WithFields(logrus.Fields{
			"item_id": r.itemID,
			"action":  action,
			"outcome": outcome,
		}).Info("Mark mutation applied")
		return desired
	}

	kind := api.KindOf(err)
	m.mutationFailures.Add(1)
	monitoring.RecordMutation(action, string(kind), time.Since(start).Seconds())
	monitoring.SetSpanError(span, err)

	fallback := previous
	if entry, found := m.cache.Get(r.itemID); found && !entry.ObservedAt.Before(startedAt) {
		fallback = entry.Marked
	}

	fields := logrus.Fields{
		"item_id": r.itemID,
		"action":  action,
		"kind":    kind,
		"error":   err.Error(),
	}
	if kind == types.ErrorKindNetwork {
		m.logger.WithFields(fields).Error("Mark mutation failed")
	} else {
		m.logger.WithFields(fields).Warn("Mark mutation rejected")
	}

	r.revertMutation(fallback, kind, mutationMessage(kind))
	return fallback
}

func (r *Reconciler) beginMutation(desired bool) bool {
	r.emitMu.Lock()
	defer r.emitMu.Unlock()

	previous := r.current
	r.mutations++
	if r.mounted {
		r.current = desired
		if r.listener != nil {
			r.listener.OnStatusResolved(r.itemID, desired)
		}
	}
	return previous
}

func (r *Reconciler) endMutation() {
	r.emitMu.Lock()
	r.mutations--
	r.emitMu.Unlock()
}

func (r *Reconciler) resolveMutation(marked bool, countChanged bool) {
	r.emitMu.Lock()
	defer r.emitMu.Unlock()

	if !r.mounted {
		return
	}
	r.current = marked
	if r.listener == nil {
		return
	}
	r.listener.OnStatusResolved(r.itemID, marked)

	if counter, ok := r.listener.(CountDeltaListener); ok && countChanged {
		delta := -1
		if marked {
			delta = 1
		}
		counter.OnCountDelta(r.itemID, delta)
	}
}

func (r *Reconciler) revertMutation(marked bool, kind types.ErrorKind, message string) {
	r.emitMu.Lock()
	defer r.emitMu.Unlock()

	if !r.mounted {
		return
	}
	r.current = marked
	if r.listener == nil {
		return
	}
	r.listener.OnStatusResolved(r.itemID, marked)
	r.listener.OnStatusError(r.itemID, kind, message)
}

func mutationMessage(kind types.ErrorKind) string {
	switch kind {
	case types.ErrorKindForbidden:
		return MessageForbidden
	case types.ErrorKindRateLimited:
		return MessageRateLimited
	default:
		return MessageFailed
	}
}
