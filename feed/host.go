package feed

import (
	"context"
	"errors"
	"sync"

	"github.com/Nexora-Open-Source/markstatus/reconciler"
	"github.com/Nexora-Open-Source/markstatus/types"
	"github.com/sirupsen/logrus"
)

// ErrNotMounted is returned for mutations on posts that are not on screen
var ErrNotMounted = errors.New("feed: post is not mounted")

type card struct {
	post      Post
	index     int
	rec       *reconciler.Reconciler
	marked    bool
	resolved  bool
	markCount int
	lastError string
}

// Host plays the part of the feed list: it owns one card per visible post and
// mounts a reconciler for each. Host methods never hold its lock while calling
// into a reconciler, since reconcilers call back into the host.
type Host struct {
	manager *reconciler.Manager
	logger  *logrus.Logger

	// mountMu serializes Mount and UnmountAll so every reconciler is
	// attached to a card before the next remount can see it
	mountMu sync.Mutex

	mutex sync.RWMutex
	cards []*card
	byID  map[string]*card
}

// NewHost creates an empty Host
func NewHost(manager *reconciler.Manager, logger *logrus.Logger) *Host {
	if logger == nil {
		logger = logrus.New()
	}
	return &Host{
		manager: manager,
		logger:  logger,
		byID:    make(map[string]*card),
	}
}

// Mount replaces the visible posts. Existing cards are unmounted first, then
// each post is mounted at its position in posts. Duplicate ids keep the
// first occurrence.
func (h *Host) Mount(posts []Post) int {
	h.mountMu.Lock()
	defer h.mountMu.Unlock()

	h.unmountAll()

	h.mutex.Lock()
	cards := make([]*card, 0, len(posts))
	byID := make(map[string]*card, len(posts))
	for _, post := range posts {
		if _, dup := byID[post.ID]; dup || post.ID == "" {
			continue
		}
		c := &card{post: post, index: len(cards)}
		cards = append(cards, c)
		byID[post.ID] = c
	}
	h.cards = cards
	h.byID = byID
	h.mutex.Unlock()

	for _, c := range cards {
		rec := h.manager.Mount(c.post.ID, c.index, h)
		h.mutex.Lock()
		c.rec = rec
		h.mutex.Unlock()
	}

	h.logger.WithField("cards", len(cards)).Info("Feed mounted")
	return len(cards)
}

// UnmountAll detaches every card
func (h *Host) UnmountAll() {
	h.mountMu.Lock()
	defer h.mountMu.Unlock()
	h.unmountAll()
}

func (h *Host) unmountAll() {
	h.mutex.Lock()
	recs := make([]*reconciler.Reconciler, 0, len(h.cards))
	for _, c := range h.cards {
		if c.rec != nil {
			recs = append(recs, c.rec)
		}
	}
	h.cards = nil
	h.byID = make(map[string]*card)
	h.mutex.Unlock()

	for _, rec := range recs {
		rec.Unmount()
	}
}

// Len returns the number of mounted cards
func (h *Host) Len() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.cards)
}

// Cards returns every card in feed order
func (h *Host) Cards() []types.CardStatus {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	out := make([]types.CardStatus, 0, len(h.cards))
	for _, c := range h.cards {
		out = append(out, c.status())
	}
	return out
}

// Card returns one card by post id
func (h *Host) Card(itemID string) (types.CardStatus, bool) {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	c, ok := h.byID[itemID]
	if !ok {
		return types.CardStatus{}, false
	}
	return c.status(), true
}

func (c *card) status() types.CardStatus {
	state := reconciler.StateIdle.String()
	if c.rec != nil {
		state = c.rec.State().String()
	}
	return types.CardStatus{
		ItemID:    c.post.ID,
		Index:     c.index,
		Title:     c.post.Title,
		Author:    c.post.Author,
		Link:      c.post.Link,
		Published: c.post.Published,
		Marked:    c.marked,
		Resolved:  c.resolved,
		MarkCount: c.markCount,
		State:     state,
		LastError: c.lastError,
	}
}

// SetMarked asks the post's reconciler to mark or unmark it and returns the
// value left on screen
func (h *Host) SetMarked(ctx context.Context, itemID string, marked bool) (bool, error) {
	h.mutex.RLock()
	c, ok := h.byID[itemID]
	var rec *reconciler.Reconciler
	if ok {
		rec = c.rec
	}
	h.mutex.RUnlock()

	if rec == nil {
		return false, ErrNotMounted
	}
	return rec.RequestMutation(ctx, marked), nil
}

// Toggle flips the displayed mark of a post
func (h *Host) Toggle(ctx context.Context, itemID string) (bool, error) {
	h.mutex.RLock()
	c, ok := h.byID[itemID]
	current := ok && c.marked
	h.mutex.RUnlock()

	if !ok {
		return false, ErrNotMounted
	}
	return h.SetMarked(ctx, itemID, !current)
}

// OnStatusResolved implements reconciler.Listener
func (h *Host) OnStatusResolved(itemID string, marked bool) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	if c, ok := h.byID[itemID]; ok {
		c.marked = marked
		c.resolved = true
	}
}

// OnStatusError implements reconciler.Listener
func (h *Host) OnStatusError(itemID string, kind types.ErrorKind, message string) {
	h.mutex.Lock()
	if c, ok := h.byID[itemID]; ok {
		c.lastError = message
	}
	h.mutex.Unlock()

	h.logger.WithFields(logrus.Fields{
		"item_id": itemID,
		"kind":    kind,
	}).Warn(message)
}

// OnCountDelta implements reconciler.CountDeltaListener
func (h *Host) OnCountDelta(itemID string, delta int) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	if c, ok := h.byID[itemID]; ok {
		c.markCount += delta
		if c.markCount < 0 {
			c.markCount = 0
		}
		c.lastError = ""
	}
}
