/*
Package cache provides the process-wide mark status cache.

Each entry records the last known mark status of a feed item and the time it
was observed. Entries are fresh for a fixed duration after observation; stale
entries are still returned as best-effort values until they are replaced.

Two write paths exist. Status checks go through PutCheck, which refuses to
overwrite a newer observation. Mutations go through PutMutation, which always
writes. A check issued before a mutation that resolves after it therefore
cannot regress the mutated value.
*/
package cache

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/Nexora-Open-Source/markstatus/monitoring"
	"github.com/sirupsen/logrus"
)

// DefaultDuration is how long an observation stays fresh
const DefaultDuration = 60 * time.Second

// ErrEmptyItemID is returned when a write names no item
var ErrEmptyItemID = errors.New("cache: empty item id")

// Source identifies which path produced an entry
type Source string

const (
	SourceCheck    Source = "check"
	SourceMutation Source = "mutation"
)

// Entry is the last known mark status of one item
type Entry struct {
	ItemID     string    `json:"item_id"`
	Marked     bool      `json:"marked"`
	ObservedAt time.Time `json:"observed_at"`
	Source     Source    `json:"source"`
}

// StatusCache maps item IDs to their last observed mark status
type StatusCache struct {
	entries  map[string]Entry
	mutex    sync.RWMutex
	duration time.Duration
	logger   *logrus.Logger
}

// NewStatusCache creates a cache whose entries stay fresh for duration.
// A non-positive duration selects DefaultDuration.
func NewStatusCache(duration time.Duration, logger *logrus.Logger) *StatusCache {
	if duration <= 0 {
		duration = DefaultDuration
	}
	if logger == nil {
		logger = logrus.New()
	}

	return &StatusCache{
		entries:  make(map[string]Entry),
		duration: duration,
		logger:   logger,
	}
}

// Duration returns the freshness window
func (c *StatusCache) Duration() time.Duration {
	return c.duration
}

// Get returns the entry for itemID, fresh or stale
func (c *StatusCache) Get(itemID string) (Entry, bool) {
	c.mutex.RLock()
	entry, found := c.entries[itemID]
	c.mutex.RUnlock()

	if !found {
		c.logger.WithField("item_id", itemID).Debug("Cache miss for mark status")
		return Entry{}, false
	}

	c.logger.WithFields(logrus.Fields{
		"item_id":     itemID,
		"marked":      entry.Marked,
		"observed_at": entry.ObservedAt,
	}).Debug("Cache hit for mark status")

	return entry, true
}

// Lookup is Get plus a freshness verdict at now; it also records the lookup result
func (c *StatusCache) Lookup(itemID string, now time.Time) (entry Entry, found, fresh bool) {
	entry, found = c.Get(itemID)
	switch {
	case !found:
		monitoring.RecordCacheLookup("miss")
	case c.IsFresh(entry, now):
		fresh = true
		monitoring.RecordCacheLookup("fresh")
	default:
		monitoring.RecordCacheLookup("stale")
	}
	return entry, found, fresh
}

// IsFresh reports whether entry was observed less than the cache duration before now
func (c *StatusCache) IsFresh(entry Entry, now time.Time) bool {
	if entry.ObservedAt.IsZero() {
		return false
	}
	return now.Sub(entry.ObservedAt) < c.duration
}

// PutCheck stores the result of a status check observed at observedAt.
// The write is skipped when the held entry is newer, or equally old and written
// by a mutation. It returns the entry held after the call and whether the
// write was applied.
func (c *StatusCache) PutCheck(itemID string, marked bool, observedAt time.Time) (Entry, bool, error) {
	if itemID == "" {
		return Entry{}, false, ErrEmptyItemID
	}

	c.mutex.Lock()
	defer c.mutex.Unlock()

	if existing, found := c.entries[itemID]; found && !supersedes(observedAt, existing) {
		c.logger.WithFields(logrus.Fields{
			"item_id":         itemID,
			"incoming_at":     observedAt,
			"held_at":         existing.ObservedAt,
			"held_source":     existing.Source,
			"held_marked":     existing.Marked,
			"incoming_marked": marked,
		}).Debug("Discarded status check older than cached observation")
		monitoring.RecordCacheWrite(string(SourceCheck), "discarded")
		return existing, false, nil
	}

	entry := Entry{
		ItemID:     itemID,
		Marked:     marked,
		ObservedAt: observedAt,
		Source:     SourceCheck,
	}
	c.entries[itemID] = entry
	monitoring.RecordCacheWrite(string(SourceCheck), "applied")

	return entry, true, nil
}

// PutMutation stores the outcome of a confirmed mark/unmark unconditionally
func (c *StatusCache) PutMutation(itemID string, marked bool, observedAt time.Time) (Entry, error) {
	if itemID == "" {
		return Entry{}, ErrEmptyItemID
	}

	entry := Entry{
		ItemID:     itemID,
		Marked:     marked,
		ObservedAt: observedAt,
		Source:     SourceMutation,
	}

	c.mutex.Lock()
	c.entries[itemID] = entry
	c.mutex.Unlock()

	monitoring.RecordCacheWrite(string(SourceMutation), "applied")
	c.logger.WithFields(logrus.Fields{
		"item_id": itemID,
		"marked":  marked,
	}).Debug("Cached mark status from mutation")

	return entry, nil
}

// supersedes reports whether a check observed at incoming may replace existing
func supersedes(incoming time.Time, existing Entry) bool {
	if incoming.After(existing.ObservedAt) {
		return true
	}
	if incoming.Equal(existing.ObservedAt) {
		return existing.Source != SourceMutation
	}
	return false
}

// Len returns the number of cached items
func (c *StatusCache) Len() int {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return len(c.entries)
}

// Snapshot returns all entries ordered by item ID
func (c *StatusCache) Snapshot() []Entry {
	c.mutex.RLock()
	entries := make([]Entry, 0, len(c.entries))
	for _, entry := range c.entries {
		entries = append(entries, entry)
	}
	c.mutex.RUnlock()

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].ItemID < entries[j].ItemID
	})
	return entries
}

// Clear drops every entry. Used when the signed-in account changes.
func (c *StatusCache) Clear() {
	c.mutex.Lock()
	removed := len(c.entries)
	c.entries = make(map[string]Entry)
	c.mutex.Unlock()

	c.logger.WithField("removed_count", removed).Info("Mark status cache cleared")
}
