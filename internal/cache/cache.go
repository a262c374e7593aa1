// Package cache stores per-window analysis results between heavy cycles so
// unchanged windows skip capture entirely.
package cache

import (
	"time"

	"github.com/softdim/softdim/internal/luminance"
	"github.com/softdim/softdim/internal/timing"
	"github.com/softdim/softdim/internal/window"
)

// Entry is one window's analysis output plus the validity metadata needed
// to decide whether it can be reused. Entries are replaced wholesale, never
// partially updated.
type Entry struct {
	Regions      []luminance.Region
	BoundsHash   uint64
	WasFrontmost bool
	CapturedAt   time.Time
	PID          int
	Title        string
}

// Cache is a per-window store of prior analysis output. It is mutated only
// on the scheduler's control goroutine.
type Cache struct {
	clock   timing.Clock
	entries map[window.WindowID]Entry
}

// New creates an empty cache.
func New(clock timing.Clock) *Cache {
	return &Cache{
		clock:   clock,
		entries: make(map[window.WindowID]Entry),
	}
}

// Get returns the entry for w if it is still valid. An entry is invalid
// when it is older than maxAge, when the window's bounds changed since
// capture, or when the window has become frontmost since a non-frontmost
// capture. A window losing frontmost status does not invalidate; neither
// does content change short of a bounds change.
func (c *Cache) Get(w window.TrackedWindow, maxAge time.Duration) (Entry, bool) {
	e, ok := c.entries[w.ID]
	if !ok {
		return Entry{}, false
	}
	if c.clock.Now().Sub(e.CapturedAt) > maxAge {
		return Entry{}, false
	}
	if e.BoundsHash != w.Bounds.Hash() {
		return Entry{}, false
	}
	if w.Frontmost && !e.WasFrontmost {
		return Entry{}, false
	}
	return e, true
}

// Put stores the entry for id, replacing any previous one.
func (c *Cache) Put(id window.WindowID, e Entry) {
	c.entries[id] = e
}

// Evict drops entries whose window is not in the current visible set and
// returns the removed IDs.
func (c *Cache) Evict(visible map[window.WindowID]struct{}) []window.WindowID {
	var removed []window.WindowID
	for id := range c.entries {
		if _, ok := visible[id]; !ok {
			delete(c.entries, id)
			removed = append(removed, id)
		}
	}
	return removed
}

// Len returns the number of stored entries.
func (c *Cache) Len() int {
	return len(c.entries)
}
