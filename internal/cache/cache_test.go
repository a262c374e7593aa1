package cache

import (
	"testing"
	"time"

	"github.com/softdim/softdim/internal/luminance"
	"github.com/softdim/softdim/internal/timing"
	"github.com/softdim/softdim/internal/window"
)

const maxAge = 10 * time.Second

func testWindow() window.TrackedWindow {
	return window.TrackedWindow{
		ID:     1,
		PID:    100,
		Bounds: window.Rect{X: 10, Y: 20, Width: 800, Height: 600},
	}
}

func entryFor(w window.TrackedWindow, at time.Time) Entry {
	return Entry{
		Regions:      []luminance.Region{{Brightness: 0.9}},
		BoundsHash:   w.Bounds.Hash(),
		WasFrontmost: w.Frontmost,
		CapturedAt:   at,
		PID:          w.PID,
	}
}

func TestGetMissingWindow(t *testing.T) {
	c := New(timing.NewFakeClock(time.Unix(1000, 0)))
	if _, ok := c.Get(testWindow(), maxAge); ok {
		t.Fatal("expected miss for window never stored")
	}
}

func TestGetFreshEntry(t *testing.T) {
	clock := timing.NewFakeClock(time.Unix(1000, 0))
	c := New(clock)
	w := testWindow()

	c.Put(w.ID, entryFor(w, clock.Now()))
	clock.Advance(5 * time.Second)

	e, ok := c.Get(w, maxAge)
	if !ok {
		t.Fatal("expected fresh entry to be valid")
	}
	if len(e.Regions) != 1 {
		t.Fatalf("expected stored regions back, got %d", len(e.Regions))
	}
}

func TestEntryExpiresByAge(t *testing.T) {
	clock := timing.NewFakeClock(time.Unix(1000, 0))
	c := New(clock)
	w := testWindow()

	c.Put(w.ID, entryFor(w, clock.Now()))
	clock.Advance(maxAge + time.Second)

	if _, ok := c.Get(w, maxAge); ok {
		t.Fatal("expected entry older than max age to be invalid")
	}
}

func TestEntryInvalidatedByBoundsChange(t *testing.T) {
	clock := timing.NewFakeClock(time.Unix(1000, 0))
	c := New(clock)
	w := testWindow()

	c.Put(w.ID, entryFor(w, clock.Now()))

	moved := w
	moved.Bounds.X += 50
	if _, ok := c.Get(moved, maxAge); ok {
		t.Fatal("expected entry to be invalid after the window moved")
	}

	resized := w
	resized.Bounds.Width += 1
	if _, ok := c.Get(resized, maxAge); ok {
		t.Fatal("expected entry to be invalid after the window resized")
	}
}

func TestEntryInvalidatedByBecomingFrontmost(t *testing.T) {
	clock := timing.NewFakeClock(time.Unix(1000, 0))
	c := New(clock)
	w := testWindow() // not frontmost at capture

	c.Put(w.ID, entryFor(w, clock.Now()))

	nowFront := w
	nowFront.Frontmost = true
	if _, ok := c.Get(nowFront, maxAge); ok {
		t.Fatal("expected entry captured non-frontmost to be invalid once window becomes frontmost")
	}
}

func TestEntryStaysValidAfterLosingFrontmost(t *testing.T) {
	clock := timing.NewFakeClock(time.Unix(1000, 0))
	c := New(clock)
	w := testWindow()
	w.Frontmost = true

	c.Put(w.ID, entryFor(w, clock.Now()))

	background := w
	background.Frontmost = false
	if _, ok := c.Get(background, maxAge); !ok {
		t.Fatal("losing frontmost must not invalidate a frontmost-captured entry")
	}
}

func TestPutReplacesWholesale(t *testing.T) {
	clock := timing.NewFakeClock(time.Unix(1000, 0))
	c := New(clock)
	w := testWindow()

	first := entryFor(w, clock.Now())
	c.Put(w.ID, first)

	second := entryFor(w, clock.Now())
	second.Regions = []luminance.Region{{Brightness: 0.5}, {Brightness: 0.6}}
	c.Put(w.ID, second)

	e, ok := c.Get(w, maxAge)
	if !ok {
		t.Fatal("expected replaced entry to be valid")
	}
	if len(e.Regions) != 2 {
		t.Fatalf("expected full replacement, got %d regions", len(e.Regions))
	}
}

func TestEvictDropsClosedWindows(t *testing.T) {
	clock := timing.NewFakeClock(time.Unix(1000, 0))
	c := New(clock)

	w1 := testWindow()
	w2 := testWindow()
	w2.ID = 2

	c.Put(w1.ID, entryFor(w1, clock.Now()))
	c.Put(w2.ID, entryFor(w2, clock.Now()))

	removed := c.Evict(map[window.WindowID]struct{}{w1.ID: {}})
	if len(removed) != 1 || removed[0] != w2.ID {
		t.Fatalf("expected only window 2 evicted, got %v", removed)
	}
	if c.Len() != 1 {
		t.Fatalf("expected one entry left, got %d", c.Len())
	}
	if _, ok := c.Get(w1, maxAge); !ok {
		t.Fatal("expected surviving window's entry to remain valid")
	}
}
