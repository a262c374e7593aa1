package timing

import (
	"sync"
	"time"
)

// Debouncer coalesces bursts of triggers into a single delayed firing.
// Each Trigger replaces any pending one and pushes the deadline out by the
// configured delay; the firing is delivered on C so callers can select on
// it from their control loop.
type Debouncer struct {
	mu       sync.Mutex
	clock    Clock
	delay    time.Duration
	timer    *time.Timer
	c        chan struct{}
	deadline time.Time
	pending  bool
}

// NewDebouncer creates a debouncer with the given firing delay.
func NewDebouncer(clock Clock, delay time.Duration) *Debouncer {
	return &Debouncer{
		clock: clock,
		delay: delay,
		c:     make(chan struct{}, 1),
	}
}

// C delivers one value per elapsed debounce window.
func (d *Debouncer) C() <-chan struct{} {
	return d.c
}

// Trigger arms (or re-arms) the debouncer. A trigger arriving while one is
// already pending cancels the earlier deadline.
func (d *Debouncer) Trigger() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.deadline = d.clock.Now().Add(d.delay)
	d.pending = true

	if d.timer == nil {
		d.timer = time.AfterFunc(d.delay, d.fire)
		return
	}
	d.timer.Stop()
	d.timer.Reset(d.delay)
}

// Cancel drops any pending firing.
func (d *Debouncer) Cancel() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.pending = false
	if d.timer != nil {
		d.timer.Stop()
	}
	// Drain a firing that raced with the cancel.
	select {
	case <-d.c:
	default:
	}
}

// Pending reports whether a firing is armed but not yet delivered.
func (d *Debouncer) Pending() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pending
}

// Deadline returns the instant the pending firing is due. Zero when nothing
// is pending.
func (d *Debouncer) Deadline() time.Time {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.pending {
		return time.Time{}
	}
	return d.deadline
}

func (d *Debouncer) fire() {
	d.mu.Lock()
	if !d.pending {
		d.mu.Unlock()
		return
	}
	// A Trigger may have re-armed after this timer was scheduled, or the
	// injected clock may lag the wall timer; only deliver once the latest
	// deadline has actually passed, and keep the timer armed for the
	// remainder so the pending trigger is never dropped.
	if remaining := d.deadline.Sub(d.clock.Now()); remaining > 0 {
		d.timer.Reset(remaining)
		d.mu.Unlock()
		return
	}
	d.pending = false
	d.mu.Unlock()

	select {
	case d.c <- struct{}{}:
	default:
	}
}
