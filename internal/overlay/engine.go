package overlay

import (
	"sort"
	"time"

	"github.com/softdim/softdim/internal/decide"
	"github.com/softdim/softdim/internal/logger"
	"github.com/softdim/softdim/internal/luminance"
	"github.com/softdim/softdim/internal/timing"
	"github.com/softdim/softdim/internal/window"
)

// ChannelDisplay marks display-covering overlays used in simple mode.
const ChannelDisplay = decide.Channel("display")

const (
	fadeInDuration  = 200 * time.Millisecond
	fadeOutDuration = 200 * time.Millisecond
	// graceWindow is how long a hidden record holds its resource before
	// release, so a surface is never freed while a transition could still
	// reference it.
	graceWindow = 400 * time.Millisecond

	opacityTolerance = 0.01
	frameTolerance   = 1 // px
)

// Engine owns the long-lived pool of overlay resources and reconciles
// decision batches onto it. All methods run on the control goroutine.
type Engine struct {
	factory   Factory
	clock     timing.Clock
	pool      []*Record
	frontmost window.WindowID
	suspended bool
}

// NewEngine creates an engine with an empty pool.
func NewEngine(factory Factory, clock timing.Clock) *Engine {
	return &Engine{factory: factory, clock: clock}
}

// Apply reconciles one channel's full decision batch against the pool.
// Matching is strictly by owning window: existing overlays and incoming
// decisions are grouped by window ID first and paired within each group,
// never by position across the whole batch. Windows in skip had no usable
// analysis this cycle; their overlays are left exactly as they are.
func (e *Engine) Apply(channel decide.Channel, decisions []decide.Decision, windows map[window.WindowID]window.TrackedWindow, skip map[window.WindowID]bool) {
	if e.suspended {
		return
	}

	e.frontmost = frontmostOf(windows)

	// Group incoming decisions by window, dropping zero levels: a level of
	// 0 means "no overlay", identical to the decision being absent.
	wantByWindow := make(map[window.WindowID][]decide.Decision)
	var order []window.WindowID
	for _, d := range decisions {
		if d.Level <= 0 {
			continue
		}
		if _, ok := wantByWindow[d.WindowID]; !ok {
			order = append(order, d.WindowID)
		}
		wantByWindow[d.WindowID] = append(wantByWindow[d.WindowID], d)
	}
	// Stable intra-window ordering so the same region keeps the same
	// overlay across cycles regardless of detection order.
	for id := range wantByWindow {
		ds := wantByWindow[id]
		sort.SliceStable(ds, func(i, j int) bool {
			ri, rj := ds[i].Region, ds[j].Region
			if ri == nil || rj == nil {
				return ri == nil && rj != nil
			}
			if ri.Y != rj.Y {
				return ri.Y < rj.Y
			}
			return ri.X < rj.X
		})
	}

	// Group existing records of this channel by target window.
	haveByWindow := make(map[window.WindowID][]*Record)
	for _, rec := range e.pool {
		if rec.channel != channel || rec.target == nil || rec.state == StateReleased {
			continue
		}
		if !rec.releaseDeadline.IsZero() {
			continue // already torn down, do not resurrect
		}
		haveByWindow[*rec.target] = append(haveByWindow[*rec.target], rec)
	}

	for _, winID := range order {
		want := wantByWindow[winID]
		have := haveByWindow[winID]
		w, tracked := windows[winID]
		if !tracked {
			continue // window vanished between listing and reconcile
		}

		n := len(want)
		if len(have) < n {
			n = len(have)
		}
		for i := 0; i < n; i++ {
			e.update(have[i], want[i], w)
		}
		// Surplus overlays are hidden, never released: the pool keeps them
		// for the next time this window needs more.
		for _, rec := range have[n:] {
			e.hide(rec)
		}
		for _, d := range want[n:] {
			e.create(channel, d, w)
		}
	}

	// Records of this channel whose window got no decision this batch.
	for winID, have := range haveByWindow {
		if _, ok := wantByWindow[winID]; ok {
			continue
		}
		if skip[winID] {
			continue
		}
		for _, rec := range have {
			e.hide(rec)
		}
	}

	e.sweep()
}

// ApplyDisplayDim reconciles simple-mode display-covering overlays, one per
// display frame, all at the same level.
func (e *Engine) ApplyDisplayDim(frames []window.Rect, level float64) {
	if e.suspended {
		return
	}
	log := logger.WithComponent("overlay-engine")

	var have []*Record
	for _, rec := range e.pool {
		if rec.channel == ChannelDisplay && rec.state != StateReleased {
			have = append(have, rec)
		}
	}

	if level <= 0 {
		for _, rec := range have {
			e.hide(rec)
		}
		e.sweep()
		return
	}

	n := len(frames)
	if len(have) < n {
		n = len(have)
	}
	for i := 0; i < n; i++ {
		rec := have[i]
		e.setFrame(rec, frames[i])
		e.setOpacity(rec, level)
		e.revive(rec, level)
		e.setTier(rec, TierAlwaysAbove)
	}
	for _, rec := range have[n:] {
		e.hide(rec)
	}
	for _, frame := range frames[n:] {
		res := e.factory()
		if err := res.Create(frame, 0); err != nil {
			log.Warn().Err(err).Msg("Display overlay creation failed, skipping this cycle")
			continue
		}
		rec := &Record{
			res:     res,
			channel: ChannelDisplay,
			state:   StateFadingIn,
			frame:   frame,
			tier:    TierAlwaysAbove,
		}
		res.SetTier(TierAlwaysAbove)
		res.SetOpacity(level, true, fadeInDuration)
		rec.opacity = level
		rec.fadeDeadline = e.clock.Now().Add(fadeInDuration)
		e.pool = append(e.pool, rec)
	}

	e.sweep()
}

// update brings one paired record in line with its decision, skipping
// mutations inside tolerance so an unchanged batch causes no churn.
func (e *Engine) update(rec *Record, d decide.Decision, w window.TrackedWindow) {
	rec.pid = d.PID
	rec.region = copyRegion(d.Region)

	e.setFrame(rec, absFrame(w, d.Region))
	e.setOpacity(rec, d.Level)
	e.revive(rec, d.Level)
	e.applyTier(rec)
}

// create materializes a new overlay for a decision, fading it in from 0.
func (e *Engine) create(channel decide.Channel, d decide.Decision, w window.TrackedWindow) {
	frame := absFrame(w, d.Region)
	res := e.factory()
	if err := res.Create(frame, 0); err != nil {
		logger.WithComponent("overlay-engine").Warn().
			Err(err).
			Uint32("window_id", uint32(d.WindowID)).
			Msg("Overlay creation failed, skipping; decision recurs next cycle")
		return
	}

	target := d.WindowID
	rec := &Record{
		res:     res,
		channel: channel,
		state:   StateFadingIn,
		target:  &target,
		pid:     d.PID,
		frame:   frame,
		region:  copyRegion(d.Region),
	}

	rec.tier = e.tierFor(rec)
	res.SetTier(rec.tier)
	if rec.tier == TierNormal {
		res.OrderAbove(target)
		rec.ordered = target
	}

	res.SetOpacity(d.Level, true, fadeInDuration)
	rec.opacity = d.Level
	rec.fadeDeadline = e.clock.Now().Add(fadeInDuration)

	e.pool = append(e.pool, rec)
}

// hide fades a record out and leaves it pooled. It is the only path off
// the screen during normal operation; nothing is destroyed here.
func (e *Engine) hide(rec *Record) {
	switch rec.state {
	case StateHidden, StateFadingOut, StateReleased:
		return
	}
	rec.res.SetOpacity(0, true, fadeOutDuration)
	rec.opacity = 0
	rec.state = StateFadingOut
	rec.fadeDeadline = e.clock.Now().Add(fadeOutDuration)
}

// revive flips a hidden record back to visible when a new decision lands
// on it.
func (e *Engine) revive(rec *Record, level float64) {
	switch rec.state {
	case StateHidden:
		rec.res.Show()
		rec.res.SetOpacity(level, true, fadeInDuration)
		rec.opacity = level
		rec.state = StateFadingIn
		rec.fadeDeadline = e.clock.Now().Add(fadeInDuration)
	case StateFadingOut:
		rec.res.SetOpacity(level, true, fadeInDuration)
		rec.opacity = level
		rec.state = StateFadingIn
		rec.fadeDeadline = e.clock.Now().Add(fadeInDuration)
	}
}

func (e *Engine) setOpacity(rec *Record, level float64) {
	if rec.state == StateVisible || rec.state == StateFadingIn {
		if diff(rec.opacity, level) <= opacityTolerance {
			return
		}
		rec.res.SetOpacity(level, true, fadeInDuration)
		rec.opacity = level
	}
}

func (e *Engine) setFrame(rec *Record, frame window.Rect) {
	if rectsClose(rec.frame, frame) {
		return
	}
	rec.res.SetFrame(frame, false, 0)
	rec.frame = frame
}

func (e *Engine) setTier(rec *Record, tier Tier) {
	if rec.tier == tier {
		return
	}
	rec.tier = tier
	rec.res.SetTier(tier)
	rec.ordered = 0
}

// applyTier assigns the hybrid z-order: frontmost window's overlays go
// always-above, everyone else sits directly above its own target.
func (e *Engine) applyTier(rec *Record) {
	tier := e.tierFor(rec)
	e.setTier(rec, tier)
	if tier == TierNormal && rec.target != nil && rec.ordered != *rec.target {
		rec.res.OrderAbove(*rec.target)
		rec.ordered = *rec.target
	}
}

func (e *Engine) tierFor(rec *Record) Tier {
	if rec.target == nil {
		return TierAlwaysAbove
	}
	if *rec.target == e.frontmost {
		return TierAlwaysAbove
	}
	return TierNormal
}

// UpdateTracking is the light-cadence pass: reposition and retier existing
// overlays against fresh window geometry, and tear down overlays whose
// target window disappeared. No capture, no decisions, no opacity changes.
func (e *Engine) UpdateTracking(windows map[window.WindowID]window.TrackedWindow) {
	if e.suspended {
		return
	}
	e.frontmost = frontmostOf(windows)

	for _, rec := range e.pool {
		if rec.target == nil || rec.state == StateReleased || !rec.releaseDeadline.IsZero() {
			continue
		}
		w, ok := windows[*rec.target]
		if !ok {
			e.scheduleRelease(rec)
			continue
		}
		e.setFrame(rec, frameFor(w, rec))
		e.applyTier(rec)
	}

	e.sweep()
}

// Retier recomputes z-order tiers after a focus change. Cheap and
// synchronous; the full re-analysis follows debounced.
func (e *Engine) Retier(frontmost window.WindowID) {
	e.frontmost = frontmost
	if e.suspended {
		return
	}
	for _, rec := range e.pool {
		if rec.state == StateReleased || !rec.releaseDeadline.IsZero() {
			continue
		}
		e.applyTier(rec)
	}
}

// ReleaseWindow tears down every overlay bound to one window, across all
// channels, via the hidden-then-grace path.
func (e *Engine) ReleaseWindow(id window.WindowID) {
	for _, rec := range e.pool {
		if rec.target != nil && *rec.target == id {
			e.scheduleRelease(rec)
		}
	}
}

// ReleaseProcess tears down every overlay owned by one process.
func (e *Engine) ReleaseProcess(pid int) {
	for _, rec := range e.pool {
		if rec.pid == pid && rec.target != nil {
			e.scheduleRelease(rec)
		}
	}
}

// scheduleRelease hides the record and arms its grace deadline. The record
// keeps a strong hold on the resource until the sweep finds the deadline
// elapsed, so no pending transition can outlive the surface.
func (e *Engine) scheduleRelease(rec *Record) {
	if !rec.releaseDeadline.IsZero() || rec.state == StateReleased {
		return
	}
	e.hide(rec)
	deadline := fadeOutDuration + graceWindow
	rec.releaseDeadline = e.clock.Now().Add(deadline)
}

// HideAll fades out every overlay without releasing anything. Used by
// Stop: the pool survives for the next Start.
func (e *Engine) HideAll() {
	for _, rec := range e.pool {
		e.hide(rec)
	}
	e.sweep()
}

// ReleaseAll destroys the whole pool. Shutdown only.
func (e *Engine) ReleaseAll() {
	for _, rec := range e.pool {
		if rec.state == StateReleased {
			continue
		}
		rec.res.Hide()
		rec.state = StateHidden
		rec.res.Release()
		rec.state = StateReleased
	}
	e.pool = nil
}

// SuspendForDesktopSwitch hides every overlay immediately (no fade) so
// nothing flashes across desktops mid-transition. Resume restores them.
func (e *Engine) SuspendForDesktopSwitch() {
	if e.suspended {
		return
	}
	e.suspended = true
	for _, rec := range e.pool {
		switch rec.state {
		case StateVisible, StateFadingIn:
			rec.restoreOpacity = rec.opacity
			rec.res.SetOpacity(0, false, 0)
			rec.res.Hide()
			rec.opacity = 0
			rec.state = StateHidden
		}
	}
}

// Resume restores overlays hidden by SuspendForDesktopSwitch.
func (e *Engine) Resume() {
	if !e.suspended {
		return
	}
	e.suspended = false
	for _, rec := range e.pool {
		if rec.state == StateHidden && rec.restoreOpacity > 0 && rec.releaseDeadline.IsZero() {
			rec.res.Show()
			rec.res.SetOpacity(rec.restoreOpacity, true, fadeInDuration)
			rec.opacity = rec.restoreOpacity
			rec.state = StateFadingIn
			rec.fadeDeadline = e.clock.Now().Add(fadeInDuration)
		}
		rec.restoreOpacity = 0
	}
}

// Sweep finalizes elapsed fades and releases records whose grace window
// has passed. Called from every reconcile pass and the light cycle.
func (e *Engine) Sweep() { e.sweep() }

func (e *Engine) sweep() {
	now := e.clock.Now()
	kept := e.pool[:0]

	for _, rec := range e.pool {
		switch rec.state {
		case StateFadingIn:
			if !now.Before(rec.fadeDeadline) {
				rec.state = StateVisible
			}
		case StateFadingOut:
			if !now.Before(rec.fadeDeadline) {
				rec.res.Hide()
				rec.state = StateHidden
			}
		}

		if rec.state == StateHidden && !rec.releaseDeadline.IsZero() && !now.Before(rec.releaseDeadline) {
			rec.res.Release()
			rec.state = StateReleased
			continue
		}
		kept = append(kept, rec)
	}
	e.pool = kept
}

// Snapshot returns the externally visible state of every pooled record.
func (e *Engine) Snapshot() []RecordInfo {
	infos := make([]RecordInfo, 0, len(e.pool))
	for _, rec := range e.pool {
		info := RecordInfo{
			Channel: rec.channel,
			State:   rec.state.String(),
			PID:     rec.pid,
			Opacity: rec.opacity,
			Frame:   rec.frame,
			Tier:    rec.tier.String(),
		}
		if rec.target != nil {
			info.WindowID = *rec.target
		}
		infos = append(infos, info)
	}
	return infos
}

// Counts returns pool sizes keyed by lifecycle state.
func (e *Engine) Counts() map[string]int {
	counts := make(map[string]int)
	for _, rec := range e.pool {
		counts[rec.state.String()]++
	}
	return counts
}

// PoolSize returns the number of live records.
func (e *Engine) PoolSize() int { return len(e.pool) }

// absFrame converts a decision's fractional region into screen coordinates
// against the window's current bounds; a nil region covers the window.
func absFrame(w window.TrackedWindow, region *luminance.RectF) window.Rect {
	if region == nil {
		return w.Bounds
	}
	return window.Rect{
		X:      w.Bounds.X + int(region.X*float64(w.Bounds.Width)),
		Y:      w.Bounds.Y + int(region.Y*float64(w.Bounds.Height)),
		Width:  int(region.Width * float64(w.Bounds.Width)),
		Height: int(region.Height * float64(w.Bounds.Height)),
	}
}

// frameFor recomputes a record's screen frame from fresh window geometry.
func frameFor(w window.TrackedWindow, rec *Record) window.Rect {
	return absFrame(w, rec.region)
}

func frontmostOf(windows map[window.WindowID]window.TrackedWindow) window.WindowID {
	for id, w := range windows {
		if w.Frontmost {
			return id
		}
	}
	return 0
}

func copyRegion(r *luminance.RectF) *luminance.RectF {
	if r == nil {
		return nil
	}
	c := *r
	return &c
}

func diff(a, b float64) float64 {
	if a > b {
		return a - b
	}
	return b - a
}

func rectsClose(a, b window.Rect) bool {
	return absInt(a.X-b.X) <= frameTolerance &&
		absInt(a.Y-b.Y) <= frameTolerance &&
		absInt(a.Width-b.Width) <= frameTolerance &&
		absInt(a.Height-b.Height) <= frameTolerance
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
