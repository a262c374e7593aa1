// Package scheduler drives the analysis-decision-reconciliation loop: a
// heavy cadence for brightness analysis, a light cadence for position and
// z-order tracking, and debounced, rate-limited re-analysis on focus
// events. One control goroutine owns all cache and overlay-pool mutation;
// capture and region detection run on a worker goroutine against immutable
// snapshots.
package scheduler

import (
	"sync"
	"time"

	"github.com/softdim/softdim/internal/cache"
	"github.com/softdim/softdim/internal/capture"
	"github.com/softdim/softdim/internal/config"
	"github.com/softdim/softdim/internal/decide"
	"github.com/softdim/softdim/internal/logger"
	"github.com/softdim/softdim/internal/luminance"
	"github.com/softdim/softdim/internal/overlay"
	"github.com/softdim/softdim/internal/timing"
	"github.com/softdim/softdim/internal/window"
)

const (
	// debounceDelay coalesces focus/click storms into one re-analysis.
	debounceDelay = 150 * time.Millisecond
	// throttleInterval is the hard minimum between analysis executions.
	throttleInterval = 300 * time.Millisecond
	// desktopSwitchPause is how long overlays stay hidden across a
	// virtual-desktop transition animation.
	desktopSwitchPause = 500 * time.Millisecond
)

// DisplaySource reports display geometry for full-display dimming.
type DisplaySource interface {
	DisplayFrames() []window.Rect
}

// Deps bundles the collaborators the scheduler orchestrates.
type Deps struct {
	Config   *config.Manager
	Windows  window.Provider
	Displays DisplaySource
	Capturer capture.Provider
	Detector luminance.Detector
	Engine   *overlay.Engine
	Clock    timing.Clock

	FocusEvents     <-chan window.WindowID
	DesktopSwitches <-chan struct{}
}

// Status is a point-in-time view of the scheduler for the API surface.
type Status struct {
	Running       bool           `json:"running"`
	Mode          config.Mode    `json:"mode"`
	HasPermission bool           `json:"has_permission"`
	WindowCount   int            `json:"window_count"`
	CacheEntries  int            `json:"cache_entries"`
	PoolCounts    map[string]int `json:"pool_counts"`
	LastAnalysis  time.Time      `json:"last_analysis"`
}

// captureTarget is one window the worker must capture this pass.
type captureTarget struct {
	win window.TrackedWindow
}

// analysisResult is the worker's immutable output, handed back to the
// control goroutine before any reconciliation happens.
type analysisResult struct {
	cfg     config.Config
	windows []window.TrackedWindow
	entries map[window.WindowID]cache.Entry
	skipped map[window.WindowID]bool
}

// Scheduler runs the analysis-decision-reconciliation loop.
type Scheduler struct {
	deps  Deps
	cache *cache.Cache

	debounce *timing.Debouncer
	rate     *timing.RateLimiter
	dispatch *timing.RateLimiter

	mu       sync.Mutex
	running  bool
	shutdown bool
	stopChan chan struct{}
	doneChan chan struct{}

	// Control-goroutine state. Only the run loop touches these.
	effectiveMode config.Mode
	inFlight      bool
	lastAnalysis  time.Time
	lastActive    map[window.WindowID]time.Time
	lastWindows   map[window.WindowID]window.TrackedWindow

	resultCh    chan analysisResult
	restoreCh   chan struct{}
	reconfigCh  chan struct{}
	statusReqCh chan chan Status
	poolReqCh   chan chan []overlay.RecordInfo

	listenerMu sync.Mutex
	listeners  []chan StateUpdate
}

// StateUpdate is pushed to subscribers after every reconcile batch.
type StateUpdate struct {
	Status   Status               `json:"status"`
	Overlays []overlay.RecordInfo `json:"overlays"`
}

// New wires a scheduler. Start must be called before it does anything.
func New(deps Deps) *Scheduler {
	if deps.Clock == nil {
		deps.Clock = timing.SystemClock{}
	}
	return &Scheduler{
		deps:        deps,
		cache:       cache.New(deps.Clock),
		debounce:    timing.NewDebouncer(deps.Clock, debounceDelay),
		rate:        timing.NewRateLimiter(deps.Clock, throttleInterval),
		dispatch:    timing.NewRateLimiter(deps.Clock, throttleInterval/2),
		lastActive:  make(map[window.WindowID]time.Time),
		lastWindows: make(map[window.WindowID]window.TrackedWindow),
		resultCh:    make(chan analysisResult, 1),
		restoreCh:   make(chan struct{}, 1),
		reconfigCh:  make(chan struct{}, 1),
		statusReqCh: make(chan chan Status),
		poolReqCh:   make(chan chan []overlay.RecordInfo),
	}
}

// Start launches the control loop and performs one immediate analysis
// pass. Calling Start while running is a no-op. A Start that races a
// still-draining Stop waits for the previous loop to exit first, so two
// loops never own the pool at once.
func (s *Scheduler) Start() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	prevDone := s.doneChan
	s.mu.Unlock()

	if prevDone != nil {
		<-prevDone
	}

	s.mu.Lock()
	if s.running {
		// Another Start won the race while this one was waiting.
		s.mu.Unlock()
		return
	}
	s.running = true
	s.shutdown = false
	s.stopChan = make(chan struct{})
	s.doneChan = make(chan struct{})
	s.mu.Unlock()

	logger.WithComponent("scheduler").Info().Msg("Scheduler starting")
	go s.run()
}

// Stop disarms the timers and hides (not destroys) every overlay. The pool
// survives for the next Start. Idempotent.
func (s *Scheduler) Stop() {
	s.halt(false)
}

// Shutdown stops the loop and releases every overlay resource. Process
// exit only.
func (s *Scheduler) Shutdown() {
	s.halt(true)
}

func (s *Scheduler) halt(shutdown bool) {
	s.mu.Lock()
	if !s.running {
		if shutdown {
			// Already stopped: release directly, no loop owns the pool.
			s.deps.Engine.ReleaseAll()
		}
		s.mu.Unlock()
		return
	}
	s.running = false
	s.shutdown = shutdown
	close(s.stopChan)
	done := s.doneChan
	s.mu.Unlock()

	<-done
}

// Reconfigure re-arms the cycle timers after a configuration change.
// Safe from any goroutine.
func (s *Scheduler) Reconfigure() {
	select {
	case s.reconfigCh <- struct{}{}:
	default:
	}
}

// Status reports current scheduler state. Answered by the control loop
// while running so pool reads never race reconciliation.
func (s *Scheduler) Status() Status {
	s.mu.Lock()
	running := s.running
	stop := s.stopChan
	s.mu.Unlock()

	if !running {
		return Status{
			Running:       false,
			Mode:          s.deps.Config.Get().Mode,
			HasPermission: s.deps.Capturer.HasPermission(),
		}
	}

	replyCh := make(chan Status, 1)
	select {
	case s.statusReqCh <- replyCh:
		return <-replyCh
	case <-stop:
		return Status{Running: false}
	}
}

// run is the control loop. All cache and pool mutation happens here.
func (s *Scheduler) run() {
	log := logger.WithComponent("scheduler")
	cfg := s.deps.Config.Get()

	heavy := time.NewTicker(cfg.ScanInterval)
	light := time.NewTicker(cfg.TrackingInterval)
	defer heavy.Stop()
	defer light.Stop()

	// One immediate pass so dimming appears without waiting a full
	// interval.
	s.heavyCycle()

	for {
		select {
		case <-s.stopChan:
			s.debounce.Cancel()
			s.drainResult()
			s.mu.Lock()
			shutdown := s.shutdown
			s.mu.Unlock()
			if shutdown {
				s.deps.Engine.ReleaseAll()
				log.Info().Msg("Scheduler shut down, overlays released")
			} else {
				s.deps.Engine.HideAll()
				log.Info().Msg("Scheduler stopped, overlays hidden")
			}
			close(s.doneChan)
			return

		case <-heavy.C:
			s.heavyCycle()

		case <-light.C:
			s.lightCycle()

		case id := <-s.deps.FocusEvents:
			s.onFocus(id)

		case <-s.deps.DesktopSwitches:
			s.onDesktopSwitch()

		case <-s.restoreCh:
			s.deps.Engine.Resume()
			s.debounce.Trigger()

		case <-s.debounce.C():
			s.heavyCycle()

		case res := <-s.resultCh:
			s.inFlight = false
			s.finishAnalysis(res)

		case <-s.reconfigCh:
			cfg = s.deps.Config.Get()
			heavy.Reset(cfg.ScanInterval)
			light.Reset(cfg.TrackingInterval)
			log.Info().
				Dur("scan_interval", cfg.ScanInterval).
				Dur("tracking_interval", cfg.TrackingInterval).
				Msg("Scheduler reconfigured")
			s.debounce.Trigger()

		case replyCh := <-s.statusReqCh:
			replyCh <- s.statusLocked()

		case replyCh := <-s.poolReqCh:
			replyCh <- s.deps.Engine.Snapshot()
		}
	}
}

// statusLocked builds a Status on the control goroutine.
func (s *Scheduler) statusLocked() Status {
	return Status{
		Running:       true,
		Mode:          s.effectiveMode,
		HasPermission: s.deps.Capturer.HasPermission(),
		WindowCount:   len(s.lastWindows),
		CacheEntries:  s.cache.Len(),
		PoolCounts:    s.deps.Engine.Counts(),
		LastAnalysis:  s.lastAnalysis,
	}
}

// Overlays returns a snapshot of the overlay pool, answered by the control
// loop while running.
func (s *Scheduler) Overlays() []overlay.RecordInfo {
	s.mu.Lock()
	running := s.running
	stop := s.stopChan
	s.mu.Unlock()
	if !running {
		return nil
	}

	replyCh := make(chan []overlay.RecordInfo, 1)
	select {
	case s.poolReqCh <- replyCh:
		return <-replyCh
	case <-stop:
		return nil
	}
}

// Subscribe registers a listener for state updates pushed after every
// reconcile batch.
func (s *Scheduler) Subscribe() chan StateUpdate {
	ch := make(chan StateUpdate, 4)
	s.listenerMu.Lock()
	s.listeners = append(s.listeners, ch)
	s.listenerMu.Unlock()
	return ch
}

// Unsubscribe removes a listener.
func (s *Scheduler) Unsubscribe(ch chan StateUpdate) {
	s.listenerMu.Lock()
	defer s.listenerMu.Unlock()
	for i, listener := range s.listeners {
		if listener == ch {
			s.listeners = append(s.listeners[:i], s.listeners[i+1:]...)
			close(ch)
			break
		}
	}
}

// publish pushes the current state to subscribers. Control goroutine only;
// slow listeners miss updates rather than blocking the loop. The lock is
// held across the sends so an Unsubscribe racing a publish can never close
// a channel mid-send.
func (s *Scheduler) publish() {
	s.listenerMu.Lock()
	defer s.listenerMu.Unlock()

	if len(s.listeners) == 0 {
		return
	}
	update := StateUpdate{
		Status:   s.statusLocked(),
		Overlays: s.deps.Engine.Snapshot(),
	}
	for _, listener := range s.listeners {
		select {
		case listener <- update:
		default:
		}
	}
}

// drainResult consumes a worker result that raced with stop, so the worker
// goroutine never blocks forever.
func (s *Scheduler) drainResult() {
	select {
	case <-s.resultCh:
	default:
	}
}

// heavyCycle re-checks mode and permission, then either applies simple
// full-display dimming or dispatches per-window analysis to the worker.
func (s *Scheduler) heavyCycle() {
	cfg := s.deps.Config.Get()

	// Permission is probed fresh every cycle: losing it degrades to simple
	// mode silently, regaining it recovers automatically.
	intelligent := cfg.Mode.Intelligent() && s.deps.Capturer.HasPermission()
	prevMode := s.effectiveMode
	if intelligent {
		s.effectiveMode = cfg.Mode
	} else {
		s.effectiveMode = config.ModeSimple
	}

	if s.effectiveMode != prevMode && prevMode != "" {
		s.onModeFlip(prevMode)
	}

	if !intelligent {
		s.simpleCycle(cfg)
		return
	}

	// Intelligent mode suppresses full-display dimming.
	s.deps.Engine.ApplyDisplayDim(nil, 0)

	if s.inFlight {
		s.debounce.Trigger()
		return
	}
	if !s.rate.Allow() || !s.dispatch.Allow() {
		s.debounce.Trigger()
		return
	}

	s.dispatchAnalysis(cfg)
}

// onModeFlip clears the other mode's overlays when the effective mode
// changes between cycles.
func (s *Scheduler) onModeFlip(prev config.Mode) {
	if prev == config.ModeSimple {
		s.deps.Engine.ApplyDisplayDim(nil, 0)
		return
	}
	// Leaving intelligent mode: per-window overlays go away.
	for _, ch := range []decide.Channel{decide.ChannelRegion, decide.ChannelWindow, decide.ChannelDecay} {
		s.deps.Engine.Apply(ch, nil, s.lastWindows, nil)
	}
}

// simpleCycle applies a single static or auto-adjusted opacity to every
// display.
func (s *Scheduler) simpleCycle(cfg config.Config) {
	level := cfg.BaseDimLevel

	if cfg.AutoMode && s.deps.Capturer.HasPermission() {
		if img, err := s.deps.Capturer.CaptureDisplay(0); err == nil {
			if b, ok := s.deps.Detector.AverageLuminance(img); ok {
				level = decide.AutoAdjusted(cfg.BaseDimLevel, b, cfg.AutoRange)
			}
		}
	}

	s.deps.Engine.ApplyDisplayDim(s.deps.Displays.DisplayFrames(), level)
	s.lastAnalysis = s.deps.Clock.Now()
	s.publish()
}

// dispatchAnalysis snapshots the window list, decides which windows need
// fresh capture, and hands the capture work to the worker goroutine.
func (s *Scheduler) dispatchAnalysis(cfg config.Config) {
	log := logger.WithComponent("scheduler")

	windows, err := s.deps.Windows.ListVisibleWindows()
	if err != nil {
		log.Warn().Err(err).Msg("Window enumeration failed, skipping cycle")
		return
	}

	now := s.deps.Clock.Now()
	visible := make(map[window.WindowID]struct{}, len(windows))
	current := make(map[window.WindowID]window.TrackedWindow, len(windows))
	for _, w := range windows {
		visible[w.ID] = struct{}{}
		current[w.ID] = w
		if _, seen := s.lastActive[w.ID]; !seen || w.Frontmost {
			s.lastActive[w.ID] = now
		}
	}
	for id := range s.lastActive {
		if _, ok := visible[id]; !ok {
			delete(s.lastActive, id)
		}
	}
	s.lastWindows = current

	// Owner-scoped teardown for excluded apps, independent of decisions.
	for _, w := range windows {
		if cfg.Excluded(w.AppID) {
			s.deps.Engine.ReleaseWindow(w.ID)
		}
	}

	s.cache.Evict(visible)

	cached := make(map[window.WindowID]cache.Entry)
	var targets []captureTarget
	for _, w := range windows {
		if cfg.Excluded(w.AppID) {
			continue
		}
		if entry, ok := s.cache.Get(w, cfg.CacheMaxAge); ok {
			cached[w.ID] = entry
			continue
		}
		targets = append(targets, captureTarget{win: w})
	}

	s.inFlight = true
	go s.worker(cfg, windows, cached, targets, s.stopChan)
}

// worker performs capture and region detection off the control goroutine.
// It touches neither the cache nor the pool: it receives immutable snapshots
// and returns immutable results.
func (s *Scheduler) worker(cfg config.Config, windows []window.TrackedWindow, cached map[window.WindowID]cache.Entry, targets []captureTarget, stop <-chan struct{}) {
	log := logger.WithComponent("analysis-worker")
	now := s.deps.Clock.Now()

	entries := make(map[window.WindowID]cache.Entry, len(cached)+len(targets))
	for id, e := range cached {
		entries[id] = e
	}
	skipped := make(map[window.WindowID]bool)

	for _, t := range targets {
		img, err := s.deps.Capturer.CaptureWindow(t.win.ID)
		if err != nil {
			// CaptureUnavailable and StaleWindow both mean: skip this
			// window for the cycle, leave its overlays alone, retry next
			// scheduled cycle.
			log.Debug().Err(err).Uint32("window_id", uint32(t.win.ID)).Msg("Capture skipped")
			skipped[t.win.ID] = true
			continue
		}

		regions := s.deps.Detector.DetectBrightRegions(
			img, cfg.BrightnessThreshold, cfg.RegionGridSize, cfg.RegionMinCells)

		entries[t.win.ID] = cache.Entry{
			Regions:      regions,
			BoundsHash:   t.win.Bounds.Hash(),
			WasFrontmost: t.win.Frontmost,
			CapturedAt:   now,
			PID:          t.win.PID,
			Title:        t.win.Title,
		}
	}

	select {
	case s.resultCh <- analysisResult{cfg: cfg, windows: windows, entries: entries, skipped: skipped}:
	case <-stop:
	}
}

// finishAnalysis runs on the control goroutine: store fresh entries,
// compute the full decision batch, then reconcile. Decisions for all
// windows are complete before the first reconciliation call so overlays
// update as one batch.
func (s *Scheduler) finishAnalysis(res analysisResult) {
	now := s.deps.Clock.Now()
	cfg := res.cfg

	for id, entry := range res.entries {
		s.cache.Put(id, entry)
	}

	windows := make(map[window.WindowID]window.TrackedWindow, len(res.windows))
	for _, w := range res.windows {
		windows[w.ID] = w
	}

	var regionDecisions, windowDecisions, decayDecisions []decide.Decision
	for _, w := range res.windows {
		entry, ok := res.entries[w.ID]
		if !ok {
			continue
		}
		switch cfg.Mode {
		case config.ModeRegion:
			regionDecisions = append(regionDecisions, decide.FromRegions(w, entry.Regions, cfg)...)
		case config.ModeWindow:
			windowDecisions = append(windowDecisions, decide.FromWindow(w, entry.Regions, cfg))
		}
		if cfg.DecayEnabled {
			lastActive, ok := s.lastActive[w.ID]
			if !ok {
				lastActive = now
			}
			decayDecisions = append(decayDecisions, decide.FromDecay(w, now, lastActive, cfg))
		}
	}

	switch cfg.Mode {
	case config.ModeRegion:
		s.deps.Engine.Apply(decide.ChannelRegion, regionDecisions, windows, res.skipped)
	case config.ModeWindow:
		s.deps.Engine.Apply(decide.ChannelWindow, windowDecisions, windows, res.skipped)
	}
	if cfg.DecayEnabled {
		s.deps.Engine.Apply(decide.ChannelDecay, decayDecisions, windows, res.skipped)
	}

	s.lastAnalysis = now
	s.publish()
}

// lightCycle re-reads window geometry and retiers/repositions overlays.
// Never captures, never decides.
func (s *Scheduler) lightCycle() {
	if s.effectiveMode == config.ModeSimple {
		return
	}

	windows, err := s.deps.Windows.ListVisibleWindows()
	if err != nil {
		return
	}

	now := s.deps.Clock.Now()
	current := make(map[window.WindowID]window.TrackedWindow, len(windows))
	for _, w := range windows {
		current[w.ID] = w
		if w.Frontmost {
			s.lastActive[w.ID] = now
		}
	}
	s.lastWindows = current

	s.deps.Engine.UpdateTracking(current)
}

// onFocus handles an activation signal: tiers update synchronously (cheap),
// the full re-analysis goes through the debouncer, and the rate limiter
// keeps click storms from causing overlay churn.
func (s *Scheduler) onFocus(id window.WindowID) {
	s.lastActive[id] = s.deps.Clock.Now()
	if w, ok := s.lastWindows[id]; ok {
		w.Frontmost = true
		s.lastWindows[id] = w
	}

	s.deps.Engine.Retier(id)
	s.debounce.Trigger()
}

// onDesktopSwitch hides everything immediately and schedules the restore
// for after the transition animation.
func (s *Scheduler) onDesktopSwitch() {
	s.deps.Engine.SuspendForDesktopSwitch()

	s.deps.Clock.AfterFunc(desktopSwitchPause, func() {
		select {
		case s.restoreCh <- struct{}{}:
		default:
		}
	})
}
