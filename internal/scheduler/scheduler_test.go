package scheduler

import (
	"image"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/softdim/softdim/internal/capture"
	"github.com/softdim/softdim/internal/config"
	"github.com/softdim/softdim/internal/luminance"
	"github.com/softdim/softdim/internal/overlay"
	"github.com/softdim/softdim/internal/timing"
	"github.com/softdim/softdim/internal/window"
)

type fakeWindowProvider struct {
	mu      sync.Mutex
	windows []window.TrackedWindow
}

func (f *fakeWindowProvider) ListVisibleWindows() ([]window.TrackedWindow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]window.TrackedWindow, len(f.windows))
	copy(out, f.windows)
	return out, nil
}

func (f *fakeWindowProvider) FrontmostWindow() (*window.TrackedWindow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, w := range f.windows {
		if w.Frontmost {
			c := w
			return &c, nil
		}
	}
	return nil, nil
}

func (f *fakeWindowProvider) set(windows []window.TrackedWindow) {
	f.mu.Lock()
	f.windows = windows
	f.mu.Unlock()
}

type fakeCapturer struct {
	mu           sync.Mutex
	permission   bool
	windowErr    error
	windowCalls  int
	displayCalls int
}

func (f *fakeCapturer) CaptureWindow(id window.WindowID) (*image.RGBA, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.windowCalls++
	if f.windowErr != nil {
		return nil, f.windowErr
	}
	return image.NewRGBA(image.Rect(0, 0, 4, 4)), nil
}

func (f *fakeCapturer) CaptureDisplay(id int) (*image.RGBA, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.displayCalls++
	return image.NewRGBA(image.Rect(0, 0, 4, 4)), nil
}

func (f *fakeCapturer) HasPermission() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.permission
}

func (f *fakeCapturer) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.windowCalls
}

type fakeDetector struct {
	regions []luminance.Region
	avg     float64
}

func (f *fakeDetector) DetectBrightRegions(_ *image.RGBA, _ float64, _, _ int) []luminance.Region {
	return f.regions
}

func (f *fakeDetector) AverageLuminance(_ *image.RGBA) (float64, bool) {
	return f.avg, true
}

type fakeDisplays struct{}

func (fakeDisplays) DisplayFrames() []window.Rect {
	return []window.Rect{{Width: 1920, Height: 1080}}
}

type fakeRes struct {
	frame    window.Rect
	opacity  float64
	hidden   bool
	released bool
}

func (f *fakeRes) Create(frame window.Rect, initialOpacity float64) error {
	f.frame = frame
	f.opacity = initialOpacity
	return nil
}
func (f *fakeRes) SetOpacity(level float64, _ bool, _ time.Duration) { f.opacity = level }
func (f *fakeRes) SetFrame(frame window.Rect, _ bool, _ time.Duration) {
	f.frame = frame
}
func (f *fakeRes) SetTier(overlay.Tier)       {}
func (f *fakeRes) OrderAbove(window.WindowID) {}
func (f *fakeRes) Hide()                      { f.hidden = true }
func (f *fakeRes) Show()                      { f.hidden = false }
func (f *fakeRes) Release()                   { f.released = true }

type fixture struct {
	t         *testing.T
	clock     timing.Clock
	fake      *timing.FakeClock
	sched     *Scheduler
	windows   *fakeWindowProvider
	capturer  *fakeCapturer
	detector  *fakeDetector
	engine    *overlay.Engine
	resources []*fakeRes
}

func newFixture(t *testing.T, mutate func(*config.Config)) *fixture {
	t.Helper()

	mgr, err := config.NewManager(filepath.Join(t.TempDir(), "config.yaml"))
	if err != nil {
		t.Fatalf("config manager: %v", err)
	}
	if mutate != nil {
		cfg := mgr.Get()
		mutate(&cfg)
		if err := mgr.Update(cfg); err != nil {
			t.Fatalf("config update: %v", err)
		}
	}

	f := &fixture{
		t:        t,
		fake:     timing.NewFakeClock(time.Unix(9000, 0)),
		windows:  &fakeWindowProvider{},
		capturer: &fakeCapturer{permission: true},
		detector: &fakeDetector{
			regions: []luminance.Region{{
				Bounds:     luminance.RectF{X: 0.25, Y: 0, Width: 0.5, Height: 0.5},
				Brightness: 0.95,
			}},
			avg: 0.5,
		},
	}
	f.clock = f.fake

	factory := func() overlay.Resource {
		res := &fakeRes{}
		f.resources = append(f.resources, res)
		return res
	}
	f.engine = overlay.NewEngine(factory, f.clock)

	f.sched = New(Deps{
		Config:   mgr,
		Windows:  f.windows,
		Displays: fakeDisplays{},
		Capturer: f.capturer,
		Detector: f.detector,
		Engine:   f.engine,
		Clock:    f.clock,
	})
	return f
}

// runHeavy drives one full heavy cycle synchronously: dispatch, wait for the
// worker, then reconcile on this goroutine exactly as the control loop would.
func (f *fixture) runHeavy() {
	f.t.Helper()
	f.sched.heavyCycle()
	if !f.sched.inFlight {
		return
	}
	select {
	case res := <-f.sched.resultCh:
		f.sched.inFlight = false
		f.sched.finishAnalysis(res)
	case <-time.After(2 * time.Second):
		f.t.Fatal("worker never reported a result")
	}
}

func oneWindow(frontmost bool) []window.TrackedWindow {
	return []window.TrackedWindow{{
		ID:        1,
		PID:       42,
		Bounds:    window.Rect{X: 0, Y: 0, Width: 400, Height: 400},
		Frontmost: frontmost,
		AppID:     "org.example.Editor",
	}}
}

func TestRegionModeCreatesOverlays(t *testing.T) {
	f := newFixture(t, nil)
	f.windows.set(oneWindow(false))

	f.runHeavy()

	if f.sched.effectiveMode != config.ModeRegion {
		t.Fatalf("expected region mode, got %q", f.sched.effectiveMode)
	}
	if f.capturer.calls() != 1 {
		t.Fatalf("expected 1 window capture, got %d", f.capturer.calls())
	}
	if f.engine.PoolSize() != 1 {
		t.Fatalf("expected 1 overlay, got %d", f.engine.PoolSize())
	}
	if f.resources[0].opacity <= 0 {
		t.Fatalf("overlay must fade in to a positive level, got %v", f.resources[0].opacity)
	}
}

func TestFallsBackToSimpleWithoutPermission(t *testing.T) {
	f := newFixture(t, nil)
	f.capturer.permission = false
	f.windows.set(oneWindow(false))

	f.runHeavy()

	if f.sched.effectiveMode != config.ModeSimple {
		t.Fatalf("expected simple fallback, got %q", f.sched.effectiveMode)
	}
	if f.capturer.calls() != 0 {
		t.Fatalf("no window capture may happen without permission, got %d", f.capturer.calls())
	}
	if len(f.resources) != 1 {
		t.Fatalf("expected one display overlay, got %d", len(f.resources))
	}
	if f.resources[0].opacity != 0.25 {
		t.Fatalf("expected base dim level 0.25, got %v", f.resources[0].opacity)
	}
}

func TestSimpleModeAutoAdjustment(t *testing.T) {
	f := newFixture(t, func(cfg *config.Config) {
		cfg.Mode = config.ModeSimple
		cfg.AutoMode = true
	})
	f.detector.avg = 0.8

	f.runHeavy()

	// base 0.25 + (0.8 - 0.5) * 0.15 * 2 = 0.34
	if got := f.resources[0].opacity; got < 0.33 || got > 0.35 {
		t.Fatalf("expected auto-adjusted level near 0.34, got %v", got)
	}
	if f.capturer.calls() != 0 {
		t.Fatal("simple mode must never capture windows")
	}
}

func TestCacheHitSkipsCapture(t *testing.T) {
	f := newFixture(t, nil)
	f.windows.set(oneWindow(false))

	f.runHeavy()
	f.fake.Advance(time.Second)
	f.runHeavy()

	if f.capturer.calls() != 1 {
		t.Fatalf("second cycle must reuse the cached analysis, captures=%d", f.capturer.calls())
	}
	if f.engine.PoolSize() != 1 || f.resources[0].hidden {
		t.Fatal("cached analysis must keep the overlay in place")
	}
}

func TestBecomingFrontmostForcesRecapture(t *testing.T) {
	f := newFixture(t, nil)
	f.windows.set(oneWindow(false))

	f.runHeavy()
	f.fake.Advance(time.Second)
	f.windows.set(oneWindow(true))
	f.runHeavy()

	if f.capturer.calls() != 2 {
		t.Fatalf("focus transition must invalidate the cache, captures=%d", f.capturer.calls())
	}
}

func TestCaptureFailureLeavesOverlaysUntouched(t *testing.T) {
	f := newFixture(t, nil)
	f.windows.set(oneWindow(false))

	f.runHeavy()
	if f.engine.PoolSize() != 1 {
		t.Fatalf("setup: expected 1 overlay, got %d", f.engine.PoolSize())
	}

	f.capturer.mu.Lock()
	f.capturer.windowErr = capture.ErrUnavailable
	f.capturer.mu.Unlock()
	f.fake.Advance(11 * time.Second) // past the cache max age so capture is retried

	f.runHeavy()

	if f.capturer.calls() != 2 {
		t.Fatalf("expected a retried capture, got %d", f.capturer.calls())
	}
	if f.resources[0].hidden || f.resources[0].released {
		t.Fatal("failed capture must leave the window's overlay exactly as it was")
	}
	if f.engine.PoolSize() != 1 {
		t.Fatalf("pool must be untouched, got %d", f.engine.PoolSize())
	}
}

func TestLightCycleNeverCaptures(t *testing.T) {
	f := newFixture(t, nil)
	f.windows.set(oneWindow(false))
	f.runHeavy()
	before := f.capturer.calls()

	moved := oneWindow(false)
	moved[0].Bounds.X = 50
	f.windows.set(moved)
	f.fake.Advance(500 * time.Millisecond)

	f.sched.lightCycle()

	if f.capturer.calls() != before {
		t.Fatal("light cycle must never capture")
	}
	// Region X fraction 0.25 of a 400px window, now at origin x=50.
	if got := f.resources[0].frame.X; got != 150 {
		t.Fatalf("expected overlay repositioned to x=150, got %d", got)
	}
}

func TestThrottledCycleCoalescesIntoDebounce(t *testing.T) {
	f := newFixture(t, nil)
	f.windows.set(oneWindow(false))

	f.runHeavy()
	before := f.capturer.calls()

	// Immediately again, inside the throttle interval.
	f.sched.heavyCycle()

	if f.sched.inFlight {
		t.Fatal("throttled cycle must not dispatch a worker")
	}
	if f.capturer.calls() != before {
		t.Fatal("throttled cycle must not capture")
	}
	if !f.sched.debounce.Pending() {
		t.Fatal("throttled cycle must arm the debouncer instead of dropping the trigger")
	}
}

func TestExcludedAppTornDown(t *testing.T) {
	f := newFixture(t, nil)
	f.windows.set(oneWindow(false))
	f.runHeavy()
	if f.engine.PoolSize() != 1 {
		t.Fatalf("setup: expected 1 overlay, got %d", f.engine.PoolSize())
	}

	cfg := f.sched.deps.Config.Get()
	cfg.ExcludedApps["org.example.Editor"] = true
	if err := f.sched.deps.Config.Update(cfg); err != nil {
		t.Fatalf("config update: %v", err)
	}
	f.fake.Advance(time.Second)
	before := f.capturer.calls()

	f.runHeavy()

	if f.capturer.calls() != before {
		t.Fatal("excluded app must not be captured")
	}

	f.fake.Advance(2 * time.Second)
	f.engine.Sweep()
	if !f.resources[0].released {
		t.Fatal("excluded app's overlay must be released after the grace window")
	}
}

func TestRegainedPermissionClearsDisplayDim(t *testing.T) {
	f := newFixture(t, nil)
	f.capturer.permission = false
	f.windows.set(oneWindow(false))

	f.runHeavy()
	if len(f.resources) != 1 || f.resources[0].opacity != 0.25 {
		t.Fatalf("setup: expected display dim, got %+v", f.resources)
	}
	displayRes := f.resources[0]

	f.capturer.mu.Lock()
	f.capturer.permission = true
	f.capturer.mu.Unlock()
	f.fake.Advance(time.Second)

	f.runHeavy()
	f.fake.Advance(time.Second)
	f.engine.Sweep()

	if !displayRes.hidden {
		t.Fatal("display overlay must fade out once per-window analysis resumes")
	}
	if f.engine.PoolSize() < 2 {
		t.Fatalf("expected a per-window overlay alongside the pooled display one, size=%d", f.engine.PoolSize())
	}
}

func TestFocusEventRetiersAndDebounces(t *testing.T) {
	f := newFixture(t, nil)
	f.windows.set(oneWindow(false))
	f.runHeavy()

	f.sched.onFocus(1)

	if !f.sched.debounce.Pending() {
		t.Fatal("focus event must arm the debouncer")
	}
	if w := f.sched.lastWindows[1]; !w.Frontmost {
		t.Fatal("focus event must mark the window frontmost")
	}
}

func TestDesktopSwitchSuspendsThenSchedulesRestore(t *testing.T) {
	f := newFixture(t, nil)
	f.windows.set(oneWindow(false))
	f.runHeavy()

	f.sched.onDesktopSwitch()

	if !f.resources[0].hidden {
		t.Fatal("overlays must hide immediately on a desktop switch")
	}
	select {
	case <-f.sched.restoreCh:
		t.Fatal("restore must wait out the transition pause")
	default:
	}

	f.fake.Advance(desktopSwitchPause)

	select {
	case <-f.sched.restoreCh:
	default:
		t.Fatal("restore was never scheduled after the pause")
	}

	// What the control loop does with the restore signal.
	f.engine.Resume()
	f.sched.debounce.Trigger()

	if f.resources[0].hidden {
		t.Fatal("overlay must be visible again after the restore")
	}
	if !f.sched.debounce.Pending() {
		t.Fatal("restore must queue a re-analysis")
	}
}

func TestUnsubscribeDuringPublish(t *testing.T) {
	f := newFixture(t, nil)
	f.windows.set(oneWindow(false))
	f.runHeavy()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 500; i++ {
			ch := f.sched.Subscribe()
			f.sched.Unsubscribe(ch)
		}
	}()

	// A publish racing the close of a just-unsubscribed channel must never
	// panic the control goroutine.
	for {
		select {
		case <-done:
			return
		default:
			f.sched.publish()
		}
	}
}

func TestRestartAfterStop(t *testing.T) {
	mgr, err := config.NewManager(filepath.Join(t.TempDir(), "config.yaml"))
	if err != nil {
		t.Fatalf("config manager: %v", err)
	}

	windows := &fakeWindowProvider{}
	windows.set(oneWindow(false))

	var mu sync.Mutex
	var resources []*fakeRes
	engine := overlay.NewEngine(func() overlay.Resource {
		res := &fakeRes{}
		mu.Lock()
		resources = append(resources, res)
		mu.Unlock()
		return res
	}, timing.SystemClock{})

	sched := New(Deps{
		Config:   mgr,
		Windows:  windows,
		Displays: fakeDisplays{},
		Capturer: &fakeCapturer{permission: true},
		Detector: &fakeDetector{
			regions: []luminance.Region{{
				Bounds:     luminance.RectF{Width: 0.5, Height: 0.5},
				Brightness: 0.95,
			}},
		},
		Engine: engine,
	})
	defer sched.Shutdown()

	waitVisible := func(phase string) {
		t.Helper()
		deadline := time.Now().Add(3 * time.Second)
		for {
			for _, info := range sched.Overlays() {
				if info.State == "visible" || info.State == "fading-in" {
					return
				}
			}
			if time.Now().After(deadline) {
				t.Fatalf("%s: no visible overlay appeared", phase)
			}
			time.Sleep(10 * time.Millisecond)
		}
	}

	sched.Start()
	waitVisible("first run")

	sched.Stop()
	if sched.Status().Running {
		t.Fatal("expected stopped")
	}

	// Restarting after a Stop must hand the same pool to exactly one new
	// loop and bring dimming back.
	sched.Start()
	if !sched.Status().Running {
		t.Fatal("expected running after restart")
	}
	waitVisible("restart")
}

func TestStartStopLifecycle(t *testing.T) {
	mgr, err := config.NewManager(filepath.Join(t.TempDir(), "config.yaml"))
	if err != nil {
		t.Fatalf("config manager: %v", err)
	}

	windows := &fakeWindowProvider{}
	windows.set(oneWindow(false))

	var mu sync.Mutex
	var resources []*fakeRes
	factory := func() overlay.Resource {
		res := &fakeRes{}
		mu.Lock()
		resources = append(resources, res)
		mu.Unlock()
		return res
	}
	engine := overlay.NewEngine(factory, timing.SystemClock{})

	detector := &fakeDetector{
		regions: []luminance.Region{{
			Bounds:     luminance.RectF{X: 0, Y: 0, Width: 0.5, Height: 0.5},
			Brightness: 0.95,
		}},
	}
	sched := New(Deps{
		Config:   mgr,
		Windows:  windows,
		Displays: fakeDisplays{},
		Capturer: &fakeCapturer{permission: true},
		Detector: detector,
		Engine:   engine,
	})

	sched.Start()
	sched.Start() // idempotent

	if !sched.Status().Running {
		t.Fatal("expected running after Start")
	}

	deadline := time.Now().Add(2 * time.Second)
	for len(sched.Overlays()) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("no overlays appeared after the initial analysis pass")
		}
		time.Sleep(10 * time.Millisecond)
	}

	sched.Stop()
	if sched.Status().Running {
		t.Fatal("expected stopped after Stop")
	}
	if engine.PoolSize() == 0 {
		t.Fatal("Stop must keep the pool alive")
	}
	mu.Lock()
	for _, res := range resources {
		if res.released {
			t.Fatal("Stop must not release resources")
		}
	}
	mu.Unlock()

	sched.Shutdown()
	if engine.PoolSize() != 0 {
		t.Fatalf("Shutdown must release the pool, size=%d", engine.PoolSize())
	}
}
