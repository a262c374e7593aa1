package window

// Provider enumerates on-screen windows. Implementations must return
// snapshots: callers hold the results across goroutines without locking.
type Provider interface {
	// ListVisibleWindows returns all currently visible top-level windows.
	ListVisibleWindows() ([]TrackedWindow, error)
	// FrontmostWindow returns the window with input focus, or nil when no
	// window is focused.
	FrontmostWindow() (*TrackedWindow, error)
}

// SignalSource pushes focus and desktop-switch events to the scheduler.
type SignalSource interface {
	// FocusEvents delivers the ID of the newly focused window.
	FocusEvents() <-chan WindowID
	// DesktopSwitches delivers a tick per virtual-desktop transition.
	DesktopSwitches() <-chan struct{}
	Close() error
}
