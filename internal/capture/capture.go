package capture

import (
	"errors"
	"image"

	"github.com/softdim/softdim/internal/window"
)

// ErrUnavailable indicates capture permission is missing or transiently
// failed. Callers skip the window for the cycle and retry on the next one.
var ErrUnavailable = errors.New("capture unavailable")

// ErrStaleWindow indicates the window disappeared between listing and
// capture. Callers drop it silently; cache eviction handles the rest.
var ErrStaleWindow = errors.New("window disappeared before capture")

// Provider captures pixel content of windows and displays.
type Provider interface {
	// CaptureWindow grabs the current content of one window.
	CaptureWindow(id window.WindowID) (*image.RGBA, error)
	// CaptureDisplay grabs the full content of one display.
	CaptureDisplay(id int) (*image.RGBA, error)
	// HasPermission reports whether capture is currently permitted. It is
	// re-checked every cycle so a grant takes effect without restart.
	HasPermission() bool
}
