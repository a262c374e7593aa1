// Package overlay owns the pool of dimming surfaces and the reconciliation
// engine that keeps them in agreement with the latest decision batch.
package overlay

import (
	"errors"
	"time"

	"github.com/softdim/softdim/internal/window"
)

// ErrResourceCreate indicates an overlay surface could not be created. The
// cycle skips that overlay; the decision recurs next cycle so it is retried.
var ErrResourceCreate = errors.New("overlay resource creation failed")

// Tier is the layering category of an overlay surface.
type Tier int

const (
	// TierNormal overlays sit directly above their specific target window.
	TierNormal Tier = iota
	// TierAlwaysAbove overlays belong to the frontmost window and are
	// immune to local z-order shuffles within that app.
	TierAlwaysAbove
)

func (t Tier) String() string {
	if t == TierAlwaysAbove {
		return "always-above"
	}
	return "normal"
}

// Resource is one positionable, opacity-bearing, non-interactive surface.
// Implementations must never intercept input or take focus. All calls come
// from the control goroutine.
type Resource interface {
	// Create materializes the surface at the given frame and opacity.
	Create(frame window.Rect, initialOpacity float64) error
	// SetOpacity changes the surface opacity, optionally animated.
	SetOpacity(level float64, animated bool, d time.Duration)
	// SetFrame moves/resizes the surface, optionally animated.
	SetFrame(frame window.Rect, animated bool, d time.Duration)
	// SetTier assigns the layering category.
	SetTier(tier Tier)
	// OrderAbove stacks the surface directly above the target window.
	OrderAbove(target window.WindowID)
	// Hide removes the surface from display without destroying it.
	Hide()
	// Show makes a hidden surface visible again.
	Show()
	// Release destroys the surface. Only called on records that are Hidden
	// with their grace window elapsed, or at shutdown.
	Release()
}

// Factory creates overlay resources. Injected so tests run against fakes.
type Factory func() Resource
