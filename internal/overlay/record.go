package overlay

import (
	"time"

	"github.com/softdim/softdim/internal/decide"
	"github.com/softdim/softdim/internal/luminance"
	"github.com/softdim/softdim/internal/window"
)

// State is an OverlayRecord's lifecycle position.
type State int

const (
	StateUninitialized State = iota
	StateFadingIn
	StateVisible
	StateFadingOut
	StateHidden
	StateReleased // terminal, shutdown or grace-expired teardown only
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateFadingIn:
		return "fading-in"
	case StateVisible:
		return "visible"
	case StateFadingOut:
		return "fading-out"
	case StateHidden:
		return "hidden"
	case StateReleased:
		return "released"
	default:
		return "unknown"
	}
}

// Record is the engine's bookkeeping for one pooled overlay resource.
// Records are created lazily and survive across decisions; the resource is
// destroyed only at shutdown or after an explicit teardown's grace window.
type Record struct {
	res     Resource
	channel decide.Channel
	state   State

	// target is nil for display-covering overlays (simple mode).
	target *window.WindowID
	pid    int
	// region is the fractional sub-rectangle this overlay covers, nil for
	// whole-window and display overlays. Kept so tracking can recompute
	// the screen frame when the window moves.
	region *luminance.RectF

	opacity float64
	frame   window.Rect
	tier    Tier
	// ordered tracks the window this overlay was last stacked above, to
	// skip redundant restack requests.
	ordered window.WindowID

	// fadeDeadline is when the running fade-out completes and the surface
	// can actually be hidden.
	fadeDeadline time.Time
	// releaseDeadline, when set, marks the record for destruction once the
	// grace window elapses. The record holds the resource until then so a
	// pending visual transition can never be freed out from under.
	releaseDeadline time.Time

	// restoreOpacity remembers the level to return to after a
	// desktop-switch suspension.
	restoreOpacity float64
}

// State returns the record's current lifecycle state.
func (r *Record) State() State { return r.state }

// Target returns the targeted window ID, or 0 for display overlays.
func (r *Record) Target() window.WindowID {
	if r.target == nil {
		return 0
	}
	return *r.target
}

// RecordInfo is the externally visible snapshot of one record.
type RecordInfo struct {
	Channel  decide.Channel  `json:"channel"`
	State    string          `json:"state"`
	WindowID window.WindowID `json:"window_id,omitempty"`
	PID      int             `json:"pid,omitempty"`
	Opacity  float64         `json:"opacity"`
	Frame    window.Rect     `json:"frame"`
	Tier     string          `json:"tier"`
}
