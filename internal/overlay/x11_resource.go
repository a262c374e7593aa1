package overlay

import (
	"fmt"
	"sync"
	"time"

	"github.com/BurntSushi/xgb"
	"github.com/BurntSushi/xgb/shape"
	"github.com/BurntSushi/xgb/xproto"
	"github.com/softdim/softdim/internal/logger"
	"github.com/softdim/softdim/internal/window"
)

const fadeStep = 30 * time.Millisecond

// X11Resource is a dimming surface backed by an override-redirect X window
// with a black background, shaded through _NET_WM_WINDOW_OPACITY so the
// compositor blends it. The input shape is emptied so it never intercepts
// clicks, and override-redirect keeps it out of focus handling.
type X11Resource struct {
	conn        *xgb.Conn
	screen      *xproto.ScreenInfo
	opacityAtom xproto.Atom
	shapeOK     bool

	win    xproto.Window
	mapped bool

	mu        sync.Mutex
	opacity   float64
	fadeStop  chan struct{}
	destroyed bool
}

// NewX11ResourceFactory returns a Factory producing overlay windows on the
// given X connection. The shape extension is probed once; without it the
// overlays still render but rely on override-redirect alone.
func NewX11ResourceFactory(conn *xgb.Conn, screen *xproto.ScreenInfo) (Factory, error) {
	atomReply, err := xproto.InternAtom(conn, false,
		uint16(len("_NET_WM_WINDOW_OPACITY")), "_NET_WM_WINDOW_OPACITY").Reply()
	if err != nil {
		return nil, fmt.Errorf("failed to intern opacity atom: %w", err)
	}

	shapeOK := true
	if err := shape.Init(conn); err != nil {
		logger.WithComponent("x11-overlay").Warn().Err(err).
			Msg("Shape extension unavailable - overlays depend on override-redirect only")
		shapeOK = false
	}

	return func() Resource {
		return &X11Resource{
			conn:        conn,
			screen:      screen,
			opacityAtom: atomReply.Atom,
			shapeOK:     shapeOK,
		}
	}, nil
}

// Create implements Resource.
func (r *X11Resource) Create(frame window.Rect, initialOpacity float64) error {
	wid, err := xproto.NewWindowId(r.conn)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrResourceCreate, err)
	}

	err = xproto.CreateWindowChecked(
		r.conn,
		r.screen.RootDepth,
		wid,
		r.screen.Root,
		int16(frame.X), int16(frame.Y),
		uint16(frame.Width), uint16(frame.Height),
		0,
		xproto.WindowClassInputOutput,
		r.screen.RootVisual,
		xproto.CwBackPixel|xproto.CwOverrideRedirect,
		[]uint32{r.screen.BlackPixel, 1},
	).Check()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrResourceCreate, err)
	}

	r.win = wid

	// Empty input region: clicks pass straight through to the window below.
	if r.shapeOK {
		if err := shape.RectanglesChecked(
			r.conn,
			shape.SoSet,
			shape.SkInput,
			0,
			wid,
			0, 0,
			nil,
		).Check(); err != nil {
			logger.WithComponent("x11-overlay").Warn().Err(err).
				Msg("Failed to clear overlay input shape")
		}
	}

	r.applyOpacity(initialOpacity)
	xproto.MapWindow(r.conn, wid)
	r.mapped = true
	r.opacity = initialOpacity
	return nil
}

// SetOpacity implements Resource, stepping the compositor opacity over the
// duration when animated.
func (r *X11Resource) SetOpacity(level float64, animated bool, d time.Duration) {
	r.mu.Lock()
	if r.destroyed {
		r.mu.Unlock()
		return
	}
	if r.fadeStop != nil {
		close(r.fadeStop)
		r.fadeStop = nil
	}
	from := r.opacity
	r.opacity = level

	if !animated || d <= 0 {
		r.mu.Unlock()
		r.applyOpacity(level)
		return
	}

	stop := make(chan struct{})
	r.fadeStop = stop
	r.mu.Unlock()

	go r.fade(from, level, d, stop)
}

func (r *X11Resource) fade(from, to float64, d time.Duration, stop chan struct{}) {
	steps := int(d / fadeStep)
	if steps < 1 {
		steps = 1
	}
	ticker := time.NewTicker(fadeStep)
	defer ticker.Stop()

	for i := 1; i <= steps; i++ {
		select {
		case <-stop:
			return
		case <-ticker.C:
			frac := float64(i) / float64(steps)
			r.applyOpacity(from + (to-from)*frac)
		}
	}
}

func (r *X11Resource) applyOpacity(level float64) {
	if level < 0 {
		level = 0
	}
	if level > 1 {
		level = 1
	}
	v := uint32(level * 0xffffffff)
	data := []byte{
		byte(v), byte(v >> 8), byte(v >> 16), byte(v >> 24),
	}
	xproto.ChangeProperty(
		r.conn,
		xproto.PropModeReplace,
		r.win,
		r.opacityAtom,
		xproto.AtomCardinal,
		32,
		1,
		data,
	)
}

// SetFrame implements Resource. X has no native frame animation; moves are
// applied directly.
func (r *X11Resource) SetFrame(frame window.Rect, _ bool, _ time.Duration) {
	xproto.ConfigureWindow(
		r.conn,
		r.win,
		xproto.ConfigWindowX|xproto.ConfigWindowY|
			xproto.ConfigWindowWidth|xproto.ConfigWindowHeight,
		[]uint32{
			uint32(frame.X), uint32(frame.Y),
			uint32(frame.Width), uint32(frame.Height),
		},
	)
}

// SetTier implements Resource. Always-above overlays are raised to the top
// of the stack; normal-tier placement happens via OrderAbove.
func (r *X11Resource) SetTier(tier Tier) {
	if tier == TierAlwaysAbove {
		xproto.ConfigureWindow(
			r.conn,
			r.win,
			xproto.ConfigWindowStackMode,
			[]uint32{xproto.StackModeAbove},
		)
	}
}

// OrderAbove implements Resource, stacking the overlay directly above its
// target window rather than above everything.
func (r *X11Resource) OrderAbove(target window.WindowID) {
	xproto.ConfigureWindow(
		r.conn,
		r.win,
		xproto.ConfigWindowSibling|xproto.ConfigWindowStackMode,
		[]uint32{uint32(target), xproto.StackModeAbove},
	)
}

// Hide implements Resource.
func (r *X11Resource) Hide() {
	if r.mapped {
		xproto.UnmapWindow(r.conn, r.win)
		r.mapped = false
	}
}

// Show implements Resource.
func (r *X11Resource) Show() {
	if !r.mapped {
		xproto.MapWindow(r.conn, r.win)
		r.mapped = true
	}
}

// Release implements Resource.
func (r *X11Resource) Release() {
	r.mu.Lock()
	if r.destroyed {
		r.mu.Unlock()
		return
	}
	r.destroyed = true
	if r.fadeStop != nil {
		close(r.fadeStop)
		r.fadeStop = nil
	}
	r.mu.Unlock()

	xproto.DestroyWindow(r.conn, r.win)
}
