package window

import (
	"fmt"
	"sync"

	"github.com/BurntSushi/xgb"
	"github.com/BurntSushi/xgb/xproto"
	"github.com/softdim/softdim/internal/logger"
)

// X11Provider implements Provider and SignalSource against an X11 server,
// preferring EWMH properties with QueryTree fallbacks.
type X11Provider struct {
	conn   *xgb.Conn
	root   xproto.Window
	screen *xproto.ScreenInfo

	activeAtom         xproto.Atom
	clientListAtom     xproto.Atom
	currentDesktopAtom xproto.Atom
	nameAtom           xproto.Atom
	wmNameAtom         xproto.Atom
	classAtom          xproto.Atom
	pidAtom            xproto.Atom

	mu       sync.Mutex
	watching bool
	stopChan chan struct{}
	focusCh  chan WindowID
	deskCh   chan struct{}
}

// NewX11Provider connects to the X server and interns the atoms it needs.
func NewX11Provider() (*X11Provider, error) {
	conn, err := xgb.NewConn()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to X server: %w", err)
	}

	setup := xproto.Setup(conn)
	screen := setup.DefaultScreen(conn)

	p := &X11Provider{
		conn:    conn,
		root:    screen.Root,
		screen:  screen,
		focusCh: make(chan WindowID, 8),
		deskCh:  make(chan struct{}, 1),
	}

	for _, a := range []struct {
		name string
		dst  *xproto.Atom
	}{
		{"_NET_ACTIVE_WINDOW", &p.activeAtom},
		{"_NET_CLIENT_LIST", &p.clientListAtom},
		{"_NET_CURRENT_DESKTOP", &p.currentDesktopAtom},
		{"_NET_WM_NAME", &p.nameAtom},
		{"WM_NAME", &p.wmNameAtom},
		{"WM_CLASS", &p.classAtom},
		{"_NET_WM_PID", &p.pidAtom},
	} {
		reply, err := xproto.InternAtom(conn, false, uint16(len(a.name)), a.name).Reply()
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("failed to intern atom %s: %w", a.name, err)
		}
		*a.dst = reply.Atom
	}

	return p, nil
}

// ListVisibleWindows returns all visible top-level windows using EWMH
// _NET_CLIENT_LIST with a QueryTree fallback.
func (p *X11Provider) ListVisibleWindows() ([]TrackedWindow, error) {
	log := logger.WithComponent("x11-windows")

	frontmost := WindowID(0)
	if fw, err := p.FrontmostWindow(); err == nil && fw != nil {
		frontmost = fw.ID
	}

	windows, err := p.listClientList(frontmost)
	if err == nil && len(windows) > 0 {
		return windows, nil
	}
	if err != nil {
		log.Debug().Err(err).Msg("_NET_CLIENT_LIST failed, falling back to QueryTree")
	}

	return p.listQueryTree(frontmost)
}

func (p *X11Provider) listClientList(frontmost WindowID) ([]TrackedWindow, error) {
	reply, err := xproto.GetProperty(
		p.conn, false, p.root, p.clientListAtom,
		xproto.GetPropertyTypeAny, 0, (1<<32)-1,
	).Reply()
	if err != nil {
		return nil, fmt.Errorf("failed to read _NET_CLIENT_LIST: %w", err)
	}
	if reply.ValueLen == 0 {
		return nil, fmt.Errorf("_NET_CLIENT_LIST is empty")
	}

	windows := make([]TrackedWindow, 0, reply.ValueLen)
	for i := 0; i+4 <= len(reply.Value); i += 4 {
		id := xproto.Window(uint32(reply.Value[i]) |
			uint32(reply.Value[i+1])<<8 |
			uint32(reply.Value[i+2])<<16 |
			uint32(reply.Value[i+3])<<24)

		tw, err := p.trackedWindow(id)
		if err != nil {
			continue
		}
		// Untitled classless windows are docks, menus, and other chrome.
		if tw.Title == "" && tw.AppID == "" {
			continue
		}
		tw.Frontmost = tw.ID == frontmost
		windows = append(windows, tw)
	}

	return windows, nil
}

func (p *X11Provider) listQueryTree(frontmost WindowID) ([]TrackedWindow, error) {
	tree, err := xproto.QueryTree(p.conn, p.root).Reply()
	if err != nil {
		return nil, fmt.Errorf("failed to query window tree: %w", err)
	}

	windows := make([]TrackedWindow, 0, len(tree.Children))
	for _, child := range tree.Children {
		attrs, err := xproto.GetWindowAttributes(p.conn, child).Reply()
		if err != nil || attrs.MapState != xproto.MapStateViewable {
			continue
		}
		tw, err := p.trackedWindow(child)
		if err != nil {
			continue
		}
		if tw.Title == "" && tw.AppID == "" {
			continue
		}
		tw.Frontmost = tw.ID == frontmost
		windows = append(windows, tw)
	}

	return windows, nil
}

// FrontmostWindow returns the active window via _NET_ACTIVE_WINDOW, falling
// back to the input focus.
func (p *X11Provider) FrontmostWindow() (*TrackedWindow, error) {
	var active xproto.Window

	reply, err := xproto.GetProperty(
		p.conn, false, p.root, p.activeAtom,
		xproto.AtomWindow, 0, 1,
	).Reply()
	if err == nil && len(reply.Value) >= 4 {
		active = xproto.Window(uint32(reply.Value[0]) |
			uint32(reply.Value[1])<<8 |
			uint32(reply.Value[2])<<16 |
			uint32(reply.Value[3])<<24)
	}

	if active == 0 {
		focusReply, err := xproto.GetInputFocus(p.conn).Reply()
		if err != nil {
			return nil, fmt.Errorf("failed to get input focus: %w", err)
		}
		active = focusReply.Focus
	}
	if active == 0 {
		return nil, nil
	}

	tw, err := p.trackedWindow(active)
	if err != nil {
		return nil, err
	}
	tw.Frontmost = true
	return &tw, nil
}

// trackedWindow assembles a TrackedWindow snapshot for one X window.
func (p *X11Provider) trackedWindow(win xproto.Window) (TrackedWindow, error) {
	tw := TrackedWindow{ID: WindowID(win)}

	geom, err := xproto.GetGeometry(p.conn, xproto.Drawable(win)).Reply()
	if err != nil {
		return tw, fmt.Errorf("failed to get geometry: %w", err)
	}
	// Geometry is relative to the parent; translate to root coordinates so
	// overlay frames land on the right spot.
	trans, err := xproto.TranslateCoordinates(p.conn, win, p.root, 0, 0).Reply()
	if err == nil {
		tw.Bounds = Rect{
			X:      int(trans.DstX),
			Y:      int(trans.DstY),
			Width:  int(geom.Width),
			Height: int(geom.Height),
		}
	} else {
		tw.Bounds = Rect{
			X:      int(geom.X),
			Y:      int(geom.Y),
			Width:  int(geom.Width),
			Height: int(geom.Height),
		}
	}

	if title, err := p.getStringProperty(win, p.nameAtom); err == nil {
		tw.Title = title
	}
	if tw.Title == "" {
		if title, err := p.getStringProperty(win, p.wmNameAtom); err == nil {
			tw.Title = title
		}
	}
	if class, err := p.getStringProperty(win, p.classAtom); err == nil {
		tw.AppID = firstNul(class)
	}

	pidReply, err := xproto.GetProperty(
		p.conn, false, win, p.pidAtom,
		xproto.AtomCardinal, 0, 1,
	).Reply()
	if err == nil && len(pidReply.Value) >= 4 {
		tw.PID = int(uint32(pidReply.Value[0]) |
			uint32(pidReply.Value[1])<<8 |
			uint32(pidReply.Value[2])<<16 |
			uint32(pidReply.Value[3])<<24)
	}

	return tw, nil
}

func (p *X11Provider) getStringProperty(win xproto.Window, atom xproto.Atom) (string, error) {
	reply, err := xproto.GetProperty(
		p.conn, false, win, atom,
		xproto.GetPropertyTypeAny, 0, (1<<32)-1,
	).Reply()
	if err != nil {
		return "", err
	}
	if reply.ValueLen == 0 {
		return "", fmt.Errorf("empty property")
	}
	return string(reply.Value), nil
}

// firstNul takes the leading NUL-terminated segment of a WM_CLASS value
// (instance name; the class name follows).
func firstNul(s string) string {
	for i := 0; i < len(s); i++ {
		if s[i] == 0 {
			return s[:i]
		}
	}
	return s
}

// Watch subscribes to root PropertyNotify events and starts the event pump
// feeding FocusEvents and DesktopSwitches.
func (p *X11Provider) Watch() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.watching {
		return nil
	}

	if err := xproto.ChangeWindowAttributesChecked(
		p.conn, p.root,
		xproto.CwEventMask,
		[]uint32{xproto.EventMaskPropertyChange},
	).Check(); err != nil {
		return fmt.Errorf("failed to set root event mask: %w", err)
	}

	p.watching = true
	p.stopChan = make(chan struct{})
	go p.eventPump()
	return nil
}

func (p *X11Provider) eventPump() {
	log := logger.WithComponent("x11-windows")

	for {
		ev, err := p.conn.WaitForEvent()
		if ev == nil && err == nil {
			return // connection closed
		}
		select {
		case <-p.stopChan:
			return
		default:
		}
		if err != nil {
			log.Debug().Err(err).Msg("X event error")
			continue
		}

		prop, ok := ev.(xproto.PropertyNotifyEvent)
		if !ok {
			continue
		}
		switch prop.Atom {
		case p.activeAtom:
			if fw, err := p.FrontmostWindow(); err == nil && fw != nil {
				select {
				case p.focusCh <- fw.ID:
				default:
				}
			}
		case p.currentDesktopAtom:
			select {
			case p.deskCh <- struct{}{}:
			default:
			}
		}
	}
}

// FocusEvents implements SignalSource.
func (p *X11Provider) FocusEvents() <-chan WindowID { return p.focusCh }

// DesktopSwitches implements SignalSource.
func (p *X11Provider) DesktopSwitches() <-chan struct{} { return p.deskCh }

// Conn exposes the underlying connection for sharing with the capture and
// overlay layers.
func (p *X11Provider) Conn() *xgb.Conn { return p.conn }

// Root returns the root window.
func (p *X11Provider) Root() xproto.Window { return p.root }

// Screen returns the screen info.
func (p *X11Provider) Screen() *xproto.ScreenInfo { return p.screen }

// DisplayFrames returns the bounds of each display. A single X screen is
// reported as one frame.
func (p *X11Provider) DisplayFrames() []Rect {
	return []Rect{{
		X:      0,
		Y:      0,
		Width:  int(p.screen.WidthInPixels),
		Height: int(p.screen.HeightInPixels),
	}}
}

// Close stops the event pump and closes the X connection.
func (p *X11Provider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.watching {
		close(p.stopChan)
		p.watching = false
	}
	p.conn.Close()
	return nil
}
