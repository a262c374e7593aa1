package window

import (
	"fmt"

	"github.com/godbus/dbus/v5"
	"github.com/softdim/softdim/internal/logger"
)

// KWin D-Bus constants
const (
	kwinService                    = "org.kde.KWin"
	kwinInterface                  = "org.kde.KWin"
	virtualDesktopManagerInterface = "org.kde.KWin.VirtualDesktopManager"
)

// KWinDesktopSignals listens for KWin virtual-desktop transitions on the
// session bus. On desktops without KWin the constructor fails and callers
// run with the X11 _NET_CURRENT_DESKTOP signal alone.
type KWinDesktopSignals struct {
	conn     *dbus.Conn
	deskCh   chan struct{}
	stopChan chan struct{}
}

// NewKWinDesktopSignals connects to the session bus and subscribes to the
// desktop-switch signals.
func NewKWinDesktopSignals() (*KWinDesktopSignals, error) {
	log := logger.WithComponent("kwin-signals")

	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to session bus: %w", err)
	}

	var names []string
	if err := conn.BusObject().Call("org.freedesktop.DBus.ListNames", 0).Store(&names); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to list D-Bus names: %w", err)
	}
	found := false
	for _, name := range names {
		if name == kwinService {
			found = true
			break
		}
	}
	if !found {
		conn.Close()
		return nil, fmt.Errorf("KWin service not found on D-Bus")
	}

	if err := conn.AddMatchSignal(
		dbus.WithMatchInterface(virtualDesktopManagerInterface),
		dbus.WithMatchMember("currentChanged"),
	); err != nil {
		log.Warn().Err(err).Msg("Failed to add match for VirtualDesktopManager.currentChanged")
	}
	if err := conn.AddMatchSignal(
		dbus.WithMatchInterface(kwinInterface),
		dbus.WithMatchMember("showingDesktopChanged"),
	); err != nil {
		log.Warn().Err(err).Msg("Failed to add match for KWin.showingDesktopChanged")
	}

	s := &KWinDesktopSignals{
		conn:     conn,
		deskCh:   make(chan struct{}, 1),
		stopChan: make(chan struct{}),
	}
	go s.pump()

	log.Info().Msg("Subscribed to KWin desktop-switch signals")
	return s, nil
}

func (s *KWinDesktopSignals) pump() {
	signalChan := make(chan *dbus.Signal, 10)
	s.conn.Signal(signalChan)

	for {
		select {
		case <-s.stopChan:
			s.conn.RemoveSignal(signalChan)
			return
		case sig := <-signalChan:
			if sig == nil {
				continue
			}
			switch sig.Name {
			case virtualDesktopManagerInterface + ".currentChanged",
				kwinInterface + ".showingDesktopChanged":
				select {
				case s.deskCh <- struct{}{}:
				default:
				}
			}
		}
	}
}

// DesktopSwitches delivers a tick per virtual-desktop transition.
func (s *KWinDesktopSignals) DesktopSwitches() <-chan struct{} { return s.deskCh }

// Close stops the signal pump and closes the bus connection.
func (s *KWinDesktopSignals) Close() error {
	close(s.stopChan)
	return s.conn.Close()
}

// MergeDesktopSwitches fans several desktop-switch channels into one,
// dropping ticks while one is already pending.
func MergeDesktopSwitches(chans ...<-chan struct{}) <-chan struct{} {
	out := make(chan struct{}, 1)
	for _, ch := range chans {
		go func(ch <-chan struct{}) {
			for range ch {
				select {
				case out <- struct{}{}:
				default:
				}
			}
		}(ch)
	}
	return out
}
