package host

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/godbus/dbus/v5"

	"touchbridge/internal/platform"
)

// Session bus names the watcher listens to.
const (
	ScreenSaverInterface = "org.freedesktop.ScreenSaver"
	ScreenSaverSignal    = ScreenSaverInterface + ".ActiveChanged"
	PropertiesInterface  = "org.freedesktop.DBus.Properties"
	PropertiesSignal     = PropertiesInterface + ".PropertiesChanged"
	A11yBusPath          = dbus.ObjectPath("/org/a11y/bus")
	A11yStatusInterface  = "org.a11y.Status"
)

// BusWatcher turns session bus signals into engine events: screen saver
// activation becomes screen-off, and a screen reader toggling becomes a
// peer-service change.
type BusWatcher struct {
	conn   *dbus.Conn
	logger *slog.Logger
}

// NewBusWatcher connects to the session bus and subscribes to the signals.
func NewBusWatcher(logger *slog.Logger) (*BusWatcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		return nil, fmt.Errorf("connect session bus: %w", err)
	}

	matches := [][]dbus.MatchOption{
		{
			dbus.WithMatchInterface(ScreenSaverInterface),
			dbus.WithMatchMember("ActiveChanged"),
		},
		{
			dbus.WithMatchObjectPath(A11yBusPath),
			dbus.WithMatchInterface(PropertiesInterface),
			dbus.WithMatchMember("PropertiesChanged"),
		},
	}
	for _, opts := range matches {
		if err := conn.AddMatchSignal(opts...); err != nil {
			conn.Close()
			return nil, fmt.Errorf("add match: %w", err)
		}
	}

	return &BusWatcher{conn: conn, logger: logger}, nil
}

// Run delivers events until ctx is done or the connection drops.
func (w *BusWatcher) Run(ctx context.Context, deliver func(platform.Event) error) error {
	signals := make(chan *dbus.Signal, 16)
	w.conn.Signal(signals)
	defer w.conn.RemoveSignal(signals)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case sig, ok := <-signals:
			if !ok {
				return fmt.Errorf("session bus closed")
			}
			ev, ok := EventFromSignal(sig)
			if !ok {
				continue
			}
			w.logger.Debug("bus signal", "name", sig.Name, "event", ev.Kind)
			if err := deliver(ev); err != nil {
				return err
			}
		}
	}
}

// Close releases the bus connection.
func (w *BusWatcher) Close() error {
	return w.conn.Close()
}

// EventFromSignal maps a bus signal to an engine event.
func EventFromSignal(sig *dbus.Signal) (platform.Event, bool) {
	if sig == nil {
		return platform.Event{}, false
	}
	now := time.Now()

	switch sig.Name {
	case ScreenSaverSignal:
		if len(sig.Body) < 1 {
			return platform.Event{}, false
		}
		active, ok := sig.Body[0].(bool)
		if !ok || !active {
			return platform.Event{}, false
		}
		return platform.Event{Kind: platform.EventScreenOff, Time: now}, true

	case PropertiesSignal:
		if sig.Path != A11yBusPath || len(sig.Body) < 2 {
			return platform.Event{}, false
		}
		iface, ok := sig.Body[0].(string)
		if !ok || iface != A11yStatusInterface {
			return platform.Event{}, false
		}
		changed, ok := sig.Body[1].(map[string]dbus.Variant)
		if !ok {
			return platform.Event{}, false
		}
		v, ok := changed["ScreenReaderEnabled"]
		if !ok {
			return platform.Event{}, false
		}
		enabled, ok := v.Value().(bool)
		if !ok {
			return platform.Event{}, false
		}
		return platform.Event{
			Kind:                           platform.EventPeerServiceStateChanged,
			OtherTouchExplorationRequested: enabled,
			Time:                           now,
		}, true
	}
	return platform.Event{}, false
}
