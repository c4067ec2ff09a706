package platform

import "time"

// EventKind identifies a raw host event.
type EventKind int

const (
	EventForegroundChanged EventKind = iota + 1
	EventWindowsChanged
	EventWindowContentChanged
	EventScreenOff
	EventPeerServiceStateChanged
)

func (k EventKind) String() string {
	switch k {
	case EventForegroundChanged:
		return "foreground_changed"
	case EventWindowsChanged:
		return "windows_changed"
	case EventWindowContentChanged:
		return "window_content_changed"
	case EventScreenOff:
		return "screen_off"
	case EventPeerServiceStateChanged:
		return "peer_service_state_changed"
	default:
		return "unknown"
	}
}

// ParseEventKind maps an event name to its kind; ok is false for unknown names.
func ParseEventKind(s string) (EventKind, bool) {
	for k := EventForegroundChanged; k <= EventPeerServiceStateChanged; k++ {
		if k.String() == s {
			return k, true
		}
	}
	return 0, false
}

// Qualifies reports whether the event kind feeds the debounced decision
// pipeline. Screen-off and peer-service changes bypass it.
func (k EventKind) Qualifies() bool {
	switch k {
	case EventForegroundChanged, EventWindowsChanged, EventWindowContentChanged:
		return true
	}
	return false
}

// Event is a raw event delivered by the host.
type Event struct {
	Kind EventKind
	// OtherTouchExplorationRequested is set on peer-service events: true when
	// some other assistive service still requests touch exploration.
	OtherTouchExplorationRequested bool
	Time                           time.Time
}
