package bridge

import (
	"time"

	"touchbridge/internal/geom"
	"touchbridge/internal/platform"
)

// Phase is the engine's logical passthrough state.
type Phase int

const (
	// PhaseInactive means no application is granted passthrough.
	PhaseInactive Phase = iota
	// PhaseActive means passthrough is enabled for the active application.
	PhaseActive
	// PhaseSuppressed means the active application keeps its claim but
	// passthrough is withheld, e.g. while a native dialog is showing.
	PhaseSuppressed
)

func (p Phase) String() string {
	switch p {
	case PhaseInactive:
		return "inactive"
	case PhaseActive:
		return "active"
	case PhaseSuppressed:
		return "suppressed"
	default:
		return "unknown"
	}
}

// EngineState is the state carried across decision passes.
type EngineState struct {
	ActiveApplicationID    string
	LastPassthroughEnabled bool
}

// ForegroundContext is rebuilt on every decision pass.
type ForegroundContext struct {
	ApplicationID       string
	SystemOverlayActive bool
	Surfaces            []platform.Surface
}

// Snapshot is a point-in-time copy of the engine's state for status queries.
type Snapshot struct {
	SessionID          string
	Running            bool
	Phase              Phase
	ApplicationID      string
	Region             geom.Region
	PassthroughEnabled bool
	// RegionUnsupported is set once the host reported it cannot apply
	// passthrough regions.
	RegionUnsupported bool
	Passes            uint64
	LastPass          time.Time
}

// Transition describes one change of phase or active application.
type Transition struct {
	SessionID     string
	Time          time.Time
	From          Phase
	To            Phase
	ApplicationID string
	Region        geom.Region
	Reason        string
}

// Recorder persists transitions. Errors are logged by the engine and never
// affect decisions.
type Recorder interface {
	RecordTransition(t Transition) error
}

// Observer receives engine telemetry. Calls happen on the engine goroutine
// and must not block.
type Observer interface {
	EventReceived(kind platform.EventKind)
	PassCompleted(d time.Duration)
	RegionApplied(r geom.Region, err error)
	TransitionRecorded(t Transition)
}

type nopObserver struct{}

func (nopObserver) EventReceived(platform.EventKind) {}
func (nopObserver) PassCompleted(time.Duration)      {}
func (nopObserver) RegionApplied(geom.Region, error) {}
func (nopObserver) TransitionRecorded(Transition)    {}

// Reasons attached to transitions.
const (
	ReasonMasterSwitchOff   = "master_switch_off"
	ReasonSystemOverlay     = "system_overlay"
	ReasonIgnoredForeground = "ignored_foreground"
	ReasonIneligible        = "ineligible"
	ReasonNativeUI          = "native_ui"
	ReasonEligible          = "eligible"
	ReasonScreenOff         = "screen_off"
	ReasonPeerWithdrawn     = "peer_service_withdrawn"
	ReasonTeardown          = "teardown"
)
