// Package platform defines the host-facing types and interfaces the bridge
// engine is written against: surfaces and their UI trees, raw events, the
// passthrough-region sink, application metadata and the haptic actuator.
//
// Concrete hosts live elsewhere (see internal/host); everything here is a
// narrow contract so the engine never mutates host objects directly.
package platform

import (
	"context"
	"errors"
	"time"

	"touchbridge/internal/geom"
)

// SurfaceKind classifies an on-screen window.
type SurfaceKind int

const (
	KindOther SurfaceKind = iota
	KindApplication
	KindSystem
	KindInputMethod
	KindAccessibilityOverlay
)

var kindNames = map[SurfaceKind]string{
	KindOther:                "other",
	KindApplication:          "application",
	KindSystem:               "system",
	KindInputMethod:          "input_method",
	KindAccessibilityOverlay: "accessibility_overlay",
}

func (k SurfaceKind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return "unknown"
}

// ParseSurfaceKind maps a kind name back to its value. Unknown names yield
// KindOther.
func ParseSurfaceKind(s string) SurfaceKind {
	for k, name := range kindNames {
		if name == s {
			return k
		}
	}
	return KindOther
}

// Surface is a visible window supplied fresh for one decision pass. It must
// not be retained after the pass: the host may invalidate it.
type Surface struct {
	Kind   SurfaceKind
	Bounds geom.Rect
	Active bool
	// Owner is the owning application identifier, empty when unknown.
	Owner string
	// Root acquires the surface's UI tree root. It may be nil, and may return
	// nil when the tree is no longer available.
	Root func() Node
}

// Node is a read-only view of one element in a surface's UI tree.
//
// Child acquires a handle that the caller owns; every acquired node must be
// released with Release exactly once.
type Node interface {
	ClassName() string
	Text() string
	Clickable() bool
	ChildCount() int
	Child(i int) Node
	Release()
}

// SurfaceSource supplies the current window list on demand.
type SurfaceSource interface {
	Surfaces(ctx context.Context) ([]Surface, error)
	ScreenBounds() geom.Rect
}

// ErrUnsupported is returned by a PassthroughSink when the host has no
// passthrough-region API.
var ErrUnsupported = errors.New("platform: passthrough region not supported")

// PassthroughSink applies the raw-touch passthrough area. An empty region
// disables passthrough entirely. Applying the same region twice must be
// observably a no-op.
type PassthroughSink interface {
	ApplyPassthroughRegion(region geom.Region) error
}

// Metadata is the static metadata an application or its entry point
// declares. A nil map means nothing was declared.
type Metadata map[string]string

// Bool reads a boolean flag, treating absent or malformed values as false.
func (m Metadata) Bool(key string) (value bool, ok bool) {
	raw, present := m[key]
	if !present {
		return false, false
	}
	switch raw {
	case "true", "1", "yes":
		return true, true
	case "false", "0", "no":
		return false, true
	}
	return false, false
}

// MetadataQuery resolves static application metadata. Errors mean the
// application could not be resolved.
type MetadataQuery interface {
	ApplicationMetadata(appID string) (Metadata, error)
	EntryPointMetadata(appID string) (Metadata, error)
}

// Actuator drives a vibration pattern of alternating on/off durations,
// starting with "on".
type Actuator interface {
	Vibrate(pattern []time.Duration) error
}

// Preferences is the read side of the external configuration store.
type Preferences interface {
	MasterSwitchEnabled() bool
	HapticsEnabled() bool
	IsAllowListed(appID string) bool
	DirectTyping(appID string) bool
	// Subscribe registers fn to be called with the logical key of every
	// changed setting. The returned func removes the subscription.
	Subscribe(fn func(key string)) (cancel func())
}

// Logical preference keys delivered through Preferences.Subscribe.
const (
	KeyMasterSwitch       = "master_switch"
	KeyHapticsEnabled     = "haptics_enabled"
	KeyEnabledApps        = "enabled_app_packages"
	KeyDirectTypingPrefix = "direct_typing_"
)

// DirectTypingKey returns the preference key of appID's direct-typing override.
func DirectTypingKey(appID string) string {
	return KeyDirectTypingPrefix + appID
}
