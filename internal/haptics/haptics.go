// Package haptics emits a short vibration on passthrough state edges.
package haptics

import (
	"log/slog"
	"sync"
	"time"

	"touchbridge/internal/platform"
)

// Patterns alternate on/off durations, starting with "on".
var (
	// EnablePattern is three short pulses.
	EnablePattern = []time.Duration{20 * time.Millisecond, 40 * time.Millisecond, 20 * time.Millisecond, 40 * time.Millisecond, 20 * time.Millisecond}
	// DisablePattern is a single longer pulse.
	DisablePattern = []time.Duration{80 * time.Millisecond}
)

// Gate reports whether haptic feedback is currently wanted.
type Gate interface {
	HapticsEnabled() bool
}

// Notifier vibrates exactly once per change of the notified boolean.
type Notifier struct {
	mu       sync.Mutex
	last     bool
	actuator platform.Actuator
	gate     Gate
	logger   *slog.Logger
}

// NewNotifier creates a Notifier. A nil actuator makes every notification a
// no-op; a nil gate means haptics are always enabled.
func NewNotifier(actuator platform.Actuator, gate Gate, logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{actuator: actuator, gate: gate, logger: logger}
}

// Notify records the new passthrough state and vibrates if it differs from
// the last notified one and haptics are enabled. Actuator failures are
// logged and otherwise ignored.
func (n *Notifier) Notify(enabled bool) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if enabled == n.last {
		return
	}
	n.last = enabled

	if n.gate != nil && !n.gate.HapticsEnabled() {
		return
	}
	if n.actuator == nil {
		return
	}

	pattern := DisablePattern
	if enabled {
		pattern = EnablePattern
	}
	if err := n.actuator.Vibrate(pattern); err != nil {
		n.logger.Warn("haptic feedback failed", "enabled", enabled, "error", err)
	}
}

// Reset forgets the last notified state without vibrating.
func (n *Notifier) Reset() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.last = false
}
