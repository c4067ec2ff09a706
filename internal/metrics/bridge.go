package metrics

import (
	"errors"
	"time"

	"touchbridge/internal/bridge"
	"touchbridge/internal/geom"
	"touchbridge/internal/platform"
)

// BridgeMetrics records engine telemetry. It satisfies bridge.Observer.
type BridgeMetrics struct {
	registry *Registry
	started  time.Time

	Passes        *Counter
	PassDuration  *Histogram
	Applies       *Counter
	ApplyErrors   *Counter
	Unsupported   *Counter
	RegionArea    *Gauge
	RegionRects   *Gauge
	Active        *Gauge
	UptimeSeconds *Gauge
}

var _ bridge.Observer = (*BridgeMetrics)(nil)

// NewBridgeMetrics registers the engine metrics on registry.
func NewBridgeMetrics(registry *Registry) *BridgeMetrics {
	return &BridgeMetrics{
		registry: registry,
		started:  time.Now(),

		Passes: registry.Counter("passes_total",
			"Decision passes run", nil),
		PassDuration: registry.Histogram("pass_duration_seconds",
			"Time spent in one decision pass", nil, DurationBuckets),
		Applies: registry.Counter("region_applies_total",
			"Passthrough regions handed to the sink", nil),
		ApplyErrors: registry.Counter("region_apply_errors_total",
			"Sink calls that failed", nil),
		Unsupported: registry.Counter("region_apply_unsupported_total",
			"Sink calls rejected because the host lacks passthrough", nil),
		RegionArea: registry.Gauge("region_area_pixels",
			"Area of the most recently applied region", nil),
		RegionRects: registry.Gauge("region_rects",
			"Rectangle count of the most recently applied region", nil),
		Active: registry.Gauge("active",
			"1 while the engine is in the active phase", nil),
		UptimeSeconds: registry.Gauge("uptime_seconds",
			"Seconds since the engine metrics were created", nil),
	}
}

func (m *BridgeMetrics) EventReceived(kind platform.EventKind) {
	m.registry.Counter("events_total", "Platform events received by kind",
		Labels{"kind": kind.String()}).Inc()
}

func (m *BridgeMetrics) PassCompleted(d time.Duration) {
	m.Passes.Inc()
	m.PassDuration.ObserveDuration(d)
	m.UptimeSeconds.Set(int64(time.Since(m.started).Seconds()))
}

func (m *BridgeMetrics) RegionApplied(r geom.Region, err error) {
	switch {
	case errors.Is(err, platform.ErrUnsupported):
		m.Unsupported.Inc()
		return
	case err != nil:
		m.ApplyErrors.Inc()
		return
	}
	m.Applies.Inc()
	m.RegionArea.Set(int64(r.Area()))
	m.RegionRects.Set(int64(len(r.Rects())))
}

func (m *BridgeMetrics) TransitionRecorded(t bridge.Transition) {
	m.registry.Counter("transitions_total", "Phase transitions by target phase and reason",
		Labels{"to": t.To.String(), "reason": t.Reason}).Inc()
	if t.To == bridge.PhaseActive {
		m.Active.Set(1)
	} else {
		m.Active.Set(0)
	}
}
