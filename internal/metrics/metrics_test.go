package metrics

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"touchbridge/internal/bridge"
	"touchbridge/internal/geom"
	"touchbridge/internal/platform"
)

func TestCounterAndGauge(t *testing.T) {
	r := NewRegistry("tb")
	c := r.Counter("hits_total", "hits", nil)
	c.Inc()
	c.Add(4)
	assert.Equal(t, uint64(5), c.Value())
	assert.Equal(t, "tb_hits_total", c.Name())

	// Same name and labels returns the same series.
	assert.Same(t, c, r.Counter("hits_total", "hits", nil))

	g := r.Gauge("depth", "depth", nil)
	g.Set(10)
	g.Dec()
	g.Add(-4)
	assert.Equal(t, int64(5), g.Value())
}

func TestRegistryTypeConflictPanics(t *testing.T) {
	r := NewRegistry("")
	r.Counter("x", "x", nil)
	assert.Panics(t, func() { r.Gauge("x", "x", nil) })
}

func TestHistogramBuckets(t *testing.T) {
	r := NewRegistry("")
	h := r.Histogram("lat", "latency", nil, []float64{1, 5, 10})

	for _, v := range []float64{0.5, 1, 3, 5, 7, 20} {
		h.Observe(v)
	}

	assert.Equal(t, []uint64{2, 4, 5, 6}, h.Cumulative())
	assert.Equal(t, uint64(6), h.Count())
	assert.InDelta(t, 36.5, h.Sum(), 1e-9)
}

func TestWritePrometheus(t *testing.T) {
	r := NewRegistry("tb")
	r.Counter("events_total", "events", Labels{"kind": "screen_off"}).Inc()
	r.Counter("events_total", "events", Labels{"kind": "foreground_changed"}).Add(2)
	r.Histogram("pass_seconds", "pass", nil, []float64{0.1}).Observe(0.05)

	var buf bytes.Buffer
	require.NoError(t, r.WritePrometheus(&buf))
	out := buf.String()

	assert.Equal(t, 1, strings.Count(out, "# TYPE tb_events_total counter"))
	assert.Contains(t, out, `tb_events_total{kind="foreground_changed"} 2`)
	assert.Contains(t, out, `tb_events_total{kind="screen_off"} 1`)
	assert.Less(t,
		strings.Index(out, `kind="foreground_changed"`),
		strings.Index(out, `kind="screen_off"`))
	assert.Contains(t, out, `tb_pass_seconds_bucket{le="0.1"} 1`)
	assert.Contains(t, out, `tb_pass_seconds_bucket{le="+Inf"} 1`)
	assert.Contains(t, out, "tb_pass_seconds_count 1")
}

func TestLabelEscaping(t *testing.T) {
	l := Labels{"reason": `a"b`}
	assert.Equal(t, `{reason="a\"b"}`, l.String())
}

func TestHTTPHandler(t *testing.T) {
	r := NewRegistry("tb")
	r.Gauge("active", "active", nil).Set(1)

	rec := httptest.NewRecorder()
	r.HTTPHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "tb_active 1")

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	req.Header.Set("Accept", "application/json")
	rec = httptest.NewRecorder()
	r.HTTPHandler().ServeHTTP(rec, req)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var decoded map[string]jsonFamily
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &decoded))
	require.Contains(t, decoded, "tb_active")
	assert.Equal(t, "gauge", decoded["tb_active"].Type)
	require.Len(t, decoded["tb_active"].Series, 1)
	assert.Equal(t, int64(1), *decoded["tb_active"].Series[0].Value)
}

func TestBridgeMetricsObserver(t *testing.T) {
	r := NewRegistry("touchbridge")
	m := NewBridgeMetrics(r)

	m.EventReceived(platform.EventScreenOff)
	m.EventReceived(platform.EventScreenOff)
	m.PassCompleted(2 * time.Millisecond)

	region := geom.NewRegion(geom.R(0, 0, 100, 50))
	m.RegionApplied(region, nil)
	m.RegionApplied(geom.Region{}, errors.New("boom"))
	m.RegionApplied(geom.Region{}, platform.ErrUnsupported)

	m.TransitionRecorded(bridge.Transition{To: bridge.PhaseActive, Reason: "granted"})
	assert.Equal(t, int64(1), m.Active.Value())
	m.TransitionRecorded(bridge.Transition{To: bridge.PhaseInactive, Reason: "screen_off"})
	assert.Equal(t, int64(0), m.Active.Value())

	assert.Equal(t, uint64(1), m.Passes.Value())
	assert.Equal(t, uint64(1), m.PassDuration.Count())
	assert.Equal(t, uint64(1), m.Applies.Value())
	assert.Equal(t, uint64(1), m.ApplyErrors.Value())
	assert.Equal(t, uint64(1), m.Unsupported.Value())
	assert.Equal(t, int64(5000), m.RegionArea.Value())
	assert.Equal(t, int64(1), m.RegionRects.Value())

	events := r.Counter("events_total", "", Labels{"kind": "screen_off"})
	assert.Equal(t, uint64(2), events.Value())

	var buf bytes.Buffer
	require.NoError(t, r.WritePrometheus(&buf))
	assert.Contains(t, buf.String(), `touchbridge_transitions_total{reason="granted",to="active"} 1`)
}
