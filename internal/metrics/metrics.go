// Package metrics provides Prometheus-compatible counters, gauges and
// histograms with a text and JSON exposition endpoint.
package metrics

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// MetricType represents the type of metric.
type MetricType int

const (
	TypeCounter MetricType = iota
	TypeGauge
	TypeHistogram
)

func (t MetricType) String() string {
	switch t {
	case TypeCounter:
		return "counter"
	case TypeGauge:
		return "gauge"
	case TypeHistogram:
		return "histogram"
	default:
		return "unknown"
	}
}

// Labels represents metric labels.
type Labels map[string]string

// String renders labels in exposition order, sorted by key.
func (l Labels) String() string {
	if len(l) == 0 {
		return ""
	}
	keys := make([]string, 0, len(l))
	for k := range l {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(l))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf(`%s="%s"`, k, escapeLabel(l[k])))
	}
	return "{" + strings.Join(parts, ",") + "}"
}

// with returns the label string extended by one extra pair, used for
// histogram bucket bounds.
func (l Labels) with(key, value string) string {
	s := l.String()
	pair := fmt.Sprintf(`%s="%s"`, key, value)
	if s == "" {
		return "{" + pair + "}"
	}
	return s[:len(s)-1] + "," + pair + "}"
}

var labelEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`, "\n", `\n`)

func escapeLabel(v string) string {
	return labelEscaper.Replace(v)
}

// Counter is a monotonically increasing counter.
type Counter struct {
	name   string
	help   string
	labels Labels
	value  atomic.Uint64
}

func (c *Counter) Inc()          { c.value.Add(1) }
func (c *Counter) Add(v uint64)  { c.value.Add(v) }
func (c *Counter) Value() uint64 { return c.value.Load() }
func (c *Counter) Name() string  { return c.name }

// Gauge is a value that can go up and down.
type Gauge struct {
	name   string
	help   string
	labels Labels
	value  atomic.Int64
}

func (g *Gauge) Set(v int64)  { g.value.Store(v) }
func (g *Gauge) Inc()         { g.value.Add(1) }
func (g *Gauge) Dec()         { g.value.Add(-1) }
func (g *Gauge) Add(v int64)  { g.value.Add(v) }
func (g *Gauge) Value() int64 { return g.value.Load() }

// DurationBuckets are buckets for duration histograms, in seconds.
var DurationBuckets = []float64{
	0.0001, 0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1,
}

// Histogram tracks the distribution of values. counts holds per-bucket
// (non-cumulative) tallies; the last slot is the +Inf overflow.
type Histogram struct {
	name    string
	help    string
	labels  Labels
	buckets []float64

	mu     sync.Mutex
	counts []uint64
	sum    float64
	count  uint64
}

func newHistogram(name, help string, labels Labels, buckets []float64) *Histogram {
	if len(buckets) == 0 {
		buckets = DurationBuckets
	}
	sorted := make([]float64, len(buckets))
	copy(sorted, buckets)
	sort.Float64s(sorted)
	return &Histogram{
		name:    name,
		help:    help,
		labels:  labels,
		buckets: sorted,
		counts:  make([]uint64, len(sorted)+1),
	}
}

// Observe records a value. A value equal to a bound lands in that bound's
// bucket, matching the Prometheus le semantics.
func (h *Histogram) Observe(v float64) {
	idx := sort.SearchFloat64s(h.buckets, v)

	h.mu.Lock()
	h.counts[idx]++
	h.sum += v
	h.count++
	h.mu.Unlock()
}

// ObserveDuration records a duration in seconds.
func (h *Histogram) ObserveDuration(d time.Duration) {
	h.Observe(d.Seconds())
}

func (h *Histogram) Count() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.count
}

func (h *Histogram) Sum() float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.sum
}

// Cumulative returns the cumulative count for each bucket bound followed by
// the +Inf total.
func (h *Histogram) Cumulative() []uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]uint64, len(h.counts))
	var running uint64
	for i, c := range h.counts {
		running += c
		out[i] = running
	}
	return out
}

type family struct {
	name  string
	help  string
	typ   MetricType
	order []string
	// series keyed by rendered label string
	counters   map[string]*Counter
	gauges     map[string]*Gauge
	histograms map[string]*Histogram
}

// Registry holds all registered metrics. Metrics sharing a name form one
// family and differ only by labels.
type Registry struct {
	mu        sync.RWMutex
	families  map[string]*family
	namespace string
}

// NewRegistry creates a new Registry. namespace prefixes every metric name.
func NewRegistry(namespace string) *Registry {
	return &Registry{
		families:  make(map[string]*family),
		namespace: namespace,
	}
}

func (r *Registry) fullName(name string) string {
	if r.namespace == "" {
		return name
	}
	return r.namespace + "_" + name
}

func (r *Registry) familyFor(name, help string, typ MetricType) (*family, error) {
	full := r.fullName(name)
	f, ok := r.families[full]
	if !ok {
		f = &family{
			name:       full,
			help:       help,
			typ:        typ,
			counters:   make(map[string]*Counter),
			gauges:     make(map[string]*Gauge),
			histograms: make(map[string]*Histogram),
		}
		r.families[full] = f
		return f, nil
	}
	if f.typ != typ {
		return nil, fmt.Errorf("metric %s already registered as %s", full, f.typ)
	}
	return f, nil
}

// Counter returns the counter with the given name and labels, registering
// it on first use. It panics if name is already registered with another
// type.
func (r *Registry) Counter(name, help string, labels Labels) *Counter {
	r.mu.Lock()
	defer r.mu.Unlock()

	f, err := r.familyFor(name, help, TypeCounter)
	if err != nil {
		panic(err)
	}
	key := labels.String()
	if c, ok := f.counters[key]; ok {
		return c
	}
	c := &Counter{name: f.name, help: help, labels: labels}
	f.counters[key] = c
	f.order = append(f.order, key)
	return c
}

// Gauge returns the gauge with the given name and labels.
func (r *Registry) Gauge(name, help string, labels Labels) *Gauge {
	r.mu.Lock()
	defer r.mu.Unlock()

	f, err := r.familyFor(name, help, TypeGauge)
	if err != nil {
		panic(err)
	}
	key := labels.String()
	if g, ok := f.gauges[key]; ok {
		return g
	}
	g := &Gauge{name: f.name, help: help, labels: labels}
	f.gauges[key] = g
	f.order = append(f.order, key)
	return g
}

// Histogram returns the histogram with the given name and labels. buckets
// is only consulted on first registration.
func (r *Registry) Histogram(name, help string, labels Labels, buckets []float64) *Histogram {
	r.mu.Lock()
	defer r.mu.Unlock()

	f, err := r.familyFor(name, help, TypeHistogram)
	if err != nil {
		panic(err)
	}
	key := labels.String()
	if h, ok := f.histograms[key]; ok {
		return h
	}
	h := newHistogram(f.name, help, labels, buckets)
	f.histograms[key] = h
	f.order = append(f.order, key)
	return h
}

func (r *Registry) sortedFamilies() []*family {
	out := make([]*family, 0, len(r.families))
	for _, f := range r.families {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].name < out[j].name })
	return out
}

func sortedKeys(f *family) []string {
	keys := append([]string(nil), f.order...)
	sort.Strings(keys)
	return keys
}

// WritePrometheus writes metrics in Prometheus text format, families sorted
// by name and series sorted by labels.
func (r *Registry) WritePrometheus(w io.Writer) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var b strings.Builder
	for _, f := range r.sortedFamilies() {
		fmt.Fprintf(&b, "# HELP %s %s\n", f.name, f.help)
		fmt.Fprintf(&b, "# TYPE %s %s\n", f.name, f.typ)
		for _, key := range sortedKeys(f) {
			switch f.typ {
			case TypeCounter:
				fmt.Fprintf(&b, "%s%s %d\n", f.name, key, f.counters[key].Value())
			case TypeGauge:
				fmt.Fprintf(&b, "%s%s %d\n", f.name, key, f.gauges[key].Value())
			case TypeHistogram:
				h := f.histograms[key]
				cum := h.Cumulative()
				for i, bound := range h.buckets {
					fmt.Fprintf(&b, "%s_bucket%s %d\n", f.name,
						h.labels.with("le", formatBound(bound)), cum[i])
				}
				fmt.Fprintf(&b, "%s_bucket%s %d\n", f.name, h.labels.with("le", "+Inf"), cum[len(cum)-1])
				fmt.Fprintf(&b, "%s_sum%s %g\n", f.name, key, h.Sum())
				fmt.Fprintf(&b, "%s_count%s %d\n", f.name, key, h.Count())
			}
		}
	}
	_, err := io.WriteString(w, b.String())
	return err
}

func formatBound(v float64) string {
	return fmt.Sprintf("%g", v)
}

type jsonSeries struct {
	Labels  Labels            `json:"labels,omitempty"`
	Value   *int64            `json:"value,omitempty"`
	Buckets map[string]uint64 `json:"buckets,omitempty"`
	Sum     *float64          `json:"sum,omitempty"`
	Count   *uint64           `json:"count,omitempty"`
}

type jsonFamily struct {
	Type   string       `json:"type"`
	Help   string       `json:"help"`
	Series []jsonSeries `json:"series"`
}

// WriteJSON writes metrics as a JSON object keyed by metric name.
func (r *Registry) WriteJSON(w io.Writer) error {
	r.mu.RLock()
	out := make(map[string]jsonFamily, len(r.families))
	for _, f := range r.sortedFamilies() {
		jf := jsonFamily{Type: f.typ.String(), Help: f.help}
		for _, key := range sortedKeys(f) {
			var s jsonSeries
			switch f.typ {
			case TypeCounter:
				c := f.counters[key]
				v := int64(c.Value())
				s = jsonSeries{Labels: c.labels, Value: &v}
			case TypeGauge:
				g := f.gauges[key]
				v := g.Value()
				s = jsonSeries{Labels: g.labels, Value: &v}
			case TypeHistogram:
				h := f.histograms[key]
				cum := h.Cumulative()
				buckets := make(map[string]uint64, len(cum))
				for i, bound := range h.buckets {
					buckets[formatBound(bound)] = cum[i]
				}
				buckets["+Inf"] = cum[len(cum)-1]
				sum, count := h.Sum(), h.Count()
				s = jsonSeries{Labels: h.labels, Buckets: buckets, Sum: &sum, Count: &count}
			}
			jf.Series = append(jf.Series, s)
		}
		out[f.name] = jf
	}
	r.mu.RUnlock()

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

// HTTPHandler serves the registry. Clients asking for application/json get
// WriteJSON output; everyone else gets the text format.
func (r *Registry) HTTPHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if strings.Contains(req.Header.Get("Accept"), "application/json") {
			w.Header().Set("Content-Type", "application/json")
			_ = r.WriteJSON(w)
			return
		}
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		_ = r.WritePrometheus(w)
	})
}
