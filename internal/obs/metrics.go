// metrics.go implements a zero-dependency Prometheus text-format metrics
// registry, grounded on the teacher's libs/observability/prometheus.go
// text-exposition format (HELP/TYPE preamble, label rendering, bucket
// layout). Counter and Gauge are collapsed onto one shared label->float64
// row store (the teacher kept them as two copies of the same map/lock/
// atomic dance; here they differ only in how a write updates the stored
// value), and the per-row atomic.Uint64 the teacher used alongside a
// plain mutex is dropped — every write already holds the row map's lock,
// so the atomic bought nothing. The trading-specific metric set is
// replaced with one sized for a sweep run (combinations executed,
// per-combination duration, best score found, walk-forward ratio).
package obs

import (
	"fmt"
	"io"
	"math"
	"sort"
	"strings"
	"sync"
	"time"
)

// Registry is the root metrics registry. The zero value is not valid; use
// NewRegistry.
type Registry struct {
	mu      sync.RWMutex
	metrics []metric
}

type metric interface {
	desc() metricDesc
	writeText(w io.Writer)
}

type metricDesc struct {
	name  string
	help  string
	mtype string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry { return &Registry{} }

// WriteText writes all registered metrics in Prometheus text format to w.
func (r *Registry) WriteText(w io.Writer) {
	r.mu.RLock()
	ms := append([]metric(nil), r.metrics...)
	r.mu.RUnlock()

	for _, m := range ms {
		d := m.desc()
		fmt.Fprintf(w, "# HELP %s %s\n", d.name, d.help)
		fmt.Fprintf(w, "# TYPE %s %s\n", d.name, d.mtype)
		m.writeText(w)
	}
}

func (r *Registry) register(m metric) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.metrics = append(r.metrics, m)
}

// Labels is an ordered list of key=value pairs attached to a metric sample.
type Labels []string

func (l Labels) format() string {
	if len(l) == 0 {
		return ""
	}
	sb := strings.Builder{}
	sb.WriteByte('{')
	for i := 0; i < len(l); i += 2 {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(l[i])
		sb.WriteString(`="`)
		sb.WriteString(strings.ReplaceAll(l[i+1], `"`, `\"`))
		sb.WriteByte('"')
	}
	sb.WriteByte('}')
	return sb.String()
}

func (l Labels) labelKey() string { return strings.Join(l, "\x00") }

// valueRow is one label set's current scalar value. Counter and Gauge
// both boil down to this; only the function passed to valueMetric.update
// differs (add, with negative deltas ignored, for Counter; replace for
// Gauge).
type valueRow struct {
	labels Labels
	value  float64
}

// valueMetric is the shared label->scalar store behind Counter and
// Gauge. Reads and writes both hold mu for the whole operation, so the
// stored value needs no atomic access of its own.
type valueMetric struct {
	d    metricDesc
	mu   sync.RWMutex
	rows map[string]valueRow
}

func newValueMetric(name, help, mtype string) valueMetric {
	return valueMetric{d: metricDesc{name: name, help: help, mtype: mtype}, rows: make(map[string]valueRow)}
}

func (m *valueMetric) desc() metricDesc { return m.d }

func (m *valueMetric) update(labels Labels, apply func(old float64) float64) {
	key := labels.labelKey()
	m.mu.Lock()
	row, ok := m.rows[key]
	if !ok {
		row = valueRow{labels: labels}
	}
	row.value = apply(row.value)
	m.rows[key] = row
	m.mu.Unlock()
}

// value returns the current stored value for labels, or 0 if no sample
// has been recorded under that label set yet.
func (m *valueMetric) value(labels Labels) float64 {
	key := labels.labelKey()
	m.mu.RLock()
	row, ok := m.rows[key]
	m.mu.RUnlock()
	if !ok {
		return 0
	}
	return row.value
}

func (m *valueMetric) writeText(w io.Writer) {
	m.mu.RLock()
	rows := make([]valueRow, 0, len(m.rows))
	for _, r := range m.rows {
		rows = append(rows, r)
	}
	m.mu.RUnlock()
	sort.Slice(rows, func(i, j int) bool { return rows[i].labels.labelKey() < rows[j].labels.labelKey() })
	for _, r := range rows {
		fmt.Fprintf(w, "%s%s %s\n", m.d.name, r.labels.format(), formatFloat(r.value))
	}
}

// Counter is a monotonically increasing metric.
type Counter struct{ valueMetric }

// NewCounter registers and returns a new Counter.
func (r *Registry) NewCounter(name, help string) *Counter {
	c := &Counter{newValueMetric(name, help, "counter")}
	r.register(c)
	return c
}

// Inc increments the counter by 1 for the given labels.
func (c *Counter) Inc(labels ...string) { c.Add(1, labels...) }

// Add adds delta (must be >= 0) to the counter for the given labels.
func (c *Counter) Add(delta float64, labels ...string) {
	if delta < 0 {
		return
	}
	c.update(Labels(labels), func(old float64) float64 { return old + delta })
}

// Value returns the counter's current total for the given labels.
func (c *Counter) Value(labels ...string) float64 { return c.value(Labels(labels)) }

// Gauge is an arbitrary floating-point metric.
type Gauge struct{ valueMetric }

// NewGauge registers and returns a new Gauge.
func (r *Registry) NewGauge(name, help string) *Gauge {
	g := &Gauge{newValueMetric(name, help, "gauge")}
	r.register(g)
	return g
}

// Set sets the gauge to v for the given labels.
func (g *Gauge) Set(v float64, labels ...string) {
	g.update(Labels(labels), func(float64) float64 { return v })
}

// Value returns the gauge's current value for the given labels.
func (g *Gauge) Value(labels ...string) float64 { return g.value(Labels(labels)) }

// DefaultBuckets are log-spaced duration buckets in seconds, 1ms to 10s.
var DefaultBuckets = []float64{0.001, 0.005, 0.010, 0.025, 0.050, 0.100, 0.250, 0.500, 1.0, 2.5, 5.0, 10.0}

// Histogram tracks observations across configurable buckets.
type Histogram struct {
	d      metricDesc
	bounds []float64
	mu     sync.RWMutex
	rows   map[string]*histRow
}

type histRow struct {
	labels  Labels
	count   int64
	sum     float64
	buckets []int64
}

// NewHistogram registers and returns a new Histogram with the given bucket
// upper bounds. If bounds is nil, DefaultBuckets is used.
func (r *Registry) NewHistogram(name, help string, bounds []float64) *Histogram {
	if bounds == nil {
		bounds = DefaultBuckets
	}
	sorted := append([]float64(nil), bounds...)
	sort.Float64s(sorted)
	h := &Histogram{d: metricDesc{name: name, help: help, mtype: "histogram"}, bounds: sorted, rows: make(map[string]*histRow)}
	r.register(h)
	return h
}

func (h *Histogram) desc() metricDesc { return h.d }

// Observe records a single observation v. The whole update runs under
// h.mu, so the bucket counters and running sum need no atomic access.
func (h *Histogram) Observe(v float64, labels ...string) {
	key := Labels(labels).labelKey()
	h.mu.Lock()
	row, ok := h.rows[key]
	if !ok {
		row = &histRow{labels: Labels(labels), buckets: make([]int64, len(h.bounds)+1)}
		h.rows[key] = row
	}
	row.count++
	row.sum += v
	for i, ub := range h.bounds {
		if v <= ub {
			row.buckets[i]++
		}
	}
	row.buckets[len(h.bounds)]++
	h.mu.Unlock()
}

// ObserveDuration records a duration as seconds.
func (h *Histogram) ObserveDuration(d time.Duration, labels ...string) {
	h.Observe(d.Seconds(), labels...)
}

func (h *Histogram) writeText(w io.Writer) {
	h.mu.RLock()
	rows := make([]histRow, 0, len(h.rows))
	for _, r := range h.rows {
		rows = append(rows, *r)
	}
	h.mu.RUnlock()
	sort.Slice(rows, func(i, j int) bool { return rows[i].labels.labelKey() < rows[j].labels.labelKey() })

	for _, r := range rows {
		lf := r.labels.format()
		prefix := labelSetWithLE(r.labels)
		for i, ub := range h.bounds {
			fmt.Fprintf(w, "%s_bucket%s %d\n", h.d.name, insertLE(prefix, formatFloat(ub)), r.buckets[i])
		}
		fmt.Fprintf(w, "%s_bucket%s %d\n", h.d.name, insertLE(prefix, "+Inf"), r.count)
		fmt.Fprintf(w, "%s_sum%s %s\n", h.d.name, lf, formatFloat(r.sum))
		fmt.Fprintf(w, "%s_count%s %d\n", h.d.name, lf, r.count)
	}
}

func labelSetWithLE(l Labels) string {
	if len(l) == 0 {
		return ""
	}
	s := l.format()
	return s[:len(s)-1]
}

func insertLE(prefix, le string) string {
	if prefix == "" {
		return fmt.Sprintf(`{le="%s"}`, le)
	}
	return fmt.Sprintf(`%s,le="%s"}`, prefix, le)
}

// SweepMetrics is a pre-wired set of metrics for a parameter sweep run.
// Register once per sweep and pass the pointer to RunSweep.
type SweepMetrics struct {
	// CombinationsRun counts completed combinations, by outcome (ok/error).
	CombinationsRun *Counter
	// CombinationDuration is the wall time of one combination's engine run.
	CombinationDuration *Histogram
	// BestTotalReturn is the winning combination's total return so far.
	BestTotalReturn *Gauge
	// WalkForwardWFER is the last walk-forward efficiency ratio computed.
	WalkForwardWFER *Gauge
}

// NewSweepMetrics registers the standard sweep metric set into reg.
func NewSweepMetrics(reg *Registry) *SweepMetrics {
	return &SweepMetrics{
		CombinationsRun: reg.NewCounter(
			"backsim_sweep_combinations_total",
			"Total parameter combinations run by the optimizer, by outcome."),
		CombinationDuration: reg.NewHistogram(
			"backsim_sweep_combination_duration_seconds",
			"Wall time of one combination's engine run.",
			nil),
		BestTotalReturn: reg.NewGauge(
			"backsim_sweep_best_total_return",
			"Best total return seen so far in the current sweep."),
		WalkForwardWFER: reg.NewGauge(
			"backsim_walkforward_wfer",
			"Walk-forward efficiency ratio of the last validation run."),
	}
}

// formatFloat renders a float64 in Prometheus-compatible form.
func formatFloat(v float64) string {
	switch {
	case math.IsInf(v, 1):
		return "+Inf"
	case math.IsInf(v, -1):
		return "-Inf"
	case math.IsNaN(v):
		return "NaN"
	}
	return fmt.Sprintf("%g", v)
}
