package obs

import (
	"bytes"
	"strings"
	"testing"
	"time"
)

func TestRegistryWriteTextEmpty(t *testing.T) {
	r := NewRegistry()
	var buf bytes.Buffer
	r.WriteText(&buf)
	if buf.Len() != 0 {
		t.Fatalf("expected empty output, got: %s", buf.String())
	}
}

func TestCounterIncAndAdd(t *testing.T) {
	r := NewRegistry()
	c := r.NewCounter("combinations_total", "test help")
	c.Inc("outcome", "ok")
	c.Inc("outcome", "ok")
	c.Add(3, "outcome", "ok")
	if v := c.Value("outcome", "ok"); v != 5 {
		t.Fatalf("Value = %v, want 5", v)
	}
}

func TestCounterNegativeDeltaIgnored(t *testing.T) {
	r := NewRegistry()
	c := r.NewCounter("test_neg", "help")
	c.Add(10)
	c.Add(-5)
	if v := c.Value(); v != 10 {
		t.Fatalf("Value = %v, want 10 (negative ignored)", v)
	}
}

func TestGaugeSet(t *testing.T) {
	r := NewRegistry()
	g := r.NewGauge("best_total_return", "best return so far")
	g.Set(0.12)
	if v := g.Value(); v != 0.12 {
		t.Fatalf("Value = %v, want 0.12", v)
	}
	g.Set(0.20)
	if v := g.Value(); v != 0.20 {
		t.Fatalf("Value = %v, want 0.20", v)
	}
}

func TestHistogramObserve(t *testing.T) {
	r := NewRegistry()
	h := r.NewHistogram("combo_duration_seconds", "duration", []float64{0.01, 0.1, 1.0})
	h.Observe(0.005)
	h.Observe(0.05)
	h.Observe(0.5)
	h.Observe(2.0)

	var buf bytes.Buffer
	r.WriteText(&buf)
	out := buf.String()

	assertContains(t, out, `combo_duration_seconds_bucket{le="0.01"} 1`)
	assertContains(t, out, `combo_duration_seconds_bucket{le="0.1"} 2`)
	assertContains(t, out, `combo_duration_seconds_bucket{le="1"} 3`)
	assertContains(t, out, `combo_duration_seconds_bucket{le="+Inf"} 4`)
	assertContains(t, out, "combo_duration_seconds_count 4")
}

func TestHistogramObserveDuration(t *testing.T) {
	r := NewRegistry()
	h := r.NewHistogram("fill_latency", "fill latency", DefaultBuckets)
	h.ObserveDuration(25 * time.Millisecond)
	h.ObserveDuration(75 * time.Millisecond)

	var buf bytes.Buffer
	r.WriteText(&buf)
	assertContains(t, buf.String(), "fill_latency_count 2")
}

func TestSweepMetricsWiring(t *testing.T) {
	reg := NewRegistry()
	m := NewSweepMetrics(reg)

	m.CombinationsRun.Inc("outcome", "ok")
	m.CombinationsRun.Inc("outcome", "ok")
	m.CombinationsRun.Inc("outcome", "error")
	m.CombinationDuration.ObserveDuration(12 * time.Millisecond)
	m.BestTotalReturn.Set(0.18)
	m.WalkForwardWFER.Set(0.62)

	var buf bytes.Buffer
	reg.WriteText(&buf)
	out := buf.String()

	assertContains(t, out, `backsim_sweep_combinations_total{outcome="ok"} 2`)
	assertContains(t, out, `backsim_sweep_combinations_total{outcome="error"} 1`)
	assertContains(t, out, "backsim_sweep_combination_duration_seconds_count 1")
	assertContains(t, out, "backsim_sweep_best_total_return 0.18")
	assertContains(t, out, "backsim_walkforward_wfer 0.62")
}

func TestLabelsFormat(t *testing.T) {
	l := Labels{"strategy", "rsi_v1"}
	want := `{strategy="rsi_v1"}`
	if got := l.format(); got != want {
		t.Fatalf("format() = %s, want %s", got, want)
	}
	if f := Labels(nil).format(); f != "" {
		t.Fatalf("expected empty format for nil labels, got %s", f)
	}
}

func assertContains(t testing.TB, s, sub string) {
	t.Helper()
	if !strings.Contains(s, sub) {
		t.Fatalf("expected output to contain:\n  %q\ngot:\n%s", sub, s)
	}
}
