// Package latency models feed and order-flow latency distributions, using
// a reproducible PRNG so a fixed seed yields bit-identical delays. It is
// grounded on the teacher's libs/microstructure latency/percentile
// tracking, generalized from observed real-world samples into a sampling
// model driven by a seeded generator.
package latency

import (
	"math"
	"math/rand"
	"time"
)

// Kind enumerates the closed set of latency distributions.
type Kind int

const (
	Constant Kind = iota
	Normal
	Interpolated
)

// Model produces non-negative nanosecond delays from a single
// distribution. Built from a Kind plus its parameters; Sample draws the
// next value using the given PRNG.
type Model struct {
	kind Kind
	// Constant
	value time.Duration
	// Normal
	mean time.Duration
	std  time.Duration
	// Interpolated
	table []TablePoint
}

// TablePoint is one (x, delay) sample in an interpolation table; x is an
// arbitrary ordering key (e.g. time-of-day fraction, order size bucket).
type TablePoint struct {
	X     float64
	Delay time.Duration
}

// NewConstant builds a Model that always returns value.
func NewConstant(value time.Duration) Model { return Model{kind: Constant, value: value} }

// NewNormal builds a Model sampling from Normal(mean, std), clamped at
// zero (Box-Muller can produce negative tails).
func NewNormal(mean, std time.Duration) Model { return Model{kind: Normal, mean: mean, std: std} }

// NewInterpolated builds a Model that linearly interpolates delay between
// the two table points bracketing a query x. table must be sorted by X.
func NewInterpolated(table []TablePoint) Model { return Model{kind: Interpolated, table: table} }

// Sample draws one delay using rng. x is used only by Interpolated models;
// other kinds ignore it.
func (m Model) Sample(rng *rand.Rand, x float64) time.Duration {
	switch m.kind {
	case Constant:
		return m.value
	case Normal:
		return sampleNormal(rng, m.mean, m.std)
	case Interpolated:
		return interpolate(m.table, x)
	default:
		return 0
	}
}

// sampleNormal draws from Normal(mean, std) via Box-Muller, clamping
// negative samples to zero since a delay cannot be negative.
func sampleNormal(rng *rand.Rand, mean, std time.Duration) time.Duration {
	u1 := rng.Float64()
	u2 := rng.Float64()
	if u1 <= 0 {
		u1 = 1e-12
	}
	z := math.Sqrt(-2*math.Log(u1)) * math.Cos(2*math.Pi*u2)
	sample := float64(mean) + z*float64(std)
	if sample < 0 {
		return 0
	}
	return time.Duration(sample)
}

func interpolate(table []TablePoint, x float64) time.Duration {
	if len(table) == 0 {
		return 0
	}
	if x <= table[0].X {
		return table[0].Delay
	}
	last := table[len(table)-1]
	if x >= last.X {
		return last.Delay
	}
	for i := 1; i < len(table); i++ {
		if x <= table[i].X {
			lo, hi := table[i-1], table[i]
			span := hi.X - lo.X
			if span == 0 {
				return lo.Delay
			}
			frac := (x - lo.X) / span
			delta := float64(hi.Delay - lo.Delay)
			return lo.Delay + time.Duration(frac*delta)
		}
	}
	return last.Delay
}

// OrderTimeline records the four timestamps an order passes through from
// submission to acknowledgement.
type OrderTimeline struct {
	Submit    time.Time
	Arrive    time.Time
	Process   time.Time
	Ack       time.Time
	RoundTrip time.Duration
}

// OrderLatencyModel combines independent entry and response samples with
// a fixed exchange processing time to produce a full order timeline.
type OrderLatencyModel struct {
	Entry             Model
	Response          Model
	ExchangeProcessing time.Duration
	rng               *rand.Rand
}

// NewOrderLatencyModel builds an OrderLatencyModel seeded for
// reproducible sampling.
func NewOrderLatencyModel(entry, response Model, exchangeProcessing time.Duration, seed int64) *OrderLatencyModel {
	return &OrderLatencyModel{
		Entry:              entry,
		Response:           response,
		ExchangeProcessing: exchangeProcessing,
		rng:                rand.New(rand.NewSource(seed)),
	}
}

// SimulateOrderFlow composes the full timeline for an order submitted at
// submitT: arrive = submit + entry_sample; process = arrive + fixed
// exchange processing; ack = process + response_sample.
func (m *OrderLatencyModel) SimulateOrderFlow(submitT time.Time) OrderTimeline {
	entryDelay := m.Entry.Sample(m.rng, 0)
	arrive := submitT.Add(entryDelay)
	process := arrive.Add(m.ExchangeProcessing)
	responseDelay := m.Response.Sample(m.rng, 0)
	ack := process.Add(responseDelay)
	return OrderTimeline{
		Submit:    submitT,
		Arrive:    arrive,
		Process:   process,
		Ack:       ack,
		RoundTrip: ack.Sub(submitT),
	}
}

// FeedLatencyModel delays exchange-time events into strategy-visible
// local times, using the same sampling machinery as order flow.
type FeedLatencyModel struct {
	Delay Model
	rng   *rand.Rand
}

// NewFeedLatencyModel builds a FeedLatencyModel seeded for reproducible
// sampling.
func NewFeedLatencyModel(delay Model, seed int64) *FeedLatencyModel {
	return &FeedLatencyModel{Delay: delay, rng: rand.New(rand.NewSource(seed))}
}

// Observe returns the local (strategy-visible) time at which an event
// that occurred at exchangeTime becomes visible.
func (m *FeedLatencyModel) Observe(exchangeTime time.Time) time.Time {
	return exchangeTime.Add(m.Delay.Sample(m.rng, 0))
}
