// Package resilience wraps github.com/sony/gobreaker/v2 for the two spots
// in the simulator that do externally-fallible work inside an otherwise
// deterministic core: chunked candle loading (§4.10, sequential file I/O)
// and optimizer worker runs (§12, many independent CPU-bound combination
// runs). Grounded on the teacher's libs/resilience/circuitbreaker.go
// wrapper shape, but the two call sites fail in different ways and the
// trip policy is tuned per site rather than shared: a truncated/corrupt
// data file produces a short run of *consecutive* I/O failures against a
// single sequential stream, while a broken strategy factory produces a
// steady *ratio* of failures spread across many otherwise-independent
// combination runs. The teacher's HTTPClientWrapper and
// ExecuteWithContext are dropped: this domain makes no HTTP calls and
// every call site here already owns a ctx it checks itself before
// invoking Execute.
package resilience

import (
	"fmt"
	"log"
	"time"

	"github.com/sony/gobreaker/v2"
)

// Config configures a CircuitBreaker. ReadyToTrip is supplied directly
// rather than derived from a fixed formula, since the two call sites in
// this package need different shapes of trip logic (see ChunkLoadConfig
// and CombinationConfig below).
type Config struct {
	Name          string
	MaxRequests   uint32
	Interval      time.Duration
	Timeout       time.Duration
	ReadyToTrip   func(counts gobreaker.Counts) bool
	OnStateChange func(name string, from, to gobreaker.State)
}

func logStateChange(name string, from, to gobreaker.State) {
	log.Printf("[circuit_breaker:%s] state changed: %s -> %s", name, from, to)
}

// ChunkLoadConfig guards one CSVSource's sequential chunk reads (§4.10).
// A data file either reads cleanly or is corrupt/truncated partway
// through; it never "heals" mid-run, so the trip rule looks only at
// consecutive failures and ignores the ratio entirely. Two bad reads in a
// row is enough to stop burning time on a file that will not recover.
// Interval is 0 so the failure count is never reset by an intervening
// success window — there is exactly one data source per run, not a pool
// of independent requests to average over. Timeout is short because a
// transient local/network filesystem hiccup usually clears in seconds.
func ChunkLoadConfig(name string) Config {
	return Config{
		Name:        name,
		MaxRequests: 1,
		Interval:    0,
		Timeout:     5 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 2
		},
		OnStateChange: logStateChange,
	}
}

// CombinationConfig guards one optimizer combination's engine run (§12).
// Combinations are independent and cheap, so a single bad one is normal
// sweep noise and should not trip anything; what matters is whether a
// *systematic* problem (a broken strategy factory, a panicking indicator
// path) is failing a majority of combinations. The trip rule therefore
// requires both a minimum sample size and a majority failure ratio.
// Interval resets the window periodically so an early rough patch in a
// long sweep does not permanently poison later, unrelated combinations;
// Timeout is short since the next combination is always ready to try
// immediately.
func CombinationConfig(name string) Config {
	return Config{
		Name:        name,
		MaxRequests: 5,
		Interval:    time.Minute,
		Timeout:     2 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < 10 {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= 0.5
		},
		OnStateChange: logStateChange,
	}
}

// CircuitBreaker wraps gobreaker.CircuitBreaker[any] with error wrapping
// that names the breaker in the returned error.
type CircuitBreaker struct {
	cb   *gobreaker.CircuitBreaker[any]
	name string
}

// New constructs a CircuitBreaker from cfg.
func New(cfg Config) *CircuitBreaker {
	settings := gobreaker.Settings{
		Name:          cfg.Name,
		MaxRequests:   cfg.MaxRequests,
		Interval:      cfg.Interval,
		Timeout:       cfg.Timeout,
		ReadyToTrip:   cfg.ReadyToTrip,
		OnStateChange: cfg.OnStateChange,
	}
	return &CircuitBreaker{cb: gobreaker.NewCircuitBreaker[any](settings), name: cfg.Name}
}

// Execute runs fn under the breaker's protection.
func (cb *CircuitBreaker) Execute(fn func() (any, error)) (any, error) {
	result, err := cb.cb.Execute(fn)
	if err != nil {
		return nil, fmt.Errorf("circuit breaker %s: %w", cb.name, err)
	}
	return result, nil
}

// State returns the breaker's current state.
func (cb *CircuitBreaker) State() gobreaker.State { return cb.cb.State() }

// Name returns the breaker's configured name.
func (cb *CircuitBreaker) Name() string { return cb.name }
