package indicator

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"

	"backsim/internal/candle"
	"backsim/internal/money"
)

// Spec describes one indicator to compute: its kernel name and the
// parameters that distinguish it from another instance of the same
// kernel (e.g. "sma" with period=50 vs period=200).
type Spec struct {
	Name   string // cache key / series dictionary key, e.g. "sma_fast"
	Kernel string // "sma", "ema", "rsi", "macd", "bollinger"
	Period int
	// Extra parameters for MACD (fast/slow/signal) and Bollinger (k).
	FastPeriod   int
	SlowPeriod   int
	SignalPeriod int
	K            float64
}

// fingerprint returns the cache key: kernel + params + pair + timeframe +
// a hash of the series' closing price vector (the data endpoint).
func fingerprint(spec Spec, series *candle.Series) string {
	h := sha256.New()
	for _, p := range series.ClosePrices() {
		h.Write([]byte(p.String()))
	}
	dataHash := hex.EncodeToString(h.Sum(nil))[:16]
	return fmt.Sprintf("%s|p=%d|f=%d|s=%d|sig=%d|k=%.6f|%s|%s|%s",
		spec.Kernel, spec.Period, spec.FastPeriod, spec.SlowPeriod, spec.SignalPeriod, spec.K,
		series.Pair, series.Timeframe, dataHash)
}

// entry is one cached indicator vector plus its warm-up count.
type entry struct {
	values []money.Decimal
	warmup int
}

// Cache maps a fingerprint to a computed indicator vector. It is written
// once per fingerprint before the event loop begins and is read-only
// during the loop, so no lock is required on the hot path; the mutex here
// only protects concurrent population (e.g. from optimizer workers
// pre-warming several parameter combinations at once).
type Cache struct {
	mu      sync.Mutex
	entries map[string]entry
	hits    int64
	misses  int64
}

// NewCache constructs an empty Cache.
func NewCache() *Cache {
	return &Cache{entries: make(map[string]entry)}
}

// GetOrCompute checks the cache for spec's fingerprint against series; on
// miss it invokes the matching kernel, inserts the result, and installs it
// into the series' indicator dictionary under spec.Name so strategies can
// read it by name.
func (c *Cache) GetOrCompute(spec Spec, series *candle.Series) ([]money.Decimal, error) {
	key := fingerprint(spec, series)

	c.mu.Lock()
	if e, ok := c.entries[key]; ok {
		c.hits++
		c.mu.Unlock()
		if err := series.SetIndicator(spec.Name, e.values, e.warmup); err != nil {
			return nil, err
		}
		return e.values, nil
	}
	c.misses++
	c.mu.Unlock()

	values, warmup, err := compute(spec, series)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.entries[key] = entry{values: values, warmup: warmup}
	c.mu.Unlock()

	if err := series.SetIndicator(spec.Name, values, warmup); err != nil {
		return nil, err
	}
	return values, nil
}

func compute(spec Spec, series *candle.Series) ([]money.Decimal, int, error) {
	prices := series.ClosePrices()
	switch spec.Kernel {
	case "sma":
		return SMA(prices, spec.Period), SMAWarmup(spec.Period), nil
	case "ema":
		return EMA(prices, spec.Period), EMAWarmup(spec.Period), nil
	case "rsi":
		return RSI(prices, spec.Period), RSIWarmup(spec.Period), nil
	case "macd":
		r := MACD(prices, spec.FastPeriod, spec.SlowPeriod, spec.SignalPeriod)
		// MACD installs three series under derived names; the primary
		// vector returned/cached under spec.Name is the MACD line.
		if err := series.SetIndicator(spec.Name+"_signal", r.Signal, MACDWarmup(spec.FastPeriod, spec.SlowPeriod, spec.SignalPeriod)); err != nil {
			return nil, 0, err
		}
		if err := series.SetIndicator(spec.Name+"_hist", r.Histogram, MACDWarmup(spec.FastPeriod, spec.SlowPeriod, spec.SignalPeriod)); err != nil {
			return nil, 0, err
		}
		return r.MACD, max(EMAWarmup(spec.FastPeriod), EMAWarmup(spec.SlowPeriod)), nil
	case "bollinger":
		r := Bollinger(prices, spec.Period, spec.K)
		if err := series.SetIndicator(spec.Name+"_upper", r.Upper, BollingerWarmup(spec.Period)); err != nil {
			return nil, 0, err
		}
		if err := series.SetIndicator(spec.Name+"_lower", r.Lower, BollingerWarmup(spec.Period)); err != nil {
			return nil, 0, err
		}
		return r.Middle, BollingerWarmup(spec.Period), nil
	default:
		return nil, 0, fmt.Errorf("unknown indicator kernel %q", spec.Kernel)
	}
}

// Stats returns the cache's hit/miss counters.
func (c *Cache) Stats() (hits, misses int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses
}

// InvalidateSubstring drops every cache entry whose fingerprint contains
// substr, used when a data source is advanced and cached vectors no
// longer apply.
func (c *Cache) InvalidateSubstring(substr string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k := range c.entries {
		if containsSubstr(k, substr) {
			delete(c.entries, k)
		}
	}
}

func containsSubstr(s, substr string) bool {
	if substr == "" {
		return true
	}
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return true
		}
	}
	return false
}
