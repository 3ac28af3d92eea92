package candle

import (
	"errors"
	"testing"

	"backsim/internal/money"
	"backsim/internal/simerr"
)

func mk(ts int64, o, h, l, c, v float64) Candle {
	return Candle{
		TimestampMs: ts,
		Open:        money.FromFloat(o),
		High:        money.FromFloat(h),
		Low:         money.FromFloat(l),
		Close:       money.FromFloat(c),
		Volume:      money.FromFloat(v),
	}
}

func TestNewSeriesValid(t *testing.T) {
	cs := []Candle{
		mk(1000, 10, 12, 9, 11, 100),
		mk(2000, 11, 13, 10, 12, 120),
	}
	s, err := NewSeries("BTC-USD", "1m", cs)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", s.Len())
	}
}

func TestNewSeriesEmpty(t *testing.T) {
	_, err := NewSeries("BTC-USD", "1m", nil)
	if !errors.Is(err, simerr.ErrNoData) {
		t.Fatalf("expected ErrNoData, got %v", err)
	}
}

func TestNewSeriesUnsorted(t *testing.T) {
	cs := []Candle{
		mk(2000, 10, 12, 9, 11, 100),
		mk(1000, 11, 13, 10, 12, 120),
	}
	_, err := NewSeries("BTC-USD", "1m", cs)
	if !errors.Is(err, simerr.ErrDataNotSorted) {
		t.Fatalf("expected ErrDataNotSorted, got %v", err)
	}
}

func TestNewSeriesInvalidOHLC(t *testing.T) {
	cs := []Candle{mk(1000, 10, 9, 9, 11, 100)} // high < open
	_, err := NewSeries("BTC-USD", "1m", cs)
	if !errors.Is(err, simerr.ErrInvalidData) {
		t.Fatalf("expected ErrInvalidData, got %v", err)
	}
}

func TestNormalizeTimestamp(t *testing.T) {
	if got := NormalizeTimestamp(1_700_000_000_000); got != 1_700_000_000_000 {
		t.Fatalf("ms timestamp should pass through, got %d", got)
	}
	micro := int64(1_700_000_000_000_000)
	if got := NormalizeTimestamp(micro); got != micro/1000 {
		t.Fatalf("us timestamp should be divided by 1000, got %d", got)
	}
}

func TestIndicatorWarmup(t *testing.T) {
	cs := []Candle{
		mk(1000, 10, 12, 9, 11, 100),
		mk(2000, 11, 13, 10, 12, 120),
		mk(3000, 12, 14, 11, 13, 130),
	}
	s, err := NewSeries("BTC-USD", "1m", cs)
	if err != nil {
		t.Fatalf("NewSeries: %v", err)
	}
	vals := []money.Decimal{NaN, NaN, money.FromFloat(12)}
	if err := s.SetIndicator("sma2", vals, 2); err != nil {
		t.Fatalf("SetIndicator: %v", err)
	}
	if _, ok := s.IndicatorAt("sma2", 0); ok {
		t.Fatalf("index 0 should be before warm-up")
	}
	v, ok := s.IndicatorAt("sma2", 2)
	if !ok {
		t.Fatalf("index 2 should be past warm-up")
	}
	if v.String() != "12" {
		t.Fatalf("got %s, want 12", v.String())
	}
}

func TestInvalidateSubstring(t *testing.T) {
	cs := []Candle{mk(1000, 10, 12, 9, 11, 100)}
	s, _ := NewSeries("BTC-USD", "1m", cs)
	_ = s.SetIndicator("sma_fast_14", []money.Decimal{money.ONE}, 0)
	_ = s.SetIndicator("ema_slow_50", []money.Decimal{money.ONE}, 0)
	s.InvalidateSubstring("sma_")
	if _, ok := s.Indicator("sma_fast_14"); ok {
		t.Fatalf("sma_fast_14 should have been invalidated")
	}
	if _, ok := s.Indicator("ema_slow_50"); !ok {
		t.Fatalf("ema_slow_50 should remain")
	}
}
