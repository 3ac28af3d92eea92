package indicator

import (
	"testing"

	"backsim/internal/money"
)

func prices(vs ...float64) []money.Decimal {
	out := make([]money.Decimal, len(vs))
	for i, v := range vs {
		out[i] = money.FromFloat(v)
	}
	return out
}

func TestSMA(t *testing.T) {
	p := prices(1, 2, 3, 4, 5)
	out := SMA(p, 3)
	for i := 0; i < 2; i++ {
		if out[i] != candleNaN() {
			t.Fatalf("index %d should be sentinel", i)
		}
	}
	if out[2].String() != "2" {
		t.Fatalf("SMA[2] = %s, want 2", out[2].String())
	}
	if out[4].String() != "4" {
		t.Fatalf("SMA[4] = %s, want 4", out[4].String())
	}
}

func TestEMASeed(t *testing.T) {
	p := prices(1, 2, 3, 4, 5)
	out := EMA(p, 3)
	// seed is the SMA of the first 3: (1+2+3)/3 = 2
	if out[2].String() != "2" {
		t.Fatalf("EMA seed = %s, want 2", out[2].String())
	}
}

func TestRSIAllGains(t *testing.T) {
	p := prices(1, 2, 3, 4, 5, 6, 7, 8)
	out := RSI(p, 5)
	if out[5].String() != "100" {
		t.Fatalf("RSI with all gains should be 100, got %s", out[5].String())
	}
}

func TestBollingerMiddleEqualsSMA(t *testing.T) {
	p := prices(1, 2, 3, 4, 5)
	sma := SMA(p, 3)
	bb := Bollinger(p, 3, 2.0)
	for i := range p {
		if !sma[i].Equal(bb.Middle[i]) {
			t.Fatalf("Bollinger middle should equal SMA at %d", i)
		}
	}
	if !bb.Upper[4].GreaterThan(bb.Middle[4]) {
		t.Fatalf("upper band should exceed middle once variance is nonzero")
	}
}

func TestMACDWarmup(t *testing.T) {
	p := prices(1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16, 17, 18, 19, 20)
	r := MACD(p, 3, 5, 2)
	warm := MACDWarmup(3, 5, 2)
	for i := 0; i < warm && i < len(p); i++ {
		if r.Signal[i] != candleNaN() {
			t.Fatalf("signal index %d should be sentinel before warmup %d", i, warm)
		}
	}
}

func candleNaN() money.Decimal { return money.ZERO }
