// Package indicator implements the pure price-vector kernels (SMA, EMA,
// RSI, MACD, Bollinger Bands) and the fingerprint-keyed cache that
// populates a candle series' indicator dictionary once per run.
package indicator

import (
	"math"

	"backsim/internal/candle"
	"backsim/internal/money"
)

// sentinel fills the warm-up prefix of a result vector.
var sentinel = candle.NaN

// SMA computes the rolling mean over period, using a sliding-window sum
// so each step after warm-up is O(1).
func SMA(prices []money.Decimal, period int) []money.Decimal {
	out := make([]money.Decimal, len(prices))
	if period <= 0 || len(prices) < period {
		for i := range out {
			out[i] = sentinel
		}
		return out
	}
	sum := money.ZERO
	for i, p := range prices {
		sum = sum.MustAdd(p)
		if i >= period {
			sum = sum.MustSub(prices[i-period])
		}
		if i < period-1 {
			out[i] = sentinel
			continue
		}
		avg, err := sum.Div(money.FromInt(int64(period)))
		if err != nil {
			out[i] = sentinel
			continue
		}
		out[i] = avg
	}
	return out
}

// SMAWarmup returns the number of leading sentinel entries SMA(period)
// produces.
func SMAWarmup(period int) int {
	if period <= 0 {
		return 0
	}
	return period - 1
}

// EMA computes the exponential moving average, seeded from the first
// `period` values' SMA and then recurring with alpha = 2/(period+1).
func EMA(prices []money.Decimal, period int) []money.Decimal {
	out := make([]money.Decimal, len(prices))
	if period <= 0 || len(prices) < period {
		for i := range out {
			out[i] = sentinel
		}
		return out
	}
	alpha, _ := money.FromInt(2).Div(money.FromInt(int64(period + 1)))
	oneMinusAlpha := money.ONE.MustSub(alpha)

	sum := money.ZERO
	for i := 0; i < period; i++ {
		sum = sum.MustAdd(prices[i])
		out[i] = sentinel
	}
	seed, _ := sum.Div(money.FromInt(int64(period)))
	out[period-1] = seed
	prev := seed
	for i := period; i < len(prices); i++ {
		term1 := alpha.MustMul(prices[i])
		term2 := oneMinusAlpha.MustMul(prev)
		cur := term1.MustAdd(term2)
		out[i] = cur
		prev = cur
	}
	return out
}

// EMAWarmup returns the number of leading sentinel entries EMA(period)
// produces.
func EMAWarmup(period int) int {
	if period <= 0 {
		return 0
	}
	return period - 1
}

// RSI computes the Relative Strength Index using Wilder smoothing: the
// initial average gain/loss is a simple mean over period, then each step
// recurs as avg = (avg*(period-1) + current) / period.
func RSI(prices []money.Decimal, period int) []money.Decimal {
	out := make([]money.Decimal, len(prices))
	if period <= 0 || len(prices) <= period {
		for i := range out {
			out[i] = sentinel
		}
		return out
	}
	out[0] = sentinel
	gains := make([]money.Decimal, len(prices))
	losses := make([]money.Decimal, len(prices))
	for i := 1; i < len(prices); i++ {
		delta := prices[i].MustSub(prices[i-1])
		if delta.IsPositive() {
			gains[i] = delta
			losses[i] = money.ZERO
		} else {
			gains[i] = money.ZERO
			losses[i] = delta.Neg()
		}
	}

	sumGain, sumLoss := money.ZERO, money.ZERO
	for i := 1; i <= period; i++ {
		sumGain = sumGain.MustAdd(gains[i])
		sumLoss = sumLoss.MustAdd(losses[i])
		out[i] = sentinel
	}
	periodD := money.FromInt(int64(period))
	avgGain, _ := sumGain.Div(periodD)
	avgLoss, _ := sumLoss.Div(periodD)
	out[period] = rsiFromAverages(avgGain, avgLoss)

	periodMinus1 := money.FromInt(int64(period - 1))
	for i := period + 1; i < len(prices); i++ {
		avgGain = avgGain.MustMul(periodMinus1).MustAdd(gains[i])
		avgGain, _ = avgGain.Div(periodD)
		avgLoss = avgLoss.MustMul(periodMinus1).MustAdd(losses[i])
		avgLoss, _ = avgLoss.Div(periodD)
		out[i] = rsiFromAverages(avgGain, avgLoss)
	}
	return out
}

func rsiFromAverages(avgGain, avgLoss money.Decimal) money.Decimal {
	if avgLoss.IsZero() {
		return money.FromInt(100)
	}
	rs, _ := avgGain.Div(avgLoss)
	hundred := money.FromInt(100)
	onePlusRS := money.ONE.MustAdd(rs)
	frac, _ := hundred.Div(onePlusRS)
	return hundred.MustSub(frac)
}

// RSIWarmup returns the number of leading sentinel entries RSI(period)
// produces.
func RSIWarmup(period int) int {
	return period
}

// MACDResult carries the three parallel vectors MACD produces.
type MACDResult struct {
	MACD      []money.Decimal
	Signal    []money.Decimal
	Histogram []money.Decimal
}

// MACD computes the difference of a fast and slow EMA, an EMA of that
// difference (the signal line), and the histogram of macd-signal.
func MACD(prices []money.Decimal, fastPeriod, slowPeriod, signalPeriod int) MACDResult {
	fast := EMA(prices, fastPeriod)
	slow := EMA(prices, slowPeriod)
	macd := make([]money.Decimal, len(prices))
	macdWarm := max(EMAWarmup(fastPeriod), EMAWarmup(slowPeriod))
	for i := range prices {
		if i < macdWarm {
			macd[i] = sentinel
			continue
		}
		macd[i] = fast[i].MustSub(slow[i])
	}
	// Signal line is an EMA of the MACD line, computed only over the
	// portion of macd past its own warm-up.
	tail := macd[macdWarm:]
	signalTail := EMA(tail, signalPeriod)
	signal := make([]money.Decimal, len(prices))
	hist := make([]money.Decimal, len(prices))
	signalWarm := macdWarm + EMAWarmup(signalPeriod)
	for i := range prices {
		if i < macdWarm+signalPeriod-1 {
			signal[i] = sentinel
			hist[i] = sentinel
			continue
		}
		signal[i] = signalTail[i-macdWarm]
		hist[i] = macd[i].MustSub(signal[i])
	}
	_ = signalWarm
	return MACDResult{MACD: macd, Signal: signal, Histogram: hist}
}

// MACDWarmup returns the number of leading sentinel entries the MACD
// line's signal/histogram vectors carry.
func MACDWarmup(fastPeriod, slowPeriod, signalPeriod int) int {
	return max(EMAWarmup(fastPeriod), EMAWarmup(slowPeriod)) + signalPeriod - 1
}

// BollingerResult carries the three parallel bands Bollinger produces.
type BollingerResult struct {
	Middle []money.Decimal
	Upper  []money.Decimal
	Lower  []money.Decimal
}

// Bollinger computes an SMA middle band plus upper/lower bands offset by
// k sample standard deviations over the same rolling window.
func Bollinger(prices []money.Decimal, period int, k float64) BollingerResult {
	mid := SMA(prices, period)
	upper := make([]money.Decimal, len(prices))
	lower := make([]money.Decimal, len(prices))
	warm := SMAWarmup(period)
	for i := range prices {
		if i < warm {
			upper[i] = sentinel
			lower[i] = sentinel
			continue
		}
		window := prices[i-period+1 : i+1]
		variance := sampleVariance(window, mid[i])
		stdev := money.FromFloat(sqrtDecimal(variance))
		offset := money.FromFloat(k).MustMul(stdev)
		upper[i] = mid[i].MustAdd(offset)
		lower[i] = mid[i].MustSub(offset)
	}
	return BollingerResult{Middle: mid, Upper: upper, Lower: lower}
}

// BollingerWarmup returns the number of leading sentinel entries
// Bollinger(period) produces.
func BollingerWarmup(period int) int {
	return SMAWarmup(period)
}

func sampleVariance(window []money.Decimal, mean money.Decimal) money.Decimal {
	n := len(window)
	if n <= 1 {
		return money.ZERO
	}
	sumSq := money.ZERO
	for _, v := range window {
		d := v.MustSub(mean)
		sumSq = sumSq.MustAdd(d.MustMul(d))
	}
	variance, err := sumSq.Div(money.FromInt(int64(n - 1)))
	if err != nil {
		return money.ZERO
	}
	return variance
}

// sqrtDecimal converts to float64 purely for the square root, matching
// the spec's allowance to widen to f64 only at statistical boundaries.
func sqrtDecimal(d money.Decimal) float64 {
	f := d.Float64()
	if f <= 0 {
		return 0
	}
	return math.Sqrt(f)
}
