// Package analyzer computes the performance-metrics record from a
// completed run's trades and equity curve. Grounded on the teacher's
// libs/strategies/backtest.go calculateMetrics/calculateMeanStdDev
// (win/loss totals, peak-tracking drawdown, Sharpe from per-trade
// returns), generalized to the full metric set §4.9 requires and to
// Decimal inputs. The teacher's calculateMeanStdDev hand-rolls a Newton's-
// method square root approximation; that is replaced here with stdlib
// math.Sqrt, which needs no third-party justification since it is a
// single trivial call the standard library already provides exactly.
package analyzer

import (
	"math"

	"backsim/internal/account"
	"backsim/internal/money"
)

// Metrics is the full performance record §4.9 derives from a BacktestResult.
type Metrics struct {
	TotalProfit   money.Decimal
	TotalLoss     money.Decimal
	NetProfit     money.Decimal
	ProfitFactor  money.Decimal
	AverageProfit money.Decimal
	AverageLoss   money.Decimal
	Expectancy    money.Decimal

	WinningCount       int
	LosingCount        int
	LongestWinStreak   int
	LongestLossStreak  int

	MaxDrawdown       float64
	DrawdownDuration  int64 // milliseconds
	Sharpe            float64
	Sortino           float64
	Calmar            float64

	TotalReturn      float64
	AnnualizedReturn float64
}

// profitFactorInfinitySentinel is the spec's stand-in for an undefined
// (loss=0, profit>0) profit factor.
const profitFactorInfinitySentinel = 999

// Analyze derives Metrics from the completed trade list and equity curve.
// Empty curves yield all-zero metrics; a single-point curve yields zero
// volatility and a zero Sharpe.
func Analyze(trades []account.Trade, curve []account.Snapshot, initialCapital money.Decimal) Metrics {
	var m Metrics

	totalProfit, totalLoss := money.ZERO, money.ZERO
	winStreak, lossStreak, bestWinStreak, bestLossStreak := 0, 0, 0, 0

	for _, t := range trades {
		if t.PnL.IsPositive() {
			m.WinningCount++
			totalProfit = totalProfit.MustAdd(t.PnL)
			winStreak++
			lossStreak = 0
		} else if t.PnL.IsNegative() {
			m.LosingCount++
			totalLoss = totalLoss.MustAdd(t.PnL.Abs())
			lossStreak++
			winStreak = 0
		} else {
			winStreak, lossStreak = 0, 0
		}
		if winStreak > bestWinStreak {
			bestWinStreak = winStreak
		}
		if lossStreak > bestLossStreak {
			bestLossStreak = lossStreak
		}
	}
	m.LongestWinStreak = bestWinStreak
	m.LongestLossStreak = bestLossStreak

	m.TotalProfit = totalProfit
	m.TotalLoss = totalLoss
	m.NetProfit = totalProfit.MustSub(totalLoss)

	switch {
	case totalLoss.IsZero() && totalProfit.IsPositive():
		m.ProfitFactor = money.FromInt(profitFactorInfinitySentinel)
	case totalLoss.IsZero():
		m.ProfitFactor = money.ZERO
	default:
		m.ProfitFactor, _ = totalProfit.Div(totalLoss)
	}

	if m.WinningCount > 0 {
		m.AverageProfit, _ = totalProfit.Div(money.FromInt(int64(m.WinningCount)))
	}
	if m.LosingCount > 0 {
		m.AverageLoss, _ = totalLoss.Div(money.FromInt(int64(m.LosingCount)))
	}
	if len(trades) > 0 {
		winRate := float64(m.WinningCount) / float64(len(trades))
		lossRate := 1 - winRate
		expWin := m.AverageProfit.MustMul(money.FromFloat(winRate))
		expLoss := m.AverageLoss.MustMul(money.FromFloat(lossRate))
		m.Expectancy = expWin.MustSub(expLoss)
	}

	if len(curve) == 0 {
		return m
	}

	m.MaxDrawdown, m.DrawdownDuration = drawdownStats(curve)

	returns := candleReturns(curve)
	mean, stdev := meanStdDev(returns)
	downside := downsideDeviation(returns, mean)

	m.TotalReturn = totalReturn(curve, initialCapital)
	days := durationDays(curve)
	if days > 0 {
		m.AnnualizedReturn = m.TotalReturn / (days / 365)
	}

	const tradingDaysPerYear = 252
	sqrt252 := math.Sqrt(tradingDaysPerYear)
	if stdev > 0 {
		m.Sharpe = (mean * tradingDaysPerYear) / (stdev * sqrt252)
	}
	if downside > 0 {
		m.Sortino = (mean * tradingDaysPerYear) / (downside * sqrt252)
	}
	if m.MaxDrawdown > 0 {
		m.Calmar = m.AnnualizedReturn / m.MaxDrawdown
	}

	return m
}

// drawdownStats returns the maximum fractional drawdown and the duration
// (in milliseconds) of the longest interval from a peak to the next time
// equity meets or exceeds it.
func drawdownStats(curve []account.Snapshot) (maxDrawdown float64, longestDurationMs int64) {
	peak := curve[0].Equity
	peakTime := curve[0].Timestamp
	maxDD := 0.0

	for _, snap := range curve {
		if snap.Equity.GreaterThanOrEqual(peak) {
			duration := snap.Timestamp - peakTime
			if duration > longestDurationMs {
				longestDurationMs = duration
			}
			peak = snap.Equity
			peakTime = snap.Timestamp
			continue
		}
		if peak.IsZero() {
			continue
		}
		dd := peak.MustSub(snap.Equity)
		ddRatio, err := dd.Div(peak)
		if err != nil {
			continue
		}
		if f := ddRatio.Float64(); f > maxDD {
			maxDD = f
		}
	}
	if finalDuration := curve[len(curve)-1].Timestamp - peakTime; finalDuration > longestDurationMs && !curve[len(curve)-1].Equity.GreaterThanOrEqual(peak) {
		longestDurationMs = finalDuration
	}
	return maxDD, longestDurationMs
}

// candleReturns computes per-candle returns r_i = (equity_i -
// equity_{i-1}) / equity_{i-1}, widened to float64 at this statistical
// boundary.
func candleReturns(curve []account.Snapshot) []float64 {
	if len(curve) < 2 {
		return nil
	}
	out := make([]float64, 0, len(curve)-1)
	for i := 1; i < len(curve); i++ {
		prev := curve[i-1].Equity
		if prev.IsZero() {
			out = append(out, 0)
			continue
		}
		delta := curve[i].Equity.MustSub(prev)
		r, err := delta.Div(prev)
		if err != nil {
			out = append(out, 0)
			continue
		}
		out = append(out, r.Float64())
	}
	return out
}

func meanStdDev(values []float64) (mean, stdDev float64) {
	if len(values) == 0 {
		return 0, 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	mean = sum / float64(len(values))

	variance := 0.0
	for _, v := range values {
		diff := v - mean
		variance += diff * diff
	}
	variance /= float64(len(values))
	if variance <= 0 {
		return mean, 0
	}
	return mean, math.Sqrt(variance)
}

// downsideDeviation computes the standard deviation of returns below
// mean only, the denominator Sortino uses in place of total volatility.
func downsideDeviation(values []float64, mean float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sumSq := 0.0
	n := 0
	for _, v := range values {
		if v < mean {
			d := v - mean
			sumSq += d * d
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return math.Sqrt(sumSq / float64(n))
}

func totalReturn(curve []account.Snapshot, initialCapital money.Decimal) float64 {
	if initialCapital.IsZero() {
		return 0
	}
	final := curve[len(curve)-1].Equity
	delta := final.MustSub(initialCapital)
	r, err := delta.Div(initialCapital)
	if err != nil {
		return 0
	}
	return r.Float64()
}

func durationDays(curve []account.Snapshot) float64 {
	if len(curve) < 2 {
		return 0
	}
	ms := curve[len(curve)-1].Timestamp - curve[0].Timestamp
	return float64(ms) / (1000 * 60 * 60 * 24)
}
