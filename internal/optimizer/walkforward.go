package optimizer

import (
	"context"
	"fmt"
	"math"

	"backsim/internal/candle"
	"backsim/internal/engine"
	"backsim/internal/executor"
)

// WalkForwardConfig defines one walk-forward validation run: split series
// into overlapping in-sample/out-of-sample windows, run the strategy on
// each, and measure how well in-sample performance predicts out-of-sample
// performance. Grounded on the teacher's walkforward.Config, with
// Symbols/DatasetID dropped (the simulator already scopes a run to one
// pre-loaded series) and ISPeriod/OOSPeriod expressed as candle counts
// instead of calendar durations, since a candle.Series has no guaranteed
// wall-clock spacing.
type WalkForwardConfig struct {
	BaseConfig  engine.Config
	ISCandles   int
	OOSCandles  int
	StepCandles int // how far each window slides forward; defaults to OOSCandles
	Combination Combination
}

// WFWindow describes one IS/OOS candle-index pair.
type WFWindow struct {
	Index            int
	ISStart, ISEnd   int // [ISStart, ISEnd)
	OOSStart, OOSEnd int // [OOSStart, OOSEnd)
}

// WFWindowResult holds the OOS outcome for one window.
type WFWindowResult struct {
	WFWindow
	Result        *engine.Result
	AnnualizedRet float64
}

// WalkForwardResult is the aggregate output of a walk-forward run,
// mirroring the teacher's walkforward.Result field-for-field.
type WalkForwardResult struct {
	Config WalkForwardConfig
	Windows []WFWindowResult

	// ISResult is the reference run over the full in-sample span (from the
	// first window's ISStart through the last window's ISEnd).
	ISResult *engine.Result

	MeanOOSReturn  float64
	WFER           float64
	PassRate       float64
	StabilityScore float64
	TotalOOSTrades int
}

// RunWalkForward executes a full walk-forward validation against series
// using factory to build the strategy (with cfg.Combination applied, so
// the same sweep combination can be validated out-of-sample once a
// Cartesian sweep has picked a candidate). Grounded on the teacher's
// walkforward.Engine.Run (IS reference run, then one OOS run per window,
// then WFER/PassRate/StabilityScore aggregation).
func RunWalkForward(ctx context.Context, cfg WalkForwardConfig, series *candle.Series, factory Factory) (*WalkForwardResult, error) {
	if cfg.OOSCandles <= 0 {
		return nil, fmt.Errorf("optimizer: OOSCandles must be positive")
	}
	if cfg.ISCandles <= 0 {
		return nil, fmt.Errorf("optimizer: ISCandles must be positive")
	}
	step := cfg.StepCandles
	if step <= 0 {
		step = cfg.OOSCandles
	}

	windows := buildWFWindows(series.Len(), cfg.ISCandles, cfg.OOSCandles, step)
	if len(windows) == 0 {
		return nil, fmt.Errorf("optimizer: series has %d candles, too short for IS=%d+OOS=%d window", series.Len(), cfg.ISCandles, cfg.OOSCandles)
	}

	isEnd := windows[len(windows)-1].ISEnd
	isSeries, err := candle.NewSeries(series.Pair, series.Timeframe, series.Candles[0:isEnd])
	if err != nil {
		return nil, fmt.Errorf("optimizer: slice IS reference series: %w", err)
	}
	isResult, err := runWindow(ctx, cfg.BaseConfig, isSeries, factory, cfg.Combination)
	if err != nil {
		return nil, fmt.Errorf("optimizer: IS reference run: %w", err)
	}
	isAnnualized := annualizeFromResult(isResult)

	var winResults []WFWindowResult
	var sumRet float64
	var sumTrades int
	var positiveWindows int
	var weightedPositive, totalWeight float64

	for _, w := range windows {
		oosSeries, err := candle.NewSeries(series.Pair, series.Timeframe, series.Candles[w.OOSStart:w.OOSEnd])
		if err != nil {
			continue
		}
		res, err := runWindow(ctx, cfg.BaseConfig, oosSeries, factory, cfg.Combination)
		if err != nil {
			continue
		}
		ann := annualizeFromResult(res)

		wr := WFWindowResult{WFWindow: w, Result: res, AnnualizedRet: ann}
		winResults = append(winResults, wr)

		sumRet += ann
		sumTrades += len(res.Trades)
		weight := math.Max(float64(len(res.Trades)), 1)
		totalWeight += weight
		if ann > 0 {
			positiveWindows++
			weightedPositive += weight
		}
	}

	if len(winResults) == 0 {
		return nil, fmt.Errorf("optimizer: all OOS windows failed to produce a result")
	}

	result := &WalkForwardResult{
		Config:         cfg,
		Windows:        winResults,
		ISResult:       isResult,
		MeanOOSReturn:  sumRet / float64(len(winResults)),
		PassRate:       float64(positiveWindows) / float64(len(winResults)),
		TotalOOSTrades: sumTrades,
	}
	if totalWeight > 0 {
		result.StabilityScore = weightedPositive / totalWeight
	}
	if isAnnualized != 0 {
		result.WFER = result.MeanOOSReturn / isAnnualized
	}
	return result, nil
}

func runWindow(ctx context.Context, baseCfg engine.Config, series *candle.Series, factory Factory, combo Combination) (*engine.Result, error) {
	strat, err := factory(combo)
	if err != nil {
		return nil, fmt.Errorf("build strategy: %w", err)
	}
	cfg := baseCfg
	cfg.StartTime = series.Candles[0].TimestampMs
	cfg.EndTime = series.Candles[series.Len()-1].TimestampMs
	exec := executor.New(cfg.CommissionRate, cfg.Slippage)
	eng := engine.New(exec, nil)
	return eng.Run(ctx, cfg, series, strat)
}

// buildWFWindows slides an IS window of isLen candles followed by an OOS
// window of oosLen candles across [0, total), moving forward step candles
// per iteration, stopping once the OOS window would run past the end.
func buildWFWindows(total, isLen, oosLen, step int) []WFWindow {
	var windows []WFWindow
	idx := 0
	for {
		isStart := idx * step
		isEnd := isStart + isLen
		oosStart := isEnd
		oosEnd := oosStart + oosLen
		if oosEnd > total {
			break
		}
		windows = append(windows, WFWindow{
			Index: idx, ISStart: isStart, ISEnd: isEnd, OOSStart: oosStart, OOSEnd: oosEnd,
		})
		idx++
	}
	return windows
}

// annualizeFromResult converts a run's total return over its candle span
// to an annualized rate, using the run's own start/end timestamps rather
// than a fixed trading-day count since candle spacing varies by timeframe.
func annualizeFromResult(res *engine.Result) float64 {
	if len(res.EquityCurve) < 2 {
		return 0
	}
	ms := res.EquityCurve[len(res.EquityCurve)-1].Timestamp - res.EquityCurve[0].Timestamp
	days := float64(ms) / (1000 * 60 * 60 * 24)
	if days <= 0 {
		return 0
	}
	years := days / 365
	if years <= 0 {
		return 0
	}
	return math.Pow(1+res.Metrics.TotalReturn, 1/years) - 1
}

// WFERVerdict returns a human-readable classification of a walk-forward
// result's efficiency ratio, matching the teacher's walkforward.WFERVerdict
// thresholds.
func WFERVerdict(r *WalkForwardResult) string {
	switch {
	case r.WFER >= 0.7:
		return "EXCELLENT — strategy transfers to OOS data well"
	case r.WFER >= 0.5:
		return "GOOD — strategy is deployable"
	case r.WFER >= 0.0:
		return "MARGINAL — live performance likely to underperform IS"
	default:
		return "FAIL — strategy loses money out-of-sample; do not deploy"
	}
}
