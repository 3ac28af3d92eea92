// Command optimize runs a Cartesian parameter sweep (and, optionally, a
// walk-forward validation of the best combination) over a single strategy
// against one CSV candle file. Flag/env conventions mirror cmd/backsim.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"sort"
	"strconv"

	"backsim/internal/chunked"
	"backsim/internal/engine"
	"backsim/internal/indicator"
	"backsim/internal/ledger"
	"backsim/internal/money"
	"backsim/internal/obs"
	"backsim/internal/optimizer"
	"backsim/internal/strategy"
)

var (
	version   = "0.1.0"
	buildTime = "unknown"
)

type Config struct {
	DataFile       string
	Pair           string
	Timeframe      string
	StrategyName   string
	InitialCapital float64
	CommissionRate float64
	Slippage       float64
	EnableShort    bool
	Seed           int64
	WalkForward    bool
	ISCandles      int
	OOSCandles     int
	MetricsOut     string
	LedgerDir      string
	ExperimentName string
}

func main() {
	dataFlag := flag.String("data", "", "path to OHLCV CSV file (env DATA_FILE)")
	pairFlag := flag.String("pair", "BTC-USD", "trading pair label (env PAIR)")
	timeframeFlag := flag.String("timeframe", "1h", "candle timeframe label (env TIMEFRAME)")
	strategyFlag := flag.String("strategy", "ma_crossover_v1", "registered strategy name: ma_crossover_v1 or rsi_momentum_v1 (env STRATEGY)")
	capitalFlag := flag.Float64("capital", 10000, "initial capital (env INITIAL_CAPITAL)")
	commissionFlag := flag.Float64("commission", 0.001, "commission rate as a fraction (env COMMISSION_RATE)")
	slippageFlag := flag.Float64("slippage", 0.0005, "slippage as a fraction (env SLIPPAGE)")
	shortFlag := flag.Bool("short", true, "allow short entries (env ENABLE_SHORT)")
	seedFlag := flag.Int64("seed", 1, "base run seed (env SEED)")
	walkForwardFlag := flag.Bool("walkforward", false, "validate the best combination out-of-sample after the sweep (env WALK_FORWARD)")
	isFlag := flag.Int("is-candles", 2000, "in-sample window length in candles (env IS_CANDLES)")
	oosFlag := flag.Int("oos-candles", 500, "out-of-sample window length in candles (env OOS_CANDLES)")
	metricsOutFlag := flag.String("metrics-out", "", "path to write Prometheus text-format sweep metrics; empty disables (env METRICS_OUT)")
	ledgerFlag := flag.String("ledger", "", "experiment ledger directory; empty disables sweep resumption (env LEDGER_DIR)")
	experimentFlag := flag.String("experiment", "", "experiment name to record the sweep under; defaults to -strategy (env EXPERIMENT)")
	flag.Parse()

	cfg := Config{
		DataFile:       envOr("DATA_FILE", *dataFlag),
		Pair:           envOr("PAIR", *pairFlag),
		Timeframe:      envOr("TIMEFRAME", *timeframeFlag),
		StrategyName:   envOr("STRATEGY", *strategyFlag),
		InitialCapital: envFloatOr("INITIAL_CAPITAL", *capitalFlag),
		CommissionRate: envFloatOr("COMMISSION_RATE", *commissionFlag),
		Slippage:       envFloatOr("SLIPPAGE", *slippageFlag),
		EnableShort:    envBoolOr("ENABLE_SHORT", *shortFlag),
		Seed:           envInt64Or("SEED", *seedFlag),
		WalkForward:    envBoolOr("WALK_FORWARD", *walkForwardFlag),
		ISCandles:      int(envInt64Or("IS_CANDLES", int64(*isFlag))),
		OOSCandles:     int(envInt64Or("OOS_CANDLES", int64(*oosFlag))),
		MetricsOut:     envOr("METRICS_OUT", *metricsOutFlag),
		LedgerDir:      envOr("LEDGER_DIR", *ledgerFlag),
		ExperimentName: envOr("EXPERIMENT", *experimentFlag),
	}
	if cfg.ExperimentName == "" {
		cfg.ExperimentName = cfg.StrategyName
	}

	log.Printf("starting optimize v%s (built: %s)", version, buildTime)
	if cfg.DataFile == "" {
		log.Fatal("no data file given: pass -data or set DATA_FILE")
	}

	if err := run(cfg); err != nil {
		log.Fatalf("sweep failed: %v", err)
	}
}

func run(cfg Config) error {
	ctx := context.Background()

	src, err := chunked.OpenCSV(cfg.DataFile, cfg.Pair)
	if err != nil {
		return fmt.Errorf("opening data file: %w", err)
	}
	defer src.Close()

	series, err := chunked.LoadSeries(ctx, src, cfg.Pair, cfg.Timeframe, chunked.DefaultChunkSize, chunked.WarmupOverlap(200))
	if err != nil {
		return fmt.Errorf("loading candles: %w", err)
	}
	log.Printf("loaded %d candles", series.Len())

	cache := indicator.NewCache()
	factory, params, err := buildFactory(cfg, cache)
	if err != nil {
		return err
	}

	baseCfg := engine.Config{
		Pair:           cfg.Pair,
		Timeframe:      cfg.Timeframe,
		StartTime:      series.Candles[0].TimestampMs,
		EndTime:        series.Candles[series.Len()-1].TimestampMs,
		InitialCapital: money.FromFloat(cfg.InitialCapital),
		CommissionRate: money.FromFloat(cfg.CommissionRate),
		Slippage:       money.FromFloat(cfg.Slippage),
		EnableShort:    cfg.EnableShort,
		MaxPositions:   1,
		Seed:           cfg.Seed,
	}

	registry := obs.NewRegistry()
	metrics := obs.NewSweepMetrics(registry)

	combos := optimizer.GenerateCombinations(params)
	log.Printf("sweeping %d combinations of %d parameters", len(combos), len(params))

	var store *ledger.Store
	var expID string
	if cfg.LedgerDir != "" {
		var err error
		store, expID, err = openSweepExperiment(cfg)
		if err != nil {
			return err
		}
		combos = skipCompleted(store, expID, cfg.StrategyName, baseCfg, combos)
	}

	if len(combos) == 0 && store != nil {
		log.Printf("every combination already completed in ledger experiment %q; nothing to run", cfg.ExperimentName)
		return nil
	}

	results := optimizer.RunCombinations(ctx, baseCfg, series, combos, factory, metrics)

	if store != nil {
		recordResults(store, expID, cfg.StrategyName, baseCfg, results)
	}

	printSweepTable(results)

	if cfg.MetricsOut != "" {
		defer writeMetrics(cfg.MetricsOut, registry)
	}

	best := optimizer.BestByMetric(results, func(r *engine.Result) float64 { return r.Metrics.TotalReturn })
	if best == -1 {
		return fmt.Errorf("every combination in the sweep failed")
	}
	log.Printf("best combination: %v (total return %.4f)", results[best].Combination, results[best].Result.Metrics.TotalReturn)

	if !cfg.WalkForward {
		return nil
	}

	wfCfg := optimizer.WalkForwardConfig{
		BaseConfig:  baseCfg,
		ISCandles:   cfg.ISCandles,
		OOSCandles:  cfg.OOSCandles,
		Combination: results[best].Combination,
	}
	wfResult, err := optimizer.RunWalkForward(ctx, wfCfg, series, factory)
	if err != nil {
		return fmt.Errorf("walk-forward validation: %w", err)
	}
	metrics.WalkForwardWFER.Set(wfResult.WFER)
	log.Printf("walk-forward: windows=%d WFER=%.3f passRate=%.0f%% stability=%.3f — %s",
		len(wfResult.Windows), wfResult.WFER, wfResult.PassRate*100, wfResult.StabilityScore, optimizer.WFERVerdict(wfResult))

	return nil
}

// openSweepExperiment opens cfg.LedgerDir and gets-or-creates the named
// experiment, returning its store and experiment id.
func openSweepExperiment(cfg Config) (*ledger.Store, string, error) {
	store, err := ledger.Open(cfg.LedgerDir)
	if err != nil {
		return nil, "", fmt.Errorf("opening ledger: %w", err)
	}
	exp, err := store.CreateExperiment(cfg.ExperimentName, "", nil)
	if err != nil {
		for _, e := range store.ListExperiments() {
			if e.Name == cfg.ExperimentName {
				return store, e.ID, nil
			}
		}
		return nil, "", fmt.Errorf("creating experiment: %w", err)
	}
	return store, exp.ID, nil
}

// skipCompleted drops any combination already recorded as a completed run
// under expID, so re-running the same sweep command against an existing
// ledger resumes rather than redoing finished work (§12).
func skipCompleted(store *ledger.Store, expID, strategyName string, baseCfg engine.Config, combos []optimizer.Combination) []optimizer.Combination {
	remaining := make([]optimizer.Combination, 0, len(combos))
	skipped := 0
	for _, combo := range combos {
		params := ledger.ParamsFromConfig(strategyName, baseCfg, combo.StringMap())
		if _, ok := store.CompletedCombination(expID, params); ok {
			skipped++
			continue
		}
		remaining = append(remaining, combo)
	}
	if skipped > 0 {
		log.Printf("skipping %d combination(s) already completed in ledger, running %d", skipped, len(remaining))
	}
	return remaining
}

// recordResults writes each executed combination's outcome back to the
// ledger as its own run, keyed by the combination's parameter hash so a
// later sweep invocation can recognize it via CompletedCombination.
func recordResults(store *ledger.Store, expID, strategyName string, baseCfg engine.Config, results []optimizer.SweepResult) {
	for _, r := range results {
		params := ledger.ParamsFromConfig(strategyName, baseCfg, r.Combination.StringMap())
		run, err := store.StartRun(expID, strategyName, params)
		if err != nil {
			log.Printf("warning: failed to start ledger run for combo %v: %v", r.Combination, err)
			continue
		}
		if r.Err != nil {
			if err := store.FailRun(run.ID, r.Err.Error()); err != nil {
				log.Printf("warning: failed to record combo failure: %v", err)
			}
			continue
		}
		if err := store.CompleteRun(run.ID, ledger.MetricsFromResult(r.Result), r.Result.DurationMs); err != nil {
			log.Printf("warning: failed to record combo completion: %v", err)
		}
	}
}

// writeMetrics renders registry in Prometheus text format to path, logging
// (rather than failing the run) if the file can't be written.
func writeMetrics(path string, registry *obs.Registry) {
	f, err := os.Create(path)
	if err != nil {
		log.Printf("warning: could not write metrics to %s: %v", path, err)
		return
	}
	defer f.Close()
	registry.WriteText(f)
	log.Printf("wrote sweep metrics to %s", path)
}

// buildFactory returns a Factory over one registered strategy's tunable
// parameters, reading combo values back out with optimizer's Combo*
// accessors; a parameter missing from a combination falls back to the
// fixed default passed to that accessor here.
func buildFactory(cfg Config, cache *indicator.Cache) (optimizer.Factory, []strategy.Parameter, error) {
	switch cfg.StrategyName {
	case "ma_crossover_v1":
		params := strategy.NewMACrossover(cache, money.FromFloat(0.01), money.FromFloat(0.02)).GetParameters()
		factory := func(combo optimizer.Combination) (strategy.Strategy, error) {
			risk := optimizer.ComboDecimal(combo, "risk_per_trade", money.FromFloat(0.01))
			stop := optimizer.ComboDecimal(combo, "stop_fraction", money.FromFloat(0.02))
			return strategy.NewMACrossover(cache, risk, stop), nil
		}
		return factory, params, nil
	case "rsi_momentum_v1":
		params := strategy.NewRSIMomentum(cache, 14, money.FromFloat(0.01), money.FromFloat(0.02)).GetParameters()
		factory := func(combo optimizer.Combination) (strategy.Strategy, error) {
			period := optimizer.ComboInt(combo, "period", 14)
			risk := optimizer.ComboDecimal(combo, "risk_per_trade", money.FromFloat(0.01))
			return strategy.NewRSIMomentum(cache, period, risk, money.FromFloat(0.02)), nil
		}
		return factory, params, nil
	default:
		return nil, nil, fmt.Errorf("unknown strategy %q", cfg.StrategyName)
	}
}

func printSweepTable(results []optimizer.SweepResult) {
	if len(results) == 0 {
		return
	}
	names := make([]string, 0)
	for k := range results[0].Combination {
		names = append(names, k)
	}
	sort.Strings(names)

	for _, r := range results {
		if r.Err != nil {
			fmt.Printf("%v\tERROR: %v\n", r.Combination, r.Err)
			continue
		}
		fields := make([]string, 0, len(names))
		for _, n := range names {
			fields = append(fields, n+"="+optimizer.ParamString(r.Combination[n]))
		}
		fmt.Printf("%s\ttrades=%d\tnetProfit=%s\ttotalReturn=%.4f\tsharpe=%.3f\n",
			fields, len(r.Result.Trades), r.Result.Metrics.NetProfit.String(), r.Result.Metrics.TotalReturn, r.Result.Metrics.Sharpe)
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envFloatOr(key string, def float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	parsed, err := strconv.ParseFloat(v, 64)
	if err != nil {
		log.Printf("warning: invalid %s value %q, using default %v", key, v, def)
		return def
	}
	return parsed
}

func envInt64Or(key string, def int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	parsed, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		log.Printf("warning: invalid %s value %q, using default %v", key, v, def)
		return def
	}
	return parsed
}

func envBoolOr(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	parsed, err := strconv.ParseBool(v)
	if err != nil {
		log.Printf("warning: invalid %s value %q, using default %v", key, v, def)
		return def
	}
	return parsed
}
