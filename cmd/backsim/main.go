// Command backsim runs a single historical backtest against a CSV candle
// file and writes its result to disk. Flag/env loading and logging follow
// the teacher's cmd/trader/main.go convention: flags for interactive use,
// environment variables for scripted/CI invocation, env taking precedence.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"backsim/internal/chunked"
	"backsim/internal/engine"
	"backsim/internal/executor"
	"backsim/internal/export"
	"backsim/internal/indicator"
	"backsim/internal/ledger"
	"backsim/internal/money"
	"backsim/internal/strategy"
)

var (
	version   = "0.1.0"
	buildTime = "unknown"
)

// Config is a single run's full configuration, assembled from flags with
// environment variables taking precedence, matching loadConfig's pattern
// in the teacher's server binary.
type Config struct {
	DataFile       string
	Pair           string
	Timeframe      string
	StrategyName   string
	RiskPerTrade   float64
	StopFraction   float64
	RSIPeriod      int
	InitialCapital float64
	CommissionRate float64
	Slippage       float64
	EnableShort    bool
	Seed           int64
	ChunkSize      int
	OutDir         string
	Format         string
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
	seedFlag := flag.Int64("seed", 0, "deterministic run seed, 0 = auto (env SEED)")
	outFlag := flag.String("out", "./out", "output directory for result files (env OUT_DIR)")
	formatFlag := flag.String("format", "json", "output format: json or csv (env FORMAT)")
	ledgerFlag := flag.String("ledger", "", "experiment ledger directory; empty disables run tracking (env LEDGER_DIR)")
	experimentFlag := flag.String("experiment", "ad-hoc", "experiment name to record the run under (env EXPERIMENT)")
	flag.Parse()

	cfg := loadConfig(*dataFlag, *pairFlag, *timeframeFlag, *strategyFlag, *capitalFlag, *commissionFlag, *slippageFlag, *shortFlag, *seedFlag, *outFlag, *formatFlag, *ledgerFlag, *experimentFlag)

	log.Printf("starting backsim v%s (built: %s)", version, buildTime)
	log.Printf("strategy=%s pair=%s timeframe=%s data=%s", cfg.StrategyName, cfg.Pair, cfg.Timeframe, cfg.DataFile)

	if cfg.DataFile == "" {
		log.Fatal("no data file given: pass -data or set DATA_FILE")
	}

	if err := run(cfg); err != nil {
		log.Fatalf("run failed: %v", err)
	}
}

func loadConfig(dataFile, pair, timeframe, strategyName string, capital, commission, slippage float64, enableShort bool, seed int64, outDir, format, ledgerDir, experiment string) Config {
	cfg := Config{
		DataFile:       envOr("DATA_FILE", dataFile),
		Pair:           envOr("PAIR", pair),
		Timeframe:      envOr("TIMEFRAME", timeframe),
		StrategyName:   envOr("STRATEGY", strategyName),
		InitialCapital: envFloatOr("INITIAL_CAPITAL", capital),
		CommissionRate: envFloatOr("COMMISSION_RATE", commission),
		Slippage:       envFloatOr("SLIPPAGE", slippage),
		EnableShort:    envBoolOr("ENABLE_SHORT", enableShort),
		Seed:           envInt64Or("SEED", seed),
		ChunkSize:      chunked.DefaultChunkSize,
		OutDir:         envOr("OUT_DIR", outDir),
		Format:         envOr("FORMAT", format),
		LedgerDir:      envOr("LEDGER_DIR", ledgerDir),
		ExperimentName: envOr("EXPERIMENT", experiment),
		RiskPerTrade:   0.01,
		StopFraction:   0.02,
		RSIPeriod:      14,
	}
	return cfg
}

func run(cfg Config) error {
	ctx := context.Background()

	src, err := chunked.OpenCSV(cfg.DataFile, cfg.Pair)
	if err != nil {
		return fmt.Errorf("opening data file: %w", err)
	}
	defer src.Close()

	series, err := chunked.LoadSeries(ctx, src, cfg.Pair, cfg.Timeframe, cfg.ChunkSize, chunked.WarmupOverlap(200))
	if err != nil {
		return fmt.Errorf("loading candles: %w", err)
	}
	log.Printf("loaded %d candles", series.Len())

	strat, err := buildStrategy(cfg)
	if err != nil {
		return fmt.Errorf("building strategy: %w", err)
	}

	var store *ledger.Store
	var runRecord *ledger.Run
	engineCfg := engine.Config{
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

	if cfg.LedgerDir != "" {
		store, err = ledger.Open(cfg.LedgerDir)
		if err != nil {
			return fmt.Errorf("opening ledger: %w", err)
		}
		exp, err := store.CreateExperiment(cfg.ExperimentName, "", nil)
		if err != nil {
			// an existing experiment with this name is not fatal; look it up.
			for _, e := range store.ListExperiments() {
				if e.Name == cfg.ExperimentName {
					expCopy := e
					exp = &expCopy
					err = nil
					break
				}
			}
			if err != nil {
				return fmt.Errorf("creating experiment: %w", err)
			}
		}
		runRecord, err = store.StartRun(exp.ID, cfg.StrategyName, ledger.ParamsFromConfig(cfg.StrategyName, engineCfg, nil))
		if err != nil {
			return fmt.Errorf("starting run record: %w", err)
		}
	}

	exec := executor.New(engineCfg.CommissionRate, engineCfg.Slippage)
	eng := engine.New(exec, nil)

	start := time.Now()
	result, err := eng.Run(ctx, engineCfg, series, strat)
	if err != nil {
		if store != nil && runRecord != nil {
			_ = store.FailRun(runRecord.ID, err.Error())
		}
		return fmt.Errorf("engine run: %w", err)
	}
	log.Printf("run complete: %d trades, net profit %s, sharpe %.3f, took %v",
		len(result.Trades), result.Metrics.NetProfit.String(), result.Metrics.Sharpe, time.Since(start))

	if store != nil && runRecord != nil {
		if err := store.CompleteRun(runRecord.ID, ledger.MetricsFromResult(result), time.Since(start).Milliseconds()); err != nil {
			log.Printf("warning: failed to record run completion: %v", err)
		}
	}

	return writeResult(cfg, result)
}

func buildStrategy(cfg Config) (strategy.Strategy, error) {
	cache := indicator.NewCache()
	switch cfg.StrategyName {
	case "ma_crossover_v1":
		return strategy.NewMACrossover(cache, money.FromFloat(cfg.RiskPerTrade), money.FromFloat(cfg.StopFraction)), nil
	case "rsi_momentum_v1":
		return strategy.NewRSIMomentum(cache, cfg.RSIPeriod, money.FromFloat(cfg.RiskPerTrade), money.FromFloat(cfg.StopFraction)), nil
	default:
		return nil, fmt.Errorf("unknown strategy %q", cfg.StrategyName)
	}
}

func writeResult(cfg Config, result *engine.Result) error {
	if err := os.MkdirAll(cfg.OutDir, 0o755); err != nil {
		return fmt.Errorf("creating output dir: %w", err)
	}

	switch cfg.Format {
	case "json":
		path := filepath.Join(cfg.OutDir, result.RunID+".json")
		f, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("creating %s: %w", path, err)
		}
		defer f.Close()
		if err := export.WriteJSON(f, result, export.DefaultOptions()); err != nil {
			return fmt.Errorf("writing json: %w", err)
		}
		log.Printf("wrote %s", path)
	case "csv":
		tradesPath := filepath.Join(cfg.OutDir, result.RunID+"_trades.csv")
		tf, err := os.Create(tradesPath)
		if err != nil {
			return fmt.Errorf("creating %s: %w", tradesPath, err)
		}
		defer tf.Close()
		if err := export.WriteTradesCSV(tf, result.Trades); err != nil {
			return fmt.Errorf("writing trades csv: %w", err)
		}

		equityPath := filepath.Join(cfg.OutDir, result.RunID+"_equity.csv")
		ef, err := os.Create(equityPath)
		if err != nil {
			return fmt.Errorf("creating %s: %w", equityPath, err)
		}
		defer ef.Close()
		if err := export.WriteEquityCSV(ef, result.EquityCurve); err != nil {
			return fmt.Errorf("writing equity csv: %w", err)
		}
		log.Printf("wrote %s and %s", tradesPath, equityPath)
	default:
		return fmt.Errorf("unknown format %q, want json or csv", cfg.Format)
	}
	return nil
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
