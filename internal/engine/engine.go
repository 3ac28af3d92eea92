// Package engine drives the per-candle state machine that ties every
// other package together into a run: update, snapshot, check-exit,
// check-entry, advance. Grounded on the teacher's
// internal/modules/backtest/engine.go (Config/Result shape, seed
// tracking, RunID format) and the Run loop formerly in
// libs/strategies/backtest.go (exit-before-entry ordering, fund
// validation, metrics derivation, now delegated to internal/analyzer).
package engine

import (
	"context"
	"fmt"
	"time"

	"backsim/internal/account"
	"backsim/internal/analyzer"
	"backsim/internal/candle"
	"backsim/internal/executor"
	"backsim/internal/money"
	"backsim/internal/obs"
	"backsim/internal/simerr"
	"backsim/internal/strategy"
)

// State is the closed set of engine lifecycle states. Transitions other
// than to Error are illegal; Error is terminal.
type State int

const (
	Initial State = iota
	DataLoaded
	IndicatorsReady
	Running
	Finalizing
	Complete
	ErrorState
)

func (s State) String() string {
	switch s {
	case Initial:
		return "INITIAL"
	case DataLoaded:
		return "DATA_LOADED"
	case IndicatorsReady:
		return "INDICATORS_READY"
	case Running:
		return "RUNNING"
	case Finalizing:
		return "FINALIZING"
	case Complete:
		return "COMPLETE"
	case ErrorState:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// Config is the caller-supplied configuration for a single run.
type Config struct {
	Pair            string
	Timeframe       string
	StartTime       int64
	EndTime         int64
	InitialCapital  money.Decimal
	CommissionRate  money.Decimal
	Slippage        money.Decimal
	EnableShort     bool
	MaxPositions    int
	// Seed is recorded in Result.Seed and the RunID; the close-price fill
	// path draws no random numbers. 0 = auto-generate from wall clock.
	Seed int64
}

// Validate checks BacktestConfig invariants (§3): end>start, capital>0,
// rates>=0, max_positions>=1.
func (c Config) Validate() error {
	if c.EndTime <= c.StartTime {
		return fmt.Errorf("end_time %d must be after start_time %d: %w", c.EndTime, c.StartTime, simerr.ErrInvalidTimeRange)
	}
	if !c.InitialCapital.IsPositive() {
		return fmt.Errorf("initial_capital must be positive: %w", simerr.ErrInvalidInitialCapital)
	}
	if c.CommissionRate.IsNegative() || c.Slippage.IsNegative() {
		return fmt.Errorf("commission_rate and slippage must be non-negative: %w", simerr.ErrInvalidRates)
	}
	if c.MaxPositions < 1 {
		return fmt.Errorf("max_positions must be >= 1: %w", simerr.ErrInvalidMaxPositions)
	}
	return nil
}

// minInsufficientDataCandles is the §7 Data error floor: a series shorter
// than this fails with InsufficientData before the loop ever runs.
const minInsufficientDataCandles = 10

// Result is the owning BacktestResult §3/§6 describe, plus the teacher's
// determinism metadata (seed, run id, timing).
type Result struct {
	Config       Config
	StrategyName string
	Trades       []account.Trade
	EquityCurve  []account.Snapshot
	Metrics      analyzer.Metrics
	CandlesCount int
	Seed         int64
	RunID        string
	RunAt        time.Time
	DurationMs   int64
}

// Engine wires candle.Series, a Strategy, the executor, and account
// bookkeeping into the §4.8 state machine.
type Engine struct {
	state    State
	exec     *executor.Executor
	fillPath FillPath
}

// FillPath abstracts how a signal becomes a FillEvent. v1's default,
// CloseFillPath, fills at the signaling candle's close through slippage;
// it exists as an injection point so a future latency/queue-aware path
// can be swapped in without reshaping the loop (§9 "Latency and queue in
// v1").
type FillPath interface {
	Fill(exec *executor.Executor, side executor.Side, size money.Decimal, c candle.Candle) (executor.FillEvent, error)
}

// CloseFillPath is the v1 default: fills at candle.Close adjusted by the
// executor's configured slippage, ignoring latency and queue position.
type CloseFillPath struct{}

func (CloseFillPath) Fill(exec *executor.Executor, side executor.Side, size money.Decimal, c candle.Candle) (executor.FillEvent, error) {
	order := executor.Order{ID: exec.NextOrderID(), Side: side, Size: size}
	return exec.ExecuteMarket(order, c)
}

// New constructs an Engine with the given executor and fill path. A nil
// fillPath defaults to CloseFillPath.
func New(exec *executor.Executor, fillPath FillPath) *Engine {
	if fillPath == nil {
		fillPath = CloseFillPath{}
	}
	return &Engine{state: Initial, exec: exec, fillPath: fillPath}
}

// State returns the engine's current lifecycle state.
func (e *Engine) State() State { return e.state }

func (e *Engine) transition(to State) {
	e.state = to
}

func (e *Engine) fail(err error) error {
	e.state = ErrorState
	return err
}

// Run executes a full deterministic backtest: validates config and
// series, populates indicators, then drives the §4.8 per-candle state
// machine to completion, force-closing any residual position on the
// final candle.
func (e *Engine) Run(ctx context.Context, cfg Config, series *candle.Series, strat strategy.Strategy) (*Result, error) {
	runAt := time.Now()
	seed := cfg.Seed
	if seed == 0 {
		seed = runAt.UnixNano()
	}
	runID := fmt.Sprintf("bt_%s_%d", strat.GetMetadata().Name, seed)
	ctx = obs.WithRunInfo(ctx, obs.RunInfo{RunID: runID, Strategy: strat.GetMetadata().Name, Pair: cfg.Pair})

	if e.state != Initial {
		return nil, e.fail(fmt.Errorf("run called from state %s: %w", e.state, simerr.ErrInvalidStateTransition))
	}

	if err := cfg.Validate(); err != nil {
		return nil, e.fail(err)
	}
	if series == nil || series.Len() == 0 {
		return nil, e.fail(fmt.Errorf("series has no candles: %w", simerr.ErrNoData))
	}
	if series.Len() < minInsufficientDataCandles {
		return nil, e.fail(fmt.Errorf("series has %d candles, need at least %d: %w", series.Len(), minInsufficientDataCandles, simerr.ErrInsufficientData))
	}
	e.transition(DataLoaded)

	obs.Event(ctx, obs.Info, "run_start", map[string]any{"candles": series.Len(), "pair": cfg.Pair})

	if err := strat.Init(strategy.Context{Context: ctx}); err != nil {
		return nil, e.fail(fmt.Errorf("strategy init: %w: %w", simerr.ErrStrategyInitFailed, err))
	}
	if err := strat.PopulateIndicators(series); err != nil {
		return nil, e.fail(fmt.Errorf("populate indicators: %w: %w", simerr.ErrIndicatorCalculationFailed, err))
	}
	e.transition(IndicatorsReady)

	acct := account.New(cfg.InitialCapital)
	trades := make([]account.Trade, 0)
	curve := make([]account.Snapshot, 0, series.Len())

	e.transition(Running)

	for i := 0; i < series.Len(); i++ {
		select {
		case <-ctx.Done():
			return nil, e.fail(fmt.Errorf("run cancelled: %w", ctx.Err()))
		default:
		}

		c := series.Candles[i]
		isLast := i == series.Len()-1

		// 1. UPDATE_POSITION
		if acct.IsOpen() {
			acct.RefreshUnrealized(c.Close)
		}

		// 2. SNAPSHOT_EQUITY
		curve = append(curve, acct.Snapshot(c.TimestampMs))

		entryHandled := false

		// 3. CHECK_EXIT (exit has priority over entry in the same candle)
		if acct.IsOpen() {
			pos := acct.Position()
			sig, err := strat.GenerateExitSignal(series, pos)
			if err != nil {
				return nil, e.fail(fmt.Errorf("generate exit signal at index %d: %w: %w", i, simerr.ErrSignalGenerationFailed, err))
			}
			if sig == nil && isLast {
				// Final candle forces closure of any residual position.
				exitSide := strategy.SideSell
				if pos.Side == account.Short {
					exitSide = strategy.SideBuy
				}
				sig = &strategy.Signal{Side: exitSide, Price: c.Close, Timestamp: c.TimestampMs}
				obs.Event(ctx, obs.Warn, "forced_final_close", map[string]any{"index": i})
			}
			if sig != nil {
				trade, err := e.executeExit(acct, c)
				if err != nil {
					obs.Event(ctx, obs.Warn, "exit_skipped", map[string]any{"index": i, "error": err.Error()})
				} else {
					trades = append(trades, trade)
				}
				entryHandled = true
			}
		}

		// 4A. CHECK_ENTRY (skipped if an exit consumed this candle)
		if !entryHandled && !acct.IsOpen() && !isLast {
			sig, err := strat.GenerateEntrySignal(series, i)
			if err != nil {
				return nil, e.fail(fmt.Errorf("generate entry signal at index %d: %w: %w", i, simerr.ErrSignalGenerationFailed, err))
			}
			if sig != nil {
				if sig.Kind == strategy.EntryShort && !cfg.EnableShort {
					obs.Event(ctx, obs.Warn, "short_disabled", map[string]any{"index": i})
				} else if err := e.executeEntry(ctx, acct, strat, sig, c); err != nil {
					obs.Event(ctx, obs.Warn, "entry_skipped", map[string]any{"index": i, "error": err.Error()})
				}
			}
		}

		// 5. ADVANCE happens implicitly via the loop.
		if (i+1)%1000 == 0 {
			obs.Event(ctx, obs.Info, "progress", map[string]any{"processed": i + 1, "total": series.Len()})
		}
	}

	e.transition(Finalizing)
	metrics := analyzer.Analyze(trades, curve, cfg.InitialCapital)
	e.transition(Complete)

	obs.Event(ctx, obs.Info, "run_complete", map[string]any{"trades": len(trades)})

	return &Result{
		Config:       cfg,
		StrategyName: strat.GetMetadata().Name,
		Trades:       trades,
		EquityCurve:  curve,
		Metrics:      metrics,
		CandlesCount: series.Len(),
		Seed:         seed,
		RunID:        runID,
		RunAt:        runAt,
		DurationMs:   time.Since(runAt).Milliseconds(),
	}, nil
}

// executeEntry sizes, validates, and executes an entry signal, opening
// the account's position on success.
func (e *Engine) executeEntry(ctx context.Context, acct *account.Account, strat strategy.Strategy, sig *strategy.Signal, c candle.Candle) error {
	size, err := strat.CalculatePositionSize(*sig, acct)
	if err != nil {
		return fmt.Errorf("calculate position size: %w", err)
	}
	if !size.IsPositive() {
		return fmt.Errorf("computed position size %s is not positive: %w", size.String(), simerr.ErrInvalidPositionSize)
	}

	side := executor.Buy
	accSide := account.Long
	if sig.Kind == strategy.EntryShort {
		side = executor.Sell
		accSide = account.Short
	}

	fill, err := e.fillPath.Fill(e.exec, side, size, c)
	if err != nil {
		return fmt.Errorf("execute entry fill: %w", err)
	}

	if err := acct.OpenEntry(accSide, sig.Pair, fill.FillPrice, fill.FillSize, fill.Commission, fill.Timestamp); err != nil {
		return err
	}
	obs.Event(ctx, obs.Debug, "entry_filled", map[string]any{"side": int(accSide), "size": fill.FillSize.String(), "price": fill.FillPrice.String()})
	return nil
}

// executeExit runs the exit fill and records the resulting Trade.
func (e *Engine) executeExit(acct *account.Account, c candle.Candle) (account.Trade, error) {
	pos := acct.Position()
	side := executor.Sell
	if pos.Side == account.Short {
		side = executor.Buy
	}

	fill, err := e.fillPath.Fill(e.exec, side, pos.Size, c)
	if err != nil {
		return account.Trade{}, fmt.Errorf("execute exit fill: %w", err)
	}
	return acct.CloseExit(fill.FillPrice, fill.Commission, fill.Timestamp)
}
