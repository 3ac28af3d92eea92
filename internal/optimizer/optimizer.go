// Package optimizer drives the engine across many parameter combinations
// and, via walkforward.go, across many IS/OOS windows. Grounded on the
// teacher's libs/walkforward/engine.go orchestration shape (Config/Window
// iteration around a single backtest.Engine), generalized here into a
// Cartesian sweep over strategy.Parameter definitions instead of a single
// fixed strategy, and adapted from the teacher's dataset.Registry-backed
// data source to a pre-loaded candle.Series.
package optimizer

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"backsim/internal/candle"
	"backsim/internal/engine"
	"backsim/internal/executor"
	"backsim/internal/money"
	"backsim/internal/obs"
	"backsim/internal/resilience"
	"backsim/internal/strategy"
)

// Combination is one concrete assignment of parameter name to value. Values
// are money.Decimal for ParamDecimal, int for ParamInt, bool for ParamBool,
// and string for ParamDiscrete, matching the Parameter.Kind that produced
// them.
type Combination map[string]any

// Factory builds a fresh Strategy instance configured with combo's values.
// Implementations type-assert each combo entry against the Kind they
// declared in GetParameters.
type Factory func(combo Combination) (strategy.Strategy, error)

// GenerateCombinations returns the Cartesian product of every parameter's
// value range, in deterministic order (parameters sorted by name, then
// values ascending) so repeated sweeps over the same parameter set produce
// identically ordered results.
func GenerateCombinations(params []strategy.Parameter) []Combination {
	sorted := append([]strategy.Parameter(nil), params...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })

	combos := []Combination{{}}
	for _, p := range sorted {
		values := parameterValues(p)
		if len(values) == 0 {
			continue
		}
		var next []Combination
		for _, c := range combos {
			for _, v := range values {
				extended := make(Combination, len(c)+1)
				for k, existing := range c {
					extended[k] = existing
				}
				extended[p.Name] = v
				next = append(next, extended)
			}
		}
		combos = next
	}
	return combos
}

func parameterValues(p strategy.Parameter) []any {
	switch p.Kind {
	case strategy.ParamInt:
		return intValues(p)
	case strategy.ParamDecimal:
		return decimalValues(p)
	case strategy.ParamBool:
		return []any{false, true}
	case strategy.ParamDiscrete:
		out := make([]any, len(p.Discrete))
		for i, d := range p.Discrete {
			out[i] = d
		}
		return out
	default:
		return nil
	}
}

func intValues(p strategy.Parameter) []any {
	step := p.IntStep
	if step <= 0 {
		step = 1
	}
	var out []any
	for v := p.IntMin; v <= p.IntMax; v += step {
		out = append(out, v)
	}
	return out
}

// decimalValues walks [DecMin, DecMax] in DecStep increments. A zero or
// negative DecStep yields the single DecMin value, treating the range as
// fixed rather than looping forever.
func decimalValues(p strategy.Parameter) []any {
	if !p.DecStep.IsPositive() {
		return []any{p.DecMin}
	}
	var out []any
	for v := p.DecMin; v.LessThanOrEqual(p.DecMax); {
		out = append(out, v)
		next, err := v.Add(p.DecStep)
		if err != nil {
			break
		}
		v = next
	}
	return out
}

// comboKey renders a Combination as a stable string for logging and
// dedup, sorted by key so equal combinations always render identically.
func comboKey(c Combination) string {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	s := ""
	for _, k := range keys {
		s += k + "=" + fmt.Sprint(c[k]) + ";"
	}
	return s
}

// SweepResult pairs one Combination with its run outcome. Err is set when
// the strategy factory, the engine run, or the breaker guarding it failed;
// Result is nil in that case.
type SweepResult struct {
	Combination Combination
	Result      *engine.Result
	Err         error
}

// RunSweep runs one engine.Run per Combination generated from params. It
// is a thin wrapper over RunCombinations for the common case where every
// generated combination should run; a caller that wants to skip
// combinations already recorded in a ledger.Store (§12 "resumed ...
// without re-running combinations already completed") should generate
// combinations itself and call RunCombinations with the filtered list
// instead.
func RunSweep(ctx context.Context, baseCfg engine.Config, series *candle.Series, params []strategy.Parameter, factory Factory, metrics *obs.SweepMetrics) []SweepResult {
	return RunCombinations(ctx, baseCfg, series, GenerateCombinations(params), factory, metrics)
}

// RunCombinations runs one engine.Run per Combination in combos, using
// factory to build a strategy instance per combination and a fresh
// Executor so order ids and commission bookkeeping never bleed across
// runs. Every combination runs through one shared circuit breaker
// (resilience.CombinationConfig's trip rule needs the accumulated
// request/failure counts of the whole sweep, not a single call, to tell
// "one bad combination" apart from "the strategy factory is broken") so
// a systematically failing parameter choice stops wasting time on the
// rest of the sweep instead of quietly burning through every combination.
// metrics may be nil; when set, each combination's outcome and duration
// are recorded against it.
func RunCombinations(ctx context.Context, baseCfg engine.Config, series *candle.Series, combos []Combination, factory Factory, metrics *obs.SweepMetrics) []SweepResult {
	results := make([]SweepResult, 0, len(combos))
	haveBest := false
	bestReturn := 0.0
	breaker := resilience.New(resilience.CombinationConfig("optimizer-sweep"))

	for _, combo := range combos {
		start := time.Now()
		raw, err := breaker.Execute(func() (any, error) {
			return runOne(ctx, baseCfg, series, factory, combo)
		})
		if metrics != nil {
			metrics.CombinationDuration.ObserveDuration(time.Since(start))
		}
		if err != nil {
			if metrics != nil {
				metrics.CombinationsRun.Inc("outcome", "error")
			}
			results = append(results, SweepResult{Combination: combo, Err: fmt.Errorf("combo %s: %w", comboKey(combo), err)})
			continue
		}
		result := raw.(*engine.Result)
		if metrics != nil {
			metrics.CombinationsRun.Inc("outcome", "ok")
			// Tracked locally rather than read back from the gauge: a
			// Value()-based comparison would default the "best so far"
			// to 0 and never record an all-negative sweep's true best.
			if !haveBest || result.Metrics.TotalReturn > bestReturn {
				bestReturn = result.Metrics.TotalReturn
				haveBest = true
				metrics.BestTotalReturn.Set(bestReturn)
			}
		}
		results = append(results, SweepResult{Combination: combo, Result: result})
	}
	return results
}

func runOne(ctx context.Context, baseCfg engine.Config, series *candle.Series, factory Factory, combo Combination) (*engine.Result, error) {
	strat, err := factory(combo)
	if err != nil {
		return nil, fmt.Errorf("build strategy: %w", err)
	}
	exec := executor.New(baseCfg.CommissionRate, baseCfg.Slippage)
	eng := engine.New(exec, nil)
	return eng.Run(ctx, baseCfg, series, strat)
}

// BestByMetric returns the index into results of the highest-scoring
// successful run under score, or -1 if every run in the sweep failed.
func BestByMetric(results []SweepResult, score func(*engine.Result) float64) int {
	best := -1
	bestScore := 0.0
	for i, r := range results {
		if r.Result == nil {
			continue
		}
		s := score(r.Result)
		if best == -1 || s > bestScore {
			best = i
			bestScore = s
		}
	}
	return best
}

// ComboInt, ComboDecimal, ComboBool, and ComboString pull a typed value
// back out of a Combination, so a Factory implementation doesn't repeat
// the type assertion and missing-key fallback at every call site.
func ComboInt(c Combination, name string, def int) int {
	if v, ok := c[name].(int); ok {
		return v
	}
	return def
}

func ComboDecimal(c Combination, name string, def money.Decimal) money.Decimal {
	if v, ok := c[name].(money.Decimal); ok {
		return v
	}
	return def
}

func ComboBool(c Combination, name string, def bool) bool {
	if v, ok := c[name].(bool); ok {
		return v
	}
	return def
}

func ComboString(c Combination, name string, def string) string {
	if v, ok := c[name].(string); ok {
		return v
	}
	return def
}

// ParamString renders a single combination value for display, used by
// cmd/optimize's result table.
func ParamString(v any) string {
	switch t := v.(type) {
	case money.Decimal:
		return t.String()
	case int:
		return strconv.Itoa(t)
	case bool:
		return strconv.FormatBool(t)
	case string:
		return t
	default:
		return fmt.Sprint(t)
	}
}

// StringMap renders every value in c through ParamString, giving a
// map[string]string a caller can attach to a ledger.RunParams record
// (which cannot itself depend on this package's Combination type) for
// per-combination hashing and resumable-sweep lookups.
func (c Combination) StringMap() map[string]string {
	out := make(map[string]string, len(c))
	for k, v := range c {
		out[k] = ParamString(v)
	}
	return out
}
