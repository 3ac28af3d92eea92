package ledger

import (
	"testing"

	"backsim/internal/engine"
	"backsim/internal/money"
)

func TestCreateExperimentAndStartRun(t *testing.T) {
	dir := t.TempDir()
	store, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	exp, err := store.CreateExperiment("ma crossover sweep", "", nil)
	if err != nil {
		t.Fatalf("CreateExperiment: %v", err)
	}

	params := ParamsFromConfig("ma_crossover_v1", engine.Config{
		Pair: "BTC-USD", Timeframe: "1h", Seed: 7,
		InitialCapital: money.FromFloat(10000), CommissionRate: money.FromFloat(0.001), Slippage: money.ZERO,
	}, nil)
	run, err := store.StartRun(exp.ID, "run-1", params)
	if err != nil {
		t.Fatalf("StartRun: %v", err)
	}
	if run.Status != StatusRunning {
		t.Fatalf("status = %s, want running", run.Status)
	}

	metrics := RunMetrics{TotalTrades: 3, NetProfit: "150"}
	if err := store.CompleteRun(run.ID, metrics, 42); err != nil {
		t.Fatalf("CompleteRun: %v", err)
	}

	got, err := store.GetExperiment(exp.ID)
	if err != nil {
		t.Fatalf("GetExperiment: %v", err)
	}
	if len(got.Runs) != 1 || got.Runs[0].Status != StatusCompleted {
		t.Fatalf("unexpected runs: %+v", got.Runs)
	}
	if got.Runs[0].Metrics.NetProfit != "150" {
		t.Fatalf("NetProfit = %s, want 150", got.Runs[0].Metrics.NetProfit)
	}
}

func TestDuplicateExperimentNameRejected(t *testing.T) {
	store, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := store.CreateExperiment("dup", "", nil); err != nil {
		t.Fatalf("CreateExperiment: %v", err)
	}
	if _, err := store.CreateExperiment("dup", "", nil); err == nil {
		t.Fatalf("expected duplicate name rejection")
	}
}

func TestStorePersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	store, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := store.CreateExperiment("persisted", "", []string{"tag1"}); err != nil {
		t.Fatalf("CreateExperiment: %v", err)
	}

	reopened, err := Open(dir)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	list := reopened.ListExperiments()
	if len(list) != 1 || list[0].Name != "persisted" {
		t.Fatalf("unexpected experiments after reopen: %+v", list)
	}
}

func TestCompletedCombinationTracksParameterHash(t *testing.T) {
	store, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	exp, err := store.CreateExperiment("sweep", "", nil)
	if err != nil {
		t.Fatalf("CreateExperiment: %v", err)
	}

	cfg := engine.Config{
		Pair: "BTC-USD", Timeframe: "1h", Seed: 7,
		InitialCapital: money.FromFloat(10000), CommissionRate: money.FromFloat(0.001), Slippage: money.ZERO,
	}
	comboA := ParamsFromConfig("ma_crossover_v1", cfg, map[string]string{"risk_per_trade": "0.01"})
	comboB := ParamsFromConfig("ma_crossover_v1", cfg, map[string]string{"risk_per_trade": "0.02"})

	if _, ok := store.CompletedCombination(exp.ID, comboA); ok {
		t.Fatalf("expected comboA not yet completed")
	}

	run, err := store.StartRun(exp.ID, "combo-a", comboA)
	if err != nil {
		t.Fatalf("StartRun: %v", err)
	}
	if _, ok := store.CompletedCombination(exp.ID, comboA); ok {
		t.Fatalf("expected comboA not completed while still running")
	}
	if err := store.CompleteRun(run.ID, RunMetrics{TotalTrades: 1}, 5); err != nil {
		t.Fatalf("CompleteRun: %v", err)
	}

	runID, ok := store.CompletedCombination(exp.ID, comboA)
	if !ok || runID != run.ID {
		t.Fatalf("CompletedCombination(comboA) = (%q, %v), want (%q, true)", runID, ok, run.ID)
	}
	if _, ok := store.CompletedCombination(exp.ID, comboB); ok {
		t.Fatalf("expected comboB (different params) not completed")
	}
}

func TestCompletedCombinationSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	store, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	exp, _ := store.CreateExperiment("resumable", "", nil)
	params := ParamsFromConfig("rsi_momentum_v1", engine.Config{Pair: "BTC-USD", Timeframe: "1h"}, map[string]string{"period": "14"})
	run, err := store.StartRun(exp.ID, "r1", params)
	if err != nil {
		t.Fatalf("StartRun: %v", err)
	}
	if err := store.CompleteRun(run.ID, RunMetrics{}, 1); err != nil {
		t.Fatalf("CompleteRun: %v", err)
	}

	reopened, err := Open(dir)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if _, ok := reopened.CompletedCombination(exp.ID, params); !ok {
		t.Fatalf("expected completed combination to survive reopen")
	}
}

func TestFailedRunIsNotIndexedAsCompleted(t *testing.T) {
	store, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	exp, _ := store.CreateExperiment("sweep-fail", "", nil)
	params := ParamsFromConfig("ma_crossover_v1", engine.Config{Pair: "BTC-USD", Timeframe: "1h"}, nil)
	run, err := store.StartRun(exp.ID, "r1", params)
	if err != nil {
		t.Fatalf("StartRun: %v", err)
	}
	if err := store.FailRun(run.ID, "boom"); err != nil {
		t.Fatalf("FailRun: %v", err)
	}
	if _, ok := store.CompletedCombination(exp.ID, params); ok {
		t.Fatalf("expected a failed run not to be indexed as completed")
	}
}

func TestFailRun(t *testing.T) {
	store, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	exp, _ := store.CreateExperiment("e", "", nil)
	run, err := store.StartRun(exp.ID, "r", RunParams{})
	if err != nil {
		t.Fatalf("StartRun: %v", err)
	}
	if err := store.FailRun(run.ID, "boom"); err != nil {
		t.Fatalf("FailRun: %v", err)
	}
	got, _ := store.GetExperiment(exp.ID)
	if got.Runs[0].Status != StatusFailed || got.Runs[0].ErrorMessage != "boom" {
		t.Fatalf("unexpected run after fail: %+v", got.Runs[0])
	}
}
