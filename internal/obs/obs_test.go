package obs

import (
	"context"
	"errors"
	"testing"
)

func TestRunInfoRoundTrip(t *testing.T) {
	ctx := WithRunInfo(context.Background(), RunInfo{RunID: "bt_1", Strategy: "ma_cross", Pair: "BTC-USD"})
	info := RunInfoFromContext(ctx)
	if info.RunID != "bt_1" || info.Strategy != "ma_cross" || info.Pair != "BTC-USD" {
		t.Fatalf("unexpected RunInfo: %+v", info)
	}
}

func TestRunInfoFromContextEmpty(t *testing.T) {
	info := RunInfoFromContext(context.Background())
	if info.RunID != "" {
		t.Fatalf("expected zero-value RunInfo, got %+v", info)
	}
}

func TestNormalizeFieldsConvertsErrors(t *testing.T) {
	out := normalizeFields(map[string]any{"err": errors.New("boom")})
	if out["err"] != "boom" {
		t.Fatalf("expected error to be stringified, got %v", out["err"])
	}
}

func TestEventDoesNotPanic(t *testing.T) {
	ctx := WithRunInfo(context.Background(), RunInfo{RunID: "bt_2"})
	Event(ctx, Info, "run_start", map[string]any{"candles": 100})
}
