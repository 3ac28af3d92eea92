package export

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"backsim/internal/account"
	"backsim/internal/analyzer"
	"backsim/internal/engine"
	"backsim/internal/money"
)

func sampleResult() *engine.Result {
	return &engine.Result{
		Config: engine.Config{
			Pair: "BTC-USD", Timeframe: "1h", StartTime: 1000, EndTime: 2000,
			InitialCapital: money.FromFloat(10000), CommissionRate: money.FromFloat(0.001),
			Slippage: money.FromFloat(0.0005), EnableShort: true, MaxPositions: 1,
		},
		StrategyName: "ma_crossover_v1",
		Trades: []account.Trade{
			{
				ID: "t1", Pair: "BTC-USD", Side: account.Long,
				EntryTime: 1000, ExitTime: 2000,
				EntryPrice: money.FromFloat(2000), ExitPrice: money.FromFloat(2100),
				Size: money.ONE, PnL: money.FromFloat(100), PnLPercent: money.FromFloat(0.05),
				Commission: money.ZERO, DurationMinutes: 60,
			},
		},
		EquityCurve: []account.Snapshot{
			{Timestamp: 1000, Equity: money.FromFloat(10000), Balance: money.FromFloat(10000)},
			{Timestamp: 2000, Equity: money.FromFloat(10100), Balance: money.FromFloat(10100)},
		},
		Metrics:      analyzer.Metrics{NetProfit: money.FromFloat(100), WinningCount: 1},
		CandlesCount: 2,
		Seed:         42,
		RunID:        "bt_ma_crossover_v1_42",
	}
}

func TestWriteJSONRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	res := sampleResult()
	if err := WriteJSON(&buf, res, DefaultOptions()); err != nil {
		t.Fatalf("WriteJSON: %v", err)
	}
	var doc document
	if err := json.Unmarshal(buf.Bytes(), &doc); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if doc.Metadata.RunID != res.RunID {
		t.Fatalf("RunID = %s, want %s", doc.Metadata.RunID, res.RunID)
	}
	if len(doc.Trades) != 1 || doc.Trades[0].PnL != "100" {
		t.Fatalf("unexpected trades section: %+v", doc.Trades)
	}
	if len(doc.Equity) != 2 {
		t.Fatalf("unexpected equity section length: %d", len(doc.Equity))
	}
}

func TestWriteJSONOmitsSections(t *testing.T) {
	var buf bytes.Buffer
	res := sampleResult()
	if err := WriteJSON(&buf, res, Options{}); err != nil {
		t.Fatalf("WriteJSON: %v", err)
	}
	if strings.Contains(buf.String(), "\"trades\"") || strings.Contains(buf.String(), "\"equity_curve\"") {
		t.Fatalf("expected trades/equity_curve omitted, got %s", buf.String())
	}
}

func TestWriteTradesCSV(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteTradesCSV(&buf, sampleResult().Trades); err != nil {
		t.Fatalf("WriteTradesCSV: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected header + 1 row, got %d lines", len(lines))
	}
	if lines[0] != "id,entry_time,entry_price,exit_time,exit_price,size,side,pnl,pnl_percent,commission" {
		t.Fatalf("unexpected header: %s", lines[0])
	}
	if !strings.Contains(lines[1], "long") || !strings.Contains(lines[1], "100") {
		t.Fatalf("unexpected row: %s", lines[1])
	}
}

func TestWriteEquityCSVDrawdown(t *testing.T) {
	curve := []account.Snapshot{
		{Timestamp: 1000, Equity: money.FromFloat(10000)},
		{Timestamp: 2000, Equity: money.FromFloat(11000)},
		{Timestamp: 3000, Equity: money.FromFloat(9000)},
	}
	var buf bytes.Buffer
	if err := WriteEquityCSV(&buf, curve); err != nil {
		t.Fatalf("WriteEquityCSV: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 4 {
		t.Fatalf("expected header + 3 rows, got %d", len(lines))
	}
	last := strings.Split(lines[3], ",")
	if last[2] != "0.18181818" && !strings.HasPrefix(last[2], "0.1818") {
		t.Fatalf("unexpected drawdown %s", last[2])
	}
}

func TestWriteEquityCSVEmpty(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteEquityCSV(&buf, nil); err != nil {
		t.Fatalf("WriteEquityCSV: %v", err)
	}
	if strings.TrimSpace(buf.String()) != "timestamp,equity,drawdown" {
		t.Fatalf("expected header-only output, got %q", buf.String())
	}
}
