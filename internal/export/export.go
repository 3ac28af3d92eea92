// Package export serializes a completed run into the result tree's JSON
// and CSV surfaces. Grounded on the teacher's libs/experiment/store.go
// JSON-tagged schema and encoding/json usage; CSV uses the standard
// library's encoding/csv, which the teacher's corpus never needed a
// third-party replacement for anywhere it touches tabular output.
package export

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"backsim/internal/account"
	"backsim/internal/analyzer"
	"backsim/internal/engine"
)

// Options controls which sections a JSON export includes.
type Options struct {
	IncludeTrades bool
	IncludeEquity bool
}

// DefaultOptions includes every section.
func DefaultOptions() Options {
	return Options{IncludeTrades: true, IncludeEquity: true}
}

// document is the on-wire JSON shape: metadata, config, metrics, and the
// optional trades/equity_curve arrays (§6 "Result surface").
type document struct {
	Metadata metadataSection `json:"metadata"`
	Config   configSection   `json:"config"`
	Metrics  metricsSection  `json:"metrics"`
	Trades   []tradeRow      `json:"trades,omitempty"`
	Equity   []equityRow     `json:"equity_curve,omitempty"`
}

type metadataSection struct {
	RunID        string `json:"run_id"`
	StrategyName string `json:"strategy_name"`
	CandlesCount int    `json:"candles_count"`
	Seed         int64  `json:"seed"`
	DurationMs   int64  `json:"duration_ms"`
}

type configSection struct {
	Pair           string `json:"pair"`
	Timeframe      string `json:"timeframe"`
	StartTime      int64  `json:"start_time"`
	EndTime        int64  `json:"end_time"`
	InitialCapital string `json:"initial_capital"`
	CommissionRate string `json:"commission_rate"`
	Slippage       string `json:"slippage"`
	EnableShort    bool   `json:"enable_short"`
	MaxPositions   int    `json:"max_positions"`
}

type metricsSection struct {
	TotalProfit       string  `json:"total_profit"`
	TotalLoss         string  `json:"total_loss"`
	NetProfit         string  `json:"net_profit"`
	ProfitFactor      string  `json:"profit_factor"`
	AverageProfit     string  `json:"average_profit"`
	AverageLoss       string  `json:"average_loss"`
	Expectancy        string  `json:"expectancy"`
	WinningCount      int     `json:"winning_count"`
	LosingCount       int     `json:"losing_count"`
	LongestWinStreak  int     `json:"longest_win_streak"`
	LongestLossStreak int     `json:"longest_loss_streak"`
	MaxDrawdown       float64 `json:"max_drawdown"`
	DrawdownDuration  int64   `json:"drawdown_duration_ms"`
	Sharpe            float64 `json:"sharpe"`
	Sortino           float64 `json:"sortino"`
	Calmar            float64 `json:"calmar"`
	TotalReturn       float64 `json:"total_return"`
	AnnualizedReturn  float64 `json:"annualized_return"`
}

type tradeRow struct {
	ID              string `json:"id"`
	Pair            string `json:"pair"`
	Side            string `json:"side"`
	EntryTime       int64  `json:"entry_time"`
	ExitTime        int64  `json:"exit_time"`
	EntryPrice      string `json:"entry_price"`
	ExitPrice       string `json:"exit_price"`
	Size            string `json:"size"`
	PnL             string `json:"pnl"`
	PnLPercent      string `json:"pnl_percent"`
	Commission      string `json:"commission"`
	DurationMinutes int64  `json:"duration_minutes"`
}

type equityRow struct {
	Timestamp     int64  `json:"timestamp"`
	Equity        string `json:"equity"`
	Balance       string `json:"balance"`
	UnrealizedPnL string `json:"unrealized_pnl"`
}

func sideString(s account.Side) string {
	if s == account.Short {
		return "short"
	}
	return "long"
}

func toDocument(res *engine.Result, opts Options) document {
	doc := document{
		Metadata: metadataSection{
			RunID:        res.RunID,
			StrategyName: res.StrategyName,
			CandlesCount: res.CandlesCount,
			Seed:         res.Seed,
			DurationMs:   res.DurationMs,
		},
		Config: configSection{
			Pair:           res.Config.Pair,
			Timeframe:      res.Config.Timeframe,
			StartTime:      res.Config.StartTime,
			EndTime:        res.Config.EndTime,
			InitialCapital: res.Config.InitialCapital.String(),
			CommissionRate: res.Config.CommissionRate.String(),
			Slippage:       res.Config.Slippage.String(),
			EnableShort:    res.Config.EnableShort,
			MaxPositions:   res.Config.MaxPositions,
		},
		Metrics: metricsFromAnalyzer(res.Metrics),
	}

	if opts.IncludeTrades {
		doc.Trades = make([]tradeRow, len(res.Trades))
		for i, t := range res.Trades {
			doc.Trades[i] = tradeRow{
				ID:              t.ID,
				Pair:            t.Pair,
				Side:            sideString(t.Side),
				EntryTime:       t.EntryTime,
				ExitTime:        t.ExitTime,
				EntryPrice:      t.EntryPrice.String(),
				ExitPrice:       t.ExitPrice.String(),
				Size:            t.Size.String(),
				PnL:             t.PnL.String(),
				PnLPercent:      t.PnLPercent.String(),
				Commission:      t.Commission.String(),
				DurationMinutes: t.DurationMinutes,
			}
		}
	}
	if opts.IncludeEquity {
		doc.Equity = make([]equityRow, len(res.EquityCurve))
		for i, s := range res.EquityCurve {
			doc.Equity[i] = equityRow{
				Timestamp:     s.Timestamp,
				Equity:        s.Equity.String(),
				Balance:       s.Balance.String(),
				UnrealizedPnL: s.UnrealizedPnL.String(),
			}
		}
	}
	return doc
}

func metricsFromAnalyzer(m analyzer.Metrics) metricsSection {
	return metricsSection{
		TotalProfit:       m.TotalProfit.String(),
		TotalLoss:         m.TotalLoss.String(),
		NetProfit:         m.NetProfit.String(),
		ProfitFactor:      m.ProfitFactor.String(),
		AverageProfit:     m.AverageProfit.String(),
		AverageLoss:       m.AverageLoss.String(),
		Expectancy:        m.Expectancy.String(),
		WinningCount:      m.WinningCount,
		LosingCount:       m.LosingCount,
		LongestWinStreak:  m.LongestWinStreak,
		LongestLossStreak: m.LongestLossStreak,
		MaxDrawdown:       m.MaxDrawdown,
		DrawdownDuration:  m.DrawdownDuration,
		Sharpe:            m.Sharpe,
		Sortino:           m.Sortino,
		Calmar:            m.Calmar,
		TotalReturn:       m.TotalReturn,
		AnnualizedReturn:  m.AnnualizedReturn,
	}
}

// WriteJSON serializes res to w per opts, pretty-printed with a two-space
// indent matching the teacher's experiment-store persistence style.
func WriteJSON(w io.Writer, res *engine.Result, opts Options) error {
	doc := toDocument(res, opts)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("encoding backtest result: %w", err)
	}
	return nil
}

// tradeColumns and equityColumns fix the CSV column order §6 requires.
var tradeColumns = []string{"id", "entry_time", "entry_price", "exit_time", "exit_price", "size", "side", "pnl", "pnl_percent", "commission"}
var equityColumns = []string{"timestamp", "equity", "drawdown"}

// WriteTradesCSV writes one row per trade in the fixed §6 column order.
func WriteTradesCSV(w io.Writer, trades []account.Trade) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(tradeColumns); err != nil {
		return fmt.Errorf("writing trades header: %w", err)
	}
	for _, t := range trades {
		row := []string{
			t.ID,
			strconv.FormatInt(t.EntryTime, 10),
			t.EntryPrice.String(),
			strconv.FormatInt(t.ExitTime, 10),
			t.ExitPrice.String(),
			t.Size.String(),
			sideString(t.Side),
			t.PnL.String(),
			t.PnLPercent.String(),
			t.Commission.String(),
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("writing trade row %s: %w", t.ID, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteEquityCSV writes one row per snapshot with a running drawdown
// fraction computed against the peak equity seen so far.
func WriteEquityCSV(w io.Writer, curve []account.Snapshot) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(equityColumns); err != nil {
		return fmt.Errorf("writing equity header: %w", err)
	}
	if len(curve) == 0 {
		cw.Flush()
		return cw.Error()
	}

	peak := curve[0].Equity
	for _, snap := range curve {
		if snap.Equity.GreaterThan(peak) {
			peak = snap.Equity
		}
		drawdown := 0.0
		if !peak.IsZero() {
			dd := peak.MustSub(snap.Equity)
			if ratio, err := dd.Div(peak); err == nil {
				drawdown = ratio.Float64()
			}
		}
		row := []string{
			strconv.FormatInt(snap.Timestamp, 10),
			snap.Equity.String(),
			strconv.FormatFloat(drawdown, 'f', -1, 64),
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("writing equity row at %d: %w", snap.Timestamp, err)
		}
	}
	cw.Flush()
	return cw.Error()
}
