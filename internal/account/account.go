// Package account implements position and account bookkeeping: opening
// and closing the single v1 position, refreshing unrealized P&L and
// equity each candle, and recording completed trades. Grounded on the
// teacher's libs/contracts/domain order/position types (restated here in
// Decimal) and on the equity/drawdown bookkeeping style of the retrieved
// kasyap1234-delta-go reference backtest engine.
package account

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"backsim/internal/money"
	"backsim/internal/simerr"
)

// Side is the direction of an open position.
type Side int

const (
	Long Side = iota
	Short
)

// Position is the single open position the v1 engine tracks.
type Position struct {
	Pair          string
	Side          Side
	Size          money.Decimal
	EntryPrice    money.Decimal
	EntryTime     int64
	UnrealizedPnL money.Decimal
}

// Trade is a completed round-trip. Immutable once emitted.
type Trade struct {
	ID              string
	Pair            string
	Side            Side
	EntryTime       int64
	ExitTime        int64
	EntryPrice      money.Decimal
	ExitPrice       money.Decimal
	Size            money.Decimal
	PnL             money.Decimal
	PnLPercent      money.Decimal
	Commission      money.Decimal
	DurationMinutes int64
}

// Snapshot is one equity-curve sample, taken once per processed candle.
type Snapshot struct {
	Timestamp     int64
	Equity        money.Decimal
	Balance       money.Decimal
	UnrealizedPnL money.Decimal
}

// Account tracks cash balance, equity, and accumulated commission across
// a run. Equity = balance + the open position's unrealized P&L (zero when
// flat); balance must never go negative under normal operation.
type Account struct {
	InitialCapital  money.Decimal
	Balance         money.Decimal
	Equity          money.Decimal
	TotalCommission money.Decimal

	position *Position
}

// New constructs an Account with the given starting capital.
func New(initialCapital money.Decimal) *Account {
	return &Account{
		InitialCapital: initialCapital,
		Balance:        initialCapital,
		Equity:         initialCapital,
	}
}

// Position returns the currently open position, or nil when flat.
func (a *Account) Position() *Position { return a.position }

// IsOpen reports whether a position is currently open.
func (a *Account) IsOpen() bool { return a.position != nil }

// OpenEntry debits balance by fill_price*size+commission and opens a new
// position. Fails with InsufficientFunds if the entry cost exceeds
// balance, and with PositionAlreadyExists if a position is already open
// (the v1 invariant: at most one open position at a time).
func (a *Account) OpenEntry(side Side, pair string, fillPrice, size, commission money.Decimal, entryTime int64) error {
	if a.position != nil {
		return fmt.Errorf("position already open for %s: %w", a.position.Pair, simerr.ErrPositionAlreadyExists)
	}
	notional := fillPrice.MustMul(size)
	cost := notional.MustAdd(commission)
	if cost.GreaterThan(a.Balance) {
		return fmt.Errorf("entry cost %s exceeds balance %s: %w", cost.String(), a.Balance.String(), simerr.ErrInsufficientFunds)
	}

	a.Balance = a.Balance.MustSub(cost)
	a.TotalCommission = a.TotalCommission.MustAdd(commission)
	a.position = &Position{
		Pair:          pair,
		Side:          side,
		Size:          size,
		EntryPrice:    fillPrice,
		EntryTime:     entryTime,
		UnrealizedPnL: money.ZERO,
	}
	a.refreshEquity()
	return nil
}

// RefreshUnrealized updates the open position's unrealized P&L against
// closePrice and recomputes account equity. No-op when flat.
func (a *Account) RefreshUnrealized(closePrice money.Decimal) {
	if a.position == nil {
		a.Equity = a.Balance
		return
	}
	delta := closePrice.MustSub(a.position.EntryPrice)
	if a.position.Side == Short {
		delta = delta.Neg()
	}
	a.position.UnrealizedPnL = delta.MustMul(a.position.Size)
	a.refreshEquity()
}

func (a *Account) refreshEquity() {
	if a.position == nil {
		a.Equity = a.Balance
		return
	}
	a.Equity = a.Balance.MustAdd(a.position.UnrealizedPnL)
}

// CloseExit realizes P&L on the open position against fillPrice minus
// exit commission, credits balance, records a Trade, and clears the
// position. Fails with NoPosition if flat.
func (a *Account) CloseExit(fillPrice, commission money.Decimal, exitTime int64) (Trade, error) {
	if a.position == nil {
		return Trade{}, fmt.Errorf("no open position: %w", simerr.ErrNoPosition)
	}
	pos := a.position

	delta := fillPrice.MustSub(pos.EntryPrice)
	if pos.Side == Short {
		delta = delta.Neg()
	}
	grossPnL := delta.MustMul(pos.Size)
	realizedPnL := grossPnL.MustSub(commission)

	// The entry debited entryNotional as collateral for the position
	// (§4.7); closing returns that same collateral plus the realized
	// gain or loss, which is already side-corrected and net of exit
	// commission.
	entryNotional := pos.EntryPrice.MustMul(pos.Size)
	a.Balance = a.Balance.MustAdd(entryNotional).MustAdd(realizedPnL)
	a.TotalCommission = a.TotalCommission.MustAdd(commission)
	var pnlPercent money.Decimal
	if !entryNotional.IsZero() {
		pnlPercent, _ = realizedPnL.Div(entryNotional)
	}

	trade := Trade{
		ID:              uuid.NewString(),
		Pair:            pos.Pair,
		Side:            pos.Side,
		EntryTime:       pos.EntryTime,
		ExitTime:        exitTime,
		EntryPrice:      pos.EntryPrice,
		ExitPrice:       fillPrice,
		Size:            pos.Size,
		PnL:             realizedPnL,
		PnLPercent:      pnlPercent,
		Commission:      commission,
		DurationMinutes: (exitTime - pos.EntryTime) / 60000,
	}

	a.position = nil
	a.refreshEquity()
	return trade, nil
}

// Snapshot captures the account's current equity/balance/unrealized state
// at timestamp, for the equity curve.
func (a *Account) Snapshot(timestamp int64) Snapshot {
	unrealized := money.ZERO
	if a.position != nil {
		unrealized = a.position.UnrealizedPnL
	}
	return Snapshot{
		Timestamp:     timestamp,
		Equity:        a.Equity,
		Balance:       a.Balance,
		UnrealizedPnL: unrealized,
	}
}

// UnixMillisToDuration is a small helper for converting a millisecond
// timestamp delta into a time.Duration.
func UnixMillisToDuration(ms int64) time.Duration {
	return time.Duration(ms) * time.Millisecond
}
