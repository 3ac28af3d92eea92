// Package executor computes market-order fills against a candle's close
// price, applying slippage and commission. Grounded on the teacher's
// libs/trading/executor (position sizing, order validation, uuid usage),
// generalized from float64/share quantities to the simulator's Decimal
// money type and from a broker-facing OrderRequest to the spec's
// FillEvent shape.
package executor

import (
	"fmt"

	"github.com/google/uuid"

	"backsim/internal/candle"
	"backsim/internal/money"
	"backsim/internal/simerr"
)

// Side is the direction of a market order.
type Side int

const (
	Buy Side = iota
	Sell
)

// Order is a single market order submitted to the executor.
type Order struct {
	ID   uint64
	Side Side
	Size money.Decimal
}

// FillEvent is the result of executing a market order against a candle.
type FillEvent struct {
	OrderID    uint64
	TradeID    string
	Timestamp  int64
	FillPrice  money.Decimal
	FillSize   money.Decimal
	Commission money.Decimal
}

// Executor computes fills and issues monotonically increasing order ids.
// Limit orders are out of scope for v1; Order's shape is reserved for
// them, but only ExecuteMarket is implemented.
type Executor struct {
	commissionRate money.Decimal
	slippage       money.Decimal
	nextOrderID    uint64
}

// New constructs an Executor with the given commission rate and slippage,
// both expressed as fractions (e.g. 0.001 = 10bps).
func New(commissionRate, slippage money.Decimal) *Executor {
	return &Executor{commissionRate: commissionRate, slippage: slippage}
}

// NextOrderID returns a fresh monotonic order id.
func (e *Executor) NextOrderID() uint64 {
	e.nextOrderID++
	return e.nextOrderID
}

// ExecuteMarket fills order against currentCandle's close price. Base
// price is the candle's close; slippage adjusts it adversely
// (price*(1+slip) for a buy, price*(1-slip) for a sell); commission is
// fill_price*size*commission_rate.
func (e *Executor) ExecuteMarket(order Order, currentCandle candle.Candle) (FillEvent, error) {
	if !order.Size.IsPositive() {
		return FillEvent{}, fmt.Errorf("order %d size must be positive: %w", order.ID, simerr.ErrInvalidPositionSize)
	}

	base := currentCandle.Close
	var fillPrice money.Decimal
	switch order.Side {
	case Buy:
		factor := money.ONE.MustAdd(e.slippage)
		fillPrice = base.MustMul(factor)
	case Sell:
		factor := money.ONE.MustSub(e.slippage)
		fillPrice = base.MustMul(factor)
	default:
		return FillEvent{}, fmt.Errorf("unknown order side %d: %w", order.Side, simerr.ErrInvalidData)
	}

	notional := fillPrice.MustMul(order.Size)
	commission := notional.MustMul(e.commissionRate)

	return FillEvent{
		OrderID:    order.ID,
		TradeID:    uuid.NewString(),
		Timestamp:  currentCandle.TimestampMs,
		FillPrice:  fillPrice,
		FillSize:   order.Size,
		Commission: commission,
	}, nil
}
