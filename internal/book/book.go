// Package book implements the L3 order-book queue-position model: it
// estimates whether a resting limit order placed by the strategy would
// have been filled given the public trade tape, without access to a real
// level-3 feed. Grounded on the teacher's libs/microstructure spread/
// latency percentile-threshold patterns and on the dense order-book
// texture in the retrieved mkhoshkam-orderbook reference engine.
package book

import (
	"fmt"

	"backsim/internal/money"
	"backsim/internal/simerr"
)

// Side is the closed set of book sides.
type Side int

const (
	Bid Side = iota
	Ask
)

// priceScale is the discretization divisor described in §4.4: the scaled
// Decimal is divided by 10^9 to compress to an i64 bucket. shopspring's
// Decimal already tracks an arbitrary exponent, so discretization here
// means: round to 9 decimal places and use that exact value as the map
// key via its string form, which gives every price a single canonical
// bucket regardless of how it was constructed.
func priceKey(price money.Decimal) string {
	// Div rounds its quotient to 9 decimal places.
	if rounded, err := price.Div(money.ONE); err == nil {
		return rounded.String()
	}
	return price.String()
}

// queuePosition records an order's standing within its price level at
// insertion time and as it is consumed by subsequent trades.
type queuePosition struct {
	positionInQueue int
	totalSizeAhead  money.Decimal
	initialSizeAhead money.Decimal
	orderSize       money.Decimal
}

// order is the book's full record for one resting order.
type order struct {
	id       uint64
	side     Side
	price    money.Decimal
	priceKey string
	remaining money.Decimal
	queue    queuePosition
}

// level is a single price level: a FIFO of order ids plus the running sum
// of resting size.
type level struct {
	orderIDs []uint64
	total    money.Decimal
}

// Book is the L3 order book: two sides, each keyed by discretized price,
// plus a flat order-id -> order map for O(1) cancel/lookup.
type Book struct {
	bids    map[string]*level
	asks    map[string]*level
	orders  map[uint64]*order
	nextID  uint64
	fillThreshold float64
	model   QueueModel
}

// fillThresholdDefault is the deterministic probability threshold a self
// fill must exceed, per §4.4.
const fillThresholdDefault = 0.9

// New constructs an empty Book using the given queue model for self-fill
// probability.
func New(model QueueModel) *Book {
	return &Book{
		bids:          make(map[string]*level),
		asks:          make(map[string]*level),
		orders:        make(map[uint64]*order),
		fillThreshold: fillThresholdDefault,
		model:         model,
	}
}

func (b *Book) sideMap(s Side) map[string]*level {
	if s == Bid {
		return b.bids
	}
	return b.asks
}

// opposite returns the other side of s, used when a trade consumes resting
// liquidity (a buy trade consumes the ask side and vice versa).
func opposite(s Side) Side {
	if s == Bid {
		return Ask
	}
	return Bid
}

// AddOrder inserts a resting order at price/size on side, returning its
// id. size_ahead is the level's current total size at insertion.
func (b *Book) AddOrder(side Side, price, size money.Decimal) (uint64, error) {
	if !size.IsPositive() {
		return 0, fmt.Errorf("order size must be positive: %w", simerr.ErrInvalidPositionSize)
	}
	key := priceKey(price)
	levels := b.sideMap(side)
	lvl, ok := levels[key]
	if !ok {
		lvl = &level{total: money.ZERO}
		levels[key] = lvl
	}

	sizeAhead := lvl.total
	b.nextID++
	id := b.nextID

	o := &order{
		id:        id,
		side:      side,
		price:     price,
		priceKey:  key,
		remaining: size,
		queue: queuePosition{
			positionInQueue:  len(lvl.orderIDs),
			totalSizeAhead:   sizeAhead,
			initialSizeAhead: sizeAhead,
			orderSize:        size,
		},
	}
	lvl.orderIDs = append(lvl.orderIDs, id)
	lvl.total = lvl.total.MustAdd(size)
	b.orders[id] = o
	return id, nil
}

// Cancel removes an order from its level and from storage.
func (b *Book) Cancel(id uint64) error {
	o, ok := b.orders[id]
	if !ok {
		return fmt.Errorf("order %d not found: %w", id, simerr.ErrNoPosition)
	}
	levels := b.sideMap(o.side)
	lvl := levels[o.priceKey]
	if lvl != nil {
		removeID(lvl, id)
		lvl.total = lvl.total.MustSub(o.remaining)
		if len(lvl.orderIDs) == 0 {
			delete(levels, o.priceKey)
		}
	}
	delete(b.orders, id)
	return nil
}

func removeID(lvl *level, id uint64) {
	for i, oid := range lvl.orderIDs {
		if oid == id {
			lvl.orderIDs = append(lvl.orderIDs[:i], lvl.orderIDs[i+1:]...)
			return
		}
	}
}

// OnTrade consumes size against the side opposite tradeSide (a buy trade
// eats the ask side's front of queue, a sell trade eats the bid side's)
// starting from the level's front order. When the front order's remaining
// size hits zero it is evicted; surviving orders' total_size_ahead shrinks
// by the amount consumed ahead of them.
func (b *Book) OnTrade(tradeSide Side, price, size money.Decimal) {
	consumeSide := opposite(tradeSide)
	levels := b.sideMap(consumeSide)
	key := priceKey(price)
	lvl, ok := levels[key]
	if !ok {
		return
	}

	remaining := size
	for remaining.IsPositive() && len(lvl.orderIDs) > 0 {
		frontID := lvl.orderIDs[0]
		front := b.orders[frontID]
		consumed := money.Min(front.remaining, remaining)

		front.remaining = front.remaining.MustSub(consumed)
		lvl.total = lvl.total.MustSub(consumed)
		remaining = remaining.MustSub(consumed)

		for _, oid := range lvl.orderIDs[1:] {
			o := b.orders[oid]
			o.queue.totalSizeAhead = o.queue.totalSizeAhead.MustSub(consumed)
		}

		if front.remaining.IsZero() {
			lvl.orderIDs = lvl.orderIDs[1:]
			delete(b.orders, frontID)
		}
	}
	if len(lvl.orderIDs) == 0 {
		delete(levels, key)
	}
}

// CheckMyOrderFill reports whether order id would be considered filled by
// a trade at tradePrice on tradeSide: the order must rest on the side
// opposite the trade, at the same discretized price, and the queue
// model's probability at x = total_size_ahead/initial_size_ahead must
// exceed the deterministic threshold (or x be exactly zero).
func (b *Book) CheckMyOrderFill(id uint64, tradePrice money.Decimal, tradeSide Side) bool {
	o, ok := b.orders[id]
	if !ok {
		return false
	}
	if o.side != opposite(tradeSide) {
		return false
	}
	if priceKey(tradePrice) != o.priceKey {
		return false
	}

	x := 0.0
	if !o.queue.initialSizeAhead.IsZero() {
		ratio, err := o.queue.totalSizeAhead.Div(o.queue.initialSizeAhead)
		if err != nil {
			return false
		}
		x = ratio.Float64()
	}
	if x == 0 {
		return true
	}
	return b.model.FillProbability(x) > b.fillThreshold
}

// SizeAhead returns the order's current total_size_ahead, exposed for
// diagnostics and tests.
func (b *Book) SizeAhead(id uint64) (money.Decimal, bool) {
	o, ok := b.orders[id]
	if !ok {
		return money.ZERO, false
	}
	return o.queue.totalSizeAhead, true
}
