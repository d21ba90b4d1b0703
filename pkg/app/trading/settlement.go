package trading

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alexlomt/tradingbot-sub000/pkg/app/core/execution"
	"github.com/alexlomt/tradingbot-sub000/pkg/app/core/orderbook"
	"github.com/alexlomt/tradingbot-sub000/pkg/app/core/position"
	"github.com/alexlomt/tradingbot-sub000/pkg/events"
)

// settlementQueue is an unbounded FIFO of fills waiting for on-chain settlement.
type settlementQueue struct {
	mu     sync.Mutex
	items  []orderbook.Fill
	notify chan struct{}
	closed bool
}

func newSettlementQueue(capacity int) *settlementQueue {
	return &settlementQueue{
		items:  make([]orderbook.Fill, 0, capacity),
		notify: make(chan struct{}, 1),
	}
}

func (q *settlementQueue) push(fills ...orderbook.Fill) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	q.items = append(q.items, fills...)
	q.mu.Unlock()
	q.signal()
	return true
}

// pop blocks until a fill is queued. It returns false once the queue is
// closed and empty.
func (q *settlementQueue) pop() (orderbook.Fill, bool) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			f := q.items[0]
			q.items[0] = orderbook.Fill{}
			q.items = q.items[1:]
			q.mu.Unlock()
			return f, true
		}
		if q.closed {
			q.mu.Unlock()
			return orderbook.Fill{}, false
		}
		q.mu.Unlock()
		<-q.notify
	}
}

func (q *settlementQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *settlementQueue) close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.signal()
}

func (q *settlementQueue) signal() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// OnFills queues matching-engine fills for settlement. Fills arriving after
// Stop are dropped.
func (e *Engine) OnFills(fills []orderbook.Fill) {
	if len(fills) == 0 {
		return
	}
	if !e.settlement.push(fills...) {
		e.log.Warnw("settlement_dropped", "fills", len(fills), "reason", "stopped")
	}
}

// PendingSettlements is the number of fills waiting in the queue.
func (e *Engine) PendingSettlements() int { return e.settlement.len() }

func (e *Engine) runSettlement(ctx context.Context) {
	for {
		f, ok := e.settlement.pop()
		if !ok {
			return
		}
		e.settle(ctx, f)
	}
}

// settle submits one fill to the venue and, once confirmed, applies it to both
// owners' positions and daily stats.
func (e *Engine) settle(ctx context.Context, f orderbook.Fill) {
	taker := f.BidOwner
	if f.TakerSide == orderbook.Sell {
		taker = f.AskOwner
	}
	tc := execution.TradeContext{
		ID:            f.ID,
		Pair:          f.Pair,
		Side:          f.TakerSide,
		Action:        execution.ActionSettle,
		Amount:        f.Quantity,
		ExpectedPrice: f.Price,
		Owner:         taker,
		Timestamp:     e.deps.Clock.Now(),
		Metadata: map[string]string{
			"fill_id":   f.ID,
			"bid_owner": f.BidOwner,
			"ask_owner": f.AskOwner,
			"bid_order": f.BidOrderID,
			"ask_order": f.AskOrderID,
		},
	}
	res := e.deps.Executor.Execute(ctx, tc, e.cfg.Execution)
	if !res.Success {
		e.executionFailed(tc, res)
		return
	}

	now := e.deps.Clock.Now()
	notional := f.Notional()
	for _, leg := range []struct {
		owner string
		side  orderbook.Side
	}{{f.BidOwner, orderbook.Buy}, {f.AskOwner, orderbook.Sell}} {
		if leg.owner == "" {
			continue
		}
		realized := e.applyLeg(ctx, f, leg.owner, leg.side, now)
		e.recordStats(ctx, leg.owner, now, notional, realized)
	}

	ev := events.New(events.KindFill)
	ev.Pair, ev.Side, ev.Price, ev.Quantity = f.Pair, f.TakerSide.String(), f.Price, f.Quantity
	ev.Attrs = map[string]string{
		"fill_id":   f.ID,
		"bid_owner": f.BidOwner,
		"ask_owner": f.AskOwner,
		"signature": res.Signature,
	}
	e.deps.Bus.Publish(ev)
	e.log.Debugw("fill_settled", "fill_id", f.ID, "pair", f.Pair, "signature", res.Signature)
}

func (e *Engine) applyLeg(ctx context.Context, f orderbook.Fill, owner string, side orderbook.Side, at time.Time) decimal.Decimal {
	if e.deps.Positions == nil {
		return decimal.Zero
	}
	before, _ := e.deps.Positions.Get(owner, f.Pair)
	after, err := e.deps.Positions.ApplyFill(ctx, position.Trade{
		OwnerID: owner, Market: f.Pair, Side: side, Quantity: f.Quantity, Price: f.Price, Timestamp: at,
	})
	if err != nil {
		e.log.Errorw("position_persist_failed", "owner", owner, "pair", f.Pair, "fill_id", f.ID, "err", err)
	}
	return after.RealizedPnL.Sub(before.RealizedPnL)
}
