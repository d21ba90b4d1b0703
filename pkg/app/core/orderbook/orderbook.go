package orderbook

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/tidwall/btree"
)

// PricingRule decides the execution price when a resting bid and ask cross.
type PricingRule int8

const (
	// Midpoint prices at (bid + ask) / 2.
	Midpoint PricingRule = iota
	// MakerPrice prices at the order that arrived first.
	MakerPrice
)

func (r PricingRule) String() string {
	if r == MakerPrice {
		return "maker"
	}
	return "midpoint"
}

func ParsePricingRule(s string) (PricingRule, error) {
	switch s {
	case "", "midpoint":
		return Midpoint, nil
	case "maker":
		return MakerPrice, nil
	default:
		return Midpoint, fmt.Errorf("unknown pricing rule %q", s)
	}
}

const DefaultHistorySize = 10000

var two = decimal.NewFromInt(2)

type PriceLevel struct {
	Price    decimal.Decimal `json:"price"`
	Quantity decimal.Decimal `json:"quantity"` // total remaining qty at this price level
	Orders   int             `json:"orders"`
}

type Snapshot struct {
	Pair      string          `json:"pair"`
	Bids      []PriceLevel    `json:"bids"`
	Asks      []PriceLevel    `json:"asks"`
	LastPrice decimal.Decimal `json:"lastPrice"`
	Timestamp time.Time       `json:"timestamp"`
}

// level is a FIFO queue of resting orders at one price.
type level struct {
	price  decimal.Decimal
	orders []*Order
}

type OrderBook struct {
	mu sync.RWMutex

	pair string
	rule PricingRule

	// Both trees keep the best price at Min(): bids descending, asks ascending.
	bids *btree.BTreeG[*level]
	asks *btree.BTreeG[*level]

	// Resting orders by id for O(1) cancel lookup
	index map[string]*Order

	// Terminal orders kept for lookups, oldest evicted first
	history      map[string]Order
	historyQueue []string
	historySize  int

	seq       uint64
	lastPrice decimal.Decimal
	now       func() time.Time
}

func NewOrderBook(pair string, rule PricingRule) *OrderBook {
	return &OrderBook{
		pair: pair,
		rule: rule,
		bids: btree.NewBTreeG(func(a, b *level) bool {
			return a.price.GreaterThan(b.price)
		}),
		asks: btree.NewBTreeG(func(a, b *level) bool {
			return a.price.LessThan(b.price)
		}),
		index:       make(map[string]*Order),
		history:     make(map[string]Order),
		historySize: DefaultHistorySize,
		now:         time.Now,
	}
}

// SetHistorySize bounds how many terminal orders are retained. n <= 0 keeps the default.
func (ob *OrderBook) SetHistorySize(n int) {
	ob.mu.Lock()
	defer ob.mu.Unlock()
	if n > 0 {
		ob.historySize = n
	}
}

func (ob *OrderBook) Pair() string { return ob.pair }

func (ob *OrderBook) Rule() PricingRule { return ob.rule }

func (ob *OrderBook) side(s Side) *btree.BTreeG[*level] {
	if s == Buy {
		return ob.bids
	}
	return ob.asks
}

// Add validates o and either rests it (limit) or sweeps the opposite side (market).
// A market order's unfilled remainder is discarded, never queued.
func (ob *OrderBook) Add(o Order) ([]Fill, error) {
	if err := o.Validate(); err != nil {
		return nil, err
	}
	if o.Pair != ob.pair {
		return nil, fmt.Errorf("%w: pair %s routed to book %s", ErrInvalidOrder, o.Pair, ob.pair)
	}

	ob.mu.Lock()
	defer ob.mu.Unlock()

	if _, ok := ob.index[o.ID]; ok {
		return nil, fmt.Errorf("%w: duplicate id %s", ErrInvalidOrder, o.ID)
	}
	if _, ok := ob.history[o.ID]; ok {
		return nil, fmt.Errorf("%w: duplicate id %s", ErrInvalidOrder, o.ID)
	}

	ord := o
	ord.FilledQuantity = decimal.Zero
	ord.Status = Open
	if ord.CreatedAt.IsZero() {
		ord.CreatedAt = ob.now()
	}
	ob.seq++
	ord.seq = ob.seq

	if ord.Kind == Market {
		return ob.sweep(&ord), nil
	}

	ob.rest(&ord)
	return nil, nil
}

func (ob *OrderBook) rest(o *Order) {
	tree := ob.side(o.Side)
	lvl, ok := tree.Get(&level{price: o.Price})
	if !ok {
		lvl = &level{price: o.Price}
		tree.Set(lvl)
	}
	lvl.orders = append(lvl.orders, o)
	ob.index[o.ID] = o
}

// sweep walks the opposite side from best to worst at the resting price.
func (ob *OrderBook) sweep(taker *Order) []Fill {
	opp := ob.side(taker.Side.Opposite())
	var fills []Fill

	for taker.Remaining().IsPositive() {
		lvl, ok := opp.Min()
		if !ok {
			break
		}
		maker := lvl.orders[0]
		qty := decimal.Min(taker.Remaining(), maker.Remaining())

		bid, ask := taker, maker
		if taker.Side == Sell {
			bid, ask = maker, taker
		}
		fills = append(fills, ob.execute(bid, ask, qty, lvl.price, taker.Side))
	}

	if taker.Remaining().IsPositive() {
		// book exhausted, remainder dropped (IOC)
		taker.Status = Cancelled
	}
	ob.retain(*taker)
	return fills
}

// Match runs one matching pass: while the best bid crosses the best ask, the
// orders at the head of both levels trade min(remaining) at the rule's price.
func (ob *OrderBook) Match() []Fill {
	ob.mu.Lock()
	defer ob.mu.Unlock()

	var fills []Fill
	for {
		bl, okBid := ob.bids.Min()
		al, okAsk := ob.asks.Min()
		if !okBid || !okAsk || bl.price.LessThan(al.price) {
			break
		}

		bid, ask := bl.orders[0], al.orders[0]
		qty := decimal.Min(bid.Remaining(), ask.Remaining())

		taker := Buy
		if ask.seq > bid.seq {
			taker = Sell
		}
		fills = append(fills, ob.execute(bid, ask, qty, ob.matchPrice(bid, ask), taker))
	}
	return fills
}

func (ob *OrderBook) matchPrice(bid, ask *Order) decimal.Decimal {
	if ob.rule == MakerPrice {
		if bid.seq < ask.seq {
			return bid.Price
		}
		return ask.Price
	}
	return bid.Price.Add(ask.Price).Div(two)
}

// execute applies qty to both orders and unlinks whichever is done.
func (ob *OrderBook) execute(bid, ask *Order, qty, price decimal.Decimal, taker Side) Fill {
	bid.fill(qty)
	ask.fill(qty)
	ob.lastPrice = price

	for _, o := range []*Order{bid, ask} {
		if o.Status == Filled {
			if _, resting := ob.index[o.ID]; resting {
				ob.unlink(o)
				ob.retain(*o)
			}
		}
	}

	return Fill{
		ID:         uuid.NewString(),
		Pair:       ob.pair,
		BidOrderID: bid.ID,
		AskOrderID: ask.ID,
		BidOwner:   bid.OwnerID,
		AskOwner:   ask.OwnerID,
		TakerSide:  taker,
		Price:      price,
		Quantity:   qty,
		Timestamp:  ob.now(),
	}
}

// unlink removes a resting order from its level and the index (O(M) in level size).
func (ob *OrderBook) unlink(o *Order) {
	tree := ob.side(o.Side)
	if lvl, ok := tree.Get(&level{price: o.Price}); ok {
		for i, r := range lvl.orders {
			if r == o {
				lvl.orders = append(lvl.orders[:i], lvl.orders[i+1:]...)
				break
			}
		}
		if len(lvl.orders) == 0 {
			tree.Delete(lvl)
		}
	}
	delete(ob.index, o.ID)
}

func (ob *OrderBook) retain(o Order) {
	if _, ok := ob.history[o.ID]; !ok {
		ob.historyQueue = append(ob.historyQueue, o.ID)
	}
	ob.history[o.ID] = o

	for len(ob.historyQueue) > ob.historySize {
		delete(ob.history, ob.historyQueue[0])
		ob.historyQueue = ob.historyQueue[1:]
	}
}

// Cancel removes a resting order owned by owner. Unknown, terminal and foreign
// orders all return ErrNotFound and leave the book unchanged.
func (ob *OrderBook) Cancel(id, owner string) (Order, error) {
	ob.mu.Lock()
	defer ob.mu.Unlock()

	o, ok := ob.index[id]
	if !ok || o.OwnerID != owner {
		return Order{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	ob.unlink(o)
	o.Status = Cancelled
	ob.retain(*o)
	return *o, nil
}

// Order looks up a resting or retained order by id.
func (ob *OrderBook) Order(id string) (Order, bool) {
	ob.mu.RLock()
	defer ob.mu.RUnlock()

	if o, ok := ob.index[id]; ok {
		return *o, true
	}
	o, ok := ob.history[id]
	return o, ok
}

// Snapshot aggregates the top depth levels per side. depth <= 0 returns every level.
func (ob *OrderBook) Snapshot(depth int) Snapshot {
	ob.mu.RLock()
	defer ob.mu.RUnlock()

	return Snapshot{
		Pair:      ob.pair,
		Bids:      aggregate(ob.bids, depth),
		Asks:      aggregate(ob.asks, depth),
		LastPrice: ob.lastPrice,
		Timestamp: ob.now(),
	}
}

func aggregate(tree *btree.BTreeG[*level], depth int) []PriceLevel {
	levels := make([]PriceLevel, 0, tree.Len())
	tree.Scan(func(lvl *level) bool {
		if depth > 0 && len(levels) >= depth {
			return false
		}
		qty := decimal.Zero
		for _, o := range lvl.orders {
			qty = qty.Add(o.Remaining())
		}
		levels = append(levels, PriceLevel{Price: lvl.price, Quantity: qty, Orders: len(lvl.orders)})
		return true
	})
	return levels
}

func (ob *OrderBook) BestBid() (decimal.Decimal, bool) {
	ob.mu.RLock()
	defer ob.mu.RUnlock()
	if lvl, ok := ob.bids.Min(); ok {
		return lvl.price, true
	}
	return decimal.Zero, false
}

func (ob *OrderBook) BestAsk() (decimal.Decimal, bool) {
	ob.mu.RLock()
	defer ob.mu.RUnlock()
	if lvl, ok := ob.asks.Min(); ok {
		return lvl.price, true
	}
	return decimal.Zero, false
}

// MidPrice falls back to the last fill price when either side is empty.
func (ob *OrderBook) MidPrice() decimal.Decimal {
	bid, okBid := ob.BestBid()
	ask, okAsk := ob.BestAsk()
	if okBid && okAsk {
		return bid.Add(ask).Div(two)
	}
	return ob.LastPrice()
}

func (ob *OrderBook) LastPrice() decimal.Decimal {
	ob.mu.RLock()
	defer ob.mu.RUnlock()
	return ob.lastPrice
}

// Len returns the number of resting orders.
func (ob *OrderBook) Len() int {
	ob.mu.RLock()
	defer ob.mu.RUnlock()
	return len(ob.index)
}
