package sim

import (
	"fmt"
	"math/rand"

	"github.com/shopspring/decimal"

	"github.com/alexlomt/tradingbot-sub000/pkg/app/core/orderbook"
)

// Action is one generated piece of order flow: a new order or a cancel of a
// previously generated one.
type Action struct {
	Order  *orderbook.Order
	Cancel *CancelRequest
}

type CancelRequest struct {
	Pair    string
	OrderID string
	Owner   string
}

// OrderGenerator creates random orders around a reference price per pair.
// It is not safe for concurrent use.
type OrderGenerator struct {
	traders []string
	pairs   []string
	rng     *rand.Rand
	seq     int

	// recent orders, oldest first, so cancels target something that may still rest
	recent []CancelRequest
}

const recentOrders = 100

func Traders(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("trader_%d", i+1)
	}
	return out
}

func NewOrderGenerator(traders int, pairs []string, seed int64) *OrderGenerator {
	return &OrderGenerator{
		traders: Traders(max(traders, 1)),
		pairs:   pairs,
		rng:     rand.New(rand.NewSource(seed)),
	}
}

// GenerateOrder returns a random order against ref: 80% limit, 20% market,
// even split of sides, limit prices within ±1% of ref.
func (g *OrderGenerator) GenerateOrder(pair string, ref decimal.Decimal) orderbook.Order {
	owner := g.traders[g.rng.Intn(len(g.traders))]

	side := orderbook.Buy
	if g.rng.Intn(2) == 1 {
		side = orderbook.Sell
	}

	g.seq++
	o := orderbook.Order{
		ID:       fmt.Sprintf("%s_o%d", owner, g.seq),
		Pair:     pair,
		Side:     side,
		Kind:     orderbook.Limit,
		Quantity: decimal.NewFromInt(int64(g.rng.Intn(50) + 1)).Div(decimal.NewFromInt(10)),
		OwnerID:  owner,
	}
	if g.rng.Intn(100) < 20 {
		o.Kind = orderbook.Market
		return o
	}

	// ±100 bps in whole basis points
	bps := decimal.NewFromInt(int64(g.rng.Intn(201) - 100))
	o.Price = ref.Mul(decimal.NewFromInt(1).Add(bps.Div(decimal.NewFromInt(10000)))).Round(4)
	if !o.Price.IsPositive() {
		o.Price = ref
	}

	g.recent = append(g.recent, CancelRequest{Pair: pair, OrderID: o.ID, Owner: owner})
	if len(g.recent) > recentOrders {
		g.recent = g.recent[1:]
	}
	return o
}

// GenerateCancel picks one of the recent limit orders, or returns false when
// none were generated yet.
func (g *OrderGenerator) GenerateCancel() (CancelRequest, bool) {
	if len(g.recent) == 0 {
		return CancelRequest{}, false
	}
	i := g.rng.Intn(len(g.recent))
	c := g.recent[i]
	g.recent = append(g.recent[:i], g.recent[i+1:]...)
	return c, true
}

// GenerateMix returns an order 90% of the time and a cancel otherwise. refs
// holds the reference price per pair; pairs without one are skipped.
func (g *OrderGenerator) GenerateMix(refs map[string]decimal.Decimal) (Action, bool) {
	if g.rng.Intn(100) >= 90 {
		if c, ok := g.GenerateCancel(); ok {
			return Action{Cancel: &c}, true
		}
	}
	if len(g.pairs) == 0 {
		return Action{}, false
	}
	pair := g.pairs[g.rng.Intn(len(g.pairs))]
	ref, ok := refs[pair]
	if !ok || !ref.IsPositive() {
		return Action{}, false
	}
	o := g.GenerateOrder(pair, ref)
	return Action{Order: &o}, true
}

// GenerateBatch returns up to count actions.
func (g *OrderGenerator) GenerateBatch(count int, refs map[string]decimal.Decimal) []Action {
	batch := make([]Action, 0, count)
	for range count {
		if a, ok := g.GenerateMix(refs); ok {
			batch = append(batch, a)
		}
	}
	return batch
}
