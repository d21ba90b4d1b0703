package orderbook

import (
	"errors"
	"fmt"
	"math/rand"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func limit(id, owner string, side Side, price, qty string) Order {
	return Order{
		ID:       id,
		Pair:     "SOL-USDC",
		Side:     side,
		Kind:     Limit,
		Price:    d(price),
		Quantity: d(qty),
		OwnerID:  owner,
	}
}

func market(id, owner string, side Side, qty string) Order {
	return Order{
		ID:       id,
		Pair:     "SOL-USDC",
		Side:     side,
		Kind:     Market,
		Quantity: d(qty),
		OwnerID:  owner,
	}
}

// Buy 10 @ 100 rests, sell 4 @ 95 crosses: one fill of 4 at the midpoint 97.5,
// bid left with 6.
func TestMidpointMatch(t *testing.T) {
	ob := NewOrderBook("SOL-USDC", Midpoint)

	if _, err := ob.Add(limit("b1", "alice", Buy, "100", "10")); err != nil {
		t.Fatalf("add bid: %v", err)
	}
	if _, err := ob.Add(limit("a1", "bob", Sell, "95", "4")); err != nil {
		t.Fatalf("add ask: %v", err)
	}

	fills := ob.Match()
	if len(fills) != 1 {
		t.Fatalf("fills = %d, want 1", len(fills))
	}
	f := fills[0]
	if !f.Quantity.Equal(d("4")) {
		t.Errorf("fill qty = %s, want 4", f.Quantity)
	}
	if !f.Price.Equal(d("97.5")) {
		t.Errorf("fill price = %s, want 97.5", f.Price)
	}
	if f.BidOrderID != "b1" || f.AskOrderID != "a1" {
		t.Errorf("fill orders = %s/%s, want b1/a1", f.BidOrderID, f.AskOrderID)
	}
	if f.TakerSide != Sell {
		t.Errorf("taker = %s, want SELL", f.TakerSide)
	}

	bid, ok := ob.Order("b1")
	if !ok {
		t.Fatal("bid b1 missing")
	}
	if !bid.Remaining().Equal(d("6")) {
		t.Errorf("bid remaining = %s, want 6", bid.Remaining())
	}
	if bid.Status != PartiallyFilled {
		t.Errorf("bid status = %s, want PARTIALLY_FILLED", bid.Status)
	}

	ask, _ := ob.Order("a1")
	if ask.Status != Filled {
		t.Errorf("ask status = %s, want FILLED", ask.Status)
	}
	if ob.Len() != 1 {
		t.Errorf("resting = %d, want 1", ob.Len())
	}
}

func TestMakerPriceRule(t *testing.T) {
	ob := NewOrderBook("SOL-USDC", MakerPrice)
	ob.Add(limit("b1", "alice", Buy, "100", "10"))
	ob.Add(limit("a1", "bob", Sell, "95", "4"))

	fills := ob.Match()
	require.Len(t, fills, 1)
	require.True(t, fills[0].Price.Equal(d("100")), "price = %s, want resting bid 100", fills[0].Price)
}

func TestFIFOWithinLevel(t *testing.T) {
	ob := NewOrderBook("SOL-USDC", Midpoint)
	ob.Add(limit("a1", "bob", Sell, "100", "3"))
	ob.Add(limit("a2", "carol", Sell, "100", "3"))
	ob.Add(limit("b1", "alice", Buy, "100", "4"))

	fills := ob.Match()
	require.Len(t, fills, 2)
	require.Equal(t, "a1", fills[0].AskOrderID)
	require.True(t, fills[0].Quantity.Equal(d("3")))
	require.Equal(t, "a2", fills[1].AskOrderID)
	require.True(t, fills[1].Quantity.Equal(d("1")))

	a2, _ := ob.Order("a2")
	require.True(t, a2.Remaining().Equal(d("2")))
}

func TestMatchWalksLevels(t *testing.T) {
	ob := NewOrderBook("SOL-USDC", Midpoint)
	ob.Add(limit("a1", "bob", Sell, "99", "2"))
	ob.Add(limit("a2", "bob", Sell, "101", "2"))
	ob.Add(limit("a3", "bob", Sell, "105", "2"))
	ob.Add(limit("b1", "alice", Buy, "102", "5"))

	fills := ob.Match()
	require.Len(t, fills, 2)
	// (102+99)/2 and (102+101)/2
	require.True(t, fills[0].Price.Equal(d("100.5")))
	require.True(t, fills[1].Price.Equal(d("101.5")))

	bid, ok := ob.BestBid()
	require.True(t, ok)
	require.True(t, bid.Equal(d("102")))
	ask, ok := ob.BestAsk()
	require.True(t, ok)
	require.True(t, ask.Equal(d("105")))
}

func TestMarketOrderSweepsAndDropsRemainder(t *testing.T) {
	ob := NewOrderBook("SOL-USDC", Midpoint)
	ob.Add(limit("a1", "bob", Sell, "10", "2"))
	ob.Add(limit("a2", "bob", Sell, "11", "3"))

	fills, err := ob.Add(market("m1", "alice", Buy, "10"))
	require.NoError(t, err)
	require.Len(t, fills, 2)
	require.True(t, fills[0].Price.Equal(d("10")))
	require.True(t, fills[1].Price.Equal(d("11")))
	require.Equal(t, Buy, fills[0].TakerSide)

	m, ok := ob.Order("m1")
	require.True(t, ok)
	require.Equal(t, Cancelled, m.Status)
	require.True(t, m.FilledQuantity.Equal(d("5")))

	// nothing queued on the bid side
	_, ok = ob.BestBid()
	require.False(t, ok)
	require.Equal(t, 0, ob.Len())
}

func TestMarketOrderFullyFilled(t *testing.T) {
	ob := NewOrderBook("SOL-USDC", Midpoint)
	ob.Add(limit("b1", "bob", Buy, "10", "5"))

	fills, err := ob.Add(market("m1", "alice", Sell, "2"))
	require.NoError(t, err)
	require.Len(t, fills, 1)

	m, _ := ob.Order("m1")
	require.Equal(t, Filled, m.Status)
	b1, _ := ob.Order("b1")
	require.True(t, b1.Remaining().Equal(d("3")))
}

func TestAddRejectsMalformed(t *testing.T) {
	tests := []struct {
		name  string
		order Order
	}{
		{"zero price", limit("x", "alice", Buy, "0", "1")},
		{"negative price", limit("x", "alice", Buy, "-1", "1")},
		{"zero qty", limit("x", "alice", Buy, "10", "0")},
		{"negative qty", limit("x", "alice", Sell, "10", "-2")},
		{"missing id", limit("", "alice", Buy, "10", "1")},
		{"missing owner", limit("x", "", Buy, "10", "1")},
		{"missing pair", func() Order { o := limit("x", "alice", Buy, "10", "1"); o.Pair = ""; return o }()},
		{"wrong pair", func() Order { o := limit("x", "alice", Buy, "10", "1"); o.Pair = "BTC-USDC"; return o }()},
		{"bad side", func() Order { o := limit("x", "alice", Buy, "10", "1"); o.Side = 0; return o }()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ob := NewOrderBook("SOL-USDC", Midpoint)
			_, err := ob.Add(tt.order)
			if !errors.Is(err, ErrInvalidOrder) {
				t.Fatalf("err = %v, want ErrInvalidOrder", err)
			}
			if ob.Len() != 0 {
				t.Errorf("book mutated: %d resting", ob.Len())
			}
		})
	}
}

func TestAddRejectsDuplicateID(t *testing.T) {
	ob := NewOrderBook("SOL-USDC", Midpoint)
	require.NoError(t, func() error { _, err := ob.Add(limit("b1", "alice", Buy, "10", "1")); return err }())
	_, err := ob.Add(limit("b1", "alice", Buy, "11", "1"))
	require.ErrorIs(t, err, ErrInvalidOrder)
}

func TestCancel(t *testing.T) {
	ob := NewOrderBook("SOL-USDC", Midpoint)
	ob.Add(limit("b1", "alice", Buy, "10", "5"))

	// foreign owner
	_, err := ob.Cancel("b1", "mallory")
	require.ErrorIs(t, err, ErrNotFound)
	require.Equal(t, 1, ob.Len())

	o, err := ob.Cancel("b1", "alice")
	require.NoError(t, err)
	require.Equal(t, Cancelled, o.Status)
	require.Equal(t, 0, ob.Len())
	_, ok := ob.BestBid()
	require.False(t, ok, "empty level should be removed")

	// second cancel is NotFound and changes nothing
	_, err = ob.Cancel("b1", "alice")
	require.ErrorIs(t, err, ErrNotFound)
	kept, _ := ob.Order("b1")
	require.Equal(t, Cancelled, kept.Status)

	_, err = ob.Cancel("nope", "alice")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestCancelFilledOrderNotFound(t *testing.T) {
	ob := NewOrderBook("SOL-USDC", Midpoint)
	ob.Add(limit("b1", "alice", Buy, "10", "1"))
	ob.Add(limit("a1", "bob", Sell, "10", "1"))
	ob.Match()

	before := ob.Snapshot(0)
	_, err := ob.Cancel("b1", "alice")
	require.ErrorIs(t, err, ErrNotFound)
	require.Equal(t, before.Bids, ob.Snapshot(0).Bids)
}

func TestSnapshotDepth(t *testing.T) {
	ob := NewOrderBook("SOL-USDC", Midpoint)
	for i := 0; i < 5; i++ {
		ob.Add(limit(fmt.Sprintf("b%d", i), "alice", Buy, fmt.Sprint(90+i), "1"))
		ob.Add(limit(fmt.Sprintf("a%d", i), "bob", Sell, fmt.Sprint(100+i), "2"))
	}
	ob.Add(limit("b-dup", "carol", Buy, "94", "3"))

	snap := ob.Snapshot(3)
	require.Len(t, snap.Bids, 3)
	require.Len(t, snap.Asks, 3)

	// bids descending, asks ascending
	require.True(t, snap.Bids[0].Price.Equal(d("94")))
	require.True(t, snap.Bids[0].Quantity.Equal(d("4")))
	require.Equal(t, 2, snap.Bids[0].Orders)
	require.True(t, snap.Bids[2].Price.Equal(d("92")))
	require.True(t, snap.Asks[0].Price.Equal(d("100")))
	require.True(t, snap.Asks[2].Price.Equal(d("102")))

	require.Len(t, ob.Snapshot(0).Bids, 5)
}

func TestHistoryBounded(t *testing.T) {
	ob := NewOrderBook("SOL-USDC", Midpoint)
	ob.SetHistorySize(2)
	for i := 0; i < 3; i++ {
		id := fmt.Sprintf("b%d", i)
		ob.Add(limit(id, "alice", Buy, "10", "1"))
		ob.Cancel(id, "alice")
	}
	_, ok := ob.Order("b0")
	require.False(t, ok, "oldest terminal order should be evicted")
	_, ok = ob.Order("b2")
	require.True(t, ok)
}

// Random flow: after every pass the book is uncrossed and every fill takes the
// same quantity from one bid and one ask.
func TestMatchInvariants(t *testing.T) {
	for _, rule := range []PricingRule{Midpoint, MakerPrice} {
		t.Run(rule.String(), func(t *testing.T) {
			rng := rand.New(rand.NewSource(42))
			ob := NewOrderBook("SOL-USDC", rule)
			filled := map[string]decimal.Decimal{}

			for i := 0; i < 500; i++ {
				side := Buy
				if rng.Intn(2) == 0 {
					side = Sell
				}
				o := limit(fmt.Sprintf("o%d", i), fmt.Sprintf("u%d", rng.Intn(5)), side,
					fmt.Sprint(95+rng.Intn(11)), fmt.Sprint(1+rng.Intn(9)))
				if _, err := ob.Add(o); err != nil {
					t.Fatalf("add: %v", err)
				}
				if rng.Intn(10) == 0 {
					ob.Cancel(fmt.Sprintf("o%d", rng.Intn(i+1)), o.OwnerID)
				}

				for _, f := range ob.Match() {
					if !f.Quantity.IsPositive() {
						t.Fatalf("non-positive fill qty %s", f.Quantity)
					}
					filled[f.BidOrderID] = filled[f.BidOrderID].Add(f.Quantity)
					filled[f.AskOrderID] = filled[f.AskOrderID].Add(f.Quantity)
				}

				bid, okBid := ob.BestBid()
				ask, okAsk := ob.BestAsk()
				if okBid && okAsk && !bid.LessThan(ask) {
					t.Fatalf("crossed book after pass: bid %s ask %s", bid, ask)
				}
			}

			bidSum, askSum := decimal.Zero, decimal.Zero
			for id, qty := range filled {
				o, ok := ob.Order(id)
				if !ok {
					continue
				}
				if !o.FilledQuantity.Equal(qty) {
					t.Errorf("order %s filled = %s, fills say %s", id, o.FilledQuantity, qty)
				}
				if o.FilledQuantity.GreaterThan(o.Quantity) {
					t.Errorf("order %s overfilled", id)
				}
				if o.Side == Buy {
					bidSum = bidSum.Add(qty)
				} else {
					askSum = askSum.Add(qty)
				}
			}
			if !bidSum.Equal(askSum) {
				t.Errorf("bid filled %s != ask filled %s", bidSum, askSum)
			}
		})
	}
}
