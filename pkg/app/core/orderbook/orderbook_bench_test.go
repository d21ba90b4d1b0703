package orderbook

import (
	"fmt"
	"testing"

	"github.com/shopspring/decimal"
)

func prefill(ob *OrderBook, levels, perLevel int) {
	for i := 0; i < levels; i++ {
		for j := 0; j < perLevel; j++ {
			ob.Add(Order{
				ID: fmt.Sprintf("bid-%d-%d", i, j), Pair: ob.Pair(), Side: Buy, Kind: Limit,
				Price: decimal.NewFromInt(int64(1000 - i)), Quantity: decimal.NewFromInt(100), OwnerID: "mm",
			})
			ob.Add(Order{
				ID: fmt.Sprintf("ask-%d-%d", i, j), Pair: ob.Pair(), Side: Sell, Kind: Limit,
				Price: decimal.NewFromInt(int64(1100 + i)), Quantity: decimal.NewFromInt(100), OwnerID: "mm",
			})
		}
	}
}

// BenchmarkAddAndMatch measures a crossing limit order plus the matching pass
func BenchmarkAddAndMatch(b *testing.B) {
	ob := NewOrderBook("SOL-USDC", Midpoint)
	prefill(ob, 100, 1)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		side, price := Buy, int64(1150)
		if i%2 == 0 {
			side, price = Sell, 950
		}
		ob.Add(Order{
			ID: fmt.Sprintf("bench-%d", i), Pair: "SOL-USDC", Side: side, Kind: Limit,
			Price: decimal.NewFromInt(price), Quantity: decimal.NewFromInt(1), OwnerID: "taker",
		})
		ob.Match()
	}
}

// BenchmarkCancel measures index lookup plus FIFO removal
func BenchmarkCancel(b *testing.B) {
	ob := NewOrderBook("SOL-USDC", Midpoint)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		id := fmt.Sprintf("order-%d", i)
		ob.Add(Order{
			ID: id, Pair: "SOL-USDC", Side: Buy, Kind: Limit,
			Price: decimal.NewFromInt(int64(1000 + i%1000)), Quantity: decimal.NewFromInt(100), OwnerID: "mm",
		})
		ob.Cancel(id, "mm")
	}
}

// BenchmarkSnapshot measures level aggregation used by the ops endpoint
func BenchmarkSnapshot(b *testing.B) {
	ob := NewOrderBook("SOL-USDC", Midpoint)
	prefill(ob, 500, 5)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = ob.Snapshot(20)
	}
}
