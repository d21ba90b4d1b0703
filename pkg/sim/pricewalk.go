package sim

import (
	"context"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alexlomt/tradingbot-sub000/pkg/app/core/market"
)

// PriceSink receives every new simulated price.
type PriceSink interface {
	Update(s market.State)
}

type PriceSinkFunc func(s market.State)

func (f PriceSinkFunc) Update(s market.State) { f(s) }

// PriceWalk moves each pair's price by a gaussian step every interval and
// publishes the resulting market state to its sinks.
type PriceWalk struct {
	mu        sync.Mutex
	prices    map[string]decimal.Decimal
	rng       *rand.Rand
	stepPct   float64
	liquidity decimal.Decimal
	sinks     []PriceSink
}

// NewPriceWalk starts from initial. stepPct is the standard deviation of one
// step in percent.
func NewPriceWalk(initial map[string]decimal.Decimal, stepPct float64, seed int64, sinks ...PriceSink) *PriceWalk {
	prices := make(map[string]decimal.Decimal, len(initial))
	for k, v := range initial {
		prices[k] = v
	}
	return &PriceWalk{
		prices:    prices,
		rng:       rand.New(rand.NewSource(seed)),
		stepPct:   stepPct,
		liquidity: decimal.NewFromInt(1_000_000),
		sinks:     sinks,
	}
}

// Prices returns a copy of the current prices.
func (w *PriceWalk) Prices() map[string]decimal.Decimal {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make(map[string]decimal.Decimal, len(w.prices))
	for k, v := range w.prices {
		out[k] = v
	}
	return out
}

// Step advances every pair once and publishes the new states in pair order.
func (w *PriceWalk) Step(now time.Time) []market.State {
	w.mu.Lock()
	pairs := make([]string, 0, len(w.prices))
	for p := range w.prices {
		pairs = append(pairs, p)
	}
	sort.Strings(pairs)

	states := make([]market.State, 0, len(pairs))
	for _, pair := range pairs {
		move := decimal.NewFromFloat(1 + w.rng.NormFloat64()*w.stepPct/100)
		next := w.prices[pair].Mul(move).Round(6)
		if !next.IsPositive() {
			next = w.prices[pair]
		}
		w.prices[pair] = next
		states = append(states, market.State{
			Pair:      pair,
			Price:     next,
			Liquidity: w.liquidity,
			IsActive:  true,
			UpdatedAt: now,
		})
	}
	w.mu.Unlock()

	for _, s := range states {
		for _, sink := range w.sinks {
			sink.Update(s)
		}
	}
	return states
}

// Run steps every interval until ctx is cancelled.
func (w *PriceWalk) Run(ctx context.Context, interval time.Duration) {
	w.Step(time.Now())
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			w.Step(now)
		}
	}
}
