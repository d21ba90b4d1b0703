package market

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/shopspring/decimal"
)

// DefaultWindow is how many price samples feed the fallback volatility estimate.
const DefaultWindow = 288

// Cache holds the latest State per pair and implements DataSource.
// When a pushed state carries no volatility, it is estimated from recent prices.
type Cache struct {
	mu     sync.RWMutex
	states map[string]State
	prices map[string][]float64
	window int
}

func NewCache(window int) *Cache {
	if window < 2 {
		window = DefaultWindow
	}
	return &Cache{
		states: make(map[string]State),
		prices: make(map[string][]float64),
		window: window,
	}
}

// Update stores s as the latest state for s.Pair.
func (c *Cache) Update(s State) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.states[s.Pair] = s
	if s.Price.IsPositive() {
		p := c.prices[s.Pair]
		p = append(p, s.Price.InexactFloat64())
		if len(p) > c.window {
			p = p[len(p)-c.window:]
		}
		c.prices[s.Pair] = p
	}
}

func (c *Cache) GetMarketState(_ context.Context, pair string) (State, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	s, ok := c.states[pair]
	if !ok {
		return State{}, fmt.Errorf("%w: %s", ErrNoMarketData, pair)
	}
	if !s.Volatility24h.Valid {
		if v, ok := realizedVolatility(c.prices[pair]); ok {
			s.Volatility24h = decimal.NewNullDecimal(v)
		}
	}
	return s, nil
}

// Pairs returns the pairs with cached state, sorted.
func (c *Cache) Pairs() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	pairs := make([]string, 0, len(c.states))
	for p := range c.states {
		pairs = append(pairs, p)
	}
	sort.Strings(pairs)
	return pairs
}

// realizedVolatility is the sample stddev of simple returns, in percent.
func realizedVolatility(prices []float64) (decimal.Decimal, bool) {
	if len(prices) < 3 {
		return decimal.Zero, false
	}
	returns := make([]float64, 0, len(prices)-1)
	for i := 1; i < len(prices); i++ {
		returns = append(returns, (prices[i]-prices[i-1])/prices[i-1])
	}

	var mean float64
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))

	var variance float64
	for _, r := range returns {
		variance += (r - mean) * (r - mean)
	}
	variance /= float64(len(returns) - 1)

	return decimal.NewFromFloat(math.Sqrt(variance) * 100).Round(4), true
}
