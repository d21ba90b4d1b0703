package market

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var ErrNoMarketData = errors.New("no market data")

// State is a point-in-time view of a pair. Volatility24h is optional and given in percent.
type State struct {
	Pair          string              `json:"pair"`
	Price         decimal.Decimal     `json:"price"`
	Liquidity     decimal.Decimal     `json:"liquidity"`
	Volume24h     decimal.Decimal     `json:"volume24h"`
	Volatility24h decimal.NullDecimal `json:"volatility24h"`
	IsActive      bool                `json:"isActive"`
	UpdatedAt     time.Time           `json:"updatedAt"`
}

// Volatility returns Volatility24h, or zero when the source did not provide one.
func (s State) Volatility() decimal.Decimal {
	if s.Volatility24h.Valid {
		return s.Volatility24h.Decimal
	}
	return decimal.Zero
}

// DataSource provides market state, polled or pushed.
type DataSource interface {
	GetMarketState(ctx context.Context, pair string) (State, error)
}

// PairInfo describes a pair as listed by the venue.
type PairInfo struct {
	Pair        string `json:"pair"`
	PoolAddress string `json:"poolAddress"`
}

// PairSource lists tradeable pairs.
type PairSource interface {
	ListPairs(ctx context.Context) ([]PairInfo, error)
}
