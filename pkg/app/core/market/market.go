package market

import (
	"fmt"
	"strings"
	"time"
)

// Status defines the trading status of a market
type Status int8

const (
	Active   Status = iota // Trading enabled
	Paused                 // Trading halted (emergency)
	Delisted               // Pool gone or removed by operator
)

func (s Status) String() string {
	switch s {
	case Active:
		return "Active"
	case Paused:
		return "Paused"
	case Delisted:
		return "Delisted"
	default:
		return "Unknown"
	}
}

// Market is one tradeable pair on the venue (e.g., SOL-USDC)
type Market struct {
	Pair       string // "SOL-USDC"
	BaseToken  string // "SOL"
	QuoteToken string // "USDC"
	// PoolAddress identifies the on-chain pool the pair trades against
	PoolAddress string
	Status      Status
	ListedAt    time.Time
}

// NewMarket builds an active market from a "BASE-QUOTE" pair name.
func NewMarket(pair, pool string) (*Market, error) {
	base, quote, ok := strings.Cut(pair, "-")
	if !ok || base == "" || quote == "" {
		return nil, fmt.Errorf("pair %q must be BASE-QUOTE", pair)
	}
	return &Market{
		Pair:        pair,
		BaseToken:   base,
		QuoteToken:  quote,
		PoolAddress: pool,
		Status:      Active,
		ListedAt:    time.Now(),
	}, nil
}

func (m *Market) IsTradeable() bool { return m.Status == Active }
