package trading

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alexlomt/tradingbot-sub000/pkg/app/core/execution"
	"github.com/alexlomt/tradingbot-sub000/pkg/app/core/risk"
)

// ActivePosition is a position the engine opened and is monitoring.
type ActivePosition struct {
	ID         string          `json:"id"`
	Pair       string          `json:"pair"`
	Owner      string          `json:"owner"`
	Amount     decimal.Decimal `json:"amount"` // base units held
	EntryPrice decimal.Decimal `json:"entryPrice"`
	Collateral decimal.Decimal `json:"collateral"` // quote spent
	Signature  string          `json:"signature"`
	Tier       execution.Tier  `json:"tier"`
	OpenedAt   time.Time       `json:"openedAt"`
}

// TradeOptions tune one open or close. Zero values fall back to config defaults.
type TradeOptions struct {
	// Amount is quote to spend on open. Ignored on close, which sells everything held.
	Amount      decimal.Decimal
	SlippageBps int64
	Reason      risk.CloseReason
	Metadata    map[string]string
}

// Store persists what the engine needs to resume after a restart.
type Store interface {
	LoadActive(ctx context.Context) ([]ActivePosition, error)
	SaveActive(ctx context.Context, p ActivePosition) error
	DeleteActive(ctx context.Context, id string) error
	LoadDailyStats(ctx context.Context) (map[string]risk.DailyStats, error)
	SaveDailyStats(ctx context.Context, owner string, s risk.DailyStats) error
}
