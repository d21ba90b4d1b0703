package risk

import (
	"time"

	"github.com/shopspring/decimal"
)

// Params are the unscaled per-market limits, applied when volatility is zero.
type Params struct {
	MaxOrderSize        decimal.Decimal // quote notional
	MaxPositionSize     decimal.Decimal // base units
	MaxLeverage         decimal.Decimal
	VolatilityThreshold decimal.Decimal // percent
	MinOrderInterval    time.Duration
	MaxDailyVolume      decimal.Decimal // quote notional
}

// Limits are the effective limits for one market at its current volatility.
type Limits struct {
	MaxOrderSize        decimal.Decimal
	MaxPositionSize     decimal.Decimal
	MaxLeverage         decimal.Decimal
	VolatilityThreshold decimal.Decimal
	MinOrderInterval    time.Duration
	MaxDailyVolume      decimal.Decimal
	Volatility          decimal.Decimal
	ComputedAt          time.Time
}

var (
	hundred = decimal.NewFromInt(100)
	one     = decimal.NewFromInt(1)
)

// ComputeLimits scales sizes by 1 / (1 + volatility/100). Leverage never drops
// below 1 and the order interval doubles once volatility passes the threshold.
func ComputeLimits(base Params, volatility decimal.Decimal, now time.Time) Limits {
	scale := one
	if volatility.IsPositive() {
		scale = one.Div(one.Add(volatility.Div(hundred)))
	}

	interval := base.MinOrderInterval
	if base.VolatilityThreshold.IsPositive() && volatility.GreaterThan(base.VolatilityThreshold) {
		interval *= 2
	}

	return Limits{
		MaxOrderSize:        base.MaxOrderSize.Mul(scale),
		MaxPositionSize:     base.MaxPositionSize.Mul(scale),
		MaxLeverage:         decimal.Max(base.MaxLeverage.Mul(scale), one),
		VolatilityThreshold: base.VolatilityThreshold,
		MinOrderInterval:    interval,
		MaxDailyVolume:      base.MaxDailyVolume.Mul(scale),
		Volatility:          volatility,
		ComputedAt:          now,
	}
}
