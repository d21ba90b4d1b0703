package position

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/alexlomt/tradingbot-sub000/pkg/app/core/orderbook"
)

// Position is the signed exposure of one owner in one market.
// Size > 0 = long, Size < 0 = short, 0 = flat (AvgEntryPrice is then 0).
type Position struct {
	OwnerID       string          `json:"ownerId"`
	Market        string          `json:"market"`
	Size          decimal.Decimal `json:"size"`
	AvgEntryPrice decimal.Decimal `json:"avgEntryPrice"`
	RealizedPnL   decimal.Decimal `json:"realizedPnl"`
	// UnrealizedPnL is only set on snapshots marked against a price; never persisted as fill-time state.
	UnrealizedPnL  decimal.Decimal `json:"-"`
	LastUpdateTime time.Time       `json:"lastUpdateTime"`
}

// Trade is a fill as seen by one side.
type Trade struct {
	OwnerID   string
	Market    string
	Side      orderbook.Side
	Quantity  decimal.Decimal
	Price     decimal.Decimal
	Timestamp time.Time
}

// SignedQuantity is +qty for buys and -qty for sells.
func (t Trade) SignedQuantity() decimal.Decimal {
	if t.Side == orderbook.Sell {
		return t.Quantity.Neg()
	}
	return t.Quantity
}

func (p Position) IsFlat() bool  { return p.Size.IsZero() }
func (p Position) IsLong() bool  { return p.Size.IsPositive() }
func (p Position) IsShort() bool { return p.Size.IsNegative() }

// Notional returns |size| × price.
func (p Position) Notional(price decimal.Decimal) decimal.Decimal {
	return p.Size.Abs().Mul(price)
}

// UnrealizedAt = (mark - entry) × size; the signed size handles shorts.
func (p Position) UnrealizedAt(mark decimal.Decimal) decimal.Decimal {
	if p.IsFlat() {
		return decimal.Zero
	}
	return mark.Sub(p.AvgEntryPrice).Mul(p.Size)
}

// ReturnPct is the unrealized return against entry, in percent.
func (p Position) ReturnPct(mark decimal.Decimal) decimal.Decimal {
	if p.IsFlat() || !p.AvgEntryPrice.IsPositive() {
		return decimal.Zero
	}
	move := mark.Sub(p.AvgEntryPrice).Div(p.AvgEntryPrice).Mul(decimal.NewFromInt(100))
	if p.IsShort() {
		return move.Neg()
	}
	return move
}

// LiquidationPrice is entry ∓ maintenanceMargin/|size| with
// maintenanceMargin = collateral × thresholdFraction. Longs liquidate below
// entry, shorts above. Returns false for a flat position.
func (p Position) LiquidationPrice(collateral, thresholdFraction decimal.Decimal) (decimal.Decimal, bool) {
	if p.IsFlat() {
		return decimal.Zero, false
	}
	buffer := collateral.Mul(thresholdFraction).Div(p.Size.Abs())
	if p.IsLong() {
		return decimal.Max(p.AvgEntryPrice.Sub(buffer), decimal.Zero), true
	}
	return p.AvgEntryPrice.Add(buffer), true
}

// apply folds one signed fill into p and returns the realized component.
func (p *Position) apply(qty, price decimal.Decimal, at time.Time) decimal.Decimal {
	oldSize := p.Size
	newSize := oldSize.Add(qty)
	realized := decimal.Zero

	switch {
	case oldSize.IsZero() || oldSize.Sign() == qty.Sign():
		// Same direction: size-weighted average entry
		p.AvgEntryPrice = p.AvgEntryPrice.Mul(oldSize.Abs()).
			Add(price.Mul(qty.Abs())).
			Div(newSize.Abs())

	default:
		// Opposite direction: realize the closed portion
		closed := decimal.Min(oldSize.Abs(), qty.Abs())
		realized = price.Sub(p.AvgEntryPrice).Mul(closed)
		if oldSize.IsNegative() {
			realized = realized.Neg()
		}
		p.RealizedPnL = p.RealizedPnL.Add(realized)

		switch {
		case newSize.IsZero():
			p.AvgEntryPrice = decimal.Zero
		case newSize.Sign() != oldSize.Sign():
			// Flipped: the excess opens at the fill price
			p.AvgEntryPrice = price
		}
	}

	p.Size = newSize
	p.LastUpdateTime = at
	return realized
}
