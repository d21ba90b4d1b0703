package risk

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/alexlomt/tradingbot-sub000/pkg/app/core/position"
)

type Level int8

const (
	Low Level = iota
	Medium
	High
	Critical
)

func (l Level) String() string {
	switch l {
	case Low:
		return "LOW"
	case Medium:
		return "MEDIUM"
	case High:
		return "HIGH"
	case Critical:
		return "CRITICAL"
	default:
		return "UNKNOWN"
	}
}

// Thresholds are exposure/collateral ratios at which each level starts.
type Thresholds struct {
	Medium   decimal.Decimal
	High     decimal.Decimal
	Critical decimal.Decimal
}

// Classify maps exposure / collateral onto a Level. Any exposure without
// collateral is Critical.
func Classify(exposure, collateral decimal.Decimal, th Thresholds) Level {
	if !collateral.IsPositive() {
		if exposure.IsPositive() {
			return Critical
		}
		return Low
	}
	ratio := exposure.Div(collateral)
	switch {
	case ratio.GreaterThanOrEqual(th.Critical):
		return Critical
	case ratio.GreaterThanOrEqual(th.High):
		return High
	case ratio.GreaterThanOrEqual(th.Medium):
		return Medium
	default:
		return Low
	}
}

// TotalExposure sums |size| × mark over positions; a missing mark falls back to entry.
func TotalExposure(positions []position.Position, marks map[string]decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, p := range positions {
		total = total.Add(p.Notional(markFor(p, marks)))
	}
	return total
}

func markFor(p position.Position, marks map[string]decimal.Decimal) decimal.Decimal {
	if m, ok := marks[p.Market]; ok && m.IsPositive() {
		return m
	}
	return p.AvgEntryPrice
}

// DeleveragePlan returns the positions to close, largest |size| first, stopping
// as soon as the remaining exposure classifies below Critical. An empty plan
// means no action is needed.
func DeleveragePlan(positions []position.Position, marks map[string]decimal.Decimal, collateral decimal.Decimal, th Thresholds) []position.Position {
	open := make([]position.Position, 0, len(positions))
	for _, p := range positions {
		if !p.IsFlat() {
			open = append(open, p)
		}
	}
	sort.SliceStable(open, func(i, j int) bool {
		if c := open[i].Size.Abs().Cmp(open[j].Size.Abs()); c != 0 {
			return c > 0
		}
		return open[i].Market < open[j].Market
	})

	exposure := TotalExposure(open, marks)
	var plan []position.Position
	for _, p := range open {
		if Classify(exposure, collateral, th) < Critical {
			break
		}
		plan = append(plan, p)
		exposure = exposure.Sub(p.Notional(markFor(p, marks)))
	}
	return plan
}
