package risk

import (
	"errors"
	"fmt"
)

var ErrRiskViolation = errors.New("risk violation")

// Rule names the pre-trade check that rejected an order.
type Rule string

const (
	RuleMarketInactive  Rule = "market_inactive"
	RuleMarketData      Rule = "market_data"
	RuleOrderSize       Rule = "max_order_size"
	RulePositionSize    Rule = "max_position_size"
	RuleConcentration   Rule = "concentration"
	RuleBalance         Rule = "insufficient_balance"
	RuleVolatility      Rule = "volatility"
	RuleTradingDisabled Rule = "trading_disabled"
	RuleDailyTrades     Rule = "daily_trade_limit"
	RuleDailyVolume     Rule = "daily_volume_limit"
	RuleOrderInterval   Rule = "min_order_interval"
)

// Violation is returned by Gate.ValidateOrder. errors.Is(v, ErrRiskViolation) holds.
type Violation struct {
	Rule   Rule
	Market string
	Detail string
}

func (v *Violation) Error() string {
	return fmt.Sprintf("risk violation [%s] %s: %s", v.Rule, v.Market, v.Detail)
}

func (v *Violation) Unwrap() error { return ErrRiskViolation }

func violation(rule Rule, market, format string, args ...any) *Violation {
	return &Violation{Rule: rule, Market: market, Detail: fmt.Sprintf(format, args...)}
}

// RuleOf extracts the rule from a violation error, or "" if err is not one.
func RuleOf(err error) Rule {
	var v *Violation
	if errors.As(err, &v) {
		return v.Rule
	}
	return ""
}
