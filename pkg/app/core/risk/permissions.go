package risk

import (
	"context"
	"math"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/alexlomt/tradingbot-sub000/pkg/util"
)

// TierPolicy is what one subscription tier entitles a user to.
// DailyTrades < 0 means unlimited, 0 disables trading.
type TierPolicy struct {
	DailyTrades       int
	MaxPositionSize   decimal.Decimal
	PriorityExecution bool
}

var DefaultTierPolicies = map[string]TierPolicy{
	"free":       {DailyTrades: 10, MaxPositionSize: decimal.NewFromInt(100)},
	"basic":      {DailyTrades: 50, MaxPositionSize: decimal.NewFromInt(500)},
	"pro":        {DailyTrades: 200, MaxPositionSize: decimal.NewFromInt(2000), PriorityExecution: true},
	"enterprise": {DailyTrades: -1, PriorityExecution: true},
}

// StaticPermissions derives permissions from a fixed user → tier table and
// the user's trades today.
type StaticPermissions struct {
	Policies    map[string]TierPolicy
	Users       map[string]string
	DefaultTier string
	Stats       StatsReader
	Clock       util.Clock
}

func (s *StaticPermissions) GetPermissions(_ context.Context, userID string) (Permissions, error) {
	tier := strings.ToLower(s.Users[userID])
	if tier == "" {
		tier = strings.ToLower(s.DefaultTier)
	}
	policies := s.Policies
	if policies == nil {
		policies = DefaultTierPolicies
	}
	pol, ok := policies[tier]
	if !ok {
		tier = "free"
		pol = policies[tier]
	}

	remaining := math.MaxInt32
	if pol.DailyTrades >= 0 {
		used := 0
		if s.Stats != nil {
			clock := s.Clock
			if clock == nil {
				clock = util.RealClock{}
			}
			used = s.Stats.DailyStats(userID).AsOf(clock.Now()).TradeCount
		}
		remaining = max(pol.DailyTrades-used, 0)
	}

	return Permissions{
		CanTrade:             pol.DailyTrades != 0,
		RemainingDailyTrades: remaining,
		MaxPositionSize:      pol.MaxPositionSize,
		PriorityExecution:    pol.PriorityExecution,
		Tier:                 tier,
	}, nil
}
