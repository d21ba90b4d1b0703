package risk

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/alexlomt/tradingbot-sub000/pkg/app/core/market"
	"github.com/alexlomt/tradingbot-sub000/pkg/app/core/orderbook"
	"github.com/alexlomt/tradingbot-sub000/pkg/app/core/position"
	"github.com/alexlomt/tradingbot-sub000/pkg/util"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type fakeBalances map[string]decimal.Decimal

func (f fakeBalances) GetBalance(_ context.Context, owner, token string) (decimal.Decimal, error) {
	return f[owner+"/"+token], nil
}

type fakePerms map[string]Permissions

func (f fakePerms) GetPermissions(_ context.Context, user string) (Permissions, error) {
	p, ok := f[user]
	if !ok {
		return Permissions{}, errors.New("unknown user")
	}
	return p, nil
}

type fakePositions map[string]position.Position

func (f fakePositions) Get(owner, mkt string) (position.Position, bool) {
	p, ok := f[owner+"/"+mkt]
	return p, ok
}

func (f fakePositions) ByOwner(owner string) []position.Position {
	var out []position.Position
	for _, p := range f {
		if p.OwnerID == owner {
			out = append(out, p)
		}
	}
	return out
}

type fakeStats map[string]DailyStats

func (f fakeStats) DailyStats(owner string) DailyStats { return f[owner] }

var t0 = time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	gate      *Gate
	cache     *market.Cache
	balances  fakeBalances
	perms     fakePerms
	positions fakePositions
	stats     fakeStats
	clock     *util.StepClock
}

func newFixture(cfg Config) *fixture {
	reg := market.NewRegistry()
	m, _ := market.NewMarket("SOL-USDC", "pool")
	reg.Register(m)

	f := &fixture{
		cache:     market.NewCache(0),
		balances:  fakeBalances{"alice/USDC": d("100000"), "alice/SOL": d("1000")},
		perms:     fakePerms{"alice": {CanTrade: true, RemainingDailyTrades: 10}},
		positions: fakePositions{},
		stats:     fakeStats{},
		clock:     util.NewStepClock(t0),
	}
	f.cache.Update(market.State{
		Pair: "SOL-USDC", Price: d("10"), IsActive: true,
		Volatility24h: decimal.NewNullDecimal(decimal.Zero),
	})
	f.gate = NewGate(cfg, Deps{
		Markets:     reg,
		Data:        f.cache,
		Balances:    f.balances,
		Permissions: f.perms,
		Positions:   f.positions,
		Stats:       f.stats,
		Clock:       f.clock,
	}, nil)
	return f
}

func baseConfig() Config {
	return Config{
		Base: Params{
			MaxOrderSize:        d("100"),
			MaxPositionSize:     d("50"),
			VolatilityThreshold: d("25"),
			MaxDailyVolume:      d("1000"),
		},
		MaxDailyTrades: 5,
	}
}

func order(side orderbook.Side, price, qty string) orderbook.Order {
	return orderbook.Order{
		ID: "o1", Pair: "SOL-USDC", Side: side, Kind: orderbook.Limit,
		Price: d(price), Quantity: d(qty), OwnerID: "alice",
	}
}

// maxOrderSize 100, notional 101: rejected with the order-size rule
func TestValidateOrderNotionalLimit(t *testing.T) {
	f := newFixture(baseConfig())

	err := f.gate.ValidateOrder(context.Background(), order(orderbook.Buy, "10.1", "10"))
	if !errors.Is(err, ErrRiskViolation) {
		t.Fatalf("err = %v, want ErrRiskViolation", err)
	}
	if RuleOf(err) != RuleOrderSize {
		t.Errorf("rule = %s, want %s", RuleOf(err), RuleOrderSize)
	}

	require.NoError(t, f.gate.ValidateOrder(context.Background(), order(orderbook.Buy, "10", "10")))
}

func TestValidateOrderRules(t *testing.T) {
	tests := []struct {
		name  string
		setup func(f *fixture)
		order orderbook.Order
		want  Rule
	}{
		{
			name:  "unknown market",
			order: func() orderbook.Order { o := order(orderbook.Buy, "10", "1"); o.Pair = "JUP-USDC"; return o }(),
			want:  RuleMarketInactive,
		},
		{
			name: "inactive pool",
			setup: func(f *fixture) {
				f.cache.Update(market.State{Pair: "SOL-USDC", Price: d("10"), IsActive: false})
			},
			order: order(orderbook.Buy, "10", "1"),
			want:  RuleMarketInactive,
		},
		{
			name: "position size",
			setup: func(f *fixture) {
				f.positions["alice/SOL-USDC"] = position.Position{OwnerID: "alice", Market: "SOL-USDC", Size: d("48"), AvgEntryPrice: d("10")}
			},
			order: order(orderbook.Buy, "10", "5"),
			want:  RulePositionSize,
		},
		{
			name: "subscription position cap",
			setup: func(f *fixture) {
				f.perms["alice"] = Permissions{CanTrade: true, RemainingDailyTrades: 3, MaxPositionSize: d("2")}
			},
			order: order(orderbook.Buy, "10", "3"),
			want:  RulePositionSize,
		},
		{
			name: "quote balance",
			setup: func(f *fixture) {
				f.balances["alice/USDC"] = d("50")
			},
			order: order(orderbook.Buy, "10", "6"),
			want:  RuleBalance,
		},
		{
			name: "base balance on sell",
			setup: func(f *fixture) {
				f.balances["alice/SOL"] = d("1")
			},
			order: order(orderbook.Sell, "10", "2"),
			want:  RuleBalance,
		},
		{
			name: "volatility",
			setup: func(f *fixture) {
				f.cache.Update(market.State{Pair: "SOL-USDC", Price: d("10"), IsActive: true,
					Volatility24h: decimal.NewNullDecimal(d("30"))})
			},
			order: order(orderbook.Buy, "10", "1"),
			want:  RuleVolatility,
		},
		{
			name: "trading disabled",
			setup: func(f *fixture) {
				f.perms["alice"] = Permissions{CanTrade: false, RemainingDailyTrades: 3}
			},
			order: order(orderbook.Buy, "10", "1"),
			want:  RuleTradingDisabled,
		},
		{
			name: "no remaining trades",
			setup: func(f *fixture) {
				f.perms["alice"] = Permissions{CanTrade: true, RemainingDailyTrades: 0}
			},
			order: order(orderbook.Buy, "10", "1"),
			want:  RuleDailyTrades,
		},
		{
			name: "daily trade count",
			setup: func(f *fixture) {
				f.stats["alice"] = DailyStats{TradeCount: 5, LastResetDate: "2025-01-01"}
			},
			order: order(orderbook.Buy, "10", "1"),
			want:  RuleDailyTrades,
		},
		{
			name: "daily volume",
			setup: func(f *fixture) {
				f.stats["alice"] = DailyStats{TradeCount: 1, Volume: d("950"), LastResetDate: "2025-01-01"}
			},
			order: order(orderbook.Buy, "10", "6"),
			want:  RuleDailyVolume,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(baseConfig())
			if tt.setup != nil {
				tt.setup(f)
			}
			err := f.gate.ValidateOrder(context.Background(), tt.order)
			if got := RuleOf(err); got != tt.want {
				t.Errorf("rule = %q (err %v), want %q", got, err, tt.want)
			}
		})
	}
}

func TestValidateOrderYesterdayStatsIgnored(t *testing.T) {
	f := newFixture(baseConfig())
	f.stats["alice"] = DailyStats{TradeCount: 5, Volume: d("1000"), LastResetDate: "2024-12-31"}
	require.NoError(t, f.gate.ValidateOrder(context.Background(), order(orderbook.Buy, "10", "1")))
}

func TestValidateOrderReducingAlwaysAllowed(t *testing.T) {
	f := newFixture(baseConfig())
	f.positions["alice/SOL-USDC"] = position.Position{OwnerID: "alice", Market: "SOL-USDC", Size: d("60"), AvgEntryPrice: d("10")}
	require.NoError(t, f.gate.ValidateOrder(context.Background(), order(orderbook.Sell, "10", "5")))
}

func TestValidateOrderConcentration(t *testing.T) {
	cfg := baseConfig()
	cfg.MaxConcentrationPct = d("50")
	f := newFixture(cfg)
	f.balances["alice/USDC"] = d("100")

	// 6 × 10 = 60 of a 100 portfolio
	err := f.gate.ValidateOrder(context.Background(), order(orderbook.Buy, "10", "6"))
	require.Equal(t, RuleConcentration, RuleOf(err))

	f.gate = NewGate(cfg, f.gate.deps, nil)
	require.NoError(t, f.gate.ValidateOrder(context.Background(), order(orderbook.Buy, "10", "4")))
}

func TestValidateOrderMinInterval(t *testing.T) {
	cfg := baseConfig()
	cfg.Base.MinOrderInterval = time.Second
	f := newFixture(cfg)
	ctx := context.Background()

	require.NoError(t, f.gate.ValidateOrder(ctx, order(orderbook.Buy, "10", "1")))
	require.Equal(t, RuleOrderInterval, RuleOf(f.gate.ValidateOrder(ctx, order(orderbook.Buy, "10", "1"))))

	f.clock.Advance(time.Second)
	require.NoError(t, f.gate.ValidateOrder(ctx, order(orderbook.Buy, "10", "1")))
}

func TestValidateOrderMalformed(t *testing.T) {
	f := newFixture(baseConfig())
	err := f.gate.ValidateOrder(context.Background(), order(orderbook.Buy, "10", "0"))
	require.ErrorIs(t, err, orderbook.ErrInvalidOrder)
	require.False(t, errors.Is(err, ErrRiskViolation))
}

func TestMarketOrderUsesReferencePrice(t *testing.T) {
	f := newFixture(baseConfig())
	o := order(orderbook.Buy, "0", "11")
	o.Kind = orderbook.Market
	// 11 × 10 = 110 > 100
	require.Equal(t, RuleOrderSize, RuleOf(f.gate.ValidateOrder(context.Background(), o)))
}

func TestComputeLimitsScalesWithVolatility(t *testing.T) {
	base := Params{
		MaxOrderSize: d("1000"), MaxPositionSize: d("100"), MaxLeverage: d("5"),
		VolatilityThreshold: d("20"), MinOrderInterval: time.Second, MaxDailyVolume: d("5000"),
	}

	calm := ComputeLimits(base, decimal.Zero, t0)
	require.True(t, calm.MaxOrderSize.Equal(d("1000")))
	require.Equal(t, time.Second, calm.MinOrderInterval)

	// 1 / (1 + 0.25) = 0.8
	wild := ComputeLimits(base, d("25"), t0)
	require.True(t, wild.MaxOrderSize.Equal(d("800")), "max order = %s", wild.MaxOrderSize)
	require.True(t, wild.MaxPositionSize.Equal(d("80")))
	require.True(t, wild.MaxLeverage.Equal(d("4")))
	require.Equal(t, 2*time.Second, wild.MinOrderInterval)

	extreme := ComputeLimits(base, d("900"), t0)
	require.True(t, extreme.MaxLeverage.Equal(d("1")))
}

func TestRefreshLimits(t *testing.T) {
	f := newFixture(baseConfig())
	f.cache.Update(market.State{Pair: "SOL-USDC", Price: d("10"), IsActive: true,
		Volatility24h: decimal.NewNullDecimal(d("100"))})

	f.gate.RefreshLimits(context.Background(), []string{"SOL-USDC", "MISSING-USDC"})
	require.True(t, f.gate.Limits("SOL-USDC").MaxOrderSize.Equal(d("50")))
	require.True(t, f.gate.Limits("MISSING-USDC").MaxOrderSize.Equal(d("100")))
}

func TestValidatePositionPriority(t *testing.T) {
	cfg := Config{
		TakeProfitPct:        d("20"),
		StopLossPct:          d("10"),
		MaxHoldDuration:      time.Hour,
		LiquidationThreshold: d("0.5"),
		EmergencyVolatility:  d("40"),
	}
	long := position.Position{OwnerID: "alice", Market: "SOL-USDC", Size: d("10"), AvgEntryPrice: d("100")}
	state := func(price, vol string) market.State {
		return market.State{Pair: "SOL-USDC", Price: d(price), IsActive: true,
			Volatility24h: decimal.NewNullDecimal(d(vol))}
	}

	tests := []struct {
		name      string
		exposure  Exposure
		state     market.State
		emergency bool
		want      CloseReason
	}{
		{"hold", Exposure{Position: long, OpenedAt: t0}, state("105", "0"), false, ""},
		{"take profit beats everything", Exposure{Position: long, OpenedAt: t0.Add(-2 * time.Hour)}, state("125", "90"), true, ReasonTakeProfit},
		{"stop loss beats hold time", Exposure{Position: long, OpenedAt: t0.Add(-2 * time.Hour)}, state("85", "0"), false, ReasonStopLoss},
		{"max hold", Exposure{Position: long, OpenedAt: t0.Add(-time.Hour)}, state("100", "0"), false, ReasonMaxHold},
		// loss 10 × 5 = 50 on collateral 100
		{"liquidation", Exposure{Position: long, OpenedAt: t0, Collateral: d("100")}, state("95", "0"), false, ReasonLiquidation},
		{"volatility spike", Exposure{Position: long, OpenedAt: t0}, state("100", "40"), true, ReasonVolatilitySpike},
		{"emergency", Exposure{Position: long, OpenedAt: t0}, state("100", "0"), true, ReasonEmergency},
		{"flat never closes", Exposure{Position: position.Position{}}, state("1", "99"), true, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := NewGate(cfg, Deps{Clock: util.NewStepClock(t0)}, nil)
			g.SetEmergencyClose(tt.emergency)
			got := g.ValidatePosition(tt.exposure, tt.state)
			if got.Reason != tt.want || got.Close != (tt.want != "") {
				t.Errorf("decision = %+v, want reason %q", got, tt.want)
			}
		})
	}
}

func TestValidatePositionShortStopLoss(t *testing.T) {
	g := NewGate(Config{StopLossPct: d("10")}, Deps{}, nil)
	short := position.Position{Size: d("-1"), AvgEntryPrice: d("100")}
	got := g.ValidatePosition(Exposure{Position: short}, market.State{Price: d("111")})
	require.Equal(t, ReasonStopLoss, got.Reason)
}

func TestClassify(t *testing.T) {
	th := Thresholds{Medium: d("2"), High: d("3"), Critical: d("5")}
	tests := []struct {
		exposure, collateral string
		want                 Level
	}{
		{"100", "100", Low},
		{"200", "100", Medium},
		{"399", "100", High},
		{"500", "100", Critical},
		{"1", "0", Critical},
		{"0", "0", Low},
	}
	for _, tt := range tests {
		if got := Classify(d(tt.exposure), d(tt.collateral), th); got != tt.want {
			t.Errorf("Classify(%s, %s) = %s, want %s", tt.exposure, tt.collateral, got, tt.want)
		}
	}
}

func TestDeleveragePlan(t *testing.T) {
	th := Thresholds{Medium: d("2"), High: d("3"), Critical: d("5")}
	positions := []position.Position{
		{Market: "A-USDC", Size: d("10"), AvgEntryPrice: d("10")},  // 100
		{Market: "B-USDC", Size: d("-40"), AvgEntryPrice: d("10")}, // 400
		{Market: "C-USDC", Size: d("20"), AvgEntryPrice: d("10")},  // 200
		{Market: "D-USDC", Size: d("0"), AvgEntryPrice: d("0")},
	}
	marks := map[string]decimal.Decimal{"B-USDC": d("10")}

	// exposure 700 / 100 = 7 Critical; dropping B leaves 300 = 3 High
	plan := DeleveragePlan(positions, marks, d("100"), th)
	require.Len(t, plan, 1)
	require.Equal(t, "B-USDC", plan[0].Market)

	// 700 / 50 = 14; after B 6, after C 2
	plan = DeleveragePlan(positions, marks, d("50"), th)
	require.Len(t, plan, 2)
	require.Equal(t, "C-USDC", plan[1].Market)

	require.Empty(t, DeleveragePlan(positions, marks, d("1000"), th))
}

// Stats created 2025-01-01T23:59Z, fill at 2025-01-02T00:01Z: reset, count restarts at 1.
func TestDailyStatsUTCReset(t *testing.T) {
	created := time.Date(2025, 1, 1, 23, 59, 0, 0, time.UTC)
	s := NewDailyStats(created)
	s.Record(created, d("50"), d("5"))
	s.Record(created, d("50"), d("-1"))
	require.Equal(t, 2, s.TradeCount)

	s.Record(time.Date(2025, 1, 2, 0, 1, 0, 0, time.UTC), d("10"), d("1"))
	if s.TradeCount != 1 {
		t.Errorf("trade count = %d, want 1", s.TradeCount)
	}
	if !s.Volume.Equal(d("10")) || !s.PnL.Equal(d("1")) {
		t.Errorf("volume/pnl = %s/%s, want 10/1", s.Volume, s.PnL)
	}
	require.Equal(t, "2025-01-02", s.LastResetDate)
}

func TestDailyStatsNotRolling(t *testing.T) {
	// 23h apart on the same UTC date: no reset
	morning := time.Date(2025, 3, 1, 0, 30, 0, 0, time.UTC)
	s := NewDailyStats(morning)
	s.Record(morning, d("1"), decimal.Zero)
	s.Record(morning.Add(23*time.Hour), d("1"), decimal.Zero)
	require.Equal(t, 2, s.TradeCount)

	// local offsets are normalised to UTC
	tokyo := time.FixedZone("JST", 9*3600)
	require.False(t, s.ResetIfNewDay(time.Date(2025, 3, 2, 8, 0, 0, 0, tokyo)))
	require.Equal(t, 0, s.AsOf(time.Date(2025, 3, 2, 9, 0, 0, 0, tokyo)).TradeCount)
	require.Equal(t, 2, s.TradeCount)
}

func TestStaticPermissions(t *testing.T) {
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	stats := fakeStats{
		"alice": {TradeCount: 8, LastResetDate: "2024-05-01"},
		"bob":   {TradeCount: 8, LastResetDate: "2024-04-30"},
	}
	sp := &StaticPermissions{
		Users:       map[string]string{"carol": "PRO", "dave": "enterprise", "erin": "suspended"},
		DefaultTier: "free",
		Stats:       stats,
		Clock:       util.NewStepClock(now),
		Policies: map[string]TierPolicy{
			"free":       DefaultTierPolicies["free"],
			"pro":        DefaultTierPolicies["pro"],
			"enterprise": DefaultTierPolicies["enterprise"],
			"suspended":  {DailyTrades: 0},
		},
	}
	ctx := context.Background()

	alice, _ := sp.GetPermissions(ctx, "alice")
	if alice.RemainingDailyTrades != 2 || alice.Tier != "free" || !alice.CanTrade {
		t.Errorf("alice = %+v, want free with 2 trades left", alice)
	}
	// bob's count is from yesterday
	bob, _ := sp.GetPermissions(ctx, "bob")
	if bob.RemainingDailyTrades != 10 {
		t.Errorf("bob remaining = %d, want 10", bob.RemainingDailyTrades)
	}
	carol, _ := sp.GetPermissions(ctx, "carol")
	if !carol.PriorityExecution || carol.Tier != "pro" {
		t.Errorf("carol = %+v, want pro with priority", carol)
	}
	dave, _ := sp.GetPermissions(ctx, "dave")
	if dave.RemainingDailyTrades <= 1000 || dave.MaxPositionSize.IsPositive() {
		t.Errorf("dave = %+v, want unlimited", dave)
	}
	erin, _ := sp.GetPermissions(ctx, "erin")
	if erin.CanTrade {
		t.Error("suspended tier must not trade")
	}
}
