package risk

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/alexlomt/tradingbot-sub000/pkg/app/core/market"
	"github.com/alexlomt/tradingbot-sub000/pkg/app/core/orderbook"
	"github.com/alexlomt/tradingbot-sub000/pkg/app/core/position"
	"github.com/alexlomt/tradingbot-sub000/pkg/util"
)

// Permissions are the subscription-derived entitlements of one user.
type Permissions struct {
	CanTrade             bool
	RemainingDailyTrades int
	MaxPositionSize      decimal.Decimal // zero = no per-user cap
	PriorityExecution    bool
	Tier                 string
}

type PermissionService interface {
	GetPermissions(ctx context.Context, userID string) (Permissions, error)
}

type BalanceProvider interface {
	GetBalance(ctx context.Context, owner, token string) (decimal.Decimal, error)
}

type PositionReader interface {
	Get(owner, market string) (position.Position, bool)
	ByOwner(owner string) []position.Position
}

type StatsReader interface {
	DailyStats(owner string) DailyStats
}

type MarketLookup interface {
	Get(pair string) (market.Market, error)
}

type Config struct {
	Base Params

	TakeProfitPct        decimal.Decimal
	StopLossPct          decimal.Decimal
	MaxHoldDuration      time.Duration
	LiquidationThreshold decimal.Decimal // margin utilization fraction
	EmergencyVolatility  decimal.Decimal // percent
	MaxConcentrationPct  decimal.Decimal
	MaxDailyTrades       int

	Levels Thresholds
}

// Deps are the read-only collaborators of the gate. Nil collaborators skip
// the checks that need them.
type Deps struct {
	Markets     MarketLookup
	Data        market.DataSource
	Balances    BalanceProvider
	Permissions PermissionService
	Positions   PositionReader
	Stats       StatsReader
	Clock       util.Clock
}

// Gate validates orders before they reach a book or the venue, and open
// positions on every monitor tick. It has no side effects beyond its own
// limit cache and order-interval bookkeeping.
type Gate struct {
	cfg  Config
	deps Deps
	log  *zap.SugaredLogger

	mu        sync.RWMutex
	limits    map[string]Limits
	lastOrder map[string]time.Time

	emergency atomic.Bool
}

func NewGate(cfg Config, deps Deps, log *zap.SugaredLogger) *Gate {
	if deps.Clock == nil {
		deps.Clock = util.RealClock{}
	}
	return &Gate{
		cfg:       cfg,
		deps:      deps,
		log:       util.OrNop(log),
		limits:    make(map[string]Limits),
		lastOrder: make(map[string]time.Time),
	}
}

func (g *Gate) Config() Config { return g.cfg }

// SetEmergencyClose raises or clears the global close-everything flag.
func (g *Gate) SetEmergencyClose(on bool) {
	g.emergency.Store(on)
	g.log.Warnw("emergency_close_flag", "on", on)
}

func (g *Gate) EmergencyClose() bool { return g.emergency.Load() }

// Limits returns the cached limits for pair, computing them at zero volatility if absent.
func (g *Gate) Limits(pair string) Limits {
	g.mu.RLock()
	l, ok := g.limits[pair]
	g.mu.RUnlock()
	if ok {
		return l
	}
	return g.SetVolatility(pair, decimal.Zero)
}

// SetVolatility recomputes and caches pair limits for the given volatility.
func (g *Gate) SetVolatility(pair string, volatility decimal.Decimal) Limits {
	l := ComputeLimits(g.cfg.Base, volatility, g.deps.Clock.Now())
	g.mu.Lock()
	g.limits[pair] = l
	g.mu.Unlock()
	return l
}

// RefreshLimits recomputes limits for every pair from current market data.
// Pairs whose state cannot be read keep their previous limits.
func (g *Gate) RefreshLimits(ctx context.Context, pairs []string) {
	if g.deps.Data == nil {
		return
	}
	for _, pair := range pairs {
		s, err := g.deps.Data.GetMarketState(ctx, pair)
		if err != nil {
			g.log.Debugw("limit_refresh_skipped", "pair", pair, "err", err)
			continue
		}
		l := g.SetVolatility(pair, s.Volatility())
		g.log.Debugw("limits_refreshed",
			"pair", pair,
			"volatility", s.Volatility().String(),
			"max_order_size", l.MaxOrderSize.String(),
		)
	}
}

// ValidateOrder runs every pre-trade check. It returns ErrInvalidOrder for malformed
// input, a *Violation for the first failed rule, or nil.
func (g *Gate) ValidateOrder(ctx context.Context, o orderbook.Order) error {
	if err := o.Validate(); err != nil {
		return err
	}

	var mkt market.Market
	if g.deps.Markets != nil {
		m, err := g.deps.Markets.Get(o.Pair)
		if err != nil || !m.IsTradeable() {
			return violation(RuleMarketInactive, o.Pair, "market not tradeable")
		}
		mkt = m
	} else if m, err := market.NewMarket(o.Pair, ""); err == nil {
		mkt = *m
	}

	var state market.State
	if g.deps.Data != nil {
		s, err := g.deps.Data.GetMarketState(ctx, o.Pair)
		if err != nil {
			return violation(RuleMarketData, o.Pair, "%v", err)
		}
		if !s.IsActive {
			return violation(RuleMarketInactive, o.Pair, "pool inactive")
		}
		state = s
	}

	price := o.Price
	if !price.IsPositive() {
		price = state.Price
	}
	if !price.IsPositive() {
		return violation(RuleMarketData, o.Pair, "no reference price for market order")
	}
	notional := o.Quantity.Mul(price)
	limits := g.Limits(o.Pair)

	// (a) order notional
	if limits.MaxOrderSize.IsPositive() && notional.GreaterThan(limits.MaxOrderSize) {
		return violation(RuleOrderSize, o.Pair, "notional %s exceeds %s", notional, limits.MaxOrderSize)
	}

	var perms *Permissions
	if g.deps.Permissions != nil {
		p, err := g.deps.Permissions.GetPermissions(ctx, o.OwnerID)
		if err != nil {
			return violation(RuleTradingDisabled, o.Pair, "permissions unavailable: %v", err)
		}
		perms = &p
	}

	// (b) resulting position size and concentration
	if err := g.checkPosition(ctx, o, mkt, price, limits, perms); err != nil {
		return err
	}

	// (c) balance for the traded side
	if err := g.checkBalance(ctx, o, mkt, notional); err != nil {
		return err
	}

	// (d) volatility
	if limits.VolatilityThreshold.IsPositive() && state.Volatility().GreaterThan(limits.VolatilityThreshold) {
		return violation(RuleVolatility, o.Pair, "volatility %s above %s", state.Volatility(), limits.VolatilityThreshold)
	}

	// (e) subscription permissions and daily caps
	if perms != nil {
		if !perms.CanTrade {
			return violation(RuleTradingDisabled, o.Pair, "trading disabled for %s", o.OwnerID)
		}
		if perms.RemainingDailyTrades <= 0 {
			return violation(RuleDailyTrades, o.Pair, "no trades remaining today")
		}
	}
	if g.deps.Stats != nil {
		stats := g.deps.Stats.DailyStats(o.OwnerID).AsOf(g.deps.Clock.Now())
		if g.cfg.MaxDailyTrades > 0 && stats.TradeCount >= g.cfg.MaxDailyTrades {
			return violation(RuleDailyTrades, o.Pair, "%d trades today", stats.TradeCount)
		}
		if limits.MaxDailyVolume.IsPositive() && stats.Volume.Add(notional).GreaterThan(limits.MaxDailyVolume) {
			return violation(RuleDailyVolume, o.Pair, "volume %s + %s exceeds %s", stats.Volume, notional, limits.MaxDailyVolume)
		}
	}

	return g.checkInterval(o, limits)
}

func (g *Gate) checkPosition(ctx context.Context, o orderbook.Order, mkt market.Market, price decimal.Decimal, limits Limits, perms *Permissions) error {
	if g.deps.Positions == nil {
		return nil
	}
	current, _ := g.deps.Positions.Get(o.OwnerID, o.Pair)
	delta := o.Quantity
	if o.Side == orderbook.Sell {
		delta = delta.Neg()
	}
	resulting := current.Size.Add(delta).Abs()

	// Reducing exposure is always allowed
	if resulting.LessThanOrEqual(current.Size.Abs()) {
		return nil
	}

	if limits.MaxPositionSize.IsPositive() && resulting.GreaterThan(limits.MaxPositionSize) {
		return violation(RulePositionSize, o.Pair, "position %s exceeds %s", resulting, limits.MaxPositionSize)
	}
	if perms != nil && perms.MaxPositionSize.IsPositive() && resulting.GreaterThan(perms.MaxPositionSize) {
		return violation(RulePositionSize, o.Pair, "position %s exceeds subscription cap %s", resulting, perms.MaxPositionSize)
	}

	if !g.cfg.MaxConcentrationPct.IsPositive() || g.deps.Balances == nil {
		return nil
	}
	portfolio, err := g.deps.Balances.GetBalance(ctx, o.OwnerID, mkt.QuoteToken)
	if err != nil {
		return violation(RuleBalance, o.Pair, "balance unavailable: %v", err)
	}
	for _, p := range g.deps.Positions.ByOwner(o.OwnerID) {
		if p.Market == o.Pair {
			portfolio = portfolio.Add(p.Notional(price))
		} else {
			portfolio = portfolio.Add(p.Notional(p.AvgEntryPrice))
		}
	}
	if !portfolio.IsPositive() {
		return nil
	}
	pct := resulting.Mul(price).Div(portfolio).Mul(hundred)
	if pct.GreaterThan(g.cfg.MaxConcentrationPct) {
		return violation(RuleConcentration, o.Pair, "concentration %s%% above %s%%", pct.StringFixed(2), g.cfg.MaxConcentrationPct)
	}
	return nil
}

func (g *Gate) checkBalance(ctx context.Context, o orderbook.Order, mkt market.Market, notional decimal.Decimal) error {
	if g.deps.Balances == nil {
		return nil
	}
	token, need := mkt.QuoteToken, notional
	if o.Side == orderbook.Sell {
		token, need = mkt.BaseToken, o.Quantity
	}
	have, err := g.deps.Balances.GetBalance(ctx, o.OwnerID, token)
	if err != nil {
		return violation(RuleBalance, o.Pair, "balance unavailable: %v", err)
	}
	if have.LessThan(need) {
		return violation(RuleBalance, o.Pair, "%s balance %s below %s", token, have, need)
	}
	return nil
}

func (g *Gate) checkInterval(o orderbook.Order, limits Limits) error {
	now := g.deps.Clock.Now()
	k := o.OwnerID + "|" + o.Pair

	g.mu.Lock()
	defer g.mu.Unlock()
	if last, ok := g.lastOrder[k]; ok && limits.MinOrderInterval > 0 && now.Sub(last) < limits.MinOrderInterval {
		return violation(RuleOrderInterval, o.Pair, "last order %s ago", now.Sub(last))
	}
	g.lastOrder[k] = now
	return nil
}

// CloseReason is why an open position must be closed.
type CloseReason string

const (
	ReasonTakeProfit      CloseReason = "take_profit"
	ReasonStopLoss        CloseReason = "stop_loss"
	ReasonMaxHold         CloseReason = "max_hold_duration"
	ReasonLiquidation     CloseReason = "liquidation"
	ReasonVolatilitySpike CloseReason = "volatility_spike"
	ReasonEmergency       CloseReason = "emergency_close"
	ReasonManual          CloseReason = "manual"
	ReasonDeleverage      CloseReason = "deleverage"
)

// Exposure is an open position together with what the engine knows about how it was opened.
type Exposure struct {
	Position   position.Position
	OpenedAt   time.Time
	Collateral decimal.Decimal
}

type Decision struct {
	Close  bool
	Reason CloseReason
}

// ValidatePosition evaluates the close conditions in priority order and reports
// the first one that holds.
func (g *Gate) ValidatePosition(e Exposure, s market.State) Decision {
	p := e.Position
	if p.IsFlat() {
		return Decision{}
	}
	mark := s.Price
	if !mark.IsPositive() {
		mark = p.AvgEntryPrice
	}
	ret := p.ReturnPct(mark)

	if g.cfg.TakeProfitPct.IsPositive() && ret.GreaterThanOrEqual(g.cfg.TakeProfitPct) {
		return Decision{Close: true, Reason: ReasonTakeProfit}
	}
	if g.cfg.StopLossPct.IsPositive() && ret.LessThanOrEqual(g.cfg.StopLossPct.Neg()) {
		return Decision{Close: true, Reason: ReasonStopLoss}
	}
	if g.cfg.MaxHoldDuration > 0 && !e.OpenedAt.IsZero() && g.deps.Clock.Now().Sub(e.OpenedAt) >= g.cfg.MaxHoldDuration {
		return Decision{Close: true, Reason: ReasonMaxHold}
	}
	if g.cfg.LiquidationThreshold.IsPositive() && e.Collateral.IsPositive() {
		loss := p.UnrealizedAt(mark).Neg()
		if loss.IsPositive() && loss.Div(e.Collateral).GreaterThanOrEqual(g.cfg.LiquidationThreshold) {
			return Decision{Close: true, Reason: ReasonLiquidation}
		}
	}
	if g.cfg.EmergencyVolatility.IsPositive() && s.Volatility().GreaterThanOrEqual(g.cfg.EmergencyVolatility) {
		return Decision{Close: true, Reason: ReasonVolatilitySpike}
	}
	if g.emergency.Load() {
		return Decision{Close: true, Reason: ReasonEmergency}
	}
	return Decision{}
}

// Classify applies the configured level thresholds.
func (g *Gate) Classify(exposure, collateral decimal.Decimal) Level {
	return Classify(exposure, collateral, g.cfg.Levels)
}

// DeleveragePlan applies the configured level thresholds to DeleveragePlan.
func (g *Gate) DeleveragePlan(positions []position.Position, marks map[string]decimal.Decimal, collateral decimal.Decimal) []position.Position {
	return DeleveragePlan(positions, marks, collateral, g.cfg.Levels)
}
