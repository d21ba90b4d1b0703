package trading

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/alexlomt/tradingbot-sub000/pkg/app/core/execution"
	"github.com/alexlomt/tradingbot-sub000/pkg/app/core/market"
	"github.com/alexlomt/tradingbot-sub000/pkg/app/core/orderbook"
	"github.com/alexlomt/tradingbot-sub000/pkg/app/core/position"
	"github.com/alexlomt/tradingbot-sub000/pkg/app/core/risk"
	"github.com/alexlomt/tradingbot-sub000/pkg/events"
	"github.com/alexlomt/tradingbot-sub000/pkg/util"
)

var (
	ErrAlreadyStarted = errors.New("trading engine already started")
	ErrStopped        = errors.New("trading engine stopped")
)

// Executor runs one trade on the venue.
type Executor interface {
	Execute(ctx context.Context, tc execution.TradeContext, cfg execution.Config) execution.TransactionResult
}

// RiskChecker is the subset of risk.Gate the engine drives.
type RiskChecker interface {
	ValidateOrder(ctx context.Context, o orderbook.Order) error
	ValidatePosition(e risk.Exposure, s market.State) risk.Decision
	Classify(exposure, collateral decimal.Decimal) risk.Level
	DeleveragePlan(positions []position.Position, marks map[string]decimal.Decimal, collateral decimal.Decimal) []position.Position
	RefreshLimits(ctx context.Context, pairs []string)
}

// Observer receives engine counters.
type Observer interface {
	PositionOpened()
	PositionClosed(reason string)
	RiskRejected(rule string)
	MonitorPanicked()
}

type Config struct {
	SingleActivePosition bool
	MaxBuyRetries        int
	MaxSellRetries       int
	RetryDelay           time.Duration
	PriceCheckInterval   time.Duration
	DeleverageInterval   time.Duration
	LimitRefreshInterval time.Duration
	DefaultAmount        decimal.Decimal // quote per open
	DefaultSlippageBps   int64
	SettlementQueue      int
	Execution            execution.Config
}

type Deps struct {
	Risk        RiskChecker
	Executor    Executor
	Positions   *position.Tracker
	Data        market.DataSource
	Markets     risk.MarketLookup
	Balances    risk.BalanceProvider
	Permissions risk.PermissionService
	Stats       *StatsBook
	Store       Store
	Bus         *events.Bus
	Observer    Observer
	Clock       util.Clock
	// Pairs lists the markets whose limits are refreshed. Nil skips refreshing.
	Pairs func() []string
}

// Engine orchestrates the position lifecycle: it opens and closes positions
// through risk checks and the execution manager, monitors each open position,
// settles matching-engine fills and deleverages the portfolio.
type Engine struct {
	cfg  Config
	deps Deps
	log  *zap.SugaredLogger

	// lock serializes every open and close across all pairs and owners. Waiters
	// are served in arrival order.
	lock *semaphore.Weighted

	mu     sync.RWMutex
	active map[string]ActivePosition

	monitors   *Scheduler
	settlement *settlementQueue

	life     sync.Mutex
	started  bool
	stopped  bool
	stopCh   chan struct{}
	inflight sync.WaitGroup
	settled  sync.WaitGroup
	loops    sync.WaitGroup
	cancel   context.CancelFunc
}

func NewEngine(cfg Config, deps Deps, log *zap.SugaredLogger) *Engine {
	if deps.Clock == nil {
		deps.Clock = util.RealClock{}
	}
	if deps.Stats == nil {
		deps.Stats = NewStatsBook(deps.Clock)
	}
	if cfg.MaxBuyRetries < 1 {
		cfg.MaxBuyRetries = 1
	}
	if cfg.MaxSellRetries < 1 {
		cfg.MaxSellRetries = 1
	}
	if cfg.PriceCheckInterval <= 0 {
		cfg.PriceCheckInterval = 5 * time.Second
	}
	log = util.OrNop(log)
	e := &Engine{
		cfg:        cfg,
		deps:       deps,
		log:        log,
		lock:       semaphore.NewWeighted(1),
		active:     make(map[string]ActivePosition),
		monitors:   NewScheduler(log),
		settlement: newSettlementQueue(cfg.SettlementQueue),
		stopCh:     make(chan struct{}),
	}
	e.monitors.OnPanic = func(string, any) {
		if deps.Observer != nil {
			deps.Observer.MonitorPanicked()
		}
	}
	return e
}

// Start restores persisted state, resumes monitors for restored positions and
// starts the settlement worker and the background loops.
func (e *Engine) Start(ctx context.Context) error {
	e.life.Lock()
	defer e.life.Unlock()
	if e.stopped {
		return ErrStopped
	}
	if e.started {
		return ErrAlreadyStarted
	}

	if e.deps.Positions != nil {
		if err := e.deps.Positions.Restore(ctx); err != nil {
			return fmt.Errorf("restore positions: %w", err)
		}
	}
	if e.deps.Store != nil {
		stats, err := e.deps.Store.LoadDailyStats(ctx)
		if err != nil {
			return fmt.Errorf("restore daily stats: %w", err)
		}
		e.deps.Stats.Restore(stats)

		active, err := e.deps.Store.LoadActive(ctx)
		if err != nil {
			return fmt.Errorf("restore active positions: %w", err)
		}
		e.mu.Lock()
		for _, ap := range active {
			e.active[ap.ID] = ap
		}
		e.mu.Unlock()
		for _, ap := range active {
			e.startMonitor(ap)
		}
		e.log.Infow("trading_state_restored", "active", len(active), "users_with_stats", len(stats))
	}

	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	e.cancel = cancel
	e.started = true

	e.settled.Add(1)
	go func() {
		defer e.settled.Done()
		// queued fills are settled even after Stop begins
		e.runSettlement(context.WithoutCancel(ctx))
	}()
	if e.cfg.DeleverageInterval > 0 {
		e.every(loopCtx, e.cfg.DeleverageInterval, e.deleverage)
	}
	if e.cfg.LimitRefreshInterval > 0 && e.deps.Pairs != nil {
		e.every(loopCtx, e.cfg.LimitRefreshInterval, func(ctx context.Context) {
			e.deps.Risk.RefreshLimits(ctx, e.deps.Pairs())
		})
	}

	e.log.Infow("trading_engine_started",
		"single_active", e.cfg.SingleActivePosition,
		"max_buy_retries", e.cfg.MaxBuyRetries,
		"max_sell_retries", e.cfg.MaxSellRetries,
	)
	return nil
}

func (e *Engine) every(ctx context.Context, interval time.Duration, fn func(context.Context)) {
	e.loops.Add(1)
	go func() {
		defer e.loops.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				fn(ctx)
			}
		}
	}()
}

// Stop refuses new work, stops monitors and loops, and waits for in-flight
// opens, closes and queued settlements to finish. In-flight submissions are
// never aborted.
func (e *Engine) Stop() {
	e.life.Lock()
	if e.stopped {
		e.life.Unlock()
		return
	}
	e.stopped = true
	close(e.stopCh)
	e.life.Unlock()

	e.monitors.Close()
	e.inflight.Wait()
	e.settlement.close()
	e.settled.Wait()
	if e.cancel != nil {
		e.cancel()
	}
	e.loops.Wait()
	e.log.Infow("trading_engine_stopped", "active", len(e.ActivePositions()))
}

// enter registers an in-flight operation; false once Stop has begun.
func (e *Engine) enter() bool {
	e.life.Lock()
	defer e.life.Unlock()
	if e.stopped {
		return false
	}
	e.inflight.Add(1)
	return true
}

func (e *Engine) acquire(ctx context.Context) bool {
	if err := e.lock.Acquire(ctx, 1); err != nil {
		e.log.Debugw("trade_lock_abandoned", "err", err)
		return false
	}
	return true
}

// OpenPosition buys into pair for owner. It returns false when the engine is
// busy in single-active mode, a check rejects the trade, or every attempt fails.
func (e *Engine) OpenPosition(ctx context.Context, pair, owner string, opts *TradeOptions) bool {
	if !e.enter() {
		return false
	}
	defer e.inflight.Done()
	if !e.acquire(ctx) {
		return false
	}
	defer e.lock.Release(1)

	if opts == nil {
		opts = &TradeOptions{}
	}
	log := e.log.With("pair", pair, "owner", owner)

	e.mu.RLock()
	busy := e.cfg.SingleActivePosition && len(e.active) > 0
	_, holding := e.findLocked(pair, owner)
	e.mu.RUnlock()
	if busy {
		log.Infow("open_skipped", "reason", "single_active_position")
		return false
	}
	if holding {
		log.Infow("open_skipped", "reason", "already_open")
		return false
	}

	perms := risk.Permissions{CanTrade: true, RemainingDailyTrades: 1}
	if e.deps.Permissions != nil {
		p, err := e.deps.Permissions.GetPermissions(ctx, owner)
		if err != nil {
			log.Warnw("open_rejected", "reason", "permissions_unavailable", "err", err)
			return false
		}
		perms = p
	}
	if !perms.CanTrade || perms.RemainingDailyTrades <= 0 {
		log.Infow("open_rejected", "reason", "subscription", "tier", perms.Tier)
		return false
	}

	state, err := e.deps.Data.GetMarketState(ctx, pair)
	if err != nil || !state.IsActive || !state.Price.IsPositive() {
		log.Warnw("open_rejected", "reason", "market_snapshot", "err", err, "active", state.IsActive)
		return false
	}

	amount := opts.Amount
	if !amount.IsPositive() {
		amount = e.cfg.DefaultAmount
	}
	qty := amount.Div(state.Price)
	order := orderbook.Order{
		ID:        uuid.NewString(),
		Pair:      pair,
		Side:      orderbook.Buy,
		Kind:      orderbook.Market,
		Price:     state.Price,
		Quantity:  qty,
		OwnerID:   owner,
		CreatedAt: e.deps.Clock.Now(),
	}
	if err := e.deps.Risk.ValidateOrder(ctx, order); err != nil {
		e.rejected(pair, owner, err)
		return false
	}

	tier := execution.ParseTier(perms.Tier)
	positionID := uuid.NewString()
	tc := execution.TradeContext{
		ID:                order.ID,
		Pair:              pair,
		Side:              orderbook.Buy,
		Action:            execution.ActionSwap,
		Amount:            qty,
		ExpectedPrice:     state.Price,
		SlippageBps:       e.slippage(opts),
		PositionID:        positionID,
		Owner:             owner,
		Tier:              tier,
		PriorityExecution: perms.PriorityExecution,
		Metadata:          opts.Metadata,
	}

	res, ok := e.executeWithRetries(ctx, tc, e.cfg.MaxBuyRetries)
	if !ok {
		e.executionFailed(tc, res)
		return false
	}

	bctx := context.WithoutCancel(ctx)
	now := e.deps.Clock.Now()
	price := res.ConfirmedPrice
	ap := ActivePosition{
		ID:         positionID,
		Pair:       pair,
		Owner:      owner,
		Amount:     qty,
		EntryPrice: price,
		Collateral: qty.Mul(price),
		Signature:  res.Signature,
		Tier:       tier,
		OpenedAt:   now,
	}

	if e.deps.Positions != nil {
		if _, err := e.deps.Positions.ApplyFill(bctx, position.Trade{
			OwnerID: owner, Market: pair, Side: orderbook.Buy, Quantity: qty, Price: price, Timestamp: now,
		}); err != nil {
			log.Errorw("position_persist_failed", "position_id", positionID, "err", err)
		}
	}

	e.mu.Lock()
	e.active[ap.ID] = ap
	e.mu.Unlock()
	if e.deps.Store != nil {
		if err := e.deps.Store.SaveActive(bctx, ap); err != nil {
			log.Errorw("active_persist_failed", "position_id", ap.ID, "err", err)
		}
	}
	e.startMonitor(ap)
	e.recordStats(bctx, owner, now, ap.Collateral, decimal.Zero)

	if e.deps.Observer != nil {
		e.deps.Observer.PositionOpened()
	}
	ev := events.New(events.KindPositionOpened)
	ev.Pair, ev.Owner, ev.PositionID = pair, owner, ap.ID
	ev.Side, ev.Price, ev.Quantity = orderbook.Buy.String(), price, qty
	ev.Attrs = map[string]string{"signature": res.Signature, "strategy": res.Strategy}
	e.deps.Bus.Publish(ev)

	log.Infow("position_opened",
		"position_id", ap.ID,
		"qty", qty.String(),
		"price", price.String(),
		"attempts", res.Attempts,
		"signature", res.Signature,
	)
	return true
}

// ClosePosition sells owner's open position in pair. It returns false when
// there is no such position, nothing is left to sell, or every attempt fails.
func (e *Engine) ClosePosition(ctx context.Context, pair, owner string, opts *TradeOptions) bool {
	if !e.enter() {
		return false
	}
	defer e.inflight.Done()
	if !e.acquire(ctx) {
		return false
	}
	defer e.lock.Release(1)

	if opts == nil {
		opts = &TradeOptions{}
	}
	reason := opts.Reason
	if reason == "" {
		reason = risk.ReasonManual
	}
	log := e.log.With("pair", pair, "owner", owner, "reason", string(reason))

	e.mu.RLock()
	ap, ok := e.findLocked(pair, owner)
	e.mu.RUnlock()
	if !ok {
		log.Debugw("close_skipped", "reason", "no_active_position")
		return false
	}

	mkt := e.market(pair)
	qty := ap.Amount
	if e.deps.Balances != nil {
		bal, err := e.deps.Balances.GetBalance(ctx, owner, mkt.BaseToken)
		if err != nil {
			log.Warnw("close_rejected", "reason", "balance_unavailable", "err", err)
			return false
		}
		if !bal.IsPositive() {
			log.Warnw("close_rejected", "reason", "insufficient_balance", "token", mkt.BaseToken)
			return false
		}
		if bal.LessThan(qty) {
			log.Warnw("close_partial_balance", "held", bal.String(), "expected", qty.String())
			qty = bal
		}
	}

	expected := ap.EntryPrice
	if s, err := e.deps.Data.GetMarketState(ctx, pair); err == nil && s.Price.IsPositive() {
		expected = s.Price
	}

	meta := map[string]string{"reason": string(reason)}
	for k, v := range opts.Metadata {
		meta[k] = v
	}
	tc := execution.TradeContext{
		ID:                uuid.NewString(),
		Pair:              pair,
		Side:              orderbook.Sell,
		Action:            execution.ActionSwap,
		Amount:            qty,
		ExpectedPrice:     expected,
		SlippageBps:       e.slippage(opts),
		PositionID:        ap.ID,
		Owner:             owner,
		Tier:              ap.Tier,
		PriorityExecution: ap.Tier >= execution.TierPro,
		Metadata:          meta,
	}

	res, ok := e.executeWithRetries(ctx, tc, e.cfg.MaxSellRetries)
	if !ok {
		e.executionFailed(tc, res)
		return false
	}

	bctx := context.WithoutCancel(ctx)
	now := e.deps.Clock.Now()
	price := res.ConfirmedPrice

	realized := qty.Mul(price.Sub(ap.EntryPrice))
	if e.deps.Positions != nil {
		before, _ := e.deps.Positions.Get(owner, pair)
		after, err := e.deps.Positions.ApplyFill(bctx, position.Trade{
			OwnerID: owner, Market: pair, Side: orderbook.Sell, Quantity: qty, Price: price, Timestamp: now,
		})
		if err != nil {
			log.Errorw("position_persist_failed", "position_id", ap.ID, "err", err)
		}
		realized = after.RealizedPnL.Sub(before.RealizedPnL)
	}

	e.recordStats(bctx, owner, now, qty.Mul(price), realized)

	if remaining := ap.Amount.Sub(qty); remaining.IsPositive() {
		// balance-limited sale: the rest stays monitored
		ap.Collateral = ap.Collateral.Mul(remaining).Div(ap.Amount)
		ap.Amount = remaining
		e.mu.Lock()
		e.active[ap.ID] = ap
		e.mu.Unlock()
		if e.deps.Store != nil {
			if err := e.deps.Store.SaveActive(bctx, ap); err != nil {
				log.Errorw("active_persist_failed", "position_id", ap.ID, "err", err)
			}
		}
		ev := events.New(events.KindPositionUpdated)
		ev.Pair, ev.Owner, ev.PositionID = pair, owner, ap.ID
		ev.Side, ev.Price, ev.Quantity, ev.PnL = orderbook.Sell.String(), price, qty, realized
		ev.Reason = string(reason)
		ev.Attrs = map[string]string{"remaining": remaining.String(), "signature": res.Signature}
		e.deps.Bus.Publish(ev)
		log.Infow("position_reduced",
			"position_id", ap.ID,
			"qty", qty.String(),
			"remaining", remaining.String(),
			"price", price.String(),
			"realized_pnl", realized.String(),
		)
		return true
	}

	e.mu.Lock()
	delete(e.active, ap.ID)
	e.mu.Unlock()
	e.monitors.Cancel(ctx, ap.ID)
	if e.deps.Store != nil {
		if err := e.deps.Store.DeleteActive(bctx, ap.ID); err != nil {
			log.Errorw("active_delete_failed", "position_id", ap.ID, "err", err)
		}
	}

	if e.deps.Observer != nil {
		e.deps.Observer.PositionClosed(string(reason))
	}
	ev := events.New(events.KindPositionClosed)
	ev.Pair, ev.Owner, ev.PositionID = pair, owner, ap.ID
	ev.Side, ev.Price, ev.Quantity, ev.PnL = orderbook.Sell.String(), price, qty, realized
	ev.Reason = string(reason)
	ev.Attrs = map[string]string{"signature": res.Signature, "strategy": res.Strategy}
	e.deps.Bus.Publish(ev)

	log.Infow("position_closed",
		"position_id", ap.ID,
		"qty", qty.String(),
		"price", price.String(),
		"realized_pnl", realized.String(),
		"held", now.Sub(ap.OpenedAt).String(),
	)
	return true
}

// flatten trades away the part of owner's tracked position in pair that no
// monitored entry covers, with a sell for long size and a buy for short size.
// That size comes from settled book fills.
func (e *Engine) flatten(ctx context.Context, pair, owner string, reason risk.CloseReason) bool {
	if e.deps.Positions == nil {
		return false
	}
	if !e.enter() {
		return false
	}
	defer e.inflight.Done()
	if !e.acquire(ctx) {
		return false
	}
	defer e.lock.Release(1)

	pos, ok := e.deps.Positions.Get(owner, pair)
	if !ok || pos.IsFlat() {
		return false
	}
	size := pos.Size
	e.mu.RLock()
	if ap, monitored := e.findLocked(pair, owner); monitored {
		size = size.Sub(ap.Amount)
	}
	e.mu.RUnlock()
	if size.IsZero() {
		return false
	}
	side := orderbook.Sell
	if size.IsNegative() {
		side = orderbook.Buy
	}
	expected := pos.AvgEntryPrice
	if s, err := e.deps.Data.GetMarketState(ctx, pair); err == nil && s.Price.IsPositive() {
		expected = s.Price
	}

	tc := execution.TradeContext{
		ID:            uuid.NewString(),
		Pair:          pair,
		Side:          side,
		Action:        execution.ActionSwap,
		Amount:        size.Abs(),
		ExpectedPrice: expected,
		SlippageBps:   e.cfg.DefaultSlippageBps,
		Owner:         owner,
		Metadata:      map[string]string{"reason": string(reason)},
	}
	res, ok := e.executeWithRetries(ctx, tc, e.cfg.MaxSellRetries)
	if !ok {
		e.executionFailed(tc, res)
		return false
	}

	bctx := context.WithoutCancel(ctx)
	now := e.deps.Clock.Now()
	after, err := e.deps.Positions.ApplyFill(bctx, position.Trade{
		OwnerID: owner, Market: pair, Side: side, Quantity: tc.Amount, Price: res.ConfirmedPrice, Timestamp: now,
	})
	if err != nil {
		e.log.Errorw("position_persist_failed", "pair", pair, "owner", owner, "err", err)
	}
	realized := after.RealizedPnL.Sub(pos.RealizedPnL)
	e.recordStats(bctx, owner, now, tc.Amount.Mul(res.ConfirmedPrice), realized)

	ev := events.New(events.KindPositionClosed)
	ev.Pair, ev.Owner = pair, owner
	ev.Side, ev.Price, ev.Quantity, ev.PnL = side.String(), res.ConfirmedPrice, tc.Amount, realized
	ev.Reason = string(reason)
	ev.Attrs = map[string]string{"signature": res.Signature, "strategy": res.Strategy, "source": "tracker"}
	e.deps.Bus.Publish(ev)

	e.log.Infow("position_flattened",
		"pair", pair,
		"owner", owner,
		"side", side.String(),
		"qty", tc.Amount.String(),
		"price", res.ConfirmedPrice.String(),
		"realized_pnl", realized.String(),
		"reason", string(reason),
	)
	return true
}

// executeWithRetries makes up to attempts full Execute calls, waiting
// RetryDelay between them. Waiting stops early when the engine stops.
func (e *Engine) executeWithRetries(ctx context.Context, tc execution.TradeContext, attempts int) (execution.TransactionResult, bool) {
	var res execution.TransactionResult
	for attempt := 1; attempt <= attempts; attempt++ {
		tc.Timestamp = e.deps.Clock.Now()
		res = e.deps.Executor.Execute(ctx, tc, e.cfg.Execution)
		if res.Success {
			return res, true
		}
		e.log.Warnw("trade_attempt_failed",
			"trade_id", tc.ID,
			"pair", tc.Pair,
			"side", tc.Side.String(),
			"attempt", attempt,
			"of", attempts,
			"err", res.Err,
		)
		if attempt == attempts {
			break
		}
		select {
		case <-e.stopCh:
			return res, false
		case <-ctx.Done():
			return res, false
		case <-e.deps.Clock.After(e.cfg.RetryDelay):
		}
	}
	return res, false
}

func (e *Engine) rejected(pair, owner string, err error) {
	rule := risk.RuleOf(err)
	e.log.Warnw("open_rejected", "pair", pair, "owner", owner, "rule", string(rule), "err", err)
	if e.deps.Observer != nil && rule != "" {
		e.deps.Observer.RiskRejected(string(rule))
	}
	ev := events.New(events.KindRiskViolation)
	ev.Pair, ev.Owner, ev.Reason, ev.Err = pair, owner, string(rule), err.Error()
	e.deps.Bus.Publish(ev)
}

func (e *Engine) executionFailed(tc execution.TradeContext, res execution.TransactionResult) {
	ev := events.New(events.KindExecutionFailed)
	ev.Pair, ev.Owner, ev.PositionID = tc.Pair, tc.Owner, tc.PositionID
	ev.Side, ev.Quantity = tc.Side.String(), tc.Amount
	if res.Err != nil {
		ev.Err = res.Err.Error()
	}
	e.deps.Bus.Publish(ev)
	e.log.Errorw("trade_failed",
		"trade_id", tc.ID,
		"pair", tc.Pair,
		"owner", tc.Owner,
		"side", tc.Side.String(),
		"err", res.Err,
	)
}

func (e *Engine) recordStats(ctx context.Context, owner string, at time.Time, volume, pnl decimal.Decimal) {
	s := e.deps.Stats.Record(owner, at, volume, pnl)
	if e.deps.Store == nil {
		return
	}
	if err := e.deps.Store.SaveDailyStats(ctx, owner, s); err != nil {
		e.log.Warnw("daily_stats_persist_failed", "owner", owner, "err", err)
	}
}

func (e *Engine) slippage(opts *TradeOptions) int64 {
	if opts.SlippageBps > 0 {
		return opts.SlippageBps
	}
	return e.cfg.DefaultSlippageBps
}

func (e *Engine) market(pair string) market.Market {
	if e.deps.Markets != nil {
		if m, err := e.deps.Markets.Get(pair); err == nil {
			return m
		}
	}
	if m, err := market.NewMarket(pair, ""); err == nil {
		return *m
	}
	return market.Market{Pair: pair}
}

func (e *Engine) findLocked(pair, owner string) (ActivePosition, bool) {
	for _, ap := range e.active {
		if ap.Pair == pair && ap.Owner == owner {
			return ap, true
		}
	}
	return ActivePosition{}, false
}

// ActivePositions returns a copy of every monitored position, oldest first.
func (e *Engine) ActivePositions() []ActivePosition {
	e.mu.RLock()
	out := make([]ActivePosition, 0, len(e.active))
	for _, ap := range e.active {
		out = append(out, ap)
	}
	e.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if !out[i].OpenedAt.Equal(out[j].OpenedAt) {
			return out[i].OpenedAt.Before(out[j].OpenedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// DailyStats returns a copy of owner's stats for the current UTC day.
func (e *Engine) DailyStats(owner string) risk.DailyStats {
	return e.deps.Stats.DailyStats(owner)
}
