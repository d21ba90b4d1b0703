package trading

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/alexlomt/tradingbot-sub000/pkg/app/core/position"
	"github.com/alexlomt/tradingbot-sub000/pkg/app/core/risk"
	"github.com/alexlomt/tradingbot-sub000/pkg/events"
)

func (e *Engine) startMonitor(ap ActivePosition) {
	e.monitors.Every(ap.ID, e.cfg.PriceCheckInterval, func(ctx context.Context) {
		e.checkPosition(ctx, ap.ID)
	})
}

// checkPosition marks one monitored position against the latest market state
// and closes it when any exit condition holds. Missing market data skips the tick.
func (e *Engine) checkPosition(ctx context.Context, id string) {
	e.mu.RLock()
	ap, ok := e.active[id]
	e.mu.RUnlock()
	if !ok {
		e.monitors.Cancel(ctx, id)
		return
	}

	state, err := e.deps.Data.GetMarketState(ctx, ap.Pair)
	if err != nil {
		e.log.Debugw("monitor_no_market_data", "position_id", id, "pair", ap.Pair, "err", err)
		return
	}

	pos := position.Position{OwnerID: ap.Owner, Market: ap.Pair, Size: ap.Amount, AvgEntryPrice: ap.EntryPrice}
	if e.deps.Positions != nil {
		if p, ok := e.deps.Positions.Get(ap.Owner, ap.Pair); ok && !p.IsFlat() {
			pos = p
		}
	}

	unrealized := pos.UnrealizedAt(state.Price)
	ev := events.New(events.KindPositionUpdated)
	ev.Pair, ev.Owner, ev.PositionID = ap.Pair, ap.Owner, id
	ev.Price, ev.Quantity, ev.PnL = state.Price, pos.Size, unrealized
	e.deps.Bus.Publish(ev)

	d := e.deps.Risk.ValidatePosition(risk.Exposure{
		Position:   pos,
		OpenedAt:   ap.OpenedAt,
		Collateral: ap.Collateral,
	}, state)
	if !d.Close {
		return
	}
	e.log.Infow("position_exit_triggered",
		"position_id", id,
		"pair", ap.Pair,
		"owner", ap.Owner,
		"reason", string(d.Reason),
		"mark", state.Price.String(),
		"unrealized_pnl", unrealized.String(),
	)
	e.ClosePosition(ctx, ap.Pair, ap.Owner, &TradeOptions{Reason: d.Reason})
}

// deleverage classifies each owner's portfolio and closes positions, largest
// first, while it stays Critical. Monitored entries are closed through
// ClosePosition; any tracked size left over is flattened with an offsetting swap.
func (e *Engine) deleverage(ctx context.Context) {
	if e.deps.Positions == nil {
		return
	}
	byOwner := make(map[string][]position.Position)
	var owners []string
	for _, p := range e.deps.Positions.Open() {
		if _, ok := byOwner[p.OwnerID]; !ok {
			owners = append(owners, p.OwnerID)
		}
		byOwner[p.OwnerID] = append(byOwner[p.OwnerID], p)
	}

	marks := make(map[string]decimal.Decimal)
	for _, owner := range owners {
		positions := byOwner[owner]
		for _, p := range positions {
			if _, ok := marks[p.Market]; ok {
				continue
			}
			if s, err := e.deps.Data.GetMarketState(ctx, p.Market); err == nil {
				marks[p.Market] = s.Price
			}
		}

		collateral := e.collateral(ctx, owner, positions)
		exposure := risk.TotalExposure(positions, marks)
		level := e.deps.Risk.Classify(exposure, collateral)
		if level < risk.High {
			continue
		}

		ev := events.New(events.KindRiskAlert)
		ev.Owner, ev.Reason = owner, level.String()
		ev.Attrs = map[string]string{"exposure": exposure.String(), "collateral": collateral.String()}
		e.deps.Bus.Publish(ev)
		e.log.Warnw("risk_level_elevated",
			"owner", owner,
			"level", level.String(),
			"exposure", exposure.String(),
			"collateral", collateral.String(),
		)

		for _, p := range e.deps.Risk.DeleveragePlan(positions, marks, collateral) {
			if e.hasActive(p.Market, owner) &&
				!e.ClosePosition(ctx, p.Market, owner, &TradeOptions{Reason: risk.ReasonDeleverage}) {
				continue
			}
			// whatever the monitored entry did not cover, such as settled book size or shorts
			e.flatten(ctx, p.Market, owner, risk.ReasonDeleverage)
		}
	}
}

func (e *Engine) hasActive(pair, owner string) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	_, ok := e.findLocked(pair, owner)
	return ok
}

// collateral is the owner's free quote balance plus the quote locked in the
// positions the engine opened for them.
func (e *Engine) collateral(ctx context.Context, owner string, positions []position.Position) decimal.Decimal {
	total := decimal.Zero
	e.mu.RLock()
	for _, ap := range e.active {
		if ap.Owner == owner {
			total = total.Add(ap.Collateral)
		}
	}
	e.mu.RUnlock()

	if e.deps.Balances == nil || len(positions) == 0 {
		return total
	}
	quote := e.market(positions[0].Market).QuoteToken
	if bal, err := e.deps.Balances.GetBalance(ctx, owner, quote); err == nil {
		total = total.Add(bal)
	}
	return total
}
