package sim

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/alexlomt/tradingbot-sub000/pkg/app/core/market"
	"github.com/alexlomt/tradingbot-sub000/pkg/app/core/orderbook"
	"github.com/alexlomt/tradingbot-sub000/pkg/app/core/risk"
	"github.com/alexlomt/tradingbot-sub000/pkg/util"
)

// Venue is where generated order flow goes; matching.Engine satisfies it.
type Venue interface {
	Submit(ctx context.Context, o orderbook.Order) ([]orderbook.Fill, error)
	Cancel(ctx context.Context, pair, id, owner string) (orderbook.Order, error)
}

type FeederConfig struct {
	Traders       int
	OrdersPerTick int
	Interval      time.Duration
	Pairs         []string
	Seed          int64
}

// FeederStats are cumulative counters since the feeder was built.
type FeederStats struct {
	Orders   uint64
	Cancels  uint64
	Rejected uint64
	Fills    uint64
}

// Feeder submits generated orders and cancels to a Venue at a fixed rate.
type Feeder struct {
	cfg    FeederConfig
	gen    *OrderGenerator
	venue  Venue
	prices market.DataSource
	log    *zap.SugaredLogger

	orders, cancels, rejected, fills atomic.Uint64
}

func NewFeeder(cfg FeederConfig, venue Venue, prices market.DataSource, log *zap.SugaredLogger) *Feeder {
	if cfg.OrdersPerTick <= 0 {
		cfg.OrdersPerTick = 10
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 100 * time.Millisecond
	}
	return &Feeder{
		cfg:    cfg,
		gen:    NewOrderGenerator(cfg.Traders, cfg.Pairs, cfg.Seed),
		venue:  venue,
		prices: prices,
		log:    util.OrNop(log),
	}
}

func (f *Feeder) Stats() FeederStats {
	return FeederStats{
		Orders:   f.orders.Load(),
		Cancels:  f.cancels.Load(),
		Rejected: f.rejected.Load(),
		Fills:    f.fills.Load(),
	}
}

// Tick generates and submits one batch. It is not safe to call concurrently
// with itself or Run.
func (f *Feeder) Tick(ctx context.Context) {
	refs := make(map[string]decimal.Decimal, len(f.cfg.Pairs))
	for _, pair := range f.cfg.Pairs {
		if s, err := f.prices.GetMarketState(ctx, pair); err == nil && s.IsActive {
			refs[pair] = s.Price
		}
	}

	for _, a := range f.gen.GenerateBatch(f.cfg.OrdersPerTick, refs) {
		switch {
		case a.Order != nil:
			fills, err := f.venue.Submit(ctx, *a.Order)
			if err != nil {
				f.rejected.Add(1)
				if !errors.Is(err, risk.ErrRiskViolation) {
					f.log.Debugw("sim_order_failed", "order_id", a.Order.ID, "err", err)
				}
				continue
			}
			f.orders.Add(1)
			f.fills.Add(uint64(len(fills)))
		case a.Cancel != nil:
			// the order may have filled already
			if _, err := f.venue.Cancel(ctx, a.Cancel.Pair, a.Cancel.OrderID, a.Cancel.Owner); err == nil {
				f.cancels.Add(1)
			}
		}
	}
}

// Run ticks every interval until ctx is cancelled.
func (f *Feeder) Run(ctx context.Context) {
	ticker := time.NewTicker(f.cfg.Interval)
	defer ticker.Stop()
	start := time.Now()

	f.log.Infow("sim_feeder_started",
		"orders_per_tick", f.cfg.OrdersPerTick,
		"interval", f.cfg.Interval.String(),
		"traders", f.cfg.Traders,
		"pairs", f.cfg.Pairs,
	)
	for {
		select {
		case <-ctx.Done():
			st := f.Stats()
			f.log.Infow("sim_feeder_stopped",
				"orders", st.Orders,
				"cancels", st.Cancels,
				"rejected", st.Rejected,
				"fills", st.Fills,
				"elapsed", time.Since(start).Round(time.Second).String(),
			)
			return
		case <-ticker.C:
			f.Tick(ctx)
		}
	}
}

// Crediter funds simulated traders; chain.Paper satisfies it.
type Crediter interface {
	Credit(owner, token string, amount decimal.Decimal)
}

// Fund credits every trader with quote on each pair's quote token and with
// enough base to sell quote's worth at the reference price.
func Fund(c Crediter, traders []string, refs map[string]decimal.Decimal, quote decimal.Decimal) {
	for _, owner := range traders {
		credited := make(map[string]bool)
		for pair, ref := range refs {
			m, err := market.NewMarket(pair, "")
			if err != nil || !ref.IsPositive() {
				continue
			}
			if !credited[m.QuoteToken] {
				c.Credit(owner, m.QuoteToken, quote)
				credited[m.QuoteToken] = true
			}
			c.Credit(owner, m.BaseToken, quote.Div(ref))
		}
	}
}
