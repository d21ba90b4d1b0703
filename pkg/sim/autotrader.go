package sim

import (
	"context"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"github.com/alexlomt/tradingbot-sub000/pkg/app/trading"
	"github.com/alexlomt/tradingbot-sub000/pkg/util"
)

// Opener opens managed positions; trading.Engine satisfies it.
type Opener interface {
	OpenPosition(ctx context.Context, pair, owner string, opts *trading.TradeOptions) bool
}

// Autotrader asks the trading engine to open a position for a random trader
// and pair every interval. Exits are left to the engine's monitors.
type Autotrader struct {
	opener  Opener
	traders []string
	pairs   func() []string
	rng     *rand.Rand
	log     *zap.SugaredLogger
}

func NewAutotrader(opener Opener, traders []string, pairs func() []string, seed int64, log *zap.SugaredLogger) *Autotrader {
	return &Autotrader{
		opener:  opener,
		traders: traders,
		pairs:   pairs,
		rng:     rand.New(rand.NewSource(seed)),
		log:     util.OrNop(log),
	}
}

// Tick makes one open attempt and reports whether it succeeded.
func (a *Autotrader) Tick(ctx context.Context) bool {
	pairs := a.pairs()
	if len(pairs) == 0 || len(a.traders) == 0 {
		return false
	}
	pair := pairs[a.rng.Intn(len(pairs))]
	owner := a.traders[a.rng.Intn(len(a.traders))]
	ok := a.opener.OpenPosition(ctx, pair, owner, nil)
	a.log.Debugw("sim_open_attempt", "pair", pair, "owner", owner, "opened", ok)
	return ok
}

func (a *Autotrader) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.Tick(ctx)
		}
	}
}
