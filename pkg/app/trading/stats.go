package trading

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alexlomt/tradingbot-sub000/pkg/app/core/risk"
	"github.com/alexlomt/tradingbot-sub000/pkg/util"
)

// StatsBook holds every user's DailyStats. Reads reflect the UTC day at the
// time of the call.
type StatsBook struct {
	mu    sync.Mutex
	stats map[string]risk.DailyStats
	clock util.Clock
}

func NewStatsBook(clock util.Clock) *StatsBook {
	if clock == nil {
		clock = util.RealClock{}
	}
	return &StatsBook{stats: make(map[string]risk.DailyStats), clock: clock}
}

// DailyStats returns a copy of owner's stats for today.
func (b *StatsBook) DailyStats(owner string) risk.DailyStats {
	now := b.clock.Now()
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.stats[owner]
	if !ok {
		return risk.NewDailyStats(now)
	}
	return s.AsOf(now)
}

// Record counts one confirmed trade and returns the updated copy.
func (b *StatsBook) Record(owner string, at time.Time, volume, pnl decimal.Decimal) risk.DailyStats {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.stats[owner]
	if !ok {
		s = risk.NewDailyStats(at)
	}
	s.Record(at, volume, pnl)
	b.stats[owner] = s
	return s
}

// Restore replaces the in-memory stats with persisted ones.
func (b *StatsBook) Restore(all map[string]risk.DailyStats) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for owner, s := range all {
		b.stats[owner] = s
	}
}

var _ risk.StatsReader = (*StatsBook)(nil)
