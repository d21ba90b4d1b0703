package risk

import (
	"time"

	"github.com/shopspring/decimal"
)

const dateLayout = "2006-01-02"

// DailyStats are one user's counters for the current UTC day. They reset when
// the UTC calendar date changes, not on a rolling 24h window.
type DailyStats struct {
	TradeCount    int             `json:"tradeCount"`
	Volume        decimal.Decimal `json:"volume"`
	PnL           decimal.Decimal `json:"pnl"`
	LastResetDate string          `json:"lastResetDate"`
}

func NewDailyStats(now time.Time) DailyStats {
	return DailyStats{LastResetDate: utcDate(now)}
}

func utcDate(t time.Time) string { return t.UTC().Format(dateLayout) }

// ResetIfNewDay zeroes the counters when now falls on a later UTC date.
func (s *DailyStats) ResetIfNewDay(now time.Time) bool {
	today := utcDate(now)
	if s.LastResetDate == today {
		return false
	}
	*s = DailyStats{LastResetDate: today}
	return true
}

// Record counts one confirmed fill.
func (s *DailyStats) Record(now time.Time, volume, pnl decimal.Decimal) {
	s.ResetIfNewDay(now)
	s.TradeCount++
	s.Volume = s.Volume.Add(volume)
	s.PnL = s.PnL.Add(pnl)
}

// AsOf returns the stats as they apply at now, without mutating s.
func (s DailyStats) AsOf(now time.Time) DailyStats {
	s.ResetIfNewDay(now)
	return s
}
