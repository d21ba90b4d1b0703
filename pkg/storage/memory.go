package storage

import (
	"context"
	"sort"
	"sync"

	"github.com/alexlomt/tradingbot-sub000/pkg/app/core/matching"
	"github.com/alexlomt/tradingbot-sub000/pkg/app/core/orderbook"
	"github.com/alexlomt/tradingbot-sub000/pkg/app/core/position"
	"github.com/alexlomt/tradingbot-sub000/pkg/app/core/risk"
	"github.com/alexlomt/tradingbot-sub000/pkg/app/trading"
)

// MemoryStore is the in-process repository used by tests and paper trading.
type MemoryStore struct {
	mu        sync.Mutex
	positions map[string]position.Position
	active    map[string]trading.ActivePosition
	stats     map[string]risk.DailyStats
	orders    map[string]orderbook.Order
	fills     map[string][]orderbook.Fill
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		positions: make(map[string]position.Position),
		active:    make(map[string]trading.ActivePosition),
		stats:     make(map[string]risk.DailyStats),
		orders:    make(map[string]orderbook.Order),
		fills:     make(map[string][]orderbook.Fill),
	}
}

func (s *MemoryStore) SavePosition(_ context.Context, p position.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.positions[string(positionKey(p.OwnerID, p.Market))] = p
	return nil
}

func (s *MemoryStore) LoadPositions(context.Context) ([]position.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]string, 0, len(s.positions))
	for k := range s.positions {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]position.Position, 0, len(keys))
	for _, k := range keys {
		out = append(out, s.positions[k])
	}
	return out, nil
}

func (s *MemoryStore) SaveActive(_ context.Context, p trading.ActivePosition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active[p.ID] = p
	return nil
}

func (s *MemoryStore) DeleteActive(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.active, id)
	return nil
}

func (s *MemoryStore) LoadActive(context.Context) ([]trading.ActivePosition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]trading.ActivePosition, 0, len(s.active))
	for _, p := range s.active {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) SaveDailyStats(_ context.Context, owner string, st risk.DailyStats) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats[owner] = st
	return nil
}

func (s *MemoryStore) LoadDailyStats(context.Context) (map[string]risk.DailyStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]risk.DailyStats, len(s.stats))
	for k, v := range s.stats {
		out[k] = v
	}
	return out, nil
}

func (s *MemoryStore) SaveOrder(_ context.Context, o orderbook.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders[string(orderKey(o.Pair, o.ID))] = o
	return nil
}

func (s *MemoryStore) LoadOrder(pair, id string) (orderbook.Order, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[string(orderKey(pair, id))]
	return o, ok, nil
}

func (s *MemoryStore) SaveFill(_ context.Context, f orderbook.Fill) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fills[f.Pair] = append(s.fills[f.Pair], f)
	return nil
}

// RecentFills returns up to limit fills for pair, newest first.
func (s *MemoryStore) RecentFills(pair string, limit int) ([]orderbook.Fill, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	all := s.fills[pair]
	var out []orderbook.Fill
	for i := len(all) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, all[i])
	}
	return out, nil
}

var (
	_ position.Store   = (*MemoryStore)(nil)
	_ trading.Store    = (*MemoryStore)(nil)
	_ matching.History = (*MemoryStore)(nil)
)
