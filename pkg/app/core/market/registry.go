package market

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Registry manages tradeable markets in a thread-safe manner
type Registry struct {
	mu      sync.RWMutex
	markets map[string]*Market // pair -> market
}

func NewRegistry() *Registry {
	return &Registry{
		markets: make(map[string]*Market),
	}
}

// Register adds a market. Returns error if the pair is already registered.
func (r *Registry) Register(m *Market) error {
	if m == nil {
		return fmt.Errorf("cannot register nil market")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.markets[m.Pair]; exists {
		return fmt.Errorf("market %s already registered", m.Pair)
	}

	r.markets[m.Pair] = m
	return nil
}

// Get returns a copy of the market so callers cannot change its status behind the registry.
func (r *Registry) Get(pair string) (Market, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	m, exists := r.markets[pair]
	if !exists {
		return Market{}, fmt.Errorf("market %s not found", pair)
	}
	return *m, nil
}

// List returns all markets sorted by pair
func (r *Registry) List() []Market {
	r.mu.RLock()
	defer r.mu.RUnlock()

	markets := make([]Market, 0, len(r.markets))
	for _, m := range r.markets {
		markets = append(markets, *m)
	}
	sort.Slice(markets, func(i, j int) bool { return markets[i].Pair < markets[j].Pair })
	return markets
}

// ListActive returns only markets with Active status
func (r *Registry) ListActive() []Market {
	var active []Market
	for _, m := range r.List() {
		if m.Status == Active {
			active = append(active, m)
		}
	}
	return active
}

// UpdateStatus changes the trading status of a market
func (r *Registry) UpdateStatus(pair string, status Status) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, exists := r.markets[pair]
	if !exists {
		return fmt.Errorf("market %s not found", pair)
	}

	// Active <-> Paused: allowed
	// Active/Paused -> Delisted: allowed
	// Delisted -> *: not allowed (terminal state)
	if m.Status == Delisted && status != Delisted {
		return fmt.Errorf("market %s is delisted", pair)
	}

	m.Status = status
	return nil
}

// Remove deletes a delisted market
func (r *Registry) Remove(pair string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, exists := r.markets[pair]
	if !exists {
		return fmt.Errorf("market %s not found", pair)
	}
	if m.Status != Delisted {
		return fmt.Errorf("cannot remove market %s with status %s (must be Delisted)", pair, m.Status)
	}

	delete(r.markets, pair)
	return nil
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.markets)
}

func (r *Registry) Exists(pair string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, exists := r.markets[pair]
	return exists
}

// Discover registers every pair the source lists that is not yet known.
// Known pairs that disappeared from the listing are paused.
func (r *Registry) Discover(ctx context.Context, src PairSource) ([]string, error) {
	infos, err := src.ListPairs(ctx)
	if err != nil {
		return nil, fmt.Errorf("list pairs: %w", err)
	}

	listed := make(map[string]struct{}, len(infos))
	var added []string
	for _, info := range infos {
		listed[info.Pair] = struct{}{}
		if r.Exists(info.Pair) {
			continue
		}
		m, err := NewMarket(info.Pair, info.PoolAddress)
		if err != nil {
			continue
		}
		if err := r.Register(m); err == nil {
			added = append(added, info.Pair)
		}
	}

	r.mu.Lock()
	for pair, m := range r.markets {
		if _, ok := listed[pair]; !ok && m.Status == Active {
			m.Status = Paused
		}
	}
	r.mu.Unlock()

	sort.Strings(added)
	return added, nil
}
