package position

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Store is the durable repository positions are written through.
type Store interface {
	LoadPositions(ctx context.Context) ([]Position, error)
	SavePosition(ctx context.Context, p Position) error
}

type key struct {
	owner  string
	market string
}

// Tracker owns every Position. ApplyFill is the only way to change one; all
// reads return copies.
type Tracker struct {
	mu        sync.RWMutex
	positions map[key]*Position
	store     Store
	log       *zap.SugaredLogger
}

func NewTracker(store Store, log *zap.SugaredLogger) *Tracker {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Tracker{
		positions: make(map[key]*Position),
		store:     store,
		log:       log,
	}
}

// Restore replaces the in-memory cache with what the store holds.
func (t *Tracker) Restore(ctx context.Context) error {
	if t.store == nil {
		return nil
	}
	loaded, err := t.store.LoadPositions(ctx)
	if err != nil {
		return fmt.Errorf("load positions: %w", err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.positions = make(map[key]*Position, len(loaded))
	for i := range loaded {
		p := loaded[i]
		t.positions[key{p.OwnerID, p.Market}] = &p
	}
	t.log.Infow("positions_restored", "count", len(loaded))
	return nil
}

// ApplyFill folds a trade into the owner's position for the market and persists it.
// The in-memory state is updated even when the write fails; the error reports the
// persistence failure only.
func (t *Tracker) ApplyFill(ctx context.Context, tr Trade) (Position, error) {
	if tr.OwnerID == "" || tr.Market == "" {
		return Position{}, fmt.Errorf("trade missing owner or market")
	}
	if !tr.Quantity.IsPositive() || !tr.Price.IsPositive() {
		return Position{}, fmt.Errorf("trade qty %s price %s must be positive", tr.Quantity, tr.Price)
	}
	at := tr.Timestamp
	if at.IsZero() {
		at = time.Now()
	}

	t.mu.Lock()
	k := key{tr.OwnerID, tr.Market}
	p, ok := t.positions[k]
	if !ok {
		p = &Position{OwnerID: tr.OwnerID, Market: tr.Market}
		t.positions[k] = p
	}
	realized := p.apply(tr.SignedQuantity(), tr.Price, at)
	snap := *p
	t.mu.Unlock()

	t.log.Debugw("position_updated",
		"owner", tr.OwnerID,
		"market", tr.Market,
		"side", tr.Side.String(),
		"qty", tr.Quantity.String(),
		"price", tr.Price.String(),
		"size", snap.Size.String(),
		"avg_entry", snap.AvgEntryPrice.String(),
		"realized", realized.String(),
	)

	if t.store != nil {
		if err := t.store.SavePosition(ctx, snap); err != nil {
			return snap, fmt.Errorf("save position %s/%s: %w", tr.OwnerID, tr.Market, err)
		}
	}
	return snap, nil
}

func (t *Tracker) Get(owner, market string) (Position, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	p, ok := t.positions[key{owner, market}]
	if !ok {
		return Position{}, false
	}
	return *p, true
}

// Mark returns the position with UnrealizedPnL computed against price.
func (t *Tracker) Mark(owner, market string, price decimal.Decimal) (Position, bool) {
	p, ok := t.Get(owner, market)
	if !ok {
		return Position{}, false
	}
	p.UnrealizedPnL = p.UnrealizedAt(price)
	return p, true
}

// ByOwner returns every position the owner has ever held, flat ones included.
func (t *Tracker) ByOwner(owner string) []Position {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var out []Position
	for k, p := range t.positions {
		if k.owner == owner {
			out = append(out, *p)
		}
	}
	sortPositions(out)
	return out
}

// Open returns all non-flat positions.
func (t *Tracker) Open() []Position {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var out []Position
	for _, p := range t.positions {
		if !p.IsFlat() {
			out = append(out, *p)
		}
	}
	sortPositions(out)
	return out
}

func sortPositions(ps []Position) {
	sort.Slice(ps, func(i, j int) bool {
		if ps[i].OwnerID != ps[j].OwnerID {
			return ps[i].OwnerID < ps[j].OwnerID
		}
		return ps[i].Market < ps[j].Market
	})
}
