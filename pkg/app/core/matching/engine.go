package matching

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/alexlomt/tradingbot-sub000/pkg/app/core/orderbook"
	"github.com/alexlomt/tradingbot-sub000/pkg/util"
)

const DefaultTickInterval = 100 * time.Millisecond

// ErrUnknownPair is returned for orders routed to a pair without a book.
var ErrUnknownPair = errors.New("unknown pair")

// Validator screens an order before it reaches a book.
type Validator interface {
	ValidateOrder(ctx context.Context, o orderbook.Order) error
}

// FillHandler receives every fill batch in the order it was produced.
type FillHandler interface {
	OnFills(fills []orderbook.Fill)
}

type FillHandlerFunc func(fills []orderbook.Fill)

func (f FillHandlerFunc) OnFills(fills []orderbook.Fill) { f(fills) }

// History persists accepted orders and produced fills. Failures are logged only.
type History interface {
	SaveOrder(ctx context.Context, o orderbook.Order) error
	SaveFill(ctx context.Context, f orderbook.Fill) error
}

// Observer receives per-pass measurements.
type Observer interface {
	ObserveOrder(pair, outcome string)
	ObserveMatch(pair string, fills int, elapsed time.Duration)
}

const (
	OutcomeAccepted = "accepted"
	OutcomeRejected = "rejected"
	OutcomeInvalid  = "invalid"
)

type Config struct {
	TickInterval time.Duration
	PricingRule  orderbook.PricingRule
	HistorySize  int
}

// Engine owns one order book per pair and runs the periodic matching pass.
type Engine struct {
	cfg       Config
	validator Validator

	mu    sync.RWMutex
	books map[string]*orderbook.OrderBook

	hmu      sync.RWMutex
	handlers []FillHandler

	// Optional collaborators, set before Run
	History  History
	Observer Observer

	// serializes passes so a manual Tick never interleaves with the loop
	tickMu sync.Mutex

	log *zap.SugaredLogger
}

// NewEngine builds an engine. A nil validator accepts every well-formed order.
func NewEngine(cfg Config, validator Validator, log *zap.SugaredLogger) *Engine {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = DefaultTickInterval
	}
	return &Engine{
		cfg:       cfg,
		validator: validator,
		books:     make(map[string]*orderbook.OrderBook),
		log:       util.OrNop(log),
	}
}

// AddPair creates the book for pair if it does not exist yet.
func (e *Engine) AddPair(pair string) *orderbook.OrderBook {
	e.mu.Lock()
	defer e.mu.Unlock()
	if ob, ok := e.books[pair]; ok {
		return ob
	}
	ob := orderbook.NewOrderBook(pair, e.cfg.PricingRule)
	ob.SetHistorySize(e.cfg.HistorySize)
	e.books[pair] = ob
	e.log.Infow("book_created", "pair", pair, "pricing", e.cfg.PricingRule.String())
	return ob
}

// Pairs returns the pairs with a book, sorted.
func (e *Engine) Pairs() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]string, 0, len(e.books))
	for p := range e.books {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

func (e *Engine) book(pair string) (*orderbook.OrderBook, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	ob, ok := e.books[pair]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPair, pair)
	}
	return ob, nil
}

// Submit runs risk validation and hands the order to its book. A rejected order
// never touches the book. Market orders return their fills immediately; limit
// orders rest until the next pass.
func (e *Engine) Submit(ctx context.Context, o orderbook.Order) ([]orderbook.Fill, error) {
	if o.ID == "" {
		o.ID = uuid.NewString()
	}
	if o.CreatedAt.IsZero() {
		o.CreatedAt = time.Now()
	}

	ob, err := e.book(o.Pair)
	if err != nil {
		e.observeOrder(o.Pair, OutcomeInvalid)
		return nil, err
	}

	if err := o.Validate(); err != nil {
		e.observeOrder(o.Pair, OutcomeInvalid)
		return nil, err
	}

	if e.validator != nil {
		if err := e.validator.ValidateOrder(ctx, o); err != nil {
			e.observeOrder(o.Pair, OutcomeRejected)
			e.log.Warnw("order_rejected",
				"order_id", o.ID,
				"pair", o.Pair,
				"owner", o.OwnerID,
				"side", o.Side.String(),
				"err", err,
			)
			return nil, err
		}
	}

	fills, err := ob.Add(o)
	if err != nil {
		e.observeOrder(o.Pair, OutcomeInvalid)
		return nil, err
	}
	e.observeOrder(o.Pair, OutcomeAccepted)
	e.log.Debugw("order_accepted",
		"order_id", o.ID,
		"pair", o.Pair,
		"side", o.Side.String(),
		"kind", o.Kind.String(),
		"price", o.Price.String(),
		"qty", o.Quantity.String(),
	)

	if e.History != nil {
		if stored, ok := ob.Order(o.ID); ok {
			o = stored
		}
		if err := e.History.SaveOrder(ctx, o); err != nil {
			e.log.Warnw("order_persist_failed", "order_id", o.ID, "err", err)
		}
	}
	e.dispatch(ctx, fills)
	return fills, nil
}

// Cancel removes a resting order owned by owner.
func (e *Engine) Cancel(ctx context.Context, pair, id, owner string) (orderbook.Order, error) {
	ob, err := e.book(pair)
	if err != nil {
		return orderbook.Order{}, err
	}
	o, err := ob.Cancel(id, owner)
	if err != nil {
		return orderbook.Order{}, err
	}
	e.log.Infow("order_cancelled", "order_id", id, "pair", pair, "owner", owner)
	if e.History != nil {
		if err := e.History.SaveOrder(ctx, o); err != nil {
			e.log.Warnw("order_persist_failed", "order_id", id, "err", err)
		}
	}
	return o, nil
}

func (e *Engine) Snapshot(pair string, depth int) (orderbook.Snapshot, error) {
	ob, err := e.book(pair)
	if err != nil {
		return orderbook.Snapshot{}, err
	}
	return ob.Snapshot(depth), nil
}

func (e *Engine) Order(pair, id string) (orderbook.Order, bool) {
	ob, err := e.book(pair)
	if err != nil {
		return orderbook.Order{}, false
	}
	return ob.Order(id)
}

// Subscribe registers h for every future fill batch.
func (e *Engine) Subscribe(h FillHandler) {
	e.hmu.Lock()
	defer e.hmu.Unlock()
	e.handlers = append(e.handlers, h)
}

// Tick runs one matching pass over every book in sorted pair order and
// returns all fills produced.
func (e *Engine) Tick(ctx context.Context) []orderbook.Fill {
	e.tickMu.Lock()
	defer e.tickMu.Unlock()

	var all []orderbook.Fill
	for _, pair := range e.Pairs() {
		ob, err := e.book(pair)
		if err != nil {
			continue
		}
		start := time.Now()
		fills := ob.Match()
		if e.Observer != nil {
			e.Observer.ObserveMatch(pair, len(fills), time.Since(start))
		}
		if len(fills) == 0 {
			continue
		}
		e.log.Infow("match_pass",
			"pair", pair,
			"fills", len(fills),
			"last_price", ob.LastPrice().String(),
		)
		e.dispatch(ctx, fills)
		all = append(all, fills...)
	}
	return all
}

// Run ticks every TickInterval until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) {
	ticker := time.NewTicker(e.cfg.TickInterval)
	defer ticker.Stop()

	e.log.Infow("matching_started", "interval", e.cfg.TickInterval.String())
	for {
		select {
		case <-ctx.Done():
			e.log.Infow("matching_stopped")
			return
		case <-ticker.C:
			e.Tick(ctx)
		}
	}
}

func (e *Engine) dispatch(ctx context.Context, fills []orderbook.Fill) {
	if len(fills) == 0 {
		return
	}
	if e.History != nil {
		for _, f := range fills {
			if err := e.History.SaveFill(ctx, f); err != nil {
				e.log.Warnw("fill_persist_failed", "fill_id", f.ID, "err", err)
			}
		}
	}

	e.hmu.RLock()
	handlers := append([]FillHandler(nil), e.handlers...)
	e.hmu.RUnlock()

	for _, h := range handlers {
		e.safeHandle(h, fills)
	}
}

func (e *Engine) safeHandle(h FillHandler, fills []orderbook.Fill) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Errorw("fill_handler_panic", "panic", r)
		}
	}()
	h.OnFills(append([]orderbook.Fill(nil), fills...))
}

func (e *Engine) observeOrder(pair, outcome string) {
	if e.Observer != nil {
		e.Observer.ObserveOrder(pair, outcome)
	}
}
