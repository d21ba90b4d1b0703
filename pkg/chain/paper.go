package chain

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/alexlomt/tradingbot-sub000/pkg/app/core/execution"
	"github.com/alexlomt/tradingbot-sub000/pkg/app/core/market"
	"github.com/alexlomt/tradingbot-sub000/pkg/app/core/orderbook"
	"github.com/alexlomt/tradingbot-sub000/pkg/util"
)

// Paper is a simulated venue. Transactions settle against in-memory balances
// at the last price set for their pair. A configurable share of submissions
// fails on-chain so retry paths get exercised on devnet.
type Paper struct {
	mu       sync.Mutex
	balances map[string]map[string]decimal.Decimal // owner -> token -> amount
	prices   map[string]decimal.Decimal
	pools    map[string]string
	statuses map[string]execution.Status
	slot     uint64

	failureRate float64
	rng         *rand.Rand
	fee         decimal.Decimal

	log *zap.SugaredLogger
}

func NewPaper(seed int64, failureRate float64, log *zap.SugaredLogger) *Paper {
	return &Paper{
		balances:    make(map[string]map[string]decimal.Decimal),
		prices:      make(map[string]decimal.Decimal),
		pools:       make(map[string]string),
		statuses:    make(map[string]execution.Status),
		failureRate: failureRate,
		rng:         rand.New(rand.NewSource(seed)),
		fee:         decimal.NewFromInt(5000),
		log:         util.OrNop(log),
	}
}

// ListPool makes pair discoverable and sets its price.
func (p *Paper) ListPool(pair string, price decimal.Decimal) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.pools[pair]; !ok {
		p.pools[pair] = "pool-" + strings.ToLower(pair)
	}
	p.prices[pair] = price
}

func (p *Paper) DelistPool(pair string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.pools, pair)
}

func (p *Paper) SetPrice(pair string, price decimal.Decimal) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.prices[pair] = price
}

func (p *Paper) Credit(owner, token string, amount decimal.Decimal) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.adjust(owner, token, amount)
}

func (p *Paper) adjust(owner, token string, delta decimal.Decimal) {
	b, ok := p.balances[owner]
	if !ok {
		b = make(map[string]decimal.Decimal)
		p.balances[owner] = b
	}
	b[token] = b[token].Add(delta)
}

func (p *Paper) balance(owner, token string) decimal.Decimal {
	return p.balances[owner][token]
}

func (p *Paper) GetBalance(_ context.Context, owner, token string) (decimal.Decimal, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.balance(owner, token), nil
}

func (p *Paper) ListPairs(context.Context) ([]market.PairInfo, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]market.PairInfo, 0, len(p.pools))
	for pair, pool := range p.pools {
		out = append(out, market.PairInfo{Pair: pair, PoolAddress: pool})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Pair < out[j].Pair })
	return out, nil
}

func (p *Paper) SignAndSend(_ context.Context, tx *execution.Transaction) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	sig := uuid.NewString()
	p.slot++
	st := execution.Status{Slot: p.slot, Fee: p.fee}

	if p.failureRate > 0 && p.rng.Float64() < p.failureRate {
		st.Failed, st.Err = true, "simulated failure"
		p.statuses[sig] = st
		return sig, nil
	}

	price, err := p.apply(tx)
	if err != nil {
		st.Failed, st.Err = true, err.Error()
	} else {
		st.Confirmed, st.Price = true, price
	}
	p.statuses[sig] = st
	p.log.Debugw("paper_tx", "tx_id", tx.ID, "signature", sig, "confirmed", st.Confirmed, "err", st.Err)
	return sig, nil
}

func (p *Paper) SignatureStatus(_ context.Context, sig string) (execution.Status, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	st, ok := p.statuses[sig]
	if !ok {
		return execution.Status{}, fmt.Errorf("unknown signature %s", sig)
	}
	return st, nil
}

// SendBundle lands bundles the same way as single transactions.
func (p *Paper) SendBundle(ctx context.Context, tx *execution.Transaction) (string, error) {
	return p.SignAndSend(ctx, tx)
}

func (p *Paper) BundleStatus(ctx context.Context, id string) (execution.Status, error) {
	return p.SignatureStatus(ctx, id)
}

// apply executes the trade instruction of tx and returns the execution price.
func (p *Paper) apply(tx *execution.Transaction) (decimal.Decimal, error) {
	for _, ix := range tx.Instructions {
		switch ix.Kind {
		case execution.IxSwap:
			return p.swap(tx.Payer, ix.Data)
		case execution.IxSettle:
			return p.settle(ix.Data)
		}
	}
	return decimal.Zero, fmt.Errorf("no trade instruction")
}

func (p *Paper) swap(payer string, data map[string]string) (decimal.Decimal, error) {
	pair := data["pair"]
	mkt, err := market.NewMarket(pair, "")
	if err != nil {
		return decimal.Zero, err
	}
	price, ok := p.prices[pair]
	if !ok || !price.IsPositive() {
		return decimal.Zero, fmt.Errorf("no liquidity for %s", pair)
	}
	amount, err := decimal.NewFromString(data["amount"])
	if err != nil {
		return decimal.Zero, fmt.Errorf("bad amount: %w", err)
	}
	owner := data["owner"]
	if owner == "" {
		owner = payer
	}
	var side orderbook.Side
	if err := side.UnmarshalText([]byte(data["side"])); err != nil {
		return decimal.Zero, fmt.Errorf("bad side: %w", err)
	}

	if lim, err := decimal.NewFromString(data["limit_price"]); err == nil && lim.IsPositive() {
		if (side == orderbook.Buy && price.GreaterThan(lim)) || (side == orderbook.Sell && price.LessThan(lim)) {
			return decimal.Zero, fmt.Errorf("slippage: price %s beyond limit %s", price, lim)
		}
	}

	quote := amount.Mul(price)
	switch side {
	case orderbook.Buy:
		if p.balance(owner, mkt.QuoteToken).LessThan(quote) {
			return decimal.Zero, fmt.Errorf("insufficient %s", mkt.QuoteToken)
		}
		p.adjust(owner, mkt.QuoteToken, quote.Neg())
		p.adjust(owner, mkt.BaseToken, amount)
	case orderbook.Sell:
		if p.balance(owner, mkt.BaseToken).LessThan(amount) {
			return decimal.Zero, fmt.Errorf("insufficient %s", mkt.BaseToken)
		}
		p.adjust(owner, mkt.BaseToken, amount.Neg())
		p.adjust(owner, mkt.QuoteToken, quote)
	}
	return price, nil
}

// settle moves base from the ask owner to the bid owner and quote back at the fill price.
func (p *Paper) settle(data map[string]string) (decimal.Decimal, error) {
	mkt, err := market.NewMarket(data["pair"], "")
	if err != nil {
		return decimal.Zero, err
	}
	qty, err := decimal.NewFromString(data["amount"])
	if err != nil {
		return decimal.Zero, fmt.Errorf("bad amount: %w", err)
	}
	price, err := decimal.NewFromString(data["price"])
	if err != nil {
		return decimal.Zero, fmt.Errorf("bad price: %w", err)
	}
	bid, ask := data["bid_owner"], data["ask_owner"]
	if bid == "" || ask == "" {
		return decimal.Zero, fmt.Errorf("settlement needs both owners")
	}
	quote := qty.Mul(price)
	p.adjust(bid, mkt.QuoteToken, quote.Neg())
	p.adjust(bid, mkt.BaseToken, qty)
	p.adjust(ask, mkt.BaseToken, qty.Neg())
	p.adjust(ask, mkt.QuoteToken, quote)
	return price, nil
}

var (
	_ execution.Transport   = (*Paper)(nil)
	_ execution.BundleRelay = (*Paper)(nil)
	_ market.PairSource     = (*Paper)(nil)
)
