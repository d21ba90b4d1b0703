package main

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/alexlomt/tradingbot-sub000/params"
	"github.com/alexlomt/tradingbot-sub000/pkg/app/core/execution"
	"github.com/alexlomt/tradingbot-sub000/pkg/app/core/market"
	"github.com/alexlomt/tradingbot-sub000/pkg/chain"
	"github.com/alexlomt/tradingbot-sub000/pkg/crypto"
	"github.com/alexlomt/tradingbot-sub000/pkg/sim"
)

// venue bundles everything the process needs from the chain side.
type venue struct {
	payer     string
	transport execution.Transport
	balances  interface {
		GetBalance(ctx context.Context, owner, token string) (decimal.Decimal, error)
	}
	pairs   market.PairSource
	bundle  execution.BundleRelay
	private execution.Transport

	// paper is set in sim mode only
	paper *chain.Paper
	walk  *sim.PriceWalk

	// background loops that feed the market data cache
	loops []func(ctx context.Context)
	// poll is the pull source used when no push feed is configured
	poll  market.DataSource
	close func()
}

var simPrices = map[string]decimal.Decimal{
	"SOL-USDC": decimal.NewFromInt(150),
	"JUP-USDC": decimal.RequireFromString("0.8"),
}

func initialPrice(pair string) decimal.Decimal {
	if p, ok := simPrices[pair]; ok {
		return p
	}
	return decimal.NewFromInt(1)
}

func newPaperVenue(cfg params.Config, cache *market.Cache, log *zap.SugaredLogger) *venue {
	paper := chain.NewPaper(cfg.Sim.Seed, cfg.Sim.FailureRate, log.Named("paper"))
	refs := make(map[string]decimal.Decimal, len(cfg.Trading.Pairs))
	for _, pair := range cfg.Trading.Pairs {
		refs[pair] = initialPrice(pair)
		paper.ListPool(pair, refs[pair])
	}

	walk := sim.NewPriceWalk(refs, 0.2, cfg.Sim.Seed,
		sim.PriceSinkFunc(cache.Update),
		sim.PriceSinkFunc(func(s market.State) { paper.SetPrice(s.Pair, s.Price) }),
	)
	walk.Step(time.Now())

	return &venue{
		payer:     "paper",
		transport: paper,
		balances:  paper,
		pairs:     paper,
		bundle:    paper,
		private:   paper,
		paper:     paper,
		walk:      walk,
		loops: []func(context.Context){
			func(ctx context.Context) { walk.Run(ctx, time.Second) },
		},
		close: func() {},
	}
}

func newLiveVenue(ctx context.Context, cfg params.Config, cache *market.Cache, log *zap.SugaredLogger) (*venue, error) {
	if cfg.Node.RPCURL == "" {
		return nil, fmt.Errorf("RPC_URL is required outside sim mode")
	}
	signer, err := loadSigner(cfg.Node.SignerPrivateKey, log)
	if err != nil {
		return nil, err
	}

	client, err := chain.Dial(ctx, cfg.Node.RPCURL, signer, log.Named("rpc"))
	if err != nil {
		return nil, fmt.Errorf("dial rpc: %w", err)
	}
	closers := []func(){client.Close}
	v := &venue{
		payer:     signer.Address().Hex(),
		transport: client,
		balances:  client,
		pairs:     client,
	}

	if cfg.Node.BundleRelayURL != "" {
		rc, err := chain.Dial(ctx, cfg.Node.BundleRelayURL, signer, log.Named("bundle"))
		if err != nil {
			return nil, fmt.Errorf("dial bundle relay: %w", err)
		}
		closers = append(closers, rc.Close)
		v.bundle = chain.NewRelay(rc)
	}
	if cfg.Node.PrivateRelayURL != "" {
		pc, err := chain.Dial(ctx, cfg.Node.PrivateRelayURL, signer, log.Named("private"))
		if err != nil {
			return nil, fmt.Errorf("dial private relay: %w", err)
		}
		closers = append(closers, pc.Close)
		v.private = pc
	}
	v.close = func() {
		for _, c := range closers {
			c()
		}
	}

	if cfg.Node.MarketFeedURL != "" {
		feed := market.NewFeedClient(cfg.Node.MarketFeedURL, cfg.Trading.Pairs, cache, log.Named("feed"))
		v.loops = append(v.loops, feed.Run)
	} else {
		v.poll = client
	}
	return v, nil
}

func loadSigner(hexKey string, log *zap.SugaredLogger) (*crypto.Signer, error) {
	if hexKey == "" {
		s, err := crypto.GenerateKey()
		if err != nil {
			return nil, err
		}
		log.Warnw("signer_ephemeral", "address", s.Address().Hex())
		return s, nil
	}
	s, err := crypto.FromPrivateKeyHex(hexKey)
	if err != nil {
		return nil, fmt.Errorf("signer key: %w", err)
	}
	return s, nil
}

// pollMarketState refreshes the cache from the RPC endpoint when no push feed is configured.
func pollMarketState(ctx context.Context, src market.DataSource, cache *market.Cache, pairs func() []string, every time.Duration, log *zap.SugaredLogger) {
	if every <= 0 {
		every = 5 * time.Second
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		for _, pair := range pairs() {
			s, err := src.GetMarketState(ctx, pair)
			if err != nil {
				log.Debugw("market_state_poll_failed", "pair", pair, "err", err)
				continue
			}
			cache.Update(s)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (v *venue) strategies(cfg params.Execution) []execution.Strategy {
	out := []execution.Strategy{
		&execution.Standard{Transport: v.transport, PollInterval: cfg.PollInterval},
	}
	if v.bundle != nil {
		out = append(out, &execution.Bundle{Relay: v.bundle, Tip: cfg.RelayTip, PollInterval: cfg.PollInterval})
	}
	if v.private != nil {
		out = append(out, &execution.Private{Transport: v.private, PollInterval: cfg.PollInterval})
	}
	return out
}
