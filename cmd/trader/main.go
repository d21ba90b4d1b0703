package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/alexlomt/tradingbot-sub000/params"
	"github.com/alexlomt/tradingbot-sub000/pkg/api"
	"github.com/alexlomt/tradingbot-sub000/pkg/app/core/execution"
	"github.com/alexlomt/tradingbot-sub000/pkg/app/core/market"
	"github.com/alexlomt/tradingbot-sub000/pkg/app/core/matching"
	"github.com/alexlomt/tradingbot-sub000/pkg/app/core/orderbook"
	"github.com/alexlomt/tradingbot-sub000/pkg/app/core/position"
	"github.com/alexlomt/tradingbot-sub000/pkg/app/core/risk"
	"github.com/alexlomt/tradingbot-sub000/pkg/app/trading"
	"github.com/alexlomt/tradingbot-sub000/pkg/events"
	"github.com/alexlomt/tradingbot-sub000/pkg/metrics"
	"github.com/alexlomt/tradingbot-sub000/pkg/sim"
	"github.com/alexlomt/tradingbot-sub000/pkg/storage"
	"github.com/alexlomt/tradingbot-sub000/pkg/util"
)

func main() {
	envPath := flag.String("env", "", "path to a .env file (default: ./.env if present)")
	flag.Parse()

	cfg := params.LoadFromEnv(*envPath)

	logger, err := util.NewLoggerWithFile(cfg.Node.LogFile, cfg.Node.LogLevel)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()
	sugar.Infow("logger_initialized", "log_file", cfg.Node.LogFile, "level", cfg.Node.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, sugar); err != nil {
		sugar.Errorw("trader_failed", "err", err)
		logger.Sync()
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg params.Config, log *zap.SugaredLogger) error {
	// ---- Storage ----
	if err := os.MkdirAll(cfg.Node.DataDir, 0o755); err != nil {
		return err
	}
	store, err := storage.NewPebbleStore(filepath.Join(cfg.Node.DataDir, "pebble"))
	if err != nil {
		return err
	}
	defer store.Close()

	journal, err := storage.NewFileJournal(filepath.Join(cfg.Node.DataDir, "execution.journal"))
	if err != nil {
		return err
	}
	defer journal.Close()

	// ---- Metrics ----
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	// ---- Venue and market data ----
	cache := market.NewCache(0)
	var v *venue
	if cfg.Node.Sim {
		v = newPaperVenue(cfg, cache, log)
	} else {
		if v, err = newLiveVenue(ctx, cfg, cache, log); err != nil {
			return err
		}
	}
	defer v.close()

	registry := market.NewRegistry()
	for _, pair := range cfg.Trading.Pairs {
		mk, err := market.NewMarket(pair, "")
		if err != nil {
			log.Warnw("market_seed_invalid", "pair", pair, "err", err)
			continue
		}
		registry.Register(mk)
	}
	if _, err := registry.Discover(ctx, v.pairs); err != nil {
		log.Warnw("market_discovery_failed", "err", err)
	}

	// ---- Risk ----
	tracker := position.NewTracker(store, log.Named("positions"))
	stats := trading.NewStatsBook(nil)
	perms := &risk.StaticPermissions{DefaultTier: cfg.Trading.DefaultTier, Stats: stats}
	gate := risk.NewGate(riskConfig(cfg.Risk), risk.Deps{
		Markets:     registry,
		Data:        cache,
		Balances:    v.balances,
		Permissions: perms,
		Positions:   tracker,
		Stats:       stats,
	}, log.Named("risk"))
	if cfg.Risk.EmergencyClose {
		gate.SetEmergencyClose(true)
	}

	// ---- Execution ----
	manager := execution.NewManager(execution.NewBuilder(v.payer), cfg.Execution.RateLimit, cfg.Execution.RateWindow, log.Named("execution"))
	for _, s := range v.strategies(cfg.Execution) {
		manager.Register(s)
	}
	manager.Journal = journal
	manager.Observer = m

	// ---- Matching ----
	rule, err := orderbook.ParsePricingRule(cfg.Matching.PricingRule)
	if err != nil {
		return err
	}
	books := matching.NewEngine(matching.Config{
		TickInterval: cfg.Matching.TickInterval,
		PricingRule:  rule,
		HistorySize:  cfg.Matching.HistorySize,
	}, gate, log.Named("matching"))
	books.History = store
	books.Observer = m
	for _, mk := range registry.ListActive() {
		books.AddPair(mk.Pair)
	}

	// ---- Events ----
	var sink events.Sink = events.LogSink{Log: log.Named("audit")}
	if len(cfg.Node.KafkaBrokers) > 0 {
		sink = events.NewKafkaSink(cfg.Node.KafkaBrokers, cfg.Node.KafkaAuditTopic)
	}
	recorder := events.NewAsyncRecorder(sink, 0, log.Named("audit"))
	defer recorder.Close()
	bus := events.NewBus(log.Named("events"))
	bus.Subscribe(recorder)

	// ---- Trading engine ----
	engine := trading.NewEngine(tradingConfig(cfg), trading.Deps{
		Risk:        gate,
		Executor:    manager,
		Positions:   tracker,
		Data:        cache,
		Markets:     registry,
		Balances:    v.balances,
		Permissions: perms,
		Stats:       stats,
		Store:       store,
		Bus:         bus,
		Observer:    m,
		Pairs:       books.Pairs,
	}, log.Named("trading"))
	books.Subscribe(engine)
	if err := engine.Start(ctx); err != nil {
		return err
	}
	defer engine.Stop()

	var wg sync.WaitGroup
	spawn := func(f func(context.Context)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			f(ctx)
		}()
	}
	defer wg.Wait()

	for _, loop := range v.loops {
		spawn(loop)
	}
	if v.poll != nil {
		spawn(func(ctx context.Context) {
			pollMarketState(ctx, v.poll, cache, books.Pairs, cfg.Trading.PriceCheckInterval, log)
		})
	}
	spawn(books.Run)
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGUSR1, syscall.SIGUSR2)
	defer signal.Stop(sigs)
	spawn(func(ctx context.Context) { watchEmergencySignals(ctx, sigs, gate, log) })
	spawn(func(ctx context.Context) {
		discoverMarkets(ctx, registry, v, books, cfg.Trading.DiscoveryInterval, log)
	})

	// ---- Devnet order flow ----
	if cfg.Node.Sim {
		traders := sim.Traders(cfg.Sim.Traders)
		sim.Fund(v.paper, traders, v.walk.Prices(), cfg.Sim.StartingBalance)
		feeder := sim.NewFeeder(sim.FeederConfig{
			Traders:       cfg.Sim.Traders,
			OrdersPerTick: cfg.Sim.OrdersPerTick,
			Interval:      cfg.Sim.Interval,
			Pairs:         books.Pairs(),
			Seed:          cfg.Sim.Seed,
		}, books, cache, log.Named("sim"))
		spawn(feeder.Run)

		auto := sim.NewAutotrader(engine, traders, books.Pairs, cfg.Sim.Seed, log.Named("sim"))
		spawn(func(ctx context.Context) { auto.Run(ctx, cfg.Trading.PriceCheckInterval*6) })
		log.Infow("sim_enabled", "traders", cfg.Sim.Traders, "orders_per_tick", cfg.Sim.OrdersPerTick)
	}

	// ---- Ops API ----
	if cfg.Node.OpsAddr != "" {
		server := api.NewServer(api.Deps{
			Books:     books,
			Positions: tracker,
			Trading:   engine,
			Fills:     store,
			Markets:   registry,
			Prices:    cache,
			Gatherer:  reg,
		}, log.Named("api"))
		bus.Subscribe(server.Hub())
		spawn(func(ctx context.Context) {
			log.Infow("api_server_starting", "addr", cfg.Node.OpsAddr)
			if err := server.Start(ctx, cfg.Node.OpsAddr); err != nil {
				log.Errorw("api_server_failed", "err", err)
			}
		})
	}

	log.Infow("trader_started",
		"sim", cfg.Node.Sim,
		"pairs", books.Pairs(),
		"pricing_rule", cfg.Matching.PricingRule,
		"single_active_position", cfg.Trading.SingleActivePosition)

	<-ctx.Done()
	log.Infow("trader_stopping", "active_positions", len(engine.ActivePositions()), "pending_settlements", engine.PendingSettlements())
	return nil
}

// discoverMarkets lists venue pairs every interval and opens a book for each new one.
func discoverMarkets(ctx context.Context, registry *market.Registry, v *venue, books *matching.Engine, every time.Duration, log *zap.SugaredLogger) {
	if every <= 0 {
		return
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		added, err := registry.Discover(ctx, v.pairs)
		if err != nil {
			log.Warnw("market_discovery_failed", "err", err)
			continue
		}
		for _, pair := range added {
			books.AddPair(pair)
		}
		if len(added) > 0 {
			log.Infow("markets_discovered", "added", added)
		}
	}
}

type emergencySwitch interface {
	SetEmergencyClose(on bool)
}

// watchEmergencySignals raises the emergency close flag on SIGUSR1 and clears it on SIGUSR2.
func watchEmergencySignals(ctx context.Context, sigs <-chan os.Signal, sw emergencySwitch, log *zap.SugaredLogger) {
	for {
		select {
		case <-ctx.Done():
			return
		case sig := <-sigs:
			switch sig {
			case syscall.SIGUSR1:
				sw.SetEmergencyClose(true)
			case syscall.SIGUSR2:
				sw.SetEmergencyClose(false)
			default:
				continue
			}
			log.Infow("emergency_close_signal", "signal", sig.String())
		}
	}
}

func riskConfig(r params.Risk) risk.Config {
	return risk.Config{
		Base: risk.Params{
			MaxOrderSize:        r.MaxOrderSize,
			MaxPositionSize:     r.MaxPositionSize,
			MaxLeverage:         r.MaxLeverage,
			VolatilityThreshold: r.VolatilityThreshold,
			MinOrderInterval:    r.MinOrderInterval,
			MaxDailyVolume:      r.MaxDailyVolume,
		},
		TakeProfitPct:        r.TakeProfitPct,
		StopLossPct:          r.StopLossPct,
		MaxHoldDuration:      r.MaxHoldDuration,
		LiquidationThreshold: r.LiquidationThreshold,
		EmergencyVolatility:  r.EmergencyVolatility,
		MaxConcentrationPct:  r.MaxConcentrationPct,
		MaxDailyTrades:       r.MaxDailyTrades,
		Levels: risk.Thresholds{
			Medium:   r.MediumRatio,
			High:     r.HighRatio,
			Critical: r.CriticalRatio,
		},
	}
}

func tradingConfig(cfg params.Config) trading.Config {
	t := cfg.Trading
	e := cfg.Execution
	return trading.Config{
		SingleActivePosition: t.SingleActivePosition,
		MaxBuyRetries:        t.MaxBuyRetries,
		MaxSellRetries:       t.MaxSellRetries,
		RetryDelay:           t.RetryDelay,
		PriceCheckInterval:   t.PriceCheckInterval,
		DeleverageInterval:   t.DeleverageInterval,
		LimitRefreshInterval: t.LimitRefreshInterval,
		DefaultAmount:        t.DefaultAmount,
		DefaultSlippageBps:   t.DefaultSlippageBps,
		SettlementQueue:      t.SettlementQueue,
		Execution: execution.Config{
			RetryCount:       e.RetryCount,
			BaseDelay:        e.BaseDelay,
			MaxTimeout:       e.MaxTimeout,
			UseBundleRelay:   e.UseBundleRelay,
			UsePrivateRelay:  e.UsePrivateRelay,
			PriorityFee:      e.PriorityFee,
			ComputeUnitLimit: e.ComputeUnitLimit,
			RelayTip:         e.RelayTip,
		},
	}
}
