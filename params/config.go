package params

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

type Node struct {
	DataDir  string
	LogFile  string
	LogLevel string
	// OpsAddr serves health, metrics and the read-only event stream. Empty disables it.
	OpsAddr string

	RPCURL           string
	BundleRelayURL   string
	PrivateRelayURL  string
	MarketFeedURL    string
	KafkaBrokers     []string
	KafkaAuditTopic  string
	SignerPrivateKey string

	// Sim runs against the in-process paper venue and generates devnet order flow.
	Sim bool
}

type Matching struct {
	TickInterval time.Duration
	// PricingRule is "midpoint" or "maker".
	PricingRule string
	HistorySize int
}

type Trading struct {
	// SingleActivePosition allows at most one open position across the whole engine.
	SingleActivePosition bool
	MaxBuyRetries        int
	MaxSellRetries       int
	RetryDelay           time.Duration
	PriceCheckInterval   time.Duration
	DeleverageInterval   time.Duration
	LimitRefreshInterval time.Duration
	DefaultAmount        decimal.Decimal
	DefaultSlippageBps   int64
	SettlementQueue      int
	// Pairs seeds the market registry before discovery runs.
	Pairs             []string
	DiscoveryInterval time.Duration
	// DefaultTier applies to users without an explicit subscription.
	DefaultTier string
}

// Sim drives the paper venue and the devnet order flow generator.
type Sim struct {
	Traders         int
	OrdersPerTick   int
	Interval        time.Duration
	FailureRate     float64
	StartingBalance decimal.Decimal
	Seed            int64
}

type Execution struct {
	RetryCount       int
	BaseDelay        time.Duration
	MaxTimeout       time.Duration
	PollInterval     time.Duration
	RateLimit        int
	RateWindow       time.Duration
	PriorityFee      uint64 // micro-lamports per compute unit, before tier multiplier
	ComputeUnitLimit uint32
	UseBundleRelay   bool
	UsePrivateRelay  bool
	RelayTip         uint64
}

type Risk struct {
	TakeProfitPct        decimal.Decimal
	StopLossPct          decimal.Decimal
	MaxHoldDuration      time.Duration
	LiquidationThreshold decimal.Decimal // fraction of collateral
	EmergencyVolatility  decimal.Decimal
	MaxConcentrationPct  decimal.Decimal

	MediumRatio   decimal.Decimal
	HighRatio     decimal.Decimal
	CriticalRatio decimal.Decimal

	MaxOrderSize        decimal.Decimal
	MaxPositionSize     decimal.Decimal
	MaxLeverage         decimal.Decimal
	VolatilityThreshold decimal.Decimal
	MinOrderInterval    time.Duration
	MaxDailyVolume      decimal.Decimal
	MaxDailyTrades      int

	// EmergencyClose starts the gate with the close-everything flag raised.
	EmergencyClose bool
}

type Config struct {
	Node      Node
	Matching  Matching
	Trading   Trading
	Execution Execution
	Risk      Risk
	Sim       Sim
}

func Default() Config {
	return Config{
		Node: Node{
			DataDir:         "./data",
			LogFile:         "./logs/trader.log",
			LogLevel:        "info",
			OpsAddr:         ":8080",
			KafkaAuditTopic: "trading-audit",
			Sim:             true,
		},
		Matching: Matching{
			TickInterval: 100 * time.Millisecond,
			PricingRule:  "midpoint",
			HistorySize:  10000,
		},
		Trading: Trading{
			SingleActivePosition: true,
			MaxBuyRetries:        3,
			MaxSellRetries:       5,
			RetryDelay:           2 * time.Second,
			PriceCheckInterval:   5 * time.Second,
			DeleverageInterval:   30 * time.Second,
			LimitRefreshInterval: time.Minute,
			DefaultAmount:        decimal.NewFromInt(100),
			DefaultSlippageBps:   100,
			SettlementQueue:      1024,
			Pairs:                []string{"SOL-USDC", "JUP-USDC"},
			DiscoveryInterval:    5 * time.Minute,
			DefaultTier:          "free",
		},
		Execution: Execution{
			RetryCount:       3,
			BaseDelay:        500 * time.Millisecond,
			MaxTimeout:       30 * time.Second,
			PollInterval:     400 * time.Millisecond,
			RateLimit:        10,
			RateWindow:       time.Second,
			PriorityFee:      10000,
			ComputeUnitLimit: 200000,
			RelayTip:         10000,
		},
		Risk: Risk{
			TakeProfitPct:        decimal.NewFromInt(20),
			StopLossPct:          decimal.NewFromInt(10),
			MaxHoldDuration:      24 * time.Hour,
			LiquidationThreshold: decimal.RequireFromString("0.8"),
			EmergencyVolatility:  decimal.NewFromInt(50),
			MaxConcentrationPct:  decimal.NewFromInt(50),
			MediumRatio:          decimal.NewFromInt(2),
			HighRatio:            decimal.NewFromInt(3),
			CriticalRatio:        decimal.NewFromInt(5),
			MaxOrderSize:         decimal.NewFromInt(10000),
			MaxPositionSize:      decimal.NewFromInt(1000),
			MaxLeverage:          decimal.NewFromInt(5),
			VolatilityThreshold:  decimal.NewFromInt(25),
			MinOrderInterval:     0,
			MaxDailyVolume:       decimal.NewFromInt(100000),
			MaxDailyTrades:       100,
		},
		Sim: Sim{
			Traders:         20,
			OrdersPerTick:   10,
			Interval:        100 * time.Millisecond,
			FailureRate:     0.05,
			StartingBalance: decimal.NewFromInt(100000),
			Seed:            1,
		},
	}
}

// LoadFromEnv loads configuration from .env file (if exists) and environment variables
// Priority: ENV > .env file > defaults
func LoadFromEnv(envPath string) Config {
	cfg := Default()

	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load()
	}

	cfg.Node.DataDir = getEnv("DATA_DIR", cfg.Node.DataDir)
	cfg.Node.LogFile = getEnv("LOG_FILE", cfg.Node.LogFile)
	cfg.Node.LogLevel = getEnv("LOG_LEVEL", cfg.Node.LogLevel)
	cfg.Node.OpsAddr = getEnv("OPS_ADDR", cfg.Node.OpsAddr)
	cfg.Node.RPCURL = getEnv("RPC_URL", cfg.Node.RPCURL)
	cfg.Node.BundleRelayURL = getEnv("BUNDLE_RELAY_URL", cfg.Node.BundleRelayURL)
	cfg.Node.PrivateRelayURL = getEnv("PRIVATE_RELAY_URL", cfg.Node.PrivateRelayURL)
	cfg.Node.MarketFeedURL = getEnv("MARKET_FEED_URL", cfg.Node.MarketFeedURL)
	cfg.Node.KafkaAuditTopic = getEnv("KAFKA_AUDIT_TOPIC", cfg.Node.KafkaAuditTopic)
	cfg.Node.SignerPrivateKey = getEnv("SIGNER_PRIVATE_KEY", cfg.Node.SignerPrivateKey)
	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		// Example: "kafka-1:9092,kafka-2:9092"
		cfg.Node.KafkaBrokers = strings.Split(brokers, ",")
	}
	cfg.Node.Sim = getBool("SIM", cfg.Node.Sim)

	cfg.Matching.TickInterval = getMillis("MATCH_TICK_MS", cfg.Matching.TickInterval)
	cfg.Matching.PricingRule = getEnv("MATCH_PRICING_RULE", cfg.Matching.PricingRule)
	cfg.Matching.HistorySize = getInt("MATCH_HISTORY_SIZE", cfg.Matching.HistorySize)

	cfg.Trading.SingleActivePosition = getBool("SINGLE_ACTIVE_POSITION", cfg.Trading.SingleActivePosition)
	cfg.Trading.MaxBuyRetries = getInt("MAX_BUY_RETRIES", cfg.Trading.MaxBuyRetries)
	cfg.Trading.MaxSellRetries = getInt("MAX_SELL_RETRIES", cfg.Trading.MaxSellRetries)
	cfg.Trading.RetryDelay = getMillis("TRADE_RETRY_DELAY_MS", cfg.Trading.RetryDelay)
	cfg.Trading.PriceCheckInterval = getMillis("PRICE_CHECK_INTERVAL_MS", cfg.Trading.PriceCheckInterval)
	cfg.Trading.DeleverageInterval = getMillis("DELEVERAGE_INTERVAL_MS", cfg.Trading.DeleverageInterval)
	cfg.Trading.LimitRefreshInterval = getMillis("LIMIT_REFRESH_INTERVAL_MS", cfg.Trading.LimitRefreshInterval)
	cfg.Trading.DefaultAmount = getDecimal("DEFAULT_TRADE_AMOUNT", cfg.Trading.DefaultAmount)
	cfg.Trading.DefaultSlippageBps = int64(getInt("DEFAULT_SLIPPAGE_BPS", int(cfg.Trading.DefaultSlippageBps)))
	cfg.Trading.SettlementQueue = getInt("SETTLEMENT_QUEUE", cfg.Trading.SettlementQueue)
	if pairs := os.Getenv("PAIRS"); pairs != "" {
		cfg.Trading.Pairs = strings.Split(pairs, ",")
	}
	cfg.Trading.DiscoveryInterval = getMillis("DISCOVERY_INTERVAL_MS", cfg.Trading.DiscoveryInterval)
	cfg.Trading.DefaultTier = getEnv("DEFAULT_TIER", cfg.Trading.DefaultTier)

	cfg.Execution.RetryCount = getInt("EXEC_RETRY_COUNT", cfg.Execution.RetryCount)
	cfg.Execution.BaseDelay = getMillis("EXEC_BASE_DELAY_MS", cfg.Execution.BaseDelay)
	cfg.Execution.MaxTimeout = getMillis("EXEC_MAX_TIMEOUT_MS", cfg.Execution.MaxTimeout)
	cfg.Execution.PollInterval = getMillis("EXEC_POLL_INTERVAL_MS", cfg.Execution.PollInterval)
	cfg.Execution.RateLimit = getInt("EXEC_RATE_LIMIT", cfg.Execution.RateLimit)
	cfg.Execution.RateWindow = getMillis("EXEC_RATE_WINDOW_MS", cfg.Execution.RateWindow)
	cfg.Execution.PriorityFee = uint64(getInt("EXEC_PRIORITY_FEE", int(cfg.Execution.PriorityFee)))
	cfg.Execution.UseBundleRelay = getBool("EXEC_USE_BUNDLE_RELAY", cfg.Execution.UseBundleRelay)
	cfg.Execution.UsePrivateRelay = getBool("EXEC_USE_PRIVATE_RELAY", cfg.Execution.UsePrivateRelay)
	cfg.Execution.RelayTip = uint64(getInt("EXEC_RELAY_TIP", int(cfg.Execution.RelayTip)))

	cfg.Risk.TakeProfitPct = getDecimal("RISK_TAKE_PROFIT_PCT", cfg.Risk.TakeProfitPct)
	cfg.Risk.StopLossPct = getDecimal("RISK_STOP_LOSS_PCT", cfg.Risk.StopLossPct)
	cfg.Risk.MaxHoldDuration = getMillis("RISK_MAX_HOLD_MS", cfg.Risk.MaxHoldDuration)
	cfg.Risk.LiquidationThreshold = getDecimal("RISK_LIQUIDATION_THRESHOLD", cfg.Risk.LiquidationThreshold)
	cfg.Risk.EmergencyVolatility = getDecimal("RISK_EMERGENCY_VOLATILITY", cfg.Risk.EmergencyVolatility)
	cfg.Risk.MaxConcentrationPct = getDecimal("RISK_MAX_CONCENTRATION_PCT", cfg.Risk.MaxConcentrationPct)
	cfg.Risk.MaxOrderSize = getDecimal("RISK_MAX_ORDER_SIZE", cfg.Risk.MaxOrderSize)
	cfg.Risk.MaxPositionSize = getDecimal("RISK_MAX_POSITION_SIZE", cfg.Risk.MaxPositionSize)
	cfg.Risk.MaxLeverage = getDecimal("RISK_MAX_LEVERAGE", cfg.Risk.MaxLeverage)
	cfg.Risk.VolatilityThreshold = getDecimal("RISK_VOLATILITY_THRESHOLD", cfg.Risk.VolatilityThreshold)
	cfg.Risk.MinOrderInterval = getMillis("RISK_MIN_ORDER_INTERVAL_MS", cfg.Risk.MinOrderInterval)
	cfg.Risk.MaxDailyVolume = getDecimal("RISK_MAX_DAILY_VOLUME", cfg.Risk.MaxDailyVolume)
	cfg.Risk.MaxDailyTrades = getInt("RISK_MAX_DAILY_TRADES", cfg.Risk.MaxDailyTrades)
	cfg.Risk.MediumRatio = getDecimal("RISK_MEDIUM_RATIO", cfg.Risk.MediumRatio)
	cfg.Risk.HighRatio = getDecimal("RISK_HIGH_RATIO", cfg.Risk.HighRatio)
	cfg.Risk.CriticalRatio = getDecimal("RISK_CRITICAL_RATIO", cfg.Risk.CriticalRatio)
	cfg.Risk.EmergencyClose = getBool("RISK_EMERGENCY_CLOSE", cfg.Risk.EmergencyClose)

	cfg.Sim.Traders = getInt("SIM_TRADERS", cfg.Sim.Traders)
	cfg.Sim.OrdersPerTick = getInt("SIM_ORDERS_PER_TICK", cfg.Sim.OrdersPerTick)
	cfg.Sim.Interval = getMillis("SIM_INTERVAL_MS", cfg.Sim.Interval)
	cfg.Sim.FailureRate = getFloat("SIM_FAILURE_RATE", cfg.Sim.FailureRate)
	cfg.Sim.StartingBalance = getDecimal("SIM_STARTING_BALANCE", cfg.Sim.StartingBalance)
	cfg.Sim.Seed = int64(getInt("SIM_SEED", int(cfg.Sim.Seed)))

	return cfg
}

// getEnv returns environment variable value or default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getInt(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultValue
}

func getFloat(key string, defaultValue float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getBool(key string, defaultValue bool) bool {
	if v := os.Getenv(key); v != "" {
		return v == "true"
	}
	return defaultValue
}

// getMillis reads a duration expressed in milliseconds.
func getMillis(key string, defaultValue time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if ms, err := strconv.Atoi(v); err == nil {
			return time.Duration(ms) * time.Millisecond
		}
	}
	return defaultValue
}

func getDecimal(key string, defaultValue decimal.Decimal) decimal.Decimal {
	if v := os.Getenv(key); v != "" {
		if d, err := decimal.NewFromString(v); err == nil {
			return d
		}
	}
	return defaultValue
}
