package execution

import (
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alexlomt/tradingbot-sub000/pkg/app/core/orderbook"
)

var (
	// ErrRateLimited is returned without submitting when the local token bucket is empty.
	ErrRateLimited = errors.New("rate limited")
	// ErrExecutionFailed wraps the last submission or confirmation error once retries are exhausted.
	ErrExecutionFailed = errors.New("execution failed")
	// ErrTimeout means MaxTimeout elapsed before a confirmation.
	ErrTimeout = errors.New("execution timeout")
)

// Tier is the subscription tier of the user a trade runs for.
type Tier int8

const (
	TierFree Tier = iota
	TierBasic
	TierPro
	TierEnterprise
)

func ParseTier(s string) Tier {
	switch strings.ToLower(s) {
	case "basic":
		return TierBasic
	case "pro":
		return TierPro
	case "enterprise":
		return TierEnterprise
	default:
		return TierFree
	}
}

func (t Tier) String() string {
	switch t {
	case TierBasic:
		return "basic"
	case TierPro:
		return "pro"
	case TierEnterprise:
		return "enterprise"
	default:
		return "free"
	}
}

// feeMultiplierPct scales the base priority fee per tier.
func (t Tier) feeMultiplierPct() uint64 {
	switch t {
	case TierBasic:
		return 150
	case TierPro:
		return 200
	case TierEnterprise:
		return 300
	default:
		return 100
	}
}

// PriorityFee returns base raised by the tier multiplier.
func PriorityFee(base uint64, t Tier) uint64 {
	return base * t.feeMultiplierPct() / 100
}

type Action int8

const (
	ActionSwap Action = iota
	ActionSettle
)

func (a Action) String() string {
	switch a {
	case ActionSettle:
		return "settle"
	default:
		return "swap"
	}
}

// TradeContext describes one attempted buy, sell or settlement.
// It lives for a single Execute call.
type TradeContext struct {
	ID                string
	Pair              string
	Side              orderbook.Side
	Action            Action
	Amount            decimal.Decimal // base units
	ExpectedPrice     decimal.Decimal
	SlippageBps       int64
	PositionID        string
	Owner             string
	Tier              Tier
	PriorityExecution bool
	Timestamp         time.Time
	Metadata          map[string]string
}

type Config struct {
	RetryCount       int
	BaseDelay        time.Duration
	MaxTimeout       time.Duration
	UseBundleRelay   bool
	UsePrivateRelay  bool
	PriorityFee      uint64
	ComputeUnitLimit uint32
	RelayTip         uint64
}

// State of one trade attempt: Building -> Submitted -> Confirmed | Failed,
// Failed -> Submitted while retries remain.
type State int8

const (
	Building State = iota
	Submitted
	Confirmed
	Failed
)

func (s State) String() string {
	switch s {
	case Building:
		return "BUILDING"
	case Submitted:
		return "SUBMITTED"
	case Confirmed:
		return "CONFIRMED"
	case Failed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

type TransactionResult struct {
	Success        bool
	Signature      string
	Err            error
	ConfirmedPrice decimal.Decimal
	Fee            decimal.Decimal // lamports
	Attempts       int
	State          State
	Strategy       string
	TxID           string
}

// Status is what the venue reports for a submitted signature or bundle.
type Status struct {
	Confirmed bool
	Failed    bool
	Err       string
	Price     decimal.Decimal
	Fee       decimal.Decimal
	Slot      uint64
}

// Confirmation is a landed transaction.
type Confirmation struct {
	Signature string
	Price     decimal.Decimal
	Fee       decimal.Decimal
	Slot      uint64
}
