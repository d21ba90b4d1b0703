package execution

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/alexlomt/tradingbot-sub000/pkg/util"
)

// Journal receives every state transition of every attempt.
type Journal interface {
	Append(e JournalEntry) error
}

type JournalEntry struct {
	TxID      string    `json:"txId"`
	TradeID   string    `json:"tradeId"`
	Pair      string    `json:"pair"`
	Strategy  string    `json:"strategy"`
	State     string    `json:"state"`
	Attempt   int       `json:"attempt"`
	Signature string    `json:"signature,omitempty"`
	Err       string    `json:"err,omitempty"`
	At        time.Time `json:"at"`
}

// Observer is notified once per Execute call.
type Observer interface {
	ObserveExecution(strategy, outcome string, attempts int, elapsed time.Duration)
}

const (
	OutcomeConfirmed   = "confirmed"
	OutcomeFailed      = "failed"
	OutcomeTimeout     = "timeout"
	OutcomeRateLimited = "rate_limited"
)

// lamports charged per signature regardless of priority fee
const baseSignatureFee = 5000

var microLamports = decimal.NewFromInt(1_000_000)

// Manager executes trades on the venue. Execute never panics or returns an error
// past its boundary; every outcome is a TransactionResult.
type Manager struct {
	limiter *rate.Limiter
	builder *Builder

	mu         sync.RWMutex
	strategies map[string]Strategy

	// Optional collaborators, set before first use
	Journal  Journal
	Observer Observer
	Clock    util.Clock

	log *zap.SugaredLogger
}

// NewManager allows limit submissions per window, bursting up to limit.
func NewManager(builder *Builder, limit int, window time.Duration, log *zap.SugaredLogger) *Manager {
	if limit <= 0 {
		limit = 1
	}
	if window <= 0 {
		window = time.Second
	}
	return &Manager{
		limiter:    rate.NewLimiter(rate.Every(window/time.Duration(limit)), limit),
		builder:    builder,
		strategies: make(map[string]Strategy),
		Clock:      util.RealClock{},
		log:        util.OrNop(log),
	}
}

// Register adds or replaces a strategy under its name.
func (m *Manager) Register(s Strategy) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.strategies[s.Name()] = s
}

// selectStrategy prefers the bundle relay, then the private relay, when the
// config enables them and the user is entitled. Missing relays fall back to standard.
func (m *Manager) selectStrategy(tc TradeContext, cfg Config) (Strategy, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entitled := tc.PriorityExecution || tc.Tier >= TierPro
	if entitled && cfg.UseBundleRelay {
		if s, ok := m.strategies[StrategyBundle]; ok {
			return s, true
		}
	}
	if entitled && cfg.UsePrivateRelay {
		if s, ok := m.strategies[StrategyPrivate]; ok {
			return s, true
		}
	}
	s, ok := m.strategies[StrategyStandard]
	return s, ok
}

// Execute rate-limits, builds, submits and confirms one trade. A failed attempt
// is retried after BaseDelay × attempt until RetryCount attempts are spent or
// MaxTimeout elapses. Submission is detached from ctx cancellation so a stop
// request never abandons a transaction mid-flight.
func (m *Manager) Execute(ctx context.Context, tc TradeContext, cfg Config) (res TransactionResult) {
	start := time.Now()
	res.State = Building

	defer func() {
		if r := recover(); r != nil {
			res.Success = false
			res.State = Failed
			res.Err = fmt.Errorf("%w: panic: %v", ErrExecutionFailed, r)
			m.log.Errorw("execution_panic", "trade_id", tc.ID, "panic", r)
		}
		if m.Observer != nil {
			m.Observer.ObserveExecution(res.Strategy, outcome(res), res.Attempts, time.Since(start))
		}
	}()

	if !m.limiter.Allow() {
		res.State = Failed
		res.Err = ErrRateLimited
		m.log.Warnw("execution_rate_limited", "trade_id", tc.ID, "pair", tc.Pair)
		return res
	}

	strategy, ok := m.selectStrategy(tc, cfg)
	if !ok {
		res.State = Failed
		res.Err = fmt.Errorf("%w: no submission strategy registered", ErrExecutionFailed)
		return res
	}
	res.Strategy = strategy.Name()

	tx, err := m.builder.Build(tc, cfg)
	if err != nil {
		res.State = Failed
		res.Err = fmt.Errorf("%w: %v", ErrExecutionFailed, err)
		return res
	}
	res.TxID = tx.ID
	m.journal(tx, tc, res.Strategy, Building, 0, "", nil)

	runCtx := context.WithoutCancel(ctx)
	if cfg.MaxTimeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(runCtx, cfg.MaxTimeout)
		defer cancel()
	}

	attempts := cfg.RetryCount
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		res.Attempts = attempt

		conf, err := m.attempt(runCtx, strategy, tx, tc, attempt, &res)
		if err == nil {
			res.Success = true
			res.State = Confirmed
			res.Signature = conf.Signature
			res.ConfirmedPrice = conf.Price
			if !res.ConfirmedPrice.IsPositive() {
				res.ConfirmedPrice = tc.ExpectedPrice
			}
			res.Fee = conf.Fee
			if res.Fee.IsZero() {
				res.Fee = estimateFee(tx)
			}
			res.Err = nil
			m.journal(tx, tc, res.Strategy, Confirmed, attempt, conf.Signature, nil)
			m.log.Infow("execution_confirmed",
				"trade_id", tc.ID,
				"pair", tc.Pair,
				"side", tc.Side.String(),
				"strategy", res.Strategy,
				"attempt", attempt,
				"signature", conf.Signature,
				"price", res.ConfirmedPrice.String(),
			)
			return res
		}

		lastErr = err
		res.State = Failed
		m.journal(tx, tc, res.Strategy, Failed, attempt, res.Signature, err)
		m.log.Warnw("execution_attempt_failed",
			"trade_id", tc.ID,
			"pair", tc.Pair,
			"strategy", res.Strategy,
			"attempt", attempt,
			"of", attempts,
			"err", err,
		)

		if runCtx.Err() != nil || attempt == attempts {
			break
		}
		select {
		case <-runCtx.Done():
		case <-m.Clock.After(cfg.BaseDelay * time.Duration(attempt)):
		}
		if runCtx.Err() != nil {
			break
		}
	}

	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		res.Err = fmt.Errorf("%w after %d attempts: %w", ErrTimeout, res.Attempts, lastErr)
	} else {
		res.Err = fmt.Errorf("%w after %d attempts: %w", ErrExecutionFailed, res.Attempts, lastErr)
	}
	m.log.Errorw("execution_failed",
		"trade_id", tc.ID,
		"pair", tc.Pair,
		"strategy", res.Strategy,
		"attempts", res.Attempts,
		"err", res.Err,
	)
	return res
}

func (m *Manager) attempt(ctx context.Context, s Strategy, tx *Transaction, tc TradeContext, attempt int, res *TransactionResult) (Confirmation, error) {
	sig, err := s.Submit(ctx, tx)
	if err != nil {
		return Confirmation{}, fmt.Errorf("submit: %w", err)
	}
	res.State = Submitted
	res.Signature = sig
	m.journal(tx, tc, s.Name(), Submitted, attempt, sig, nil)

	conf, err := s.AwaitConfirmation(ctx, sig)
	if err != nil {
		return Confirmation{}, fmt.Errorf("confirm %s: %w", sig, err)
	}
	if conf.Signature == "" {
		conf.Signature = sig
	}
	return conf, nil
}

func (m *Manager) journal(tx *Transaction, tc TradeContext, strategy string, st State, attempt int, sig string, err error) {
	if m.Journal == nil {
		return
	}
	e := JournalEntry{
		TxID:      tx.ID,
		TradeID:   tc.ID,
		Pair:      tc.Pair,
		Strategy:  strategy,
		State:     st.String(),
		Attempt:   attempt,
		Signature: sig,
		At:        m.Clock.Now(),
	}
	if err != nil {
		e.Err = err.Error()
	}
	if jerr := m.Journal.Append(e); jerr != nil {
		m.log.Warnw("execution_journal_failed", "tx_id", tx.ID, "err", jerr)
	}
}

// estimateFee = base signature fee + priority fee × compute units, in lamports.
func estimateFee(tx *Transaction) decimal.Decimal {
	priority := decimal.NewFromInt(int64(tx.PriorityFee)).
		Mul(decimal.NewFromInt(int64(tx.ComputeUnitLimit))).
		Div(microLamports)
	return decimal.NewFromInt(baseSignatureFee).Add(priority)
}

func outcome(res TransactionResult) string {
	switch {
	case res.Success:
		return OutcomeConfirmed
	case errors.Is(res.Err, ErrRateLimited):
		return OutcomeRateLimited
	case errors.Is(res.Err, ErrTimeout):
		return OutcomeTimeout
	default:
		return OutcomeFailed
	}
}
