package execution

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/alexlomt/tradingbot-sub000/pkg/app/core/orderbook"
	"github.com/alexlomt/tradingbot-sub000/pkg/util"
)

type fakeTransport struct {
	sends    atomic.Int32
	failSend error
	status   Status
	statusFn func() Status
}

func (f *fakeTransport) SignAndSend(_ context.Context, tx *Transaction) (string, error) {
	n := f.sends.Add(1)
	if f.failSend != nil {
		return "", f.failSend
	}
	return tx.ID + "-sig-" + string(rune('0'+n)), nil
}

func (f *fakeTransport) SignatureStatus(context.Context, string) (Status, error) {
	if f.statusFn != nil {
		return f.statusFn(), nil
	}
	return f.status, nil
}

type fakeRelay struct {
	sent []*Transaction
}

func (r *fakeRelay) SendBundle(_ context.Context, tx *Transaction) (string, error) {
	r.sent = append(r.sent, tx)
	return "bundle-1", nil
}

func (r *fakeRelay) BundleStatus(context.Context, string) (Status, error) {
	return Status{Confirmed: true, Price: decimal.NewFromInt(7)}, nil
}

// recordingClock fires immediately and remembers every requested wait.
type recordingClock struct {
	*util.StepClock
	mu    sync.Mutex
	waits []time.Duration
}

func (c *recordingClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	c.waits = append(c.waits, d)
	c.mu.Unlock()
	return c.StepClock.After(d)
}

type memJournal struct {
	entries []JournalEntry
}

func (j *memJournal) Append(e JournalEntry) error {
	j.entries = append(j.entries, e)
	return nil
}

func swap() TradeContext {
	return TradeContext{
		ID:            "t1",
		Pair:          "SOL-USDC",
		Side:          orderbook.Buy,
		Amount:        decimal.NewFromInt(2),
		ExpectedPrice: decimal.NewFromInt(100),
		SlippageBps:   50,
	}
}

func newTestManager(tr Transport) (*Manager, *recordingClock) {
	m := NewManager(NewBuilder("payer"), 1000, time.Second, nil)
	m.Register(&Standard{Transport: tr, PollInterval: time.Millisecond})
	clk := &recordingClock{StepClock: util.NewStepClock(time.Unix(0, 0))}
	m.Clock = clk
	return m, clk
}

func TestExecuteStopsAfterRetryCount(t *testing.T) {
	for _, retries := range []int{1, 3, 5} {
		tr := &fakeTransport{failSend: errors.New("node unhealthy")}
		m, clk := newTestManager(tr)

		res := m.Execute(context.Background(), swap(), Config{RetryCount: retries, BaseDelay: 10 * time.Millisecond})

		require.False(t, res.Success)
		require.Equal(t, Failed, res.State)
		require.Equal(t, retries, res.Attempts)
		require.EqualValues(t, retries, tr.sends.Load(), "transport calls")
		require.ErrorIs(t, res.Err, ErrExecutionFailed)
		require.ErrorIs(t, res.Err, tr.failSend)

		// linear backoff between attempts, none after the last
		require.Len(t, clk.waits, retries-1)
		for i, w := range clk.waits {
			require.Equal(t, time.Duration(i+1)*10*time.Millisecond, w)
		}
	}
}

func TestExecuteRecoversOnLaterAttempt(t *testing.T) {
	var calls atomic.Int32
	tr := &fakeTransport{statusFn: func() Status {
		if calls.Add(1) == 1 {
			return Status{Failed: true, Err: "slippage exceeded"}
		}
		return Status{Confirmed: true, Price: decimal.RequireFromString("100.2"), Fee: decimal.NewFromInt(6000)}
	}}
	m, _ := newTestManager(tr)
	j := &memJournal{}
	m.Journal = j

	res := m.Execute(context.Background(), swap(), Config{RetryCount: 3})
	require.True(t, res.Success, "err = %v", res.Err)
	require.NoError(t, res.Err)
	require.Equal(t, Confirmed, res.State)
	require.Equal(t, 2, res.Attempts)
	require.True(t, res.ConfirmedPrice.Equal(decimal.RequireFromString("100.2")))
	require.True(t, res.Fee.Equal(decimal.NewFromInt(6000)))

	var states []string
	for _, e := range j.entries {
		states = append(states, e.State)
	}
	require.Equal(t, []string{"BUILDING", "SUBMITTED", "FAILED", "SUBMITTED", "CONFIRMED"}, states)
}

func TestExecuteEstimatesFeeAndPrice(t *testing.T) {
	tr := &fakeTransport{status: Status{Confirmed: true}}
	m, _ := newTestManager(tr)

	res := m.Execute(context.Background(), swap(), Config{RetryCount: 1, PriorityFee: 1000, ComputeUnitLimit: 200000})
	require.True(t, res.Success)
	// 5000 + 1000 × 200000 / 1e6
	require.True(t, res.Fee.Equal(decimal.NewFromInt(5200)), "fee = %s", res.Fee)
	require.True(t, res.ConfirmedPrice.Equal(decimal.NewFromInt(100)))
}

func TestExecuteRateLimited(t *testing.T) {
	tr := &fakeTransport{status: Status{Confirmed: true}}
	m := NewManager(NewBuilder("payer"), 1, time.Hour, nil)
	m.Register(&Standard{Transport: tr, PollInterval: time.Millisecond})

	first := m.Execute(context.Background(), swap(), Config{RetryCount: 1})
	require.True(t, first.Success)

	second := m.Execute(context.Background(), swap(), Config{RetryCount: 3})
	require.False(t, second.Success)
	require.ErrorIs(t, second.Err, ErrRateLimited)
	require.Zero(t, second.Attempts)
	require.EqualValues(t, 1, tr.sends.Load())
}

func TestExecuteTimeout(t *testing.T) {
	tr := &fakeTransport{} // never confirms
	m, _ := newTestManager(tr)

	res := m.Execute(context.Background(), swap(), Config{RetryCount: 5, MaxTimeout: 30 * time.Millisecond})
	require.False(t, res.Success)
	require.ErrorIs(t, res.Err, ErrTimeout)
	require.LessOrEqual(t, res.Attempts, 5)
}

func TestExecuteIgnoresCallerCancellation(t *testing.T) {
	tr := &fakeTransport{status: Status{Confirmed: true}}
	m, _ := newTestManager(tr)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res := m.Execute(ctx, swap(), Config{RetryCount: 1})
	require.True(t, res.Success, "err = %v", res.Err)
}

func TestExecuteRecoversPanics(t *testing.T) {
	m, _ := newTestManager(&fakeTransport{})
	m.Register(panicky{})

	res := m.Execute(context.Background(), swap(), Config{RetryCount: 1})
	require.False(t, res.Success)
	require.ErrorIs(t, res.Err, ErrExecutionFailed)
}

type panicky struct{}

func (panicky) Name() string { return StrategyStandard }
func (panicky) Submit(context.Context, *Transaction) (string, error) {
	panic("boom")
}
func (panicky) AwaitConfirmation(context.Context, string) (Confirmation, error) {
	return Confirmation{}, nil
}

func TestStrategySelection(t *testing.T) {
	tr := &fakeTransport{status: Status{Confirmed: true}}
	relay := &fakeRelay{}

	m, _ := newTestManager(tr)
	m.Register(&Bundle{Relay: relay, Tip: 10000, PollInterval: time.Millisecond})
	m.Register(&Private{Transport: tr, PollInterval: time.Millisecond})

	tests := []struct {
		name string
		tier Tier
		prio bool
		cfg  Config
		want string
	}{
		{"free user stays standard", TierFree, false, Config{UseBundleRelay: true}, StrategyStandard},
		{"pro tier uses bundle", TierPro, false, Config{UseBundleRelay: true}, StrategyBundle},
		{"priority flag uses bundle", TierBasic, true, Config{UseBundleRelay: true, UsePrivateRelay: true}, StrategyBundle},
		{"private when bundle disabled", TierEnterprise, false, Config{UsePrivateRelay: true}, StrategyPrivate},
		{"relays disabled", TierEnterprise, true, Config{}, StrategyStandard},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tc := swap()
			tc.Tier = tt.tier
			tc.PriorityExecution = tt.prio
			tt.cfg.RetryCount = 1
			res := m.Execute(context.Background(), tc, tt.cfg)
			require.True(t, res.Success, "err = %v", res.Err)
			require.Equal(t, tt.want, res.Strategy)
		})
	}

	require.NotEmpty(t, relay.sent)
	last := relay.sent[len(relay.sent)-1].Instructions
	require.Equal(t, IxRelayTip, last[len(last)-1].Kind)
	require.Equal(t, "10000", last[len(last)-1].Data["lamports"])
}

func TestBuilderInstructionOrder(t *testing.T) {
	b := NewBuilder("payer")
	tc := swap()
	tc.Tier = TierPro

	tx, err := b.Build(tc, Config{PriorityFee: 1000})
	require.NoError(t, err)
	require.Len(t, tx.Instructions, 3)
	require.Equal(t, IxComputeUnitLimit, tx.Instructions[0].Kind)
	require.Equal(t, IxComputeUnitPrice, tx.Instructions[1].Kind)
	require.Equal(t, IxSwap, tx.Instructions[2].Kind)
	require.EqualValues(t, 2000, tx.PriorityFee)
	require.EqualValues(t, defaultComputeUnits, tx.ComputeUnitLimit)
	// buy tolerates 50 bps above expected
	require.Equal(t, "100.5", tx.Instructions[2].Data["limit_price"])

	tc.Side = orderbook.Sell
	tx, _ = b.Build(tc, Config{})
	require.Equal(t, "99.5", tx.Instructions[2].Data["limit_price"])

	tipped := WithTip(tx, "tip", 5)
	require.Len(t, tx.Instructions, 3, "WithTip must not mutate its input")
	require.Len(t, tipped.Instructions, 4)

	_, err = b.Build(TradeContext{Pair: "SOL-USDC", Side: orderbook.Buy}, Config{})
	require.Error(t, err)
}

func TestPriorityFeeByTier(t *testing.T) {
	require.EqualValues(t, 1000, PriorityFee(1000, TierFree))
	require.EqualValues(t, 1500, PriorityFee(1000, TierBasic))
	require.EqualValues(t, 2000, PriorityFee(1000, TierPro))
	require.EqualValues(t, 3000, PriorityFee(1000, TierEnterprise))
	require.Equal(t, TierPro, ParseTier("PRO"))
	require.Equal(t, TierFree, ParseTier("unknown"))
}
