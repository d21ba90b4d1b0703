package execution

import (
	"context"
	"errors"
	"fmt"
	"time"
)

const (
	StrategyStandard = "standard"
	StrategyBundle   = "bundle"
	StrategyPrivate  = "private"
)

// ErrTxFailed is reported when the venue confirms a transaction as failed.
var ErrTxFailed = errors.New("transaction failed on-chain")

// Strategy submits a transaction and waits for it to land. Implementations are
// interchangeable; the manager owns retries.
type Strategy interface {
	Name() string
	Submit(ctx context.Context, tx *Transaction) (string, error)
	AwaitConfirmation(ctx context.Context, id string) (Confirmation, error)
}

// Transport is the wallet side of the venue: sign, send, and look up status.
type Transport interface {
	SignAndSend(ctx context.Context, tx *Transaction) (string, error)
	SignatureStatus(ctx context.Context, sig string) (Status, error)
}

// BundleRelay accepts tipped bundles and reports their landing status.
type BundleRelay interface {
	SendBundle(ctx context.Context, tx *Transaction) (string, error)
	BundleStatus(ctx context.Context, bundleID string) (Status, error)
}

const defaultPollInterval = 400 * time.Millisecond

// await polls status until the transaction lands, fails, or ctx ends.
func await(ctx context.Context, id string, every time.Duration, status func(context.Context, string) (Status, error)) (Confirmation, error) {
	if every <= 0 {
		every = defaultPollInterval
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		st, err := status(ctx, id)
		switch {
		case err != nil:
			// transient lookup errors are polled through
		case st.Failed:
			return Confirmation{}, fmt.Errorf("%w: %s", ErrTxFailed, st.Err)
		case st.Confirmed:
			return Confirmation{Signature: id, Price: st.Price, Fee: st.Fee, Slot: st.Slot}, nil
		}

		select {
		case <-ctx.Done():
			if err != nil {
				return Confirmation{}, fmt.Errorf("%w (last status error: %v)", ctx.Err(), err)
			}
			return Confirmation{}, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Standard sends through the regular RPC path.
type Standard struct {
	Transport    Transport
	PollInterval time.Duration
}

func (s *Standard) Name() string { return StrategyStandard }

func (s *Standard) Submit(ctx context.Context, tx *Transaction) (string, error) {
	return s.Transport.SignAndSend(ctx, tx)
}

func (s *Standard) AwaitConfirmation(ctx context.Context, sig string) (Confirmation, error) {
	return await(ctx, sig, s.PollInterval, s.Transport.SignatureStatus)
}

// Bundle adds a tip instruction and submits through a block-engine style relay.
type Bundle struct {
	Relay        BundleRelay
	TipProgram   string
	Tip          uint64
	PollInterval time.Duration
}

func (b *Bundle) Name() string { return StrategyBundle }

func (b *Bundle) Submit(ctx context.Context, tx *Transaction) (string, error) {
	program := b.TipProgram
	if program == "" {
		program = DefaultPrograms.Tip
	}
	return b.Relay.SendBundle(ctx, WithTip(tx, program, b.Tip))
}

func (b *Bundle) AwaitConfirmation(ctx context.Context, id string) (Confirmation, error) {
	return await(ctx, id, b.PollInterval, b.Relay.BundleStatus)
}

// Private sends through a private mempool endpoint that does not gossip the
// transaction before it lands.
type Private struct {
	Transport    Transport
	PollInterval time.Duration
}

func (p *Private) Name() string { return StrategyPrivate }

func (p *Private) Submit(ctx context.Context, tx *Transaction) (string, error) {
	return p.Transport.SignAndSend(ctx, tx)
}

func (p *Private) AwaitConfirmation(ctx context.Context, sig string) (Confirmation, error) {
	return await(ctx, sig, p.PollInterval, p.Transport.SignatureStatus)
}
