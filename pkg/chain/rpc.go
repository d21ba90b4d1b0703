package chain

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/rpc"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/alexlomt/tradingbot-sub000/pkg/app/core/execution"
	"github.com/alexlomt/tradingbot-sub000/pkg/app/core/market"
	"github.com/alexlomt/tradingbot-sub000/pkg/crypto"
	"github.com/alexlomt/tradingbot-sub000/pkg/util"
)

// JSON-RPC method names served by the venue node.
const (
	MethodSendTransaction = "venue_sendTransaction"
	MethodSignatureStatus = "venue_getSignatureStatus"
	MethodGetBalance      = "venue_getBalance"
	MethodListPools       = "venue_listPools"
	MethodGetMarketState  = "venue_getMarketState"
	MethodSendBundle      = "relay_sendBundle"
	MethodGetBundleStatus = "relay_getBundleStatus"
	defaultCallTimeout    = 10 * time.Second
)

// WireStatus is the status payload returned for signatures and bundles.
type WireStatus struct {
	Confirmed bool            `json:"confirmed"`
	Failed    bool            `json:"failed"`
	Err       string          `json:"err,omitempty"`
	Price     decimal.Decimal `json:"price"`
	Fee       decimal.Decimal `json:"fee"`
	Slot      uint64          `json:"slot"`
}

func (w WireStatus) toStatus() execution.Status {
	return execution.Status{
		Confirmed: w.Confirmed,
		Failed:    w.Failed,
		Err:       w.Err,
		Price:     w.Price,
		Fee:       w.Fee,
		Slot:      w.Slot,
	}
}

// RPCClient talks to the venue node. It signs transactions locally and
// implements execution.Transport, risk.BalanceProvider, market.PairSource and
// market.DataSource.
type RPCClient struct {
	rpc     *rpc.Client
	signer  *crypto.Signer
	timeout time.Duration
	log     *zap.SugaredLogger
}

func Dial(ctx context.Context, url string, signer *crypto.Signer, log *zap.SugaredLogger) (*RPCClient, error) {
	c, err := rpc.DialContext(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	return NewRPCClient(c, signer, log), nil
}

func NewRPCClient(c *rpc.Client, signer *crypto.Signer, log *zap.SugaredLogger) *RPCClient {
	return &RPCClient{rpc: c, signer: signer, timeout: defaultCallTimeout, log: util.OrNop(log)}
}

func (c *RPCClient) Close() { c.rpc.Close() }

func (c *RPCClient) call(ctx context.Context, result any, method string, args ...any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	if err := c.rpc.CallContext(ctx, result, method, args...); err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}
	return nil
}

func (c *RPCClient) sign(tx *execution.Transaction) (crypto.SignedTransaction, error) {
	if c.signer == nil {
		return crypto.SignedTransaction{}, fmt.Errorf("no signer configured")
	}
	return c.signer.SignTransaction(tx)
}

func (c *RPCClient) SignAndSend(ctx context.Context, tx *execution.Transaction) (string, error) {
	st, err := c.sign(tx)
	if err != nil {
		return "", err
	}
	var sig string
	if err := c.call(ctx, &sig, MethodSendTransaction, st); err != nil {
		return "", err
	}
	c.log.Debugw("tx_sent", "tx_id", tx.ID, "signature", sig)
	return sig, nil
}

func (c *RPCClient) SignatureStatus(ctx context.Context, sig string) (execution.Status, error) {
	var w WireStatus
	if err := c.call(ctx, &w, MethodSignatureStatus, sig); err != nil {
		return execution.Status{}, err
	}
	return w.toStatus(), nil
}

func (c *RPCClient) GetBalance(ctx context.Context, owner, token string) (decimal.Decimal, error) {
	var bal decimal.Decimal
	if err := c.call(ctx, &bal, MethodGetBalance, owner, token); err != nil {
		return decimal.Zero, err
	}
	return bal, nil
}

func (c *RPCClient) ListPairs(ctx context.Context) ([]market.PairInfo, error) {
	var pairs []market.PairInfo
	if err := c.call(ctx, &pairs, MethodListPools); err != nil {
		return nil, err
	}
	return pairs, nil
}

func (c *RPCClient) GetMarketState(ctx context.Context, pair string) (market.State, error) {
	var s market.State
	if err := c.call(ctx, &s, MethodGetMarketState, pair); err != nil {
		return market.State{}, err
	}
	if s.Pair == "" {
		return market.State{}, fmt.Errorf("%w: %s", market.ErrNoMarketData, pair)
	}
	return s, nil
}

// Relay submits signed bundles to a block-engine style endpoint.
type Relay struct {
	client *RPCClient
}

func NewRelay(client *RPCClient) *Relay { return &Relay{client: client} }

func (r *Relay) SendBundle(ctx context.Context, tx *execution.Transaction) (string, error) {
	st, err := r.client.sign(tx)
	if err != nil {
		return "", err
	}
	var id string
	if err := r.client.call(ctx, &id, MethodSendBundle, []crypto.SignedTransaction{st}); err != nil {
		return "", err
	}
	return id, nil
}

func (r *Relay) BundleStatus(ctx context.Context, id string) (execution.Status, error) {
	var w WireStatus
	if err := r.client.call(ctx, &w, MethodGetBundleStatus, id); err != nil {
		return execution.Status{}, err
	}
	return w.toStatus(), nil
}

var (
	_ execution.Transport   = (*RPCClient)(nil)
	_ execution.BundleRelay = (*Relay)(nil)
	_ market.PairSource     = (*RPCClient)(nil)
	_ market.DataSource     = (*RPCClient)(nil)
)
