package execution

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/alexlomt/tradingbot-sub000/pkg/app/core/orderbook"
)

type InstructionKind string

const (
	IxComputeUnitLimit InstructionKind = "compute_unit_limit"
	IxComputeUnitPrice InstructionKind = "compute_unit_price"
	IxRelayTip         InstructionKind = "relay_tip"
	IxSwap             InstructionKind = "swap"
	IxSettle           InstructionKind = "settle"
)

type Instruction struct {
	Kind    InstructionKind   `json:"kind"`
	Program string            `json:"program"`
	Data    map[string]string `json:"data"`
}

type Transaction struct {
	ID               string        `json:"id"`
	Payer            string        `json:"payer"`
	Instructions     []Instruction `json:"instructions"`
	PriorityFee      uint64        `json:"priorityFee"`
	ComputeUnitLimit uint32        `json:"computeUnitLimit"`
	CreatedAt        time.Time     `json:"createdAt"`
}

// Encode returns the canonical bytes that get signed.
func (t *Transaction) Encode() ([]byte, error) {
	return json.Marshal(t)
}

// Programs are the on-chain program ids instructions are addressed to.
type Programs struct {
	ComputeBudget string
	Swap          string
	OrderBook     string
	Tip           string
}

var DefaultPrograms = Programs{
	ComputeBudget: "ComputeBudget111111111111111111111111111111",
	Swap:          "swap-router",
	OrderBook:     "orderbook",
	Tip:           "relay-tip",
}

// Builder turns a TradeContext into a Transaction. Compute budget and priority
// fee instructions always come first.
type Builder struct {
	Payer    string
	Programs Programs
}

func NewBuilder(payer string) *Builder {
	return &Builder{Payer: payer, Programs: DefaultPrograms}
}

const defaultComputeUnits = 200000

var bpsDenominator = decimal.NewFromInt(10000)

func (b *Builder) Build(tc TradeContext, cfg Config) (*Transaction, error) {
	if tc.Pair == "" {
		return nil, fmt.Errorf("build: missing pair")
	}
	if !tc.Amount.IsPositive() {
		return nil, fmt.Errorf("build: amount must be positive, got %s", tc.Amount)
	}
	if tc.Side != orderbook.Buy && tc.Side != orderbook.Sell {
		return nil, fmt.Errorf("build: unknown side %d", tc.Side)
	}

	units := cfg.ComputeUnitLimit
	if units == 0 {
		units = defaultComputeUnits
	}
	fee := PriorityFee(cfg.PriorityFee, tc.Tier)

	tx := &Transaction{
		ID:               uuid.NewString(),
		Payer:            b.Payer,
		PriorityFee:      fee,
		ComputeUnitLimit: units,
		CreatedAt:        time.Now(),
		Instructions: []Instruction{
			{Kind: IxComputeUnitLimit, Program: b.Programs.ComputeBudget, Data: map[string]string{
				"units": strconv.FormatUint(uint64(units), 10),
			}},
			{Kind: IxComputeUnitPrice, Program: b.Programs.ComputeBudget, Data: map[string]string{
				"micro_lamports": strconv.FormatUint(fee, 10),
			}},
		},
	}

	data := map[string]string{
		"pair":   tc.Pair,
		"side":   tc.Side.String(),
		"amount": tc.Amount.String(),
	}
	if tc.Owner != "" {
		data["owner"] = tc.Owner
	}
	for k, v := range tc.Metadata {
		if _, taken := data[k]; !taken {
			data[k] = v
		}
	}

	switch tc.Action {
	case ActionSwap:
		if tc.ExpectedPrice.IsPositive() {
			data["limit_price"] = slippageBound(tc.ExpectedPrice, tc.SlippageBps, tc.Side).String()
		}
		tx.Instructions = append(tx.Instructions, Instruction{Kind: IxSwap, Program: b.Programs.Swap, Data: data})
	case ActionSettle:
		data["price"] = tc.ExpectedPrice.String()
		tx.Instructions = append(tx.Instructions, Instruction{Kind: IxSettle, Program: b.Programs.OrderBook, Data: data})
	default:
		return nil, fmt.Errorf("build: unknown action %d", tc.Action)
	}
	return tx, nil
}

// slippageBound is the worst acceptable price: above expected for buys, below for sells.
func slippageBound(expected decimal.Decimal, bps int64, side orderbook.Side) decimal.Decimal {
	tol := expected.Mul(decimal.NewFromInt(bps)).Div(bpsDenominator)
	if side == orderbook.Buy {
		return expected.Add(tol)
	}
	return expected.Sub(tol)
}

// WithTip returns a copy of tx carrying a relay tip instruction at the end.
func WithTip(tx *Transaction, program string, tip uint64) *Transaction {
	out := *tx
	out.Instructions = append(append([]Instruction(nil), tx.Instructions...), Instruction{
		Kind:    IxRelayTip,
		Program: program,
		Data:    map[string]string{"lamports": strconv.FormatUint(tip, 10)},
	})
	return &out
}
