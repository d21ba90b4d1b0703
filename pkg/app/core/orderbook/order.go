package orderbook

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

type Side int8

const (
	Buy  Side = 1
	Sell Side = -1
)

func (s Side) String() string {
	switch s {
	case Buy:
		return "BUY"
	case Sell:
		return "SELL"
	default:
		return "UNKNOWN"
	}
}

func (s Side) Opposite() Side { return -s }

func (s Side) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *Side) UnmarshalText(b []byte) error {
	switch string(b) {
	case "BUY":
		*s = Buy
	case "SELL":
		*s = Sell
	default:
		return fmt.Errorf("unknown side %q", b)
	}
	return nil
}

type Kind int8

const (
	Limit Kind = iota
	Market
)

func (k Kind) String() string {
	if k == Market {
		return "MARKET"
	}
	return "LIMIT"
}

type Status int8

const (
	Open Status = iota
	PartiallyFilled
	Filled
	Cancelled
)

func (s Status) String() string {
	switch s {
	case Open:
		return "OPEN"
	case PartiallyFilled:
		return "PARTIALLY_FILLED"
	case Filled:
		return "FILLED"
	case Cancelled:
		return "CANCELLED"
	default:
		return "UNKNOWN"
	}
}

// IsTerminal reports whether the order can no longer rest in a book.
func (s Status) IsTerminal() bool { return s == Filled || s == Cancelled }

func (s Status) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *Status) UnmarshalText(b []byte) error {
	for _, c := range []Status{Open, PartiallyFilled, Filled, Cancelled} {
		if c.String() == string(b) {
			*s = c
			return nil
		}
	}
	return fmt.Errorf("unknown status %q", b)
}

type Order struct {
	ID             string          `json:"id"`
	Pair           string          `json:"pair"`
	Side           Side            `json:"side"`
	Kind           Kind            `json:"kind"`
	Price          decimal.Decimal `json:"price"`
	Quantity       decimal.Decimal `json:"quantity"`
	FilledQuantity decimal.Decimal `json:"filledQuantity"`
	Status         Status          `json:"status"`
	OwnerID        string          `json:"ownerId"`
	ClientOrderID  string          `json:"clientOrderId,omitempty"`
	CreatedAt      time.Time       `json:"createdAt"`

	seq uint64 // arrival sequence within the book
}

// Remaining returns the unfilled quantity.
func (o Order) Remaining() decimal.Decimal {
	return o.Quantity.Sub(o.FilledQuantity)
}

// Validate rejects malformed orders before they can reach a book.
// Market orders carry no limit price, so the price check applies to limit orders only.
func (o Order) Validate() error {
	switch {
	case o.ID == "":
		return fmt.Errorf("%w: missing id", ErrInvalidOrder)
	case o.Pair == "":
		return fmt.Errorf("%w: missing pair", ErrInvalidOrder)
	case o.OwnerID == "":
		return fmt.Errorf("%w: missing owner", ErrInvalidOrder)
	case o.Side != Buy && o.Side != Sell:
		return fmt.Errorf("%w: unknown side %d", ErrInvalidOrder, o.Side)
	case o.Kind != Limit && o.Kind != Market:
		return fmt.Errorf("%w: unknown kind %d", ErrInvalidOrder, o.Kind)
	case !o.Quantity.IsPositive():
		return fmt.Errorf("%w: quantity must be positive, got %s", ErrInvalidOrder, o.Quantity)
	case o.Kind == Limit && !o.Price.IsPositive():
		return fmt.Errorf("%w: price must be positive, got %s", ErrInvalidOrder, o.Price)
	}
	return nil
}

func (o *Order) fill(qty decimal.Decimal) {
	o.FilledQuantity = o.FilledQuantity.Add(qty)
	if o.Remaining().IsPositive() {
		o.Status = PartiallyFilled
	} else {
		o.Status = Filled
	}
}

// Fill is one match between a bid and an ask. The same quantity is taken from both orders.
type Fill struct {
	ID         string          `json:"id"`
	Pair       string          `json:"pair"`
	BidOrderID string          `json:"bidOrderId"`
	AskOrderID string          `json:"askOrderId"`
	BidOwner   string          `json:"bidOwner"`
	AskOwner   string          `json:"askOwner"`
	TakerSide  Side            `json:"takerSide"`
	Price      decimal.Decimal `json:"price"`
	Quantity   decimal.Decimal `json:"quantity"`
	Timestamp  time.Time       `json:"timestamp"`
}

// Notional returns price × quantity.
func (f Fill) Notional() decimal.Decimal { return f.Price.Mul(f.Quantity) }
