package events

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/alexlomt/tradingbot-sub000/pkg/util"
)

type Kind uint8

const (
	KindFill Kind = iota + 1
	KindPositionOpened
	KindPositionClosed
	KindPositionUpdated
	KindRiskViolation
	KindRiskAlert
	KindExecutionFailed
)

func (k Kind) String() string {
	switch k {
	case KindFill:
		return "fill"
	case KindPositionOpened:
		return "position_opened"
	case KindPositionClosed:
		return "position_closed"
	case KindPositionUpdated:
		return "position_updated"
	case KindRiskViolation:
		return "risk_violation"
	case KindRiskAlert:
		return "risk_alert"
	case KindExecutionFailed:
		return "execution_failed"
	default:
		return "unknown"
	}
}

func (k Kind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

func (k *Kind) UnmarshalText(b []byte) error {
	for c := KindFill; c <= KindExecutionFailed; c++ {
		if c.String() == string(b) {
			*k = c
			return nil
		}
	}
	return fmt.Errorf("unknown event kind %q", b)
}

// Event is one state transition. Fields that do not apply to a kind are left zero.
type Event struct {
	ID         string            `json:"id"`
	Kind       Kind              `json:"kind"`
	Pair       string            `json:"pair,omitempty"`
	Owner      string            `json:"owner,omitempty"`
	PositionID string            `json:"positionId,omitempty"`
	Side       string            `json:"side,omitempty"`
	Price      decimal.Decimal   `json:"price"`
	Quantity   decimal.Decimal   `json:"quantity"`
	PnL        decimal.Decimal   `json:"pnl"`
	Reason     string            `json:"reason,omitempty"`
	Err        string            `json:"err,omitempty"`
	Attrs      map[string]string `json:"attrs,omitempty"`
	Timestamp  time.Time         `json:"timestamp"`
}

// New stamps an id and time on a fresh event of kind k.
func New(k Kind) Event {
	return Event{ID: uuid.NewString(), Kind: k, Timestamp: time.Now()}
}

type Subscriber interface {
	OnEvent(e Event)
}

type SubscriberFunc func(e Event)

func (f SubscriberFunc) OnEvent(e Event) { f(e) }

type subscription struct {
	kinds map[Kind]struct{}
	sub   Subscriber
}

func (s subscription) wants(k Kind) bool {
	if len(s.kinds) == 0 {
		return true
	}
	_, ok := s.kinds[k]
	return ok
}

// Bus fans events out to subscribers synchronously. A panicking subscriber is
// logged and skipped; Publish never fails.
type Bus struct {
	mu   sync.RWMutex
	subs []subscription
	log  *zap.SugaredLogger
}

func NewBus(log *zap.SugaredLogger) *Bus {
	return &Bus{log: util.OrNop(log)}
}

// Subscribe registers s for the given kinds, or for every kind when none are given.
func (b *Bus) Subscribe(s Subscriber, kinds ...Kind) {
	sub := subscription{sub: s}
	if len(kinds) > 0 {
		sub.kinds = make(map[Kind]struct{}, len(kinds))
		for _, k := range kinds {
			sub.kinds[k] = struct{}{}
		}
	}
	b.mu.Lock()
	b.subs = append(b.subs, sub)
	b.mu.Unlock()
}

func (b *Bus) Publish(e Event) {
	if b == nil {
		return
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}

	b.mu.RLock()
	subs := append([]subscription(nil), b.subs...)
	b.mu.RUnlock()

	for _, s := range subs {
		if s.wants(e.Kind) {
			b.deliver(s.sub, e)
		}
	}
}

func (b *Bus) deliver(s Subscriber, e Event) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Errorw("event_subscriber_panic", "kind", e.Kind.String(), "panic", r)
		}
	}()
	s.OnEvent(e)
}
