package api

import (
	"github.com/shopspring/decimal"

	"github.com/alexlomt/tradingbot-sub000/pkg/app/core/risk"
	"github.com/alexlomt/tradingbot-sub000/pkg/app/trading"
	"github.com/alexlomt/tradingbot-sub000/pkg/events"
)

// API response types for the REST endpoints and websocket messages.

type MarketInfo struct {
	Pair        string          `json:"pair"`
	BaseToken   string          `json:"baseToken"`
	QuoteToken  string          `json:"quoteToken"`
	PoolAddress string          `json:"poolAddress,omitempty"`
	Status      string          `json:"status"`
	Price       decimal.Decimal `json:"price"`
	Volatility  decimal.Decimal `json:"volatility"`
	Active      bool            `json:"active"`
}

// PositionInfo is a tracked position marked against the latest price. Mark
// falls back to entry when no price is known.
type PositionInfo struct {
	Owner         string          `json:"owner"`
	Pair          string          `json:"pair"`
	Size          decimal.Decimal `json:"size"`
	EntryPrice    decimal.Decimal `json:"entryPrice"`
	MarkPrice     decimal.Decimal `json:"markPrice"`
	UnrealizedPnL decimal.Decimal `json:"unrealizedPnl"`
	RealizedPnL   decimal.Decimal `json:"realizedPnl"`
}

type AccountInfo struct {
	Owner      string                   `json:"owner"`
	Positions  []PositionInfo           `json:"positions"`
	Active     []trading.ActivePosition `json:"active"`
	DailyStats risk.DailyStats          `json:"dailyStats"`
}

type StatusInfo struct {
	Pairs              []string `json:"pairs"`
	ActivePositions    int      `json:"activePositions"`
	OpenPositions      int      `json:"openPositions"`
	PendingSettlements int      `json:"pendingSettlements"`
	WSClients          int      `json:"wsClients"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// WSSubscribeRequest is sent by websocket clients.
// Channels: "fills:<pair>", "positions:<owner>", "positions", "alerts", "*".
type WSSubscribeRequest struct {
	Op       string   `json:"op"` // "subscribe" or "unsubscribe"
	Channels []string `json:"channels"`
}

// WSMessage wraps one engine event pushed to websocket clients.
type WSMessage struct {
	Type    string       `json:"type"`
	Channel string       `json:"channel"`
	Event   events.Event `json:"event"`
}
