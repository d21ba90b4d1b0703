package market

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// FeedClient subscribes to a websocket price feed and pushes every state it
// receives into a Cache. Messages are JSON-encoded State values.
type FeedClient struct {
	url    string
	pairs  []string
	cache  *Cache
	dialer *websocket.Dialer
	log    *zap.SugaredLogger

	reconnectDelay time.Duration
}

func NewFeedClient(url string, pairs []string, cache *Cache, log *zap.SugaredLogger) *FeedClient {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &FeedClient{
		url:            url,
		pairs:          pairs,
		cache:          cache,
		dialer:         websocket.DefaultDialer,
		log:            log,
		reconnectDelay: 2 * time.Second,
	}
}

type feedSubscribe struct {
	Op       string   `json:"op"`
	Channels []string `json:"channels"`
}

// Run reads the feed until ctx is cancelled, reconnecting after errors.
func (f *FeedClient) Run(ctx context.Context) {
	for {
		if err := f.session(ctx); err != nil && ctx.Err() == nil {
			f.log.Warnw("market_feed_disconnected", "url", f.url, "err", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(f.reconnectDelay):
		}
	}
}

func (f *FeedClient) session(ctx context.Context) error {
	conn, _, err := f.dialer.DialContext(ctx, f.url, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	// unblock ReadMessage on shutdown
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	if err := conn.WriteJSON(feedSubscribe{Op: "subscribe", Channels: f.pairs}); err != nil {
		return err
	}
	f.log.Infow("market_feed_connected", "url", f.url, "pairs", len(f.pairs))

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		var s State
		if err := json.Unmarshal(msg, &s); err != nil {
			f.log.Debugw("market_feed_bad_message", "err", err)
			continue
		}
		if s.Pair == "" {
			continue
		}
		if s.UpdatedAt.IsZero() {
			s.UpdatedAt = time.Now()
		}
		f.cache.Update(s)
	}
}
