package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/cockroachdb/pebble"

	"github.com/alexlomt/tradingbot-sub000/pkg/app/core/matching"
	"github.com/alexlomt/tradingbot-sub000/pkg/app/core/orderbook"
	"github.com/alexlomt/tradingbot-sub000/pkg/app/core/position"
	"github.com/alexlomt/tradingbot-sub000/pkg/app/core/risk"
	"github.com/alexlomt/tradingbot-sub000/pkg/app/trading"
)

// PebbleStore is the durable repository for positions, daily stats, the
// engine's active positions, and order and fill history.
type PebbleStore struct {
	db *pebble.DB
}

func NewPebbleStore(path string) (*PebbleStore, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open pebble at %s: %w", path, err)
	}
	return &PebbleStore{db: db}, nil
}

func (s *PebbleStore) Close() error { return s.db.Close() }

func (s *PebbleStore) put(key []byte, kind string, v any, opts *pebble.WriteOptions) error {
	data, err := encode(kind, v)
	if err != nil {
		return err
	}
	if err := s.db.Set(key, data, opts); err != nil {
		return fmt.Errorf("save %s: %w", kind, err)
	}
	return nil
}

// get reports false when key is absent.
func (s *PebbleStore) get(key []byte, kind string, v any) (bool, error) {
	data, closer, err := s.db.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("get %s: %w", kind, err)
	}
	defer closer.Close()
	return true, decode(kind, data, v)
}

// scan calls fn for every value under prefix, oldest key first.
func (s *PebbleStore) scan(prefix []byte, fn func(key, val []byte) error) error {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return err
	}
	defer iter.Close()
	for iter.First(); iter.Valid(); iter.Next() {
		if err := fn(iter.Key(), iter.Value()); err != nil {
			return err
		}
	}
	return iter.Error()
}

func (s *PebbleStore) SavePosition(_ context.Context, p position.Position) error {
	return s.put(positionKey(p.OwnerID, p.Market), "position", p, pebble.Sync)
}

func (s *PebbleStore) LoadPositions(_ context.Context) ([]position.Position, error) {
	var out []position.Position
	err := s.scan([]byte(prefixPosition), func(_, val []byte) error {
		var p position.Position
		if err := decode("position", val, &p); err != nil {
			return err
		}
		out = append(out, p)
		return nil
	})
	return out, err
}

func (s *PebbleStore) SaveActive(_ context.Context, p trading.ActivePosition) error {
	return s.put(activeKey(p.ID), "active position", p, pebble.Sync)
}

func (s *PebbleStore) DeleteActive(_ context.Context, id string) error {
	if err := s.db.Delete(activeKey(id), pebble.Sync); err != nil {
		return fmt.Errorf("delete active position: %w", err)
	}
	return nil
}

func (s *PebbleStore) LoadActive(_ context.Context) ([]trading.ActivePosition, error) {
	var out []trading.ActivePosition
	err := s.scan([]byte(prefixActive), func(_, val []byte) error {
		var p trading.ActivePosition
		if err := decode("active position", val, &p); err != nil {
			return err
		}
		out = append(out, p)
		return nil
	})
	return out, err
}

func (s *PebbleStore) SaveDailyStats(_ context.Context, owner string, st risk.DailyStats) error {
	return s.put(statsKey(owner), "daily stats", st, pebble.Sync)
}

func (s *PebbleStore) LoadDailyStats(_ context.Context) (map[string]risk.DailyStats, error) {
	out := make(map[string]risk.DailyStats)
	err := s.scan([]byte(prefixStats), func(key, val []byte) error {
		var st risk.DailyStats
		if err := decode("daily stats", val, &st); err != nil {
			return err
		}
		out[strings.TrimPrefix(string(key), prefixStats)] = st
		return nil
	})
	return out, err
}

// SaveOrder overwrites the stored record so the latest status wins.
func (s *PebbleStore) SaveOrder(_ context.Context, o orderbook.Order) error {
	return s.put(orderKey(o.Pair, o.ID), "order", o, pebble.NoSync)
}

func (s *PebbleStore) LoadOrder(pair, id string) (orderbook.Order, bool, error) {
	var o orderbook.Order
	ok, err := s.get(orderKey(pair, id), "order", &o)
	return o, ok, err
}

func (s *PebbleStore) SaveFill(_ context.Context, f orderbook.Fill) error {
	return s.put(fillKey(f.Pair, f.Timestamp, f.ID), "fill", f, pebble.NoSync)
}

// RecentFills returns up to limit fills for pair, newest first.
func (s *PebbleStore) RecentFills(pair string, limit int) ([]orderbook.Fill, error) {
	prefix := fillPrefix(pair)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var fills []orderbook.Fill
	for iter.Last(); iter.Valid() && len(fills) < limit; iter.Prev() {
		var f orderbook.Fill
		if err := decode("fill", iter.Value(), &f); err != nil {
			return fills, fmt.Errorf("fill %s: %w", iter.Key(), err)
		}
		fills = append(fills, f)
	}
	return fills, iter.Error()
}

var (
	_ position.Store   = (*PebbleStore)(nil)
	_ trading.Store    = (*PebbleStore)(nil)
	_ matching.History = (*PebbleStore)(nil)
)
