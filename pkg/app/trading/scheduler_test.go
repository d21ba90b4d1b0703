package trading

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/alexlomt/tradingbot-sub000/pkg/util"
)

func TestSchedulerRunsUntilCancelled(t *testing.T) {
	s := NewScheduler(nil)
	defer s.Close()

	var ticks atomic.Int32
	require.True(t, s.Every("p1", time.Millisecond, func(context.Context) { ticks.Add(1) }))
	require.False(t, s.Every("p1", time.Millisecond, func(context.Context) {}), "duplicate id")
	require.Eventually(t, func() bool { return ticks.Load() >= 3 }, time.Second, time.Millisecond)

	s.Cancel(context.Background(), "p1")
	require.False(t, s.Running("p1"))
	after := ticks.Load()
	time.Sleep(10 * time.Millisecond)
	require.Equal(t, after, ticks.Load())
	require.Zero(t, s.Len())
}

func TestSchedulerRecoversPanics(t *testing.T) {
	s := NewScheduler(nil)
	defer s.Close()

	var panics, ticks atomic.Int32
	s.OnPanic = func(id string, _ any) {
		if id == "p1" {
			panics.Add(1)
		}
	}
	s.Every("p1", time.Millisecond, func(context.Context) {
		if ticks.Add(1) == 1 {
			panic("bad price")
		}
	})

	require.Eventually(t, func() bool { return ticks.Load() >= 3 }, time.Second, time.Millisecond)
	require.EqualValues(t, 1, panics.Load())
	require.True(t, s.Running("p1"))
}

func TestSchedulerCancelFromOwnTick(t *testing.T) {
	s := NewScheduler(nil)
	defer s.Close()

	done := make(chan error, 1)
	s.Every("p1", time.Millisecond, func(ctx context.Context) {
		s.Cancel(ctx, "p1")
		select {
		case done <- ctx.Err():
		default:
		}
	})

	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("self-cancel deadlocked")
	}
	require.False(t, s.Running("p1"))
}

func TestSchedulerClose(t *testing.T) {
	s := NewScheduler(nil)
	block := make(chan struct{})
	started := make(chan struct{})
	var once sync.Once
	var finished atomic.Bool
	s.Every("slow", time.Millisecond, func(ctx context.Context) {
		once.Do(func() { close(started) })
		<-ctx.Done()
		<-block
		finished.Store(true)
	})
	s.Every("fast", time.Millisecond, func(context.Context) {})

	<-started
	go func() {
		time.Sleep(10 * time.Millisecond)
		close(block)
	}()
	s.Close()

	require.True(t, finished.Load(), "Close waits for the running tick")
	require.Zero(t, s.Len())
	require.False(t, s.Every("late", time.Millisecond, func(context.Context) {}))
}

func TestStatsBookResetsOnNewDay(t *testing.T) {
	clock := util.NewStepClock(time.Date(2025, 3, 1, 23, 0, 0, 0, time.UTC))
	b := NewStatsBook(clock)

	b.Record("alice", clock.Now(), d("100"), d("5"))
	b.Record("alice", clock.Now(), d("50"), d("-2"))
	s := b.DailyStats("alice")
	require.Equal(t, 2, s.TradeCount)
	require.True(t, s.Volume.Equal(d("150")))
	require.True(t, s.PnL.Equal(d("3")))

	clock.Advance(2 * time.Hour)
	require.Zero(t, b.DailyStats("alice").TradeCount)

	s = b.Record("alice", clock.Now(), d("10"), d("0"))
	require.Equal(t, 1, s.TradeCount)
	require.Equal(t, "2025-03-02", s.LastResetDate)
	require.Zero(t, b.DailyStats("bob").TradeCount)
}
