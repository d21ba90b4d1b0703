package events

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBusFiltersByKind(t *testing.T) {
	b := NewBus(nil)
	var all, fills []Kind
	b.Subscribe(SubscriberFunc(func(e Event) { all = append(all, e.Kind) }))
	b.Subscribe(SubscriberFunc(func(e Event) { fills = append(fills, e.Kind) }), KindFill)

	b.Publish(New(KindFill))
	b.Publish(New(KindPositionOpened))

	require.Equal(t, []Kind{KindFill, KindPositionOpened}, all)
	require.Equal(t, []Kind{KindFill}, fills)
}

func TestBusRecoversSubscriberPanic(t *testing.T) {
	b := NewBus(nil)
	b.Subscribe(SubscriberFunc(func(Event) { panic("boom") }))
	var got int
	b.Subscribe(SubscriberFunc(func(Event) { got++ }))

	require.NotPanics(t, func() { b.Publish(Event{Kind: KindRiskAlert}) })
	require.Equal(t, 1, got)

	var nilBus *Bus
	require.NotPanics(t, func() { nilBus.Publish(New(KindFill)) })
}

func TestPublishStampsIDAndTime(t *testing.T) {
	b := NewBus(nil)
	var e Event
	b.Subscribe(SubscriberFunc(func(got Event) { e = got }))
	b.Publish(Event{Kind: KindFill})
	require.NotEmpty(t, e.ID)
	require.False(t, e.Timestamp.IsZero())
}

type memSink struct {
	mu     sync.Mutex
	events []Event
	fail   bool
	block  chan struct{}
	closed bool
}

func (m *memSink) Write(_ context.Context, e Event) error {
	if m.block != nil {
		<-m.block
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return errors.New("broker down")
	}
	m.events = append(m.events, e)
	return nil
}

func (m *memSink) Close() error {
	m.closed = true
	return nil
}

func TestAsyncRecorderFlushesOnClose(t *testing.T) {
	sink := &memSink{}
	r := NewAsyncRecorder(sink, 16, nil)
	for i := 0; i < 5; i++ {
		r.OnEvent(New(KindFill))
	}
	require.NoError(t, r.Close())
	require.Len(t, sink.events, 5)
	require.True(t, sink.closed)

	// after close events are ignored
	r.OnEvent(New(KindFill))
	require.Len(t, sink.events, 5)
}

func TestAsyncRecorderNeverBlocks(t *testing.T) {
	sink := &memSink{block: make(chan struct{})}
	r := NewAsyncRecorder(sink, 2, nil)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 50; i++ {
			r.OnEvent(New(KindFill))
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("OnEvent blocked on a stuck sink")
	}

	dropped, _ := r.Stats()
	require.Positive(t, dropped)
	close(sink.block)
	require.NoError(t, r.Close())
}

func TestAsyncRecorderCountsFailures(t *testing.T) {
	sink := &memSink{fail: true}
	r := NewAsyncRecorder(sink, 4, nil)
	r.OnEvent(New(KindExecutionFailed))
	r.OnEvent(New(KindExecutionFailed))
	require.NoError(t, r.Close())
	_, failed := r.Stats()
	require.EqualValues(t, 2, failed)
}

func TestKindTextRoundTrip(t *testing.T) {
	var k Kind
	require.NoError(t, k.UnmarshalText([]byte("risk_alert")))
	require.Equal(t, KindRiskAlert, k)
	require.Error(t, k.UnmarshalText([]byte("nope")))
}
