package events

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/alexlomt/tradingbot-sub000/pkg/util"
)

// Sink is a durable destination for events. It may block and may fail.
type Sink interface {
	Write(ctx context.Context, e Event) error
	Close() error
}

// AsyncRecorder decouples a Sink from the publisher: OnEvent never blocks, and
// events arriving while the buffer is full are dropped and counted.
type AsyncRecorder struct {
	sink    Sink
	timeout time.Duration
	queue   chan Event

	mu      sync.Mutex
	dropped uint64
	failed  uint64

	stop chan struct{}
	done chan struct{}
	once sync.Once

	log *zap.SugaredLogger
}

func NewAsyncRecorder(sink Sink, buffer int, log *zap.SugaredLogger) *AsyncRecorder {
	if buffer <= 0 {
		buffer = 1024
	}
	r := &AsyncRecorder{
		sink:    sink,
		timeout: 5 * time.Second,
		queue:   make(chan Event, buffer),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
		log:     util.OrNop(log),
	}
	go r.loop()
	return r
}

func (r *AsyncRecorder) OnEvent(e Event) {
	select {
	case <-r.stop:
		return
	default:
	}
	select {
	case r.queue <- e:
	default:
		r.mu.Lock()
		r.dropped++
		r.mu.Unlock()
	}
}

func (r *AsyncRecorder) loop() {
	defer close(r.done)
	for {
		select {
		case e := <-r.queue:
			r.write(e)
		case <-r.stop:
			// drain what is already queued
			for {
				select {
				case e := <-r.queue:
					r.write(e)
				default:
					return
				}
			}
		}
	}
}

func (r *AsyncRecorder) write(e Event) {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()
	if err := r.sink.Write(ctx, e); err != nil {
		r.mu.Lock()
		r.failed++
		r.mu.Unlock()
		r.log.Warnw("audit_write_failed", "kind", e.Kind.String(), "event_id", e.ID, "err", err)
	}
}

// Stats reports dropped and failed events.
func (r *AsyncRecorder) Stats() (dropped, failed uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dropped, r.failed
}

// Close flushes queued events and closes the sink.
func (r *AsyncRecorder) Close() error {
	r.once.Do(func() { close(r.stop) })
	<-r.done
	return r.sink.Close()
}
