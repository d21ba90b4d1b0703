package trading

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/alexlomt/tradingbot-sub000/pkg/util"
)

type taskKey struct{}

// inTask reports whether ctx belongs to the running task id.
func inTask(ctx context.Context, id string) bool {
	v, _ := ctx.Value(taskKey{}).(string)
	return v == id
}

type task struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Scheduler runs one periodic task per key. A panicking tick is recovered and
// logged and the task keeps its schedule.
type Scheduler struct {
	mu     sync.Mutex
	tasks  map[string]*task
	closed bool
	wg     sync.WaitGroup

	// OnPanic is called after a recovered panic.
	OnPanic func(id string, r any)

	log *zap.SugaredLogger
}

func NewScheduler(log *zap.SugaredLogger) *Scheduler {
	return &Scheduler{tasks: make(map[string]*task), log: util.OrNop(log)}
}

// Every starts fn for id every interval until Cancel(id) or Close. The ctx
// passed to fn is cancelled when the task stops. Starting an id that already
// runs is a no-op; it returns false, as it does after Close.
func (s *Scheduler) Every(id string, interval time.Duration, fn func(ctx context.Context)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	if _, ok := s.tasks[id]; ok {
		return false
	}

	ctx, cancel := context.WithCancel(context.WithValue(context.Background(), taskKey{}, id))
	t := &task{cancel: cancel, done: make(chan struct{})}
	s.tasks[id] = t
	s.wg.Add(1)

	go func() {
		defer s.wg.Done()
		defer close(t.done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if ctx.Err() != nil {
					return
				}
				s.tick(ctx, id, fn)
			}
		}
	}()
	return true
}

func (s *Scheduler) tick(ctx context.Context, id string, fn func(ctx context.Context)) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Errorw("scheduled_task_panic", "task", id, "panic", r)
			if s.OnPanic != nil {
				s.OnPanic(id, r)
			}
		}
	}()
	fn(ctx)
}

// Cancel stops id and waits for its current tick to finish, unless called
// from inside that tick, in which case the task stops once the tick returns.
func (s *Scheduler) Cancel(ctx context.Context, id string) {
	s.mu.Lock()
	t, ok := s.tasks[id]
	delete(s.tasks, id)
	s.mu.Unlock()
	if !ok {
		return
	}
	t.cancel()
	if !inTask(ctx, id) {
		<-t.done
	}
}

func (s *Scheduler) Running(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.tasks[id]
	return ok
}

func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}

// Close stops every task, refuses new ones and waits for all of them.
func (s *Scheduler) Close() {
	s.mu.Lock()
	s.closed = true
	for id, t := range s.tasks {
		t.cancel()
		delete(s.tasks, id)
	}
	s.mu.Unlock()
	s.wg.Wait()
}
