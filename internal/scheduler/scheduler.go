package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"gitlab.com/timkado/api/daisi-conversation-router/pkg/logger"
)

// Handler is invoked for each key that comes due.
type Handler func(ctx context.Context, key string) error

// Refill loads entries from an external source before each tick pops.
type Refill func(ctx context.Context, now time.Time) ([]Entry, error)

// Scheduler pops due keys on every tick of its interval.
type Scheduler struct {
	clock    Clock
	interval time.Duration
	handler  Handler
	refill   Refill

	mu    sync.Mutex
	queue *Queue
}

// New builds a scheduler. refill may be nil.
func New(clock Clock, interval time.Duration, handler Handler, refill Refill) *Scheduler {
	if clock == nil {
		clock = RealClock{}
	}
	if interval <= 0 {
		interval = time.Minute
	}
	return &Scheduler{
		clock:    clock,
		interval: interval,
		handler:  handler,
		refill:   refill,
		queue:    NewQueue(),
	}
}

func (s *Scheduler) Schedule(key string, dueAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queue.Push(key, dueAt)
}

func (s *Scheduler) Cancel(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queue.Remove(key)
}

func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queue.Len()
}

// Tick refills from the source, then hands every due key to the handler.
// Handler errors are logged and do not stop the remaining keys.
func (s *Scheduler) Tick(ctx context.Context) int {
	log := logger.FromContext(ctx)
	now := s.clock.Now()

	if s.refill != nil {
		entries, err := s.refill(ctx, now)
		if err != nil {
			log.Error("[scheduler] refill failed", zap.Error(err))
		}
		s.mu.Lock()
		for _, e := range entries {
			s.queue.Push(e.Key, e.DueAt)
		}
		s.mu.Unlock()
	}

	s.mu.Lock()
	due := s.queue.PopDue(now)
	s.mu.Unlock()

	for _, key := range due {
		if err := s.handler(ctx, key); err != nil {
			log.Warn("[scheduler] handler failed", zap.String("key", key), zap.Error(err))
		}
	}
	return len(due)
}

// Run ticks once immediately and then every interval until ctx ends.
func (s *Scheduler) Run(ctx context.Context) {
	log := logger.FromContext(ctx)
	log.Info("[scheduler] started", zap.Duration("interval", s.interval))
	for {
		s.Tick(ctx)
		if err := s.clock.Sleep(ctx, s.interval); err != nil {
			if !errors.Is(err, context.Canceled) {
				log.Warn("[scheduler] stopped", zap.Error(err))
			} else {
				log.Info("[scheduler] stopped")
			}
			return
		}
	}
}
