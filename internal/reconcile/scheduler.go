package reconcile

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/tradefeed/tradefeed/internal/engine"
)

const defaultQuietInterval = 1 * time.Second

// Scheduler coalesces bursts of poll-cycle-completed signals into a single
// reconciliation sweep. Only one timer is ever pending; every signal before
// expiry postpones the sweep by the quiet interval, so sweeps run at most
// once per quiet period regardless of how bursty polling is.
type Scheduler struct {
	eng    engine.Engine
	queue  *Queue
	quiet  time.Duration
	logger *slog.Logger

	mu      sync.Mutex
	timer   *time.Timer
	stopped bool
}

// NewScheduler creates a debounce scheduler feeding the sweep queue.
// A non-positive quiet interval selects the 1s default.
func NewScheduler(eng engine.Engine, queue *Queue, quiet time.Duration, logger *slog.Logger) *Scheduler {
	if quiet <= 0 {
		quiet = defaultQuietInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		eng:    eng,
		queue:  queue,
		quiet:  quiet,
		logger: logger,
	}
}

// OnPollCycleCompleted resets the pending sweep timer. Safe to call from any
// goroutine, any number of times.
func (s *Scheduler) OnPollCycleCompleted() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return
	}
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = time.AfterFunc(s.quiet, s.sweep)
}

// Stop cancels any pending sweep timer. Further signals are ignored.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopped = true
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

// sweep enqueues one reconciliation task for every offer id the engine
// currently knows about.
func (s *Scheduler) sweep() {
	ids, err := s.eng.KnownOfferIDs(context.Background())
	if err != nil {
		s.logger.Error("Sweep enumeration failed", "error", err)
		return
	}

	for _, id := range ids {
		s.queue.Enqueue(id)
	}
	if len(ids) > 0 {
		s.logger.Debug("Sweep scheduled", "offers", len(ids))
	}
}
