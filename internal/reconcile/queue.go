package reconcile

import (
	"context"
	"log/slog"
	"sync"
)

// task is one queued reconciliation unit. done is closed when the task has
// run (or been discarded at shutdown).
type task struct {
	offerID string
	done    chan struct{}
}

// Queue is the serialized sweep queue: FIFO order, exactly one worker, so at
// most one reconciliation runs at a time and a sweep can never race with
// itself. Pending tasks are deduplicated by offer id: enqueueing an id that
// is already waiting returns the waiting task's completion channel.
type Queue struct {
	reconcile func(ctx context.Context, offerID string)
	logger    *slog.Logger

	mu      sync.Mutex
	cond    *sync.Cond
	fifo    []*task
	pending map[string]*task
	closed  bool

	wg sync.WaitGroup
}

// NewQueue creates a sweep queue that runs reconcile for each task.
func NewQueue(reconcile func(ctx context.Context, offerID string), logger *slog.Logger) *Queue {
	if logger == nil {
		logger = slog.Default()
	}
	q := &Queue{
		reconcile: reconcile,
		logger:    logger,
		pending:   make(map[string]*task),
	}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Start launches the single worker goroutine. The worker drains remaining
// tasks when ctx is canceled, then exits; tasks always run to completion.
func (q *Queue) Start(ctx context.Context) {
	q.wg.Add(1)
	go q.worker(ctx)

	// Wake the worker when the context ends so it can drain and exit.
	go func() {
		<-ctx.Done()
		q.mu.Lock()
		q.closed = true
		q.cond.Broadcast()
		q.mu.Unlock()
	}()
}

// Wait blocks until the worker has exited.
func (q *Queue) Wait() {
	q.wg.Wait()
}

// Enqueue adds a reconciliation task for an offer id and returns a channel
// closed when the task completes. If a task for the same id is already
// pending, no new task is added and the pending task's channel is returned.
// After shutdown, Enqueue returns an already-closed channel.
func (q *Queue) Enqueue(offerID string) <-chan struct{} {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		done := make(chan struct{})
		close(done)
		return done
	}

	if t, ok := q.pending[offerID]; ok {
		return t.done
	}

	t := &task{offerID: offerID, done: make(chan struct{})}
	q.pending[offerID] = t
	q.fifo = append(q.fifo, t)
	q.cond.Signal()
	return t.done
}

func (q *Queue) worker(ctx context.Context) {
	defer q.wg.Done()

	for {
		q.mu.Lock()
		for len(q.fifo) == 0 && !q.closed {
			q.cond.Wait()
		}
		if len(q.fifo) == 0 {
			// Closed and drained.
			q.mu.Unlock()
			q.logger.Info("Sweep queue drained, worker exiting")
			return
		}
		t := q.fifo[0]
		q.fifo = q.fifo[1:]
		// No longer pending: an enqueue arriving while this task runs must
		// schedule a fresh pass, since the state may change mid-run.
		delete(q.pending, t.offerID)
		q.mu.Unlock()

		// Reconcile never returns an error; it swallows and logs its own.
		q.reconcile(ctx, t.offerID)
		close(t.done)
	}
}
