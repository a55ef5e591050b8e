// Package reconcile contains the publication reconciler: the component that
// guarantees each observed offer state is published outward exactly once,
// healing missed live notifications with periodic sweeps.
package reconcile

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/containerd/errdefs"
	"github.com/tradefeed/tradefeed/internal/classify"
	"github.com/tradefeed/tradefeed/internal/domain"
	"github.com/tradefeed/tradefeed/internal/engine"
	"github.com/tradefeed/tradefeed/internal/publish"
	"github.com/tradefeed/tradefeed/internal/shared"
	"github.com/tradefeed/tradefeed/internal/store"
)

// idLocks hands out one mutex per offer id so the live path and the sweep
// path never run publish+mark concurrently for the same offer. Locks are
// never released back; the set is bounded by the number of offers seen,
// same as the marker table.
type idLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func (l *idLocks) get(id string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.locks == nil {
		l.locks = make(map[string]*sync.Mutex)
	}
	m, ok := l.locks[id]
	if !ok {
		m = &sync.Mutex{}
		l.locks[id] = m
	}
	return m
}

// Reconciler owns the publish-then-mark protocol. Both entry points swallow
// their own failures: live notifications must never throw back into the
// engine's dispatch, and sweep tasks must never stall the queue.
type Reconciler struct {
	engine     engine.Engine
	markers    store.MarkerStore
	classifier *classify.Classifier
	publisher  publish.Publisher
	logger     *slog.Logger
	locks      idLocks
}

// New creates a Reconciler. A nil classifier selects the default
// first-observation heuristic; a nil logger selects slog.Default().
func New(eng engine.Engine, markers store.MarkerStore, classifier *classify.Classifier, publisher publish.Publisher, logger *slog.Logger) *Reconciler {
	if classifier == nil {
		classifier = classify.New(nil)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{
		engine:     eng,
		markers:    markers,
		classifier: classifier,
		publisher:  publisher,
		logger:     logger,
	}
}

// HandleLive processes one live notification from the session engine.
// prior is the state the engine previously knew, nil for brand-new offers.
// It classifies and publishes unconditionally (the engine already decided
// this is a fresh observation), then advances the marker on success.
func (r *Reconciler) HandleLive(ctx context.Context, offer *domain.OfferSnapshot, prior *domain.OfferState) {
	lock := r.locks.get(offer.ID)
	lock.Lock()
	defer lock.Unlock()

	ev := r.classifier.Classify(*offer, prior)
	r.publishAndMark(ctx, ev)
}

// Reconcile processes one sweep task: republish the offer's current state if
// it differs from the last published one. Idempotent; safe to call any
// number of times.
func (r *Reconciler) Reconcile(ctx context.Context, offerID string) {
	// Cheap pre-check outside the per-id lock: most offers are already
	// published and never get past this point.
	current, err := r.engine.OfferState(ctx, offerID)
	if err != nil {
		if errdefs.IsNotFound(err) {
			r.logger.Debug("Sweep skipping unknown offer", "offer_id", offerID)
		} else {
			r.logger.Error("Sweep state lookup failed", "offer_id", offerID, "error", err)
		}
		return
	}

	marker, marked, err := r.markers.Marker(ctx, offerID)
	if err != nil {
		r.logger.Error("Sweep marker read failed", "offer_id", offerID, "error", err)
		return
	}
	if marked && marker == current {
		return
	}

	lock := r.locks.get(offerID)
	lock.Lock()
	defer lock.Unlock()

	offer, err := r.engine.Offer(ctx, offerID)
	if err != nil {
		if errdefs.IsNotFound(err) {
			r.logger.Warn("Sweep offer vanished between lookup and fetch", "offer_id", offerID)
		} else {
			r.logger.Error("Sweep offer fetch failed", "offer_id", offerID, "error", err)
		}
		return
	}

	// Re-read under the lock: a live notification may have advanced the
	// marker between the pre-check and here.
	marker, marked, err = r.markers.Marker(ctx, offerID)
	if err != nil {
		r.logger.Error("Sweep marker re-read failed", "offer_id", offerID, "error", err)
		return
	}
	if marked && marker == offer.State {
		return
	}

	var prior *domain.OfferState
	if marked {
		prior = &marker
	}
	ev := r.classifier.Classify(*offer, prior)
	r.publishAndMark(ctx, ev)
}

// publishAndMark publishes the event and, only on confirmed success, writes
// the marker to the offer's current state. A failed publish leaves the
// marker untouched so the next sweep retries.
func (r *Reconciler) publishAndMark(ctx context.Context, ev domain.ClassifiedEvent) {
	if err := r.publisher.Publish(ctx, ev); err != nil {
		r.logger.Error("Publish failed, next sweep will retry",
			"offer_id", ev.Offer.ID,
			"kind", ev.Kind,
			"state", ev.Offer.State,
			"error", err)
		return
	}

	if err := r.setMarkerWithRetry(ctx, ev.Offer.ID, ev.Offer.State); err != nil {
		// The event went out but the marker didn't advance; the next sweep
		// may publish this state a second time. At-least-once beats lost.
		r.logger.Warn("Marker write failed after publish",
			"offer_id", ev.Offer.ID,
			"state", ev.Offer.State,
			"error", err)
	}
}

// setMarkerWithRetry writes the marker with exponential backoff to ride out
// SQLITE_BUSY while the poller is flushing its own writes.
func (r *Reconciler) setMarkerWithRetry(ctx context.Context, offerID string, state domain.OfferState) error {
	maxRetries := 3
	baseDelay := 50 * time.Millisecond

	var err error
	for i := 0; i < maxRetries; i++ {
		err = r.markers.SetMarker(ctx, offerID, state)
		if err == nil {
			return nil
		}
		if !shared.IsSQLiteConflictError(err) || i == maxRetries-1 {
			return err
		}

		delay := baseDelay * time.Duration(1<<i)
		r.logger.Debug("Marker write hit a locked database, retrying",
			"offer_id", offerID,
			"attempt", i+1,
			"delay", delay)
		time.Sleep(delay)
	}
	return err
}
