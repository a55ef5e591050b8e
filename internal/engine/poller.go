package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/containerd/errdefs"
	"github.com/tradefeed/tradefeed/internal/domain"
	"github.com/tradefeed/tradefeed/internal/platform"
	"github.com/tradefeed/tradefeed/internal/store"
)

const defaultPollInterval = 30 * time.Second

// Poller is the polling session engine. It keeps an in-memory snapshot cache
// of every offer, mirrors it to the durable store so restarts resume with
// history intact, and fires Callbacks as it observes new and changed offers.
type Poller struct {
	client   platform.Client
	repo     store.Repository
	cb       Callbacks
	interval time.Duration
	logger   *slog.Logger

	mu     sync.RWMutex
	cache  map[string]*domain.OfferSnapshot
	cursor time.Time

	wg sync.WaitGroup
}

// NewPoller creates a polling engine. A zero interval selects the default.
func NewPoller(client platform.Client, repo store.Repository, cb Callbacks, interval time.Duration, logger *slog.Logger) *Poller {
	if interval <= 0 {
		interval = defaultPollInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Poller{
		client:   client,
		repo:     repo,
		cb:       cb,
		interval: interval,
		logger:   logger,
		cache:    make(map[string]*domain.OfferSnapshot),
	}
}

// Restore loads the durable offer cache and poll cursor. Call once before
// Start; offers restored here do not fire callbacks.
func (p *Poller) Restore(ctx context.Context) error {
	offers, err := p.repo.Offers(ctx)
	if err != nil {
		return fmt.Errorf("restore offer cache: %w", err)
	}
	cursor, err := p.repo.PollCursor(ctx)
	if err != nil {
		return fmt.Errorf("restore poll cursor: %w", err)
	}

	p.mu.Lock()
	for _, offer := range offers {
		p.cache[offer.ID] = offer
	}
	p.cursor = cursor
	p.mu.Unlock()

	p.logger.Info("Poll state restored", "offers", len(offers), "cursor", cursor)
	return nil
}

// Start runs the poll loop in a background goroutine until ctx is canceled.
func (p *Poller) Start(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer ticker.Stop()
		p.logger.Info("Poll loop started", "interval", p.interval)

		// First poll immediately, then on the ticker.
		p.poll(ctx)
		for {
			select {
			case <-ticker.C:
				p.poll(ctx)
			case <-ctx.Done():
				p.logger.Info("Poll loop shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}

// Wait blocks until the poll loop has exited.
func (p *Poller) Wait() {
	p.wg.Wait()
}

// Poll runs one poll cycle synchronously, outside the loop's schedule.
func (p *Poller) Poll(ctx context.Context) {
	p.poll(ctx)
}

// poll runs one cycle: fetch offers updated since the cursor, diff against
// the cache, fire callbacks, persist, and signal cycle completion.
func (p *Poller) poll(ctx context.Context) {
	p.mu.RLock()
	since := p.cursor
	p.mu.RUnlock()

	offers, err := p.client.GetOffers(ctx, since)
	if err != nil {
		// Transient platform failures heal on the next cycle.
		p.logger.Error("Poll cycle failed", "error", err, "since", since)
		return
	}

	cursor := since
	for _, offer := range offers {
		p.observe(ctx, offer)
		if updated := time.Unix(offer.UpdatedAt, 0); updated.After(cursor) {
			cursor = updated
		}
	}

	p.mu.Lock()
	p.cursor = cursor
	p.mu.Unlock()

	if err := p.repo.SetPollCursor(ctx, cursor); err != nil {
		p.logger.Warn("Failed to persist poll cursor", "error", err)
	}

	if p.cb.OnPollCycleCompleted != nil {
		p.cb.OnPollCycleCompleted()
	}
}

// observe integrates one fetched snapshot into the cache and fires the
// appropriate live notification.
func (p *Poller) observe(ctx context.Context, offer *domain.OfferSnapshot) {
	p.mu.Lock()
	cached, known := p.cache[offer.ID]
	var prior domain.OfferState
	changed := false
	if known {
		prior = cached.State
		changed = prior != offer.State
	}
	p.cache[offer.ID] = offer
	p.mu.Unlock()

	if err := p.repo.SaveOffer(ctx, offer); err != nil {
		p.logger.Warn("Failed to persist offer snapshot", "offer_id", offer.ID, "error", err)
	}

	switch {
	case !known:
		if p.cb.OnNewOffer != nil {
			p.cb.OnNewOffer(offer)
		}
	case changed:
		if p.cb.OnOfferChanged != nil {
			p.cb.OnOfferChanged(offer, prior)
		}
	}
}

// OfferState is the cheap current-state lookup from the in-memory cache.
func (p *Poller) OfferState(ctx context.Context, offerID string) (domain.OfferState, error) {
	p.mu.RLock()
	cached, ok := p.cache[offerID]
	p.mu.RUnlock()
	if !ok {
		return 0, fmt.Errorf("offer %s: %w", offerID, errdefs.ErrNotFound)
	}
	return cached.State, nil
}

// Offer returns the full snapshot, fetching from the platform when the cache
// misses. A platform fetch also refreshes the cache.
func (p *Poller) Offer(ctx context.Context, offerID string) (*domain.OfferSnapshot, error) {
	p.mu.RLock()
	cached, ok := p.cache[offerID]
	p.mu.RUnlock()
	if ok {
		return cached, nil
	}

	offer, err := p.client.GetOffer(ctx, offerID)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	p.cache[offer.ID] = offer
	p.mu.Unlock()
	if err := p.repo.SaveOffer(ctx, offer); err != nil {
		p.logger.Warn("Failed to persist fetched offer", "offer_id", offer.ID, "error", err)
	}
	return offer, nil
}

// KnownOfferIDs enumerates every cached offer id.
func (p *Poller) KnownOfferIDs(ctx context.Context) ([]string, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	ids := make([]string, 0, len(p.cache))
	for id := range p.cache {
		ids = append(ids, id)
	}
	return ids, nil
}

// Observe feeds one snapshot through the engine's diffing outside the poll
// loop. The API layer uses this so an offer created or acted on through the
// HTTP surface is visible to the engine immediately rather than after the
// next poll cycle.
func (p *Poller) Observe(ctx context.Context, offer *domain.OfferSnapshot) {
	p.observe(ctx, offer)
}
