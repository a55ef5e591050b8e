package engine

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/containerd/errdefs"
	"github.com/tradefeed/tradefeed/internal/domain"
	"github.com/tradefeed/tradefeed/internal/platform"
)

type memRepo struct {
	mu      sync.Mutex
	markers map[string]domain.OfferState
	offers  map[string]*domain.OfferSnapshot
	cursor  time.Time
}

func newMemRepo() *memRepo {
	return &memRepo{
		markers: make(map[string]domain.OfferState),
		offers:  make(map[string]*domain.OfferSnapshot),
	}
}

func (r *memRepo) Marker(ctx context.Context, id string) (domain.OfferState, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.markers[id]
	return s, ok, nil
}

func (r *memRepo) SetMarker(ctx context.Context, id string, s domain.OfferState) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.markers[id] = s
	return nil
}

func (r *memRepo) SaveOffer(ctx context.Context, o *domain.OfferSnapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.offers[o.ID] = o
	return nil
}

func (r *memRepo) Offers(ctx context.Context) ([]*domain.OfferSnapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*domain.OfferSnapshot, 0, len(r.offers))
	for _, o := range r.offers {
		out = append(out, o)
	}
	return out, nil
}

func (r *memRepo) PollCursor(ctx context.Context) (time.Time, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cursor, nil
}

func (r *memRepo) SetPollCursor(ctx context.Context, c time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cursor = c
	return nil
}

func (r *memRepo) Ping(ctx context.Context) error { return nil }
func (r *memRepo) Close() error                   { return nil }

type scriptedClient struct {
	mu        sync.Mutex
	offers    []*domain.OfferSnapshot
	fetchable map[string]*domain.OfferSnapshot
	lastSince time.Time
}

func (c *scriptedClient) setOffers(offers ...*domain.OfferSnapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.offers = offers
}

func (c *scriptedClient) GetOffers(ctx context.Context, since time.Time) ([]*domain.OfferSnapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastSince = since
	return c.offers, nil
}

func (c *scriptedClient) GetOffer(ctx context.Context, id string) (*domain.OfferSnapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if o, ok := c.fetchable[id]; ok {
		return o, nil
	}
	return nil, fmt.Errorf("offer %s: %w", id, errdefs.ErrNotFound)
}

func (c *scriptedClient) SendOffer(ctx context.Context, req *platform.NewOffer) (*domain.OfferSnapshot, error) {
	return nil, errdefs.ErrNotImplemented
}

func (c *scriptedClient) CancelOffer(ctx context.Context, id string) error  { return nil }
func (c *scriptedClient) DeclineOffer(ctx context.Context, id string) error { return nil }

func (c *scriptedClient) AcceptOffer(ctx context.Context, id string) (*domain.OfferSnapshot, error) {
	return nil, errdefs.ErrNotImplemented
}

type callbackRecorder struct {
	mu      sync.Mutex
	created []string
	changed []string
	priors  map[string]domain.OfferState
	cycles  int
}

func newCallbackRecorder() *callbackRecorder {
	return &callbackRecorder{priors: make(map[string]domain.OfferState)}
}

func (r *callbackRecorder) callbacks() Callbacks {
	return Callbacks{
		OnNewOffer: func(o *domain.OfferSnapshot) {
			r.mu.Lock()
			r.created = append(r.created, o.ID)
			r.mu.Unlock()
		},
		OnOfferChanged: func(o *domain.OfferSnapshot, prior domain.OfferState) {
			r.mu.Lock()
			r.changed = append(r.changed, o.ID)
			r.priors[o.ID] = prior
			r.mu.Unlock()
		},
		OnPollCycleCompleted: func() {
			r.mu.Lock()
			r.cycles++
			r.mu.Unlock()
		},
	}
}

func TestPollerFiresNewAndChanged(t *testing.T) {
	client := &scriptedClient{}
	rec := newCallbackRecorder()
	p := NewPoller(client, newMemRepo(), rec.callbacks(), time.Minute, nil)
	ctx := context.Background()

	client.setOffers(
		&domain.OfferSnapshot{ID: "1", State: domain.StateActive, UpdatedAt: 100},
		&domain.OfferSnapshot{ID: "2", State: domain.StateCreatedNeedsConfirmation, UpdatedAt: 110},
	)
	p.poll(ctx)

	sort.Strings(rec.created)
	if len(rec.created) != 2 || rec.created[0] != "1" || rec.created[1] != "2" {
		t.Errorf("Expected new-offer callbacks for [1 2], got %v", rec.created)
	}
	if rec.cycles != 1 {
		t.Errorf("Expected 1 poll-cycle-completed signal, got %d", rec.cycles)
	}

	// Same states again: no change callbacks.
	p.poll(ctx)
	if len(rec.changed) != 0 {
		t.Errorf("Expected no change callbacks for identical states, got %v", rec.changed)
	}

	// Offer 2 advances to Active.
	client.setOffers(&domain.OfferSnapshot{ID: "2", State: domain.StateActive, UpdatedAt: 120})
	p.poll(ctx)

	if len(rec.changed) != 1 || rec.changed[0] != "2" {
		t.Fatalf("Expected change callback for offer 2, got %v", rec.changed)
	}
	if rec.priors["2"] != domain.StateCreatedNeedsConfirmation {
		t.Errorf("Expected prior CreatedNeedsConfirmation, got %v", rec.priors["2"])
	}
	if rec.cycles != 3 {
		t.Errorf("Expected 3 poll cycles, got %d", rec.cycles)
	}
}

func TestPollerAdvancesCursor(t *testing.T) {
	client := &scriptedClient{}
	repo := newMemRepo()
	p := NewPoller(client, repo, Callbacks{}, time.Minute, nil)
	ctx := context.Background()

	client.setOffers(&domain.OfferSnapshot{ID: "1", State: domain.StateActive, UpdatedAt: 500})
	p.poll(ctx)

	cursor, _ := repo.PollCursor(ctx)
	if cursor.Unix() != 500 {
		t.Errorf("Expected persisted cursor 500, got %d", cursor.Unix())
	}

	p.poll(ctx)
	if client.lastSince.Unix() != 500 {
		t.Errorf("Expected next poll since=500, got %d", client.lastSince.Unix())
	}
}

func TestPollerRestore(t *testing.T) {
	repo := newMemRepo()
	repo.SaveOffer(context.Background(), &domain.OfferSnapshot{ID: "1", State: domain.StateActive, UpdatedAt: 100})
	repo.SetPollCursor(context.Background(), time.Unix(100, 0))

	client := &scriptedClient{}
	rec := newCallbackRecorder()
	p := NewPoller(client, repo, rec.callbacks(), time.Minute, nil)

	if err := p.Restore(context.Background()); err != nil {
		t.Fatalf("Restore failed: %v", err)
	}

	// A restored offer is known: re-observing the same state fires nothing,
	// a different state fires changed with the restored prior.
	client.setOffers(&domain.OfferSnapshot{ID: "1", State: domain.StateAccepted, UpdatedAt: 200})
	p.poll(context.Background())

	if len(rec.created) != 0 {
		t.Errorf("Restored offer must not fire new-offer, got %v", rec.created)
	}
	if len(rec.changed) != 1 || rec.priors["1"] != domain.StateActive {
		t.Errorf("Expected changed with prior Active, got %v priors=%v", rec.changed, rec.priors)
	}
}

func TestOfferStateUnknownID(t *testing.T) {
	p := NewPoller(&scriptedClient{}, newMemRepo(), Callbacks{}, time.Minute, nil)

	_, err := p.OfferState(context.Background(), "ghost")
	if !errdefs.IsNotFound(err) {
		t.Errorf("Expected NotFound, got %v", err)
	}
}

func TestOfferFetchFallback(t *testing.T) {
	client := &scriptedClient{fetchable: map[string]*domain.OfferSnapshot{
		"7": {ID: "7", State: domain.StateActive, UpdatedAt: 50},
	}}
	p := NewPoller(client, newMemRepo(), Callbacks{}, time.Minute, nil)
	ctx := context.Background()

	offer, err := p.Offer(ctx, "7")
	if err != nil {
		t.Fatalf("Offer failed: %v", err)
	}
	if offer.State != domain.StateActive {
		t.Errorf("Unexpected offer: %+v", offer)
	}

	// Now cached: the cheap lookup works too.
	state, err := p.OfferState(ctx, "7")
	if err != nil || state != domain.StateActive {
		t.Errorf("Expected cached state Active, got %v err=%v", state, err)
	}

	ids, _ := p.KnownOfferIDs(ctx)
	if len(ids) != 1 || ids[0] != "7" {
		t.Errorf("Expected known ids [7], got %v", ids)
	}
}
