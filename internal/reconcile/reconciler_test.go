package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/containerd/errdefs"
	"github.com/tradefeed/tradefeed/internal/domain"
)

type fakeEngine struct {
	mu     sync.Mutex
	offers map[string]*domain.OfferSnapshot
	// fetches counts full Offer calls, to verify the cheap fast path.
	fetches int
}

func newFakeEngine(offers ...*domain.OfferSnapshot) *fakeEngine {
	f := &fakeEngine{offers: make(map[string]*domain.OfferSnapshot)}
	for _, o := range offers {
		f.offers[o.ID] = o
	}
	return f
}

func (f *fakeEngine) set(offer *domain.OfferSnapshot) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.offers[offer.ID] = offer
}

func (f *fakeEngine) OfferState(ctx context.Context, id string) (domain.OfferState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.offers[id]
	if !ok {
		return 0, fmt.Errorf("offer %s: %w", id, errdefs.ErrNotFound)
	}
	return o.State, nil
}

func (f *fakeEngine) Offer(ctx context.Context, id string) (*domain.OfferSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetches++
	o, ok := f.offers[id]
	if !ok {
		return nil, fmt.Errorf("offer %s: %w", id, errdefs.ErrNotFound)
	}
	return o, nil
}

func (f *fakeEngine) KnownOfferIDs(ctx context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ids := make([]string, 0, len(f.offers))
	for id := range f.offers {
		ids = append(ids, id)
	}
	return ids, nil
}

func (f *fakeEngine) fetchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fetches
}

type memMarkers struct {
	mu sync.Mutex
	m  map[string]domain.OfferState
}

func newMemMarkers() *memMarkers {
	return &memMarkers{m: make(map[string]domain.OfferState)}
}

func (s *memMarkers) Marker(ctx context.Context, id string) (domain.OfferState, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, ok := s.m[id]
	return state, ok, nil
}

func (s *memMarkers) SetMarker(ctx context.Context, id string, state domain.OfferState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[id] = state
	return nil
}

type fakePublisher struct {
	mu      sync.Mutex
	events  []domain.ClassifiedEvent
	failIDs map[string]bool
}

func newFakePublisher() *fakePublisher {
	return &fakePublisher{failIDs: make(map[string]bool)}
}

func (p *fakePublisher) Publish(ctx context.Context, ev domain.ClassifiedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failIDs[ev.Offer.ID] {
		return errors.New("outward channel unavailable")
	}
	p.events = append(p.events, ev)
	return nil
}

func (p *fakePublisher) published() []domain.ClassifiedEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]domain.ClassifiedEvent, len(p.events))
	copy(out, p.events)
	return out
}

func TestReconcilePublishesUnmarkedOffer(t *testing.T) {
	offer := &domain.OfferSnapshot{ID: "1", State: domain.StateActive, IsOurOffer: false}
	eng := newFakeEngine(offer)
	markers := newMemMarkers()
	pub := newFakePublisher()
	r := New(eng, markers, nil, pub, nil)

	r.Reconcile(context.Background(), "1")

	events := pub.published()
	if len(events) != 1 {
		t.Fatalf("Expected 1 event, got %d", len(events))
	}
	if events[0].Kind != domain.EventOfferReceived {
		t.Errorf("Expected offer.received, got %s", events[0].Kind)
	}

	state, ok, _ := markers.Marker(context.Background(), "1")
	if !ok || state != domain.StateActive {
		t.Errorf("Expected marker Active after publish, got %v ok=%v", state, ok)
	}
}

func TestReconcileIdempotentFastPath(t *testing.T) {
	offer := &domain.OfferSnapshot{ID: "1", State: domain.StateActive}
	eng := newFakeEngine(offer)
	markers := newMemMarkers()
	pub := newFakePublisher()
	r := New(eng, markers, nil, pub, nil)

	r.Reconcile(context.Background(), "1")
	fetchesAfterFirst := eng.fetchCount()

	r.Reconcile(context.Background(), "1")

	if got := len(pub.published()); got != 1 {
		t.Errorf("Expected exactly 1 publish across two reconciles, got %d", got)
	}
	if eng.fetchCount() != fetchesAfterFirst {
		t.Error("Second reconcile performed a full fetch; fast path should have skipped it")
	}
}

func TestReconcileUsesMarkerAsPriorState(t *testing.T) {
	offer := &domain.OfferSnapshot{ID: "1", State: domain.StateAccepted, IsOurOffer: true}
	eng := newFakeEngine(offer)
	markers := newMemMarkers()
	markers.SetMarker(context.Background(), "1", domain.StateActive)
	pub := newFakePublisher()
	r := New(eng, markers, nil, pub, nil)

	r.Reconcile(context.Background(), "1")

	events := pub.published()
	if len(events) != 1 {
		t.Fatalf("Expected 1 event, got %d", len(events))
	}
	if events[0].Kind != domain.EventOfferChanged {
		t.Errorf("Expected offer.changed, got %s", events[0].Kind)
	}
	if events[0].OldState == nil || *events[0].OldState != domain.StateActive {
		t.Errorf("Expected old state Active, got %v", events[0].OldState)
	}
}

func TestReconcilePublishFailureLeavesMarker(t *testing.T) {
	offer := &domain.OfferSnapshot{ID: "1", State: domain.StateActive}
	eng := newFakeEngine(offer)
	markers := newMemMarkers()
	pub := newFakePublisher()
	pub.failIDs["1"] = true
	r := New(eng, markers, nil, pub, nil)

	r.Reconcile(context.Background(), "1")

	if _, ok, _ := markers.Marker(context.Background(), "1"); ok {
		t.Error("Marker must stay untouched when publish fails")
	}

	// Failure cleared: the next sweep publishes and marks.
	pub.failIDs["1"] = false
	r.Reconcile(context.Background(), "1")

	if got := len(pub.published()); got != 1 {
		t.Fatalf("Expected 1 event after retry, got %d", got)
	}
	state, ok, _ := markers.Marker(context.Background(), "1")
	if !ok || state != domain.StateActive {
		t.Errorf("Expected marker Active after retry, got %v ok=%v", state, ok)
	}
}

func TestReconcileUnknownOfferIsSwallowed(t *testing.T) {
	eng := newFakeEngine()
	r := New(eng, newMemMarkers(), nil, newFakePublisher(), nil)

	// Must not panic or publish.
	r.Reconcile(context.Background(), "ghost")
}

func TestHandleLiveSentThenChanged(t *testing.T) {
	eng := newFakeEngine()
	markers := newMemMarkers()
	pub := newFakePublisher()
	r := New(eng, markers, nil, pub, nil)
	ctx := context.Background()

	created := &domain.OfferSnapshot{ID: "1", State: domain.StateCreatedNeedsConfirmation, IsOurOffer: true, ItemsToGive: []domain.Item{{AssetID: "a"}}}
	r.HandleLive(ctx, created, nil)

	prior := domain.StateCreatedNeedsConfirmation
	active := &domain.OfferSnapshot{ID: "1", State: domain.StateActive, IsOurOffer: true, ItemsToGive: []domain.Item{{AssetID: "a"}}}
	r.HandleLive(ctx, active, &prior)

	events := pub.published()
	if len(events) != 2 {
		t.Fatalf("Expected 2 events, got %d", len(events))
	}
	if events[0].Kind != domain.EventOfferSent {
		t.Errorf("Expected offer.sent first, got %s", events[0].Kind)
	}
	if events[1].Kind != domain.EventOfferChanged {
		t.Errorf("Expected offer.changed second, got %s", events[1].Kind)
	}
	if events[1].OldState == nil || *events[1].OldState != domain.StateCreatedNeedsConfirmation {
		t.Errorf("Expected old state CreatedNeedsConfirmation, got %v", events[1].OldState)
	}

	state, ok, _ := markers.Marker(ctx, "1")
	if !ok || state != domain.StateActive {
		t.Errorf("Expected marker Active, got %v ok=%v", state, ok)
	}
}

func TestHandleLiveThenReconcileNoDuplicate(t *testing.T) {
	offer := &domain.OfferSnapshot{ID: "1", State: domain.StateActive, IsOurOffer: false}
	eng := newFakeEngine(offer)
	markers := newMemMarkers()
	pub := newFakePublisher()
	r := New(eng, markers, nil, pub, nil)
	ctx := context.Background()

	r.HandleLive(ctx, offer, nil)
	r.Reconcile(ctx, "1")

	if got := len(pub.published()); got != 1 {
		t.Errorf("Expected 1 event after live+sweep for the same state, got %d", got)
	}
}

func TestSweepFailureIsolation(t *testing.T) {
	a := &domain.OfferSnapshot{ID: "a", State: domain.StateActive}
	b := &domain.OfferSnapshot{ID: "b", State: domain.StateActive}
	c := &domain.OfferSnapshot{ID: "c", State: domain.StateActive}
	eng := newFakeEngine(a, b, c)
	markers := newMemMarkers()
	pub := newFakePublisher()
	pub.failIDs["a"] = true
	r := New(eng, markers, nil, pub, nil)
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		r.Reconcile(ctx, id)
	}

	events := pub.published()
	if len(events) != 2 {
		t.Fatalf("Expected events for b and c despite a failing, got %d", len(events))
	}
	for _, ev := range events {
		if ev.Offer.ID == "a" {
			t.Error("Offer a should not have published")
		}
	}
}
