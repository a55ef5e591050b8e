package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/tradefeed/tradefeed/internal/domain"
)

// wireEvent is the outward JSON frame. ID is unique per publish so
// downstream consumers can deduplicate redelivered frames.
type wireEvent struct {
	ID       string               `json:"id"`
	Type     domain.EventKind     `json:"type"`
	Offer    domain.OfferSnapshot `json:"offer"`
	OldState *domain.OfferState   `json:"old_state,omitempty"`
}

// subscriber is one connected websocket client. send is buffered; a slow
// consumer gets its oldest frames dropped rather than stalling the hub.
type subscriber struct {
	send chan []byte
}

// Hub implements Publisher by broadcasting every event to all connected
// websocket subscribers. Delivery to an individual subscriber is
// best-effort; Publish fails only when the event cannot be encoded.
type Hub struct {
	logger *slog.Logger

	mu   sync.RWMutex
	subs map[*subscriber]struct{}
}

// NewHub creates an event hub with no subscribers.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		logger: logger,
		subs:   make(map[*subscriber]struct{}),
	}
}

// Publish encodes the event and fans it out to every subscriber.
func (h *Hub) Publish(ctx context.Context, ev domain.ClassifiedEvent) error {
	frame, err := json.Marshal(wireEvent{
		ID:       uuid.NewString(),
		Type:     ev.Kind,
		Offer:    ev.Offer,
		OldState: ev.OldState,
	})
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for sub := range h.subs {
		select {
		case sub.send <- frame:
		default:
			// Drop the oldest frame to make room, then retry once.
			select {
			case <-sub.send:
			default:
			}
			select {
			case sub.send <- frame:
			default:
				h.logger.Warn("Dropping event for slow subscriber", "kind", ev.Kind, "offer_id", ev.Offer.ID)
			}
		}
	}

	h.logger.Debug("Event published", "kind", ev.Kind, "offer_id", ev.Offer.ID, "state", ev.Offer.State)
	return nil
}

// SubscriberCount returns the number of connected subscribers.
func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

func (h *Hub) register(sub *subscriber) {
	h.mu.Lock()
	h.subs[sub] = struct{}{}
	h.mu.Unlock()
}

func (h *Hub) unregister(sub *subscriber) {
	h.mu.Lock()
	delete(h.subs, sub)
	h.mu.Unlock()
}

// ServeHTTP upgrades the request to a websocket and streams events until the
// client disconnects or the request context ends.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		h.logger.Error("Failed to accept event subscriber", "error", err, "ip", r.RemoteAddr)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "stream ended"); closeErr != nil {
			h.logger.Debug("Subscriber close error", "error", closeErr)
		}
	}()

	sub := &subscriber{send: make(chan []byte, 64)}
	h.register(sub)
	defer h.unregister(sub)
	h.logger.Info("Event subscriber connected", "ip", r.RemoteAddr)

	ctx := r.Context()

	// Reads are discarded; the stream is one-way. The read loop exists to
	// notice the client going away.
	readClosed := make(chan struct{})
	go func() {
		defer close(readClosed)
		for {
			if _, _, err := ws.Read(ctx); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case frame := <-sub.send:
			if err := ws.Write(ctx, websocket.MessageText, frame); err != nil {
				h.logger.Debug("Subscriber write failed, dropping connection", "error", err)
				return
			}
		case <-readClosed:
			h.logger.Info("Event subscriber disconnected", "ip", r.RemoteAddr)
			return
		case <-ctx.Done():
			return
		}
	}
}
