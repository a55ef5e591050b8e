package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sort"

	"github.com/go-chi/chi/v5"
	"github.com/tradefeed/tradefeed/internal/domain"
	"github.com/tradefeed/tradefeed/internal/engine"
	"github.com/tradefeed/tradefeed/internal/platform"
)

// Observer receives offer snapshots produced by API operations so the
// session engine sees them immediately instead of a poll cycle later.
type Observer interface {
	Observe(ctx context.Context, offer *domain.OfferSnapshot)
}

// OffersHandler serves the offer CRUD-style surface. Unlike the reconcile
// paths, failures here are surfaced to the caller as typed errors.
type OffersHandler struct {
	client   platform.Client
	eng      engine.Engine
	observer Observer
	logger   *slog.Logger
}

// NewOffersHandler creates the offers handler. observer may be nil.
func NewOffersHandler(client platform.Client, eng engine.Engine, observer Observer, logger *slog.Logger) *OffersHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &OffersHandler{
		client:   client,
		eng:      eng,
		observer: observer,
		logger:   logger,
	}
}

// RegisterRoutes registers offer routes.
func (h *OffersHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api/offers", func(r chi.Router) {
		r.Post("/", h.Create)
		r.Get("/", h.List)
		r.Get("/{id}", h.Get)
		r.Post("/{id}/accept", h.Accept)
		r.Post("/{id}/decline", h.Decline)
		r.Delete("/{id}", h.Cancel)
	})
}

// Create sends a new offer through the platform.
func (h *OffersHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req platform.NewOffer
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Partner == "" {
		Error(w, http.StatusBadRequest, "partner is required")
		return
	}
	if len(req.ItemsToGive) == 0 && len(req.ItemsToReceive) == 0 {
		Error(w, http.StatusBadRequest, "offer must include at least one item")
		return
	}

	offer, err := h.client.SendOffer(r.Context(), &req)
	if err != nil {
		h.logger.Error("Send offer failed", "partner", req.Partner, "error", err)
		Error(w, statusFor(err), "failed to send offer")
		return
	}

	h.observe(r.Context(), offer)
	JSON(w, http.StatusCreated, offer)
}

// List returns every offer the engine knows about, oldest id first.
func (h *OffersHandler) List(w http.ResponseWriter, r *http.Request) {
	ids, err := h.eng.KnownOfferIDs(r.Context())
	if err != nil {
		Error(w, statusFor(err), "failed to enumerate offers")
		return
	}
	sort.Strings(ids)

	offers := make([]*domain.OfferSnapshot, 0, len(ids))
	for _, id := range ids {
		offer, err := h.eng.Offer(r.Context(), id)
		if err != nil {
			// Vanished between enumeration and fetch; skip it.
			h.logger.Debug("Offer disappeared during list", "offer_id", id, "error", err)
			continue
		}
		offers = append(offers, offer)
	}
	JSON(w, http.StatusOK, map[string]any{"offers": offers})
}

// Get returns one offer by id.
func (h *OffersHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	offer, err := h.eng.Offer(r.Context(), id)
	if err != nil {
		Error(w, statusFor(err), "offer not found")
		return
	}
	JSON(w, http.StatusOK, offer)
}

// Accept accepts an offer the partner sent us.
func (h *OffersHandler) Accept(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	offer, err := h.eng.Offer(r.Context(), id)
	if err != nil {
		Error(w, statusFor(err), "offer not found")
		return
	}
	if offer.IsOurOffer {
		Error(w, http.StatusConflict, "cannot accept an offer we sent")
		return
	}
	if offer.State != domain.StateActive {
		Error(w, http.StatusConflict, "offer is not active")
		return
	}

	accepted, err := h.client.AcceptOffer(r.Context(), id)
	if err != nil {
		h.logger.Error("Accept offer failed", "offer_id", id, "error", err)
		Error(w, statusFor(err), "failed to accept offer")
		return
	}

	h.observe(r.Context(), accepted)
	JSON(w, http.StatusOK, accepted)
}

// Decline rejects an offer the partner sent us.
func (h *OffersHandler) Decline(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	offer, err := h.eng.Offer(r.Context(), id)
	if err != nil {
		Error(w, statusFor(err), "offer not found")
		return
	}
	if offer.IsOurOffer {
		Error(w, http.StatusConflict, "cannot decline an offer we sent")
		return
	}

	if err := h.client.DeclineOffer(r.Context(), id); err != nil {
		h.logger.Error("Decline offer failed", "offer_id", id, "error", err)
		Error(w, statusFor(err), "failed to decline offer")
		return
	}

	h.refresh(r.Context(), id)
	w.WriteHeader(http.StatusNoContent)
}

// Cancel withdraws an offer we sent. Only offers still awaiting the partner
// (active) or awaiting our confirmation are cancellable; everything else is
// already terminal or out of our hands.
func (h *OffersHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	offer, err := h.eng.Offer(r.Context(), id)
	if err != nil {
		Error(w, statusFor(err), "offer not found")
		return
	}
	if !offer.IsOurOffer {
		Error(w, http.StatusConflict, "cannot cancel an offer we received")
		return
	}
	if offer.State != domain.StateActive && offer.State != domain.StateCreatedNeedsConfirmation {
		Error(w, http.StatusConflict, "offer is not cancellable in state "+offer.State.String())
		return
	}

	if err := h.client.CancelOffer(r.Context(), id); err != nil {
		h.logger.Error("Cancel offer failed", "offer_id", id, "error", err)
		Error(w, statusFor(err), "failed to cancel offer")
		return
	}

	h.refresh(r.Context(), id)
	w.WriteHeader(http.StatusNoContent)
}

// observe hands a snapshot to the engine's diffing, if an observer is wired.
func (h *OffersHandler) observe(ctx context.Context, offer *domain.OfferSnapshot) {
	if h.observer != nil {
		h.observer.Observe(ctx, offer)
	}
}

// refresh fetches the post-operation snapshot and feeds it to the engine.
// Best-effort: the next poll cycle picks the change up anyway.
func (h *OffersHandler) refresh(ctx context.Context, id string) {
	if h.observer == nil {
		return
	}
	offer, err := h.client.GetOffer(ctx, id)
	if err != nil {
		h.logger.Debug("Post-operation refresh failed", "offer_id", id, "error", err)
		return
	}
	h.observer.Observe(ctx, offer)
}
