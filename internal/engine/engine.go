// Package engine implements the trading-session engine: it polls the remote
// platform, maintains a durable cache of every offer it has seen, and
// delivers live notifications when offers appear or change state.
package engine

import (
	"context"

	"github.com/tradefeed/tradefeed/internal/domain"
)

// Engine is the surface the reconciler consumes from the session engine.
type Engine interface {
	// OfferState is the cheap current-state lookup. Returns NotFound if the
	// id is unknown to the engine.
	OfferState(ctx context.Context, offerID string) (domain.OfferState, error)

	// Offer is the full snapshot fetch. Returns NotFound if the id is
	// unknown to the engine and the platform.
	Offer(ctx context.Context, offerID string) (*domain.OfferSnapshot, error)

	// KnownOfferIDs enumerates every offer id the engine currently knows
	// about, locally- and remotely-originated alike.
	KnownOfferIDs(ctx context.Context) ([]string, error)
}

// Callbacks are the live notification hooks delivered by the engine's poll
// loop. All three are invoked from the poll goroutine, one at a time.
// Handlers must not block for long and must not panic.
type Callbacks struct {
	// OnNewOffer fires for an offer the engine has never seen before.
	OnNewOffer func(offer *domain.OfferSnapshot)

	// OnOfferChanged fires when a known offer's state differs from the
	// cached one. prior is the state the engine previously had.
	OnOfferChanged func(offer *domain.OfferSnapshot, prior domain.OfferState)

	// OnPollCycleCompleted fires after every completed poll cycle,
	// successful or not in terms of individual offers, as long as the
	// platform answered.
	OnPollCycleCompleted func()
}
