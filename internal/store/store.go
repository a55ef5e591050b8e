// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"time"

	"github.com/tradefeed/tradefeed/internal/domain"
)

// MarkerStore is the durable last-published marker, keyed by offer id.
// A marker records the most recent state for which an outward event was
// successfully published. Markers are created on first publish, overwritten
// on every subsequent publish, and never deleted.
type MarkerStore interface {
	// Marker returns the last published state for an offer. ok is false if
	// no event was ever published for the id.
	Marker(ctx context.Context, offerID string) (state domain.OfferState, ok bool, err error)

	// SetMarker records the last published state for an offer.
	SetMarker(ctx context.Context, offerID string, state domain.OfferState) error
}

// Repository is the full durable store backing the polling engine: the
// published markers plus the engine's own poll state (offer snapshot cache
// and poll cursor), so a restart resumes where the last process left off.
type Repository interface {
	MarkerStore

	// SaveOffer upserts one offer snapshot in the poll cache.
	SaveOffer(ctx context.Context, offer *domain.OfferSnapshot) error

	// Offers returns every cached offer snapshot.
	Offers(ctx context.Context) ([]*domain.OfferSnapshot, error)

	// PollCursor returns the updated-at watermark of the last completed poll,
	// or zero time if no poll has completed.
	PollCursor(ctx context.Context) (time.Time, error)

	// SetPollCursor records the updated-at watermark of a completed poll.
	SetPollCursor(ctx context.Context, cursor time.Time) error

	// Ping verifies database connectivity.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
