// Package publish delivers classified offer events to the outward channel.
package publish

import (
	"context"

	"github.com/tradefeed/tradefeed/internal/domain"
)

// Publisher is the outward event channel. Publish returns an error only when
// the event could not be handed off; callers treat that as transient and
// retry via the sweep path.
type Publisher interface {
	Publish(ctx context.Context, ev domain.ClassifiedEvent) error
}
