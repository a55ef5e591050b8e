// Package classify maps an observed offer snapshot, plus an optional prior
// state, to the outward event that should be published for it.
package classify

import (
	"github.com/tradefeed/tradefeed/internal/domain"
)

// FirstObservationHeuristic decides the event kind for an offer observed with
// no recorded prior state. The default policy infers the semantic first event
// (sent/received) only for states reachable directly from offer creation and
// reports everything else as an untyped change.
type FirstObservationHeuristic func(offer domain.OfferSnapshot) domain.EventKind

// DefaultFirstObservation is the stock heuristic:
//   - a remote offer observed Active is the receive event;
//   - our offer observed awaiting confirmation is the send event;
//   - our offer observed Active with nothing to give skipped the
//     confirmation state entirely, so it too is the send event;
//   - anything else changed state before we ever saw it, so its origin is
//     unknown and it is reported as a change with no prior state.
func DefaultFirstObservation(offer domain.OfferSnapshot) domain.EventKind {
	if !offer.IsOurOffer {
		if offer.State == domain.StateActive {
			return domain.EventOfferReceived
		}
		return domain.EventOfferChanged
	}
	if offer.State == domain.StateCreatedNeedsConfirmation {
		return domain.EventOfferSent
	}
	if offer.State == domain.StateActive && len(offer.ItemsToGive) == 0 {
		return domain.EventOfferSent
	}
	return domain.EventOfferChanged
}

// Classifier turns offer observations into classified events. The zero value
// is not usable; use New.
type Classifier struct {
	firstObservation FirstObservationHeuristic
}

// New creates a Classifier. A nil heuristic selects DefaultFirstObservation.
func New(h FirstObservationHeuristic) *Classifier {
	if h == nil {
		h = DefaultFirstObservation
	}
	return &Classifier{firstObservation: h}
}

// Classify maps (offer, prior) to the event to publish. Pure and total:
// every input produces exactly one event and there are no failure modes.
//
// A known prior state always wins: the event is a change carrying that
// state. Without one, the first-observation heuristic decides.
func (c *Classifier) Classify(offer domain.OfferSnapshot, prior *domain.OfferState) domain.ClassifiedEvent {
	if prior != nil {
		return domain.ClassifiedEvent{
			Kind:     domain.EventOfferChanged,
			Offer:    offer,
			OldState: prior,
		}
	}
	return domain.ClassifiedEvent{
		Kind:  c.firstObservation(offer),
		Offer: offer,
	}
}
