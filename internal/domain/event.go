package domain

// EventKind is the semantic kind of an outward offer event.
type EventKind string

const (
	// EventOfferReceived is the first observation of a remotely-originated
	// offer becoming active.
	EventOfferReceived EventKind = "offer.received"
	// EventOfferSent is the first observation of a locally-originated offer
	// entering its awaiting-confirmation or active-gift state.
	EventOfferSent EventKind = "offer.sent"
	// EventOfferChanged is any other observed transition.
	EventOfferChanged EventKind = "offer.changed"
)

// ClassifiedEvent is a single outward event: a kind, the offer snapshot it
// describes, and, for changed events where history exists, the previously
// known state.
type ClassifiedEvent struct {
	Kind EventKind
	// Offer is the snapshot at the moment of classification.
	Offer OfferSnapshot
	// OldState is the previously known state. Present only for
	// EventOfferChanged, and only when a prior state was recorded.
	OldState *OfferState
}
