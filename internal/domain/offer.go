// Package domain contains core domain types for tradefeed.
package domain

import (
	"time"
)

// OfferState is the lifecycle state of a trade offer as reported by the
// trading platform. The numeric values are the platform's wire values.
type OfferState int

const (
	// StateInvalid is a placeholder for offers the platform reports as malformed.
	StateInvalid OfferState = 1
	// StateActive means the offer is open and awaiting the partner's response.
	StateActive OfferState = 2
	// StateAccepted means the partner accepted the offer and items were exchanged.
	StateAccepted OfferState = 3
	// StateCountered means the partner responded with a counter offer.
	StateCountered OfferState = 4
	// StateExpired means the offer passed its expiry time without a response.
	StateExpired OfferState = 5
	// StateCanceled means the sender withdrew the offer.
	StateCanceled OfferState = 6
	// StateDeclined means the partner rejected the offer.
	StateDeclined OfferState = 7
	// StateInvalidItems means items in the offer are no longer available.
	StateInvalidItems OfferState = 8
	// StateCreatedNeedsConfirmation means the offer was created but awaits
	// sender-side confirmation before becoming visible to the partner.
	StateCreatedNeedsConfirmation OfferState = 9
	// StateCanceledBySecondFactor means a second-factor device canceled the offer.
	StateCanceledBySecondFactor OfferState = 10
	// StateInEscrow means the exchange completed but items are held in escrow.
	StateInEscrow OfferState = 11
)

// String returns the platform name for the state.
func (s OfferState) String() string {
	switch s {
	case StateInvalid:
		return "Invalid"
	case StateActive:
		return "Active"
	case StateAccepted:
		return "Accepted"
	case StateCountered:
		return "Countered"
	case StateExpired:
		return "Expired"
	case StateCanceled:
		return "Canceled"
	case StateDeclined:
		return "Declined"
	case StateInvalidItems:
		return "InvalidItems"
	case StateCreatedNeedsConfirmation:
		return "CreatedNeedsConfirmation"
	case StateCanceledBySecondFactor:
		return "CanceledBySecondFactor"
	case StateInEscrow:
		return "InEscrow"
	default:
		return "Unknown"
	}
}

// Terminal reports whether the state is final: no further transitions are
// expected from the platform for this offer.
func (s OfferState) Terminal() bool {
	switch s {
	case StateAccepted, StateExpired, StateCanceled, StateDeclined,
		StateInvalidItems, StateCanceledBySecondFactor:
		return true
	default:
		return false
	}
}

// ConfirmationMethod identifies how an offer must be confirmed by the sender.
type ConfirmationMethod int

const (
	// ConfirmationNone means no confirmation is required.
	ConfirmationNone ConfirmationMethod = 0
	// ConfirmationEmail means the offer is confirmed via an email link.
	ConfirmationEmail ConfirmationMethod = 1
	// ConfirmationMobile means the offer is confirmed via the mobile authenticator.
	ConfirmationMobile ConfirmationMethod = 2
)

// Item is a reference to a single inventory asset included in an offer.
type Item struct {
	AssetID   string `json:"asset_id"`
	ClassID   string `json:"class_id,omitempty"`
	ContextID string `json:"context_id,omitempty"`
	Amount    int    `json:"amount"`
}

// OfferSnapshot is an immutable view of a trade offer at a point in time.
// Timestamps are epoch seconds, matching the platform wire format.
type OfferSnapshot struct {
	ID                 string             `json:"id"`
	Partner            string             `json:"partner"`
	Message            string             `json:"message"`
	State              OfferState         `json:"state"`
	ItemsToGive        []Item             `json:"items_to_give"`
	ItemsToReceive     []Item             `json:"items_to_receive"`
	IsGlitched         bool               `json:"is_glitched"`
	IsOurOffer         bool               `json:"is_our_offer"`
	CreatedAt          int64              `json:"created_at"`
	UpdatedAt          int64              `json:"updated_at"`
	ExpiresAt          int64              `json:"expires_at"`
	TradeID            string             `json:"trade_id,omitempty"`
	FromRealTimeTrade  bool               `json:"from_real_time_trade"`
	ConfirmationMethod ConfirmationMethod `json:"confirmation_method"`
	EscrowEndsAt       *int64             `json:"escrow_ends_at,omitempty"`
}

// Expired reports whether the offer's expiry time has passed.
func (o *OfferSnapshot) Expired(now time.Time) bool {
	return o.ExpiresAt > 0 && now.Unix() >= o.ExpiresAt
}

// GiftOffer reports whether the offer gives nothing away (receive-only).
func (o *OfferSnapshot) GiftOffer() bool {
	return len(o.ItemsToGive) == 0
}
