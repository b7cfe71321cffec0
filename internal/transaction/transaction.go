// Package transaction implements the purchase and escrow lifecycle.
//
// A transaction carries two coupled state machines:
//
//	payment: pending → {succeeded, failed};  succeeded → refunded
//	escrow:  pending → held → {released, disputed}
//	         disputed → {refunded, held}
//
// The fee split (amount = commission + sellerReceives) is computed once at
// creation and never recomputed. Webhook- and scheduler-driven transitions
// are idempotent no-ops when the stored state already moved on; the same
// transition attempted by a user surfaces a validation error instead.
package transaction

import (
	"context"
	"time"
)

// PaymentStatus is the state of the buyer's charge.
type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"   // authorization created, awaiting processor confirmation
	PaymentSucceeded PaymentStatus = "succeeded" // funds captured
	PaymentFailed    PaymentStatus = "failed"    // processor declined; terminal
	PaymentRefunded  PaymentStatus = "refunded"  // funds returned to the buyer; terminal
)

// EscrowStatus is the state of the held funds.
type EscrowStatus string

const (
	EscrowPending  EscrowStatus = "pending"  // no funds held yet
	EscrowHeld     EscrowStatus = "held"     // funds held through the holding period
	EscrowReleased EscrowStatus = "released" // funds released to the seller; terminal
	EscrowDisputed EscrowStatus = "disputed" // buyer opened a chargeback; release frozen
	EscrowRefunded EscrowStatus = "refunded" // funds returned to the buyer; terminal
)

// DeliveryStatus tracks the seller's hand-off of the project assets.
type DeliveryStatus string

const (
	DeliveryPending   DeliveryStatus = "pending"
	DeliveryDelivered DeliveryStatus = "delivered"
)

// Transaction represents one purchase of a project.
type Transaction struct {
	ID                  string         `json:"id"`
	ProjectID           string         `json:"projectId"`
	BuyerID             string         `json:"buyerId"`
	SellerID            string         `json:"sellerId"`
	OfferID             string         `json:"offerId,omitempty"` // accepted offer that set the price, if any
	AmountCents         int64          `json:"amountCents"`
	CommissionCents     int64          `json:"commissionCents"`
	SellerReceivesCents int64          `json:"sellerReceivesCents"`
	PaymentStatus       PaymentStatus  `json:"paymentStatus"`
	EscrowStatus        EscrowStatus   `json:"escrowStatus"`
	DeliveryStatus      DeliveryStatus `json:"deliveryStatus"`
	// ProcessorRef is the processor's PaymentIntent id. It is the
	// idempotency key webhook events reconcile against.
	ProcessorRef string `json:"processorRef,omitempty"`
	// ClientSecret completes the buyer's card confirmation. Returned on
	// creation only, never in later reads.
	ClientSecret string    `json:"clientSecret,omitempty"`
	ReleaseAt    time.Time `json:"releaseAt,omitzero"` // escrow release eligibility, set when funds are held
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// Settled reports whether money finished moving in either direction.
func (t *Transaction) Settled() bool {
	return t.EscrowStatus == EscrowReleased || t.EscrowStatus == EscrowRefunded ||
		t.PaymentStatus == PaymentFailed
}

// isParty reports whether actorID is the buyer or the seller.
func (t *Transaction) isParty(actorID string) bool {
	return actorID == t.BuyerID || actorID == t.SellerID
}

// Expected names the prior state a compare-and-set transition demands.
type Expected struct {
	Payment PaymentStatus
	Escrow  EscrowStatus
}

// Store persists transaction data.
type Store interface {
	// Create inserts a new transaction. It fails with a Validation fault
	// when the project already has a transaction in an active payment
	// state, or when the offer is already attached to an active checkout.
	Create(ctx context.Context, t *Transaction) error
	Get(ctx context.Context, id string) (*Transaction, error)
	// GetByProcessorRef resolves the transaction a webhook event refers to.
	GetByProcessorRef(ctx context.Context, ref string) (*Transaction, error)
	// UpdateIf persists t only if the stored payment and escrow statuses
	// both still match expected. Returns false on a lost race. Delivery
	// status is never written here; it has its own transition below.
	UpdateIf(ctx context.Context, t *Transaction, expected Expected) (bool, error)
	// SetDelivered moves delivery from pending to delivered. Returns
	// false when delivery already happened.
	SetDelivered(ctx context.Context, id string) (bool, error)
	// SetProcessorRef attaches the processor reference after the
	// authorization call succeeds.
	SetProcessorRef(ctx context.Context, id, ref string) error
	ListByBuyer(ctx context.Context, buyerID string, limit int) ([]*Transaction, error)
	// ListReleasable returns held-escrow transactions whose release date
	// has passed.
	ListReleasable(ctx context.Context, now time.Time, limit int) ([]*Transaction, error)
	// ListStalePending returns pending-payment transactions created
	// before the cutoff, oldest first. These are checkouts the processor
	// never confirmed.
	ListStalePending(ctx context.Context, before time.Time, limit int) ([]*Transaction, error)
	// ListReleasingWithin returns held-escrow transactions releasing
	// between now and the horizon, for pre-release warnings.
	ListReleasingWithin(ctx context.Context, now, horizon time.Time, limit int) ([]*Transaction, error)
}

// CreateRequest contains the parameters for starting a checkout. When
// OfferID is set the accepted offer's negotiated price overrides the
// listed price.
type CreateRequest struct {
	ProjectID string `json:"projectId" binding:"required"`
	OfferID   string `json:"offerId"`
}
