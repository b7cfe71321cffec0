// Package offer provides price negotiation between buyers and sellers.
//
// Flow:
//  1. Buyer makes an offer below (or above) the listed price
//  2. Seller accepts, rejects, or counters; buyer may counter back
//  3. An accepted offer authorizes exactly one checkout at the agreed price
//  4. Offers not acted on within the TTL expire
//
// Turn-taking is persisted explicitly: AwaitingReplyFrom names the party
// who may act on the standing price, so the same party can never counter
// or accept twice in a row.
package offer

import (
	"context"
	"time"
)

// Status represents the state of an offer.
type Status string

const (
	StatusPending   Status = "pending"   // initial offer, waiting on the seller
	StatusCountered Status = "countered" // a counter price stands, waiting on the other party
	StatusAccepted  Status = "accepted"  // agreed; authorizes one checkout
	StatusRejected  Status = "rejected"  // declined by the awaited party
	StatusWithdrawn Status = "withdrawn" // pulled back by the buyer
	StatusExpired   Status = "expired"   // TTL elapsed without agreement
)

// Offer represents a buyer-proposed price for a project.
type Offer struct {
	ID                string    `json:"id"`
	ProjectID         string    `json:"projectId"`
	BuyerID           string    `json:"buyerId"`
	SellerID          string    `json:"sellerId"`
	PriceCents        int64     `json:"priceCents"`             // buyer's original offer
	CounterCents      int64     `json:"counterCents,omitempty"` // standing counter price, 0 if none
	Message           string    `json:"message,omitempty"`
	Status            Status    `json:"status"`
	AwaitingReplyFrom string    `json:"awaitingReplyFrom,omitempty"` // party who may act next
	LastActorID       string    `json:"lastActorId"`                 // party who set the standing price
	ExpiresAt         time.Time `json:"expiresAt"`
	CreatedAt         time.Time `json:"createdAt"`
	UpdatedAt         time.Time `json:"updatedAt"`
}

// IsTerminal returns true if the offer is in a final state.
func (o *Offer) IsTerminal() bool {
	switch o.Status {
	case StatusAccepted, StatusRejected, StatusWithdrawn, StatusExpired:
		return true
	}
	return false
}

// Active reports whether the offer is still open to negotiation.
func (o *Offer) Active() bool {
	return o.Status == StatusPending || o.Status == StatusCountered
}

// CurrentPrice returns the standing price: the latest counter if one
// exists, otherwise the buyer's original offer.
func (o *Offer) CurrentPrice() int64 {
	if o.CounterCents > 0 {
		return o.CounterCents
	}
	return o.PriceCents
}

// counterpart returns the other negotiating party.
func (o *Offer) counterpart(actorID string) string {
	if actorID == o.BuyerID {
		return o.SellerID
	}
	return o.BuyerID
}

// isParty reports whether actorID is the buyer or the seller.
func (o *Offer) isParty(actorID string) bool {
	return actorID == o.BuyerID || actorID == o.SellerID
}

// Store persists offer data.
type Store interface {
	// Create inserts a new offer. It fails with a Validation fault when an
	// active offer already exists for the same (project, buyer) pair.
	Create(ctx context.Context, o *Offer) error
	Get(ctx context.Context, id string) (*Offer, error)
	// UpdateIf persists o only if the stored status still equals expected.
	// Returns false when a concurrent writer moved the offer first.
	UpdateIf(ctx context.Context, o *Offer, expected Status) (bool, error)
	ListByProject(ctx context.Context, projectID string, limit int) ([]*Offer, error)
	ListByBuyer(ctx context.Context, buyerID string, limit int) ([]*Offer, error)
	// ListExpired returns active offers whose ExpiresAt is before the cutoff.
	ListExpired(ctx context.Context, before time.Time, limit int) ([]*Offer, error)
}

// CreateRequest contains the parameters for making an offer.
type CreateRequest struct {
	ProjectID  string `json:"projectId" binding:"required"`
	PriceCents int64  `json:"priceCents" binding:"required"`
	Message    string `json:"message"`
}

// CounterRequest contains the parameters for a counter-offer.
type CounterRequest struct {
	PriceCents int64  `json:"priceCents" binding:"required"`
	Message    string `json:"message"`
}
