// Package payments wraps the card processor behind a narrow interface.
//
// The core treats the processor as untrusted eventual state: creating an
// authorization only reserves funds, and no transaction is considered
// paid until the processor says so through a signed webhook event.
package payments

import "context"

// Authorization is a created-but-unconfirmed payment reservation.
type Authorization struct {
	// ID is the processor's reference (PaymentIntent id). It is the
	// idempotency key for every later webhook about this payment.
	ID string
	// ClientSecret is handed to the buyer's client to complete the
	// card confirmation flow. Never logged.
	ClientSecret string
}

// Event is a verified webhook event, reduced to what reconciliation needs.
type Event struct {
	ID              string // processor event id
	Type            string // e.g. "payment_intent.succeeded"
	PaymentIntentID string // processor reference of the affected payment
	DisputeStatus   string // set for charge.dispute.closed ("won", "lost")
}

// Processor is the payment provider surface the settlement core uses.
type Processor interface {
	// CreateAuthorization reserves amountCents against the buyer and
	// returns the processor reference plus the client confirmation secret.
	CreateAuthorization(ctx context.Context, amountCents int64, metadata map[string]string) (*Authorization, error)
	// CancelAuthorization voids an unconfirmed authorization, e.g. when
	// the buyer abandons checkout. Confirmed payments cannot be
	// cancelled; use Refund.
	CancelAuthorization(ctx context.Context, paymentIntentID string) error
	// Refund returns the full charged amount to the buyer. The resulting
	// state change arrives asynchronously as a charge.refunded event.
	Refund(ctx context.Context, paymentIntentID string) error
	// VerifySignature authenticates a raw webhook payload and returns the
	// parsed event. A Signature fault means the payload must be discarded.
	VerifySignature(payload []byte, sigHeader string) (*Event, error)
}
