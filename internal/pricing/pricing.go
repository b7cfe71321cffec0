// Package pricing computes fee splits and escrow release dates.
//
// All amounts are integer minor-currency units (cents). The breakdown is
// computed once at transaction creation and never recomputed afterward.
package pricing

import (
	"time"

	"github.com/joseairosa/codesalvage/internal/fault"
)

// bpsDenominator is the basis-point scale (10000 = 100%).
const bpsDenominator = 10000

// Policy holds the marketplace pricing constants.
type Policy struct {
	CommissionBps int           // platform fee in basis points
	EscrowHold    time.Duration // holding period before escrow release
	MinPriceCents int64         // floor for any charged or offered price
}

// Breakdown splits a sale amount into platform commission and the amount
// the seller receives. The commission absorbs the rounding remainder, so
// commission + sellerReceives == amount always holds.
func (p Policy) Breakdown(amount int64) (commission, sellerReceives int64) {
	sellerReceives = amount * int64(bpsDenominator-p.CommissionBps) / bpsDenominator
	commission = amount - sellerReceives
	return commission, sellerReceives
}

// ReleaseDate returns the timestamp after which held escrow becomes
// eligible for automatic release to the seller.
func (p Policy) ReleaseDate(now time.Time) time.Time {
	return now.Add(p.EscrowHold)
}

// ValidatePrice checks that a price is a positive integer at or above the
// configured floor.
func (p Policy) ValidatePrice(amount int64) error {
	if amount <= 0 {
		return fault.Field("price", "price must be a positive integer")
	}
	if amount < p.MinPriceCents {
		return fault.Field("price", "price is below the minimum")
	}
	return nil
}
