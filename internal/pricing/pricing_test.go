package pricing

import (
	"testing"
	"time"

	"github.com/joseairosa/codesalvage/internal/fault"
	"github.com/stretchr/testify/assert"
)

func testPolicy() Policy {
	return Policy{
		CommissionBps: 2000,
		EscrowHold:    7 * 24 * time.Hour,
		MinPriceCents: 100,
	}
}

func TestBreakdown(t *testing.T) {
	p := testPolicy()

	commission, seller := p.Breakdown(10000)
	assert.Equal(t, int64(2000), commission)
	assert.Equal(t, int64(8000), seller)

	// Negotiated price from a counter-offer, not the listed price.
	commission, seller = p.Breakdown(7000)
	assert.Equal(t, int64(1400), commission)
	assert.Equal(t, int64(5600), seller)
}

func TestBreakdown_SumInvariant(t *testing.T) {
	// Commission takes the rounding remainder; the parts always sum to
	// the whole for awkward amounts too.
	for _, p := range []Policy{
		{CommissionBps: 2000},
		{CommissionBps: 1550},
		{CommissionBps: 333},
		{CommissionBps: 0},
		{CommissionBps: 10000},
	} {
		for _, amount := range []int64{1, 99, 101, 7000, 9999, 123457} {
			commission, seller := p.Breakdown(amount)
			assert.Equal(t, amount, commission+seller,
				"bps=%d amount=%d", p.CommissionBps, amount)
			assert.GreaterOrEqual(t, commission, int64(0))
			assert.GreaterOrEqual(t, seller, int64(0))
		}
	}
}

func TestReleaseDate(t *testing.T) {
	p := testPolicy()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, now.Add(7*24*time.Hour), p.ReleaseDate(now))
}

func TestValidatePrice(t *testing.T) {
	p := testPolicy()

	assert.NoError(t, p.ValidatePrice(100))
	assert.NoError(t, p.ValidatePrice(50000))

	err := p.ValidatePrice(0)
	assert.True(t, fault.IsKind(err, fault.KindValidation))

	err = p.ValidatePrice(-500)
	assert.True(t, fault.IsKind(err, fault.KindValidation))

	err = p.ValidatePrice(99)
	assert.True(t, fault.IsKind(err, fault.KindValidation))
}
