// Package sweep runs the time-driven settlement work: releasing held
// escrow past its holding period, warning buyers before release,
// expiring stale offers, and failing abandoned checkouts so their
// projects go back on the market.
//
// A run never aborts on a single bad item; failures are collected into
// the summary and the batch continues. Runs are safe to repeat and safe
// to overlap, because every transition underneath is a compare-and-set.
package sweep

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/joseairosa/codesalvage/internal/metrics"
	"github.com/joseairosa/codesalvage/internal/transaction"
)

// batchLimit caps how many items one run processes per concern.
const batchLimit = 500

// OfferExpirer expires offers past their TTL. Satisfied by the offer
// service.
type OfferExpirer interface {
	ExpireStale(ctx context.Context, before time.Time, limit int) (int, error)
}

// Summary reports what one sweep run did.
type Summary struct {
	Released         int       `json:"released"`
	Warned           int       `json:"warned"`
	ExpiredOffers    int       `json:"expiredOffers"`
	ExpiredCheckouts int       `json:"expiredCheckouts"`
	Failures         []string  `json:"failures,omitempty"`
	StartedAt        time.Time `json:"startedAt"`
	Duration         string    `json:"duration"`
}

// Sweeper executes sweep runs.
type Sweeper struct {
	txns        *transaction.Service
	offers      OfferExpirer
	warning     time.Duration // pre-release warning horizon
	checkoutTTL time.Duration // pending checkouts older than this are failed
	logger      *slog.Logger
}

// NewSweeper creates a sweeper over the transaction and offer services.
func NewSweeper(txns *transaction.Service, offers OfferExpirer, warning, checkoutTTL time.Duration, logger *slog.Logger) *Sweeper {
	return &Sweeper{txns: txns, offers: offers, warning: warning, checkoutTTL: checkoutTTL, logger: logger}
}

// Run executes one sweep and returns its summary. The returned error is
// nil even when individual items failed; only a completely broken run
// (nothing could be listed) is an error.
func (s *Sweeper) Run(ctx context.Context, now time.Time) (*Summary, error) {
	start := time.Now()
	sum := &Summary{StartedAt: start}

	releasable, err := s.txns.ListReleasable(ctx, now, batchLimit)
	if err != nil {
		metrics.SweepRunsTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("list releasable escrow: %w", err)
	}
	for _, t := range releasable {
		released, err := s.txns.ReleaseEscrow(ctx, t.ID, "sweep")
		if err != nil {
			sum.Failures = append(sum.Failures, fmt.Sprintf("release %s: %v", t.ID, err))
			s.logger.Warn("sweep failed to release escrow", "transactionId", t.ID, "error", err)
			continue
		}
		if released {
			sum.Released++
		}
	}

	warned, err := s.txns.WarnUpcomingReleases(ctx, now, s.warning, batchLimit)
	if err != nil {
		sum.Failures = append(sum.Failures, fmt.Sprintf("warn upcoming releases: %v", err))
	}
	sum.Warned = warned

	expired, err := s.offers.ExpireStale(ctx, now, batchLimit)
	if err != nil {
		sum.Failures = append(sum.Failures, fmt.Sprintf("expire offers: %v", err))
	}
	sum.ExpiredOffers = expired

	abandoned, err := s.txns.ExpireStaleCheckouts(ctx, now.Add(-s.checkoutTTL), batchLimit)
	if err != nil {
		sum.Failures = append(sum.Failures, fmt.Sprintf("expire checkouts: %v", err))
	}
	sum.ExpiredCheckouts = abandoned

	sum.Duration = time.Since(start).String()
	outcome := "ok"
	if len(sum.Failures) > 0 {
		outcome = "partial"
	}
	metrics.SweepRunsTotal.WithLabelValues(outcome).Inc()
	metrics.SweepDuration.Observe(time.Since(start).Seconds())

	s.logger.Info("sweep completed",
		"released", sum.Released, "warned", sum.Warned,
		"expiredOffers", sum.ExpiredOffers, "expiredCheckouts", sum.ExpiredCheckouts,
		"failures", len(sum.Failures), "duration", sum.Duration)
	return sum, nil
}
