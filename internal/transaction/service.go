package transaction

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/joseairosa/codesalvage/internal/fault"
	"github.com/joseairosa/codesalvage/internal/idgen"
	"github.com/joseairosa/codesalvage/internal/metrics"
	"github.com/joseairosa/codesalvage/internal/notify"
	"github.com/joseairosa/codesalvage/internal/payments"
	"github.com/joseairosa/codesalvage/internal/pricing"
	"github.com/joseairosa/codesalvage/internal/project"
)

// OfferResolver authorizes checkouts at a negotiated price. Satisfied by
// the offer service.
type OfferResolver interface {
	ResolveAccepted(ctx context.Context, offerID, buyerID, projectID string) (int64, error)
}

// Service implements the transaction/escrow state machine.
type Service struct {
	store     Store
	projects  project.Store
	offers    OfferResolver
	processor payments.Processor
	policy    pricing.Policy
	notifier  *notify.Service
	logger    *slog.Logger
}

// NewService creates a new transaction service.
func NewService(store Store, projects project.Store, offers OfferResolver, processor payments.Processor, policy pricing.Policy, notifier *notify.Service, logger *slog.Logger) *Service {
	return &Service{
		store:     store,
		projects:  projects,
		offers:    offers,
		processor: processor,
		policy:    policy,
		notifier:  notifier,
		logger:    logger,
	}
}

// Create starts a checkout: it reserves the project (at most one active
// transaction per project), requests a payment authorization from the
// processor and returns the transaction with the client confirmation
// secret. The row is inserted before the processor call so the uniqueness
// guarantee holds even while the authorization is in flight; if the
// processor call fails the reservation is released by failing the payment.
func (s *Service) Create(ctx context.Context, buyerID string, req CreateRequest) (*Transaction, error) {
	p, err := s.projects.Get(ctx, req.ProjectID)
	if err != nil {
		return nil, err
	}
	if !p.Purchasable() {
		return nil, fault.New(fault.KindValidation, "project is not available for purchase")
	}
	if buyerID == p.SellerID {
		return nil, fault.New(fault.KindValidation, "cannot buy your own project")
	}
	if p.SellerAccountID == "" {
		return nil, fault.New(fault.KindValidation, "seller is not set up to receive payouts")
	}

	amount := p.PriceCents
	if req.OfferID != "" {
		amount, err = s.offers.ResolveAccepted(ctx, req.OfferID, buyerID, p.ID)
		if err != nil {
			return nil, err
		}
	}
	commission, sellerReceives := s.policy.Breakdown(amount)

	now := time.Now()
	t := &Transaction{
		ID:                  idgen.WithPrefix("txn_"),
		ProjectID:           p.ID,
		BuyerID:             buyerID,
		SellerID:            p.SellerID,
		OfferID:             req.OfferID,
		AmountCents:         amount,
		CommissionCents:     commission,
		SellerReceivesCents: sellerReceives,
		PaymentStatus:       PaymentPending,
		EscrowStatus:        EscrowPending,
		DeliveryStatus:      DeliveryPending,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	if err := s.store.Create(ctx, t); err != nil {
		return nil, err
	}

	auth, err := s.processor.CreateAuthorization(ctx, amount, map[string]string{
		"transaction_id": t.ID,
		"project_id":     p.ID,
		"buyer_id":       buyerID,
	})
	if err != nil {
		// Release the project reservation so the buyer (or anyone else)
		// can try again.
		t.PaymentStatus = PaymentFailed
		t.UpdatedAt = time.Now()
		if _, casErr := s.store.UpdateIf(ctx, t, Expected{Payment: PaymentPending, Escrow: EscrowPending}); casErr != nil {
			s.logger.Error("failed to release reservation after processor error",
				"transactionId", t.ID, "error", casErr)
		}
		return nil, err
	}

	if err := s.store.SetProcessorRef(ctx, t.ID, auth.ID); err != nil {
		// A pending row without its processor reference can never be
		// resolved by a webhook. Fail it and void the authorization so
		// the project does not stay reserved forever.
		s.logger.Error("failed to store processor reference", "transactionId", t.ID, "error", err)
		t.PaymentStatus = PaymentFailed
		t.UpdatedAt = time.Now()
		if _, casErr := s.store.UpdateIf(ctx, t, Expected{Payment: PaymentPending, Escrow: EscrowPending}); casErr != nil {
			s.logger.Error("failed to release reservation after ref store error",
				"transactionId", t.ID, "error", casErr)
		}
		if cancelErr := s.processor.CancelAuthorization(ctx, auth.ID); cancelErr != nil {
			s.logger.Warn("failed to cancel orphaned authorization",
				"transactionId", t.ID, "processorRef", auth.ID, "error", cancelErr)
		}
		return nil, err
	}
	t.ProcessorRef = auth.ID
	t.ClientSecret = auth.ClientSecret

	metrics.TransactionsTotal.WithLabelValues("created").Inc()
	return t, nil
}

// Get returns a transaction. Only the buyer and the seller may view it,
// and the client secret is never included in reads.
func (s *Service) Get(ctx context.Context, actorID, id string) (*Transaction, error) {
	t, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !t.isParty(actorID) {
		return nil, fault.New(fault.KindPermission, "not a party to this transaction")
	}
	return t, nil
}

// ListByBuyer returns the actor's own purchases.
func (s *Service) ListByBuyer(ctx context.Context, buyerID string, limit int) ([]*Transaction, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.store.ListByBuyer(ctx, buyerID, limit)
}

// ConfirmPayment moves a transaction to paid-and-held when the processor
// reports the charge succeeded. Returns true only on the transition that
// actually happened; replays and out-of-state events return false with no
// side effects, so the caller can gate notifications on the bool alone.
func (s *Service) ConfirmPayment(ctx context.Context, processorRef string) (bool, error) {
	t, err := s.store.GetByProcessorRef(ctx, processorRef)
	if err != nil {
		return false, err
	}
	if t.PaymentStatus != PaymentPending {
		return false, nil
	}

	now := time.Now()
	t.PaymentStatus = PaymentSucceeded
	t.EscrowStatus = EscrowHeld
	t.ReleaseAt = s.policy.ReleaseDate(now)
	t.UpdatedAt = now

	ok, err := s.store.UpdateIf(ctx, t, Expected{Payment: PaymentPending, Escrow: EscrowPending})
	if err != nil || !ok {
		return false, err
	}

	// The sale consumes the listing. A lost CAS here means the project
	// already left active state; the transaction stays authoritative.
	if sold, err := s.projects.Transition(ctx, t.ProjectID, project.StatusActive, project.StatusSold); err != nil {
		s.logger.Error("failed to mark project sold", "projectId", t.ProjectID, "error", err)
	} else if !sold {
		s.logger.Warn("project was not active at sale confirmation", "projectId", t.ProjectID)
	}

	metrics.TransactionsTotal.WithLabelValues("succeeded").Inc()
	s.notifier.SendOnce(ctx, "purchase_confirmed:"+t.ID, "purchase_confirmed", t.BuyerID, map[string]any{
		"transactionId": t.ID, "projectId": t.ProjectID, "amountCents": t.AmountCents,
	})
	s.notifier.SendOnce(ctx, "sale_confirmed:"+t.ID, "sale_confirmed", t.SellerID, map[string]any{
		"transactionId": t.ID, "projectId": t.ProjectID, "sellerReceivesCents": t.SellerReceivesCents,
	})
	return true, nil
}

// FailPayment marks a pending payment as declined.
func (s *Service) FailPayment(ctx context.Context, processorRef string) (bool, error) {
	t, err := s.store.GetByProcessorRef(ctx, processorRef)
	if err != nil {
		return false, err
	}
	if t.PaymentStatus != PaymentPending {
		return false, nil
	}

	t.PaymentStatus = PaymentFailed
	t.UpdatedAt = time.Now()
	ok, err := s.store.UpdateIf(ctx, t, Expected{Payment: PaymentPending, Escrow: EscrowPending})
	if err != nil || !ok {
		return false, err
	}

	metrics.TransactionsTotal.WithLabelValues("failed").Inc()
	s.notifier.SendOnce(ctx, "payment_failed:"+t.ID, "payment_failed", t.BuyerID, map[string]any{
		"transactionId": t.ID, "projectId": t.ProjectID,
	})
	return true, nil
}

// Refund asks the processor to return the buyer's money. The state change
// lands asynchronously through the charge.refunded webhook; this call only
// validates refundability and issues the request.
func (s *Service) Refund(ctx context.Context, id string) error {
	t, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if t.PaymentStatus != PaymentSucceeded {
		return fault.New(fault.KindValidation, "only a succeeded payment can be refunded")
	}
	if t.EscrowStatus != EscrowHeld && t.EscrowStatus != EscrowDisputed {
		return fault.New(fault.KindValidation, "escrow has already been settled")
	}
	return s.processor.Refund(ctx, t.ProcessorRef)
}

// MarkRefunded records that the processor returned the funds. The listing
// goes back on the market.
func (s *Service) MarkRefunded(ctx context.Context, processorRef string) (bool, error) {
	t, err := s.store.GetByProcessorRef(ctx, processorRef)
	if err != nil {
		return false, err
	}
	if t.PaymentStatus != PaymentSucceeded {
		return false, nil
	}
	if t.EscrowStatus != EscrowHeld && t.EscrowStatus != EscrowDisputed {
		return false, nil
	}

	expected := Expected{Payment: PaymentSucceeded, Escrow: t.EscrowStatus}
	t.PaymentStatus = PaymentRefunded
	t.EscrowStatus = EscrowRefunded
	t.UpdatedAt = time.Now()
	ok, err := s.store.UpdateIf(ctx, t, expected)
	if err != nil || !ok {
		return false, err
	}

	if _, err := s.projects.Transition(ctx, t.ProjectID, project.StatusSold, project.StatusActive); err != nil {
		s.logger.Error("failed to relist project after refund", "projectId", t.ProjectID, "error", err)
	}

	metrics.TransactionsTotal.WithLabelValues("refunded").Inc()
	s.notifier.SendOnce(ctx, "refund_issued:"+t.ID, "refund_issued", t.BuyerID, map[string]any{
		"transactionId": t.ID, "amountCents": t.AmountCents,
	})
	return true, nil
}

// OpenDispute freezes held escrow when the buyer opens a chargeback.
func (s *Service) OpenDispute(ctx context.Context, processorRef string) (bool, error) {
	t, err := s.store.GetByProcessorRef(ctx, processorRef)
	if err != nil {
		return false, err
	}
	if t.PaymentStatus != PaymentSucceeded || t.EscrowStatus != EscrowHeld {
		return false, nil
	}

	t.EscrowStatus = EscrowDisputed
	t.UpdatedAt = time.Now()
	ok, err := s.store.UpdateIf(ctx, t, Expected{Payment: PaymentSucceeded, Escrow: EscrowHeld})
	if err != nil || !ok {
		return false, err
	}

	metrics.TransactionsTotal.WithLabelValues("disputed").Inc()
	s.notifier.SendOnce(ctx, "dispute_opened:"+t.ID, "dispute_opened", t.SellerID, map[string]any{
		"transactionId": t.ID, "projectId": t.ProjectID,
	})
	return true, nil
}

// CloseDispute settles a chargeback. A won dispute returns the escrow to
// held with a fresh holding period; a lost one refunds the buyer and
// relists the project.
func (s *Service) CloseDispute(ctx context.Context, processorRef string, sellerWon bool) (bool, error) {
	if !sellerWon {
		return s.MarkRefunded(ctx, processorRef)
	}

	t, err := s.store.GetByProcessorRef(ctx, processorRef)
	if err != nil {
		return false, err
	}
	if t.PaymentStatus != PaymentSucceeded || t.EscrowStatus != EscrowDisputed {
		return false, nil
	}

	now := time.Now()
	t.EscrowStatus = EscrowHeld
	t.ReleaseAt = s.policy.ReleaseDate(now)
	t.UpdatedAt = now
	ok, err := s.store.UpdateIf(ctx, t, Expected{Payment: PaymentSucceeded, Escrow: EscrowDisputed})
	if err != nil || !ok {
		return false, err
	}

	s.notifier.SendOnce(ctx, "dispute_won:"+t.ID, "dispute_won", t.SellerID, map[string]any{
		"transactionId": t.ID,
	})
	return true, nil
}

// ReleaseEscrow releases held funds to the seller once the holding period
// has elapsed. Any off-held state is a no-op, so a sweep racing a refund
// or a second sweep run does nothing.
func (s *Service) ReleaseEscrow(ctx context.Context, id, trigger string) (bool, error) {
	t, err := s.store.Get(ctx, id)
	if err != nil {
		return false, err
	}
	if t.PaymentStatus != PaymentSucceeded || t.EscrowStatus != EscrowHeld {
		return false, nil
	}
	if time.Now().Before(t.ReleaseAt) {
		return false, fault.New(fault.KindValidation, "escrow holding period has not elapsed")
	}
	return s.release(ctx, t, trigger)
}

// ForceRelease releases held escrow immediately, before the holding
// period elapses. Operator override for support resolutions in the
// seller's favor. Off-held states are a no-op, same as the sweep path.
func (s *Service) ForceRelease(ctx context.Context, id string) (bool, error) {
	t, err := s.store.Get(ctx, id)
	if err != nil {
		return false, err
	}
	if t.PaymentStatus != PaymentSucceeded || t.EscrowStatus != EscrowHeld {
		return false, nil
	}
	return s.release(ctx, t, "admin")
}

func (s *Service) release(ctx context.Context, t *Transaction, trigger string) (bool, error) {
	t.EscrowStatus = EscrowReleased
	t.UpdatedAt = time.Now()
	ok, err := s.store.UpdateIf(ctx, t, Expected{Payment: PaymentSucceeded, Escrow: EscrowHeld})
	if err != nil || !ok {
		return false, err
	}

	metrics.EscrowReleasesTotal.WithLabelValues(trigger).Inc()
	s.notifier.SendOnce(ctx, "escrow_released:"+t.ID, "escrow_released", t.SellerID, map[string]any{
		"transactionId": t.ID, "sellerReceivesCents": t.SellerReceivesCents,
	})
	return true, nil
}

// MarkDelivered records the seller's hand-off of the project assets.
// Delivery moves on its own axis, so a payment or escrow transition
// committing concurrently can neither block nor undo it.
func (s *Service) MarkDelivered(ctx context.Context, actorID, id string) (*Transaction, error) {
	t, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if actorID != t.SellerID {
		return nil, fault.New(fault.KindPermission, "only the seller may mark delivery")
	}
	if t.PaymentStatus != PaymentSucceeded {
		return nil, fault.New(fault.KindValidation, "payment has not succeeded")
	}

	ok, err := s.store.SetDelivered(ctx, id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fault.New(fault.KindValidation, "already delivered")
	}
	t.DeliveryStatus = DeliveryDelivered
	t.UpdatedAt = time.Now()

	s.notifier.Send(ctx, "code_delivered", t.BuyerID, map[string]any{
		"transactionId": t.ID, "projectId": t.ProjectID,
	})
	return t, nil
}

// ListReleasable returns held transactions due for release.
func (s *Service) ListReleasable(ctx context.Context, now time.Time, limit int) ([]*Transaction, error) {
	return s.store.ListReleasable(ctx, now, limit)
}

// ExpireStaleCheckouts fails pending checkouts created before the cutoff.
// An abandoned confirmation never produces a webhook, so without this a
// stale pending row would hold the project's purchase slot forever. The
// row is failed first, then the authorization voided; if the void fails,
// a late confirmation webhook still lands on a non-pending row and
// no-ops.
func (s *Service) ExpireStaleCheckouts(ctx context.Context, before time.Time, limit int) (int, error) {
	stale, err := s.store.ListStalePending(ctx, before, limit)
	if err != nil {
		return 0, err
	}

	expired := 0
	for _, t := range stale {
		t.PaymentStatus = PaymentFailed
		t.UpdatedAt = time.Now()
		ok, err := s.store.UpdateIf(ctx, t, Expected{Payment: PaymentPending, Escrow: EscrowPending})
		if err != nil {
			s.logger.Warn("failed to expire stale checkout", "transactionId", t.ID, "error", err)
			continue
		}
		if !ok {
			continue // a webhook beat us to it
		}
		if t.ProcessorRef != "" {
			if err := s.processor.CancelAuthorization(ctx, t.ProcessorRef); err != nil {
				s.logger.Warn("failed to cancel authorization for expired checkout",
					"transactionId", t.ID, "processorRef", t.ProcessorRef, "error", err)
			}
		}
		metrics.TransactionsTotal.WithLabelValues("expired").Inc()
		expired++
	}
	return expired, nil
}

// WarnUpcomingReleases sends the pre-release warning to buyers whose
// escrow releases before the horizon. Keyed per transaction and release
// date, so one warning goes out per holding period even across repeated
// sweeps; a dispute win that restarts the hold re-arms the warning.
func (s *Service) WarnUpcomingReleases(ctx context.Context, now time.Time, horizon time.Duration, limit int) (int, error) {
	upcoming, err := s.store.ListReleasingWithin(ctx, now, now.Add(horizon), limit)
	if err != nil {
		return 0, err
	}

	warned := 0
	for _, t := range upcoming {
		key := fmt.Sprintf("escrow_release_warning:%s:%d", t.ID, t.ReleaseAt.Unix())
		if s.notifier.SendOnce(ctx, key, "escrow_release_warning", t.BuyerID, map[string]any{
			"transactionId": t.ID, "releaseAt": t.ReleaseAt,
		}) {
			warned++
		}
	}
	return warned, nil
}
