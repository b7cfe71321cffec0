package offer

import (
	"context"
	"log/slog"
	"time"

	"github.com/joseairosa/codesalvage/internal/fault"
	"github.com/joseairosa/codesalvage/internal/idgen"
	"github.com/joseairosa/codesalvage/internal/metrics"
	"github.com/joseairosa/codesalvage/internal/notify"
	"github.com/joseairosa/codesalvage/internal/pricing"
	"github.com/joseairosa/codesalvage/internal/project"
)

// Service implements the offer negotiation state machine.
//
// Every mutation re-reads the persisted offer and commits through a
// compare-and-set on status, so two concurrent accepts (or an accept
// racing expiration) resolve to exactly one winner.
type Service struct {
	store    Store
	projects project.Store
	policy   pricing.Policy
	ttl      time.Duration
	notifier *notify.Service
	logger   *slog.Logger
}

// NewService creates a new offer service.
func NewService(store Store, projects project.Store, policy pricing.Policy, ttl time.Duration, notifier *notify.Service, logger *slog.Logger) *Service {
	return &Service{
		store:    store,
		projects: projects,
		policy:   policy,
		ttl:      ttl,
		notifier: notifier,
		logger:   logger,
	}
}

// Create makes a new offer on a project.
func (s *Service) Create(ctx context.Context, buyerID string, req CreateRequest) (*Offer, error) {
	if err := s.policy.ValidatePrice(req.PriceCents); err != nil {
		return nil, err
	}

	p, err := s.projects.Get(ctx, req.ProjectID)
	if err != nil {
		return nil, err
	}
	if !p.Purchasable() {
		return nil, fault.New(fault.KindValidation, "project is not open to offers")
	}
	if buyerID == p.SellerID {
		return nil, fault.New(fault.KindValidation, "cannot make an offer on your own project")
	}

	now := time.Now()
	o := &Offer{
		ID:                idgen.WithPrefix("off_"),
		ProjectID:         p.ID,
		BuyerID:           buyerID,
		SellerID:          p.SellerID,
		PriceCents:        req.PriceCents,
		Message:           req.Message,
		Status:            StatusPending,
		AwaitingReplyFrom: p.SellerID,
		LastActorID:       buyerID,
		ExpiresAt:         now.Add(s.ttl),
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	if err := s.store.Create(ctx, o); err != nil {
		return nil, err
	}

	metrics.OffersTotal.WithLabelValues(string(StatusPending)).Inc()
	s.notifier.Send(ctx, "offer_received", o.SellerID, map[string]any{
		"offerId": o.ID, "projectId": o.ProjectID, "priceCents": o.PriceCents,
	})
	return o, nil
}

// Accept agrees to the standing price. Only the awaited party may accept.
// The returned offer is the checkout handle: its CurrentPrice is the only
// non-listed price a transaction may be created at.
func (s *Service) Accept(ctx context.Context, actorID, offerID string) (*Offer, error) {
	o, err := s.loadOpen(ctx, actorID, offerID)
	if err != nil {
		return nil, err
	}
	if actorID != o.AwaitingReplyFrom {
		return nil, fault.New(fault.KindPermission, "it is not your turn to act on this offer")
	}

	expected := o.Status
	now := time.Now()
	o.Status = StatusAccepted
	o.AwaitingReplyFrom = ""
	o.UpdatedAt = now

	ok, err := s.store.UpdateIf(ctx, o, expected)
	if err != nil {
		return nil, err
	}
	if !ok {
		// Lost the race against a concurrent accept/reject/expiry.
		return nil, fault.New(fault.KindValidation, "offer is no longer open")
	}

	metrics.OffersTotal.WithLabelValues(string(StatusAccepted)).Inc()
	s.notifier.Send(ctx, "offer_accepted", o.counterpart(actorID), map[string]any{
		"offerId": o.ID, "projectId": o.ProjectID, "priceCents": o.CurrentPrice(),
	})
	return o, nil
}

// Counter proposes a new price and passes the turn to the other party.
func (s *Service) Counter(ctx context.Context, actorID, offerID string, req CounterRequest) (*Offer, error) {
	if err := s.policy.ValidatePrice(req.PriceCents); err != nil {
		return nil, err
	}

	o, err := s.loadOpen(ctx, actorID, offerID)
	if err != nil {
		return nil, err
	}
	if actorID != o.AwaitingReplyFrom {
		// The party who set the standing price cannot counter again.
		return nil, fault.New(fault.KindPermission, "it is not your turn to counter this offer")
	}

	expected := o.Status
	now := time.Now()
	o.Status = StatusCountered
	o.CounterCents = req.PriceCents
	if req.Message != "" {
		o.Message = req.Message
	}
	o.LastActorID = actorID
	o.AwaitingReplyFrom = o.counterpart(actorID)
	o.ExpiresAt = now.Add(s.ttl) // a fresh price restarts the clock
	o.UpdatedAt = now

	ok, err := s.store.UpdateIf(ctx, o, expected)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fault.New(fault.KindValidation, "offer is no longer open")
	}

	metrics.OffersTotal.WithLabelValues(string(StatusCountered)).Inc()
	s.notifier.Send(ctx, "offer_countered", o.AwaitingReplyFrom, map[string]any{
		"offerId": o.ID, "projectId": o.ProjectID, "priceCents": o.CounterCents,
	})
	return o, nil
}

// Reject declines the standing price. Only the awaited party may reject.
func (s *Service) Reject(ctx context.Context, actorID, offerID string) (*Offer, error) {
	o, err := s.loadOpen(ctx, actorID, offerID)
	if err != nil {
		return nil, err
	}
	if actorID != o.AwaitingReplyFrom {
		return nil, fault.New(fault.KindPermission, "it is not your turn to act on this offer")
	}
	return s.finalize(ctx, o, StatusRejected, "offer_rejected", actorID)
}

// Withdraw pulls an open offer back. Only the owning buyer may withdraw.
func (s *Service) Withdraw(ctx context.Context, actorID, offerID string) (*Offer, error) {
	o, err := s.loadOpen(ctx, actorID, offerID)
	if err != nil {
		return nil, err
	}
	if actorID != o.BuyerID {
		return nil, fault.New(fault.KindPermission, "only the buyer may withdraw an offer")
	}
	return s.finalize(ctx, o, StatusWithdrawn, "offer_withdrawn", actorID)
}

// ResolveAccepted validates that offerID authorizes a checkout by buyerID
// on projectID and returns the negotiated price. Used by transaction
// creation; never mutates the offer.
func (s *Service) ResolveAccepted(ctx context.Context, offerID, buyerID, projectID string) (int64, error) {
	o, err := s.store.Get(ctx, offerID)
	if err != nil {
		return 0, err
	}
	if o.Status != StatusAccepted {
		return 0, fault.New(fault.KindValidation, "offer has not been accepted")
	}
	if o.BuyerID != buyerID {
		return 0, fault.New(fault.KindPermission, "offer belongs to a different buyer")
	}
	if o.ProjectID != projectID {
		return 0, fault.Field("offerId", "offer is for a different project")
	}
	return o.CurrentPrice(), nil
}

// ExpireStale transitions active offers past their TTL to expired.
// Invoked by the sweep; per-offer CAS losses are skipped silently since
// another writer (an accept, or a concurrent sweep) already acted.
func (s *Service) ExpireStale(ctx context.Context, before time.Time, limit int) (int, error) {
	stale, err := s.store.ListExpired(ctx, before, limit)
	if err != nil {
		return 0, err
	}

	expired := 0
	for _, o := range stale {
		expected := o.Status
		o.Status = StatusExpired
		o.AwaitingReplyFrom = ""
		o.UpdatedAt = time.Now()

		ok, err := s.store.UpdateIf(ctx, o, expected)
		if err != nil {
			s.logger.Warn("failed to expire offer", "offerId", o.ID, "error", err)
			continue
		}
		if !ok {
			continue
		}
		expired++
		metrics.OffersTotal.WithLabelValues(string(StatusExpired)).Inc()
	}
	return expired, nil
}

// Get returns an offer by ID. Only the negotiating parties may view it.
func (s *Service) Get(ctx context.Context, actorID, id string) (*Offer, error) {
	o, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !o.isParty(actorID) {
		return nil, fault.New(fault.KindPermission, "not a party to this offer")
	}
	return o, nil
}

// ListByProject returns a project's offers for its seller.
func (s *Service) ListByProject(ctx context.Context, actorID, projectID string, limit int) ([]*Offer, error) {
	p, err := s.projects.Get(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if p.SellerID != actorID {
		return nil, fault.New(fault.KindPermission, "only the seller may list a project's offers")
	}
	if limit <= 0 {
		limit = 50
	}
	return s.store.ListByProject(ctx, projectID, limit)
}

// ListByBuyer returns the actor's own offers.
func (s *Service) ListByBuyer(ctx context.Context, buyerID string, limit int) ([]*Offer, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.store.ListByBuyer(ctx, buyerID, limit)
}

// loadOpen fetches an offer for mutation: the actor must be a party, the
// offer must still be active, and a lapsed TTL is applied lazily here so
// an expired offer can never be accepted even before the sweep ran.
func (s *Service) loadOpen(ctx context.Context, actorID, offerID string) (*Offer, error) {
	o, err := s.store.Get(ctx, offerID)
	if err != nil {
		return nil, err
	}
	if !o.isParty(actorID) {
		return nil, fault.New(fault.KindPermission, "not a party to this offer")
	}
	if o.IsTerminal() {
		return nil, fault.New(fault.KindValidation, "offer is no longer open")
	}
	if time.Now().After(o.ExpiresAt) {
		expected := o.Status
		o.Status = StatusExpired
		o.AwaitingReplyFrom = ""
		o.UpdatedAt = time.Now()
		if ok, err := s.store.UpdateIf(ctx, o, expected); err == nil && ok {
			metrics.OffersTotal.WithLabelValues(string(StatusExpired)).Inc()
		}
		return nil, fault.New(fault.KindValidation, "offer has expired")
	}
	return o, nil
}

// finalize commits a terminal transition and notifies the counterpart.
func (s *Service) finalize(ctx context.Context, o *Offer, to Status, template, actorID string) (*Offer, error) {
	expected := o.Status
	o.Status = to
	o.AwaitingReplyFrom = ""
	o.UpdatedAt = time.Now()

	ok, err := s.store.UpdateIf(ctx, o, expected)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fault.New(fault.KindValidation, "offer is no longer open")
	}

	metrics.OffersTotal.WithLabelValues(string(to)).Inc()
	s.notifier.Send(ctx, template, o.counterpart(actorID), map[string]any{
		"offerId": o.ID, "projectId": o.ProjectID,
	})
	return o, nil
}
