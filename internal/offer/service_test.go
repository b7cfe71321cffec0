package offer

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseairosa/codesalvage/internal/fault"
	"github.com/joseairosa/codesalvage/internal/notify"
	"github.com/joseairosa/codesalvage/internal/pricing"
	"github.com/joseairosa/codesalvage/internal/project"
)

const (
	testSeller = "usr_seller"
	testBuyer  = "usr_buyer"
)

type fixture struct {
	service  *Service
	projects *project.MemoryStore
	mailer   *notify.MemoryMailer
	project  *project.Project
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	projects := project.NewMemoryStore()
	mailer := notify.NewMemoryMailer()
	notifier := notify.NewService(mailer, notify.NewMemoryDedupStore(), logger)

	p := &project.Project{
		ID:         "prj_test",
		SellerID:   testSeller,
		Title:      "Half-built CRM",
		PriceCents: 50000,
		Status:     project.StatusActive,
		CreatedAt:  time.Now(),
		UpdatedAt:  time.Now(),
	}
	require.NoError(t, projects.Create(context.Background(), p))

	policy := pricing.Policy{CommissionBps: 2000, EscrowHold: 7 * 24 * time.Hour, MinPriceCents: 100}
	svc := NewService(NewMemoryStore(), projects, policy, 72*time.Hour, notifier, logger)
	return &fixture{service: svc, projects: projects, mailer: mailer, project: p}
}

func (f *fixture) makeOffer(t *testing.T, price int64) *Offer {
	t.Helper()
	o, err := f.service.Create(context.Background(), testBuyer, CreateRequest{
		ProjectID: f.project.ID, PriceCents: price,
	})
	require.NoError(t, err)
	return o
}

func TestCreate(t *testing.T) {
	f := newFixture(t)

	o := f.makeOffer(t, 40000)
	assert.Equal(t, StatusPending, o.Status)
	assert.Equal(t, testSeller, o.AwaitingReplyFrom)
	assert.Equal(t, testBuyer, o.LastActorID)
	assert.Equal(t, int64(40000), o.CurrentPrice())
	assert.True(t, o.ExpiresAt.After(time.Now()))
	assert.Equal(t, 1, f.mailer.CountTemplate("offer_received"))
}

func TestCreate_BelowMinimum(t *testing.T) {
	f := newFixture(t)

	_, err := f.service.Create(context.Background(), testBuyer, CreateRequest{
		ProjectID: f.project.ID, PriceCents: 50,
	})
	assert.True(t, fault.IsKind(err, fault.KindValidation))
}

func TestCreate_OwnProject(t *testing.T) {
	f := newFixture(t)

	_, err := f.service.Create(context.Background(), testSeller, CreateRequest{
		ProjectID: f.project.ID, PriceCents: 40000,
	})
	assert.True(t, fault.IsKind(err, fault.KindValidation))
}

func TestCreate_ProjectNotActive(t *testing.T) {
	f := newFixture(t)
	_, err := f.projects.Transition(context.Background(), f.project.ID, project.StatusActive, project.StatusSold)
	require.NoError(t, err)

	_, err = f.service.Create(context.Background(), testBuyer, CreateRequest{
		ProjectID: f.project.ID, PriceCents: 40000,
	})
	assert.True(t, fault.IsKind(err, fault.KindValidation))
}

func TestCreate_DuplicateActiveOffer(t *testing.T) {
	f := newFixture(t)
	f.makeOffer(t, 40000)

	_, err := f.service.Create(context.Background(), testBuyer, CreateRequest{
		ProjectID: f.project.ID, PriceCents: 41000,
	})
	assert.True(t, fault.IsKind(err, fault.KindValidation))
}

func TestCreate_NewOfferAllowedAfterRejection(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	o := f.makeOffer(t, 40000)
	_, err := f.service.Reject(ctx, testSeller, o.ID)
	require.NoError(t, err)

	o2, err := f.service.Create(ctx, testBuyer, CreateRequest{
		ProjectID: f.project.ID, PriceCents: 42000,
	})
	require.NoError(t, err)
	assert.Equal(t, StatusPending, o2.Status)
}

func TestAccept_BySeller(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	o := f.makeOffer(t, 40000)
	accepted, err := f.service.Accept(ctx, testSeller, o.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusAccepted, accepted.Status)
	assert.Empty(t, accepted.AwaitingReplyFrom)
	assert.Equal(t, int64(40000), accepted.CurrentPrice())
	assert.Equal(t, 1, f.mailer.CountTemplate("offer_accepted"))
}

func TestAccept_BuyerCannotAcceptOwnOffer(t *testing.T) {
	f := newFixture(t)

	o := f.makeOffer(t, 40000)
	_, err := f.service.Accept(context.Background(), testBuyer, o.ID)
	assert.True(t, fault.IsKind(err, fault.KindPermission))
}

func TestAccept_Stranger(t *testing.T) {
	f := newFixture(t)

	o := f.makeOffer(t, 40000)
	_, err := f.service.Accept(context.Background(), "usr_other", o.ID)
	assert.True(t, fault.IsKind(err, fault.KindPermission))
}

func TestCounter_TogglesTurn(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	o := f.makeOffer(t, 40000)
	countered, err := f.service.Counter(ctx, testSeller, o.ID, CounterRequest{PriceCents: 45000})
	require.NoError(t, err)
	assert.Equal(t, StatusCountered, countered.Status)
	assert.Equal(t, testBuyer, countered.AwaitingReplyFrom)
	assert.Equal(t, int64(45000), countered.CurrentPrice())

	// Seller already holds the standing price; countering again is not
	// their move.
	_, err = f.service.Counter(ctx, testSeller, o.ID, CounterRequest{PriceCents: 44000})
	assert.True(t, fault.IsKind(err, fault.KindPermission))

	// Buyer counters back, turn returns to the seller.
	back, err := f.service.Counter(ctx, testBuyer, o.ID, CounterRequest{PriceCents: 42000})
	require.NoError(t, err)
	assert.Equal(t, testSeller, back.AwaitingReplyFrom)
	assert.Equal(t, int64(42000), back.CurrentPrice())
}

func TestCounter_ThenBuyerAccepts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	o := f.makeOffer(t, 40000)
	_, err := f.service.Counter(ctx, testSeller, o.ID, CounterRequest{PriceCents: 45000})
	require.NoError(t, err)

	accepted, err := f.service.Accept(ctx, testBuyer, o.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusAccepted, accepted.Status)
	assert.Equal(t, int64(45000), accepted.CurrentPrice())
}

func TestReject_TurnEnforced(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	o := f.makeOffer(t, 40000)
	_, err := f.service.Reject(ctx, testBuyer, o.ID)
	assert.True(t, fault.IsKind(err, fault.KindPermission))

	rejected, err := f.service.Reject(ctx, testSeller, o.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusRejected, rejected.Status)
	assert.Equal(t, 1, f.mailer.CountTemplate("offer_rejected"))
}

func TestWithdraw_BuyerOnly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	o := f.makeOffer(t, 40000)
	_, err := f.service.Withdraw(ctx, testSeller, o.ID)
	assert.True(t, fault.IsKind(err, fault.KindPermission))

	withdrawn, err := f.service.Withdraw(ctx, testBuyer, o.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusWithdrawn, withdrawn.Status)
}

func TestTerminalOffersRefuseFurtherActions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	o := f.makeOffer(t, 40000)
	_, err := f.service.Accept(ctx, testSeller, o.ID)
	require.NoError(t, err)

	_, err = f.service.Accept(ctx, testSeller, o.ID)
	assert.True(t, fault.IsKind(err, fault.KindValidation))
	_, err = f.service.Counter(ctx, testSeller, o.ID, CounterRequest{PriceCents: 45000})
	assert.True(t, fault.IsKind(err, fault.KindValidation))
	_, err = f.service.Withdraw(ctx, testBuyer, o.ID)
	assert.True(t, fault.IsKind(err, fault.KindValidation))
}

func TestConcurrentAccept_ExactlyOneWinner(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Seller counters so both parties have had a turn; buyer holds it now.
	o := f.makeOffer(t, 40000)
	_, err := f.service.Counter(ctx, testSeller, o.ID, CounterRequest{PriceCents: 45000})
	require.NoError(t, err)

	const attempts = 20
	var wg sync.WaitGroup
	wins := make(chan struct{}, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.service.Accept(ctx, testBuyer, o.ID); err == nil {
				wins <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(wins)

	won := 0
	for range wins {
		won++
	}
	assert.Equal(t, 1, won, "exactly one concurrent accept must win")
}

func TestLazyExpiration(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Zero TTL: the offer is expired the moment anyone acts on it.
	f.service.ttl = 0
	o := f.makeOffer(t, 40000)

	_, err := f.service.Accept(ctx, testSeller, o.ID)
	require.Error(t, err)
	assert.True(t, fault.IsKind(err, fault.KindValidation))

	stored, err := f.service.store.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusExpired, stored.Status)
}

func TestExpireStale(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.service.ttl = -time.Minute // already past due on creation
	stale := f.makeOffer(t, 40000)
	f.service.ttl = 72 * time.Hour
	fresh, err := f.service.Create(ctx, "usr_buyer2", CreateRequest{
		ProjectID: f.project.ID, PriceCents: 41000,
	})
	require.NoError(t, err)

	n, err := f.service.ExpireStale(ctx, time.Now(), 100)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := f.service.store.Get(ctx, stale.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusExpired, got.Status)

	got, err = f.service.store.Get(ctx, fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, got.Status)

	// A second sweep finds nothing left to expire.
	n, err = f.service.ExpireStale(ctx, time.Now(), 100)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestResolveAccepted(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	o := f.makeOffer(t, 40000)

	_, err := f.service.ResolveAccepted(ctx, o.ID, testBuyer, f.project.ID)
	assert.True(t, fault.IsKind(err, fault.KindValidation), "pending offer must not authorize checkout")

	_, err = f.service.Accept(ctx, testSeller, o.ID)
	require.NoError(t, err)

	price, err := f.service.ResolveAccepted(ctx, o.ID, testBuyer, f.project.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(40000), price)

	_, err = f.service.ResolveAccepted(ctx, o.ID, "usr_other", f.project.ID)
	assert.True(t, fault.IsKind(err, fault.KindPermission))

	_, err = f.service.ResolveAccepted(ctx, o.ID, testBuyer, "prj_other")
	assert.True(t, fault.IsKind(err, fault.KindValidation))
}

func TestGet_PartiesOnly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	o := f.makeOffer(t, 40000)

	_, err := f.service.Get(ctx, testBuyer, o.ID)
	require.NoError(t, err)
	_, err = f.service.Get(ctx, testSeller, o.ID)
	require.NoError(t, err)
	_, err = f.service.Get(ctx, "usr_other", o.ID)
	assert.True(t, fault.IsKind(err, fault.KindPermission))
}

func TestListByProject_SellerOnly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.makeOffer(t, 40000)

	offers, err := f.service.ListByProject(ctx, testSeller, f.project.ID, 10)
	require.NoError(t, err)
	assert.Len(t, offers, 1)

	_, err = f.service.ListByProject(ctx, testBuyer, f.project.ID, 10)
	assert.True(t, fault.IsKind(err, fault.KindPermission))
}
