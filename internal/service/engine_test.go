package service_test

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omnicirculus/dealengine/internal/domain"
	"github.com/omnicirculus/dealengine/internal/lock"
	"github.com/omnicirculus/dealengine/internal/negotiation"
	"github.com/omnicirculus/dealengine/internal/notify"
	"github.com/omnicirculus/dealengine/internal/repository"
	"github.com/omnicirculus/dealengine/internal/service"
)

// ── Fixtures ──────────────────────────────────────────────────────────────────

type recordingNotifier struct {
	mu   sync.Mutex
	sent []notify.Message
	err  error
}

func (n *recordingNotifier) Send(_ context.Context, msg notify.Message) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, msg)
	return n.err
}

func (n *recordingNotifier) messages() []notify.Message {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]notify.Message(nil), n.sent...)
}

type engine struct {
	store      *repository.MemoryStore
	deals      *service.DealService
	approvals  *service.ApprovalService
	settlement *service.SettlementService
	notifier   *recordingNotifier
	item       *domain.CatalogItem
}

func newEngine(t *testing.T) *engine {
	t.Helper()
	store := repository.NewMemoryStore()
	locker := lock.NewLocal()
	notifier := &recordingNotifier{}
	controller := negotiation.NewController(
		negotiation.NewNegotiator(nil, 0, nil),
		negotiation.FixedEstimator{DistanceKm: 15, RatePerKm: decimal.NewFromInt(25)},
		20,
	)

	item := &domain.CatalogItem{
		ID:           uuid.New(),
		Title:        "Steel Rods",
		Price:        decimal.NewFromInt(1000),
		OwnerContact: "seller@example.com",
		Location:     "Mumbai",
		Available:    true,
		CreatedAt:    time.Now().UTC(),
	}
	require.NoError(t, store.CreateItem(context.Background(), item))

	return &engine{
		store:      store,
		deals:      service.NewDealService(store, store, locker, controller, service.DealConfig{}, nil),
		approvals:  service.NewApprovalService(store, store, locker, notifier, "https://deals.example.com/", nil),
		settlement: service.NewSettlementService(store, store, locker, nil, 0, nil),
		notifier:   notifier,
		item:       item,
	}
}

func (e *engine) start(t *testing.T) *domain.Deal {
	t.Helper()
	return e.startAs(t, "buyer@example.com")
}

func (e *engine) startAs(t *testing.T, buyer string) *domain.Deal {
	t.Helper()
	d, err := e.deals.Start(context.Background(), service.StartRequest{
		ItemID:        e.item.ID,
		BuyerContact:  buyer,
		BuyerLocation: "Pune",
	})
	require.NoError(t, err)
	return d
}

// advanceUntilBlocked drives the deal the way a polling client would.
func (e *engine) advanceUntilBlocked(t *testing.T, id uuid.UUID) *domain.Deal {
	t.Helper()
	var d *domain.Deal
	for i := 0; i < 100; i++ {
		var err error
		d, err = e.deals.AdvanceTurn(context.Background(), id)
		require.NoError(t, err)
		if d.Phase.IsTerminal() || d.Phase.IsExternallyBlocked() {
			return d
		}
	}
	t.Fatalf("deal %s never blocked, phase %s", id, d.Phase)
	return nil
}

func (e *engine) waiting(t *testing.T) (*domain.Deal, string) {
	t.Helper()
	return e.waitingAs(t, "buyer@example.com")
}

func (e *engine) waitingAs(t *testing.T, buyer string) (*domain.Deal, string) {
	t.Helper()
	d := e.startAs(t, buyer)
	d = e.advanceUntilBlocked(t, d.ID)
	require.Equal(t, domain.PhaseTransportAgreed, d.Phase)
	d, err := e.approvals.RequestApproval(context.Background(), d.ID)
	require.NoError(t, err)
	require.NotNil(t, d.ConfirmationToken)
	return d, *d.ConfirmationToken
}

func (e *engine) approved(t *testing.T) *domain.Deal {
	t.Helper()
	return e.approvedAs(t, "buyer@example.com")
}

func (e *engine) approvedAs(t *testing.T, buyer string) *domain.Deal {
	t.Helper()
	d, token := e.waitingAs(t, buyer)
	ctx := context.Background()
	_, err := e.approvals.Resolve(ctx, token, domain.RoleBuyer, domain.ActionApprove)
	require.NoError(t, err)
	res, err := e.approvals.Resolve(ctx, token, domain.RoleSeller, domain.ActionApprove)
	require.NoError(t, err)
	require.Equal(t, domain.PhaseApproved, res.Phase)
	d, err = e.deals.Get(ctx, d.ID)
	require.NoError(t, err)
	return d
}

// ── Start ─────────────────────────────────────────────────────────────────────

func TestStart_Validations(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()

	_, err := e.deals.Start(ctx, service.StartRequest{ItemID: e.item.ID})
	assert.ErrorIs(t, err, domain.ErrMissingContact)

	_, err = e.deals.Start(ctx, service.StartRequest{ItemID: uuid.New(), BuyerContact: "b@example.com"})
	assert.ErrorIs(t, err, domain.ErrItemNotFound)

	_, err = e.deals.Start(ctx, service.StartRequest{ItemID: e.item.ID, BuyerContact: "SELLER@example.com"})
	assert.ErrorIs(t, err, domain.ErrSelfDeal)

	require.NoError(t, e.store.SetAvailable(ctx, e.item.ID, false))
	_, err = e.deals.Start(ctx, service.StartRequest{ItemID: e.item.ID, BuyerContact: "b@example.com"})
	assert.ErrorIs(t, err, domain.ErrItemUnavailable)
}

func TestStart_SupersedesOpenDeal(t *testing.T) {
	e := newEngine(t)
	first := e.start(t)
	second := e.start(t)

	assert.NotEqual(t, first.ID, second.ID)
	_, err := e.deals.Get(context.Background(), first.ID)
	assert.ErrorIs(t, err, domain.ErrDealNotFound)
	assert.Equal(t, "Pune", second.BuyerLocation)
	assert.True(t, second.FloorPrice.Equal(decimal.NewFromInt(900)))
}

// ── AdvanceTurn ───────────────────────────────────────────────────────────────

func TestAdvanceTurn_ReachesTransportAgreedThenNoOps(t *testing.T) {
	e := newEngine(t)
	d := e.start(t)
	d = e.advanceUntilBlocked(t, d.ID)

	require.Equal(t, domain.PhaseTransportAgreed, d.Phase)
	assert.True(t, d.FinalPrice.Equal(decimal.NewFromInt(900)))
	assert.True(t, d.TransportCost.Equal(decimal.NewFromInt(375)))
	assert.True(t, d.TotalValue.Equal(decimal.NewFromInt(1275)))

	again, err := e.deals.AdvanceTurn(context.Background(), d.ID)
	require.NoError(t, err)
	assert.Equal(t, len(d.Log), len(again.Log))
	assert.Equal(t, d.Version, again.Version)
}

func TestAdvanceTurn_UnknownDeal(t *testing.T) {
	e := newEngine(t)
	_, err := e.deals.AdvanceTurn(context.Background(), uuid.New())
	assert.True(t, domain.IsNotFound(err))
}

func TestAdvanceTurn_ConcurrentCallsAreSerialized(t *testing.T) {
	e := newEngine(t)
	d := e.start(t)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := e.deals.AdvanceTurn(context.Background(), d.ID)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	got, err := e.deals.Get(context.Background(), d.ID)
	require.NoError(t, err)
	assert.Equal(t, 10, got.TurnCount)
	agents := 0
	for _, entry := range got.Log {
		if entry.Actor.IsAgent() {
			agents++
		}
	}
	assert.Equal(t, 10, agents)
}

// ── Approval handshake ────────────────────────────────────────────────────────

func TestRequestApproval_OnlyFromTransportAgreed(t *testing.T) {
	e := newEngine(t)
	d := e.start(t)

	_, err := e.approvals.RequestApproval(context.Background(), d.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	stored, _ := e.deals.Get(context.Background(), d.ID)
	assert.Equal(t, domain.PhasePriceNegotiating, stored.Phase)
	assert.Nil(t, stored.ConfirmationToken)
	assert.Empty(t, e.notifier.messages())
}

func TestRequestApproval_SendsRoleLinks(t *testing.T) {
	e := newEngine(t)
	d, token := e.waiting(t)

	assert.Equal(t, domain.PhaseWaitingForApproval, d.Phase)
	assert.Len(t, token, 40)

	msgs := e.notifier.messages()
	require.Len(t, msgs, 2)
	recipients := map[string]string{}
	for _, m := range msgs {
		u, err := url.Parse(m.Link)
		require.NoError(t, err)
		assert.Equal(t, "/confirm-deal", u.Path)
		assert.Equal(t, token, u.Query().Get("token"))
		recipients[m.Recipient] = u.Query().Get("role")
		assert.True(t, strings.Contains(m.Body, "action=reject"))
	}
	assert.Equal(t, "buyer", recipients["buyer@example.com"])
	assert.Equal(t, "seller", recipients["seller@example.com"])

	_, err := e.approvals.RequestApproval(context.Background(), d.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestRequestApproval_NotificationFailureKeepsPhase(t *testing.T) {
	e := newEngine(t)
	e.notifier.err = errors.New("smtp down")

	d, token := e.waiting(t)
	assert.Equal(t, domain.PhaseWaitingForApproval, d.Phase)

	res, err := e.approvals.Resolve(context.Background(), token, domain.RoleBuyer, domain.ActionApprove)
	require.NoError(t, err)
	assert.Equal(t, domain.PhaseWaitingForApproval, res.Phase)
}

func TestResolve_UnknownToken(t *testing.T) {
	e := newEngine(t)
	_, err := e.approvals.Resolve(context.Background(), "nope", domain.RoleBuyer, domain.ActionApprove)
	assert.ErrorIs(t, err, domain.ErrTokenNotFound)
}

func TestResolve_BuyerRejectAfterSellerApproval(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	d, token := e.waiting(t)

	res, err := e.approvals.Resolve(ctx, token, domain.RoleSeller, domain.ActionApprove)
	require.NoError(t, err)
	assert.Equal(t, domain.PhaseWaitingForApproval, res.Phase)

	res, err = e.approvals.Resolve(ctx, token, domain.RoleBuyer, domain.ActionReject)
	require.NoError(t, err)
	assert.Equal(t, domain.PhaseFailed, res.Phase)
	assert.Equal(t, d.ID, res.DealID)

	stored, _ := e.deals.Get(ctx, d.ID)
	assert.Equal(t, domain.ApprovalRejected, stored.BuyerApproval)
	assert.Nil(t, stored.ConfirmationToken)

	rec, err := e.store.LookupToken(ctx, token)
	require.NoError(t, err)
	assert.True(t, rec.Consumed())

	// A late approval cannot revive the deal.
	res, err = e.approvals.Resolve(ctx, token, domain.RoleSeller, domain.ActionApprove)
	require.NoError(t, err)
	assert.Equal(t, domain.PhaseFailed, res.Phase)
}

func TestResolve_IdempotentAfterBothApprovals(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	d, token := e.waiting(t)

	_, err := e.approvals.Resolve(ctx, token, domain.RoleBuyer, domain.ActionApprove)
	require.NoError(t, err)

	// Repeating one side's approval changes nothing.
	mid, _ := e.deals.Get(ctx, d.ID)
	res, err := e.approvals.Resolve(ctx, token, domain.RoleBuyer, domain.ActionApprove)
	require.NoError(t, err)
	assert.Equal(t, domain.PhaseWaitingForApproval, res.Phase)
	again, _ := e.deals.Get(ctx, d.ID)
	assert.Equal(t, len(mid.Log), len(again.Log))

	res, err = e.approvals.Resolve(ctx, token, domain.RoleSeller, domain.ActionApprove)
	require.NoError(t, err)
	assert.Equal(t, domain.PhaseApproved, res.Phase)

	done, _ := e.deals.Get(ctx, d.ID)
	res, err = e.approvals.Resolve(ctx, token, domain.RoleSeller, domain.ActionApprove)
	require.NoError(t, err)
	assert.Equal(t, domain.PhaseApproved, res.Phase)

	after, _ := e.deals.Get(ctx, d.ID)
	assert.Equal(t, len(done.Log), len(after.Log))
	assert.Equal(t, done.Version, after.Version)
}

// ── Settlement ────────────────────────────────────────────────────────────────

func TestSettle_SplitsProceedsAndMarksItemSold(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	d := e.approved(t)

	paid, err := e.settlement.Settle(ctx, d.ID)
	require.NoError(t, err)

	assert.Equal(t, domain.PhasePaid, paid.Phase)
	assert.Equal(t, domain.PaymentCompleted, paid.PaymentState)
	require.NotNil(t, paid.Settlement)
	assert.True(t, strings.HasPrefix(paid.Settlement.GatePassID, "GP-"))
	assert.True(t, paid.TotalValue.Equal(decimal.NewFromInt(1275)))
	assert.True(t, paid.Settlement.SellerPayout.Equal(decimal.NewFromInt(900)))
	assert.True(t, paid.Settlement.CarrierFee.Equal(decimal.NewFromInt(375)))
	assert.True(t, paid.Settlement.SellerPayout.Add(paid.Settlement.CarrierFee).Equal(*paid.TotalValue))
	assert.Equal(t, "4 Hours", paid.Settlement.ETA)
	assert.NotEmpty(t, paid.Settlement.Driver.Name)

	item, err := e.store.GetItem(ctx, d.ItemID)
	require.NoError(t, err)
	assert.False(t, item.Available)

	_, err = e.settlement.Settle(ctx, d.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestSettle_RequiresApproved(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	d, _ := e.waiting(t)

	_, err := e.settlement.Settle(ctx, d.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	item, _ := e.store.GetItem(ctx, d.ItemID)
	assert.True(t, item.Available)
}

func TestSettle_SecondBuyerOnSoldItemStaysApproved(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	first := e.approvedAs(t, "alice@example.com")
	second := e.approvedAs(t, "bob@example.com")

	paid, err := e.settlement.Settle(ctx, first.ID)
	require.NoError(t, err)
	require.Equal(t, domain.PhasePaid, paid.Phase)

	_, err = e.settlement.Settle(ctx, second.ID)
	require.ErrorIs(t, err, domain.ErrItemUnavailable)
	assert.True(t, domain.IsConflict(err))

	got, err := e.deals.Get(ctx, second.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PhaseApproved, got.Phase)
	assert.Nil(t, got.Settlement)
	assert.Equal(t, second.Version, got.Version)
	assert.Equal(t, len(second.Log), len(got.Log))

	// The losing settlement must not re-list the sold item.
	item, err := e.store.GetItem(ctx, e.item.ID)
	require.NoError(t, err)
	assert.False(t, item.Available)
}

// failingUpdates rejects every deal save.
type failingUpdates struct {
	*repository.MemoryStore
}

func (f failingUpdates) Update(context.Context, *domain.Deal) error {
	return errors.New("disk full")
}

func TestSettle_ReleasesClaimWhenSaveFails(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	d := e.approved(t)

	settlement := service.NewSettlementService(failingUpdates{e.store}, e.store, lock.NewLocal(), nil, 0, nil)
	_, err := settlement.Settle(ctx, d.ID)
	require.Error(t, err)

	item, err := e.store.GetItem(ctx, e.item.ID)
	require.NoError(t, err)
	assert.True(t, item.Available)

	got, err := e.deals.Get(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PhaseApproved, got.Phase)
}

func TestClose_FulfilsMatchedRequestAndShowsInHistory(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	itemID := e.item.ID
	req := &domain.BuyerRequest{
		ID:            uuid.New(),
		Contact:       "buyer@example.com",
		Prompt:        "Need 2 tons of steel rods",
		Status:        domain.RequestFound,
		MatchedItemID: &itemID,
	}
	e.store.PutRequest(req)

	d := e.approved(t)
	_, err := e.settlement.Close(ctx, d.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	_, err = e.settlement.Settle(ctx, d.ID)
	require.NoError(t, err)
	closed, err := e.settlement.Close(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PhaseDealClosed, closed.Phase)

	got, ok := e.store.GetRequest(req.ID)
	require.True(t, ok)
	assert.Equal(t, domain.RequestCompleted, got.Status)

	hist, err := e.deals.GetHistory(ctx, "buyer@example.com")
	require.NoError(t, err)
	require.Len(t, hist, 1)
	assert.Equal(t, d.ID, hist[0].ID)

	_, err = e.deals.GetHistory(ctx, " ")
	assert.ErrorIs(t, err, domain.ErrMissingContact)
}

// ── Read views ────────────────────────────────────────────────────────────────

func TestVerifyGatePass(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	d := e.approved(t)

	check, err := e.deals.VerifyGatePass(ctx, d.ID.String())
	require.NoError(t, err)
	assert.False(t, check.Valid, "approved but unpaid")

	paid, err := e.settlement.Settle(ctx, d.ID)
	require.NoError(t, err)

	check, err = e.deals.VerifyGatePass(ctx, paid.Settlement.GatePassID)
	require.NoError(t, err)
	assert.True(t, check.Valid)
	assert.Equal(t, paid.Settlement.Driver.Name, check.Driver.Name)

	check, err = e.deals.VerifyGatePass(ctx, "GP-UNKNOWN")
	require.NoError(t, err)
	assert.False(t, check.Valid)

	check, err = e.deals.VerifyGatePass(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, "NO DATA DETECTED", check.Message)
}

func TestReplay_EndsWithSuccessAfterPayment(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	d := e.approved(t)
	_, err := e.settlement.Settle(ctx, d.ID)
	require.NoError(t, err)

	events, err := e.deals.Replay(ctx, d.ID)
	require.NoError(t, err)
	require.NotEmpty(t, events)
	assert.Equal(t, domain.ReplayUpload, events[0].Type)
	assert.Equal(t, domain.ReplaySuccess, events[len(events)-1].Type)
	assert.Equal(t, domain.ReplayLogistics, events[len(events)-2].Type)
}
