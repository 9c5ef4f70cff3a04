package repository_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omnicirculus/dealengine/internal/domain"
	"github.com/omnicirculus/dealengine/internal/repository"
)

func TestMemoryStore_OptimisticUpdate(t *testing.T) {
	ctx := context.Background()
	s := repository.NewMemoryStore()
	d := sampleDeal()
	require.NoError(t, s.Create(ctx, d))

	a, _ := s.GetByID(ctx, d.ID)
	b, _ := s.GetByID(ctx, d.ID)

	a.TurnCount = 1
	require.NoError(t, s.Update(ctx, a))
	assert.Equal(t, int64(1), a.Version)

	b.TurnCount = 1
	assert.ErrorIs(t, s.Update(ctx, b), domain.ErrConcurrentUpdate)

	got, _ := s.GetByID(ctx, d.ID)
	assert.Equal(t, int64(1), got.Version)
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	s := repository.NewMemoryStore()
	d := sampleDeal()
	require.NoError(t, s.Create(ctx, d))

	got, _ := s.GetByID(ctx, d.ID)
	got.Phase = domain.PhaseFailed
	got.Log[0].Message = "tampered"

	again, _ := s.GetByID(ctx, d.ID)
	assert.Equal(t, domain.PhasePriceNegotiating, again.Phase)
	assert.NotEqual(t, "tampered", again.Log[0].Message)
}

func TestMemoryStore_TokenIndex(t *testing.T) {
	ctx := context.Background()
	s := repository.NewMemoryStore()
	d := sampleDeal()
	require.NoError(t, s.Create(ctx, d))

	_, err := s.LookupToken(ctx, "tok")
	assert.ErrorIs(t, err, domain.ErrTokenNotFound)

	tok := "tok"
	d.ConfirmationToken = &tok
	require.NoError(t, s.Update(ctx, d))

	rec, err := s.LookupToken(ctx, "tok")
	require.NoError(t, err)
	assert.Equal(t, d.ID, rec.DealID)
	assert.False(t, rec.Consumed())

	require.NoError(t, s.ConsumeToken(ctx, "tok"))
	require.NoError(t, s.ConsumeToken(ctx, "tok"))
	rec, _ = s.LookupToken(ctx, "tok")
	assert.True(t, rec.Consumed())
}

func TestMemoryStore_DeleteOpenKeepsSettled(t *testing.T) {
	ctx := context.Background()
	s := repository.NewMemoryStore()

	open := sampleDeal()
	paid := sampleDeal()
	paid.ItemID = open.ItemID
	paid.Phase = domain.PhasePaid
	other := sampleDeal()
	other.ItemID = open.ItemID
	other.BuyerContact = "someone@example.com"

	for _, d := range []*domain.Deal{open, paid, other} {
		require.NoError(t, s.Create(ctx, d))
	}

	n, err := s.DeleteOpen(ctx, open.ItemID, open.BuyerContact)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = s.GetByID(ctx, open.ID)
	assert.ErrorIs(t, err, domain.ErrDealNotFound)
	_, err = s.GetByID(ctx, paid.ID)
	assert.NoError(t, err)
	_, err = s.GetByID(ctx, other.ID)
	assert.NoError(t, err)

	hist, _ := s.ListByBuyer(ctx, open.BuyerContact, domain.HistoryPhases())
	require.Len(t, hist, 1)
	assert.Equal(t, paid.ID, hist[0].ID)
}

func TestMemoryStore_FulfillMatched(t *testing.T) {
	ctx := context.Background()
	s := repository.NewMemoryStore()
	itemID := uuid.New()
	req := &domain.BuyerRequest{ID: uuid.New(), Contact: "b@example.com", Status: domain.RequestFound, MatchedItemID: &itemID}
	s.PutRequest(req)

	n, err := s.FulfillMatched(ctx, itemID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	got, ok := s.GetRequest(req.ID)
	require.True(t, ok)
	assert.Equal(t, domain.RequestCompleted, got.Status)
}

func TestMemoryStore_ClaimItemOnce(t *testing.T) {
	ctx := context.Background()
	s := repository.NewMemoryStore()
	item := &domain.CatalogItem{
		ID:        uuid.New(),
		Title:     "Steel Rods",
		Price:     decimal.NewFromInt(1000),
		Available: true,
		CreatedAt: time.Now(),
	}
	require.NoError(t, s.CreateItem(ctx, item))

	require.NoError(t, s.ClaimItem(ctx, item.ID))
	assert.ErrorIs(t, s.ClaimItem(ctx, item.ID), domain.ErrItemUnavailable)
	assert.ErrorIs(t, s.ClaimItem(ctx, uuid.New()), domain.ErrItemNotFound)

	got, err := s.GetItem(ctx, item.ID)
	require.NoError(t, err)
	assert.False(t, got.Available)
}

func TestMemoryStore_SettlementsNewestFirst(t *testing.T) {
	ctx := context.Background()
	s := repository.NewMemoryStore()
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		d := sampleDeal()
		d.Phase = domain.PhasePaid
		d.Settlement = &domain.Settlement{
			GatePassID:   "GP-" + uuid.NewString(),
			SellerPayout: decimal.NewFromInt(900),
			CarrierFee:   decimal.NewFromInt(100),
			SettledAt:    base.Add(time.Duration(i) * time.Hour),
		}
		require.NoError(t, s.Create(ctx, d))
	}
	require.NoError(t, s.Create(ctx, sampleDeal()))

	page, err := s.ListSettled(ctx, time.Time{}, 2)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, base.Add(2*time.Hour), page[0].Settlement.SettledAt)
	assert.Equal(t, base.Add(time.Hour), page[1].Settlement.SettledAt)

	all, err := s.SumSettlements(ctx, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, 3, all.Count)
	assert.True(t, all.Gross.Equal(decimal.NewFromInt(3000)), all.Gross.String())

	recent, err := s.SumSettlements(ctx, base.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 2, recent.Count)
	assert.True(t, recent.SellerPayouts.Equal(decimal.NewFromInt(1800)))
	assert.True(t, recent.CarrierFees.Equal(decimal.NewFromInt(200)))
}
