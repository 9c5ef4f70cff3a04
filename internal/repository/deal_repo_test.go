package repository_test

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omnicirculus/dealengine/internal/domain"
	"github.com/omnicirculus/dealengine/internal/repository"
)

func newMockDB(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return sqlx.NewDb(db, "postgres"), mock
}

func sampleDeal() *domain.Deal {
	item := &domain.CatalogItem{
		ID:           uuid.New(),
		Title:        "Steel Rods",
		Price:        decimal.NewFromInt(1000),
		OwnerContact: "seller@example.com",
		Available:    true,
	}
	return domain.NewDeal(item, "buyer@example.com", "Pune", 0, domain.DefaultFloorRatio, time.Now())
}

func TestDealRepository_Update_AdvancesVersion(t *testing.T) {
	db, mock := newMockDB(t)
	repo := repository.NewDealRepository(db)
	d := sampleDeal()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE deals")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, repo.Update(context.Background(), d))
	assert.Equal(t, int64(1), d.Version)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDealRepository_Update_VersionConflict(t *testing.T) {
	db, mock := newMockDB(t)
	repo := repository.NewDealRepository(db)
	d := sampleDeal()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE deals")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := repo.Update(context.Background(), d)
	assert.ErrorIs(t, err, domain.ErrConcurrentUpdate)
	assert.Equal(t, int64(0), d.Version)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDealRepository_Update_IndexesToken(t *testing.T) {
	db, mock := newMockDB(t)
	repo := repository.NewDealRepository(db)
	d := sampleDeal()
	tok := "abc123"
	d.ConfirmationToken = &tok

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE deals")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO approval_tokens")).
		WithArgs(tok, d.ID, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, repo.Update(context.Background(), d))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDealRepository_GetByID(t *testing.T) {
	db, mock := newMockDB(t)
	repo := repository.NewDealRepository(db)
	id := uuid.New()

	rows := sqlmock.NewRows([]string{"id", "phase", "initial_price", "floor_price", "seller_ask", "log", "version"}).
		AddRow(id.String(), "PRICE_NEGOTIATING", "1000.00", "900.00", "995.00", []byte(`[{"actor":"SYSTEM","message":"hi"}]`), int64(3))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM deals WHERE id = $1")).
		WithArgs(id).
		WillReturnRows(rows)

	d, err := repo.GetByID(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, id, d.ID)
	assert.Equal(t, domain.PhasePriceNegotiating, d.Phase)
	assert.True(t, d.FloorPrice.Equal(decimal.NewFromInt(900)))
	assert.Len(t, d.Log, 1)
	assert.Equal(t, int64(3), d.Version)
	assert.Nil(t, d.Settlement)
}

func TestDealRepository_GetByID_NotFound(t *testing.T) {
	db, mock := newMockDB(t)
	repo := repository.NewDealRepository(db)
	id := uuid.New()

	mock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM deals WHERE id = $1")).
		WithArgs(id).
		WillReturnError(sql.ErrNoRows)

	_, err := repo.GetByID(context.Background(), id)
	assert.ErrorIs(t, err, domain.ErrDealNotFound)
	assert.True(t, domain.IsNotFound(err))
}

func TestDealRepository_DeleteOpen(t *testing.T) {
	db, mock := newMockDB(t)
	repo := repository.NewDealRepository(db)
	itemID := uuid.New()

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM deals WHERE item_id = $1 AND buyer_contact = $2 AND phase = ANY($3)")).
		WithArgs(itemID, "buyer@example.com", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 2))

	n, err := repo.DeleteOpen(context.Background(), itemID, "buyer@example.com")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestDealRepository_LookupToken_NotFound(t *testing.T) {
	db, mock := newMockDB(t)
	repo := repository.NewDealRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("FROM approval_tokens WHERE token = $1")).
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.LookupToken(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrTokenNotFound)
}

func TestCatalogRepository_SetAvailable_NotFound(t *testing.T) {
	db, mock := newMockDB(t)
	repo := repository.NewCatalogRepository(db)
	id := uuid.New()

	mock.ExpectExec(regexp.QuoteMeta("UPDATE items SET available = $1 WHERE id = $2")).
		WithArgs(false, id).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.SetAvailable(context.Background(), id, false)
	assert.ErrorIs(t, err, domain.ErrItemNotFound)
}

func TestCatalogRepository_ClaimItem(t *testing.T) {
	db, mock := newMockDB(t)
	repo := repository.NewCatalogRepository(db)
	id := uuid.New()
	claim := regexp.QuoteMeta("UPDATE items SET available = FALSE WHERE id = $1 AND available = TRUE")

	mock.ExpectExec(claim).WithArgs(id).WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.ClaimItem(context.Background(), id))

	mock.ExpectExec(claim).WithArgs(id).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM items WHERE id = $1")).
		WithArgs(id).
		WillReturnRows(sqlmock.NewRows([]string{"id", "title", "price", "owner_contact", "location", "available", "created_at"}).
			AddRow(id.String(), "Steel Rods", "1000", "seller@example.com", "Mumbai", false, time.Now()))
	assert.ErrorIs(t, repo.ClaimItem(context.Background(), id), domain.ErrItemUnavailable)

	mock.ExpectExec(claim).WithArgs(id).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM items WHERE id = $1")).
		WithArgs(id).
		WillReturnError(sql.ErrNoRows)
	assert.ErrorIs(t, repo.ClaimItem(context.Background(), id), domain.ErrItemNotFound)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDealRepository_SumSettlements(t *testing.T) {
	db, mock := newMockDB(t)
	repo := repository.NewDealRepository(db)
	since := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`(?s)SELECT COUNT\(\*\) AS n,.*FROM deals\s+WHERE settlement IS NOT NULL\s+AND \(settlement ->> 'settled_at'\)::timestamptz >= \$1`).
		WithArgs(since).
		WillReturnRows(sqlmock.NewRows([]string{"n", "seller_payouts", "carrier_fees", "gross"}).
			AddRow(7001, "6300900", "700100", "7001000"))

	got, err := repo.SumSettlements(context.Background(), since)
	require.NoError(t, err)
	assert.Equal(t, 7001, got.Count)
	assert.True(t, got.Gross.Equal(decimal.NewFromInt(7001000)))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCatalogRepository_FulfillMatched(t *testing.T) {
	db, mock := newMockDB(t)
	repo := repository.NewCatalogRepository(db)
	id := uuid.New()

	mock.ExpectExec(regexp.QuoteMeta("UPDATE buyer_requests SET status = $1")).
		WithArgs("COMPLETED", id).
		WillReturnResult(sqlmock.NewResult(0, 1))

	n, err := repo.FulfillMatched(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}
