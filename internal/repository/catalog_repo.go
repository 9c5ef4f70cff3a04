package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/omnicirculus/dealengine/internal/domain"
)

// CatalogRepository reads catalog items and buyer requests. The catalog
// itself is owned by another service; the engine only flips availability
// and fulfils matched requests.
type CatalogRepository struct {
	db *sqlx.DB
}

// NewCatalogRepository creates a new CatalogRepository.
func NewCatalogRepository(db *sqlx.DB) *CatalogRepository {
	return &CatalogRepository{db: db}
}

// CreateItem inserts an item. Used for seeding.
func (r *CatalogRepository) CreateItem(ctx context.Context, it *domain.CatalogItem) error {
	query := `
		INSERT INTO items (id, title, price, owner_contact, location, available, created_at)
		VALUES (:id, :title, :price, :owner_contact, :location, :available, :created_at)
		ON CONFLICT (id) DO NOTHING`
	if _, err := r.db.NamedExecContext(ctx, query, it); err != nil {
		return fmt.Errorf("catalog_repo.CreateItem: %w", err)
	}
	return nil
}

// GetItem fetches an item by id.
func (r *CatalogRepository) GetItem(ctx context.Context, id uuid.UUID) (*domain.CatalogItem, error) {
	var it domain.CatalogItem
	err := r.db.GetContext(ctx, &it, `SELECT * FROM items WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrItemNotFound
		}
		return nil, fmt.Errorf("catalog_repo.GetItem: %w", err)
	}
	return &it, nil
}

// SetAvailable flips an item's availability.
func (r *CatalogRepository) SetAvailable(ctx context.Context, id uuid.UUID, available bool) error {
	res, err := r.db.ExecContext(ctx, `UPDATE items SET available = $1 WHERE id = $2`, available, id)
	if err != nil {
		return fmt.Errorf("catalog_repo.SetAvailable: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrItemNotFound
	}
	return nil
}

// ClaimItem flips an item from available to sold in one conditional update,
// so two settlements racing on the same item cannot both succeed.
func (r *CatalogRepository) ClaimItem(ctx context.Context, id uuid.UUID) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE items SET available = FALSE WHERE id = $1 AND available = TRUE`, id)
	if err != nil {
		return fmt.Errorf("catalog_repo.ClaimItem: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return nil
	}
	if _, err := r.GetItem(ctx, id); err != nil {
		return err
	}
	return domain.ErrItemUnavailable
}

// ── Buyer requests ───────────────────────────────────────────────────────────

// GetMatchedRequest returns the buyer request matched to itemID, if any.
func (r *CatalogRepository) GetMatchedRequest(ctx context.Context, itemID uuid.UUID) (*domain.BuyerRequest, error) {
	var req domain.BuyerRequest
	err := r.db.GetContext(ctx, &req,
		`SELECT * FROM buyer_requests WHERE matched_item_id = $1 ORDER BY created_at DESC LIMIT 1`, itemID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("catalog_repo.GetMatchedRequest: %w", err)
	}
	return &req, nil
}

// FulfillMatched marks every open request matched to itemID as completed.
func (r *CatalogRepository) FulfillMatched(ctx context.Context, itemID uuid.UUID) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE buyer_requests SET status = $1 WHERE matched_item_id = $2 AND status <> $1`,
		string(domain.RequestCompleted), itemID)
	if err != nil {
		return 0, fmt.Errorf("catalog_repo.FulfillMatched: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
