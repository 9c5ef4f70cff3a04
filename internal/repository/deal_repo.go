package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/omnicirculus/dealengine/internal/domain"
)

// DealRepository handles all database operations for Deal records and the
// approval-token index.
type DealRepository struct {
	db *sqlx.DB
}

// NewDealRepository creates a new DealRepository.
func NewDealRepository(db *sqlx.DB) *DealRepository {
	return &DealRepository{db: db}
}

// Create inserts a new deal row.
func (r *DealRepository) Create(ctx context.Context, d *domain.Deal) error {
	query := `
		INSERT INTO deals
			(id, item_id, buyer_contact, seller_contact, buyer_location, phase,
			 initial_price, floor_price, seller_ask, buyer_offer, final_price,
			 distance_km, transport_cost, total_value, turn_count, max_turns,
			 confirmation_token, buyer_approval, seller_approval, payment_state,
			 settlement, log, version, created_at, updated_at)
		VALUES
			(:id, :item_id, :buyer_contact, :seller_contact, :buyer_location, :phase,
			 :initial_price, :floor_price, :seller_ask, :buyer_offer, :final_price,
			 :distance_km, :transport_cost, :total_value, :turn_count, :max_turns,
			 :confirmation_token, :buyer_approval, :seller_approval, :payment_state,
			 :settlement, :log, :version, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, d); err != nil {
		return fmt.Errorf("deal_repo.Create: %w", err)
	}
	return nil
}

// GetByID fetches a deal by its primary key.
func (r *DealRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Deal, error) {
	var d domain.Deal
	err := r.db.GetContext(ctx, &d, `SELECT * FROM deals WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrDealNotFound
		}
		return nil, fmt.Errorf("deal_repo.GetByID: %w", err)
	}
	return &d, nil
}

// Update persists d if nobody else changed it since it was read (optimistic
// versioning). A live confirmation token is indexed in the same transaction.
// On success d.Version is advanced to match the stored row.
func (r *DealRepository) Update(ctx context.Context, d *domain.Deal) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("deal_repo.Update begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	query := `
		UPDATE deals
		SET phase              = :phase,
		    seller_ask         = :seller_ask,
		    buyer_offer        = :buyer_offer,
		    final_price        = :final_price,
		    distance_km        = :distance_km,
		    transport_cost     = :transport_cost,
		    total_value        = :total_value,
		    turn_count         = :turn_count,
		    confirmation_token = :confirmation_token,
		    buyer_approval     = :buyer_approval,
		    seller_approval    = :seller_approval,
		    payment_state      = :payment_state,
		    settlement         = :settlement,
		    log                = :log,
		    version            = version + 1,
		    updated_at         = :updated_at
		WHERE id = :id AND version = :version`
	res, err := tx.NamedExecContext(ctx, query, d)
	if err != nil {
		return fmt.Errorf("deal_repo.Update: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrConcurrentUpdate
	}

	if d.ConfirmationToken != nil {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO approval_tokens (token, deal_id, created_at)
			 VALUES ($1, $2, $3)
			 ON CONFLICT (token) DO NOTHING`,
			*d.ConfirmationToken, d.ID, d.UpdatedAt)
		if err != nil {
			return fmt.Errorf("deal_repo.Update token: %w", err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("deal_repo.Update commit: %w", err)
	}
	d.Version++
	return nil
}

// DeleteOpen removes superseded open deals for the same item and buyer.
// Returns the number of rows removed.
func (r *DealRepository) DeleteOpen(ctx context.Context, itemID uuid.UUID, buyerContact string) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM deals WHERE item_id = $1 AND buyer_contact = $2 AND phase = ANY($3)`,
		itemID, buyerContact, pq.Array(domain.PhaseStrings(domain.SupersedablePhases())))
	if err != nil {
		return 0, fmt.Errorf("deal_repo.DeleteOpen: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// ListByBuyer returns a buyer's deals in the given phases, newest first.
func (r *DealRepository) ListByBuyer(ctx context.Context, buyerContact string, phases []domain.Phase) ([]*domain.Deal, error) {
	deals := []*domain.Deal{}
	err := r.db.SelectContext(ctx, &deals,
		`SELECT * FROM deals WHERE buyer_contact = $1 AND phase = ANY($2) ORDER BY updated_at DESC`,
		buyerContact, pq.Array(domain.PhaseStrings(phases)))
	if err != nil {
		return nil, fmt.Errorf("deal_repo.ListByBuyer: %w", err)
	}
	return deals, nil
}

// ListByPhase returns up to limit deals in the given phases, least recently
// updated first.
func (r *DealRepository) ListByPhase(ctx context.Context, phases []domain.Phase, limit int) ([]*domain.Deal, error) {
	deals := []*domain.Deal{}
	err := r.db.SelectContext(ctx, &deals,
		`SELECT * FROM deals WHERE phase = ANY($1) ORDER BY updated_at ASC LIMIT $2`,
		pq.Array(domain.PhaseStrings(phases)), limit)
	if err != nil {
		return nil, fmt.Errorf("deal_repo.ListByPhase: %w", err)
	}
	return deals, nil
}

// CountByPhase returns the number of deals in each phase that has any.
func (r *DealRepository) CountByPhase(ctx context.Context) (map[domain.Phase]int, error) {
	var rows []struct {
		Phase domain.Phase `db:"phase"`
		N     int          `db:"n"`
	}
	if err := r.db.SelectContext(ctx, &rows, `SELECT phase, COUNT(*) AS n FROM deals GROUP BY phase`); err != nil {
		return nil, fmt.Errorf("deal_repo.CountByPhase: %w", err)
	}
	counts := make(map[domain.Phase]int, len(rows))
	for _, row := range rows {
		counts[row.Phase] = row.N
	}
	return counts, nil
}

// ListSettled returns up to limit deals settled at or after since, newest first.
func (r *DealRepository) ListSettled(ctx context.Context, since time.Time, limit int) ([]*domain.Deal, error) {
	deals := []*domain.Deal{}
	err := r.db.SelectContext(ctx, &deals, `
		SELECT * FROM deals
		WHERE settlement IS NOT NULL
		  AND (settlement ->> 'settled_at')::timestamptz >= $1
		ORDER BY (settlement ->> 'settled_at')::timestamptz DESC
		LIMIT $2`, since, limit)
	if err != nil {
		return nil, fmt.Errorf("deal_repo.ListSettled: %w", err)
	}
	return deals, nil
}

// SumSettlements totals every settlement recorded at or after since.
func (r *DealRepository) SumSettlements(ctx context.Context, since time.Time) (domain.SettlementTotals, error) {
	var t domain.SettlementTotals
	err := r.db.GetContext(ctx, &t, `
		SELECT COUNT(*) AS n,
		       COALESCE(SUM((settlement ->> 'seller_payout')::numeric), 0) AS seller_payouts,
		       COALESCE(SUM((settlement ->> 'carrier_fee')::numeric), 0)   AS carrier_fees,
		       COALESCE(SUM((settlement ->> 'seller_payout')::numeric
		                  + (settlement ->> 'carrier_fee')::numeric), 0)   AS gross
		FROM deals
		WHERE settlement IS NOT NULL
		  AND (settlement ->> 'settled_at')::timestamptz >= $1`, since)
	if err != nil {
		return t, fmt.Errorf("deal_repo.SumSettlements: %w", err)
	}
	return t, nil
}

// GetByGatePass fetches the deal that was issued gatePassID at settlement.
func (r *DealRepository) GetByGatePass(ctx context.Context, gatePassID string) (*domain.Deal, error) {
	var d domain.Deal
	err := r.db.GetContext(ctx, &d,
		`SELECT * FROM deals WHERE settlement ->> 'gate_pass_id' = $1`, gatePassID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrDealNotFound
		}
		return nil, fmt.Errorf("deal_repo.GetByGatePass: %w", err)
	}
	return &d, nil
}

// ── Approval tokens ──────────────────────────────────────────────────────────

// LookupToken resolves a confirmation token, consumed or not.
func (r *DealRepository) LookupToken(ctx context.Context, token string) (*domain.ApprovalToken, error) {
	var t domain.ApprovalToken
	err := r.db.GetContext(ctx, &t,
		`SELECT token, deal_id, created_at, consumed_at FROM approval_tokens WHERE token = $1`, token)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrTokenNotFound
		}
		return nil, fmt.Errorf("deal_repo.LookupToken: %w", err)
	}
	return &t, nil
}

// ConsumeToken marks token as used. Consuming twice is a no-op.
func (r *DealRepository) ConsumeToken(ctx context.Context, token string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE approval_tokens SET consumed_at = now() WHERE token = $1 AND consumed_at IS NULL`, token)
	if err != nil {
		return fmt.Errorf("deal_repo.ConsumeToken: %w", err)
	}
	return nil
}
