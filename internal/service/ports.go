package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/omnicirculus/dealengine/internal/domain"
	"github.com/omnicirculus/dealengine/internal/lock"
)

// ──────────────────────────────────────────────────────────────────────────────
// Ports: implemented by repository.DealRepository / CatalogRepository,
// repository.MemoryStore, lock.Local / lock.Redis and ws.Hub.
// ──────────────────────────────────────────────────────────────────────────────

// DealStore persists Deal records. Update must reject stale versions with
// domain.ErrConcurrentUpdate.
type DealStore interface {
	Create(ctx context.Context, d *domain.Deal) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Deal, error)
	Update(ctx context.Context, d *domain.Deal) error
	DeleteOpen(ctx context.Context, itemID uuid.UUID, buyerContact string) (int64, error)
	ListByBuyer(ctx context.Context, buyerContact string, phases []domain.Phase) ([]*domain.Deal, error)
	ListByPhase(ctx context.Context, phases []domain.Phase, limit int) ([]*domain.Deal, error)
	CountByPhase(ctx context.Context) (map[domain.Phase]int, error)
	// ListSettled returns up to limit deals settled at or after since, most
	// recently settled first.
	ListSettled(ctx context.Context, since time.Time, limit int) ([]*domain.Deal, error)
	SumSettlements(ctx context.Context, since time.Time) (domain.SettlementTotals, error)
	GetByGatePass(ctx context.Context, gatePassID string) (*domain.Deal, error)
}

// TokenStore resolves confirmation tokens. Tokens are indexed by DealStore.Update.
type TokenStore interface {
	LookupToken(ctx context.Context, token string) (*domain.ApprovalToken, error)
	ConsumeToken(ctx context.Context, token string) error
}

// Catalog is the external item catalog and buyer-request collaborator.
type Catalog interface {
	GetItem(ctx context.Context, id uuid.UUID) (*domain.CatalogItem, error)
	SetAvailable(ctx context.Context, id uuid.UUID, available bool) error
	// ClaimItem marks an available item sold. It returns domain.ErrItemUnavailable
	// if another deal already claimed it.
	ClaimItem(ctx context.Context, id uuid.UUID) error
	GetMatchedRequest(ctx context.Context, itemID uuid.UUID) (*domain.BuyerRequest, error)
	FulfillMatched(ctx context.Context, itemID uuid.UUID) (int64, error)
}

// Locker serializes work on one key.
type Locker interface {
	Lock(ctx context.Context, key string) (lock.Unlock, error)
}

// Broadcaster pushes deal changes to live subscribers.
type Broadcaster interface {
	BroadcastDealUpdate(d *domain.Deal)
}

// ──────────────────────────────────────────────────────────────────────────────
// dealMutator: shared read-modify-write cycle
// ──────────────────────────────────────────────────────────────────────────────

// dealMutator runs every mutating operation under the deal's lock, on a copy
// of the stored record, and persists it with the optimistic version check.
// A failing step leaves the stored record untouched.
type dealMutator struct {
	deals       DealStore
	locker      Locker
	broadcaster Broadcaster
}

func newDealMutator(deals DealStore, locker Locker) dealMutator {
	if locker == nil {
		locker = lock.NewLocal()
	}
	return dealMutator{deals: deals, locker: locker}
}

// mutate loads deal id, applies fn to a clone and saves it when fn reports a
// change. The returned deal is the stored state after the call.
func (m *dealMutator) mutate(ctx context.Context, op string, id uuid.UUID, fn func(d *domain.Deal) (bool, error)) (*domain.Deal, error) {
	unlock, err := m.locker.Lock(ctx, "deal:"+id.String())
	if err != nil {
		return nil, fmt.Errorf("%s: lock: %w", op, err)
	}
	defer unlock()

	cur, err := m.deals.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	next := cur.Clone()
	changed, err := fn(next)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if !changed {
		return cur, nil
	}
	if err := m.deals.Update(ctx, next); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	m.publish(next)
	return next, nil
}

func (m *dealMutator) publish(d *domain.Deal) {
	if m.broadcaster != nil {
		m.broadcaster.BroadcastDealUpdate(d)
	}
}
