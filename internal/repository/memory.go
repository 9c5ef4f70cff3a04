package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/omnicirculus/dealengine/internal/domain"
)

// MemoryStore is an in-process implementation of the deal, token and catalog
// repositories. It backs lite mode (STORAGE_DRIVER=memory) and tests. Every
// read and write copies the record so callers never share state with it.
type MemoryStore struct {
	mu       sync.RWMutex
	deals    map[uuid.UUID]*domain.Deal
	tokens   map[string]*domain.ApprovalToken
	items    map[uuid.UUID]*domain.CatalogItem
	requests map[uuid.UUID]*domain.BuyerRequest
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		deals:    make(map[uuid.UUID]*domain.Deal),
		tokens:   make(map[string]*domain.ApprovalToken),
		items:    make(map[uuid.UUID]*domain.CatalogItem),
		requests: make(map[uuid.UUID]*domain.BuyerRequest),
	}
}

// ── Deals ────────────────────────────────────────────────────────────────────

// Create implements the deal store.
func (s *MemoryStore) Create(_ context.Context, d *domain.Deal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deals[d.ID] = d.Clone()
	return nil
}

// GetByID implements the deal store.
func (s *MemoryStore) GetByID(_ context.Context, id uuid.UUID) (*domain.Deal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.deals[id]
	if !ok {
		return nil, domain.ErrDealNotFound
	}
	return d.Clone(), nil
}

// Update implements the deal store with the same optimistic version check as
// the Postgres repository.
func (s *MemoryStore) Update(_ context.Context, d *domain.Deal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.deals[d.ID]
	if !ok || cur.Version != d.Version {
		return domain.ErrConcurrentUpdate
	}
	if d.ConfirmationToken != nil {
		if _, exists := s.tokens[*d.ConfirmationToken]; !exists {
			s.tokens[*d.ConfirmationToken] = &domain.ApprovalToken{
				Token:     *d.ConfirmationToken,
				DealID:    d.ID,
				CreatedAt: d.UpdatedAt,
			}
		}
	}
	d.Version++
	s.deals[d.ID] = d.Clone()
	return nil
}

// DeleteOpen implements the deal store.
func (s *MemoryStore) DeleteOpen(_ context.Context, itemID uuid.UUID, buyerContact string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, d := range s.deals {
		if d.ItemID == itemID && d.BuyerContact == buyerContact && phaseIn(d.Phase, domain.SupersedablePhases()) {
			delete(s.deals, id)
			for tok, t := range s.tokens {
				if t.DealID == id {
					delete(s.tokens, tok)
				}
			}
			n++
		}
	}
	return n, nil
}

// ListByBuyer implements the deal store.
func (s *MemoryStore) ListByBuyer(_ context.Context, buyerContact string, phases []domain.Phase) ([]*domain.Deal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []*domain.Deal{}
	for _, d := range s.deals {
		if d.BuyerContact == buyerContact && phaseIn(d.Phase, phases) {
			out = append(out, d.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

// ListByPhase implements the deal store.
func (s *MemoryStore) ListByPhase(_ context.Context, phases []domain.Phase, limit int) ([]*domain.Deal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []*domain.Deal{}
	for _, d := range s.deals {
		if phaseIn(d.Phase, phases) {
			out = append(out, d.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ListSettled implements the deal store.
func (s *MemoryStore) ListSettled(_ context.Context, since time.Time, limit int) ([]*domain.Deal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []*domain.Deal{}
	for _, d := range s.deals {
		if d.Settlement != nil && !d.Settlement.SettledAt.Before(since) {
			out = append(out, d.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Settlement.SettledAt.After(out[j].Settlement.SettledAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// SumSettlements implements the deal store.
func (s *MemoryStore) SumSettlements(_ context.Context, since time.Time) (domain.SettlementTotals, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var t domain.SettlementTotals
	for _, d := range s.deals {
		if d.Settlement != nil && !d.Settlement.SettledAt.Before(since) {
			t.Add(d.Settlement)
		}
	}
	return t, nil
}

// CountByPhase implements the deal store.
func (s *MemoryStore) CountByPhase(_ context.Context) (map[domain.Phase]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	counts := make(map[domain.Phase]int)
	for _, d := range s.deals {
		counts[d.Phase]++
	}
	return counts, nil
}

// GetByGatePass implements the deal store.
func (s *MemoryStore) GetByGatePass(_ context.Context, gatePassID string) (*domain.Deal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, d := range s.deals {
		if d.Settlement != nil && d.Settlement.GatePassID == gatePassID {
			return d.Clone(), nil
		}
	}
	return nil, domain.ErrDealNotFound
}

// ── Tokens ───────────────────────────────────────────────────────────────────

// LookupToken implements the token store.
func (s *MemoryStore) LookupToken(_ context.Context, token string) (*domain.ApprovalToken, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tokens[token]
	if !ok {
		return nil, domain.ErrTokenNotFound
	}
	cp := *t
	return &cp, nil
}

// ConsumeToken implements the token store.
func (s *MemoryStore) ConsumeToken(_ context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.tokens[token]; ok && t.ConsumedAt == nil {
		now := time.Now().UTC()
		t.ConsumedAt = &now
	}
	return nil
}

// ── Catalog ──────────────────────────────────────────────────────────────────

// CreateItem implements the catalog.
func (s *MemoryStore) CreateItem(_ context.Context, it *domain.CatalogItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *it
	s.items[it.ID] = &cp
	return nil
}

// GetItem implements the catalog.
func (s *MemoryStore) GetItem(_ context.Context, id uuid.UUID) (*domain.CatalogItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	it, ok := s.items[id]
	if !ok {
		return nil, domain.ErrItemNotFound
	}
	cp := *it
	return &cp, nil
}

// SetAvailable implements the catalog.
func (s *MemoryStore) SetAvailable(_ context.Context, id uuid.UUID, available bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	it, ok := s.items[id]
	if !ok {
		return domain.ErrItemNotFound
	}
	it.Available = available
	return nil
}

// ClaimItem implements the catalog.
func (s *MemoryStore) ClaimItem(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	it, ok := s.items[id]
	if !ok {
		return domain.ErrItemNotFound
	}
	if !it.Available {
		return domain.ErrItemUnavailable
	}
	it.Available = false
	return nil
}

// PutRequest stores a buyer request.
func (s *MemoryStore) PutRequest(req *domain.BuyerRequest) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *req
	s.requests[req.ID] = &cp
}

// GetRequest returns a stored buyer request.
func (s *MemoryStore) GetRequest(id uuid.UUID) (*domain.BuyerRequest, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	req, ok := s.requests[id]
	if !ok {
		return nil, false
	}
	cp := *req
	return &cp, true
}

// GetMatchedRequest implements the catalog.
func (s *MemoryStore) GetMatchedRequest(_ context.Context, itemID uuid.UUID) (*domain.BuyerRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var found *domain.BuyerRequest
	for _, req := range s.requests {
		if req.MatchedItemID != nil && *req.MatchedItemID == itemID {
			if found == nil || req.CreatedAt.After(found.CreatedAt) {
				found = req
			}
		}
	}
	if found == nil {
		return nil, nil
	}
	cp := *found
	return &cp, nil
}

// FulfillMatched implements the catalog.
func (s *MemoryStore) FulfillMatched(_ context.Context, itemID uuid.UUID) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, req := range s.requests {
		if req.MatchedItemID != nil && *req.MatchedItemID == itemID && req.Status != domain.RequestCompleted {
			req.Status = domain.RequestCompleted
			n++
		}
	}
	return n, nil
}

func phaseIn(p domain.Phase, set []domain.Phase) bool {
	for _, q := range set {
		if p == q {
			return true
		}
	}
	return false
}
