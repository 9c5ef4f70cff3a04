package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/omnicirculus/dealengine/internal/domain"
	"github.com/omnicirculus/dealengine/internal/negotiation"
)

// DealConfig carries the negotiation parameters applied at creation.
type DealConfig struct {
	MaxTurns   int
	FloorRatio decimal.Decimal
}

// StartRequest opens a negotiation.
type StartRequest struct {
	ItemID        uuid.UUID
	BuyerContact  string
	BuyerLocation string
}

// ──────────────────────────────────────────────────────────────────────────────
// DealService
// ──────────────────────────────────────────────────────────────────────────────

// DealService creates deals, advances them one step at a time and serves the
// read views (history, replay, gate pass).
type DealService struct {
	dealMutator
	catalog    Catalog
	controller *negotiation.Controller
	cfg        DealConfig
	logger     *slog.Logger
	metrics    engineMetrics
}

// NewDealService creates a DealService.
func NewDealService(
	deals DealStore,
	catalog Catalog,
	locker Locker,
	controller *negotiation.Controller,
	cfg DealConfig,
	logger *slog.Logger,
) *DealService {
	if cfg.MaxTurns <= 0 {
		cfg.MaxTurns = domain.DefaultMaxTurns
	}
	if !cfg.FloorRatio.IsPositive() {
		cfg.FloorRatio = domain.DefaultFloorRatio
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &DealService{
		dealMutator: newDealMutator(deals, locker),
		catalog:     catalog,
		controller:  controller,
		cfg:         cfg,
		logger:      logger,
		metrics:     newEngineMetrics(),
	}
}

// SetBroadcaster injects the WS Hub dependency post-construction.
func (s *DealService) SetBroadcaster(b Broadcaster) { s.broadcaster = b }

// ──────────────────────────────────────────────────────────────────────────────
// Start
// ──────────────────────────────────────────────────────────────────────────────

// Start opens a deal between the buyer and the item's owner. Any open deal for
// the same buyer and item is superseded.
func (s *DealService) Start(ctx context.Context, req StartRequest) (*domain.Deal, error) {
	buyer := strings.TrimSpace(req.BuyerContact)
	if buyer == "" {
		return nil, domain.ErrMissingContact
	}

	item, err := s.catalog.GetItem(ctx, req.ItemID)
	if err != nil {
		return nil, fmt.Errorf("deal_service.Start: %w", err)
	}
	if !item.Available {
		return nil, domain.ErrItemUnavailable
	}
	if strings.EqualFold(item.OwnerContact, buyer) {
		return nil, domain.ErrSelfDeal
	}

	unlock, err := s.locker.Lock(ctx, "start:"+item.ID.String()+":"+strings.ToLower(buyer))
	if err != nil {
		return nil, fmt.Errorf("deal_service.Start: lock: %w", err)
	}
	defer unlock()

	removed, err := s.deals.DeleteOpen(ctx, item.ID, buyer)
	if err != nil {
		return nil, fmt.Errorf("deal_service.Start: %w", err)
	}
	if removed > 0 {
		s.logger.Info("superseded open deals", "item_id", item.ID, "buyer", buyer, "count", removed)
	}

	d := domain.NewDeal(item, buyer, strings.TrimSpace(req.BuyerLocation), s.cfg.MaxTurns, s.cfg.FloorRatio, time.Now())
	if err := s.deals.Create(ctx, d); err != nil {
		return nil, fmt.Errorf("deal_service.Start: %w", err)
	}
	s.metrics.phase(ctx, string(d.Phase))
	s.publish(d)
	return d, nil
}

// ──────────────────────────────────────────────────────────────────────────────
// AdvanceTurn
// ──────────────────────────────────────────────────────────────────────────────

// AdvanceTurn applies one controller step. Blocked and terminal deals are
// returned unchanged without error.
func (s *DealService) AdvanceTurn(ctx context.Context, id uuid.UUID) (*domain.Deal, error) {
	before := domain.Phase("")
	d, err := s.mutate(ctx, "deal_service.AdvanceTurn", id, func(d *domain.Deal) (bool, error) {
		before = d.Phase
		return s.controller.Advance(ctx, d)
	})
	if err != nil {
		return nil, err
	}
	if d.Phase != before {
		s.metrics.phase(ctx, string(d.Phase))
		s.logger.Info("deal phase changed", "deal_id", d.ID, "from", before, "to", d.Phase, "turns", d.TurnCount)
	}
	return d, nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Read views
// ──────────────────────────────────────────────────────────────────────────────

// Get returns a deal by id.
func (s *DealService) Get(ctx context.Context, id uuid.UUID) (*domain.Deal, error) {
	d, err := s.deals.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("deal_service.Get: %w", err)
	}
	return d, nil
}

// GetHistory returns the buyer's settled deals (PAID and DEAL_CLOSED).
func (s *DealService) GetHistory(ctx context.Context, buyerContact string) ([]*domain.Deal, error) {
	buyerContact = strings.TrimSpace(buyerContact)
	if buyerContact == "" {
		return nil, domain.ErrMissingContact
	}
	deals, err := s.deals.ListByBuyer(ctx, buyerContact, domain.HistoryPhases())
	if err != nil {
		return nil, fmt.Errorf("deal_service.GetHistory: %w", err)
	}
	return deals, nil
}

// ListLive returns up to limit deals the autopilot should keep advancing.
func (s *DealService) ListLive(ctx context.Context, limit int) ([]*domain.Deal, error) {
	deals, err := s.deals.ListByPhase(ctx, domain.LivePhases(), limit)
	if err != nil {
		return nil, fmt.Errorf("deal_service.ListLive: %w", err)
	}
	return deals, nil
}

// ListAwaitingApproval returns up to limit deals parked at TRANSPORT_AGREED.
func (s *DealService) ListAwaitingApproval(ctx context.Context, limit int) ([]*domain.Deal, error) {
	deals, err := s.deals.ListByPhase(ctx, []domain.Phase{domain.PhaseTransportAgreed}, limit)
	if err != nil {
		return nil, fmt.Errorf("deal_service.ListAwaitingApproval: %w", err)
	}
	return deals, nil
}

// List returns up to limit deals in any of phases, oldest activity first.
// An empty phase set lists every phase.
func (s *DealService) List(ctx context.Context, phases []domain.Phase, limit int) ([]*domain.Deal, error) {
	if len(phases) == 0 {
		phases = domain.AllPhases()
	}
	deals, err := s.deals.ListByPhase(ctx, phases, limit)
	if err != nil {
		return nil, fmt.Errorf("deal_service.List: %w", err)
	}
	return deals, nil
}

// ListSettled returns deals settled at or after since, newest first. A zero
// since covers every settlement.
func (s *DealService) ListSettled(ctx context.Context, since time.Time, limit int) ([]*domain.Deal, error) {
	deals, err := s.deals.ListSettled(ctx, since, limit)
	if err != nil {
		return nil, fmt.Errorf("deal_service.ListSettled: %w", err)
	}
	return deals, nil
}

// SettlementTotals sums every settlement recorded at or after since.
func (s *DealService) SettlementTotals(ctx context.Context, since time.Time) (domain.SettlementTotals, error) {
	t, err := s.deals.SumSettlements(ctx, since)
	if err != nil {
		return t, fmt.Errorf("deal_service.SettlementTotals: %w", err)
	}
	return t, nil
}

// PhaseCounts returns how many deals sit in each phase. Phases with no deals
// are reported as zero.
func (s *DealService) PhaseCounts(ctx context.Context) (map[domain.Phase]int, error) {
	counts, err := s.deals.CountByPhase(ctx)
	if err != nil {
		return nil, fmt.Errorf("deal_service.PhaseCounts: %w", err)
	}
	for _, p := range domain.AllPhases() {
		if _, ok := counts[p]; !ok {
			counts[p] = 0
		}
	}
	return counts, nil
}

// Replay builds the audit timeline for a deal. Catalog lookups are
// best-effort: a missing item or request just drops that scene.
func (s *DealService) Replay(ctx context.Context, id uuid.UUID) ([]domain.ReplayEvent, error) {
	d, err := s.deals.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("deal_service.Replay: %w", err)
	}
	item, err := s.catalog.GetItem(ctx, d.ItemID)
	if err != nil {
		s.logger.Warn("replay: item lookup failed", "deal_id", d.ID, "err", err)
		item = nil
	}
	req, err := s.catalog.GetMatchedRequest(ctx, d.ItemID)
	if err != nil {
		s.logger.Warn("replay: request lookup failed", "deal_id", d.ID, "err", err)
		req = nil
	}
	return domain.BuildReplay(d, item, req), nil
}

// VerifyGatePass checks a scanned code. The code is a gate-pass id or, as a
// fallback, the deal id itself.
func (s *DealService) VerifyGatePass(ctx context.Context, code string) (domain.GatePassCheck, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return domain.GatePassCheck{Valid: false, Message: "NO DATA DETECTED"}, nil
	}

	d, err := s.deals.GetByGatePass(ctx, code)
	if err != nil && !domain.IsNotFound(err) {
		return domain.GatePassCheck{}, fmt.Errorf("deal_service.VerifyGatePass: %w", err)
	}
	if d == nil {
		if id, perr := uuid.Parse(code); perr == nil {
			d, err = s.deals.GetByID(ctx, id)
			if err != nil && !domain.IsNotFound(err) {
				return domain.GatePassCheck{}, fmt.Errorf("deal_service.VerifyGatePass: %w", err)
			}
		}
	}
	check := domain.CheckGatePass(d)
	s.logger.Info("gate pass scanned", "code", code, "valid", check.Valid)
	return check, nil
}
