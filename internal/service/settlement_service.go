package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"

	"github.com/omnicirculus/dealengine/internal/domain"
)

// DefaultSettlementETA is the delivery window quoted on a gate pass.
const DefaultSettlementETA = 4 * time.Hour

var errEmptyFleet = errors.New("delivery fleet is empty")

// ──────────────────────────────────────────────────────────────────────────────
// SettlementService
// ──────────────────────────────────────────────────────────────────────────────

// SettlementService records payment and closes deals.
type SettlementService struct {
	dealMutator
	catalog Catalog
	fleet   []domain.Driver
	eta     time.Duration
	logger  *slog.Logger
	metrics engineMetrics

	pickDriver func(n int) int
	now        func() time.Time
}

// NewSettlementService creates a SettlementService. An empty fleet falls back
// to domain.DefaultFleet.
func NewSettlementService(
	deals DealStore,
	catalog Catalog,
	locker Locker,
	fleet []domain.Driver,
	eta time.Duration,
	logger *slog.Logger,
) *SettlementService {
	if len(fleet) == 0 {
		fleet = domain.DefaultFleet()
	}
	if eta <= 0 {
		eta = DefaultSettlementETA
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SettlementService{
		dealMutator: newDealMutator(deals, locker),
		catalog:     catalog,
		fleet:       fleet,
		eta:         eta,
		logger:      logger,
		metrics:     newEngineMetrics(),
		pickDriver:  rand.IntN,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// SetBroadcaster injects the WS Hub dependency post-construction.
func (s *SettlementService) SetBroadcaster(b Broadcaster) { s.broadcaster = b }

// ──────────────────────────────────────────────────────────────────────────────
// Settle
// ──────────────────────────────────────────────────────────────────────────────

// Settle records payment for an APPROVED deal: assigns a driver, issues a gate
// pass, splits proceeds and claims the item. An item already sold to another
// deal fails with domain.ErrItemUnavailable and the deal stays APPROVED. If the
// deal cannot be saved after this call claimed the item, the claim is released.
func (s *SettlementService) Settle(ctx context.Context, id uuid.UUID) (*domain.Deal, error) {
	if len(s.fleet) == 0 {
		return nil, fmt.Errorf("settlement_service.Settle: %w", errEmptyFleet)
	}

	var (
		itemID uuid.UUID
		marked bool
	)
	d, err := s.mutate(ctx, "settlement_service.Settle", id, func(d *domain.Deal) (bool, error) {
		if d.Phase != domain.PhaseApproved {
			return false, fmt.Errorf("%w: settlement requires %s, deal is %s",
				domain.ErrInvalidTransition, domain.PhaseApproved, d.Phase)
		}
		if d.FinalPrice == nil || d.TransportCost == nil {
			return false, fmt.Errorf("%w: deal has no agreed price or delivery cost", domain.ErrInvalidTransition)
		}

		if err := s.catalog.ClaimItem(ctx, d.ItemID); err != nil {
			return false, fmt.Errorf("claim item: %w", err)
		}
		itemID = d.ItemID
		marked = true

		now := s.now()
		driver := s.fleet[s.pickDriver(len(s.fleet))]
		gatePass := "GP-" + ulid.Make().String()

		d.Settlement = &domain.Settlement{
			Driver:       driver,
			GatePassID:   gatePass,
			SellerPayout: *d.FinalPrice,
			CarrierFee:   *d.TransportCost,
			ETA:          etaLabel(s.eta),
			ArrivesAt:    now.Add(s.eta),
			SettledAt:    now,
		}
		total := d.Settlement.Total()
		if d.TotalValue == nil {
			d.TotalValue = &total
		}
		d.PaymentState = domain.PaymentCompleted
		if err := d.Transition(domain.PhasePaid, domain.LogEntry{
			Actor: domain.ActorSystem,
			Message: fmt.Sprintf("Payment received. Driver %s (%s, %s) assigned. Gate pass %s. ETA %s.",
				driver.Name, driver.Vehicle, driver.Plate, gatePass, d.Settlement.ETA),
			Offer:     domain.DecimalPtr(total),
			Timestamp: now,
		}); err != nil {
			return false, err
		}
		return true, nil
	})
	if err != nil {
		if marked {
			if rerr := s.catalog.SetAvailable(ctx, itemID, true); rerr != nil {
				s.logger.Error("settle: could not restore item availability", "item_id", itemID, "err", rerr)
			}
		}
		return nil, err
	}

	s.metrics.phase(ctx, string(d.Phase))
	s.logger.Info("deal settled",
		"deal_id", d.ID,
		"gate_pass", d.Settlement.GatePassID,
		"seller_payout", d.Settlement.SellerPayout.String(),
		"carrier_fee", d.Settlement.CarrierFee.String(),
	)
	return d, nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Close
// ──────────────────────────────────────────────────────────────────────────────

// Close moves a PAID deal to DEAL_CLOSED and fulfils any buyer request that was
// matched to the item. Request fulfilment is best-effort.
func (s *SettlementService) Close(ctx context.Context, id uuid.UUID) (*domain.Deal, error) {
	d, err := s.mutate(ctx, "settlement_service.Close", id, func(d *domain.Deal) (bool, error) {
		if d.Phase != domain.PhasePaid {
			return false, fmt.Errorf("%w: close requires %s, deal is %s",
				domain.ErrInvalidTransition, domain.PhasePaid, d.Phase)
		}
		return true, d.Transition(domain.PhaseDealClosed, domain.LogEntry{
			Actor:     domain.ActorSystem,
			Message:   "Goods released at the gate. Deal closed.",
			Timestamp: s.now(),
		})
	})
	if err != nil {
		return nil, err
	}
	s.metrics.phase(ctx, string(d.Phase))

	if n, err := s.catalog.FulfillMatched(ctx, d.ItemID); err != nil {
		s.logger.Warn("close: fulfilling matched requests failed", "deal_id", d.ID, "err", err)
	} else if n > 0 {
		s.logger.Info("close: buyer requests fulfilled", "deal_id", d.ID, "count", n)
	}
	return d, nil
}
