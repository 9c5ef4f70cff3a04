package negotiation

import (
	"context"
	"fmt"
	"time"

	"github.com/omnicirculus/dealengine/internal/domain"
)

// Controller is the phase state machine. Each Advance applies at most one
// step: logistics entry, one agent turn, or nothing.
type Controller struct {
	decider       Decider
	estimator     Estimator
	maxDistanceKm int
	now           func() time.Time
}

// NewController builds a controller. maxDistanceKm <= 0 uses the default radius.
func NewController(decider Decider, estimator Estimator, maxDistanceKm int) *Controller {
	if maxDistanceKm <= 0 {
		maxDistanceKm = DefaultMaxDistanceKm
	}
	return &Controller{
		decider:       decider,
		estimator:     estimator,
		maxDistanceKm: maxDistanceKm,
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// Advance mutates d by one step and reports whether anything changed.
// Blocked and terminal deals are returned untouched with changed == false.
// On error d may be partially modified; callers pass a clone.
func (c *Controller) Advance(ctx context.Context, d *domain.Deal) (bool, error) {
	switch {
	case d.Phase.IsTerminal(), d.Phase.IsExternallyBlocked(), d.AwaitingConfirmation():
		return false, nil
	case d.Phase == domain.PhasePriceAgreed:
		return true, c.enterLogistics(ctx, d)
	case d.Phase.IsNegotiating():
		c.takeTurn(ctx, d)
		return true, nil
	}
	return false, nil
}

// enterLogistics runs once, when the price is locked.
func (c *Controller) enterLogistics(ctx context.Context, d *domain.Deal) error {
	q, err := c.estimator.Estimate(ctx, d)
	if err != nil {
		return fmt.Errorf("controller.enterLogistics: %w", err)
	}
	km := q.DistanceKm
	now := c.now()

	if Cancels(km, c.maxDistanceKm) {
		d.DistanceKm = &km
		return d.Transition(domain.PhaseCancelledDistance, domain.LogEntry{
			Actor: domain.ActorSystem,
			Message: fmt.Sprintf("DISTANCE ALERT: %s is %d km away, beyond the %d km delivery radius. Deal cancelled.",
				d.BuyerLocation, km, c.maxDistanceKm),
			Signal:    domain.SignalDistanceAlert,
			Timestamp: now,
		})
	}

	cost := q.Cost
	d.DistanceKm = &km
	d.TransportCost = &cost
	if err := d.Transition(domain.PhaseTransportNegotiating, domain.LogEntry{
		Actor:     domain.ActorSystem,
		Message:   fmt.Sprintf("Route to %s: %d km. Standard delivery cost %s.", d.BuyerLocation, km, money(cost)),
		Offer:     domain.DecimalPtr(cost),
		Signal:    domain.SignalRouteQuoted,
		Timestamp: now,
	}); err != nil {
		return err
	}
	d.Append(domain.LogEntry{
		Actor:     domain.ActorSellerAgent,
		Message:   fmt.Sprintf("Price is settled. Delivery to %s comes to %s at our standard rate.", d.BuyerLocation, money(cost)),
		Offer:     domain.DecimalPtr(cost),
		Timestamp: now,
	})
	return nil
}

// takeTurn lets the agent who did not speak last act once.
func (c *Controller) takeTurn(ctx context.Context, d *domain.Deal) {
	if d.TurnCount >= d.MaxTurns {
		c.fail(d, fmt.Sprintf("Turn limit of %d reached without agreement. Negotiation failed.", d.MaxTurns))
		return
	}

	actor := domain.ActorBuyerAgent
	if last := d.LastAgentEntry(); last != nil {
		actor = last.Actor.Counterpart()
	}

	dec := c.decider.Decide(ctx, NewInput(d, actor))
	d.TurnCount++

	entry := domain.LogEntry{
		Actor:     actor,
		Message:   dec.Message,
		Signal:    dec.Signal,
		Timestamp: c.now(),
	}
	if dec.Action != ActionDecline {
		entry.Offer = domain.DecimalPtr(dec.Price)
	}
	d.Append(entry)

	pricePhase := d.Phase == domain.PhasePriceNegotiating
	if pricePhase && dec.Action == ActionOffer {
		if actor == domain.ActorBuyerAgent {
			d.BuyerOffer = domain.DecimalPtr(dec.Price)
		} else {
			d.SellerAsk = dec.Price
		}
	}

	switch dec.Action {
	case ActionAccept:
		if pricePhase {
			d.FinalPrice = domain.DecimalPtr(dec.Price)
			_ = d.Transition(domain.PhasePriceAgreed, domain.LogEntry{
				Actor:     domain.ActorSystem,
				Message:   fmt.Sprintf("Price locked at %s. Calculating delivery.", money(dec.Price)),
				Offer:     domain.DecimalPtr(dec.Price),
				Timestamp: c.now(),
			})
			return
		}
		total := d.FinalPrice.Add(*d.TransportCost)
		d.TotalValue = &total
		_ = d.Transition(domain.PhaseTransportAgreed, domain.LogEntry{
			Actor:     domain.ActorSystem,
			Message:   fmt.Sprintf("Delivery agreed. Total %s. Awaiting user confirmation.", money(total)),
			Offer:     domain.DecimalPtr(total),
			Signal:    domain.SignalAwaitingConfirmation,
			Timestamp: c.now(),
		})
		return
	case ActionDecline:
		c.fail(d, fmt.Sprintf("%s declined. Negotiation failed.", actor))
		return
	}

	if d.TurnCount >= d.MaxTurns {
		c.fail(d, fmt.Sprintf("Turn limit of %d reached without agreement. Negotiation failed.", d.MaxTurns))
	}
}

func (c *Controller) fail(d *domain.Deal, msg string) {
	_ = d.Transition(domain.PhaseFailed, domain.LogEntry{
		Actor:     domain.ActorSystem,
		Message:   msg,
		Timestamp: c.now(),
	})
}
