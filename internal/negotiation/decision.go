// Package negotiation holds the phase controller that drives a deal one step at
// a time, the decision strategies the agents use, and the logistics estimator.
package negotiation

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/omnicirculus/dealengine/internal/domain"
)

// Action is what an agent does on its turn.
type Action string

const (
	ActionOffer   Action = "OFFER"
	ActionAccept  Action = "ACCEPT"
	ActionDecline Action = "DECLINE"
)

// IsValid returns true for the three recognised actions.
func (a Action) IsValid() bool {
	return a == ActionOffer || a == ActionAccept || a == ActionDecline
}

// recentWindow is how many log entries a strategy sees.
const recentWindow = 3

// Input is the snapshot a Strategy decides on.
type Input struct {
	Phase         domain.Phase
	Actor         domain.Actor
	ItemTitle     string
	InitialPrice  decimal.Decimal
	FloorPrice    decimal.Decimal
	SellerAsk     decimal.Decimal
	BuyerOffer    *decimal.Decimal
	FinalPrice    *decimal.Decimal
	TransportCost decimal.Decimal
	DistanceKm    int
	Recent        []domain.LogEntry
	// History is the full log, used only to detect whether the buyer has
	// already requested a delivery discount.
	History []domain.LogEntry
}

// NewInput snapshots d for actor.
func NewInput(d *domain.Deal, actor domain.Actor) Input {
	in := Input{
		Phase:        d.Phase,
		Actor:        actor,
		InitialPrice: d.InitialPrice,
		FloorPrice:   d.FloorPrice,
		SellerAsk:    d.SellerAsk,
		BuyerOffer:   d.BuyerOffer,
		FinalPrice:   d.FinalPrice,
		Recent:       d.RecentEntries(recentWindow),
		History:      d.RecentEntries(len(d.Log)),
	}
	if d.TransportCost != nil {
		in.TransportCost = *d.TransportCost
	}
	if d.DistanceKm != nil {
		in.DistanceKm = *d.DistanceKm
	}
	return in
}

// lastFrom returns the most recent entry in Recent written by actor.
func (in Input) lastFrom(actor domain.Actor) *domain.LogEntry {
	for i := len(in.Recent) - 1; i >= 0; i-- {
		if in.Recent[i].Actor == actor {
			return &in.Recent[i]
		}
	}
	return nil
}

// Decision is a strategy's proposed turn. Signal carries explicit intent such
// as a final offer so the counterpart never parses Message.
type Decision struct {
	Action  Action
	Price   decimal.Decimal
	Message string
	Signal  domain.Signal
}

// Strategy proposes the next move for the acting agent.
type Strategy interface {
	Decide(ctx context.Context, in Input) (Decision, error)
}

// Decider is what the controller needs: a decision that never fails.
type Decider interface {
	Decide(ctx context.Context, in Input) Decision
}
