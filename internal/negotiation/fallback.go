package negotiation

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/omnicirculus/dealengine/internal/domain"
)

var (
	buyerOpeningRatio = decimal.NewFromFloat(0.85)
	buyerStep         = decimal.NewFromInt(5)
	buyerAskMargin    = decimal.NewFromInt(2)
	sellerStep        = decimal.NewFromInt(5)
)

// FallbackStrategy is the deterministic concession algorithm. The seller's ask
// falls by 5 toward the floor and the buyer's offer climbs by at most 5 toward
// the ask, so the two series meet in a bounded number of turns. It never
// declines; the turn limit is the only forced exit.
type FallbackStrategy struct{}

// Decide never returns an error.
func (FallbackStrategy) Decide(_ context.Context, in Input) (Decision, error) {
	if in.Phase == domain.PhaseTransportNegotiating {
		return decideLogistics(in), nil
	}
	if in.Actor == domain.ActorSellerAgent {
		return decideSellerPrice(in), nil
	}
	return decideBuyerPrice(in), nil
}

// ── Price phase ───────────────────────────────────────────────────────────────

func decideBuyerPrice(in Input) Decision {
	sellerFinal := false
	if last := in.lastFrom(domain.ActorSellerAgent); last != nil && last.Signal == domain.SignalFinalOffer {
		sellerFinal = true
	}
	if sellerFinal || in.SellerAsk.LessThanOrEqual(in.FloorPrice) {
		return Decision{
			Action:  ActionAccept,
			Price:   in.SellerAsk,
			Message: fmt.Sprintf("Alright, %s works for us. Deal.", money(in.SellerAsk)),
		}
	}

	if in.BuyerOffer == nil {
		offer := in.InitialPrice.Mul(buyerOpeningRatio).Round(2)
		return Decision{
			Action:  ActionOffer,
			Price:   offer,
			Message: fmt.Sprintf("Thanks for the listing. Our budget is tight, can you do %s?", money(offer)),
		}
	}

	offer := decimal.Min(in.SellerAsk.Sub(buyerAskMargin), in.BuyerOffer.Add(buyerStep))
	return Decision{
		Action:  ActionOffer,
		Price:   offer,
		Message: fmt.Sprintf("We can stretch a little. %s is our offer.", money(offer)),
	}
}

func decideSellerPrice(in Input) Decision {
	if in.BuyerOffer != nil && in.BuyerOffer.GreaterThanOrEqual(in.FloorPrice) {
		return Decision{
			Action:  ActionAccept,
			Price:   *in.BuyerOffer,
			Message: fmt.Sprintf("%s is acceptable. We have a deal.", money(*in.BuyerOffer)),
		}
	}

	if in.SellerAsk.LessThanOrEqual(in.FloorPrice) {
		return finalSellerOffer(in.FloorPrice)
	}

	ask := decimal.Max(in.FloorPrice, in.SellerAsk.Sub(sellerStep))
	if ask.Equal(in.FloorPrice) {
		return finalSellerOffer(ask)
	}
	return Decision{
		Action:  ActionOffer,
		Price:   ask,
		Message: fmt.Sprintf("Quality stock, fair price. I can come down to %s.", money(ask)),
	}
}

func finalSellerOffer(price decimal.Decimal) Decision {
	return Decision{
		Action:  ActionOffer,
		Price:   price,
		Message: fmt.Sprintf("%s is my final offer. I cannot go lower.", money(price)),
		Signal:  domain.SignalFinalOffer,
	}
}

// ── Logistics phase ───────────────────────────────────────────────────────────

func decideLogistics(in Input) Decision {
	cost := in.TransportCost
	if in.Actor == domain.ActorSellerAgent {
		return Decision{
			Action:  ActionOffer,
			Price:   cost,
			Message: fmt.Sprintf("Delivery is a fixed standard rate of %s for %d km. No discount possible.", money(cost), in.DistanceKm),
			Signal:  domain.SignalFinalOffer,
		}
	}

	sellerRefused := false
	if last := in.lastFrom(domain.ActorSellerAgent); last != nil && last.Signal == domain.SignalFinalOffer {
		sellerRefused = true
	}
	if sellerRefused || buyerAskedDiscount(in.History) {
		return Decision{
			Action:  ActionAccept,
			Price:   cost,
			Message: fmt.Sprintf("Understood. We accept delivery at %s.", money(cost)),
		}
	}
	return Decision{
		Action:  ActionOffer,
		Price:   cost,
		Message: fmt.Sprintf("Delivery at %s seems steep. Any discount on transport?", money(cost)),
		Signal:  domain.SignalDiscountRequest,
	}
}

// deliveryKeywords mark a buyer message that already haggled over delivery.
// Model-written turns carry no signal, so their wording is checked instead.
var deliveryKeywords = []string{"discount", "delivery"}

// buyerAskedDiscount scans the buyer's turns since the route was quoted.
func buyerAskedDiscount(history []domain.LogEntry) bool {
	start := 0
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Signal == domain.SignalRouteQuoted {
			start = i + 1
			break
		}
	}
	for _, e := range history[start:] {
		if e.Actor != domain.ActorBuyerAgent {
			continue
		}
		if e.Signal == domain.SignalDiscountRequest {
			return true
		}
		msg := strings.ToLower(e.Message)
		for _, kw := range deliveryKeywords {
			if strings.Contains(msg, kw) {
				return true
			}
		}
	}
	return false
}

func money(d decimal.Decimal) string {
	return "₹" + d.StringFixed(2)
}
