package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ──────────────────────────────────────────────────────────────────────────────
// Replay timeline
// ──────────────────────────────────────────────────────────────────────────────

// ReplayEventType labels one step of a deal's audit story.
type ReplayEventType string

const (
	ReplayUpload    ReplayEventType = "UPLOAD"
	ReplaySearch    ReplayEventType = "SEARCH"
	ReplayChat      ReplayEventType = "CHAT"
	ReplayLogistics ReplayEventType = "LOGISTICS"
	ReplaySuccess   ReplayEventType = "SUCCESS"
)

// ReplayEvent is one entry of the timeline returned by the replay view.
type ReplayEvent struct {
	Step      int              `json:"step"`
	Type      ReplayEventType  `json:"type"`
	Actor     string           `json:"actor"`
	Message   string           `json:"message"`
	Offer     *decimal.Decimal `json:"offer,omitempty"`
	Data      map[string]any   `json:"data,omitempty"`
	Timestamp *time.Time       `json:"timestamp,omitempty"`
}

// BuildReplay assembles the ordered audit timeline for a deal. item and req
// are optional: the listing and the buyer request it matched.
func BuildReplay(d *Deal, item *CatalogItem, req *BuyerRequest) []ReplayEvent {
	var (
		timeline []ReplayEvent
		step     = 1
	)
	add := func(e ReplayEvent) {
		e.Step = step
		step++
		timeline = append(timeline, e)
	}

	if item != nil {
		ts := item.CreatedAt
		add(ReplayEvent{
			Type:      ReplayUpload,
			Actor:     "SELLER",
			Message:   "Seller listed the item.",
			Data:      map[string]any{"title": item.Title, "price": item.Price, "location": item.Location},
			Timestamp: &ts,
		})
	}
	if req != nil {
		ts := req.CreatedAt
		add(ReplayEvent{
			Type:      ReplaySearch,
			Actor:     string(ActorBuyerAgent),
			Message:   "Buyer request matched this listing.",
			Data:      map[string]any{"prompt": req.Prompt},
			Timestamp: &ts,
		})
	}

	for _, e := range d.Log {
		// System chatter is skipped except for distance alerts.
		if e.Actor == ActorSystem && e.Signal != SignalDistanceAlert && !strings.Contains(e.Message, "DISTANCE ALERT") {
			continue
		}
		ts := e.Timestamp
		add(ReplayEvent{
			Type:      ReplayChat,
			Actor:     string(e.Actor),
			Message:   e.Message,
			Offer:     e.Offer,
			Timestamp: &ts,
		})
	}

	switch d.Phase {
	case PhaseApproved, PhasePaid, PhaseDealClosed:
		add(ReplayEvent{
			Type:    ReplayLogistics,
			Actor:   string(ActorSystem),
			Message: "Delivery route calculated.",
			Data: map[string]any{
				"distance_km":    d.DistanceKm,
				"transport_cost": d.TransportCost,
				"location":       d.BuyerLocation,
			},
		})
		gatePass := "Generating..."
		if d.Settlement != nil {
			gatePass = d.Settlement.GatePassID
		}
		add(ReplayEvent{
			Type:    ReplaySuccess,
			Actor:   string(ActorSystem),
			Message: "Transaction verified.",
			Data: map[string]any{
				"final_price": d.FinalPrice,
				"total":       d.TotalValue,
				"gate_pass":   gatePass,
			},
		})
	}
	return timeline
}

// ──────────────────────────────────────────────────────────────────────────────
// Gate pass verification
// ──────────────────────────────────────────────────────────────────────────────

// GatePassCheck is the answer given to a gate verification request.
type GatePassCheck struct {
	Valid   bool       `json:"valid"`
	Message string     `json:"message"`
	DealID  *uuid.UUID `json:"deal_id,omitempty"`
	Driver  *Driver    `json:"driver,omitempty"`
}

// CheckGatePass decides whether goods may be released for d. A nil deal means
// the pass was not found.
func CheckGatePass(d *Deal) GatePassCheck {
	if d == nil {
		return GatePassCheck{Valid: false, Message: "INVALID PASS: ID not found in system."}
	}
	id := d.ID
	if (d.Phase != PhasePaid && d.Phase != PhaseDealClosed) || d.Settlement == nil {
		return GatePassCheck{Valid: false, Message: "PAYMENT PENDING: Goods not released.", DealID: &id}
	}
	drv := d.Settlement.Driver
	return GatePassCheck{Valid: true, Message: "ACCESS GRANTED", DealID: &id, Driver: &drv}
}
