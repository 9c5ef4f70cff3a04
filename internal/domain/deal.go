// Package domain defines the core business entities of the deal negotiation
// and settlement engine.
package domain

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ──────────────────────────────────────────────────────────────────────────────
// Types & constants
// ──────────────────────────────────────────────────────────────────────────────

// Actor identifies who wrote a log entry.
type Actor string

const (
	ActorBuyerAgent  Actor = "BUYER_AGENT"
	ActorSellerAgent Actor = "SELLER_AGENT"
	ActorSystem      Actor = "SYSTEM"
)

// IsAgent returns true for the two negotiating agents.
func (a Actor) IsAgent() bool {
	return a == ActorBuyerAgent || a == ActorSellerAgent
}

// Counterpart returns the other agent.
func (a Actor) Counterpart() Actor {
	if a == ActorBuyerAgent {
		return ActorSellerAgent
	}
	return ActorBuyerAgent
}

// Signal is an explicit intent flag attached to a log entry so the counterpart
// never has to re-derive intent from free text.
type Signal string

const (
	SignalNone                 Signal = ""
	SignalFinalOffer           Signal = "FINAL_OFFER"
	SignalDiscountRequest      Signal = "DISCOUNT_REQUEST"
	SignalAwaitingConfirmation Signal = "AWAITING_CONFIRMATION"
	SignalDistanceAlert        Signal = "DISTANCE_ALERT"
	SignalRouteQuoted          Signal = "ROUTE_QUOTED" // opens the logistics round
)

// ApprovalState is the tri-state flag each principal holds.
type ApprovalState string

const (
	ApprovalPending  ApprovalState = "PENDING"
	ApprovalApproved ApprovalState = "APPROVED"
	ApprovalRejected ApprovalState = "REJECTED"
)

// PaymentState tracks whether funds have moved.
type PaymentState string

const (
	PaymentPending   PaymentState = "PENDING"
	PaymentCompleted PaymentState = "COMPLETED"
)

// DefaultMaxTurns is the hard ceiling on agent turns per deal.
const DefaultMaxTurns = 40

// DefaultFloorRatio is the share of the initial price the seller will accept.
var DefaultFloorRatio = decimal.NewFromFloat(0.90)

// ──────────────────────────────────────────────────────────────────────────────
// LogEntry / DealLog
// ──────────────────────────────────────────────────────────────────────────────

// LogEntry is one append-only record in a deal's negotiation log.
type LogEntry struct {
	Actor     Actor            `json:"actor"`
	Message   string           `json:"message"`
	Offer     *decimal.Decimal `json:"offer,omitempty"`
	Signal    Signal           `json:"signal,omitempty"`
	Timestamp time.Time        `json:"timestamp"`
}

// DealLog is stored as a JSONB array.
type DealLog []LogEntry

// Value implements driver.Valuer.
func (l DealLog) Value() (driver.Value, error) {
	if l == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(l)
}

// Scan implements sql.Scanner.
func (l *DealLog) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		*l = DealLog{}
		return nil
	case []byte:
		return json.Unmarshal(v, l)
	case string:
		return json.Unmarshal([]byte(v), l)
	default:
		return fmt.Errorf("DealLog.Scan: unsupported type %T", src)
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// Deal
// ──────────────────────────────────────────────────────────────────────────────

// Deal is the central aggregate: one negotiation attempt between a buyer and a
// listed catalog item. It is mutated only by the controller, the approval
// handshake and settlement.
type Deal struct {
	ID            uuid.UUID `json:"id"             db:"id"`
	ItemID        uuid.UUID `json:"item_id"        db:"item_id"`
	BuyerContact  string    `json:"buyer_contact"  db:"buyer_contact"`
	SellerContact string    `json:"seller_contact" db:"seller_contact"`
	BuyerLocation string    `json:"buyer_location" db:"buyer_location"`
	Phase         Phase     `json:"phase"          db:"phase"`

	InitialPrice decimal.Decimal  `json:"initial_price" db:"initial_price"`
	FloorPrice   decimal.Decimal  `json:"floor_price"   db:"floor_price"`
	SellerAsk    decimal.Decimal  `json:"seller_ask"    db:"seller_ask"`
	BuyerOffer   *decimal.Decimal `json:"buyer_offer"   db:"buyer_offer"`
	FinalPrice   *decimal.Decimal `json:"final_price"   db:"final_price"`

	DistanceKm    *int             `json:"distance_km"    db:"distance_km"`
	TransportCost *decimal.Decimal `json:"transport_cost" db:"transport_cost"`
	TotalValue    *decimal.Decimal `json:"total_value"    db:"total_value"`

	TurnCount int `json:"turn_count" db:"turn_count"`
	MaxTurns  int `json:"max_turns"  db:"max_turns"`

	ConfirmationToken *string       `json:"-"               db:"confirmation_token"`
	BuyerApproval     ApprovalState `json:"buyer_approval"  db:"buyer_approval"`
	SellerApproval    ApprovalState `json:"seller_approval" db:"seller_approval"`
	PaymentState      PaymentState  `json:"payment_state"   db:"payment_state"`
	Settlement        *Settlement   `json:"settlement"      db:"settlement"`

	Log DealLog `json:"log" db:"log"`

	Version   int64     `json:"version"    db:"version"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// NewDeal opens a deal against item for buyer. The floor price is computed
// once here (initial × floorRatio, rounded down) and never mutated.
func NewDeal(item *CatalogItem, buyerContact, buyerLocation string, maxTurns int, floorRatio decimal.Decimal, now time.Time) *Deal {
	if maxTurns <= 0 {
		maxTurns = DefaultMaxTurns
	}
	if buyerLocation == "" {
		buyerLocation = "Unknown"
	}
	now = now.UTC()
	d := &Deal{
		ID:             uuid.New(),
		ItemID:         item.ID,
		BuyerContact:   buyerContact,
		SellerContact:  item.OwnerContact,
		BuyerLocation:  buyerLocation,
		Phase:          PhaseInitiated,
		InitialPrice:   item.Price,
		FloorPrice:     item.Price.Mul(floorRatio).Floor(),
		SellerAsk:      item.Price,
		MaxTurns:       maxTurns,
		BuyerApproval:  ApprovalPending,
		SellerApproval: ApprovalPending,
		PaymentState:   PaymentPending,
		Log:            DealLog{},
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	// The opening transition cannot fail: INITIATED → PRICE_NEGOTIATING is declared.
	_ = d.Transition(PhasePriceNegotiating, LogEntry{
		Actor:     ActorSystem,
		Message:   fmt.Sprintf("Negotiation opened for %s. Asking price %s.", item.Title, item.Price.StringFixed(2)),
		Offer:     decimalPtr(item.Price),
		Timestamp: now,
	})
	return d
}

// Append adds an entry to the log. Entries are never rewritten or reordered.
func (d *Deal) Append(e LogEntry) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	d.Log = append(d.Log, e)
	d.UpdatedAt = e.Timestamp
}

// Transition moves the deal along a declared edge and appends exactly one log
// entry describing it. Undeclared edges leave the deal untouched.
func (d *Deal) Transition(to Phase, e LogEntry) error {
	if !CanTransition(d.Phase, to) {
		return fmt.Errorf("%w: %s → %s", ErrInvalidTransition, d.Phase, to)
	}
	d.Phase = to
	d.Append(e)
	return nil
}

// IsTerminal returns true once the deal can no longer change.
func (d *Deal) IsTerminal() bool {
	return d.Phase.IsTerminal()
}

// LastEntry returns the most recent log entry, or nil for an empty log.
func (d *Deal) LastEntry() *LogEntry {
	if len(d.Log) == 0 {
		return nil
	}
	return &d.Log[len(d.Log)-1]
}

// LastAgentEntry returns the most recent entry written by either agent.
func (d *Deal) LastAgentEntry() *LogEntry {
	for i := len(d.Log) - 1; i >= 0; i-- {
		if d.Log[i].Actor.IsAgent() {
			return &d.Log[i]
		}
	}
	return nil
}

// RecentEntries returns a copy of the last n log entries.
func (d *Deal) RecentEntries(n int) []LogEntry {
	start := len(d.Log) - n
	if start < 0 {
		start = 0
	}
	out := make([]LogEntry, len(d.Log)-start)
	copy(out, d.Log[start:])
	return out
}

// AwaitingConfirmation reports whether the latest entry parks the deal until a
// human acts.
func (d *Deal) AwaitingConfirmation() bool {
	last := d.LastEntry()
	return last != nil && last.Signal == SignalAwaitingConfirmation
}

// ApprovalFor returns a pointer to the approval flag for role.
func (d *Deal) ApprovalFor(role Role) *ApprovalState {
	if role == RoleBuyer {
		return &d.BuyerApproval
	}
	return &d.SellerApproval
}

// Clone returns a deep copy so callers can compute a mutation without touching
// the original until it has been persisted.
func (d *Deal) Clone() *Deal {
	c := *d
	c.BuyerOffer = cloneDecimal(d.BuyerOffer)
	c.FinalPrice = cloneDecimal(d.FinalPrice)
	c.TransportCost = cloneDecimal(d.TransportCost)
	c.TotalValue = cloneDecimal(d.TotalValue)
	if d.DistanceKm != nil {
		km := *d.DistanceKm
		c.DistanceKm = &km
	}
	if d.ConfirmationToken != nil {
		tok := *d.ConfirmationToken
		c.ConfirmationToken = &tok
	}
	if d.Settlement != nil {
		s := *d.Settlement
		c.Settlement = &s
	}
	c.Log = make(DealLog, len(d.Log))
	for i, e := range d.Log {
		e.Offer = cloneDecimal(e.Offer)
		c.Log[i] = e
	}
	return &c
}

// ──────────────────────────────────────────────────────────────────────────────
// Role
// ──────────────────────────────────────────────────────────────────────────────

// Role names the principal resolving an approval.
type Role string

const (
	RoleBuyer  Role = "buyer"
	RoleSeller Role = "seller"
)

// ParseRole accepts any casing of buyer/seller.
func ParseRole(s string) (Role, error) {
	switch Role(strings.ToLower(strings.TrimSpace(s))) {
	case RoleBuyer:
		return RoleBuyer, nil
	case RoleSeller:
		return RoleSeller, nil
	}
	return "", ErrInvalidRole
}

// ApprovalAction is what a principal does with a confirmation link.
type ApprovalAction string

const (
	ActionApprove ApprovalAction = "approve"
	ActionReject  ApprovalAction = "reject"
)

// ParseApprovalAction maps user input to an action; empty means approve.
func ParseApprovalAction(s string) (ApprovalAction, error) {
	switch ApprovalAction(strings.ToLower(strings.TrimSpace(s))) {
	case ActionApprove, "":
		return ActionApprove, nil
	case ActionReject:
		return ActionReject, nil
	}
	return "", ErrInvalidAction
}

// ──────────────────────────────────────────────────────────────────────────────
// helpers
// ──────────────────────────────────────────────────────────────────────────────

func decimalPtr(d decimal.Decimal) *decimal.Decimal {
	return &d
}

func cloneDecimal(d *decimal.Decimal) *decimal.Decimal {
	if d == nil {
		return nil
	}
	v := *d
	return &v
}

// DecimalPtr is exported for packages that build log entries.
func DecimalPtr(d decimal.Decimal) *decimal.Decimal {
	return decimalPtr(d)
}
