package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ──────────────────────────────────────────────────────────────────────────────
// Catalog collaborators
// ──────────────────────────────────────────────────────────────────────────────

// CatalogItem is the engine's view of a listed item. The catalog owns it; the
// engine only reads it and flips Available at settlement.
type CatalogItem struct {
	ID           uuid.UUID       `json:"id"            db:"id"`
	Title        string          `json:"title"         db:"title"`
	Price        decimal.Decimal `json:"price"         db:"price"`
	OwnerContact string          `json:"owner_contact" db:"owner_contact"`
	Location     string          `json:"location"      db:"location"`
	Available    bool            `json:"available"     db:"available"`
	CreatedAt    time.Time       `json:"created_at"    db:"created_at"`
}

// RequestStatus tracks a buyer's standing request.
type RequestStatus string

const (
	RequestSearching RequestStatus = "SEARCHING"
	RequestFound     RequestStatus = "FOUND"
	RequestCompleted RequestStatus = "COMPLETED"
)

// BuyerRequest is a pending "looking for" request. Matching happens outside the
// engine; close() only marks a matched request as fulfilled.
type BuyerRequest struct {
	ID            uuid.UUID     `json:"id"              db:"id"`
	Contact       string        `json:"contact"         db:"contact"`
	Prompt        string        `json:"prompt"          db:"prompt"`
	Status        RequestStatus `json:"status"          db:"status"`
	MatchedItemID *uuid.UUID    `json:"matched_item_id" db:"matched_item_id"`
	CreatedAt     time.Time     `json:"created_at"      db:"created_at"`
}
