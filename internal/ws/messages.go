// Package ws holds WebSocket message types and the Hub implementation.
// messages.go defines all message structs pushed to connected clients.
package ws

import (
	"time"

	"github.com/google/uuid"

	"github.com/omnicirculus/dealengine/internal/domain"
)

// MsgType identifies the kind of WS message so clients can switch on it.
type MsgType string

const (
	MsgTypeDealUpdate MsgType = "deal_update"
	MsgTypeError      MsgType = "error"
)

// ──────────────────────────────────────────────────────────────────────────────
// DealUpdateMessage: sent after every persisted deal mutation.
// ──────────────────────────────────────────────────────────────────────────────

// DealUpdateMessage carries the new phase, the newest log line and the full
// record so a chat view can render without a follow-up GET.
type DealUpdateMessage struct {
	Type      MsgType          `json:"type"`
	DealID    uuid.UUID        `json:"deal_id"`
	Phase     domain.Phase     `json:"phase"`
	TurnCount int              `json:"turn_count"`
	LastEntry *domain.LogEntry `json:"last_entry,omitempty"`
	Deal      *domain.Deal     `json:"deal"`
	Timestamp time.Time        `json:"timestamp"`
}

// NewDealUpdateMessage builds the push payload for d.
func NewDealUpdateMessage(d *domain.Deal) DealUpdateMessage {
	msg := DealUpdateMessage{
		Type:      MsgTypeDealUpdate,
		DealID:    d.ID,
		Phase:     d.Phase,
		TurnCount: d.TurnCount,
		Deal:      d,
		Timestamp: time.Now().UTC(),
	}
	if last := d.LastEntry(); last != nil {
		cp := *last
		msg.LastEntry = &cp
	}
	return msg
}

// ──────────────────────────────────────────────────────────────────────────────
// ErrorMessage: sent to a single client on a non-fatal error.
// ──────────────────────────────────────────────────────────────────────────────

// ErrorMessage is sent directly to one client (not broadcast).
type ErrorMessage struct {
	Type    MsgType `json:"type"`
	Code    string  `json:"code"`
	Message string  `json:"message"`
}
