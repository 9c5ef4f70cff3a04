package domain

import (
	"time"

	"github.com/google/uuid"
)

// ApprovalToken indexes a confirmation token to its deal. The row outlives the
// token's validity so repeated resolutions can still find the deal.
type ApprovalToken struct {
	Token      string     `json:"-"           db:"token"`
	DealID     uuid.UUID  `json:"deal_id"     db:"deal_id"`
	CreatedAt  time.Time  `json:"created_at"  db:"created_at"`
	ConsumedAt *time.Time `json:"consumed_at" db:"consumed_at"`
}

// Consumed returns true once the token has been invalidated.
func (t *ApprovalToken) Consumed() bool {
	return t.ConsumedAt != nil
}
