package domain

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Settlement is issued exactly once, when payment is recorded.
type Settlement struct {
	Driver       Driver          `json:"driver"`
	GatePassID   string          `json:"gate_pass_id"`
	SellerPayout decimal.Decimal `json:"seller_payout"`
	CarrierFee   decimal.Decimal `json:"carrier_fee"`
	ETA          string          `json:"eta"`
	ArrivesAt    time.Time       `json:"arrives_at"`
	SettledAt    time.Time       `json:"settled_at"`
}

// Total returns the amount the buyer paid.
func (s *Settlement) Total() decimal.Decimal {
	return s.SellerPayout.Add(s.CarrierFee)
}

// SettlementTotals aggregates the money moved by settled deals.
type SettlementTotals struct {
	Count         int             `json:"count"          db:"n"`
	SellerPayouts decimal.Decimal `json:"seller_payouts" db:"seller_payouts"`
	CarrierFees   decimal.Decimal `json:"carrier_fees"   db:"carrier_fees"`
	Gross         decimal.Decimal `json:"gross"          db:"gross"`
}

// Add folds one settlement into the totals.
func (t *SettlementTotals) Add(s *Settlement) {
	if s == nil {
		return
	}
	t.Count++
	t.SellerPayouts = t.SellerPayouts.Add(s.SellerPayout)
	t.CarrierFees = t.CarrierFees.Add(s.CarrierFee)
	t.Gross = t.Gross.Add(s.Total())
}

// Value implements driver.Valuer; a nil settlement is stored as SQL NULL.
func (s *Settlement) Value() (driver.Value, error) {
	if s == nil {
		return nil, nil
	}
	return json.Marshal(s)
}

// Scan implements sql.Scanner.
func (s *Settlement) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		return nil
	case []byte:
		return json.Unmarshal(v, s)
	case string:
		return json.Unmarshal([]byte(v), s)
	default:
		return fmt.Errorf("Settlement.Scan: unsupported type %T", src)
	}
}
