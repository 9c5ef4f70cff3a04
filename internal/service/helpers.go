package service

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// fmtDecimal renders an optional amount for human-facing text.
func fmtDecimal(d *decimal.Decimal) string {
	if d == nil {
		return "-"
	}
	return d.StringFixed(2)
}

// etaLabel renders a delivery window the way drivers quote it ("4 Hours").
func etaLabel(d time.Duration) string {
	if d > 0 && d%time.Hour == 0 {
		h := int(d / time.Hour)
		if h == 1 {
			return "1 Hour"
		}
		return fmt.Sprintf("%d Hours", h)
	}
	return d.Round(time.Minute).String()
}
