package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/omnicirculus/dealengine/internal/service"
)

// FinanceHandler serves /admin/finance endpoints over settled deals.
type FinanceHandler struct {
	dealSvc *service.DealService
}

// NewFinanceHandler creates a FinanceHandler.
func NewFinanceHandler(dealSvc *service.DealService) *FinanceHandler {
	return &FinanceHandler{dealSvc: dealSvc}
}

// parseSince reads the optional ?since= RFC 3339 timestamp. A zero time covers
// every settlement.
func parseSince(c *gin.Context) (time.Time, bool) {
	raw := c.Query("since")
	if raw == "" {
		return time.Time{}, true
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		respondError(c, http.StatusBadRequest, "ERR_VALIDATION", "since must be an RFC 3339 timestamp")
		return time.Time{}, false
	}
	return t, true
}

// Report godoc
// GET /admin/finance/report?since=2026-01-01T00:00:00Z
func (h *FinanceHandler) Report(c *gin.Context) {
	since, ok := parseSince(c)
	if !ok {
		return
	}
	totals, err := h.dealSvc.SettlementTotals(c.Request.Context(), since)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	data := gin.H{"summary": totals}
	if !since.IsZero() {
		data["since"] = since
	}
	respondSuccess(c, http.StatusOK, data)
}

// Settlements godoc
// GET /admin/finance/settlements?since=...&limit=100
//
// Newest settlements first. meta.total counts every match, so a total above
// the page length means the page was truncated.
func (h *FinanceHandler) Settlements(c *gin.Context) {
	since, ok := parseSince(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	limit := adminLimit(c)

	deals, err := h.dealSvc.ListSettled(ctx, since, limit)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	totals, err := h.dealSvc.SettlementTotals(ctx, since)
	if err != nil {
		respondServiceError(c, err)
		return
	}

	out := make([]gin.H, 0, len(deals))
	for _, d := range deals {
		out = append(out, gin.H{
			"deal_id":       d.ID,
			"phase":         d.Phase,
			"buyer_contact": d.BuyerContact,
			"seller":        d.SellerContact,
			"gate_pass_id":  d.Settlement.GatePassID,
			"driver":        d.Settlement.Driver.Name,
			"seller_payout": d.Settlement.SellerPayout,
			"carrier_fee":   d.Settlement.CarrierFee,
			"total":         d.Settlement.Total(),
			"settled_at":    d.Settlement.SettledAt,
		})
	}
	respondList(c, out, totals.Count, limit)
}
