package handler

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/omnicirculus/dealengine/internal/domain"
	"github.com/omnicirculus/dealengine/internal/service"
)

// DealAdminHandler serves /admin/deals endpoints. Operators can inspect any
// deal and push it through the same operations the public API exposes.
type DealAdminHandler struct {
	dealSvc       *service.DealService
	approvalSvc   *service.ApprovalService
	settlementSvc *service.SettlementService
}

// NewDealAdminHandler creates a DealAdminHandler.
func NewDealAdminHandler(
	dealSvc *service.DealService,
	approvalSvc *service.ApprovalService,
	settlementSvc *service.SettlementService,
) *DealAdminHandler {
	return &DealAdminHandler{dealSvc: dealSvc, approvalSvc: approvalSvc, settlementSvc: settlementSvc}
}

// List godoc
// GET /admin/deals?phase=PRICE_NEGOTIATING,TRANSPORT_AGREED&limit=100
func (h *DealAdminHandler) List(c *gin.Context) {
	var phases []domain.Phase
	if raw := c.Query("phase"); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			p := domain.Phase(strings.ToUpper(strings.TrimSpace(part)))
			if !p.IsValid() {
				respondError(c, http.StatusBadRequest, "ERR_INVALID_PHASE", "unknown phase "+part)
				return
			}
			phases = append(phases, p)
		}
	}
	limit := adminLimit(c)

	deals, err := h.dealSvc.List(c.Request.Context(), phases, limit)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	respondList(c, deals, len(deals), limit)
}

// Detail godoc
// GET /admin/deals/:id
func (h *DealAdminHandler) Detail(c *gin.Context) {
	id, ok := idParam(c, "deal")
	if !ok {
		return
	}
	ctx := c.Request.Context()
	d, err := h.dealSvc.Get(ctx, id)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	replay, err := h.dealSvc.Replay(ctx, id)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, gin.H{
		"deal":   d,
		"replay": replay,
	})
}

// Advance godoc
// POST /admin/deals/:id/advance
func (h *DealAdminHandler) Advance(c *gin.Context) {
	id, ok := idParam(c, "deal")
	if !ok {
		return
	}
	d, err := h.dealSvc.AdvanceTurn(c.Request.Context(), id)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, d)
}

// RequestApproval godoc
// POST /admin/deals/:id/approval
// Re-sends confirmation links for a deal parked at TRANSPORT_AGREED.
func (h *DealAdminHandler) RequestApproval(c *gin.Context) {
	id, ok := idParam(c, "deal")
	if !ok {
		return
	}
	d, err := h.approvalSvc.RequestApproval(c.Request.Context(), id)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, d)
}

// Settle godoc
// POST /admin/deals/:id/settle
func (h *DealAdminHandler) Settle(c *gin.Context) {
	id, ok := idParam(c, "deal")
	if !ok {
		return
	}
	d, err := h.settlementSvc.Settle(c.Request.Context(), id)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, d)
}

// Close godoc
// POST /admin/deals/:id/close
func (h *DealAdminHandler) Close(c *gin.Context) {
	id, ok := idParam(c, "deal")
	if !ok {
		return
	}
	d, err := h.settlementSvc.Close(c.Request.Context(), id)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, d)
}
