package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/omnicirculus/dealengine/internal/service"
)

// GateHandler serves warehouse gate-pass verification.
type GateHandler struct {
	dealSvc *service.DealService
}

// NewGateHandler creates a GateHandler.
func NewGateHandler(dealSvc *service.DealService) *GateHandler {
	return &GateHandler{dealSvc: dealSvc}
}

// Verify godoc
// POST /api/gate/verify
// Body: {"gate_pass_id":"GP-..."}
// An unknown or unpaid pass is a normal answer with valid=false, not an error.
func (h *GateHandler) Verify(c *gin.Context) {
	var body struct {
		GatePassID string `json:"gate_pass_id"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		respondError(c, http.StatusBadRequest, "ERR_VALIDATION", err.Error())
		return
	}
	check, err := h.dealSvc.VerifyGatePass(c.Request.Context(), body.GatePassID)
	if err != nil {
		respondDomainError(c, err, "could not verify gate pass")
		return
	}
	respondSuccess(c, http.StatusOK, check)
}
