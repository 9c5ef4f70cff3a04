package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/omnicirculus/dealengine/internal/domain"
	"github.com/omnicirculus/dealengine/internal/service"
)

// ApprovalHandler serves the two-party confirmation handshake.
type ApprovalHandler struct {
	approvalSvc *service.ApprovalService
}

// NewApprovalHandler creates an ApprovalHandler.
func NewApprovalHandler(approvalSvc *service.ApprovalService) *ApprovalHandler {
	return &ApprovalHandler{approvalSvc: approvalSvc}
}

// Request godoc
// POST /api/deals/:id/approval
func (h *ApprovalHandler) Request(c *gin.Context) {
	id, ok := dealIDParam(c)
	if !ok {
		return
	}
	deal, err := h.approvalSvc.RequestApproval(c.Request.Context(), id)
	if err != nil {
		respondDomainError(c, err, "could not request approval")
		return
	}
	respondSuccess(c, http.StatusOK, gin.H{"accepted": true, "phase": deal.Phase})
}

// Resolve godoc
// POST /api/approvals/resolve
// Body: {"token":"hex","role":"buyer","action":"approve"}
func (h *ApprovalHandler) Resolve(c *gin.Context) {
	var body struct {
		Token  string `json:"token"  binding:"required"`
		Role   string `json:"role"   binding:"required"`
		Action string `json:"action"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		respondError(c, http.StatusBadRequest, "ERR_VALIDATION", err.Error())
		return
	}

	h.resolve(c, body.Token, body.Role, body.Action)
}

// ConfirmLink godoc
// GET /confirm-deal?token=hex&role=buyer[&action=reject]
// Target of the links sent by RequestApproval.
func (h *ApprovalHandler) ConfirmLink(c *gin.Context) {
	token := c.Query("token")
	if token == "" {
		respondError(c, http.StatusBadRequest, "ERR_VALIDATION", "token is required")
		return
	}
	h.resolve(c, token, c.Query("role"), c.Query("action"))
}

func (h *ApprovalHandler) resolve(c *gin.Context, token, rawRole, rawAction string) {
	role, err := domain.ParseRole(rawRole)
	if err != nil {
		respondDomainError(c, err, "invalid role")
		return
	}
	action, err := domain.ParseApprovalAction(rawAction)
	if err != nil {
		respondDomainError(c, err, "invalid action")
		return
	}

	res, err := h.approvalSvc.Resolve(c.Request.Context(), token, role, action)
	if err != nil {
		respondDomainError(c, err, "could not resolve approval")
		return
	}
	respondSuccess(c, http.StatusOK, res)
}
