package handler

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/omnicirculus/dealengine/internal/api/middleware"
	"github.com/omnicirculus/dealengine/internal/service"
)

// DealHandler serves deal lifecycle and read endpoints.
type DealHandler struct {
	dealSvc       *service.DealService
	settlementSvc *service.SettlementService
}

// NewDealHandler creates a DealHandler.
func NewDealHandler(dealSvc *service.DealService, settlementSvc *service.SettlementService) *DealHandler {
	return &DealHandler{dealSvc: dealSvc, settlementSvc: settlementSvc}
}

// Start godoc
// POST /api/deals
// Body: {"item_id":"uuid","buyer_contact":"a@b.com","buyer_location":"Pune"}
func (h *DealHandler) Start(c *gin.Context) {
	var body struct {
		ItemID        string `json:"item_id"        binding:"required"`
		BuyerContact  string `json:"buyer_contact"`
		BuyerLocation string `json:"buyer_location"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		respondError(c, http.StatusBadRequest, "ERR_VALIDATION", err.Error())
		return
	}
	itemID, err := uuid.Parse(body.ItemID)
	if err != nil {
		respondError(c, http.StatusBadRequest, "ERR_INVALID_ITEM_ID", "invalid item_id format")
		return
	}

	buyer := body.BuyerContact
	if principal := middleware.GetContact(c); principal != "" {
		buyer = principal
	}

	deal, err := h.dealSvc.Start(c.Request.Context(), service.StartRequest{
		ItemID:        itemID,
		BuyerContact:  buyer,
		BuyerLocation: body.BuyerLocation,
	})
	if err != nil {
		respondDomainError(c, err, "could not start deal")
		return
	}
	respondSuccess(c, http.StatusCreated, deal)
}

// Advance godoc
// POST /api/deals/:id/advance
func (h *DealHandler) Advance(c *gin.Context) {
	id, ok := dealIDParam(c)
	if !ok {
		return
	}
	deal, err := h.dealSvc.AdvanceTurn(c.Request.Context(), id)
	if err != nil {
		respondDomainError(c, err, "could not advance deal")
		return
	}
	respondSuccess(c, http.StatusOK, deal)
}

// Get godoc
// GET /api/deals/:id
func (h *DealHandler) Get(c *gin.Context) {
	id, ok := dealIDParam(c)
	if !ok {
		return
	}
	deal, err := h.dealSvc.Get(c.Request.Context(), id)
	if err != nil {
		respondDomainError(c, err, "could not fetch deal")
		return
	}
	respondSuccess(c, http.StatusOK, deal)
}

// Replay godoc
// GET /api/deals/:id/replay
func (h *DealHandler) Replay(c *gin.Context) {
	id, ok := dealIDParam(c)
	if !ok {
		return
	}
	events, err := h.dealSvc.Replay(c.Request.Context(), id)
	if err != nil {
		respondDomainError(c, err, "could not build replay")
		return
	}
	respondList(c, events, len(events))
}

// History godoc
// GET /api/deals/history?contact=a@b.com
// An authenticated caller may only read their own history.
func (h *DealHandler) History(c *gin.Context) {
	contact := strings.TrimSpace(c.Query("contact"))
	if principal := middleware.GetContact(c); principal != "" {
		if contact != "" && !strings.EqualFold(contact, principal) {
			respondError(c, http.StatusForbidden, "ERR_FORBIDDEN", "cannot read another buyer's history")
			return
		}
		contact = principal
	}

	deals, err := h.dealSvc.GetHistory(c.Request.Context(), contact)
	if err != nil {
		respondDomainError(c, err, "could not fetch history")
		return
	}
	respondList(c, deals, len(deals))
}

// Settle godoc
// POST /api/deals/:id/settle
func (h *DealHandler) Settle(c *gin.Context) {
	id, ok := dealIDParam(c)
	if !ok {
		return
	}
	deal, err := h.settlementSvc.Settle(c.Request.Context(), id)
	if err != nil {
		respondDomainError(c, err, "could not settle deal")
		return
	}
	respondSuccess(c, http.StatusOK, deal)
}

// Close godoc
// POST /api/deals/:id/close
func (h *DealHandler) Close(c *gin.Context) {
	id, ok := dealIDParam(c)
	if !ok {
		return
	}
	deal, err := h.settlementSvc.Close(c.Request.Context(), id)
	if err != nil {
		respondDomainError(c, err, "could not close deal")
		return
	}
	respondSuccess(c, http.StatusOK, gin.H{"accepted": true, "phase": deal.Phase})
}
