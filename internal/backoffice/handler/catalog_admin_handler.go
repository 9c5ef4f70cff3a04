package handler

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/omnicirculus/dealengine/internal/domain"
)

// ItemStore is the slice of the catalog the console writes to. Both
// repository.CatalogRepository and repository.MemoryStore satisfy it.
type ItemStore interface {
	CreateItem(ctx context.Context, it *domain.CatalogItem) error
	GetItem(ctx context.Context, id uuid.UUID) (*domain.CatalogItem, error)
	SetAvailable(ctx context.Context, id uuid.UUID, available bool) error
}

// CatalogAdminHandler serves /admin/items endpoints.
type CatalogAdminHandler struct {
	items ItemStore
}

// NewCatalogAdminHandler creates a CatalogAdminHandler.
func NewCatalogAdminHandler(items ItemStore) *CatalogAdminHandler {
	return &CatalogAdminHandler{items: items}
}

// Create godoc
// POST /admin/items
// Body: {"title": "...", "price": "1000", "owner_contact": "...", "location": "..."}
func (h *CatalogAdminHandler) Create(c *gin.Context) {
	var body struct {
		Title        string          `json:"title"         binding:"required"`
		Price        decimal.Decimal `json:"price"`
		OwnerContact string          `json:"owner_contact" binding:"required"`
		Location     string          `json:"location"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		respondError(c, http.StatusBadRequest, "ERR_VALIDATION", err.Error())
		return
	}
	if !body.Price.IsPositive() {
		respondError(c, http.StatusBadRequest, "ERR_INVALID_PRICE", "price must be positive")
		return
	}

	item := &domain.CatalogItem{
		ID:           uuid.New(),
		Title:        strings.TrimSpace(body.Title),
		Price:        body.Price.Round(2),
		OwnerContact: strings.TrimSpace(body.OwnerContact),
		Location:     strings.TrimSpace(body.Location),
		Available:    true,
		CreatedAt:    time.Now().UTC(),
	}
	if err := h.items.CreateItem(c.Request.Context(), item); err != nil {
		respondServiceError(c, err)
		return
	}
	respondSuccess(c, http.StatusCreated, item)
}

// Detail godoc
// GET /admin/items/:id
func (h *CatalogAdminHandler) Detail(c *gin.Context) {
	id, ok := idParam(c, "item")
	if !ok {
		return
	}
	item, err := h.items.GetItem(c.Request.Context(), id)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, item)
}

// SetAvailability godoc
// POST /admin/items/:id/availability
// Body: {"available": false}
func (h *CatalogAdminHandler) SetAvailability(c *gin.Context) {
	id, ok := idParam(c, "item")
	if !ok {
		return
	}
	var body struct {
		Available *bool `json:"available" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		respondError(c, http.StatusBadRequest, "ERR_VALIDATION", err.Error())
		return
	}
	ctx := c.Request.Context()
	if err := h.items.SetAvailable(ctx, id, *body.Available); err != nil {
		respondServiceError(c, err)
		return
	}
	item, err := h.items.GetItem(ctx, id)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, item)
}
