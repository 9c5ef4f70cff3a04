package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/omnicirculus/dealengine/internal/domain"
	"github.com/omnicirculus/dealengine/internal/service"
)

const stalledScanLimit = 1000

// RiskHandler serves /admin/risk endpoints: deals that stopped moving and
// negotiations close to their turn limit.
type RiskHandler struct {
	dealSvc *service.DealService
	stall   time.Duration
}

// NewRiskHandler creates a RiskHandler.
func NewRiskHandler(dealSvc *service.DealService, stall time.Duration) *RiskHandler {
	return &RiskHandler{dealSvc: dealSvc, stall: stall}
}

type stalledDeal struct {
	ID           string       `json:"id"`
	Phase        domain.Phase `json:"phase"`
	BuyerContact string       `json:"buyer_contact"`
	TurnCount    int          `json:"turn_count"`
	IdleSeconds  int64        `json:"idle_seconds"`
	UpdatedAt    time.Time    `json:"updated_at"`
}

// Stalled godoc
// GET /admin/risk/stalled?older_than=10m
func (h *RiskHandler) Stalled(c *gin.Context) {
	threshold := h.stall
	if raw := c.Query("older_than"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			respondError(c, http.StatusBadRequest, "ERR_VALIDATION", "older_than must be a positive duration")
			return
		}
		threshold = d
	}

	deals, err := h.dealSvc.List(c.Request.Context(), openPhases(), stalledScanLimit)
	if err != nil {
		respondServiceError(c, err)
		return
	}

	now := time.Now().UTC()
	out := []stalledDeal{}
	for _, d := range deals {
		idle := now.Sub(d.UpdatedAt)
		if idle < threshold {
			// ListByPhase is ordered by updated_at, so the rest are fresher.
			break
		}
		out = append(out, stalledDeal{
			ID:           d.ID.String(),
			Phase:        d.Phase,
			BuyerContact: d.BuyerContact,
			TurnCount:    d.TurnCount,
			IdleSeconds:  int64(idle.Seconds()),
			UpdatedAt:    d.UpdatedAt,
		})
	}
	respondList(c, out, len(out), stalledScanLimit)
}

// TurnPressure godoc
// GET /admin/risk/turns?ratio=0.75
// Lists negotiating deals that have used at least ratio of their turn budget.
func (h *RiskHandler) TurnPressure(c *gin.Context) {
	var q struct {
		Ratio float64 `form:"ratio"`
	}
	if err := c.ShouldBindQuery(&q); err != nil || q.Ratio < 0 || q.Ratio > 1 {
		respondError(c, http.StatusBadRequest, "ERR_VALIDATION", "ratio must be between 0 and 1")
		return
	}
	if q.Ratio == 0 {
		q.Ratio = 0.75
	}

	deals, err := h.dealSvc.ListLive(c.Request.Context(), stalledScanLimit)
	if err != nil {
		respondServiceError(c, err)
		return
	}

	out := []gin.H{}
	for _, d := range deals {
		if d.MaxTurns <= 0 {
			continue
		}
		used := float64(d.TurnCount) / float64(d.MaxTurns)
		if used < q.Ratio {
			continue
		}
		out = append(out, gin.H{
			"id":         d.ID,
			"phase":      d.Phase,
			"turn_count": d.TurnCount,
			"max_turns":  d.MaxTurns,
			"used":       used,
		})
	}
	respondList(c, out, len(out), stalledScanLimit)
}
