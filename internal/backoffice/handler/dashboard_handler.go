package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/omnicirculus/dealengine/internal/domain"
	"github.com/omnicirculus/dealengine/internal/service"
)

// ConnectionCounter reports live WebSocket subscribers. The console runs
// without a hub, in which case the count is omitted.
type ConnectionCounter interface {
	ConnectedCount() int
}

// DashboardHandler serves the /admin/dashboard endpoint.
type DashboardHandler struct {
	dealSvc *service.DealService
	hub     ConnectionCounter
	stall   time.Duration
}

// NewDashboardHandler creates a DashboardHandler. stall is the idle age after
// which an unfinished deal counts as stalled.
func NewDashboardHandler(dealSvc *service.DealService, hub ConnectionCounter, stall time.Duration) *DashboardHandler {
	return &DashboardHandler{dealSvc: dealSvc, hub: hub, stall: stall}
}

// Dashboard godoc
// GET /admin/dashboard
func (h *DashboardHandler) Dashboard(c *gin.Context) {
	ctx := c.Request.Context()
	now := time.Now().UTC()

	// ── Phase breakdown ──────────────────────────────────────────────────────
	counts, err := h.dealSvc.PhaseCounts(ctx)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	var live, blocked, terminal int
	for phase, n := range counts {
		switch {
		case phase.IsTerminal():
			terminal += n
		case phase.IsExternallyBlocked():
			blocked += n
		default:
			live += n
		}
	}

	// ── Stalled deals ────────────────────────────────────────────────────────
	open, err := h.dealSvc.List(ctx, openPhases(), stalledScanLimit)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	stalled := 0
	for _, d := range open {
		if now.Sub(d.UpdatedAt) >= h.stall {
			stalled++
		}
	}

	// ── Settled volume ───────────────────────────────────────────────────────
	summary, err := h.dealSvc.SettlementTotals(ctx, time.Time{})
	if err != nil {
		respondServiceError(c, err)
		return
	}

	data := gin.H{
		"timestamp": now,
		"phases":    counts,
		"totals": gin.H{
			"live":     live,
			"blocked":  blocked,
			"terminal": terminal,
			"stalled":  stalled,
		},
		"settled_count": summary.Count,
		"settled_gross": summary.Gross,
	}
	if h.hub != nil {
		data["ws_connections"] = h.hub.ConnectedCount()
	}
	respondSuccess(c, http.StatusOK, data)
}

// openPhases are all non-terminal phases short of settlement.
func openPhases() []domain.Phase {
	return append(domain.SupersedablePhases(), domain.PhaseApproved)
}
