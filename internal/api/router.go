package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/omnicirculus/dealengine/internal/api/handler"
	"github.com/omnicirculus/dealengine/internal/api/middleware"
	"github.com/omnicirculus/dealengine/internal/config"
	"github.com/omnicirculus/dealengine/internal/service"
	"github.com/omnicirculus/dealengine/internal/ws"
)

// RouterDeps bundles every dependency needed to build the router.
// Populated once in main() and passed to SetupRouter.
type RouterDeps struct {
	DealSvc       *service.DealService
	ApprovalSvc   *service.ApprovalService
	SettlementSvc *service.SettlementService
	Hub           *ws.Hub
	Limiter       *middleware.RateLimiter // nil disables rate limiting
	Cfg           *config.Config
}

// SetupRouter creates and configures the main Gin engine with all routes,
// middleware, CORS, and rate limiting rules.
func SetupRouter(deps RouterDeps) *gin.Engine {
	if deps.Cfg.IsProd() {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Logger())
	r.Use(gin.Recovery())

	// ── CORS ─────────────────────────────────────────────────────────────────
	r.Use(corsMiddleware(deps.Cfg))

	// ── Health check ─────────────────────────────────────────────────────────
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// ── Handlers ─────────────────────────────────────────────────────────────
	dealH := handler.NewDealHandler(deps.DealSvc, deps.SettlementSvc)
	approvalH := handler.NewApprovalHandler(deps.ApprovalSvc)
	gateH := handler.NewGateHandler(deps.DealSvc)

	principalMW := middleware.PrincipalMiddleware([]byte(deps.Cfg.JWT.AccessSecret))

	api := r.Group("/api")
	if deps.Limiter != nil {
		api.Use(deps.Limiter.Middleware())
	}
	api.Use(principalMW)
	{
		// ── Deals ────────────────────────────────────────────────────────────
		deals := api.Group("/deals")
		{
			deals.POST("", dealH.Start)
			deals.GET("/history", dealH.History)
			deals.GET("/:id", dealH.Get)
			deals.GET("/:id/replay", dealH.Replay)
			deals.POST("/:id/advance", dealH.Advance)
			deals.POST("/:id/approval", approvalH.Request)
			deals.POST("/:id/settle", dealH.Settle)
			deals.POST("/:id/close", dealH.Close)
		}

		// ── Approvals ────────────────────────────────────────────────────────
		api.POST("/approvals/resolve", approvalH.Resolve)

		// ── Gate ─────────────────────────────────────────────────────────────
		api.POST("/gate/verify", gateH.Verify)
	}

	// ── Confirmation links (opened from mail clients) ────────────────────────
	r.GET("/confirm-deal", approvalH.ConfirmLink)

	// ── WebSocket ─────────────────────────────────────────────────────────────
	if deps.Hub != nil {
		r.GET("/ws", func(c *gin.Context) {
			deps.Hub.ServeWs(c.Writer, c.Request)
		})
	}

	return r
}

// ── CORS helper ───────────────────────────────────────────────────────────────

// corsMiddleware returns a gin middleware that sets appropriate CORS headers.
// In development all origins are allowed; in production only configured origins.
func corsMiddleware(cfg *config.Config) gin.HandlerFunc {
	allowed := make(map[string]bool, len(cfg.Server.AllowedOrigins))
	for _, o := range cfg.Server.AllowedOrigins {
		allowed[o] = true
	}
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")

		if !cfg.IsProd() {
			// Development: allow any origin
			c.Header("Access-Control-Allow-Origin", "*")
		} else if origin != "" && allowed[origin] {
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Vary", "Origin")
		}

		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Authorization, Content-Type, X-Request-ID")
		c.Header("Access-Control-Max-Age", "86400")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
