// Package backoffice serves the operator console: a separate admin API for
// inspecting deals, unsticking them and maintaining the catalog.
package backoffice

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/omnicirculus/dealengine/internal/backoffice/handler"
	"github.com/omnicirculus/dealengine/internal/config"
	"github.com/omnicirculus/dealengine/internal/service"
)

// Operator roles carried in the console token's "role" claim.
const (
	RoleAdmin    = "admin"
	RoleOps      = "ops"
	RoleReadonly = "readonly"
)

// DefaultStallAfter is the idle age after which an open deal is reported stalled.
const DefaultStallAfter = 10 * time.Minute

// BackofficeDeps bundles every dependency needed for the admin router.
type BackofficeDeps struct {
	DealSvc       *service.DealService
	ApprovalSvc   *service.ApprovalService
	SettlementSvc *service.SettlementService
	Items         handler.ItemStore
	Hub           handler.ConnectionCounter // nil when the console runs standalone
	StallAfter    time.Duration
	Cfg           *config.Config
}

// SetupBackofficeRouter creates the admin Gin engine.
func SetupBackofficeRouter(deps BackofficeDeps) *gin.Engine {
	if deps.Cfg.IsProd() {
		gin.SetMode(gin.ReleaseMode)
	}
	if deps.StallAfter <= 0 {
		deps.StallAfter = DefaultStallAfter
	}

	r := gin.New()
	r.Use(gin.Logger())
	r.Use(gin.Recovery())
	r.Use(ipWhitelistMiddleware(deps.Cfg.Server.BackofficeAllowedIPs))

	dashH := handler.NewDashboardHandler(deps.DealSvc, deps.Hub, deps.StallAfter)
	dealH := handler.NewDealAdminHandler(deps.DealSvc, deps.ApprovalSvc, deps.SettlementSvc)
	itemH := handler.NewCatalogAdminHandler(deps.Items)
	riskH := handler.NewRiskHandler(deps.DealSvc, deps.StallAfter)
	financeH := handler.NewFinanceHandler(deps.DealSvc)

	jwtMW := operatorJWTMiddleware([]byte(deps.Cfg.JWT.AccessSecret))
	writeMW := requireRole(RoleAdmin, RoleOps)

	admin := r.Group("/admin")
	admin.Use(jwtMW)
	{
		admin.GET("/dashboard", dashH.Dashboard)

		// Deals
		d := admin.Group("/deals")
		{
			d.GET("", dealH.List)
			d.GET("/:id", dealH.Detail)
			d.POST("/:id/advance", writeMW, dealH.Advance)
			d.POST("/:id/approval", writeMW, dealH.RequestApproval)
			d.POST("/:id/settle", writeMW, dealH.Settle)
			d.POST("/:id/close", writeMW, dealH.Close)
		}

		// Catalog
		items := admin.Group("/items")
		{
			items.POST("", writeMW, itemH.Create)
			items.GET("/:id", itemH.Detail)
			items.POST("/:id/availability", writeMW, itemH.SetAvailability)
		}

		// Risk
		risk := admin.Group("/risk")
		{
			risk.GET("/stalled", riskH.Stalled)
			risk.GET("/turns", riskH.TurnPressure)
		}

		// Finance
		fin := admin.Group("/finance")
		{
			fin.GET("/report", financeH.Report)
			fin.GET("/settlements", financeH.Settlements)
		}
	}

	return r
}

// ── IP whitelist middleware ───────────────────────────────────────────────────

// ipWhitelistMiddleware blocks requests from IPs not in the allowlist.
// allowedIPs is a comma-separated string; empty means allow all.
func ipWhitelistMiddleware(allowedIPs string) gin.HandlerFunc {
	if allowedIPs == "" {
		return func(c *gin.Context) { c.Next() } // dev mode: no restriction
	}

	allowed := make(map[string]bool)
	for _, ip := range strings.Split(allowedIPs, ",") {
		ip = strings.TrimSpace(ip)
		if ip != "" {
			allowed[ip] = true
		}
	}

	return func(c *gin.Context) {
		if !allowed[c.ClientIP()] {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"success": false,
				"error":   "access denied: your IP is not whitelisted",
				"code":    "ERR_FORBIDDEN",
			})
			return
		}
		c.Next()
	}
}

// ── Operator JWT middleware ───────────────────────────────────────────────────

// OperatorClaims is the console token payload.
type OperatorClaims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

const ctxRole = "operator_role"

// operatorJWTMiddleware validates an HMAC-signed token and requires one of the
// operator roles. An empty secret locks the console.
func operatorJWTMiddleware(secret []byte) gin.HandlerFunc {
	roles := map[string]bool{RoleAdmin: true, RoleOps: true, RoleReadonly: true}

	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if len(secret) == 0 || !strings.HasPrefix(header, "Bearer ") {
			abort(c, http.StatusUnauthorized, "ERR_UNAUTHORIZED", "unauthorized")
			return
		}

		claims := &OperatorClaims{}
		_, err := jwt.ParseWithClaims(strings.TrimPrefix(header, "Bearer "), claims,
			func(t *jwt.Token) (interface{}, error) {
				if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, jwt.ErrSignatureInvalid
				}
				return secret, nil
			})
		if err != nil {
			abort(c, http.StatusUnauthorized, "ERR_UNAUTHORIZED", "invalid token")
			return
		}
		if !roles[claims.Role] {
			abort(c, http.StatusForbidden, "ERR_FORBIDDEN", "insufficient permissions")
			return
		}

		c.Set("operator", claims.Subject)
		c.Set(ctxRole, claims.Role)
		c.Next()
	}
}

// requireRole admits only the listed roles; it runs after operatorJWTMiddleware.
func requireRole(allowed ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		role := c.GetString(ctxRole)
		for _, a := range allowed {
			if role == a {
				c.Next()
				return
			}
		}
		abort(c, http.StatusForbidden, "ERR_FORBIDDEN", "insufficient permissions")
	}
}

func abort(c *gin.Context, status int, code, msg string) {
	c.AbortWithStatusJSON(status, gin.H{"success": false, "error": msg, "code": code})
}
