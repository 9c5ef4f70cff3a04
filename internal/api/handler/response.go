package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/omnicirculus/dealengine/internal/domain"
)

// ──────────────────────────────────────────────────────────────────────────────
// Standard response helpers
// ──────────────────────────────────────────────────────────────────────────────

// respondSuccess writes {"success": true, "data": data} with the given status.
func respondSuccess(c *gin.Context, status int, data interface{}) {
	c.JSON(status, gin.H{
		"success": true,
		"data":    data,
	})
}

// respondError writes {"success": false, "error": msg, "code": code}.
func respondError(c *gin.Context, status int, code, msg string) {
	c.AbortWithStatusJSON(status, gin.H{
		"success": false,
		"error":   msg,
		"code":    code,
	})
}

// respondList writes {"success": true, "data": items, "meta": {"total": n}}.
func respondList(c *gin.Context, items interface{}, total int) {
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    items,
		"meta": gin.H{
			"total": total,
		},
	})
}

// errorCodes maps each domain sentinel to its HTTP status and envelope code.
var errorCodes = []struct {
	err    error
	status int
	code   string
}{
	{domain.ErrDealNotFound, http.StatusNotFound, "ERR_DEAL_NOT_FOUND"},
	{domain.ErrItemNotFound, http.StatusNotFound, "ERR_ITEM_NOT_FOUND"},
	{domain.ErrTokenNotFound, http.StatusNotFound, "ERR_TOKEN_NOT_FOUND"},
	{domain.ErrInvalidTransition, http.StatusConflict, "ERR_INVALID_TRANSITION"},
	{domain.ErrItemUnavailable, http.StatusConflict, "ERR_ITEM_UNAVAILABLE"},
	{domain.ErrSelfDeal, http.StatusConflict, "ERR_SELF_DEAL"},
	{domain.ErrConcurrentUpdate, http.StatusConflict, "ERR_CONCURRENT_UPDATE"},
	{domain.ErrInvalidRole, http.StatusBadRequest, "ERR_INVALID_ROLE"},
	{domain.ErrInvalidAction, http.StatusBadRequest, "ERR_INVALID_ACTION"},
	{domain.ErrMissingContact, http.StatusBadRequest, "ERR_MISSING_CONTACT"},
}

// respondDomainError maps a service error onto the envelope. Unknown errors
// are logged and reported as 500 with the generic message.
func respondDomainError(c *gin.Context, err error, generic string) {
	for _, e := range errorCodes {
		if errors.Is(err, e.err) {
			respondError(c, e.status, e.code, e.err.Error())
			return
		}
	}
	slog.Error("request failed", "path", c.FullPath(), "err", err)
	respondError(c, http.StatusInternalServerError, "ERR_INTERNAL", generic)
}

// ── helpers ──────────────────────────────────────────────────────────────────

// dealIDParam parses :id, writing a 400 and returning false when malformed.
func dealIDParam(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		respondError(c, http.StatusBadRequest, "ERR_INVALID_ID", "invalid deal id")
		return uuid.Nil, false
	}
	return id, true
}
