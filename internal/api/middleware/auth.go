package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

// ContextKey constants for gin.Context values set by middleware.
const (
	CtxContact = "contact"
)

// ──────────────────────────────────────────────────────────────────────────────
// PrincipalMiddleware
// ──────────────────────────────────────────────────────────────────────────────

// PrincipalMiddleware reads an optional Bearer token whose subject is the
// caller's contact. Requests without a header pass through anonymously; a
// header that fails verification is rejected with 401. With an empty secret
// the middleware is a no-op.
func PrincipalMiddleware(secret []byte) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if len(secret) == 0 || header == "" {
			c.Next()
			return
		}
		if !strings.HasPrefix(header, "Bearer ") {
			abortUnauthorized(c, "authorization header must be a Bearer token")
			return
		}

		contact, err := ParseContact(secret, strings.TrimPrefix(header, "Bearer "))
		if err != nil {
			abortUnauthorized(c, "invalid or expired token")
			return
		}
		c.Set(CtxContact, contact)
		c.Next()
	}
}

// ParseContact verifies an HMAC-signed token and returns its subject.
func ParseContact(secret []byte, tokenString string) (string, error) {
	tok, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return secret, nil
	})
	if err != nil {
		return "", err
	}
	sub, err := tok.Claims.GetSubject()
	if err != nil {
		return "", err
	}
	sub = strings.TrimSpace(sub)
	if sub == "" {
		return "", jwt.ErrTokenInvalidSubject
	}
	return sub, nil
}

func abortUnauthorized(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"success": false,
		"error":   msg,
		"code":    "ERR_UNAUTHORIZED",
	})
}

// ──────────────────────────────────────────────────────────────────────────────
// Helper: extract the principal from context (for use in handlers)
// ──────────────────────────────────────────────────────────────────────────────

// GetContact retrieves the authenticated contact from the gin context.
// Returns "" if the caller is anonymous.
func GetContact(c *gin.Context) string {
	v, _ := c.Get(CtxContact)
	s, _ := v.(string)
	return s
}
