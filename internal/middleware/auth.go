// Package middleware holds the gin middleware of the ops API.
package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/gotrs-io/gotrs-ingest/internal/auth"
)

// ClaimsKey is the gin context key of the validated token claims.
const ClaimsKey = "auth_claims"

type AuthMiddleware struct {
	jwtManager *auth.JWTManager
}

// NewAuthMiddleware validates bearer tokens with jwtManager. A nil manager
// disables authentication.
func NewAuthMiddleware(jwtManager *auth.JWTManager) *AuthMiddleware {
	return &AuthMiddleware{jwtManager: jwtManager}
}

func (m *AuthMiddleware) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if m.jwtManager == nil {
			c.Next()
			return
		}

		token := extractToken(c)
		if token == "" {
			unauthorized(c, "Missing authorization token")
			return
		}

		claims, err := m.jwtManager.ValidateToken(token)
		if err != nil {
			unauthorized(c, "Invalid or expired token")
			return
		}

		c.Set(ClaimsKey, claims)
		c.Next()
	}
}

// ClaimsFrom returns the caller's claims, or nil when authentication is off.
func ClaimsFrom(c *gin.Context) *auth.Claims {
	v, ok := c.Get(ClaimsKey)
	if !ok {
		return nil
	}
	claims, _ := v.(*auth.Claims)
	return claims
}

// CanAccessTenant reports whether the request may act on tenantID.
func CanAccessTenant(c *gin.Context, tenantID string) bool {
	if _, ok := c.Get(ClaimsKey); !ok {
		return true
	}
	return ClaimsFrom(c).CanAccessTenant(tenantID)
}

// RequireOperator rejects tenant-scoped tokens.
func RequireOperator() gin.HandlerFunc {
	return func(c *gin.Context) {
		if claims := ClaimsFrom(c); claims != nil && claims.TenantID != "" {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"success": false, "error": "operator token required"})
			return
		}
		c.Next()
	}
}

func extractToken(c *gin.Context) string {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		return ""
	}
	// Bearer token format: "Bearer <token>"
	parts := strings.Fields(authHeader)
	if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
		return parts[1]
	}
	return ""
}

func unauthorized(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"success": false, "error": message})
}
