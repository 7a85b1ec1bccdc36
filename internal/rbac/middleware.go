package rbac

import (
	"net/http"

	"creator-payments/internal/auth"

	"github.com/gin-gonic/gin"
)

// Allowed reports whether role may pass a gate listing allowed.
// super_admin always passes; the system role passes only when listed.
func Allowed(role string, allowed ...string) bool {
	if role == "" {
		return false
	}
	if IsSuperAdmin(role) {
		return true
	}
	for _, a := range allowed {
		if a == role {
			return true
		}
	}
	return false
}

// RequireUser aborts with 401 unless the request carries a wallet owner.
func RequireUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := auth.FromContext(c.Request.Context())
		if !ok || id.UserID == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "user_id required"})
			return
		}
		c.Next()
	}
}

// RequireAnyRole gates a route group by role.
func RequireAnyRole(allowed ...string) gin.HandlerFunc {
	gate := append([]string(nil), allowed...)

	return func(c *gin.Context) {
		id, ok := auth.FromContext(c.Request.Context())
		if !ok || id.Role == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "role required"})
			return
		}
		if !Allowed(id.Role, gate...) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
			return
		}
		c.Next()
	}
}
