package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/kestrelops/kestrel/pkg/models"
)

// Principal headers. Authentication itself lives in the fronting proxy;
// the platform trusts what the proxy injected.
const (
	HeaderUserID = "X-Kestrel-User"
	HeaderRole   = "X-Kestrel-Role"
)

const principalKey = "kestrel.principal"

// principalMiddleware extracts the authenticated principal from headers.
// Requests without a valid principal are rejected.
func principalMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(HeaderUserID)
		role := models.Role(c.GetHeader(HeaderRole))
		if id == "" || !role.Valid() {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "missing or invalid principal headers",
			})
			return
		}
		c.Set(principalKey, models.Principal{ID: id, Role: role})
		c.Next()
	}
}

// currentPrincipal reads the principal the middleware stored.
func currentPrincipal(c *gin.Context) models.Principal {
	principal, _ := c.Get(principalKey)
	p, _ := principal.(models.Principal)
	return p
}

// requireRole aborts with 403 unless the principal's role is at least min.
// Returns false when the request was aborted.
func requireRole(c *gin.Context, min models.Role) bool {
	if !currentPrincipal(c).Role.AtLeast(min) {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
			"error": "insufficient role",
		})
		return false
	}
	return true
}
