package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/cajaflow/cajaflow/pkg/auth"
)

const ContextTenantID = "tenant_id"

// Auth validates the staff API bearer token and injects the tenant id into
// the request context. Every /api/v1 route is tenant-scoped through this.
func Auth(tokens *auth.APITokenManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		authorization := c.GetHeader("Authorization")
		if authorization == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing authorization"})
			return
		}
		parts := strings.SplitN(authorization, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid authorization"})
			return
		}
		claims, err := tokens.Validate(strings.TrimSpace(parts[1]))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		tenantID, err := uuid.Parse(claims.TenantID)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		c.Set(ContextTenantID, tenantID)
		c.Next()
	}
}

// TenantID reads the tenant injected by Auth.
func TenantID(c *gin.Context) (uuid.UUID, bool) {
	value, ok := c.Get(ContextTenantID)
	if !ok {
		return uuid.Nil, false
	}
	tenantID, ok := value.(uuid.UUID)
	return tenantID, ok
}
