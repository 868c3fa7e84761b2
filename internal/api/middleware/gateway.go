package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Conceptual-Machines/magda-bebop/internal/models"
)

// GatewayAuth trusts caller info from gateway headers (X-User-ID, X-User-Role).
// Use it only when the API sits behind a gateway that validates callers,
// with network isolation in place.
func GatewayAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		userIDStr := c.GetHeader("X-User-ID")
		if userIDStr == "" {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error":   "Authentication required",
				"message": "Missing X-User-ID header from gateway",
			})
			c.Abort()
			return
		}

		c.Set("user_id_str", userIDStr)
		role := c.GetHeader("X-User-Role")
		if role == "" {
			role = models.RolePerformer
		}
		c.Set("user_role", role)

		c.Next()
	}
}

// GetUserIDFromGateway retrieves the caller id set by an auth middleware
func GetUserIDFromGateway(c *gin.Context) (string, bool) {
	userIDStr, exists := c.Get("user_id_str")
	if !exists {
		return "", false
	}
	id, ok := userIDStr.(string)
	return id, ok
}
