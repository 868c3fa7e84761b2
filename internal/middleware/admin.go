package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Conceptual-Machines/magda-bebop/internal/models"
)

// RoleAdmin may rebuild and clear the melody database
const RoleAdmin = models.RoleAdmin

// AdminRequired ensures the caller has the admin role
func AdminRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		role, exists := GetCurrentRole(c)
		if !exists || role == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Authentication required"})
			c.Abort()
			return
		}

		if !models.CanManageDatabase(role) {
			c.JSON(http.StatusForbidden, gin.H{"error": "Admin access required"})
			c.Abort()
			return
		}

		c.Next()
	}
}
