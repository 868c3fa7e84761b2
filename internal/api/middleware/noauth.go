package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/Conceptual-Machines/magda-bebop/internal/models"
)

// NoAuth is a pass-through middleware for AUTH_MODE=none. The local
// performer owns the whole instance, so it is treated as admin.
func NoAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set("user_id_str", "local")
		c.Set("user_role", models.RoleAdmin)
		c.Next()
	}
}
