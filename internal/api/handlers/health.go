package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/Conceptual-Machines/magda-bebop/internal/database"
	"github.com/Conceptual-Machines/magda-bebop/internal/index"
)

// HealthHandler reports liveness plus index and database state
type HealthHandler struct {
	store *index.Store
	db    *gorm.DB
}

// NewHealthHandler creates a health handler; db may be nil
func NewHealthHandler(store *index.Store, db *gorm.DB) *HealthHandler {
	return &HealthHandler{store: store, db: db}
}

// HealthCheck returns the health status of the API
func (h *HealthHandler) HealthCheck(c *gin.Context) {
	dbStatus := "disabled"
	if h.db != nil {
		dbStatus = "connected"
		if err := database.Ping(h.db); err != nil {
			dbStatus = "unreachable"
		}
	}

	info := h.store.Info()
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"index": gin.H{
			"records":         info.RecordCount,
			"last_build_time": info.LastBuildTime,
		},
		"database": gin.H{
			"status": dbStatus,
		},
	})
}
