package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/Conceptual-Machines/magda-bebop/internal/builder"
	"github.com/Conceptual-Machines/magda-bebop/internal/models"
	"github.com/Conceptual-Machines/magda-bebop/internal/solo"
)

// BuildHistory lists recent builds; nil when no database is configured
type BuildHistory interface {
	RecentBuilds(ctx context.Context, limit int) ([]models.BuildRun, error)
}

// DatabaseHandler exposes build, info and similarity query
type DatabaseHandler struct {
	builder   *builder.Service
	sourceDir string
	history   BuildHistory
}

func NewDatabaseHandler(b *builder.Service, sourceDir string, history BuildHistory) *DatabaseHandler {
	return &DatabaseHandler{builder: b, sourceDir: sourceDir, history: history}
}

// BuildRequest optionally points a build at another directory
type BuildRequest struct {
	Directory string `json:"directory"`
}

// QueryRequest is a chord spelled as MIDI pitches
type QueryRequest struct {
	Pitches []int `json:"pitches" binding:"required"`
	K       int   `json:"k"`
}

// QueryResponse wraps ranked fragments
type QueryResponse struct {
	Results []models.SimilarMelody `json:"results"`
}

// Build rebuilds the melody database and publishes it
func (h *DatabaseHandler) Build(c *gin.Context) {
	var req BuildRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "Invalid request", err)
			return
		}
	}
	dir := req.Directory
	if dir == "" {
		dir = h.sourceDir
	}

	report, err := h.builder.BuildDatabase(c.Request.Context(), dir)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

// Info describes the published index
func (h *DatabaseHandler) Info(c *gin.Context) {
	c.JSON(http.StatusOK, h.builder.Info())
}

// Query returns the fragments closest to a chord
func (h *DatabaseHandler) Query(c *gin.Context) {
	var req QueryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request", err)
		return
	}
	if req.K == 0 {
		req.K = solo.DefaultK
	}

	results, err := h.builder.QuerySimilar(c.Request.Context(), req.Pitches, req.K)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, QueryResponse{Results: results})
}

// Clear publishes an empty index
func (h *DatabaseHandler) Clear(c *gin.Context) {
	h.builder.Clear()
	c.JSON(http.StatusOK, h.builder.Info())
}

// Builds lists recent builds from history
func (h *DatabaseHandler) Builds(c *gin.Context) {
	if h.history == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Build history requires DATABASE_URL"})
		return
	}
	limit, _ := strconv.Atoi(c.Query("limit"))
	runs, err := h.history.RecentBuilds(c.Request.Context(), limit)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"builds": runs})
}
