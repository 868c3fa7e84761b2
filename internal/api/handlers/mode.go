package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Conceptual-Machines/magda-bebop/internal/solo"
)

// ModeHandler toggles retrieval and preference learning for all sessions
type ModeHandler struct {
	manager *solo.Manager
}

func NewModeHandler(manager *solo.Manager) *ModeHandler {
	return &ModeHandler{manager: manager}
}

// ModeRequest switches retrieval on or off
type ModeRequest struct {
	RAG *bool `json:"rag" binding:"required"`
}

// PreferencesRequest changes how feedback is learned
type PreferencesRequest struct {
	Learning     *bool    `json:"learning"`
	LearningRate *float64 `json:"learning_rate"`
}

// PreferencesResponse describes the shared preference table
type PreferencesResponse struct {
	Learning     bool               `json:"learning"`
	LearningRate float64            `json:"learning_rate"`
	Scores       map[string]float64 `json:"scores"`
}

// GetMode reports whether retrieval is enabled
func (h *ModeHandler) GetMode(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"rag": h.manager.RAGEnabled()})
}

// SetMode switches retrieval for current and future sessions
func (h *ModeHandler) SetMode(c *gin.Context) {
	var req ModeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request", err)
		return
	}
	h.manager.SetRAG(*req.RAG)
	c.JSON(http.StatusOK, gin.H{"rag": h.manager.RAGEnabled()})
}

// GetPreferences returns learned scores and learning settings
func (h *ModeHandler) GetPreferences(c *gin.Context) {
	c.JSON(http.StatusOK, h.preferences())
}

// UpdatePreferences toggles learning or changes the learning rate
func (h *ModeHandler) UpdatePreferences(c *gin.Context) {
	var req PreferencesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request", err)
		return
	}
	prefs := h.manager.Preferences()
	if req.LearningRate != nil {
		if err := prefs.SetLearningRate(*req.LearningRate); err != nil {
			badRequest(c, "Invalid learning rate", err)
			return
		}
	}
	if req.Learning != nil {
		prefs.SetLearning(*req.Learning)
	}
	c.JSON(http.StatusOK, h.preferences())
}

// ResetPreferences forgets every learned score
func (h *ModeHandler) ResetPreferences(c *gin.Context) {
	h.manager.Preferences().Reset()
	c.JSON(http.StatusOK, h.preferences())
}

func (h *ModeHandler) preferences() PreferencesResponse {
	prefs := h.manager.Preferences()
	return PreferencesResponse{
		Learning:     prefs.Learning(),
		LearningRate: prefs.LearningRate(),
		Scores:       prefs.Scores(),
	}
}
