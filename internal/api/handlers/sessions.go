package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"sync"

	"github.com/gin-gonic/gin"

	"github.com/Conceptual-Machines/magda-bebop/internal/logger"
	"github.com/Conceptual-Machines/magda-bebop/internal/midiio"
	"github.com/Conceptual-Machines/magda-bebop/internal/models"
	"github.com/Conceptual-Machines/magda-bebop/internal/solo"
	"github.com/Conceptual-Machines/magda-bebop/internal/theory"
)

const midiContentType = "audio/midi"

// SessionHandler drives solo sessions over HTTP. Each session writes into
// an in-memory buffer that clients read back as notes or a MIDI file.
type SessionHandler struct {
	manager *solo.Manager
	base    solo.Config

	mu    sync.RWMutex
	sinks map[string]*midiio.BufferSink
}

func NewSessionHandler(manager *solo.Manager, base solo.Config) *SessionHandler {
	return &SessionHandler{
		manager: manager,
		base:    base,
		sinks:   make(map[string]*midiio.BufferSink),
	}
}

// CreateSessionRequest overrides generator settings for one session. The
// range may be given as MIDI numbers or note names ("C3", "Bb5"); names win.
type CreateSessionRequest struct {
	Tempo     float64 `json:"tempo"`
	Rhythm    string  `json:"rhythm"`
	LowPitch  int     `json:"low_pitch"`
	HighPitch int     `json:"high_pitch"`
	LowNote   string  `json:"low_note"`
	HighNote  string  `json:"high_note"`
	Seed      int64   `json:"seed"`
}

// TickRequest advances the session clock
type TickRequest struct {
	Beat float64 `json:"beat"`
}

// TickResponse lists the notes started by one tick
type TickResponse struct {
	Status solo.Status        `json:"status"`
	Notes  []models.NoteEvent `json:"notes"`
}

// ChordResponse reports the session after a chord change
type ChordResponse struct {
	Status   solo.Status `json:"status"`
	TimedOut bool        `json:"timed_out,omitempty"`
}

// RateRequest rates the current melody from 1 to 5
type RateRequest struct {
	Rating float64 `json:"rating" binding:"required"`
}

// TempoRequest changes the session tempo
type TempoRequest struct {
	BPM float64 `json:"bpm" binding:"required"`
}

// Create starts a session
func (h *SessionHandler) Create(c *gin.Context) {
	var req CreateSessionRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "Invalid request", err)
			return
		}
	}

	cfg := h.base
	if req.Tempo > 0 {
		cfg.Tempo = req.Tempo
	}
	if req.Rhythm != "" {
		cfg.Rhythm = req.Rhythm
	}
	if req.LowPitch > 0 || req.HighPitch > 0 {
		cfg.LowPitch, cfg.HighPitch = req.LowPitch, req.HighPitch
	}
	for _, bound := range []struct {
		name string
		dst  *int
	}{{req.LowNote, &cfg.LowPitch}, {req.HighNote, &cfg.HighPitch}} {
		if bound.name == "" {
			continue
		}
		pitch, err := theory.NoteNameToMIDI(bound.name)
		if err != nil {
			badRequest(c, "Invalid note name", err)
			return
		}
		*bound.dst = pitch
	}
	if req.Seed != 0 {
		cfg.Seed = req.Seed
	}
	if err := cfg.Validate(); err != nil {
		badRequest(c, "Invalid session settings", err)
		return
	}

	sink := midiio.NewBufferSink()
	s, err := h.manager.Create(sink, &cfg)
	if err != nil {
		badRequest(c, "Invalid session settings", err)
		return
	}

	h.mu.Lock()
	h.sinks[s.ID()] = sink
	h.mu.Unlock()

	c.JSON(http.StatusCreated, s.Status())
}

// List returns every live session
func (h *SessionHandler) List(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"sessions": h.manager.List()})
}

// Get returns one session's status
func (h *SessionHandler) Get(c *gin.Context) {
	s, err := h.manager.Get(c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, s.Status())
}

// Delete stops a session, silencing its output
func (h *SessionHandler) Delete(c *gin.Context) {
	id := c.Param("id")
	if err := h.manager.Stop(id); err != nil {
		respondError(c, err)
		return
	}
	h.mu.Lock()
	delete(h.sinks, id)
	h.mu.Unlock()
	c.Status(http.StatusNoContent)
}

// Chord delivers a chord change. A retrieval that misses its budget is not
// an error for the caller: the session is already playing a fallback line.
func (h *SessionHandler) Chord(c *gin.Context) {
	s, err := h.manager.Get(c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	var ev solo.ChordEvent
	if err := c.ShouldBindJSON(&ev); err != nil {
		badRequest(c, "Invalid chord event", err)
		return
	}

	err = s.OnChord(c.Request.Context(), ev)
	var timeout *solo.QueryTimeoutError
	switch {
	case errors.As(err, &timeout):
		logger.Warn("Retrieval timed out, playing fallback", logger.WithContext(c))
		c.JSON(http.StatusOK, ChordResponse{Status: s.Status(), TimedOut: true})
	case err != nil:
		respondError(c, err)
	default:
		c.JSON(http.StatusOK, ChordResponse{Status: s.Status()})
	}
}

// Tick advances the clock and returns the notes it started
func (h *SessionHandler) Tick(c *gin.Context) {
	s, sink, ok := h.lookup(c)
	if !ok {
		return
	}
	var req TickRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid tick", err)
		return
	}
	if req.Beat < 0 {
		badRequest(c, "Beat must not be negative", nil)
		return
	}

	before := len(sink.Notes())
	s.Tick(c.Request.Context(), req.Beat)
	notes := sink.Notes()[before:]
	if notes == nil {
		notes = []models.NoteEvent{}
	}
	c.JSON(http.StatusOK, TickResponse{Status: s.Status(), Notes: notes})
}

// Notes returns emitted notes, optionally only those starting at or after ?since=
func (h *SessionHandler) Notes(c *gin.Context) {
	_, sink, ok := h.lookup(c)
	if !ok {
		return
	}
	since := 0.0
	if v := c.Query("since"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			badRequest(c, "Invalid since", err)
			return
		}
		since = f
	}
	notes := sink.Since(since)
	if notes == nil {
		notes = []models.NoteEvent{}
	}
	c.JSON(http.StatusOK, gin.H{"notes": notes})
}

// Render returns the emitted notes as a Standard MIDI File
func (h *SessionHandler) Render(c *gin.Context) {
	s, sink, ok := h.lookup(c)
	if !ok {
		return
	}
	c.Header("Content-Disposition", `attachment; filename="solo-`+s.ID()+`.mid"`)
	c.Header("Content-Type", midiContentType)
	c.Status(http.StatusOK)
	if err := sink.WriteSMF(c.Writer, s.Status().Tempo); err != nil {
		logger.Error("Failed to render session", err, logger.WithContext(c))
	}
}

// Tempo changes the session tempo
func (h *SessionHandler) Tempo(c *gin.Context) {
	s, err := h.manager.Get(c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	var req TempoRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid tempo", err)
		return
	}
	if err := s.SetTempo(req.BPM); err != nil {
		badRequest(c, "Invalid tempo", err)
		return
	}
	c.JSON(http.StatusOK, s.Status())
}

// Rate records a rating for the melody playing now
func (h *SessionHandler) Rate(c *gin.Context) {
	s, err := h.manager.Get(c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	var req RateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid rating", err)
		return
	}
	if req.Rating < 1 || req.Rating > 5 {
		badRequest(c, "Rating must be between 1 and 5", nil)
		return
	}
	if err := s.Rate(c.Request.Context(), req.Rating); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, s.Status())
}

// Skip abandons the current melody for another one
func (h *SessionHandler) Skip(c *gin.Context) {
	s, err := h.manager.Get(c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	if err := s.Skip(c.Request.Context()); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, s.Status())
}

// Repeat plays the last melody again
func (h *SessionHandler) Repeat(c *gin.Context) {
	s, err := h.manager.Get(c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	if err := s.Repeat(c.Request.Context()); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, s.Status())
}

func (h *SessionHandler) lookup(c *gin.Context) (*solo.Session, *midiio.BufferSink, bool) {
	id := c.Param("id")
	s, err := h.manager.Get(id)
	if err != nil {
		respondError(c, err)
		return nil, nil, false
	}
	h.mu.RLock()
	sink, ok := h.sinks[id]
	h.mu.RUnlock()
	if !ok {
		c.JSON(http.StatusConflict, gin.H{"error": "Session output is not buffered"})
		return nil, nil, false
	}
	return s, sink, true
}
