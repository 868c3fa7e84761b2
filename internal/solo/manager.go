package solo

import (
	"sort"
	"sync"

	"github.com/Conceptual-Machines/magda-bebop/internal/logger"
)

// Manager owns the live sessions of a process and the global retrieval toggle
type Manager struct {
	cfg       Config
	retriever Retriever
	prefs     *Preferences
	recorder  Recorder
	feedback  FeedbackStore

	mu       sync.RWMutex
	sessions map[string]*Session
	rag      bool
}

// NewManager creates a manager. Sessions share one preference table.
func NewManager(cfg Config, retriever Retriever, recorder Recorder, feedback FeedbackStore) *Manager {
	cfg = cfg.withDefaults()
	return &Manager{
		cfg:       cfg,
		retriever: retriever,
		prefs:     NewPreferences(cfg.LearningRate),
		recorder:  recorder,
		feedback:  feedback,
		sessions:  make(map[string]*Session),
		rag:       cfg.RAG,
	}
}

// Create starts a session writing to sink. overrides, when non-nil, replace
// the manager config for this session.
func (m *Manager) Create(sink Sink, overrides *Config) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cfg := m.cfg
	if overrides != nil {
		cfg = *overrides
	}
	cfg.RAG = m.rag

	s, err := NewSession(cfg, m.retriever, sink,
		WithPreferences(m.prefs),
		WithRecorder(m.recorder),
		WithFeedbackStore(m.feedback),
	)
	if err != nil {
		return nil, err
	}
	m.sessions[s.ID()] = s

	logger.Info("Solo session created", logger.Fields{"session_id": s.ID(), "tempo": s.cfg.Tempo, "rag": cfg.RAG})
	return s, nil
}

// Get returns a live session
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

// Stop stops a session and forgets it
func (m *Manager) Stop(id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if !ok {
		return ErrSessionNotFound
	}
	return s.Stop()
}

// StopAll stops every session
func (m *Manager) StopAll() {
	m.mu.Lock()
	sessions := m.sessions
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	for id, s := range sessions {
		if err := s.Stop(); err != nil {
			logger.Warn("Failed to silence session", logger.Fields{"session_id": id, "error": err.Error()})
		}
	}
}

// List returns the status of every session ordered by id
func (m *Manager) List() []Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Status, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s.Status())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// SetRAG switches retrieval for every current and future session
func (m *Manager) SetRAG(enabled bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rag = enabled
	for _, s := range m.sessions {
		s.SetRAG(enabled)
	}
	logger.Info("Retrieval mode changed", logger.Fields{"enabled": enabled, "sessions": len(m.sessions)})
}

// RAGEnabled reports the global retrieval toggle
func (m *Manager) RAGEnabled() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.rag
}

// Preferences returns the shared preference table
func (m *Manager) Preferences() *Preferences {
	return m.prefs
}
