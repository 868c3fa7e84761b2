package solo

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Feedback kinds
const (
	FeedbackRate   = "rate"
	FeedbackSkip   = "skip"
	FeedbackRepeat = "repeat"
)

// Feedback is one listener reaction to a played melody
type Feedback struct {
	SessionID string
	Source    string
	Kind      string
	Rating    float64
	At        time.Time
}

// FeedbackStore persists listener feedback
type FeedbackStore interface {
	RecordFeedback(ctx context.Context, fb Feedback) error
}

// Preferences learns a per-source bias from feedback. A positive score makes
// a source look closer during selection, a negative one further away.
type Preferences struct {
	mu       sync.RWMutex
	scores   map[string]float64
	learning bool
	rate     float64
}

// NewPreferences creates an empty preference table with learning on
func NewPreferences(rate float64) *Preferences {
	if rate <= 0 || rate > 1 {
		rate = DefaultLearningRate
	}
	return &Preferences{scores: make(map[string]float64), learning: true, rate: rate}
}

// Rate applies a 1-5 rating; 3 is neutral
func (p *Preferences) Rate(source string, rating float64) error {
	if rating < 1 || rating > 5 {
		return fmt.Errorf("rating %.1f must be between 1 and 5", rating)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.adjust(source, (rating-3)/2*p.rate)
	return nil
}

// Skip counts as a mild dislike
func (p *Preferences) Skip(source string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.adjust(source, -p.rate)
}

// Repeat counts as a mild like
func (p *Preferences) Repeat(source string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.adjust(source, p.rate/2)
}

// adjust must be called with mu held
func (p *Preferences) adjust(source string, delta float64) {
	if source == "" {
		return
	}
	score := p.scores[source] + delta
	if score > 1 {
		score = 1
	}
	if score < -1 {
		score = -1
	}
	p.scores[source] = score
}

// Factor scales a candidate distance: 0.5 for a fully liked source, 1.5 for
// a fully disliked one, 1 when learning is off
func (p *Preferences) Factor(source string) float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if !p.learning {
		return 1
	}
	return 1 - 0.5*p.scores[source]
}

// Score returns the learned score for a source
func (p *Preferences) Score(source string) float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.scores[source]
}

// SetLearning turns preference weighting on or off
func (p *Preferences) SetLearning(enabled bool) {
	p.mu.Lock()
	p.learning = enabled
	p.mu.Unlock()
}

// Learning reports whether preference weighting is on
func (p *Preferences) Learning() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.learning
}

// SetLearningRate changes how far one piece of feedback moves a score
func (p *Preferences) SetLearningRate(rate float64) error {
	if rate <= 0 || rate > 1 {
		return fmt.Errorf("learning rate %.2f must be in (0, 1]", rate)
	}
	p.mu.Lock()
	p.rate = rate
	p.mu.Unlock()
	return nil
}

// LearningRate returns the current learning rate
func (p *Preferences) LearningRate() float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.rate
}

// Reset forgets every learned score
func (p *Preferences) Reset() {
	p.mu.Lock()
	p.scores = make(map[string]float64)
	p.mu.Unlock()
}

// Len returns the number of sources with a learned score
func (p *Preferences) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.scores)
}

// Apply replays stored feedback, e.g. history loaded at startup
func (p *Preferences) Apply(fb Feedback) error {
	switch fb.Kind {
	case FeedbackRate:
		return p.Rate(fb.Source, fb.Rating)
	case FeedbackSkip:
		p.Skip(fb.Source)
	case FeedbackRepeat:
		p.Repeat(fb.Source)
	default:
		return fmt.Errorf("unknown feedback kind %q", fb.Kind)
	}
	return nil
}

// Scores returns a copy of every learned score keyed by source
func (p *Preferences) Scores() map[string]float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make(map[string]float64, len(p.scores))
	for k, v := range p.scores {
		out[k] = v
	}
	return out
}
