package solo

import (
	"fmt"
	"strings"
	"time"

	"github.com/Conceptual-Machines/magda-bebop/internal/models"
	"github.com/Conceptual-Machines/magda-bebop/internal/theory"
)

// Default generator parameters
const (
	DefaultTempo               = 120.0
	DefaultQueryTimeout        = 50 * time.Millisecond
	DefaultBudgetFraction      = 0.5
	DefaultAcceptanceThreshold = 0.45
	DefaultMaxDissonance       = 0.30
	DefaultK                   = 5
	DefaultQuantize            = 4
	DefaultPhraseBeats         = 4.0
	DefaultVelocity            = 90
	DefaultLearningRate        = 0.1
)

// Config holds the tunable parameters of a solo session
type Config struct {
	Tempo        float64       `yaml:"tempo"`
	QueryTimeout time.Duration `yaml:"query_timeout"`
	// BudgetFraction caps the query budget at this share of one beat
	BudgetFraction      float64 `yaml:"budget_fraction"`
	AcceptanceThreshold float64 `yaml:"acceptance_threshold"`
	MaxDissonance       float64 `yaml:"max_dissonance"`
	K                   int     `yaml:"k"`
	// Quantize is the output grid in steps per beat
	Quantize     int     `yaml:"quantize"`
	PhraseBeats  float64 `yaml:"phrase_beats"`
	LowPitch     int     `yaml:"low_pitch"`
	HighPitch    int     `yaml:"high_pitch"`
	Velocity     int     `yaml:"velocity"`
	Rhythm       string  `yaml:"rhythm"`
	Seed         int64   `yaml:"seed"`
	RAG          bool    `yaml:"rag"`
	LearningRate float64 `yaml:"learning_rate"`
}

// DefaultConfig returns the stock parameters with retrieval enabled
func DefaultConfig() Config {
	return Config{
		Tempo:               DefaultTempo,
		QueryTimeout:        DefaultQueryTimeout,
		BudgetFraction:      DefaultBudgetFraction,
		AcceptanceThreshold: DefaultAcceptanceThreshold,
		MaxDissonance:       DefaultMaxDissonance,
		K:                   DefaultK,
		Quantize:            DefaultQuantize,
		PhraseBeats:         DefaultPhraseBeats,
		LowPitch:            models.DefaultLowPitch,
		HighPitch:           models.DefaultHighPitch,
		Velocity:            DefaultVelocity,
		RAG:                 true,
		LearningRate:        DefaultLearningRate,
	}
}

// withDefaults fills zero fields. RAG is left alone.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Tempo <= 0 {
		c.Tempo = d.Tempo
	}
	if c.QueryTimeout <= 0 {
		c.QueryTimeout = d.QueryTimeout
	}
	if c.BudgetFraction <= 0 || c.BudgetFraction > 1 {
		c.BudgetFraction = d.BudgetFraction
	}
	if c.AcceptanceThreshold <= 0 {
		c.AcceptanceThreshold = d.AcceptanceThreshold
	}
	if c.MaxDissonance < 0 {
		c.MaxDissonance = d.MaxDissonance
	}
	if c.K <= 0 {
		c.K = d.K
	}
	if c.Quantize <= 0 {
		c.Quantize = d.Quantize
	}
	if c.PhraseBeats <= 0 {
		c.PhraseBeats = d.PhraseBeats
	}
	if c.LowPitch == 0 && c.HighPitch == 0 {
		c.LowPitch, c.HighPitch = d.LowPitch, d.HighPitch
	}
	if c.Velocity <= 0 || c.Velocity > 127 {
		c.Velocity = d.Velocity
	}
	if c.LearningRate <= 0 {
		c.LearningRate = d.LearningRate
	}
	return c
}

// Validate rejects parameter combinations the generator cannot honor
func (c Config) Validate() error {
	if c.LowPitch < 0 || c.HighPitch > 127 || c.HighPitch-c.LowPitch < 12 {
		return fmt.Errorf("pitch range %d-%d must span at least an octave inside 0-127", c.LowPitch, c.HighPitch)
	}
	if c.MaxDissonance > 1 {
		return fmt.Errorf("max dissonance %.2f must be within 0-1", c.MaxDissonance)
	}
	if c.LearningRate > 1 {
		return fmt.Errorf("learning rate %.2f must be within 0-1", c.LearningRate)
	}
	// empty picks a rhythm per cell
	if c.Rhythm != "" {
		if _, ok := theory.GetRhythmTemplate(c.Rhythm); !ok {
			return fmt.Errorf("unknown rhythm %q (want one of %s)", c.Rhythm, strings.Join(theory.RhythmTemplateNames(), ", "))
		}
	}
	return nil
}

// BeatInterval is the wall-clock length of one beat at the configured tempo
func (c Config) BeatInterval() time.Duration {
	return beatInterval(c.Tempo)
}

// Budget is the longest a retrieval may take before the generator falls back
func (c Config) Budget() time.Duration {
	share := time.Duration(float64(c.BeatInterval()) * c.BudgetFraction)
	if c.QueryTimeout < share {
		return c.QueryTimeout
	}
	return share
}

func beatInterval(tempo float64) time.Duration {
	return time.Duration(60 / tempo * float64(time.Second))
}
