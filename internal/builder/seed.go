package builder

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/Conceptual-Machines/magda-bebop/internal/features"
	"github.com/Conceptual-Machines/magda-bebop/internal/logger"
	"github.com/Conceptual-Machines/magda-bebop/internal/models"
	"github.com/Conceptual-Machines/magda-bebop/pkg/embedded"
)

const (
	seedMelodyBeats = 1.0
	seedChordBeats  = 2.0
	seedMelodyVel   = 80
	seedChordVel    = 60
)

// SeedPattern is one example melody with its chord changes
type SeedPattern struct {
	Name   string  `yaml:"name"`
	Melody []int   `yaml:"melody"`
	Chords [][]int `yaml:"chords"`
}

type seedFile struct {
	Tempo    float64       `yaml:"tempo"`
	Patterns []SeedPattern `yaml:"patterns"`
}

// SeedPatterns returns the bundled example melodies and their tempo
func SeedPatterns() ([]SeedPattern, float64, error) {
	var f seedFile
	if err := yaml.Unmarshal(embedded.SeedPatternsYAML, &f); err != nil {
		return nil, 0, fmt.Errorf("decode seed patterns: %w", err)
	}
	return f.Patterns, f.Tempo, nil
}

// Tracks renders the pattern as a melody track and a chord track
func (p SeedPattern) Tracks() (melody, chords []models.NoteEvent) {
	for i, pitch := range p.Melody {
		melody = append(melody, models.NoteEvent{
			Pitch:         pitch,
			Velocity:      seedMelodyVel,
			StartBeats:    float64(i) * seedMelodyBeats,
			DurationBeats: seedMelodyBeats,
		})
	}
	for i, chord := range p.Chords {
		for _, pitch := range chord {
			chords = append(chords, models.NoteEvent{
				Pitch:         pitch,
				Velocity:      seedChordVel,
				StartBeats:    float64(i) * seedChordBeats,
				DurationBeats: seedChordBeats,
			})
		}
	}
	return melody, chords
}

// Seed writes the example melodies into dir, creating it if needed.
// Existing files are left alone. It returns the names written.
func Seed(dir string) ([]string, error) {
	patterns, tempo, err := SeedPatterns()
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create source directory: %w", err)
	}

	var written []string
	for _, p := range patterns {
		path := filepath.Join(dir, p.Name)
		if _, err := os.Stat(path); err == nil {
			continue
		} else if !errors.Is(err, fs.ErrNotExist) {
			return written, err
		}

		if err := writePattern(path, p, tempo); err != nil {
			return written, err
		}
		written = append(written, p.Name)
	}

	if len(written) > 0 {
		logger.Info("Wrote example MIDI files", logger.Fields{"dir": dir, "count": len(written)})
	}
	return written, nil
}

func writePattern(path string, p SeedPattern, tempo float64) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", p.Name, err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	melody, chords := p.Tracks()
	if err := features.WriteSMF(f, tempo, melody, chords); err != nil {
		return fmt.Errorf("write %s: %w", p.Name, err)
	}
	return nil
}
