package models

import (
	"fmt"
	"time"
)

// Instrument range used for emitted notes (C3 to C7)
const (
	DefaultLowPitch  = 48
	DefaultHighPitch = 96
)

// NoteEvent represents a single musical note with timing and pitch information
type NoteEvent struct {
	Pitch         int     `json:"pitch"`
	Velocity      int     `json:"velocity"`
	StartBeats    float64 `json:"startBeats"`
	DurationBeats float64 `json:"durationBeats"`
}

// EndBeats returns the beat at which the note stops sounding
func (n NoteEvent) EndBeats() float64 {
	return n.StartBeats + n.DurationBeats
}

// Validate checks the MIDI ranges and a positive duration
func (n NoteEvent) Validate() error {
	if n.Pitch < 0 || n.Pitch > 127 {
		return fmt.Errorf("pitch %d out of range 0-127", n.Pitch)
	}
	if n.Velocity < 0 || n.Velocity > 127 {
		return fmt.Errorf("velocity %d out of range 0-127", n.Velocity)
	}
	if n.DurationBeats <= 0 {
		return fmt.Errorf("duration %.3f must be positive", n.DurationBeats)
	}
	return nil
}

// SourceRef identifies where a fragment was captured
type SourceRef struct {
	File    string  `json:"file"`
	Offset  float64 `json:"offsetBeats"`
	Ordinal int     `json:"ordinal"`
}

func (s SourceRef) String() string {
	return fmt.Sprintf("%s@%.2f#%d", s.File, s.Offset, s.Ordinal)
}

// MelodyFragment is an ordered run of notes cut from a source melody
type MelodyFragment struct {
	Source SourceRef   `json:"source"`
	Notes  []NoteEvent `json:"notes"`
}

// Start returns the onset of the first note
func (f MelodyFragment) Start() float64 {
	if len(f.Notes) == 0 {
		return 0
	}
	return f.Notes[0].StartBeats
}

// End returns the latest note end
func (f MelodyFragment) End() float64 {
	end := 0.0
	for _, n := range f.Notes {
		if e := n.EndBeats(); e > end {
			end = e
		}
	}
	return end
}

// Length returns the fragment span in beats
func (f MelodyFragment) Length() float64 {
	return f.End() - f.Start()
}

// FileError records a file skipped during a build
type FileError struct {
	File    string `json:"file"`
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// BuildReport summarizes a database build
type BuildReport struct {
	FilesProcessed   int           `json:"files_processed"`
	FragmentsIndexed int           `json:"fragments_indexed"`
	Errors           []FileError   `json:"errors"`
	Seeded           bool          `json:"seeded,omitempty"`
	Duration         time.Duration `json:"duration_ns"`
}

// DatabaseInfo describes the published index snapshot
type DatabaseInfo struct {
	RecordCount    int        `json:"record_count"`
	Dimensionality int        `json:"dimensionality"`
	LastBuildTime  *time.Time `json:"last_build_time"`
}

// SimilarMelody is one ranked answer to a similarity query
type SimilarMelody struct {
	ID              string    `json:"id"`
	SourceReference SourceRef `json:"source_reference"`
	Score           float64   `json:"score"`
	Chord           string    `json:"chord"`
}
