package features

import (
	"github.com/Conceptual-Machines/magda-bebop/internal/models"
	"github.com/Conceptual-Machines/magda-bebop/internal/theory"
)

// SegmentOptions controls how a melody is cut into fragments
type SegmentOptions struct {
	// GapBeats is the silence that ends a phrase
	GapBeats float64 `yaml:"gap_beats"`
	// WindowBeats caps a phrase that never pauses
	WindowBeats float64 `yaml:"window_beats"`
	// MinNotes drops fragments that are too short to describe
	MinNotes int `yaml:"min_notes"`
}

// DefaultSegmentOptions returns the segmentation used for builds
func DefaultSegmentOptions() SegmentOptions {
	return SegmentOptions{
		GapBeats:    1.0,
		WindowBeats: 8.0,
		MinNotes:    2,
	}
}

func (o SegmentOptions) withDefaults() SegmentOptions {
	d := DefaultSegmentOptions()
	if o.GapBeats <= 0 {
		o.GapBeats = d.GapBeats
	}
	if o.WindowBeats <= 0 {
		o.WindowBeats = d.WindowBeats
	}
	if o.MinNotes <= 0 {
		o.MinNotes = d.MinNotes
	}
	return o
}

// Segment splits a melody at silences longer than GapBeats and cuts runs
// longer than WindowBeats into fixed windows. Fragment notes are re-timed to
// start at beat 0; the source offset keeps the original position.
func Segment(file string, notes []models.NoteEvent, opts SegmentOptions) []models.MelodyFragment {
	opts = opts.withDefaults()
	sorted := append([]models.NoteEvent(nil), notes...)
	sortNotes(sorted)

	var (
		fragments []models.MelodyFragment
		current   []models.NoteEvent
		segStart  float64
		segEnd    float64
	)

	flush := func() {
		if len(current) >= opts.MinNotes {
			rel := make([]models.NoteEvent, len(current))
			for i, n := range current {
				n.StartBeats -= segStart
				rel[i] = n
			}
			fragments = append(fragments, models.MelodyFragment{
				Source: models.SourceRef{File: file, Offset: segStart, Ordinal: len(fragments)},
				Notes:  rel,
			})
		}
		current = nil
	}

	for _, n := range sorted {
		if len(current) > 0 {
			gap := n.StartBeats - segEnd
			if gap > opts.GapBeats || n.StartBeats-segStart >= opts.WindowBeats {
				flush()
			}
		}
		if len(current) == 0 {
			segStart = n.StartBeats
			segEnd = n.EndBeats()
		}
		current = append(current, n)
		if e := n.EndBeats(); e > segEnd {
			segEnd = e
		}
	}
	flush()

	return fragments
}

// Extracted is one fragment ready for indexing
type Extracted struct {
	Fragment models.MelodyFragment
	Vector   FeatureVector
	Chord    theory.ChordContext
}

// Extract segments the source melody and computes a vector and a chord for
// each fragment. The chord is the accompaniment chord at the fragment start,
// or an estimate from the fragment's own pitches when there is none.
func Extract(src *Source, opts SegmentOptions) []Extracted {
	fragments := Segment(src.Name, src.Melody, opts)
	out := make([]Extracted, 0, len(fragments))
	for _, f := range fragments {
		chord, ok := src.ChordAt(f.Source.Offset)
		if !ok {
			chord = theory.EstimateChord(PitchClassHistogram(f.Notes))
		}
		out = append(out, Extracted{
			Fragment: f,
			Vector:   Vector(f),
			Chord:    chord,
		})
	}
	return out
}
