package theory

import "sort"

// RhythmTemplate is a cell of note durations with accents
type RhythmTemplate struct {
	Name string
	// Durations in beats, played back to back
	Durations []float64
	// Velocity multipliers for accents (1.0 = normal)
	Accents []float64
	// Duration multiplier (affects note length, 0.0-1.0)
	Articulation float64
}

// Rhythm template constants
const (
	articulationHigh    = 0.9
	articulationMidHigh = 0.85
	articulationLegato  = 1.0
)

// Cells stay on a sixteenth grid so quantized output keeps their shape.
var rhythmTemplates = map[string]RhythmTemplate{
	"quarters": {
		Name:         "quarters",
		Durations:    []float64{1, 1, 1, 1},
		Accents:      []float64{1.0, 0.8, 0.9, 0.8},
		Articulation: articulationHigh,
	},
	"8ths": {
		Name:         "8ths",
		Durations:    []float64{0.5, 0.5, 0.5, 0.5, 0.5, 0.5, 0.5, 0.5},
		Accents:      []float64{1.0, 0.7, 0.9, 0.7, 0.95, 0.7, 0.9, 0.7},
		Articulation: articulationLegato,
	},
	"standard": {
		Name:         "standard",
		Durations:    []float64{0.5, 0.5, 0.5, 0.5, 1, 0.5, 0.5},
		Accents:      []float64{1.0, 0.75, 0.9, 0.75, 1.0, 0.8, 0.75},
		Articulation: articulationMidHigh,
	},
	"syncopated": {
		Name:         "syncopated",
		Durations:    []float64{0.75, 0.25, 0.5, 0.5, 1},
		Accents:      []float64{1.0, 0.7, 0.9, 0.8, 0.95},
		Articulation: articulationMidHigh,
	},
	"fast": {
		Name:         "fast",
		Durations:    []float64{0.25, 0.25, 0.25, 0.25, 0.25, 0.25, 0.25, 0.25},
		Accents:      []float64{1.0, 0.6, 0.8, 0.6, 0.9, 0.6, 0.8, 0.6},
		Articulation: articulationHigh,
	},
	"mixed": {
		Name:         "mixed",
		Durations:    []float64{0.25, 0.25, 0.5, 0.75, 0.25},
		Accents:      []float64{1.0, 0.7, 0.9, 0.85, 0.7},
		Articulation: articulationMidHigh,
	},
	"swing": {
		Name:         "swing",
		Durations:    []float64{0.75, 0.25, 0.75, 0.25},
		Accents:      []float64{1.0, 0.7, 0.9, 0.7},
		Articulation: articulationLegato,
	},
}

// GetRhythmTemplate returns a rhythm template by name
func GetRhythmTemplate(name string) (RhythmTemplate, bool) {
	tmpl, ok := rhythmTemplates[name]
	return tmpl, ok
}

// RhythmTemplateNames lists templates in a stable order
func RhythmTemplateNames() []string {
	names := make([]string, 0, len(rhythmTemplates))
	for name := range rhythmTemplates {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Phrase shapes as scale-degree offsets from the phrase anchor
var phraseShapes = map[string][]int{
	"ascending":  {0, 1, 2, 3, 4, 5, 6, 7},
	"descending": {7, 6, 5, 4, 3, 2, 1, 0},
	"arpeggio":   {0, 2, 4, 6, 7, 6, 4, 2},
	"approach":   {0, -1, 0, 2, 1, 2, 4, 3},
	"enclosure":  {1, -1, 0, 2, 1, 3, 2, 4},
}

// PhraseShapeNames lists phrase shapes in a stable order
func PhraseShapeNames() []string {
	names := make([]string, 0, len(phraseShapes))
	for name := range phraseShapes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
