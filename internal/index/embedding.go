package index

import (
	"github.com/Conceptual-Machines/magda-bebop/internal/features"
	"github.com/Conceptual-Machines/magda-bebop/internal/theory"
)

// Pitch-class weights of the chord embedding
const (
	rootWeight      = 3.0
	chordToneWeight = 2.0
	scaleToneWeight = 1.0
)

// ChordEmbedding maps a chord into fragment feature space. The pitch-class
// bins describe the chord: root heaviest, then the other chord tones, then the
// rest of its bebop scale. The other bins copy the index centroid, since a
// chord carries no melodic shape of its own.
func ChordEmbedding(chord theory.ChordContext, centroid features.FeatureVector) features.FeatureVector {
	v := make(features.FeatureVector, features.Dimension)
	if len(centroid) == features.Dimension {
		copy(v, centroid)
	}

	var weights [12]float64
	for _, pc := range theory.ScaleFor(chord) {
		weights[pc] = scaleToneWeight
	}
	for _, pc := range theory.ChordTones(chord) {
		weights[pc] = chordToneWeight
	}
	weights[theory.PitchClass(chord.Root)] = rootWeight

	total := 0.0
	for _, w := range weights {
		total += w
	}
	for pc, w := range weights {
		v[features.PitchClassOffset+pc] = w / total
	}
	return v
}
