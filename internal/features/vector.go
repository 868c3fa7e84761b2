package features

import (
	"math"

	"github.com/cespare/xxhash/v2"

	"github.com/Conceptual-Machines/magda-bebop/internal/models"
	"github.com/Conceptual-Machines/magda-bebop/internal/theory"
)

// Feature vector layout
const (
	PitchClassBins = 12
	IntervalBins   = 9
	DensityBins    = 1
	ContourBins    = 8

	PitchClassOffset = 0
	IntervalOffset   = PitchClassOffset + PitchClassBins
	DensityOffset    = IntervalOffset + IntervalBins
	ContourOffset    = DensityOffset + DensityBins

	// Dimension is the length of every FeatureVector
	Dimension = ContourOffset + ContourBins
)

const contourGram = 3

// FeatureVector is the fixed-length description of a fragment
type FeatureVector []float64

// Vector computes the feature vector of a fragment. Identical note sequences
// always give identical vectors.
func Vector(fragment models.MelodyFragment) FeatureVector {
	notes := append([]models.NoteEvent(nil), fragment.Notes...)
	sortNotes(notes)

	v := make(FeatureVector, Dimension)
	if len(notes) == 0 {
		return v
	}

	hist := PitchClassHistogram(notes)
	copy(v[PitchClassOffset:], hist[:])

	if len(notes) > 1 {
		for i := 1; i < len(notes); i++ {
			v[IntervalOffset+intervalBucket(notes[i].Pitch-notes[i-1].Pitch)]++
		}
		normalize(v[IntervalOffset : IntervalOffset+IntervalBins])
	}

	span := fragmentSpan(notes)
	if span > 0 {
		d := float64(len(notes)) / span
		v[DensityOffset] = d / (1 + d)
	}

	for bin, count := range contourSignature(notes) {
		v[ContourOffset+bin] = count
	}
	normalize(v[ContourOffset : ContourOffset+ContourBins])

	return v
}

// PitchClassHistogram weights each pitch class by sounding duration; sums to 1
func PitchClassHistogram(notes []models.NoteEvent) [12]float64 {
	var hist [12]float64
	total := 0.0
	for _, n := range notes {
		hist[theory.PitchClass(n.Pitch)] += n.DurationBeats
		total += n.DurationBeats
	}
	if total > 0 {
		for i := range hist {
			hist[i] /= total
		}
	}
	return hist
}

// intervalBucket maps a signed semitone step to one of IntervalBins buckets:
// <=-8, -7..-5, -4..-3, -2..-1, 0, 1..2, 3..4, 5..7, >=8
func intervalBucket(step int) int {
	switch {
	case step <= -8:
		return 0
	case step <= -5:
		return 1
	case step <= -3:
		return 2
	case step <= -1:
		return 3
	case step == 0:
		return 4
	case step <= 2:
		return 5
	case step <= 4:
		return 6
	case step <= 7:
		return 7
	default:
		return 8
	}
}

// contourSignature hashes up/down/same n-grams of the melodic outline into bins
func contourSignature(notes []models.NoteEvent) [ContourBins]float64 {
	var bins [ContourBins]float64
	if len(notes) < 2 {
		return bins
	}

	signs := make([]byte, 0, len(notes)-1)
	for i := 1; i < len(notes); i++ {
		switch d := notes[i].Pitch - notes[i-1].Pitch; {
		case d > 0:
			signs = append(signs, 'U')
		case d < 0:
			signs = append(signs, 'D')
		default:
			signs = append(signs, 'S')
		}
	}

	n := contourGram
	if len(signs) < n {
		n = len(signs)
	}
	for i := 0; i+n <= len(signs); i++ {
		bins[xxhash.Sum64(signs[i:i+n])%ContourBins]++
	}
	return bins
}

func fragmentSpan(notes []models.NoteEvent) float64 {
	start := notes[0].StartBeats
	end := start
	for _, n := range notes {
		if e := n.EndBeats(); e > end {
			end = e
		}
	}
	return end - start
}

func normalize(values []float64) {
	sum := 0.0
	for _, x := range values {
		sum += x
	}
	if sum == 0 {
		return
	}
	for i := range values {
		values[i] /= sum
	}
}

// Distance is the Euclidean distance between two vectors of equal length
func Distance(a, b FeatureVector) float64 {
	sum := 0.0
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return math.Sqrt(sum)
}
