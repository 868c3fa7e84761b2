package theory

import (
	"sort"
)

// Bebop scales: each adds one chromatic passing tone to a seven-note mode
// so that chord tones fall on the beat in running eighths.
func bebopScale(q Quality) []int {
	switch q {
	case Major, Major7:
		// ionian plus #5
		return []int{0, 2, 4, 5, 7, 8, 9, 11}
	case Minor, Minor7:
		// dorian plus major 7th
		return []int{0, 2, 3, 5, 7, 9, 10, 11}
	case Dominant7:
		// mixolydian plus major 7th
		return []int{0, 2, 4, 5, 7, 9, 10, 11}
	case HalfDiminished:
		// locrian plus natural 5th
		return []int{0, 1, 3, 5, 6, 7, 8, 10}
	case Diminished, Diminished7:
		// whole-half diminished
		return []int{0, 2, 3, 5, 6, 8, 9, 11}
	case Augmented:
		// whole tone
		return []int{0, 2, 4, 6, 8, 10}
	case Sus4:
		// mixolydian without the third plus major 7th
		return []int{0, 2, 5, 7, 9, 10, 11}
	default:
		return nil
	}
}

// ScaleFor returns the ordered pitch classes of the bebop scale over the chord.
// Extensions that fall outside the scale are merged in.
func ScaleFor(c ChordContext) []int {
	seen := make(map[int]bool)
	var pcs []int
	for _, iv := range bebopScale(c.Quality) {
		pc := PitchClass(c.Root + iv)
		if !seen[pc] {
			seen[pc] = true
			pcs = append(pcs, pc)
		}
	}
	for _, ext := range c.Extensions {
		pc := PitchClass(c.Root + ext)
		if !seen[pc] {
			seen[pc] = true
			pcs = append(pcs, pc)
		}
	}
	// order from the root upwards
	sort.Slice(pcs, func(i, j int) bool {
		return PitchClass(pcs[i]-c.Root) < PitchClass(pcs[j]-c.Root)
	})
	return pcs
}

// IsConsonant is true for scale tones and for chromatic approach tones
// one semitone from a chord tone.
func IsConsonant(pitch int, c ChordContext) bool {
	pc := PitchClass(pitch)
	for _, s := range ScaleFor(c) {
		if s == pc {
			return true
		}
	}
	for _, t := range ChordTones(c) {
		if PitchClass(pc-t) == 1 || PitchClass(t-pc) == 1 {
			return true
		}
	}
	return false
}

// ConsonanceRatio is the share of notes that pass IsConsonant
func ConsonanceRatio(pitches []int, c ChordContext) float64 {
	if len(pitches) == 0 {
		return 1
	}
	ok := 0
	for _, p := range pitches {
		if IsConsonant(p, c) {
			ok++
		}
	}
	return float64(ok) / float64(len(pitches))
}

// VoiceLead returns chord-tone pitches within an octave of from, nearest
// first. Equal distances prefer the higher pitch.
func VoiceLead(from int, target ChordContext) []int {
	tones := make(map[int]bool)
	for _, t := range ChordTones(target) {
		tones[t] = true
	}

	var candidates []int
	for p := from - 12; p <= from+12; p++ {
		if p < 0 || p > 127 {
			continue
		}
		if tones[PitchClass(p)] {
			candidates = append(candidates, p)
		}
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		di, dj := abs(candidates[i]-from), abs(candidates[j]-from)
		if di != dj {
			return di < dj
		}
		return candidates[i] > candidates[j]
	})
	return candidates
}

// NearestInRange picks the first voice-leading candidate inside [low, high].
// It returns false when no chord tone fits.
func NearestInRange(from int, target ChordContext, low, high int) (int, bool) {
	for _, p := range VoiceLead(from, target) {
		if p >= low && p <= high {
			return p, true
		}
	}
	// from may sit far outside the range; search from the range edge
	edge := low
	if from > high {
		edge = high
	}
	for _, p := range VoiceLead(edge, target) {
		if p >= low && p <= high {
			return p, true
		}
	}
	return 0, false
}

// ScalePitches lists every pitch in [low, high] belonging to the chord's scale
func ScalePitches(c ChordContext, low, high int) []int {
	inScale := make(map[int]bool)
	for _, pc := range ScaleFor(c) {
		inScale[pc] = true
	}
	var pitches []int
	for p := low; p <= high; p++ {
		if inScale[PitchClass(p)] {
			pitches = append(pitches, p)
		}
	}
	return pitches
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
