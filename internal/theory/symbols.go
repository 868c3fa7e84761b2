package theory

import (
	"fmt"
	"sort"
	"strings"
)

var rootOffsets = map[string]int{
	"C":  0,
	"C#": 1,
	"Db": 1,
	"D":  2,
	"D#": 3,
	"Eb": 3,
	"E":  4,
	"F":  5,
	"F#": 6,
	"Gb": 6,
	"G":  7,
	"G#": 8,
	"Ab": 8,
	"A":  9,
	"A#": 10,
	"Bb": 10,
	"B":  11,
}

type suffixSpec struct {
	quality    Quality
	extensions []int
}

// Chord symbol suffixes after the root. Extensions are semitones above the root.
var symbolSuffixes = map[string]suffixSpec{
	"":      {Major, nil},
	"maj":   {Major, nil},
	"add9":  {Major, []int{2}},
	"6":     {Major, []int{9}},
	"m":     {Minor, nil},
	"min":   {Minor, nil},
	"-":     {Minor, nil},
	"m6":    {Minor, []int{9}},
	"7":     {Dominant7, nil},
	"9":     {Dominant7, []int{2}},
	"13":    {Dominant7, []int{2, 9}},
	"7b9":   {Dominant7, []int{1}},
	"7#9":   {Dominant7, []int{3}},
	"7#11":  {Dominant7, []int{6}},
	"maj7":  {Major7, nil},
	"M7":    {Major7, nil},
	"maj9":  {Major7, []int{2}},
	"m7":    {Minor7, nil},
	"min7":  {Minor7, nil},
	"-7":    {Minor7, nil},
	"m9":    {Minor7, []int{2}},
	"m11":   {Minor7, []int{2, 5}},
	"m7b5":  {HalfDiminished, nil},
	"ø":     {HalfDiminished, nil},
	"ø7":    {HalfDiminished, nil},
	"dim":   {Diminished, nil},
	"o":     {Diminished, nil},
	"dim7":  {Diminished7, nil},
	"o7":    {Diminished7, nil},
	"aug":   {Augmented, nil},
	"+":     {Augmented, nil},
	"sus":   {Sus4, nil},
	"sus4":  {Sus4, nil},
	"7sus4": {Sus4, []int{10}},
}

// ParseChordSymbol parses lead-sheet symbols like "C", "Dm7", "G7b9", "Bm7b5".
// A slash bass ("C/E") is accepted and ignored.
func ParseChordSymbol(symbol string) (ChordContext, error) {
	base := strings.TrimSpace(symbol)
	if i := strings.Index(base, "/"); i >= 0 {
		base = strings.TrimSpace(base[:i])
	}

	root, rest, err := parseRootNote(base)
	if err != nil {
		return ChordContext{}, fmt.Errorf("invalid chord root: %w", err)
	}

	spec, ok := symbolSuffixes[rest]
	if !ok {
		return ChordContext{}, &UnknownChordQualityError{Value: rest}
	}
	return ChordContext{Root: root, Quality: spec.quality, Extensions: append([]int(nil), spec.extensions...)}, nil
}

// ChordToMIDI converts a chord symbol to MIDI note numbers rooted in the given
// octave (C4 = 60)
func ChordToMIDI(symbol string, octave int) ([]int, error) {
	chord, err := ParseChordSymbol(symbol)
	if err != nil {
		return nil, err
	}

	rootMIDI := (octave+1)*12 + chord.Root
	intervals := append([]int(nil), chordIntervals(chord.Quality)...)
	for _, ext := range chord.Extensions {
		// extensions voiced an octave up
		intervals = append(intervals, ext+12)
	}

	notes := make([]int, 0, len(intervals))
	for _, iv := range intervals {
		n := rootMIDI + iv
		if n < 0 || n > 127 {
			continue
		}
		notes = append(notes, n)
	}
	if len(notes) == 0 {
		return nil, fmt.Errorf("no valid MIDI notes generated for chord: %s", symbol)
	}
	return notes, nil
}

// NoteNameToMIDI converts a note name like "E1", "C4", "F#3", "Bb2" to a MIDI
// note number (C4 = 60)
func NoteNameToMIDI(noteName string) (int, error) {
	if len(noteName) < 2 {
		return 0, fmt.Errorf("note name too short: %s", noteName)
	}

	letter := strings.ToUpper(noteName[:1])
	semitone, ok := rootOffsets[letter]
	if !ok {
		return 0, fmt.Errorf("invalid note letter: %s", letter)
	}

	idx := 1
	switch noteName[idx] {
	case '#':
		semitone++
		idx++
	case 'b':
		semitone--
		idx++
	}
	if idx >= len(noteName) {
		return 0, fmt.Errorf("missing octave in note name: %s", noteName)
	}

	var octave int
	if _, err := fmt.Sscanf(noteName[idx:], "%d", &octave); err != nil {
		return 0, fmt.Errorf("invalid octave in note name %s: %w", noteName, err)
	}

	midiNote := (octave+1)*12 + semitone
	if midiNote < 0 || midiNote > 127 {
		return 0, fmt.Errorf("note %s outside MIDI range", noteName)
	}
	return midiNote, nil
}

func parseRootNote(symbol string) (int, string, error) {
	if symbol == "" {
		return 0, "", &InvalidRootError{Value: symbol}
	}
	name := symbol[:1]
	if len(symbol) > 1 && (symbol[1] == '#' || symbol[1] == 'b') {
		name = symbol[:2]
	}
	offset, ok := rootOffsets[name]
	if !ok {
		return 0, "", &InvalidRootError{Value: name}
	}
	return offset, symbol[len(name):], nil
}

// Recognition order: larger chords first so a full seventh wins over its triad
var recognitionOrder = []Quality{
	Dominant7, Major7, Minor7, HalfDiminished, Diminished7,
	Major, Minor, Diminished, Augmented, Sus4,
}

// RecognizeChord identifies root and quality from sounding pitches. Pitches may
// be MIDI notes or pitch classes. The bass note is tried as root first. Exact
// interval matches win; otherwise the largest quality contained in the set is
// chosen and the leftover tones become extensions.
func RecognizeChord(pitches []int) (ChordContext, error) {
	if len(pitches) == 0 {
		return ChordContext{}, &UnknownChordQualityError{Value: "no pitches"}
	}

	roots, present := candidateRoots(pitches)
	relative := func(root int) map[int]bool { return relativeTo(present, root) }

	for _, root := range roots {
		rel := relative(root)
		for _, q := range recognitionOrder {
			ivs := chordIntervals(q)
			if len(ivs) != len(rel) {
				continue
			}
			if containsAll(rel, ivs) {
				return ChordContext{Root: root, Quality: q}, nil
			}
		}
	}

	for _, q := range recognitionOrder {
		ivs := chordIntervals(q)
		for _, root := range roots {
			rel := relative(root)
			if !containsAll(rel, ivs) {
				continue
			}
			var ext []int
			for iv := range rel {
				if !intSliceContains(ivs, iv) {
					ext = append(ext, iv)
				}
			}
			sort.Ints(ext)
			return ChordContext{Root: root, Quality: q, Extensions: ext}, nil
		}
	}

	names := make([]string, 0, len(present))
	for _, pc := range roots {
		names = append(names, NoteNames[pc])
	}
	return ChordContext{}, &UnknownChordQualityError{Value: strings.Join(names, "-")}
}

// RecognizeRoot finds the root of pitches for an already known quality. The
// bass note is tried first, then the other pitch classes in ascending order;
// the first root whose chord tones are all present wins. Leftover tones
// become extensions.
func RecognizeRoot(pitches []int, quality Quality) (ChordContext, error) {
	if !quality.Valid() {
		return ChordContext{}, &UnknownChordQualityError{Value: quality.String()}
	}
	if len(pitches) == 0 {
		return ChordContext{}, &UnknownChordQualityError{Value: "no pitches"}
	}

	roots, present := candidateRoots(pitches)
	ivs := chordIntervals(quality)
	for _, root := range roots {
		rel := relativeTo(present, root)
		if !containsAll(rel, ivs) {
			continue
		}
		var ext []int
		for iv := range rel {
			if !intSliceContains(ivs, iv) {
				ext = append(ext, iv)
			}
		}
		sort.Ints(ext)
		return ChordContext{Root: root, Quality: quality, Extensions: ext}, nil
	}

	names := make([]string, 0, len(roots))
	for _, pc := range roots {
		names = append(names, NoteNames[pc])
	}
	return ChordContext{}, &UnknownChordQualityError{
		Value: fmt.Sprintf("%s over %s", quality, strings.Join(names, "-")),
	}
}

// candidateRoots returns the pitch classes present, bass first and the rest
// ascending, along with the pitch-class set
func candidateRoots(pitches []int) ([]int, map[int]bool) {
	bass := pitches[0]
	present := make(map[int]bool)
	for _, p := range pitches {
		if p < bass {
			bass = p
		}
		present[PitchClass(p)] = true
	}

	roots := []int{PitchClass(bass)}
	var others []int
	for pc := range present {
		if pc != PitchClass(bass) {
			others = append(others, pc)
		}
	}
	sort.Ints(others)
	return append(roots, others...), present
}

func relativeTo(present map[int]bool, root int) map[int]bool {
	rel := make(map[int]bool, len(present))
	for pc := range present {
		rel[PitchClass(pc-root)] = true
	}
	return rel
}

var estimateQualities = []Quality{Major7, Minor7, Dominant7, HalfDiminished, Major, Minor}

// EstimateChord picks the chord that best explains a pitch-class weight
// histogram: weight on chord tones minus weight outside the chord's scale.
// Ties keep the lowest root and the earlier quality.
func EstimateChord(histogram [12]float64) ChordContext {
	best := ChordContext{Root: 0, Quality: Major}
	bestScore := -1.0
	for root := 0; root < 12; root++ {
		for _, q := range estimateQualities {
			c := ChordContext{Root: root, Quality: q}
			inScale := make(map[int]bool)
			for _, pc := range ScaleFor(c) {
				inScale[pc] = true
			}
			score := 0.0
			for _, t := range ChordTones(c) {
				score += histogram[t]
			}
			for pc, w := range histogram {
				if !inScale[pc] {
					score -= w
				}
			}
			if score > bestScore+1e-9 {
				best, bestScore = c, score
			}
		}
	}
	return best
}

func containsAll(set map[int]bool, values []int) bool {
	for _, v := range values {
		if !set[v] {
			return false
		}
	}
	return true
}

func intSliceContains(values []int, v int) bool {
	for _, x := range values {
		if x == v {
			return true
		}
	}
	return false
}
