package theory

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Quality is the harmonic function of a chord
type Quality uint8

// Supported chord qualities. The zero value is not a valid quality.
const (
	qualityInvalid Quality = iota
	Major
	Minor
	Dominant7
	HalfDiminished
	Diminished
	Major7
	Minor7
	Diminished7
	Augmented
	Sus4
)

// AllQualities lists every valid quality in table order
var AllQualities = []Quality{
	Major, Minor, Dominant7, HalfDiminished, Diminished,
	Major7, Minor7, Diminished7, Augmented, Sus4,
}

var qualityNames = map[Quality]string{
	Major:          "major",
	Minor:          "minor",
	Dominant7:      "dominant7",
	HalfDiminished: "half-diminished",
	Diminished:     "diminished",
	Major7:         "major7",
	Minor7:         "minor7",
	Diminished7:    "diminished7",
	Augmented:      "augmented",
	Sus4:           "sus4",
}

// Aliases accepted from chord symbols and external callers
var qualityAliases = map[string]Quality{
	"maj":      Major,
	"M":        Major,
	"min":      Minor,
	"m":        Minor,
	"-":        Minor,
	"7":        Dominant7,
	"dom7":     Dominant7,
	"dom":      Dominant7,
	"dominant": Dominant7,
	"m7b5":     HalfDiminished,
	"min7b5":   HalfDiminished,
	"ø":        HalfDiminished,
	"halfdim":  HalfDiminished,
	"half-dim": HalfDiminished,
	"dim":      Diminished,
	"o":        Diminished,
	"maj7":     Major7,
	"M7":       Major7,
	"Δ":        Major7,
	"m7":       Minor7,
	"min7":     Minor7,
	"-7":       Minor7,
	"dim7":     Diminished7,
	"o7":       Diminished7,
	"aug":      Augmented,
	"+":        Augmented,
	"sus":      Sus4,
}

// UnknownChordQualityError is returned when a chord cannot be mapped to a Quality
type UnknownChordQualityError struct {
	Value string
}

func (e *UnknownChordQualityError) Error() string {
	if e.Value == "" {
		return "unknown chord quality: quality not specified"
	}
	return fmt.Sprintf("unknown chord quality: %q", e.Value)
}

// InvalidRootError is returned for a chord root that is not a note name or
// lies outside 0-11
type InvalidRootError struct {
	Value string
}

func (e *InvalidRootError) Error() string {
	if e.Value == "" {
		return "invalid chord root: root not specified"
	}
	return fmt.Sprintf("invalid chord root: %q", e.Value)
}

// ParseQuality maps a quality name or alias to a Quality
func ParseQuality(s string) (Quality, error) {
	trimmed := strings.TrimSpace(s)
	for q, name := range qualityNames {
		if strings.EqualFold(name, trimmed) {
			return q, nil
		}
	}
	if q, ok := qualityAliases[trimmed]; ok {
		return q, nil
	}
	return qualityInvalid, &UnknownChordQualityError{Value: s}
}

// Valid reports whether q is one of the supported qualities
func (q Quality) Valid() bool {
	_, ok := qualityNames[q]
	return ok
}

func (q Quality) String() string {
	if name, ok := qualityNames[q]; ok {
		return name
	}
	return fmt.Sprintf("quality(%d)", uint8(q))
}

// MarshalText encodes the quality by name
func (q Quality) MarshalText() ([]byte, error) {
	if !q.Valid() {
		return nil, &UnknownChordQualityError{Value: q.String()}
	}
	return []byte(q.String()), nil
}

// UnmarshalText decodes a quality name or alias
func (q *Quality) UnmarshalText(text []byte) error {
	parsed, err := ParseQuality(string(text))
	if err != nil {
		return err
	}
	*q = parsed
	return nil
}

// ChordContext is the harmony a melody is played against
type ChordContext struct {
	Root       int     `json:"root"`
	Quality    Quality `json:"quality"`
	Extensions []int   `json:"extensions,omitempty"`
}

// NewChord validates and builds a ChordContext
func NewChord(root int, quality Quality, extensions ...int) (ChordContext, error) {
	c := ChordContext{Root: root, Quality: quality, Extensions: extensions}
	if err := c.Validate(); err != nil {
		return ChordContext{}, err
	}
	return c, nil
}

// Validate checks the root range and the quality tag
func (c ChordContext) Validate() error {
	if c.Root < 0 || c.Root > 11 {
		return &InvalidRootError{Value: strconv.Itoa(c.Root)}
	}
	if !c.Quality.Valid() {
		return &UnknownChordQualityError{Value: c.Quality.String()}
	}
	return nil
}

// Symbol renders the chord as a lead-sheet symbol, e.g. "Dm7"
func (c ChordContext) Symbol() string {
	return NoteNames[PitchClass(c.Root)] + qualitySuffix(c.Quality)
}

func (c ChordContext) String() string {
	return c.Symbol()
}

// Equal compares root, quality and extensions
func (c ChordContext) Equal(other ChordContext) bool {
	if c.Root != other.Root || c.Quality != other.Quality || len(c.Extensions) != len(other.Extensions) {
		return false
	}
	for i := range c.Extensions {
		if c.Extensions[i] != other.Extensions[i] {
			return false
		}
	}
	return true
}

func qualitySuffix(q Quality) string {
	switch q {
	case Major:
		return ""
	case Minor:
		return "m"
	case Dominant7:
		return "7"
	case HalfDiminished:
		return "m7b5"
	case Diminished:
		return "dim"
	case Major7:
		return "maj7"
	case Minor7:
		return "m7"
	case Diminished7:
		return "dim7"
	case Augmented:
		return "aug"
	case Sus4:
		return "sus4"
	default:
		return "?"
	}
}

// NoteNames are the pitch-class spellings used in symbols and logs
var NoteNames = [12]string{"C", "Db", "D", "Eb", "E", "F", "Gb", "G", "Ab", "A", "Bb", "B"}

// PitchClass folds any integer pitch into 0-11
func PitchClass(pitch int) int {
	pc := pitch % 12
	if pc < 0 {
		pc += 12
	}
	return pc
}

// Semitones above the root for each quality
func chordIntervals(q Quality) []int {
	switch q {
	case Major:
		return []int{0, 4, 7}
	case Minor:
		return []int{0, 3, 7}
	case Dominant7:
		return []int{0, 4, 7, 10}
	case HalfDiminished:
		return []int{0, 3, 6, 10}
	case Diminished:
		return []int{0, 3, 6}
	case Major7:
		return []int{0, 4, 7, 11}
	case Minor7:
		return []int{0, 3, 7, 10}
	case Diminished7:
		return []int{0, 3, 6, 9}
	case Augmented:
		return []int{0, 4, 8}
	case Sus4:
		return []int{0, 5, 7}
	default:
		return nil
	}
}

// ChordTones returns the sorted pitch classes sounding in the chord,
// extensions included
func ChordTones(c ChordContext) []int {
	seen := make(map[int]bool)
	var tones []int
	add := func(interval int) {
		pc := PitchClass(c.Root + interval)
		if !seen[pc] {
			seen[pc] = true
			tones = append(tones, pc)
		}
	}
	for _, iv := range chordIntervals(c.Quality) {
		add(iv)
	}
	for _, ext := range c.Extensions {
		add(ext)
	}
	sort.Ints(tones)
	return tones
}

// IsChordTone reports whether pitch belongs to the chord
func IsChordTone(pitch int, c ChordContext) bool {
	pc := PitchClass(pitch)
	for _, t := range ChordTones(c) {
		if t == pc {
			return true
		}
	}
	return false
}
