package features

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/smf"

	"github.com/Conceptual-Machines/magda-bebop/internal/models"
	"github.com/Conceptual-Machines/magda-bebop/internal/theory"
)

// ChordSpan is a recognized chord over a beat range of the source
type ChordSpan struct {
	Start float64
	End   float64
	Chord theory.ChordContext
}

// Source is a decoded MIDI file: one melody line plus the chord changes under it
type Source struct {
	Name   string
	Melody []models.NoteEvent
	Chords []ChordSpan
}

// ChordAt returns the chord sounding at beat, or the last chord before it
func (s *Source) ChordAt(beat float64) (theory.ChordContext, bool) {
	var last *ChordSpan
	for i := range s.Chords {
		span := &s.Chords[i]
		if span.Start <= beat && beat < span.End {
			return span.Chord, true
		}
		if span.Start <= beat {
			last = span
		}
	}
	if last != nil {
		return last.Chord, true
	}
	return theory.ChordContext{}, false
}

// ParseFile reads a Standard MIDI File from disk
func ParseFile(path string) (*Source, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ParseError{File: filepath.Base(path), Err: err}
	}
	return Parse(bytes.NewReader(data), filepath.Base(path))
}

type trackNotes struct {
	notes []models.NoteEvent
}

func (t trackNotes) meanPitch() float64 {
	if len(t.notes) == 0 {
		return 0
	}
	sum := 0
	for _, n := range t.notes {
		sum += n.Pitch
	}
	return float64(sum) / float64(len(t.notes))
}

// Parse decodes a Standard MIDI File. The track with the highest mean pitch
// is the melody; when it is polyphonic only the top voice is kept. All other
// notes feed chord recognition.
func Parse(r io.Reader, name string) (*Source, error) {
	s, err := smf.ReadFrom(r)
	if err != nil {
		return nil, &ParseError{File: name, Err: err}
	}

	mt, ok := s.TimeFormat.(smf.MetricTicks)
	if !ok {
		return nil, &MalformedInputError{File: name, Index: -1, Reason: "SMPTE time format is not supported"}
	}
	resolution := float64(mt.Resolution())
	if resolution <= 0 {
		return nil, &MalformedInputError{File: name, Index: -1, Reason: "zero tick resolution"}
	}

	var tracks []trackNotes
	zeroLength := 0
	for _, track := range s.Tracks {
		notes, dropped := readTrack(track, resolution)
		zeroLength += dropped
		if len(notes) > 0 {
			tracks = append(tracks, trackNotes{notes: notes})
		}
	}

	if len(tracks) == 0 {
		if zeroLength > 0 {
			return nil, &MalformedInputError{File: name, Index: -1, Reason: fmt.Sprintf("%d notes with zero length", zeroLength)}
		}
		return nil, &ParseError{File: name, Err: errors.New("no notes found")}
	}

	melodyIdx := 0
	for i, t := range tracks {
		if t.meanPitch() > tracks[melodyIdx].meanPitch() {
			melodyIdx = i
		}
	}

	melody, leftover := skyline(tracks[melodyIdx].notes)
	var accompaniment []models.NoteEvent
	accompaniment = append(accompaniment, leftover...)
	for i, t := range tracks {
		if i != melodyIdx {
			accompaniment = append(accompaniment, t.notes...)
		}
	}

	src := &Source{
		Name:   name,
		Melody: melody,
		Chords: chordSpans(accompaniment),
	}
	if err := ValidateNotes(name, src.Melody); err != nil {
		return nil, err
	}
	return src, nil
}

type activeNote struct {
	tick     uint64
	velocity uint8
}

// readTrack pairs note starts with note ends. Notes still sounding at the end
// of the track are closed there. Zero-length notes are counted and dropped.
func readTrack(track smf.Track, resolution float64) ([]models.NoteEvent, int) {
	var (
		notes   []models.NoteEvent
		dropped int
		tick    uint64
	)
	active := make(map[[2]uint8]activeNote)

	closeNote := func(key [2]uint8, end uint64) {
		on, ok := active[key]
		if !ok {
			return
		}
		delete(active, key)
		if end <= on.tick {
			dropped++
			return
		}
		notes = append(notes, models.NoteEvent{
			Pitch:         int(key[1]),
			Velocity:      int(on.velocity),
			StartBeats:    float64(on.tick) / resolution,
			DurationBeats: float64(end-on.tick) / resolution,
		})
	}

	for _, ev := range track {
		tick += uint64(ev.Delta)
		msg := midi.Message(ev.Message)

		var ch, key, vel uint8
		switch {
		case msg.GetNoteStart(&ch, &key, &vel):
			k := [2]uint8{ch, key}
			// retrigger closes the previous note on the same key
			closeNote(k, tick)
			active[k] = activeNote{tick: tick, velocity: vel}
		case msg.GetNoteEnd(&ch, &key):
			closeNote([2]uint8{ch, key}, tick)
		}
	}

	for k := range active {
		closeNote(k, tick)
	}

	sortNotes(notes)
	return notes, dropped
}

// skyline keeps the highest note of every onset and returns the rest separately
func skyline(notes []models.NoteEvent) (top, rest []models.NoteEvent) {
	for i := 0; i < len(notes); {
		j := i
		best := i
		for j < len(notes) && notes[j].StartBeats == notes[i].StartBeats {
			if notes[j].Pitch > notes[best].Pitch {
				best = j
			}
			j++
		}
		for k := i; k < j; k++ {
			if k == best {
				top = append(top, notes[k])
			} else {
				rest = append(rest, notes[k])
			}
		}
		i = j
	}
	return top, rest
}

// chordSpans groups accompaniment notes by onset and recognizes each group
func chordSpans(notes []models.NoteEvent) []ChordSpan {
	if len(notes) == 0 {
		return nil
	}
	sortNotes(notes)

	type group struct {
		start   float64
		end     float64
		pitches []int
	}
	var groups []group
	for _, n := range notes {
		if len(groups) > 0 && groups[len(groups)-1].start == n.StartBeats {
			g := &groups[len(groups)-1]
			g.pitches = append(g.pitches, n.Pitch)
			if n.EndBeats() > g.end {
				g.end = n.EndBeats()
			}
			continue
		}
		groups = append(groups, group{start: n.StartBeats, end: n.EndBeats(), pitches: []int{n.Pitch}})
	}

	var spans []ChordSpan
	for i, g := range groups {
		chord, err := theory.RecognizeChord(g.pitches)
		if err != nil {
			continue
		}
		end := g.end
		if i+1 < len(groups) {
			end = groups[i+1].start
		}
		spans = append(spans, ChordSpan{Start: g.start, End: end, Chord: chord})
	}
	return spans
}

// ValidateNotes checks ranges, positive durations and non-decreasing onsets
func ValidateNotes(file string, notes []models.NoteEvent) error {
	prev := 0.0
	for i, n := range notes {
		if n.StartBeats < 0 {
			return &MalformedInputError{File: file, Index: i, Reason: "negative start time"}
		}
		if i > 0 && n.StartBeats < prev {
			return &MalformedInputError{File: file, Index: i, Reason: "start times are not monotonic"}
		}
		if err := n.Validate(); err != nil {
			return &MalformedInputError{File: file, Index: i, Reason: err.Error()}
		}
		prev = n.StartBeats
	}
	return nil
}

func sortNotes(notes []models.NoteEvent) {
	sort.SliceStable(notes, func(i, j int) bool {
		if notes[i].StartBeats != notes[j].StartBeats {
			return notes[i].StartBeats < notes[j].StartBeats
		}
		return notes[i].Pitch < notes[j].Pitch
	})
}
