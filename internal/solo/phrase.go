package solo

import (
	"math"
	"sort"

	"github.com/Conceptual-Machines/magda-bebop/internal/index"
	"github.com/Conceptual-Machines/magda-bebop/internal/models"
	"github.com/Conceptual-Machines/magda-bebop/internal/theory"
)

const beatEpsilon = 1e-9

// phrase is a scheduled run of notes. rel keeps the notes relative to the
// phrase start so the phrase can be replayed.
type phrase struct {
	rel    []models.NoteEvent
	start  float64
	next   int
	source string
	mode   State
	chord  theory.ChordContext
}

func newPhrase(rel []models.NoteEvent, start float64, source string, mode State, chord theory.ChordContext) *phrase {
	return &phrase{rel: rel, start: start, source: source, mode: mode, chord: chord}
}

func (p *phrase) note(i int) models.NoteEvent {
	n := p.rel[i]
	n.StartBeats += p.start
	return n
}

func (p *phrase) exhausted() bool {
	return p.next >= len(p.rel)
}

// end is the beat at which the last note stops
func (p *phrase) end() float64 {
	end := p.start
	for _, n := range p.rel {
		if e := p.start + n.EndBeats(); e > end {
			end = e
		}
	}
	return end
}

// truncate drops every note that has not started yet
func (p *phrase) truncate() {
	p.rel = p.rel[:p.next]
}

// absolute returns the phrase notes in session beats
func (p *phrase) absolute() []models.NoteEvent {
	out := make([]models.NoteEvent, len(p.rel))
	for i := range p.rel {
		out[i] = p.note(i)
	}
	return out
}

// candidate is a retrieval result ranked with listener preferences
type candidate struct {
	result index.Result
	score  float64
}

func rankCandidates(results []index.Result, prefs *Preferences) []candidate {
	ranked := make([]candidate, len(results))
	for i, r := range results {
		ranked[i] = candidate{result: r, score: r.Distance * prefs.Factor(r.Record.ID)}
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].score < ranked[j].score
	})
	return ranked
}

// adapt moves a retrieved fragment onto the target chord. The fragment is
// transposed by the root difference, placed in the octave nearest the
// voice-led continuation of from, then reharmonized. It reports false when
// more than maxDissonance of the transposed notes clash with the chord.
func adapt(rec index.Record, target theory.ChordContext, from int, cfg Config) ([]models.NoteEvent, bool) {
	src := rec.Fragment.Notes
	if len(src) == 0 {
		return nil, false
	}

	shift := 0
	if rec.Chord.Quality.Valid() {
		shift = theory.PitchClass(target.Root - rec.Chord.Root)
		if shift > 6 {
			shift -= 12
		}
	}

	first := src[0].Pitch + shift
	anchor, ok := theory.NearestInRange(from, target, cfg.LowPitch, cfg.HighPitch)
	if !ok {
		anchor = (cfg.LowPitch + cfg.HighPitch) / 2
	}
	shift += 12 * int(math.Round(float64(anchor-first)/12))

	pitches := make([]int, len(src))
	for i, n := range src {
		pitches[i] = n.Pitch + shift
	}

	clashes := 0
	for _, p := range pitches {
		if !theory.IsConsonant(p, target) {
			clashes++
		}
	}
	if float64(clashes)/float64(len(pitches)) > cfg.MaxDissonance {
		return nil, false
	}

	origin := rec.Fragment.Start()
	notes := make([]models.NoteEvent, 0, len(src))
	for i, n := range src {
		pitch := pitches[i]
		if !theory.IsConsonant(pitch, target) {
			if p, ok := theory.NearestInRange(pitch, target, cfg.LowPitch, cfg.HighPitch); ok {
				pitch = p
			}
		}
		pitch = foldIntoRange(pitch, cfg.LowPitch, cfg.HighPitch)

		notes = append(notes, models.NoteEvent{
			Pitch:         pitch,
			Velocity:      clampVelocity(n.Velocity),
			StartBeats:    n.StartBeats - origin,
			DurationBeats: n.DurationBeats,
		})
	}
	return quantize(notes, cfg.Quantize), true
}

// foldIntoRange moves a pitch by octaves until it fits, keeping its pitch class
func foldIntoRange(pitch, low, high int) int {
	for pitch < low {
		pitch += 12
	}
	for pitch > high {
		pitch -= 12
	}
	return pitch
}

func clampVelocity(v int) int {
	if v < 1 {
		return 1
	}
	if v > 127 {
		return 127
	}
	return v
}

// quantize snaps onsets and lengths to a grid of steps per beat. Every note
// keeps at least one step; onsets that collide after snapping keep the first.
func quantize(notes []models.NoteEvent, steps int) []models.NoteEvent {
	grid := float64(steps)
	out := make([]models.NoteEvent, 0, len(notes))
	last := -1.0
	for _, n := range notes {
		start := math.Round(n.StartBeats*grid) / grid
		if start <= last+beatEpsilon {
			continue
		}
		dur := math.Round(n.DurationBeats*grid) / grid
		if dur < 1/grid {
			dur = 1 / grid
		}
		n.StartBeats = start
		n.DurationBeats = dur
		out = append(out, n)
		last = start
	}
	return out
}

// nextBoundary is the first whole beat at or after beat
func nextBoundary(beat float64) float64 {
	return math.Ceil(beat - beatEpsilon)
}
