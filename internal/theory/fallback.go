package theory

import (
	"errors"
	"fmt"
	"math"
	"math/rand"

	"github.com/Conceptual-Machines/magda-bebop/internal/models"
)

// FallbackOptions controls fallback phrase synthesis
type FallbackOptions struct {
	Seed int64
	// StartPitch is the pitch the line should connect from (usually the last
	// emitted note). Zero means the middle of the range.
	StartPitch int
	Low        int
	High       int
	Velocity   int
	// Rhythm restricts synthesis to one template; empty picks per cell
	Rhythm string
}

func (o FallbackOptions) withDefaults() FallbackOptions {
	if o.Low == 0 && o.High == 0 {
		o.Low, o.High = models.DefaultLowPitch, models.DefaultHighPitch
	}
	if o.Velocity == 0 {
		o.Velocity = 90
	}
	if o.StartPitch == 0 {
		o.StartPitch = (o.Low + o.High) / 2
	}
	return o
}

var fallbackRhythms = []string{"8ths", "standard", "syncopated", "mixed", "swing"}

// SynthesizeFallback builds a bebop line over the chord lasting lengthBeats,
// starting at beat 0. The same chord, length and options always give the same
// notes. Chord tones land on the beat; everything else comes from the bebop
// scale, so every note passes IsConsonant.
func SynthesizeFallback(chord ChordContext, lengthBeats float64, opts FallbackOptions) ([]models.NoteEvent, error) {
	if err := chord.Validate(); err != nil {
		return nil, err
	}
	if lengthBeats <= 0 {
		return nil, fmt.Errorf("fallback length %.2f must be positive", lengthBeats)
	}
	opts = opts.withDefaults()
	if opts.Low > opts.High || opts.Low < 0 || opts.High > 127 {
		return nil, fmt.Errorf("invalid pitch range %d-%d", opts.Low, opts.High)
	}

	ladder := ScalePitches(chord, opts.Low, opts.High)
	if len(ladder) == 0 {
		return nil, errors.New("no scale tones inside pitch range")
	}

	rng := rand.New(rand.NewSource(opts.Seed))
	shapes := PhraseShapeNames()

	anchor := opts.StartPitch
	if p, ok := NearestInRange(opts.StartPitch, chord, opts.Low, opts.High); ok {
		anchor = p
	}
	anchorIdx := nearestIndex(ladder, anchor)

	var notes []models.NoteEvent
	t := 0.0
	for t < lengthBeats-1e-9 {
		rhythmName := opts.Rhythm
		if rhythmName == "" {
			rhythmName = fallbackRhythms[rng.Intn(len(fallbackRhythms))]
		}
		tmpl, ok := GetRhythmTemplate(rhythmName)
		if !ok {
			return nil, fmt.Errorf("unknown rhythm template %q", rhythmName)
		}
		shape := phraseShapes[shapes[rng.Intn(len(shapes))]]

		// descend when the line runs out of room above
		direction := 1
		if anchorIdx+7 >= len(ladder) {
			direction = -1
		}

		lastIdx := anchorIdx
		for i, dur := range tmpl.Durations {
			if t >= lengthBeats-1e-9 {
				break
			}
			idx := reflect(anchorIdx+direction*shape[i%len(shape)], len(ladder))
			pitch := ladder[idx]

			onBeat := math.Abs(t-math.Round(t)) < 1e-9
			if onBeat && !IsChordTone(pitch, chord) {
				if p, ok := NearestInRange(pitch, chord, opts.Low, opts.High); ok {
					pitch = p
					idx = nearestIndex(ladder, p)
				}
			}

			length := dur
			if t+length > lengthBeats {
				length = lengthBeats - t
			}
			accent := 1.0
			if i < len(tmpl.Accents) {
				accent = tmpl.Accents[i]
			}
			velocity := int(float64(opts.Velocity) * accent)
			if velocity < 1 {
				velocity = 1
			}
			if velocity > 127 {
				velocity = 127
			}

			notes = append(notes, models.NoteEvent{
				Pitch:         pitch,
				Velocity:      velocity,
				StartBeats:    t,
				DurationBeats: length * tmpl.Articulation,
			})
			lastIdx = idx
			t += dur
		}
		anchorIdx = lastIdx
	}

	return notes, nil
}

// reflect folds an out-of-bounds ladder index back inside [0, n)
func reflect(idx, n int) int {
	if n == 1 {
		return 0
	}
	period := 2 * (n - 1)
	idx %= period
	if idx < 0 {
		idx += period
	}
	if idx >= n {
		idx = period - idx
	}
	return idx
}

func nearestIndex(ladder []int, pitch int) int {
	best := 0
	for i, p := range ladder {
		if abs(p-pitch) < abs(ladder[best]-pitch) {
			best = i
		}
	}
	return best
}
