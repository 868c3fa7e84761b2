package features

import (
	"fmt"
	"io"
	"math"
	"sort"

	"gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/smf"

	"github.com/Conceptual-Machines/magda-bebop/internal/models"
)

// TicksPerBeat is the resolution of files written by WriteSMF
const TicksPerBeat = 480

type point struct {
	tick uint32
	on   bool
	key  uint8
	vel  uint8
}

// WriteSMF encodes one track per note list as a Standard MIDI File. The
// first track carries the tempo. Notes are written on channel 0.
func WriteSMF(w io.Writer, tempo float64, tracks ...[]models.NoteEvent) error {
	s := smf.New()
	s.TimeFormat = smf.MetricTicks(TicksPerBeat)

	for i, notes := range tracks {
		var tr smf.Track
		if i == 0 && tempo > 0 {
			tr.Add(0, smf.MetaTempo(tempo))
		}

		points := make([]point, 0, 2*len(notes))
		for _, n := range notes {
			if err := n.Validate(); err != nil {
				return fmt.Errorf("track %d: %w", i, err)
			}
			start := toTicks(n.StartBeats)
			end := toTicks(n.EndBeats())
			if end <= start {
				end = start + 1
			}
			points = append(points,
				point{tick: start, on: true, key: uint8(n.Pitch), vel: uint8(n.Velocity)},
				point{tick: end, key: uint8(n.Pitch)},
			)
		}
		// offs go before ons on the same tick so repeated keys retrigger
		sort.SliceStable(points, func(a, b int) bool {
			if points[a].tick != points[b].tick {
				return points[a].tick < points[b].tick
			}
			return !points[a].on && points[b].on
		})

		var last uint32
		for _, p := range points {
			if p.on {
				tr.Add(p.tick-last, midi.NoteOn(0, p.key, p.vel))
			} else {
				tr.Add(p.tick-last, midi.NoteOff(0, p.key))
			}
			last = p.tick
		}
		tr.Close(0)
		if err := s.Add(tr); err != nil {
			return fmt.Errorf("add track %d: %w", i, err)
		}
	}

	_, err := s.WriteTo(w)
	return err
}

func toTicks(beats float64) uint32 {
	if beats <= 0 {
		return 0
	}
	return uint32(math.Round(beats * TicksPerBeat))
}
