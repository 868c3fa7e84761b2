// Package midiio adapts live MIDI messages to solo sessions: it detects
// chords from held keys and turns generated notes back into messages.
package midiio

import (
	"context"
	"sort"
	"sync"
	"time"

	"gitlab.com/gomidi/midi/v2"

	"github.com/Conceptual-Machines/magda-bebop/internal/solo"
	"github.com/Conceptual-Machines/magda-bebop/internal/theory"
)

// Detector defaults: a chord needs two keys held unchanged for half a second
const (
	DefaultStableTime = 500 * time.Millisecond
	DefaultMinNotes   = 2
	pollInterval      = 10 * time.Millisecond
)

// ChordDetector reports a chord once the set of held keys has stopped
// changing for the stable time. Each stable set is reported once.
type ChordDetector struct {
	stable   time.Duration
	minNotes int

	mu         sync.Mutex
	held       map[uint8]bool
	lastChange time.Time
	reported   bool
}

// NewChordDetector creates a detector. Zero values take the defaults.
func NewChordDetector(stable time.Duration, minNotes int) *ChordDetector {
	if stable <= 0 {
		stable = DefaultStableTime
	}
	if minNotes <= 0 {
		minNotes = DefaultMinNotes
	}
	return &ChordDetector{stable: stable, minNotes: minNotes, held: make(map[uint8]bool)}
}

// Feed updates the held keys from one message received at the given time.
// Anything other than note on/off is ignored.
func (d *ChordDetector) Feed(msg midi.Message, at time.Time) {
	var ch, key, vel uint8

	d.mu.Lock()
	defer d.mu.Unlock()

	switch {
	case msg.GetNoteStart(&ch, &key, &vel):
		if !d.held[key] {
			d.held[key] = true
			d.touch(at)
		}
	case msg.GetNoteEnd(&ch, &key):
		if d.held[key] {
			delete(d.held, key)
			d.touch(at)
		}
	}
}

func (d *ChordDetector) touch(at time.Time) {
	d.lastChange = at
	d.reported = false
}

// Held returns the held keys, lowest first
func (d *ChordDetector) Held() []int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.heldLocked()
}

func (d *ChordDetector) heldLocked() []int {
	keys := make([]int, 0, len(d.held))
	for k := range d.held {
		keys = append(keys, int(k))
	}
	sort.Ints(keys)
	return keys
}

// Poll returns a chord event when the held set has become stable. Sets the
// recognizer cannot name are still reported, with pitches only, so the
// session can reject them.
func (d *ChordDetector) Poll(now time.Time) (solo.ChordEvent, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.reported || len(d.held) < d.minNotes || now.Sub(d.lastChange) < d.stable {
		return solo.ChordEvent{}, false
	}
	d.reported = true

	pitches := d.heldLocked()
	ev := solo.ChordEvent{Pitches: pitches, Timestamp: now}
	if chord, err := theory.RecognizeChord(pitches); err == nil {
		ev.Symbol = chord.Symbol()
	}
	return ev, true
}

// Run feeds messages from in and sends detected chords to out until ctx is
// done or in is closed.
func (d *ChordDetector) Run(ctx context.Context, in <-chan midi.Message, out chan<- solo.ChordEvent) error {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-in:
			if !ok {
				return nil
			}
			d.Feed(msg, time.Now())
		case now := <-ticker.C:
			ev, ok := d.Poll(now)
			if !ok {
				continue
			}
			select {
			case out <- ev:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}
