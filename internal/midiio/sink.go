package midiio

import (
	"fmt"
	"io"
	"sort"
	"sync"

	"gitlab.com/gomidi/midi/v2"

	"github.com/Conceptual-Machines/magda-bebop/internal/features"
	"github.com/Conceptual-Machines/magda-bebop/internal/models"
)

// controller 123 is All Notes Off
const allNotesOff = 123

// SendFunc delivers one message to an output port
type SendFunc func(msg midi.Message) error

// MessageSink turns generated notes into MIDI messages on one channel
type MessageSink struct {
	channel uint8
	send    SendFunc

	mu   sync.Mutex
	held map[uint8]int
}

// NewMessageSink creates a sink writing to send on channel 0-15
func NewMessageSink(channel uint8, send SendFunc) (*MessageSink, error) {
	if channel > 15 {
		return nil, fmt.Errorf("midi channel %d out of range 0-15", channel)
	}
	if send == nil {
		return nil, fmt.Errorf("message sink requires a send function")
	}
	return &MessageSink{channel: channel, send: send, held: make(map[uint8]int)}, nil
}

// NoteOn sends a note on
func (s *MessageSink) NoteOn(n models.NoteEvent) error {
	if err := n.Validate(); err != nil {
		return err
	}
	key := uint8(n.Pitch)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.send(midi.NoteOn(s.channel, key, uint8(n.Velocity))); err != nil {
		return err
	}
	s.held[key]++
	return nil
}

// NoteOff sends a note off
func (s *MessageSink) NoteOff(n models.NoteEvent) error {
	key := uint8(n.Pitch)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.held[key] > 1 {
		s.held[key]--
	} else {
		delete(s.held, key)
	}
	return s.send(midi.NoteOff(s.channel, key))
}

// Silence releases every held key, then sends All Notes Off
func (s *MessageSink) Silence() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	keys := make([]int, 0, len(s.held))
	for k := range s.held {
		keys = append(keys, int(k))
	}
	sort.Ints(keys)
	s.held = make(map[uint8]int)

	var firstErr error
	for _, k := range keys {
		if err := s.send(midi.NoteOff(s.channel, uint8(k))); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := s.send(midi.ControlChange(s.channel, allNotesOff, 0)); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// BufferSink keeps every emitted note in memory. It backs sessions driven
// over HTTP and offline renders.
type BufferSink struct {
	mu       sync.Mutex
	notes    []models.NoteEvent
	released int
	silenced int
	sounding map[int]int
}

// NewBufferSink creates an empty buffer
func NewBufferSink() *BufferSink {
	return &BufferSink{sounding: make(map[int]int)}
}

// NoteOn stores the note
func (b *BufferSink) NoteOn(n models.NoteEvent) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.notes = append(b.notes, n)
	b.sounding[n.Pitch]++
	return nil
}

// NoteOff counts the release
func (b *BufferSink) NoteOff(n models.NoteEvent) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.released++
	if b.sounding[n.Pitch] > 1 {
		b.sounding[n.Pitch]--
	} else {
		delete(b.sounding, n.Pitch)
	}
	return nil
}

// Silence drops every sounding note
func (b *BufferSink) Silence() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.silenced++
	b.sounding = make(map[int]int)
	return nil
}

// Notes returns a copy of every note emitted so far
func (b *BufferSink) Notes() []models.NoteEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]models.NoteEvent(nil), b.notes...)
}

// Since returns the notes starting at or after beat
func (b *BufferSink) Since(beat float64) []models.NoteEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []models.NoteEvent
	for _, n := range b.notes {
		if n.StartBeats >= beat {
			out = append(out, n)
		}
	}
	return out
}

// Sounding returns the number of notes not yet released
func (b *BufferSink) Sounding() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, c := range b.sounding {
		n += c
	}
	return n
}

// Silenced returns how many times Silence was called
func (b *BufferSink) Silenced() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.silenced
}

// WriteSMF writes the buffered notes as the first track of a MIDI file,
// followed by any extra tracks
func (b *BufferSink) WriteSMF(w io.Writer, tempo float64, extra ...[]models.NoteEvent) error {
	tracks := append([][]models.NoteEvent{b.Notes()}, extra...)
	return features.WriteSMF(w, tempo, tracks...)
}
