package solo

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Conceptual-Machines/magda-bebop/internal/theory"
)

// State is the generator mode of a session
type State int

const (
	// Idle has no active chord
	Idle State = iota
	// Retrieving has an index query in flight
	Retrieving
	// Playing emits an adapted retrieved fragment
	Playing
	// Fallback emits a phrase synthesized from theory alone
	Fallback
)

var stateNames = map[State]string{
	Idle:       "IDLE",
	Retrieving: "RETRIEVING",
	Playing:    "PLAYING",
	Fallback:   "FALLBACK",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// MarshalText encodes the state by name
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a state name
func (s *State) UnmarshalText(text []byte) error {
	name := strings.ToUpper(string(text))
	for st, n := range stateNames {
		if n == name {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown session state %q", text)
}

var (
	// ErrStopped is returned by operations on a stopped session
	ErrStopped = errors.New("solo session stopped")
	// ErrNoMelody is returned by feedback operations before anything was played
	ErrNoMelody = errors.New("no melody has been played yet")
	// ErrChordChanged is returned by Repeat when the last phrase cannot be
	// carried over to the chord now playing
	ErrChordChanged = errors.New("last phrase does not fit the current chord")
	// ErrSessionNotFound is returned by the manager for unknown ids
	ErrSessionNotFound = errors.New("solo session not found")
)

// QueryTimeoutError is returned when retrieval does not answer within budget
type QueryTimeoutError struct {
	Budget time.Duration
}

func (e *QueryTimeoutError) Error() string {
	return fmt.Sprintf("retrieval exceeded budget of %s", e.Budget)
}

// ChordEvent is a chord arriving from live input. Symbol wins when set;
// otherwise Quality names the chord quality and the root is the first of
// Pitches (bass first) whose chord tones are all present, or Root when no
// pitches are given.
type ChordEvent struct {
	Symbol    string    `json:"symbol,omitempty"`
	Root      int       `json:"root"`
	Quality   string    `json:"quality,omitempty"`
	Pitches   []int     `json:"pitches,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Resolve turns the event into a validated chord
func (e ChordEvent) Resolve() (theory.ChordContext, error) {
	if strings.TrimSpace(e.Symbol) != "" {
		return theory.ParseChordSymbol(e.Symbol)
	}

	quality, err := theory.ParseQuality(e.Quality)
	if err != nil {
		return theory.ChordContext{}, err
	}

	if len(e.Pitches) > 0 {
		return theory.RecognizeRoot(e.Pitches, quality)
	}
	return theory.NewChord(e.Root, quality)
}
