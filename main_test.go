package main

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gitlab.com/gomidi/midi/v2"

	"github.com/Conceptual-Machines/magda-bebop/internal/midiio"
	"github.com/Conceptual-Machines/magda-bebop/internal/solo"
)

func TestFilterSensitiveHeaders(t *testing.T) {
	got := filterSensitiveHeaders(map[string]string{
		"Authorization": "Bearer abc",
		"Cookie":        "session=1",
		"X-API-Key":     "secret",
		"Content-Type":  "application/json",
	})

	assert.Equal(t, "[REDACTED]", got["Authorization"])
	assert.Equal(t, "[REDACTED]", got["Cookie"])
	assert.Equal(t, "[REDACTED]", got["X-API-Key"])
	assert.Equal(t, "application/json", got["Content-Type"])
}

func TestParsePitches(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		want    []int
		wantErr bool
	}{
		{"separate args", []string{"60", "64", "67"}, []int{60, 64, 67}, false},
		{"comma list", []string{"60,64,67"}, []int{60, 64, 67}, false},
		{"mixed", []string{"60, 64", "67"}, []int{60, 64, 67}, false},
		{"not a number", []string{"C4"}, nil, true},
		{"out of range", []string{"128"}, nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parsePitches(tt.args)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSplitChords(t *testing.T) {
	assert.Equal(t, []string{"Dm7", "G7", "Cmaj7"}, splitChords(" Dm7, G7,,Cmaj7 "))
	assert.Empty(t, splitChords(" , "))
}

func TestRenderProgressionTheoryOnly(t *testing.T) {
	sink := midiio.NewBufferSink()
	s, err := solo.NewSession(solo.DefaultConfig(), nil, sink)
	require.NoError(t, err)

	err = renderProgression(context.Background(), s, []string{"Dm7", "G7", "Cmaj7"}, 4)
	require.NoError(t, err)
	assert.True(t, s.Stopped())

	notes := sink.Notes()
	require.NotEmpty(t, notes)
	for _, n := range notes {
		assert.Greater(t, n.DurationBeats, 0.0)
		assert.Less(t, n.StartBeats, 12.0)
	}
}

func TestCompingTrack(t *testing.T) {
	notes, err := compingTrack([]string{"Dm7", "G7"}, 4)
	require.NoError(t, err)
	require.Len(t, notes, 8)

	// Dm7 voiced from D3
	assert.Equal(t, 50, notes[0].Pitch)
	assert.Equal(t, 0.0, notes[0].StartBeats)
	assert.Equal(t, 4.0, notes[0].DurationBeats)
	assert.Equal(t, 55, notes[4].Pitch)
	assert.Equal(t, 4.0, notes[4].StartBeats)

	_, err = compingTrack([]string{"Dm7", "Hxyz"}, 4)
	assert.Error(t, err)
}

func TestRenderProgressionRejectsUnknownChord(t *testing.T) {
	s, err := solo.NewSession(solo.DefaultConfig(), nil, midiio.NewBufferSink())
	require.NoError(t, err)

	err = renderProgression(context.Background(), s, []string{"Dm7", "Hxyz"}, 4)
	assert.Error(t, err)
}

func TestRunLive(t *testing.T) {
	t.Run("plays over held chord until input closes", func(t *testing.T) {
		sink := midiio.NewBufferSink()
		s, err := solo.NewSession(solo.DefaultConfig(), nil, sink)
		require.NoError(t, err)

		msgs := make(chan midi.Message, 8)
		// Dm7 held
		for _, k := range []uint8{50, 53, 57, 60} {
			msgs <- midi.NoteOn(0, k, 90)
		}
		go func() {
			time.Sleep(800 * time.Millisecond)
			close(msgs)
		}()

		detector := midiio.NewChordDetector(20*time.Millisecond, 3)
		err = runLive(context.Background(), s, detector, msgs, 240, 4)
		require.NoError(t, err)

		assert.True(t, s.Stopped())
		assert.NotEmpty(t, sink.Notes())
		assert.Zero(t, sink.Sounding())
	})

	t.Run("cancelled context returns cleanly", func(t *testing.T) {
		sink := midiio.NewBufferSink()
		s, err := solo.NewSession(solo.DefaultConfig(), nil, sink)
		require.NoError(t, err)

		ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
		defer cancel()

		err = runLive(ctx, s, midiio.NewChordDetector(0, 0), make(chan midi.Message), 120, 4)
		assert.NoError(t, err)
		assert.Empty(t, sink.Notes())
	})
}
