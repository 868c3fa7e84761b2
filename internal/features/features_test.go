package features

import (
	"bytes"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Conceptual-Machines/magda-bebop/internal/models"
	"github.com/Conceptual-Machines/magda-bebop/internal/theory"
)

func encodeSMF(t *testing.T, tracks ...[]models.NoteEvent) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, WriteSMF(&buf, 120, tracks...))
	return buf.Bytes()
}

func line(pitches []int, beat float64) []models.NoteEvent {
	notes := make([]models.NoteEvent, len(pitches))
	for i, p := range pitches {
		notes[i] = models.NoteEvent{Pitch: p, Velocity: 80, StartBeats: float64(i) * beat, DurationBeats: beat}
	}
	return notes
}

func block(chords [][]int, beats float64) []models.NoteEvent {
	var notes []models.NoteEvent
	for i, chord := range chords {
		for _, p := range chord {
			notes = append(notes, models.NoteEvent{Pitch: p, Velocity: 60, StartBeats: float64(i) * beats, DurationBeats: beats})
		}
	}
	return notes
}

func TestParseSeparatesMelodyAndChords(t *testing.T) {
	melody := line([]int{60, 62, 64, 65, 67, 69, 71, 72}, 1)
	chords := block([][]int{{48, 52, 55}, {53, 57, 48}, {55, 59, 50}, {48, 52, 55}}, 2)

	src, err := Parse(bytes.NewReader(encodeSMF(t, chords, melody)), "cmajor_scale.mid")
	require.NoError(t, err)

	require.Len(t, src.Melody, 8)
	assert.Equal(t, 60, src.Melody[0].Pitch)
	assert.InDelta(t, 7.0, src.Melody[7].StartBeats, 1e-9)
	assert.InDelta(t, 1.0, src.Melody[7].DurationBeats, 1e-9)

	require.Len(t, src.Chords, 4)
	assert.Equal(t, theory.ChordContext{Root: 0, Quality: theory.Major}, src.Chords[0].Chord)
	assert.Equal(t, 5, src.Chords[1].Chord.Root)
	assert.Equal(t, 7, src.Chords[2].Chord.Root)

	chord, ok := src.ChordAt(2.5)
	require.True(t, ok)
	assert.Equal(t, 5, chord.Root)
}

func TestParseSkylinesPolyphonicMelody(t *testing.T) {
	notes := []models.NoteEvent{
		{Pitch: 60, Velocity: 70, StartBeats: 0, DurationBeats: 1},
		{Pitch: 64, Velocity: 70, StartBeats: 0, DurationBeats: 1},
		{Pitch: 67, Velocity: 70, StartBeats: 0, DurationBeats: 1},
		{Pitch: 72, Velocity: 90, StartBeats: 0, DurationBeats: 1},
		{Pitch: 74, Velocity: 90, StartBeats: 1, DurationBeats: 1},
	}

	src, err := Parse(bytes.NewReader(encodeSMF(t, notes)), "poly.mid")
	require.NoError(t, err)

	require.Len(t, src.Melody, 2)
	assert.Equal(t, 72, src.Melody[0].Pitch)
	assert.Equal(t, 74, src.Melody[1].Pitch)
	require.Len(t, src.Chords, 1)
	assert.Equal(t, theory.Major, src.Chords[0].Chord.Quality)
}

func TestParseErrors(t *testing.T) {
	_, err := Parse(bytes.NewReader([]byte("not a midi file")), "junk.mid")
	var perr *ParseError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, "junk.mid", perr.File)

	_, err = Parse(bytes.NewReader(encodeSMF(t, nil)), "empty.mid")
	require.True(t, errors.As(err, &perr))
}

func TestValidateNotes(t *testing.T) {
	ok := line([]int{60, 62}, 1)
	assert.NoError(t, ValidateNotes("x", ok))

	tests := []struct {
		name  string
		notes []models.NoteEvent
	}{
		{"negative start", []models.NoteEvent{{Pitch: 60, Velocity: 80, StartBeats: -1, DurationBeats: 1}}},
		{"non monotonic", []models.NoteEvent{
			{Pitch: 60, Velocity: 80, StartBeats: 2, DurationBeats: 1},
			{Pitch: 62, Velocity: 80, StartBeats: 1, DurationBeats: 1},
		}},
		{"zero duration", []models.NoteEvent{{Pitch: 60, Velocity: 80, StartBeats: 0, DurationBeats: 0}}},
		{"pitch out of range", []models.NoteEvent{{Pitch: 130, Velocity: 80, StartBeats: 0, DurationBeats: 1}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var merr *MalformedInputError
			assert.True(t, errors.As(ValidateNotes("x", tt.notes), &merr))
		})
	}
}

func TestSegment(t *testing.T) {
	t.Run("splits at silence", func(t *testing.T) {
		notes := append(line([]int{60, 62, 64}, 0.5), line([]int{67, 65, 64}, 0.5)...)
		for i := 3; i < 6; i++ {
			notes[i].StartBeats += 4
		}
		frags := Segment("a.mid", notes, DefaultSegmentOptions())
		require.Len(t, frags, 2)
		assert.InDelta(t, 4.0, frags[1].Source.Offset, 1e-9)
		assert.Equal(t, 1, frags[1].Source.Ordinal)
		assert.InDelta(t, 0.0, frags[1].Notes[0].StartBeats, 1e-9, "fragments are re-timed")
	})

	t.Run("windows a run without pauses", func(t *testing.T) {
		notes := line([]int{60, 62, 64, 65, 67, 69, 71, 72, 74, 76, 77, 79}, 1)
		frags := Segment("b.mid", notes, SegmentOptions{WindowBeats: 4})
		require.Len(t, frags, 3)
		for _, f := range frags {
			assert.Len(t, f.Notes, 4)
		}
	})

	t.Run("drops short fragments", func(t *testing.T) {
		notes := []models.NoteEvent{
			{Pitch: 60, Velocity: 80, StartBeats: 0, DurationBeats: 1},
			{Pitch: 62, Velocity: 80, StartBeats: 10, DurationBeats: 1},
			{Pitch: 64, Velocity: 80, StartBeats: 11, DurationBeats: 1},
		}
		frags := Segment("c.mid", notes, DefaultSegmentOptions())
		require.Len(t, frags, 1)
		assert.Equal(t, 62, frags[0].Notes[0].Pitch)
	})
}

func TestVectorDeterministic(t *testing.T) {
	a := models.MelodyFragment{Source: models.SourceRef{File: "a.mid"}, Notes: line([]int{60, 64, 67, 72}, 0.5)}
	b := models.MelodyFragment{Source: models.SourceRef{File: "b.mid", Offset: 12}, Notes: line([]int{60, 64, 67, 72}, 0.5)}

	va, vb := Vector(a), Vector(b)
	assert.Len(t, va, Dimension)
	assert.Equal(t, va, vb, "source metadata must not change the vector")

	c := models.MelodyFragment{Notes: line([]int{60, 63, 67, 72}, 0.5)}
	assert.NotEqual(t, va, Vector(c))
}

func TestVectorLayout(t *testing.T) {
	frag := models.MelodyFragment{Notes: line([]int{60, 62, 64, 65, 67, 69, 71, 72}, 1)}
	v := Vector(frag)

	sum := func(lo, hi int) float64 {
		s := 0.0
		for _, x := range v[lo:hi] {
			s += x
		}
		return s
	}

	assert.InDelta(t, 1.0, sum(PitchClassOffset, IntervalOffset), 1e-9)
	assert.InDelta(t, 1.0, sum(IntervalOffset, DensityOffset), 1e-9)
	assert.InDelta(t, 1.0, sum(ContourOffset, Dimension), 1e-9)
	assert.InDelta(t, 0.25, v[PitchClassOffset+0], 1e-9, "C sounds twice")
	assert.InDelta(t, 0.125, v[PitchClassOffset+2], 1e-9)
	assert.InDelta(t, 0.5, v[DensityOffset], 1e-9, "one note per beat")

	// every step is 1 or 2 semitones up
	assert.InDelta(t, 1.0, v[IntervalOffset+5], 1e-9)
}

func TestIntervalBucket(t *testing.T) {
	cases := map[int]int{-12: 0, -7: 1, -3: 2, -1: 3, 0: 4, 2: 5, 4: 6, 7: 7, 9: 8}
	for step, bucket := range cases {
		assert.Equal(t, bucket, intervalBucket(step), "step %d", step)
	}
}

func TestDistance(t *testing.T) {
	a := FeatureVector{0, 0, 0}
	b := FeatureVector{3, 4, 0}
	assert.InDelta(t, 5.0, Distance(a, b), 1e-9)
	assert.Equal(t, 0.0, Distance(b, b))
	assert.False(t, math.IsNaN(Distance(a, a)))
}

func TestExtractUsesChordTrack(t *testing.T) {
	melody := line([]int{67, 69, 71, 72, 74, 76, 77, 79}, 1)
	chords := block([][]int{{50, 53, 57, 60}, {55, 58, 62, 65}, {48, 52, 55, 59}}, 2)

	src, err := Parse(bytes.NewReader(encodeSMF(t, chords, melody)), "jazz_ii_v_i.mid")
	require.NoError(t, err)

	out := Extract(src, DefaultSegmentOptions())
	require.Len(t, out, 1)
	assert.Equal(t, 2, out[0].Chord.Root)
	assert.Equal(t, theory.Minor7, out[0].Chord.Quality)
	assert.Len(t, out[0].Vector, Dimension)
}

func TestExtractEstimatesChordWithoutAccompaniment(t *testing.T) {
	src := &Source{Name: "solo.mid", Melody: line([]int{60, 62, 64, 65, 67, 69, 71, 72}, 1)}
	out := Extract(src, DefaultSegmentOptions())
	require.Len(t, out, 1)
	assert.Equal(t, 0, out[0].Chord.Root)
}

func TestWriteSMFRejectsInvalidNotes(t *testing.T) {
	var buf bytes.Buffer
	err := WriteSMF(&buf, 120, []models.NoteEvent{{Pitch: 200, Velocity: 80, DurationBeats: 1}})
	assert.Error(t, err)

	err = WriteSMF(&buf, 120, []models.NoteEvent{{Pitch: 60, Velocity: 80, StartBeats: 0, DurationBeats: 0}})
	assert.Error(t, err)
}
