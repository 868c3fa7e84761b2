package solo

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Conceptual-Machines/magda-bebop/internal/features"
	"github.com/Conceptual-Machines/magda-bebop/internal/index"
	"github.com/Conceptual-Machines/magda-bebop/internal/models"
	"github.com/Conceptual-Machines/magda-bebop/internal/theory"
)

type recordingSink struct {
	mu       sync.Mutex
	on       []models.NoteEvent
	off      []models.NoteEvent
	silenced int
}

func (s *recordingSink) NoteOn(n models.NoteEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.on = append(s.on, n)
	return nil
}

func (s *recordingSink) NoteOff(n models.NoteEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.off = append(s.off, n)
	return nil
}

func (s *recordingSink) Silence() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.silenced++
	return nil
}

func (s *recordingSink) notesOn() []models.NoteEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.NoteEvent(nil), s.on...)
}

type fakeRetriever struct {
	mu        sync.Mutex
	results   []index.Result
	err       error
	delay     time.Duration
	calls     int
	once      sync.Once
	cancelled chan struct{}
}

func newFakeRetriever(results ...index.Result) *fakeRetriever {
	return &fakeRetriever{results: results, cancelled: make(chan struct{})}
}

func (f *fakeRetriever) Query(ctx context.Context, _ theory.ChordContext, _ int) ([]index.Result, error) {
	f.mu.Lock()
	f.calls++
	delay, results, err := f.delay, f.results, f.err
	f.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			f.once.Do(func() { close(f.cancelled) })
			return nil, ctx.Err()
		}
	}
	return results, err
}

func (f *fakeRetriever) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func mustChord(t *testing.T, symbol string) theory.ChordContext {
	t.Helper()
	c, err := theory.ParseChordSymbol(symbol)
	require.NoError(t, err)
	return c
}

// melodyRecord builds an eighth-note line
func melodyRecord(id string, chord theory.ChordContext, pitches ...int) index.Record {
	notes := make([]models.NoteEvent, len(pitches))
	for i, p := range pitches {
		notes[i] = models.NoteEvent{Pitch: p, Velocity: 80, StartBeats: float64(i) * 0.5, DurationBeats: 0.5}
	}
	frag := models.MelodyFragment{Source: models.SourceRef{File: id + ".mid"}, Notes: notes}
	return index.Record{ID: id, Vector: features.Vector(frag), Fragment: frag, Chord: chord}
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Seed = 7
	return cfg
}

func newTestSession(t *testing.T, cfg Config, r Retriever) (*Session, *recordingSink) {
	t.Helper()
	sink := &recordingSink{}
	s, err := NewSession(cfg, r, sink)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Stop() })
	return s, sink
}

func tickThrough(s *Session, from, to float64) {
	for b := from; b <= to+beatEpsilon; b += 0.25 {
		s.Tick(context.Background(), b)
	}
}

func TestChordEventResolve(t *testing.T) {
	tests := []struct {
		name    string
		event   ChordEvent
		want    theory.ChordContext
		wantErr bool
	}{
		{"symbol", ChordEvent{Symbol: "Dm7"}, theory.ChordContext{Root: 2, Quality: theory.Minor7}, false},
		{"quality and pitches", ChordEvent{Quality: "minor", Pitches: []int{67, 63, 60}}, theory.ChordContext{Root: 0, Quality: theory.Minor}, false},
		{"quality and root", ChordEvent{Quality: "dominant7", Root: 7}, theory.ChordContext{Root: 7, Quality: theory.Dominant7}, false},
		{"pitches without quality", ChordEvent{Pitches: []int{0, 3, 7}}, theory.ChordContext{}, true},
		{"unknown quality", ChordEvent{Quality: "lydian-ish", Root: 0}, theory.ChordContext{}, true},
		{"root out of range", ChordEvent{Quality: "major", Root: 14}, theory.ChordContext{}, true},
		{"pitch classes in root position order", ChordEvent{Quality: "major", Pitches: []int{7, 11, 2}}, theory.ChordContext{Root: 7, Quality: theory.Major}, false},
		{"first inversion", ChordEvent{Quality: "major", Pitches: []int{64, 67, 72}}, theory.ChordContext{Root: 0, Quality: theory.Major}, false},
		{"second inversion seventh", ChordEvent{Quality: "dom7", Pitches: []int{62, 65, 67, 71}}, theory.ChordContext{Root: 7, Quality: theory.Dominant7}, false},
		{"quality not in pitches", ChordEvent{Quality: "minor", Pitches: []int{60, 64, 67}}, theory.ChordContext{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.event.Resolve()
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.True(t, tt.want.Equal(got), "got %v", got)
		})
	}
}

func TestUnknownQualityLeavesStateUnchanged(t *testing.T) {
	cfg := testConfig()
	cfg.RAG = false
	s, _ := newTestSession(t, cfg, nil)

	// fresh session stays idle
	err := s.OnChord(context.Background(), ChordEvent{Pitches: []int{0, 3, 7}})
	var unknown *theory.UnknownChordQualityError
	require.ErrorAs(t, err, &unknown)
	assert.Equal(t, Idle, s.Status().State)

	require.NoError(t, s.OnChord(context.Background(), ChordEvent{Symbol: "C7"}))
	s.Tick(context.Background(), 0.5)
	before := s.Status()

	err = s.OnChord(context.Background(), ChordEvent{Pitches: []int{0, 3, 7}})
	require.ErrorAs(t, err, &unknown)
	assert.Equal(t, before, s.Status())
}

func TestEmptyIndexFallsBack(t *testing.T) {
	store := index.NewStore(features.Dimension)
	s, sink := newTestSession(t, testConfig(), store)

	require.NoError(t, s.OnChord(context.Background(), ChordEvent{Symbol: "G7"}))
	assert.Equal(t, Fallback, s.Status().State)

	tickThrough(s, 0, 3.75)
	notes := sink.notesOn()
	require.NotEmpty(t, notes)
	for _, n := range notes {
		assert.GreaterOrEqual(t, n.Pitch, models.DefaultLowPitch)
		assert.LessOrEqual(t, n.Pitch, models.DefaultHighPitch)
		assert.Greater(t, n.DurationBeats, 0.0)
	}
}

func TestQueryTimeoutFallsBackBeforeNextBeat(t *testing.T) {
	slow := newFakeRetriever()
	slow.delay = 2 * time.Second

	cfg := testConfig()
	cfg.QueryTimeout = 10 * time.Millisecond
	s, sink := newTestSession(t, cfg, slow)
	s.Tick(context.Background(), 0.25)

	began := time.Now()
	err := s.OnChord(context.Background(), ChordEvent{Symbol: "Cmaj7"})
	var timeout *QueryTimeoutError
	require.ErrorAs(t, err, &timeout)
	assert.Less(t, time.Since(began), cfg.BeatInterval())

	st := s.Status()
	assert.Equal(t, Fallback, st.State)
	require.NotEmpty(t, st.PhraseNotes, "fallback phrase is ready before the boundary")
	assert.Equal(t, 1.0, st.PhraseNotes[0].StartBeats)

	s.Tick(context.Background(), 1.0)
	assert.NotEmpty(t, sink.notesOn())

	select {
	case <-slow.cancelled:
	case <-time.After(time.Second):
		t.Fatal("slow query was not cancelled")
	}
}

func TestRetrievalPlaysAdaptedFragment(t *testing.T) {
	cmaj := mustChord(t, "C")
	ix := index.New(features.Dimension)
	require.NoError(t, ix.Insert(melodyRecord("scale", cmaj, 60, 62, 64, 65, 67, 69, 71, 72)))
	store := index.NewStore(features.Dimension)
	require.NoError(t, store.Publish(ix))

	s, sink := newTestSession(t, testConfig(), store)
	require.NoError(t, s.OnChord(context.Background(), ChordEvent{Symbol: "C"}))

	st := s.Status()
	assert.Equal(t, Playing, st.State)
	assert.Equal(t, "scale", st.Source)

	tickThrough(s, 0, 3.75)
	notes := sink.notesOn()
	require.Len(t, notes, 8)
	for i, n := range notes {
		assert.True(t, theory.IsConsonant(n.Pitch, cmaj), "note %d pitch %d", i, n.Pitch)
		assert.Equal(t, float64(i)*0.5, n.StartBeats)
	}
}

func TestRetrievalTransposesToChordRoot(t *testing.T) {
	r := newFakeRetriever(index.Result{
		Record:   melodyRecord("scale", mustChord(t, "C"), 60, 62, 64, 65, 67, 69, 71, 72),
		Distance: 0.1,
	})
	s, _ := newTestSession(t, testConfig(), r)

	require.NoError(t, s.OnChord(context.Background(), ChordEvent{Symbol: "G7"}))
	st := s.Status()
	require.Equal(t, Playing, st.State)
	require.NotEmpty(t, st.PhraseNotes)
	assert.Equal(t, 7, theory.PitchClass(st.PhraseNotes[0].Pitch))
}

func TestSelectionSkipsDissonantCandidates(t *testing.T) {
	cmaj := mustChord(t, "C")
	r := newFakeRetriever(
		index.Result{Record: melodyRecord("clash", cmaj, 70, 70, 70, 60), Distance: 0.1},
		index.Result{Record: melodyRecord("clean", cmaj, 60, 64, 67, 72), Distance: 0.2},
	)
	s, _ := newTestSession(t, testConfig(), r)

	require.NoError(t, s.OnChord(context.Background(), ChordEvent{Symbol: "C"}))
	st := s.Status()
	assert.Equal(t, Playing, st.State)
	assert.Equal(t, "clean", st.Source)
}

func TestSelectionThreshold(t *testing.T) {
	r := newFakeRetriever(index.Result{
		Record:   melodyRecord("far", mustChord(t, "C"), 60, 64, 67, 72),
		Distance: 0.9,
	})
	s, _ := newTestSession(t, testConfig(), r)

	require.NoError(t, s.OnChord(context.Background(), ChordEvent{Symbol: "C"}))
	assert.Equal(t, Fallback, s.Status().State)
}

func TestRetrievalErrorFallsBack(t *testing.T) {
	r := newFakeRetriever()
	r.err = errors.New("disk on fire")
	s, _ := newTestSession(t, testConfig(), r)

	require.NoError(t, s.OnChord(context.Background(), ChordEvent{Symbol: "Bbm7"}))
	st := s.Status()
	assert.Equal(t, Fallback, st.State)
	assert.NotEmpty(t, st.PhraseNotes)
}

func TestRAGDisabledNeverQueries(t *testing.T) {
	r := newFakeRetriever()
	s, _ := newTestSession(t, testConfig(), r)
	s.SetRAG(false)

	require.NoError(t, s.OnChord(context.Background(), ChordEvent{Symbol: "F7"}))
	assert.Equal(t, Fallback, s.Status().State)
	assert.Equal(t, 0, r.callCount())
	assert.False(t, s.Status().RAGEnabled)
}

func TestNewChordNeverCutsSoundingNotes(t *testing.T) {
	notes := []models.NoteEvent{
		{Pitch: 60, Velocity: 80, StartBeats: 0, DurationBeats: 1},
		{Pitch: 64, Velocity: 80, StartBeats: 1, DurationBeats: 1},
		{Pitch: 67, Velocity: 80, StartBeats: 2, DurationBeats: 1},
	}
	frag := models.MelodyFragment{Notes: notes}
	rec := index.Record{ID: "arp", Vector: features.Vector(frag), Fragment: frag, Chord: mustChord(t, "C")}
	s, sink := newTestSession(t, testConfig(), newFakeRetriever(index.Result{Record: rec, Distance: 0.1}))

	require.NoError(t, s.OnChord(context.Background(), ChordEvent{Symbol: "C"}))
	s.Tick(context.Background(), 0)
	s.Tick(context.Background(), 0.5)
	require.Len(t, sink.notesOn(), 1)

	require.NoError(t, s.OnChord(context.Background(), ChordEvent{Symbol: "F"}))
	assert.Empty(t, sink.off, "sounding note keeps playing")

	s.Tick(context.Background(), 1)
	on := sink.notesOn()
	require.Len(t, on, 2, "old phrase dropped, new phrase starts on the boundary")
	assert.Equal(t, 1.0, on[1].StartBeats)
	assert.True(t, theory.IsChordTone(on[1].Pitch, mustChord(t, "F")))
	assert.Len(t, sink.off, 1)
}

func TestTickNeverWaitsForRetrieval(t *testing.T) {
	slow := newFakeRetriever()
	slow.delay = 2 * time.Second
	cfg := testConfig()
	cfg.QueryTimeout = time.Second
	s, sink := newTestSession(t, cfg, slow)

	_, err := s.begin(context.Background(), ChordEvent{Symbol: "C7"})
	require.NoError(t, err)

	began := time.Now()
	s.Tick(context.Background(), 0)
	assert.Less(t, time.Since(began), 50*time.Millisecond)
	assert.Equal(t, Retrieving, s.Status().State)
	assert.Empty(t, sink.notesOn(), "rest while retrieval is pending")
}

func TestStopSilencesAndDiscardsQuery(t *testing.T) {
	slow := newFakeRetriever()
	slow.delay = 5 * time.Second
	cfg := testConfig()
	cfg.Tempo = 20
	cfg.QueryTimeout = 5 * time.Second
	s, sink := newTestSession(t, cfg, slow)

	done := make(chan error, 1)
	go func() { done <- s.OnChord(context.Background(), ChordEvent{Symbol: "C7"}) }()
	require.Eventually(t, func() bool { return slow.callCount() == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, s.Stop())
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("OnChord did not return after Stop")
	}

	assert.Equal(t, 1, sink.silenced)
	assert.Equal(t, Idle, s.Status().State)
	assert.True(t, s.Stopped())
	assert.ErrorIs(t, s.OnChord(context.Background(), ChordEvent{Symbol: "C7"}), ErrStopped)
	<-slow.cancelled
}

func TestPhraseExhaustionRequeries(t *testing.T) {
	r := newFakeRetriever(index.Result{
		Record:   melodyRecord("short", mustChord(t, "C"), 60, 64),
		Distance: 0.1,
	})
	s, sink := newTestSession(t, testConfig(), r)

	require.NoError(t, s.OnChord(context.Background(), ChordEvent{Symbol: "C"}))
	s.Tick(context.Background(), 0)
	s.Tick(context.Background(), 0.5)
	require.Eventually(t, func() bool { return r.callCount() == 2 }, time.Second, 5*time.Millisecond)

	require.Eventually(t, func() bool {
		s.Tick(context.Background(), 1)
		return s.Status().State == Playing && s.Status().PhraseNotes[0].StartBeats == 1
	}, time.Second, 5*time.Millisecond)
	s.Tick(context.Background(), 1.5)
	assert.Len(t, sink.notesOn(), 4)
}

func TestPlayingNotesAreConsonant(t *testing.T) {
	ix := index.New(features.Dimension)
	require.NoError(t, ix.Insert(melodyRecord("scale", mustChord(t, "C"), 60, 62, 64, 65, 67, 69, 71, 72)))
	require.NoError(t, ix.Insert(melodyRecord("blues", mustChord(t, "C7"), 60, 63, 65, 66, 67, 70, 72)))
	require.NoError(t, ix.Insert(melodyRecord("iivi", mustChord(t, "Dm7"), 67, 69, 71, 72, 74, 76, 77, 79)))
	store := index.NewStore(features.Dimension)
	require.NoError(t, store.Publish(ix))

	playing := 0
	for _, name := range theory.NoteNames {
		for _, suffix := range []string{"", "m", "7", "maj7", "m7", "m7b5", "dim7"} {
			chord := mustChord(t, name+suffix)
			s, _ := newTestSession(t, testConfig(), store)
			require.NoError(t, s.OnChord(context.Background(), ChordEvent{Symbol: name + suffix}))

			st := s.Status()
			if st.State != Playing {
				continue
			}
			playing++
			pitches := make([]int, len(st.PhraseNotes))
			for i, n := range st.PhraseNotes {
				pitches[i] = n.Pitch
			}
			assert.GreaterOrEqual(t, theory.ConsonanceRatio(pitches, chord), 1-DefaultMaxDissonance, chord.Symbol())
		}
	}
	assert.Positive(t, playing)
}

func TestRunDrivesSession(t *testing.T) {
	cfg := testConfig()
	cfg.RAG = false
	s, sink := newTestSession(t, cfg, nil)

	clock := make(chan float64)
	chords := make(chan ChordEvent)
	done := make(chan error, 1)
	go func() { done <- s.Run(context.Background(), clock, chords) }()

	chords <- ChordEvent{Symbol: "Dm7"}
	for b := 0.0; b < 4; b += 0.25 {
		clock <- b
	}
	close(clock)

	require.NoError(t, <-done)
	assert.NotEmpty(t, sink.notesOn())
	assert.Equal(t, 1, sink.silenced)
	assert.True(t, s.Stopped())
}

func TestFeedback(t *testing.T) {
	cmaj := mustChord(t, "C")
	r := newFakeRetriever(
		index.Result{Record: melodyRecord("first", cmaj, 60, 64, 67, 72), Distance: 0.1},
		index.Result{Record: melodyRecord("second", cmaj, 72, 67, 64, 60), Distance: 0.2},
	)
	store := &memoryFeedback{}
	sink := &recordingSink{}
	s, err := NewSession(testConfig(), r, sink, WithFeedbackStore(store))
	require.NoError(t, err)
	defer s.Stop()

	assert.ErrorIs(t, s.Rate(context.Background(), 4), ErrNoMelody)
	assert.ErrorIs(t, s.Repeat(context.Background()), ErrNoMelody)

	require.NoError(t, s.OnChord(context.Background(), ChordEvent{Symbol: "C"}))
	require.Equal(t, "first", s.Status().Source)

	require.NoError(t, s.Rate(context.Background(), 5))
	assert.Greater(t, s.Preferences().Score("first"), 0.0)
	assert.Error(t, s.Rate(context.Background(), 9))

	s.Tick(context.Background(), 0.5)
	require.NoError(t, s.Repeat(context.Background()))
	st := s.Status()
	assert.Equal(t, "first", st.Source)
	assert.Equal(t, 1.0, st.PhraseNotes[0].StartBeats)

	require.NoError(t, s.Skip(context.Background()))
	require.Eventually(t, func() bool {
		s.Tick(context.Background(), 0.75)
		return s.Status().Source == "second"
	}, time.Second, 5*time.Millisecond)

	kinds := store.kinds()
	assert.Equal(t, []string{FeedbackRate, FeedbackRepeat, FeedbackSkip}, kinds)
}

func TestRepeatAfterChordChange(t *testing.T) {
	t.Run("retrieved phrase is adapted to the new chord", func(t *testing.T) {
		r := newFakeRetriever(index.Result{
			Record:   melodyRecord("scale", mustChord(t, "C"), 60, 62, 64, 65, 67, 69, 71, 72),
			Distance: 0.1,
		})
		s, _ := newTestSession(t, testConfig(), r)
		require.NoError(t, s.OnChord(context.Background(), ChordEvent{Symbol: "C"}))
		require.Equal(t, Playing, s.Status().State)

		// leave the G7 query in flight so the last phrase is still the C one
		r.mu.Lock()
		r.delay = time.Second
		r.mu.Unlock()
		_, err := s.begin(context.Background(), ChordEvent{Symbol: "G7"})
		require.NoError(t, err)

		require.NoError(t, s.Repeat(context.Background()))
		st := s.Status()
		assert.Equal(t, Playing, st.State)
		assert.Equal(t, "scale", st.Source)
		require.NotEmpty(t, st.PhraseNotes)
		assert.Equal(t, 7, theory.PitchClass(st.PhraseNotes[0].Pitch))
		g7 := mustChord(t, "G7")
		for _, n := range st.PhraseNotes {
			assert.True(t, theory.IsConsonant(n.Pitch, g7), "pitch %d", n.Pitch)
		}
	})

	t.Run("synthesized phrase is refused", func(t *testing.T) {
		r := newFakeRetriever()
		s, _ := newTestSession(t, testConfig(), r)
		require.NoError(t, s.OnChord(context.Background(), ChordEvent{Symbol: "C"}))
		require.Equal(t, Fallback, s.Status().State)

		r.mu.Lock()
		r.delay = time.Second
		r.mu.Unlock()
		_, err := s.begin(context.Background(), ChordEvent{Symbol: "G7"})
		require.NoError(t, err)

		assert.ErrorIs(t, s.Repeat(context.Background()), ErrChordChanged)
		assert.Equal(t, Retrieving, s.Status().State)
	})
}

type memoryFeedback struct {
	mu   sync.Mutex
	list []Feedback
}

func (m *memoryFeedback) RecordFeedback(_ context.Context, fb Feedback) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.list = append(m.list, fb)
	return nil
}

func (m *memoryFeedback) kinds() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for _, fb := range m.list {
		out = append(out, fb.Kind)
	}
	return out
}
