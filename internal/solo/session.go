package solo

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Conceptual-Machines/magda-bebop/internal/index"
	"github.com/Conceptual-Machines/magda-bebop/internal/logger"
	"github.com/Conceptual-Machines/magda-bebop/internal/metrics"
	"github.com/Conceptual-Machines/magda-bebop/internal/models"
	"github.com/Conceptual-Machines/magda-bebop/internal/theory"
)

// Retriever answers chord queries against the current melody index
type Retriever interface {
	Query(ctx context.Context, chord theory.ChordContext, k int) ([]index.Result, error)
}

// Sink receives the generated note stream
type Sink interface {
	NoteOn(note models.NoteEvent) error
	NoteOff(note models.NoteEvent) error
	// Silence stops every sounding note at once
	Silence() error
}

// Recorder receives generator measurements
type Recorder interface {
	RecordRetrieval(ctx context.Context, chord, outcome string, duration time.Duration)
	RecordNotes(state string, n int)
}

type nopRecorder struct{}

func (nopRecorder) RecordRetrieval(context.Context, string, string, time.Duration) {}
func (nopRecorder) RecordNotes(string, int)                                        {}

// Option configures a Session
type Option func(*Session)

// WithID sets the session id instead of a fresh uuid
func WithID(id string) Option {
	return func(s *Session) { s.id = id }
}

// WithRecorder sends retrieval and note counts to r
func WithRecorder(r Recorder) Option {
	return func(s *Session) {
		if r != nil {
			s.recorder = r
		}
	}
}

// WithPreferences shares a preference table between sessions
func WithPreferences(p *Preferences) Option {
	return func(s *Session) {
		if p != nil {
			s.prefs = p
		}
	}
}

// WithFeedbackStore persists rate/skip/repeat feedback
func WithFeedbackStore(f FeedbackStore) Option {
	return func(s *Session) { s.feedback = f }
}

type retrieval struct {
	results []index.Result
	err     error
}

// pendingQuery is one retrieval in flight. settled is closed once the query
// has been resolved, expired or cancelled; outcome is set before that.
type pendingQuery struct {
	chord   theory.ChordContext
	from    int
	start   float64
	exclude string
	started time.Time
	budget  time.Duration
	done    chan retrieval
	settled chan struct{}
	outcome string
	cancel  context.CancelFunc
}

// Status is a point-in-time view of a session
type Status struct {
	ID           string             `json:"id"`
	State        State              `json:"state"`
	Chord        string             `json:"chord,omitempty"`
	CursorBeats  float64            `json:"cursor_beats"`
	Tempo        float64            `json:"tempo"`
	RAGEnabled   bool               `json:"rag_enabled"`
	Learning     bool               `json:"learning"`
	Source       string             `json:"source,omitempty"`
	PhraseNotes  []models.NoteEvent `json:"phrase_notes,omitempty"`
	SoundingNote int                `json:"sounding_notes"`
}

// Session is one live solo. It owns its musical state and reads the index
// only through a Retriever. All methods are safe for concurrent use.
type Session struct {
	id        string
	retriever Retriever
	sink      Sink
	recorder  Recorder
	prefs     *Preferences
	feedback  FeedbackStore

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	cfg       Config
	state     State
	chord     theory.ChordContext
	hasChord  bool
	cursor    float64
	lastPitch int
	phrase    *phrase
	sounding  []models.NoteEvent
	pending   *pendingQuery
	seq       int64
	stopped   bool

	replay       []models.NoteEvent
	replaySource string
	replayMode   State
	replayChord  theory.ChordContext
	replayRecord *index.Record
}

// NewSession creates an idle session. retriever may be nil, in which case
// every phrase comes from the theory fallback.
func NewSession(cfg Config, retriever Retriever, sink Sink, opts ...Option) (*Session, error) {
	if sink == nil {
		return nil, errors.New("solo session requires a sink")
	}
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		id:        uuid.NewString(),
		retriever: retriever,
		sink:      sink,
		recorder:  nopRecorder{},
		cfg:       cfg,
		ctx:       ctx,
		cancel:    cancel,
		state:     Idle,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.prefs == nil {
		s.prefs = NewPreferences(cfg.LearningRate)
	}
	return s, nil
}

// ID returns the session id
func (s *Session) ID() string {
	return s.id
}

// Preferences returns the preference table used for selection
func (s *Session) Preferences() *Preferences {
	return s.prefs
}

// OnChord switches the solo to a new chord. It waits at most the query
// budget for retrieval. When the budget runs out the session is already
// playing a fallback phrase and QueryTimeoutError is returned. An invalid
// chord is rejected with UnknownChordQualityError and the session is left
// untouched.
func (s *Session) OnChord(ctx context.Context, ev ChordEvent) error {
	q, err := s.begin(ctx, ev)
	if err != nil || q == nil {
		return err
	}

	timer := time.NewTimer(q.budget)
	defer timer.Stop()

	select {
	case res := <-q.done:
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.pending == q {
			s.resolve(ctx, q, res)
		}
		return nil
	case <-q.settled:
		if q.outcome == metrics.OutcomeTimeout {
			return &QueryTimeoutError{Budget: q.budget}
		}
		return nil
	case <-timer.C:
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.pending != q {
			if q.outcome == metrics.OutcomeTimeout {
				return &QueryTimeoutError{Budget: q.budget}
			}
			return nil
		}
		s.expire(ctx, q, metrics.OutcomeTimeout)
		return &QueryTimeoutError{Budget: q.budget}
	case <-ctx.Done():
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.pending == q {
			s.expire(ctx, q, metrics.OutcomeCancelled)
		}
		return ctx.Err()
	}
}

// begin validates the chord and starts retrieval without waiting for it
func (s *Session) begin(ctx context.Context, ev ChordEvent) (*pendingQuery, error) {
	chord, err := ev.Resolve()
	if err != nil {
		logger.Warn("Rejected chord event", logger.Fields{
			"session_id": s.id,
			"quality":    ev.Quality,
			"error":      err.Error(),
		})
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return nil, ErrStopped
	}

	s.chord = chord
	s.hasChord = true
	if s.phrase != nil {
		s.phrase.truncate()
	}
	return s.retrieve(ctx, nextBoundary(s.cursor), ""), nil
}

// retrieve starts a query for the current chord. With retrieval disabled it
// goes straight to the fallback and returns nil. Must be called with mu held.
func (s *Session) retrieve(ctx context.Context, start float64, exclude string) *pendingQuery {
	if s.pending != nil {
		s.settle(s.pending, metrics.OutcomeCancelled)
	}

	if !s.cfg.RAG || s.retriever == nil {
		s.record(ctx, s.chord, metrics.OutcomeDisabled, 0, nil)
		s.fallback(start)
		return nil
	}

	qctx, cancel := context.WithCancel(s.ctx)
	q := &pendingQuery{
		chord:   s.chord,
		from:    s.lastPitch,
		start:   start,
		exclude: exclude,
		started: time.Now(),
		budget:  s.cfg.Budget(),
		done:    make(chan retrieval, 1),
		settled: make(chan struct{}),
		cancel:  cancel,
	}
	if q.from == 0 {
		q.from = (s.cfg.LowPitch + s.cfg.HighPitch) / 2
	}
	s.pending = q
	s.state = Retrieving

	retriever, k := s.retriever, s.cfg.K
	go func() {
		results, err := retriever.Query(qctx, q.chord, k)
		q.done <- retrieval{results: results, err: err}
	}()
	return q
}

// settle marks q finished. Must be called with mu held.
func (s *Session) settle(q *pendingQuery, outcome string) {
	select {
	case <-q.settled:
		return
	default:
	}
	q.outcome = outcome
	q.cancel()
	close(q.settled)
	if s.pending == q {
		s.pending = nil
	}
}

// expire abandons q and falls back. Must be called with mu held.
func (s *Session) expire(ctx context.Context, q *pendingQuery, outcome string) {
	s.settle(q, outcome)
	s.record(ctx, q.chord, outcome, time.Since(q.started), nil)
	s.fallback(math.Max(q.start, nextBoundary(s.cursor)))
}

// resolve picks a phrase from the retrieval results. Must be called with mu held.
func (s *Session) resolve(ctx context.Context, q *pendingQuery, res retrieval) {
	start := math.Max(q.start, nextBoundary(s.cursor))
	elapsed := time.Since(q.started)

	var empty index.EmptyIndexError
	outcome := metrics.OutcomeRejected
	switch {
	case errors.As(res.err, &empty):
		outcome = metrics.OutcomeEmpty
	case errors.Is(res.err, context.Canceled):
		outcome = metrics.OutcomeCancelled
	case res.err != nil:
		outcome = metrics.OutcomeError
		logger.Error("Retrieval failed", res.err, logger.Fields{"session_id": s.id, "chord": q.chord.Symbol()})
	default:
		for _, c := range rankCandidates(res.results, s.prefs) {
			if c.score > s.cfg.AcceptanceThreshold {
				break
			}
			rec := c.result.Record
			if rec.ID != "" && rec.ID == q.exclude {
				continue
			}
			notes, ok := adapt(rec, q.chord, q.from, s.cfg)
			if !ok {
				continue
			}
			s.settle(q, metrics.OutcomeHit)
			s.record(ctx, q.chord, metrics.OutcomeHit, elapsed, logger.Fields{
				"record_id": rec.ID,
				"distance":  c.result.Distance,
			})
			s.play(newPhrase(notes, start, rec.ID, Playing, q.chord))
			s.replayRecord = &rec
			return
		}
	}

	s.settle(q, outcome)
	s.record(ctx, q.chord, outcome, elapsed, logger.Fields{"candidates": len(res.results)})
	s.fallback(start)
}

// fallback schedules a synthesized phrase. Must be called with mu held.
func (s *Session) fallback(start float64) {
	s.state = Fallback
	notes, err := theory.SynthesizeFallback(s.chord, s.cfg.PhraseBeats, theory.FallbackOptions{
		Seed:       s.cfg.Seed + s.seq,
		StartPitch: s.lastPitch,
		Low:        s.cfg.LowPitch,
		High:       s.cfg.HighPitch,
		Velocity:   s.cfg.Velocity,
		Rhythm:     s.cfg.Rhythm,
	})
	s.seq++
	if err != nil {
		// resting is the only safe thing left to do
		logger.Error("Fallback synthesis failed", err, logger.Fields{"session_id": s.id, "chord": s.chord.Symbol()})
		s.phrase = nil
		return
	}
	s.play(newPhrase(quantize(notes, s.cfg.Quantize), start, "", Fallback, s.chord))
}

// play installs p as the current phrase. Must be called with mu held.
func (s *Session) play(p *phrase) {
	s.phrase = p
	s.state = p.mode
	s.replay = append([]models.NoteEvent(nil), p.rel...)
	s.replaySource = p.source
	s.replayMode = p.mode
	s.replayChord = p.chord
	s.replayRecord = nil
}

func (s *Session) record(ctx context.Context, chord theory.ChordContext, outcome string, d time.Duration, fields logger.Fields) {
	if fields == nil {
		fields = logger.Fields{}
	}
	fields["session_id"] = s.id
	s.recorder.RecordRetrieval(ctx, chord.Symbol(), outcome, d)
	logger.LogRetrieval(ctx, chord.Symbol(), d, outcome, fields)
}

// Tick advances the session to beat. It never waits on retrieval: a query
// still in flight is checked once, and expired when past its budget. Notes
// due by beat are sent to the sink; a tick with nothing due is a rest.
func (s *Session) Tick(ctx context.Context, beat float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped || beat < s.cursor-beatEpsilon {
		return
	}
	s.cursor = beat

	s.poll(ctx)
	s.release(beat)
	s.emitDue(beat)

	if s.phrase != nil && s.phrase.exhausted() && s.pending == nil && s.hasChord {
		s.retrieve(ctx, nextBoundary(math.Max(s.phrase.end(), beat)), "")
	}
}

// poll checks the in-flight query once. Must be called with mu held.
func (s *Session) poll(ctx context.Context) {
	q := s.pending
	if q == nil {
		return
	}
	select {
	case res := <-q.done:
		s.resolve(ctx, q, res)
	default:
		if time.Since(q.started) >= q.budget {
			s.expire(ctx, q, metrics.OutcomeTimeout)
		}
	}
}

// release ends sounding notes whose time is up. Must be called with mu held.
func (s *Session) release(beat float64) {
	kept := s.sounding[:0]
	for _, n := range s.sounding {
		if n.EndBeats() <= beat+beatEpsilon {
			if err := s.sink.NoteOff(n); err != nil {
				logger.Warn("Sink rejected note off", logger.Fields{"session_id": s.id, "pitch": n.Pitch, "error": err.Error()})
			}
			continue
		}
		kept = append(kept, n)
	}
	s.sounding = kept
}

// emitDue sends every note starting by beat. Must be called with mu held.
func (s *Session) emitDue(beat float64) {
	p := s.phrase
	if p == nil {
		return
	}
	emitted := 0
	for !p.exhausted() {
		note := p.note(p.next)
		if note.StartBeats > beat+beatEpsilon {
			break
		}
		p.next++
		if err := s.sink.NoteOn(note); err != nil {
			logger.Warn("Sink rejected note", logger.Fields{"session_id": s.id, "pitch": note.Pitch, "error": err.Error()})
			continue
		}
		s.sounding = append(s.sounding, note)
		s.lastPitch = note.Pitch
		emitted++
	}
	s.recorder.RecordNotes(p.mode.String(), emitted)
}

// Stop silences the sink and discards any query in flight. The index is
// never touched. A stopped session stays stopped.
func (s *Session) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return nil
	}
	s.stopped = true
	if s.pending != nil {
		s.settle(s.pending, metrics.OutcomeCancelled)
	}
	s.cancel()
	s.phrase = nil
	s.sounding = nil
	s.hasChord = false
	s.state = Idle

	logger.Info("Solo session stopped", logger.Fields{"session_id": s.id, "cursor": s.cursor})
	return s.sink.Silence()
}

// Stopped reports whether Stop has been called
func (s *Session) Stopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

// SetTempo changes the tempo used for the query budget
func (s *Session) SetTempo(bpm float64) error {
	if bpm <= 0 || bpm > 400 {
		return fmt.Errorf("tempo %.1f must be in (0, 400]", bpm)
	}
	s.mu.Lock()
	s.cfg.Tempo = bpm
	s.mu.Unlock()
	return nil
}

// SetRAG switches between retrieval-assisted and theory-only generation.
// It takes effect at the next phrase.
func (s *Session) SetRAG(enabled bool) {
	s.mu.Lock()
	s.cfg.RAG = enabled
	s.mu.Unlock()
}

// Status returns a snapshot of the session
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Status{
		ID:           s.id,
		State:        s.state,
		CursorBeats:  s.cursor,
		Tempo:        s.cfg.Tempo,
		RAGEnabled:   s.cfg.RAG,
		Learning:     s.prefs.Learning(),
		SoundingNote: len(s.sounding),
	}
	if s.hasChord {
		st.Chord = s.chord.Symbol()
	}
	if s.phrase != nil {
		st.Source = s.phrase.source
		st.PhraseNotes = s.phrase.absolute()
	}
	return st
}

// Rate scores the last retrieved melody from 1 to 5
func (s *Session) Rate(ctx context.Context, rating float64) error {
	s.mu.Lock()
	source := s.replaySource
	s.mu.Unlock()
	if source == "" {
		return ErrNoMelody
	}
	if err := s.prefs.Rate(source, rating); err != nil {
		return err
	}
	s.storeFeedback(ctx, FeedbackRate, source, rating)
	return nil
}

// Skip drops the rest of the current phrase and retrieves a different one
func (s *Session) Skip(ctx context.Context) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return ErrStopped
	}
	if len(s.replay) == 0 {
		s.mu.Unlock()
		return ErrNoMelody
	}
	source := s.replaySource
	s.prefs.Skip(source)
	if s.phrase != nil {
		s.phrase.truncate()
	}
	s.retrieve(ctx, nextBoundary(s.cursor), source)
	s.mu.Unlock()

	s.storeFeedback(ctx, FeedbackSkip, source, 0)
	return nil
}

// Repeat plays the last phrase again from the next beat. After a chord
// change a retrieved phrase is adapted to the new chord; a synthesized
// phrase is refused with ErrChordChanged.
func (s *Session) Repeat(ctx context.Context) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return ErrStopped
	}
	if len(s.replay) == 0 {
		s.mu.Unlock()
		return ErrNoMelody
	}
	notes := append([]models.NoteEvent(nil), s.replay...)
	mode := s.replayMode
	rec := s.replayRecord
	if !sameChord(s.replayChord, s.chord) {
		// a retrieved phrase is adapted again; a synthesized one cannot be
		if rec == nil {
			s.mu.Unlock()
			return ErrChordChanged
		}
		from := s.lastPitch
		if from == 0 {
			from = (s.cfg.LowPitch + s.cfg.HighPitch) / 2
		}
		adapted, ok := adapt(*rec, s.chord, from, s.cfg)
		if !ok {
			s.mu.Unlock()
			return ErrChordChanged
		}
		notes, mode = adapted, Playing
	}

	source := s.replaySource
	s.prefs.Repeat(source)
	if s.pending != nil {
		s.settle(s.pending, metrics.OutcomeCancelled)
	}
	if s.phrase != nil {
		s.phrase.truncate()
	}
	s.play(newPhrase(notes, nextBoundary(s.cursor), source, mode, s.chord))
	s.replayRecord = rec
	s.mu.Unlock()

	s.storeFeedback(ctx, FeedbackRepeat, source, 0)
	return nil
}

func sameChord(a, b theory.ChordContext) bool {
	return a.Root == b.Root && a.Quality == b.Quality
}

func (s *Session) storeFeedback(ctx context.Context, kind, source string, rating float64) {
	if s.feedback == nil {
		return
	}
	fb := Feedback{SessionID: s.id, Source: source, Kind: kind, Rating: rating, At: time.Now()}
	if err := s.feedback.RecordFeedback(ctx, fb); err != nil {
		logger.Error("Failed to store feedback", err, logger.Fields{"session_id": s.id, "kind": kind})
	}
}

// Run drives the session from a beat clock and a chord stream until ctx is
// done or the clock closes, then stops the session. Chord events never hold
// up the clock: their retrieval is picked up by later ticks.
func (s *Session) Run(ctx context.Context, clock <-chan float64, chords <-chan ChordEvent) error {
	defer func() {
		if err := s.Stop(); err != nil {
			logger.Warn("Failed to silence sink", logger.Fields{"session_id": s.id, "error": err.Error()})
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case beat, ok := <-clock:
			if !ok {
				return nil
			}
			s.Tick(ctx, beat)
		case ev, ok := <-chords:
			if !ok {
				chords = nil
				continue
			}
			if _, err := s.begin(ctx, ev); errors.Is(err, ErrStopped) {
				return err
			}
		}
	}
}
