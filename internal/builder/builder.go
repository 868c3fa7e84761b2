// Package builder turns a directory of MIDI files into a published melody
// index, and answers diagnostic queries against it.
package builder

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	hashids "github.com/speps/go-hashids/v2"
	"golang.org/x/sync/errgroup"

	"github.com/Conceptual-Machines/magda-bebop/internal/features"
	"github.com/Conceptual-Machines/magda-bebop/internal/index"
	"github.com/Conceptual-Machines/magda-bebop/internal/logger"
	"github.com/Conceptual-Machines/magda-bebop/internal/models"
	"github.com/Conceptual-Machines/magda-bebop/internal/storage"
	"github.com/Conceptual-Machines/magda-bebop/internal/theory"
)

// File error kinds reported in a BuildReport
const (
	KindParse     = "parse"
	KindMalformed = "malformed"
	KindIndex     = "index"
)

const defaultIDSalt = "magda-bebop"

// Recorder receives build measurements
type Recorder interface {
	RecordBuild(ctx context.Context, filesProcessed, fragmentsIndexed, failures int, duration time.Duration)
}

// Snapshots persists and restores published indexes
type Snapshots interface {
	Save(ctx context.Context, ix *index.Index) error
	Load(ctx context.Context) (*index.Index, error)
}

// History keeps a log of finished builds
type History interface {
	SaveBuild(ctx context.Context, sourceDir string, report models.BuildReport) error
}

// Options configures a Service
type Options struct {
	Segment features.SegmentOptions
	// Workers bounds parallel file parsing; zero uses GOMAXPROCS
	Workers int
	IDSalt  string
	// Seed writes the example melodies into an empty source directory
	Seed      bool
	Snapshots Snapshots
	History   History
	Recorder  Recorder
}

// Service builds and queries the melody database
type Service struct {
	store *index.Store
	opts  Options
	ids   *hashids.HashID

	// one build at a time
	mu sync.Mutex
}

// NewService creates a builder publishing into store
func NewService(store *index.Store, opts Options) (*Service, error) {
	if store == nil {
		return nil, errors.New("builder requires an index store")
	}
	if opts.Workers <= 0 {
		opts.Workers = runtime.GOMAXPROCS(0)
	}
	if opts.IDSalt == "" {
		opts.IDSalt = defaultIDSalt
	}

	hd := hashids.NewData()
	hd.Salt = opts.IDSalt
	hd.MinLength = 8
	ids, err := hashids.NewWithData(hd)
	if err != nil {
		return nil, fmt.Errorf("record id encoder: %w", err)
	}

	return &Service{store: store, opts: opts, ids: ids}, nil
}

// Store returns the index store the service publishes into
func (s *Service) Store() *index.Store {
	return s.store
}

type parsedFile struct {
	name string
	src  *features.Source
	err  error
}

// BuildDatabase parses every MIDI file under dir, indexes their fragments
// into a fresh index and publishes it. A bad file is recorded in the report
// and skipped. Queries keep seeing the previous index until the new one is
// published.
func (s *Service) BuildDatabase(ctx context.Context, dir string) (models.BuildReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	started := time.Now()
	report := models.BuildReport{Errors: []models.FileError{}}

	files, err := listMIDIFiles(dir)
	if err != nil {
		return report, fmt.Errorf("list source directory: %w", err)
	}
	if len(files) == 0 && s.opts.Seed {
		if _, err := Seed(dir); err != nil {
			return report, fmt.Errorf("seed source directory: %w", err)
		}
		report.Seeded = true
		if files, err = listMIDIFiles(dir); err != nil {
			return report, fmt.Errorf("list source directory: %w", err)
		}
	}

	parsed, err := s.parseAll(ctx, dir, files)
	if err != nil {
		return report, err
	}

	ix := index.New(features.Dimension)
	for i, pf := range parsed {
		report.FilesProcessed++
		if pf.err != nil {
			report.Errors = append(report.Errors, fileError(pf.name, pf.err))
			logger.Warn("Skipping MIDI file", logger.Fields{"file": pf.name, "error": pf.err.Error()})
			continue
		}

		for ordinal, ex := range features.Extract(pf.src, s.opts.Segment) {
			id, err := s.ids.Encode([]int{i, ordinal})
			if err == nil {
				err = ix.Insert(index.Record{ID: id, Vector: ex.Vector, Fragment: ex.Fragment, Chord: ex.Chord})
			}
			if err != nil {
				report.Errors = append(report.Errors, models.FileError{File: pf.name, Kind: KindIndex, Message: err.Error()})
				break
			}
			report.FragmentsIndexed++
		}
	}

	if err := s.store.Publish(ix); err != nil {
		return report, fmt.Errorf("publish index: %w", err)
	}
	report.Duration = time.Since(started)

	if s.opts.Snapshots != nil {
		if err := s.opts.Snapshots.Save(ctx, ix); err != nil {
			logger.Error("Failed to save index snapshot", err, logger.Fields{"records": ix.Size()})
		}
	}
	if s.opts.History != nil {
		if err := s.opts.History.SaveBuild(ctx, dir, report); err != nil {
			logger.Error("Failed to record build history", err, logger.Fields{"dir": dir})
		}
	}
	if s.opts.Recorder != nil {
		s.opts.Recorder.RecordBuild(ctx, report.FilesProcessed, report.FragmentsIndexed, len(report.Errors), report.Duration)
	}

	logger.Info("Melody database built", logger.Fields{
		"dir":       dir,
		"files":     report.FilesProcessed,
		"fragments": report.FragmentsIndexed,
		"errors":    len(report.Errors),
		"seeded":    report.Seeded,
		"duration":  report.Duration.String(),
	})
	return report, nil
}

// parseAll decodes files in parallel. Results keep the order of files so
// record ids and insertion order do not depend on scheduling.
func (s *Service) parseAll(ctx context.Context, dir string, files []string) ([]parsedFile, error) {
	results := make([]parsedFile, len(files))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.Workers)
	for i, path := range files {
		i, path := i, path
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			name, err := filepath.Rel(dir, path)
			if err != nil {
				name = filepath.Base(path)
			}
			src, err := features.ParseFile(path)
			results[i] = parsedFile{name: name, src: src, err: err}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func fileError(name string, err error) models.FileError {
	kind := KindParse
	var malformed *features.MalformedInputError
	if errors.As(err, &malformed) {
		kind = KindMalformed
	}
	return models.FileError{File: name, Kind: kind, Message: err.Error()}
}

// listMIDIFiles returns every .mid/.midi file under dir in lexical order
func listMIDIFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && isMIDIFile(path) {
			files = append(files, path)
		}
		return nil
	})
	return files, err
}

func isMIDIFile(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".mid", ".midi":
		return true
	}
	return false
}

// Restore publishes the last saved snapshot. It reports false when no
// snapshot store is configured or nothing has been saved yet.
func (s *Service) Restore(ctx context.Context) (bool, error) {
	if s.opts.Snapshots == nil {
		return false, nil
	}
	ix, err := s.opts.Snapshots.Load(ctx)
	if errors.Is(err, storage.ErrNoSnapshot) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("load snapshot: %w", err)
	}
	if err := s.store.Publish(ix); err != nil {
		return false, fmt.Errorf("publish snapshot: %w", err)
	}
	logger.Info("Restored melody index snapshot", logger.Fields{"records": ix.Size()})
	return true, nil
}

// QuerySimilar recognizes the chord spelled by pitches and returns the k
// closest fragments, closest first. Score is the distance, so lower is
// better.
func (s *Service) QuerySimilar(ctx context.Context, pitches []int, k int) ([]models.SimilarMelody, error) {
	if len(pitches) == 0 {
		return nil, errors.New("chord needs at least one pitch")
	}
	chord, err := theory.RecognizeChord(pitches)
	if err != nil {
		return nil, err
	}

	results, err := s.store.Query(ctx, chord, k)
	if err != nil {
		return nil, err
	}

	out := make([]models.SimilarMelody, len(results))
	for i, r := range results {
		out[i] = models.SimilarMelody{
			ID:              r.Record.ID,
			SourceReference: r.Record.Fragment.Source,
			Score:           r.Distance,
			Chord:           r.Record.Chord.Symbol(),
		}
	}
	return out, nil
}

// Info describes the published index
func (s *Service) Info() models.DatabaseInfo {
	return s.store.Info()
}

// Clear publishes an empty index
func (s *Service) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.store.Clear()
}
