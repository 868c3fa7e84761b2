package builder

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/Conceptual-Machines/magda-bebop/internal/logger"
)

// DefaultDebounce collapses bursts of file events into one rebuild
const DefaultDebounce = 500 * time.Millisecond

// Watcher rebuilds the database when MIDI files anywhere under the source
// directory change. Rebuilds publish a new snapshot, so running sessions
// keep playing.
type Watcher struct {
	service  *Service
	dir      string
	debounce time.Duration

	// directories currently registered with fsnotify
	dirs map[string]bool

	// OnBuild is called after every rebuild; tests use it
	OnBuild func(report BuildResult)
}

// BuildResult is the outcome of one triggered rebuild
type BuildResult struct {
	Files  int
	Errors int
	Err    error
}

// NewWatcher creates a watcher for dir. A zero debounce uses DefaultDebounce.
func NewWatcher(service *Service, dir string, debounce time.Duration) *Watcher {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &Watcher{service: service, dir: dir, debounce: debounce, dirs: make(map[string]bool)}
}

// Run watches until ctx is done
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create file watcher: %w", err)
	}
	defer fw.Close()

	if err := w.addTree(fw, w.dir); err != nil {
		return fmt.Errorf("watch %s: %w", w.dir, err)
	}
	logger.Info("Watching MIDI source directory", logger.Fields{"dir": w.dir, "subdirs": len(w.dirs) - 1, "debounce": w.debounce.String()})

	var (
		timer   *time.Timer
		pending <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if !w.track(fw, event) && !relevant(event) {
				continue
			}
			logger.Debug("MIDI source changed", logger.Fields{"file": event.Name, "op": event.Op.String()})
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(w.debounce)
			}
			pending = timer.C

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			logger.Error("File watcher error", err, logger.Fields{"dir": w.dir})

		case <-pending:
			pending = nil
			w.rebuild(ctx)
		}
	}
}

func (w *Watcher) rebuild(ctx context.Context) {
	report, err := w.service.BuildDatabase(ctx, w.dir)
	if err != nil {
		logger.Error("Rebuild after file change failed", err, logger.Fields{"dir": w.dir})
	}
	if w.OnBuild != nil {
		w.OnBuild(BuildResult{Files: report.FilesProcessed, Errors: len(report.Errors), Err: err})
	}
}

// addTree registers root and every directory below it
func (w *Watcher) addTree(fw *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() || w.dirs[path] {
			return nil
		}
		if err := fw.Add(path); err != nil {
			return err
		}
		w.dirs[path] = true
		return nil
	})
}

// track follows directories being created, moved in or removed. It reports
// whether the event changed the watched tree, which also calls for a rebuild
// since a directory moved in or out carries its files with it.
func (w *Watcher) track(fw *fsnotify.Watcher, event fsnotify.Event) bool {
	switch {
	case event.Has(fsnotify.Create):
		info, err := os.Stat(event.Name)
		if err != nil || !info.IsDir() {
			return false
		}
		if err := w.addTree(fw, event.Name); err != nil {
			logger.Error("Failed to watch new directory", err, logger.Fields{"dir": event.Name})
		}
		return true
	case event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename):
		if !w.dirs[event.Name] {
			return false
		}
		prefix := event.Name + string(filepath.Separator)
		for d := range w.dirs {
			if d == event.Name || strings.HasPrefix(d, prefix) {
				delete(w.dirs, d)
				// fsnotify drops watches on deleted directories itself
				_ = fw.Remove(d)
			}
		}
		return true
	}
	return false
}

func relevant(event fsnotify.Event) bool {
	if !isMIDIFile(event.Name) {
		return false
	}
	return event.Has(fsnotify.Create) || event.Has(fsnotify.Write) ||
		event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename)
}
