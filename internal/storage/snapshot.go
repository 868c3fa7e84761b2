package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/Conceptual-Machines/magda-bebop/internal/index"
	"github.com/Conceptual-Machines/magda-bebop/internal/logger"
)

var (
	metaKey   = []byte("snapshot/meta")
	recPrefix = []byte("snapshot/rec/")
)

// ErrNoSnapshot is returned by Load when nothing has been saved yet
var ErrNoSnapshot = errors.New("no saved index snapshot")

// Config holds configuration for the snapshot database
type Config struct {
	// Path is the directory for database files; ignored when InMemory is set
	Path string
	// InMemory keeps everything in RAM (tests)
	InMemory bool
	// SyncWrites fsyncs every write
	SyncWrites bool
	// GCInterval is how often value log GC runs; 0 disables it
	GCInterval time.Duration
	// GCDiscardRatio is the garbage ratio that triggers a rewrite
	GCDiscardRatio float64
}

// DefaultConfig returns production settings for a snapshot directory
func DefaultConfig(path string) Config {
	return Config{
		Path:           path,
		SyncWrites:     true,
		GCInterval:     10 * time.Minute,
		GCDiscardRatio: 0.5,
	}
}

// InMemoryConfig returns settings for tests
func InMemoryConfig() Config {
	return Config{InMemory: true}
}

type snapshotMeta struct {
	Dimension int       `json:"dimension"`
	Count     int       `json:"count"`
	BuiltAt   time.Time `json:"built_at"`
}

// SnapshotStore persists published index snapshots in BadgerDB
type SnapshotStore struct {
	db  *badger.DB
	cfg Config
}

// badgerLogger routes BadgerDB's own logging through the service logger
type badgerLogger struct{}

func (badgerLogger) Errorf(format string, args ...interface{}) {
	logger.Error("badger", fmt.Errorf(format, args...), nil)
}

func (badgerLogger) Warningf(format string, args ...interface{}) {
	logger.Warn(fmt.Sprintf("badger: "+format, args...), nil)
}

func (badgerLogger) Infof(format string, args ...interface{}) {}

func (badgerLogger) Debugf(format string, args ...interface{}) {}

// Open opens (or creates) the snapshot database
func Open(cfg Config) (*SnapshotStore, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for persistent snapshot store")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, fmt.Errorf("create snapshot directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.
		WithSyncWrites(cfg.SyncWrites).
		WithNumVersionsToKeep(1).
		WithLogger(badgerLogger{})

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open snapshot database: %w", err)
	}
	return &SnapshotStore{db: db, cfg: cfg}, nil
}

// Close closes the database
func (s *SnapshotStore) Close() error {
	return s.db.Close()
}

// Save replaces the stored snapshot with ix
func (s *SnapshotStore) Save(ctx context.Context, ix *index.Index) error {
	var stale [][]byte
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = recPrefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			stale = append(stale, it.Item().KeyCopy(nil))
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("scan old snapshot: %w", err)
	}

	wb := s.db.NewWriteBatch()
	defer wb.Cancel()

	for _, k := range stale {
		if err := wb.Delete(k); err != nil {
			return fmt.Errorf("delete old record: %w", err)
		}
	}

	for i, rec := range ix.Records() {
		if i%256 == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		data, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("encode record %s: %w", rec.ID, err)
		}
		if err := wb.Set(recordKey(i), data); err != nil {
			return fmt.Errorf("write record %s: %w", rec.ID, err)
		}
	}

	meta, err := json.Marshal(snapshotMeta{
		Dimension: ix.Dimension(),
		Count:     ix.Size(),
		BuiltAt:   ix.BuiltAt(),
	})
	if err != nil {
		return fmt.Errorf("encode snapshot meta: %w", err)
	}
	if err := wb.Set(metaKey, meta); err != nil {
		return fmt.Errorf("write snapshot meta: %w", err)
	}

	return wb.Flush()
}

// Load rebuilds the saved snapshot as an unpublished index
func (s *SnapshotStore) Load(ctx context.Context) (*index.Index, error) {
	var ix *index.Index
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(metaKey)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNoSnapshot
		}
		if err != nil {
			return err
		}

		var meta snapshotMeta
		if err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, &meta)
		}); err != nil {
			return fmt.Errorf("decode snapshot meta: %w", err)
		}

		ix = index.New(meta.Dimension)
		if err := ix.SetBuiltAt(meta.BuiltAt); err != nil {
			return err
		}

		opts := badger.DefaultIteratorOptions
		opts.Prefix = recPrefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			var rec index.Record
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			}); err != nil {
				return fmt.Errorf("decode record %s: %w", it.Item().Key(), err)
			}
			if err := ix.Insert(rec); err != nil {
				return err
			}
		}

		if ix.Size() != meta.Count {
			return fmt.Errorf("snapshot has %d records, meta says %d", ix.Size(), meta.Count)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ix, nil
}

// RunGC rewrites the value log periodically until ctx is done
func (s *SnapshotStore) RunGC(ctx context.Context) {
	if s.cfg.InMemory || s.cfg.GCInterval <= 0 {
		return
	}
	ticker := time.NewTicker(s.cfg.GCInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// ErrNoRewrite only means there was nothing to collect
			if err := s.db.RunValueLogGC(s.cfg.GCDiscardRatio); err != nil && !errors.Is(err, badger.ErrNoRewrite) {
				logger.Warn("Snapshot value log GC failed", logger.Fields{"error": err.Error()})
			}
		}
	}
}

func recordKey(i int) []byte {
	return []byte(fmt.Sprintf("%s%09d", recPrefix, i))
}
