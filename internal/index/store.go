package index

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/Conceptual-Machines/magda-bebop/internal/models"
	"github.com/Conceptual-Machines/magda-bebop/internal/theory"
)

// Store holds the published index snapshot. Readers always see a complete
// index; a rebuild builds a fresh Index and swaps it in with Publish.
type Store struct {
	dim     int
	current atomic.Pointer[Index]
}

// NewStore starts with an empty published snapshot
func NewStore(dim int) *Store {
	s := &Store{dim: dim}
	empty := New(dim)
	empty.frozen = true
	s.current.Store(empty)
	return s
}

// Publish freezes ix and makes it the current snapshot
func (s *Store) Publish(ix *Index) error {
	if ix.dim != s.dim {
		return &DimensionMismatchError{Want: s.dim, Got: ix.dim}
	}
	ix.frozen = true
	if ix.builtAt.IsZero() {
		ix.builtAt = time.Now().UTC()
	}
	s.current.Store(ix)
	return nil
}

// Current returns the published snapshot
func (s *Store) Current() *Index {
	return s.current.Load()
}

// Dimension returns the vector length of every snapshot
func (s *Store) Dimension() int {
	return s.dim
}

// Query runs against whichever snapshot is current when the call starts
func (s *Store) Query(ctx context.Context, chord theory.ChordContext, k int) ([]Result, error) {
	return s.Current().Query(ctx, chord, k)
}

// Clear publishes an empty snapshot
func (s *Store) Clear() {
	empty := New(s.dim)
	empty.frozen = true
	s.current.Store(empty)
}

// Info describes the current snapshot
func (s *Store) Info() models.DatabaseInfo {
	ix := s.Current()
	info := models.DatabaseInfo{
		RecordCount:    ix.Size(),
		Dimensionality: ix.Dimension(),
	}
	if !ix.builtAt.IsZero() {
		t := ix.builtAt
		info.LastBuildTime = &t
	}
	return info
}
