package index

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/Conceptual-Machines/magda-bebop/internal/features"
	"github.com/Conceptual-Machines/magda-bebop/internal/models"
	"github.com/Conceptual-Machines/magda-bebop/internal/theory"
)

// cancellation is checked every this many records during a scan
const scanCheckEvery = 256

var (
	// ErrFrozen is returned when mutating a published snapshot
	ErrFrozen = errors.New("index snapshot is read-only")
	// ErrInvalidK is returned for k <= 0
	ErrInvalidK = errors.New("k must be positive")
)

// EmptyIndexError is returned when querying an index with no records
type EmptyIndexError struct{}

func (EmptyIndexError) Error() string {
	return "melody index is empty"
}

// DimensionMismatchError is returned when a vector does not fit the index
type DimensionMismatchError struct {
	Want int
	Got  int
}

func (e *DimensionMismatchError) Error() string {
	return fmt.Sprintf("vector dimension %d does not match index dimension %d", e.Got, e.Want)
}

// Record is one indexed fragment
type Record struct {
	ID       string                 `json:"id"`
	Vector   features.FeatureVector `json:"vector"`
	Fragment models.MelodyFragment  `json:"fragment"`
	Chord    theory.ChordContext    `json:"chord"`
}

// Result is a ranked query answer. Lower distance is closer.
type Result struct {
	Record   Record
	Distance float64
}

// Index is an in-memory nearest-neighbour index over fragment vectors.
// Distance is Euclidean. Insertion is append-only with no deduplication.
// An Index is built by a single goroutine, then frozen and shared read-only.
type Index struct {
	dim     int
	records []Record
	sum     []float64
	frozen  bool
	builtAt time.Time
}

// New creates an empty index for vectors of the given dimension
func New(dim int) *Index {
	return &Index{dim: dim, sum: make([]float64, dim)}
}

// Insert appends a record
func (ix *Index) Insert(rec Record) error {
	if ix.frozen {
		return ErrFrozen
	}
	if len(rec.Vector) != ix.dim {
		return &DimensionMismatchError{Want: ix.dim, Got: len(rec.Vector)}
	}
	vec := append(features.FeatureVector(nil), rec.Vector...)
	rec.Vector = vec
	for i, x := range vec {
		ix.sum[i] += x
	}
	ix.records = append(ix.records, rec)
	return nil
}

// Size returns the number of records
func (ix *Index) Size() int {
	return len(ix.records)
}

// Dimension returns the vector length accepted by the index
func (ix *Index) Dimension() int {
	return ix.dim
}

// BuiltAt returns when the snapshot was published; zero if never
func (ix *Index) BuiltAt() time.Time {
	return ix.builtAt
}

// SetBuiltAt records the build time of a restored snapshot
func (ix *Index) SetBuiltAt(t time.Time) error {
	if ix.frozen {
		return ErrFrozen
	}
	ix.builtAt = t
	return nil
}

// Frozen reports whether the index has been published
func (ix *Index) Frozen() bool {
	return ix.frozen
}

// Records returns a copy of the records in insertion order
func (ix *Index) Records() []Record {
	return append([]Record(nil), ix.records...)
}

// Clear removes every record
func (ix *Index) Clear() error {
	if ix.frozen {
		return ErrFrozen
	}
	ix.records = nil
	ix.sum = make([]float64, ix.dim)
	return nil
}

// Centroid returns the mean vector, or nil for an empty index
func (ix *Index) Centroid() features.FeatureVector {
	if len(ix.records) == 0 {
		return nil
	}
	c := make(features.FeatureVector, ix.dim)
	n := float64(len(ix.records))
	for i, s := range ix.sum {
		c[i] = s / n
	}
	return c
}

// Query projects the chord into feature space and returns the k closest
// records, nearest first. Equal distances keep insertion order.
func (ix *Index) Query(ctx context.Context, chord theory.ChordContext, k int) ([]Result, error) {
	if err := chord.Validate(); err != nil {
		return nil, err
	}
	if k <= 0 {
		return nil, ErrInvalidK
	}
	if len(ix.records) == 0 {
		return nil, EmptyIndexError{}
	}
	return ix.QueryVector(ctx, ChordEmbedding(chord, ix.Centroid()), k)
}

// QueryVector returns the k records closest to vec, nearest first
func (ix *Index) QueryVector(ctx context.Context, vec features.FeatureVector, k int) ([]Result, error) {
	if k <= 0 {
		return nil, ErrInvalidK
	}
	if len(vec) != ix.dim {
		return nil, &DimensionMismatchError{Want: ix.dim, Got: len(vec)}
	}
	if len(ix.records) == 0 {
		return nil, EmptyIndexError{}
	}

	results := make([]Result, len(ix.records))
	for i, rec := range ix.records {
		if i%scanCheckEvery == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		results[i] = Result{Record: rec, Distance: features.Distance(vec, rec.Vector)}
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Distance < results[j].Distance
	})

	if k < len(results) {
		results = results[:k]
	}
	return results, nil
}
