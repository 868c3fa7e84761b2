package index

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Conceptual-Machines/magda-bebop/internal/features"
	"github.com/Conceptual-Machines/magda-bebop/internal/models"
	"github.com/Conceptual-Machines/magda-bebop/internal/theory"
)

var cMajor = theory.ChordContext{Root: 0, Quality: theory.Major}

func fragment(file string, pitches ...int) models.MelodyFragment {
	notes := make([]models.NoteEvent, len(pitches))
	for i, p := range pitches {
		notes[i] = models.NoteEvent{Pitch: p, Velocity: 80, StartBeats: float64(i), DurationBeats: 1}
	}
	return models.MelodyFragment{Source: models.SourceRef{File: file}, Notes: notes}
}

func record(id string, f models.MelodyFragment) Record {
	return Record{ID: id, Vector: features.Vector(f), Fragment: f, Chord: cMajor}
}

func TestInsertDimensionMismatch(t *testing.T) {
	ix := New(features.Dimension)
	err := ix.Insert(Record{ID: "bad", Vector: features.FeatureVector{1, 2, 3}})

	var derr *DimensionMismatchError
	require.True(t, errors.As(err, &derr))
	assert.Equal(t, features.Dimension, derr.Want)
	assert.Equal(t, 3, derr.Got)
	assert.Equal(t, 0, ix.Size())
}

func TestQueryEmptyIndex(t *testing.T) {
	ix := New(features.Dimension)
	_, err := ix.Query(context.Background(), cMajor, 3)
	assert.True(t, errors.As(err, &EmptyIndexError{}))
}

func TestQueryRejectsBadInput(t *testing.T) {
	ix := New(features.Dimension)
	require.NoError(t, ix.Insert(record("a", fragment("a.mid", 60, 62, 64))))

	_, err := ix.Query(context.Background(), cMajor, 0)
	assert.ErrorIs(t, err, ErrInvalidK)

	_, err = ix.Query(context.Background(), theory.ChordContext{Root: 0}, 1)
	var qerr *theory.UnknownChordQualityError
	assert.True(t, errors.As(err, &qerr))
}

func TestQueryRoundTrip(t *testing.T) {
	ix := New(features.Dimension)
	rec := record("only", fragment("solo.mid", 67, 65, 64, 62, 60))
	require.NoError(t, ix.Insert(rec))

	results, err := ix.Query(context.Background(), rec.Chord, 5)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "only", results[0].Record.ID)
}

func TestQueryOrderingIsMonotonic(t *testing.T) {
	ix := New(features.Dimension)
	frags := []models.MelodyFragment{
		fragment("a.mid", 60, 62, 64, 65, 67, 69, 71, 72),
		fragment("b.mid", 60, 63, 65, 66, 67, 70, 72),
		fragment("c.mid", 67, 69, 71, 72, 74, 76, 77, 79),
		fragment("d.mid", 61, 66, 68, 73),
		fragment("e.mid", 64, 67, 72, 76),
	}
	for i, f := range frags {
		require.NoError(t, ix.Insert(record(string(rune('a'+i)), f)))
	}

	for _, chord := range []theory.ChordContext{
		cMajor,
		{Root: 7, Quality: theory.Dominant7},
		{Root: 2, Quality: theory.Minor7},
	} {
		results, err := ix.Query(context.Background(), chord, 10)
		require.NoError(t, err)
		require.Len(t, results, len(frags))
		for i := 1; i < len(results); i++ {
			assert.LessOrEqual(t, results[i-1].Distance, results[i].Distance)
		}
	}
}

func TestQueryTiesKeepInsertionOrder(t *testing.T) {
	ix := New(features.Dimension)
	f := fragment("dup.mid", 60, 64, 67)
	for _, id := range []string{"first", "second", "third"} {
		require.NoError(t, ix.Insert(record(id, f)))
	}

	results, err := ix.Query(context.Background(), cMajor, 2)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "first", results[0].Record.ID)
	assert.Equal(t, "second", results[1].Record.ID)
	assert.Equal(t, 3, ix.Size(), "duplicates are not merged")
}

func TestQueryHonorsCancellation(t *testing.T) {
	ix := New(features.Dimension)
	require.NoError(t, ix.Insert(record("a", fragment("a.mid", 60, 62))))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := ix.Query(ctx, cMajor, 1)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestChordEmbeddingFavorsRootHeavyFragments(t *testing.T) {
	ix := New(features.Dimension)
	require.NoError(t, ix.Insert(record("blues", fragment("blues.mid", 60, 63, 65, 66, 67, 70, 72))))
	require.NoError(t, ix.Insert(record("scale", fragment("scale.mid", 60, 62, 64, 65, 67, 69, 71, 72))))
	require.NoError(t, ix.Insert(record("iivi", fragment("iivi.mid", 67, 69, 71, 72, 74, 76, 77, 79))))

	results, err := ix.Query(context.Background(), cMajor, 1)
	require.NoError(t, err)
	assert.Equal(t, "scale", results[0].Record.ID)

	results, err = ix.Query(context.Background(), theory.ChordContext{Root: 7, Quality: theory.Major}, 1)
	require.NoError(t, err)
	assert.Equal(t, "iivi", results[0].Record.ID)
}

func TestChordEmbeddingShape(t *testing.T) {
	v := ChordEmbedding(cMajor, nil)
	require.Len(t, v, features.Dimension)

	sum := 0.0
	for _, x := range v[features.PitchClassOffset:features.IntervalOffset] {
		sum += x
	}
	assert.InDelta(t, 1.0, sum, 1e-9)
	assert.Greater(t, v[0], v[4], "root outweighs the third")
	assert.Greater(t, v[4], v[2], "chord tones outweigh scale tones")
	assert.Equal(t, 0.0, v[10], "Bb is outside C major bebop")
}

func TestFrozenIndex(t *testing.T) {
	store := NewStore(features.Dimension)
	ix := New(features.Dimension)
	require.NoError(t, ix.Insert(record("a", fragment("a.mid", 60, 62))))
	require.NoError(t, store.Publish(ix))

	assert.ErrorIs(t, ix.Insert(record("b", fragment("b.mid", 62, 64))), ErrFrozen)
	assert.ErrorIs(t, ix.Clear(), ErrFrozen)
	assert.Equal(t, 1, store.Current().Size())
}

func TestStorePublishAndInfo(t *testing.T) {
	store := NewStore(features.Dimension)

	info := store.Info()
	assert.Equal(t, 0, info.RecordCount)
	assert.Equal(t, features.Dimension, info.Dimensionality)
	assert.Nil(t, info.LastBuildTime)

	_, err := store.Query(context.Background(), cMajor, 1)
	assert.True(t, errors.As(err, &EmptyIndexError{}))

	ix := New(features.Dimension)
	require.NoError(t, ix.Insert(record("a", fragment("a.mid", 60, 62))))
	require.NoError(t, ix.Insert(record("b", fragment("b.mid", 64, 65))))
	require.NoError(t, store.Publish(ix))

	info = store.Info()
	assert.Equal(t, 2, info.RecordCount)
	require.NotNil(t, info.LastBuildTime)

	store.Clear()
	assert.Equal(t, 0, store.Info().RecordCount)

	err = store.Publish(New(4))
	var derr *DimensionMismatchError
	assert.True(t, errors.As(err, &derr))
}

func TestStoreSwapUnderConcurrentReaders(t *testing.T) {
	store := NewStore(features.Dimension)
	first := New(features.Dimension)
	require.NoError(t, first.Insert(record("old", fragment("old.mid", 60, 62, 64))))
	require.NoError(t, store.Publish(first))

	var wg sync.WaitGroup
	errs := make(chan error, 100)
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results, err := store.Query(context.Background(), cMajor, 1)
			if err != nil {
				errs <- err
				return
			}
			if id := results[0].Record.ID; id != "old" && id != "new" {
				errs <- errors.New("unexpected record " + id)
			}
		}()
	}

	second := New(features.Dimension)
	require.NoError(t, second.Insert(record("new", fragment("new.mid", 60, 64, 67))))
	require.NoError(t, store.Publish(second))

	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
	assert.Equal(t, "new", store.Current().Records()[0].ID)
}
