package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Conceptual-Machines/magda-bebop/internal/features"
	"github.com/Conceptual-Machines/magda-bebop/internal/index"
	"github.com/Conceptual-Machines/magda-bebop/internal/models"
	"github.com/Conceptual-Machines/magda-bebop/internal/theory"
)

func buildIndex(t *testing.T, n int) *index.Index {
	t.Helper()
	ix := index.New(features.Dimension)
	for i := 0; i < n; i++ {
		frag := models.MelodyFragment{
			Source: models.SourceRef{File: "f.mid", Offset: float64(i * 8), Ordinal: i},
			Notes: []models.NoteEvent{
				{Pitch: 60 + i, Velocity: 80, StartBeats: 0, DurationBeats: 0.5},
				{Pitch: 64 + i, Velocity: 80, StartBeats: 0.5, DurationBeats: 0.5},
			},
		}
		require.NoError(t, ix.Insert(index.Record{
			ID:       "rec" + string(rune('a'+i)),
			Vector:   features.Vector(frag),
			Fragment: frag,
			Chord:    theory.ChordContext{Root: i % 12, Quality: theory.Dominant7},
		}))
	}
	require.NoError(t, ix.SetBuiltAt(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)))
	return ix
}

func TestSaveAndLoad(t *testing.T) {
	store, err := Open(InMemoryConfig())
	require.NoError(t, err)
	defer store.Close()

	original := buildIndex(t, 5)
	require.NoError(t, store.Save(context.Background(), original))

	loaded, err := store.Load(context.Background())
	require.NoError(t, err)

	assert.Equal(t, original.Size(), loaded.Size())
	assert.Equal(t, original.Dimension(), loaded.Dimension())
	assert.True(t, original.BuiltAt().Equal(loaded.BuiltAt()))
	assert.False(t, loaded.Frozen())

	want := original.Records()
	got := loaded.Records()
	for i := range want {
		assert.Equal(t, want[i].ID, got[i].ID, "insertion order survives")
		assert.Equal(t, want[i].Chord, got[i].Chord)
		assert.InDeltaSlice(t, want[i].Vector, got[i].Vector, 1e-12)
	}
}

func TestSaveReplacesPreviousSnapshot(t *testing.T) {
	store, err := Open(InMemoryConfig())
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.Save(context.Background(), buildIndex(t, 6)))
	require.NoError(t, store.Save(context.Background(), buildIndex(t, 2)))

	loaded, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, loaded.Size())
}

func TestLoadWithoutSnapshot(t *testing.T) {
	store, err := Open(InMemoryConfig())
	require.NoError(t, err)
	defer store.Close()

	_, err = store.Load(context.Background())
	assert.ErrorIs(t, err, ErrNoSnapshot)
}

func TestPersistentStore(t *testing.T) {
	dir := t.TempDir()

	store, err := Open(DefaultConfig(dir))
	require.NoError(t, err)
	require.NoError(t, store.Save(context.Background(), buildIndex(t, 3)))
	require.NoError(t, store.Close())

	reopened, err := Open(DefaultConfig(dir))
	require.NoError(t, err)
	defer reopened.Close()

	loaded, err := reopened.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, loaded.Size())
}

func TestOpenRequiresPath(t *testing.T) {
	_, err := Open(Config{})
	assert.Error(t, err)
}
