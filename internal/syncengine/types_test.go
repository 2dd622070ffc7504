package syncengine

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/runic-labs/rune/internal/hlc"
)

func rowAt(id string, wallMS int64) RowSnapshot {
	return RowSnapshot{SyncID: id, HLCUpdated: hlc.Stamp{WallMS: wallMS}, Fields: map[string]any{"n": id}}
}

func TestChunkHashIsDeterministic(t *testing.T) {
	rows := []RowSnapshot{rowAt("a", 1), rowAt("b", 2)}
	require.Equal(t, ChunkHash(rows), ChunkHash(rows))
}

func TestChunkHashDiffersOnContentChange(t *testing.T) {
	a := []RowSnapshot{rowAt("a", 1)}
	b := []RowSnapshot{rowAt("a", 2)}
	require.NotEqual(t, ChunkHash(a), ChunkHash(b))
}

func TestBuildChunksGroupsBySize(t *testing.T) {
	rows := []RowSnapshot{rowAt("a", 1), rowAt("b", 2), rowAt("c", 3)}
	chunks := BuildChunks(rows, 2)
	require.Len(t, chunks, 2)
	require.Equal(t, 2, chunks[0].Count)
	require.Equal(t, 1, chunks[1].Count)
	require.Equal(t, rows[0].HLCUpdated, chunks[0].StartHLC)
	require.Equal(t, rows[1].HLCUpdated, chunks[0].EndHLC)
}

func TestBuildChunksDefaultsSizeWhenNonPositive(t *testing.T) {
	rows := []RowSnapshot{rowAt("a", 1)}
	chunks := BuildChunks(rows, 0)
	require.Len(t, chunks, 1)
}

func TestBuildChunksEmptyInput(t *testing.T) {
	require.Empty(t, BuildChunks(nil, 10))
}

func TestIsDeferredFKRoundTrip(t *testing.T) {
	err := NewDeferredFKError("artist_id", "missing-sync-id")
	require.True(t, IsDeferredFK(err))
	require.False(t, IsDeferredFK(nil))
}
