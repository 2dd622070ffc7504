package ingest

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/runic-labs/rune/internal/catalog"
	"github.com/runic-labs/rune/internal/fsx"
	"github.com/runic-labs/rune/internal/hlc"
)

func newPipelineTestStore(t *testing.T) *catalog.Store {
	t.Helper()
	s, err := catalog.Connect(context.Background(), "file::memory:?cache=shared")
	require.NoError(t, err)
	require.NoError(t, s.Migrate())
	t.Cleanup(func() { _ = s.Close() })
	return s
}

type fakeDeleteIndex struct {
	deleted []int64
}

func (f *fakeDeleteIndex) Delete(_ context.Context, mediaFileID int64) error {
	f.deleted = append(f.deleted, mediaFileID)
	return nil
}

func TestRunSoftDeletesFilesNoLongerSeen(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.ogg"), []byte("a"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.ogg"), []byte("b"), 0o644))

	store := newPipelineTestStore(t)
	pipeline := New(fsx.NewNativeFS(), store, hlc.New("node-a"), nil, zerolog.Nop())

	require.NoError(t, pipeline.Run(context.Background(), Options{LibraryRoot: dir, Workers: 2}))

	canonDir, err := fsx.NewNativeFS().Canonicalize(dir)
	require.NoError(t, err)

	before, err := store.GetMediaFileByPath(context.Background(), toUnixPath(filepath.ToSlash(canonDir)), "b.ogg")
	require.NoError(t, err)
	require.False(t, before.Deleted)

	require.NoError(t, os.Remove(filepath.Join(dir, "b.ogg")))
	require.NoError(t, pipeline.Run(context.Background(), Options{LibraryRoot: dir, Workers: 2}))

	after, err := store.GetMediaFileByPath(context.Background(), toUnixPath(filepath.ToSlash(canonDir)), "b.ogg")
	require.NoError(t, err)
	require.True(t, after.Deleted, "file removed from disk must be soft-deleted once the walker no longer sees it")

	stillThere, err := store.GetMediaFileByPath(context.Background(), toUnixPath(filepath.ToSlash(canonDir)), "a.ogg")
	require.NoError(t, err)
	require.False(t, stillThere.Deleted, "files still present on disk must not be touched by the sweep")
}

func TestRunDeletesStaleVectorOnHashChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.ogg")
	require.NoError(t, os.WriteFile(path, []byte("original"), 0o644))
	firstMtime := time.Unix(1_700_000_000, 0)
	require.NoError(t, os.Chtimes(path, firstMtime, firstMtime))

	store := newPipelineTestStore(t)
	index := &fakeDeleteIndex{}
	pipeline := New(fsx.NewNativeFS(), store, hlc.New("node-a"), index, zerolog.Nop())

	require.NoError(t, pipeline.Run(context.Background(), Options{LibraryRoot: dir, Workers: 1}))
	require.Empty(t, index.deleted, "no invalidation on first ingest")

	// Distinct mtime plus changed content forces the second pass past the
	// mtime short-circuit and into the hash comparison.
	require.NoError(t, os.WriteFile(path, []byte("changed content"), 0o644))
	secondMtime := firstMtime.Add(10 * time.Second)
	require.NoError(t, os.Chtimes(path, secondMtime, secondMtime))

	require.NoError(t, pipeline.Run(context.Background(), Options{LibraryRoot: dir, Workers: 1}))
	require.Len(t, index.deleted, 1, "hash mismatch on re-ingest must invalidate the stale vector")
}
