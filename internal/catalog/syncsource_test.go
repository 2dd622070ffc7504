package catalog

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/runic-labs/rune/internal/hlc"
	"github.com/runic-labs/rune/internal/syncengine"
)

func TestSyncSourceRowsSinceReturnsNewerArtists(t *testing.T) {
	s := newTestStore(t)
	clock := hlc.New("node-a")
	ctx := context.Background()

	_, err := s.UpsertArtist(ctx, UpsertArtistParams{Name: "Gorillaz", Now: clock.Now()})
	require.NoError(t, err)

	src, err := NewSyncSource(s, "artists")
	require.NoError(t, err)

	rows, err := src.RowsSince(ctx, hlc.Zero)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, "Gorillaz", rows[0].Fields["name"])
	require.NotEmpty(t, rows[0].SyncID)
}

func TestSyncSourceApplyInsertCreatesRemoteArtist(t *testing.T) {
	s := newTestStore(t)
	clock := hlc.New("node-b")
	ctx := context.Background()

	src, err := NewSyncSource(s, "artists")
	require.NoError(t, err)

	row := syncengine.RowSnapshot{
		SyncID:     "remote-sync-id-1",
		HLCUpdated: clock.Now(),
		NodeID:     "node-b",
		Fields:     map[string]any{"name": "Portishead", "sort_name": "Portishead"},
	}
	require.NoError(t, src.ApplyInsert(ctx, row))

	got, err := s.GetArtistByName(ctx, "Portishead")
	require.NoError(t, err)
	require.Equal(t, "remote-sync-id-1", got.HLCUUID)
}

func TestSyncSourceApplyInsertDefersUnresolvedFK(t *testing.T) {
	s := newTestStore(t)
	clock := hlc.New("node-b")
	ctx := context.Background()

	src, err := NewSyncSource(s, "albums")
	require.NoError(t, err)

	row := syncengine.RowSnapshot{
		SyncID:     "remote-album-1",
		HLCUpdated: clock.Now(),
		NodeID:     "node-b",
		Fields:     map[string]any{"name": "Dummy"},
		FKSyncIDs:  map[string]string{"artist_id": "unknown-artist-sync-id"},
	}
	err = src.ApplyInsert(ctx, row)
	require.Error(t, err)
	require.True(t, syncengine.IsDeferredFK(err))
}

func TestSyncSourceApplyInsertResolvesFKOnceParentExists(t *testing.T) {
	s := newTestStore(t)
	clock := hlc.New("node-b")
	ctx := context.Background()

	artist, err := s.UpsertArtist(ctx, UpsertArtistParams{Name: "Massive Attack", Now: clock.Now()})
	require.NoError(t, err)

	src, err := NewSyncSource(s, "albums")
	require.NoError(t, err)

	row := syncengine.RowSnapshot{
		SyncID:     "remote-album-2",
		HLCUpdated: clock.Now(),
		NodeID:     "node-b",
		Fields:     map[string]any{"name": "Mezzanine"},
		FKSyncIDs:  map[string]string{"artist_id": artist.HLCUUID},
	}
	require.NoError(t, src.ApplyInsert(ctx, row))

	albumSrc, err := NewSyncSource(s, "albums")
	require.NoError(t, err)
	rows, err := albumSrc.RowsSince(ctx, hlc.Zero)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, artist.HLCUUID, rows[0].FKSyncIDs["artist_id"])
}

func TestSourcesBuildsOneEntryPerSyncTable(t *testing.T) {
	s := newTestStore(t)
	srcs, err := Sources(s)
	require.NoError(t, err)
	require.Len(t, srcs, len(syncengine.SyncTables))
	for _, table := range syncengine.SyncTables {
		require.Contains(t, srcs, table)
	}
}
