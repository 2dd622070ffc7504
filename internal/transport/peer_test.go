package transport

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/runic-labs/rune/internal/hlc"
	"github.com/runic-labs/rune/internal/syncengine"
)

type fakeSource struct {
	table     string
	rows      []syncengine.RowSnapshot
	inserted  []syncengine.RowSnapshot
	insertErr error
}

func (f *fakeSource) Table() string { return f.table }

func (f *fakeSource) RowsSince(context.Context, hlc.Stamp) ([]syncengine.RowSnapshot, error) {
	return f.rows, nil
}

func (f *fakeSource) ApplyInsert(_ context.Context, row syncengine.RowSnapshot) error {
	if f.insertErr != nil {
		return f.insertErr
	}
	f.inserted = append(f.inserted, row)
	return nil
}

func (f *fakeSource) ApplyUpdate(_ context.Context, row syncengine.RowSnapshot) error {
	f.inserted = append(f.inserted, row)
	return nil
}

type fakeBookmarks struct {
	stamp hlc.Stamp
	has   bool
}

func (b *fakeBookmarks) GetSyncBookmark(context.Context, string, string) (hlc.Stamp, bool, error) {
	return b.stamp, b.has, nil
}

// newPeerPair wires a NewSyncRequestHandler-backed server Conn to a
// client Conn, and returns the client wrapped as a WSPeer, exercising
// the full request DTO marshal/unmarshal path over a real socket.
func newPeerPair(t *testing.T, sources map[string]syncengine.Source, bookmarks syncengine.Bookmarks) *WSPeer {
	t.Helper()
	handler := NewSyncRequestHandler("local-node", sources, bookmarks)
	client, _ := newConnPair(t, handler)
	return NewWSPeer(client)
}

func TestSyncRequestHandlerNodeID(t *testing.T) {
	peer := newPeerPair(t, nil, &fakeBookmarks{})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	id, err := peer.NodeID(ctx)
	require.NoError(t, err)
	require.Equal(t, "local-node", id)
}

func TestSyncRequestHandlerBookmark(t *testing.T) {
	want := hlc.Stamp{WallMS: 42, Counter: 3, NodeID: "n1"}
	peer := newPeerPair(t, nil, &fakeBookmarks{stamp: want, has: true})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	stamp, ok, err := peer.Bookmark(ctx, "artists")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, want, stamp)
}

func TestSyncRequestHandlerRowsSince(t *testing.T) {
	src := &fakeSource{table: "artists", rows: []syncengine.RowSnapshot{
		{SyncID: "a1", Fields: map[string]any{"name": "Test Artist"}},
	}}
	peer := newPeerPair(t, map[string]syncengine.Source{"artists": src}, &fakeBookmarks{})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	rows, err := peer.RowsSince(ctx, "artists", hlc.Zero)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, "a1", rows[0].SyncID)
}

func TestSyncRequestHandlerRowsSinceUnknownTable(t *testing.T) {
	peer := newPeerPair(t, map[string]syncengine.Source{}, &fakeBookmarks{})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := peer.RowsSince(ctx, "nonexistent", hlc.Zero)
	require.Error(t, err)
}

func TestSyncRequestHandlerPushAppliesInsert(t *testing.T) {
	src := &fakeSource{table: "artists"}
	peer := newPeerPair(t, map[string]syncengine.Source{"artists": src}, &fakeBookmarks{})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	row := syncengine.RowSnapshot{SyncID: "a2", Fields: map[string]any{"name": "Another Artist"}}
	err := peer.Push(ctx, "artists", []syncengine.RowSnapshot{row})
	require.NoError(t, err)
	require.Len(t, src.inserted, 1)
	require.Equal(t, "a2", src.inserted[0].SyncID)
}

func TestSyncRequestHandlerPushSkipsDeferredFK(t *testing.T) {
	src := &fakeSource{table: "media_file_artists", insertErr: syncengine.NewDeferredFKError("artist_id", "missing-sync-id")}
	peer := newPeerPair(t, map[string]syncengine.Source{"media_file_artists": src}, &fakeBookmarks{})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	row := syncengine.RowSnapshot{SyncID: "mfa1", Fields: map[string]any{}}
	err := peer.Push(ctx, "media_file_artists", []syncengine.RowSnapshot{row})
	require.NoError(t, err)
	require.Empty(t, src.inserted)
}

func TestWSPeerCloseTearsDownConnection(t *testing.T) {
	peer := newPeerPair(t, nil, &fakeBookmarks{})
	require.NoError(t, peer.Close())
}
