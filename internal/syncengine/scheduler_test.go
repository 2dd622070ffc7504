package syncengine

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/runic-labs/rune/internal/hlc"
)

type memSource struct {
	table    string
	rows     []RowSnapshot
	inserted []RowSnapshot
	updated  []RowSnapshot
}

func (m *memSource) Table() string { return m.table }

func (m *memSource) RowsSince(_ context.Context, since hlc.Stamp) ([]RowSnapshot, error) {
	var out []RowSnapshot
	for _, r := range m.rows {
		if hlc.Less(since, r.HLCUpdated) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *memSource) ApplyInsert(_ context.Context, row RowSnapshot) error {
	m.inserted = append(m.inserted, row)
	m.rows = append(m.rows, row)
	return nil
}

func (m *memSource) ApplyUpdate(_ context.Context, row RowSnapshot) error {
	m.updated = append(m.updated, row)
	for i, r := range m.rows {
		if r.SyncID == row.SyncID {
			m.rows[i] = row
			return nil
		}
	}
	m.rows = append(m.rows, row)
	return nil
}

type memPeer struct {
	nodeID string
	rows   []RowSnapshot
	pushed []RowSnapshot
}

func (p *memPeer) NodeID(context.Context) (string, error) { return p.nodeID, nil }

func (p *memPeer) Bookmark(context.Context, string) (hlc.Stamp, bool, error) {
	return hlc.Zero, false, nil
}

func (p *memPeer) RowsSince(_ context.Context, _ string, since hlc.Stamp) ([]RowSnapshot, error) {
	var out []RowSnapshot
	for _, r := range p.rows {
		if hlc.Less(since, r.HLCUpdated) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (p *memPeer) Push(_ context.Context, _ string, rows []RowSnapshot) error {
	p.pushed = append(p.pushed, rows...)
	return nil
}

type memBookmarks struct {
	stamps map[string]hlc.Stamp
}

func newMemBookmarks() *memBookmarks { return &memBookmarks{stamps: map[string]hlc.Stamp{}} }

func (b *memBookmarks) GetSyncBookmark(_ context.Context, table, peerNodeID string) (hlc.Stamp, bool, error) {
	s, ok := b.stamps[table+"|"+peerNodeID]
	return s, ok, nil
}

func (b *memBookmarks) SetSyncBookmark(_ context.Context, table, peerNodeID string, stamp hlc.Stamp) error {
	b.stamps[table+"|"+peerNodeID] = stamp
	return nil
}

func TestSchedulerSyncTablePullsRemoteOnlyRow(t *testing.T) {
	src := &memSource{table: "artists"}
	peer := &memPeer{nodeID: "remote-node", rows: []RowSnapshot{
		{SyncID: "a1", HLCUpdated: hlc.Stamp{WallMS: 10, NodeID: "remote-node"}, Fields: map[string]any{"name": "Remote Artist"}},
	}}
	bookmarks := newMemBookmarks()
	scheduler := NewScheduler(map[string]Source{"artists": src}, bookmarks, zerolog.Nop())

	result, err := scheduler.SyncTable(context.Background(), "artists", peer)
	require.NoError(t, err)
	require.Equal(t, 1, result.Inserted)
	require.Len(t, src.inserted, 1)
	require.Equal(t, "a1", src.inserted[0].SyncID)
}

func TestSchedulerSyncTablePushesLocalOnlyRow(t *testing.T) {
	src := &memSource{table: "artists", rows: []RowSnapshot{
		{SyncID: "local-only", HLCUpdated: hlc.Stamp{WallMS: 5, NodeID: "local"}, Fields: map[string]any{"name": "Local Artist"}},
	}}
	peer := &memPeer{nodeID: "remote-node"}
	bookmarks := newMemBookmarks()
	scheduler := NewScheduler(map[string]Source{"artists": src}, bookmarks, zerolog.Nop())

	result, err := scheduler.SyncTable(context.Background(), "artists", peer)
	require.NoError(t, err)
	require.Equal(t, 1, result.Pushed)
	require.Len(t, peer.pushed, 1)
	require.Equal(t, "local-only", peer.pushed[0].SyncID)
}

func TestSchedulerSyncTableResolvesConflictByLaterHLC(t *testing.T) {
	src := &memSource{table: "artists", rows: []RowSnapshot{
		{SyncID: "a1", HLCUpdated: hlc.Stamp{WallMS: 1, NodeID: "local"}, Fields: map[string]any{"name": "Old Name"}},
	}}
	peer := &memPeer{nodeID: "remote-node", rows: []RowSnapshot{
		{SyncID: "a1", HLCUpdated: hlc.Stamp{WallMS: 99, NodeID: "remote-node"}, Fields: map[string]any{"name": "New Name"}},
	}}
	bookmarks := newMemBookmarks()
	scheduler := NewScheduler(map[string]Source{"artists": src}, bookmarks, zerolog.Nop())

	result, err := scheduler.SyncTable(context.Background(), "artists", peer)
	require.NoError(t, err)
	require.Equal(t, 1, result.Conflicts)
	require.Len(t, src.updated, 1)
	require.Equal(t, "New Name", src.updated[0].Fields["name"])
}

func TestSchedulerSyncTableAdvancesBookmarkOnSuccessfulPass(t *testing.T) {
	src := &memSource{table: "artists"}
	peer := &memPeer{nodeID: "remote-node", rows: []RowSnapshot{
		{SyncID: "a1", HLCUpdated: hlc.Stamp{WallMS: 50, NodeID: "remote-node"}, Fields: map[string]any{"name": "Remote Artist"}},
	}}
	bookmarks := newMemBookmarks()
	scheduler := NewScheduler(map[string]Source{"artists": src}, bookmarks, zerolog.Nop())

	_, err := scheduler.SyncTable(context.Background(), "artists", peer)
	require.NoError(t, err)

	stamp, ok, err := bookmarks.GetSyncBookmark(context.Background(), "artists", "remote-node")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, int64(50), stamp.WallMS)
}

func TestSchedulerSyncTableErrorsOnUnknownTable(t *testing.T) {
	scheduler := NewScheduler(map[string]Source{}, newMemBookmarks(), zerolog.Nop())
	_, err := scheduler.SyncTable(context.Background(), "nonexistent", &memPeer{nodeID: "remote-node"})
	require.Error(t, err)
}

func TestSchedulerSyncTableDoesNotAdvanceBookmarkOnCancelledContext(t *testing.T) {
	src := &memSource{table: "artists"}
	peer := &memPeer{nodeID: "remote-node", rows: []RowSnapshot{
		{SyncID: "a1", HLCUpdated: hlc.Stamp{WallMS: 50, NodeID: "remote-node"}, Fields: map[string]any{"name": "Remote Artist"}},
	}}
	bookmarks := newMemBookmarks()
	scheduler := NewScheduler(map[string]Source{"artists": src}, bookmarks, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := scheduler.SyncTable(ctx, "artists", peer)
	require.Error(t, err)

	_, ok, _ := bookmarks.GetSyncBookmark(context.Background(), "artists", "remote-node")
	require.False(t, ok)
}
