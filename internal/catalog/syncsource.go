package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/runic-labs/rune/internal/hlc"
	"github.com/runic-labs/rune/internal/syncengine"
	"github.com/runic-labs/rune/pkg/ids"
)

// tableColumn is one non-key, non-HLC column a sync source carries in
// RowSnapshot.Fields (fkTable == "") or resolves through a foreign key
// (fkTable != "", in which case the column holds a local id that is
// translated to/from the referenced row's hlc_uuid on the wire).
type tableColumn struct {
	name    string
	fkTable string
}

// syncTableSpec describes one table's shape for the generic Source
// below, mirroring migrate.sql's column lists for every table named in
// syncengine.SyncTables.
type syncTableSpec struct {
	table   string
	columns []tableColumn
}

var syncTableSpecs = map[string]syncTableSpec{
	"artists": {"artists", []tableColumn{{name: "name"}, {name: "sort_name"}}},
	"genres":  {"genres", []tableColumn{{name: "name"}}},
	"albums":  {"albums", []tableColumn{{name: "name"}, {name: "artist_id", fkTable: "artists"}}},
	"media_files": {"media_files", []tableColumn{
		{name: "directory"}, {name: "file_name"}, {name: "file_hash"}, {name: "last_modified"},
		{name: "sample_rate"}, {name: "duration_ms"}, {name: "bit_depth"}, {name: "track_number"},
		{name: "deleted"},
		{name: "album_id", fkTable: "albums"}, {name: "cover_art_id", fkTable: "media_cover_art"},
	}},
	"media_file_artists": {"media_file_artists", []tableColumn{
		{name: "position"},
		{name: "media_file_id", fkTable: "media_files"}, {name: "artist_id", fkTable: "artists"},
	}},
	"media_file_genres": {"media_file_genres", []tableColumn{
		{name: "media_file_id", fkTable: "media_files"}, {name: "genre_id", fkTable: "genres"},
	}},
	"media_cover_art": {"media_cover_art", []tableColumn{
		{name: "content_crc"}, {name: "blob"}, {name: "primary_color"},
	}},
	"playlists": {"playlists", []tableColumn{{name: "name"}, {name: "group_name"}}},
	"playlist_tracks": {"playlist_tracks", []tableColumn{
		{name: "position"},
		{name: "playlist_id", fkTable: "playlists"}, {name: "media_file_id", fkTable: "media_files"},
	}},
	"mixes": {"mixes", []tableColumn{
		{name: "name"}, {name: "group_name"}, {name: "mode"}, {name: "terms"},
	}},
}

// SyncSource is the generic syncengine.Source every synchronized table
// shares: it reads/writes rows as RowSnapshot maps keyed by the column
// names above, resolving foreign keys through each referenced table's
// hlc_uuid rather than its local integer id, per spec.md §4.8's
// fk_mappings contract.
type SyncSource struct {
	store *Store
	spec  syncTableSpec
}

// NewSyncSource builds the Source for table, one of syncengine.SyncTables.
func NewSyncSource(store *Store, table string) (*SyncSource, error) {
	spec, ok := syncTableSpecs[table]
	if !ok {
		return nil, ids.New(ids.KindInvalidInput, fmt.Sprintf("catalog: no sync spec for table %q", table))
	}
	return &SyncSource{store: store, spec: spec}, nil
}

// Sources builds a Source for every table in syncengine.SyncTables, for
// convenient one-shot wiring into a syncengine.Scheduler.
func Sources(store *Store) (map[string]syncengine.Source, error) {
	out := make(map[string]syncengine.Source, len(syncengine.SyncTables))
	for _, table := range syncengine.SyncTables {
		src, err := NewSyncSource(store, table)
		if err != nil {
			return nil, err
		}
		out[table] = src
	}
	return out, nil
}

func (s *SyncSource) Table() string { return s.spec.table }

func tripleToStamp(t HLCTriple) hlc.Stamp {
	parsed, err := time.Parse(time.RFC3339Nano, t.TS)
	if err != nil {
		return hlc.Zero
	}
	return hlc.Stamp{WallMS: parsed.UnixMilli(), Counter: t.Ver, NodeID: t.NID}
}

func (s *SyncSource) selectColumnsSQL() string {
	var b strings.Builder
	for _, c := range s.spec.columns {
		if c.fkTable == "" {
			fmt.Fprintf(&b, ", t.%s", c.name)
			continue
		}
		fmt.Fprintf(&b, ", (SELECT hlc_uuid FROM %s WHERE id = t.%s) AS %s_sync_id", c.fkTable, c.name, c.name)
	}
	return b.String()
}

// RowsSince implements syncengine.Source.
func (s *SyncSource) RowsSince(ctx context.Context, since hlc.Stamp) ([]syncengine.RowSnapshot, error) {
	sinceTriple := stampToTriple(since)
	query := fmt.Sprintf(`
		SELECT t.id, t.hlc_uuid%s,
			t.updated_at_hlc_ts, t.updated_at_hlc_ver, t.updated_at_hlc_nid
		FROM %s t
		WHERE t.updated_at_hlc_ts > ?
		   OR (t.updated_at_hlc_ts = ? AND t.updated_at_hlc_ver > ?)
		ORDER BY t.updated_at_hlc_ts, t.updated_at_hlc_ver, t.hlc_uuid`,
		s.selectColumnsSQL(), s.spec.table)

	rows, err := s.store.db.QueryContext(ctx, query, sinceTriple.TS, sinceTriple.TS, sinceTriple.Ver)
	if err != nil {
		return nil, ids.Wrap(ids.KindIO, "catalog: rows since", err)
	}
	defer rows.Close()

	var out []syncengine.RowSnapshot
	for rows.Next() {
		snap, err := s.scanRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, snap)
	}
	return out, rows.Err()
}

func (s *SyncSource) scanRow(rows *sql.Rows) (syncengine.RowSnapshot, error) {
	dest := make([]any, 0, len(s.spec.columns)+5)
	var localID int64
	var syncID string
	dest = append(dest, &localID, &syncID)

	values := make([]any, len(s.spec.columns))
	for i := range values {
		dest = append(dest, &values[i])
	}
	var ts, nid string
	var ver uint32
	dest = append(dest, &ts, &ver, &nid)

	if err := rows.Scan(dest...); err != nil {
		return syncengine.RowSnapshot{}, ids.Wrap(ids.KindIO, "catalog: scan sync row", err)
	}

	fields := make(map[string]any, len(s.spec.columns))
	fkIDs := make(map[string]string)
	for i, c := range s.spec.columns {
		if c.fkTable == "" {
			fields[c.name] = values[i]
			continue
		}
		if v, ok := values[i].(string); ok {
			fkIDs[c.name] = v
		}
	}

	return syncengine.RowSnapshot{
		SyncID:     syncID,
		HLCUpdated: tripleToStamp(HLCTriple{TS: ts, Ver: ver, NID: nid}),
		NodeID:     nid,
		Fields:     fields,
		FKSyncIDs:  fkIDs,
	}, nil
}

// resolveFK turns a referenced row's sync_id into its local id, or
// returns a deferred-FK error if that row hasn't synced locally yet.
func (s *SyncSource) resolveFK(ctx context.Context, fkTable, syncID string) (int64, error) {
	var id int64
	err := s.store.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT id FROM %s WHERE hlc_uuid = ?`, fkTable), syncID).Scan(&id)
	if err == sql.ErrNoRows {
		return 0, syncengine.NewDeferredFKError(fkTable, syncID)
	}
	if err != nil {
		return 0, ids.Wrap(ids.KindIO, "catalog: resolve fk", err)
	}
	return id, nil
}

func (s *SyncSource) resolvedValues(ctx context.Context, row syncengine.RowSnapshot) ([]any, error) {
	values := make([]any, len(s.spec.columns))
	for i, c := range s.spec.columns {
		if c.fkTable == "" {
			values[i] = row.Fields[c.name]
			continue
		}
		syncID, ok := row.FKSyncIDs[c.name]
		if !ok || syncID == "" {
			values[i] = nil
			continue
		}
		id, err := s.resolveFK(ctx, c.fkTable, syncID)
		if err != nil {
			return nil, err
		}
		values[i] = id
	}
	return values, nil
}

// ApplyInsert implements syncengine.Source.
func (s *SyncSource) ApplyInsert(ctx context.Context, row syncengine.RowSnapshot) error {
	return s.upsert(ctx, row)
}

// ApplyUpdate implements syncengine.Source.
func (s *SyncSource) ApplyUpdate(ctx context.Context, row syncengine.RowSnapshot) error {
	return s.upsert(ctx, row)
}

func (s *SyncSource) upsert(ctx context.Context, row syncengine.RowSnapshot) error {
	values, err := s.resolvedValues(ctx, row)
	if err != nil {
		return err
	}

	names := make([]string, len(s.spec.columns))
	placeholders := make([]string, len(s.spec.columns))
	sets := make([]string, len(s.spec.columns))
	for i, c := range s.spec.columns {
		names[i] = c.name
		placeholders[i] = "?"
		sets[i] = fmt.Sprintf("%s = excluded.%s", c.name, c.name)
	}

	updated := HLCTriple{TS: rfc3339Millis(row.HLCUpdated.WallMS), Ver: row.HLCUpdated.Counter, NID: row.HLCUpdated.NodeID}

	query := fmt.Sprintf(`
		INSERT INTO %s (hlc_uuid, %s,
			created_at_hlc_ts, created_at_hlc_ver, created_at_hlc_nid,
			updated_at_hlc_ts, updated_at_hlc_ver, updated_at_hlc_nid)
		VALUES (?, %s, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(hlc_uuid) DO UPDATE SET
			%s,
			updated_at_hlc_ts = excluded.updated_at_hlc_ts,
			updated_at_hlc_ver = excluded.updated_at_hlc_ver,
			updated_at_hlc_nid = excluded.updated_at_hlc_nid
		WHERE excluded.updated_at_hlc_ts > %s.updated_at_hlc_ts
		   OR (excluded.updated_at_hlc_ts = %s.updated_at_hlc_ts AND excluded.updated_at_hlc_ver > %s.updated_at_hlc_ver)`,
		s.spec.table, strings.Join(names, ", "), strings.Join(placeholders, ", "),
		strings.Join(sets, ", "), s.spec.table, s.spec.table, s.spec.table)

	syncID := row.SyncID
	if syncID == "" {
		syncID = uuid.NewString()
	}

	args := make([]any, 0, len(values)+7)
	args = append(args, syncID)
	args = append(args, values...)
	args = append(args, updated.TS, updated.Ver, updated.NID, updated.TS, updated.Ver, updated.NID)

	if _, err := s.store.db.ExecContext(ctx, query, args...); err != nil {
		return ids.Wrap(ids.KindIO, "catalog: apply sync row", err)
	}
	return nil
}
