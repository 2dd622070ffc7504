package catalog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/runic-labs/rune/internal/hlc"
	"github.com/runic-labs/rune/pkg/ids"
)

// Store is the single-writer, many-reader catalog store. It owns every
// row; other components hold only primary keys or sync_ids, never raw row
// pointers, per spec.md §3's ownership rule.
type Store struct {
	db *sql.DB
}

// Connect opens (and does not yet migrate) the SQLite database at dsn,
// mirroring pkg/store/store.go's Connect/Ping shape. dsn is a
// modernc.org/sqlite data source, e.g. "file:/path/to/catalog.db?_pragma=busy_timeout(5000)"
// or ":memory:" for tests.
func Connect(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("catalog: open: %w", err)
	}
	// The catalog store is single-writer per spec.md §4.3/§5; SQLite's
	// default driver-level pooling would otherwise serialize writers
	// behind SQLITE_BUSY retries instead of our own write-ordering.
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("catalog: ping: %w", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("catalog: enable foreign keys: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

func rfc3339Millis(ms int64) string {
	return time.UnixMilli(ms).UTC().Format(time.RFC3339Nano)
}

func parseTriple(ts string, ver uint32, nid string) HLCTriple {
	return HLCTriple{TS: ts, Ver: ver, NID: nid}
}

func tripleArgs(t HLCTriple) (string, uint32, string) { return t.TS, t.Ver, t.NID }

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	// modernc.org/sqlite reports constraint violations with this
	// substring in the driver error text; there is no typed sentinel
	// exported for SQLITE_CONSTRAINT the way pgconn.PgError exposes
	// SQLSTATE, so string-matching is the available signal, as
	// pkg/store/store.go does for the 42P01/42703 self-healing check.
	msg := err.Error()
	return contains(msg, "UNIQUE constraint failed") || contains(msg, "constraint failed")
}

func contains(s, substr string) bool {
	return len(s) >= len(substr) && indexOf(s, substr) >= 0
}

func indexOf(s, substr string) int {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return i
		}
	}
	return -1
}

// --- Artists ---

func (s *Store) UpsertArtist(ctx context.Context, p UpsertArtistParams) (Artist, error) {
	sortName := computeSortName(p.Name)
	created := stampToTriple(p.Now)
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO artists (hlc_uuid, name, sort_name,
			created_at_hlc_ts, created_at_hlc_ver, created_at_hlc_nid,
			updated_at_hlc_ts, updated_at_hlc_ver, updated_at_hlc_nid)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			sort_name = excluded.sort_name,
			updated_at_hlc_ts = excluded.updated_at_hlc_ts,
			updated_at_hlc_ver = excluded.updated_at_hlc_ver,
			updated_at_hlc_nid = excluded.updated_at_hlc_nid
		RETURNING id, hlc_uuid, name, sort_name,
			created_at_hlc_ts, created_at_hlc_ver, created_at_hlc_nid,
			updated_at_hlc_ts, updated_at_hlc_ver, updated_at_hlc_nid`,
		uuid.NewString(), p.Name, sortName,
		created.TS, created.Ver, created.NID,
		created.TS, created.Ver, created.NID,
	)
	return scanArtist(row)
}

func scanArtist(row *sql.Row) (Artist, error) {
	var a Artist
	var ct, cn, ut, un string
	var cver, uver uint32
	if err := row.Scan(&a.ID, &a.HLCUUID, &a.Name, &a.SortName,
		&ct, &cver, &cn, &ut, &uver, &un); err != nil {
		return Artist{}, mapSQLErr(err)
	}
	a.Created = parseTriple(ct, cver, cn)
	a.Updated = parseTriple(ut, uver, un)
	return a, nil
}

func (s *Store) GetArtistByName(ctx context.Context, name string) (Artist, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, hlc_uuid, name, sort_name,
			created_at_hlc_ts, created_at_hlc_ver, created_at_hlc_nid,
			updated_at_hlc_ts, updated_at_hlc_ver, updated_at_hlc_nid
		FROM artists WHERE name = ?`, name)
	return scanArtist(row)
}

// --- Genres ---

func (s *Store) UpsertGenre(ctx context.Context, p UpsertGenreParams) (Genre, error) {
	created := stampToTriple(p.Now)
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO genres (hlc_uuid, name,
			created_at_hlc_ts, created_at_hlc_ver, created_at_hlc_nid,
			updated_at_hlc_ts, updated_at_hlc_ver, updated_at_hlc_nid)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			updated_at_hlc_ts = excluded.updated_at_hlc_ts,
			updated_at_hlc_ver = excluded.updated_at_hlc_ver,
			updated_at_hlc_nid = excluded.updated_at_hlc_nid
		RETURNING id, hlc_uuid, name,
			created_at_hlc_ts, created_at_hlc_ver, created_at_hlc_nid,
			updated_at_hlc_ts, updated_at_hlc_ver, updated_at_hlc_nid`,
		uuid.NewString(), p.Name,
		created.TS, created.Ver, created.NID,
		created.TS, created.Ver, created.NID,
	)
	var g Genre
	var ct, cn, ut, un string
	var cver, uver uint32
	if err := row.Scan(&g.ID, &g.HLCUUID, &g.Name, &ct, &cver, &cn, &ut, &uver, &un); err != nil {
		return Genre{}, mapSQLErr(err)
	}
	g.Created = parseTriple(ct, cver, cn)
	g.Updated = parseTriple(ut, uver, un)
	return g, nil
}

// --- Albums ---

func (s *Store) UpsertAlbum(ctx context.Context, p UpsertAlbumParams) (Album, error) {
	created := stampToTriple(p.Now)
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO albums (hlc_uuid, name, artist_id,
			created_at_hlc_ts, created_at_hlc_ver, created_at_hlc_nid,
			updated_at_hlc_ts, updated_at_hlc_ver, updated_at_hlc_nid)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(name, artist_id) DO UPDATE SET
			updated_at_hlc_ts = excluded.updated_at_hlc_ts,
			updated_at_hlc_ver = excluded.updated_at_hlc_ver,
			updated_at_hlc_nid = excluded.updated_at_hlc_nid
		RETURNING id, hlc_uuid, name, artist_id,
			created_at_hlc_ts, created_at_hlc_ver, created_at_hlc_nid,
			updated_at_hlc_ts, updated_at_hlc_ver, updated_at_hlc_nid`,
		uuid.NewString(), p.Name, p.ArtistID,
		created.TS, created.Ver, created.NID,
		created.TS, created.Ver, created.NID,
	)
	var a Album
	var artistID sql.NullInt64
	var ct, cn, ut, un string
	var cver, uver uint32
	if err := row.Scan(&a.ID, &a.HLCUUID, &a.Name, &artistID, &ct, &cver, &cn, &ut, &uver, &un); err != nil {
		return Album{}, mapSQLErr(err)
	}
	if artistID.Valid {
		v := artistID.Int64
		a.ArtistID = &v
	}
	a.Created = parseTriple(ct, cver, cn)
	a.Updated = parseTriple(ut, uver, un)
	return a, nil
}

// --- Cover art ---

func (s *Store) UpsertCoverArt(ctx context.Context, p UpsertCoverArtParams) (MediaCoverArt, error) {
	created := stampToTriple(p.Now)
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO media_cover_art (hlc_uuid, content_crc, blob, primary_color,
			created_at_hlc_ts, created_at_hlc_ver, created_at_hlc_nid,
			updated_at_hlc_ts, updated_at_hlc_ver, updated_at_hlc_nid)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(content_crc) DO UPDATE SET
			updated_at_hlc_ts = excluded.updated_at_hlc_ts,
			updated_at_hlc_ver = excluded.updated_at_hlc_ver,
			updated_at_hlc_nid = excluded.updated_at_hlc_nid
		RETURNING id, hlc_uuid, content_crc, blob, primary_color,
			created_at_hlc_ts, created_at_hlc_ver, created_at_hlc_nid,
			updated_at_hlc_ts, updated_at_hlc_ver, updated_at_hlc_nid`,
		uuid.NewString(), p.ContentCRC, p.Blob, p.PrimaryColor,
		created.TS, created.Ver, created.NID,
		created.TS, created.Ver, created.NID,
	)
	var c MediaCoverArt
	var ct, cn, ut, un string
	var cver, uver uint32
	if err := row.Scan(&c.ID, &c.HLCUUID, &c.ContentCRC, &c.Blob, &c.PrimaryColor,
		&ct, &cver, &cn, &ut, &uver, &un); err != nil {
		return MediaCoverArt{}, mapSQLErr(err)
	}
	c.Created = parseTriple(ct, cver, cn)
	c.Updated = parseTriple(ut, uver, un)
	return c, nil
}

// --- Media files ---

func (s *Store) UpsertMediaFile(ctx context.Context, p UpsertMediaFileParams) (MediaFile, error) {
	created := stampToTriple(p.Now)
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO media_files (hlc_uuid, directory, file_name, file_hash, last_modified,
			sample_rate, duration_ms, bit_depth, track_number, album_id, cover_art_id, deleted,
			created_at_hlc_ts, created_at_hlc_ver, created_at_hlc_nid,
			updated_at_hlc_ts, updated_at_hlc_ver, updated_at_hlc_nid)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(directory, file_name) DO UPDATE SET
			file_hash = excluded.file_hash,
			last_modified = excluded.last_modified,
			sample_rate = excluded.sample_rate,
			duration_ms = excluded.duration_ms,
			bit_depth = excluded.bit_depth,
			track_number = excluded.track_number,
			album_id = excluded.album_id,
			cover_art_id = excluded.cover_art_id,
			deleted = 0,
			updated_at_hlc_ts = excluded.updated_at_hlc_ts,
			updated_at_hlc_ver = excluded.updated_at_hlc_ver,
			updated_at_hlc_nid = excluded.updated_at_hlc_nid
		RETURNING id, hlc_uuid, directory, file_name, file_hash, last_modified,
			sample_rate, duration_ms, bit_depth, track_number, album_id, cover_art_id, deleted,
			created_at_hlc_ts, created_at_hlc_ver, created_at_hlc_nid,
			updated_at_hlc_ts, updated_at_hlc_ver, updated_at_hlc_nid`,
		uuid.NewString(), p.Directory, p.FileName, p.FileHash, p.LastModified,
		p.SampleRate, p.DurationMS, p.BitDepth, p.TrackNumber, p.AlbumID, p.CoverArtID,
		created.TS, created.Ver, created.NID,
		created.TS, created.Ver, created.NID,
	)
	return scanMediaFile(row)
}

func scanMediaFile(row *sql.Row) (MediaFile, error) {
	var m MediaFile
	var sampleRate, durationMS, bitDepth, trackNumber, albumID, coverArtID sql.NullInt64
	var deleted int
	var ct, cn, ut, un string
	var cver, uver uint32
	if err := row.Scan(&m.ID, &m.HLCUUID, &m.Directory, &m.FileName, &m.FileHash, &m.LastModified,
		&sampleRate, &durationMS, &bitDepth, &trackNumber, &albumID, &coverArtID, &deleted,
		&ct, &cver, &cn, &ut, &uver, &un); err != nil {
		return MediaFile{}, mapSQLErr(err)
	}
	m.SampleRate = nullableInt64(sampleRate)
	m.DurationMS = nullableInt64(durationMS)
	m.BitDepth = nullableInt64(bitDepth)
	m.TrackNumber = nullableInt64(trackNumber)
	m.AlbumID = nullableInt64(albumID)
	m.CoverArtID = nullableInt64(coverArtID)
	m.Deleted = deleted != 0
	m.Created = parseTriple(ct, cver, cn)
	m.Updated = parseTriple(ut, uver, un)
	return m, nil
}

func nullableInt64(n sql.NullInt64) *int64 {
	if !n.Valid {
		return nil
	}
	v := n.Int64
	return &v
}

func (s *Store) GetMediaFileByPath(ctx context.Context, directory, fileName string) (MediaFile, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, hlc_uuid, directory, file_name, file_hash, last_modified,
			sample_rate, duration_ms, bit_depth, track_number, album_id, cover_art_id, deleted,
			created_at_hlc_ts, created_at_hlc_ver, created_at_hlc_nid,
			updated_at_hlc_ts, updated_at_hlc_ver, updated_at_hlc_nid
		FROM media_files WHERE directory = ? AND file_name = ?`, directory, fileName)
	return scanMediaFile(row)
}

// MarkDeletedExcept soft-deletes rows the walker no longer sees, per
// spec.md §3: "soft-deleted when walker no longer sees it." seenIDs lists
// the media_file ids present in this scan; every non-deleted row in
// directory outside that set is marked deleted.
func (s *Store) MarkDeletedExcept(ctx context.Context, directory string, seenIDs []int64, now hlc.Stamp) (int64, error) {
	stamp := stampToTriple(now)
	placeholder := "(" + joinInt64(seenIDs) + ")"
	if len(seenIDs) == 0 {
		placeholder = "(-1)"
	}
	res, err := s.db.ExecContext(ctx, fmt.Sprintf(`
		UPDATE media_files SET deleted = 1,
			updated_at_hlc_ts = ?, updated_at_hlc_ver = ?, updated_at_hlc_nid = ?
		WHERE directory = ? AND deleted = 0 AND id NOT IN %s`, placeholder),
		stamp.TS, stamp.Ver, stamp.NID, directory)
	if err != nil {
		return 0, mapSQLErr(err)
	}
	return res.RowsAffected()
}

func joinInt64(ids []int64) string {
	out := ""
	for i, id := range ids {
		if i > 0 {
			out += ","
		}
		out += fmt.Sprintf("%d", id)
	}
	return out
}

// SetMediaFileArtists replaces the media_file_artists junction rows for a
// file in position order.
func (s *Store) SetMediaFileArtists(ctx context.Context, p SetMediaFileArtistsParams) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return mapSQLErr(err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM media_file_artists WHERE media_file_id = ?`, p.MediaFileID); err != nil {
		return mapSQLErr(err)
	}
	stamp := stampToTriple(p.Now)
	for pos, artistID := range p.ArtistIDs {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO media_file_artists (hlc_uuid, media_file_id, artist_id, position,
				created_at_hlc_ts, created_at_hlc_ver, created_at_hlc_nid,
				updated_at_hlc_ts, updated_at_hlc_ver, updated_at_hlc_nid)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			uuid.NewString(), p.MediaFileID, artistID, pos,
			stamp.TS, stamp.Ver, stamp.NID, stamp.TS, stamp.Ver, stamp.NID); err != nil {
			return mapSQLErr(err)
		}
	}
	return mapSQLErr(tx.Commit())
}

// SetMediaFileGenres replaces the media_file_genres junction rows for a file.
func (s *Store) SetMediaFileGenres(ctx context.Context, p SetMediaFileGenresParams) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return mapSQLErr(err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM media_file_genres WHERE media_file_id = ?`, p.MediaFileID); err != nil {
		return mapSQLErr(err)
	}
	stamp := stampToTriple(p.Now)
	for _, genreID := range p.GenreIDs {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO media_file_genres (hlc_uuid, media_file_id, genre_id,
				created_at_hlc_ts, created_at_hlc_ver, created_at_hlc_nid,
				updated_at_hlc_ts, updated_at_hlc_ver, updated_at_hlc_nid)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			uuid.NewString(), p.MediaFileID, genreID,
			stamp.TS, stamp.Ver, stamp.NID, stamp.TS, stamp.Ver, stamp.NID); err != nil {
			return mapSQLErr(err)
		}
	}
	return mapSQLErr(tx.Commit())
}

// --- Analysis ---

func (s *Store) UpsertAnalysis(ctx context.Context, p UpsertAnalysisParams) (MediaAnalysis, error) {
	created := stampToTriple(p.Now)
	spectral, _ := json.Marshal(p.SpectralScalars)
	chroma, _ := json.Marshal(p.Chroma)
	loudness, _ := json.Marshal(p.PerceptualLoudness)
	mfcc, _ := json.Marshal(p.MFCC)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return MediaAnalysis{}, mapSQLErr(err)
	}
	defer tx.Rollback()

	// Invalidated on file_hash change means any prior row for this file is
	// replaced wholesale, not merged; delete-then-insert keeps the
	// analyzer_version/feature set internally consistent.
	if _, err := tx.ExecContext(ctx, `DELETE FROM media_analysis WHERE media_file_id = ?`, p.MediaFileID); err != nil {
		return MediaAnalysis{}, mapSQLErr(err)
	}
	row := tx.QueryRowContext(ctx, `
		INSERT INTO media_analysis (hlc_uuid, media_file_id, analyzer_version,
			spectral_scalars, chroma, perceptual_loudness, mfcc,
			rms, zcr, energy, perceptual_spread, sharpness, spectral_flux,
			created_at_hlc_ts, created_at_hlc_ver, created_at_hlc_nid,
			updated_at_hlc_ts, updated_at_hlc_ver, updated_at_hlc_nid)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id, hlc_uuid`,
		uuid.NewString(), p.MediaFileID, p.AnalyzerVersion,
		string(spectral), string(chroma), string(loudness), string(mfcc),
		p.RMS, p.ZCR, p.Energy, p.PerceptualSpread, p.Sharpness, p.SpectralFlux,
		created.TS, created.Ver, created.NID, created.TS, created.Ver, created.NID,
	)
	var a MediaAnalysis
	if err := row.Scan(&a.ID, &a.HLCUUID); err != nil {
		return MediaAnalysis{}, mapSQLErr(err)
	}
	if err := tx.Commit(); err != nil {
		return MediaAnalysis{}, mapSQLErr(err)
	}
	a.MediaFileID = p.MediaFileID
	a.AnalyzerVersion = p.AnalyzerVersion
	a.SpectralScalars = p.SpectralScalars
	a.Chroma = p.Chroma
	a.PerceptualLoudness = p.PerceptualLoudness
	a.MFCC = p.MFCC
	a.RMS, a.ZCR, a.Energy = p.RMS, p.ZCR, p.Energy
	a.PerceptualSpread, a.Sharpness, a.SpectralFlux = p.PerceptualSpread, p.Sharpness, p.SpectralFlux
	a.Created, a.Updated = created, created
	return a, nil
}

// AllAnalyzedFileIDs returns every MediaFile.id with an analysis row, used
// by internal/vectorindex's rebuild contract (spec.md §4.3/§8): "the vector
// index's item-id set equals {MediaAnalysis.file_ref}".
func (s *Store) AllAnalyzedFileIDs(ctx context.Context) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT media_file_id FROM media_analysis`)
	if err != nil {
		return nil, mapSQLErr(err)
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, mapSQLErr(err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// InvalidateAnalysis drops any MediaAnalysis/MediaFileFingerprint rows for
// mediaFileID, per spec.md §4.4 step 3: "on mismatch, invalidate any
// associated MediaAnalysis and MediaFileFingerprint."
func (s *Store) InvalidateAnalysis(ctx context.Context, mediaFileID int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return mapSQLErr(err)
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `DELETE FROM media_analysis WHERE media_file_id = ?`, mediaFileID); err != nil {
		return mapSQLErr(err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM media_file_fingerprints WHERE media_file_id = ?`, mediaFileID); err != nil {
		return mapSQLErr(err)
	}
	return mapSQLErr(tx.Commit())
}

// PendingAnalysisFileIDs returns every non-deleted MediaFile.id with no
// current MediaAnalysis row, the work-list internal/analysis consumes.
func (s *Store) PendingAnalysisFileIDs(ctx context.Context) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT mf.id FROM media_files mf
		LEFT JOIN media_analysis ma ON ma.media_file_id = mf.id
		WHERE mf.deleted = 0 AND ma.id IS NULL`)
	if err != nil {
		return nil, mapSQLErr(err)
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, mapSQLErr(err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// GetMediaFileByID fetches a single MediaFile row by id, used by
// internal/analysis to resolve a canonical path before decoding audio.
func (s *Store) GetMediaFileByID(ctx context.Context, id int64) (MediaFile, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, hlc_uuid, directory, file_name, file_hash, last_modified,
			sample_rate, duration_ms, bit_depth, track_number, album_id, cover_art_id, deleted,
			created_at_hlc_ts, created_at_hlc_ver, created_at_hlc_nid,
			updated_at_hlc_ts, updated_at_hlc_ver, updated_at_hlc_nid
		FROM media_files WHERE id = ?`, id)
	return scanMediaFile(row)
}

// --- Fingerprints ---

func (s *Store) UpsertFingerprint(ctx context.Context, p UpsertFingerprintParams) error {
	created := stampToTriple(p.Now)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO media_file_fingerprints (hlc_uuid, media_file_id, fingerprint, is_duplicated,
			created_at_hlc_ts, created_at_hlc_ver, created_at_hlc_nid,
			updated_at_hlc_ts, updated_at_hlc_ver, updated_at_hlc_nid)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(media_file_id) DO UPDATE SET
			fingerprint = excluded.fingerprint,
			is_duplicated = excluded.is_duplicated,
			updated_at_hlc_ts = excluded.updated_at_hlc_ts,
			updated_at_hlc_ver = excluded.updated_at_hlc_ver,
			updated_at_hlc_nid = excluded.updated_at_hlc_nid`,
		uuid.NewString(), p.MediaFileID, p.Fingerprint, p.IsDuplicated,
		created.TS, created.Ver, created.NID, created.TS, created.Ver, created.NID)
	return mapSQLErr(err)
}

// --- Stats ---

func (s *Store) RecordPlay(ctx context.Context, p RecordPlayParams) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO media_file_stats (media_file_id, played_through, updated_at)
		VALUES (?, 1, datetime('now'))
		ON CONFLICT(media_file_id) DO UPDATE SET
			played_through = played_through + 1, updated_at = datetime('now')`,
		p.MediaFileID)
	return mapSQLErr(err)
}

func (s *Store) SetLiked(ctx context.Context, p SetLikedParams) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO media_file_stats (media_file_id, liked, updated_at)
		VALUES (?, ?, datetime('now'))
		ON CONFLICT(media_file_id) DO UPDATE SET liked = excluded.liked, updated_at = datetime('now')`,
		p.MediaFileID, p.Liked)
	return mapSQLErr(err)
}

// --- Playlists & Mixes ---

func (s *Store) CreatePlaylist(ctx context.Context, p CreatePlaylistParams) (Playlist, error) {
	created := stampToTriple(p.Now)
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO playlists (hlc_uuid, name, group_name,
			created_at_hlc_ts, created_at_hlc_ver, created_at_hlc_nid,
			updated_at_hlc_ts, updated_at_hlc_ver, updated_at_hlc_nid)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id, hlc_uuid`,
		uuid.NewString(), p.Name, p.GroupName,
		created.TS, created.Ver, created.NID, created.TS, created.Ver, created.NID)
	var pl Playlist
	if err := row.Scan(&pl.ID, &pl.HLCUUID); err != nil {
		return Playlist{}, mapSQLErr(err)
	}
	pl.Name, pl.GroupName, pl.Created, pl.Updated = p.Name, p.GroupName, created, created
	return pl, nil
}

func (s *Store) CreateMix(ctx context.Context, p CreateMixParams) (Mix, error) {
	created := stampToTriple(p.Now)
	terms, _ := json.Marshal(p.Terms)
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO mixes (hlc_uuid, name, group_name, mode, terms,
			created_at_hlc_ts, created_at_hlc_ver, created_at_hlc_nid,
			updated_at_hlc_ts, updated_at_hlc_ver, updated_at_hlc_nid)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id, hlc_uuid`,
		uuid.NewString(), p.Name, p.GroupName, string(p.Mode), string(terms),
		created.TS, created.Ver, created.NID, created.TS, created.Ver, created.NID)
	var m Mix
	if err := row.Scan(&m.ID, &m.HLCUUID); err != nil {
		return Mix{}, mapSQLErr(err)
	}
	m.Name, m.GroupName, m.Mode, m.Terms, m.Created, m.Updated = p.Name, p.GroupName, p.Mode, p.Terms, created, created
	return m, nil
}

// --- Sync bookmarks ---

func (s *Store) GetSyncBookmark(ctx context.Context, table, peerNodeID string) (hlc.Stamp, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT last_sync_hlc_ts, last_sync_hlc_ver, last_sync_hlc_nid
		FROM sync_record WHERE table_name = ? AND client_node_id = ?`, table, peerNodeID)
	var ts string
	var ver uint32
	var nid string
	if err := row.Scan(&ts, &ver, &nid); err != nil {
		if err == sql.ErrNoRows {
			return hlc.Zero, false, nil
		}
		return hlc.Zero, false, mapSQLErr(err)
	}
	ms, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return hlc.Zero, false, ids.Wrap(ids.KindDecode, "parse bookmark timestamp", err)
	}
	return hlc.Stamp{WallMS: ms.UnixMilli(), Counter: ver, NodeID: nid}, true, nil
}

func (s *Store) SetSyncBookmark(ctx context.Context, table, peerNodeID string, stamp hlc.Stamp) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sync_record (table_name, client_node_id, last_sync_hlc_ts, last_sync_hlc_ver, last_sync_hlc_nid)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(table_name, client_node_id) DO UPDATE SET
			last_sync_hlc_ts = excluded.last_sync_hlc_ts,
			last_sync_hlc_ver = excluded.last_sync_hlc_ver,
			last_sync_hlc_nid = excluded.last_sync_hlc_nid`,
		table, peerNodeID, rfc3339Millis(stamp.WallMS), stamp.Counter, stamp.NodeID)
	return mapSQLErr(err)
}

// --- Catalog log ---

// LogFailure records a per-file ingest/analysis/sync failure without
// aborting the batch, per spec.md §7: "Ingestion and Analysis record
// per-file failures to the log entity and proceed."
func (s *Store) LogFailure(ctx context.Context, stage string, path *string, kind ids.Kind, message string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO catalog_log (occurred_at, stage, path, kind, message)
		VALUES (datetime('now'), ?, ?, ?, ?)`, stage, path, kind.String(), message)
	return mapSQLErr(err)
}

// --- Search index ---

// IndexEntry upserts a denormalized search-index row for (entryType, id),
// per spec.md §4.3: "Maintain derived search index rows (an FTS-style
// table keyed by (entry_type, id) with normalized + deunicoded content)."
func (s *Store) IndexEntry(ctx context.Context, entryType string, id int64, content string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO search_index (entry_type, entry_id, content) VALUES (?, ?, ?)
		ON CONFLICT(entry_type, entry_id) DO UPDATE SET content = excluded.content`,
		entryType, id, normalizeSearchContent(content))
	return mapSQLErr(err)
}

func mapSQLErr(err error) error {
	if err == nil {
		return nil
	}
	if err == sql.ErrNoRows {
		return ids.Wrap(ids.KindNotFound, "row not found", err)
	}
	if isUniqueViolation(err) {
		return ids.Wrap(ids.KindConflict, "unique constraint violation", err)
	}
	return ids.Wrap(ids.KindInternal, "catalog store error", err)
}
