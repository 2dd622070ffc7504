package catalog

import "context"

// FingerprintRow is a lightweight projection used by internal/analysis to
// compute MediaFileSimilarity edges after a fresh fingerprint is inserted.
type FingerprintRow struct {
	MediaFileID int64
	Fingerprint []byte
}

// AllFingerprints returns every stored fingerprint, the dedup candidate
// set spec.md §3's MediaFileFingerprint/MediaFileSimilarity entities
// describe ("Derived from fingerprint match").
func (s *Store) AllFingerprints(ctx context.Context) ([]FingerprintRow, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT media_file_id, fingerprint FROM media_file_fingerprints`)
	if err != nil {
		return nil, mapSQLErr(err)
	}
	defer rows.Close()
	var out []FingerprintRow
	for rows.Next() {
		var r FingerprintRow
		if err := rows.Scan(&r.MediaFileID, &r.Fingerprint); err != nil {
			return nil, mapSQLErr(err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// UpsertSimilarity records a symmetric MediaFileSimilarity edge. Per
// spec.md §3 the edge is not itself HLC-synchronized (derived, recomputed
// locally), so file1/file2 are always stored with the smaller id first to
// keep the UNIQUE(file1_id, file2_id) constraint meaningful regardless of
// argument order.
func (s *Store) UpsertSimilarity(ctx context.Context, fileA, fileB int64, score float64) error {
	f1, f2 := fileA, fileB
	if f1 > f2 {
		f1, f2 = f2, f1
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO media_file_similarities (file1_id, file2_id, score)
		VALUES (?, ?, ?)
		ON CONFLICT(file1_id, file2_id) DO UPDATE SET score = excluded.score`,
		f1, f2, score)
	return mapSQLErr(err)
}

// MarkFingerprintDuplicated flags a file's fingerprint row as a detected
// content duplicate, per spec.md §3's MediaFileFingerprint.is_duplicated.
func (s *Store) MarkFingerprintDuplicated(ctx context.Context, mediaFileID int64, duplicated bool) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE media_file_fingerprints SET is_duplicated = ? WHERE media_file_id = ?`,
		duplicated, mediaFileID)
	return mapSQLErr(err)
}
