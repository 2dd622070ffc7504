// Package catalog is the relational schema and query surface of spec.md
// §3/§4.3/§6: SQLite-backed, single-writer, every synchronized row carries
// hlc_uuid plus created/updated HLC triples. Grounded on
// pkg/store/models.go (entity + *Params struct shapes) and pkg/store/store.go
// (Upsert/Get/List method shapes, scan-helper pattern), rewritten from
// Postgres/pgx to modernc.org/sqlite.
package catalog

import "github.com/runic-labs/rune/internal/hlc"

// HLCTriple is the three-column (ts, ver, nid) pair every synchronized row
// carries twice (created and updated), per spec.md §6.
type HLCTriple struct {
	TS  string
	Ver uint32
	NID string
}

func stampToTriple(s hlc.Stamp) HLCTriple {
	return HLCTriple{TS: rfc3339Millis(s.WallMS), Ver: s.Counter, NID: s.NodeID}
}

// Artist mirrors spec.md §3's Artist entity.
type Artist struct {
	ID        int64
	HLCUUID   string
	Name      string
	SortName  string
	Created   HLCTriple
	Updated   HLCTriple
}

// Genre mirrors spec.md §3's Genre entity.
type Genre struct {
	ID      int64
	HLCUUID string
	Name    string
	Created HLCTriple
	Updated HLCTriple
}

// Album mirrors spec.md §3's Album entity.
type Album struct {
	ID       int64
	HLCUUID  string
	Name     string
	ArtistID *int64
	Created  HLCTriple
	Updated  HLCTriple
}

// MediaCoverArt mirrors spec.md §3's MediaCoverArt entity: content-addressed
// by content_crc, deduplicated.
type MediaCoverArt struct {
	ID           int64
	HLCUUID      string
	ContentCRC   uint32
	Blob         []byte
	PrimaryColor int32
	Created      HLCTriple
	Updated      HLCTriple
}

// MediaFile mirrors spec.md §3's MediaFile entity.
type MediaFile struct {
	ID           int64
	HLCUUID      string
	Directory    string
	FileName     string
	FileHash     uint32
	LastModified int64
	SampleRate   *int64
	DurationMS   *int64
	BitDepth     *int64
	TrackNumber  *int64
	AlbumID      *int64
	CoverArtID   *int64
	Deleted      bool
	Created      HLCTriple
	Updated      HLCTriple
}

// MediaAnalysis mirrors spec.md §3's MediaAnalysis entity: 10 spectral
// scalars, 12 chroma, 24 perceptual-loudness, 13 MFCC, plus the named
// scalar features.
type MediaAnalysis struct {
	ID                 int64
	HLCUUID            string
	MediaFileID        int64
	AnalyzerVersion    int64
	SpectralScalars    [10]float64
	Chroma             [12]float64
	PerceptualLoudness [24]float64
	MFCC               [13]float64
	RMS                float64
	ZCR                float64
	Energy             float64
	PerceptualSpread   float64
	Sharpness          float64
	SpectralFlux       float64
	Created            HLCTriple
	Updated            HLCTriple
}

// MediaFileFingerprint mirrors spec.md §3's MediaFileFingerprint entity.
type MediaFileFingerprint struct {
	ID            int64
	HLCUUID       string
	MediaFileID   int64
	Fingerprint   []byte
	IsDuplicated  bool
	Created       HLCTriple
	Updated       HLCTriple
}

// MediaFileSimilarity mirrors spec.md §3's MediaFileSimilarity entity: a
// symmetric edge, not itself HLC-synchronized (derived, recomputed locally).
type MediaFileSimilarity struct {
	ID      int64
	File1ID int64
	File2ID int64
	Score   float64
}

// MediaFileStats mirrors spec.md §3's MediaFileStats entity.
type MediaFileStats struct {
	MediaFileID   int64
	Liked         bool
	Skipped       int64
	PlayedThrough int64
	UpdatedAt     string
}

// Playlist mirrors spec.md §3's Playlist entity.
type Playlist struct {
	ID        int64
	HLCUUID   string
	Name      string
	GroupName *string
	Created   HLCTriple
	Updated   HLCTriple
}

// MixTerm is one (operator, parameter) term of a mix query, spec.md §4.3/§4.6.
type MixTerm struct {
	Operator  string `json:"operator"`
	Parameter string `json:"parameter"`
}

// MixMode enumerates spec.md §3's Mix lifecycle modes.
type MixMode string

const (
	MixModeManual  MixMode = "manual"
	MixModeDerived MixMode = "derived"
	MixModeLocked  MixMode = "locked"
)

// Mix mirrors spec.md §3's Mix entity.
type Mix struct {
	ID        int64
	HLCUUID   string
	Name      string
	GroupName *string
	Mode      MixMode
	Terms     []MixTerm
	Created   HLCTriple
	Updated   HLCTriple
}

// SyncRecord mirrors spec.md §3's SyncRecord: a per-peer, per-table
// bookmark, process state rather than a replicated row.
type SyncRecord struct {
	TableName    string
	ClientNodeID string
	LastSyncHLC  HLCTriple
}

// CatalogLogEntry is the supplemented per-file failure log spec.md §7
// requires ("Ingestion and Analysis record per-file failures to the log
// entity"), grounded on original_source/database/src/actions/logging.rs.
type CatalogLogEntry struct {
	ID         int64
	OccurredAt string
	Stage      string // "ingest" | "analysis" | "sync"
	Path       *string
	Kind       string
	Message    string
}

// --- Params structs, mirroring pkg/store/models.go's *Params pattern ---

// UpsertArtistParams upserts by name uniqueness, per spec.md §3: "Created
// on first reference; merged by (name) uniqueness."
type UpsertArtistParams struct {
	Name string
	Now  hlc.Stamp
}

// UpsertGenreParams mirrors UpsertArtistParams for genres.
type UpsertGenreParams struct {
	Name string
	Now  hlc.Stamp
}

// UpsertAlbumParams upserts by (name, artist_id) uniqueness.
type UpsertAlbumParams struct {
	Name     string
	ArtistID *int64
	Now      hlc.Stamp
}

// UpsertCoverArtParams upserts by content_crc uniqueness (dedup), per
// spec.md §4.4/§8.
type UpsertCoverArtParams struct {
	ContentCRC   uint32
	Blob         []byte
	PrimaryColor int32
	Now          hlc.Stamp
}

// UpsertMediaFileParams upserts by (directory, file_name), per spec.md §4.4.
type UpsertMediaFileParams struct {
	Directory    string
	FileName     string
	FileHash     uint32
	LastModified int64
	SampleRate   *int64
	DurationMS   *int64
	BitDepth     *int64
	TrackNumber  *int64
	AlbumID      *int64
	CoverArtID   *int64
	Now          hlc.Stamp
}

// SetMediaFileArtistsParams replaces the ordered artist-junction set for
// a media file.
type SetMediaFileArtistsParams struct {
	MediaFileID int64
	ArtistIDs   []int64
	Now         hlc.Stamp
}

// SetMediaFileGenresParams replaces the genre-junction set for a media file.
type SetMediaFileGenresParams struct {
	MediaFileID int64
	GenreIDs    []int64
	Now         hlc.Stamp
}

// UpsertAnalysisParams inserts or replaces a MediaAnalysis row for a file,
// per spec.md §3: "Produced exactly once per (file_hash, analyzer_version);
// invalidated on file_hash change."
type UpsertAnalysisParams struct {
	MediaFileID        int64
	AnalyzerVersion    int64
	SpectralScalars    [10]float64
	Chroma             [12]float64
	PerceptualLoudness [24]float64
	MFCC               [13]float64
	RMS                float64
	ZCR                float64
	Energy             float64
	PerceptualSpread   float64
	Sharpness          float64
	SpectralFlux       float64
	Now                hlc.Stamp
}

// UpsertFingerprintParams inserts or replaces a MediaFileFingerprint row.
type UpsertFingerprintParams struct {
	MediaFileID  int64
	Fingerprint  []byte
	IsDuplicated bool
	Now          hlc.Stamp
}

// CreatePlaylistParams creates a manual playlist.
type CreatePlaylistParams struct {
	Name      string
	GroupName *string
	Now       hlc.Stamp
}

// CreateMixParams creates a mix in any mode.
type CreateMixParams struct {
	Name      string
	GroupName *string
	Mode      MixMode
	Terms     []MixTerm
	Now       hlc.Stamp
}

// RecordPlayParams increments MediaFileStats.played_through.
type RecordPlayParams struct {
	MediaFileID int64
}

// SetLikedParams sets MediaFileStats.liked.
type SetLikedParams struct {
	MediaFileID int64
	Liked       bool
}
