// Package ingest walks a library root and upserts its contents into the
// catalog store, per spec.md §4.4. Grounded on cmd/ingest/main.go: the
// bulk-load-once state cache, bounded worker pool, sync.Map dedup caches,
// and deterministic-ID helpers are adapted here from a Postgres/objstore
// pipeline to the SQLite catalog store and local filesystem of this repo.
package ingest

import (
	"context"
	"hash/crc32"
	"io"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/dhowden/tag"
	"github.com/rs/zerolog"

	"github.com/runic-labs/rune/internal/catalog"
	"github.com/runic-labs/rune/internal/fsx"
	"github.com/runic-labs/rune/internal/hlc"
	"github.com/runic-labs/rune/pkg/ids"
)

// audioExtensions is the allowlist spec.md §4.4 step 1 requires ("Walk
// the root, filtering by an audio-extension allowlist").
var audioExtensions = map[string]bool{
	".flac": true, ".mp3": true, ".ogg": true, ".oga": true,
	".m4a": true, ".wav": true, ".aac": true, ".opus": true,
}

// Phase enumerates the progress phases spec.md §4.4 names.
type Phase string

const (
	PhaseIndexFiles    Phase = "IndexFiles"
	PhaseScanCoverArts Phase = "ScanCoverArts"
)

// Progress is emitted on every tick per spec.md §4.4 step 5.
type Progress struct {
	Current int
	Total   int
	Phase   Phase
}

// Options configures a Walk+ingest run.
type Options struct {
	LibraryRoot string
	Force       bool
	Workers     int
	OnProgress  func(Progress)
	Cancel      <-chan struct{}
}

// VectorIndexer is the subset of internal/vectorindex's Index the
// ingestion pipeline needs: removing a stale entry when a re-ingested
// file's hash changes. A nil VectorIndexer is valid; the pipeline runs
// without it and leaves the next rune-analyze pass to overwrite the
// stale vector via Upsert.
type VectorIndexer interface {
	Delete(ctx context.Context, mediaFileID int64) error
}

// Pipeline ties the filesystem, catalog store, and HLC clock together to
// implement spec.md §4.4.
type Pipeline struct {
	fs    fsx.FS
	store *catalog.Store
	clock *hlc.Clock
	index VectorIndexer
	log   zerolog.Logger

	// folderImgCache memoizes FindFolderCoverArt results per directory,
	// the same role cmd/ingest/main.go's folderImgCache sync.Map serves.
	folderImgCache sync.Map
	// coveredAlbums avoids redundant cover-art extraction once an album
	// directory is known to have no folder image, mirroring
	// cmd/ingest/main.go's coveredAlbums sync.Map.
	coveredAlbums sync.Map
}

func New(fs fsx.FS, store *catalog.Store, clock *hlc.Clock, index VectorIndexer, log zerolog.Logger) *Pipeline {
	return &Pipeline{fs: fs, store: store, clock: clock, index: index, log: log}
}

// fileDescription is spec.md §4.4 step 2's FileDescription: relative
// path, unix-style directory, extension, last-modified epoch, lazy CRC32.
type fileDescription struct {
	node fsx.Node
	dir  string
	ext  string
}

// Run executes one ingestion pass over opts.LibraryRoot.
func (p *Pipeline) Run(ctx context.Context, opts Options) error {
	workers := opts.Workers
	if workers <= 0 {
		workers = 4
	}

	var descriptions []fileDescription
	err := p.fs.WalkDir(opts.LibraryRoot, false, func(n fsx.Node) error {
		ext := strings.ToLower(filepath.Ext(n.Filename))
		if !audioExtensions[ext] {
			return nil
		}
		descriptions = append(descriptions, fileDescription{
			node: n,
			dir:  toUnixPath(filepath.ToSlash(filepath.Dir(n.CanonicalPath))),
			ext:  ext,
		})
		return nil
	})
	if err != nil {
		return ids.Wrap(ids.KindIO, "ingest: walk library root", err)
	}

	total := len(descriptions)
	if total == 0 {
		// spec.md §8 boundary: "Empty library scan completes with
		// progress = total = 0."
		if opts.OnProgress != nil {
			opts.OnProgress(Progress{Current: 0, Total: 0, Phase: PhaseIndexFiles})
		}
		return nil
	}

	var processed int64
	var seenIDs sync.Map
	jobs := make(chan fileDescription, workers)
	var wg sync.WaitGroup

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for desc := range jobs {
				select {
				case <-opts.Cancel:
					return
				default:
				}
				mf, err := p.ingestFile(ctx, desc, opts)
				if err != nil {
					path := desc.node.CanonicalPath
					_ = p.store.LogFailure(ctx, "ingest", &path, ids.KindOf(err), err.Error())
				} else {
					seenIDs.Store(mf.ID, true)
				}
				n := atomic.AddInt64(&processed, 1)
				if opts.OnProgress != nil {
					opts.OnProgress(Progress{Current: int(n), Total: total, Phase: PhaseIndexFiles})
				}
			}
		}()
	}

feed:
	for _, desc := range descriptions {
		select {
		case <-opts.Cancel:
			break feed
		case jobs <- desc:
		}
	}
	close(jobs)
	wg.Wait()

	// spec.md §4.4 step 6: "On cancellation at any tick, commit whatever
	// has been processed and return." Everything above already committed
	// per-file via store methods, so cancellation needs no rollback here.
	// The soft-delete sweep below is skipped on cancellation: seenIDs only
	// reflects the files processed before the cut, so sweeping now would
	// soft-delete files the walk simply hadn't reached yet.
	select {
	case <-opts.Cancel:
		return nil
	default:
	}

	p.markDeletedExcept(ctx, descriptions, &seenIDs)
	return nil
}

// markDeletedExcept soft-deletes MediaFile rows the walker no longer sees,
// per spec.md §3: rows not present in seenIDs are soft-deleted within the
// directories this run actually scanned.
func (p *Pipeline) markDeletedExcept(ctx context.Context, descriptions []fileDescription, seenIDs *sync.Map) {
	seen := make([]int64, 0)
	seenIDs.Range(func(key, _ any) bool {
		seen = append(seen, key.(int64))
		return true
	})

	dirs := make(map[string]bool, len(descriptions))
	for _, desc := range descriptions {
		dirs[desc.dir] = true
	}

	now := p.clock.Now()
	for dir := range dirs {
		if _, err := p.store.MarkDeletedExcept(ctx, dir, seen, now); err != nil {
			p.log.Warn().Err(err).Str("directory", dir).Msg("soft-delete sweep failed")
		}
	}
}

func toUnixPath(p string) string { return filepath.ToSlash(p) }

func (p *Pipeline) ingestFile(ctx context.Context, desc fileDescription, opts Options) (catalog.MediaFile, error) {
	existing, err := p.store.GetMediaFileByPath(ctx, desc.dir, desc.node.Filename)
	hasExisting := err == nil
	if !hasExisting && ids.KindOf(err) != ids.KindNotFound {
		return catalog.MediaFile{}, err
	}

	lastModified := desc.node.ModifiedUnix
	if hasExisting && !opts.Force && existing.LastModified == lastModified {
		return existing, nil
	}

	hash, err := p.hashFile(desc.node.CanonicalPath)
	if err != nil {
		return catalog.MediaFile{}, err
	}
	if hasExisting && !opts.Force && existing.FileHash == hash {
		return existing, nil
	}
	if hasExisting && existing.FileHash != hash {
		if err := p.store.InvalidateAnalysis(ctx, existing.ID); err != nil {
			p.log.Warn().Err(err).Str("path", desc.node.CanonicalPath).Msg("analysis invalidation failed")
		}
		if p.index != nil {
			if err := p.index.Delete(ctx, existing.ID); err != nil {
				p.log.Warn().Err(err).Str("path", desc.node.CanonicalPath).Msg("vector index invalidation failed")
			}
		}
	}

	meta, flac, err := p.readTags(desc.node.CanonicalPath, desc.ext)
	if err != nil {
		p.log.Warn().Err(err).Str("path", desc.node.CanonicalPath).Msg("tag read failed, ingesting with bare metadata")
	}

	now := p.clock.Now()
	var albumID *int64
	if meta != nil && meta.Album() != "" {
		album, err := p.store.UpsertAlbum(ctx, catalog.UpsertAlbumParams{Name: meta.Album(), Now: now})
		if err == nil {
			albumID = &album.ID
		}
	}

	var sampleRate, durationMS, bitDepth *int64
	if flac != nil {
		sr, dur, bd := flac.SampleRate, flac.DurationMS(), flac.BitsPerSample
		sampleRate, durationMS, bitDepth = &sr, &dur, &bd
	}

	var trackNumber *int64
	if meta != nil {
		if tn, _ := meta.Track(); tn > 0 {
			v := int64(tn)
			trackNumber = &v
		}
	}

	mf, err := p.store.UpsertMediaFile(ctx, catalog.UpsertMediaFileParams{
		Directory:    desc.dir,
		FileName:     desc.node.Filename,
		FileHash:     hash,
		LastModified: lastModified,
		SampleRate:   sampleRate,
		DurationMS:   durationMS,
		BitDepth:     bitDepth,
		TrackNumber:  trackNumber,
		AlbumID:      albumID,
		Now:          now,
	})
	if err != nil {
		return catalog.MediaFile{}, err
	}

	if meta != nil {
		if err := p.upsertArtistsAndGenres(ctx, mf.ID, meta, now); err != nil {
			p.log.Warn().Err(err).Str("path", desc.node.CanonicalPath).Msg("artist/genre upsert failed")
		}
	}

	if err := p.handleCoverArt(ctx, mf, desc, opts.LibraryRoot, now); err != nil {
		p.log.Warn().Err(err).Str("path", desc.node.CanonicalPath).Msg("cover art extraction failed")
	}

	_ = p.store.IndexEntry(ctx, "media_file", mf.ID, searchableText(meta, desc.node.Filename))
	return mf, nil
}

func searchableText(meta tag.Metadata, filename string) string {
	if meta == nil {
		return filename
	}
	return strings.Join([]string{meta.Title(), meta.Artist(), meta.Album(), filename}, " ")
}

func (p *Pipeline) upsertArtistsAndGenres(ctx context.Context, mediaFileID int64, meta tag.Metadata, now hlc.Stamp) error {
	var artistIDs []int64
	for _, name := range SplitArtists(meta.Artist()) {
		a, err := p.store.UpsertArtist(ctx, catalog.UpsertArtistParams{Name: name, Now: now})
		if err != nil {
			continue
		}
		artistIDs = append(artistIDs, a.ID)
	}
	if len(artistIDs) > 0 {
		if err := p.store.SetMediaFileArtists(ctx, catalog.SetMediaFileArtistsParams{
			MediaFileID: mediaFileID, ArtistIDs: artistIDs, Now: now,
		}); err != nil {
			return err
		}
	}

	if genre := meta.Genre(); genre != "" {
		g, err := p.store.UpsertGenre(ctx, catalog.UpsertGenreParams{Name: genre, Now: now})
		if err == nil {
			_ = p.store.SetMediaFileGenres(ctx, catalog.SetMediaFileGenresParams{
				MediaFileID: mediaFileID, GenreIDs: []int64{g.ID}, Now: now,
			})
		}
	}
	return nil
}

func (p *Pipeline) hashFile(path string) (uint32, error) {
	f, err := p.fs.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	h := crc32.NewIEEE()
	if _, err := io.Copy(h, f); err != nil {
		return 0, ids.Wrap(ids.KindIO, "ingest: hash file", err)
	}
	return h.Sum32(), nil
}

func (p *Pipeline) readTags(path, ext string) (tag.Metadata, *FLACInfo, error) {
	f, err := p.fs.Open(path)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()

	meta, err := tag.ReadFrom(asReadAt(f))
	if err != nil {
		meta = nil
	}

	var flacInfo *FLACInfo
	if ext == ".flac" {
		f2, err := p.fs.Open(path)
		if err == nil {
			defer f2.Close()
			if info, err := ReadFLACInfo(f2); err == nil {
				flacInfo = &info
			}
		}
	}
	return meta, flacInfo, err
}

// asReadAt adapts an io.ReadCloser for tag.ReadFrom, which requires
// io.ReadSeeker; fsx's FS returns io.ReadCloser, so native files already
// satisfy io.ReadSeeker in practice (os.File), and this helper documents
// that assumption rather than silently type-asserting at every call site.
func asReadAt(r io.ReadCloser) io.ReadSeeker {
	if rs, ok := r.(io.ReadSeeker); ok {
		return rs
	}
	return nil
}
