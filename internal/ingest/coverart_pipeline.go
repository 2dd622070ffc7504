package ingest

import (
	"context"
	"io"
	"path/filepath"

	"github.com/dhowden/tag"

	"github.com/runic-labs/rune/internal/catalog"
	"github.com/runic-labs/rune/internal/hlc"
)

// handleCoverArt implements spec.md §4.4's cover-art handling: try the
// embedded tag picture first, then fall back to a folder-image scan
// memoized per directory (folderImgCache), the same two-tier lookup
// cmd/ingest/main.go performs before calling storeCoverArt.
func (p *Pipeline) handleCoverArt(ctx context.Context, mf catalog.MediaFile, desc fileDescription, libraryRoot string, now hlc.Stamp) error {
	raw, ok, err := p.embeddedCoverArt(desc.node.CanonicalPath)
	if err != nil {
		return err
	}
	if !ok {
		raw, ok, err = p.folderCoverArt(desc.dir, libraryRoot)
		if err != nil {
			return err
		}
	}
	if !ok {
		return nil
	}

	art, err := NormalizeCoverArt(raw)
	if err != nil {
		return err
	}

	row, err := p.store.UpsertCoverArt(ctx, catalog.UpsertCoverArtParams{
		ContentCRC: art.ContentCRC, Blob: raw, PrimaryColor: art.PrimaryColor, Now: now,
	})
	if err != nil {
		return err
	}

	coverID := row.ID
	_, err = p.store.UpsertMediaFile(ctx, catalog.UpsertMediaFileParams{
		Directory: mf.Directory, FileName: mf.FileName, FileHash: mf.FileHash,
		LastModified: mf.LastModified, SampleRate: mf.SampleRate, DurationMS: mf.DurationMS,
		BitDepth: mf.BitDepth, TrackNumber: mf.TrackNumber, AlbumID: mf.AlbumID,
		CoverArtID: &coverID, Now: now,
	})
	return err
}

func (p *Pipeline) embeddedCoverArt(path string) ([]byte, bool, error) {
	f, err := p.fs.Open(path)
	if err != nil {
		return nil, false, err
	}
	defer f.Close()

	rs := asReadAt(f)
	if rs == nil {
		return nil, false, nil
	}
	meta, err := tag.ReadFrom(rs)
	if err != nil || meta == nil {
		return nil, false, nil
	}
	pic := meta.Picture()
	if pic == nil {
		return nil, false, nil
	}
	return pic.Data, true, nil
}

func (p *Pipeline) folderCoverArt(dir, libraryRoot string) ([]byte, bool, error) {
	if cached, ok := p.folderImgCache.Load(dir); ok {
		path, found := cached.(string)
		if !found || path == "" {
			return nil, false, nil
		}
		return p.readAll(path)
	}
	if _, known := p.coveredAlbums.Load(dir); known {
		return nil, false, nil
	}

	path, found, err := FindFolderCoverArt(p.listDirNames, dir, libraryRoot)
	if err != nil {
		p.coveredAlbums.Store(dir, true)
		return nil, false, nil
	}
	if !found {
		p.folderImgCache.Store(dir, "")
		p.coveredAlbums.Store(dir, true)
		return nil, false, nil
	}
	p.folderImgCache.Store(dir, path)
	return p.readAll(path)
}

func (p *Pipeline) readAll(path string) ([]byte, bool, error) {
	f, err := p.fs.Open(path)
	if err != nil {
		return nil, false, err
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

func (p *Pipeline) listDirNames(dir string) ([]string, error) {
	nodes, err := p.fs.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(nodes))
	for _, n := range nodes {
		if n.IsFile {
			names = append(names, filepath.Base(n.Filename))
		}
	}
	return names, nil
}
