package ingest

import (
	"bytes"
	"hash/crc32"
	"image"
	"image/color"
	_ "image/jpeg"
	_ "image/png"
	"path/filepath"
	"sort"
	"strings"

	"golang.org/x/image/draw"
)

// coverArtBaseNames and coverArtExtensions enumerate the folder image names spec.md
// §4.4 requires: "cover|folder|front|albumart|coverart.{png,jpg,jpeg}".
var coverArtBaseNames = []string{"cover", "folder", "front", "albumart", "coverart"}
var coverArtExtensions = []string{".png", ".jpg", ".jpeg"}

// CoverArt is the decoded-and-normalized cover art ready for dedup and
// persistence: a 16x16 RGB bitmap's content CRC plus a primary color.
type CoverArt struct {
	ContentCRC   uint32
	PrimaryColor int32
	Normalized   []byte // raw RGB bytes of the 16x16 bitmap, for deterministic re-hash
}

// NormalizeCoverArt decodes raw image bytes, resizes to 16x16 RGB (per
// spec.md §4.4), computes a CRC32 over the normalized pixels, and
// extracts a primary color via simple palette-bucket voting on the
// normalized bitmap.
func NormalizeCoverArt(raw []byte) (CoverArt, error) {
	src, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return CoverArt{}, err
	}

	dst := image.NewRGBA(image.Rect(0, 0, 16, 16))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Over, nil)

	pixels := make([]byte, 0, 16*16*3)
	counts := make(map[color.RGBA]int)
	for y := 0; y < 16; y++ {
		for x := 0; x < 16; x++ {
			c := dst.RGBAAt(x, y)
			pixels = append(pixels, c.R, c.G, c.B)
			counts[color.RGBA{R: c.R, G: c.G, B: c.B, A: 0xff}]++
		}
	}

	crc := crc32.ChecksumIEEE(pixels)
	primary := dominantColor(counts)
	return CoverArt{ContentCRC: crc, PrimaryColor: primary, Normalized: pixels}, nil
}

func dominantColor(counts map[color.RGBA]int) int32 {
	type entry struct {
		c color.RGBA
		n int
	}
	entries := make([]entry, 0, len(counts))
	for c, n := range counts {
		entries = append(entries, entry{c, n})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].n > entries[j].n })
	if len(entries) == 0 {
		return 0
	}
	top := entries[0].c
	return int32(0xFF000000 | uint32(top.R)<<16 | uint32(top.G)<<8 | uint32(top.B))
}

// FindFolderCoverArt walks parent directories from fileDir up to (and
// including) libraryRoot looking for a case-variant cover image, per
// spec.md §4.4: "walk parent directories up to the library root for a
// case-variant of cover|folder|front|albumart|coverart.{png,jpg,jpeg}."
// It returns the first match found, preferring the file's own directory.
func FindFolderCoverArt(listDir func(dir string) ([]string, error), fileDir, libraryRoot string) (string, bool, error) {
	dir := fileDir
	for {
		names, err := listDir(dir)
		if err != nil {
			return "", false, err
		}
		if match, ok := matchCoverArtName(names); ok {
			return filepath.Join(dir, match), true, nil
		}
		if dir == libraryRoot || dir == filepath.Dir(dir) {
			break
		}
		dir = filepath.Dir(dir)
	}
	return "", false, nil
}

func matchCoverArtName(names []string) (string, bool) {
	for _, name := range names {
		lower := strings.ToLower(name)
		ext := filepath.Ext(lower)
		base := strings.TrimSuffix(lower, ext)
		if !containsString(coverArtExtensions, ext) {
			continue
		}
		if containsString(coverArtBaseNames, base) {
			return name, true
		}
	}
	return "", false
}

func containsString(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
