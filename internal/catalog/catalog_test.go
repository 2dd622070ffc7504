package catalog

import (
	"context"
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/runic-labs/rune/internal/hlc"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Connect(context.Background(), "file::memory:?cache=shared")
	require.NoError(t, err)
	require.NoError(t, s.Migrate())
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestUpsertMediaFileIsIdempotentOnPath(t *testing.T) {
	s := newTestStore(t)
	clock := hlc.New("node-a")
	ctx := context.Background()

	first, err := s.UpsertMediaFile(ctx, UpsertMediaFileParams{
		Directory: "/music", FileName: "a.ogg", FileHash: 111, LastModified: 1000, Now: clock.Now(),
	})
	require.NoError(t, err)

	second, err := s.UpsertMediaFile(ctx, UpsertMediaFileParams{
		Directory: "/music", FileName: "a.ogg", FileHash: 222, LastModified: 2000, Now: clock.Now(),
	})
	require.NoError(t, err)

	require.Equal(t, first.ID, second.ID, "same (directory, file_name) must resolve to the same row")
	require.Equal(t, first.HLCUUID, second.HLCUUID, "sync_id is assigned once and never mutated")
	require.EqualValues(t, 222, second.FileHash)
}

func TestUpsertArtistMergesByName(t *testing.T) {
	s := newTestStore(t)
	clock := hlc.New("node-a")
	ctx := context.Background()

	a1, err := s.UpsertArtist(ctx, UpsertArtistParams{Name: "The Beatles", Now: clock.Now()})
	require.NoError(t, err)
	a2, err := s.UpsertArtist(ctx, UpsertArtistParams{Name: "The Beatles", Now: clock.Now()})
	require.NoError(t, err)

	require.Equal(t, a1.ID, a2.ID)
	require.Equal(t, "Beatles", a1.SortName)
}

func TestCoverArtDedupByContentCRC(t *testing.T) {
	// spec.md §8: "for all cover-art rows c1, c2, c1.content_crc =
	// c2.content_crc ⇒ c1.sync_id = c2.sync_id".
	s := newTestStore(t)
	clock := hlc.New("node-a")
	ctx := context.Background()

	c1, err := s.UpsertCoverArt(ctx, UpsertCoverArtParams{ContentCRC: 42, Blob: []byte{1, 2, 3}, PrimaryColor: 0xFF00FF, Now: clock.Now()})
	require.NoError(t, err)
	c2, err := s.UpsertCoverArt(ctx, UpsertCoverArtParams{ContentCRC: 42, Blob: []byte{1, 2, 3}, PrimaryColor: 0xFF00FF, Now: clock.Now()})
	require.NoError(t, err)

	require.Equal(t, c1.HLCUUID, c2.HLCUUID)
}

func TestResolveQueryConjunctiveDefault(t *testing.T) {
	s := newTestStore(t)
	clock := hlc.New("node-a")
	ctx := context.Background()

	artist, err := s.UpsertArtist(ctx, UpsertArtistParams{Name: "X", Now: clock.Now()})
	require.NoError(t, err)

	mf, err := s.UpsertMediaFile(ctx, UpsertMediaFileParams{Directory: "/m", FileName: "a.ogg", FileHash: 1, LastModified: 1, Now: clock.Now()})
	require.NoError(t, err)
	require.NoError(t, s.SetMediaFileArtists(ctx, SetMediaFileArtistsParams{MediaFileID: mf.ID, ArtistIDs: []int64{artist.ID}, Now: clock.Now()}))
	require.NoError(t, s.SetLiked(ctx, SetLikedParams{MediaFileID: mf.ID, Liked: true}))

	got, err := s.ResolveQuery(ctx, []Term{
		{Operator: "lib::artist", Parameter: strconv.FormatInt(artist.ID, 10)},
		{Operator: "lib::liked", Parameter: "true"},
	}, nil)
	require.NoError(t, err)
	require.Equal(t, []int64{mf.ID}, got)
}

func TestResolveQueryOrGroupUnionsMembers(t *testing.T) {
	s := newTestStore(t)
	clock := hlc.New("node-a")
	ctx := context.Background()

	a, err := s.UpsertArtist(ctx, UpsertArtistParams{Name: "A", Now: clock.Now()})
	require.NoError(t, err)
	b, err := s.UpsertArtist(ctx, UpsertArtistParams{Name: "B", Now: clock.Now()})
	require.NoError(t, err)

	mfA, err := s.UpsertMediaFile(ctx, UpsertMediaFileParams{Directory: "/m", FileName: "a.ogg", FileHash: 1, LastModified: 1, Now: clock.Now()})
	require.NoError(t, err)
	require.NoError(t, s.SetMediaFileArtists(ctx, SetMediaFileArtistsParams{MediaFileID: mfA.ID, ArtistIDs: []int64{a.ID}, Now: clock.Now()}))

	mfB, err := s.UpsertMediaFile(ctx, UpsertMediaFileParams{Directory: "/m", FileName: "b.ogg", FileHash: 2, LastModified: 1, Now: clock.Now()})
	require.NoError(t, err)
	require.NoError(t, s.SetMediaFileArtists(ctx, SetMediaFileArtistsParams{MediaFileID: mfB.ID, ArtistIDs: []int64{b.ID}, Now: clock.Now()}))

	mfC, err := s.UpsertMediaFile(ctx, UpsertMediaFileParams{Directory: "/m", FileName: "c.ogg", FileHash: 3, LastModified: 1, Now: clock.Now()})
	require.NoError(t, err)

	got, err := s.ResolveQuery(ctx, []Term{
		{Operator: "lib::or", Group: []Term{
			{Operator: "lib::artist", Parameter: strconv.FormatInt(a.ID, 10)},
			{Operator: "lib::artist", Parameter: strconv.FormatInt(b.ID, 10)},
		}},
	}, nil)
	require.NoError(t, err)
	require.Equal(t, []int64{mfA.ID, mfB.ID}, got)
	require.NotContains(t, got, mfC.ID)
}

func TestResolveQueryOrGroupIntersectsWithConjunctiveTerms(t *testing.T) {
	s := newTestStore(t)
	clock := hlc.New("node-a")
	ctx := context.Background()

	a, err := s.UpsertArtist(ctx, UpsertArtistParams{Name: "A", Now: clock.Now()})
	require.NoError(t, err)
	b, err := s.UpsertArtist(ctx, UpsertArtistParams{Name: "B", Now: clock.Now()})
	require.NoError(t, err)

	mfA, err := s.UpsertMediaFile(ctx, UpsertMediaFileParams{Directory: "/m", FileName: "a.ogg", FileHash: 1, LastModified: 1, Now: clock.Now()})
	require.NoError(t, err)
	require.NoError(t, s.SetMediaFileArtists(ctx, SetMediaFileArtistsParams{MediaFileID: mfA.ID, ArtistIDs: []int64{a.ID}, Now: clock.Now()}))
	require.NoError(t, s.SetLiked(ctx, SetLikedParams{MediaFileID: mfA.ID, Liked: true}))

	mfB, err := s.UpsertMediaFile(ctx, UpsertMediaFileParams{Directory: "/m", FileName: "b.ogg", FileHash: 2, LastModified: 1, Now: clock.Now()})
	require.NoError(t, err)
	require.NoError(t, s.SetMediaFileArtists(ctx, SetMediaFileArtistsParams{MediaFileID: mfB.ID, ArtistIDs: []int64{b.ID}, Now: clock.Now()}))
	require.NoError(t, s.SetLiked(ctx, SetLikedParams{MediaFileID: mfB.ID, Liked: false}))

	got, err := s.ResolveQuery(ctx, []Term{
		{Operator: "lib::or", Group: []Term{
			{Operator: "lib::artist", Parameter: strconv.FormatInt(a.ID, 10)},
			{Operator: "lib::artist", Parameter: strconv.FormatInt(b.ID, 10)},
		}},
		{Operator: "lib::liked", Parameter: "true"},
	}, nil)
	require.NoError(t, err)
	require.Equal(t, []int64{mfA.ID}, got)
}

func TestUpsertAnalysisReplacesPriorRow(t *testing.T) {
	s := newTestStore(t)
	clock := hlc.New("node-a")
	ctx := context.Background()

	mf, err := s.UpsertMediaFile(ctx, UpsertMediaFileParams{Directory: "/m", FileName: "a.ogg", FileHash: 1, LastModified: 1, Now: clock.Now()})
	require.NoError(t, err)

	_, err = s.UpsertAnalysis(ctx, UpsertAnalysisParams{MediaFileID: mf.ID, AnalyzerVersion: 1, RMS: 0.5, Now: clock.Now()})
	require.NoError(t, err)

	ids, err := s.AllAnalyzedFileIDs(ctx)
	require.NoError(t, err)
	require.Equal(t, []int64{mf.ID}, ids)

	// re-analysis replaces the row wholesale rather than accumulating.
	_, err = s.UpsertAnalysis(ctx, UpsertAnalysisParams{MediaFileID: mf.ID, AnalyzerVersion: 2, RMS: 0.9, Now: clock.Now()})
	require.NoError(t, err)

	ids, err = s.AllAnalyzedFileIDs(ctx)
	require.NoError(t, err)
	require.Equal(t, []int64{mf.ID}, ids)
}

func TestSyncBookmarkRoundTrip(t *testing.T) {
	s := newTestStore(t)
	clock := hlc.New("node-a")
	ctx := context.Background()

	_, ok, err := s.GetSyncBookmark(ctx, "media_files", "peer-1")
	require.NoError(t, err)
	require.False(t, ok, "absent bookmark must be treated as epoch")

	stamp := clock.Now()
	require.NoError(t, s.SetSyncBookmark(ctx, "media_files", "peer-1", stamp))

	got, ok, err := s.GetSyncBookmark(ctx, "media_files", "peer-1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, stamp.WallMS, got.WallMS)
	require.Equal(t, stamp.Counter, got.Counter)
}
