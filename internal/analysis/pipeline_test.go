package analysis

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/runic-labs/rune/internal/catalog"
	"github.com/runic-labs/rune/internal/dsp"
	"github.com/runic-labs/rune/internal/hlc"
)

func newTestStore(t *testing.T) *catalog.Store {
	t.Helper()
	s, err := catalog.Connect(context.Background(), "file::memory:?cache=shared")
	require.NoError(t, err)
	require.NoError(t, s.Migrate())
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// fakeDecoder returns a fixed sine-ish PCM buffer regardless of path, so
// the pipeline can be exercised without real audio fixtures on disk.
type fakeDecoder struct{}

func (fakeDecoder) Decode(string) (pcm []float32, sampleRate, channels int, err error) {
	n := dsp.WindowSize * 4
	out := make([]float32, n)
	for i := range out {
		out[i] = float32(i%100) / 100
	}
	return out, 44100, 1, nil
}

type fakeVectorIndex struct {
	upserted map[int64][FeatureVectorDim]float64
}

func (f *fakeVectorIndex) Upsert(_ context.Context, mediaFileID int64, vector [FeatureVectorDim]float64) error {
	if f.upserted == nil {
		f.upserted = map[int64][FeatureVectorDim]float64{}
	}
	f.upserted[mediaFileID] = vector
	return nil
}

func insertMediaFile(t *testing.T, store *catalog.Store, clock *hlc.Clock, dir, name string, hash uint32) int64 {
	t.Helper()
	mf, err := store.UpsertMediaFile(context.Background(), catalog.UpsertMediaFileParams{
		Directory: dir, FileName: name, FileHash: hash, LastModified: 1, Now: clock.Now(),
	})
	require.NoError(t, err)
	return mf.ID
}

func TestPipelineRunAnalyzesPendingFiles(t *testing.T) {
	store := newTestStore(t)
	clock := hlc.New("node-a")
	fileID := insertMediaFile(t, store, clock, "/music", "a.wav", 1)

	index := &fakeVectorIndex{}
	pipeline := New(store, clock, fakeDecoder{}, dsp.CPUKernel{}, nil, index, zerolog.Nop())

	var lastProgress Progress
	err := pipeline.Run(context.Background(), Options{
		Workers:    2,
		OnProgress: func(p Progress) { lastProgress = p },
	})
	require.NoError(t, err)
	require.Equal(t, 1, lastProgress.Total)

	pending, err := store.PendingAnalysisFileIDs(context.Background())
	require.NoError(t, err)
	require.Empty(t, pending)

	require.Contains(t, index.upserted, fileID)
}

func TestPipelineRunIsIdempotentWithoutForce(t *testing.T) {
	store := newTestStore(t)
	clock := hlc.New("node-a")
	insertMediaFile(t, store, clock, "/music", "a.wav", 1)

	pipeline := New(store, clock, fakeDecoder{}, dsp.CPUKernel{}, nil, nil, zerolog.Nop())
	require.NoError(t, pipeline.Run(context.Background(), Options{Workers: 1}))

	var secondPassTotal int
	require.NoError(t, pipeline.Run(context.Background(), Options{
		Workers:    1,
		OnProgress: func(p Progress) { secondPassTotal = p.Total },
	}))
	require.Equal(t, 0, secondPassTotal)
}

func TestPipelineRunForceReanalyzesEveryFile(t *testing.T) {
	store := newTestStore(t)
	clock := hlc.New("node-a")
	insertMediaFile(t, store, clock, "/music", "a.wav", 1)

	pipeline := New(store, clock, fakeDecoder{}, dsp.CPUKernel{}, nil, nil, zerolog.Nop())
	require.NoError(t, pipeline.Run(context.Background(), Options{Workers: 1}))

	var forcedTotal int
	require.NoError(t, pipeline.Run(context.Background(), Options{
		Workers:    1,
		Force:      true,
		OnProgress: func(p Progress) { forcedTotal = p.Total },
	}))
	require.Equal(t, 1, forcedTotal)
}

func TestPipelineRunNoPendingFilesReportsZeroTotal(t *testing.T) {
	store := newTestStore(t)
	clock := hlc.New("node-a")
	pipeline := New(store, clock, fakeDecoder{}, dsp.CPUKernel{}, nil, nil, zerolog.Nop())

	var got Progress
	require.NoError(t, pipeline.Run(context.Background(), Options{
		OnProgress: func(p Progress) { got = p },
	}))
	require.Equal(t, Progress{Current: 0, Total: 0}, got)
}
