// Package analysis decodes audio files, derives acoustic feature vectors
// and fingerprints, and persists them into the catalog, per spec.md §4.5.
// Grounded on internal/ingest/pipeline.go's bounded-worker-pool batch
// shape, adapted from "walk the filesystem" to "analyze pending files".
package analysis

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/runic-labs/rune/internal/catalog"
	"github.com/runic-labs/rune/internal/dsp"
	"github.com/runic-labs/rune/internal/hlc"
	"github.com/runic-labs/rune/pkg/ids"
)

// AnalyzerVersion is bumped whenever the feature-extraction algorithm
// changes and is stored on every MediaAnalysis row this pipeline writes.
// Rows stored under an earlier version are not invalidated or re-queued:
// a normal Run picks up only files with no MediaAnalysis row at all.
const AnalyzerVersion = 1

// Progress is emitted on every file analyzed.
type Progress struct {
	Current int
	Total   int
}

// VectorIndexer is the subset of internal/vectorindex's Index the
// analysis pipeline needs: inserting a file's freshly computed feature
// vector so spec.md §4.6 recommend queries can find it.
type VectorIndexer interface {
	Upsert(ctx context.Context, mediaFileID int64, vector [FeatureVectorDim]float64) error
}

// Options configures an analysis run.
type Options struct {
	Workers    int
	Force      bool
	OnProgress func(Progress)
	Cancel     <-chan struct{}
}

// Pipeline ties the catalog store, an audio decoder, an FFT kernel, a
// fingerprinter, and a vector index together to implement spec.md §4.5.
type Pipeline struct {
	store         *catalog.Store
	clock         *hlc.Clock
	decoder       dsp.Decoder
	kernel        dsp.Kernel
	fingerprinter dsp.Fingerprinter
	index         VectorIndexer
	log           zerolog.Logger
}

func New(store *catalog.Store, clock *hlc.Clock, decoder dsp.Decoder, kernel dsp.Kernel, fp dsp.Fingerprinter, index VectorIndexer, log zerolog.Logger) *Pipeline {
	if kernel == nil {
		kernel = dsp.CPUKernel{}
	}
	if fp == nil {
		fp = ChromaFingerprinter{Kernel: kernel}
	}
	return &Pipeline{store: store, clock: clock, decoder: decoder, kernel: kernel, fingerprinter: fp, index: index, log: log}
}

// batchSize implements spec.md §4.5's sizing rule: clamp(3*cores/4, 1, 1000).
func batchSize() int {
	n := runtime.NumCPU() * 3 / 4
	if n < 1 {
		n = 1
	}
	if n > 1000 {
		n = 1000
	}
	return n
}

// Run analyzes every file the catalog reports pending (or, with
// opts.Force, every file that already has an analysis row; never-analyzed
// files are not included in a forced run) and persists
// MediaAnalysis, MediaFileFingerprint, MediaFileSimilarity, and vector
// index rows for each.
func (p *Pipeline) Run(ctx context.Context, opts Options) error {
	workers := opts.Workers
	if workers <= 0 {
		workers = batchSize()
	}

	var ids_ []int64
	var err error
	if opts.Force {
		ids_, err = p.store.AllAnalyzedFileIDs(ctx)
	} else {
		ids_, err = p.store.PendingAnalysisFileIDs(ctx)
	}
	if err != nil {
		return err
	}

	total := len(ids_)
	if total == 0 {
		if opts.OnProgress != nil {
			opts.OnProgress(Progress{Current: 0, Total: 0})
		}
		return nil
	}

	existing, err := p.store.AllFingerprints(ctx)
	if err != nil {
		return err
	}
	var fpMu sync.Mutex
	fingerprints := make([]catalog.FingerprintRow, 0, len(existing)+total)
	fingerprints = append(fingerprints, existing...)

	var processed int64
	jobs := make(chan int64, workers)
	var wg sync.WaitGroup

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for fileID := range jobs {
				select {
				case <-opts.Cancel:
					return
				default:
				}
				if err := p.analyzeFile(ctx, fileID, &fpMu, &fingerprints); err != nil {
					_ = p.store.LogFailure(ctx, "analysis", nil, ids.KindOf(err), err.Error())
				}
				n := atomic.AddInt64(&processed, 1)
				if opts.OnProgress != nil {
					opts.OnProgress(Progress{Current: int(n), Total: total})
				}
			}
		}()
	}

feed:
	for _, id := range ids_ {
		select {
		case <-opts.Cancel:
			break feed
		case jobs <- id:
		}
	}
	close(jobs)
	wg.Wait()
	return nil
}

func (p *Pipeline) analyzeFile(ctx context.Context, fileID int64, fpMu *sync.Mutex, fingerprints *[]catalog.FingerprintRow) error {
	mf, err := p.store.GetMediaFileByID(ctx, fileID)
	if err != nil {
		return err
	}
	path := mf.Directory + "/" + mf.FileName

	pcm, sampleRate, channels, err := p.decoder.Decode(path)
	if err != nil {
		return err
	}
	mono := downmix(pcm, channels)

	var stats windowStats
	step := dsp.WindowSize / 2
	for start := 0; start+dsp.WindowSize <= len(mono); start += step {
		window := make([]float64, dsp.WindowSize)
		for i := 0; i < dsp.WindowSize; i++ {
			window[i] = float64(mono[start+i])
		}
		dsp.HanningWindow(window)
		spectrum, err := p.kernel.Transform(window)
		if err != nil {
			return err
		}
		mag := dsp.Magnitudes(spectrum)
		stats.addWindow(window, mag, sampleRate)
	}
	r := stats.reduce()

	now := p.clock.Now()
	_, err = p.store.UpsertAnalysis(ctx, catalog.UpsertAnalysisParams{
		MediaFileID:        fileID,
		AnalyzerVersion:    AnalyzerVersion,
		SpectralScalars:    r.spectralScalars,
		Chroma:             r.chroma,
		PerceptualLoudness: r.perceptualLoudness,
		MFCC:               r.mfcc,
		RMS:                r.rms,
		ZCR:                r.zcr,
		Energy:             r.energy,
		PerceptualSpread:   r.perceptualSpread,
		Sharpness:          r.sharpness,
		SpectralFlux:       r.spectralFlux,
		Now:                now,
	})
	if err != nil {
		return err
	}

	fp, err := p.fingerprinter.Fingerprint(pcm, sampleRate)
	if err != nil {
		return err
	}
	duplicated, err := p.recordFingerprint(ctx, fileID, fp, fpMu, fingerprints)
	if err != nil {
		return err
	}
	if err := p.store.UpsertFingerprint(ctx, catalog.UpsertFingerprintParams{
		MediaFileID: fileID, Fingerprint: fp, IsDuplicated: duplicated, Now: now,
	}); err != nil {
		return err
	}

	if p.index != nil {
		if err := p.index.Upsert(ctx, fileID, r.FeatureVector()); err != nil {
			p.log.Warn().Err(err).Int64("media_file_id", fileID).Msg("vector index upsert failed")
		}
	}
	return nil
}

// recordFingerprint compares fp against every previously seen fingerprint,
// per spec.md §3/§6's content-dedup contract, persisting a
// MediaFileSimilarity edge for every candidate with a positive score,
// marking the candidate duplicated when the score reaches
// duplicateThreshold, and returning whether fileID itself should be
// marked duplicated.
func (p *Pipeline) recordFingerprint(ctx context.Context, fileID int64, fp []byte, mu *sync.Mutex, fingerprints *[]catalog.FingerprintRow) (bool, error) {
	mu.Lock()
	candidates := append([]catalog.FingerprintRow(nil), (*fingerprints)...)
	*fingerprints = append(*fingerprints, catalog.FingerprintRow{MediaFileID: fileID, Fingerprint: fp})
	mu.Unlock()

	duplicated := false
	for _, c := range candidates {
		if c.MediaFileID == fileID {
			continue
		}
		score := fingerprintSimilarity(fp, c.Fingerprint)
		if score <= 0 {
			continue
		}
		if err := p.store.UpsertSimilarity(ctx, fileID, c.MediaFileID, score); err != nil {
			return false, err
		}
		if score >= duplicateThreshold {
			duplicated = true
			if err := p.store.MarkFingerprintDuplicated(ctx, c.MediaFileID, true); err != nil {
				return false, err
			}
		}
	}
	return duplicated, nil
}

// duplicateThreshold is the similarity score at or above which two fingerprints
// are treated as the same underlying recording, per spec.md §3's
// is_duplicated contract.
const duplicateThreshold = 0.95

// fingerprintSimilarity scores two equal-width fingerprints by normalized
// Hamming distance over 32-bit frames, the comparison Chromaprint-derived
// fingerprints are designed for.
func fingerprintSimilarity(a, b []byte) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	if n == 0 {
		return 0
	}
	n -= n % 4
	if n == 0 {
		return 0
	}
	var matchBits, totalBits int
	for i := 0; i+4 <= n; i += 4 {
		var wa, wb uint32
		for j := 0; j < 4; j++ {
			wa = wa<<8 | uint32(a[i+j])
			wb = wb<<8 | uint32(b[i+j])
		}
		x := wa ^ wb
		for x != 0 {
			x &= x - 1
			matchBits++
		}
		totalBits += 32
	}
	if totalBits == 0 {
		return 0
	}
	return 1 - float64(matchBits)/float64(totalBits)
}

func downmix(pcm []float32, channels int) []float32 {
	if channels <= 1 {
		return pcm
	}
	n := len(pcm) / channels
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		var sum float32
		for c := 0; c < channels; c++ {
			sum += pcm[i*channels+c]
		}
		out[i] = sum / float32(channels)
	}
	return out
}
