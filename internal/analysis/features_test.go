package analysis

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/runic-labs/rune/internal/dsp"
)

func sineWindow(freq float64, sampleRate int) []float64 {
	out := make([]float64, dsp.WindowSize)
	for i := range out {
		out[i] = math.Sin(2 * math.Pi * freq * float64(i) / float64(sampleRate))
	}
	return out
}

func TestWindowStatsSpectralFluxUsesPreviousWindow(t *testing.T) {
	var w windowStats
	kernel := dsp.CPUKernel{}

	silent := make([]float64, dsp.WindowSize)
	spec1, err := kernel.Transform(silent)
	require.NoError(t, err)
	w.addWindow(silent, dsp.Magnitudes(spec1), 44100)
	require.Equal(t, 0.0, w.fluxSum, "first window must not flux against a phantom zero predecessor contributing twice")

	loud := sineWindow(440, 44100)
	spec2, err := kernel.Transform(loud)
	require.NoError(t, err)
	w.addWindow(loud, dsp.Magnitudes(spec2), 44100)
	require.Greater(t, w.fluxSum, 0.0)
}

func TestReduceProducesFixedLengthVector(t *testing.T) {
	var w windowStats
	kernel := dsp.CPUKernel{}
	for _, f := range []float64{220, 440, 880} {
		window := sineWindow(f, 44100)
		spec, err := kernel.Transform(window)
		require.NoError(t, err)
		w.addWindow(window, dsp.Magnitudes(spec), 44100)
	}
	r := w.reduce()
	vec := r.FeatureVector()
	require.Len(t, vec, FeatureVectorDim)
	require.Equal(t, 61, FeatureVectorDim)

	var nonZero bool
	for _, v := range vec {
		if v != 0 {
			nonZero = true
		}
		require.False(t, math.IsNaN(v))
	}
	require.True(t, nonZero)
}

func TestReduceEmptyIsZeroValue(t *testing.T) {
	var w windowStats
	r := w.reduce()
	for _, v := range r.FeatureVector() {
		require.Equal(t, 0.0, v)
	}
}

func TestFingerprintSimilarityIdenticalIsOne(t *testing.T) {
	fp := []byte{0xDE, 0xAD, 0xBE, 0xEF, 0x01, 0x02, 0x03, 0x04}
	require.Equal(t, 1.0, fingerprintSimilarity(fp, fp))
}

func TestFingerprintSimilarityDifferentIsLower(t *testing.T) {
	a := []byte{0x00, 0x00, 0x00, 0x00}
	b := []byte{0xFF, 0xFF, 0xFF, 0xFF}
	require.Equal(t, 0.0, fingerprintSimilarity(a, b))
}

func TestFingerprintSimilarityShortInputIsZero(t *testing.T) {
	require.Equal(t, 0.0, fingerprintSimilarity([]byte{1, 2}, []byte{1, 2}))
}

func TestChromaFingerprinterDeterministic(t *testing.T) {
	pcm := make([]float32, dsp.WindowSize*4)
	for i := range pcm {
		pcm[i] = float32(math.Sin(2 * math.Pi * 440 * float64(i) / 44100))
	}
	fp := ChromaFingerprinter{Kernel: dsp.CPUKernel{}}
	out1, err := fp.Fingerprint(pcm, 44100)
	require.NoError(t, err)
	out2, err := fp.Fingerprint(pcm, 44100)
	require.NoError(t, err)
	require.Equal(t, out1, out2)
	require.NotEmpty(t, out1)
}

func TestDownmixStereoAverages(t *testing.T) {
	pcm := []float32{1, 3, 2, -2}
	out := downmix(pcm, 2)
	require.Equal(t, []float32{2, 0}, out)
}

func TestDownmixMonoPassthrough(t *testing.T) {
	pcm := []float32{1, 2, 3}
	require.Equal(t, pcm, downmix(pcm, 1))
}
