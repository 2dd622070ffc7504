package analysis

import "math"

// bands folds the first len(mag)/2+1 bins (the non-negative frequencies)
// of a full magnitude spectrum into n contiguous logarithmically-spaced
// bands, averaging magnitude within each band. Used
// to derive both the 10 spectral scalars and the 24 perceptual-loudness
// bands from the same underlying spectrum at different resolutions.
func bands(mag []float64, n int) []float64 {
	usable := len(mag)/2 + 1
	if usable > len(mag) {
		usable = len(mag)
	}
	out := make([]float64, n)
	if usable == 0 {
		return out
	}
	logMax := math.Log2(float64(usable) + 1)
	for i := 0; i < n; i++ {
		lo := int(math.Exp2(logMax*float64(i)/float64(n))) - 1
		hi := int(math.Exp2(logMax*float64(i+1)/float64(n))) - 1
		if lo < 0 {
			lo = 0
		}
		if hi <= lo {
			hi = lo + 1
		}
		if hi > usable {
			hi = usable
		}
		var sum float64
		count := 0
		for b := lo; b < hi; b++ {
			sum += mag[b]
			count++
		}
		if count > 0 {
			out[i] = sum / float64(count)
		}
	}
	return out
}

// chroma12 folds spectral energy into 12 pitch classes by mapping each bin
// to the nearest musical semitone (A440 equal temperament) and summing.
func chroma12(mag []float64, sampleRate int) [12]float64 {
	var out [12]float64
	if sampleRate <= 0 || len(mag) < 2 {
		return out
	}
	n := len(mag)
	usable := n/2 + 1
	for k := 1; k < usable; k++ {
		freq := float64(k) * float64(sampleRate) / float64(n)
		if freq < 20 {
			continue
		}
		midi := 69 + 12*math.Log2(freq/440)
		pitchClass := int(math.Round(midi)) % 12
		if pitchClass < 0 {
			pitchClass += 12
		}
		out[pitchClass] += mag[k]
	}
	return out
}

// dct2 computes the first nOut coefficients of a type-II discrete cosine
// transform of in, the standard final stage of an MFCC pipeline applied
// here to log-compressed perceptual-loudness bands.
func dct2(in []float64, nOut int) []float64 {
	n := len(in)
	out := make([]float64, nOut)
	for k := 0; k < nOut; k++ {
		var sum float64
		for i := 0; i < n; i++ {
			sum += in[i] * math.Cos(math.Pi/float64(n)*(float64(i)+0.5)*float64(k))
		}
		out[k] = sum
	}
	return out
}

// windowStats accumulates the running scalar sums spec.md §4.5 step 4
// requires ("running rms, zcr, energy totals") across every window in a
// file's analysis batch.
type windowStats struct {
	rmsSum, zcrSum, energySum float64
	spreadSum, sharpnessSum   float64
	fluxSum                   float64
	bandSum                   [10]float64
	loudnessSum               [24]float64
	chromaSum                 [12]float64
	windows                   int
	prevMag                   []float64
}

// addWindow folds one Hanning-windowed, FFT-transformed window's magnitude
// spectrum and its originating time-domain samples into the running totals.
// spectralFlux is computed against w.prevMag (the immediately preceding
// window), not a zero vector, per spec.md §9's redesign fix.
func (w *windowStats) addWindow(samples []float64, mag []float64, sampleRate int) {
	n := len(samples)
	var sumSquares float64
	var zc int
	for i, s := range samples {
		sumSquares += s * s
		if i > 0 && ((samples[i-1] < 0) != (s < 0)) {
			zc++
		}
	}
	rms := 0.0
	if n > 0 {
		rms = math.Sqrt(sumSquares / float64(n))
	}
	zcr := 0.0
	if n > 1 {
		zcr = float64(zc) / float64(n-1)
	}

	b10 := bands(mag, 10)
	b24 := bands(mag, 24)
	chroma := chroma12(mag, sampleRate)

	var centroidNum, centroidDen float64
	for k, m := range mag {
		centroidNum += float64(k) * m
		centroidDen += m
	}
	centroid := 0.0
	if centroidDen > 0 {
		centroid = centroidNum / centroidDen
	}
	var spreadNum float64
	for k, m := range mag {
		d := float64(k) - centroid
		spreadNum += d * d * m
	}
	spread := 0.0
	if centroidDen > 0 {
		spread = math.Sqrt(spreadNum / centroidDen)
	}

	var sharpness float64
	for k, m := range mag {
		sharpness += float64(k+1) * m
	}
	if centroidDen > 0 {
		sharpness /= centroidDen
	}

	var flux float64
	if w.prevMag != nil {
		for k := range mag {
			d := mag[k] - w.prevMag[k]
			if d > 0 {
				flux += d * d
			}
		}
		flux = math.Sqrt(flux)
	}
	w.prevMag = append(w.prevMag[:0], mag...)

	w.rmsSum += rms
	w.zcrSum += zcr
	w.energySum += sumSquares
	w.spreadSum += spread
	w.sharpnessSum += sharpness
	w.fluxSum += flux
	for i := range w.bandSum {
		w.bandSum[i] += b10[i]
	}
	for i := range w.loudnessSum {
		w.loudnessSum[i] += b24[i]
	}
	for i := range w.chromaSum {
		w.chromaSum[i] += chroma[i]
	}
	w.windows++
}

// reduced is the fixed-length feature set derived from a windowStats
// accumulator, matching catalog.UpsertAnalysisParams's scalar fields.
type reduced struct {
	spectralScalars    [10]float64
	chroma             [12]float64
	perceptualLoudness [24]float64
	mfcc               [13]float64
	rms                float64
	zcr                float64
	energy             float64
	perceptualSpread   float64
	sharpness          float64
	spectralFlux       float64
}

func (w *windowStats) reduce() reduced {
	var r reduced
	if w.windows == 0 {
		return r
	}
	n := float64(w.windows)
	for i := range r.spectralScalars {
		r.spectralScalars[i] = w.bandSum[i] / n
	}
	for i := range r.chroma {
		r.chroma[i] = w.chromaSum[i] / n
	}
	logLoudness := make([]float64, 24)
	for i := range r.perceptualLoudness {
		avg := w.loudnessSum[i] / n
		r.perceptualLoudness[i] = avg
		logLoudness[i] = math.Log(avg + 1e-9)
	}
	copy(r.mfcc[:], dct2(logLoudness, 13))
	r.rms = w.rmsSum / n
	r.zcr = w.zcrSum / n
	r.energy = w.energySum / n
	r.perceptualSpread = w.spreadSum / n
	r.sharpness = w.sharpnessSum / n
	r.spectralFlux = w.fluxSum / n
	return r
}

// FeatureVectorDim is the fixed dimensionality the vector index stores,
// spec.md §9's redesign fix ("vector dimension is fixed at 61 everywhere").
const FeatureVectorDim = 61

// FeatureVector packs a reduced analysis into the 61-dimensional vector
// internal/vectorindex indexes: the 10 spectral scalars, 12 chroma bins,
// 24 perceptual-loudness bands, and 13 MFCCs (59 dims) plus rms and zcr (2
// dims) = 61. energy/perceptual_spread/sharpness/spectral_flux remain
// catalog-only scalar columns, not part of the indexed similarity vector.
func (r reduced) FeatureVector() [FeatureVectorDim]float64 {
	var v [FeatureVectorDim]float64
	i := 0
	for _, x := range r.spectralScalars {
		v[i] = x
		i++
	}
	for _, x := range r.chroma {
		v[i] = x
		i++
	}
	for _, x := range r.perceptualLoudness {
		v[i] = x
		i++
	}
	for _, x := range r.mfcc {
		v[i] = x
		i++
	}
	v[i] = r.rms
	i++
	v[i] = r.zcr
	return v
}
