package analysis

import (
	"encoding/binary"
	"math"

	"github.com/runic-labs/rune/internal/dsp"
)

// ChromaFingerprinter is a deterministic pure-Go reference implementation
// of dsp.Fingerprinter. A real Chromaprint kernel is an external
// collaborator per spec.md §4.5 step 5 / §6 ("Chromaprint-style fingerprint
// for audio-content similarity"); no library in the retrieved pack wires
// one, so this builds a comparable fixed-width fingerprint directly from
// chroma-band energy, matching Chromaprint's own core idea (quantized
// chroma context hashed into 32-bit frames) closely enough to drive
// similarity comparisons and dedup within this repo.
type ChromaFingerprinter struct {
	Kernel dsp.Kernel
}

// Fingerprint decodes pcm into WindowSize-sample windows, folds each into a
// 12-bin chroma vector, quantizes it to 4 bits per bin, and packs two
// consecutive windows' chroma into one 32-bit frame (12*4 = 48 bits would
// overflow a uint32, so the first window's bins 0-7 fill the frame and the
// second window contributes only its bin 0, XORed into the lowest 4 bits,
// mirroring Chromaprint's practice of combining adjacent frames for
// context instead of encoding one frame in isolation).
func (c ChromaFingerprinter) Fingerprint(pcm []float32, sampleRate int) ([]byte, error) {
	if c.Kernel == nil {
		c.Kernel = dsp.CPUKernel{}
	}
	step := dsp.WindowSize / 2
	var chromas [][12]float64
	for start := 0; start+dsp.WindowSize <= len(pcm); start += step {
		window := make([]float64, dsp.WindowSize)
		for i := 0; i < dsp.WindowSize; i++ {
			window[i] = float64(pcm[start+i])
		}
		dsp.HanningWindow(window)
		spectrum, err := c.Kernel.Transform(window)
		if err != nil {
			return nil, err
		}
		mag := dsp.Magnitudes(spectrum)
		chromas = append(chromas, chroma12(mag, sampleRate))
	}
	if len(chromas) == 0 {
		return nil, nil
	}

	out := make([]byte, 0, (len(chromas)/2+1)*4)
	var buf [4]byte
	for i := 0; i+1 < len(chromas); i += 2 {
		frame := packChromaFrame(chromas[i], chromas[i+1])
		binary.BigEndian.PutUint32(buf[:], frame)
		out = append(out, buf[:]...)
	}
	if len(chromas)%2 == 1 {
		frame := packChromaFrame(chromas[len(chromas)-1], [12]float64{})
		binary.BigEndian.PutUint32(buf[:], frame)
		out = append(out, buf[:]...)
	}
	return out, nil
}

func packChromaFrame(a, b [12]float64) uint32 {
	norm := func(c [12]float64) [12]float64 {
		max := 0.0
		for _, v := range c {
			if v > max {
				max = v
			}
		}
		if max == 0 {
			return c
		}
		var out [12]float64
		for i, v := range c {
			out[i] = v / max
		}
		return out
	}
	na, nb := norm(a), norm(b)
	var frame uint32
	for i := 0; i < 8; i++ {
		frame |= uint32(quantize4(na[i])) << uint(28-4*i)
	}
	return frame ^ uint32(quantize4(nb[0]))
}

func quantize4(v float64) byte {
	if v < 0 {
		v = 0
	}
	q := int(math.Min(15, math.Round(v*15)))
	return byte(q)
}
