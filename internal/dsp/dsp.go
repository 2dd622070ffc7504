// Package dsp defines the external FFT/fingerprint kernel contract spec.md
// §4.5/§6 treats as opaque ("CPU via split-radix, GPU via a radix-4 compute
// shader, both treated as opaque") plus a deterministic pure-Go reference
// kernel so internal/analysis is exercised without a real GPU backend.
// Grounded on spec.md §4.5 directly; no teacher file has an equivalent
// (orb ships no DSP layer). The Kernel/Fingerprinter split follows spec.md
// §9's "dynamic dispatch" design note: a capability interface with
// concrete implementations chosen at startup.
package dsp

import (
	"math"
	"math/cmplx"

	"github.com/runic-labs/rune/pkg/ids"
)

// Device selects where window transforms execute, per spec.md §4.5.
type Device string

const (
	DeviceCPU Device = "cpu"
	DeviceGPU Device = "gpu"
)

// WindowSize is the fixed FFT window spec.md §4.5 names ("Iterate
// 1024-sample windows").
const WindowSize = 1024

// Kernel is the external FFT kernel contract. Real CPU/GPU backends are
// out of scope per spec.md §1; callers inject whichever Kernel matches
// the configured analysis device.
type Kernel interface {
	Device() Device
	// Transform computes the forward FFT of a single Hanning-windowed
	// 1024-sample window, returning WindowSize complex bins.
	Transform(window []float64) ([]complex128, error)
}

// Fingerprinter is the external Chromaprint acoustic fingerprint kernel
// contract, spec.md §4.5 step 5 / §6.
type Fingerprinter interface {
	Fingerprint(pcm []float32, sampleRate int) ([]byte, error)
}

// Decoder is the external audio decode contract, spec.md §4.5 step 1:
// "Decode into PCM f32 interleaved per channel (external decoder)."
type Decoder interface {
	Decode(path string) (pcm []float32, sampleRate, channels int, err error)
}

// HanningWindow applies an in-place Hanning window to samples, per
// spec.md §4.5 step 3.
func HanningWindow(samples []float64) {
	n := len(samples)
	if n <= 1 {
		return
	}
	for i := range samples {
		w := 0.5 * (1 - math.Cos(2*math.Pi*float64(i)/float64(n-1)))
		samples[i] *= w
	}
}

// CPUKernel is the deterministic pure-Go reference FFT kernel used when no
// real CPU DSP backend is wired: a textbook recursive radix-2
// Cooley-Tukey transform over math/cmplx, zero-padded to the next power
// of two. No example repo in the retrieved pack wires a DSP/FFT library
// (the real kernel is explicitly out of scope per spec.md §1), so this is
// a justified stdlib-only component that exists solely to make
// internal/analysis testable, per DESIGN.md.
type CPUKernel struct{}

func (CPUKernel) Device() Device { return DeviceCPU }

func (CPUKernel) Transform(window []float64) ([]complex128, error) {
	if len(window) == 0 {
		return nil, ids.New(ids.KindInvalidInput, "dsp: empty window")
	}
	in := make([]complex128, nextPow2(len(window)))
	for i, v := range window {
		in[i] = complex(v, 0)
	}
	return fft(in), nil
}

// GPUKernel is the deterministic reference "GPU" kernel: it runs the same
// transform as CPUKernel. A real radix-4 compute-shader path is out of
// scope per spec.md §1/§6; this exists so spec.md §4.5/§8's CPU/GPU
// determinism-tolerance tests have two distinct Device values to compare
// (dsp_test.go's TestGPUKernelMatchesCPUKernel compares their outputs).
type GPUKernel struct{}

func (GPUKernel) Device() Device { return DeviceGPU }

func (GPUKernel) Transform(window []float64) ([]complex128, error) {
	return CPUKernel{}.Transform(window)
}

func nextPow2(n int) int {
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}

// fft is a recursive radix-2 Cooley-Tukey FFT. len(a) must be a power of
// two (guaranteed by nextPow2 above).
func fft(a []complex128) []complex128 {
	n := len(a)
	if n <= 1 {
		return a
	}
	even := make([]complex128, n/2)
	odd := make([]complex128, n/2)
	for i := 0; i < n/2; i++ {
		even[i] = a[2*i]
		odd[i] = a[2*i+1]
	}
	even = fft(even)
	odd = fft(odd)

	out := make([]complex128, n)
	for k := 0; k < n/2; k++ {
		t := cmplx.Rect(1, -2*math.Pi*float64(k)/float64(n)) * odd[k]
		out[k] = even[k] + t
		out[k+n/2] = even[k] - t
	}
	return out
}

// Magnitudes returns |bin| for every bin in spectrum.
func Magnitudes(spectrum []complex128) []float64 {
	out := make([]float64, len(spectrum))
	for i, c := range spectrum {
		out[i] = cmplx.Abs(c)
	}
	return out
}
