package dsp

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHanningWindowTapersEdgesToZero(t *testing.T) {
	samples := make([]float64, 8)
	for i := range samples {
		samples[i] = 1.0
	}
	HanningWindow(samples)
	require.InDelta(t, 0, samples[0], 1e-9)
	require.Greater(t, samples[4], samples[0])
}

func TestHanningWindowNoOpForShortInput(t *testing.T) {
	samples := []float64{1.0}
	HanningWindow(samples)
	require.Equal(t, []float64{1.0}, samples)

	var empty []float64
	HanningWindow(empty)
	require.Empty(t, empty)
}

func TestCPUKernelTransformRejectsEmptyWindow(t *testing.T) {
	_, err := CPUKernel{}.Transform(nil)
	require.Error(t, err)
}

func TestCPUKernelTransformReturnsPowerOfTwoBins(t *testing.T) {
	window := make([]float64, 10)
	spectrum, err := CPUKernel{}.Transform(window)
	require.NoError(t, err)
	require.Len(t, spectrum, 16) // next power of two >= 10
}

func TestCPUKernelTransformDCSignalConcentratesEnergyInBinZero(t *testing.T) {
	window := make([]float64, 8)
	for i := range window {
		window[i] = 1.0
	}
	spectrum, err := CPUKernel{}.Transform(window)
	require.NoError(t, err)
	mags := Magnitudes(spectrum)
	require.InDelta(t, 8.0, mags[0], 1e-9)
	for _, m := range mags[1:] {
		require.InDelta(t, 0, m, 1e-9)
	}
}

func TestGPUKernelMatchesCPUKernel(t *testing.T) {
	window := []float64{0.1, 0.5, -0.3, 0.8}
	cpuOut, err := CPUKernel{}.Transform(window)
	require.NoError(t, err)
	gpuOut, err := GPUKernel{}.Transform(window)
	require.NoError(t, err)
	require.Equal(t, cpuOut, gpuOut)
}

func TestKernelDeviceNames(t *testing.T) {
	require.Equal(t, DeviceCPU, CPUKernel{}.Device())
	require.Equal(t, DeviceGPU, GPUKernel{}.Device())
}

func TestMagnitudesComputesAbsoluteValue(t *testing.T) {
	spectrum := []complex128{complex(3, 4), complex(0, 0)}
	mags := Magnitudes(spectrum)
	require.InDelta(t, 5.0, mags[0], 1e-9)
	require.InDelta(t, 0.0, mags[1], 1e-9)
}

func TestFFTIsConsistentWithNaiveDFT(t *testing.T) {
	window := []float64{1, 2, 3, 4}
	spectrum, err := CPUKernel{}.Transform(window)
	require.NoError(t, err)

	n := len(spectrum)
	in := make([]complex128, n)
	for i, v := range window {
		in[i] = complex(v, 0)
	}
	for k := 0; k < n; k++ {
		var sum complex128
		for j := 0; j < n; j++ {
			angle := -2 * math.Pi * float64(k) * float64(j) / float64(n)
			sum += in[j] * complex(math.Cos(angle), math.Sin(angle))
		}
		require.InDelta(t, real(sum), real(spectrum[k]), 1e-6)
		require.InDelta(t, imag(sum), imag(spectrum[k]), 1e-6)
	}
}
