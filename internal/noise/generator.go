package noise

import (
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

const (
	// minFrequency stands in for the DC bin so the power law stays finite.
	minFrequency = 1e-10
	// minStdDev is the level below which normalization is skipped.
	minStdDev = 1e-10
)

// Generate returns n samples of Gaussian noise whose power spectral density
// follows f^-beta (0 white, 1 pink, 2 brown), with zero mean and unit variance.
func Generate(rng *rand.Rand, beta float64, n, sampleRate int) []float64 {
	if n <= 0 {
		return []float64{}
	}

	x := make([]float64, n)
	for i := range x {
		x[i] = rng.NormFloat64()
	}
	if beta != 0 {
		shape(x, beta, sampleRate)
	}
	Normalize(x)
	return x
}

// shape scales every FFT bin of x by f^(-beta/2) in place.
func shape(x []float64, beta float64, sampleRate int) {
	n := len(x)
	fft := fourier.NewFFT(n)
	coeff := fft.Coefficients(nil, x)

	df := float64(sampleRate) / float64(n)
	for k := range coeff {
		f := float64(k) * df
		if f == 0 {
			f = minFrequency
		}
		coeff[k] *= complex(math.Pow(f, -beta/2), 0)
	}
	// The scaled DC bin only adds an offset that Normalize removes, and at
	// beta 2 that offset is large enough to cost precision in the subtraction.
	coeff[0] = 0

	// The inverse transform is unnormalized.
	fft.Sequence(x, coeff)
	floats.Scale(1/float64(n), x)
}

// Normalize removes the mean of x and scales it to unit variance in place.
// Scaling is skipped when the standard deviation is too small to divide by.
func Normalize(x []float64) {
	if len(x) == 0 {
		return
	}
	mean, std := stat.PopMeanStdDev(x, nil)
	floats.AddConst(-mean, x)
	if std > minStdDev && !math.IsNaN(std) {
		floats.Scale(1/std, x)
	}
}
