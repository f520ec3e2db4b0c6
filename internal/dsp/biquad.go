package dsp

import (
	"errors"
	"fmt"
	"math"
)

var (
	// ErrInvalidFrequency is returned when a filter frequency is not inside (0, fs/2).
	ErrInvalidFrequency = errors.New("frequency outside (0, nyquist)")
	// ErrInvalidQ is returned when a quality factor is not a positive finite number.
	ErrInvalidQ = errors.New("quality factor must be positive")
)

// Biquad is a second-order IIR section with a0 normalized to 1.
type Biquad struct {
	B0, B1, B2 float64
	A1, A2     float64
}

// padLen is the odd-extension length used by FiltFilt: 3 * (order + 1).
const padLen = 9

// LowPass designs a 2nd-order Butterworth low-pass via the prewarped bilinear transform.
func LowPass(cutoff float64, sampleRate int) (Biquad, error) {
	k, err := prewarp(cutoff, sampleRate)
	if err != nil {
		return Biquad{}, err
	}
	norm := 1 / (1 + math.Sqrt2*k + k*k)
	b0 := k * k * norm
	return Biquad{
		B0: b0,
		B1: 2 * b0,
		B2: b0,
		A1: 2 * (k*k - 1) * norm,
		A2: (1 - math.Sqrt2*k + k*k) * norm,
	}, nil
}

// HighPass designs a 2nd-order Butterworth high-pass via the prewarped bilinear transform.
func HighPass(cutoff float64, sampleRate int) (Biquad, error) {
	k, err := prewarp(cutoff, sampleRate)
	if err != nil {
		return Biquad{}, err
	}
	norm := 1 / (1 + math.Sqrt2*k + k*k)
	return Biquad{
		B0: norm,
		B1: -2 * norm,
		B2: norm,
		A1: 2 * (k*k - 1) * norm,
		A2: (1 - math.Sqrt2*k + k*k) * norm,
	}, nil
}

// Notch designs a second-order band-reject filter centered at freq with quality
// factor q. The -3 dB bandwidth is freq/q.
func Notch(freq, q float64, sampleRate int) (Biquad, error) {
	if err := checkFrequency(freq, sampleRate); err != nil {
		return Biquad{}, err
	}
	if q <= 0 || math.IsNaN(q) || math.IsInf(q, 0) {
		return Biquad{}, fmt.Errorf("notch q=%v: %w", q, ErrInvalidQ)
	}

	w0 := freq / (float64(sampleRate) / 2)
	bw := w0 / q * math.Pi
	w0 *= math.Pi

	// Attenuation at the band edges is -3 dB, so the bandwidth term reduces to tan(bw/2).
	beta := math.Tan(bw / 2)
	gain := 1 / (1 + beta)
	cos := math.Cos(w0)

	return Biquad{
		B0: gain,
		B1: -2 * gain * cos,
		B2: gain,
		A1: -2 * gain * cos,
		A2: 2*gain - 1,
	}, nil
}

func prewarp(cutoff float64, sampleRate int) (float64, error) {
	if err := checkFrequency(cutoff, sampleRate); err != nil {
		return 0, err
	}
	return math.Tan(math.Pi * cutoff / float64(sampleRate)), nil
}

func checkFrequency(freq float64, sampleRate int) error {
	nyquist := float64(sampleRate) / 2
	if sampleRate <= 0 || math.IsNaN(freq) || freq <= 0 || freq >= nyquist {
		return fmt.Errorf("frequency %v Hz at %d Hz: %w", freq, sampleRate, ErrInvalidFrequency)
	}
	return nil
}

// Response returns the magnitude of the filter's frequency response at freq.
func (b Biquad) Response(freq float64, sampleRate int) float64 {
	w := 2 * math.Pi * freq / float64(sampleRate)
	z1 := complex(math.Cos(w), -math.Sin(w))
	z2 := z1 * z1
	num := complex(b.B0, 0) + complex(b.B1, 0)*z1 + complex(b.B2, 0)*z2
	den := 1 + complex(b.A1, 0)*z1 + complex(b.A2, 0)*z2
	return cmplxAbs(num / den)
}

func cmplxAbs(c complex128) float64 {
	return math.Hypot(real(c), imag(c))
}

// steadyState returns the transposed direct-form II state for a unit step input.
func (b Biquad) steadyState() (z0, z1 float64) {
	c0 := b.B1 - b.A1*b.B0
	c1 := b.B2 - b.A2*b.B0
	z0 = (c0 + c1) / (1 + b.A1 + b.A2)
	z1 = c1 - b.A2*z0
	return z0, z1
}

// filter runs the section over src into dst (which may alias src) starting from
// state (z0, z1).
func (b Biquad) filter(dst, src []float64, z0, z1 float64) {
	for i, x := range src {
		y := b.B0*x + z0
		z0 = b.B1*x - b.A1*y + z1
		z1 = b.B2*x - b.A2*y
		dst[i] = y
	}
}

// Filter applies the section causally, starting from rest.
func (b Biquad) Filter(x []float64) []float64 {
	out := make([]float64, len(x))
	b.filter(out, x, 0, 0)
	return out
}

// FiltFilt applies the section forward then backward so the phase responses
// cancel. The ends are extended by odd reflection and both passes start from the
// steady state of their first sample.
func (b Biquad) FiltFilt(x []float64) []float64 {
	n := len(x)
	if n == 0 {
		return nil
	}
	pad := padLen
	if pad > n-1 {
		pad = n - 1
	}

	ext := make([]float64, n+2*pad)
	for i := 0; i < pad; i++ {
		ext[i] = 2*x[0] - x[pad-i]
		ext[n+pad+i] = 2*x[n-1] - x[n-2-i]
	}
	copy(ext[pad:], x)

	zi0, zi1 := b.steadyState()

	b.filter(ext, ext, zi0*ext[0], zi1*ext[0])
	reverse(ext)
	b.filter(ext, ext, zi0*ext[0], zi1*ext[0])
	reverse(ext)

	out := make([]float64, n)
	copy(out, ext[pad:pad+n])
	return out
}

func reverse(x []float64) {
	for i, j := 0, len(x)-1; i < j; i, j = i+1, j-1 {
		x[i], x[j] = x[j], x[i]
	}
}
