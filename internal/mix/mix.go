// Package mix combines per-channel noise signals into one peak-normalized signal.
package mix

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/satindergrewal/hush/internal/noise"
)

// ErrLengthMismatch is returned when a track's signal does not have the mix length.
var ErrLengthMismatch = errors.New("track length does not match mix length")

// Track is one channel's signal and its volume.
type Track struct {
	Signal []float64
	Volume float64
}

// Mix sums volume-scaled tracks into n samples and divides by the peak, so the
// result never exceeds 1 in magnitude. Silent input yields silence.
func Mix(n int, tracks map[noise.Channel]Track) ([]float64, error) {
	out := make([]float64, n)
	// Fixed channel order keeps the floating-point sum reproducible.
	for _, ch := range noise.Channels {
		tr, ok := tracks[ch]
		if !ok {
			continue
		}
		vol := ClampVolume(tr.Volume)
		if vol == 0 {
			continue
		}
		if len(tr.Signal) != n {
			return nil, fmt.Errorf("%v: got %d samples, want %d: %w", ch, len(tr.Signal), n, ErrLengthMismatch)
		}
		floats.AddScaled(out, vol, tr.Signal)
	}
	Normalize(out)
	return out, nil
}

// Normalize divides x by its peak magnitude when the peak is non-zero.
func Normalize(x []float64) {
	if len(x) == 0 {
		return
	}
	peak := math.Max(floats.Max(x), -floats.Min(x))
	if peak > 0 && !math.IsInf(peak, 0) && !math.IsNaN(peak) {
		floats.Scale(1/peak, x)
	}
}

// ClampVolume limits v to [0,1]; NaN becomes 0.
func ClampVolume(v float64) float64 {
	switch {
	case math.IsNaN(v), v <= 0:
		return 0
	case v >= 1:
		return 1
	}
	return v
}
