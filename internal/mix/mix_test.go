package mix

import (
	"errors"
	"math"
	"math/rand/v2"
	"testing"

	"github.com/satindergrewal/hush/internal/noise"
)

func randomSignal(seed uint64, n int) []float64 {
	r := rand.New(rand.NewPCG(seed, seed+1))
	x := make([]float64, n)
	for i := range x {
		x[i] = r.NormFloat64() * 3
	}
	return x
}

func peak(x []float64) float64 {
	var p float64
	for _, v := range x {
		p = math.Max(p, math.Abs(v))
	}
	return p
}

func TestMixPeakBounded(t *testing.T) {
	const n = 4096
	volumes := [][]float64{
		{1, 1, 1, 1, 1, 1},
		{0.5, 0, 0, 0, 0, 0},
		{0.1, 0.9, 0.3, 0, 0.7, 0.2},
		{0, 0, 0, 0, 0, 0.01},
		{2, -1, 0.5, 0, 0, 0}, // out-of-range volumes are clamped
	}
	for _, vols := range volumes {
		tracks := make(map[noise.Channel]Track)
		for i, ch := range noise.Channels {
			tracks[ch] = Track{Signal: randomSignal(uint64(i), n), Volume: vols[i]}
		}
		out, err := Mix(n, tracks)
		if err != nil {
			t.Fatalf("Mix(%v): %v", vols, err)
		}
		if p := peak(out); p > 1+1e-12 {
			t.Errorf("Mix(%v) peak = %v, want <= 1", vols, p)
		}
	}
}

func TestMixNormalizesToUnitPeak(t *testing.T) {
	out, err := Mix(3, map[noise.Channel]Track{
		noise.White: {Signal: []float64{0.1, -0.4, 0.2}, Volume: 0.5},
	})
	if err != nil {
		t.Fatal(err)
	}
	want := []float64{0.25, -1, 0.5}
	for i := range want {
		if math.Abs(out[i]-want[i]) > 1e-12 {
			t.Errorf("out[%d] = %v, want %v", i, out[i], want[i])
		}
	}
}

func TestMixAllSilentIsZero(t *testing.T) {
	tracks := map[noise.Channel]Track{
		noise.White: {Signal: randomSignal(1, 100), Volume: 0},
		noise.Pink:  {Signal: randomSignal(2, 100), Volume: 0},
	}
	out, err := Mix(100, tracks)
	if err != nil {
		t.Fatal(err)
	}
	for i, v := range out {
		if v != 0 {
			t.Fatalf("out[%d] = %v, want 0", i, v)
		}
	}
}

func TestMixLengthMismatch(t *testing.T) {
	_, err := Mix(10, map[noise.Channel]Track{
		noise.Brown: {Signal: make([]float64, 9), Volume: 1},
	})
	if !errors.Is(err, ErrLengthMismatch) {
		t.Errorf("Mix error = %v, want ErrLengthMismatch", err)
	}
	// Muted tracks are never read, so their length does not matter.
	if _, err := Mix(10, map[noise.Channel]Track{noise.Brown: {Volume: 0}}); err != nil {
		t.Errorf("Mix with muted short track: %v", err)
	}
}

func TestClampVolume(t *testing.T) {
	tests := []struct {
		in, want float64
	}{
		{-1, 0},
		{0, 0},
		{0.25, 0.25},
		{1, 1},
		{1.5, 1},
		{math.NaN(), 0},
		{math.Inf(1), 1},
	}
	for _, tt := range tests {
		if got := ClampVolume(tt.in); got != tt.want {
			t.Errorf("ClampVolume(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
