package noise

import (
	"fmt"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/floats"

	"github.com/satindergrewal/hush/internal/dsp"
)

// Texture shaping constants.
const (
	WindCutoff      = 500.0 // Hz, low-pass on brown noise
	WaterfallCutoff = 200.0 // Hz, high-pass on the pink/white blend
	OceanSwellRate  = 0.1   // Hz, amplitude modulation of pink noise
	WaterfallPink   = 0.7
	WaterfallWhite  = 0.3
)

// WindTexture is brown noise through a zero-phase low-pass.
func WindTexture(rng *rand.Rand, n, sampleRate int) ([]float64, error) {
	lp, err := dsp.LowPass(WindCutoff, sampleRate)
	if err != nil {
		return nil, fmt.Errorf("wind filter: %w", err)
	}
	out := lp.FiltFilt(Generate(rng, 2, n, sampleRate))
	Normalize(out)
	return out, nil
}

// OceanTexture is pink noise under a slow sinusoidal swell.
func OceanTexture(rng *rand.Rand, n, sampleRate int) []float64 {
	out := Generate(rng, 1, n, sampleRate)
	w := 2 * math.Pi * OceanSwellRate / float64(sampleRate)
	for i := range out {
		out[i] *= 0.5 + 0.5*math.Sin(w*float64(i))
	}
	Normalize(out)
	return out
}

// WaterfallTexture blends pink and white noise and removes the low end with a
// zero-phase high-pass.
func WaterfallTexture(rng *rand.Rand, n, sampleRate int) ([]float64, error) {
	hp, err := dsp.HighPass(WaterfallCutoff, sampleRate)
	if err != nil {
		return nil, fmt.Errorf("waterfall filter: %w", err)
	}
	pink := Generate(rng, 1, n, sampleRate)
	white := Generate(rng, 0, n, sampleRate)

	floats.Scale(WaterfallPink, pink)
	floats.AddScaled(pink, WaterfallWhite, white)

	out := hp.FiltFilt(pink)
	Normalize(out)
	return out, nil
}

// Synthesize produces n samples of the texture for ch.
func Synthesize(ch Channel, rng *rand.Rand, n, sampleRate int) ([]float64, error) {
	if beta, ok := ch.Beta(); ok {
		return Generate(rng, beta, n, sampleRate), nil
	}
	switch ch {
	case Wind:
		return WindTexture(rng, n, sampleRate)
	case Ocean:
		return OceanTexture(rng, n, sampleRate), nil
	case Waterfall:
		return WaterfallTexture(rng, n, sampleRate)
	}
	return nil, fmt.Errorf("synthesize: %v", ch)
}
