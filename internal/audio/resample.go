package audio

import (
	"fmt"
	"math"

	resampler "github.com/tphakala/go-audio-resampler"
)

// Resampler converts a continuous mono int16 stream between sample rates with
// a streaming polyphase resampler. Filter state carries across calls, so
// consecutive frames join cleanly. Not safe for concurrent use.
type Resampler struct {
	rs  resampler.Resampler // nil when the rates match
	buf []float64
}

// NewResampler creates a high-quality resampler from one rate to another.
func NewResampler(from, to int) (*Resampler, error) {
	if from == to {
		return &Resampler{}, nil
	}
	rs, err := resampler.New(&resampler.Config{
		InputRate:  float64(from),
		OutputRate: float64(to),
		Channels:   1,
		Quality:    resampler.QualitySpec{Preset: resampler.QualityHigh},
	})
	if err != nil {
		return nil, fmt.Errorf("resampler %d->%d: %w", from, to, err)
	}
	return &Resampler{rs: rs}, nil
}

// Process resamples one input frame. The filter delays the first output and
// lengths vary from call to call, so callers buffer the result.
func (r *Resampler) Process(in []int16) ([]int16, error) {
	if len(in) == 0 {
		return nil, nil
	}
	if r.rs == nil {
		out := make([]int16, len(in))
		copy(out, in)
		return out, nil
	}

	r.buf = r.buf[:0]
	for _, s := range in {
		r.buf = append(r.buf, float64(s)/32768)
	}
	res, err := r.rs.Process(r.buf)
	if err != nil {
		return nil, fmt.Errorf("resample: %w", err)
	}

	out := make([]int16, len(res))
	for i, v := range res {
		out[i] = int16(math.Max(-32768, math.Min(32767, math.Round(v*32768))))
	}
	return out, nil
}
