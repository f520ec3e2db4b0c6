// Package loop turns a synthesized signal into a loopable PCM buffer.
package loop

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// PCMScale maps a normalized sample in [-1,1] onto int16.
const PCMScale = 32767

var (
	ErrShortSignal = errors.New("signal shorter than loop body plus overlap")
	ErrOverlap     = errors.New("overlap must be positive and no longer than the loop")
)

// Loop is a mono 16-bit PCM buffer meant to be played back repeatedly.
type Loop struct {
	PCM        []int16
	SampleRate int
}

// Duration returns the playing time of one pass through the loop.
func (l *Loop) Duration() time.Duration {
	if l == nil || l.SampleRate <= 0 {
		return 0
	}
	return time.Duration(len(l.PCM)) * time.Second / time.Duration(l.SampleRate)
}

// Samples converts a duration to a whole number of samples at sampleRate.
func Samples(d time.Duration, sampleRate int) int {
	return int(int64(d) * int64(sampleRate) / int64(time.Second))
}

// Build takes the first duration of signal as the loop body and crossfades its
// tail into the overlap that follows it, then encodes the body as PCM.
//
// The tail ends on the value that followed it in the source signal rather than
// on sample 0, so the loop point is smoothed statistically, not made continuous.
func Build(signal []float64, duration, overlap time.Duration, sampleRate int) (*Loop, error) {
	if overlap <= 0 || overlap > duration {
		return nil, fmt.Errorf("overlap %v, duration %v: %w", overlap, duration, ErrOverlap)
	}
	body := Samples(duration, sampleRate)
	fade := Samples(overlap, sampleRate)
	if len(signal) < body+fade {
		return nil, fmt.Errorf("got %d samples, need %d: %w", len(signal), body+fade, ErrShortSignal)
	}

	out := make([]float64, body)
	copy(out, signal[:body])
	Crossfade(out[body-fade:], signal[body:body+fade])

	return &Loop{PCM: Encode(out), SampleRate: sampleRate}, nil
}

// Crossfade fades tail out linearly and adds next faded in, in place. Both
// ramps include their endpoints.
func Crossfade(tail, next []float64) {
	n := len(tail)
	if len(next) < n {
		n = len(next)
	}
	if n == 1 {
		// A one-point ramp is just its start value.
		return
	}
	for i := 0; i < n; i++ {
		in := float64(i) / float64(n-1)
		tail[i] = tail[i]*(1-in) + next[i]*in
	}
}

// Encode converts normalized samples to int16, clamping to [-1,1] and truncating
// toward zero. NaN encodes as silence.
func Encode(x []float64) []int16 {
	pcm := make([]int16, len(x))
	for i, v := range x {
		switch {
		case math.IsNaN(v):
			v = 0
		case v > 1:
			v = 1
		case v < -1:
			v = -1
		}
		pcm[i] = int16(v * PCMScale)
	}
	return pcm
}
