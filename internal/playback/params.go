package playback

import (
	"math"

	"github.com/satindergrewal/hush/internal/audio"
	"github.com/satindergrewal/hush/internal/mix"
	"github.com/satindergrewal/hush/internal/noise"
)

const (
	DefaultWhite     = 0.5
	DefaultMaster    = 0.5
	DefaultFrequency = 4000.0
	DefaultQ         = 30.0

	MinQ = 1.0
	MaxQ = 100.0
)

// Params is one snapshot of the user-controlled synthesis settings.
// It is a value type; a synthesis run works on its own copy.
type Params struct {
	Volumes   [noise.NumChannels]float64 // indexed by noise.Channel
	Master    float64
	Frequency float64 // tinnitus frequency in Hz, 0 disables the notch
	Q         float64
}

// DefaultParams returns white noise at half volume with a 4 kHz notch.
func DefaultParams() Params {
	var p Params
	p.Volumes[noise.White] = DefaultWhite
	p.Master = DefaultMaster
	p.Frequency = DefaultFrequency
	p.Q = DefaultQ
	return p
}

// Volume returns the volume of ch, or 0 for an unknown channel.
func (p Params) Volume(ch noise.Channel) float64 {
	if !ch.Valid() {
		return 0
	}
	return p.Volumes[ch]
}

// Clamped returns p with every field forced into its valid range.
func (p Params) Clamped() Params {
	for i := range p.Volumes {
		p.Volumes[i] = mix.ClampVolume(p.Volumes[i])
	}
	p.Master = mix.ClampVolume(p.Master)
	p.Frequency = ClampFrequency(p.Frequency)
	p.Q = ClampQ(p.Q)
	return p
}

// rendersLike reports whether p and o synthesize the same loop. Master volume
// is applied on the deck, and Q has no effect while the notch is off.
func (p Params) rendersLike(o Params) bool {
	p.Master, o.Master = 0, 0
	if p.Frequency == 0 && o.Frequency == 0 {
		p.Q, o.Q = 0, 0
	}
	return p == o
}

// volumeMap converts the channel volumes for the synthesis request.
func (p Params) volumeMap() map[noise.Channel]float64 {
	m := make(map[noise.Channel]float64, len(p.Volumes))
	for _, ch := range noise.Channels {
		m[ch] = p.Volumes[ch]
	}
	return m
}

// ClampFrequency disables the notch (returns 0) for values that cannot be
// designed at the output sample rate.
func ClampFrequency(hz float64) float64 {
	if math.IsNaN(hz) || math.IsInf(hz, 0) || hz < 0 || hz >= audio.SampleRate/2 {
		return 0
	}
	return hz
}

// ClampQ forces q into [MinQ, MaxQ]. NaN falls back to DefaultQ.
func ClampQ(q float64) float64 {
	switch {
	case math.IsNaN(q):
		return DefaultQ
	case q < MinQ:
		return MinQ
	case q > MaxQ:
		return MaxQ
	}
	return q
}
