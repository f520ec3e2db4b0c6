package audio

import (
	"math"
	"sync/atomic"
	"time"
)

// cue is a pending buffer change. A nil pcm releases the current buffer.
type cue struct {
	pcm []int16
}

// Deck loops one PCM buffer and swaps buffers without clicks: the outgoing
// buffer fades to silence before the incoming one fades in from position 0.
//
// Cue, Release and SetVolume may be called from any goroutine and never block.
// ReadSamples and Read must be called from a single playback goroutine, which
// owns the play position and gain ramp.
type Deck struct {
	outStep float64
	inStep  float64

	cmd    atomic.Pointer[cue]
	volume atomic.Uint64 // float64 bits
	active atomic.Bool
	loops  atomic.Uint64

	// Owned by the playback goroutine.
	pcm     []int16
	pos     int
	gain    float64
	pending *cue
	scratch []int16
}

// NewDeck creates a deck with the given fade lengths and a master volume of 1.
func NewDeck(fadeOut, fadeIn time.Duration) *Deck {
	d := &Deck{
		outStep: rampStep(fadeOut),
		inStep:  rampStep(fadeIn),
	}
	d.SetVolume(1)
	return d
}

func rampStep(d time.Duration) float64 {
	n := int(int64(d) * SampleRate / int64(time.Second))
	if n < 1 {
		return 1
	}
	return 1 / float64(n)
}

// Cue schedules pcm to replace whatever is playing. The deck keeps a reference
// to pcm; callers must not modify it afterwards.
func (d *Deck) Cue(pcm []int16) {
	d.cmd.Store(&cue{pcm: pcm})
}

// Release fades out the current buffer and then outputs silence.
func (d *Deck) Release() {
	d.cmd.Store(&cue{})
}

// SetVolume sets the master gain, clamped to [0,1]. It applies from the next read.
func (d *Deck) SetVolume(v float64) {
	switch {
	case math.IsNaN(v), v < 0:
		v = 0
	case v > 1:
		v = 1
	}
	d.volume.Store(math.Float64bits(v))
}

// Volume returns the master gain.
func (d *Deck) Volume() float64 {
	return math.Float64frombits(d.volume.Load())
}

// Active reports whether the playback goroutine currently holds a buffer.
func (d *Deck) Active() bool {
	return d.active.Load()
}

// Loops returns how many times a buffer has wrapped back to its start.
func (d *Deck) Loops() uint64 {
	return d.loops.Load()
}

// ReadSamples fills dst with the next samples and always returns len(dst).
func (d *Deck) ReadSamples(dst []int16) int {
	if c := d.cmd.Swap(nil); c != nil {
		d.pending = c
	}
	vol := d.Volume()

	for i := range dst {
		if d.pending != nil {
			if d.pcm == nil || d.gain <= 0 {
				d.switchTo(d.pending)
			} else {
				d.gain = math.Max(0, d.gain-d.outStep)
			}
		} else if d.pcm != nil && d.gain < 1 {
			d.gain = math.Min(1, d.gain+d.inStep)
		}

		if d.pcm == nil {
			dst[i] = 0
			continue
		}
		dst[i] = int16(float64(d.pcm[d.pos]) * Smoothstep(d.gain) * vol)
		d.pos++
		if d.pos == len(d.pcm) {
			d.pos = 0
			d.loops.Add(1)
		}
	}

	d.active.Store(d.pcm != nil)
	return len(dst)
}

func (d *Deck) switchTo(c *cue) {
	d.pending = nil
	d.pos = 0
	d.gain = 0
	if d.inStep >= 1 {
		d.gain = 1
	}
	d.pcm = nil
	if len(c.pcm) > 0 {
		d.pcm = c.pcm
	}
}

// Read implements io.Reader with little-endian 16-bit samples for an audio device.
func (d *Deck) Read(p []byte) (int, error) {
	n := len(p) / 2
	if cap(d.scratch) < n {
		d.scratch = make([]int16, n)
	}
	samples := d.scratch[:n]
	d.ReadSamples(samples)
	SamplesToBytesInto(samples, p)
	if len(p)%2 == 1 {
		p[len(p)-1] = 0
	}
	return len(p), nil
}
