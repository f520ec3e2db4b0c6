package audio

import (
	"context"
	"sync"
	"time"
)

// FrameSource fills a buffer with the next samples to play.
type FrameSource interface {
	ReadSamples(dst []int16) int
}

// Clock pulls 20ms frames from a source at real-time rate and publishes them
// for network listeners.
type Clock struct {
	src     FrameSource
	frameCh chan []int16

	mu      sync.RWMutex
	frames  uint64
	started time.Time
}

// NewClock creates a clock that reads from src.
func NewClock(src FrameSource) *Clock {
	return &Clock{
		src:     src,
		frameCh: make(chan []int16, 100),
	}
}

// Frames returns the channel of outgoing PCM frames (20ms each).
func (c *Clock) Frames() <-chan []int16 {
	return c.frameCh
}

// Elapsed returns how much audio the clock has produced since Run started.
func (c *Clock) Elapsed() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return time.Duration(c.frames) * FrameDuration
}

// Run starts the clock. Blocks until ctx is cancelled, then closes Frames.
func (c *Clock) Run(ctx context.Context) {
	defer close(c.frameCh)

	ticker := time.NewTicker(FrameDuration)
	defer ticker.Stop()

	c.mu.Lock()
	c.started = time.Now()
	c.frames = 0
	c.mu.Unlock()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		frame := make([]int16, FrameSamples)
		c.src.ReadSamples(frame)

		select {
		case c.frameCh <- frame:
		case <-ctx.Done():
			return
		}

		c.mu.Lock()
		c.frames++
		c.mu.Unlock()
	}
}
