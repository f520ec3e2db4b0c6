// Package synth runs the full synthesis pipeline for one parameter snapshot:
// noise generation, texture shaping, mixing, notch filtering and loop building.
package synth

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"runtime"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/satindergrewal/hush/internal/dsp"
	"github.com/satindergrewal/hush/internal/loop"
	"github.com/satindergrewal/hush/internal/mix"
	"github.com/satindergrewal/hush/internal/noise"
)

// Request describes one synthesis run.
type Request struct {
	Volumes    map[noise.Channel]float64
	NotchHz    float64 // 0 disables the notch
	NotchQ     float64
	Duration   time.Duration // loop body
	Overlap    time.Duration // crossfade source beyond the body
	SampleRate int
	Seed       uint64
	Workers    int // concurrent channel syntheses; <= 0 means GOMAXPROCS
}

// Renderer runs synthesis requests.
type Renderer struct {
	logger *zap.Logger
}

// NewRenderer creates a renderer that logs through logger.
func NewRenderer(logger *zap.Logger) *Renderer {
	return &Renderer{logger: logger.With(zap.String("component", "synth"))}
}

// Render produces a loop for req. It returns ctx.Err() if ctx is cancelled
// before the loop is complete; partial buffers are dropped.
func (r *Renderer) Render(ctx context.Context, req Request) (*loop.Loop, error) {
	if req.SampleRate <= 0 {
		return nil, fmt.Errorf("render: sample rate %d", req.SampleRate)
	}
	n := loop.Samples(req.Duration+req.Overlap, req.SampleRate)

	tracks, err := r.synthesizeChannels(ctx, req, n)
	if err != nil {
		return nil, err
	}

	mixed, err := mix.Mix(n, tracks)
	if err != nil {
		return nil, fmt.Errorf("render: %w", err)
	}
	// Channel buffers are large; let them go before filtering allocates.
	clear(tracks)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	filtered, err := dsp.ApplyNotch(mixed, req.NotchHz, req.NotchQ, req.SampleRate)
	if err != nil {
		// Params are validated upstream; an invalid notch here only loses the notch.
		r.logger.Warn("notch skipped",
			zap.Float64("hz", req.NotchHz),
			zap.Float64("q", req.NotchQ),
			zap.Error(err),
		)
		filtered = mixed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	l, err := loop.Build(filtered, req.Duration, req.Overlap, req.SampleRate)
	if err != nil {
		return nil, fmt.Errorf("render: %w", err)
	}
	return l, nil
}

func (r *Renderer) synthesizeChannels(ctx context.Context, req Request, n int) (map[noise.Channel]mix.Track, error) {
	workers := req.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	var mu sync.Mutex
	tracks := make(map[noise.Channel]mix.Track, len(noise.Channels))

	for _, ch := range noise.Channels {
		vol := mix.ClampVolume(req.Volumes[ch])
		if vol == 0 {
			continue
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			sig, err := noise.Synthesize(ch, ChannelRNG(req.Seed, ch), n, req.SampleRate)
			if err != nil {
				return fmt.Errorf("synthesize %v: %w", ch, err)
			}
			mu.Lock()
			tracks[ch] = mix.Track{Signal: sig, Volume: vol}
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, ctx.Err()
		}
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return tracks, nil
}

// ChannelRNG returns the random source for one channel of a run. Each channel
// has its own stream so results do not depend on scheduling order.
func ChannelRNG(seed uint64, ch noise.Channel) *rand.Rand {
	return rand.New(rand.NewPCG(seed, uint64(ch)+1))
}
