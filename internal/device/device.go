//go:build !headless

// Package device plays audio on the host's default output device.
package device

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/ebitengine/oto/v3"
	"go.uber.org/zap"

	"github.com/satindergrewal/hush/internal/audio"
)

// ErrClosed is returned by Start after Close.
var ErrClosed = errors.New("device output closed")

// Output feeds a PCM source to the sound card as mono s16le at audio.SampleRate.
// The oto context is created on the first Start and lives until the process exits;
// oto allows only one per process.
type Output struct {
	logger     *zap.Logger
	bufferSize time.Duration

	mu      sync.Mutex
	ctx     *oto.Context
	player  *oto.Player
	openErr error
	closed  bool
}

// New creates an output with the given device buffer length.
func New(logger *zap.Logger, bufferSize time.Duration) *Output {
	return &Output{
		logger:     logger.With(zap.String("component", "device")),
		bufferSize: bufferSize,
	}
}

// Start opens the device if needed and begins pulling samples from src.
// Calling Start while already playing is a no-op.
func (o *Output) Start(src io.Reader) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		return ErrClosed
	}
	if o.player != nil {
		return nil
	}
	if err := o.open(); err != nil {
		return err
	}

	o.player = o.ctx.NewPlayer(src)
	o.player.Play()
	if err := o.player.Err(); err != nil {
		o.player = nil
		return fmt.Errorf("start player: %w", err)
	}
	o.logger.Info("audio device started",
		zap.Int("sample_rate", audio.SampleRate),
		zap.Duration("buffer", o.bufferSize),
	)
	return nil
}

// open creates the oto context once. A failure is remembered so later
// attempts report the same cause without retrying the driver.
func (o *Output) open() error {
	if o.ctx != nil {
		return nil
	}
	if o.openErr != nil {
		return o.openErr
	}
	ctx, ready, err := oto.NewContext(&oto.NewContextOptions{
		SampleRate:   audio.SampleRate,
		ChannelCount: audio.Channels,
		Format:       oto.FormatSignedInt16LE,
		BufferSize:   o.bufferSize,
	})
	if err != nil {
		o.openErr = fmt.Errorf("open audio device: %w", err)
		return o.openErr
	}
	<-ready
	o.ctx = ctx
	return nil
}

// Playing reports whether the device is pulling samples.
func (o *Output) Playing() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.player != nil && o.player.IsPlaying()
}

// Close stops playback. The output cannot be restarted.
func (o *Output) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.closed = true
	if o.player == nil {
		return nil
	}
	err := o.player.Close()
	o.player = nil
	if o.ctx != nil {
		if serr := o.ctx.Suspend(); serr != nil && err == nil {
			err = serr
		}
	}
	return err
}
