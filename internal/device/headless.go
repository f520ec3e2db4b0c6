//go:build headless

// Package device plays audio on the host's default output device. This build
// has no audio backend and discards everything.
package device

import (
	"errors"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"
)

var ErrClosed = errors.New("device output closed")

type Output struct {
	logger *zap.Logger

	mu      sync.Mutex
	playing bool
	closed  bool
}

func New(logger *zap.Logger, bufferSize time.Duration) *Output {
	return &Output{logger: logger.With(zap.String("component", "device"))}
}

func (o *Output) Start(src io.Reader) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return ErrClosed
	}
	if !o.playing {
		o.logger.Warn("headless build: audio is discarded")
	}
	o.playing = true
	return nil
}

func (o *Output) Playing() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.playing
}

func (o *Output) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.closed = true
	o.playing = false
	return nil
}
