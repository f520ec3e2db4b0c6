package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/satindergrewal/hush/internal/api"
	"github.com/satindergrewal/hush/internal/audio"
	"github.com/satindergrewal/hush/internal/config"
	"github.com/satindergrewal/hush/internal/device"
	"github.com/satindergrewal/hush/internal/playback"
	"github.com/satindergrewal/hush/internal/settings"
	"github.com/satindergrewal/hush/internal/stream"
)

func newLogger(dev bool) *zap.Logger {
	var (
		logger *zap.Logger
		err    error
	)
	if dev {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		panic(fmt.Sprintf("init logger: %v", err))
	}
	return logger
}

func main() {
	cfg := config.Load()

	logger := newLogger(cfg.LogDev)
	defer logger.Sync()

	if err := cfg.Validate(); err != nil {
		logger.Fatal("invalid configuration", zap.Error(err))
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger.Info("hush starting up",
		zap.String("output", cfg.Output),
		zap.Duration("loop", cfg.LoopDuration),
		zap.Duration("overlap", cfg.LoopOverlap),
		zap.Int("workers", cfg.Workers),
	)

	// Saved parameters
	store := settings.NewStore(cfg.SettingsPath, logger)
	params, err := store.Load()
	if err != nil {
		logger.Warn("settings unreadable, using defaults", zap.Error(err))
	}

	deck := audio.NewDeck(cfg.FadeOut, cfg.FadeIn)

	// Audio output: the sound card pulls from the deck, or the real-time clock
	// does and fans frames out to network listeners.
	var (
		output  playback.Output
		streams api.Streams
		webrtc  *stream.WebRTCHandler
	)
	switch cfg.Output {
	case config.OutputDevice:
		output = device.New(logger, cfg.DeviceBuffer)
	case config.OutputStream:
		clock := audio.NewClock(deck)
		go clock.Run(ctx)

		broadcaster := stream.NewBroadcaster()
		go broadcaster.Run(ctx, clock.Frames())

		webrtc = stream.NewWebRTCHandler(broadcaster, logger)
		streams = api.Streams{
			HTTP:   stream.NewHTTPHandler(broadcaster, logger),
			WebRTC: webrtc,
		}
	}

	ctrl := playback.New(logger, deck, output, params, playback.Options{
		Duration: cfg.LoopDuration,
		Overlap:  cfg.LoopOverlap,
		Debounce: cfg.Debounce,
		FadeOut:  cfg.FadeOut,
		Seed:     cfg.Seed,
		Workers:  cfg.Workers,
	})
	ctrl.OnParamsChange(store.Persist)
	ctrl.OnFailure(func(err error) {
		logger.Error("audio playback unavailable; control API stays up", zap.Error(err))
	})
	ctrl.OnStateChange(func(s playback.State) {
		logger.Info("playback state", zap.Stringer("state", s))
	})

	if cfg.Autoplay {
		if err := ctrl.Play(); err != nil {
			logger.Warn("autoplay failed", zap.Error(err))
		}
	}

	addr := fmt.Sprintf(":%d", cfg.Port)
	server := &http.Server{
		Addr:              addr,
		Handler:           api.NewRouter(ctrl, streams, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		<-ctx.Done()
		logger.Info("shutting down")

		if webrtc != nil {
			webrtc.Close()
		}
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			// Stream listeners hold their connections open; cut them.
			server.Close()
		}
		if err := ctrl.Close(); err != nil {
			logger.Warn("close playback", zap.Error(err))
		}
	}()

	logger.Info("hush listening", zap.String("addr", addr))
	if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal("HTTP server error", zap.Error(err))
	}
	<-done
}
