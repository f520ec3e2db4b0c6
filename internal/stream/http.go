package stream

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os/exec"
	"strconv"

	"go.uber.org/zap"

	"github.com/satindergrewal/hush/internal/audio"
	"github.com/satindergrewal/hush/internal/metrics"
)

// HTTPHandler serves a chunked MP3 audio stream via HTTP.
// Each connection spawns an FFmpeg process to encode PCM -> MP3 in real-time.
type HTTPHandler struct {
	broadcaster *Broadcaster
	logger      *zap.Logger
	ffmpeg      string
}

// NewHTTPHandler creates an HTTP stream handler.
func NewHTTPHandler(b *Broadcaster, logger *zap.Logger) *HTTPHandler {
	return &HTTPHandler{
		broadcaster: b,
		logger:      logger.With(zap.String("component", "http-stream")),
		ffmpeg:      "ffmpeg",
	}
}

// ffmpegArgs returns the encoder command line: PCM stdin -> MP3 stdout.
func ffmpegArgs() []string {
	return []string{
		"-f", "s16le",
		"-ar", strconv.Itoa(audio.SampleRate),
		"-ac", strconv.Itoa(audio.Channels),
		"-i", "pipe:0",
		"-codec:a", "libmp3lame",
		"-b:a", "128k",
		"-f", "mp3",
		"-fflags", "nobuffer",
		"-flush_packets", "1",
		"-loglevel", "error",
		"pipe:1",
	}
}

func (h *HTTPHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	cmd := exec.CommandContext(ctx, h.ffmpeg, ffmpegArgs()...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		h.logger.Error("stdin pipe", zap.Error(err))
		http.Error(w, "encoder unavailable", http.StatusServiceUnavailable)
		return
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		h.logger.Error("stdout pipe", zap.Error(err))
		http.Error(w, "encoder unavailable", http.StatusServiceUnavailable)
		return
	}

	if err := cmd.Start(); err != nil {
		h.logger.Error("ffmpeg start", zap.Error(err))
		metrics.EncodeErrorsTotal.WithLabelValues("http").Inc()
		http.Error(w, "encoder unavailable", http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "audio/mpeg")
	w.Header().Set("Cache-Control", "no-cache, no-store")
	w.Header().Set("Connection", "close")
	w.Header().Set("ICY-Name", "hush")

	listener := h.broadcaster.Subscribe()
	defer h.broadcaster.Unsubscribe(listener)

	gauge := metrics.Listeners.WithLabelValues("http")
	gauge.Inc()
	defer gauge.Dec()

	h.logger.Info("listener connected", zap.Int("listeners", h.broadcaster.ListenerCount()))
	defer func() {
		h.logger.Info("listener disconnected", zap.Uint64("dropped_frames", listener.Dropped()))
	}()

	// Feed PCM frames to FFmpeg
	go func() {
		defer stdin.Close()
		buf := make([]byte, audio.FrameBytes)
		for {
			select {
			case <-ctx.Done():
				return
			case <-listener.Done():
				return
			case frame, ok := <-listener.C:
				if !ok {
					return
				}
				if len(frame)*2 > len(buf) {
					buf = make([]byte, len(frame)*2)
				}
				if _, err := stdin.Write(audio.SamplesToBytesInto(frame, buf)); err != nil {
					return
				}
			}
		}
	}()

	// Read MP3 from FFmpeg and write to HTTP response
	buf := make([]byte, 4096)
	for {
		n, err := stdout.Read(buf)
		if n > 0 {
			if _, writeErr := w.Write(buf[:n]); writeErr != nil {
				break
			}
			flusher.Flush()
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && ctx.Err() == nil {
				h.logger.Warn("ffmpeg read", zap.Error(err))
				metrics.EncodeErrorsTotal.WithLabelValues("http").Inc()
			}
			break
		}
	}

	cancel()
	_ = cmd.Wait()
}
