// Package api exposes the playback controller over HTTP.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/satindergrewal/hush/internal/noise"
	"github.com/satindergrewal/hush/internal/playback"
)

// Engine is the part of playback.Controller the API drives.
type Engine interface {
	Play() error
	Stop()
	Toggle() (playback.State, error)
	State() playback.State
	Params() playback.Params
	Session() *playback.Session
	Unavailable() error
	SetChannelVolume(ch noise.Channel, v float64) error
	SetMasterVolume(v float64)
	SetTinnitusFrequency(hz float64)
	SetNotchQ(q float64)
}

// Streams are the optional network listener endpoints.
type Streams struct {
	HTTP   http.Handler // GET /stream
	WebRTC http.Handler // POST /offer
}

// NewRouter builds the HTTP handler for the control API, metrics and streams.
func NewRouter(engine Engine, streams Streams, logger *zap.Logger) http.Handler {
	h := &Handlers{engine: engine, logger: logger.With(zap.String("component", "api"))}

	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(chimw.RequestID)
	r.Use(requestLogger(h.logger))
	r.Use(chimw.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/healthz", h.Health)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Get("/status", h.Status)
		r.Post("/play", h.Play)
		r.Post("/stop", h.Stop)
		r.Post("/toggle", h.Toggle)
		r.Put("/channels/{channel}", h.SetChannel)
		r.Put("/master", h.SetMaster)
		r.Put("/frequency", h.SetFrequency)
		r.Put("/q", h.SetQ)
	})

	if streams.HTTP != nil {
		r.Method(http.MethodGet, "/stream", streams.HTTP)
	}
	if streams.WebRTC != nil {
		r.Method(http.MethodPost, "/offer", streams.WebRTC)
	}
	return r
}

// requestLogger logs one line per request. Long-lived stream responses are
// logged when they end.
func requestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.Debug("request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("took", time.Since(start)),
				zap.String("request_id", chimw.GetReqID(r.Context())),
			)
		})
	}
}
