package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Gauges
var (
	PlaybackState = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "hush_playback_playing",
		Help: "1 while the controller is Playing, 0 while Idle",
	})
	MasterVolume = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "hush_master_volume",
		Help: "Current master volume in [0,1]",
	})
	RegenerationsInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "hush_regenerations_in_flight",
		Help: "Number of synthesis runs currently executing",
	})
	Listeners = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "hush_stream_listeners",
		Help: "Connected network listeners by transport",
	}, []string{"transport"})
)

// Counters
var (
	RegenerationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hush_regenerations_total",
		Help: "Synthesis runs by outcome (installed, superseded, cancelled, failed)",
	}, []string{"outcome"})
	ParamUpdatesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hush_param_updates_total",
		Help: "Parameter changes by parameter name",
	}, []string{"param"})
	DeviceFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hush_device_failures_total",
		Help: "Failed attempts to start audio output",
	})
	FramesDroppedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hush_stream_frames_dropped_total",
		Help: "Frames dropped for listeners that fell behind",
	})
	EncodeErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hush_stream_encode_errors_total",
		Help: "Stream encoding failures by transport",
	}, []string{"transport"})
	SettingsWriteErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hush_settings_write_errors_total",
		Help: "Failed writes of the settings file",
	})
)

// Histograms
var (
	SynthesisDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "hush_synthesis_duration_seconds",
		Help:    "Wall time of completed synthesis runs",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 4, 8, 16, 32},
	})
)
