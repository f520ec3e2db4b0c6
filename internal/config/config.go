package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"
)

// Output modes for HUSH_OUTPUT.
const (
	OutputDevice = "device" // play on the local sound card
	OutputStream = "stream" // serve /stream and /offer to network listeners
	OutputNone   = "none"   // synthesize only
)

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

// Config holds all runtime configuration, loaded from environment variables.
type Config struct {
	// Server
	Port int

	// Output
	Output       string        // device, stream or none
	DeviceBuffer time.Duration // sound card buffer length

	// Loop synthesis
	LoopDuration time.Duration // loop body length
	LoopOverlap  time.Duration // crossfade at the loop seam
	Seed         uint64        // 0 = random seed per synthesis run
	Workers      int           // channels synthesized in parallel

	// Playback behavior
	FadeOut  time.Duration // old loop fade on stop and swap
	FadeIn   time.Duration // new loop fade after a swap
	Debounce time.Duration // quiet period before parameter changes regenerate
	Autoplay bool          // start playing at launch

	SettingsPath string
	LogDev       bool // human-readable development logging
}

// Load reads configuration from environment variables with sane defaults.
func Load() Config {
	return Config{
		Port: envInt("HUSH_PORT", 8080),

		Output:       strings.ToLower(envStr("HUSH_OUTPUT", OutputDevice)),
		DeviceBuffer: envDuration("HUSH_DEVICE_BUFFER", 100*time.Millisecond),

		LoopDuration: envDuration("HUSH_DURATION", 60*time.Second),
		LoopOverlap:  envDuration("HUSH_OVERLAP", 3*time.Second),
		Seed:         envUint("HUSH_SEED", 0),
		Workers:      envInt("HUSH_WORKERS", runtime.NumCPU()),

		FadeOut:  envDuration("HUSH_FADE_OUT", 100*time.Millisecond),
		FadeIn:   envDuration("HUSH_FADE_IN", 10*time.Millisecond),
		Debounce: envDuration("HUSH_DEBOUNCE", 150*time.Millisecond),
		Autoplay: envBool("HUSH_AUTOPLAY", false),

		SettingsPath: envStr("HUSH_SETTINGS", defaultSettingsPath()),
		LogDev:       envBool("HUSH_LOG_DEV", false),
	}
}

// Validate reports every setting that cannot work.
func (c Config) Validate() error {
	var errs []error
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("HUSH_PORT %d out of range", c.Port))
	}
	switch c.Output {
	case OutputDevice, OutputStream, OutputNone:
	default:
		errs = append(errs, fmt.Errorf("HUSH_OUTPUT %q: want %s, %s or %s", c.Output, OutputDevice, OutputStream, OutputNone))
	}
	if c.LoopDuration <= 0 {
		errs = append(errs, fmt.Errorf("HUSH_DURATION %v must be positive", c.LoopDuration))
	}
	if c.LoopOverlap <= 0 || c.LoopOverlap > c.LoopDuration {
		errs = append(errs, fmt.Errorf("HUSH_OVERLAP %v must be in (0, %v]", c.LoopOverlap, c.LoopDuration))
	}
	if c.Workers <= 0 {
		errs = append(errs, fmt.Errorf("HUSH_WORKERS %d must be positive", c.Workers))
	}
	if c.FadeOut < 0 || c.FadeIn < 0 || c.Debounce < 0 {
		errs = append(errs, errors.New("fade and debounce durations must not be negative"))
	}
	if c.DeviceBuffer <= 0 {
		errs = append(errs, fmt.Errorf("HUSH_DEVICE_BUFFER %v must be positive", c.DeviceBuffer))
	}
	if c.SettingsPath == "" {
		errs = append(errs, errors.New("HUSH_SETTINGS is empty and no home directory was found"))
	}
	return errors.Join(errs...)
}

func defaultSettingsPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "hush", "settings.json")
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envUint(key string, fallback uint64) uint64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			return n
		}
	}
	return fallback
}

// envDuration accepts Go durations ("150ms") or plain seconds ("60").
func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if s, err := strconv.ParseFloat(v, 64); err == nil {
		return time.Duration(s * float64(time.Second))
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}
