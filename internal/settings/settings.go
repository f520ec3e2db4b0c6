// Package settings persists synthesis parameters between runs as a JSON file.
package settings

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"github.com/satindergrewal/hush/internal/metrics"
	"github.com/satindergrewal/hush/internal/noise"
	"github.com/satindergrewal/hush/internal/playback"
)

// file is the on-disk layout. Keys missing from the file keep their defaults.
type file struct {
	WhiteVol     float64 `json:"white_vol"`
	PinkVol      float64 `json:"pink_vol"`
	BrownVol     float64 `json:"brown_vol"`
	WindVol      float64 `json:"wind_vol"`
	OceanVol     float64 `json:"ocean_vol"`
	WaterfallVol float64 `json:"waterfall_vol"`
	MasterVol    float64 `json:"master_vol"`
	TinnitusFreq float64 `json:"tinnitus_freq"`
	NotchQ       float64 `json:"notch_q"`
}

func fromParams(p playback.Params) file {
	return file{
		WhiteVol:     p.Volumes[noise.White],
		PinkVol:      p.Volumes[noise.Pink],
		BrownVol:     p.Volumes[noise.Brown],
		WindVol:      p.Volumes[noise.Wind],
		OceanVol:     p.Volumes[noise.Ocean],
		WaterfallVol: p.Volumes[noise.Waterfall],
		MasterVol:    p.Master,
		TinnitusFreq: p.Frequency,
		NotchQ:       p.Q,
	}
}

func (f file) params() playback.Params {
	var p playback.Params
	p.Volumes[noise.White] = f.WhiteVol
	p.Volumes[noise.Pink] = f.PinkVol
	p.Volumes[noise.Brown] = f.BrownVol
	p.Volumes[noise.Wind] = f.WindVol
	p.Volumes[noise.Ocean] = f.OceanVol
	p.Volumes[noise.Waterfall] = f.WaterfallVol
	p.Master = f.MasterVol
	p.Frequency = f.TinnitusFreq
	p.Q = f.NotchQ
	return p.Clamped()
}

// Store reads and writes the settings file.
type Store struct {
	path   string
	logger *zap.Logger
	mu     sync.Mutex
}

// NewStore creates a store for the file at path.
func NewStore(path string, logger *zap.Logger) *Store {
	return &Store{
		path:   path,
		logger: logger.With(zap.String("component", "settings"), zap.String("path", path)),
	}
}

// Path returns the settings file location.
func (s *Store) Path() string {
	return s.path
}

// Load returns the saved parameters. A missing file yields the defaults with a
// nil error; an unreadable or corrupt file yields the defaults and the error.
func (s *Store) Load() (playback.Params, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f := fromParams(playback.DefaultParams())
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return f.params(), nil
	}
	if err != nil {
		return f.params(), fmt.Errorf("read settings: %w", err)
	}
	if err := json.Unmarshal(data, &f); err != nil {
		return playback.DefaultParams(), fmt.Errorf("parse settings %s: %w", s.path, err)
	}
	return f.params(), nil
}

// Save writes p atomically: a temp file in the same directory renamed over
// the old one, so a crash never leaves a truncated file.
func (s *Store) Save(p playback.Params) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.MarshalIndent(fromParams(p), "", "  ")
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create settings dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".settings-*.json")
	if err != nil {
		return fmt.Errorf("create temp settings: %w", err)
	}
	defer os.Remove(tmp.Name()) // no-op after a successful rename

	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		return fmt.Errorf("write settings: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync settings: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close settings: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("replace settings: %w", err)
	}
	return nil
}

// Persist is an OnParamsChange observer that saves every change and logs
// failures instead of returning them.
func (s *Store) Persist(p playback.Params) {
	if err := s.Save(p); err != nil {
		metrics.SettingsWriteErrorsTotal.Inc()
		s.logger.Warn("save settings", zap.Error(err))
	}
}
