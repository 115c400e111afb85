package config

import (
	"log/slog"
	"sync"

	"github.com/ffstamp/ffstamp/internal/model"
)

// Update is a partial settings change. Nil fields keep their current value.
type Update struct {
	MaxParallelJobs     *int    `json:"max_parallel_jobs"`
	AllowGPU            *bool   `json:"allow_gpu"`
	DefaultOutputFormat *string `json:"default_output_format"`
	FFmpegBinary        *string `json:"ffmpeg_binary"`
}

// Store serializes runtime settings changes and persists them back to the
// config file, so a restart keeps what the client configured.
type Store struct {
	mx   sync.Mutex
	path string
	cfg  Config
}

// NewStore wraps the loaded configuration. An empty path disables
// persistence, changes then live for the process only.
func NewStore(cfg Config, path string) *Store {
	return &Store{path: path, cfg: cfg}
}

// Current returns the configuration as of now.
func (s *Store) Current() Config {
	s.mx.Lock()
	defer s.mx.Unlock()
	return s.cfg
}

// Apply validates and applies a partial update, persisting the result.
// Persistence failures are logged, never surfaced: the runtime change wins.
func (s *Store) Apply(u Update) (Config, error) {
	if u.MaxParallelJobs != nil && *u.MaxParallelJobs < 1 {
		return Config{}, &model.ParamError{Field: "max_parallel_jobs", Reason: "must be >= 1"}
	}
	if u.DefaultOutputFormat != nil && *u.DefaultOutputFormat == "" {
		return Config{}, &model.ParamError{Field: "default_output_format", Reason: "cannot be empty"}
	}
	if u.FFmpegBinary != nil && *u.FFmpegBinary == "" {
		return Config{}, &model.ParamError{Field: "ffmpeg_binary", Reason: "cannot be empty"}
	}

	s.mx.Lock()
	defer s.mx.Unlock()
	if u.MaxParallelJobs != nil {
		s.cfg.MaxParallelJobs = *u.MaxParallelJobs
	}
	if u.AllowGPU != nil {
		s.cfg.AllowGPU = *u.AllowGPU
	}
	if u.DefaultOutputFormat != nil {
		s.cfg.DefaultOutputFormat = *u.DefaultOutputFormat
	}
	if u.FFmpegBinary != nil {
		s.cfg.FFmpegBinary = *u.FFmpegBinary
	}

	if s.path != "" {
		if err := s.cfg.Save(s.path); err != nil {
			slog.Error("persisting settings failed", "path", s.path, "error", err)
		}
	}
	return s.cfg, nil
}
