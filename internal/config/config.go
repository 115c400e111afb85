// Package config loads and persists the service configuration: defaults,
// an optional ffstamp.yaml and FFSTAMP_* environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/ffstamp/ffstamp/internal/model"
)

const (
	envPrefix = "ffstamp"
	fileName  = "ffstamp.yaml"

	uploadDir = "uploads"
	outputDir = "output"
	tempDir   = "tmp"
)

type Config struct {
	Listen              string          `mapstructure:"listen" yaml:"listen"`
	StorageRoot         string          `mapstructure:"storage_root" yaml:"storage_root"`
	DefaultOutputFormat string          `mapstructure:"default_output_format" yaml:"default_output_format"`
	MaxParallelJobs     int             `mapstructure:"max_parallel_jobs" yaml:"max_parallel_jobs"`
	FFmpegBinary        string          `mapstructure:"ffmpeg_binary" yaml:"ffmpeg_binary"`
	AllowGPU            bool            `mapstructure:"allow_gpu" yaml:"allow_gpu"`
	Verbose             bool            `mapstructure:"verbose" yaml:"verbose"`
	History             HistoryConfig   `mapstructure:"history" yaml:"history"`
	Retention           RetentionConfig `mapstructure:"retention" yaml:"retention"`
}

type HistoryConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Path    string `mapstructure:"path" yaml:"path"`
}

type RetentionConfig struct {
	Enabled bool          `mapstructure:"enabled" yaml:"enabled"`
	Cron    string        `mapstructure:"cron" yaml:"cron"`
	MaxAge  time.Duration `mapstructure:"max_age" yaml:"max_age"`
}

// MarshalYAML keeps max_age in the duration form Load accepts, instead of
// raw nanoseconds.
func (r RetentionConfig) MarshalYAML() (any, error) {
	return struct {
		Enabled bool   `yaml:"enabled"`
		Cron    string `yaml:"cron"`
		MaxAge  string `yaml:"max_age"`
	}{r.Enabled, r.Cron, r.MaxAge.String()}, nil
}

func Default() Config {
	return Config{
		Listen:              ":8000",
		StorageRoot:         "storage",
		DefaultOutputFormat: "mp4",
		MaxParallelJobs:     2,
		FFmpegBinary:        "ffmpeg",
		History: HistoryConfig{
			Enabled: true,
		},
		Retention: RetentionConfig{
			Cron:   "0 3 * * *",
			MaxAge: 7 * 24 * time.Hour,
		},
	}
}

// Load reads the configuration. An explicit path must exist; otherwise
// ffstamp.yaml is searched in the user config directory and the working
// directory, and a missing file just means defaults plus environment.
// FFMPEG_BINARY is honored next to FFSTAMP_FFMPEG_BINARY.
func Load(path string) (Config, error) {
	v := viper.New()

	def := Default()
	v.SetDefault("listen", def.Listen)
	v.SetDefault("storage_root", def.StorageRoot)
	v.SetDefault("default_output_format", def.DefaultOutputFormat)
	v.SetDefault("max_parallel_jobs", def.MaxParallelJobs)
	v.SetDefault("ffmpeg_binary", def.FFmpegBinary)
	v.SetDefault("allow_gpu", def.AllowGPU)
	v.SetDefault("verbose", def.Verbose)
	v.SetDefault("history.enabled", def.History.Enabled)
	v.SetDefault("history.path", def.History.Path)
	v.SetDefault("retention.enabled", def.Retention.Enabled)
	v.SetDefault("retention.cron", def.Retention.Cron)
	v.SetDefault("retention.max_age", def.Retention.MaxAge)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv("ffmpeg_binary", "FFSTAMP_FFMPEG_BINARY", "FFMPEG_BINARY"); err != nil {
		return Config{}, err
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("reading config %s: %w", path, err)
		}
	} else {
		v.SetConfigName(strings.TrimSuffix(fileName, ".yaml"))
		v.SetConfigType("yaml")
		if d, err := os.UserConfigDir(); err == nil {
			v.AddConfigPath(filepath.Join(d, "ffstamp"))
		}
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return Config{}, fmt.Errorf("reading config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("parsing config: %w", err)
	}
	if cfg.History.Path == "" {
		cfg.History.Path = filepath.Join(cfg.StorageRoot, "history.db")
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.MaxParallelJobs < 1 {
		return errors.New("max_parallel_jobs must be at least 1")
	}
	if c.DefaultOutputFormat == "" {
		return errors.New("default_output_format cannot be empty")
	}
	if c.FFmpegBinary == "" {
		return errors.New("ffmpeg_binary cannot be empty")
	}
	if c.Retention.Enabled && c.Retention.MaxAge <= 0 {
		return errors.New("retention.max_age must be positive when retention is enabled")
	}
	return nil
}

func (c Config) UploadPath() string {
	return filepath.Join(c.StorageRoot, uploadDir)
}

func (c Config) OutputPath() string {
	return filepath.Join(c.StorageRoot, outputDir)
}

func (c Config) TempPath() string {
	return filepath.Join(c.StorageRoot, tempDir)
}

// PoolConfig is the queue-facing slice of the configuration.
func (c Config) PoolConfig() model.PoolConfig {
	return model.PoolConfig{
		MaxParallelJobs:     c.MaxParallelJobs,
		BinaryPath:          c.FFmpegBinary,
		DefaultOutputFormat: c.DefaultOutputFormat,
		OutputDir:           c.OutputPath(),
		AllowGPU:            c.AllowGPU,
	}
}

// EnsureDirs creates the storage tree the service writes into.
func (c Config) EnsureDirs() error {
	for _, dir := range []string{c.UploadPath(), c.OutputPath(), c.TempPath()} {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("creating %s: %w", dir, err)
		}
	}
	if c.History.Enabled && c.History.Path != "" {
		if err := os.MkdirAll(filepath.Dir(c.History.Path), 0o750); err != nil {
			return fmt.Errorf("creating %s: %w", filepath.Dir(c.History.Path), err)
		}
	}
	return nil
}

// Save writes the configuration as YAML, creating parent directories.
func (c Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("creating directory %s: %w", filepath.Dir(path), err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating file %s: %w", path, err)
	}
	defer func() {
		_ = f.Close()
	}()
	enc := yaml.NewEncoder(f)
	if err := enc.Encode(c); err != nil {
		return fmt.Errorf("storing configuration: %w", err)
	}
	return enc.Close()
}

// DefaultPath is where Save lands when no config file was loaded.
func DefaultPath() string {
	d, err := os.UserConfigDir()
	if err != nil {
		return fileName
	}
	return filepath.Join(d, "ffstamp", fileName)
}
