package config_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ffstamp/ffstamp/internal/config"
	"github.com/ffstamp/ffstamp/internal/model"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, yml string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ffstamp.yaml")
	require.NoError(t, os.WriteFile(path, []byte(yml), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)
	require.Equal(t, ":8000", cfg.Listen)
	require.Equal(t, 2, cfg.MaxParallelJobs)
	require.Equal(t, "ffmpeg", cfg.FFmpegBinary)
	require.Equal(t, "mp4", cfg.DefaultOutputFormat)
	require.False(t, cfg.AllowGPU)
	require.True(t, cfg.History.Enabled)
	require.False(t, cfg.Retention.Enabled)
	require.Equal(t, "0 3 * * *", cfg.Retention.Cron)
	require.Equal(t, 7*24*time.Hour, cfg.Retention.MaxAge)
	require.Equal(t, filepath.Join("storage", "history.db"), cfg.History.Path)
	require.Equal(t, filepath.Join("storage", "uploads"), cfg.UploadPath())
	require.Equal(t, filepath.Join("storage", "output"), cfg.OutputPath())
	require.Equal(t, filepath.Join("storage", "tmp"), cfg.TempPath())
}

func TestLoadFromFile(t *testing.T) {
	path := writeConfig(t, `
listen: ":9000"
storage_root: /var/lib/ffstamp
max_parallel_jobs: 4
allow_gpu: true
retention:
  enabled: true
  cron: "*/10 * * * *"
  max_age: 48h
`)
	cfg, err := config.Load(path)
	require.NoError(t, err)
	require.Equal(t, ":9000", cfg.Listen)
	require.Equal(t, "/var/lib/ffstamp", cfg.StorageRoot)
	require.Equal(t, 4, cfg.MaxParallelJobs)
	require.True(t, cfg.AllowGPU)
	require.True(t, cfg.Retention.Enabled)
	require.Equal(t, 48*time.Hour, cfg.Retention.MaxAge)
	require.Equal(t, filepath.Join("/var/lib/ffstamp", "history.db"), cfg.History.Path)
}

func TestLoadMissingExplicitFileFails(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestEnvOverridesFile(t *testing.T) {
	path := writeConfig(t, "max_parallel_jobs: 4\n")
	t.Setenv("FFSTAMP_MAX_PARALLEL_JOBS", "7")
	t.Setenv("FFSTAMP_ALLOW_GPU", "true")

	cfg, err := config.Load(path)
	require.NoError(t, err)
	require.Equal(t, 7, cfg.MaxParallelJobs)
	require.True(t, cfg.AllowGPU)
}

func TestFFmpegBinaryEnvAlias(t *testing.T) {
	t.Setenv("FFMPEG_BINARY", "/opt/ffmpeg/bin/ffmpeg")

	cfg, err := config.Load("")
	require.NoError(t, err)
	require.Equal(t, "/opt/ffmpeg/bin/ffmpeg", cfg.FFmpegBinary)

	// the prefixed variable wins over the bare alias
	t.Setenv("FFSTAMP_FFMPEG_BINARY", "/usr/local/bin/ffmpeg")
	cfg, err = config.Load("")
	require.NoError(t, err)
	require.Equal(t, "/usr/local/bin/ffmpeg", cfg.FFmpegBinary)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	_, err := config.Load(writeConfig(t, "max_parallel_jobs: 0\n"))
	require.ErrorContains(t, err, "max_parallel_jobs must be at least 1")

	_, err = config.Load(writeConfig(t, `default_output_format: ""`))
	require.ErrorContains(t, err, "default_output_format cannot be empty")
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "ffstamp.yaml")
	cfg := config.Default()
	cfg.MaxParallelJobs = 6
	cfg.StorageRoot = "/srv/ffstamp"
	require.NoError(t, cfg.Save(path))

	loaded, err := config.Load(path)
	require.NoError(t, err)
	require.Equal(t, 6, loaded.MaxParallelJobs)
	require.Equal(t, "/srv/ffstamp", loaded.StorageRoot)
	require.Equal(t, 7*24*time.Hour, loaded.Retention.MaxAge, "durations survive the yaml round trip")
}

func TestPoolConfigMapping(t *testing.T) {
	cfg := config.Default()
	cfg.StorageRoot = "/srv/ffstamp"
	cfg.AllowGPU = true
	pool := cfg.PoolConfig()
	require.Equal(t, model.PoolConfig{
		MaxParallelJobs:     2,
		BinaryPath:          "ffmpeg",
		DefaultOutputFormat: "mp4",
		OutputDir:           filepath.Join("/srv/ffstamp", "output"),
		AllowGPU:            true,
	}, pool)
}

func TestEnsureDirs(t *testing.T) {
	cfg := config.Default()
	cfg.StorageRoot = filepath.Join(t.TempDir(), "storage")
	cfg.History.Path = filepath.Join(cfg.StorageRoot, "history.db")
	require.NoError(t, cfg.EnsureDirs())
	for _, dir := range []string{cfg.UploadPath(), cfg.OutputPath(), cfg.TempPath()} {
		info, err := os.Stat(dir)
		require.NoError(t, err)
		require.True(t, info.IsDir())
	}
}

func TestStoreApply(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ffstamp.yaml")
	store := config.NewStore(config.Default(), path)

	jobs := 5
	gpu := true
	updated, err := store.Apply(config.Update{MaxParallelJobs: &jobs, AllowGPU: &gpu})
	require.NoError(t, err)
	require.Equal(t, 5, updated.MaxParallelJobs)
	require.True(t, updated.AllowGPU)
	require.Equal(t, "mp4", updated.DefaultOutputFormat, "untouched fields keep their value")
	require.Equal(t, updated, store.Current())

	// the change survives a reload
	persisted, err := config.Load(path)
	require.NoError(t, err)
	require.Equal(t, 5, persisted.MaxParallelJobs)
}

func TestStoreApplyRejectsInvalid(t *testing.T) {
	store := config.NewStore(config.Default(), "")

	bad := 0
	_, err := store.Apply(config.Update{MaxParallelJobs: &bad})
	var pe *model.ParamError
	require.True(t, errors.As(err, &pe))
	require.Equal(t, "max_parallel_jobs", pe.Field)

	empty := ""
	_, err = store.Apply(config.Update{DefaultOutputFormat: &empty})
	require.True(t, errors.As(err, &pe))
	require.Equal(t, "default_output_format", pe.Field)

	require.Equal(t, 2, store.Current().MaxParallelJobs, "rejected updates change nothing")
}
