package retention_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ffstamp/ffstamp/internal/retention"
)

type prunerFunc func(ctx context.Context, cutoff time.Time) (int64, error)

func (f prunerFunc) PruneOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	return f(ctx, cutoff)
}

func writeAged(t *testing.T, dir, name string, mtime time.Time) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o750))
	require.NoError(t, os.WriteFile(path, []byte(name), 0o600))
	require.NoError(t, os.Chtimes(path, mtime, mtime))
	return path
}

func TestParseCron(t *testing.T) {
	cases := []struct {
		scenario string
		given    string
		wantErr  bool
	}{
		{"five_fields", "0 3 * * *", false},
		{"every_15_minutes", "*/15 * * * *", false},
		{"macro_daily", "@daily", false},
		{"macro_every", "@every 12h", false},
		{"six_fields", "0 0 3 * * *", true},
		{"empty", "", true},
		{"minute_out_of_range", "61 * * * *", true},
	}

	for _, tc := range cases {
		t.Run(tc.scenario, func(t *testing.T) {
			err := retention.ParseCron(tc.given)
			if tc.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestNewRejectsBadConfig(t *testing.T) {
	t.Parallel()

	_, err := retention.New(t.Context(), retention.Config{Cron: "0 3 * * *"}, nil)
	require.ErrorContains(t, err, "max_age")

	_, err = retention.New(t.Context(), retention.Config{Cron: "not a cron", MaxAge: time.Hour}, nil)
	require.ErrorContains(t, err, "parsing retention.cron")
}

func TestSweepPrunesHistoryAndFiles(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	now := time.Date(2026, 2, 1, 3, 0, 0, 0, time.UTC)
	maxAge := 7 * 24 * time.Hour

	stale := writeAged(t, dir, "input_a.mp4", now.Add(-8*24*time.Hour))
	fresh := writeAged(t, dir, "input_b.mp4", now.Add(-time.Hour))

	var gotCutoff time.Time
	store := prunerFunc(func(_ context.Context, cutoff time.Time) (int64, error) {
		gotCutoff = cutoff
		return 3, nil
	})

	j, err := retention.New(t.Context(), retention.Config{
		Cron:   "0 3 * * *",
		MaxAge: maxAge,
		Dirs:   []string{dir},
	}, store)
	require.NoError(t, err)
	j.WithNow(func() time.Time { return now })

	j.Sweep(t.Context())

	require.Equal(t, now.Add(-maxAge), gotCutoff)
	require.NoFileExists(t, stale)
	require.FileExists(t, fresh)
}

func TestSweepWithoutStore(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	now := time.Now()
	stale := writeAged(t, dir, "old.mp4", now.Add(-48*time.Hour))

	j, err := retention.New(t.Context(), retention.Config{
		Cron:   "@daily",
		MaxAge: 24 * time.Hour,
		Dirs:   []string{dir},
	}, nil)
	require.NoError(t, err)

	j.Sweep(t.Context())
	require.NoFileExists(t, stale)
}

func TestSweepSkipsMissingDir(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	now := time.Now()
	stale := writeAged(t, dir, "old.mp4", now.Add(-48*time.Hour))

	j, err := retention.New(t.Context(), retention.Config{
		Cron:   "@daily",
		MaxAge: 24 * time.Hour,
		Dirs:   []string{filepath.Join(dir, "does-not-exist"), dir},
	}, nil)
	require.NoError(t, err)

	j.Sweep(t.Context())
	require.NoFileExists(t, stale)
}

func TestSweepToleratesPrunerError(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	now := time.Now()
	stale := writeAged(t, dir, "old.mp4", now.Add(-48*time.Hour))

	store := prunerFunc(func(context.Context, time.Time) (int64, error) {
		return 0, errors.New("database is locked")
	})

	j, err := retention.New(t.Context(), retention.Config{
		Cron:   "@daily",
		MaxAge: 24 * time.Hour,
		Dirs:   []string{dir},
	}, store)
	require.NoError(t, err)

	j.Sweep(t.Context())
	require.NoFileExists(t, stale)
}

func TestStartShutdown(t *testing.T) {
	t.Parallel()

	j, err := retention.New(t.Context(), retention.Config{Cron: "@every 1h", MaxAge: time.Hour}, nil)
	require.NoError(t, err)

	j.Start()
	require.NoError(t, j.Shutdown())
}
