// Package retention removes old job history rows and stale files from the
// storage directories on a cron schedule. Jobs themselves never depend on it;
// a broken sweep only means disk fills up.
package retention

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"time"

	gocron "github.com/go-co-op/gocron/v2"

	"github.com/ffstamp/ffstamp/internal/walk"
)

// Pruner deletes history rows older than cutoff and reports how many.
type Pruner interface {
	PruneOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// Config says when to sweep and what counts as stale.
type Config struct {
	// Cron is a 5-field cron expression or @-macro driving the sweep.
	Cron string
	// MaxAge is how long finished jobs and their files are kept.
	MaxAge time.Duration
	// Dirs are storage directories swept for stale files. Missing
	// directories are skipped.
	Dirs []string
}

type Janitor struct {
	scheduler gocron.Scheduler
	store     Pruner
	dirs      []string
	maxAge    time.Duration
	now       func() time.Time
}

// New validates cfg and builds a janitor whose sweeps run on the configured
// schedule once Start is called. store may be nil when history is disabled;
// file sweeps still run.
func New(ctx context.Context, cfg Config, store Pruner) (*Janitor, error) {
	if cfg.MaxAge <= 0 {
		return nil, errors.New("retention.max_age must be positive")
	}
	if err := ParseCron(cfg.Cron); err != nil {
		return nil, fmt.Errorf("parsing retention.cron: %w", err)
	}

	j := &Janitor{
		store:  store,
		dirs:   append([]string(nil), cfg.Dirs...),
		maxAge: cfg.MaxAge,
		now:    time.Now,
	}

	scheduler, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("initializing gocron scheduler: %w", err)
	}
	_, err = scheduler.NewJob(
		gocron.CronJob(cfg.Cron, false),
		gocron.NewTask(func() { j.Sweep(ctx) }),
	)
	if err != nil {
		return nil, fmt.Errorf("initializing gocron job: %w", err)
	}
	j.scheduler = scheduler
	return j, nil
}

// WithNow replaces the clock. This method exists for unit testing only.
func (j *Janitor) WithNow(now func() time.Time) *Janitor {
	j.now = now
	return j
}

// Start begins running scheduled sweeps.
func (j *Janitor) Start() {
	j.scheduler.Start()
}

// Shutdown stops the scheduler and waits for a running sweep to return.
func (j *Janitor) Shutdown() error {
	return j.scheduler.Shutdown()
}

// Sweep runs one retention pass: prune history rows, then remove stale
// files. Failures are logged and the pass keeps going; the next scheduled
// sweep retries whatever was left behind.
func (j *Janitor) Sweep(ctx context.Context) {
	cutoff := j.now().Add(-j.maxAge)
	slog.DebugContext(ctx, "retention sweep started", slog.Time("cutoff", cutoff))

	if j.store != nil {
		rows, err := j.store.PruneOlderThan(ctx, cutoff)
		if err != nil {
			slog.ErrorContext(ctx, "pruning job history failed", slog.Any("error", err))
		} else if rows > 0 {
			slog.InfoContext(ctx, "pruned job history", slog.Int64("rows", rows))
		}
	}

	var removed int
	for _, dir := range j.dirs {
		removed += j.sweepDir(ctx, dir, cutoff)
	}
	if removed > 0 {
		slog.InfoContext(ctx, "removed stale files", slog.Int("files", removed))
	}
}

func (j *Janitor) sweepDir(ctx context.Context, dir string, cutoff time.Time) int {
	root, err := os.OpenRoot(dir)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			slog.WarnContext(ctx, "opening storage dir failed", slog.String("dir", dir), slog.Any("error", err))
		}
		return 0
	}
	defer func() {
		_ = root.Close()
	}()

	var removed int
	for entry, err := range walk.OlderThan(ctx, root.FS(), ".", cutoff) {
		if err != nil {
			slog.WarnContext(ctx, "walking storage dir failed", slog.String("dir", dir), slog.Any("error", err))
			continue
		}
		if err := root.Remove(entry.Path); err != nil {
			slog.WarnContext(ctx, "removing stale file failed", slog.String("path", entry.Path), slog.Any("error", err))
			continue
		}
		slog.DebugContext(ctx, "removed stale file", slog.String("dir", dir), slog.String("path", entry.Path))
		removed++
	}
	return removed
}
