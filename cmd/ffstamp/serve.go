package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/ffstamp/ffstamp/internal/api"
	"github.com/ffstamp/ffstamp/internal/config"
	"github.com/ffstamp/ffstamp/internal/history"
	"github.com/ffstamp/ffstamp/internal/log"
	"github.com/ffstamp/ffstamp/internal/queue"
	"github.com/ffstamp/ffstamp/internal/retention"
)

const shutdownTimeout = 15 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "serve runs the watermarking queue behind a REST API",
	RunE:  doServe,
}

func doServe(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	ctx = log.ContextAttrs(ctx, slog.Group("ffstamp",
		slog.String("cmd", "serve"),
		slog.Int("pid", os.Getpid()),
	))
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cfg.EnsureDirs(); err != nil {
		return fmt.Errorf("preparing storage directories: %w", err)
	}

	var store *history.Store
	if cfg.History.Enabled {
		var err error
		store, err = history.Open(ctx, cfg.History.Path)
		if err != nil {
			return fmt.Errorf("opening job history: %w", err)
		}
	}

	q := queue.New(cfg.PoolConfig())
	if store != nil {
		q = q.WithRecorder(store)
	}

	persistPath := configPath
	if persistPath == "" {
		persistPath = config.DefaultPath()
	}
	settings := config.NewStore(cfg, persistPath)

	server := &http.Server{
		Addr:              cfg.Listen,
		Handler:           api.New(q, settings, cfg.UploadPath()).Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	var janitor *retention.Janitor
	if cfg.Retention.Enabled {
		var pruner retention.Pruner
		if store != nil {
			pruner = store
		}
		var err error
		janitor, err = retention.New(ctx, retention.Config{
			Cron:   cfg.Retention.Cron,
			MaxAge: cfg.Retention.MaxAge,
			Dirs:   []string{cfg.UploadPath(), cfg.OutputPath()},
		}, pruner)
		if err != nil {
			return fmt.Errorf("initializing retention: %w", err)
		}
		janitor.Start()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.InfoContext(ctx, "http server listening", slog.String("addr", cfg.Listen))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.InfoContext(ctx, "shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutting down http server: %w", err)
		}
		return nil
	})
	err := g.Wait()

	// The queue goes down after the HTTP server, so no new jobs can slip in.
	// Jobs cancelled here still land in the history.
	closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	err = errors.Join(err, q.Close(closeCtx))

	if janitor != nil {
		if jErr := janitor.Shutdown(); jErr != nil {
			slog.ErrorContext(ctx, "shutting down retention failed", slog.Any("error", jErr))
		}
	}
	if store != nil {
		if sErr := store.Close(); sErr != nil {
			slog.ErrorContext(ctx, "closing job history failed", slog.Any("error", sErr))
		}
	}
	return err
}
