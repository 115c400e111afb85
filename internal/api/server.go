// Package api exposes the job queue over REST. Handlers translate HTTP into
// queue and settings calls and never reach into job internals; everything
// they return is a snapshot.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/ffstamp/ffstamp/internal/config"
	"github.com/ffstamp/ffstamp/internal/log"
	"github.com/ffstamp/ffstamp/internal/model"
	"github.com/ffstamp/ffstamp/internal/queue"
)

type Server struct {
	queue     *queue.Queue
	settings  *config.Store
	uploadDir string
}

// New builds the REST layer on top of a running queue. uploadDir is where
// multipart uploads are stored before the job picks them up.
func New(q *queue.Queue, settings *config.Store, uploadDir string) *Server {
	return &Server{queue: q, settings: settings, uploadDir: uploadDir}
}

// Router returns the HTTP handler with all routes mounted.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)

	r.Route("/api", func(r chi.Router) {
		r.Get("/healthz", s.healthz)
		r.Route("/jobs", func(r chi.Router) {
			r.Post("/", s.createJob)
			r.Get("/", s.listJobs)
			r.Get("/{id}", s.getJob)
			r.Get("/{id}/log", s.getJobLog)
			r.Post("/{id}/cancel", s.cancelJob)
		})
		r.Get("/settings", s.getSettings)
		r.Patch("/settings", s.patchSettings)
	})
	return r
}

func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(r.Context(), w, http.StatusOK, map[string]string{"status": "ok"})
}

// requestLogger stamps request attributes into the context so every log line
// emitted below carries them, then reports the served request.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ctx := log.ContextAttrs(r.Context(),
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
		)
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r.WithContext(ctx))
		slog.InfoContext(ctx, "request served",
			slog.Int("status", ww.Status()),
			slog.Duration("elapsed", time.Since(start)),
		)
	})
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func writeJSON(ctx context.Context, w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.ErrorContext(ctx, "encoding response failed", slog.Any("error", err))
	}
}

// writeError maps domain errors onto HTTP status codes. Anything unexpected
// turns into an opaque 500, the details go to the log only.
func writeError(ctx context.Context, w http.ResponseWriter, err error) {
	var paramErr *model.ParamError
	switch {
	case errors.As(err, &paramErr):
		writeJSON(ctx, w, http.StatusBadRequest, errorResponse{Error: "invalid_parameter", Message: paramErr.Error()})
	case errors.Is(err, model.ErrNotFound):
		writeJSON(ctx, w, http.StatusNotFound, errorResponse{Error: "not_found", Message: "job not found"})
	case errors.Is(err, model.ErrQueueClosed):
		writeJSON(ctx, w, http.StatusServiceUnavailable, errorResponse{Error: "shutting_down", Message: "service is shutting down"})
	default:
		slog.ErrorContext(ctx, "request failed", slog.Any("error", err))
		writeJSON(ctx, w, http.StatusInternalServerError, errorResponse{Error: "internal_error", Message: "internal server error"})
	}
}
