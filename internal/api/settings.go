package api

import (
	"encoding/json"
	"net/http"

	"github.com/ffstamp/ffstamp/internal/config"
)

type settingsResponse struct {
	MaxParallelJobs     int    `json:"max_parallel_jobs"`
	AllowGPU            bool   `json:"allow_gpu"`
	DefaultOutputFormat string `json:"default_output_format"`
	FFmpegBinary        string `json:"ffmpeg_binary"`
}

func settingsOf(cfg config.Config) settingsResponse {
	return settingsResponse{
		MaxParallelJobs:     cfg.MaxParallelJobs,
		AllowGPU:            cfg.AllowGPU,
		DefaultOutputFormat: cfg.DefaultOutputFormat,
		FFmpegBinary:        cfg.FFmpegBinary,
	}
}

func (s *Server) getSettings(w http.ResponseWriter, r *http.Request) {
	writeJSON(r.Context(), w, http.StatusOK, settingsOf(s.settings.Current()))
}

// patchSettings applies a partial update and pushes the result into the
// queue, so a raised max_parallel_jobs dispatches waiting jobs right away.
func (s *Server) patchSettings(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var u config.Update
	if err := json.NewDecoder(r.Body).Decode(&u); err != nil {
		writeJSON(ctx, w, http.StatusBadRequest, errorResponse{Error: "invalid_json", Message: err.Error()})
		return
	}

	cfg, err := s.settings.Apply(u)
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	if err := s.queue.UpdateConfig(cfg.PoolConfig()); err != nil {
		writeError(ctx, w, err)
		return
	}
	writeJSON(ctx, w, http.StatusOK, settingsOf(cfg))
}
