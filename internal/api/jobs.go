package api

import (
	"encoding/hex"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/ffstamp/ffstamp/internal/model"
)

// Parts beyond this stay on disk instead of memory.
const maxUploadMemory = 32 << 20

type jobCreateResponse struct {
	JobID string `json:"job_id"`
}

// jobSummary is the list view of a job; the detail endpoint returns the full
// snapshot.
type jobSummary struct {
	ID         string          `json:"id"`
	Status     model.JobStatus `json:"status"`
	Progress   float64         `json:"progress"`
	CreatedAt  time.Time       `json:"created_at"`
	StartedAt  *time.Time      `json:"started_at"`
	FinishedAt *time.Time      `json:"finished_at"`
}

func summaryOf(snap model.JobSnapshot) jobSummary {
	return jobSummary{
		ID:         snap.ID,
		Status:     snap.Status,
		Progress:   snap.Progress,
		CreatedAt:  snap.CreatedAt,
		StartedAt:  snap.StartedAt,
		FinishedAt: snap.FinishedAt,
	}
}

type jobLogResponse struct {
	Log []string `json:"log"`
}

// createJob accepts a multipart form: one or more "files" video parts, an
// optional "watermark_image" part (or a watermark_image_path pointing at a
// file already on disk) and scalar watermark fields. Uploads are stored under
// the upload directory and the job is queued.
func (s *Server) createJob(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if err := r.ParseMultipartForm(maxUploadMemory); err != nil {
		writeJSON(ctx, w, http.StatusBadRequest, errorResponse{Error: "invalid_multipart", Message: err.Error()})
		return
	}

	uploads := r.MultipartForm.File["files"]
	if len(uploads) == 0 {
		writeError(ctx, w, &model.ParamError{Field: "files", Reason: "at least one video file is required"})
		return
	}
	if v := r.FormValue("target_device"); v != "" && !model.Encoder(v).Valid() {
		writeError(ctx, w, &model.ParamError{Field: "target_device", Reason: "must be one of cpu, intel, nvidia"})
		return
	}

	params, err := formParams(r)
	if err != nil {
		writeError(ctx, w, err)
		return
	}

	if params.Mode == model.ModeImage {
		switch mark := firstFile(r, "watermark_image"); {
		case mark != nil:
			path, err := s.saveUpload(mark, "watermark")
			if err != nil {
				writeError(ctx, w, err)
				return
			}
			params.ImagePath = path
		case r.FormValue("watermark_image_path") != "":
			params.ImagePath = r.FormValue("watermark_image_path")
		default:
			writeError(ctx, w, &model.ParamError{Field: "watermark_image", Reason: "an image file is required for image watermarks"})
			return
		}
	}

	if err := params.Validate(); err != nil {
		writeError(ctx, w, err)
		return
	}

	files := make([]string, 0, len(uploads))
	for _, fh := range uploads {
		path, err := s.saveUpload(fh, "input")
		if err != nil {
			writeError(ctx, w, err)
			return
		}
		files = append(files, path)
	}

	snap, err := s.queue.Submit(ctx, model.JobRequest{
		Files:        files,
		Watermark:    params,
		OutputFormat: r.FormValue("output_format"),
		Encoder:      model.Encoder(r.FormValue("target_device")),
		Preset:       r.FormValue("preset"),
	})
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	writeJSON(ctx, w, http.StatusCreated, jobCreateResponse{JobID: snap.ID})
}

// listJobs returns summaries newest first; storage order is insertion order.
func (s *Server) listJobs(w http.ResponseWriter, r *http.Request) {
	snaps := s.queue.List()
	summaries := make([]jobSummary, 0, len(snaps))
	for _, snap := range snaps {
		summaries = append(summaries, summaryOf(snap))
	}
	slices.Reverse(summaries)
	writeJSON(r.Context(), w, http.StatusOK, summaries)
}

func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	snap, err := s.queue.Get(chi.URLParam(r, "id"))
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	writeJSON(ctx, w, http.StatusOK, snap)
}

func (s *Server) getJobLog(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	snap, err := s.queue.Get(chi.URLParam(r, "id"))
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	writeJSON(ctx, w, http.StatusOK, jobLogResponse{Log: snap.Log})
}

// cancelJob acknowledges with the job's state right after the request took
// effect. Cancellation of a running job is asynchronous, the caller polls the
// job until it turns terminal.
func (s *Server) cancelJob(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")
	if err := s.queue.Cancel(ctx, id); err != nil {
		writeError(ctx, w, err)
		return
	}
	snap, err := s.queue.Get(id)
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	writeJSON(ctx, w, http.StatusAccepted, snap)
}

// formParams folds scalar form fields over the default watermark parameters.
// Absent fields keep their defaults; malformed numbers are rejected here so
// the queue never sees them.
func formParams(r *http.Request) (model.WatermarkParams, error) {
	p := model.DefaultParams()
	if v := r.FormValue("watermark_type"); v != "" {
		p.Mode = model.Mode(v)
	}
	if v := r.FormValue("watermark_text"); v != "" {
		p.Text = v
	}
	if v := r.FormValue("font_path"); v != "" {
		p.FontPath = v
	}
	if v := r.FormValue("font_size"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return p, &model.ParamError{Field: "font_size", Reason: "must be an integer"}
		}
		p.FontSize = n
	}
	if v := r.FormValue("color"); v != "" {
		p.Color = v
	}
	if v := r.FormValue("opacity"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return p, &model.ParamError{Field: "opacity", Reason: "must be a number"}
		}
		p.Opacity = f
	}
	if v := r.FormValue("position"); v != "" {
		p.Position = model.Position(v)
	}
	if v := r.FormValue("offset_x"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return p, &model.ParamError{Field: "offset_x", Reason: "must be an integer"}
		}
		p.OffsetX = n
	}
	if v := r.FormValue("offset_y"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return p, &model.ParamError{Field: "offset_y", Reason: "must be an integer"}
		}
		p.OffsetY = n
	}
	return p, nil
}

func firstFile(r *http.Request, field string) *multipart.FileHeader {
	if headers := r.MultipartForm.File[field]; len(headers) > 0 {
		return headers[0]
	}
	return nil
}

// saveUpload copies one uploaded part into the upload directory under a
// collision-free name, keeping the original extension.
func (s *Server) saveUpload(fh *multipart.FileHeader, prefix string) (string, error) {
	src, err := fh.Open()
	if err != nil {
		return "", fmt.Errorf("opening upload %s: %w", fh.Filename, err)
	}
	defer func() {
		_ = src.Close()
	}()

	id := uuid.New()
	name := prefix + "_" + hex.EncodeToString(id[:]) + strings.ToLower(filepath.Ext(fh.Filename))
	path := filepath.Join(s.uploadDir, name)

	dst, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o640)
	if err != nil {
		return "", fmt.Errorf("creating %s: %w", path, err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		_ = dst.Close()
		return "", fmt.Errorf("saving %s: %w", path, err)
	}
	if err := dst.Close(); err != nil {
		return "", fmt.Errorf("closing %s: %w", path, err)
	}
	return path, nil
}
