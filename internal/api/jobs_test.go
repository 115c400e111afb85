package api_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ffstamp/ffstamp/internal/model"
	"github.com/ffstamp/ffstamp/internal/runner"
)

func TestCreateJobQueuesUpload(t *testing.T) {
	t.Parallel()
	router, q := newTestServer(t, instantExec)

	id := createJob(t, router,
		map[string]string{"watermark_text": "Sample", "position": "bottom-right"},
		map[string][]string{"files": {"clip.mp4"}},
	)

	snap := getJob(t, router, id)
	require.Len(t, snap.Files, 1)

	saved := snap.Files[0]
	require.True(t, strings.HasPrefix(filepath.Base(saved), "input_"))
	require.Equal(t, ".mp4", filepath.Ext(saved))
	content, err := os.ReadFile(saved)
	require.NoError(t, err)
	require.Equal(t, "payload of clip.mp4", string(content))

	done := waitForStatus(t, q, id, model.StatusCompleted)
	require.Equal(t, "Sample", done.Watermark.Text)
	require.Equal(t, model.PositionBottomRight, done.Watermark.Position)
}

func TestCreateJobMultipleFiles(t *testing.T) {
	t.Parallel()
	router, q := newTestServer(t, instantExec)

	id := createJob(t, router,
		map[string]string{"watermark_text": "Batch"},
		map[string][]string{"files": {"a.mp4", "b.mov"}},
	)

	snap := getJob(t, router, id)
	require.Len(t, snap.Files, 2)
	require.Equal(t, ".mp4", filepath.Ext(snap.Files[0]))
	require.Equal(t, ".mov", filepath.Ext(snap.Files[1]))

	done := waitForStatus(t, q, id, model.StatusCompleted)
	require.Len(t, done.Outputs, 2)
}

func TestCreateJobImageMode(t *testing.T) {
	t.Parallel()
	router, q := newTestServer(t, instantExec)

	id := createJob(t, router,
		map[string]string{"watermark_type": "image", "opacity": "0.5"},
		map[string][]string{
			"files":           {"clip.mp4"},
			"watermark_image": {"logo.png"},
		},
	)

	mark := getJob(t, router, id).Watermark.ImagePath
	require.True(t, strings.HasPrefix(filepath.Base(mark), "watermark_"))
	require.Equal(t, ".png", filepath.Ext(mark))
	require.FileExists(t, mark)

	waitForStatus(t, q, id, model.StatusCompleted)
}

func TestCreateJobImagePathReference(t *testing.T) {
	t.Parallel()
	router, q := newTestServer(t, instantExec)

	logo := filepath.Join(t.TempDir(), "logo.png")
	require.NoError(t, os.WriteFile(logo, []byte("png"), 0o600))

	id := createJob(t, router,
		map[string]string{"watermark_type": "image", "watermark_image_path": logo},
		map[string][]string{"files": {"clip.mp4"}},
	)

	require.Equal(t, logo, getJob(t, router, id).Watermark.ImagePath)
	waitForStatus(t, q, id, model.StatusCompleted)
}

func TestCreateJobRejectsMissingFiles(t *testing.T) {
	t.Parallel()
	router, _ := newTestServer(t, instantExec)

	rr := postMultipart(t, router, map[string]string{"watermark_text": "Sample"}, nil)
	require.Equal(t, http.StatusBadRequest, rr.Code)

	body := decodeJSON[errorBody](t, rr)
	require.Equal(t, "invalid_parameter", body.Error)
	require.Contains(t, body.Message, "files")
}

func TestCreateJobRejectsBadParams(t *testing.T) {
	t.Parallel()
	router, _ := newTestServer(t, instantExec)

	cases := []struct {
		scenario string
		fields   map[string]string
		message  string
	}{
		{"opacity_out_of_range", map[string]string{"watermark_text": "Wm", "opacity": "5"}, "opacity"},
		{"font_size_not_numeric", map[string]string{"watermark_text": "Wm", "font_size": "abc"}, "font_size"},
		{"unknown_position", map[string]string{"watermark_text": "Wm", "position": "middle"}, "position"},
		{"unknown_target_device", map[string]string{"watermark_text": "Wm", "target_device": "amd"}, "target_device"},
		{"image_mode_without_file", map[string]string{"watermark_type": "image"}, "watermark_image"},
		{"text_mode_without_text", map[string]string{}, "text"},
	}

	for _, tc := range cases {
		t.Run(tc.scenario, func(t *testing.T) {
			rr := postMultipart(t, router, tc.fields, map[string][]string{"files": {"clip.mp4"}})
			require.Equal(t, http.StatusBadRequest, rr.Code)

			body := decodeJSON[errorBody](t, rr)
			require.Equal(t, "invalid_parameter", body.Error)
			require.Contains(t, body.Message, tc.message)
		})
	}
}

func TestGetJobNotFound(t *testing.T) {
	t.Parallel()
	router, _ := newTestServer(t, instantExec)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/jobs/no-such-id", nil))

	require.Equal(t, http.StatusNotFound, rr.Code)
	require.Equal(t, "not_found", decodeJSON[errorBody](t, rr).Error)
}

func TestJobLogEndpoint(t *testing.T) {
	t.Parallel()
	router, q := newTestServer(t, instantExec)

	id := createJob(t, router, map[string]string{"watermark_text": "Log me"}, map[string][]string{"files": {"clip.mp4"}})
	waitForStatus(t, q, id, model.StatusCompleted)

	logRR := httptest.NewRecorder()
	router.ServeHTTP(logRR, httptest.NewRequest(http.MethodGet, "/api/jobs/"+id+"/log", nil))
	require.Equal(t, http.StatusOK, logRR.Code)

	body := decodeJSON[struct {
		Log []string `json:"log"`
	}](t, logRR)
	require.NotEmpty(t, body.Log)
	require.Contains(t, body.Log[0], "Job created and queued")
	require.Contains(t, body.Log[len(body.Log)-1], "Job finished successfully")
}

func TestCancelRunningJob(t *testing.T) {
	t.Parallel()
	started := make(chan struct{}, 1)
	blocking := func(ctx context.Context, _ []string, _ runner.LineFunc) (runner.Result, error) {
		started <- struct{}{}
		<-ctx.Done()
		return runner.Result{Killed: true}, fmt.Errorf("ffmpeg: %w", model.ErrProcessKilled)
	}
	router, q := newTestServer(t, blocking)

	id := createJob(t, router, map[string]string{"watermark_text": "Slow"}, map[string][]string{"files": {"clip.mp4"}})
	<-started

	cancelRR := httptest.NewRecorder()
	router.ServeHTTP(cancelRR, httptest.NewRequest(http.MethodPost, "/api/jobs/"+id+"/cancel", nil))
	require.Equal(t, http.StatusAccepted, cancelRR.Code)

	waitForStatus(t, q, id, model.StatusCancelled)
}

func TestCancelUnknownJob(t *testing.T) {
	t.Parallel()
	router, _ := newTestServer(t, instantExec)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/jobs/no-such-id/cancel", nil))

	require.Equal(t, http.StatusNotFound, rr.Code)
	require.Equal(t, "not_found", decodeJSON[errorBody](t, rr).Error)
}

func TestListJobsNewestFirst(t *testing.T) {
	t.Parallel()
	router, q := newTestServer(t, instantExec)

	firstID := createJob(t, router, map[string]string{"watermark_text": "one"}, map[string][]string{"files": {"a.mp4"}})
	waitForStatus(t, q, firstID, model.StatusCompleted)

	secondID := createJob(t, router, map[string]string{"watermark_text": "two"}, map[string][]string{"files": {"b.mp4"}})
	waitForStatus(t, q, secondID, model.StatusCompleted)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/jobs", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	listed := decodeJSON[[]struct {
		ID     string          `json:"id"`
		Status model.JobStatus `json:"status"`
	}](t, rr)
	require.Len(t, listed, 2)
	require.Equal(t, secondID, listed[0].ID)
	require.Equal(t, firstID, listed[1].ID)
	require.Equal(t, model.StatusCompleted, listed[0].Status)
}
