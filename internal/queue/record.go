package queue

import (
	"context"
	"sync"
	"time"

	"github.com/ffstamp/ffstamp/internal/model"
)

// record is the canonical mutable state of one job. All mutation goes
// through methods holding the record's own lock, so the hot log-append path
// never contends with the queue lock. Readers only ever see snapshots.
type record struct {
	mx         sync.Mutex
	id         string
	files      []string
	params     model.WatermarkParams
	format     string
	outputDir  string
	encoder    model.Encoder
	preset     string
	binary     string
	status     model.JobStatus
	progress   float64
	log        []string
	outputs    []string
	createdAt  time.Time
	startedAt  *time.Time
	finishedAt *time.Time
	cancelReq  bool
	cancel     context.CancelFunc // set while running
}

func newRecord(id string, req model.JobRequest, format, outputDir string, encoder model.Encoder, binary string) *record {
	return &record{
		id:        id,
		files:     append([]string(nil), req.Files...),
		params:    req.Watermark,
		format:    format,
		outputDir: outputDir,
		encoder:   encoder,
		preset:    req.Preset,
		binary:    binary,
		status:    model.StatusQueued,
		createdAt: time.Now(),
	}
}

func logLine(msg string) string {
	return "[" + time.Now().Format("2006-01-02 15:04:05") + "] " + msg
}

func (r *record) appendLog(msg string) {
	r.mx.Lock()
	defer r.mx.Unlock()
	r.log = append(r.log, logLine(msg))
}

func (r *record) setProgress(p float64) {
	r.mx.Lock()
	defer r.mx.Unlock()
	if p > r.progress {
		r.progress = p
	}
}

func (r *record) addOutput(path string) {
	r.mx.Lock()
	defer r.mx.Unlock()
	r.outputs = append(r.outputs, path)
}

func (r *record) setCancelFunc(cancel context.CancelFunc) {
	r.mx.Lock()
	defer r.mx.Unlock()
	r.cancel = cancel
}

// requestCancel flags the record and tears down the per-job context when the
// job is already running. Safe to call in any state.
func (r *record) requestCancel() {
	r.mx.Lock()
	r.cancelReq = true
	cancel := r.cancel
	r.mx.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (r *record) cancelRequested() bool {
	r.mx.Lock()
	defer r.mx.Unlock()
	return r.cancelReq
}

// markRunning performs the queued -> running transition. It refuses when the
// record left the queued state or a cancel arrived first.
func (r *record) markRunning() bool {
	r.mx.Lock()
	defer r.mx.Unlock()
	if r.status != model.StatusQueued || r.cancelReq {
		return false
	}
	r.status = model.StatusRunning
	now := time.Now()
	r.startedAt = &now
	return true
}

// finish moves the record into a terminal state exactly once and reports
// whether this call performed the transition. Terminal states absorb, so
// racing finishers are harmless and history hooks fire once.
func (r *record) finish(status model.JobStatus, finalLine string) bool {
	r.mx.Lock()
	defer r.mx.Unlock()
	if r.status.Terminal() {
		return false
	}
	r.status = status
	now := time.Now()
	r.finishedAt = &now
	if status == model.StatusCompleted {
		r.progress = 1.0
	}
	if finalLine != "" {
		r.log = append(r.log, logLine(finalLine))
	}
	r.cancel = nil
	return true
}

// snapshot returns a deep copy taken under the record lock, so holders never
// observe a torn update from the owning worker.
func (r *record) snapshot() model.JobSnapshot {
	r.mx.Lock()
	defer r.mx.Unlock()
	snap := model.JobSnapshot{
		ID:           r.id,
		Status:       r.status,
		Progress:     r.progress,
		CreatedAt:    r.createdAt,
		Watermark:    r.params,
		OutputFormat: r.format,
		OutputDir:    r.outputDir,
		Encoder:      r.encoder,
		Preset:       r.preset,
		Files:        append([]string(nil), r.files...),
		Outputs:      append([]string(nil), r.outputs...),
		Log:          append([]string(nil), r.log...),
	}
	if r.startedAt != nil {
		t := *r.startedAt
		snap.StartedAt = &t
	}
	if r.finishedAt != nil {
		t := *r.finishedAt
		snap.FinishedAt = &t
	}
	return snap
}
