// Package queue implements the watermarking job scheduler: a FIFO backlog
// dispatched onto a resizable pool of workers, each driving the external
// encoder one file at a time.
package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"

	"github.com/ffstamp/ffstamp/internal/log"
	"github.com/ffstamp/ffstamp/internal/model"
	"github.com/ffstamp/ffstamp/internal/runner"
	"github.com/ffstamp/ffstamp/internal/watermark"
)

// Exec runs one constructed command and streams its combined output.
// Production wires runner.Runner.Run here.
type Exec func(ctx context.Context, argv []string, onLine runner.LineFunc) (runner.Result, error)

// Recorder observes jobs reaching a terminal state. Record failures are
// logged and never propagate into the pool.
type Recorder interface {
	Record(ctx context.Context, snap model.JobSnapshot) error
}

// Queue accepts watermark jobs and executes them with bounded parallelism.
// Submission, cancellation, resizing and reads return quickly; only workers
// block on encodes.
type Queue struct {
	mx       sync.Mutex
	cfg      model.PoolConfig
	fifo     []*record
	active   int
	closed   bool
	reg      *registry
	kick     chan struct{}
	done     chan struct{}
	baseCtx  context.Context
	stop     context.CancelFunc
	wg       sync.WaitGroup
	exec     Exec
	recorder Recorder
}

// New starts a queue with its dispatcher. The caller must Close it.
func New(cfg model.PoolConfig) *Queue {
	q := &Queue{
		cfg:  cfg.Normalized(),
		reg:  newRegistry(),
		kick: make(chan struct{}, 1),
		done: make(chan struct{}),
		exec: runner.Runner{}.Run,
	}
	q.baseCtx, q.stop = context.WithCancel(context.Background())
	go q.dispatch()
	return q
}

// WithExec replaces the subprocess execution step. This method exists for
// unit testing only; call it before the first Submit.
func (q *Queue) WithExec(exec Exec) *Queue {
	q.exec = exec
	return q
}

// WithRecorder attaches a terminal-state observer, typically the history
// store. Call it before the first Submit.
func (q *Queue) WithRecorder(recorder Recorder) *Queue {
	q.recorder = recorder
	return q
}

// Submit validates the request shape, registers the job and appends it to
// the backlog tail. It returns the queued snapshot immediately and never
// waits on execution. Watermark parameter validation is the boundary's
// concern, a bad parameter slipping through fails the job at build time.
func (q *Queue) Submit(ctx context.Context, req model.JobRequest) (model.JobSnapshot, error) {
	if len(req.Files) == 0 {
		return model.JobSnapshot{}, &model.ParamError{Field: "files", Reason: "at least one input file is required"}
	}

	q.mx.Lock()
	cfg := q.cfg
	closed := q.closed
	q.mx.Unlock()
	if closed {
		return model.JobSnapshot{}, model.ErrQueueClosed
	}

	encoder := req.Encoder
	if !encoder.Valid() {
		encoder = model.EncoderCPU
	}
	downgraded := encoder != model.EncoderCPU && !cfg.AllowGPU
	if downgraded {
		encoder = model.EncoderCPU
	}
	format := req.OutputFormat
	if format == "" {
		format = cfg.DefaultOutputFormat
	}
	outputDir := req.OutputDir
	if outputDir == "" {
		outputDir = cfg.OutputDir
	}

	rec := newRecord(uuid.NewString(), req, format, outputDir, encoder, cfg.BinaryPath)
	rec.appendLog("Job created and queued")
	if downgraded {
		rec.appendLog("GPU encoding disabled, falling back to cpu")
	}

	q.mx.Lock()
	if q.closed {
		q.mx.Unlock()
		return model.JobSnapshot{}, model.ErrQueueClosed
	}
	q.reg.insert(rec)
	q.fifo = append(q.fifo, rec)
	q.mx.Unlock()
	q.poke()

	slog.InfoContext(ctx, "job queued", "job_id", rec.id, "files", len(req.Files))
	return rec.snapshot(), nil
}

// Get returns a point-in-time snapshot of one job.
func (q *Queue) Get(id string) (model.JobSnapshot, error) {
	return q.reg.get(id)
}

// List returns snapshots of all known jobs in insertion order.
func (q *Queue) List() []model.JobSnapshot {
	return q.reg.list()
}

// Cancel requests cancellation. A still-queued job leaves the backlog and
// turns cancelled directly; a running job gets its subprocess torn down and
// processes no further files. Cancelling an already finished job is an
// acknowledged no-op, only unknown ids return model.ErrNotFound.
func (q *Queue) Cancel(ctx context.Context, id string) error {
	q.mx.Lock()
	rec, err := q.reg.lookup(id)
	if err != nil {
		q.mx.Unlock()
		return err
	}
	for i, waiting := range q.fifo {
		if waiting == rec {
			q.fifo = append(q.fifo[:i], q.fifo[i+1:]...)
			q.mx.Unlock()
			rec.requestCancel()
			if rec.finish(model.StatusCancelled, "Job cancelled before start") {
				slog.InfoContext(ctx, "queued job cancelled", "job_id", id)
				q.record(ctx, rec)
			}
			return nil
		}
	}
	q.mx.Unlock()

	rec.requestCancel()
	slog.InfoContext(ctx, "job cancel requested", "job_id", id)
	return nil
}

// Resize adjusts the parallelism limit. Raising it dispatches queued jobs
// immediately, lowering it lets in-flight jobs finish and only gates new
// dispatch.
func (q *Queue) Resize(n int) error {
	if n < 1 {
		return &model.ParamError{Field: "max_parallel_jobs", Reason: "must be >= 1"}
	}
	q.mx.Lock()
	q.cfg.MaxParallelJobs = n
	q.mx.Unlock()
	q.poke()
	slog.Info("pool resized", "max_parallel_jobs", n)
	return nil
}

// Config returns the current pool configuration.
func (q *Queue) Config() model.PoolConfig {
	q.mx.Lock()
	defer q.mx.Unlock()
	return q.cfg
}

// UpdateConfig replaces the pool configuration for future submissions and
// dispatch decisions. Running jobs keep the values they started with.
func (q *Queue) UpdateConfig(cfg model.PoolConfig) error {
	if cfg.MaxParallelJobs < 1 {
		return &model.ParamError{Field: "max_parallel_jobs", Reason: "must be >= 1"}
	}
	if cfg.DefaultOutputFormat == "" {
		return &model.ParamError{Field: "default_output_format", Reason: "cannot be empty"}
	}
	q.mx.Lock()
	q.cfg = cfg.Normalized()
	q.mx.Unlock()
	q.poke()
	return nil
}

// Close stops dispatching, tears down running jobs and waits for workers to
// settle, bounded by ctx. Still-queued jobs are discarded with the process.
func (q *Queue) Close(ctx context.Context) error {
	q.mx.Lock()
	if q.closed {
		q.mx.Unlock()
		return nil
	}
	q.closed = true
	q.mx.Unlock()

	q.stop()
	<-q.done

	settled := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(settled)
	}()
	select {
	case <-settled:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for workers: %w", ctx.Err())
	}
}

// poke wakes the dispatcher without ever blocking the caller.
func (q *Queue) poke() {
	select {
	case q.kick <- struct{}{}:
	default:
	}
}

func (q *Queue) isClosed() bool {
	q.mx.Lock()
	defer q.mx.Unlock()
	return q.closed
}

// dispatch is the single goroutine deciding which job runs next. Strict FIFO,
// the pool limit is re-read under the lock on every free-slot check so a
// resize can never over-admit.
func (q *Queue) dispatch() {
	defer close(q.done)
	for {
		select {
		case <-q.baseCtx.Done():
			return
		case <-q.kick:
		}
		for {
			rec := q.next()
			if rec == nil {
				break
			}
			q.launch(rec)
		}
	}
}

func (q *Queue) next() *record {
	q.mx.Lock()
	defer q.mx.Unlock()
	if q.closed || q.active >= q.cfg.MaxParallelJobs || len(q.fifo) == 0 {
		return nil
	}
	rec := q.fifo[0]
	q.fifo = q.fifo[1:]
	q.active++
	return rec
}

func (q *Queue) launch(rec *record) {
	ctx, cancel := context.WithCancel(q.baseCtx)
	rec.setCancelFunc(cancel)
	q.wg.Go(func() {
		defer cancel()
		q.runJob(log.WithJob(ctx, rec.id), rec)
		q.mx.Lock()
		q.active--
		q.mx.Unlock()
		q.poke()
	})
}

// runJob drives one job to a terminal state: files strictly in submission
// order, every subprocess line appended to the job log, progress bumped per
// completed file. The first failure stops the job; a panic anywhere in the
// job is converted to a failed record so one bad job never takes the worker
// pool down.
func (q *Queue) runJob(ctx context.Context, rec *record) {
	defer func() {
		if r := recover(); r != nil {
			slog.ErrorContext(ctx, "job panicked", "panic", r)
			if rec.finish(model.StatusFailed, fmt.Sprintf("Failed: panic: %v", r)) {
				q.record(ctx, rec)
			}
		}
	}()

	if !rec.markRunning() {
		if rec.finish(model.StatusCancelled, "Job cancelled before start") {
			q.record(ctx, rec)
		}
		return
	}

	total := len(rec.files)
	rec.appendLog(fmt.Sprintf("Starting job with %d file(s)", total))
	slog.InfoContext(ctx, "job started", "files", total)

	if err := os.MkdirAll(rec.outputDir, 0o750); err != nil {
		q.finishFailed(ctx, rec, err)
		return
	}

	builder := watermark.Builder{
		Binary:  rec.binary,
		Encoder: rec.encoder,
		Preset:  rec.preset,
	}

	for i, input := range rec.files {
		if rec.cancelRequested() || ctx.Err() != nil {
			q.finishCancelled(ctx, rec)
			return
		}

		outputPath := filepath.Join(rec.outputDir, watermark.OutputName(input, rec.format))
		argv, err := builder.Build(input, outputPath, rec.params)
		if err != nil {
			q.finishFailed(ctx, rec, err)
			return
		}

		rec.appendLog(fmt.Sprintf("Processing %s -> %s", filepath.Base(input), filepath.Base(outputPath)))
		rec.appendLog("Command: " + watermark.String(argv))

		if _, err := q.exec(ctx, argv, rec.appendLog); err != nil {
			if errors.Is(err, model.ErrProcessKilled) || rec.cancelRequested() {
				q.finishCancelled(ctx, rec)
				return
			}
			q.finishFailed(ctx, rec, err)
			return
		}

		rec.addOutput(outputPath)
		rec.appendLog(fmt.Sprintf("Completed %s", filepath.Base(input)))
		rec.setProgress(float64(i+1) / float64(total))
	}

	if rec.finish(model.StatusCompleted, "Job finished successfully") {
		slog.InfoContext(ctx, "job completed")
		q.record(ctx, rec)
	}
}

func (q *Queue) finishCancelled(ctx context.Context, rec *record) {
	line := "Job cancelled"
	if q.isClosed() {
		line = "Job cancelled on shutdown"
	}
	if rec.finish(model.StatusCancelled, line) {
		slog.InfoContext(ctx, "job cancelled")
		q.record(ctx, rec)
	}
}

func (q *Queue) finishFailed(ctx context.Context, rec *record, err error) {
	if rec.finish(model.StatusFailed, "Failed: "+err.Error()) {
		slog.ErrorContext(ctx, "job failed", "error", err)
		q.record(ctx, rec)
	}
}

func (q *Queue) record(ctx context.Context, rec *record) {
	if q.recorder == nil {
		return
	}
	// Detached from job cancellation so shutdown-cancelled jobs still land
	// in history.
	ctx = context.WithoutCancel(ctx)
	snap := rec.snapshot()
	if err := q.recorder.Record(ctx, snap); err != nil {
		slog.ErrorContext(ctx, "recording job history failed", "job_id", snap.ID, "error", err)
	}
}
