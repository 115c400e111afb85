// Package runner executes one external process per call and streams its
// combined output back to the caller, with cooperative teardown when the
// context is cancelled.
package runner

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"syscall"
	"time"

	"github.com/ffstamp/ffstamp/internal/model"
)

const (
	// DefaultGrace bounds how long a terminated process may linger between
	// SIGTERM and the forced SIGKILL.
	DefaultGrace = 3 * time.Second

	// tailLen is how many trailing output lines survive into failure reasons.
	tailLen = 5

	maxLineBytes = 1024 * 1024
)

// LineFunc receives one combined-output line. It is called synchronously
// from Run, so lines arrive in the exact order the process produced them.
type LineFunc func(line string)

// Runner spawns external processes. The zero value is ready to use.
type Runner struct {
	Grace time.Duration // SIGTERM to SIGKILL window, DefaultGrace when zero
}

// Result describes one finished process.
type Result struct {
	ExitCode int
	Killed   bool
	Tail     []string
	Started  time.Time
	Stopped  time.Time
}

// Run spawns argv, streams combined stdout+stderr line-by-line into onLine
// and blocks until the process exits. Cancelling ctx sends SIGTERM and
// escalates to SIGKILL once the grace window passes; the process is reaped
// on every path.
//
// A clean exit returns a nil error. The cancellation path returns
// model.ErrProcessKilled; a non-zero exit returns a model.ProcessError
// carrying the exit code and the output tail.
func (r Runner) Run(ctx context.Context, argv []string, onLine LineFunc) (Result, error) {
	if len(argv) == 0 {
		return Result{ExitCode: -1}, errors.New("empty argv")
	}

	grace := r.Grace
	if grace <= 0 {
		grace = DefaultGrace
	}

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Cancel = func() error {
		return cmd.Process.Signal(syscall.SIGTERM)
	}
	cmd.WaitDelay = grace

	// Both streams share one pipe, so lines keep the order the process
	// interleaved them in.
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return Result{ExitCode: -1}, err
	}
	cmd.Stderr = cmd.Stdout

	res := Result{Started: time.Now().UTC()}
	if err := cmd.Start(); err != nil {
		res.Stopped = time.Now().UTC()
		res.ExitCode = -1
		return res, fmt.Errorf("starting %s: %w", argv[0], err)
	}
	slog.DebugContext(ctx, "process started", "path", argv[0], "pid", cmd.Process.Pid)

	tail := make([]string, 0, tailLen)
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	for scanner.Scan() {
		line := scanner.Text()
		if len(tail) == tailLen {
			copy(tail, tail[1:])
			tail = tail[:tailLen-1]
		}
		tail = append(tail, line)
		if onLine != nil {
			onLine(line)
		}
	}
	if serr := scanner.Err(); serr != nil {
		// Force-closed pipe after the grace window lands here.
		slog.DebugContext(ctx, "reading process output", "path", argv[0], "error", serr)
	}

	waitErr := cmd.Wait()
	res.Stopped = time.Now().UTC()
	res.ExitCode = cmd.ProcessState.ExitCode()
	res.Tail = tail
	slog.DebugContext(ctx, "process finished",
		"path", argv[0],
		"exit_code", res.ExitCode,
		"duration", res.Stopped.Sub(res.Started),
	)

	switch {
	case ctx.Err() != nil && waitErr != nil:
		res.Killed = true
		return res, fmt.Errorf("%s: %w", argv[0], model.ErrProcessKilled)
	case waitErr == nil:
		return res, nil
	default:
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			return res, &model.ProcessError{ExitCode: res.ExitCode, Tail: res.Tail}
		}
		return res, fmt.Errorf("waiting on %s: %w", argv[0], waitErr)
	}
}
