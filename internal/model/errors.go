package model

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotFound      = errors.New("job not found")
	ErrProcessKilled = errors.New("process killed")
	ErrQueueClosed   = errors.New("queue closed")
)

// ParamError reports a single watermark parameter which failed validation.
type ParamError struct {
	Field  string
	Reason string
}

func (e *ParamError) Error() string {
	return fmt.Sprintf("invalid parameter %s: %s", e.Field, e.Reason)
}

// ProcessError reports a subprocess which exited with a non-zero code. Tail
// holds the last output lines so the failure reason survives into job logs.
type ProcessError struct {
	ExitCode int
	Tail     []string
}

func (e *ProcessError) Error() string {
	if len(e.Tail) == 0 {
		return fmt.Sprintf("ffmpeg exited with code %d", e.ExitCode)
	}
	return fmt.Sprintf("ffmpeg exited with code %d: %s", e.ExitCode, strings.Join(e.Tail, " | "))
}
