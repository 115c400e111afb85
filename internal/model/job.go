package model

import "time"

type JobStatus string

const (
	StatusQueued    JobStatus = "queued"
	StatusRunning   JobStatus = "running"
	StatusCompleted JobStatus = "completed"
	StatusFailed    JobStatus = "failed"
	StatusCancelled JobStatus = "cancelled"
)

// Terminal reports whether no further transition can leave this status.
func (s JobStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// JobRequest is a submission: ordered input files plus the watermark to
// apply to each. Zero-value output fields are resolved from the pool
// configuration at submit time.
type JobRequest struct {
	Files        []string
	Watermark    WatermarkParams
	OutputFormat string
	OutputDir    string
	Encoder      Encoder
	Preset       string
}

// JobSnapshot is an immutable copy of one job taken under its record lock.
// Slices are copied, so holders never observe a worker's in-progress update.
type JobSnapshot struct {
	ID           string          `json:"id"`
	Status       JobStatus       `json:"status"`
	Progress     float64         `json:"progress"`
	CreatedAt    time.Time       `json:"created_at"`
	StartedAt    *time.Time      `json:"started_at"`
	FinishedAt   *time.Time      `json:"finished_at"`
	Watermark    WatermarkParams `json:"watermark"`
	OutputFormat string          `json:"output_format"`
	OutputDir    string          `json:"output_dir"`
	Encoder      Encoder         `json:"target_device"`
	Preset       string          `json:"preset,omitempty"`
	Files        []string        `json:"input_files"`
	Outputs      []string        `json:"outputs"`
	Log          []string        `json:"log"`
}

// PoolConfig is the queue-facing slice of the service configuration.
type PoolConfig struct {
	MaxParallelJobs     int
	BinaryPath          string
	DefaultOutputFormat string
	OutputDir           string
	AllowGPU            bool
}

// Normalized returns a copy with zero values replaced by defaults.
func (c PoolConfig) Normalized() PoolConfig {
	if c.MaxParallelJobs < 1 {
		c.MaxParallelJobs = 2
	}
	if c.BinaryPath == "" {
		c.BinaryPath = "ffmpeg"
	}
	if c.DefaultOutputFormat == "" {
		c.DefaultOutputFormat = "mp4"
	}
	if c.OutputDir == "" {
		c.OutputDir = "output"
	}
	return c
}
