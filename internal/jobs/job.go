// Package jobs implements the distributed job scheduler: filesystem-based
// claiming across independent worker processes, bounded local concurrency
// with graceful shutdown, and the per-job encode lifecycle with crash-safe
// cleanup.
package jobs

import (
	"path/filepath"
	"strings"
	"time"
)

// Status represents the current state of a job
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusSkipped    Status = "skipped"
)

// Job is the lifecycle record for one input-to-output pair. TokenPath and
// ScratchPrefix are set only after a successful claim. Exactly one worker
// process owns a job: the one that wins its claim.
type Job struct {
	InputPath     string
	OutputPath    string
	TokenPath     string
	ScratchPrefix string

	Status       Status
	StartTime    time.Time
	EndTime      time.Time
	ErrorMessage string
}

// NewJob constructs a pending job whose output lands in outputDir under the
// input's basename with the container extension replaced.
func NewJob(inputPath, outputDir string) *Job {
	base := filepath.Base(inputPath)
	name := strings.TrimSuffix(base, filepath.Ext(base))
	return &Job{
		InputPath:  inputPath,
		OutputPath: filepath.Join(outputDir, name+".mkv"),
		Status:     StatusPending,
	}
}

// IsTerminal returns true if the job is in a terminal state
func (j *Job) IsTerminal() bool {
	return j.Status == StatusCompleted || j.Status == StatusFailed || j.Status == StatusSkipped
}

// Elapsed is the wall-clock run time of a finished job.
func (j *Job) Elapsed() time.Duration {
	if j.StartTime.IsZero() || j.EndTime.IsZero() {
		return 0
	}
	return j.EndTime.Sub(j.StartTime)
}
