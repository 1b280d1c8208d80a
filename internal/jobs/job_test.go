package jobs

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNewJob(t *testing.T) {
	job := NewJob("/media/Show.S01E02.mp4", "/out")

	assert.Equal(t, "/media/Show.S01E02.mp4", job.InputPath)
	assert.Equal(t, "/out/Show.S01E02.mkv", job.OutputPath)
	assert.Equal(t, StatusPending, job.Status)
	assert.Empty(t, job.TokenPath)
	assert.Empty(t, job.ScratchPrefix)
}

func TestIsTerminal(t *testing.T) {
	job := NewJob("/media/a.mkv", "/out")
	assert.False(t, job.IsTerminal())

	job.Status = StatusInProgress
	assert.False(t, job.IsTerminal())

	for _, s := range []Status{StatusCompleted, StatusFailed, StatusSkipped} {
		job.Status = s
		assert.True(t, job.IsTerminal())
	}
}

func TestElapsed(t *testing.T) {
	job := NewJob("/media/a.mkv", "/out")
	assert.Zero(t, job.Elapsed())

	job.StartTime = time.Now()
	assert.Zero(t, job.Elapsed(), "no end time yet")

	job.EndTime = job.StartTime.Add(90 * time.Second)
	assert.Equal(t, 90*time.Second, job.Elapsed())
}
