package jobs

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stampede/stampede/internal/config"
)

// batchDirs is the shared filesystem two cooperating workers see.
type batchDirs struct {
	inputs  []string
	output  string
	scratch string
	token   string
}

func newBatchDirs(t *testing.T, names ...string) batchDirs {
	t.Helper()
	inputDir := t.TempDir()
	dirs := batchDirs{
		output:  t.TempDir(),
		scratch: t.TempDir(),
		token:   t.TempDir(),
	}
	for _, name := range names {
		path := filepath.Join(inputDir, name)
		require.NoError(t, os.WriteFile(path, []byte("not really video"), 0o644))
		dirs.inputs = append(dirs.inputs, path)
	}
	return dirs
}

func (d batchDirs) options(preset *config.Preset, workers int) Options {
	return Options{
		Inputs:     d.inputs,
		OutputDir:  d.output,
		ScratchDir: d.scratch,
		TokenDir:   d.token,
		MaxWorkers: workers,
		Preset:     preset,
	}
}

func TestSchedulerCompletesBatch(t *testing.T) {
	preset := stubPreset(t, stubEncodeScript)
	dirs := newBatchDirs(t, "A.mkv", "B.mkv")

	summary, err := NewScheduler(dirs.options(preset, 2)).Run(t.Context())
	require.NoError(t, err)

	assert.Equal(t, 2, summary.Completed)
	assert.Zero(t, summary.Failed)
	assert.Zero(t, summary.Skipped)
	assert.False(t, summary.Interrupted)

	assert.FileExists(t, filepath.Join(dirs.output, "A.mkv"))
	assert.FileExists(t, filepath.Join(dirs.output, "B.mkv"))
	assert.FileExists(t, filepath.Join(dirs.token, "A.mkv.token"))
	assert.FileExists(t, filepath.Join(dirs.token, "B.mkv.token"))
}

func TestSchedulerSecondWorkerSkipsEverything(t *testing.T) {
	preset := stubPreset(t, stubEncodeScript)
	dirs := newBatchDirs(t, "A.mkv", "B.mkv")

	first, err := NewScheduler(dirs.options(preset, 1)).Run(t.Context())
	require.NoError(t, err)
	require.Equal(t, 2, first.Completed)

	// A second worker over the same token directory finds both inputs done.
	second, err := NewScheduler(dirs.options(preset, 1)).Run(t.Context())
	require.NoError(t, err)
	assert.Zero(t, second.Completed)
	assert.Zero(t, second.Failed)
	assert.Equal(t, 2, second.Skipped)

	// The done marker still carries the first worker's claim and log.
	data, err := os.ReadFile(filepath.Join(dirs.token, "A.mkv.token"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "Claimed by PID")
}

func TestSchedulerHeldTokenSkips(t *testing.T) {
	preset := stubPreset(t, stubEncodeScript)
	dirs := newBatchDirs(t, "A.mkv")

	// Another worker holds the claim and has produced no output yet.
	require.NoError(t, os.WriteFile(
		filepath.Join(dirs.token, "A.mkv.token"),
		[]byte("Claimed by PID 999 at 1754300000\n"), 0o644))

	summary, err := NewScheduler(dirs.options(preset, 1)).Run(t.Context())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Skipped)
	assert.NoFileExists(t, filepath.Join(dirs.output, "A.mkv"))
}

func TestSchedulerFailedJobDoesNotAbortBatch(t *testing.T) {
	preset := stubPreset(t, stubFailScript)
	dirs := newBatchDirs(t, "A.mkv", "B.mkv")

	summary, err := NewScheduler(dirs.options(preset, 1)).Run(t.Context())
	require.NoError(t, err)

	assert.Equal(t, 2, summary.Failed)
	assert.Zero(t, summary.Completed)
	for _, job := range summary.Jobs {
		assert.Equal(t, StatusFailed, job.Status)
		assert.NotEmpty(t, job.ErrorMessage)
	}

	// Failure protocol held for each job: error logs free the claim names.
	assert.FileExists(t, filepath.Join(dirs.token, "A.mkv.token"+ErrorLogSuffix))
	assert.NoFileExists(t, filepath.Join(dirs.token, "A.mkv.token"))
}

func TestSchedulerDropsNonFiles(t *testing.T) {
	preset := stubPreset(t, stubEncodeScript)
	dirs := newBatchDirs(t, "A.mkv", "notes.txt")
	dirs.inputs = append(dirs.inputs,
		filepath.Join(t.TempDir(), "missing.mkv"), // no such file
		t.TempDir(),                               // a directory
	)

	summary, err := NewScheduler(dirs.options(preset, 1)).Run(t.Context())
	require.NoError(t, err)

	// Only the real video file became a job.
	require.Len(t, summary.Jobs, 1)
	assert.Equal(t, 1, summary.Completed)
}

func TestSchedulerShutdownSkipsUnclaimed(t *testing.T) {
	preset := stubPreset(t, stubEncodeScript)
	dirs := newBatchDirs(t, "A.mkv", "B.mkv")

	s := NewScheduler(dirs.options(preset, 1))
	s.shutdown.Store(true)

	summary, err := s.Run(t.Context())
	require.NoError(t, err)

	assert.Equal(t, 2, summary.Skipped)
	assert.True(t, summary.Interrupted)

	// Skips before claim leave no filesystem trace.
	entries, err := os.ReadDir(dirs.token)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestSchedulerMissingTool(t *testing.T) {
	preset := stubPreset(t, stubEncodeScript)
	preset.FFmpegPath = filepath.Join(t.TempDir(), "ffmpeg")
	dirs := newBatchDirs(t, "A.mkv")

	_, err := NewScheduler(dirs.options(preset, 1)).Run(t.Context())
	require.ErrorIs(t, err, ErrDependencyMissing)
}
