package jobs

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/sync/semaphore"

	"github.com/stampede/stampede/internal/config"
	"github.com/stampede/stampede/internal/ffmpeg"
	"github.com/stampede/stampede/internal/logger"
)

// Options configures one batch run.
type Options struct {
	Inputs     []string
	OutputDir  string
	ScratchDir string
	TokenDir   string
	MaxWorkers int
	Preset     *config.Preset
	Zones      config.ZoneConfig
}

// Summary aggregates the batch outcome. The batch succeeds iff Failed is
// zero; job failures never abort the batch.
type Summary struct {
	Completed   int
	Failed      int
	Skipped     int
	Interrupted bool
	Jobs        []*Job
}

// Scheduler enumerates inputs into jobs and runs them with bounded
// concurrency. Cross-process exclusion is the registry's token directory;
// in-process state (the active table, the shutdown flag) lives on the
// scheduler rather than in package globals.
type Scheduler struct {
	opts     Options
	registry *Registry
	encoder  *Encoder
	sem      *semaphore.Weighted

	shutdown atomic.Bool

	activeMu sync.Mutex
	active   map[string]*Job
}

// NewScheduler creates a scheduler for one batch.
func NewScheduler(opts Options) *Scheduler {
	if opts.MaxWorkers < 1 {
		opts.MaxWorkers = 1
	}
	return &Scheduler{
		opts:     opts,
		registry: NewRegistry(opts.TokenDir, opts.ScratchDir),
		encoder:  NewEncoder(opts.Preset, opts.Zones),
		sem:      semaphore.NewWeighted(int64(opts.MaxWorkers)),
		active:   map[string]*Job{},
	}
}

// Run executes the batch: verify the toolchain, create the working
// directories, launch one task per input bounded by the semaphore, await
// them all, and summarize.
func (s *Scheduler) Run(ctx context.Context) (*Summary, error) {
	if err := ffmpeg.LookupTools(s.opts.Preset.FFmpegPath, s.opts.Preset.FFprobePath); err != nil {
		return nil, dependencyError(err)
	}

	for _, dir := range []string{s.opts.OutputDir, s.opts.ScratchDir, s.opts.TokenDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}

	jobs := s.enumerate()

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go s.watchSignals(sigCh)

	var wg sync.WaitGroup
	for _, job := range jobs {
		wg.Add(1)
		go func(job *Job) {
			defer wg.Done()
			s.runJob(ctx, job)
		}(job)
	}
	wg.Wait()

	summary := &Summary{Interrupted: s.shutdown.Load(), Jobs: jobs}
	for _, job := range jobs {
		switch job.Status {
		case StatusCompleted:
			summary.Completed++
		case StatusFailed:
			summary.Failed++
		default:
			summary.Skipped++
		}
	}
	logger.Info("Batch finished",
		"completed", summary.Completed,
		"failed", summary.Failed,
		"skipped", summary.Skipped)
	return summary, nil
}

// enumerate builds one job per usable input, dropping non-files and
// non-video paths with a warning.
func (s *Scheduler) enumerate() []*Job {
	jobs := make([]*Job, 0, len(s.opts.Inputs))
	for _, input := range s.opts.Inputs {
		st, err := os.Stat(input)
		if err != nil || !st.Mode().IsRegular() {
			logger.Warn("Skipping non-file input", "input", input)
			continue
		}
		if !ffmpeg.IsVideoFile(input) {
			logger.Warn("Skipping input without a video extension", "input", input)
			continue
		}
		jobs = append(jobs, NewJob(input, s.opts.OutputDir))
	}
	return jobs
}

// runJob is one task: wait for a slot, honor shutdown, claim, encode,
// release. Jobs launch in input order; completion order is unspecified.
func (s *Scheduler) runJob(ctx context.Context, job *Job) {
	if err := s.sem.Acquire(ctx, 1); err != nil {
		job.Status = StatusSkipped
		return
	}
	defer s.sem.Release(1)

	if s.shutdown.Load() {
		job.Status = StatusSkipped
		logger.Info("Skipping input, shutdown requested", "input", job.InputPath)
		return
	}

	claimed, err := s.registry.Claim(job)
	if err != nil {
		job.Status = StatusFailed
		job.ErrorMessage = err.Error()
		logger.Error("Claim failed", "input", filepath.Base(job.InputPath), "error", err)
		return
	}
	if !claimed {
		job.Status = StatusSkipped
		logger.Info("Skipping input, already done or claimed elsewhere", "input", job.InputPath)
		return
	}

	s.setActive(job, true)
	defer s.setActive(job, false)
	defer s.registry.Release(job)

	job.Status = StatusInProgress
	job.StartTime = time.Now()
	logger.Info("Job started", "input", filepath.Base(job.InputPath), "token", job.TokenPath)

	err = s.encoder.Run(ctx, job)
	job.EndTime = time.Now()

	if err != nil {
		job.Status = StatusFailed
		job.ErrorMessage = err.Error()
		logger.Error("Job failed", "input", filepath.Base(job.InputPath), "error", err.Error())
		return
	}

	job.Status = StatusCompleted
	s.logCompletion(job)
}

// logCompletion reports timing and size outcomes for one finished job.
func (s *Scheduler) logCompletion(job *Job) {
	args := []any{
		"input", filepath.Base(job.InputPath),
		"took", job.Elapsed().Round(time.Second).String(),
	}
	inSt, inErr := os.Stat(job.InputPath)
	outSt, outErr := os.Stat(job.OutputPath)
	if inErr == nil && outErr == nil {
		args = append(args,
			"input_size", humanize.Bytes(uint64(inSt.Size())),
			"output_size", humanize.Bytes(uint64(outSt.Size())))
	}
	logger.Info("Job complete", args...)
}

// setActive tracks which jobs are encoding right now, for the shutdown
// report.
func (s *Scheduler) setActive(job *Job, on bool) {
	s.activeMu.Lock()
	defer s.activeMu.Unlock()
	if on {
		s.active[job.InputPath] = job
	} else {
		delete(s.active, job.InputPath)
	}
}

func (s *Scheduler) activeInputs() []string {
	s.activeMu.Lock()
	defer s.activeMu.Unlock()
	inputs := make([]string, 0, len(s.active))
	for input := range s.active {
		inputs = append(inputs, filepath.Base(input))
	}
	sort.Strings(inputs)
	return inputs
}

// watchSignals implements the two-stage shutdown: the first signal only
// sets the flag, so unclaimed jobs skip while running encodes finish; the
// second terminates the process. Partial state left by a hard kill is
// cleaned up by the FAILED path on the next invocation.
func (s *Scheduler) watchSignals(sigCh <-chan os.Signal) {
	sig := <-sigCh
	s.shutdown.Store(true)
	logger.Warn("Shutdown requested, waiting for running encodes",
		"signal", sig.String(),
		"encoding", strings.Join(s.activeInputs(), ", "))

	sig = <-sigCh
	logger.Error("Terminating immediately", "signal", sig.String())
	os.Exit(1)
}
