// Package cmd implements the CLI for the stampede worker.
package cmd

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/stampede/stampede/internal/config"
	"github.com/stampede/stampede/internal/jobs"
	"github.com/stampede/stampede/internal/logger"
	"github.com/stampede/stampede/internal/report"
)

const version = "0.4.0"

// errUsage marks argument validation failures, mapped to exit code 2.
var errUsage = errors.New("invalid arguments")

// parsed flips once flag parsing succeeded, so Execute can tell argument
// errors (exit 2) from runtime failures (exit 1).
var parsed bool

// exitCode is the process exit code for a run that returned no error:
// 0 when every job succeeded, 1 when any failed or the batch was
// interrupted.
var exitCode int

var flags struct {
	inputs            []string
	outputDir         string
	scratchDir        string
	tokenDir          string
	preset            string
	configPath        string
	jobs              int
	onePass           bool
	titleRate         *config.ZoneRate
	closingRate       *config.ZoneRate
	skipFirstEpisodes bool
	listPresets       bool
	reportPath        string
	verbose           bool
}

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:     "stampede",
	Short:   "Distributed batch H.265 transcoder",
	Version: version,
	Long: `stampede converts batches of video files to H.265 using a shared
filesystem to divide the work between independent worker processes.

Workers claim inputs through exclusive token files in a shared token
directory, so any number of processes on any number of hosts can run the
same batch without a broker or a queue server. Each claimed input is
analyzed, crop-detected, zone-planned, and encoded in one or two passes
with loudness-normalized Opus audio.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          run,
}

// Execute runs the root command and returns the process exit code:
// 0 on success, 1 on job failure or interruption, 2 on argument errors.
func Execute() int {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		if !parsed || errors.Is(err, errUsage) {
			return 2
		}
		return 1
	}
	return exitCode
}

func init() {
	f := rootCmd.Flags()
	f.StringArrayVarP(&flags.inputs, "inputs", "i", nil, "input video paths (repeatable)")
	f.StringVarP(&flags.outputDir, "output-dir", "o", "", "directory for encoded outputs")
	f.StringVarP(&flags.scratchDir, "scratch-dir", "s", "", "worker-local directory for pass statistics")
	f.StringVarP(&flags.tokenDir, "token-dir", "t", "", "shared directory for claim tokens")
	f.StringVarP(&flags.preset, "preset", "p", "", "preset name from the config file")
	f.StringVarP(&flags.configPath, "config", "c", "presets.ini", "path to the preset file")
	f.IntVarP(&flags.jobs, "jobs", "j", 1, "concurrent encodes in this process")
	f.BoolVarP(&flags.onePass, "one-pass", "1", false, "force the one-pass encode form")
	f.Var(&zoneRateValue{&flags.titleRate}, "title-rate", "title-sequence zone as \"seconds,multiplier\"")
	f.Var(&zoneRateValue{&flags.closingRate}, "closing-rate", "closing-credits zone as \"seconds,multiplier\"")
	f.BoolVar(&flags.skipFirstEpisodes, "skip-rate-for-first-episodes", false, "no zone rewrites for E01 titles")
	f.BoolVarP(&flags.listPresets, "list-presets", "l", false, "list preset names from the config file and exit")
	f.StringVar(&flags.reportPath, "report", "", "write a YAML batch report to this path")
	f.BoolVarP(&flags.verbose, "verbose", "v", false, "debug logging")
}

func run(cmd *cobra.Command, _ []string) error {
	parsed = true

	level := "info"
	if flags.verbose {
		level = "debug"
	}
	logger.Init(level)

	store, err := config.Load(flags.configPath)
	if err != nil {
		return err
	}

	if flags.listPresets {
		for _, name := range store.Names() {
			fmt.Println(name)
		}
		return nil
	}

	if len(flags.inputs) == 0 {
		return fmt.Errorf("%w: at least one -i/--inputs path is required", errUsage)
	}
	if flags.outputDir == "" || flags.scratchDir == "" || flags.tokenDir == "" {
		return fmt.Errorf("%w: -o, -s and -t directories are required", errUsage)
	}
	if flags.preset == "" {
		return fmt.Errorf("%w: -p/--preset is required", errUsage)
	}
	if flags.jobs < 1 {
		return fmt.Errorf("%w: -j/--jobs must be a positive integer", errUsage)
	}

	preset, err := store.Preset(flags.preset)
	if err != nil {
		return fmt.Errorf("%w: %v", errUsage, err)
	}
	// Only an explicit flag overrides the preset's one_pass key.
	if cmd.Flags().Changed("one-pass") {
		preset.OnePass = flags.onePass
	}

	zones := config.ZoneConfig{
		TitleRate:         flags.titleRate,
		ClosingRate:       flags.closingRate,
		SkipFirstEpisodes: flags.skipFirstEpisodes,
	}

	logger.Info("stampede starting",
		"version", version,
		"preset", preset.Name,
		"inputs", len(flags.inputs),
		"jobs", flags.jobs,
		"pid", os.Getpid())

	started := time.Now()
	scheduler := jobs.NewScheduler(jobs.Options{
		Inputs:     flags.inputs,
		OutputDir:  flags.outputDir,
		ScratchDir: flags.scratchDir,
		TokenDir:   flags.tokenDir,
		MaxWorkers: flags.jobs,
		Preset:     preset,
		Zones:      zones,
	})
	summary, err := scheduler.Run(cmd.Context())
	if err != nil {
		return err
	}

	if flags.reportPath != "" {
		if err := report.Write(flags.reportPath, buildReport(preset.Name, started, summary)); err != nil {
			logger.Warn("Could not write batch report", "path", flags.reportPath, "error", err)
		}
	}

	fmt.Printf("completed=%d failed=%d skipped=%d\n",
		summary.Completed, summary.Failed, summary.Skipped)

	if summary.Failed > 0 || summary.Interrupted {
		exitCode = 1
	}
	return nil
}

// zoneRateValue adapts a ZoneRate pointer to the flag set, so malformed
// --title-rate and --closing-rate operands are rejected during flag parsing
// and reported as argument errors.
type zoneRateValue struct {
	target **config.ZoneRate
}

var _ pflag.Value = (*zoneRateValue)(nil)

func (z *zoneRateValue) String() string {
	if *z.target == nil {
		return ""
	}
	r := **z.target
	return strconv.FormatFloat(r.Seconds, 'f', -1, 64) + "," +
		strconv.FormatFloat(r.Multiplier, 'f', -1, 64)
}

func (z *zoneRateValue) Set(s string) error {
	rate, err := config.ParseZoneRate(s)
	if err != nil {
		return err
	}
	*z.target = rate
	return nil
}

func (z *zoneRateValue) Type() string {
	return "seconds,multiplier"
}

// buildReport maps the scheduler summary onto the report schema.
func buildReport(preset string, started time.Time, summary *jobs.Summary) *report.Batch {
	batch := &report.Batch{
		StartedAt:   started,
		FinishedAt:  time.Now(),
		Preset:      preset,
		Completed:   summary.Completed,
		Failed:      summary.Failed,
		Skipped:     summary.Skipped,
		Interrupted: summary.Interrupted,
		Jobs:        make([]report.Job, 0, len(summary.Jobs)),
	}
	for _, job := range summary.Jobs {
		entry := report.Job{
			Input:    job.InputPath,
			Status:   string(job.Status),
			Error:    job.ErrorMessage,
			Duration: job.Elapsed().Seconds(),
		}
		if job.Status == jobs.StatusCompleted {
			entry.Output = job.OutputPath
		}
		batch.Jobs = append(batch.Jobs, entry)
	}
	return batch
}
