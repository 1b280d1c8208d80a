package jobs

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/stampede/stampede/internal/config"
	"github.com/stampede/stampede/internal/ffmpeg"
	"github.com/stampede/stampede/internal/logger"
)

// Encoder drives one claimed job through the encode state machine:
//
//	ANALYZE -> CROP -> PLAN -> PASS1 -> MEASURE -> PASS2 -> COMMIT
//
// or, for the one-pass form, ANALYZE -> CROP -> PLAN -> ENCODE -> COMMIT.
// Any stage error fails the job; the failure path removes the partial
// output and renames the token to its error log. Scratch files are removed
// on every exit.
type Encoder struct {
	preset *config.Preset
	zones  config.ZoneConfig
	prober *ffmpeg.Prober
}

// NewEncoder creates an encoder driver for the given preset and zone
// settings.
func NewEncoder(preset *config.Preset, zones config.ZoneConfig) *Encoder {
	return &Encoder{
		preset: preset,
		zones:  zones,
		prober: ffmpeg.NewProber(preset.FFprobePath),
	}
}

// Run executes the state machine for one claimed job. The job's token file
// receives all encoder output, so a completed token doubles as the audit
// log and a failed one as the forensic record.
func (e *Encoder) Run(ctx context.Context, job *Job) (err error) {
	defer e.cleanupScratch(job)
	defer func() {
		if err != nil {
			e.fail(job)
		}
	}()

	// ANALYZE
	info, err := e.prober.Analyze(ctx, job.InputPath)
	if err != nil {
		return err
	}

	// CROP
	crop, err := ffmpeg.DetectCrop(ctx, e.preset.FFmpegPath, info,
		e.preset.CropSamples, e.preset.TargetWidth, e.preset.TargetHeight)
	if err != nil {
		return err
	}
	info.Crop = &crop
	logger.Debug("Crop detected", "input", job.InputPath, "crop", crop.FilterArg())

	// PLAN
	zones := ffmpeg.PlanZones(info, e.zones)
	if zones != "" {
		logger.Debug("Zones planned", "input", job.InputPath, "zones", zones)
	}

	sink, err := os.OpenFile(job.TokenPath, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("opening token log: %w", err)
	}
	defer sink.Close()

	if ffmpeg.SelectOnePass(e.preset) {
		// ENCODE
		argv := ffmpeg.BuildOnePass(e.preset, info, zones, job.OutputPath)
		if _, err := ffmpeg.Run(ctx, argv, 0, sink); err != nil {
			return err
		}
	} else {
		// PASS1
		argv := ffmpeg.BuildPassOne(e.preset, info, zones, job.ScratchPrefix)
		if _, err := ffmpeg.Run(ctx, argv, 0, sink); err != nil {
			return err
		}

		// MEASURE
		loudness, err := ffmpeg.ParseLoudnessLog(job.TokenPath)
		if err != nil {
			logger.Warn("Loudness measurements unavailable, using defaults",
				"input", job.InputPath, "error", err)
		}

		// PASS2
		argv = ffmpeg.BuildPassTwo(e.preset, info, zones, job.ScratchPrefix, loudness, job.OutputPath)
		if _, err := ffmpeg.Run(ctx, argv, 0, sink); err != nil {
			return err
		}
	}

	// COMMIT
	if _, err := os.Stat(job.OutputPath); err != nil {
		return fmt.Errorf("encoder exited cleanly but output missing: %w", err)
	}
	return nil
}

// fail applies the failure protocol: drop the partial output and rename the
// token so the claim name frees up while the log survives.
func (e *Encoder) fail(job *Job) {
	if _, err := os.Stat(job.OutputPath); err == nil {
		if err := os.Remove(job.OutputPath); err != nil {
			logger.Warn("Could not remove partial output", "output", job.OutputPath, "error", err)
		}
	}
	if job.TokenPath != "" {
		if err := os.Rename(job.TokenPath, job.TokenPath+ErrorLogSuffix); err != nil {
			logger.Warn("Could not rename token to error log", "token", job.TokenPath, "error", err)
		}
	}
}

// cleanupScratch removes everything the encoder left under the scratch
// prefix, including the prefix file itself.
func (e *Encoder) cleanupScratch(job *Job) {
	if job.ScratchPrefix == "" {
		return
	}
	matches, err := filepath.Glob(job.ScratchPrefix + "*")
	if err != nil {
		logger.Warn("Scratch cleanup glob failed", "prefix", job.ScratchPrefix, "error", err)
		return
	}
	for _, path := range matches {
		if err := os.Remove(path); err != nil {
			logger.Warn("Could not remove scratch file", "path", path, "error", err)
		}
	}
}
