package jobs

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/stampede/stampede/internal/logger"
)

// ErrorLogSuffix is appended to a failed job's token file, preserving the
// encoder log for inspection while freeing the claim name.
const ErrorLogSuffix = ".error_log"

// Registry implements filesystem-based mutual exclusion over a shared token
// directory. The claim relies on the filesystem honoring exclusive create;
// that holds on local filesystems and on NFS/SMB mounts with O_EXCL
// support. The token file is the only cross-process state: while a worker
// holds a live token and the output does not exist, no other worker may
// encode that input.
type Registry struct {
	tokenDir   string
	scratchDir string
}

// NewRegistry creates a registry over the shared token directory and the
// worker-local scratch directory.
func NewRegistry(tokenDir, scratchDir string) *Registry {
	return &Registry{tokenDir: tokenDir, scratchDir: scratchDir}
}

// TokenPath is the claim file for one input.
func (r *Registry) TokenPath(inputPath string) string {
	return filepath.Join(r.tokenDir, filepath.Base(inputPath)+".token")
}

// Claim attempts to take exclusive ownership of the job's input.
//
// If the output already exists the input is marked done by touching an
// empty token (idempotent) and the claim is declined. Otherwise the token
// is created with O_EXCL: winning the race writes the claim line and a
// uniquely named scratch file, losing it declines without side effects.
func (r *Registry) Claim(job *Job) (bool, error) {
	tokenPath := r.TokenPath(job.InputPath)

	if _, err := os.Stat(job.OutputPath); err == nil {
		if f, err := os.OpenFile(tokenPath, os.O_CREATE|os.O_WRONLY, 0o644); err == nil {
			f.Close()
		}
		return false, nil
	}

	f, err := os.OpenFile(tokenPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return false, nil
		}
		return false, fmt.Errorf("creating token %s: %w", tokenPath, err)
	}
	if _, err := fmt.Fprintf(f, "Claimed by PID %d at %d\n", os.Getpid(), time.Now().Unix()); err != nil {
		f.Close()
		os.Remove(tokenPath)
		return false, fmt.Errorf("writing token %s: %w", tokenPath, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tokenPath)
		return false, fmt.Errorf("closing token %s: %w", tokenPath, err)
	}

	scratchPrefix, err := r.createScratch(job.InputPath)
	if err != nil {
		os.Remove(tokenPath)
		return false, err
	}

	job.TokenPath = tokenPath
	job.ScratchPrefix = scratchPrefix
	return true, nil
}

// createScratch creates a uniquely named scratch file whose path doubles as
// the prefix for the encoder's statistics files.
func (r *Registry) createScratch(inputPath string) (string, error) {
	name := fmt.Sprintf("%s.%s", filepath.Base(inputPath), uuid.NewString())
	path := filepath.Join(r.scratchDir, name)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return "", fmt.Errorf("creating scratch file %s: %w", path, err)
	}
	f.Close()
	return path, nil
}

// Release finalizes the claim according to the job's terminal status.
//
// Completed jobs keep their token: it now contains the full encoder log and
// serves as the done marker. Failed jobs had their token renamed with
// ErrorLogSuffix by the driver; if that rename did not happen the token is
// deleted so another worker may retry later. Skips have no filesystem
// effect.
func (r *Registry) Release(job *Job) {
	if job.Status != StatusFailed || job.TokenPath == "" {
		return
	}
	if _, err := os.Stat(job.TokenPath); err == nil {
		if err := os.Remove(job.TokenPath); err != nil {
			logger.Warn("Could not remove stale token", "token", job.TokenPath, "error", err)
		}
	}
}
