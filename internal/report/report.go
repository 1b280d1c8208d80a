// Package report serializes a machine-readable batch summary.
package report

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Job is one input's outcome in the report.
type Job struct {
	Input    string  `yaml:"input"`
	Output   string  `yaml:"output,omitempty"`
	Status   string  `yaml:"status"`
	Error    string  `yaml:"error,omitempty"`
	Duration float64 `yaml:"duration_s,omitempty"`
}

// Batch is the full report written after a run.
type Batch struct {
	StartedAt   time.Time `yaml:"started_at"`
	FinishedAt  time.Time `yaml:"finished_at"`
	Preset      string    `yaml:"preset"`
	Completed   int       `yaml:"completed"`
	Failed      int       `yaml:"failed"`
	Skipped     int       `yaml:"skipped"`
	Interrupted bool      `yaml:"interrupted,omitempty"`
	Jobs        []Job     `yaml:"jobs"`
}

// Write marshals the batch report to path as YAML.
func Write(path string, b *Batch) error {
	data, err := yaml.Marshal(b)
	if err != nil {
		return fmt.Errorf("marshaling report: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing report %s: %w", path, err)
	}
	return nil
}
