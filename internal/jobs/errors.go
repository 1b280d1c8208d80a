package jobs

import (
	"errors"
	"fmt"
)

// Sentinel errors for job scheduling and claiming.
// These can be checked with errors.Is().
var (
	// ErrDependencyMissing means a toolchain binary was not found at startup.
	ErrDependencyMissing = errors.New("toolchain dependency missing")

	// ErrNotClaimed means another worker holds the input's token, or its
	// output already exists. Treated as a skip, never a failure.
	ErrNotClaimed = errors.New("input not claimed")

	// ErrShutdown means shutdown was requested before the job claimed its
	// input.
	ErrShutdown = errors.New("shutdown requested")
)

// dependencyError wraps a missing-tool failure for errors.Is checks.
func dependencyError(err error) error {
	return fmt.Errorf("%w: %v", ErrDependencyMissing, err)
}
