package seismod

import (
	"errors"
	"fmt"
)

// Errors reported by the modeling operations.
var (
	// ErrShapeMismatch indicates model, coordinate, or data buffer
	// dimensions that do not agree with each other.
	ErrShapeMismatch = errors.New("seismod: shape mismatch")

	// ErrMissingInput indicates a required input was not supplied.
	ErrMissingInput = errors.New("seismod: missing required input")

	// ErrNonFinite indicates a wavefield produced NaN or Inf values,
	// usually because dt exceeded the critical time step.
	ErrNonFinite = errors.New("seismod: non-finite values in wavefield")

	// ErrCheckpointBudget indicates the checkpoint budget cannot
	// complete a reverse sweep. Reported at schedule construction,
	// before any stepping happens.
	ErrCheckpointBudget = errors.New("seismod: insufficient checkpoint budget")

	// ErrGPUUnavailable indicates the OpenCL solver was requested but
	// is not compiled in or no device was found.
	ErrGPUUnavailable = errors.New("seismod: OpenCL solver unavailable")
)

// RunError wraps an error raised partway through a time loop with the
// step at which it was detected.
type RunError struct {
	Step int
	Time float64
	Err  error
}

func (e *RunError) Error() string {
	return fmt.Sprintf("step %d (t=%.6f): %v", e.Step, e.Time, e.Err)
}

func (e *RunError) Unwrap() error { return e.Err }
