//go:build !opencl

package seismod

import "fmt"

// runForwardGPU is compiled in only with -tags opencl.
func runForwardGPU(_ *Model, _ *stencil, _ *Sparse, _ []float64, _ *Sparse, _ *Gather, _ *Wavefield, _ float64) error {
	return fmt.Errorf("%w: built without OpenCL support (build with -tags opencl)", ErrGPUUnavailable)
}
