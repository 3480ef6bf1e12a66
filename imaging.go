package seismod

import "math"

// Imaging conditions. Each call folds one adjoint time step into the
// gradient over the padded domain; the orchestrator crops the padding
// when the sweep finishes. The vNext/vCur/vPrev arguments are the
// adjoint field at t+1, t, and t-1, so the second time derivative is
// centered on the step being imaged.

// imageCross applies the zero-lag cross-correlation condition:
// grad -= u(t) * v_tt(t). The sign follows the negative-gradient
// convention of the misfit.
func (s *stencil) imageCross(grad, u, vNext, vCur, vPrev []float64, dt float64) {
	dt2 := dt * dt
	s.parallelRows(func(rows []rowSpan) {
		for _, row := range rows {
			for x := row.x0; x < row.x1; x++ {
				idx := row.base + x
				vtt := (vNext[idx] - 2*vCur[idx] + vPrev[idx]) / dt2
				grad[idx] -= u[idx] * vtt
			}
		}
	})
}

// imageISIC applies the linearized inverse-scattering condition:
// grad -= u*v_tt*m + sum_d d_d(u)*d_d(v). The cross-derivative terms
// suppress the low-frequency backscatter artifacts of the plain
// cross-correlation image.
func (s *stencil) imageISIC(grad, u, vNext, vCur, vPrev []float64, dt float64) {
	if s.scratchA == nil {
		s.scratchA = make([]float64, s.m.Size())
		s.scratchB = make([]float64, s.m.Size())
	}
	m := s.m.M
	dt2 := dt * dt
	s.parallelRows(func(rows []rowSpan) {
		for _, row := range rows {
			for x := row.x0; x < row.x1; x++ {
				idx := row.base + x
				vtt := (vNext[idx] - 2*vCur[idx] + vPrev[idx]) / dt2
				grad[idx] -= u[idx] * vtt * m[idx]
			}
		}
	})
	for d := 0; d < s.m.NDim(); d++ {
		s.deriv1(u, d, s.scratchA)
		s.deriv1(vCur, d, s.scratchB)
		s.parallelRows(func(rows []rowSpan) {
			for _, row := range rows {
				for x := row.x0; x < row.x1; x++ {
					idx := row.base + x
					grad[idx] -= s.scratchA[idx] * s.scratchB[idx]
				}
			}
		})
	}
}

// imageFreq folds one adjoint step against the on-the-fly DFT
// accumulators instead of a stored forward field:
// grad += (2*pi*f)^2/nt * (ufr*cos - ufi*sin) * v(t). The time and
// frequency loops are fused into the same backward sweep.
func (s *stencil) imageFreq(grad []float64, ff *FreqField, vCur []float64, t, nt int, dt float64) {
	for i, fr := range ff.Freqs {
		phase := 2 * math.Pi * fr * float64(t) * dt
		c := math.Cos(phase)
		sn := math.Sin(phase)
		scale := (2 * math.Pi * fr) * (2 * math.Pi * fr) / float64(nt)
		re := ff.Real[i]
		im := ff.Imag[i]
		s.parallelRows(func(rows []rowSpan) {
			for _, row := range rows {
				for x := row.x0; x < row.x1; x++ {
					idx := row.base + x
					grad[idx] += scale * (re[idx]*c - im[idx]*sn) * vCur[idx]
				}
			}
		})
	}
}
