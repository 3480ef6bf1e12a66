package seismod

import (
	"runtime"
	"sync"
)

// rowSpan is one contiguous interior run along the innermost dimension.
type rowSpan struct {
	base   int
	x0, x1 int
}

// stencil evaluates the explicit finite-difference updates over the
// interior of the padded domain. The outer radius ring (half the space
// order) is never written; it acts as a zero Dirichlet halo inside the
// absorbing layer, so the update formula needs no edge special cases.
type stencil struct {
	m       *Model
	order   int
	rad     int
	lap     [][]float64
	lap0    float64
	rows    []rowSpan
	workers int

	scratchA []float64
	scratchB []float64
}

func newStencil(m *Model, order int) (*stencil, error) {
	if err := checkSpaceOrder(order); err != nil {
		return nil, err
	}
	s := &stencil{
		m:     m,
		order: order,
		rad:   order / 2,
		lap:   laplaceWeights(order, m.Spacing),
	}
	for _, w := range s.lap {
		s.lap0 += w[0]
	}
	s.buildRows()
	s.workers = runtime.NumCPU()
	if s.workers > len(s.rows) {
		s.workers = len(s.rows)
	}
	if s.workers < 1 {
		s.workers = 1
	}
	return s, nil
}

func (s *stencil) buildRows() {
	dims := s.m.Dims
	nd := len(dims)
	last := nd - 1
	count := 1
	for d := 0; d < last; d++ {
		count *= dims[d] - 2*s.rad
	}
	s.rows = make([]rowSpan, 0, count)
	pt := make([]int, last)
	for d := range pt {
		pt[d] = s.rad
	}
	for {
		base := 0
		for d := 0; d < last; d++ {
			base += pt[d] * s.m.strides[d]
		}
		s.rows = append(s.rows, rowSpan{base: base, x0: s.rad, x1: dims[last] - s.rad})
		d := last - 1
		for ; d >= 0; d-- {
			pt[d]++
			if pt[d] < dims[d]-s.rad {
				break
			}
			pt[d] = s.rad
		}
		if d < 0 {
			break
		}
	}
}

// parallelRows runs fn over disjoint blocks of interior rows, one
// goroutine per worker. Rows are independent within a single step, so
// no synchronization beyond the final wait is needed.
func (s *stencil) parallelRows(fn func(rows []rowSpan)) {
	per := (len(s.rows) + s.workers - 1) / s.workers
	var wg sync.WaitGroup
	for w := 0; w < s.workers; w++ {
		r0 := w * per
		if r0 >= len(s.rows) {
			break
		}
		r1 := r0 + per
		if r1 > len(s.rows) {
			r1 = len(s.rows)
		}
		wg.Add(1)
		go func(rows []rowSpan) {
			defer wg.Done()
			fn(rows)
		}(s.rows[r0:r1])
	}
	wg.Wait()
}

// step advances one wavefield one time step:
//
//	next = (2*cur - (1-s)*prev + dt^2/m*(lap(cur) - q)) / (1+s)
//
// with s = damp*dt/(2m). This is the forward update solved for u(t+1)
// from m*u_tt - lap(u) + damp*u_t = 0. The adjoint runs the same
// formula backward in time with prev and next exchanged: reversing the
// loop direction and flipping the damping sign cancel, which is what
// makes the backward sweep the transpose of the forward one.
//
// q is an optional extra source term (the Born scattering source); nil
// means zero.
func (s *stencil) step(prev, cur, next []float64, dt float64, q []float64) {
	m := s.m.M
	damp := s.m.Damp
	strides := s.m.strides
	dt2 := dt * dt
	s.parallelRows(func(rows []rowSpan) {
		for _, row := range rows {
			for x := row.x0; x < row.x1; x++ {
				idx := row.base + x
				lap := s.lap0 * cur[idx]
				for d, w := range s.lap {
					str := strides[d]
					for k := 1; k < len(w); k++ {
						lap += w[k] * (cur[idx-k*str] + cur[idx+k*str])
					}
				}
				if q != nil {
					lap -= q[idx]
				}
				sd := damp[idx] * dt / (2 * m[idx])
				next[idx] = (2*cur[idx] - (1-sd)*prev[idx] + dt2/m[idx]*lap) / (1 + sd)
			}
		}
	})
}

// deriv1 writes the centered first derivative of field along dimension
// d into out, using the half-order stencil of the inverse-scattering
// terms. Cells outside the interior keep whatever out already holds.
func (s *stencil) deriv1(field []float64, d int, out []float64) {
	w := derivWeights(gradOrder(s.order), s.m.Spacing[d])
	str := s.m.strides[d]
	s.parallelRows(func(rows []rowSpan) {
		for _, row := range rows {
			for x := row.x0; x < row.x1; x++ {
				idx := row.base + x
				v := 0.0
				for k := 1; k <= len(w); k++ {
					v += w[k-1] * (field[idx+k*str] - field[idx-k*str])
				}
				out[idx] = v
			}
		}
	})
}

// bornSource fills q with the linearized scattering source for the
// current time step. Standard Born uses dm*u_tt; the inverse-scattering
// variant uses dm*u_tt*m minus the spatial cross term
// sum_d d_d(d_d(u)*dm).
func (s *stencil) bornSource(q, dm, uPrev, uCur, uNext []float64, dt float64, isic bool) {
	m := s.m.M
	dt2 := dt * dt
	s.parallelRows(func(rows []rowSpan) {
		for _, row := range rows {
			for x := row.x0; x < row.x1; x++ {
				idx := row.base + x
				utt := (uNext[idx] - 2*uCur[idx] + uPrev[idx]) / dt2
				if isic {
					q[idx] = dm[idx] * utt * m[idx]
				} else {
					q[idx] = dm[idx] * utt
				}
			}
		}
	})
	if !isic {
		return
	}
	if s.scratchA == nil {
		s.scratchA = make([]float64, s.m.Size())
		s.scratchB = make([]float64, s.m.Size())
	}
	for d := 0; d < s.m.NDim(); d++ {
		s.deriv1(uCur, d, s.scratchA)
		s.parallelRows(func(rows []rowSpan) {
			for _, row := range rows {
				for x := row.x0; x < row.x1; x++ {
					idx := row.base + x
					s.scratchA[idx] *= dm[idx]
				}
			}
		})
		s.deriv1(s.scratchA, d, s.scratchB)
		s.parallelRows(func(rows []rowSpan) {
			for _, row := range rows {
				for x := row.x0; x < row.x1; x++ {
					idx := row.base + x
					q[idx] -= s.scratchB[idx]
				}
			}
		})
	}
}
