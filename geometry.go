package seismod

import (
	"fmt"
	"math"
)

// Sparse couples continuous source or receiver positions to the grid.
// Each point carries a precomputed multilinear footprint (2^ndim cells)
// with interpolation weights; injection scatter-adds through the
// weights and sampling gathers through the same weights, so the two
// operations are transposes of each other.
type Sparse struct {
	N       int
	corners [][]int
	weights [][]float64
}

// NewSparse validates the coordinates against the model geometry and
// precomputes footprints. Coordinates are physical positions in meters
// relative to the model origin and must lie inside the interior domain.
func NewSparse(m *Model, coords [][]float64) (*Sparse, error) {
	if len(coords) == 0 {
		return nil, fmt.Errorf("%w: no coordinates", ErrMissingInput)
	}
	nd := m.NDim()
	s := &Sparse{
		N:       len(coords),
		corners: make([][]int, len(coords)),
		weights: make([][]float64, len(coords)),
	}
	nc := 1 << nd
	lo := make([]int, nd)
	frac := make([]float64, nd)
	for p, c := range coords {
		if len(c) != nd {
			return nil, fmt.Errorf("%w: coordinate %d has %d components, model is %d-D", ErrShapeMismatch, p, len(c), nd)
		}
		for d := 0; d < nd; d++ {
			g := (c[d] - m.Origin[d]) / m.Spacing[d]
			if g < 0 || g > float64(m.Shape[d]-1) {
				return nil, fmt.Errorf("%w: coordinate %d outside the model along dimension %d", ErrShapeMismatch, p, d)
			}
			lo[d] = int(math.Floor(g))
			frac[d] = g - float64(lo[d])
			if lo[d] == m.Shape[d]-1 {
				// Point exactly on the far edge: collapse onto the edge cell.
				lo[d]--
				frac[d] = 1
			}
		}
		corners := make([]int, nc)
		weights := make([]float64, nc)
		for k := 0; k < nc; k++ {
			idx := 0
			w := 1.0
			for d := 0; d < nd; d++ {
				cell := lo[d] + m.NB
				f := 1 - frac[d]
				if k&(1<<d) != 0 {
					cell++
					f = frac[d]
				}
				idx += cell * m.strides[d]
				w *= f
			}
			corners[k] = idx
			weights[k] = w
		}
		s.corners[p] = corners
		s.weights[p] = weights
	}
	return s, nil
}

// Inject scatter-adds one time sample per point into the field, scaled
// by dt^2/m at the target cell to match the discretized right-hand
// side. Contributions from points sharing a cell accumulate.
func (s *Sparse) Inject(m *Model, field []float64, amps []float64, dt float64) {
	dt2 := dt * dt
	for p := 0; p < s.N; p++ {
		a := amps[p]
		if a == 0 {
			continue
		}
		corners := s.corners[p]
		weights := s.weights[p]
		for k, idx := range corners {
			field[idx] += weights[k] * a * dt2 / m.M[idx]
		}
	}
}

// Sample gathers the interpolated field value at every point into out.
func (s *Sparse) Sample(field []float64, out []float64) {
	for p := 0; p < s.N; p++ {
		corners := s.corners[p]
		weights := s.weights[p]
		v := 0.0
		for k, idx := range corners {
			v += weights[k] * field[idx]
		}
		out[p] = v
	}
}

// Gather is a dense ntime-by-npoint amplitude buffer: the wavelet for
// sources, recorded or adjoint-source data for receivers.
type Gather struct {
	NT, NR int
	Data   []float64
}

// NewGather allocates a zeroed nt-by-nr gather.
func NewGather(nt, nr int) *Gather {
	return &Gather{NT: nt, NR: nr, Data: make([]float64, nt*nr)}
}

// Row returns the amplitude slice for time step t.
func (g *Gather) Row(t int) []float64 {
	return g.Data[t*g.NR : (t+1)*g.NR]
}
