package seismod

import (
	"fmt"
	"math"
)

// Model holds the immutable per-run description of the medium: the
// squared-slowness field over the padded domain, the absorbing-layer
// damping field, grid geometry, and the derived stability bound.
type Model struct {
	// Shape is the interior grid size per dimension (2-D or 3-D).
	Shape []int
	// Dims is the padded grid size: Shape plus NB cells on each side.
	Dims []int
	// Spacing is the grid step per dimension in meters.
	Spacing []float64
	// Origin is the physical coordinate of the first interior cell.
	Origin []float64
	// NB is the absorbing boundary thickness in cells.
	NB int

	// M is squared slowness (s^2/m^2) over the padded domain.
	M []float64
	// Damp is the damping field over the padded domain, zero outside
	// the absorbing layer.
	Damp []float64

	strides []int
	size    int
}

// dampReflectTarget sets the sponge strength: the taper is sized to
// attenuate a normally incident wave to this fraction over NB cells.
const dampReflectTarget = 0.001

// NewModel builds a model from an interior velocity field (m/s). The
// velocity is edge-replicated into the absorbing layer and the damping
// profile is a quadratic taper over the layer thickness.
func NewModel(shape []int, spacing, origin []float64, nb int, vel []float64) (*Model, error) {
	if len(shape) != 2 && len(shape) != 3 {
		return nil, fmt.Errorf("%w: model must be 2-D or 3-D, got %d dimensions", ErrShapeMismatch, len(shape))
	}
	if len(spacing) != len(shape) {
		return nil, fmt.Errorf("%w: %d spacing values for %d dimensions", ErrShapeMismatch, len(spacing), len(shape))
	}
	if origin == nil {
		origin = make([]float64, len(shape))
	}
	if len(origin) != len(shape) {
		return nil, fmt.Errorf("%w: %d origin values for %d dimensions", ErrShapeMismatch, len(origin), len(shape))
	}
	n := 1
	for d, s := range shape {
		if s < 3 {
			return nil, fmt.Errorf("%w: shape[%d]=%d below minimum of 3", ErrShapeMismatch, d, s)
		}
		if spacing[d] <= 0 {
			return nil, fmt.Errorf("%w: spacing[%d] must be positive", ErrShapeMismatch, d)
		}
		n *= s
	}
	if nb < 0 {
		return nil, fmt.Errorf("%w: negative boundary thickness", ErrShapeMismatch)
	}
	if len(vel) != n {
		return nil, fmt.Errorf("%w: velocity has %d cells, interior needs %d", ErrShapeMismatch, len(vel), n)
	}
	vmax := 0.0
	for i, v := range vel {
		if v <= 0 {
			return nil, fmt.Errorf("%w: non-positive velocity at cell %d", ErrShapeMismatch, i)
		}
		if v > vmax {
			vmax = v
		}
	}

	m := &Model{
		Shape:   append([]int(nil), shape...),
		Spacing: append([]float64(nil), spacing...),
		Origin:  append([]float64(nil), origin...),
		NB:      nb,
	}
	m.Dims = make([]int, len(shape))
	for d := range shape {
		m.Dims[d] = shape[d] + 2*nb
	}
	m.initStrides()
	m.M = make([]float64, m.size)
	m.Damp = make([]float64, m.size)

	// Edge-replicated squared slowness over the padded domain.
	pt := make([]int, len(shape))
	for idx := 0; idx < m.size; idx++ {
		m.decode(idx, pt)
		iidx := 0
		for d, s := range m.Shape {
			c := clampInt(pt[d]-nb, 0, s-1)
			iidx = iidx*s + c
		}
		v := vel[iidx]
		m.M[idx] = 1.0 / (v * v)
	}

	m.buildDamp(vmax)
	return m, nil
}

// NewModelRaw wraps caller-supplied padded squared-slowness and damping
// arrays directly, for callers that build the medium themselves.
func NewModelRaw(shape []int, spacing, origin []float64, nb int, m, damp []float64) (*Model, error) {
	if len(shape) != 2 && len(shape) != 3 {
		return nil, fmt.Errorf("%w: model must be 2-D or 3-D, got %d dimensions", ErrShapeMismatch, len(shape))
	}
	if len(spacing) != len(shape) {
		return nil, fmt.Errorf("%w: %d spacing values for %d dimensions", ErrShapeMismatch, len(spacing), len(shape))
	}
	if origin == nil {
		origin = make([]float64, len(shape))
	}
	mdl := &Model{
		Shape:   append([]int(nil), shape...),
		Spacing: append([]float64(nil), spacing...),
		Origin:  append([]float64(nil), origin...),
		NB:      nb,
	}
	mdl.Dims = make([]int, len(shape))
	for d := range shape {
		mdl.Dims[d] = shape[d] + 2*nb
	}
	mdl.initStrides()
	if len(m) != mdl.size {
		return nil, fmt.Errorf("%w: squared slowness has %d cells, padded domain needs %d", ErrShapeMismatch, len(m), mdl.size)
	}
	if damp == nil {
		damp = make([]float64, mdl.size)
	}
	if len(damp) != mdl.size {
		return nil, fmt.Errorf("%w: damping field has %d cells, padded domain needs %d", ErrShapeMismatch, len(damp), mdl.size)
	}
	mdl.M = m
	mdl.Damp = damp
	return mdl, nil
}

func (m *Model) initStrides() {
	nd := len(m.Dims)
	m.strides = make([]int, nd)
	m.strides[nd-1] = 1
	for d := nd - 2; d >= 0; d-- {
		m.strides[d] = m.strides[d+1] * m.Dims[d+1]
	}
	m.size = m.strides[0] * m.Dims[0]
}

// buildDamp fills the absorbing layer with a quadratic sponge profile
// scaled by local squared slowness, so the damping term in
// m*u_tt - lap(u) + damp*u_t keeps consistent units.
func (m *Model) buildDamp(vmax float64) {
	if m.NB == 0 {
		return
	}
	width := 0.0
	for _, h := range m.Spacing {
		width += float64(m.NB) * h
	}
	width /= float64(len(m.Spacing))
	etaMax := 1.5 * vmax * math.Log(1.0/dampReflectTarget) / width

	pt := make([]int, len(m.Dims))
	for idx := 0; idx < m.size; idx++ {
		m.decode(idx, pt)
		depth := 0.0
		for d, c := range pt {
			var dd int
			if c < m.NB {
				dd = m.NB - c
			} else if c >= m.Dims[d]-m.NB {
				dd = c - (m.Dims[d] - m.NB - 1)
			}
			r := float64(dd) / float64(m.NB)
			if r > depth {
				depth = r
			}
		}
		if depth > 0 {
			m.Damp[idx] = etaMax * depth * depth * m.M[idx]
		}
	}
}

// NDim returns the number of spatial dimensions.
func (m *Model) NDim() int { return len(m.Shape) }

// Size returns the number of cells in the padded domain.
func (m *Model) Size() int { return m.size }

// CriticalDt returns the largest stable time step for the given space
// order, from the CFL bound dt <= 2*sqrt(m_min / max eigenvalue of the
// discrete Laplacian). Callers may use a smaller dt; larger values risk
// instability and are not rejected.
func (m *Model) CriticalDt(spaceOrder int) float64 {
	coeffs := secondDerivCoeffs[spaceOrder]
	if coeffs == nil {
		coeffs = secondDerivCoeffs[DefaultSpaceOrder]
	}
	absSum := math.Abs(coeffs[0])
	for _, c := range coeffs[1:] {
		absSum += 2 * math.Abs(c)
	}
	lamMax := 0.0
	for _, h := range m.Spacing {
		lamMax += absSum / (h * h)
	}
	mMin := math.Inf(1)
	for _, v := range m.M {
		if v < mMin {
			mMin = v
		}
	}
	return 2 * math.Sqrt(mMin/lamMax)
}

// decode expands a flat padded-domain index into per-dimension cells.
func (m *Model) decode(idx int, out []int) {
	for d := 0; d < len(m.Dims); d++ {
		out[d] = idx / m.strides[d]
		idx -= out[d] * m.strides[d]
	}
}

// Interior copies the interior region of a padded-domain field,
// dropping the absorbing layer.
func (m *Model) Interior(field []float64) []float64 {
	n := 1
	for _, s := range m.Shape {
		n *= s
	}
	out := make([]float64, n)
	pt := make([]int, len(m.Shape))
	for i := 0; i < n; i++ {
		rem := i
		for d := len(m.Shape) - 1; d >= 0; d-- {
			pt[d] = rem % m.Shape[d]
			rem /= m.Shape[d]
		}
		idx := 0
		for d := range pt {
			idx += (pt[d] + m.NB) * m.strides[d]
		}
		out[i] = field[idx]
	}
	return out
}

// embed places an interior-domain field into a zero-filled padded
// domain, the inverse of Interior.
func (m *Model) embed(field []float64) ([]float64, error) {
	n := 1
	for _, s := range m.Shape {
		n *= s
	}
	if len(field) != n {
		return nil, fmt.Errorf("%w: interior field has %d cells, want %d", ErrShapeMismatch, len(field), n)
	}
	out := make([]float64, m.size)
	pt := make([]int, len(m.Shape))
	for i := 0; i < n; i++ {
		rem := i
		for d := len(m.Shape) - 1; d >= 0; d-- {
			pt[d] = rem % m.Shape[d]
			rem /= m.Shape[d]
		}
		idx := 0
		for d := range pt {
			idx += (pt[d] + m.NB) * m.strides[d]
		}
		out[idx] = field[i]
	}
	return out, nil
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
