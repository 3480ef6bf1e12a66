package seismod

import (
	"errors"
	"math"
	"testing"
)

func uniformModel(t *testing.T, shape []int, spacing []float64, nb int, vel float64) *Model {
	t.Helper()
	n := 1
	for _, s := range shape {
		n *= s
	}
	v := make([]float64, n)
	for i := range v {
		v[i] = vel
	}
	m, err := NewModel(shape, spacing, nil, nb, v)
	if err != nil {
		t.Fatalf("NewModel: %v", err)
	}
	return m
}

func TestNewModel_RejectsBadShapes(t *testing.T) {
	vel := make([]float64, 25)
	for i := range vel {
		vel[i] = 1.5
	}
	cases := []struct {
		name    string
		shape   []int
		spacing []float64
		vel     []float64
	}{
		{"1-D", []int{25}, []float64{10}, vel},
		{"4-D", []int{5, 5, 5, 5}, []float64{10, 10, 10, 10}, vel},
		{"spacing count", []int{5, 5}, []float64{10}, vel},
		{"velocity count", []int{5, 5}, []float64{10, 10}, vel[:10]},
		{"zero spacing", []int{5, 5}, []float64{0, 10}, vel},
	}
	for _, tc := range cases {
		_, err := NewModel(tc.shape, tc.spacing, nil, 4, tc.vel)
		if !errors.Is(err, ErrShapeMismatch) {
			t.Errorf("%s: err = %v, want ErrShapeMismatch", tc.name, err)
		}
	}
}

func TestNewModel_RejectsNonPositiveVelocity(t *testing.T) {
	vel := make([]float64, 25)
	for i := range vel {
		vel[i] = 1.5
	}
	vel[12] = 0
	if _, err := NewModel([]int{5, 5}, []float64{10, 10}, nil, 4, vel); !errors.Is(err, ErrShapeMismatch) {
		t.Fatalf("err = %v, want ErrShapeMismatch", err)
	}
}

func TestNewModel_PaddedGeometry(t *testing.T) {
	m := uniformModel(t, []int{11, 21}, []float64{10, 10}, 5, 2.0)
	if m.Dims[0] != 21 || m.Dims[1] != 31 {
		t.Fatalf("Dims = %v, want [21 31]", m.Dims)
	}
	if m.Size() != 21*31 {
		t.Fatalf("Size = %d, want %d", m.Size(), 21*31)
	}
	want := 1.0 / (2.0 * 2.0)
	for i, v := range m.M {
		if math.Abs(v-want) > 1e-15 {
			t.Fatalf("M[%d] = %g, want %g", i, v, want)
		}
	}
}

func TestNewModel_DampingProfile(t *testing.T) {
	m := uniformModel(t, []int{11, 11}, []float64{10, 10}, 8, 1.5)
	// Zero over the interior.
	interior := m.Interior(m.Damp)
	for i, v := range interior {
		if v != 0 {
			t.Fatalf("interior damp[%d] = %g, want 0", i, v)
		}
	}
	// Monotonically increasing toward the outer edge along the first
	// dimension through the domain center.
	col := m.Dims[1] / 2
	prev := math.Inf(1)
	for z := 0; z < m.NB; z++ {
		d := m.Damp[z*m.strides[0]+col]
		if d <= 0 {
			t.Fatalf("damp at layer depth %d = %g, want positive", z, d)
		}
		if d >= prev && z > 0 {
			t.Fatalf("damp not decreasing toward interior at %d: %g >= %g", z, d, prev)
		}
		prev = d
	}
}

func TestNewModelRaw_WrapsBuffers(t *testing.T) {
	shape := []int{5, 5}
	nb := 2
	size := 9 * 9
	mbuf := make([]float64, size)
	damp := make([]float64, size)
	for i := range mbuf {
		mbuf[i] = 0.25
	}
	m, err := NewModelRaw(shape, []float64{10, 10}, nil, nb, mbuf, damp)
	if err != nil {
		t.Fatalf("NewModelRaw: %v", err)
	}
	if m.Size() != size {
		t.Fatalf("Size = %d, want %d", m.Size(), size)
	}
	if _, err := NewModelRaw(shape, []float64{10, 10}, nil, nb, mbuf[:10], damp); !errors.Is(err, ErrShapeMismatch) {
		t.Fatalf("short buffer: err = %v, want ErrShapeMismatch", err)
	}
}

func TestCriticalDt_ScalesWithVelocityAndSpacing(t *testing.T) {
	slow := uniformModel(t, []int{11, 11}, []float64{10, 10}, 4, 1.5)
	fast := uniformModel(t, []int{11, 11}, []float64{10, 10}, 4, 3.0)
	if fast.CriticalDt(8) >= slow.CriticalDt(8) {
		t.Fatalf("faster medium should have smaller critical dt: %g >= %g",
			fast.CriticalDt(8), slow.CriticalDt(8))
	}
	coarse := uniformModel(t, []int{11, 11}, []float64{20, 20}, 4, 1.5)
	if coarse.CriticalDt(8) <= slow.CriticalDt(8) {
		t.Fatalf("coarser grid should have larger critical dt: %g <= %g",
			coarse.CriticalDt(8), slow.CriticalDt(8))
	}
	// Higher order stencils have a larger spectral radius.
	if slow.CriticalDt(8) >= slow.CriticalDt(2) {
		t.Fatalf("order-8 critical dt should be below order-2: %g >= %g",
			slow.CriticalDt(8), slow.CriticalDt(2))
	}
}

func TestInteriorEmbed_RoundTrip(t *testing.T) {
	m := uniformModel(t, []int{4, 5, 6}, []float64{10, 10, 10}, 3, 2.0)
	field := make([]float64, 4*5*6)
	for i := range field {
		field[i] = float64(i) + 0.5
	}
	padded, err := m.embed(field)
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	if len(padded) != m.Size() {
		t.Fatalf("padded size = %d, want %d", len(padded), m.Size())
	}
	back := m.Interior(padded)
	for i := range field {
		if back[i] != field[i] {
			t.Fatalf("round trip mismatch at %d: %g != %g", i, back[i], field[i])
		}
	}
	if _, err := m.embed(field[:10]); !errors.Is(err, ErrShapeMismatch) {
		t.Fatalf("short interior: err = %v, want ErrShapeMismatch", err)
	}
}

func TestRicker_PeakAndDecay(t *testing.T) {
	f0 := 0.010
	dt := 1.0
	nt := 500
	w := Ricker(f0, nt, dt)
	peak := int(1.0 / f0 / dt)
	if math.Abs(w[peak]-1.0) > 1e-9 {
		t.Fatalf("w[%d] = %g, want 1", peak, w[peak])
	}
	if math.Abs(w[nt-1]) > 1e-6 {
		t.Fatalf("tail = %g, want ~0", w[nt-1])
	}
	if w[0] >= w[peak] {
		t.Fatalf("onset %g should be below peak %g", w[0], w[peak])
	}
}
