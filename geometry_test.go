package seismod

import (
	"errors"
	"math"
	"math/rand"
	"testing"
)

func TestNewSparse_RejectsOutOfBounds(t *testing.T) {
	m := uniformModel(t, []int{11, 11}, []float64{10, 10}, 4, 1.5)
	cases := [][]float64{
		{-5, 50},
		{50, 101},
		{200, 50},
	}
	for _, c := range cases {
		if _, err := NewSparse(m, [][]float64{c}); !errors.Is(err, ErrShapeMismatch) {
			t.Errorf("coord %v: err = %v, want ErrShapeMismatch", c, err)
		}
	}
	if _, err := NewSparse(m, [][]float64{{50, 50, 50}}); !errors.Is(err, ErrShapeMismatch) {
		t.Error("3-component coordinate accepted on a 2-D model")
	}
	if _, err := NewSparse(m, nil); !errors.Is(err, ErrMissingInput) {
		t.Error("empty coordinate list accepted")
	}
}

func TestSparse_WeightsPartitionUnity(t *testing.T) {
	m := uniformModel(t, []int{11, 11}, []float64{10, 10}, 4, 1.5)
	s, err := NewSparse(m, [][]float64{{33.7, 61.2}, {0, 0}, {100, 100}})
	if err != nil {
		t.Fatalf("NewSparse: %v", err)
	}
	for p := 0; p < s.N; p++ {
		sum := 0.0
		for _, w := range s.weights[p] {
			sum += w
		}
		if math.Abs(sum-1) > 1e-12 {
			t.Errorf("point %d: weights sum to %g", p, sum)
		}
	}
}

func TestSparse_SampleOnNodeReadsField(t *testing.T) {
	m := uniformModel(t, []int{11, 11}, []float64{10, 10}, 4, 1.5)
	s, err := NewSparse(m, [][]float64{{30, 70}})
	if err != nil {
		t.Fatalf("NewSparse: %v", err)
	}
	field := make([]float64, m.Size())
	idx := (3+m.NB)*m.strides[0] + (7 + m.NB)
	field[idx] = 42.0
	out := make([]float64, 1)
	s.Sample(field, out)
	if math.Abs(out[0]-42.0) > 1e-12 {
		t.Fatalf("sampled %g, want 42", out[0])
	}
}

// Injection must be the transpose of sampling up to the dt^2/m source
// scale: <Sample(f), a> == <f, Inject(a)> / (dt^2/m) for constant m.
func TestSparse_InjectSampleDuality(t *testing.T) {
	m := uniformModel(t, []int{11, 11}, []float64{10, 10}, 4, 2.0)
	rng := rand.New(rand.NewSource(7))
	coords := [][]float64{{13.4, 88.1}, {57.3, 22.9}, {99.2, 61.8}}
	s, err := NewSparse(m, coords)
	if err != nil {
		t.Fatalf("NewSparse: %v", err)
	}
	field := make([]float64, m.Size())
	for i := range field {
		field[i] = rng.NormFloat64()
	}
	amps := make([]float64, s.N)
	for i := range amps {
		amps[i] = rng.NormFloat64()
	}
	dt := 1.0

	sampled := make([]float64, s.N)
	s.Sample(field, sampled)
	lhs := 0.0
	for i := range sampled {
		lhs += sampled[i] * amps[i]
	}

	injected := make([]float64, m.Size())
	s.Inject(m, injected, amps, dt)
	rhs := 0.0
	for i := range injected {
		rhs += injected[i] * field[i]
	}
	scale := dt * dt / m.M[0]
	if math.Abs(lhs*scale-rhs) > 1e-9*math.Abs(rhs) {
		t.Fatalf("duality violated: %g vs %g", lhs*scale, rhs)
	}
}

func TestSparse_FarEdgeCollapse(t *testing.T) {
	m := uniformModel(t, []int{11, 11}, []float64{10, 10}, 4, 1.5)
	s, err := NewSparse(m, [][]float64{{100, 100}})
	if err != nil {
		t.Fatalf("far corner rejected: %v", err)
	}
	field := make([]float64, m.Size())
	idx := (10+m.NB)*m.strides[0] + (10 + m.NB)
	field[idx] = 3.5
	out := make([]float64, 1)
	s.Sample(field, out)
	if math.Abs(out[0]-3.5) > 1e-12 {
		t.Fatalf("far corner sample = %g, want 3.5", out[0])
	}
}

func TestGather_RowLayout(t *testing.T) {
	g := NewGather(4, 3)
	for i := range g.Data {
		g.Data[i] = float64(i)
	}
	row := g.Row(2)
	if len(row) != 3 || row[0] != 6 || row[2] != 8 {
		t.Fatalf("Row(2) = %v", row)
	}
}
