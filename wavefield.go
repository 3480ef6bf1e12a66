package seismod

import (
	"fmt"
	"math"
)

// Wavefield is a time-indexed scalar field over the padded domain. In
// rolling mode only the three most recent time levels exist and At
// wraps modulo 3; in saved mode the full nt-level history is retained
// so a later adjoint pass can replay it.
type Wavefield struct {
	model  *Model
	levels [][]float64
	saved  bool
	zero   []float64
}

func newWavefield(m *Model, nt int, save bool) *Wavefield {
	w := &Wavefield{model: m, saved: save}
	n := 3
	if save {
		n = nt
		w.zero = make([]float64, m.Size())
	}
	w.levels = make([][]float64, n)
	for i := range w.levels {
		w.levels[i] = make([]float64, m.Size())
	}
	return w
}

// Saved reports whether the full time history is retained.
func (w *Wavefield) Saved() bool { return w.saved }

// NT returns the number of stored time levels.
func (w *Wavefield) NT() int { return len(w.levels) }

// At returns the field at time step t. Rolling fields wrap modulo 3;
// saved fields index the history directly, with negative steps reading
// as the zero initial condition.
func (w *Wavefield) At(t int) []float64 {
	if w.saved {
		if t < 0 {
			return w.zero
		}
		return w.levels[t]
	}
	return w.levels[((t%3)+3)%3]
}

// Reset zeroes every stored level.
func (w *Wavefield) Reset() {
	for _, lv := range w.levels {
		for i := range lv {
			lv[i] = 0
		}
	}
}

// CheckFinite scans the stored levels for NaN or Inf. It is the
// post-hoc instability check: a too-large dt is not rejected up front,
// but its effects are detectable here after a run.
func (w *Wavefield) CheckFinite() error {
	for lv, data := range w.levels {
		for _, v := range data {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return fmt.Errorf("%w: time level %d", ErrNonFinite, lv)
			}
		}
	}
	return nil
}

// snapshot copies the two live time levels (t and t-1) so forward
// recomputation can resume from step t.
func (w *Wavefield) snapshot(t int) (cur, prev []float64) {
	cur = append([]float64(nil), w.At(t)...)
	prev = append([]float64(nil), w.At(t-1)...)
	return cur, prev
}

// restore installs a snapshot taken at step t back into the rolling
// buffers.
func (w *Wavefield) restore(t int, cur, prev []float64) {
	copy(w.At(t), cur)
	copy(w.At(t-1), prev)
}
