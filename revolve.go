package seismod

import "fmt"

// RevolveOperator is the contract between the checkpoint scheduler and
// the time stepping it drives. Advance replays forward steps [from,to),
// Snapshot/Restore move the two live forward time levels in and out of
// scheduler-owned storage (Restore with t=0 and nil buffers resets to
// the zero initial state), and Reverse performs one adjoint step that
// needs the forward field at step t.
type RevolveOperator interface {
	Advance(from, to int)
	Snapshot() (cur, prev []float64)
	Restore(t int, cur, prev []float64)
	Reverse(t int)
}

type revSnapshot struct {
	cur, prev     []float64
	cur32, prev32 []float32
}

// Revolver schedules which forward steps are checkpointed and which are
// recomputed during the adjoint sweep, keeping storage within a fixed
// budget. The plan is binomial: each range [b,e) splits at
// b+revolveSplit(e-b, avail), the right part is reversed with one fewer
// slot, then the slot is reused for the left part. The same split rule
// drives the initial forward run, so checkpoints written then are the
// ones the reverse sweep looks for.
type Revolver struct {
	op       RevolveOperator
	n        int
	budget   int
	compress bool

	snaps    map[int]*revSnapshot
	liveTime int
	peak     int
}

// NewRevolver validates the budget against the number of forward steps
// before any stepping happens. A budget of one is always feasible (at
// quadratic recomputation cost); zero is not, unless there is only a
// single step to reverse.
func NewRevolver(op RevolveOperator, steps, budget int, compress bool) (*Revolver, error) {
	if steps < 1 {
		return nil, fmt.Errorf("%w: %d forward steps", ErrShapeMismatch, steps)
	}
	if budget < 1 && steps > 1 {
		return nil, fmt.Errorf("%w: %d checkpoints for %d steps", ErrCheckpointBudget, budget, steps)
	}
	if budget < 0 {
		return nil, fmt.Errorf("%w: negative budget", ErrCheckpointBudget)
	}
	return &Revolver{
		op:       op,
		n:        steps,
		budget:   budget,
		compress: compress,
		snaps:    make(map[int]*revSnapshot),
		liveTime: 0,
	}, nil
}

// ApplyForward runs the full forward sweep, storing checkpoints at the
// positions the reverse plan will revisit first.
func (r *Revolver) ApplyForward() {
	pos := 0
	avail := r.budget
	for r.n-pos > 1 && avail > 0 {
		adv := revolveSplit(r.n-pos, avail)
		if pos+adv >= r.n {
			break
		}
		r.op.Advance(pos, pos+adv)
		pos += adv
		r.save(pos)
		avail--
	}
	r.op.Advance(pos, r.n)
	r.liveTime = r.n
}

// ApplyReverse alternates recomputation segments and adjoint steps
// until every forward step has been reversed, in strictly descending
// step order. Reverse(t) for t = n down to 1 sees the exact forward
// state a full-storage run would have produced at t.
func (r *Revolver) ApplyReverse() error {
	return r.reverseRange(0, r.n, r.budget)
}

// PeakStored reports the largest number of checkpoints held at once.
func (r *Revolver) PeakStored() int { return r.peak }

func (r *Revolver) reverseRange(b, e, avail int) error {
	if e-b == 1 {
		if r.liveTime != b {
			r.restore(b)
		}
		r.op.Advance(b, b+1)
		r.liveTime = b + 1
		r.op.Reverse(b + 1)
		return nil
	}
	if avail == 0 {
		return fmt.Errorf("%w: range [%d,%d) with no free slots", ErrCheckpointBudget, b, e)
	}
	mid := b + revolveSplit(e-b, avail)
	if _, ok := r.snaps[mid]; !ok {
		r.restore(b)
		r.op.Advance(b, mid)
		r.liveTime = mid
		r.save(mid)
	}
	if err := r.reverseRange(mid, e, avail-1); err != nil {
		return err
	}
	delete(r.snaps, mid)
	return r.reverseRange(b, mid, avail)
}

func (r *Revolver) save(t int) {
	cur, prev := r.op.Snapshot()
	snap := &revSnapshot{}
	if r.compress {
		snap.cur32 = make([]float32, len(cur))
		snap.prev32 = make([]float32, len(prev))
		float64ToFloat32(snap.cur32, cur)
		float64ToFloat32(snap.prev32, prev)
	} else {
		snap.cur = cur
		snap.prev = prev
	}
	r.snaps[t] = snap
	if len(r.snaps) > r.peak {
		r.peak = len(r.snaps)
	}
}

func (r *Revolver) restore(t int) {
	if t == 0 {
		r.op.Restore(0, nil, nil)
		r.liveTime = 0
		return
	}
	snap := r.snaps[t]
	cur, prev := snap.cur, snap.prev
	if r.compress {
		cur = make([]float64, len(snap.cur32))
		prev = make([]float64, len(snap.prev32))
		float32ToFloat64(cur, snap.cur32)
		float32ToFloat64(prev, snap.prev32)
	}
	r.op.Restore(t, cur, prev)
	r.liveTime = t
}

// revolveSplit returns how far to advance from the left edge of an
// n-step range with c slots free: the binomial rule leaves
// binom(c-1+r, c-1) steps to the right part, where r is the smallest
// repetition count with binom(c+r, c) >= n.
func revolveSplit(n, c int) int {
	if c <= 1 {
		return n - 1
	}
	r := 1
	for binom(c+r, c) < n {
		r++
	}
	adv := n - binom(c+r-1, c-1)
	if adv < 1 {
		adv = 1
	}
	if adv > n-1 {
		adv = n - 1
	}
	return adv
}

// binom computes C(n,k), saturating well above any usable step count to
// avoid overflow.
func binom(n, k int) int {
	if k > n-k {
		k = n - k
	}
	v := 1
	for i := 1; i <= k; i++ {
		v = v * (n - k + i) / i
		if v > 1<<40 {
			return 1 << 40
		}
	}
	return v
}
