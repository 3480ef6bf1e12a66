package seismod

import (
	"errors"
	"testing"
)

// traceOp stands in for the wave stepper: its forward state is just the
// step counter, so any scheduling mistake shows up as a Reverse call
// that sees the wrong forward state.
type traceOp struct {
	t        *testing.T
	state    int
	reversed []int
	advanced int
}

func (o *traceOp) Advance(from, to int) {
	if o.state != from {
		o.t.Fatalf("Advance(%d,%d) with live state %d", from, to, o.state)
	}
	if to <= from {
		o.t.Fatalf("Advance(%d,%d) does not move forward", from, to)
	}
	o.advanced += to - from
	o.state = to
}

func (o *traceOp) Snapshot() (cur, prev []float64) {
	return []float64{float64(o.state)}, []float64{float64(o.state) - 1}
}

func (o *traceOp) Restore(t int, cur, prev []float64) {
	if cur == nil {
		if t != 0 {
			o.t.Fatalf("nil restore at t=%d", t)
		}
		o.state = 0
		return
	}
	if int(cur[0]) != t {
		o.t.Fatalf("restore at t=%d from snapshot taken at %d", t, int(cur[0]))
	}
	o.state = t
}

func (o *traceOp) Reverse(t int) {
	if o.state != t {
		o.t.Fatalf("Reverse(%d) with forward state %d", t, o.state)
	}
	o.reversed = append(o.reversed, t)
}

func TestRevolver_ReversesEveryStepDescending(t *testing.T) {
	cases := []struct{ steps, budget int }{
		{1, 1}, {2, 1}, {5, 1}, {5, 2}, {17, 3}, {50, 4}, {50, 60}, {100, 8},
	}
	for _, tc := range cases {
		op := &traceOp{t: t}
		rv, err := NewRevolver(op, tc.steps, tc.budget, false)
		if err != nil {
			t.Fatalf("steps=%d budget=%d: %v", tc.steps, tc.budget, err)
		}
		rv.ApplyForward()
		if op.state != tc.steps {
			t.Fatalf("steps=%d budget=%d: forward ended at %d", tc.steps, tc.budget, op.state)
		}
		if err := rv.ApplyReverse(); err != nil {
			t.Fatalf("steps=%d budget=%d: reverse: %v", tc.steps, tc.budget, err)
		}
		if len(op.reversed) != tc.steps {
			t.Fatalf("steps=%d budget=%d: reversed %d steps", tc.steps, tc.budget, len(op.reversed))
		}
		for i, r := range op.reversed {
			if r != tc.steps-i {
				t.Fatalf("steps=%d budget=%d: reverse order %v", tc.steps, tc.budget, op.reversed)
			}
		}
		if rv.PeakStored() > tc.budget {
			t.Fatalf("steps=%d budget=%d: peak %d exceeds budget", tc.steps, tc.budget, rv.PeakStored())
		}
	}
}

func TestRevolver_RecomputationShrinksWithBudget(t *testing.T) {
	run := func(budget int) int {
		op := &traceOp{t: t}
		rv, err := NewRevolver(op, 60, budget, false)
		if err != nil {
			t.Fatalf("budget=%d: %v", budget, err)
		}
		rv.ApplyForward()
		if err := rv.ApplyReverse(); err != nil {
			t.Fatalf("budget=%d: %v", budget, err)
		}
		return op.advanced
	}
	tight := run(1)
	mid := run(4)
	ample := run(60)
	if !(tight > mid && mid > ample) {
		t.Fatalf("advance counts not decreasing with budget: %d, %d, %d", tight, mid, ample)
	}
	// With a slot per step, overhead is one replayed step per reverse.
	if ample > 2*60 {
		t.Fatalf("full budget replayed %d steps, want <= 120", ample)
	}
}

func TestRevolver_BudgetValidation(t *testing.T) {
	op := &traceOp{t: t}
	if _, err := NewRevolver(op, 5, 0, false); !errors.Is(err, ErrCheckpointBudget) {
		t.Fatalf("zero budget: err = %v, want ErrCheckpointBudget", err)
	}
	if _, err := NewRevolver(op, 1, 0, false); err != nil {
		t.Fatalf("single step needs no checkpoints: %v", err)
	}
	if _, err := NewRevolver(op, 0, 3, false); err == nil {
		t.Fatal("zero steps accepted")
	}
}

func TestRevolver_CompressedSnapshots(t *testing.T) {
	op := &traceOp{t: t}
	rv, err := NewRevolver(op, 40, 3, true)
	if err != nil {
		t.Fatalf("NewRevolver: %v", err)
	}
	rv.ApplyForward()
	if err := rv.ApplyReverse(); err != nil {
		t.Fatalf("reverse: %v", err)
	}
	if len(op.reversed) != 40 || op.reversed[0] != 40 || op.reversed[39] != 1 {
		t.Fatalf("reverse sequence wrong: len=%d", len(op.reversed))
	}
}
