// Package seismod computes time-domain finite-difference solutions of
// the constant-density acoustic wave equation on regular 2-D and 3-D
// grids, together with the adjoint, linearized (Born), and gradient
// operators used by adjoint-state full-waveform inversion. Gradient
// computation is memory-bounded through an optimal checkpointing
// scheduler that trades stored wavefield history for recomputation.
package seismod

import (
	"fmt"

	"gonum.org/v1/gonum/floats"
)

type options struct {
	dt          float64
	spaceOrder  int
	save        bool
	isic        bool
	checkpoints int
	compress    bool
	forward     *Wavefield
	isResidual  bool
	gpu         bool
}

// Option configures a modeling call.
type Option func(*options)

// WithDt overrides the time step. Values above the model's critical dt
// are accepted but risk instability.
func WithDt(dt float64) Option { return func(o *options) { o.dt = dt } }

// WithSpaceOrder selects the Laplacian stencil order (default 8).
func WithSpaceOrder(order int) Option { return func(o *options) { o.spaceOrder = order } }

// WithSave retains the full forward time history, for a later gradient
// pass without checkpointing.
func WithSave() Option { return func(o *options) { o.save = true } }

// WithISIC switches Born modeling and imaging to the inverse-scattering
// imaging condition.
func WithISIC() Option { return func(o *options) { o.isic = true } }

// WithCheckpoints bounds gradient memory to n forward-field checkpoints,
// recomputing the rest.
func WithCheckpoints(n int) Option { return func(o *options) { o.checkpoints = n } }

// WithCompressedCheckpoints stores checkpoints in float32. Halves
// checkpoint memory but gives up exact equivalence with a full-storage
// run.
func WithCompressedCheckpoints() Option { return func(o *options) { o.compress = true } }

// WithForwardField supplies a saved forward wavefield to BornGradient,
// skipping checkpointing entirely.
func WithForwardField(u *Wavefield) Option { return func(o *options) { o.forward = u } }

// WithResidual marks the receiver data passed to BornGradient as an
// already-computed residual, skipping the observed-data subtraction.
func WithResidual() Option { return func(o *options) { o.isResidual = true } }

// WithGPU runs the forward time loop on the OpenCL solver. Requires
// building with -tags opencl.
func WithGPU() Option { return func(o *options) { o.gpu = true } }

func buildOptions(opts []Option) options {
	o := options{spaceOrder: DefaultSpaceOrder}
	for _, fn := range opts {
		fn(&o)
	}
	return o
}

func (o *options) resolveDt(m *Model) float64 {
	if o.dt > 0 {
		return o.dt
	}
	return m.CriticalDt(o.spaceOrder)
}

// Forward models a shot: the wavelet is injected at the source points
// and the wavefield is sampled at the receiver points every time step.
// The returned wavefield holds the full history when WithSave is given,
// otherwise only the final rolling levels. A non-nil error with
// ErrNonFinite means the run went unstable.
func Forward(m *Model, srcCoords [][]float64, wavelet []float64, recCoords [][]float64, opts ...Option) (*Gather, *Wavefield, error) {
	o := buildOptions(opts)
	nt := len(wavelet)
	if nt < 2 {
		return nil, nil, fmt.Errorf("%w: wavelet needs at least 2 samples", ErrMissingInput)
	}
	st, err := newStencil(m, o.spaceOrder)
	if err != nil {
		return nil, nil, err
	}
	src, err := NewSparse(m, srcCoords)
	if err != nil {
		return nil, nil, err
	}
	rec, err := NewSparse(m, recCoords)
	if err != nil {
		return nil, nil, err
	}
	dt := o.resolveDt(m)
	u := newWavefield(m, nt, o.save)
	recData := NewGather(nt, rec.N)

	if o.gpu {
		if o.save {
			return nil, nil, fmt.Errorf("%w: saved wavefields are CPU-only", ErrGPUUnavailable)
		}
		if err := runForwardGPU(m, st, src, wavelet, rec, recData, u, dt); err != nil {
			return nil, nil, err
		}
	} else {
		amps := make([]float64, src.N)
		for t := 0; t < nt-1; t++ {
			st.step(u.At(t-1), u.At(t), u.At(t+1), dt, nil)
			fill(amps, wavelet[t])
			src.Inject(m, u.At(t+1), amps, dt)
			rec.Sample(u.At(t+1), recData.Row(t+1))
		}
	}
	if err := u.CheckFinite(); err != nil {
		return nil, nil, &RunError{Step: nt - 1, Time: float64(nt-1) * dt, Err: err}
	}
	return recData, u, nil
}

// Adjoint propagates receiver data backward in time, injecting it at
// the receiver points and sampling the time-reversed field at the
// source points. It is the transpose of Forward.
func Adjoint(m *Model, srcCoords, recCoords [][]float64, recData *Gather, opts ...Option) (*Gather, error) {
	o := buildOptions(opts)
	st, err := newStencil(m, o.spaceOrder)
	if err != nil {
		return nil, err
	}
	src, err := NewSparse(m, srcCoords)
	if err != nil {
		return nil, err
	}
	rec, err := NewSparse(m, recCoords)
	if err != nil {
		return nil, err
	}
	if recData == nil || recData.NR != rec.N {
		return nil, fmt.Errorf("%w: receiver data does not match receiver geometry", ErrShapeMismatch)
	}
	nt := recData.NT
	dt := o.resolveDt(m)
	v := newWavefield(m, nt, false)
	srcData := NewGather(nt, src.N)
	for t := nt - 1; t > 0; t-- {
		st.step(v.At(t+1), v.At(t), v.At(t-1), dt, nil)
		rec.Inject(m, v.At(t-1), recData.Row(t), dt)
		src.Sample(v.At(t-1), srcData.Row(t-1))
	}
	if err := v.CheckFinite(); err != nil {
		return nil, &RunError{Step: 0, Time: 0, Err: err}
	}
	return srcData, nil
}

// BornForward models the scattered field for a model perturbation dm
// (interior domain, squared-slowness units): the background field is
// driven by the wavelet exactly as in Forward, and the linearized field
// is driven by the scattering source, standard Born or the
// inverse-scattering variant under WithISIC. Receivers record the
// scattered field only.
func BornForward(m *Model, srcCoords [][]float64, wavelet []float64, recCoords [][]float64, dm []float64, opts ...Option) (*Gather, error) {
	o := buildOptions(opts)
	nt := len(wavelet)
	if nt < 2 {
		return nil, fmt.Errorf("%w: wavelet needs at least 2 samples", ErrMissingInput)
	}
	st, err := newStencil(m, o.spaceOrder)
	if err != nil {
		return nil, err
	}
	src, err := NewSparse(m, srcCoords)
	if err != nil {
		return nil, err
	}
	rec, err := NewSparse(m, recCoords)
	if err != nil {
		return nil, err
	}
	dmPad, err := m.embed(dm)
	if err != nil {
		return nil, err
	}
	dt := o.resolveDt(m)
	u := newWavefield(m, nt, false)
	du := newWavefield(m, nt, false)
	q := make([]float64, m.Size())
	recData := NewGather(nt, rec.N)
	amps := make([]float64, src.N)
	for t := 0; t < nt-1; t++ {
		st.step(u.At(t-1), u.At(t), u.At(t+1), dt, nil)
		fill(amps, wavelet[t])
		src.Inject(m, u.At(t+1), amps, dt)
		st.bornSource(q, dmPad, u.At(t-1), u.At(t), u.At(t+1), dt, o.isic)
		st.step(du.At(t-1), du.At(t), du.At(t+1), dt, q)
		rec.Sample(du.At(t+1), recData.Row(t+1))
	}
	if err := du.CheckFinite(); err != nil {
		return nil, &RunError{Step: nt - 1, Time: float64(nt-1) * dt, Err: err}
	}
	return recData, nil
}

// gradientOperator couples the forward recomputation and the adjoint
// sweep for the Revolver. The scheduler owns checkpoint storage; this
// type only exposes the stepping it asks for.
type gradientOperator struct {
	st      *stencil
	m       *Model
	u, v    *Wavefield
	src     *Sparse
	rec     *Sparse
	wavelet []float64
	simRec  *Gather
	adjSrc  *Gather
	grad    []float64
	amps    []float64
	dt      float64
	isic    bool
	cur     int
}

func (g *gradientOperator) Advance(from, to int) {
	for t := from; t < to; t++ {
		g.st.step(g.u.At(t-1), g.u.At(t), g.u.At(t+1), g.dt, nil)
		fill(g.amps, g.wavelet[t])
		g.src.Inject(g.m, g.u.At(t+1), g.amps, g.dt)
		g.rec.Sample(g.u.At(t+1), g.simRec.Row(t+1))
	}
	g.cur = to
}

func (g *gradientOperator) Snapshot() (cur, prev []float64) {
	return g.u.snapshot(g.cur)
}

func (g *gradientOperator) Restore(t int, cur, prev []float64) {
	if cur == nil {
		g.u.Reset()
	} else {
		g.u.restore(t, cur, prev)
	}
	g.cur = t
}

func (g *gradientOperator) Reverse(t int) {
	g.st.step(g.v.At(t+1), g.v.At(t), g.v.At(t-1), g.dt, nil)
	g.rec.Inject(g.m, g.v.At(t-1), g.adjSrc.Row(t), g.dt)
	if g.isic {
		g.st.imageISIC(g.grad, g.u.At(t), g.v.At(t+1), g.v.At(t), g.v.At(t-1), g.dt)
	} else {
		g.st.imageCross(g.grad, g.u.At(t), g.v.At(t+1), g.v.At(t), g.v.At(t-1), g.dt)
	}
}

// BornGradient computes the misfit gradient with respect to squared
// slowness over the interior domain.
//
// Two storage strategies are supported. WithForwardField replays a
// previously saved forward wavefield (full storage, zero
// recomputation); recData is then injected directly as the adjoint
// source and the returned misfit is zero. WithCheckpoints remodels the
// shot from srcCoords and wavelet under the checkpoint scheduler;
// recData is treated as observed data, the residual
// simulated-observed becomes the adjoint source, and the misfit
// 0.5*||residual||^2 is returned, unless WithResidual marks recData
// as a precomputed residual.
func BornGradient(m *Model, srcCoords [][]float64, wavelet []float64, recCoords [][]float64, recData *Gather, opts ...Option) (float64, []float64, error) {
	o := buildOptions(opts)
	st, err := newStencil(m, o.spaceOrder)
	if err != nil {
		return 0, nil, err
	}
	rec, err := NewSparse(m, recCoords)
	if err != nil {
		return 0, nil, err
	}
	if recData == nil || recData.NR != rec.N {
		return 0, nil, fmt.Errorf("%w: receiver data does not match receiver geometry", ErrShapeMismatch)
	}
	nt := recData.NT
	dt := o.resolveDt(m)
	grad := make([]float64, m.Size())

	if o.forward != nil {
		if o.checkpoints > 0 {
			return 0, nil, fmt.Errorf("%w: saved forward field and checkpointing are exclusive", ErrMissingInput)
		}
		u := o.forward
		if !u.Saved() || u.NT() < nt {
			return 0, nil, fmt.Errorf("%w: forward field must be saved with at least %d levels", ErrShapeMismatch, nt)
		}
		v := newWavefield(m, nt, false)
		for t := nt - 1; t > 0; t-- {
			st.step(v.At(t+1), v.At(t), v.At(t-1), dt, nil)
			rec.Inject(m, v.At(t-1), recData.Row(t), dt)
			if o.isic {
				st.imageISIC(grad, u.At(t), v.At(t+1), v.At(t), v.At(t-1), dt)
			} else {
				st.imageCross(grad, u.At(t), v.At(t+1), v.At(t), v.At(t-1), dt)
			}
		}
		if err := v.CheckFinite(); err != nil {
			return 0, nil, err
		}
		return 0, m.Interior(grad), nil
	}

	if o.checkpoints <= 0 {
		return 0, nil, fmt.Errorf("%w: need WithForwardField or WithCheckpoints", ErrMissingInput)
	}
	if len(wavelet) != nt {
		return 0, nil, fmt.Errorf("%w: wavelet has %d samples, receiver data %d", ErrShapeMismatch, len(wavelet), nt)
	}
	src, err := NewSparse(m, srcCoords)
	if err != nil {
		return 0, nil, err
	}

	op := &gradientOperator{
		st:      st,
		m:       m,
		u:       newWavefield(m, nt, false),
		v:       newWavefield(m, nt, false),
		src:     src,
		rec:     rec,
		wavelet: wavelet,
		simRec:  NewGather(nt, rec.N),
		grad:    grad,
		amps:    make([]float64, src.N),
		dt:      dt,
		isic:    o.isic,
	}
	rv, err := NewRevolver(op, nt-1, o.checkpoints, o.compress)
	if err != nil {
		return 0, nil, err
	}
	rv.ApplyForward()

	fval := 0.0
	if o.isResidual {
		op.adjSrc = recData
	} else {
		residual := NewGather(nt, rec.N)
		copy(residual.Data, op.simRec.Data)
		floats.Sub(residual.Data, recData.Data)
		fval = 0.5 * floats.Dot(residual.Data, residual.Data)
		op.adjSrc = residual
	}
	if err := rv.ApplyReverse(); err != nil {
		return 0, nil, err
	}
	if err := op.u.CheckFinite(); err != nil {
		return 0, nil, err
	}
	if err := op.v.CheckFinite(); err != nil {
		return 0, nil, err
	}
	return fval, m.Interior(grad), nil
}

// ForwardFreq is Forward with an on-the-fly DFT of the wavefield at the
// given frequencies, accumulated every time step alongside the receiver
// sampling.
func ForwardFreq(m *Model, srcCoords [][]float64, wavelet []float64, recCoords [][]float64, freqs []float64, opts ...Option) (*Gather, *FreqField, error) {
	o := buildOptions(opts)
	nt := len(wavelet)
	if nt < 2 {
		return nil, nil, fmt.Errorf("%w: wavelet needs at least 2 samples", ErrMissingInput)
	}
	st, err := newStencil(m, o.spaceOrder)
	if err != nil {
		return nil, nil, err
	}
	src, err := NewSparse(m, srcCoords)
	if err != nil {
		return nil, nil, err
	}
	rec, err := NewSparse(m, recCoords)
	if err != nil {
		return nil, nil, err
	}
	ff, err := NewFreqField(m, freqs)
	if err != nil {
		return nil, nil, err
	}
	dt := o.resolveDt(m)
	u := newWavefield(m, nt, false)
	recData := NewGather(nt, rec.N)
	amps := make([]float64, src.N)
	for t := 0; t < nt-1; t++ {
		st.step(u.At(t-1), u.At(t), u.At(t+1), dt, nil)
		fill(amps, wavelet[t])
		src.Inject(m, u.At(t+1), amps, dt)
		ff.Accumulate(u.At(t+1), t+1, dt)
		rec.Sample(u.At(t+1), recData.Row(t+1))
	}
	if err := u.CheckFinite(); err != nil {
		return nil, nil, &RunError{Step: nt - 1, Time: float64(nt-1) * dt, Err: err}
	}
	return recData, ff, nil
}

// AdjointFreqGradient computes the gradient from frequency-domain
// forward accumulators: the adjoint sweep injects recData backward in
// time and at every step folds the accumulated frequency content
// against the adjoint field, fusing the time and frequency loops.
func AdjointFreqGradient(m *Model, recCoords [][]float64, recData *Gather, ff *FreqField, opts ...Option) ([]float64, error) {
	o := buildOptions(opts)
	st, err := newStencil(m, o.spaceOrder)
	if err != nil {
		return nil, err
	}
	rec, err := NewSparse(m, recCoords)
	if err != nil {
		return nil, err
	}
	if recData == nil || recData.NR != rec.N {
		return nil, fmt.Errorf("%w: receiver data does not match receiver geometry", ErrShapeMismatch)
	}
	if ff == nil {
		return nil, fmt.Errorf("%w: frequency accumulators", ErrMissingInput)
	}
	nt := recData.NT
	dt := o.resolveDt(m)
	v := newWavefield(m, nt, false)
	grad := make([]float64, m.Size())
	for t := nt - 1; t > 0; t-- {
		st.step(v.At(t+1), v.At(t), v.At(t-1), dt, nil)
		rec.Inject(m, v.At(t-1), recData.Row(t), dt)
		st.imageFreq(grad, ff, v.At(t), t, nt, dt)
	}
	if err := v.CheckFinite(); err != nil {
		return nil, err
	}
	return m.Interior(grad), nil
}

func fill(dst []float64, v float64) {
	for i := range dst {
		dst[i] = v
	}
}
