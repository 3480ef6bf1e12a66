package seismod

import (
	"fmt"
	"math"
)

// FreqField accumulates an unnormalized running discrete-time Fourier
// transform of the forward wavefield at a fixed set of frequencies,
// one cos/sin pair of padded-domain arrays per frequency. It stands in
// for full time-history storage when only a handful of frequency
// components feed the gradient.
type FreqField struct {
	Freqs []float64
	Real  [][]float64
	Imag  [][]float64
}

// NewFreqField allocates zeroed accumulators for the given frequencies.
func NewFreqField(m *Model, freqs []float64) (*FreqField, error) {
	if len(freqs) == 0 {
		return nil, fmt.Errorf("%w: no frequencies", ErrMissingInput)
	}
	f := &FreqField{
		Freqs: append([]float64(nil), freqs...),
		Real:  make([][]float64, len(freqs)),
		Imag:  make([][]float64, len(freqs)),
	}
	for i := range freqs {
		f.Real[i] = make([]float64, m.Size())
		f.Imag[i] = make([]float64, m.Size())
	}
	return f, nil
}

// Accumulate folds the field at time step t into every tracked
// frequency: real += u*cos(2*pi*f*t*dt), imag -= u*sin(2*pi*f*t*dt).
func (f *FreqField) Accumulate(u []float64, t int, dt float64) {
	for i, fr := range f.Freqs {
		phase := 2 * math.Pi * fr * float64(t) * dt
		c := math.Cos(phase)
		s := math.Sin(phase)
		re := f.Real[i]
		im := f.Imag[i]
		for idx, v := range u {
			re[idx] += v * c
			im[idx] -= v * s
		}
	}
}
