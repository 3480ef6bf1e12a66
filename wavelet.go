package seismod

import "math"

// Ricker returns an nt-sample Ricker wavelet with peak frequency f0,
// sampled at dt, delayed so the peak sits at 1/f0. Units only need to
// agree: f0 in kHz with dt in ms, or Hz with seconds.
func Ricker(f0 float64, nt int, dt float64) []float64 {
	w := make([]float64, nt)
	t0 := 1.0 / f0
	for i := range w {
		a := math.Pi * f0 * (float64(i)*dt - t0)
		w[i] = (1 - 2*a*a) * math.Exp(-a*a)
	}
	return w
}
