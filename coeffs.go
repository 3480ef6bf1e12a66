package seismod

import "fmt"

// Centered finite-difference coefficients. For each supported space
// order the slice holds the one-sided half of the symmetric stencil:
// index 0 is the center tap, index k the tap at offset ±k.
var secondDerivCoeffs = map[int][]float64{
	2: {-2, 1},
	4: {-5.0 / 2, 4.0 / 3, -1.0 / 12},
	6: {-49.0 / 18, 3.0 / 2, -3.0 / 20, 1.0 / 90},
	8: {-205.0 / 72, 8.0 / 5, -1.0 / 5, 8.0 / 315, -1.0 / 560},
	12: {-5369.0 / 1800, 12.0 / 7, -15.0 / 56, 10.0 / 189, -1.0 / 112,
		2.0 / 1925, -1.0 / 16632},
	16: {-1077749.0 / 352800, 16.0 / 9, -14.0 / 45, 112.0 / 1485, -7.0 / 396,
		112.0 / 32175, -2.0 / 3861, 112.0 / 2207205, -1.0 / 411840},
}

// First-derivative central coefficients. The stencil is antisymmetric,
// so only the positive-offset taps are stored; index 0 (the center) is
// implicitly zero and index k is the tap at +k (negated at -k).
var firstDerivCoeffs = map[int][]float64{
	2: {1.0 / 2},
	4: {2.0 / 3, -1.0 / 12},
	6: {3.0 / 4, -3.0 / 20, 1.0 / 60},
	8: {4.0 / 5, -1.0 / 5, 4.0 / 105, -1.0 / 280},
}

// DefaultSpaceOrder is the half-width-8 stencil used when no order is
// requested explicitly.
const DefaultSpaceOrder = 8

func checkSpaceOrder(order int) error {
	if _, ok := secondDerivCoeffs[order]; !ok {
		return fmt.Errorf("%w: unsupported space order %d (want 2, 4, 6, 8, 12, or 16)", ErrMissingInput, order)
	}
	return nil
}

// gradOrder returns the order used for the first-derivative stencils of
// the inverse-scattering terms: half the Laplacian order, floored at 2.
func gradOrder(spaceOrder int) int {
	o := spaceOrder / 2
	if o < 2 {
		o = 2
	}
	if o%2 == 1 {
		o--
	}
	return o
}

// laplaceWeights returns per-dimension stencil taps for the Laplacian,
// each already divided by the squared grid spacing of its dimension.
func laplaceWeights(order int, spacing []float64) [][]float64 {
	base := secondDerivCoeffs[order]
	out := make([][]float64, len(spacing))
	for d, h := range spacing {
		w := make([]float64, len(base))
		inv := 1.0 / (h * h)
		for k, c := range base {
			w[k] = c * inv
		}
		out[d] = w
	}
	return out
}

// derivWeights returns positive-offset first-derivative taps divided by
// the grid spacing of dimension d.
func derivWeights(order int, h float64) []float64 {
	base := firstDerivCoeffs[order]
	w := make([]float64, len(base))
	for k, c := range base {
		w[k] = c / h
	}
	return w
}
