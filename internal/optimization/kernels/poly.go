package kernels

import "math"

// QuadraticMin returns the minimiser over [lo, hi] of the quadratic q with
// q(a) = fa, q'(a) = dfa and q(b) = fb.
func QuadraticMin(a, fa, dfa, b, fb, lo, hi float64) float64 {
	lo, hi = order(lo, hi)
	h := b - a
	if h == 0 {
		return clamp(a, lo, hi)
	}
	c := (fb - fa - dfa*h) / (h * h)
	if c <= 0 || math.IsNaN(c) || math.IsInf(c, 0) {
		// Concave or linear: the minimum is at an end of the bracket.
		q := func(t float64) float64 { return fa + dfa*(t-a) + c*(t-a)*(t-a) }
		if q(lo) <= q(hi) {
			return lo
		}
		return hi
	}
	return clamp(a-dfa/(2*c), lo, hi)
}

// CubicMin returns the minimiser over [lo, hi] of the cubic interpolating
// f and f' at a and b. It falls back to QuadraticMin when the cubic has no
// local minimum.
func CubicMin(a, fa, dfa, b, fb, dfb, lo, hi float64) float64 {
	lo, hi = order(lo, hi)
	if a == b {
		return clamp(a, lo, hi)
	}
	d1 := dfa + dfb - 3*(fa-fb)/(a-b)
	disc := d1*d1 - dfa*dfb
	if disc < 0 || math.IsNaN(disc) {
		return QuadraticMin(a, fa, dfa, b, fb, lo, hi)
	}
	d2 := math.Sqrt(disc)
	if b < a {
		d2 = -d2
	}
	den := dfb - dfa + 2*d2
	if den == 0 {
		return QuadraticMin(a, fa, dfa, b, fb, lo, hi)
	}
	t := b - (b-a)*(dfb+d2-d1)/den
	if math.IsNaN(t) || math.IsInf(t, 0) {
		return QuadraticMin(a, fa, dfa, b, fb, lo, hi)
	}
	return clamp(t, lo, hi)
}

func order(lo, hi float64) (float64, float64) {
	if lo > hi {
		return hi, lo
	}
	return lo, hi
}

func clamp(t, lo, hi float64) float64 {
	return math.Max(lo, math.Min(t, hi))
}
