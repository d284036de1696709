package core

import "math"

const (
	// TwoPi is one full turn in radians
	TwoPi = 2 * math.Pi

	// Pi32 is π rounded to float32, the upper bound of every wrapped angle
	Pi32 float32 = math.Pi
)

// WrapPi reduces an angle in radians into (-π, π].
// Runs in constant time, so it is safe to call on unbounded accumulators.
func WrapPi(angle float32) float32 {
	r := math.Remainder(float64(angle), TwoPi)
	if r <= -math.Pi {
		r += TwoPi
	}
	w := float32(r)
	// float32 rounding can land exactly on -π
	if w <= -Pi32 {
		w = Pi32
	}
	return w
}

// AngleDiff returns the wrap-aware difference a - b in (-π, π]
func AngleDiff(a, b float32) float32 {
	return WrapPi(a - b)
}
