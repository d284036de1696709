package core

import (
	"math"
	"testing"
)

func TestWrapPiRange(t *testing.T) {
	inputs := []float32{
		0, 1, -1, 3, -3, Pi32, -Pi32, 4, -4, 7, -7,
		100, -100, 12345.678, -12345.678, 1e6, -1e6,
	}

	for _, in := range inputs {
		w := WrapPi(in)
		if w <= -Pi32 || w > Pi32 {
			t.Errorf("WrapPi(%v) = %v, expected value in (-π, π]", in, w)
		}
	}
}

func TestWrapPiBoundaries(t *testing.T) {
	// ±π sit on the seam: either sign is acceptable as long as it stays in range
	for _, in := range []float32{Pi32, -Pi32} {
		w := WrapPi(in)
		if math.Abs(math.Abs(float64(w))-math.Pi) > 1e-6 {
			t.Errorf("Expected |WrapPi(%v)| = π, got %v", in, w)
		}
	}
	if w := WrapPi(0); w != 0 {
		t.Errorf("Expected WrapPi(0) = 0, got %v", w)
	}
	if w := WrapPi(float32(TwoPi) + 0.5); math.Abs(float64(w)-0.5) > 1e-6 {
		t.Errorf("Expected WrapPi(2π + 0.5) = 0.5, got %v", w)
	}
}

func TestWrapPiPeriodic(t *testing.T) {
	bases := []float32{0.1, -0.5, 1.2, -2.9, 3.0}
	for _, x := range bases {
		for k := -5; k <= 5; k++ {
			shifted := float32(float64(x) + TwoPi*float64(k))
			a := WrapPi(x)
			b := WrapPi(shifted)
			if math.Abs(float64(a-b)) > 1e-5 {
				t.Errorf("WrapPi(%v) = %v but WrapPi(%v + 2π·%d) = %v", x, a, x, k, b)
			}
		}
	}
}

func TestAngleDiffAcrossSeam(t *testing.T) {
	// 3.1 -> -3.1 crosses the ±π seam: the short way is +0.083 rad
	d := AngleDiff(-3.1, 3.1)
	expected := float32(TwoPi - 6.2)
	if math.Abs(float64(d-expected)) > 1e-5 {
		t.Errorf("Expected diff %v, got %v", expected, d)
	}

	d = AngleDiff(3.1, -3.1)
	if math.Abs(float64(d+expected)) > 1e-5 {
		t.Errorf("Expected diff %v, got %v", -expected, d)
	}
}
