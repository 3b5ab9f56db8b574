//go:build !fastmath

package kernel

import "math"

// ExpName reports which exponential the kernel was built with.
const ExpName = "math.Exp"

func exp(x float32) float32 {
	return float32(math.Exp(float64(x)))
}
