//go:build fastmath

package kernel

import "math"

const ExpName = "fastmath"

const (
	log2e = 1.44269504088896341
	ln2Hi = 0.693359375
	ln2Lo = -2.12194440e-4

	// Outside this range float32 exp is 0 or +Inf.
	expMin = -87.33654
	expMax = 88.72283
)

// exp splits x into k*ln2 + r with |r| <= ln2/2 and evaluates a degree-6
// polynomial for e^r. exp(0) is exactly 1.
func exp(x float32) float32 {
	switch {
	case math.IsNaN(float64(x)):
		return x
	case x < expMin:
		return 0
	case x > expMax:
		return float32(math.Inf(1))
	}

	k := float32(math.Floor(float64(x*log2e + 0.5)))
	r := x - k*ln2Hi - k*ln2Lo

	p := 1 + r*(1+r*(0.5+r*(1.0/6+r*(1.0/24+r*(1.0/120+r*(1.0/720))))))

	ki := int32(k)
	if ki > 127 {
		// Scale in two steps so 2^k stays representable.
		return p * 2 * math.Float32frombits(uint32(ki-1+127)<<23)
	}
	return p * math.Float32frombits(uint32(ki+127)<<23)
}
