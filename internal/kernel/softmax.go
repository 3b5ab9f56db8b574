// Package kernel holds the per-row softmax routine. It knows nothing about
// batching, tensors or threads.
package kernel

import "math"

var negInf = float32(math.Inf(-1))

// Row writes softmax(input) into output. output must be at least as long as
// input; only the first len(input) elements are written.
//
// Rows containing +Inf yield NaN, the same as the textbook definition.
func Row(input, output []float32) {
	output = output[:len(input)]

	m := negInf
	for _, v := range input {
		if v > m {
			m = v
		}
	}

	var denom float32
	for i, v := range input {
		e := exp(v - m)
		output[i] = e
		denom += e
	}

	inv := 1 / denom
	for i := range output {
		output[i] *= inv
	}
}

// Reference is the straightforward softmax that divides every element by
// the sum. It rounds differently from Row and only exists for comparison.
func Reference(input, output []float32) {
	output = output[:len(input)]

	m := negInf
	for _, v := range input {
		if v > m {
			m = v
		}
	}

	var sum float32
	for i, v := range input {
		output[i] = float32(math.Exp(float64(v - m)))
		sum += output[i]
	}
	for i := range output {
		output[i] /= sum
	}
}
