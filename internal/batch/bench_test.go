package batch

import (
	"fmt"
	"testing"

	"github.com/23skdu/longbow-softmax/internal/kernel"
	"github.com/23skdu/longbow-softmax/internal/workerpool"
)

var benchShapes = []struct{ rows, width int }{
	{128, 1024},
	{1024, 512},
}

func BenchmarkSoftmax(b *testing.B) {
	pool := workerpool.New(0)
	defer pool.Close()
	parallel := New(pool, DefaultOptions())

	for _, shape := range benchShapes {
		input := randomBatch(1, shape.rows, shape.width)
		output := make([]float32, len(input))
		bytes := int64(len(input) * 4 * 2)
		name := fmt.Sprintf("%dx%d", shape.rows, shape.width)

		b.Run(name+"/reference", func(b *testing.B) {
			b.SetBytes(bytes)
			for b.Loop() {
				for r := 0; r < shape.rows; r++ {
					off := r * shape.width
					kernel.Reference(input[off:off+shape.width], output[off:off+shape.width])
				}
			}
		})
		b.Run(name+"/serial", func(b *testing.B) {
			b.SetBytes(bytes)
			for b.Loop() {
				_ = Serial(input, output, shape.width)
			}
		})
		b.Run(name+"/parallel", func(b *testing.B) {
			b.SetBytes(bytes)
			for b.Loop() {
				_ = parallel.ComputeInto(input, output, shape.width)
			}
		})
	}
}
