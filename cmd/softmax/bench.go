package main

import (
	"fmt"
	"io"
	"math"
	"math/rand"
	"time"

	"github.com/spf13/cobra"

	"github.com/23skdu/longbow-softmax/internal/batch"
	"github.com/23skdu/longbow-softmax/internal/kernel"
)

type benchOptions struct {
	batchSize int
	inputDim  int
	numReps   int
	seed      int64
}

func newBenchCmd(a *app) *cobra.Command {
	var opts benchOptions
	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Time the fused softmax against a per-element division reference",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.runBench(cmd.OutOrStdout(), opts)
		},
	}
	cmd.Flags().IntVar(&opts.batchSize, "batch-size", 128, "rows per batch")
	cmd.Flags().IntVar(&opts.inputDim, "input-dim", 1024, "row width")
	cmd.Flags().IntVar(&opts.numReps, "num-reps", 1000, "timed repetitions per variant")
	cmd.Flags().Int64Var(&opts.seed, "seed", 1, "input generator seed")
	return cmd
}

type benchVariant struct {
	name string
	run  func(input, output []float32) error
}

func (a *app) runBench(w io.Writer, opts benchOptions) error {
	if opts.batchSize <= 0 || opts.inputDim <= 0 {
		return fmt.Errorf("invalid batch shape: %dx%d (must be positive)", opts.batchSize, opts.inputDim)
	}
	if opts.numReps <= 0 {
		return fmt.Errorf("invalid num-reps: %d (must be positive)", opts.numReps)
	}

	rng := rand.New(rand.NewSource(opts.seed))
	input := make([]float32, opts.batchSize*opts.inputDim)
	for i := range input {
		input[i] = rng.Float32()
	}
	width := opts.inputDim

	variants := []benchVariant{
		{"reference", func(in, out []float32) error {
			for off := 0; off < len(in); off += width {
				kernel.Reference(in[off:off+width], out[off:off+width])
			}
			return nil
		}},
		{"fused-serial", func(in, out []float32) error {
			return batch.Serial(in, out, width)
		}},
		{"fused-parallel", func(in, out []float32) error {
			return a.driver.ComputeInto(in, out, width)
		}},
	}

	fmt.Fprintf(w, "Softmax: hidden: %d, batch: %d, reps: %d\n", opts.inputDim, opts.batchSize, opts.numReps)
	fmt.Fprintf(w, "exp: %s, workers: %d\n", kernel.ExpName, a.pool.NumWorkers())

	outputs := make([][]float32, len(variants))
	var baseline float64
	for i, v := range variants {
		out := make([]float32, len(input))
		// warm up caches and the pool
		if err := v.run(input, out); err != nil {
			return fmt.Errorf("%s: %w", v.name, err)
		}

		start := time.Now()
		for r := 0; r < opts.numReps; r++ {
			if err := v.run(input, out); err != nil {
				return fmt.Errorf("%s: %w", v.name, err)
			}
		}
		ms := float64(time.Since(start).Nanoseconds()) / 1e6 / float64(opts.numReps)
		outputs[i] = out

		if i == 0 {
			baseline = ms
			fmt.Fprintf(w, "%-15s %.4f ms\n", v.name+":", ms)
			continue
		}
		fmt.Fprintf(w, "%-15s %.4f ms (%.2fx)\n", v.name+":", ms, baseline/ms)
	}

	serial, parallel := outputs[1], outputs[2]
	for i := range serial {
		if math.Float32bits(serial[i]) != math.Float32bits(parallel[i]) {
			return fmt.Errorf("parallel output differs from serial at index %d: %v != %v", i, parallel[i], serial[i])
		}
	}
	a.log.Info("benchmark finished",
		"batch_size", opts.batchSize,
		"input_dim", opts.inputDim,
		"reps", opts.numReps)
	return nil
}
