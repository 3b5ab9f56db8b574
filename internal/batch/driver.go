// Package batch runs the row softmax kernel over a flat row-major buffer of
// N rows of width D, serially or across a worker pool.
//
// Rows never share an accumulator and a row is never split between workers,
// so every scheduling of the rows produces bit-identical output.
package batch

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/23skdu/longbow-softmax/internal/config"
	"github.com/23skdu/longbow-softmax/internal/kernel"
	"github.com/23skdu/longbow-softmax/internal/logger"
	"github.com/23skdu/longbow-softmax/internal/metrics"
	"github.com/23skdu/longbow-softmax/internal/workerpool"
)

// ErrInvalidShape reports a zero row width or a buffer whose length does not
// match rows*width.
var ErrInvalidShape = errors.New("invalid shape")

type Options struct {
	// Batches with fewer elements run on the caller's goroutine.
	MinParallelElements int
	// Rows claimed per atomic step. 0 uses one static chunk per worker.
	RowBatch int
	// Count NaN/Inf in the output and report them as metrics.
	AuditOutput bool
}

func DefaultOptions() Options {
	cfg := config.Default()
	return OptionsFromConfig(cfg)
}

func OptionsFromConfig(cfg config.Config) Options {
	return Options{
		MinParallelElements: cfg.MinParallelElements,
		RowBatch:            cfg.RowBatch,
		AuditOutput:         cfg.AuditOutput,
	}
}

// Driver is safe for concurrent use. Calls on disjoint buffers never
// interfere; the pool is the only shared state.
type Driver struct {
	pool *workerpool.Pool
	opts Options
	log  *logger.Logger
}

var (
	defaultOnce   sync.Once
	defaultDriver *Driver
)

// Default returns a driver on the process-wide pool with default options.
func Default() *Driver {
	defaultOnce.Do(func() {
		defaultDriver = New(workerpool.Default(), DefaultOptions())
	})
	return defaultDriver
}

// New builds a driver. A nil pool makes every call serial.
func New(pool *workerpool.Pool, opts Options) *Driver {
	d := &Driver{
		pool: pool,
		opts: opts,
		log:  logger.With("batch"),
	}
	if pool != nil {
		metrics.RecordWorkerPoolSize(pool.NumWorkers())
		d.log.Debug("batch driver ready",
			"workers", pool.NumWorkers(),
			"min_parallel_elements", opts.MinParallelElements,
			"row_batch", opts.RowBatch)
	}
	return d
}

// Compute returns softmax over each width-sized row of input in a newly
// allocated buffer of the same length.
func (d *Driver) Compute(input []float32, width int) ([]float32, error) {
	output := make([]float32, len(input))
	if err := d.ComputeInto(input, output, width); err != nil {
		return nil, err
	}
	return output, nil
}

// ComputeInto writes the softmax of each row of input into the matching row
// of output. input and output must not overlap.
func (d *Driver) ComputeInto(input, output []float32, width int) error {
	rows, err := Rows(len(input), len(output), width)
	if err != nil {
		metrics.RecordValidationError("batch", "invalid_shape")
		return err
	}

	start := time.Now()
	path := metrics.PathSerial
	if d.pool == nil || rows < 2 || len(input) < d.opts.MinParallelElements {
		serial(input, output, 0, rows, width)
	} else {
		path = metrics.PathParallel
		each := func(lo, hi int) { serial(input, output, lo, hi, width) }
		if d.opts.RowBatch > 0 {
			d.pool.ParallelForBatched(rows, d.opts.RowBatch, each)
		} else {
			d.pool.ParallelFor(rows, each)
		}
	}
	metrics.RecordBatch(path, rows, width, time.Since(start))

	if d.opts.AuditOutput {
		audit(output)
	}
	return nil
}

// Serial is the single-threaded row loop. It is bit-identical to the
// parallel path of any Driver.
func Serial(input, output []float32, width int) error {
	rows, err := Rows(len(input), len(output), width)
	if err != nil {
		return err
	}
	serial(input, output, 0, rows, width)
	return nil
}

func serial(input, output []float32, lo, hi, width int) {
	for r := lo; r < hi; r++ {
		off := r * width
		kernel.Row(input[off:off+width], output[off:off+width])
	}
}

// Rows validates buffer lengths against width and returns the row count.
func Rows(inLen, outLen, width int) (int, error) {
	if width <= 0 {
		return 0, fmt.Errorf("%w: width %d (must be positive)", ErrInvalidShape, width)
	}
	if inLen%width != 0 {
		return 0, fmt.Errorf("%w: input length %d is not a multiple of width %d", ErrInvalidShape, inLen, width)
	}
	if outLen != inLen {
		return 0, fmt.Errorf("%w: output length %d != input length %d", ErrInvalidShape, outLen, inLen)
	}
	return inLen / width, nil
}

func audit(output []float32) {
	var nans, infs int
	for _, v := range output {
		switch {
		case math.IsNaN(float64(v)):
			nans++
		case math.IsInf(float64(v), 0):
			infs++
		}
	}
	metrics.RecordNumericalInstability(nans, infs)
}
