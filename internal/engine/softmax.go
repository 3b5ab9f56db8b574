// Package engine plugs the fused batch softmax into the tensor engine as a
// custom op, so callers can swap it in for the engine's own softmax.
//
// Only the last axis of a contiguous f32 tensor is supported. Anything else
// is rejected with an error instead of being silently copied.
package engine

import (
	"fmt"
	"sync"

	"github.com/23skdu/longbow-softmax/internal/batch"
	"github.com/23skdu/longbow-softmax/internal/logger"
	"github.com/23skdu/longbow-softmax/internal/metrics"
	"github.com/23skdu/longbow-softmax/internal/tensor"
)

const opName = "fused-softmax"

// FusedSoftmax implements tensor.CustomOp1 over the last dimension.
// A nil Driver uses batch.Default().
type FusedSoftmax struct {
	Driver *batch.Driver
}

func (FusedSoftmax) Name() string { return opName }

func (op FusedSoftmax) CPUForward(s tensor.Storage, l tensor.Layout) (tensor.Storage, tensor.Shape, error) {
	shape := l.Shape()
	if shape.Rank() == 0 {
		return nil, nil, fmt.Errorf("%w: scalar has no axis", ErrUnsupportedAxis)
	}

	start, end, ok := l.ContiguousOffsets()
	if !ok {
		return nil, nil, fmt.Errorf("%w: shape %v strides %v", ErrNonContiguous, []int(shape), l.Strides())
	}

	data, err := tensor.AsSlice[float32](s)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %s", ErrUnsupportedDType, s.DType())
	}
	if start < 0 || end > len(data) {
		return nil, nil, fmt.Errorf("%w: offsets [%d, %d) outside storage of %d elements",
			ErrNonContiguous, start, end, len(data))
	}

	width := shape[shape.Rank()-1]
	rows := 0
	if width > 0 {
		rows = shape.ElemCount() / width
	}
	flat, err := l.Reshape(tensor.Shape{rows, width})
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", batch.ErrInvalidShape, err)
	}
	if _, width, err = flat.Shape().Dims2(); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", batch.ErrInvalidShape, err)
	}

	driver := op.Driver
	if driver == nil {
		driver = batch.Default()
	}
	out, err := driver.Compute(data[start:end], width)
	if err != nil {
		return nil, nil, err
	}
	return tensor.NewCPUStorage(out), shape.Clone(), nil
}

// ResolveAxis maps a possibly negative axis onto [0, rank) and rejects every
// axis except the last.
func ResolveAxis(axis, rank int) (int, error) {
	resolved := axis
	if resolved < 0 {
		resolved += rank
	}
	if resolved < 0 || resolved >= rank {
		return 0, fmt.Errorf("%w: axis %d out of range for rank %d", ErrUnsupportedAxis, axis, rank)
	}
	if resolved != rank-1 {
		return 0, fmt.Errorf("%w: axis %d, only the last axis (%d) is supported", ErrUnsupportedAxis, axis, rank-1)
	}
	return resolved, nil
}

type Adapter struct {
	op  FusedSoftmax
	log *logger.Logger
}

func New(driver *batch.Driver) *Adapter {
	if driver == nil {
		driver = batch.Default()
	}
	return &Adapter{
		op:  FusedSoftmax{Driver: driver},
		log: logger.With("engine"),
	}
}

// Op returns the custom op for callers that apply it themselves.
func (a *Adapter) Op() tensor.CustomOp1 {
	return a.op
}

// Softmax returns a new tensor with the shape of t holding softmax along
// axis. t is never modified.
func (a *Adapter) Softmax(t *tensor.Tensor, axis int) (*tensor.Tensor, error) {
	out, err := a.softmax(t, axis)
	if err != nil {
		kind := ErrorType(err)
		metrics.RecordValidationError("softmax", kind)
		a.log.Debug("softmax rejected",
			"error_type", kind,
			"shape", []int(t.Shape()),
			"axis", axis,
			"dtype", t.DType().String(),
			"error", err)
		return nil, err
	}
	return out, nil
}

func (a *Adapter) softmax(t *tensor.Tensor, axis int) (*tensor.Tensor, error) {
	if _, err := ResolveAxis(axis, t.Rank()); err != nil {
		return nil, err
	}
	return t.ApplyOp1(a.op)
}

var defaultAdapter = sync.OnceValue(func() *Adapter {
	return New(batch.Default())
})

// Softmax runs the fused softmax on the process-wide worker pool.
func Softmax(t *tensor.Tensor, axis int) (*tensor.Tensor, error) {
	return defaultAdapter().Softmax(t, axis)
}
