// Package tensor is a minimal CPU tensor engine: shared storage blocks,
// strided views over them, and a plug-in point for custom forward ops.
// Views (Transpose, Narrow, Reshape) never copy data.
package tensor

import (
	"fmt"
)

// CustomOp1 is a single-input, forward-only operation supplied from
// outside the engine. CPUForward receives the input's storage and layout
// and returns a new storage block with its shape; the result is wrapped in
// a contiguous layout.
type CustomOp1 interface {
	Name() string
	CPUForward(s Storage, l Layout) (Storage, Shape, error)
}

type Tensor struct {
	storage Storage
	layout  Layout
}

// New wraps data in a contiguous tensor of the given shape. The tensor
// takes ownership of data.
func New[T Element](data []T, shape ...int) (*Tensor, error) {
	s := Shape(shape)
	if err := s.validate(); err != nil {
		return nil, err
	}
	if s.ElemCount() != len(data) {
		return nil, fmt.Errorf("%w: %d elements for shape %v", ErrShapeMismatch, len(data), shape)
	}
	return &Tensor{storage: NewCPUStorage(data), layout: Contiguous(s)}, nil
}

// FromStorage builds a tensor viewing s through l. The layout must address
// only elements inside s.
func FromStorage(s Storage, l Layout) *Tensor {
	return &Tensor{storage: s, layout: l}
}

func (t *Tensor) Shape() Shape     { return t.layout.shape }
func (t *Tensor) Layout() Layout   { return t.layout }
func (t *Tensor) Storage() Storage { return t.storage }
func (t *Tensor) DType() DType     { return t.storage.DType() }
func (t *Tensor) Rank() int        { return t.layout.Rank() }
func (t *Tensor) ElemCount() int   { return t.layout.ElemCount() }

func (t *Tensor) view(l Layout, err error) (*Tensor, error) {
	if err != nil {
		return nil, err
	}
	return &Tensor{storage: t.storage, layout: l}, nil
}

func (t *Tensor) Transpose(d1, d2 int) (*Tensor, error) {
	return t.view(t.layout.Transpose(d1, d2))
}

func (t *Tensor) Narrow(dim, start, length int) (*Tensor, error) {
	return t.view(t.layout.Narrow(dim, start, length))
}

func (t *Tensor) Reshape(shape ...int) (*Tensor, error) {
	return t.view(t.layout.Reshape(Shape(shape)))
}

// ApplyOp1 runs op on t and returns a tensor owning the op's output.
func (t *Tensor) ApplyOp1(op CustomOp1) (*Tensor, error) {
	s, shape, err := op.CPUForward(t.storage, t.layout)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op.Name(), err)
	}
	if s.Len() != shape.ElemCount() {
		return nil, fmt.Errorf("%s: %w: %d elements returned for shape %v",
			op.Name(), ErrShapeMismatch, s.Len(), []int(shape))
	}
	return &Tensor{storage: s, layout: Contiguous(shape)}, nil
}

// ToSlice copies t's elements out in logical row-major order, following
// strides when the layout is not contiguous.
func ToSlice[T Element](t *Tensor) ([]T, error) {
	data, err := AsSlice[T](t.storage)
	if err != nil {
		return nil, err
	}

	l := t.layout
	n := l.ElemCount()
	out := make([]T, 0, n)
	if start, end, ok := l.ContiguousOffsets(); ok {
		return append(out, data[start:end]...), nil
	}

	idx := make([]int, l.Rank())
	for range n {
		off := l.start
		for d, i := range idx {
			off += i * l.strides[d]
		}
		out = append(out, data[off])

		for d := len(idx) - 1; d >= 0; d-- {
			idx[d]++
			if idx[d] < l.shape[d] {
				break
			}
			idx[d] = 0
		}
	}
	return out, nil
}
