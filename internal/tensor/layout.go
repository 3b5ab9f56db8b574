package tensor

import (
	"errors"
	"fmt"
)

var (
	ErrShapeMismatch = errors.New("shape mismatch")
	ErrDimOutOfRange = errors.New("dimension out of range")
	// ErrStridedView is returned when a view operation needs a contiguous
	// layout and the tensor is strided.
	ErrStridedView = errors.New("view requires a contiguous layout")
)

type Shape []int

func (s Shape) Rank() int {
	return len(s)
}

// ElemCount is the product of the dimensions; 1 for a scalar.
func (s Shape) ElemCount() int {
	n := 1
	for _, d := range s {
		n *= d
	}
	return n
}

// Dims2 returns (rows, cols) for a rank-2 shape.
func (s Shape) Dims2() (int, int, error) {
	if len(s) != 2 {
		return 0, 0, fmt.Errorf("%w: expected rank 2, got shape %v", ErrShapeMismatch, []int(s))
	}
	return s[0], s[1], nil
}

func (s Shape) Clone() Shape {
	return append(Shape(nil), s...)
}

func (s Shape) Equal(o Shape) bool {
	if len(s) != len(o) {
		return false
	}
	for i := range s {
		if s[i] != o[i] {
			return false
		}
	}
	return true
}

func (s Shape) validate() error {
	for i, d := range s {
		if d < 0 {
			return fmt.Errorf("%w: negative dimension %d at axis %d", ErrShapeMismatch, d, i)
		}
	}
	return nil
}

// Layout maps a logical index to an element offset in storage:
// offset = start + sum(index[i] * strides[i]). Strides count elements.
type Layout struct {
	shape   Shape
	strides []int
	start   int
}

// Contiguous returns the row-major layout of shape starting at offset 0.
func Contiguous(shape Shape) Layout {
	return ContiguousAt(shape, 0)
}

func ContiguousAt(shape Shape, start int) Layout {
	return Layout{shape: shape.Clone(), strides: rowMajorStrides(shape), start: start}
}

// Strided builds an arbitrary layout, e.g. one describing a host engine's
// existing view.
func Strided(shape Shape, strides []int, start int) (Layout, error) {
	if len(strides) != len(shape) {
		return Layout{}, fmt.Errorf("%w: %d strides for rank %d", ErrShapeMismatch, len(strides), len(shape))
	}
	if err := shape.validate(); err != nil {
		return Layout{}, err
	}
	if start < 0 {
		return Layout{}, fmt.Errorf("%w: negative start offset %d", ErrDimOutOfRange, start)
	}
	return Layout{shape: shape.Clone(), strides: append([]int(nil), strides...), start: start}, nil
}

func rowMajorStrides(shape Shape) []int {
	strides := make([]int, len(shape))
	acc := 1
	for i := len(shape) - 1; i >= 0; i-- {
		strides[i] = acc
		acc *= shape[i]
	}
	return strides
}

func (l Layout) Shape() Shape { return l.shape }
func (l Layout) Strides() []int { return l.strides }
func (l Layout) StartOffset() int { return l.start }
func (l Layout) Rank() int { return len(l.shape) }
func (l Layout) ElemCount() int { return l.shape.ElemCount() }

// IsContiguous reports whether logical order equals storage order with no
// gaps. Strides of size-1 dimensions are ignored.
func (l Layout) IsContiguous() bool {
	acc := 1
	for i := len(l.shape) - 1; i >= 0; i-- {
		if l.shape[i] > 1 && l.strides[i] != acc {
			return false
		}
		acc *= l.shape[i]
	}
	return true
}

// ContiguousOffsets returns the [start, end) element range covered by a
// contiguous layout. ok is false for strided layouts.
func (l Layout) ContiguousOffsets() (start, end int, ok bool) {
	if !l.IsContiguous() {
		return 0, 0, false
	}
	return l.start, l.start + l.ElemCount(), true
}

func (l Layout) checkDim(dim int) error {
	if dim < 0 || dim >= len(l.shape) {
		return fmt.Errorf("%w: dim %d for rank %d", ErrDimOutOfRange, dim, len(l.shape))
	}
	return nil
}

// Transpose swaps two dimensions without moving data.
func (l Layout) Transpose(d1, d2 int) (Layout, error) {
	if err := l.checkDim(d1); err != nil {
		return Layout{}, err
	}
	if err := l.checkDim(d2); err != nil {
		return Layout{}, err
	}
	shape := l.shape.Clone()
	strides := append([]int(nil), l.strides...)
	shape[d1], shape[d2] = shape[d2], shape[d1]
	strides[d1], strides[d2] = strides[d2], strides[d1]
	return Layout{shape: shape, strides: strides, start: l.start}, nil
}

// Narrow restricts dim to [start, start+length) without moving data.
func (l Layout) Narrow(dim, start, length int) (Layout, error) {
	if err := l.checkDim(dim); err != nil {
		return Layout{}, err
	}
	if start < 0 || length < 0 || start+length > l.shape[dim] {
		return Layout{}, fmt.Errorf("%w: narrow [%d, %d) of dim %d with size %d",
			ErrDimOutOfRange, start, start+length, dim, l.shape[dim])
	}
	shape := l.shape.Clone()
	shape[dim] = length
	return Layout{
		shape:   shape,
		strides: append([]int(nil), l.strides...),
		start:   l.start + start*l.strides[dim],
	}, nil
}

// Reshape reinterprets a contiguous layout with a new shape of the same
// element count.
func (l Layout) Reshape(shape Shape) (Layout, error) {
	if err := shape.validate(); err != nil {
		return Layout{}, err
	}
	if shape.ElemCount() != l.ElemCount() {
		return Layout{}, fmt.Errorf("%w: cannot reshape %v (%d elements) to %v",
			ErrShapeMismatch, []int(l.shape), l.ElemCount(), []int(shape))
	}
	if !l.IsContiguous() {
		return Layout{}, fmt.Errorf("%w: shape %v strides %v", ErrStridedView, []int(l.shape), l.strides)
	}
	return ContiguousAt(shape, l.start), nil
}
