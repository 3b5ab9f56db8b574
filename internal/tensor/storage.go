package tensor

import (
	"errors"
	"fmt"
)

var ErrDTypeMismatch = errors.New("dtype mismatch")

// Storage is an owned block of elements. Layouts describe how tensors view it.
type Storage interface {
	DType() DType
	Len() int
}

// CPUStorage is a host-memory storage block.
type CPUStorage[T Element] struct {
	data []T
}

// NewCPUStorage takes ownership of data.
func NewCPUStorage[T Element](data []T) *CPUStorage[T] {
	return &CPUStorage[T]{data: data}
}

func (s *CPUStorage[T]) DType() DType {
	return DTypeOf[T]()
}

func (s *CPUStorage[T]) Len() int {
	return len(s.data)
}

func (s *CPUStorage[T]) Data() []T {
	return s.data
}

// AsSlice returns the backing slice of s if it holds T elements.
func AsSlice[T Element](s Storage) ([]T, error) {
	cs, ok := s.(*CPUStorage[T])
	if !ok {
		return nil, fmt.Errorf("%w: storage holds %s, want %s", ErrDTypeMismatch, s.DType(), DTypeOf[T]())
	}
	return cs.data, nil
}
