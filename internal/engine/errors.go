package engine

import (
	"errors"

	"github.com/23skdu/longbow-softmax/internal/batch"
)

var (
	// ErrUnsupportedAxis is returned for any axis other than the last one,
	// including axes outside the tensor's rank.
	ErrUnsupportedAxis = errors.New("unsupported axis")
	// ErrNonContiguous is returned when the input is not one row-major run
	// of storage (transposed or column-narrowed views).
	ErrNonContiguous = errors.New("non-contiguous layout")
	// ErrUnsupportedDType is returned for any element type except f32.
	ErrUnsupportedDType = errors.New("unsupported dtype")
)

// ErrorType is the metrics label for a returned error.
func ErrorType(err error) string {
	switch {
	case errors.Is(err, ErrUnsupportedAxis):
		return "unsupported_axis"
	case errors.Is(err, ErrNonContiguous):
		return "non_contiguous"
	case errors.Is(err, ErrUnsupportedDType):
		return "unsupported_dtype"
	case errors.Is(err, batch.ErrInvalidShape):
		return "invalid_shape"
	default:
		return "other"
	}
}
