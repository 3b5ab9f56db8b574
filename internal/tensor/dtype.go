package tensor

// DType is the runtime element type of a storage block.
type DType int

const (
	F32 DType = iota
	F64
)

// Element is the set of Go types a CPU storage block can hold.
type Element interface {
	float32 | float64
}

func (dt DType) String() string {
	switch dt {
	case F32:
		return "f32"
	case F64:
		return "f64"
	default:
		return "unknown"
	}
}

// Size returns the byte size of one element.
func (dt DType) Size() int {
	switch dt {
	case F32:
		return 4
	case F64:
		return 8
	default:
		return 0
	}
}

func DTypeOf[T Element]() DType {
	var zero T
	switch any(zero).(type) {
	case float32:
		return F32
	default:
		return F64
	}
}
