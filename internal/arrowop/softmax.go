// Package arrowop applies the fused softmax to Apache Arrow data: row-major
// float32 tensors and FixedSizeList<float32> vector columns.
//
// Inputs are validated like the tensor engine adapter and share its errors.
// Every result is backed by one freshly allocated buffer.
package arrowop

import (
	"errors"
	"fmt"
	"sync"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/apache/arrow-go/v18/arrow/tensor"

	"github.com/23skdu/longbow-softmax/internal/batch"
	"github.com/23skdu/longbow-softmax/internal/engine"
	"github.com/23skdu/longbow-softmax/internal/logger"
	"github.com/23skdu/longbow-softmax/internal/metrics"
)

var ErrColumnNotFound = errors.New("column not found")

type Op struct {
	driver *batch.Driver
	mem    memory.Allocator
	log    *logger.Logger
}

// New builds an Op. nil arguments select batch.Default() and
// memory.DefaultAllocator.
func New(driver *batch.Driver, mem memory.Allocator) *Op {
	if driver == nil {
		driver = batch.Default()
	}
	if mem == nil {
		mem = memory.DefaultAllocator
	}
	return &Op{driver: driver, mem: mem, log: logger.With("arrow")}
}

var defaultOp = sync.OnceValue(func() *Op { return New(nil, nil) })

func SoftmaxTensor(t tensor.Interface, axis int) (*tensor.Float32, error) {
	return defaultOp().Tensor(t, axis)
}

func SoftmaxColumn(arr arrow.Array) (*array.FixedSizeList, error) {
	return defaultOp().Column(arr)
}

func SoftmaxRecord(rec arrow.Record, column string) (arrow.Record, error) {
	return defaultOp().Record(rec, column)
}

func (o *Op) reject(kind string, err error) error {
	label := engine.ErrorType(err)
	metrics.RecordValidationError("arrow_"+kind, label)
	o.log.Debug("arrow softmax rejected", "input", kind, "error_type", label, "error", err)
	return err
}

// compute runs the driver into a new allocator-backed buffer.
func (o *Op) compute(values []float32, width int) (*memory.Buffer, error) {
	buf := memory.NewResizableBuffer(o.mem)
	buf.Resize(len(values) * arrow.Float32SizeBytes)
	out := arrow.Float32Traits.CastFromBytes(buf.Bytes())
	if err := o.driver.ComputeInto(values, out, width); err != nil {
		buf.Release()
		return nil, err
	}
	return buf, nil
}

// Tensor returns softmax along axis of a row-major float32 tensor. The
// result has the input's shape and dimension names.
func (o *Op) Tensor(t tensor.Interface, axis int) (*tensor.Float32, error) {
	out, err := o.tensor(t, axis)
	if err != nil {
		return nil, o.reject("tensor", err)
	}
	return out, nil
}

func (o *Op) tensor(t tensor.Interface, axis int) (*tensor.Float32, error) {
	if _, err := engine.ResolveAxis(axis, t.NumDims()); err != nil {
		return nil, err
	}
	if !t.IsRowMajor() {
		return nil, fmt.Errorf("%w: shape %v byte strides %v", engine.ErrNonContiguous, t.Shape(), t.Strides())
	}
	f32, ok := t.(*tensor.Float32)
	if !ok {
		return nil, fmt.Errorf("%w: %s", engine.ErrUnsupportedDType, t.DataType())
	}

	shape := t.Shape()
	n := 1
	for _, d := range shape {
		n *= int(d)
	}
	values := f32.Float32Values()
	if len(values) < n {
		return nil, fmt.Errorf("%w: %d values for shape %v", batch.ErrInvalidShape, len(values), shape)
	}

	buf, err := o.compute(values[:n], int(shape[len(shape)-1]))
	if err != nil {
		return nil, err
	}
	defer buf.Release()

	data := array.NewData(arrow.PrimitiveTypes.Float32, n, []*memory.Buffer{nil, buf}, nil, 0, 0)
	defer data.Release()
	return tensor.NewFloat32(data, append([]int64(nil), shape...), nil, dimNames(t)), nil
}

func dimNames(t tensor.Interface) []string {
	names := make([]string, t.NumDims())
	named := false
	for i := range names {
		names[i] = t.DimName(i)
		named = named || names[i] != ""
	}
	if !named {
		return nil
	}
	return names
}

// Column returns softmax of every list slot of a FixedSizeList<float32>
// column. Columns with null slots are rejected.
func (o *Op) Column(arr arrow.Array) (*array.FixedSizeList, error) {
	out, err := o.column(arr)
	if err != nil {
		return nil, o.reject("column", err)
	}
	return out, nil
}

func (o *Op) column(arr arrow.Array) (*array.FixedSizeList, error) {
	fsl, ok := arr.(*array.FixedSizeList)
	if !ok {
		return nil, fmt.Errorf("%w: expected fixed_size_list<float32>, got %s", engine.ErrUnsupportedDType, arr.DataType())
	}
	typ := fsl.DataType().(*arrow.FixedSizeListType)
	if typ.Elem().ID() != arrow.FLOAT32 {
		return nil, fmt.Errorf("%w: list element %s", engine.ErrUnsupportedDType, typ.Elem())
	}
	if fsl.NullN() > 0 {
		return nil, fmt.Errorf("%w: %d null rows", engine.ErrNonContiguous, fsl.NullN())
	}

	width := int(typ.Len())
	child := fsl.ListValues().(*array.Float32).Float32Values()
	lo := fsl.Data().Offset() * width
	hi := lo + fsl.Len()*width
	if hi > len(child) {
		return nil, fmt.Errorf("%w: %d child values for %d rows of width %d", batch.ErrInvalidShape, len(child), fsl.Len(), width)
	}

	buf, err := o.compute(child[lo:hi], width)
	if err != nil {
		return nil, err
	}
	defer buf.Release()

	values := array.NewData(arrow.PrimitiveTypes.Float32, hi-lo, []*memory.Buffer{nil, buf}, nil, 0, 0)
	defer values.Release()
	list := array.NewData(typ, fsl.Len(), []*memory.Buffer{nil}, []arrow.ArrayData{values}, 0, 0)
	defer list.Release()
	return array.NewFixedSizeListData(list), nil
}

// Record returns rec with the named vector column replaced by its softmax.
// Other columns are shared with rec.
func (o *Op) Record(rec arrow.Record, column string) (arrow.Record, error) {
	idx := rec.Schema().FieldIndices(column)
	if len(idx) == 0 {
		metrics.RecordValidationError("arrow_record", "column_not_found")
		return nil, fmt.Errorf("%w: %q", ErrColumnNotFound, column)
	}

	out, err := o.Column(rec.Column(idx[0]))
	if err != nil {
		return nil, fmt.Errorf("column %q: %w", column, err)
	}
	defer out.Release()

	cols := make([]arrow.Array, rec.NumCols())
	copy(cols, rec.Columns())
	cols[idx[0]] = out
	return array.NewRecord(rec.Schema(), cols, rec.NumRows()), nil
}
