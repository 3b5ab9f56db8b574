package engine

import (
	"errors"
	"math"
	"testing"

	"github.com/23skdu/longbow-softmax/internal/batch"
	"github.com/23skdu/longbow-softmax/internal/metrics"
	"github.com/23skdu/longbow-softmax/internal/tensor"
	"github.com/23skdu/longbow-softmax/internal/workerpool"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func newTensor(t *testing.T, data []float32, shape ...int) *tensor.Tensor {
	t.Helper()
	tn, err := tensor.New(data, shape...)
	if err != nil {
		t.Fatalf("tensor.New(%v): %v", shape, err)
	}
	return tn
}

func values(t *testing.T, tn *tensor.Tensor) []float32 {
	t.Helper()
	v, err := tensor.ToSlice[float32](tn)
	if err != nil {
		t.Fatalf("ToSlice: %v", err)
	}
	return v
}

func assertClose(t *testing.T, got, want []float32) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("length %d, want %d", len(got), len(want))
	}
	for i := range want {
		if math.Abs(float64(got[i]-want[i])) > 1e-4 {
			t.Errorf("index %d: expected %v, got %v", i, want[i], got[i])
		}
	}
}

func TestSoftmaxTwoRows(t *testing.T) {
	in := newTensor(t, []float32{0, 1, 0, 1, -2, 2, 3, -3}, 2, 4)
	want := []float32{0.1345, 0.3655, 0.1345, 0.3655, 0.0049, 0.2671, 0.7262, 0.0018}

	for _, axis := range []int{1, -1} {
		out, err := Softmax(in, axis)
		if err != nil {
			t.Fatalf("axis %d: %v", axis, err)
		}
		if !out.Shape().Equal(tensor.Shape{2, 4}) {
			t.Errorf("axis %d: shape %v, want [2 4]", axis, out.Shape())
		}
		assertClose(t, values(t, out), want)
	}
}

func TestSoftmaxParallelDriver(t *testing.T) {
	pool := workerpool.New(3)
	defer pool.Close()
	a := New(batch.New(pool, batch.Options{RowBatch: 1}))

	data := make([]float32, 64*17)
	for i := range data {
		data[i] = float32(i%23) - 11
	}
	in := newTensor(t, data, 4, 16, 17)

	got, err := a.Softmax(in, 2)
	if err != nil {
		t.Fatal(err)
	}
	want := make([]float32, len(data))
	if err := batch.Serial(data, want, 17); err != nil {
		t.Fatal(err)
	}
	for i, v := range values(t, got) {
		if math.Float32bits(v) != math.Float32bits(want[i]) {
			t.Fatalf("index %d: %v != serial %v", i, v, want[i])
		}
	}
}

func TestSoftmaxUnsupportedAxis(t *testing.T) {
	in := newTensor(t, make([]float32, 6), 2, 3)
	for _, axis := range []int{0, -2, 2, 5, -3} {
		if _, err := Softmax(in, axis); !errors.Is(err, ErrUnsupportedAxis) {
			t.Errorf("axis %d: expected ErrUnsupportedAxis, got %v", axis, err)
		}
	}

	scalar := newTensor(t, []float32{1})
	if _, err := Softmax(scalar, 0); !errors.Is(err, ErrUnsupportedAxis) {
		t.Errorf("scalar: expected ErrUnsupportedAxis, got %v", err)
	}
}

func TestSoftmaxNonContiguous(t *testing.T) {
	in := newTensor(t, []float32{0, 1, 2, 3, 4, 5}, 2, 3)

	tr, err := in.Transpose(0, 1)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := Softmax(tr, -1); !errors.Is(err, ErrNonContiguous) {
		t.Errorf("transpose: expected ErrNonContiguous, got %v", err)
	}

	cols, err := in.Narrow(1, 0, 2)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := Softmax(cols, -1); !errors.Is(err, ErrNonContiguous) {
		t.Errorf("narrow: expected ErrNonContiguous, got %v", err)
	}
}

func TestSoftmaxRowNarrowWithOffset(t *testing.T) {
	in := newTensor(t, []float32{9, 9, 9, 9, 0, 1, 0, 1, -2, 2, 3, -3}, 3, 4)
	rows, err := in.Narrow(0, 1, 2)
	if err != nil {
		t.Fatal(err)
	}

	out, err := Softmax(rows, -1)
	if err != nil {
		t.Fatal(err)
	}
	assertClose(t, values(t, out),
		[]float32{0.1345, 0.3655, 0.1345, 0.3655, 0.0049, 0.2671, 0.7262, 0.0018})
}

func TestSoftmaxLayoutOutsideStorage(t *testing.T) {
	storage := tensor.NewCPUStorage(make([]float32, 4))
	overrun, err := tensor.Strided(tensor.Shape{2, 4}, []int{4, 1}, 0)
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name   string
		layout tensor.Layout
	}{
		{"start past end", tensor.ContiguousAt(tensor.Shape{1, 4}, 2)},
		{"negative start", tensor.ContiguousAt(tensor.Shape{1, 4}, -1)},
		{"shape larger than storage", overrun},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := tensor.FromStorage(storage, tt.layout)
			if _, err := Softmax(in, -1); !errors.Is(err, ErrNonContiguous) {
				t.Errorf("expected ErrNonContiguous, got %v", err)
			}
		})
	}

	if _, err := tensor.Strided(tensor.Shape{1, 4}, []int{4, 1}, -1); err == nil {
		t.Error("expected Strided to reject a negative start")
	}
}

func TestSoftmaxUnsupportedDType(t *testing.T) {
	in, err := tensor.New([]float64{1, 2, 3}, 1, 3)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := Softmax(in, -1); !errors.Is(err, ErrUnsupportedDType) {
		t.Errorf("expected ErrUnsupportedDType, got %v", err)
	}
}

func TestSoftmaxCheckOrder(t *testing.T) {
	in, _ := tensor.New([]float64{1, 2, 3, 4, 5, 6}, 2, 3)
	tr, _ := in.Transpose(0, 1)

	if _, err := Softmax(tr, 0); !errors.Is(err, ErrUnsupportedAxis) {
		t.Errorf("axis should be checked first, got %v", err)
	}
	if _, err := Softmax(tr, -1); !errors.Is(err, ErrNonContiguous) {
		t.Errorf("layout should be checked before dtype, got %v", err)
	}
}

func TestSoftmaxVectorAndSingleElement(t *testing.T) {
	out, err := Softmax(newTensor(t, []float32{5}, 1), 0)
	if err != nil {
		t.Fatal(err)
	}
	if v := values(t, out); v[0] != 1 {
		t.Errorf("expected exactly 1, got %v", v[0])
	}

	out, err = Softmax(newTensor(t, []float32{0, 1, 0, 1}, 4), -1)
	if err != nil {
		t.Fatal(err)
	}
	assertClose(t, values(t, out), []float32{0.1345, 0.3655, 0.1345, 0.3655})
}

func TestSoftmaxDoesNotMutateInput(t *testing.T) {
	data := []float32{3, 1, 4, 1, 5, 9}
	orig := append([]float32(nil), data...)
	in := newTensor(t, data, 3, 2)

	out, err := Softmax(in, -1)
	if err != nil {
		t.Fatal(err)
	}
	if out.Storage() == in.Storage() {
		t.Error("output shares storage with input")
	}
	for i := range data {
		if data[i] != orig[i] {
			t.Fatalf("input[%d] changed from %v to %v", i, orig[i], data[i])
		}
	}
	if !out.Shape().Equal(in.Shape()) {
		t.Errorf("shape %v, want %v", out.Shape(), in.Shape())
	}
}

func TestSoftmaxEmpty(t *testing.T) {
	out, err := Softmax(newTensor(t, nil, 0, 4), -1)
	if err != nil {
		t.Fatalf("empty batch: %v", err)
	}
	if out.ElemCount() != 0 || !out.Shape().Equal(tensor.Shape{0, 4}) {
		t.Errorf("unexpected output shape %v", out.Shape())
	}

	if _, err := Softmax(newTensor(t, nil, 3, 0), -1); !errors.Is(err, batch.ErrInvalidShape) {
		t.Errorf("zero width: expected ErrInvalidShape, got %v", err)
	}
}

func TestSoftmaxRejectionMetrics(t *testing.T) {
	counter := metrics.ValidationErrors.WithLabelValues("softmax", "unsupported_axis")
	before := testutil.ToFloat64(counter)

	in := newTensor(t, make([]float32, 4), 2, 2)
	_, _ = Softmax(in, 0)
	_, _ = Softmax(in, 7)

	if got := testutil.ToFloat64(counter) - before; got != 2 {
		t.Errorf("unsupported_axis errors increased by %v, want 2", got)
	}
}

func TestResolveAxis(t *testing.T) {
	tests := []struct {
		axis, rank, want int
		ok               bool
	}{
		{1, 2, 1, true},
		{-1, 2, 1, true},
		{2, 3, 2, true},
		{-1, 1, 0, true},
		{0, 2, 0, false},
		{-3, 2, 0, false},
		{2, 2, 0, false},
		{0, 0, 0, false},
	}
	for _, tt := range tests {
		got, err := ResolveAxis(tt.axis, tt.rank)
		if tt.ok != (err == nil) {
			t.Errorf("ResolveAxis(%d, %d): unexpected error state %v", tt.axis, tt.rank, err)
			continue
		}
		if err != nil && !errors.Is(err, ErrUnsupportedAxis) {
			t.Errorf("ResolveAxis(%d, %d): expected ErrUnsupportedAxis, got %v", tt.axis, tt.rank, err)
		}
		if tt.ok && got != tt.want {
			t.Errorf("ResolveAxis(%d, %d) = %d, want %d", tt.axis, tt.rank, got, tt.want)
		}
	}
}

func TestFusedSoftmaxAsCustomOp(t *testing.T) {
	var op tensor.CustomOp1 = FusedSoftmax{}
	if op.Name() != "fused-softmax" {
		t.Errorf("name %q", op.Name())
	}

	in := newTensor(t, []float32{0, 1, 0, 1}, 1, 4)
	out, err := in.ApplyOp1(New(nil).Op())
	if err != nil {
		t.Fatal(err)
	}
	assertClose(t, values(t, out), []float32{0.1345, 0.3655, 0.1345, 0.3655})
}
