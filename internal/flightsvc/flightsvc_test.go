package flightsvc

import (
	"context"
	"errors"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/23skdu/longbow-softmax/internal/metrics"
)

func startServer(t *testing.T) *Server {
	t.Helper()
	s := NewServer(nil)
	if err := s.Init("localhost:0"); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	go func() { _ = s.Serve() }()
	t.Cleanup(s.Shutdown)
	return s
}

func connect(t *testing.T, s *Server) *Client {
	t.Helper()
	c := NewClient(s.Addr().String())
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestSoftmaxRoundTrip(t *testing.T) {
	s := startServer(t)
	c := connect(t, s)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	before := testutil.ToFloat64(metrics.FlightRecordsTotal.WithLabelValues("ok"))

	got, err := c.Softmax(ctx, [][]float32{{0, 1, 0, 1}, {-2, 2, 3, -3}})
	if err != nil {
		t.Fatalf("Softmax failed: %v", err)
	}
	want := [][]float32{
		{0.1345, 0.3655, 0.1345, 0.3655},
		{0.0049, 0.2671, 0.7262, 0.0018},
	}
	if len(got) != len(want) {
		t.Fatalf("got %d rows, want %d", len(got), len(want))
	}
	for r := range want {
		for i := range want[r] {
			if math.Abs(float64(got[r][i]-want[r][i])) > 1e-4 {
				t.Errorf("row %d index %d: expected %v, got %v", r, i, want[r][i], got[r][i])
			}
		}
	}

	if d := testutil.ToFloat64(metrics.FlightRecordsTotal.WithLabelValues("ok")) - before; d != 1 {
		t.Errorf("ok records increased by %v, want 1", d)
	}
}

func TestCustomColumn(t *testing.T) {
	s := startServer(t)
	c := connect(t, s)
	c.Column = "embedding"

	got, err := c.Softmax(context.Background(), [][]float32{{5}, {1}})
	if err != nil {
		t.Fatalf("Softmax failed: %v", err)
	}
	if got[0][0] != 1 || got[1][0] != 1 {
		t.Errorf("single-element rows should be exactly 1, got %v", got)
	}
}

func TestExchangeRejectsMissingColumn(t *testing.T) {
	s := startServer(t)
	c := connect(t, s)

	rec, err := c.buildRecord([][]float32{{1, 2}})
	if err != nil {
		t.Fatal(err)
	}
	defer rec.Release()

	before := testutil.ToFloat64(metrics.FlightRecordsTotal.WithLabelValues("rejected"))
	_, err = c.Exchange(context.Background(), rec, "missing")
	if err == nil {
		t.Fatal("expected an error for a missing column")
	}
	if !strings.Contains(err.Error(), "InvalidArgument") {
		t.Errorf("expected InvalidArgument status, got %v", err)
	}
	if d := testutil.ToFloat64(metrics.FlightRecordsTotal.WithLabelValues("rejected")) - before; d != 1 {
		t.Errorf("rejected records increased by %v, want 1", d)
	}
}

func TestClientValidation(t *testing.T) {
	c := NewClient("localhost:1")
	if _, err := c.Softmax(context.Background(), [][]float32{{1}}); !errors.Is(err, ErrNotConnected) {
		t.Errorf("expected ErrNotConnected, got %v", err)
	}
	if err := c.Close(); err != nil {
		t.Errorf("Close on unconnected client: %v", err)
	}

	if _, err := c.buildRecord([][]float32{{1, 2}, {3}}); err == nil {
		t.Error("expected error for ragged vectors")
	}
	if _, err := c.buildRecord([][]float32{{}}); err == nil {
		t.Error("expected error for zero-length vectors")
	}

	if err := c.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer c.Close()
	if _, err := c.Softmax(context.Background(), nil); err == nil {
		t.Error("expected error for empty input")
	}
}

func TestBuildRecordRows(t *testing.T) {
	c := NewClient("localhost:1")
	vectors := [][]float32{{1, 2, 3}, {4, 5, 6}}

	rec, err := c.buildRecord(vectors)
	if err != nil {
		t.Fatalf("buildRecord failed: %v", err)
	}
	defer rec.Release()

	if _, ok := rec.Column(0).(*array.FixedSizeList); !ok {
		t.Fatalf("column type %s, want fixed_size_list", rec.Column(0).DataType())
	}
	got, err := rows(rec.Column(0))
	if err != nil {
		t.Fatalf("rows failed: %v", err)
	}
	if len(got) != len(vectors) {
		t.Fatalf("got %d rows, want %d", len(got), len(vectors))
	}
	for r := range vectors {
		for i := range vectors[r] {
			if got[r][i] != vectors[r][i] {
				t.Errorf("row %d index %d: %v != %v", r, i, got[r][i], vectors[r][i])
			}
		}
	}
}

func TestRowsRejectsUnexpectedColumns(t *testing.T) {
	mem := memory.NewCheckedAllocator(memory.DefaultAllocator)
	defer mem.AssertSize(t, 0)

	fb := array.NewFloat32Builder(mem)
	defer fb.Release()
	fb.AppendValues([]float32{1, 2}, nil)
	flat := fb.NewFloat32Array()
	defer flat.Release()
	if _, err := rows(flat); err == nil {
		t.Error("expected error for a flat float32 column")
	}

	lb := array.NewFixedSizeListBuilder(mem, 2, arrow.PrimitiveTypes.Float64)
	defer lb.Release()
	lb.Append(true)
	lb.ValueBuilder().(*array.Float64Builder).AppendValues([]float64{1, 2}, nil)
	f64 := lb.NewListArray()
	defer f64.Release()
	if _, err := rows(f64); err == nil {
		t.Error("expected error for a float64 list column")
	}
}
