package flightsvc

import (
	"context"
	"errors"
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/flight"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

var ErrNotConnected = errors.New("client not connected, call Connect() first")

// Client sends vectors to a softmax Flight server.
type Client struct {
	// Column is the vector column name sent as the descriptor path.
	Column string

	addr   string
	client flight.Client
	mem    memory.Allocator
}

func NewClient(addr string) *Client {
	return &Client{
		Column: DefaultColumn,
		addr:   addr,
		mem:    memory.DefaultAllocator,
	}
}

// Connect creates the gRPC connection. The dial itself is lazy.
func (c *Client) Connect(ctx context.Context) error {
	client, err := flight.NewClientWithMiddleware(c.addr, nil, nil,
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return fmt.Errorf("failed to create Flight client: %w", err)
	}
	c.client = client
	return nil
}

func (c *Client) Close() error {
	if c.client != nil {
		err := c.client.Close()
		c.client = nil
		return err
	}
	return nil
}

// Softmax returns the softmax of every vector. All vectors must have the
// same non-zero length.
func (c *Client) Softmax(ctx context.Context, vectors [][]float32) ([][]float32, error) {
	if c.client == nil {
		return nil, ErrNotConnected
	}
	if len(vectors) == 0 {
		return nil, fmt.Errorf("no vectors provided")
	}

	rec, err := c.buildRecord(vectors)
	if err != nil {
		return nil, err
	}
	defer rec.Release()

	results, err := c.Exchange(ctx, rec, c.Column)
	if err != nil {
		return nil, err
	}
	defer func() {
		for _, r := range results {
			r.Release()
		}
	}()

	out := make([][]float32, 0, len(vectors))
	for _, r := range results {
		idx := r.Schema().FieldIndices(c.Column)
		if len(idx) == 0 {
			return nil, fmt.Errorf("response is missing column %q", c.Column)
		}
		vecs, err := rows(r.Column(idx[0]))
		if err != nil {
			return nil, err
		}
		out = append(out, vecs...)
	}
	return out, nil
}

func (c *Client) buildRecord(vectors [][]float32) (arrow.Record, error) {
	dim := len(vectors[0])
	if dim == 0 {
		return nil, fmt.Errorf("invalid vector dimension: 0 (must be positive)")
	}

	b := array.NewFixedSizeListBuilder(c.mem, int32(dim), arrow.PrimitiveTypes.Float32)
	defer b.Release()
	vb := b.ValueBuilder().(*array.Float32Builder)
	vb.Reserve(len(vectors) * dim)
	for i, v := range vectors {
		if len(v) != dim {
			return nil, fmt.Errorf("vector %d has dimension %d, expected %d", i, len(v), dim)
		}
		b.Append(true)
		vb.AppendValues(v, nil)
	}
	col := b.NewListArray()
	defer col.Release()

	schema := arrow.NewSchema([]arrow.Field{{Name: c.Column, Type: col.DataType()}}, nil)
	return array.NewRecord(schema, []arrow.Array{col}, int64(len(vectors))), nil
}

// Exchange streams rec to the server, asking it to transform column, and
// returns the records it sends back. The caller releases them.
func (c *Client) Exchange(ctx context.Context, rec arrow.Record, column string) ([]arrow.Record, error) {
	if c.client == nil {
		return nil, ErrNotConnected
	}

	stream, err := c.client.DoExchange(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to open exchange: %w", err)
	}

	wr := flight.NewRecordWriter(stream, ipc.WithSchema(rec.Schema()), ipc.WithAllocator(c.mem))
	wr.SetFlightDescriptor(&flight.FlightDescriptor{Type: flight.DescriptorPATH, Path: []string{column}})
	if err := wr.Write(rec); err != nil {
		wr.Close()
		return nil, fmt.Errorf("failed to write record: %w", err)
	}
	if err := wr.Close(); err != nil {
		return nil, fmt.Errorf("failed to close writer: %w", err)
	}
	if err := stream.CloseSend(); err != nil {
		return nil, fmt.Errorf("failed to close send: %w", err)
	}

	rdr, err := flight.NewRecordReader(stream, ipc.WithAllocator(c.mem))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	defer rdr.Release()

	var out []arrow.Record
	for rdr.Next() {
		r := rdr.Record()
		r.Retain()
		out = append(out, r)
	}
	if err := rdr.Err(); err != nil {
		for _, r := range out {
			r.Release()
		}
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	return out, nil
}

// rows copies a FixedSizeList<float32> column out as one slice per row.
func rows(col arrow.Array) ([][]float32, error) {
	fsl, ok := col.(*array.FixedSizeList)
	if !ok {
		return nil, fmt.Errorf("unexpected response column type %s, expected fixed_size_list<float32>", col.DataType())
	}
	child, ok := fsl.ListValues().(*array.Float32)
	if !ok {
		return nil, fmt.Errorf("unexpected response list element %s, expected float32", fsl.ListValues().DataType())
	}
	width := int(fsl.DataType().(*arrow.FixedSizeListType).Len())
	values := child.Float32Values()
	off := fsl.Data().Offset() * width
	if off+fsl.Len()*width > len(values) {
		return nil, fmt.Errorf("response column has %d values for %d rows of width %d", len(values), fsl.Len(), width)
	}

	out := make([][]float32, fsl.Len())
	for i := range out {
		lo := off + i*width
		out[i] = append([]float32(nil), values[lo:lo+width]...)
	}
	return out, nil
}
