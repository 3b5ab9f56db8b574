// Package flightsvc serves the fused softmax over Arrow Flight. Clients
// stream records through DoExchange and get each record back with its
// vector column replaced by the softmax of every row.
package flightsvc

import (
	"net"

	"github.com/apache/arrow-go/v18/arrow/flight"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/23skdu/longbow-softmax/internal/arrowop"
	"github.com/23skdu/longbow-softmax/internal/logger"
	"github.com/23skdu/longbow-softmax/internal/metrics"
)

// DefaultColumn is used when the exchange descriptor carries no path.
const DefaultColumn = "vector"

const (
	statusOK       = "ok"
	statusRejected = "rejected"
	statusFailed   = "failed"
)

// Server is a Flight server whose DoExchange applies softmax to the column
// named by the first descriptor path element.
type Server struct {
	flight.BaseFlightServer

	op  *arrowop.Op
	mem memory.Allocator
	srv flight.Server
	log *logger.Logger
}

// NewServer wires a Flight server around op. A nil op uses the default
// driver and allocator.
func NewServer(op *arrowop.Op) *Server {
	if op == nil {
		op = arrowop.New(nil, nil)
	}
	s := &Server{
		op:  op,
		mem: memory.DefaultAllocator,
		srv: flight.NewServerWithMiddleware(nil),
		log: logger.With("flight"),
	}
	s.srv.RegisterFlightService(s)
	return s
}

// Init binds addr. Use "localhost:0" for an ephemeral port.
func (s *Server) Init(addr string) error {
	return s.srv.Init(addr)
}

func (s *Server) Addr() net.Addr {
	return s.srv.Addr()
}

// Serve blocks until Shutdown is called.
func (s *Server) Serve() error {
	s.log.Info("flight server listening", "addr", s.srv.Addr().String())
	return s.srv.Serve()
}

func (s *Server) Shutdown() {
	s.srv.Shutdown()
	s.log.Info("flight server stopped")
}

func (s *Server) DoExchange(stream flight.FlightService_DoExchangeServer) error {
	rdr, err := flight.NewRecordReader(stream, ipc.WithAllocator(s.mem))
	if err != nil {
		return status.Errorf(codes.InvalidArgument, "read schema: %v", err)
	}
	defer rdr.Release()

	column := DefaultColumn
	if desc := rdr.LatestFlightDescriptor(); desc != nil && len(desc.Path) > 0 {
		column = desc.Path[0]
	}

	wr := flight.NewRecordWriter(stream, ipc.WithSchema(rdr.Schema()), ipc.WithAllocator(s.mem))
	defer wr.Close()

	for rdr.Next() {
		out, err := s.op.Record(rdr.Record(), column)
		if err != nil {
			metrics.RecordFlightRecord(statusRejected)
			s.log.Warn("exchange rejected", "column", column, "error", err)
			return status.Error(codes.InvalidArgument, err.Error())
		}
		err = wr.Write(out)
		out.Release()
		if err != nil {
			metrics.RecordFlightRecord(statusFailed)
			return status.Errorf(codes.Internal, "write record: %v", err)
		}
		metrics.RecordFlightRecord(statusOK)
	}
	if err := rdr.Err(); err != nil {
		return status.Errorf(codes.InvalidArgument, "read record: %v", err)
	}
	return nil
}
