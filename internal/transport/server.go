package transport

import (
	"context"
	"fmt"

	"github.com/apache/arrow-go/v18/arrow/flight"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Handler computes the result for one job.
type Handler func(ctx context.Context, job *Job) (*Result, error)

// FlushFunc resets the backing device.
type FlushFunc func(ctx context.Context) error

// Service is a Flight service that answers DoExchange jobs and the flush action.
type Service struct {
	flight.BaseFlightServer

	handle Handler
	flush  FlushFunc
	mem    memory.Allocator
}

func NewService(h Handler, flush FlushFunc) *Service {
	return &Service{handle: h, flush: flush, mem: memory.DefaultAllocator}
}

func (s *Service) DoExchange(stream flight.FlightService_DoExchangeServer) error {
	rdr, err := flight.NewRecordReader(stream, ipc.WithAllocator(s.mem))
	if err != nil {
		return status.Errorf(codes.InvalidArgument, "open job stream: %v", err)
	}
	defer rdr.Release()

	if d := rdr.LatestFlightDescriptor(); d != nil && len(d.Cmd) > 0 && string(d.Cmd) != CmdTiledMatmul {
		return status.Errorf(codes.Unimplemented, "unknown command %q", d.Cmd)
	}

	job, err := readJob(rdr)
	if err != nil {
		return status.Errorf(codes.InvalidArgument, "decode job: %v", err)
	}

	res, err := s.handle(stream.Context(), job)
	if err != nil {
		return status.Errorf(codes.Internal, "tiled matmul: %v", err)
	}

	schema, err := resultSchema(res.C)
	if err != nil {
		return status.Error(codes.Internal, err.Error())
	}
	w := flight.NewRecordWriter(stream, ipc.WithSchema(schema), ipc.WithAllocator(s.mem))
	if err := writeResult(w, schema, s.mem, res); err != nil {
		w.Close()
		return status.Error(codes.Internal, err.Error())
	}
	return w.Close()
}

func (s *Service) DoAction(action *flight.Action, stream flight.FlightService_DoActionServer) error {
	switch action.GetType() {
	case ActionFlush:
		if s.flush != nil {
			if err := s.flush(stream.Context()); err != nil {
				return status.Errorf(codes.Internal, "flush: %v", err)
			}
		}
		return stream.Send(&flight.Result{Body: []byte("ok")})
	default:
		return status.Errorf(codes.Unimplemented, "unknown action %q", action.GetType())
	}
}

func (s *Service) ListActions(_ *flight.Empty, stream flight.FlightService_ListActionsServer) error {
	return stream.Send(&flight.ActionType{
		Type:        ActionFlush,
		Description: "reset the accelerator before a sweep",
	})
}

// Listen binds svc to addr. The caller runs Serve and later Shutdown on the
// returned server.
func Listen(addr string, svc *Service) (flight.Server, error) {
	srv := flight.NewServerWithMiddleware(nil)
	srv.RegisterFlightService(svc)
	if err := srv.Init(addr); err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return srv, nil
}
