// Package flightserver adapts internal/pipeline and internal/action to the
// plain Arrow Flight RPC surface (spec.md §1/§4.6/§4.8): get_flight_info,
// do_get and do_action, plus list_flights for template discovery. This is
// deliberately the bare flight.FlightServiceServer interface, not the
// FlightSQL sub-protocol — there is no per-statement-type method set here,
// just the four generic RPCs the spec names.
package flightserver

import (
	"context"

	"github.com/apache/arrow-go/v18/arrow/flight"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/sqlgateway/flightgw/internal/action"
	"github.com/sqlgateway/flightgw/internal/apperrors"
	"github.com/sqlgateway/flightgw/internal/pipeline"
	"github.com/sqlgateway/flightgw/internal/templatemeta"
)

// Server implements flight.FlightServiceServer over the query pipeline and
// the do_action handler.
type Server struct {
	flight.BaseFlightServer

	Pipeline *pipeline.Pipeline
	Actions  *action.Handler
	Loader   *templatemeta.Loader
	Log      zerolog.Logger
}

// New constructs a Server ready for flight.RegisterFlightServiceServer.
func New(p *pipeline.Pipeline, actions *action.Handler, loader *templatemeta.Loader, log zerolog.Logger) *Server {
	s := &Server{
		Pipeline: p,
		Actions:  actions,
		Loader:   loader,
		Log:      log.With().Str("component", "flightserver").Logger(),
	}
	s.Alloc = memory.DefaultAllocator
	return s
}

// sessionIDFromContext reads the `session_id` metadata header a client may
// attach out-of-band (spec.md §4.6 do_get's session_id fallback chain).
func sessionIDFromContext(ctx context.Context) string {
	return headerValue(ctx, "session_id")
}

// GetFlightInfo implements get_flight_info: the descriptor command is the
// wire JSON QueryCommand, delegated to the pipeline's schema-inference pass.
func (s *Server) GetFlightInfo(ctx context.Context, desc *flight.FlightDescriptor) (*flight.FlightInfo, error) {
	reqLog := s.Log.With().Str("request_id", uuid.NewString()).Logger()
	reqLog.Debug().Msg("get_flight_info")

	info, err := s.Pipeline.GetFlightInfo(ctx, desc.Cmd)
	if err != nil {
		reqLog.Warn().Err(err).Msg("get_flight_info failed")
		return nil, apperrors.ToStatus(err)
	}
	return &flight.FlightInfo{
		Schema: flight.SerializeSchema(info.Schema, s.Alloc),
		FlightDescriptor: desc,
		Endpoint: []*flight.FlightEndpoint{{
			Ticket: &flight.Ticket{Ticket: info.Ticket},
		}},
	}, nil
}

// GetSchema reruns the same schema-inference pass as GetFlightInfo and
// returns just the serialized schema; spec.md §4.6 does not distinguish the
// two beyond response shape.
func (s *Server) GetSchema(ctx context.Context, desc *flight.FlightDescriptor) (*flight.SchemaResult, error) {
	info, err := s.Pipeline.GetFlightInfo(ctx, desc.Cmd)
	if err != nil {
		return nil, apperrors.ToStatus(err)
	}
	return &flight.SchemaResult{Schema: flight.SerializeSchema(info.Schema, s.Alloc)}, nil
}

// DoGet implements do_get: the ticket is the wire JSON QueryCommand (either
// the already-rendered SQL or the original command, per get_flight_info's
// ticket construction), streamed
// out as either the query's result grid or the multiplexed log stream
// (spec.md §4.6).
func (s *Server) DoGet(tkt *flight.Ticket, fs flight.FlightService_DoGetServer) error {
	ctx := fs.Context()
	reqLog := s.Log.With().Str("request_id", uuid.NewString()).Logger()
	reqLog.Debug().Msg("do_get")

	result, err := s.Pipeline.DoGet(ctx, tkt.Ticket, sessionIDFromContext(ctx))
	if err != nil {
		reqLog.Warn().Err(err).Msg("do_get failed")
		return apperrors.ToStatus(err)
	}

	w := flight.NewRecordWriter(fs, ipc.WithSchema(result.Schema), ipc.WithAllocator(memory.DefaultAllocator))
	defer w.Close()

	for chunk := range result.Records {
		if chunk.Err != nil {
			return apperrors.ToStatus(chunk.Err)
		}
		if err := w.Write(chunk.Record); err != nil {
			chunk.Record.Release()
			return err
		}
		chunk.Record.Release()
	}
	return nil
}
