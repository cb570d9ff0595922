package flightserver

import (
	"context"
	"net"

	grpcprom "github.com/grpc-ecosystem/go-grpc-middleware/providers/prometheus"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/reflection"

	"github.com/apache/arrow-go/v18/arrow/flight"
)

const tracerName = "flightgw/flightserver"

// GRPCServer wraps the grpc.Server hosting the Flight service, instrumented
// the way the teacher wires its own gRPC plugin (pkg/plugins/grpc/grpc.go):
// a chained prometheus interceptor registered against a supplied registerer,
// plus reflection for ad hoc debugging.
type GRPCServer struct {
	grpcServer *grpc.Server
	metrics    *grpcprom.ServerMetrics
	registerer prometheus.Registerer
}

// NewGRPCServer builds the gRPC server hosting srv, registering prometheus
// server metrics against reg (may be nil to skip metrics) and an otel span
// per unary/stream call (mirroring how pkg/builtins/sqlsend.go wraps
// sql.send in an "execute" span).
func NewGRPCServer(srv flight.FlightServiceServer, reg prometheus.Registerer) *GRPCServer {
	srvMetrics := grpcprom.NewServerMetrics(
		grpcprom.WithServerCounterOptions(
			grpcprom.CounterOption(func(o *prometheus.CounterOpts) {
				o.Namespace = "flightgw"
				o.Subsystem = "flight"
			}),
		),
	)

	options := []grpc.ServerOption{
		grpc.ChainUnaryInterceptor(srvMetrics.UnaryServerInterceptor(), tracingUnaryInterceptor),
		grpc.ChainStreamInterceptor(srvMetrics.StreamServerInterceptor(), tracingStreamInterceptor),
	}

	g := &GRPCServer{registerer: reg}
	if reg != nil {
		reg.Unregister(srvMetrics)
		if err := reg.Register(srvMetrics); err == nil {
			g.metrics = srvMetrics
		}
	}

	g.grpcServer = grpc.NewServer(options...)
	flight.RegisterFlightServiceServer(g.grpcServer, srv)
	reflection.Register(g.grpcServer)

	if g.metrics != nil {
		srvMetrics.InitializeMetrics(g.grpcServer)
	}
	return g
}

// Serve blocks, accepting connections on lis.
func (g *GRPCServer) Serve(lis net.Listener) error {
	return g.grpcServer.Serve(lis)
}

// GracefulStop drains in-flight RPCs before stopping, unregistering metrics.
func (g *GRPCServer) GracefulStop() {
	if g.metrics != nil && g.registerer != nil {
		g.registerer.Unregister(g.metrics)
	}
	g.grpcServer.GracefulStop()
}

func tracingUnaryInterceptor(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, info.FullMethod)
	defer span.End()
	resp, err := handler(ctx, req)
	if err != nil {
		span.RecordError(err)
	}
	return resp, err
}

func tracingStreamInterceptor(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
	ctx, span := otel.Tracer(tracerName).Start(ss.Context(), info.FullMethod, trace.WithSpanKind(trace.SpanKindServer))
	defer span.End()
	err := handler(srv, &wrappedStream{ServerStream: ss, ctx: ctx})
	if err != nil {
		span.RecordError(err)
	}
	return err
}

type wrappedStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (w *wrappedStream) Context() context.Context { return w.ctx }
