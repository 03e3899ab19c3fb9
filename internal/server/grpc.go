package server

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/encoding"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"memquery-agent/internal/agent/version"
	"memquery-agent/internal/config"
	"memquery-agent/internal/meminfo"
	"memquery-agent/internal/model"
)

const (
	grpcServiceName = "memquery.v1.MemoryQuery"

	// Full method names for clients dialing the agent.
	QueryMethod      = "/memquery.v1.MemoryQuery/Query"
	GetVersionMethod = "/memquery.v1.MemoryQuery/GetVersion"
)

type jsonCodec struct{}

func (jsonCodec) Name() string {
	return "json"
}

func (jsonCodec) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (jsonCodec) Unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

// GRPCServer answers queries over gRPC with JSON-encoded messages, so
// callers need no generated stubs to talk to it.
type GRPCServer struct {
	cfg     config.Config
	tlsCfg  *tls.Config
	service Queryer
	metrics *Metrics
	logger  *slog.Logger
}

func NewGRPCServer(cfg config.Config, tlsCfg *tls.Config, svc Queryer, metrics *Metrics, logger *slog.Logger) *GRPCServer {
	encoding.RegisterCodec(jsonCodec{})
	return &GRPCServer{
		cfg:     cfg,
		tlsCfg:  tlsCfg,
		service: svc,
		metrics: metrics,
		logger:  logger,
	}
}

func (s *GRPCServer) Run(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.cfg.GRPCListenAddr)
	if err != nil {
		return fmt.Errorf("listen grpc endpoint %s: %w", s.cfg.GRPCListenAddr, err)
	}
	return s.Serve(ctx, lis)
}

// Serve runs the query service on lis until ctx is canceled. Split
// from Run so callers can bring their own listener.
func (s *GRPCServer) Serve(ctx context.Context, lis net.Listener) error {
	var opts []grpc.ServerOption
	if s.tlsCfg != nil {
		opts = append(opts, grpc.Creds(credentials.NewTLS(s.tlsCfg)))
	}
	srv := grpc.NewServer(opts...)
	srv.RegisterService(s.serviceDesc(), nil)

	go func() {
		<-ctx.Done()
		srv.GracefulStop()
	}()

	s.logger.Info("grpc query endpoint listening", "addr", lis.Addr().String())
	if err := srv.Serve(lis); err != nil && ctx.Err() == nil {
		return fmt.Errorf("serve grpc endpoint: %w", err)
	}
	return nil
}

func (s *GRPCServer) serviceDesc() *grpc.ServiceDesc {
	return &grpc.ServiceDesc{
		ServiceName: grpcServiceName,
		HandlerType: (*any)(nil),
		Methods: []grpc.MethodDesc{
			{MethodName: "Query", Handler: s.handleQuery},
			{MethodName: "GetVersion", Handler: s.handleGetVersion},
		},
		Streams:  []grpc.StreamDesc{},
		Metadata: "memquery/v1",
	}
}

func (s *GRPCServer) handleQuery(_ any, ctx context.Context, dec func(any) error, _ grpc.UnaryServerInterceptor) (any, error) {
	var req model.QueryRequest
	if err := dec(&req); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	if err := s.authorize(ctx); err != nil {
		return nil, err
	}

	report, err := s.service.Query(ctx, req)
	s.metrics.ObserveQuery("grpc", errorCode(err))
	if err != nil {
		s.logger.Warn("grpc query failed", "code", errorCode(err), "error", err)
		return nil, grpcStatusErr(err)
	}
	s.logger.Debug("grpc query answered", "huge_pages", req.IncludeHugePages, "available_kb", report.AvailableKB)
	return report, nil
}

func (s *GRPCServer) handleGetVersion(_ any, ctx context.Context, dec func(any) error, _ grpc.UnaryServerInterceptor) (any, error) {
	var req version.GetVersionRequest
	if err := dec(&req); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	if err := s.authorize(ctx); err != nil {
		return nil, err
	}
	return version.Get(s.cfg, &req), nil
}

func (s *GRPCServer) authorize(ctx context.Context) error {
	if s.cfg.AuthToken == "" {
		return nil
	}
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return status.Error(codes.Unauthenticated, "missing metadata")
	}
	for _, v := range md.Get("authorization") {
		if strings.TrimPrefix(v, "Bearer ") == s.cfg.AuthToken {
			return nil
		}
	}
	return status.Error(codes.Unauthenticated, "invalid token")
}

func grpcStatusErr(err error) error {
	switch {
	case errors.Is(err, meminfo.ErrSourceUnavailable):
		return status.Error(codes.Unavailable, err.Error())
	case errors.Is(err, meminfo.ErrRequiredFieldMissing):
		return status.Error(codes.FailedPrecondition, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}
