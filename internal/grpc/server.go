package grpc

import (
	"fmt"
	"net"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/weiawesome/wes-chat/internal/health"
	"github.com/weiawesome/wes-chat/pkg/log"
)

// NewServer builds the gateway's gRPC server. It only serves the standard
// health service, backed by monitor.
func NewServer(monitor *health.Monitor, logger zerolog.Logger) *grpc.Server {
	s := grpc.NewServer(
		grpc.UnaryInterceptor(log.UnaryServerInterceptor(logger)),
		grpc.StreamInterceptor(log.StreamServerInterceptor(logger)),
	)
	healthpb.RegisterHealthServer(s, monitor.Server())
	reflection.Register(s)
	return s
}

func StartGRPCServer(addr string, monitor *health.Monitor, logger zerolog.Logger) (*grpc.Server, error) {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	s := NewServer(monitor, logger)

	go func() {
		l := log.L()
		l.Info().Str("address", addr).Msg("health grpc server listening")
		if err := s.Serve(lis); err != nil {
			l.Error().Err(err).Msg("grpc server error")
		}
	}()

	return s, nil
}
