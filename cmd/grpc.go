package main

import (
	"net"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	pkglog "github.com/weiawesome/wes-io-talk/pkg/log"
)

const serviceName = "talk.TalkService"

// newGRPCServer builds the health-check server probes use.
func newGRPCServer(addr string, logger zerolog.Logger) (*grpc.Server, net.Listener, error) {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, nil, err
	}

	s := grpc.NewServer(grpc.UnaryInterceptor(pkglog.UnaryServerInterceptor(logger)))

	hs := health.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	hs.SetServingStatus(serviceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(s, hs)

	return s, lis, nil
}
