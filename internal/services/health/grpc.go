package health

import (
	"context"
	"time"

	"google.golang.org/grpc"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ServiceName is the name reported alongside the overall ("") status.
const ServiceName = "sprinkler.Device"

// GRPC mirrors device readiness into a gRPC health server.
type GRPC struct {
	src    Source
	server *grpchealth.Server
}

func NewGRPC(src Source) *GRPC {
	g := &GRPC{src: src, server: grpchealth.NewServer()}
	g.update()
	return g
}

// Register exposes the health service on s.
func (g *GRPC) Register(s *grpc.Server) {
	healthpb.RegisterHealthServer(s, g.server)
}

// Watch refreshes the reported status every interval until ctx ends, then
// marks the node as shutting down.
func (g *GRPC) Watch(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			g.server.Shutdown()
			return
		case <-t.C:
			g.update()
		}
	}
}

func (g *GRPC) update() {
	st := healthpb.HealthCheckResponse_NOT_SERVING
	if ready(g.src.Snapshot()) {
		st = healthpb.HealthCheckResponse_SERVING
	}
	g.server.SetServingStatus("", st)
	g.server.SetServingStatus(ServiceName, st)
}
