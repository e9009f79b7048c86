package health

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	grpc_health_v1 "google.golang.org/grpc/health/grpc_health_v1"
)

// GRPCProbe succeeds when the standard gRPC health service reports SERVING.
// Service selects a registered health service name; empty probes the server
// as a whole.
type GRPCProbe struct {
	Addr    string
	Service string
}

// Check implements Probe.
func (p *GRPCProbe) Check(ctx context.Context) error {
	conn, err := grpc.NewClient(p.Addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		return fmt.Errorf("dial %s: %w", p.Addr, err)
	}
	defer func() { _ = conn.Close() }()

	client := grpc_health_v1.NewHealthClient(conn)
	resp, err := client.Check(ctx, &grpc_health_v1.HealthCheckRequest{Service: p.Service})
	if err != nil {
		return fmt.Errorf("health check %s: %w", p.Addr, err)
	}
	if resp.GetStatus() != grpc_health_v1.HealthCheckResponse_SERVING {
		return fmt.Errorf("health check %s: status %s", p.Addr, resp.GetStatus().String())
	}
	return nil
}
