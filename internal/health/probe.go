// Package health implements liveness probing and the state machine that
// gates dependent service startup on database readiness.
package health

import (
	"context"

	platformerrors "github.com/louisbranch/devstack/internal/platform/errors"
	"github.com/louisbranch/devstack/internal/stack"
)

// State is the probed condition of a service.
type State string

const (
	// StateStarting means no probe attempt has succeeded yet and the
	// consecutive-failure budget is not exhausted.
	StateStarting State = "starting"
	// StateHealthy means the most recent decisive probe attempt succeeded.
	StateHealthy State = "healthy"
	// StateUnhealthy means the consecutive-failure budget was exhausted
	// without a success.
	StateUnhealthy State = "unhealthy"
)

// Probe checks once whether a service can accept traffic. Implementations
// must honor ctx cancellation and return nil only on success.
type Probe interface {
	Check(ctx context.Context) error
}

// ContainerExecer runs a command inside a running container. The docker
// runtime satisfies this for command probes.
type ContainerExecer interface {
	ExecInContainer(ctx context.Context, container string, argv []string) error
}

// ForService builds the probe implementation a service's spec asks for.
// Command probes run inside the service's container via execer.
func ForService(svc stack.Service, execer ContainerExecer) (Probe, error) {
	spec := svc.Probe
	if spec == nil {
		return nil, platformerrors.WithMetadata(platformerrors.CodeProbeInvalid,
			"service has no probe", map[string]string{"service": svc.Name})
	}
	switch spec.Type {
	case stack.ProbeCommand:
		if execer == nil {
			return nil, platformerrors.WithMetadata(platformerrors.CodeProbeInvalid,
				"command probe requires a container execer",
				map[string]string{"service": svc.Name})
		}
		return &CommandProbe{Execer: execer, Container: svc.Name, Argv: spec.Command}, nil
	case stack.ProbeTCP:
		return &TCPProbe{Addr: spec.Target}, nil
	case stack.ProbeHTTP:
		return &HTTPProbe{URL: spec.Target}, nil
	case stack.ProbePostgres:
		return &PostgresProbe{DSN: spec.Target}, nil
	case stack.ProbeGRPC:
		// Empty service name probes the server as a whole.
		return &GRPCProbe{Addr: spec.Target}, nil
	default:
		return nil, platformerrors.WithMetadata(platformerrors.CodeProbeInvalid,
			"unknown probe type",
			map[string]string{"service": svc.Name, "type": string(spec.Type)})
	}
}
