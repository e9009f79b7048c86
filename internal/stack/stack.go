// Package stack defines the development stack model: services, named
// volumes, and the health-gated startup dependencies between them.
package stack

import (
	"fmt"
	"sort"
	"strings"
	"time"

	platformerrors "github.com/louisbranch/devstack/internal/platform/errors"
)

// Condition gates when a dependent service may start.
type Condition string

const (
	// ConditionStarted releases the dependent as soon as the dependency
	// container is running.
	ConditionStarted Condition = "service_started"
	// ConditionHealthy releases the dependent only after the dependency's
	// probe reports healthy.
	ConditionHealthy Condition = "service_healthy"
)

// RestartPolicy mirrors the container engine restart policies.
type RestartPolicy string

const (
	RestartNever         RestartPolicy = "no"
	RestartAlways        RestartPolicy = "always"
	RestartUnlessStopped RestartPolicy = "unless-stopped"
	RestartOnFailure     RestartPolicy = "on-failure"
)

// ProbeType selects the liveness probe implementation for a service.
type ProbeType string

const (
	ProbeCommand  ProbeType = "command"
	ProbeTCP      ProbeType = "tcp"
	ProbeHTTP     ProbeType = "http"
	ProbePostgres ProbeType = "postgres"
	ProbeGRPC     ProbeType = "grpc"
)

// ProbeSpec describes the liveness probe for one service.
type ProbeSpec struct {
	Type ProbeType
	// Command holds the argv for command probes, run inside the container.
	Command []string
	// Target holds the address, URL, or DSN for network probes.
	Target string
	// Interval spaces consecutive probe attempts.
	Interval time.Duration
	// Timeout caps a single probe attempt.
	Timeout time.Duration
	// Retries is the consecutive-failure budget before the service is
	// declared unhealthy.
	Retries int
	// StartPeriod is the grace window during which failures do not count
	// toward the retry budget.
	StartPeriod time.Duration
}

// Dependency names another service and the condition gating this one on it.
type Dependency struct {
	Service   string
	Condition Condition
}

// PortMapping publishes a container port on the host.
type PortMapping struct {
	Host      int
	Container int
}

// String renders the mapping in host:container form.
func (p PortMapping) String() string {
	return fmt.Sprintf("%d:%d", p.Host, p.Container)
}

// Mount attaches a named volume at a container path.
type Mount struct {
	Volume string
	Path   string
}

// String renders the mount in volume:path form.
func (m Mount) String() string {
	return m.Volume + ":" + m.Path
}

// Service is one independently-lifecycled unit in the stack.
type Service struct {
	Name      string
	Image     string
	Env       map[string]string
	Ports     []PortMapping
	Mounts    []Mount
	DependsOn []Dependency
	Restart   RestartPolicy
	Probe     *ProbeSpec
}

// Volume is a named persistent storage unit owned by the stack.
type Volume struct {
	Name string
}

// Stack is a complete development stack definition.
type Stack struct {
	Name     string
	Services []Service
	Volumes  []Volume
}

// Service returns the named service, if declared.
func (s *Stack) Service(name string) (Service, bool) {
	for _, svc := range s.Services {
		if svc.Name == name {
			return svc, true
		}
	}
	return Service{}, false
}

// Validate checks structural invariants: unique names, resolvable
// dependencies and mounts, acyclic dependency graph, and probe budgets.
func (s *Stack) Validate() error {
	if strings.TrimSpace(s.Name) == "" {
		return platformerrors.New(platformerrors.CodeStackInvalid, "stack name is required")
	}
	if len(s.Services) == 0 {
		return platformerrors.New(platformerrors.CodeStackInvalid, "stack declares no services")
	}

	volumes := make(map[string]bool, len(s.Volumes))
	for _, vol := range s.Volumes {
		if strings.TrimSpace(vol.Name) == "" {
			return platformerrors.New(platformerrors.CodeStackInvalid, "volume name is required")
		}
		if volumes[vol.Name] {
			return platformerrors.WithMetadata(platformerrors.CodeStackInvalid,
				"duplicate volume name", map[string]string{"volume": vol.Name})
		}
		volumes[vol.Name] = true
	}

	names := make(map[string]bool, len(s.Services))
	for _, svc := range s.Services {
		if strings.TrimSpace(svc.Name) == "" {
			return platformerrors.New(platformerrors.CodeStackInvalid, "service name is required")
		}
		if names[svc.Name] {
			return platformerrors.WithMetadata(platformerrors.CodeStackInvalid,
				"duplicate service name", map[string]string{"service": svc.Name})
		}
		names[svc.Name] = true
	}

	for _, svc := range s.Services {
		if strings.TrimSpace(svc.Image) == "" {
			return platformerrors.WithMetadata(platformerrors.CodeStackInvalid,
				"service image is required", map[string]string{"service": svc.Name})
		}
		for _, mount := range svc.Mounts {
			if !volumes[mount.Volume] {
				return platformerrors.WithMetadata(platformerrors.CodeStackInvalid,
					"mount references undeclared volume",
					map[string]string{"service": svc.Name, "volume": mount.Volume})
			}
		}
		for _, dep := range svc.DependsOn {
			if dep.Service == svc.Name {
				return platformerrors.WithMetadata(platformerrors.CodeStackDependencyCycle,
					"service depends on itself", map[string]string{"service": svc.Name})
			}
			target, ok := s.Service(dep.Service)
			if !ok {
				return platformerrors.WithMetadata(platformerrors.CodeStackServiceUnknown,
					"dependency references undeclared service",
					map[string]string{"service": svc.Name, "dependency": dep.Service})
			}
			if dep.Condition != ConditionStarted && dep.Condition != ConditionHealthy {
				return platformerrors.WithMetadata(platformerrors.CodeStackInvalid,
					"unknown dependency condition",
					map[string]string{"service": svc.Name, "condition": string(dep.Condition)})
			}
			if dep.Condition == ConditionHealthy && target.Probe == nil {
				return platformerrors.WithMetadata(platformerrors.CodeProbeInvalid,
					"health-gated dependency requires a probe on the dependency",
					map[string]string{"service": svc.Name, "dependency": dep.Service})
			}
		}
		if svc.Probe != nil {
			if err := validateProbe(svc.Name, svc.Probe); err != nil {
				return err
			}
		}
	}

	if _, err := s.StartOrder(); err != nil {
		return err
	}
	return nil
}

func validateProbe(service string, probe *ProbeSpec) error {
	meta := map[string]string{"service": service}
	switch probe.Type {
	case ProbeCommand:
		if len(probe.Command) == 0 {
			return platformerrors.WithMetadata(platformerrors.CodeProbeInvalid,
				"command probe requires an argv", meta)
		}
	case ProbeTCP, ProbeHTTP, ProbePostgres, ProbeGRPC:
		if strings.TrimSpace(probe.Target) == "" {
			return platformerrors.WithMetadata(platformerrors.CodeProbeInvalid,
				"network probe requires a target", meta)
		}
	default:
		meta["type"] = string(probe.Type)
		return platformerrors.WithMetadata(platformerrors.CodeProbeInvalid,
			"unknown probe type", meta)
	}
	if probe.Interval <= 0 {
		return platformerrors.WithMetadata(platformerrors.CodeProbeInvalid,
			"probe interval must be positive", meta)
	}
	if probe.Timeout <= 0 {
		return platformerrors.WithMetadata(platformerrors.CodeProbeInvalid,
			"probe timeout must be positive", meta)
	}
	if probe.Retries <= 0 {
		return platformerrors.WithMetadata(platformerrors.CodeProbeInvalid,
			"probe retries must be positive", meta)
	}
	if probe.StartPeriod < 0 {
		return platformerrors.WithMetadata(platformerrors.CodeProbeInvalid,
			"probe start period cannot be negative", meta)
	}
	return nil
}

// StartOrder returns service names in dependency order: every service
// appears after all of its dependencies. Ties break alphabetically so the
// order is deterministic.
func (s *Stack) StartOrder() ([]string, error) {
	deps := make(map[string][]string, len(s.Services))
	for _, svc := range s.Services {
		targets := make([]string, 0, len(svc.DependsOn))
		for _, dep := range svc.DependsOn {
			targets = append(targets, dep.Service)
		}
		deps[svc.Name] = targets
	}

	const (
		unvisited = 0
		visiting  = 1
		done      = 2
	)
	state := make(map[string]int, len(deps))
	order := make([]string, 0, len(deps))

	var visit func(name string) error
	visit = func(name string) error {
		switch state[name] {
		case done:
			return nil
		case visiting:
			return platformerrors.WithMetadata(platformerrors.CodeStackDependencyCycle,
				"dependency cycle detected", map[string]string{"service": name})
		}
		state[name] = visiting
		targets := append([]string(nil), deps[name]...)
		sort.Strings(targets)
		for _, target := range targets {
			if _, ok := deps[target]; !ok {
				continue
			}
			if err := visit(target); err != nil {
				return err
			}
		}
		state[name] = done
		order = append(order, name)
		return nil
	}

	roots := make([]string, 0, len(deps))
	for name := range deps {
		roots = append(roots, name)
	}
	sort.Strings(roots)
	for _, name := range roots {
		if err := visit(name); err != nil {
			return nil, err
		}
	}
	return order, nil
}
