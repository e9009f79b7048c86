// Package supervisor brings a stack up in dependency order, gates dependent
// services on database health, and supervises shutdown.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/louisbranch/devstack/internal/health"
	platformerrors "github.com/louisbranch/devstack/internal/platform/errors"
	"github.com/louisbranch/devstack/internal/platform/timeouts"
	"github.com/louisbranch/devstack/internal/runtime"
	"github.com/louisbranch/devstack/internal/stack"
	"github.com/louisbranch/devstack/internal/state"
)

// Journal receives observed service state transitions. Journal failures are
// logged, never fatal: the stack outlives its bookkeeping.
type Journal interface {
	RecordTransition(ctx context.Context, tr state.Transition) error
}

// ProbeFactory builds the probe for one service.
type ProbeFactory func(svc stack.Service) (health.Probe, error)

// Supervisor drives one stack through bring-up, monitoring, and shutdown.
type Supervisor struct {
	rt          runtime.Runtime
	stk         stack.Stack
	journal     Journal
	runID       string
	logf        func(string, ...any)
	probes      ProbeFactory
	checkerOpts []health.Option
	stopGrace   time.Duration
	tracer      trace.Tracer

	started map[string]bool
	gated   map[string]health.State
}

// Option customizes a Supervisor.
type Option func(*Supervisor)

// WithJournal records transitions under the given run ID.
func WithJournal(journal Journal, runID string) Option {
	return func(s *Supervisor) {
		s.journal = journal
		s.runID = runID
	}
}

// WithLogf overrides the log sink.
func WithLogf(logf func(string, ...any)) Option {
	return func(s *Supervisor) { s.logf = logf }
}

// WithProbeFactory overrides probe construction.
func WithProbeFactory(factory ProbeFactory) Option {
	return func(s *Supervisor) { s.probes = factory }
}

// WithCheckerOptions forwards options to every health checker.
func WithCheckerOptions(opts ...health.Option) Option {
	return func(s *Supervisor) { s.checkerOpts = opts }
}

// WithStopGrace overrides the shutdown grace period.
func WithStopGrace(grace time.Duration) Option {
	return func(s *Supervisor) { s.stopGrace = grace }
}

// New builds a supervisor for the given runtime and stack.
func New(rt runtime.Runtime, stk stack.Stack, opts ...Option) *Supervisor {
	s := &Supervisor{
		rt:        rt,
		stk:       stk,
		logf:      log.Printf,
		stopGrace: timeouts.StopGrace,
		tracer:    otel.Tracer("devstack/supervisor"),
		started:   make(map[string]bool),
		gated:     make(map[string]health.State),
	}
	s.probes = func(svc stack.Service) (health.Probe, error) {
		execer, _ := rt.(health.ContainerExecer)
		return health.ForService(svc, execer)
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Up creates volumes and starts services in dependency order. A service
// whose dependency carries the service_healthy condition is started only
// after that dependency's probe reports healthy; if the dependency exhausts
// its retry budget first, the dependent is never started and Up fails.
func (s *Supervisor) Up(ctx context.Context) error {
	ctx, span := s.tracer.Start(ctx, "stack.up",
		trace.WithAttributes(attribute.String("stack", s.stk.Name)))
	defer span.End()

	if err := s.stk.Validate(); err != nil {
		return err
	}

	for _, volume := range s.stk.Volumes {
		if err := s.rt.EnsureVolume(ctx, volume.Name); err != nil {
			return err
		}
		s.logf("volume %s ready", volume.Name)
	}

	order, err := s.stk.StartOrder()
	if err != nil {
		return err
	}

	for _, name := range order {
		svc, _ := s.stk.Service(name)

		for _, dep := range svc.DependsOn {
			if dep.Condition != stack.ConditionHealthy {
				continue
			}
			gateState, err := s.awaitHealthy(ctx, dep.Service)
			if err != nil {
				return err
			}
			if gateState != health.StateHealthy {
				return platformerrors.WithMetadata(platformerrors.CodeDependencyUnhealthy,
					fmt.Sprintf("%s never became healthy; %s was not started", dep.Service, name),
					map[string]string{"service": name, "dependency": dep.Service})
			}
		}

		if err := s.startService(ctx, svc); err != nil {
			return err
		}
	}
	return nil
}

// Run brings the stack up, monitors probed services until ctx is cancelled,
// then stops every started container with the configured grace period.
// Monitoring only journals health flips; it never restarts a dependent when
// its dependency goes unhealthy after start (no re-gating).
func (s *Supervisor) Run(ctx context.Context) error {
	if err := s.Up(ctx); err != nil {
		return err
	}
	s.logf("stack %s is up", s.stk.Name)

	group, groupCtx := errgroup.WithContext(ctx)
	for _, svc := range s.stk.Services {
		if svc.Probe == nil || !s.started[svc.Name] {
			continue
		}
		checker, err := s.checkerFor(svc)
		if err != nil {
			s.logf("monitor %s: %v", svc.Name, err)
			continue
		}
		group.Go(func() error {
			return checker.Monitor(groupCtx)
		})
	}

	<-ctx.Done()
	_ = group.Wait()

	stopCtx, cancel := context.WithTimeout(context.Background(), timeouts.DockerCLI)
	defer cancel()
	return s.stopAll(stopCtx)
}

// Down stops and removes the stack's containers in reverse start order.
// When removeVolumes is set, the named volumes are deleted too, so the next
// bring-up starts from a fresh, empty database.
func (s *Supervisor) Down(ctx context.Context, removeVolumes bool) error {
	ctx, span := s.tracer.Start(ctx, "stack.down",
		trace.WithAttributes(attribute.Bool("volumes", removeVolumes)))
	defer span.End()

	order, err := s.stk.StartOrder()
	if err != nil {
		return err
	}

	var firstErr error
	for i := len(order) - 1; i >= 0; i-- {
		name := order[i]
		stopErr := s.rt.StopContainer(ctx, name, s.stopGrace)
		if stopErr != nil && firstErr == nil {
			firstErr = stopErr
		}
		removeErr := s.rt.RemoveContainer(ctx, name)
		if removeErr != nil && firstErr == nil {
			firstErr = removeErr
		}
		if stopErr == nil && removeErr == nil {
			s.logf("service %s removed", name)
		}
	}

	if removeVolumes {
		for _, volume := range s.stk.Volumes {
			if err := s.rt.RemoveVolume(ctx, volume.Name); err != nil {
				if firstErr == nil {
					firstErr = err
				}
				continue
			}
			s.logf("volume %s removed", volume.Name)
		}
	}
	return firstErr
}

// awaitHealthy blocks until the named service settles out of starting. The
// result is memoized so several dependents share one probe verdict per
// bring-up.
func (s *Supervisor) awaitHealthy(ctx context.Context, name string) (health.State, error) {
	if settled, ok := s.gated[name]; ok {
		return settled, nil
	}

	svc, ok := s.stk.Service(name)
	if !ok {
		return health.StateUnhealthy, platformerrors.WithMetadata(
			platformerrors.CodeStackServiceUnknown, "unknown dependency",
			map[string]string{"service": name})
	}

	gateCtx, span := s.tracer.Start(ctx, "service.gate",
		trace.WithAttributes(attribute.String("service", name)))
	defer span.End()

	checker, err := s.checkerFor(svc)
	if err != nil {
		return health.StateUnhealthy, err
	}

	s.logf("waiting for %s to become healthy", name)
	settled, waitErr := checker.Wait(gateCtx)
	s.gated[name] = settled
	if waitErr != nil && settled == health.StateStarting {
		// Cancelled before settling; surface the interruption.
		return settled, waitErr
	}
	s.logf("service %s is %s", name, settled)
	return settled, nil
}

// startService runs one service's container. A container left over from an
// earlier bring-up is reused when still running and removed when stale, so
// repeated bring-ups do not collide on the container name.
func (s *Supervisor) startService(ctx context.Context, svc stack.Service) error {
	startCtx, span := s.tracer.Start(ctx, "service.start",
		trace.WithAttributes(attribute.String("service", svc.Name)))
	defer span.End()

	status, err := s.rt.ContainerStatus(startCtx, svc.Name)
	switch {
	case err == nil && status.Running:
		s.started[svc.Name] = true
		s.logf("service %s already running (%s)", svc.Name, shortID(status.ID))
		return nil
	case err == nil:
		if err := s.rt.RemoveContainer(startCtx, svc.Name); err != nil {
			return err
		}
	case !errors.Is(err, runtime.ErrNotFound):
		return err
	}

	spec := runtime.ContainerSpec{
		Name:    svc.Name,
		Image:   svc.Image,
		Env:     svc.Env,
		Restart: string(svc.Restart),
		Labels:  map[string]string{runtime.StackLabel: s.stk.Name},
	}
	for _, port := range svc.Ports {
		spec.Ports = append(spec.Ports, port.String())
	}
	for _, mount := range svc.Mounts {
		spec.Mounts = append(spec.Mounts, mount.String())
	}

	id, err := s.rt.StartContainer(startCtx, spec)
	if err != nil {
		return err
	}
	s.started[svc.Name] = true
	s.logf("service %s started (%s)", svc.Name, shortID(id))
	s.record(startCtx, svc.Name, "", "running", "")
	return nil
}

func (s *Supervisor) checkerFor(svc stack.Service) (*health.Checker, error) {
	probe, err := s.probes(svc)
	if err != nil {
		return nil, err
	}
	name := svc.Name
	opts := append([]health.Option{
		health.WithTransitionFunc(func(tr health.Transition) {
			s.record(context.Background(), name, string(tr.From), string(tr.To), tr.Detail)
		}),
	}, s.checkerOpts...)
	return health.NewChecker(probe, *svc.Probe, opts...), nil
}

func (s *Supervisor) stopAll(ctx context.Context) error {
	order, err := s.stk.StartOrder()
	if err != nil {
		return err
	}

	var firstErr error
	for i := len(order) - 1; i >= 0; i-- {
		name := order[i]
		if !s.started[name] {
			continue
		}
		if err := s.rt.StopContainer(ctx, name, s.stopGrace); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		s.logf("service %s stopped", name)
		s.record(ctx, name, "running", "stopped", "")
	}
	return firstErr
}

func (s *Supervisor) record(ctx context.Context, service, from, to, detail string) {
	if s.journal == nil {
		return
	}
	err := s.journal.RecordTransition(ctx, state.Transition{
		RunID:   s.runID,
		Service: service,
		From:    from,
		To:      to,
		Detail:  detail,
	})
	if err != nil {
		s.logf("journal transition %s %s->%s: %v", service, from, to, err)
	}
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
