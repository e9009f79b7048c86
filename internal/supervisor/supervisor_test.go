package supervisor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/louisbranch/devstack/internal/health"
	platformerrors "github.com/louisbranch/devstack/internal/platform/errors"
	"github.com/louisbranch/devstack/internal/runtime"
	"github.com/louisbranch/devstack/internal/stack"
	"github.com/louisbranch/devstack/internal/state"
)

// fakeRuntime records container engine calls.
type fakeRuntime struct {
	mu           sync.Mutex
	volumes      []string
	removedVols  []string
	startCounts  map[string]int
	running      map[string]bool
	stopped      []string
	removed      []string
	startErr     error
	stopErr      error
	ensureVolErr error
}

func newFakeRuntime() *fakeRuntime {
	return &fakeRuntime{startCounts: make(map[string]int)}
}

func (f *fakeRuntime) EnsureVolume(ctx context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ensureVolErr != nil {
		return f.ensureVolErr
	}
	f.volumes = append(f.volumes, name)
	return nil
}

func (f *fakeRuntime) RemoveVolume(ctx context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removedVols = append(f.removedVols, name)
	return nil
}

func (f *fakeRuntime) StartContainer(ctx context.Context, spec runtime.ContainerSpec) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return "", f.startErr
	}
	f.startCounts[spec.Name]++
	return "cid-" + spec.Name, nil
}

func (f *fakeRuntime) StopContainer(ctx context.Context, name string, grace time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.stopErr != nil {
		return f.stopErr
	}
	f.stopped = append(f.stopped, name)
	return nil
}

func (f *fakeRuntime) RemoveContainer(ctx context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = append(f.removed, name)
	return nil
}

func (f *fakeRuntime) ContainerStatus(ctx context.Context, name string) (runtime.Status, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.running[name] || f.startCounts[name] > 0 {
		return runtime.Status{ID: "cid-" + name, State: "running", Running: true}, nil
	}
	return runtime.Status{}, runtime.ErrNotFound
}

func (f *fakeRuntime) ExecInContainer(ctx context.Context, name string, argv []string) error {
	return nil
}

func (f *fakeRuntime) starts(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.startCounts[name]
}

// scriptProbe replays outcomes, repeating the last one.
type scriptProbe struct {
	mu       sync.Mutex
	outcomes []error
	calls    int
}

func (p *scriptProbe) Check(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	idx := p.calls
	if idx >= len(p.outcomes) {
		idx = len(p.outcomes) - 1
	}
	p.calls++
	return p.outcomes[idx]
}

// memJournal collects transitions in memory.
type memJournal struct {
	mu          sync.Mutex
	transitions []state.Transition
}

func (j *memJournal) RecordTransition(ctx context.Context, tr state.Transition) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.transitions = append(j.transitions, tr)
	return nil
}

func (j *memJournal) has(service, from, to string) bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	for _, tr := range j.transitions {
		if tr.Service == service && tr.From == from && tr.To == to {
			return true
		}
	}
	return false
}

func noSleep(ctx context.Context, d time.Duration) error {
	return ctx.Err()
}

func gatedStack() stack.Stack {
	return stack.Stack{
		Name:    "test",
		Volumes: []stack.Volume{{Name: "db-data"}, {Name: "console-data"}},
		Services: []stack.Service{
			{
				Name:   "db",
				Image:  "postgres:16-alpine",
				Mounts: []stack.Mount{{Volume: "db-data", Path: "/var/lib/postgresql/data"}},
				Probe: &stack.ProbeSpec{
					Type:     stack.ProbeTCP,
					Target:   "127.0.0.1:5432",
					Interval: time.Second,
					Timeout:  time.Second,
					Retries:  3,
				},
			},
			{
				Name:   "console",
				Image:  "dpage/pgadmin4:9",
				Mounts: []stack.Mount{{Volume: "console-data", Path: "/var/lib/pgadmin"}},
				DependsOn: []stack.Dependency{
					{Service: "db", Condition: stack.ConditionHealthy},
				},
			},
		},
	}
}

func newTestSupervisor(rt runtime.Runtime, stk stack.Stack, probes map[string]*scriptProbe, extra ...Option) *Supervisor {
	opts := []Option{
		WithLogf(func(string, ...any) {}),
		WithCheckerOptions(health.WithSleeper(noSleep)),
		WithProbeFactory(func(svc stack.Service) (health.Probe, error) {
			probe, ok := probes[svc.Name]
			if !ok {
				return nil, errors.New("no probe scripted for " + svc.Name)
			}
			return probe, nil
		}),
	}
	opts = append(opts, extra...)
	return New(rt, stk, opts...)
}

func TestUpNeverStartsDependentWhenDatabaseStaysUnhealthy(t *testing.T) {
	rt := newFakeRuntime()
	probes := map[string]*scriptProbe{
		"db": {outcomes: []error{errors.New("connection refused")}},
	}
	sup := newTestSupervisor(rt, gatedStack(), probes)

	err := sup.Up(context.Background())
	if !errors.Is(err, platformerrors.New(platformerrors.CodeDependencyUnhealthy, "")) {
		t.Fatalf("expected DEPENDENCY_UNHEALTHY, got %v", err)
	}
	if got := rt.starts("db"); got != 1 {
		t.Fatalf("db starts = %d, want 1", got)
	}
	if got := rt.starts("console"); got != 0 {
		t.Fatalf("console starts = %d, want 0: dependent must never start", got)
	}
}

func TestUpStartsDependentExactlyOnceAfterHealthy(t *testing.T) {
	rt := newFakeRuntime()
	boom := errors.New("connection refused")
	probes := map[string]*scriptProbe{
		// Two failures, then success, inside the budget of three.
		"db": {outcomes: []error{boom, boom, nil}},
	}
	journal := &memJournal{}
	sup := newTestSupervisor(rt, gatedStack(), probes, WithJournal(journal, "run-1"))

	if err := sup.Up(context.Background()); err != nil {
		t.Fatalf("up: %v", err)
	}
	if got := rt.starts("db"); got != 1 {
		t.Fatalf("db starts = %d, want 1", got)
	}
	if got := rt.starts("console"); got != 1 {
		t.Fatalf("console starts = %d, want exactly 1", got)
	}
	if len(rt.volumes) != 2 {
		t.Fatalf("volumes created = %v, want both", rt.volumes)
	}
	if !journal.has("db", "starting", "healthy") {
		t.Fatalf("journal missing db starting->healthy: %+v", journal.transitions)
	}
	if !journal.has("console", "", "running") {
		t.Fatalf("journal missing console running: %+v", journal.transitions)
	}
}

func TestUpStartsInDependencyOrderWithoutGates(t *testing.T) {
	rt := newFakeRuntime()
	stk := stack.Stack{
		Name: "plain",
		Services: []stack.Service{
			{Name: "b", Image: "img-b", DependsOn: []stack.Dependency{{Service: "a", Condition: stack.ConditionStarted}}},
			{Name: "a", Image: "img-a"},
		},
	}
	sup := newTestSupervisor(rt, stk, nil)

	if err := sup.Up(context.Background()); err != nil {
		t.Fatalf("up: %v", err)
	}
	if rt.starts("a") != 1 || rt.starts("b") != 1 {
		t.Fatalf("start counts = %v, want one each", rt.startCounts)
	}
}

func TestRunDoesNotRestartDependentWhenDatabaseFlips(t *testing.T) {
	rt := newFakeRuntime()
	boom := errors.New("connection refused")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	monitorCalls := 0
	// The gate probe succeeds immediately; the monitor probe then fails
	// past the budget, flipping db to unhealthy, before shutdown.
	gateDone := false
	journal := &memJournal{}

	sup := New(rt, gatedStack(),
		WithLogf(func(string, ...any) {}),
		WithJournal(journal, "run-1"),
		WithProbeFactory(func(svc stack.Service) (health.Probe, error) {
			if !gateDone {
				gateDone = true
				return &scriptProbe{outcomes: []error{nil}}, nil
			}
			return &scriptProbe{outcomes: []error{boom}}, nil
		}),
		WithCheckerOptions(health.WithSleeper(func(sleepCtx context.Context, d time.Duration) error {
			monitorCalls++
			if monitorCalls > 5 {
				cancel()
				return sleepCtx.Err()
			}
			return sleepCtx.Err()
		})),
	)

	if err := sup.Run(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}

	if got := rt.starts("db"); got != 1 {
		t.Fatalf("db starts = %d, want 1: supervisor never restarts", got)
	}
	if got := rt.starts("console"); got != 1 {
		t.Fatalf("console starts = %d, want 1: no re-gating after initial start", got)
	}
	if !journal.has("db", "healthy", "unhealthy") {
		t.Fatalf("journal missing db unhealthy flip: %+v", journal.transitions)
	}
	if len(rt.stopped) == 0 {
		t.Fatal("expected containers to be stopped on shutdown")
	}
}

func TestDownRemovesVolumesOnlyWhenAsked(t *testing.T) {
	rt := newFakeRuntime()
	sup := newTestSupervisor(rt, gatedStack(), nil)

	if err := sup.Down(context.Background(), false); err != nil {
		t.Fatalf("down: %v", err)
	}
	if len(rt.removedVols) != 0 {
		t.Fatalf("volumes removed without -volumes: %v", rt.removedVols)
	}
	if len(rt.removed) != 2 {
		t.Fatalf("containers removed = %v, want both", rt.removed)
	}
	// Reverse start order: dependent first.
	if rt.removed[0] != "console" || rt.removed[1] != "db" {
		t.Fatalf("removal order = %v, want [console db]", rt.removed)
	}

	if err := sup.Down(context.Background(), true); err != nil {
		t.Fatalf("down -volumes: %v", err)
	}
	if len(rt.removedVols) != 2 {
		t.Fatalf("volumes removed = %v, want both for a fresh next bring-up", rt.removedVols)
	}
}

func TestDownDoesNotLogRemovalWhenStopFails(t *testing.T) {
	rt := newFakeRuntime()
	rt.stopErr = errors.New("engine busy")

	var logs []string
	sup := New(rt, gatedStack(), WithLogf(func(format string, args ...any) {
		logs = append(logs, fmt.Sprintf(format, args...))
	}))

	if err := sup.Down(context.Background(), false); err == nil {
		t.Fatal("expected stop error to surface")
	}
	for _, line := range logs {
		if strings.Contains(line, "removed") {
			t.Fatalf("logged removal despite stop failure: %q", line)
		}
	}
}

func TestUpReusesAlreadyRunningContainers(t *testing.T) {
	rt := newFakeRuntime()
	rt.running = map[string]bool{"db": true}
	probes := map[string]*scriptProbe{
		"db": {outcomes: []error{nil}},
	}
	sup := newTestSupervisor(rt, gatedStack(), probes)

	if err := sup.Up(context.Background()); err != nil {
		t.Fatalf("up: %v", err)
	}
	if got := rt.starts("db"); got != 0 {
		t.Fatalf("db starts = %d, want 0: running container is reused", got)
	}
	if got := rt.starts("console"); got != 1 {
		t.Fatalf("console starts = %d, want 1", got)
	}
}

func TestUpFailsWhenVolumeCreationFails(t *testing.T) {
	rt := newFakeRuntime()
	rt.ensureVolErr = platformerrors.New(platformerrors.CodeVolumeFailed, "disk full")
	sup := newTestSupervisor(rt, gatedStack(), nil)

	err := sup.Up(context.Background())
	if !errors.Is(err, platformerrors.New(platformerrors.CodeVolumeFailed, "")) {
		t.Fatalf("expected VOLUME_FAILED, got %v", err)
	}
	if rt.starts("db") != 0 {
		t.Fatal("no container may start when volumes fail")
	}
}

func TestUpCancelledWhileGatingSurfacesContextError(t *testing.T) {
	rt := newFakeRuntime()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	probes := map[string]*scriptProbe{
		"db": {outcomes: []error{errors.New("connection refused")}},
	}
	sup := newTestSupervisor(rt, gatedStack(), probes)

	err := sup.Up(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if rt.starts("console") != 0 {
		t.Fatal("dependent must not start after cancellation")
	}
}
