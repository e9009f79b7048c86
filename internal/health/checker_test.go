package health

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/louisbranch/devstack/internal/platform/timeouts"
	"github.com/louisbranch/devstack/internal/stack"
)

// probeFunc adapts a function to the Probe interface.
type probeFunc func(ctx context.Context) error

func (f probeFunc) Check(ctx context.Context) error { return f(ctx) }

// scriptProbe replays a fixed sequence of outcomes, then repeats the last.
type scriptProbe struct {
	outcomes []error
	calls    int
}

func (p *scriptProbe) Check(ctx context.Context) error {
	idx := p.calls
	if idx >= len(p.outcomes) {
		idx = len(p.outcomes) - 1
	}
	p.calls++
	return p.outcomes[idx]
}

// manualClock advances a fixed step per reading so start-period math is
// deterministic without real sleeping.
type manualClock struct {
	current time.Time
	step    time.Duration
}

func (c *manualClock) now() time.Time {
	c.current = c.current.Add(c.step)
	return c.current
}

func noSleep(ctx context.Context, d time.Duration) error {
	return ctx.Err()
}

func testSpec(retries int) stack.ProbeSpec {
	return stack.ProbeSpec{
		Type:     stack.ProbeTCP,
		Target:   "127.0.0.1:5432",
		Interval: time.Second,
		Timeout:  time.Second,
		Retries:  retries,
	}
}

func TestWaitDefaultsAttemptTimeout(t *testing.T) {
	var window time.Duration
	probe := probeFunc(func(ctx context.Context) error {
		deadline, ok := ctx.Deadline()
		if !ok {
			t.Fatal("probe attempt must carry a deadline")
		}
		window = time.Until(deadline)
		return nil
	})

	c := NewChecker(probe, stack.ProbeSpec{}, WithSleeper(noSleep))
	state, err := c.Wait(context.Background())
	if err != nil || state != StateHealthy {
		t.Fatalf("wait = %v, %v", state, err)
	}
	if window <= 0 || window > timeouts.ProbeAttempt {
		t.Fatalf("attempt window = %v, want at most %v", window, timeouts.ProbeAttempt)
	}
}

func TestWaitHealthyOnFirstSuccess(t *testing.T) {
	probe := &scriptProbe{outcomes: []error{nil}}
	var seen []Transition
	checker := NewChecker(probe, testSpec(3),
		WithSleeper(noSleep),
		WithTransitionFunc(func(tr Transition) { seen = append(seen, tr) }),
	)

	state, err := checker.Wait(context.Background())
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if state != StateHealthy {
		t.Fatalf("state = %q, want healthy", state)
	}
	if probe.calls != 1 {
		t.Fatalf("probe calls = %d, want 1", probe.calls)
	}
	if len(seen) != 1 || seen[0].To != StateHealthy {
		t.Fatalf("transitions = %+v, want single starting->healthy", seen)
	}
}

func TestWaitUnhealthyAfterRetryBudget(t *testing.T) {
	boom := errors.New("connection refused")
	probe := &scriptProbe{outcomes: []error{boom}}
	var seen []Transition
	checker := NewChecker(probe, testSpec(3),
		WithSleeper(noSleep),
		WithTransitionFunc(func(tr Transition) { seen = append(seen, tr) }),
	)

	state, err := checker.Wait(context.Background())
	if state != StateUnhealthy {
		t.Fatalf("state = %q, want unhealthy", state)
	}
	if err == nil || !errors.Is(err, boom) {
		t.Fatalf("expected wrapped probe error, got %v", err)
	}
	if probe.calls != 3 {
		t.Fatalf("probe calls = %d, want exactly the retry budget 3", probe.calls)
	}
	if len(seen) != 1 || seen[0].To != StateUnhealthy {
		t.Fatalf("transitions = %+v, want single starting->unhealthy", seen)
	}
}

func TestWaitSuccessAfterFailuresIsHealthy(t *testing.T) {
	boom := errors.New("connection refused")
	// Two failures, then success, with a budget of three: the success must
	// win before the budget is spent.
	probe := &scriptProbe{outcomes: []error{boom, boom, nil}}
	checker := NewChecker(probe, testSpec(3), WithSleeper(noSleep))

	state, err := checker.Wait(context.Background())
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if state != StateHealthy {
		t.Fatalf("state = %q, want healthy", state)
	}
	if probe.calls != 3 {
		t.Fatalf("probe calls = %d, want 3", probe.calls)
	}
}

func TestWaitStartPeriodFailuresDoNotCount(t *testing.T) {
	boom := errors.New("starting up")
	// Clock advances 1s per reading; a 10s start period absorbs the early
	// failures, so the budget only starts counting after it elapses.
	clock := &manualClock{current: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC), step: time.Second}
	spec := testSpec(2)
	spec.StartPeriod = 10 * time.Second

	probe := &scriptProbe{outcomes: []error{boom}}
	checker := NewChecker(probe, spec,
		WithSleeper(noSleep),
		WithClock(clock.now),
	)

	state, _ := checker.Wait(context.Background())
	if state != StateUnhealthy {
		t.Fatalf("state = %q, want unhealthy", state)
	}
	// Roughly ten grace attempts plus the budget of two.
	if probe.calls < 10 {
		t.Fatalf("probe calls = %d, want start-period attempts to be free", probe.calls)
	}
}

func TestWaitReturnsOnContextCancel(t *testing.T) {
	boom := errors.New("connection refused")
	probe := &scriptProbe{outcomes: []error{boom}}
	checker := NewChecker(probe, testSpec(100), WithSleeper(noSleep))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	state, err := checker.Wait(ctx)
	if state != StateStarting {
		t.Fatalf("state = %q, want starting", state)
	}
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestMonitorFlipsOnConsecutiveFailures(t *testing.T) {
	boom := errors.New("connection refused")
	probe := &scriptProbe{outcomes: []error{boom, boom, nil, nil}}
	var seen []Transition

	calls := 0
	stopAfter := func(ctx context.Context, d time.Duration) error {
		calls++
		if calls > 4 {
			return context.Canceled
		}
		return nil
	}

	checker := NewChecker(probe, testSpec(2),
		WithSleeper(stopAfter),
		WithTransitionFunc(func(tr Transition) { seen = append(seen, tr) }),
	)

	if err := checker.Monitor(context.Background()); err != nil {
		t.Fatalf("monitor: %v", err)
	}
	if len(seen) != 2 {
		t.Fatalf("transitions = %+v, want unhealthy then healthy", seen)
	}
	if seen[0].To != StateUnhealthy || seen[1].To != StateHealthy {
		t.Fatalf("transitions = %+v, want healthy->unhealthy->healthy", seen)
	}
}

func TestMonitorSuccessResetsStreak(t *testing.T) {
	boom := errors.New("connection refused")
	// failure, success, failure, success...: with a budget of two, the
	// interleaved successes keep resetting the streak, so no transition
	// may fire.
	probe := &scriptProbe{outcomes: []error{boom, nil, boom, nil, boom, nil}}
	var seen []Transition

	calls := 0
	stopAfter := func(ctx context.Context, d time.Duration) error {
		calls++
		if calls > 6 {
			return context.Canceled
		}
		return nil
	}

	checker := NewChecker(probe, testSpec(2),
		WithSleeper(stopAfter),
		WithTransitionFunc(func(tr Transition) { seen = append(seen, tr) }),
	)

	if err := checker.Monitor(context.Background()); err != nil {
		t.Fatalf("monitor: %v", err)
	}
	if len(seen) != 0 {
		t.Fatalf("expected no transitions, got %+v", seen)
	}
}
