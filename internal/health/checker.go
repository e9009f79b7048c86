package health

import (
	"context"
	"fmt"
	"time"

	"github.com/louisbranch/devstack/internal/platform/timeouts"
	"github.com/louisbranch/devstack/internal/stack"
)

// Transition reports one state change observed by a checker.
type Transition struct {
	From   State
	To     State
	Detail string
}

// Checker drives a probe on a fixed interval and applies standard liveness
// semantics: the first success makes the service healthy, and only
// consecutive failures count toward the retry budget.
type Checker struct {
	probe Probe
	spec  stack.ProbeSpec

	// now and sleep are injectable for tests.
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error

	// onTransition, when set, observes every state change.
	onTransition func(Transition)
}

// Option customizes a Checker.
type Option func(*Checker)

// WithClock overrides the wall clock.
func WithClock(now func() time.Time) Option {
	return func(c *Checker) { c.now = now }
}

// WithSleeper overrides the interval wait.
func WithSleeper(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(c *Checker) { c.sleep = sleep }
}

// WithTransitionFunc registers a state change observer.
func WithTransitionFunc(fn func(Transition)) Option {
	return func(c *Checker) { c.onTransition = fn }
}

// NewChecker builds a checker for the given probe and budgets.
func NewChecker(probe Probe, spec stack.ProbeSpec, opts ...Option) *Checker {
	c := &Checker{
		probe: probe,
		spec:  spec,
		now:   time.Now,
		sleep: sleepContext,
	}
	if c.spec.Interval <= 0 {
		c.spec.Interval = stack.DefaultProbeInterval
	}
	if c.spec.Timeout <= 0 {
		c.spec.Timeout = timeouts.ProbeAttempt
	}
	if c.spec.Retries <= 0 {
		c.spec.Retries = stack.DefaultProbeRetries
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Wait blocks until the service transitions out of starting. It returns
// StateHealthy on the first probe success, or StateUnhealthy with an error
// once the consecutive-failure budget is exhausted. Failures inside the
// start period do not count toward the budget.
func (c *Checker) Wait(ctx context.Context) (State, error) {
	start := c.now()
	failures := 0
	var lastErr error

	for {
		err := c.attempt(ctx)
		if err == nil {
			c.transition(StateStarting, StateHealthy, "")
			return StateHealthy, nil
		}
		lastErr = err

		if ctxErr := ctx.Err(); ctxErr != nil {
			return StateStarting, fmt.Errorf("wait for health: %w", ctxErr)
		}

		if c.now().Sub(start) >= c.spec.StartPeriod {
			failures++
			if failures >= c.spec.Retries {
				detail := lastErr.Error()
				c.transition(StateStarting, StateUnhealthy, detail)
				return StateUnhealthy, fmt.Errorf("unhealthy after %d consecutive probe failures: %w", failures, lastErr)
			}
		}

		if err := c.sleep(ctx, c.spec.Interval); err != nil {
			return StateStarting, fmt.Errorf("wait for health: %w", err)
		}
	}
}

// Monitor keeps probing an already-healthy service until ctx ends, flipping
// between healthy and unhealthy as the streak budget dictates. A single
// success resets the failure streak and restores healthy.
func (c *Checker) Monitor(ctx context.Context) error {
	state := StateHealthy
	failures := 0

	for {
		if err := c.sleep(ctx, c.spec.Interval); err != nil {
			return nil
		}

		err := c.attempt(ctx)
		if err == nil {
			failures = 0
			if state == StateUnhealthy {
				c.transition(StateUnhealthy, StateHealthy, "")
				state = StateHealthy
			}
			continue
		}
		if ctx.Err() != nil {
			return nil
		}

		failures++
		if state == StateHealthy && failures >= c.spec.Retries {
			c.transition(StateHealthy, StateUnhealthy, err.Error())
			state = StateUnhealthy
		}
	}
}

func (c *Checker) attempt(ctx context.Context) error {
	attemptCtx, cancel := context.WithTimeout(ctx, c.spec.Timeout)
	defer cancel()
	return c.probe.Check(attemptCtx)
}

func (c *Checker) transition(from, to State, detail string) {
	if c.onTransition == nil {
		return
	}
	c.onTransition(Transition{From: from, To: to, Detail: detail})
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
