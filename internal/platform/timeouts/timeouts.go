// Package timeouts defines shared timeout constants used across devstack.
// Centralizing these values prevents drift between components and makes the
// durations discoverable.
package timeouts

import "time"

// DockerCLI caps a single docker CLI invocation.
const DockerCLI = 2 * time.Minute

// StopGrace is how long a container gets to exit after SIGTERM before the
// engine kills it.
const StopGrace = 10 * time.Second

// ProbeAttempt caps one liveness probe attempt when the stack definition
// does not set its own timeout.
const ProbeAttempt = 5 * time.Second

// OTelShutdown limits how long telemetry flushing may block process exit.
const OTelShutdown = 5 * time.Second
