// Package runtime abstracts the container engine operations devstack needs:
// volume lifecycle, container lifecycle, and in-container command execution.
package runtime

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound reports that a container or volume does not exist.
var ErrNotFound = errors.New("not found")

// StackLabel marks containers and volumes owned by a devstack bring-up.
const StackLabel = "space.devstack.stack"

// ContainerSpec describes one container to start.
type ContainerSpec struct {
	Name    string
	Image   string
	Env     map[string]string
	Ports   []string // host:container
	Mounts  []string // volume:path
	Restart string   // engine restart policy
	Labels  map[string]string
}

// Status is the engine-reported condition of a container.
type Status struct {
	ID      string
	State   string // created, running, exited, ...
	Running bool
}

// Runtime is the container engine surface the supervisor drives.
type Runtime interface {
	// EnsureVolume creates the named volume if it does not already exist.
	EnsureVolume(ctx context.Context, name string) error
	// RemoveVolume deletes the named volume. Removing an absent volume is
	// not an error.
	RemoveVolume(ctx context.Context, name string) error
	// StartContainer creates and starts a container, returning its engine ID.
	StartContainer(ctx context.Context, spec ContainerSpec) (string, error)
	// StopContainer signals the container and waits up to grace before the
	// engine kills it.
	StopContainer(ctx context.Context, name string, grace time.Duration) error
	// RemoveContainer force-removes the container. Removing an absent
	// container is not an error.
	RemoveContainer(ctx context.Context, name string) error
	// ContainerStatus inspects a container. Returns ErrNotFound when the
	// container does not exist.
	ContainerStatus(ctx context.Context, name string) (Status, error)
	// ExecInContainer runs argv inside a running container, returning an
	// error on non-zero exit.
	ExecInContainer(ctx context.Context, name string, argv []string) error
}
