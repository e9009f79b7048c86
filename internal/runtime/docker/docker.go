// Package docker implements the runtime interface over the docker CLI on
// the host, so no engine API dependency is needed for a local dev stack.
package docker

import (
	"context"
	"fmt"
	"os/exec"
	"sort"
	"strconv"
	"strings"
	"time"

	platformerrors "github.com/louisbranch/devstack/internal/platform/errors"
	"github.com/louisbranch/devstack/internal/platform/timeouts"
	"github.com/louisbranch/devstack/internal/runtime"
)

// StackLabel marks containers and volumes owned by a devstack bring-up.
const StackLabel = runtime.StackLabel

// Runner executes one CLI invocation and returns its combined output.
// Extracted so tests can fake the docker binary.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (string, error)
}

// execRunner shells out with a bounded timeout.
type execRunner struct{}

func (execRunner) Run(ctx context.Context, name string, args ...string) (string, error) {
	runCtx, cancel := context.WithTimeout(ctx, timeouts.DockerCLI)
	defer cancel()

	out, err := exec.CommandContext(runCtx, name, args...).CombinedOutput()
	if err != nil {
		return string(out), fmt.Errorf("%s %s: %w: %s", name, strings.Join(args, " "), err, strings.TrimSpace(string(out)))
	}
	return string(out), nil
}

// Client drives the docker CLI.
type Client struct {
	binary string
	runner Runner
}

// Option customizes a Client.
type Option func(*Client)

// WithRunner overrides the CLI runner.
func WithRunner(r Runner) Option {
	return func(c *Client) { c.runner = r }
}

// WithBinary overrides the engine binary name, e.g. "podman".
func WithBinary(name string) Option {
	return func(c *Client) { c.binary = name }
}

// New builds a docker CLI client.
func New(opts ...Option) *Client {
	c := &Client{binary: "docker", runner: execRunner{}}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Ping verifies the engine daemon is reachable.
func (c *Client) Ping(ctx context.Context) error {
	if _, err := c.runner.Run(ctx, c.binary, "version", "--format", "{{.Server.Version}}"); err != nil {
		return platformerrors.Wrap(platformerrors.CodeRuntimeUnavailable,
			"container engine is not reachable", err)
	}
	return nil
}

// EnsureVolume implements runtime.Runtime. Volume create is idempotent in
// the engine, so no existence check is needed.
func (c *Client) EnsureVolume(ctx context.Context, name string) error {
	if _, err := c.runner.Run(ctx, c.binary, "volume", "create", "--label", StackLabel, name); err != nil {
		return platformerrors.Wrap(platformerrors.CodeVolumeFailed,
			fmt.Sprintf("create volume %s", name), err)
	}
	return nil
}

// RemoveVolume implements runtime.Runtime.
func (c *Client) RemoveVolume(ctx context.Context, name string) error {
	out, err := c.runner.Run(ctx, c.binary, "volume", "rm", name)
	if err != nil {
		if isNoSuchObject(out) || isNoSuchObject(err.Error()) {
			return nil
		}
		return platformerrors.Wrap(platformerrors.CodeVolumeFailed,
			fmt.Sprintf("remove volume %s", name), err)
	}
	return nil
}

// StartContainer implements runtime.Runtime.
func (c *Client) StartContainer(ctx context.Context, spec runtime.ContainerSpec) (string, error) {
	args := []string{"run", "--detach", "--name", spec.Name}
	if spec.Restart != "" {
		args = append(args, "--restart", spec.Restart)
	}
	for _, key := range sortedKeys(spec.Env) {
		args = append(args, "--env", key+"="+spec.Env[key])
	}
	for _, port := range spec.Ports {
		args = append(args, "--publish", port)
	}
	for _, mount := range spec.Mounts {
		args = append(args, "--volume", mount)
	}
	for _, key := range sortedKeys(spec.Labels) {
		args = append(args, "--label", key+"="+spec.Labels[key])
	}
	args = append(args, spec.Image)

	out, err := c.runner.Run(ctx, c.binary, args...)
	if err != nil {
		return "", platformerrors.Wrap(platformerrors.CodeContainerStart,
			fmt.Sprintf("start container %s", spec.Name), err)
	}
	return strings.TrimSpace(out), nil
}

// StopContainer implements runtime.Runtime.
func (c *Client) StopContainer(ctx context.Context, name string, grace time.Duration) error {
	seconds := int(grace / time.Second)
	if seconds <= 0 {
		seconds = int(timeouts.StopGrace / time.Second)
	}
	out, err := c.runner.Run(ctx, c.binary, "stop", "--time", strconv.Itoa(seconds), name)
	if err != nil {
		if isNoSuchObject(out) || isNoSuchObject(err.Error()) {
			return nil
		}
		return platformerrors.Wrap(platformerrors.CodeContainerStop,
			fmt.Sprintf("stop container %s", name), err)
	}
	return nil
}

// RemoveContainer implements runtime.Runtime.
func (c *Client) RemoveContainer(ctx context.Context, name string) error {
	out, err := c.runner.Run(ctx, c.binary, "rm", "--force", name)
	if err != nil {
		if isNoSuchObject(out) || isNoSuchObject(err.Error()) {
			return nil
		}
		return platformerrors.Wrap(platformerrors.CodeContainerStop,
			fmt.Sprintf("remove container %s", name), err)
	}
	return nil
}

// ContainerStatus implements runtime.Runtime.
func (c *Client) ContainerStatus(ctx context.Context, name string) (runtime.Status, error) {
	out, err := c.runner.Run(ctx, c.binary, "inspect",
		"--format", "{{.Id}};{{.State.Status}};{{.State.Running}}", name)
	if err != nil {
		if isNoSuchObject(out) || isNoSuchObject(err.Error()) {
			return runtime.Status{}, runtime.ErrNotFound
		}
		return runtime.Status{}, fmt.Errorf("inspect container %s: %w", name, err)
	}

	parts := strings.Split(strings.TrimSpace(out), ";")
	if len(parts) != 3 {
		return runtime.Status{}, fmt.Errorf("inspect container %s: unexpected output %q", name, out)
	}
	return runtime.Status{
		ID:      parts[0],
		State:   parts[1],
		Running: parts[2] == "true",
	}, nil
}

// ExecInContainer implements runtime.Runtime and health.ContainerExecer.
func (c *Client) ExecInContainer(ctx context.Context, name string, argv []string) error {
	args := append([]string{"exec", name}, argv...)
	if _, err := c.runner.Run(ctx, c.binary, args...); err != nil {
		return fmt.Errorf("exec in container %s: %w", name, err)
	}
	return nil
}

func isNoSuchObject(text string) bool {
	lower := strings.ToLower(text)
	return strings.Contains(lower, "no such") || strings.Contains(lower, "not found")
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
