// Package cmd provides the shared entrypoint plumbing for devstack
// subcommands: environment defaults, flag overlays, and telemetry setup.
package cmd

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/louisbranch/devstack/internal/platform/config"
	"github.com/louisbranch/devstack/internal/platform/otel"
	"github.com/louisbranch/devstack/internal/platform/timeouts"
)

// Command identifiers for startup telemetry and CLI naming consistency.
const (
	CommandUp      = "up"
	CommandDown    = "down"
	CommandStatus  = "status"
	CommandHistory = "history"
)

// RunOptions controls shared entrypoint behavior for subcommands.
type RunOptions struct {
	// ShutdownTimeout sets the timeout used when stopping telemetry.
	ShutdownTimeout time.Duration
}

// ParseConfig loads environment defaults into cfg.
func ParseConfig[T any](cfg *T) error {
	if cfg == nil {
		return errors.New("config target is required")
	}
	return config.ParseEnv(cfg)
}

// ParseArgs parses command-line flags.
func ParseArgs(fs *flag.FlagSet, args []string) error {
	if fs == nil {
		return errors.New("flag parser is required")
	}
	if args == nil {
		args = []string{}
	}
	return fs.Parse(args)
}

// ParseConfigFromArgs loads defaults from env and then parses flags.
func ParseConfigFromArgs[T any](cfg *T, fs *flag.FlagSet, args []string) error {
	if err := ParseConfig(cfg); err != nil {
		return err
	}
	return ParseArgs(fs, args)
}

// RunWithTelemetry configures observability and executes a subcommand.
func RunWithTelemetry(ctx context.Context, command string, run func(context.Context) error) error {
	return RunWithTelemetryAndOptions(ctx, command, RunOptions{}, run)
}

// RunWithTelemetryAndOptions configures observability and executes a subcommand.
func RunWithTelemetryAndOptions(ctx context.Context, command string, options RunOptions, run func(context.Context) error) error {
	command = strings.TrimSpace(command)
	if command == "" {
		return fmt.Errorf("command name is required")
	}
	if run == nil {
		return fmt.Errorf("run function is required")
	}
	shutdown, err := otel.Setup(ctx, "devstack-"+command)
	if err != nil {
		return err
	}
	defer func() {
		shutdownTimeout := options.ShutdownTimeout
		if shutdownTimeout <= 0 {
			shutdownTimeout = timeouts.OTelShutdown
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdown(shutdownCtx); err != nil {
			log.Printf("%s otel shutdown: %v", command, err)
		}
	}()
	return run(ctx)
}
