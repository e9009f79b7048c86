// Package main is the devstack CLI. It brings up a local PostgreSQL stack
// with health-gated startup ordering and records every bring-up in a journal.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	devstackcmd "github.com/louisbranch/devstack/internal/cmd/devstack"
	entrypoint "github.com/louisbranch/devstack/internal/platform/cmd"
	"github.com/louisbranch/devstack/internal/platform/config"
	platformerrors "github.com/louisbranch/devstack/internal/platform/errors"
)

func main() {
	log.SetPrefix("[DEVSTACK] ")

	if len(os.Args) < 2 {
		usage(os.Stderr)
		config.Exitf("a command is required")
	}
	command, args := os.Args[1], os.Args[2:]

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var err error
	switch command {
	case entrypoint.CommandUp:
		var cfg devstackcmd.UpConfig
		if cfg, err = devstackcmd.ParseUpConfig(flag.NewFlagSet(command, flag.ExitOnError), args); err == nil {
			err = devstackcmd.RunUp(ctx, cfg)
		}
	case entrypoint.CommandDown:
		var cfg devstackcmd.DownConfig
		if cfg, err = devstackcmd.ParseDownConfig(flag.NewFlagSet(command, flag.ExitOnError), args); err == nil {
			err = devstackcmd.RunDown(ctx, cfg)
		}
	case entrypoint.CommandStatus:
		var cfg devstackcmd.StatusConfig
		if cfg, err = devstackcmd.ParseStatusConfig(flag.NewFlagSet(command, flag.ExitOnError), args); err == nil {
			err = devstackcmd.RunStatus(ctx, cfg)
		}
	case entrypoint.CommandHistory:
		var cfg devstackcmd.HistoryConfig
		if cfg, err = devstackcmd.ParseHistoryConfig(flag.NewFlagSet(command, flag.ExitOnError), args); err == nil {
			err = devstackcmd.RunHistory(ctx, cfg)
		}
	case "help", "-h", "-help", "--help":
		usage(os.Stdout)
		return
	default:
		usage(os.Stderr)
		config.Exitf("unknown command %q", command)
	}

	if err != nil {
		log.Printf("%s: %v", command, err)
		os.Exit(platformerrors.ExitStatus(err))
	}
}

func usage(w io.Writer) {
	fmt.Fprintf(w, `Usage: devstack <command> [flags]

Commands:
  up       Create volumes and start the stack, gating dependents on health
  down     Stop and remove the stack's containers (-volumes removes data too)
  status   Show the container state of every stack service
  history  List recorded bring-up runs (-run shows one run's transitions)

Run "devstack <command> -h" for command flags.
`)
}
