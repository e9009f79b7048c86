// Package devstack parses command flags and drives the stack subcommands:
// up, down, status, and history.
package devstack

import (
	"flag"

	entrypoint "github.com/louisbranch/devstack/internal/platform/cmd"
	"github.com/louisbranch/devstack/internal/stack"
)

// Config holds the configuration shared by every subcommand.
type Config struct {
	// StackFile points at a YAML stack definition. When empty, the
	// built-in postgres/pgadmin stack is used.
	StackFile string `env:"DEVSTACK_FILE"`
	// StateDB is the path of the SQLite bring-up journal.
	StateDB string `env:"DEVSTACK_STATE_DB" envDefault:"data/devstack.db"`
	// DockerBinary overrides the container engine binary, e.g. podman.
	DockerBinary string `env:"DEVSTACK_DOCKER_BINARY"`

	Postgres stack.PostgresEnv
	PgAdmin  stack.PgAdminEnv
}

// UpConfig holds up command configuration.
type UpConfig struct {
	Config
	// Detach starts the stack and returns instead of supervising it.
	Detach bool `env:"DEVSTACK_DETACH"`
}

// DownConfig holds down command configuration.
type DownConfig struct {
	Config
	// RemoveVolumes deletes the named volumes along with the containers,
	// so the next bring-up starts from an empty database.
	RemoveVolumes bool
}

// StatusConfig holds status command configuration.
type StatusConfig struct {
	Config
}

// HistoryConfig holds history command configuration.
type HistoryConfig struct {
	Config
	// Limit caps how many runs are listed.
	Limit int `env:"DEVSTACK_HISTORY_LIMIT" envDefault:"20"`
	// RunID, when set, lists the transitions of one run instead.
	RunID string
}

func addSharedFlags(fs *flag.FlagSet, cfg *Config) {
	fs.StringVar(&cfg.StackFile, "f", cfg.StackFile, "Stack definition file (defaults to the built-in stack)")
	fs.StringVar(&cfg.StateDB, "state-db", cfg.StateDB, "Path of the bring-up journal database")
}

// ParseUpConfig parses environment and flags into an UpConfig.
func ParseUpConfig(fs *flag.FlagSet, args []string) (UpConfig, error) {
	var cfg UpConfig
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return UpConfig{}, err
	}
	addSharedFlags(fs, &cfg.Config)
	fs.BoolVar(&cfg.Detach, "detach", cfg.Detach, "Start the stack and return without supervising it")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return UpConfig{}, err
	}
	return cfg, nil
}

// ParseDownConfig parses environment and flags into a DownConfig.
func ParseDownConfig(fs *flag.FlagSet, args []string) (DownConfig, error) {
	var cfg DownConfig
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return DownConfig{}, err
	}
	addSharedFlags(fs, &cfg.Config)
	fs.BoolVar(&cfg.RemoveVolumes, "volumes", false, "Remove the named volumes too")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return DownConfig{}, err
	}
	return cfg, nil
}

// ParseStatusConfig parses environment and flags into a StatusConfig.
func ParseStatusConfig(fs *flag.FlagSet, args []string) (StatusConfig, error) {
	var cfg StatusConfig
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return StatusConfig{}, err
	}
	addSharedFlags(fs, &cfg.Config)
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return StatusConfig{}, err
	}
	return cfg, nil
}

// ParseHistoryConfig parses environment and flags into a HistoryConfig.
func ParseHistoryConfig(fs *flag.FlagSet, args []string) (HistoryConfig, error) {
	var cfg HistoryConfig
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return HistoryConfig{}, err
	}
	addSharedFlags(fs, &cfg.Config)
	fs.IntVar(&cfg.Limit, "limit", cfg.Limit, "Maximum number of runs to list")
	fs.StringVar(&cfg.RunID, "run", "", "List the transitions of one run")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return HistoryConfig{}, err
	}
	return cfg, nil
}
