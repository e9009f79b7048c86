package devstack

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"

	entrypoint "github.com/louisbranch/devstack/internal/platform/cmd"
	platformerrors "github.com/louisbranch/devstack/internal/platform/errors"
	"github.com/louisbranch/devstack/internal/runtime"
	"github.com/louisbranch/devstack/internal/runtime/docker"
	"github.com/louisbranch/devstack/internal/stack"
	"github.com/louisbranch/devstack/internal/state"
	"github.com/louisbranch/devstack/internal/state/sqlite"
	"github.com/louisbranch/devstack/internal/supervisor"
)

// RunUp brings the stack up. Without -detach it supervises the stack until
// interrupted, then stops every container it started.
func RunUp(ctx context.Context, cfg UpConfig) error {
	return entrypoint.RunWithTelemetry(ctx, entrypoint.CommandUp, func(ctx context.Context) error {
		stk, err := loadStack(cfg.Config)
		if err != nil {
			return err
		}
		rt, err := newRuntime(ctx, cfg.Config)
		if err != nil {
			return err
		}
		store, err := openJournal(cfg.StateDB)
		if err != nil {
			return err
		}
		defer store.Close()

		runID := uuid.NewString()
		startErr := store.RecordRunStart(ctx, state.Run{
			ID:        runID,
			Stack:     stk.Name,
			StartedAt: time.Now().UTC(),
			Outcome:   state.OutcomeRunning,
		})
		if startErr != nil {
			return platformerrors.Wrap(platformerrors.CodeJournalFailed,
				"record run start", startErr)
		}

		sup := supervisor.New(rt, stk, supervisor.WithJournal(store, runID))
		var runErr error
		if cfg.Detach {
			runErr = sup.Up(ctx)
		} else {
			runErr = sup.Run(ctx)
		}

		if outcome, finished := finishOutcome(runErr, cfg.Detach); finished {
			finishRun(store, runID, outcome)
		}
		return runErr
	})
}

// RunDown stops and removes the stack's containers, and with -volumes the
// named volumes too.
func RunDown(ctx context.Context, cfg DownConfig) error {
	return entrypoint.RunWithTelemetry(ctx, entrypoint.CommandDown, func(ctx context.Context) error {
		stk, err := loadStack(cfg.Config)
		if err != nil {
			return err
		}
		rt, err := newRuntime(ctx, cfg.Config)
		if err != nil {
			return err
		}
		sup := supervisor.New(rt, stk)
		return sup.Down(ctx, cfg.RemoveVolumes)
	})
}

// RunStatus prints the current container state of every stack service,
// along with the last health state the journal recorded for it.
func RunStatus(ctx context.Context, cfg StatusConfig) error {
	return entrypoint.RunWithTelemetry(ctx, entrypoint.CommandStatus, func(ctx context.Context) error {
		stk, err := loadStack(cfg.Config)
		if err != nil {
			return err
		}
		rt, err := newRuntime(ctx, cfg.Config)
		if err != nil {
			return err
		}
		store, err := openJournal(cfg.StateDB)
		if err != nil {
			return err
		}
		defer store.Close()

		healths, err := latestHealth(ctx, store)
		if err != nil {
			return err
		}
		rows, err := statusRows(ctx, rt, stk, healths)
		if err != nil {
			return err
		}
		return writeStatus(os.Stdout, rows)
	})
}

// RunHistory lists past bring-up runs from the journal, or the observed
// service transitions of one run with -run.
func RunHistory(ctx context.Context, cfg HistoryConfig) error {
	return entrypoint.RunWithTelemetry(ctx, entrypoint.CommandHistory, func(ctx context.Context) error {
		store, err := openJournal(cfg.StateDB)
		if err != nil {
			return err
		}
		defer store.Close()

		if cfg.RunID != "" {
			transitions, err := store.ListTransitions(ctx, cfg.RunID, cfg.Limit)
			if err != nil {
				return platformerrors.Wrap(platformerrors.CodeJournalFailed,
					"list transitions", err)
			}
			return writeTransitions(os.Stdout, transitions)
		}

		runs, err := store.ListRuns(ctx, cfg.Limit)
		if err != nil {
			return platformerrors.Wrap(platformerrors.CodeJournalFailed,
				"list runs", err)
		}
		return writeRuns(os.Stdout, runs)
	})
}

func loadStack(cfg Config) (stack.Stack, error) {
	if cfg.StackFile != "" {
		stk, err := stack.Load(cfg.StackFile)
		if err != nil {
			return stack.Stack{}, err
		}
		return *stk, nil
	}
	return stack.DefaultStack(cfg.Postgres, cfg.PgAdmin), nil
}

func newRuntime(ctx context.Context, cfg Config) (runtime.Runtime, error) {
	var opts []docker.Option
	if cfg.DockerBinary != "" {
		opts = append(opts, docker.WithBinary(cfg.DockerBinary))
	}
	client := docker.New(opts...)
	if err := client.Ping(ctx); err != nil {
		return nil, err
	}
	return client, nil
}

func openJournal(path string) (*sqlite.Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, platformerrors.Wrap(platformerrors.CodeJournalFailed,
				"create journal directory", err)
		}
	}
	store, err := sqlite.Open(path)
	if err != nil {
		return nil, platformerrors.Wrap(platformerrors.CodeJournalFailed,
			"open journal", err)
	}
	return store, nil
}

// finishRun records the run outcome on a fresh context: the command context
// is usually already cancelled when the stack comes down.
func finishRun(store state.Store, runID, outcome string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := store.RecordRunFinish(ctx, runID, outcome, time.Now().UTC()); err != nil {
		fmt.Fprintf(os.Stderr, "record run finish: %v\n", err)
	}
}

// finishOutcome maps a bring-up result to a journal outcome. A detached
// stack that came up cleanly is still running, so its run stays open and
// finished_at is left unset.
func finishOutcome(runErr error, detached bool) (string, bool) {
	switch {
	case runErr == nil && detached:
		return "", false
	case runErr == nil:
		return state.OutcomeStopped, true
	case platformerrors.CodeOf(runErr) == platformerrors.CodeDependencyUnhealthy:
		return state.OutcomeUnhealthy, true
	default:
		return state.OutcomeFailed, true
	}
}

// latestHealth returns the last recorded state per service from the most
// recent run in the journal. Transitions arrive oldest first, so the final
// write per service wins.
func latestHealth(ctx context.Context, store state.Store) (map[string]string, error) {
	runs, err := store.ListRuns(ctx, 1)
	if err != nil {
		return nil, platformerrors.Wrap(platformerrors.CodeJournalFailed, "list runs", err)
	}
	if len(runs) == 0 {
		return map[string]string{}, nil
	}
	transitions, err := store.ListTransitions(ctx, runs[0].ID, 0)
	if err != nil {
		return nil, platformerrors.Wrap(platformerrors.CodeJournalFailed, "list transitions", err)
	}
	last := make(map[string]string, len(transitions))
	for _, tr := range transitions {
		last[tr.Service] = tr.To
	}
	return last, nil
}

// statusRow is one service's observed container state and last recorded
// health state.
type statusRow struct {
	Service string
	State   string
	Health  string
	ID      string
}

func statusRows(ctx context.Context, rt runtime.Runtime, stk stack.Stack, healths map[string]string) ([]statusRow, error) {
	rows := make([]statusRow, 0, len(stk.Services))
	for _, svc := range stk.Services {
		health := healths[svc.Name]
		if health == "" {
			health = "-"
		}
		status, err := rt.ContainerStatus(ctx, svc.Name)
		switch {
		case err == nil:
			rows = append(rows, statusRow{Service: svc.Name, State: status.State, Health: health, ID: shortID(status.ID)})
		case errors.Is(err, runtime.ErrNotFound):
			rows = append(rows, statusRow{Service: svc.Name, State: "absent", Health: health, ID: "-"})
		default:
			return nil, err
		}
	}
	return rows, nil
}

func writeStatus(w io.Writer, rows []statusRow) error {
	tw := tabwriter.NewWriter(w, 0, 8, 2, ' ', 0)
	fmt.Fprintln(tw, "SERVICE\tSTATE\tHEALTH\tCONTAINER")
	for _, row := range rows {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", row.Service, row.State, row.Health, row.ID)
	}
	return tw.Flush()
}

func writeRuns(w io.Writer, runs []state.Run) error {
	tw := tabwriter.NewWriter(w, 0, 8, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN\tSTACK\tSTARTED\tFINISHED\tOUTCOME")
	for _, run := range runs {
		finished := "-"
		if !run.FinishedAt.IsZero() {
			finished = run.FinishedAt.UTC().Format(time.RFC3339)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			run.ID, run.Stack, run.StartedAt.UTC().Format(time.RFC3339), finished, run.Outcome)
	}
	return tw.Flush()
}

func writeTransitions(w io.Writer, transitions []state.Transition) error {
	tw := tabwriter.NewWriter(w, 0, 8, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tSERVICE\tFROM\tTO\tDETAIL")
	for _, tr := range transitions {
		from := tr.From
		if from == "" {
			from = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			tr.OccurredAt.UTC().Format(time.RFC3339), tr.Service, from, tr.To, tr.Detail)
	}
	return tw.Flush()
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
