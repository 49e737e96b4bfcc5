package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mrk-andreev/chprobe/internal/config"
	"github.com/mrk-andreev/chprobe/internal/store"
)

// RunsDiff is the output of runs diff.
type RunsDiff struct {
	Left        string             `json:"left"`
	Right       string             `json:"right"`
	Divergences []store.Divergence `json:"divergences"`
}

// RunTimeline is the output of runs show.
type RunTimeline struct {
	Run      store.Run             `json:"run"`
	Outcomes []store.OutcomeRecord `json:"outcomes"`
	Failed   int                   `json:"failed"`
}

// NewRunsCommand creates the runs command group.
func NewRunsCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Inspect the run journal",
		Long: `List recorded scenario runs, show the outcomes of one run and compare the
outcomes of two runs.

Examples:
  chprobe runs list --db runs.db
  chprobe runs show <run-id> --db runs.db
  chprobe runs diff <run-a> <run-b> --db runs.db`,
	}
	cmd.PersistentFlags().String("db", "", "run journal (SQLite file)")

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List recorded runs, oldest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withJournal(rootOpts, cmd, func(ctx context.Context, s *store.Store) error {
				return runsList(ctx, rootOpts, cmd, s)
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "show <run-id>",
		Short: "Show the outcomes of a run in recorded order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withJournal(rootOpts, cmd, func(ctx context.Context, s *store.Store) error {
				return runsShow(ctx, rootOpts, cmd, s, args[0])
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "diff <run-a> <run-b>",
		Short: "Show outcomes that differ between two runs",
		Long: `Line up the outcomes of two runs by step, probe and channel and show every
outcome whose result or error differs, or that only one run recorded.

Exit codes:
  0 - The runs agree
  1 - The runs diverge
  2 - Command error (unknown run, missing journal)`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withJournal(rootOpts, cmd, func(ctx context.Context, s *store.Store) error {
				return runsDiff(ctx, rootOpts, cmd, s, args[0], args[1])
			})
		},
	})
	return cmd
}

func withJournal(opts *RootOptions, cmd *cobra.Command, fn func(ctx context.Context, s *store.Store) error) error {
	cfg, err := opts.loadConfig(cmd, map[string]string{"db": config.KeyJournal})
	if err != nil {
		return err
	}
	if cfg.Journal == "" {
		return NewExitError(ExitCommandError, "no journal: set --db or journal in the config")
	}
	s, err := store.Open(cfg.Journal)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open journal", err)
	}
	defer s.Close()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return fn(ctx, s)
}

func runsList(ctx context.Context, opts *RootOptions, cmd *cobra.Command, s *store.Store) error {
	runs, err := s.ListRuns(ctx)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to list runs", err)
	}
	out := opts.formatter(cmd)
	if out.IsJSON() {
		return out.Success(runs)
	}
	w := cmd.OutOrStdout()
	if len(runs) == 0 {
		fmt.Fprintln(w, "No runs recorded.")
		return nil
	}
	for _, r := range runs {
		mode := ""
		if r.StrictInline {
			mode = " strict-inline"
		}
		fmt.Fprintf(w, "%4d  %s  %s  outcomes=%d errors=%d%s\n",
			r.Seq, r.ID, r.Scenario, r.Outcomes, r.ServerErrors, mode)
	}
	return nil
}

func runsShow(ctx context.Context, opts *RootOptions, cmd *cobra.Command, s *store.Store, id string) error {
	run, err := s.GetRun(ctx, id)
	if errors.Is(err, store.ErrRunNotFound) {
		return WrapExitError(ExitCommandError, "unknown run", err)
	}
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read run", err)
	}
	recs, err := s.ReadOutcomes(ctx, id)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read outcomes", err)
	}

	timeline := RunTimeline{Run: run, Outcomes: recs}
	for _, r := range recs {
		if !r.Succeeded {
			timeline.Failed++
		}
	}

	out := opts.formatter(cmd)
	if out.IsJSON() {
		return out.Success(timeline)
	}
	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "Run %s (%s)\n", run.ID, run.Scenario)
	for _, r := range recs {
		status := "result"
		if !r.Succeeded {
			status = "error"
		}
		fmt.Fprintf(w, "[%d] step %d %-16s %s: %s\n", r.Seq, r.Step, r.Channel, status, r.Payload)
		if len(r.Settings) > 0 {
			fmt.Fprintf(w, "      settings: %s\n", r.Settings)
		}
	}
	fmt.Fprintf(w, "%d outcomes, %d errors\n", len(recs), timeline.Failed)
	return nil
}

func runsDiff(ctx context.Context, opts *RootOptions, cmd *cobra.Command, s *store.Store, left, right string) error {
	divs, err := s.CompareRuns(ctx, left, right)
	if errors.Is(err, store.ErrRunNotFound) {
		return WrapExitError(ExitCommandError, "unknown run", err)
	}
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to compare runs", err)
	}

	failed := len(divs) > 0
	msg := fmt.Sprintf("%d divergent outcome(s)", len(divs))
	out := opts.formatter(cmd)
	if out.IsJSON() {
		if err := out.Report(RunsDiff{Left: left, Right: right, Divergences: divs}, failed, "E_RUNS_DIVERGE", msg); err != nil {
			return err
		}
	} else {
		w := cmd.OutOrStdout()
		for _, d := range divs {
			fmt.Fprintln(w, d.String())
		}
		if failed {
			fmt.Fprintln(w, msg)
		} else {
			fmt.Fprintln(w, "✓ runs agree")
		}
	}
	if failed {
		return NewExitError(ExitFailure, msg)
	}
	return nil
}
