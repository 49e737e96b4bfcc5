package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mrk-andreev/chprobe/internal/cluster"
	"github.com/mrk-andreev/chprobe/internal/config"
	"github.com/mrk-andreev/chprobe/internal/constraints"
	"github.com/mrk-andreev/chprobe/internal/probe"
)

// CaseResult is one derived case in command output.
type CaseResult struct {
	Name     string        `json:"name"`
	Query    string        `json:"query"`
	Settings string        `json:"settings,omitempty"`
	User     string        `json:"user,omitempty"`
	Expect   string        `json:"expect"`
	Pass     *bool         `json:"pass,omitempty"`
	Outcomes []OutcomeView `json:"outcomes,omitempty"`
	Error    string        `json:"error,omitempty"`
}

// ProfileResult is the output of the profile command.
type ProfileResult struct {
	Profile string       `json:"profile"`
	Cases   []CaseResult `json:"cases"`
	Passed  int          `json:"passed"`
	Failed  int          `json:"failed"`
}

// NewProfileCommand creates the profile command.
func NewProfileCommand(rootOpts *RootOptions) *cobra.Command {
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "profile <file.cue>",
		Short: "Verify every case derived from a constraints profile",
		Long: `Compile a CUE constraints profile, derive probe cases for its bounds,
disallowed values, const settings and locked users, and verify each case on
every channel. All cases run; failures are reported together.

Examples:
  chprobe profile users.cue --dry-run
  chprobe profile users.cue --strict-inline`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProfile(rootOpts, cmd, args[0], dryRun)
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "list the derived cases without running them")
	cmd.Flags().Bool("strict-inline", false, "send the inline SETTINGS clause on the fourth channel")
	return cmd
}

func runProfile(opts *RootOptions, cmd *cobra.Command, path string, dryRun bool) error {
	p, err := constraints.LoadProfile(path)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load profile", err)
	}
	cases := constraints.Derive(p)

	result := ProfileResult{Profile: path, Cases: make([]CaseResult, len(cases))}
	for i, c := range cases {
		result.Cases[i] = CaseResult{
			Name:     c.Name,
			Query:    c.Probe.Query,
			Settings: c.Probe.Settings.String(),
			User:     c.Probe.User,
			Expect:   c.Probe.Expect.String(),
		}
	}

	out := opts.formatter(cmd)
	w := cmd.OutOrStdout()
	if dryRun {
		if out.IsJSON() {
			return out.Success(result)
		}
		for _, c := range result.Cases {
			fmt.Fprintf(w, "%s\n  query:    %s\n", c.Name, c.Query)
			if c.Settings != "" {
				fmt.Fprintf(w, "  settings: %s\n", c.Settings)
			}
			if c.User != "" {
				fmt.Fprintf(w, "  user:     %s\n", c.User)
			}
			fmt.Fprintf(w, "  expect:   %s\n", c.Expect)
		}
		fmt.Fprintf(w, "\n%d cases\n", len(cases))
		return nil
	}

	cfg, err := opts.loadConfig(cmd, map[string]string{"strict-inline": config.KeyStrictInline})
	if err != nil {
		return err
	}

	err = opts.withCluster(cmd, cfg, func(ctx context.Context, c cluster.Cluster) error {
		prober := probe.New(c, probe.WithLogger(opts.logger(cmd)), probe.WithStrictInline(cfg.StrictInline))
		for i, dc := range cases {
			report, err := prober.Verify(ctx, dc.Probe)
			cr := &result.Cases[i]
			if report != nil {
				cr.Outcomes = outcomeViews(report.Outcomes)
			}
			pass := err == nil
			cr.Pass = &pass
			var cerr *probe.ChannelError
			switch {
			case err == nil:
				result.Passed++
			case errors.As(err, &cerr):
				cr.Error = cerr.Error()
				result.Failed++
			default:
				return fmt.Errorf("case %s: %w", dc.Name, err)
			}
		}
		return nil
	})
	if err != nil {
		var exitErr *ExitError
		if errors.As(err, &exitErr) {
			return err
		}
		return WrapExitError(ExitCommandError, "profile verification aborted", err)
	}

	failed := result.Failed > 0
	msg := fmt.Sprintf("%d case(s) failed", result.Failed)
	if out.IsJSON() {
		if err := out.Report(result, failed, "E_PROFILE_FAILED", msg); err != nil {
			return err
		}
	} else {
		for _, c := range result.Cases {
			if c.Error == "" {
				fmt.Fprintf(w, "✓ %s\n", c.Name)
				continue
			}
			fmt.Fprintf(w, "✗ %s\n", c.Name)
			printOutcomes(w, c.Outcomes)
			fmt.Fprintf(w, "%s\n", c.Error)
		}
		fmt.Fprintf(w, "\nProfile Summary: %d passed, %d failed, %d total\n", result.Passed, result.Failed, len(cases))
	}

	if failed {
		return NewExitError(ExitFailure, msg)
	}
	return nil
}
