package cli

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mrk-andreev/chprobe/internal/cluster"
	"github.com/mrk-andreev/chprobe/internal/config"
	"github.com/mrk-andreev/chprobe/internal/poll"
)

// PollResult is the output of the poll command.
type PollResult struct {
	Query  string `json:"query"`
	Expect string `json:"expect"`
	Value  string `json:"value"`
	Met    bool   `json:"met"`
}

// NewPollCommand creates the poll command.
func NewPollCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		query, expect string
		replaceTabs   bool
	)

	cmd := &cobra.Command{
		Use:   "poll",
		Short: "Re-run a query until it yields the expected text",
		Long: `Re-run a query at a fixed interval until its result equals --expect, for
state that settles asynchronously (async inserts, Kafka ingestion).

Examples:
  chprobe poll --query "SELECT count() FROM t" --expect 100
  chprobe poll --query "SELECT a, b FROM t" --expect "1|[2]" --replace-tabs --attempts 5`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPoll(rootOpts, cmd, query, expect, replaceTabs)
		},
	}
	cmd.Flags().StringVar(&query, "query", "", "query to run (required)")
	cmd.Flags().StringVar(&expect, "expect", "", "expected result text")
	cmd.Flags().BoolVar(&replaceTabs, "replace-tabs", false, "compare with tabs replaced by |")
	cmd.Flags().Int("attempts", poll.DefaultAttempts, "maximum number of attempts")
	cmd.Flags().Duration("interval", poll.DefaultInterval, "pause between attempts")
	_ = cmd.MarkFlagRequired("query")
	return cmd
}

func runPoll(opts *RootOptions, cmd *cobra.Command, query, expect string, replaceTabs bool) error {
	cfg, err := opts.loadConfig(cmd, map[string]string{
		"attempts": config.KeyPollAttempts,
		"interval": config.KeyPollInterval,
	})
	if err != nil {
		return err
	}

	normalize := func(s string) string { return strings.TrimRight(s, "\n") }
	if replaceTabs {
		normalize = poll.ReplaceTabs
	}

	result := PollResult{Query: query, Expect: expect}
	err = opts.withCluster(cmd, cfg, func(ctx context.Context, c cluster.Cluster) error {
		value, err := poll.Until(ctx, func(ctx context.Context) (string, error) {
			out, err := c.Query(ctx, query, cluster.QueryOptions{})
			return normalize(out), err
		}, poll.Equals(expect), cfg.Poll)
		result.Value = value
		return err
	})

	var timeout *poll.TimeoutError
	switch {
	case err == nil:
		result.Met = true
	case errors.As(err, &timeout):
		result.Value = fmt.Sprint(timeout.Last)
	default:
		var exitErr *ExitError
		if errors.As(err, &exitErr) {
			return err
		}
		return WrapExitError(ExitCommandError, "poll failed", err)
	}

	out := opts.formatter(cmd)
	if out.IsJSON() {
		if err := out.Report(result, !result.Met, "E_POLL_TIMEOUT", timeoutMessage(timeout)); err != nil {
			return err
		}
	} else if result.Met {
		fmt.Fprintln(cmd.OutOrStdout(), result.Value)
	} else {
		fmt.Fprintln(cmd.OutOrStdout(), timeout.Error())
	}

	if !result.Met {
		return WrapExitError(ExitFailure, "condition not met", timeout)
	}
	return nil
}

func timeoutMessage(err *poll.TimeoutError) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
