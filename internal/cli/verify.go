package cli

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/mrk-andreev/chprobe/internal/cluster"
	"github.com/mrk-andreev/chprobe/internal/config"
	"github.com/mrk-andreev/chprobe/internal/ir"
	"github.com/mrk-andreev/chprobe/internal/probe"
)

// VerifyOptions holds flags for the verify command.
type VerifyOptions struct {
	*RootOptions
	Query   string
	Set     []string
	User    string
	Channel string
}

// OutcomeView is one channel outcome in command output.
type OutcomeView struct {
	Channel   string `json:"channel"`
	Request   string `json:"request"`
	Succeeded bool   `json:"succeeded"`
	Payload   string `json:"payload"`
}

// VerifyResult is the output of the verify command.
type VerifyResult struct {
	Query        string        `json:"query"`
	Settings     string        `json:"settings,omitempty"`
	User         string        `json:"user,omitempty"`
	Expect       string        `json:"expect,omitempty"`
	StrictInline bool          `json:"strict_inline"`
	Pass         bool          `json:"pass"`
	Outcomes     []OutcomeView `json:"outcomes"`
	Error        string        `json:"error,omitempty"`
}

// NewVerifyCommand creates the verify command.
func NewVerifyCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &VerifyOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Verify one query and settings on every channel",
		Long: `Send a query with settings through the settings packet, HTTP parameters,
SET statements and the SETTINGS clause, and check that every channel yields
the expected result or error.

Without --expect or --error the outcomes are only reported. --channel
restricts verification to one channel (settings_packet, http_params,
session_set or inline_clause).

Exit codes:
  0 - Every channel met the expectation
  1 - A channel disagreed
  2 - Command error (bad flags, transport failure, etc.)

Examples:
  chprobe verify --query "SELECT value FROM system.settings WHERE name='max_memory_usage'" \
    --set max_memory_usage=5000000000 --expect 5000000000
  chprobe verify --query "SELECT 1" --set max_memory_usage=4999999999 \
    --error "shouldn't be less than"`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runVerify(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Query, "query", "", "query to send (required)")
	cmd.Flags().StringArrayVar(&opts.Set, "set", nil, "setting as name=value (repeatable)")
	cmd.Flags().String("expect", "", "expected result text")
	cmd.Flags().String("error", "", "substring of the expected server error")
	cmd.Flags().StringVar(&opts.User, "user", "", "identity to send the query as")
	cmd.Flags().StringVar(&opts.Channel, "channel", "", "verify a single channel only")
	cmd.Flags().Bool("strict-inline", false, "send the inline SETTINGS clause on the fourth channel")
	cmd.MarkFlagsMutuallyExclusive("expect", "error")
	_ = cmd.MarkFlagRequired("query")

	return cmd
}

func runVerify(opts *VerifyOptions, cmd *cobra.Command) error {
	settings, err := ir.ParsePairs(opts.Set)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid --set", err)
	}
	pr := probe.Probe{Query: opts.Query, Settings: settings, User: opts.User}
	observe := true
	if cmd.Flags().Changed("expect") {
		text, _ := cmd.Flags().GetString("expect")
		pr.Expect = probe.Result(text)
		observe = false
	}
	if cmd.Flags().Changed("error") {
		text, _ := cmd.Flags().GetString("error")
		pr.Expect = probe.ErrorContaining(text)
		observe = false
	}
	if !observe {
		if err := pr.Validate(); err != nil {
			return WrapExitError(ExitCommandError, "invalid probe", err)
		}
	}
	channels := probe.Channels
	if opts.Channel != "" {
		if observe {
			return NewExitError(ExitCommandError, "--channel needs --expect or --error")
		}
		c, err := probe.ParseChannel(opts.Channel)
		if err != nil {
			return WrapExitError(ExitCommandError, "invalid --channel", err)
		}
		channels = []probe.Channel{c}
	}

	cfg, err := opts.loadConfig(cmd, map[string]string{"strict-inline": config.KeyStrictInline})
	if err != nil {
		return err
	}

	result := VerifyResult{
		Query:    pr.Query,
		Settings: pr.Settings.String(),
		User:     pr.User,
	}
	if !observe {
		result.Expect = pr.Expect.String()
	}

	err = opts.withCluster(cmd, cfg, func(ctx context.Context, c cluster.Cluster) error {
		prober := probe.New(c, probe.WithLogger(opts.logger(cmd)), probe.WithStrictInline(cfg.StrictInline))
		result.StrictInline = prober.StrictInline()
		var (
			outcomes []probe.Outcome
			verr     error
		)
		switch {
		case observe:
			outcomes, verr = prober.Observe(ctx, pr)
		case len(channels) == 1:
			var o probe.Outcome
			o, verr = prober.VerifyChannel(ctx, pr, channels[0])
			var cerr *probe.ChannelError
			if verr == nil || errors.As(verr, &cerr) {
				outcomes = []probe.Outcome{o}
			}
		default:
			var report *probe.Report
			report, verr = prober.Verify(ctx, pr)
			if report != nil {
				outcomes = report.Outcomes
			}
		}
		result.Outcomes = outcomeViews(outcomes)
		return verr
	})

	var cerr *probe.ChannelError
	switch {
	case err == nil:
		result.Pass = true
	case errors.As(err, &cerr):
		result.Error = cerr.Error()
	default:
		var exitErr *ExitError
		if errors.As(err, &exitErr) {
			return err
		}
		return WrapExitError(ExitCommandError, "verify failed", err)
	}

	out := opts.formatter(cmd)
	if out.IsJSON() {
		if err := out.Report(result, !result.Pass, "E_VERIFY_FAILED", "channels disagree with the expectation"); err != nil {
			return err
		}
	} else {
		w := cmd.OutOrStdout()
		printOutcomes(w, result.Outcomes)
		switch {
		case !result.Pass:
			fmt.Fprintln(w)
			fmt.Fprintln(w, result.Error)
		case observe:
		case len(channels) == 1:
			fmt.Fprintf(w, "✓ %s yields %s\n", channels[0], result.Expect)
		default:
			fmt.Fprintf(w, "✓ all %d channels yield %s\n", len(result.Outcomes), result.Expect)
		}
	}

	if !result.Pass {
		return NewExitError(ExitFailure, "verification failed")
	}
	return nil
}

func outcomeViews(outcomes []probe.Outcome) []OutcomeView {
	views := make([]OutcomeView, len(outcomes))
	for i, o := range outcomes {
		views[i] = OutcomeView{
			Channel:   o.Channel.String(),
			Request:   o.Request.Text(),
			Succeeded: o.Succeeded,
			Payload:   o.Payload,
		}
	}
	return views
}

func describeOutcome(o OutcomeView) string {
	if o.Succeeded {
		return fmt.Sprintf("result %q", o.Payload)
	}
	return "error: " + o.Payload
}

func printOutcomes(w io.Writer, outcomes []OutcomeView) {
	for _, o := range outcomes {
		fmt.Fprintf(w, "%-16s %s\n", o.Channel, describeOutcome(o))
	}
}
