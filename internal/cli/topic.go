package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mrk-andreev/chprobe/internal/cluster"
)

// NewTopicCommand creates the topic command group.
func NewTopicCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "topic",
		Short: "Create or delete Kafka topics",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "create <name>",
		Short: "Create a single-partition topic",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBroker(rootOpts, cmd, func(ctx context.Context, c cluster.Cluster) error {
				return c.CreateTopic(ctx, args[0])
			}, fmt.Sprintf("created topic %s", args[0]))
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "delete <name>",
		Short: "Delete a topic",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBroker(rootOpts, cmd, func(ctx context.Context, c cluster.Cluster) error {
				return c.DeleteTopic(ctx, args[0])
			}, fmt.Sprintf("deleted topic %s", args[0]))
		},
	})
	return cmd
}

// NewProduceCommand creates the produce command.
func NewProduceCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "produce <topic> <message>...",
		Short: "Produce messages to a topic",
		Long: `Produce each argument as one message, synchronously and in order.

Examples:
  chprobe produce bad_messages '{"a": 1}' 'not json'`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			topic, messages := args[0], args[1:]
			return runBroker(rootOpts, cmd, func(ctx context.Context, c cluster.Cluster) error {
				return c.Produce(ctx, topic, messages)
			}, fmt.Sprintf("produced %d messages to %s", len(messages), topic))
		},
	}
}

func runBroker(opts *RootOptions, cmd *cobra.Command, fn func(ctx context.Context, c cluster.Cluster) error, done string) error {
	cfg, err := opts.loadConfig(cmd, nil)
	if err != nil {
		return err
	}
	if err := opts.withCluster(cmd, cfg, fn); err != nil {
		var exitErr *ExitError
		if errors.As(err, &exitErr) {
			return err
		}
		if errors.Is(err, cluster.ErrNoBroker) {
			return WrapExitError(ExitCommandError, "kafka.brokers is not configured", err)
		}
		return WrapExitError(ExitCommandError, "broker operation failed", err)
	}
	return opts.formatter(cmd).Success(done)
}
