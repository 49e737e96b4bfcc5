package cli

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/spf13/cobra"

	"github.com/mrk-andreev/chprobe/internal/broker"
	"github.com/mrk-andreev/chprobe/internal/chclient"
	"github.com/mrk-andreev/chprobe/internal/cluster"
	"github.com/mrk-andreev/chprobe/internal/config"
)

// ConnectFunc opens the cluster a command runs against.
type ConnectFunc func(ctx context.Context, cfg *config.Config, logger *slog.Logger) (cluster.Cluster, error)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose    bool
	Format     string // "json" | "text"
	ConfigFile string

	// Connect defaults to Connect. Tests point it at a fake server.
	Connect ConnectFunc
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the chprobe CLI.
func NewRootCommand() *cobra.Command {
	return newRootCommand(&RootOptions{Connect: Connect})
}

func newRootCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chprobe",
		Short: "chprobe - settings validation across every client channel",
		Long: `Verify that a ClickHouse server applies and constrains settings the same way
whether they arrive as a settings packet, as HTTP parameters, as SET
statements or as an inline SETTINGS clause.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return NewExitError(ExitCommandError,
					fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			return nil
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.ConfigFile, "config", "", "config file (default ./chprobe.yaml)")

	cmd.AddCommand(NewTestCommand(opts))
	cmd.AddCommand(NewVerifyCommand(opts))
	cmd.AddCommand(NewSettingsCommand(opts))
	cmd.AddCommand(NewProfileCommand(opts))
	cmd.AddCommand(NewPollCommand(opts))
	cmd.AddCommand(NewTopicCommand(opts))
	cmd.AddCommand(NewProduceCommand(opts))
	cmd.AddCommand(NewInsertCommand(opts))
	cmd.AddCommand(NewRunsCommand(opts))
	cmd.AddCommand(NewValidateCommand(opts))

	return cmd
}

// Connect builds an External cluster from the configuration. The broker is
// only attached when brokers are configured.
func Connect(_ context.Context, cfg *config.Config, logger *slog.Logger) (cluster.Cluster, error) {
	db, err := chclient.New(cfg.ClickHouse, chclient.WithLogger(logger))
	if err != nil {
		return nil, err
	}
	copts := []cluster.Option{cluster.WithLogger(logger)}
	if len(cfg.Kafka.Brokers) > 0 {
		b, err := broker.New(cfg.Kafka, broker.WithLogger(logger))
		if err != nil {
			db.Close()
			return nil, err
		}
		copts = append(copts, cluster.WithBroker(b))
	}
	return cluster.NewExternal(db, copts...), nil
}

// formatter returns the output formatter for cmd.
func (o *RootOptions) formatter(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    o.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   o.Verbose,
	}
}

// logger writes to stderr; -v lowers the level to debug.
func (o *RootOptions) logger(cmd *cobra.Command) *slog.Logger {
	level := slog.LevelWarn
	if o.Verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
}

// loadConfig resolves the configuration, with the command's flags bound to
// the given keys.
func (o *RootOptions) loadConfig(cmd *cobra.Command, bindings map[string]string) (*config.Config, error) {
	v := config.New()
	if err := config.ReadFile(v, o.ConfigFile); err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load config", err)
	}
	if err := config.BindFlags(v, cmd.Flags(), bindings); err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load config", err)
	}
	cfg, err := config.Load(v)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "invalid config", err)
	}
	return cfg, nil
}

// withCluster connects, starts the cluster, runs fn and stops the cluster.
func (o *RootOptions) withCluster(cmd *cobra.Command, cfg *config.Config, fn func(ctx context.Context, c cluster.Cluster) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	connect := o.Connect
	if connect == nil {
		connect = Connect
	}
	c, err := connect(ctx, cfg, o.logger(cmd))
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to connect", err)
	}
	if err := c.Start(ctx); err != nil {
		c.Stop()
		return WrapExitError(ExitCommandError, "failed to start cluster", err)
	}
	defer c.Stop()
	return fn(ctx, c)
}
