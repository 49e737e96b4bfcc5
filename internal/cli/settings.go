package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mrk-andreev/chprobe/internal/cluster"
	"github.com/mrk-andreev/chprobe/internal/constraints"
)

// ConstraintView is an introspected setting in command output.
type ConstraintView struct {
	Name       string `json:"name"`
	Table      string `json:"table"`
	Value      string `json:"value"`
	Min        *int64 `json:"min"`
	Max        *int64 `json:"max"`
	Readonly   bool   `json:"readonly"`
	Disallowed string `json:"disallowed_values"`
}

func (v ConstraintView) String() string {
	bound := func(b *int64) string {
		if b == nil {
			return "unbounded"
		}
		return fmt.Sprint(*b)
	}
	return fmt.Sprintf("name: %s\ntable: %s\nvalue: %s\nmin: %s\nmax: %s\nreadonly: %t\ndisallowed_values: %s",
		v.Name, v.Table, v.Value, bound(v.Min), bound(v.Max), v.Readonly, v.Disallowed)
}

// NewSettingsCommand creates the settings command.
func NewSettingsCommand(rootOpts *RootOptions) *cobra.Command {
	var mergeTree bool

	cmd := &cobra.Command{
		Use:   "settings <name>",
		Short: "Show the constraint the server reports for a setting",
		Long: `Read a setting's current value, bounds, readonly flag and disallowed values
from system.settings, or system.merge_tree_settings with --merge-tree.

Examples:
  chprobe settings max_memory_usage
  chprobe settings max_parts_in_total --merge-tree --format json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			table := constraints.TableSettings
			if mergeTree {
				table = constraints.TableMergeTree
			}
			return runSettings(rootOpts, cmd, table, args[0])
		},
	}
	cmd.Flags().BoolVar(&mergeTree, "merge-tree", false, "read system.merge_tree_settings")
	return cmd
}

func runSettings(opts *RootOptions, cmd *cobra.Command, table constraints.Table, name string) error {
	cfg, err := opts.loadConfig(cmd, nil)
	if err != nil {
		return err
	}

	var c constraints.Constraint
	err = opts.withCluster(cmd, cfg, func(ctx context.Context, cl cluster.Cluster) error {
		c, err = constraints.Introspect(ctx, cl, table, name)
		return err
	})
	out := opts.formatter(cmd)
	if errors.Is(err, constraints.ErrUnknownSetting) {
		out.Error("E_UNKNOWN_SETTING", err.Error(), nil)
		return WrapExitError(ExitFailure, "unknown setting", err)
	}
	if err != nil {
		var exitErr *ExitError
		if errors.As(err, &exitErr) {
			return err
		}
		return WrapExitError(ExitCommandError, "introspection failed", err)
	}

	view := ConstraintView{
		Name:       c.Name,
		Table:      string(table),
		Min:        c.Min,
		Max:        c.Max,
		Readonly:   c.Const,
		Disallowed: constraints.FormatArray(c.Disallowed),
	}
	if c.Default != nil {
		view.Value = c.Default.Param()
	}
	return out.Success(view)
}
