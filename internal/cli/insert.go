package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mrk-andreev/chprobe/internal/cluster"
	"github.com/mrk-andreev/chprobe/internal/ir"
	"github.com/mrk-andreev/chprobe/internal/workload"
)

// InsertOptions holds flags for the insert command.
type InsertOptions struct {
	*RootOptions
	Set        []string
	Iterations int
	Threads    int
	Tasks      int
	MaxValues  int
	ArrayMin   int
	ArrayMax   int
	Seed       uint64
}

// InsertResult is the output of the insert command.
type InsertResult struct {
	Table   string `json:"table"`
	Inserts int    `json:"inserts"`
	Rows    int    `json:"rows"`
}

func (r InsertResult) String() string {
	return fmt.Sprintf("%s: %d inserts, %d rows", r.Table, r.Inserts, r.Rows)
}

// NewInsertCommand creates the insert command.
func NewInsertCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &InsertOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "insert <table>",
		Short: "Generate async-insert load into a (a UInt64, b Array(UInt64)) table",
		Long: `Insert generated rows either sequentially (--iterations) or from a pool of
--threads workers running --tasks inserts. Inserts use async_insert=1 and
wait_for_async_insert=1 unless --set is given.

Examples:
  chprobe insert async_insert_mt_table --iterations 3
  chprobe insert async_insert_mt_table --threads 15 --tasks 100 --seed 7`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInsert(opts, cmd, args[0])
		},
	}
	cmd.Flags().StringArrayVar(&opts.Set, "set", nil, "insert setting as name=value (repeatable)")
	cmd.Flags().IntVar(&opts.Iterations, "iterations", 0, "sequential inserts")
	cmd.Flags().IntVar(&opts.Threads, "threads", 15, "parallel workers")
	cmd.Flags().IntVar(&opts.Tasks, "tasks", 100, "parallel inserts")
	cmd.Flags().IntVar(&opts.MaxValues, "max-values", 0, "rows per insert (default 1000)")
	cmd.Flags().IntVar(&opts.ArrayMin, "array-min", 0, "minimum length of b")
	cmd.Flags().IntVar(&opts.ArrayMax, "array-max", 0, "maximum length of b")
	cmd.Flags().Uint64Var(&opts.Seed, "seed", 0, "random seed")
	return cmd
}

func runInsert(opts *InsertOptions, cmd *cobra.Command, table string) error {
	settings, err := ir.ParsePairs(opts.Set)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid --set", err)
	}
	cfg, err := opts.loadConfig(cmd, nil)
	if err != nil {
		return err
	}

	wcfg := workload.Config{
		Table:     table,
		Settings:  settings,
		MaxValues: opts.MaxValues,
		ArraySize: workload.Range{Min: opts.ArrayMin, Max: opts.ArrayMax},
		Seed:      opts.Seed,
		Logger:    opts.logger(cmd),
	}

	var stats workload.Stats
	err = opts.withCluster(cmd, cfg, func(ctx context.Context, c cluster.Cluster) error {
		if opts.Iterations > 0 {
			stats, err = workload.Sequential(ctx, c, wcfg, opts.Iterations)
		} else {
			stats, err = workload.Parallel(ctx, c, wcfg, opts.Threads, opts.Tasks)
		}
		return err
	})
	if err != nil {
		var exitErr *ExitError
		if errors.As(err, &exitErr) {
			return err
		}
		return WrapExitError(ExitFailure,
			fmt.Sprintf("insert failed after %d inserts", stats.Inserts), err)
	}
	return opts.formatter(cmd).Success(InsertResult{Table: table, Inserts: stats.Inserts, Rows: stats.Rows})
}
