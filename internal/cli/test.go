package cli

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mrk-andreev/chprobe/internal/cluster"
	"github.com/mrk-andreev/chprobe/internal/config"
	"github.com/mrk-andreev/chprobe/internal/harness"
	"github.com/mrk-andreev/chprobe/internal/store"
)

// TestOptions holds flags for the test command.
type TestOptions struct {
	*RootOptions
	Update bool   // regenerate golden files
	Filter string // scenario filter (glob pattern)
}

// ScenarioResult holds the result of a single scenario execution.
type ScenarioResult struct {
	Name   string   `json:"name"`
	Pass   bool     `json:"pass"`
	RunID  string   `json:"run_id,omitempty"`
	Errors []string `json:"errors,omitempty"`
}

// TestResult holds the overall test result.
type TestResult struct {
	Scenarios []ScenarioResult `json:"scenarios"`
	Passed    int              `json:"passed"`
	Failed    int              `json:"failed"`
	Total     int              `json:"total"`
}

// NewTestCommand creates the test command.
func NewTestCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TestOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "test <scenarios-dir>",
		Short: "Run settings scenarios",
		Long: `Run every scenario file in a directory against the configured server.

A scenario's trace is compared with <scenarios-dir>/golden/<name>.golden
when that file exists. With --db every probe outcome is recorded in the run
journal.

Exit codes:
  0 - All scenarios passed
  1 - One or more scenarios failed
  2 - Command error (invalid paths, unreachable server, etc.)

Examples:
  chprobe test ./scenarios
  chprobe test ./scenarios --filter "settings_*"
  chprobe test ./scenarios --update
  chprobe test ./scenarios --db runs.db --format json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTests(opts, args[0], cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Update, "update", false, "regenerate golden files")
	cmd.Flags().StringVar(&opts.Filter, "filter", "", "filter scenarios by glob pattern")
	cmd.Flags().String("db", "", "run journal (SQLite file)")
	cmd.Flags().Bool("strict-inline", false, "send the inline SETTINGS clause on the fourth channel")

	return cmd
}

func runTests(opts *TestOptions, dir string, cmd *cobra.Command) error {
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		return NewExitError(ExitCommandError, fmt.Sprintf("scenarios directory not found: %s", dir))
	}

	files, err := findScenarioFiles(dir, opts.Filter)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to find scenarios", err)
	}

	out := opts.formatter(cmd)
	if len(files) == 0 {
		if out.IsJSON() {
			return out.Report(TestResult{Scenarios: []ScenarioResult{}}, false, "", "")
		}
		fmt.Fprintln(cmd.OutOrStdout(), "No scenarios found.")
		return nil
	}

	cfg, err := opts.loadConfig(cmd, map[string]string{
		"db":            config.KeyJournal,
		"strict-inline": config.KeyStrictInline,
	})
	if err != nil {
		return err
	}

	var journal *store.Store
	if cfg.Journal != "" {
		journal, err = store.Open(cfg.Journal)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to open journal", err)
		}
		defer journal.Close()
	}

	result := TestResult{
		Scenarios: make([]ScenarioResult, 0, len(files)),
		Total:     len(files),
	}
	err = opts.withCluster(cmd, cfg, func(ctx context.Context, c cluster.Cluster) error {
		r := &scenarioRunner{
			opts:    opts,
			cfg:     cfg,
			cluster: c,
			journal: journal,
			goldens: filepath.Join(dir, "golden"),
		}
		if out.IsJSON() {
			r.w = io.Discard
		} else {
			r.w = cmd.OutOrStdout()
		}
		for _, file := range files {
			sr, err := r.run(ctx, cmd, file)
			if err != nil {
				return err
			}
			result.Scenarios = append(result.Scenarios, sr)
			if sr.Pass {
				result.Passed++
			} else {
				result.Failed++
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	return outputTestResult(cmd, out, result)
}

// findScenarioFiles lists the YAML files directly inside dir, sorted by
// name, whose base name matches filter.
func findScenarioFiles(dir, filter string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := filepath.Ext(e.Name())
		if ext != ".yaml" && ext != ".yml" {
			continue
		}
		if filter != "" {
			matched, err := filepath.Match(filter, strings.TrimSuffix(e.Name(), ext))
			if err != nil {
				return nil, fmt.Errorf("invalid filter pattern: %w", err)
			}
			if !matched {
				continue
			}
		}
		files = append(files, filepath.Join(dir, e.Name()))
	}
	return files, nil
}

type scenarioRunner struct {
	opts    *TestOptions
	cfg     *config.Config
	cluster cluster.Cluster
	journal *store.Store
	goldens string
	w       io.Writer
}

func (r *scenarioRunner) fail(name string, errs ...string) ScenarioResult {
	fmt.Fprintf(r.w, "✗ %s\n", name)
	for _, e := range errs {
		fmt.Fprintf(r.w, "  %s\n", e)
	}
	return ScenarioResult{Name: name, Pass: false, Errors: errs}
}

// run executes one scenario file. Only journal failures are returned as
// errors; everything else is reported in the result.
func (r *scenarioRunner) run(ctx context.Context, cmd *cobra.Command, file string) (ScenarioResult, error) {
	s, err := harness.LoadScenario(file)
	if err != nil {
		return r.fail(filepath.Base(file), fmt.Sprintf("load error: %v", err)), nil
	}

	hopts := harness.Options{
		Logger:       r.opts.logger(cmd),
		StrictInline: r.cfg.StrictInline,
		Poll:         r.cfg.Poll,
	}
	var runID string
	if r.journal != nil {
		run, err := r.journal.BeginRun(ctx, s.Name, r.cfg.StrictInline)
		if err != nil {
			return ScenarioResult{}, WrapExitError(ExitCommandError, "failed to record run", err)
		}
		runID = run.ID
		hopts.Recorder = r.journal.Recorder(run.ID)
	}

	// The scenario was validated on load, so an error here is a journal
	// failure.
	result, err := harness.Run(ctx, s, r.cluster, hopts)
	if err != nil {
		return ScenarioResult{}, WrapExitError(ExitCommandError, "scenario "+s.Name, err)
	}

	sr := r.check(s, result)
	sr.RunID = runID
	return sr, nil
}

// check compares the trace with its golden file and collects failures.
func (r *scenarioRunner) check(s *harness.Scenario, result *harness.Result) ScenarioResult {
	snapshot, err := harness.Snapshot(s.Name, result)
	if err != nil {
		return r.fail(s.Name, fmt.Sprintf("snapshot error: %v", err))
	}
	golden := filepath.Join(r.goldens, s.Name+".golden")

	if r.opts.Update {
		if err := os.MkdirAll(r.goldens, 0o755); err != nil {
			return r.fail(s.Name, fmt.Sprintf("golden update error: %v", err))
		}
		if err := os.WriteFile(golden, snapshot, 0o644); err != nil {
			return r.fail(s.Name, fmt.Sprintf("golden update error: %v", err))
		}
		fmt.Fprintf(r.w, "✓ %s (golden updated)\n", s.Name)
		return ScenarioResult{Name: s.Name, Pass: true}
	}

	errs := append([]string(nil), result.Errors...)
	want, err := os.ReadFile(golden)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		errs = append(errs, fmt.Sprintf("golden read error: %v", err))
	case !bytes.Equal(want, snapshot):
		errs = append(errs, "trace does not match golden file (run with --update to regenerate)")
	}

	if len(errs) > 0 {
		return r.fail(s.Name, errs...)
	}
	fmt.Fprintf(r.w, "✓ %s\n", s.Name)
	return ScenarioResult{Name: s.Name, Pass: true}
}

func outputTestResult(cmd *cobra.Command, out *OutputFormatter, result TestResult) error {
	failed := result.Failed > 0
	msg := fmt.Sprintf("%d scenario(s) failed", result.Failed)

	if out.IsJSON() {
		if err := out.Report(result, failed, "E_TEST_FAILED", msg); err != nil {
			return err
		}
	} else {
		w := cmd.OutOrStdout()
		fmt.Fprintln(w)
		fmt.Fprintf(w, "Test Summary: %d passed, %d failed, %d total\n", result.Passed, result.Failed, result.Total)
		if !failed {
			fmt.Fprintln(w, "✓ All scenarios passed")
		}
	}

	if failed {
		return NewExitError(ExitFailure, msg)
	}
	return nil
}
