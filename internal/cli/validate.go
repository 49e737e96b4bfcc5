package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"github.com/spf13/cobra"

	"github.com/mrk-andreev/chprobe/internal/constraints"
	"github.com/mrk-andreev/chprobe/internal/harness"
)

// FileValidation is the validation outcome of one scenario or profile file.
type FileValidation struct {
	File  string `json:"file"`
	Kind  string `json:"kind"`
	Valid bool   `json:"valid"`
	Steps int    `json:"steps,omitempty"`
	Cases int    `json:"cases,omitempty"`
	Line  int    `json:"line,omitempty"`
	Error string `json:"error,omitempty"`
}

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid bool             `json:"valid"`
	Files []FileValidation `json:"files"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <path>...",
		Short: "Validate scenarios and profiles without a server",
		Long: `Validate scenario YAML files and CUE constraints profiles offline.

A directory argument validates every *.yaml, *.yml and *.cue file it holds.
Profiles are compiled and their cases derived; nothing is sent to ClickHouse.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, cmd, args)
		},
	}
	return cmd
}

func runValidate(opts *RootOptions, cmd *cobra.Command, paths []string) error {
	out := opts.formatter(cmd)

	files, err := collectValidateFiles(paths)
	if err != nil {
		if out.IsJSON() {
			_ = out.Error("E_NO_FILES", err.Error(), nil)
		}
		return WrapExitError(ExitCommandError, "validate", err)
	}

	result := ValidationResult{Valid: true}
	for _, f := range files {
		out.VerboseLog("validating %s", f)
		v := validateFile(f)
		if !v.Valid {
			result.Valid = false
		}
		result.Files = append(result.Files, v)
	}

	invalid := 0
	for _, f := range result.Files {
		if !f.Valid {
			invalid++
		}
	}
	msg := fmt.Sprintf("%d file(s) invalid", invalid)

	if out.IsJSON() {
		if err := out.Report(result, !result.Valid, "E_VALIDATION_FAILED", msg); err != nil {
			return err
		}
	} else {
		w := cmd.OutOrStdout()
		for _, f := range result.Files {
			switch {
			case !f.Valid && f.Line > 0:
				fmt.Fprintf(w, "✗ %s:%d: %s\n", f.File, f.Line, f.Error)
			case !f.Valid:
				fmt.Fprintf(w, "✗ %s: %s\n", f.File, f.Error)
			case f.Kind == "profile":
				fmt.Fprintf(w, "✓ %s (%d cases)\n", f.File, f.Cases)
			default:
				fmt.Fprintf(w, "✓ %s (%d steps)\n", f.File, f.Steps)
			}
		}
	}

	if !result.Valid {
		return NewExitError(ExitFailure, msg)
	}
	return nil
}

func validateFile(path string) FileValidation {
	if filepath.Ext(path) == ".cue" {
		v := FileValidation{File: path, Kind: "profile"}
		p, err := constraints.LoadProfile(path)
		if err != nil {
			v.Error = err.Error()
			var cerr *constraints.CompileError
			if errors.As(err, &cerr) && cerr.Pos.IsValid() {
				v.Line = cerr.Pos.Line()
				v.Error = cerr.Message
			}
			return v
		}
		v.Valid = true
		v.Cases = len(constraints.Derive(p))
		return v
	}

	v := FileValidation{File: path, Kind: "scenario"}
	s, err := harness.LoadScenario(path)
	if err != nil {
		v.Error = err.Error()
		return v
	}
	v.Valid = true
	v.Steps = len(s.Steps)
	return v
}

var validateExts = []string{".yaml", ".yml", ".cue"}

// collectValidateFiles expands directory arguments into their scenario and
// profile files, sorted by name. File arguments are kept as given.
func collectValidateFiles(paths []string) ([]string, error) {
	var files []string
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, fmt.Errorf("path not found: %s", p)
		}
		if !info.IsDir() {
			files = append(files, p)
			continue
		}
		entries, err := os.ReadDir(p)
		if err != nil {
			return nil, fmt.Errorf("read directory %s: %w", p, err)
		}
		found := 0
		for _, e := range entries {
			if e.IsDir() || !slices.Contains(validateExts, filepath.Ext(e.Name())) {
				continue
			}
			files = append(files, filepath.Join(p, e.Name()))
			found++
		}
		if found == 0 {
			return nil, fmt.Errorf("no scenario or profile files in %s", p)
		}
	}
	return files, nil
}
