package harness

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mrk-andreev/chprobe/internal/ir"
)

func writeScenario(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "scenario.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadScenario_Valid(t *testing.T) {
	s, err := LoadScenario("testdata/scenarios/settings_constraints.yaml")
	require.NoError(t, err)

	assert.Equal(t, "settings_constraints", s.Name)
	require.Len(t, s.Steps, 7)

	p := s.Steps[1].Probe
	require.NotNil(t, p)
	assert.Equal(t, ir.NewSettings(ir.S("max_memory_usage", ir.Int(5000000000))), p.Settings)
	require.NotNil(t, p.Expect.Result)
	assert.Equal(t, "5000000000", *p.Expect.Result)

	assert.Equal(t, "readonly_user", s.Steps[5].Probe.User)
	assert.Equal(t, filepath.Join("testdata", "profiles", "reference.cue"), s.Steps[6].Profile.Path)
	assert.Len(t, s.Assertions, 2)
}

func TestLoadScenario_StepKinds(t *testing.T) {
	s, err := LoadScenario("testdata/scenarios/ingestion.yaml")
	require.NoError(t, err)

	var kinds []string
	for i := range s.Steps {
		kinds = append(kinds, s.Steps[i].Kind())
	}
	assert.Equal(t, []string{"sql", "create_topic", "produce", "insert", "poll", "delete_topic"}, kinds)

	in := s.Steps[3].Insert
	assert.Equal(t, 3, in.Iterations)
	cfg := in.Config()
	assert.Equal(t, 1, cfg.MaxValues)
	assert.Equal(t, 1, cfg.ArraySize.Min)
	assert.Equal(t, 2, cfg.ArraySize.Max)
	assert.Equal(t, `{"a": 1}`, s.Steps[2].Produce.Messages[0])
}

func TestLoadScenario_PollDuration(t *testing.T) {
	path := writeScenario(t, `
name: poll
description: "poll"
steps:
  - poll:
      query: "SELECT 1"
      expect: "1"
      replace_tabs: true
      attempts: 5
      interval: 250ms
`)
	s, err := LoadScenario(path)
	require.NoError(t, err)
	assert.Equal(t, 250*time.Millisecond, s.Steps[0].Poll.Interval)
	assert.Equal(t, 5, s.Steps[0].Poll.Attempts)
	assert.True(t, s.Steps[0].Poll.ReplaceTabs)
}

func TestLoadScenario_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name:    "unknown field",
			content: "name: x\ndescription: d\nsteps:\n  - sql: SELECT 1\n    sqll: typo\n",
			wantErr: "field sqll not found",
		},
		{
			name:    "missing name",
			content: "description: d\nsteps:\n  - sql: SELECT 1\n",
			wantErr: "name is required",
		},
		{
			name:    "missing description",
			content: "name: x\nsteps:\n  - sql: SELECT 1\n",
			wantErr: "description is required",
		},
		{
			name:    "no steps",
			content: "name: x\ndescription: d\n",
			wantErr: "steps list is required",
		},
		{
			name:    "two actions",
			content: "name: x\ndescription: d\nsteps:\n  - sql: SELECT 1\n    create_topic: t\n",
			wantErr: "steps[0]: step has 2 actions",
		},
		{
			name:    "empty step",
			content: "name: x\ndescription: d\nsteps:\n  - {}\n",
			wantErr: "steps[0]: step has no action",
		},
		{
			name:    "probe without expectation",
			content: "name: x\ndescription: d\nsteps:\n  - probe: {query: SELECT 1}\n",
			wantErr: "exactly one of expected result or expected error",
		},
		{
			name:    "probe with both expectations",
			content: "name: x\ndescription: d\nsteps:\n  - probe: {query: SELECT 1, expect: {result: '1', error: boom}}\n",
			wantErr: "both result and error",
		},
		{
			name:    "duplicate setting",
			content: "name: x\ndescription: d\nsteps:\n  - probe: {query: SELECT 1, settings: {a: 1, a: 2}, expect: {result: '1'}}\n",
			wantErr: "failed to parse YAML",
		},
		{
			name:    "invalid setting name",
			content: "name: x\ndescription: d\nsteps:\n  - probe: {query: SELECT 1, settings: {'bad name': 1}, expect: {result: '1'}}\n",
			wantErr: "invalid setting name",
		},
		{
			name:    "insert with both forms",
			content: "name: x\ndescription: d\nsteps:\n  - insert: {table: t, iterations: 1, threads: 2, tasks: 2}\n",
			wantErr: "exactly one of iterations or threads+tasks",
		},
		{
			name:    "insert without tasks",
			content: "name: x\ndescription: d\nsteps:\n  - insert: {table: t, threads: 2}\n",
			wantErr: "threads and tasks must both be positive",
		},
		{
			name:    "sql_error without contains",
			content: "name: x\ndescription: d\nsteps:\n  - sql_error: {query: SELECT 1}\n",
			wantErr: "contains is required",
		},
		{
			name:    "produce without messages",
			content: "name: x\ndescription: d\nsteps:\n  - produce: {topic: t}\n",
			wantErr: "messages list is required",
		},
		{
			name:    "missing profile",
			content: "name: x\ndescription: d\nsteps:\n  - profile: {path: nope.cue}\n",
			wantErr: "profile file not found",
		},
		{
			name:    "unknown assertion",
			content: "name: x\ndescription: d\nsteps:\n  - sql: SELECT 1\nassertions:\n  - type: nope\n",
			wantErr: `unknown assertion type "nope"`,
		},
		{
			name:    "final_state without query",
			content: "name: x\ndescription: d\nsteps:\n  - sql: SELECT 1\nassertions:\n  - type: final_state\n",
			wantErr: "query is required for final_state",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadScenario(writeScenario(t, tt.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadScenario_MissingFile(t *testing.T) {
	_, err := LoadScenario("testdata/scenarios/nope.yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read scenario file")
}

func TestLoadDir(t *testing.T) {
	scenarios, err := LoadDir("testdata/scenarios")
	require.NoError(t, err)

	var names []string
	for _, s := range scenarios {
		names = append(names, s.Name)
	}
	assert.Equal(t, []string{"golden_probe", "ingestion", "settings_constraints"}, names)
}
