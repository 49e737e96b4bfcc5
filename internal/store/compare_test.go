package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mrk-andreev/chprobe/internal/harness"
	"github.com/mrk-andreev/chprobe/internal/testutil"
)

func TestCompareRuns(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	a, _ := s.BeginRun(ctx, "x", false)
	b, _ := s.BeginRun(ctx, "x", false)

	for _, rec := range []OutcomeRecord{
		outcome(a.ID, 0, "settings_packet", true, "1"),
		outcome(a.ID, 0, "http_params", true, "1"),
		outcome(a.ID, 0, "session_set", true, "1"),
		outcome(b.ID, 0, "settings_packet", true, "1"),
		outcome(b.ID, 0, "http_params", false, "Code: 452"),
		outcome(b.ID, 1, "settings_packet", true, "2"),
	} {
		_, err := s.WriteOutcome(ctx, rec)
		require.NoError(t, err)
	}

	got, err := s.CompareRuns(ctx, a.ID, b.ID)
	require.NoError(t, err)
	assert.Equal(t, []Divergence{
		{Step: 0, ProbeID: "probe-a", Channel: "http_params", Query: "SELECT 1", Left: `result "1"`, Right: "error: Code: 452"},
		{Step: 0, ProbeID: "probe-a", Channel: "session_set", Query: "SELECT 1", Left: `result "1"`, Right: "missing"},
		{Step: 1, ProbeID: "probe-a", Channel: "settings_packet", Query: "SELECT 1", Left: "missing", Right: `result "2"`},
	}, got)
	assert.Equal(t, `step 0 http_params "SELECT 1": result "1" != error: Code: 452`, got[0].String())

	same, err := s.CompareRuns(ctx, a.ID, a.ID)
	require.NoError(t, err)
	assert.Empty(t, same)

	_, err = s.CompareRuns(ctx, a.ID, "nope")
	require.ErrorIs(t, err, ErrRunNotFound)
}

// Running the same scenario twice against the same server state records
// identical outcomes.
func TestCompareRuns_RepeatedScenarioIsIdempotent(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	sc, err := harness.LoadScenario("../harness/testdata/scenarios/settings_constraints.yaml")
	require.NoError(t, err)

	var ids []string
	for range 2 {
		run, err := s.BeginRun(ctx, sc.Name, false)
		require.NoError(t, err)
		result, err := harness.Run(ctx, sc, testutil.NewReferenceServer(), harness.Options{Recorder: s.Recorder(run.ID)})
		require.NoError(t, err)
		require.True(t, result.Pass, result.Errors)
		ids = append(ids, run.ID)
	}

	first, err := s.ReadOutcomes(ctx, ids[0])
	require.NoError(t, err)
	second, err := s.ReadOutcomes(ctx, ids[1])
	require.NoError(t, err)
	assert.NotEmpty(t, first)
	assert.Len(t, second, len(first))

	diff, err := s.CompareRuns(ctx, ids[0], ids[1])
	require.NoError(t, err)
	assert.Empty(t, diff)
}
