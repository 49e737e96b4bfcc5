package store

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mrk-andreev/chprobe/internal/ir"
)

func TestListRuns(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	runs, err := s.ListRuns(ctx)
	require.NoError(t, err)
	assert.Empty(t, runs)

	a, _ := s.BeginRun(ctx, "first", false)
	b, _ := s.BeginRun(ctx, "second", true)
	_, err = s.WriteOutcome(ctx, outcome(a.ID, 0, "settings_packet", true, "1"))
	require.NoError(t, err)
	_, err = s.WriteOutcome(ctx, outcome(a.ID, 0, "http_params", false, "Code: 452"))
	require.NoError(t, err)

	runs, err = s.ListRuns(ctx)
	require.NoError(t, err)
	want := []RunSummary{
		{Run: a, Outcomes: 2, ServerErrors: 1},
		{Run: b},
	}
	if diff := cmp.Diff(want, runs); diff != "" {
		t.Errorf("ListRuns() mismatch (-want +got):\n%s", diff)
	}
}

func TestGetRun_NotFound(t *testing.T) {
	s := createTestStore(t)

	_, err := s.GetRun(context.Background(), "nope")
	require.ErrorIs(t, err, ErrRunNotFound)

	_, err = s.ReadOutcomes(context.Background(), "nope")
	require.ErrorIs(t, err, ErrRunNotFound)
}

func TestReadOutcomes_EmptyRun(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	run, _ := s.BeginRun(ctx, "x", false)

	got, err := s.ReadOutcomes(ctx, run.ID)
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestSettingsRoundTrip(t *testing.T) {
	in := ir.NewSettings(
		ir.S("max_memory_usage", ir.Int(9223372036854775807)),
		ir.S("async_insert", ir.Bool(true)),
		ir.S("load_balancing", ir.String("random")),
	)

	data, err := marshalSettings(in)
	require.NoError(t, err)
	assert.Equal(t,
		`[{"name":"max_memory_usage","value":9223372036854775807},{"name":"async_insert","value":true},{"name":"load_balancing","value":"random"}]`,
		data)

	out, err := unmarshalSettings(data)
	require.NoError(t, err)
	assert.Equal(t, in, out)

	empty, err := marshalSettings(nil)
	require.NoError(t, err)
	assert.Equal(t, "[]", empty)
	out, err = unmarshalSettings(empty)
	require.NoError(t, err)
	assert.Nil(t, out)

	_, err = unmarshalSettings(`[{"name":"x","value":1.5}]`)
	assert.Error(t, err)
}
