package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mrk-andreev/chprobe/internal/ir"
	"github.com/mrk-andreev/chprobe/internal/probe"
)

func outcome(runID string, step int, channel string, ok bool, payload string) OutcomeRecord {
	return OutcomeRecord{
		RunID:     runID,
		Step:      step,
		ProbeID:   "probe-a",
		Channel:   channel,
		Query:     "SELECT 1",
		Settings:  ir.NewSettings(ir.S("max_memory_usage", ir.Int(5000000000))),
		Request:   "SELECT 1",
		Succeeded: ok,
		Payload:   payload,
	}
}

func TestBeginRun(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	a, err := s.BeginRun(ctx, "settings_constraints", false)
	require.NoError(t, err)
	b, err := s.BeginRun(ctx, "settings_constraints", true)
	require.NoError(t, err)

	assert.Equal(t, Run{ID: "run-0001", Scenario: "settings_constraints", Seq: 1}, a)
	assert.Equal(t, Run{ID: "run-0002", Scenario: "settings_constraints", Seq: 2, StrictInline: true}, b)
}

func TestBeginRun_DefaultIDsAreUUIDs(t *testing.T) {
	s, err := Open(":memory:")
	require.NoError(t, err)
	defer s.Close()

	run, err := s.BeginRun(context.Background(), "x", false)
	require.NoError(t, err)
	assert.Len(t, run.ID, 36)
}

func TestWriteOutcome_Idempotent(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	run, err := s.BeginRun(ctx, "x", false)
	require.NoError(t, err)

	rec := outcome(run.ID, 0, "settings_packet", true, "1")
	inserted, err := s.WriteOutcome(ctx, rec)
	require.NoError(t, err)
	assert.True(t, inserted)

	rec.Payload = "changed"
	inserted, err = s.WriteOutcome(ctx, rec)
	require.NoError(t, err)
	assert.False(t, inserted)

	got, err := s.ReadOutcomes(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "1", got[0].Payload)
}

func TestWriteOutcome_AssignsSeqPerRun(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	a, _ := s.BeginRun(ctx, "x", false)
	b, _ := s.BeginRun(ctx, "x", false)

	for _, c := range []string{"settings_packet", "http_params"} {
		_, err := s.WriteOutcome(ctx, outcome(a.ID, 0, c, true, "1"))
		require.NoError(t, err)
	}
	_, err := s.WriteOutcome(ctx, outcome(b.ID, 0, "settings_packet", true, "1"))
	require.NoError(t, err)

	got, err := s.ReadOutcomes(ctx, a.ID)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, int64(1), got[0].Seq)
	assert.Equal(t, int64(2), got[1].Seq)

	got, err = s.ReadOutcomes(ctx, b.ID)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, int64(1), got[0].Seq)
}

func TestWriteOutcome_UnknownRun(t *testing.T) {
	s := createTestStore(t)

	_, err := s.WriteOutcome(context.Background(), outcome("nope", 0, "settings_packet", true, "1"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "FOREIGN KEY")
}

func TestRecorder(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	run, err := s.BeginRun(ctx, "x", false)
	require.NoError(t, err)

	pr := probe.Probe{
		Query:    "SELECT 1",
		Settings: ir.NewSettings(ir.S("readonly", ir.Int(0))),
		User:     "readonly_user",
		Expect:   probe.ErrorContaining("Cannot modify"),
	}
	o := probe.Outcome{
		Channel: probe.SessionSet,
		Request: probe.SessionSetEncoder{}.Encode(pr.Query, pr.Settings),
		Payload: "Code: 164. DB::Exception: Cannot modify 'readonly' setting in readonly mode. (READONLY)",
	}
	rec := s.Recorder(run.ID)
	require.NoError(t, rec.RecordOutcome(ctx, 3, pr, o))
	require.NoError(t, rec.RecordOutcome(ctx, 3, pr, o))

	got, err := s.ReadOutcomes(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, got, 1)

	id, err := pr.ID()
	require.NoError(t, err)
	assert.Equal(t, OutcomeRecord{
		RunID:    run.ID,
		Step:     3,
		ProbeID:  id,
		Channel:  "session_set",
		Query:    "SELECT 1",
		Settings: pr.Settings,
		User:     "readonly_user",
		Request:  "SET readonly=0;\nSELECT 1",
		Payload:  o.Payload,
		Seq:      1,
	}, got[0])
}
