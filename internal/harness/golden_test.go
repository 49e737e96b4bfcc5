package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mrk-andreev/chprobe/internal/testutil"
)

func TestRunWithGolden_Probe(t *testing.T) {
	s, err := LoadScenario("testdata/scenarios/golden_probe.yaml")
	require.NoError(t, err)

	// To regenerate: go test ./internal/harness -run TestRunWithGolden_Probe -update
	result, err := RunWithGolden(t, s, testutil.NewReferenceServer(), Options{})
	require.NoError(t, err)
	assert.True(t, result.Pass, result.Errors)
}

func TestSnapshot_OmitsEmptyFields(t *testing.T) {
	result := NewResult()
	result.AddEvent(TraceEvent{Seq: 1, Step: 0, Kind: EventCreateTopic, Query: "t", OK: true})

	got, err := Snapshot("topics", result)
	require.NoError(t, err)
	assert.Equal(t,
		`{"format_version":"1","scenario_name":"topics","trace":[{"kind":"create_topic","ok":true,"query":"t","seq":1,"step":0}]}`,
		string(got))
}

func TestSnapshot_EmptyTrace(t *testing.T) {
	got, err := Snapshot("empty", NewResult())
	require.NoError(t, err)
	assert.Equal(t, `{"format_version":"1","scenario_name":"empty","trace":[]}`, string(got))
}
