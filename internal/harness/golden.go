package harness

import (
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/mrk-andreev/chprobe/internal/cluster"
	"github.com/mrk-andreev/chprobe/internal/ir"
)

// GoldenDir is where trace snapshots live, relative to the test package.
const GoldenDir = "testdata/golden"

// TraceSnapshot captures the trace of one scenario run.
type TraceSnapshot struct {
	ScenarioName string       `json:"scenario_name"`
	Trace        []TraceEvent `json:"trace"`
}

// toCanonicalMap converts a snapshot to the generic form accepted by
// ir.MarshalCanonical. Empty optional fields are left out.
func (s *TraceSnapshot) toCanonicalMap() map[string]any {
	traceList := make([]any, len(s.Trace))
	for i, event := range s.Trace {
		m := map[string]any{
			"seq":  event.Seq,
			"step": event.Step,
			"kind": event.Kind,
			"ok":   event.OK,
		}
		for k, v := range map[string]string{
			"case":     event.Case,
			"channel":  event.Channel,
			"user":     event.User,
			"query":    event.Query,
			"settings": event.Settings,
			"payload":  event.Payload,
		} {
			if v != "" {
				m[k] = v
			}
		}
		traceList[i] = m
	}
	return map[string]any{
		"format_version": ir.FormatVersion,
		"scenario_name":  s.ScenarioName,
		"trace":          traceList,
	}
}

// Snapshot renders the canonical JSON of a run's trace.
func Snapshot(scenarioName string, result *Result) ([]byte, error) {
	snapshot := TraceSnapshot{ScenarioName: scenarioName, Trace: result.Trace}
	return ir.MarshalCanonical(snapshot.toCanonicalMap())
}

// RunWithGolden runs a scenario and compares its trace with
// testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, s *Scenario, c cluster.Cluster, opts Options) (*Result, error) {
	t.Helper()

	result, err := Run(t.Context(), s, c, opts)
	if err != nil {
		return nil, err
	}
	if err := AssertGolden(t, s.Name, result); err != nil {
		return result, err
	}
	return result, nil
}

// AssertGolden compares an existing result's trace with a golden file.
func AssertGolden(t *testing.T, scenarioName string, result *Result) error {
	t.Helper()

	traceJSON, err := Snapshot(scenarioName, result)
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir(GoldenDir),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenarioName, traceJSON)
	return nil
}
