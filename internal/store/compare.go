package store

import (
	"context"
	"fmt"
)

// Divergence is an outcome that differs between two runs.
type Divergence struct {
	Step    int
	ProbeID string
	Channel string
	Query   string
	// Left and Right describe the outcome in each run: "result ...",
	// "error: ..." or "missing".
	Left, Right string
}

func (d Divergence) String() string {
	return fmt.Sprintf("step %d %s %q: %s != %s", d.Step, d.Channel, d.Query, d.Left, d.Right)
}

type outcomeKey struct {
	step    int
	probeID string
	channel string
}

func describe(rec *OutcomeRecord) string {
	switch {
	case rec == nil:
		return "missing"
	case rec.Succeeded:
		return fmt.Sprintf("result %q", rec.Payload)
	default:
		return "error: " + rec.Payload
	}
}

// CompareRuns lines up the outcomes of two runs by (step, probe, channel)
// and returns every pair that differs in success or payload, plus outcomes
// present in only one run. Divergences follow the order of the left run,
// then the right run's extras. Identical runs yield an empty slice.
func (s *Store) CompareRuns(ctx context.Context, left, right string) ([]Divergence, error) {
	a, err := s.ReadOutcomes(ctx, left)
	if err != nil {
		return nil, fmt.Errorf("compare runs: %w", err)
	}
	b, err := s.ReadOutcomes(ctx, right)
	if err != nil {
		return nil, fmt.Errorf("compare runs: %w", err)
	}

	byKey := make(map[outcomeKey]*OutcomeRecord, len(b))
	for i := range b {
		r := &b[i]
		byKey[outcomeKey{r.Step, r.ProbeID, r.Channel}] = r
	}

	out := []Divergence{}
	seen := make(map[outcomeKey]bool, len(a))
	for i := range a {
		l := &a[i]
		k := outcomeKey{l.Step, l.ProbeID, l.Channel}
		seen[k] = true
		r := byKey[k]
		if r != nil && r.Succeeded == l.Succeeded && r.Payload == l.Payload {
			continue
		}
		out = append(out, Divergence{
			Step: l.Step, ProbeID: l.ProbeID, Channel: l.Channel, Query: l.Query,
			Left: describe(l), Right: describe(r),
		})
	}
	for i := range b {
		r := &b[i]
		k := outcomeKey{r.Step, r.ProbeID, r.Channel}
		if seen[k] {
			continue
		}
		out = append(out, Divergence{
			Step: r.Step, ProbeID: r.ProbeID, Channel: r.Channel, Query: r.Query,
			Left: describe(nil), Right: describe(r),
		})
	}
	return out, nil
}
