package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// RunSummary is a run with outcome counts.
type RunSummary struct {
	Run
	Outcomes int
	// ServerErrors counts outcomes where the server raised an error.
	// Expected errors are included.
	ServerErrors int
}

// GetRun returns one run, or ErrRunNotFound.
func (s *Store) GetRun(ctx context.Context, id string) (Run, error) {
	var run Run
	err := s.db.QueryRowContext(ctx, `
		SELECT id, scenario, seq, strict_inline FROM runs WHERE id = ?
	`, id).Scan(&run.ID, &run.Scenario, &run.Seq, &run.StrictInline)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	if err != nil {
		return Run{}, fmt.Errorf("get run: %w", err)
	}
	return run, nil
}

// ListRuns returns every run, oldest first.
func (s *Store) ListRuns(ctx context.Context) ([]RunSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT r.id, r.scenario, r.seq, r.strict_inline,
		       COUNT(o.id),
		       COALESCE(SUM(CASE WHEN o.succeeded = 0 THEN 1 ELSE 0 END), 0)
		FROM runs r
		LEFT JOIN outcomes o ON o.run_id = r.id
		GROUP BY r.id
		ORDER BY r.seq ASC, r.id COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	runs := []RunSummary{}
	for rows.Next() {
		var r RunSummary
		if err := rows.Scan(&r.ID, &r.Scenario, &r.Seq, &r.StrictInline, &r.Outcomes, &r.ServerErrors); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return runs, nil
}

// ReadOutcomes returns the outcomes of a run in the order they were
// recorded. An unknown run yields ErrRunNotFound.
func (s *Store) ReadOutcomes(ctx context.Context, runID string) ([]OutcomeRecord, error) {
	if _, err := s.GetRun(ctx, runID); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, step, probe_id, channel, query, settings, identity, request, succeeded, payload, seq
		FROM outcomes
		WHERE run_id = ?
		ORDER BY seq ASC, id COLLATE BINARY ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("query outcomes: %w", err)
	}
	defer rows.Close()

	out := []OutcomeRecord{}
	for rows.Next() {
		rec, err := scanOutcome(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate outcomes: %w", err)
	}
	return out, nil
}

func scanOutcome(rows *sql.Rows) (OutcomeRecord, error) {
	var (
		rec      OutcomeRecord
		settings string
	)
	err := rows.Scan(
		&rec.RunID,
		&rec.Step,
		&rec.ProbeID,
		&rec.Channel,
		&rec.Query,
		&settings,
		&rec.User,
		&rec.Request,
		&rec.Succeeded,
		&rec.Payload,
		&rec.Seq,
	)
	if err != nil {
		return OutcomeRecord{}, fmt.Errorf("scan outcome: %w", err)
	}
	if rec.Settings, err = unmarshalSettings(settings); err != nil {
		return OutcomeRecord{}, err
	}
	return rec, nil
}
