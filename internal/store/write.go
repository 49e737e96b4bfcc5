package store

import (
	"context"
	"fmt"

	"github.com/mrk-andreev/chprobe/internal/ir"
	"github.com/mrk-andreev/chprobe/internal/probe"
)

// Run is one recorded scenario run.
type Run struct {
	ID           string
	Scenario     string
	Seq          int64
	StrictInline bool
}

// OutcomeRecord is one channel outcome of a probe inside a run.
type OutcomeRecord struct {
	RunID    string
	Step     int
	ProbeID  string
	Channel  string
	Query    string
	Settings ir.Settings
	User     string
	// Request is the text that was sent on the channel.
	Request   string
	Succeeded bool
	Payload   string
	// Seq is assigned on insert.
	Seq int64
}

// BeginRun registers a new run of scenario and returns it.
func (s *Store) BeginRun(ctx context.Context, scenario string, strictInline bool) (Run, error) {
	run := Run{ID: s.ids.Generate(), Scenario: scenario, StrictInline: strictInline}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Run{}, fmt.Errorf("begin run: begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), 0) + 1 FROM runs`).Scan(&run.Seq); err != nil {
		return Run{}, fmt.Errorf("begin run: next seq: %w", err)
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs (id, scenario, seq, strict_inline)
		VALUES (?, ?, ?, ?)
	`, run.ID, run.Scenario, run.Seq, run.StrictInline)
	if err != nil {
		return Run{}, fmt.Errorf("begin run: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return Run{}, fmt.Errorf("begin run: commit: %w", err)
	}
	return run, nil
}

// WriteOutcome records an outcome and reports whether it was new.
// Writing an outcome whose (run, step, probe, channel) already exists is
// silently ignored. The run must exist.
func (s *Store) WriteOutcome(ctx context.Context, rec OutcomeRecord) (inserted bool, err error) {
	id, err := ir.OutcomeID(rec.RunID, rec.Step, rec.ProbeID, rec.Channel)
	if err != nil {
		return false, fmt.Errorf("write outcome: %w", err)
	}
	settingsJSON, err := marshalSettings(rec.Settings)
	if err != nil {
		return false, fmt.Errorf("write outcome: %w", err)
	}

	// The WHERE clause is required for ON CONFLICT to parse after a SELECT.
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO outcomes
		(id, run_id, step, probe_id, channel, query, settings, identity, request, succeeded, payload, seq)
		SELECT ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, COALESCE(MAX(seq), 0) + 1
		FROM outcomes WHERE run_id = ?
		ON CONFLICT DO NOTHING
	`,
		id,
		rec.RunID,
		rec.Step,
		rec.ProbeID,
		rec.Channel,
		rec.Query,
		settingsJSON,
		rec.User,
		rec.Request,
		rec.Succeeded,
		rec.Payload,
		rec.RunID,
	)
	if err != nil {
		return false, fmt.Errorf("write outcome: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("write outcome: rows affected: %w", err)
	}
	return n > 0, nil
}

// Recorder writes the outcomes of one run.
type Recorder struct {
	store *Store
	runID string
}

// Recorder returns a recorder for runID.
func (s *Store) Recorder(runID string) *Recorder {
	return &Recorder{store: s, runID: runID}
}

// RecordOutcome writes o, observed for pr at step.
func (r *Recorder) RecordOutcome(ctx context.Context, step int, pr probe.Probe, o probe.Outcome) error {
	probeID, err := pr.ID()
	if err != nil {
		return err
	}
	_, err = r.store.WriteOutcome(ctx, OutcomeRecord{
		RunID:     r.runID,
		Step:      step,
		ProbeID:   probeID,
		Channel:   o.Channel.String(),
		Query:     pr.Query,
		Settings:  pr.Settings,
		User:      pr.User,
		Request:   o.Request.Text(),
		Succeeded: o.Succeeded,
		Payload:   o.Payload,
	})
	return err
}
