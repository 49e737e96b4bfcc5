package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/mrk-andreev/chprobe/internal/cluster"
	"github.com/mrk-andreev/chprobe/internal/constraints"
	"github.com/mrk-andreev/chprobe/internal/poll"
	"github.com/mrk-andreev/chprobe/internal/probe"
	"github.com/mrk-andreev/chprobe/internal/workload"
)

// Recorder persists probe outcomes as they are observed.
type Recorder interface {
	RecordOutcome(ctx context.Context, step int, pr probe.Probe, o probe.Outcome) error
}

// Options configures a run.
type Options struct {
	Logger *slog.Logger

	// StrictInline sends the inline SETTINGS form on the fourth channel.
	StrictInline bool

	// Poll bounds poll steps that do not set their own attempts or
	// interval. The zero value means poll.DefaultOptions.
	Poll poll.Options

	// Recorder, if set, receives every probe outcome.
	Recorder Recorder
}

// Harness executes the steps of one scenario.
type Harness struct {
	cluster cluster.Cluster
	prober  *probe.Prober
	seq     int64
	logger  *slog.Logger
	opts    Options
	user    string
}

// recordError marks a Recorder failure. It aborts the run instead of
// failing the step.
type recordError struct {
	err error
}

func (e *recordError) Error() string { return "record outcome: " + e.err.Error() }
func (e *recordError) Unwrap() error { return e.err }

// Run executes a scenario against c.
//
// Steps run in order. The first failing step is recorded in Result.Errors
// and ends the run; assertions are only evaluated when every step passed.
// The returned error is reserved for an invalid scenario and for Recorder
// failures.
func Run(ctx context.Context, s *Scenario, c cluster.Cluster, opts Options) (*Result, error) {
	if s == nil {
		return nil, errors.New("harness: nil scenario")
	}
	if c == nil {
		return nil, errors.New("harness: nil cluster")
	}
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if opts.Poll == (poll.Options{}) {
		opts.Poll = poll.DefaultOptions()
	}

	h := &Harness{
		cluster: c,
		prober:  probe.New(c, probe.WithLogger(logger), probe.WithStrictInline(opts.StrictInline)),
		logger:  logger.With("scenario", s.Name),
		opts:    opts,
		user:    s.User,
	}

	result := NewResult()
	for i := range s.Steps {
		st := &s.Steps[i]
		err := h.executeStep(ctx, i, st, result)
		if err == nil {
			h.logger.Debug("step passed", "step", i, "kind", st.Kind())
			continue
		}
		var rerr *recordError
		if errors.As(err, &rerr) {
			return result, fmt.Errorf("step %d: %w", i, rerr)
		}
		h.logger.Info("step failed", "step", i, "kind", st.Kind(), "error", err)
		result.AddError(fmt.Sprintf("step %d (%s): %v", i, st.Kind(), err))
		return result, nil
	}

	actx := &AssertionContext{Cluster: c, User: s.User, Ctx: ctx}
	for _, msg := range EvaluateAssertions(result, s.Assertions, actx) {
		result.AddError(msg)
	}
	return result, nil
}

func (h *Harness) executeStep(ctx context.Context, i int, st *Step, result *Result) error {
	switch {
	case st.SQL != "":
		return h.executeSQL(ctx, i, st.SQL, result)
	case st.SQLError != nil:
		return h.executeSQLError(ctx, i, st.SQLError, result)
	case st.Probe != nil:
		pr := probe.Probe{
			Query:    st.Probe.Query,
			Settings: st.Probe.Settings,
			User:     h.identity(st.Probe.User),
			Expect:   st.Probe.Expect.Expectation(),
		}
		return h.verify(ctx, i, "", pr, result)
	case st.Poll != nil:
		return h.executePoll(ctx, i, st.Poll, result)
	case st.CreateTopic != "":
		err := h.cluster.CreateTopic(ctx, st.CreateTopic)
		h.event(result, TraceEvent{Step: i, Kind: EventCreateTopic, Query: st.CreateTopic, OK: err == nil, Payload: errText(err)})
		return err
	case st.DeleteTopic != "":
		err := h.cluster.DeleteTopic(ctx, st.DeleteTopic)
		h.event(result, TraceEvent{Step: i, Kind: EventDeleteTopic, Query: st.DeleteTopic, OK: err == nil, Payload: errText(err)})
		return err
	case st.Produce != nil:
		err := h.cluster.Produce(ctx, st.Produce.Topic, st.Produce.Messages)
		payload := fmt.Sprintf("%d messages", len(st.Produce.Messages))
		if err != nil {
			payload = err.Error()
		}
		h.event(result, TraceEvent{Step: i, Kind: EventProduce, Query: st.Produce.Topic, OK: err == nil, Payload: payload})
		return err
	case st.Insert != nil:
		return h.executeInsert(ctx, i, st.Insert, result)
	case st.Profile != nil:
		return h.executeProfile(ctx, i, st.Profile, result)
	}
	return fmt.Errorf("step has no action")
}

func (h *Harness) identity(user string) string {
	if user != "" {
		return user
	}
	return h.user
}

// event stamps e with the next logical sequence number. Steps run on one
// goroutine, so a plain counter is enough.
func (h *Harness) event(result *Result, e TraceEvent) {
	h.seq++
	e.Seq = h.seq
	result.AddEvent(e)
}

func errText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func (h *Harness) executeSQL(ctx context.Context, i int, sql string, result *Result) error {
	out, err := h.cluster.Query(ctx, sql, cluster.QueryOptions{User: h.user})
	payload := strings.TrimRight(out, "\n")
	if err != nil {
		payload = err.Error()
	}
	h.event(result, TraceEvent{Step: i, Kind: EventSQL, User: h.user, Query: sql, OK: err == nil, Payload: payload})
	return err
}

func (h *Harness) executeSQLError(ctx context.Context, i int, st *SQLError, result *Result) error {
	msg, err := h.cluster.QueryExpectingError(ctx, st.Query, cluster.QueryOptions{User: h.user})
	if err == nil && !strings.Contains(msg, st.Contains) {
		err = fmt.Errorf("error %q does not contain %q", msg, st.Contains)
	}
	payload := msg
	if err != nil && msg == "" {
		payload = err.Error()
	}
	h.event(result, TraceEvent{Step: i, Kind: EventSQLError, User: h.user, Query: st.Query, OK: err == nil, Payload: payload})
	return err
}

// verify runs one probe and records every observed outcome, including the
// one that failed.
func (h *Harness) verify(ctx context.Context, i int, name string, pr probe.Probe, result *Result) error {
	report, err := h.prober.Verify(ctx, pr)
	if report != nil {
		result.Reports = append(result.Reports, report)
		for _, o := range report.Outcomes {
			h.event(result, TraceEvent{
				Step:     i,
				Kind:     EventProbe,
				Case:     name,
				Channel:  o.Channel.String(),
				User:     o.Request.User,
				Query:    o.Request.Text(),
				Settings: o.Request.Settings.String(),
				OK:       o.Succeeded,
				Payload:  o.Payload,
			})
			if h.opts.Recorder != nil {
				if rerr := h.opts.Recorder.RecordOutcome(ctx, i, pr, o); rerr != nil {
					return &recordError{err: rerr}
				}
			}
		}
	}
	return err
}

func (h *Harness) executePoll(ctx context.Context, i int, st *PollStep, result *Result) error {
	opts := h.opts.Poll
	if st.Attempts > 0 {
		opts.Attempts = st.Attempts
	}
	if st.Interval > 0 {
		opts.Interval = st.Interval
	}
	normalize := func(s string) string { return strings.TrimRight(s, "\n") }
	if st.ReplaceTabs {
		normalize = poll.ReplaceTabs
	}

	qo := cluster.QueryOptions{User: h.user}
	got, err := poll.Until(ctx, func(ctx context.Context) (string, error) {
		out, err := h.cluster.Query(ctx, st.Query, qo)
		return normalize(out), err
	}, poll.Equals(st.Expect), opts)

	payload := got
	if err != nil {
		payload = err.Error()
	}
	h.event(result, TraceEvent{Step: i, Kind: EventPoll, User: h.user, Query: st.Query, OK: err == nil, Payload: payload})
	return err
}

func (h *Harness) executeInsert(ctx context.Context, i int, st *InsertStep, result *Result) error {
	cfg := st.Config()
	cfg.Logger = h.logger

	var (
		stats workload.Stats
		err   error
	)
	if st.Iterations > 0 {
		stats, err = workload.Sequential(ctx, h.cluster, cfg, st.Iterations)
	} else {
		stats, err = workload.Parallel(ctx, h.cluster, cfg, st.Threads, st.Tasks)
	}

	settings := st.Settings
	if settings == nil {
		settings = workload.DefaultSettings()
	}
	payload := fmt.Sprintf("inserts=%d rows=%d", stats.Inserts, stats.Rows)
	if err != nil {
		payload = err.Error()
	}
	h.event(result, TraceEvent{Step: i, Kind: EventInsert, Query: st.Table, Settings: settings.String(), OK: err == nil, Payload: payload})
	return err
}

func (h *Harness) executeProfile(ctx context.Context, i int, st *ProfileStep, result *Result) error {
	p, err := constraints.LoadProfile(st.Path)
	if err != nil {
		return err
	}
	cases := constraints.Derive(p)
	h.logger.Debug("profile loaded", "path", st.Path, "cases", len(cases))
	for _, c := range cases {
		pr := c.Probe
		pr.User = h.identity(pr.User)
		if err := h.verify(ctx, i, c.Name, pr, result); err != nil {
			var rerr *recordError
			if errors.As(err, &rerr) {
				return err
			}
			return fmt.Errorf("case %s: %w", c.Name, err)
		}
	}
	return nil
}
