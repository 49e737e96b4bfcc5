package harness

import (
	"context"
	"fmt"
	"strings"

	"github.com/mrk-andreev/chprobe/internal/cluster"
	"github.com/mrk-andreev/chprobe/internal/poll"
)

// AssertionError is returned when an assertion fails.
type AssertionError struct {
	Type     string
	Expected string
	Actual   string
	Trace    []TraceEvent
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for _, event := range e.Trace {
			fmt.Fprintf(&buf, "  [%d] %s", event.Seq, event.Kind)
			if event.Channel != "" {
				fmt.Fprintf(&buf, "/%s", event.Channel)
			}
			fmt.Fprintf(&buf, " %q\n", event.Query)
		}
	}
	return buf.String()
}

func kindMatches(event TraceEvent, kind string) bool {
	return kind == "" || event.Kind == kind
}

// assertTraceContains checks that a request with the given text was sent.
func assertTraceContains(trace []TraceEvent, a Assertion) error {
	for _, event := range trace {
		if kindMatches(event, a.Kind) && event.Query == a.Query {
			return nil
		}
	}
	what := "query"
	if a.Kind != "" {
		what = a.Kind + " query"
	}
	return &AssertionError{
		Type:     AssertTraceContains,
		Expected: fmt.Sprintf("%s %q", what, a.Query),
		Actual:   "not found in trace",
		Trace:    trace,
	}
}

// assertTraceOrder checks that queries were first sent in the given order.
// Other events may come in between.
func assertTraceOrder(trace []TraceEvent, a Assertion) error {
	positions := make(map[string]int)
	for i, event := range trace {
		for _, q := range a.Queries {
			if event.Query == q && positions[q] == 0 {
				positions[q] = i + 1
			}
		}
	}

	for _, q := range a.Queries {
		if positions[q] == 0 {
			return &AssertionError{
				Type:     AssertTraceOrder,
				Expected: fmt.Sprintf("all queries present: %q", a.Queries),
				Actual:   fmt.Sprintf("missing query: %q", q),
				Trace:    trace,
			}
		}
	}

	for i := 1; i < len(a.Queries); i++ {
		prev, curr := a.Queries[i-1], a.Queries[i]
		if positions[prev] >= positions[curr] {
			return &AssertionError{
				Type:     AssertTraceOrder,
				Expected: fmt.Sprintf("queries in order: %q", a.Queries),
				Actual: fmt.Sprintf("%q (pos %d) should be before %q (pos %d)",
					prev, positions[prev], curr, positions[curr]),
				Trace: trace,
			}
		}
	}
	return nil
}

// assertTraceCount checks the number of events of a kind.
func assertTraceCount(trace []TraceEvent, a Assertion) error {
	count := 0
	for _, event := range trace {
		if kindMatches(event, a.Kind) {
			count++
		}
	}
	if count != a.Count {
		what := "events"
		if a.Kind != "" {
			what = a.Kind + " events"
		}
		return &AssertionError{
			Type:     AssertTraceCount,
			Expected: fmt.Sprintf("%d %s", a.Count, what),
			Actual:   fmt.Sprintf("%d %s", count, what),
			Trace:    trace,
		}
	}
	return nil
}

// assertFinalState runs a query and compares its result, with tabs
// rewritten to "|", to the expected text.
func assertFinalState(ctx context.Context, c cluster.Cluster, user string, a Assertion) error {
	out, err := c.Query(ctx, a.Query, cluster.QueryOptions{User: user})
	if err != nil {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("%q yields %q", a.Query, a.Expect),
			Actual:   fmt.Sprintf("query error: %v", err),
		}
	}
	if got := poll.ReplaceTabs(out); got != a.Expect {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("%q yields %q", a.Query, a.Expect),
			Actual:   fmt.Sprintf("%q", got),
		}
	}
	return nil
}

// AssertionContext provides what final_state assertions query.
type AssertionContext struct {
	Cluster cluster.Cluster
	User    string
	Ctx     context.Context
}

// EvaluateAssertions evaluates all assertions against the result and
// returns the failure messages.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) []string {
	var errors []string

	for i, assertion := range assertions {
		var err error

		switch assertion.Type {
		case AssertTraceContains:
			err = assertTraceContains(result.Trace, assertion)
		case AssertTraceOrder:
			err = assertTraceOrder(result.Trace, assertion)
		case AssertTraceCount:
			err = assertTraceCount(result.Trace, assertion)
		case AssertFinalState:
			if actx == nil || actx.Cluster == nil {
				err = fmt.Errorf("assertion[%d]: final_state requires a cluster", i)
			} else {
				err = assertFinalState(actx.Ctx, actx.Cluster, actx.User, assertion)
			}
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, assertion.Type)
		}

		if err != nil {
			errors = append(errors, err.Error())
		}
	}

	return errors
}
