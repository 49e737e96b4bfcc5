package harness

import "github.com/mrk-andreev/chprobe/internal/probe"

// Event kinds.
const (
	EventSQL         = "sql"
	EventSQLError    = "sql_error"
	EventProbe       = "probe"
	EventPoll        = "poll"
	EventCreateTopic = "create_topic"
	EventDeleteTopic = "delete_topic"
	EventProduce     = "produce"
	EventInsert      = "insert"
)

// TraceEvent is one request made while running a scenario.
type TraceEvent struct {
	Seq  int64  `json:"seq"`
	Step int    `json:"step"`
	Kind string `json:"kind"`
	// Case names the derived case for events of a profile step.
	Case    string `json:"case,omitempty"`
	Channel string `json:"channel,omitempty"`
	User    string `json:"user,omitempty"`
	// Query is the text that was sent. For topic steps it is the topic,
	// for inserts the table.
	Query    string `json:"query,omitempty"`
	Settings string `json:"settings,omitempty"`
	OK       bool   `json:"ok"`
	Payload  string `json:"payload,omitempty"`
}

// Result is the outcome of a scenario run.
type Result struct {
	// Pass is true when every step and assertion passed.
	Pass bool `json:"pass"`

	Trace []TraceEvent `json:"trace"`

	// Errors holds the failing step, if any, and failed assertions.
	Errors []string `json:"errors,omitempty"`

	// Reports are the probe reports of probe and profile steps, in order.
	Reports []*probe.Report `json:"-"`
}

// NewResult creates a passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// AddEvent appends to the trace.
func (r *Result) AddEvent(e TraceEvent) {
	r.Trace = append(r.Trace, e)
}
