package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mrk-andreev/chprobe/internal/ir"
	"github.com/mrk-andreev/chprobe/internal/probe"
	"github.com/mrk-andreev/chprobe/internal/workload"
)

// Scenario is a sequence of steps run against one cluster.
type Scenario struct {
	// Name uniquely identifies this scenario. It names the golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// User is the identity of steps that do not name one. Empty means the
	// cluster's default user.
	User string `yaml:"user,omitempty"`

	Steps []Step `yaml:"steps"`

	// Assertions are evaluated after the last step.
	Assertions []Assertion `yaml:"assertions,omitempty"`
}

// Step holds exactly one action.
type Step struct {
	SQL         string       `yaml:"sql,omitempty"`
	SQLError    *SQLError    `yaml:"sql_error,omitempty"`
	Probe       *ProbeStep   `yaml:"probe,omitempty"`
	Poll        *PollStep    `yaml:"poll,omitempty"`
	CreateTopic string       `yaml:"create_topic,omitempty"`
	DeleteTopic string       `yaml:"delete_topic,omitempty"`
	Produce     *ProduceStep `yaml:"produce,omitempty"`
	Insert      *InsertStep  `yaml:"insert,omitempty"`
	Profile     *ProfileStep `yaml:"profile,omitempty"`
}

// SQLError runs a query that must fail with a message containing Contains.
type SQLError struct {
	Query    string `yaml:"query"`
	Contains string `yaml:"contains"`
}

// ProbeStep verifies one probe on every channel.
type ProbeStep struct {
	Query    string      `yaml:"query"`
	Settings ir.Settings `yaml:"settings,omitempty"`
	User     string      `yaml:"user,omitempty"`
	Expect   ExpectStep  `yaml:"expect"`
}

// ExpectStep is exactly one of a result text or an error substring.
type ExpectStep struct {
	Result *string `yaml:"result,omitempty"`
	Error  string  `yaml:"error,omitempty"`
}

// Expectation converts to the probe form.
func (e ExpectStep) Expectation() probe.Expectation {
	if e.Result != nil {
		return probe.Result(*e.Result)
	}
	if e.Error != "" {
		return probe.ErrorContaining(e.Error)
	}
	return probe.Expectation{}
}

// PollStep re-runs Query until it yields Expect.
type PollStep struct {
	Query  string `yaml:"query"`
	Expect string `yaml:"expect"`
	// ReplaceTabs compares the result with tabs rewritten to "|".
	ReplaceTabs bool          `yaml:"replace_tabs,omitempty"`
	Attempts    int           `yaml:"attempts,omitempty"`
	Interval    time.Duration `yaml:"interval,omitempty"`
}

// ProduceStep publishes messages to a topic.
type ProduceStep struct {
	Topic    string   `yaml:"topic"`
	Messages []string `yaml:"messages"`
}

// Bounds is an inclusive range.
type Bounds struct {
	Min int `yaml:"min"`
	Max int `yaml:"max"`
}

// InsertStep runs an insert workload. Iterations selects the sequential
// form; Threads and Tasks the pooled one.
type InsertStep struct {
	Table      string      `yaml:"table"`
	Settings   ir.Settings `yaml:"settings,omitempty"`
	Iterations int         `yaml:"iterations,omitempty"`
	Threads    int         `yaml:"threads,omitempty"`
	Tasks      int         `yaml:"tasks,omitempty"`
	MaxValues  int         `yaml:"max_values,omitempty"`
	ArraySize  *Bounds     `yaml:"array_size,omitempty"`
	Seed       uint64      `yaml:"seed,omitempty"`
}

// Config converts the step to a workload configuration.
func (s *InsertStep) Config() workload.Config {
	cfg := workload.Config{
		Table:     s.Table,
		Settings:  s.Settings,
		MaxValues: s.MaxValues,
		Seed:      s.Seed,
	}
	if s.ArraySize != nil {
		cfg.ArraySize = workload.Range{Min: s.ArraySize.Min, Max: s.ArraySize.Max}
	}
	return cfg
}

// ProfileStep verifies every case derived from a constraints profile.
type ProfileStep struct {
	Path string `yaml:"path"`
}

// Kind names the action of a step.
func (s *Step) Kind() string {
	switch {
	case s.SQL != "":
		return EventSQL
	case s.SQLError != nil:
		return EventSQLError
	case s.Probe != nil:
		return EventProbe
	case s.Poll != nil:
		return EventPoll
	case s.CreateTopic != "":
		return EventCreateTopic
	case s.DeleteTopic != "":
		return EventDeleteTopic
	case s.Produce != nil:
		return EventProduce
	case s.Insert != nil:
		return EventInsert
	case s.Profile != nil:
		return "profile"
	}
	return ""
}

func (s *Step) actions() int {
	n := 0
	for _, set := range []bool{
		s.SQL != "",
		s.SQLError != nil,
		s.Probe != nil,
		s.Poll != nil,
		s.CreateTopic != "",
		s.DeleteTopic != "",
		s.Produce != nil,
		s.Insert != nil,
		s.Profile != nil,
	} {
		if set {
			n++
		}
	}
	return n
}

// Assertion type constants.
const (
	AssertTraceContains = "trace_contains"
	AssertTraceOrder    = "trace_order"
	AssertTraceCount    = "trace_count"
	AssertFinalState    = "final_state"
)

// Assertion validates the trace or the cluster's final state.
type Assertion struct {
	Type string `yaml:"type"`

	// Kind is the event kind (trace_contains, trace_count). Empty matches
	// any kind.
	Kind string `yaml:"kind,omitempty"`

	// Query is the sent text (trace_contains) or the query to run
	// (final_state).
	Query string `yaml:"query,omitempty"`

	// Queries is the expected order of sent texts (trace_order).
	Queries []string `yaml:"queries,omitempty"`

	// Count is the expected number of events (trace_count).
	Count int `yaml:"count,omitempty"`

	// Expect is the expected result of Query, with tabs rewritten to "|"
	// (final_state).
	Expect string `yaml:"expect,omitempty"`
}

// LoadScenario reads and validates a scenario file. Profile paths are
// resolved relative to the file's directory.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	s, err := ParseScenario(data)
	if err != nil {
		return nil, err
	}

	base := filepath.Dir(path)
	for i := range s.Steps {
		if p := s.Steps[i].Profile; p != nil && p.Path != "" && !filepath.IsAbs(p.Path) {
			p.Path = filepath.Join(base, p.Path)
		}
	}

	if err := validateScenario(s); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	for i, step := range s.Steps {
		if step.Profile == nil {
			continue
		}
		if _, err := os.Stat(step.Profile.Path); err != nil {
			return nil, fmt.Errorf("invalid scenario: steps[%d]: profile file not found: %s", i, step.Profile.Path)
		}
	}
	return s, nil
}

// ParseScenario decodes a scenario without validating it.
func ParseScenario(data []byte) (*Scenario, error) {
	var s Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&s); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	return &s, nil
}

// LoadDir loads every *.yaml and *.yml file of dir, sorted by file name.
func LoadDir(dir string) ([]*Scenario, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenarios directory: %w", err)
	}
	var out []*Scenario
	for _, e := range entries {
		ext := filepath.Ext(e.Name())
		if e.IsDir() || (ext != ".yaml" && ext != ".yml") {
			continue
		}
		s, err := LoadScenario(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", e.Name(), err)
		}
		out = append(out, s)
	}
	return out, nil
}

// Validate checks required fields and that every step holds one action.
func (s *Scenario) Validate() error {
	return validateScenario(s)
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if !ir.ValidName(strings.ReplaceAll(s.Name, "-", "_")) {
		return fmt.Errorf("name %q must be an identifier", s.Name)
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}

	for i := range s.Steps {
		if err := validateStep(&s.Steps[i]); err != nil {
			return fmt.Errorf("steps[%d]: %w", i, err)
		}
	}

	for i, a := range s.Assertions {
		if err := validateAssertion(i, &a); err != nil {
			return err
		}
	}
	return nil
}

func validateStep(st *Step) error {
	switch n := st.actions(); {
	case n == 0:
		return fmt.Errorf("step has no action")
	case n > 1:
		return fmt.Errorf("step has %d actions, exactly one is allowed", n)
	}

	switch {
	case st.SQLError != nil:
		if st.SQLError.Query == "" {
			return fmt.Errorf("sql_error: query is required")
		}
		if st.SQLError.Contains == "" {
			return fmt.Errorf("sql_error: contains is required")
		}
	case st.Probe != nil:
		if st.Probe.Expect.Result != nil && st.Probe.Expect.Error != "" {
			return fmt.Errorf("probe: expect holds both result and error")
		}
		pr := probe.Probe{
			Query:    st.Probe.Query,
			Settings: st.Probe.Settings,
			User:     st.Probe.User,
			Expect:   st.Probe.Expect.Expectation(),
		}
		if err := pr.Validate(); err != nil {
			return err
		}
	case st.Poll != nil:
		if st.Poll.Query == "" {
			return fmt.Errorf("poll: query is required")
		}
		if st.Poll.Attempts < 0 || st.Poll.Interval < 0 {
			return fmt.Errorf("poll: attempts and interval must not be negative")
		}
	case st.Produce != nil:
		if st.Produce.Topic == "" {
			return fmt.Errorf("produce: topic is required")
		}
		if len(st.Produce.Messages) == 0 {
			return fmt.Errorf("produce: messages list is required and must be non-empty")
		}
	case st.Insert != nil:
		in := st.Insert
		if in.Table == "" {
			return fmt.Errorf("insert: table is required")
		}
		pooled := in.Threads > 0 || in.Tasks > 0
		if (in.Iterations > 0) == pooled {
			return fmt.Errorf("insert: exactly one of iterations or threads+tasks is required")
		}
		if pooled && (in.Threads <= 0 || in.Tasks <= 0) {
			return fmt.Errorf("insert: threads and tasks must both be positive")
		}
	case st.Profile != nil:
		if st.Profile.Path == "" {
			return fmt.Errorf("profile: path is required")
		}
	}
	return nil
}

func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertTraceContains:
		if a.Query == "" {
			return fmt.Errorf("assertions[%d]: query is required for trace_contains", index)
		}
	case AssertTraceOrder:
		if len(a.Queries) == 0 {
			return fmt.Errorf("assertions[%d]: queries list is required for trace_order", index)
		}
	case AssertTraceCount:
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for trace_count", index)
		}
	case AssertFinalState:
		if a.Query == "" {
			return fmt.Errorf("assertions[%d]: query is required for final_state", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
