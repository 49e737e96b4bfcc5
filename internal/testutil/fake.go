package testutil

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/mrk-andreev/chprobe/internal/chclient"
	"github.com/mrk-andreev/chprobe/internal/cluster"
	"github.com/mrk-andreev/chprobe/internal/constraints"
	"github.com/mrk-andreev/chprobe/internal/ir"
	"github.com/mrk-andreev/chprobe/internal/probe"
)

// FakeServer is an in-memory database and broker for tests.
//
// It enforces the constraints and user locks of a profile with the server's
// error messages, answers system.settings and system.merge_tree_settings
// lookups, keeps row counts for tables, and stores produced messages per
// topic. Session settings (SET statements) live for one request only, the
// way a fresh connection behaves.
//
// Anything else it is asked returns a syntax error unless a handler was
// registered for the exact statement text with Handle or SetResults.
type FakeServer struct {
	mu          sync.Mutex
	profile     *constraints.Profile
	defaultUser string
	users       map[string]bool
	tables      map[string]*fakeTable
	topics      map[string][]string
	handlers    map[string]func() (string, error)
	hook        func(probe.Request) error
	requests    []probe.Request
	queries     []string
	started     bool
}

type fakeTable struct {
	engine   string
	settings ir.Settings
	rows     int
}

// NewFakeServer creates a server enforcing profile. The default user and
// every user named in the profile can authenticate.
func NewFakeServer(profile *constraints.Profile) *FakeServer {
	if profile == nil {
		profile = &constraints.Profile{}
	}
	f := &FakeServer{
		profile:     profile,
		defaultUser: "default",
		users:       map[string]bool{"default": true},
		tables:      make(map[string]*fakeTable),
		topics:      make(map[string][]string),
		handlers:    make(map[string]func() (string, error)),
	}
	for _, u := range profile.Users {
		f.users[u.Name] = true
	}
	return f
}

// AddUser lets name authenticate.
func (f *FakeServer) AddUser(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.users[name] = true
}

// Handle answers the statement text stmt with fn instead of interpreting it.
// fn runs with the server locked and must not call back into it.
func (f *FakeServer) Handle(stmt string, fn func() (string, error)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[strings.TrimSpace(stmt)] = fn
}

// SetResults answers stmt with results in turn. Once exhausted the last
// result keeps being returned.
func (f *FakeServer) SetResults(stmt string, results ...string) {
	i := 0
	f.Handle(stmt, func() (string, error) {
		if len(results) == 0 {
			return "", nil
		}
		r := results[min(i, len(results)-1)]
		i++
		return r, nil
	})
}

// InjectFailure runs fn before every Execute. A non-nil error is returned
// to the caller as is, before the request is interpreted.
func (f *FakeServer) InjectFailure(fn func(probe.Request) error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hook = fn
}

// Requests returns every request passed to Execute.
func (f *FakeServer) Requests() []probe.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]probe.Request(nil), f.requests...)
}

// Queries returns every text passed to Query and QueryExpectingError.
func (f *FakeServer) Queries() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.queries...)
}

// Rows returns the number of rows inserted into table.
func (f *FakeServer) Rows(table string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	if t, ok := f.tables[table]; ok {
		return t.rows
	}
	return 0
}

// HasTable reports whether table exists.
func (f *FakeServer) HasTable(table string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.tables[table]
	return ok
}

// Messages returns what was produced to topic.
func (f *FakeServer) Messages(topic string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.topics[topic]...)
}

// HasTopic reports whether topic exists.
func (f *FakeServer) HasTopic(topic string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.topics[topic]
	return ok
}

// Started reports whether Start was called without a later Stop.
func (f *FakeServer) Started() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.started
}

func (f *FakeServer) Start(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = true
	return ctx.Err()
}

func (f *FakeServer) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = false
	return nil
}

func (f *FakeServer) CreateTopic(_ context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.topics[name]; !ok {
		f.topics[name] = nil
	}
	return nil
}

func (f *FakeServer) DeleteTopic(_ context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.topics, name)
	return nil
}

func (f *FakeServer) Produce(_ context.Context, topic string, messages []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.topics[topic]; !ok {
		return fmt.Errorf("produce to %s: unknown topic", topic)
	}
	f.topics[topic] = append(f.topics[topic], messages...)
	return nil
}

// Execute interprets a probe request.
func (f *FakeServer) Execute(ctx context.Context, req probe.Request) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	f.mu.Lock()
	f.requests = append(f.requests, req)
	hook := f.hook
	f.mu.Unlock()

	if hook != nil {
		if err := hook(req); err != nil {
			return "", err
		}
	}
	return f.run(req.User, req.Settings, req.Statements)
}

func (f *FakeServer) Query(ctx context.Context, sql string, opts cluster.QueryOptions) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	f.mu.Lock()
	f.queries = append(f.queries, sql)
	f.mu.Unlock()

	stmts := chclient.SplitStatements(sql)
	if len(stmts) == 0 {
		return "", fmt.Errorf("empty query")
	}
	return f.run(opts.User, opts.Settings, stmts)
}

func (f *FakeServer) QueryExpectingError(ctx context.Context, sql string, opts cluster.QueryOptions) (string, error) {
	return cluster.ExpectError(f.Query(ctx, sql, opts))
}

type session struct {
	user   string
	values map[string]ir.Value
}

func (s *session) child() *session {
	c := &session{user: s.user, values: make(map[string]ir.Value, len(s.values))}
	for k, v := range s.values {
		c.values[k] = v
	}
	return c
}

func (f *FakeServer) run(user string, settings ir.Settings, stmts []string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if user == "" {
		user = f.defaultUser
	}
	if !f.users[user] {
		return "", serverError(516, "AUTHENTICATION_FAILED",
			user+": Authentication failed: password is incorrect, or there is no user with such name")
	}
	s := &session{user: user, values: make(map[string]ir.Value)}
	if err := f.apply(s, settings); err != nil {
		return "", err
	}

	var out string
	for _, stmt := range stmts {
		var err error
		if out, err = f.exec(s, stmt); err != nil {
			return "", err
		}
	}
	return out, nil
}

func serverError(code int32, name, msg string) *probe.ServerError {
	return &probe.ServerError{
		Code:    code,
		Message: fmt.Sprintf("Code: %d. DB::Exception: %s. (%s)", code, msg, name),
	}
}

func violationError(err error) *probe.ServerError {
	var v *constraints.Violation
	if errors.As(err, &v) {
		return serverError(v.Code, v.Exception(), v.Message)
	}
	return serverError(constraints.CodeConstraintViolation, "SETTING_CONSTRAINT_VIOLATION", err.Error())
}

func (f *FakeServer) apply(s *session, settings ir.Settings) error {
	for _, st := range settings {
		if err := f.set(s, st.Name, st.Value); err != nil {
			return err
		}
	}
	return nil
}

func (f *FakeServer) set(s *session, name string, v ir.Value) error {
	if f.profile.Locks(s.user, name) {
		return serverError(164, "READONLY", fmt.Sprintf("Cannot modify '%s' setting in readonly mode", name))
	}
	c, ok := f.profile.Lookup(name)
	if !ok {
		s.values[name] = v
		return nil
	}
	if c.Table == constraints.TableMergeTree {
		return serverError(115, "UNKNOWN_SETTING", fmt.Sprintf("Setting %s is a MergeTree setting", name))
	}
	if f.profile.Locks(s.user, c.Name) {
		return serverError(164, "READONLY", fmt.Sprintf("Cannot modify '%s' setting in readonly mode", c.Name))
	}
	if err := c.Check(v); err != nil {
		return violationError(err)
	}
	s.values[c.Name] = v
	return nil
}

var (
	setRe       = regexp.MustCompile(`(?is)^SET\s+(.+)$`)
	selectIntRe = regexp.MustCompile(`(?is)^SELECT\s+(-?\d+)$`)
	systemRe    = regexp.MustCompile(`(?is)^SELECT\s+(.+?)\s+FROM\s+system\.(settings|merge_tree_settings)\s+WHERE\s+name\s*=\s*'([^']*)'$`)
	countRe     = regexp.MustCompile(`(?is)^SELECT\s+count\(\)\s+FROM\s+([\w.]+)$`)
	inlineRe    = regexp.MustCompile(`(?is)^(SELECT\s.*?)\s+SETTINGS\s+(.+)$`)
	insertRe    = regexp.MustCompile(`(?is)^INSERT\s+INTO\s+([\w.]+)\s*(?:SETTINGS\s+(.+?)\s+)?VALUES\s*(.*)$`)
	createRe    = regexp.MustCompile(`(?is)^CREATE\s+TABLE\s+(IF\s+NOT\s+EXISTS\s+)?([\w.]+)`)
	engineRe    = regexp.MustCompile(`(?is)\bENGINE\s*=\s*(\w+)(.*)$`)
	tableSetRe  = regexp.MustCompile(`(?is)\bSETTINGS\s+(.+)$`)
	alterRe     = regexp.MustCompile(`(?is)^ALTER\s+TABLE\s+([\w.]+)\s+MODIFY\s+SETTING\s+(.+)$`)
	dropRe      = regexp.MustCompile(`(?is)^DROP\s+TABLE\s+(IF\s+EXISTS\s+)?([\w.]+)$`)
	truncateRe  = regexp.MustCompile(`(?is)^TRUNCATE\s+TABLE\s+(IF\s+EXISTS\s+)?([\w.]+)$`)
)

func (f *FakeServer) exec(s *session, stmt string) (string, error) {
	stmt = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(stmt), ";"))

	if h, ok := f.handlers[stmt]; ok {
		return h()
	}

	if m := setRe.FindStringSubmatch(stmt); m != nil {
		settings, err := parseAssignments(m[1])
		if err != nil {
			return "", err
		}
		return "", f.apply(s, settings)
	}
	if m := insertRe.FindStringSubmatch(stmt); m != nil {
		return f.insert(s, m[1], m[2], m[3])
	}
	if m := createRe.FindStringSubmatch(stmt); m != nil {
		return f.create(stmt, m[2], m[1] != "")
	}
	if m := alterRe.FindStringSubmatch(stmt); m != nil {
		return f.alter(m[1], m[2])
	}
	if m := dropRe.FindStringSubmatch(stmt); m != nil {
		if _, ok := f.tables[m[2]]; !ok && m[1] == "" {
			return "", unknownTable(m[2])
		}
		delete(f.tables, m[2])
		return "", nil
	}
	if m := truncateRe.FindStringSubmatch(stmt); m != nil {
		if t, ok := f.tables[m[2]]; ok {
			t.rows = 0
		} else if m[1] == "" {
			return "", unknownTable(m[2])
		}
		return "", nil
	}

	q := s
	if m := inlineRe.FindStringSubmatch(stmt); m != nil {
		settings, err := parseAssignments(m[2])
		if err != nil {
			return "", err
		}
		q = s.child()
		if err := f.apply(q, settings); err != nil {
			return "", err
		}
		stmt = m[1]
		if h, ok := f.handlers[stmt]; ok {
			return h()
		}
	}

	if m := selectIntRe.FindStringSubmatch(stmt); m != nil {
		return m[1] + "\n", nil
	}
	if m := systemRe.FindStringSubmatch(stmt); m != nil {
		table := constraints.TableSettings
		if strings.EqualFold(m[2], "merge_tree_settings") {
			table = constraints.TableMergeTree
		}
		return f.systemRow(q, m[1], table, m[3])
	}
	if m := countRe.FindStringSubmatch(stmt); m != nil {
		t, ok := f.tables[m[1]]
		if !ok {
			return "", unknownTable(m[1])
		}
		return fmt.Sprintf("%d\n", t.rows), nil
	}
	return "", serverError(62, "SYNTAX_ERROR", "Syntax error: failed at position 1: "+stmt)
}

func unknownTable(name string) error {
	return serverError(60, "UNKNOWN_TABLE", fmt.Sprintf("Table default.%s does not exist", name))
}

func (f *FakeServer) systemRow(s *session, columns string, table constraints.Table, name string) (string, error) {
	c, ok := f.profile.Lookup(name)
	if !ok || c.Name != name || c.Table != table {
		return "", nil
	}
	var cols []string
	for _, col := range strings.Split(columns, ",") {
		col = strings.ToLower(strings.TrimSpace(col))
		var v string
		switch col {
		case "name":
			v = c.Name
		case "value":
			if cur, ok := s.values[c.Name]; ok {
				v = cur.Param()
			} else if c.Default != nil {
				v = c.Default.Param()
			}
		case "default":
			if c.Default != nil {
				v = c.Default.Param()
			}
		case "changed":
			v = "0"
			if _, ok := s.values[c.Name]; ok {
				v = "1"
			}
		case "min":
			v = bound(c.Min)
		case "max":
			v = bound(c.Max)
		case "readonly":
			v = "0"
			if c.Const {
				v = "1"
			}
		case "disallowed_values":
			v = constraints.FormatArray(c.Disallowed)
		default:
			return "", serverError(47, "UNKNOWN_IDENTIFIER", fmt.Sprintf("Missing columns: '%s'", col))
		}
		if col != "disallowed_values" && col != "min" && col != "max" {
			v = chclient.EscapeTSV(v)
		}
		cols = append(cols, v)
	}
	return strings.Join(cols, "\t") + "\n", nil
}

func bound(b *int64) string {
	if b == nil {
		return chclient.Null
	}
	return fmt.Sprintf("%d", *b)
}

func (f *FakeServer) insert(s *session, table, settings, values string) (string, error) {
	t, ok := f.tables[table]
	if !ok {
		return "", unknownTable(table)
	}
	if settings != "" {
		parsed, err := parseAssignments(settings)
		if err != nil {
			return "", err
		}
		if err := f.apply(s.child(), parsed); err != nil {
			return "", err
		}
	}
	n := countTuples(values)
	if n == 0 {
		return "", serverError(108, "NO_DATA_TO_INSERT", "No data to insert")
	}
	t.rows += n
	return "", nil
}

func (f *FakeServer) create(stmt, table string, ifNotExists bool) (string, error) {
	if _, ok := f.tables[table]; ok {
		if ifNotExists {
			return "", nil
		}
		return "", serverError(57, "TABLE_ALREADY_EXISTS", fmt.Sprintf("Table default.%s already exists", table))
	}
	t := &fakeTable{engine: "Memory"}
	if m := engineRe.FindStringSubmatch(stmt); m != nil {
		t.engine = m[1]
		if sm := tableSetRe.FindStringSubmatch(m[2]); sm != nil {
			settings, err := parseAssignments(sm[1])
			if err != nil {
				return "", err
			}
			if err := f.checkTableSettings(t, settings); err != nil {
				return "", err
			}
			t.settings = settings
		}
	}
	f.tables[table] = t
	return "", nil
}

func (f *FakeServer) alter(table, assignments string) (string, error) {
	t, ok := f.tables[table]
	if !ok {
		return "", unknownTable(table)
	}
	settings, err := parseAssignments(assignments)
	if err != nil {
		return "", err
	}
	if err := f.checkTableSettings(t, settings); err != nil {
		return "", err
	}
	for _, st := range settings {
		t.settings = t.settings.With(st.Name, st.Value)
	}
	return "", nil
}

func (f *FakeServer) checkTableSettings(t *fakeTable, settings ir.Settings) error {
	if !strings.HasSuffix(t.engine, "MergeTree") {
		return nil
	}
	for _, st := range settings {
		c, ok := f.profile.Lookup(st.Name)
		if !ok || c.Table != constraints.TableMergeTree {
			continue
		}
		if err := c.Check(st.Value); err != nil {
			return violationError(err)
		}
	}
	return nil
}

// parseAssignments parses "a = 1, b = 'x'".
func parseAssignments(text string) (ir.Settings, error) {
	var out ir.Settings
	for _, part := range splitTopLevel(text) {
		name, raw, ok := strings.Cut(part, "=")
		name = strings.TrimSpace(name)
		if !ok || !ir.ValidName(name) {
			return nil, serverError(62, "SYNTAX_ERROR", "Syntax error: expected setting assignment: "+part)
		}
		out = out.With(name, ir.ParseLiteral(raw))
	}
	return out, nil
}

// splitTopLevel splits on commas outside quotes and parentheses.
func splitTopLevel(s string) []string {
	var (
		out     []string
		start   int
		depth   int
		inQuote bool
	)
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '\\':
			if inQuote {
				i++
			}
		case '\'':
			inQuote = !inQuote
		case '(', '[':
			if !inQuote {
				depth++
			}
		case ')', ']':
			if !inQuote {
				depth--
			}
		case ',':
			if !inQuote && depth == 0 {
				out = append(out, s[start:i])
				start = i + 1
			}
		}
	}
	if rest := strings.TrimSpace(s[start:]); rest != "" {
		out = append(out, s[start:])
	}
	return out
}

// countTuples counts top-level parenthesised groups.
func countTuples(s string) int {
	n, depth := 0, 0
	inQuote := false
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '\\':
			if inQuote {
				i++
			}
		case '\'':
			inQuote = !inQuote
		case '(':
			if !inQuote {
				if depth == 0 {
					n++
				}
				depth++
			}
		case ')':
			if !inQuote {
				depth--
			}
		}
	}
	return n
}

var _ cluster.Cluster = (*FakeServer)(nil)
