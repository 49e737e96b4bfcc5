package constraints

import (
	_ "embed"
	"fmt"
	"os"
	"strconv"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"

	"github.com/mrk-andreev/chprobe/internal/ir"
)

//go:embed schema.cue
var schemaSource string

const schemaFile = "schema.cue"

// Table is the system table a setting is listed in.
type Table string

const (
	TableSettings  Table = "settings"
	TableMergeTree Table = "merge_tree"
)

// System returns the fully qualified system table name.
func (t Table) System() string {
	if t == TableMergeTree {
		return "system.merge_tree_settings"
	}
	return "system.settings"
}

// Constraint is what the server enforces for one setting.
type Constraint struct {
	Table   Table
	Name    string
	Aliases []string
	// Default is nil when the profile does not state it.
	Default ir.Value
	// Min and Max are nil when unbounded.
	Min, Max   *int64
	Disallowed []ir.Value
	// Const settings may not be changed from their default.
	Const bool
}

// Violation is a rejected setting change. Its message is the text the server
// uses for the same rejection.
type Violation struct {
	Name    string
	Code    int32
	Message string
}

// Server error codes of constraint violations.
const (
	CodeCannotParseText     int32 = 6
	CodeConstraintViolation int32 = 452
)

func (v *Violation) Error() string { return v.Message }

// Exception returns the server's name for the violation code.
func (v *Violation) Exception() string {
	if v.Code == CodeCannotParseText {
		return "CANNOT_PARSE_TEXT"
	}
	return "SETTING_CONSTRAINT_VIOLATION"
}

func violation(name, format string, args ...any) *Violation {
	return &Violation{Name: name, Code: CodeConstraintViolation, Message: fmt.Sprintf(format, args...)}
}

// Check reports whether setting the constrained setting to v is allowed.
func (c Constraint) Check(v ir.Value) error {
	if c.Const {
		if c.Default == nil || v.Param() != c.Default.Param() {
			return violation(c.Name, "Setting %s should not be changed", c.Name)
		}
		return nil
	}
	if c.Min != nil || c.Max != nil {
		n, err := strconv.ParseInt(v.Param(), 10, 64)
		if err != nil {
			return &Violation{
				Name:    c.Name,
				Code:    CodeCannotParseText,
				Message: fmt.Sprintf("Cannot parse string '%s' as UInt64: syntax error at begin of string", v.Param()),
			}
		}
		if c.Min != nil && n < *c.Min {
			return violation(c.Name, "Setting %s shouldn't be less than %d", c.Name, *c.Min)
		}
		if c.Max != nil && n > *c.Max {
			return violation(c.Name, "Setting %s shouldn't be greater than %d", c.Name, *c.Max)
		}
	}
	for _, d := range c.Disallowed {
		if d.Param() == v.Param() {
			return violation(c.Name, "Setting %s shouldn't be %s", c.Name, d.Param())
		}
	}
	return nil
}

// IsDisallowed reports whether v is one of the disallowed values.
func (c Constraint) IsDisallowed(v ir.Value) bool {
	for _, d := range c.Disallowed {
		if d.Param() == v.Param() {
			return true
		}
	}
	return false
}

// UserPolicy lists the settings a user may not modify at all.
type UserPolicy struct {
	Name   string
	Locked []string
}

// Profile is a set of constraints and user policies, in declaration order.
type Profile struct {
	Settings []Constraint
	Users    []UserPolicy
}

// Lookup finds a constraint by name or alias.
func (p *Profile) Lookup(name string) (Constraint, bool) {
	for _, c := range p.Settings {
		if c.Name == name {
			return c, true
		}
		for _, a := range c.Aliases {
			if a == name {
				return c, true
			}
		}
	}
	return Constraint{}, false
}

// User finds a user policy.
func (p *Profile) User(name string) (UserPolicy, bool) {
	for _, u := range p.Users {
		if u.Name == name {
			return u, true
		}
	}
	return UserPolicy{}, false
}

// Locks reports whether user may not modify setting.
func (p *Profile) Locks(user, setting string) bool {
	u, ok := p.User(user)
	if !ok {
		return false
	}
	for _, l := range u.Locked {
		if l == setting {
			return true
		}
	}
	return false
}

// LoadProfile compiles a profile from a .cue file.
func LoadProfile(path string) (*Profile, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read profile: %w", err)
	}
	ctx := cuecontext.New()
	v := ctx.CompileBytes(src, cue.Filename(path))
	return CompileProfile(v)
}

// CompileProfile parses a CUE value into a Profile.
//
// The value is unified with the profile schema first, so unknown fields,
// float values and wrongly typed bounds are reported with their position.
func CompileProfile(v cue.Value) (*Profile, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err, v)
	}
	src := v

	schema := v.Context().CompileString(schemaSource, cue.Filename(schemaFile))
	if err := schema.Err(); err != nil {
		return nil, fmt.Errorf("profile schema: %w", err)
	}
	v = schema.LookupPath(cue.ParsePath("#Profile")).Unify(v)
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return nil, formatCUEError(err, src)
	}

	p := &Profile{}

	if sv := v.LookupPath(cue.ParsePath("settings")); sv.Exists() {
		iter, err := sv.Fields()
		if err != nil {
			return nil, formatCUEError(err, sv)
		}
		for iter.Next() {
			c, err := compileConstraint(iter.Label(), iter.Value())
			if err != nil {
				return nil, err
			}
			p.Settings = append(p.Settings, c)
		}
	}

	if uv := v.LookupPath(cue.ParsePath("users")); uv.Exists() {
		iter, err := uv.Fields()
		if err != nil {
			return nil, formatCUEError(err, uv)
		}
		for iter.Next() {
			u := UserPolicy{Name: iter.Label()}
			u.Locked, err = stringList(iter.Value().LookupPath(cue.ParsePath("locked")))
			if err != nil {
				return nil, err
			}
			for _, l := range u.Locked {
				if !ir.ValidName(l) {
					return nil, &CompileError{
						Field:   "users." + u.Name + ".locked",
						Message: fmt.Sprintf("invalid setting name %q", l),
						Pos:     iter.Value().Pos(),
					}
				}
			}
			p.Users = append(p.Users, u)
		}
	}

	return p, nil
}

func compileConstraint(name string, v cue.Value) (Constraint, error) {
	field := "settings." + name
	if !ir.ValidName(name) {
		return Constraint{}, &CompileError{Field: field, Message: "invalid setting name", Pos: v.Pos()}
	}
	c := Constraint{Name: name, Table: TableSettings}

	if tv := v.LookupPath(cue.ParsePath("table")); tv.Exists() {
		t, err := tv.String()
		if err != nil {
			return c, formatCUEError(err, tv)
		}
		c.Table = Table(t)
	}

	if dv := v.LookupPath(cue.ParsePath("default")); dv.Exists() {
		d, err := cueValue(dv)
		if err != nil {
			return c, err
		}
		c.Default = d
	}

	var err error
	if c.Min, err = optionalInt(v, "min"); err != nil {
		return c, err
	}
	if c.Max, err = optionalInt(v, "max"); err != nil {
		return c, err
	}
	if c.Min != nil && c.Max != nil && *c.Min > *c.Max {
		return c, &CompileError{
			Field:   field,
			Message: fmt.Sprintf("min %d is greater than max %d", *c.Min, *c.Max),
			Pos:     v.Pos(),
		}
	}

	if lv := v.LookupPath(cue.ParsePath("disallowed")); lv.Exists() {
		iter, err := lv.List()
		if err != nil {
			return c, formatCUEError(err, lv)
		}
		for iter.Next() {
			d, err := cueValue(iter.Value())
			if err != nil {
				return c, err
			}
			c.Disallowed = append(c.Disallowed, d)
		}
	}

	if cv := v.LookupPath(cue.ParsePath("const")); cv.Exists() {
		if c.Const, err = cv.Bool(); err != nil {
			return c, formatCUEError(err, cv)
		}
	}
	if c.Const && c.Default == nil {
		return c, &CompileError{Field: field, Message: "const setting needs a default", Pos: v.Pos()}
	}
	if c.Aliases, err = stringList(v.LookupPath(cue.ParsePath("aliases"))); err != nil {
		return c, err
	}
	if c.Table == TableMergeTree && len(c.Aliases) > 0 {
		return c, &CompileError{Field: field, Message: "merge_tree settings have no aliases", Pos: v.Pos()}
	}
	return c, nil
}

// cueValue converts a concrete int, string or bool.
func cueValue(v cue.Value) (ir.Value, error) {
	switch v.Kind() {
	case cue.IntKind:
		n, err := v.Int64()
		if err != nil {
			return nil, formatCUEError(err, v)
		}
		return ir.Int(n), nil
	case cue.StringKind:
		s, err := v.String()
		if err != nil {
			return nil, formatCUEError(err, v)
		}
		return ir.String(s), nil
	case cue.BoolKind:
		b, err := v.Bool()
		if err != nil {
			return nil, formatCUEError(err, v)
		}
		return ir.Bool(b), nil
	default:
		return nil, &CompileError{Field: "value", Message: fmt.Sprintf("unsupported value kind %s", v.Kind()), Pos: v.Pos()}
	}
}

func optionalInt(v cue.Value, field string) (*int64, error) {
	fv := v.LookupPath(cue.ParsePath(field))
	if !fv.Exists() {
		return nil, nil
	}
	n, err := fv.Int64()
	if err != nil {
		return nil, formatCUEError(err, fv)
	}
	return &n, nil
}

func stringList(v cue.Value) ([]string, error) {
	if !v.Exists() {
		return nil, nil
	}
	iter, err := v.List()
	if err != nil {
		return nil, formatCUEError(err, v)
	}
	var out []string
	for iter.Next() {
		s, err := iter.Value().String()
		if err != nil {
			return nil, formatCUEError(err, iter.Value())
		}
		out = append(out, s)
	}
	return out, nil
}

// CompileError is a profile error with its CUE source position.
type CompileError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *CompileError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// formatCUEError turns a CUE error into a *CompileError positioned in the
// profile source. The field named by the error path is looked up in v
// first; then the error's own positions are used, skipping the embedded
// schema; v's position is the last resort.
func formatCUEError(err error, v cue.Value) error {
	if err == nil {
		return nil
	}
	errs := errors.Errors(err)
	if len(errs) == 0 {
		return &CompileError{Field: "cue", Message: err.Error(), Pos: v.Pos()}
	}
	first := errs[0]
	ce := &CompileError{Field: errorField(first), Message: first.Error(), Pos: v.Pos()}

	path := profilePath(errors.Path(first))
	if pos, ok := lookupPos(v, path); ok {
		ce.Pos = pos
		return ce
	}
	for _, e := range errs {
		for _, pos := range errors.Positions(e) {
			if pos.IsValid() && pos.Filename() != schemaFile {
				ce.Pos = pos
				return ce
			}
		}
	}
	for n := len(path) - 1; n > 0; n-- {
		if pos, ok := lookupPos(v, path[:n]); ok {
			ce.Pos = pos
			break
		}
	}
	return ce
}

func lookupPos(v cue.Value, path []string) (token.Pos, bool) {
	if len(path) == 0 {
		return token.NoPos, false
	}
	sels := make([]cue.Selector, len(path))
	for i, label := range path {
		sels[i] = cue.Str(label)
	}
	fv := v.LookupPath(cue.MakePath(sels...))
	if !fv.Exists() || !fv.Pos().IsValid() {
		return token.NoPos, false
	}
	return fv.Pos(), true
}

// profilePath drops the schema definition prefix of an error path.
func profilePath(path []string) []string {
	for len(path) > 0 && strings.HasPrefix(path[0], "#") {
		path = path[1:]
	}
	return path
}

func errorField(e errors.Error) string {
	if path := profilePath(errors.Path(e)); len(path) > 0 {
		return strings.Join(path, ".")
	}
	return "cue"
}
