package constraints

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/mrk-andreev/chprobe/internal/chclient"
	"github.com/mrk-andreev/chprobe/internal/ir"
)

// ErrUnknownSetting is returned when introspection finds no row.
var ErrUnknownSetting = errors.New("unknown setting")

// Querier runs a read-only query and returns TabSeparated text.
type Querier interface {
	Query(ctx context.Context, sql string, opts chclient.QueryOptions) (string, error)
}

// IntrospectQuery returns the query that reads one setting's constraint row.
func IntrospectQuery(table Table, name string) string {
	return fmt.Sprintf(
		"SELECT name, value, min, max, readonly, disallowed_values FROM %s WHERE name = %s",
		table.System(), ir.String(name).Literal())
}

// Introspect reads the constraint the server currently reports for name.
// The returned constraint's Default is the current value.
func Introspect(ctx context.Context, q Querier, table Table, name string) (Constraint, error) {
	if !ir.ValidName(name) {
		return Constraint{}, fmt.Errorf("invalid setting name %q", name)
	}
	out, err := q.Query(ctx, IntrospectQuery(table, name), chclient.QueryOptions{})
	if err != nil {
		return Constraint{}, fmt.Errorf("introspect %s: %w", name, err)
	}
	line, _, _ := strings.Cut(out, "\n")
	if line == "" {
		return Constraint{}, fmt.Errorf("%w: %s", ErrUnknownSetting, name)
	}
	c, err := ParseRow(line)
	if err != nil {
		return Constraint{}, err
	}
	c.Table = table
	return c, nil
}

// ParseRow parses one introspection row:
//
//	name  value  min  max  readonly  [disallowed_values]
//
// `\N` bounds are unbounded. readonly 1 marks the setting const.
func ParseRow(line string) (Constraint, error) {
	cols := strings.Split(strings.TrimRight(line, "\n"), "\t")
	if len(cols) != 5 && len(cols) != 6 {
		return Constraint{}, fmt.Errorf("introspection row: expected 5 or 6 columns, got %d", len(cols))
	}

	c := Constraint{
		Table:   TableSettings,
		Name:    cols[0],
		Default: ir.ParseLiteral(cols[1]),
	}

	var err error
	if c.Min, err = parseBound(cols[2]); err != nil {
		return c, fmt.Errorf("introspection row %s: min: %w", c.Name, err)
	}
	if c.Max, err = parseBound(cols[3]); err != nil {
		return c, fmt.Errorf("introspection row %s: max: %w", c.Name, err)
	}
	switch cols[4] {
	case "0":
	case "1":
		c.Const = true
	default:
		return c, fmt.Errorf("introspection row %s: readonly: unexpected %q", c.Name, cols[4])
	}
	if len(cols) == 6 {
		if c.Disallowed, err = ParseArray(cols[5]); err != nil {
			return c, fmt.Errorf("introspection row %s: disallowed_values: %w", c.Name, err)
		}
	}
	return c, nil
}

func parseBound(s string) (*int64, error) {
	if s == chclient.Null {
		return nil, nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return nil, err
	}
	return &n, nil
}

// ParseArray parses an array rendering such as ['6000000000','6000000001']
// or [1,2]. Quoted elements become ir.String, the rest go through
// ir.ParseLiteral.
func ParseArray(s string) ([]ir.Value, error) {
	s = strings.TrimSpace(s)
	if len(s) < 2 || s[0] != '[' || s[len(s)-1] != ']' {
		return nil, fmt.Errorf("not an array: %q", s)
	}
	body := s[1 : len(s)-1]
	if strings.TrimSpace(body) == "" {
		return nil, nil
	}

	var (
		out     []ir.Value
		start   int
		inQuote bool
	)
	for i := 0; i < len(body); i++ {
		switch body[i] {
		case '\\':
			if inQuote {
				i++
			}
		case '\'':
			inQuote = !inQuote
		case ',':
			if !inQuote {
				out = append(out, ir.ParseLiteral(body[start:i]))
				start = i + 1
			}
		}
	}
	if inQuote {
		return nil, fmt.Errorf("unterminated string in %q", s)
	}
	return append(out, ir.ParseLiteral(body[start:])), nil
}

// FormatArray renders values the way the disallowed_values column does: an
// array of quoted strings.
func FormatArray(values []ir.Value) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = ir.String(v.Param()).Literal()
	}
	return "[" + strings.Join(parts, ",") + "]"
}
