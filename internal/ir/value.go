package ir

import (
	"fmt"
	"strconv"
	"strings"
)

// Value is a sealed interface representing a setting value.
// Only String, Int and Bool implement it.
// There is no float kind: fractional settings are passed as strings and the
// server converts them.
type Value interface {
	// Literal renders the value as a SQL literal, as used in SET statements
	// and SETTINGS clauses.
	Literal() string

	// Param renders the bare value, as sent in a settings packet or as an
	// HTTP request parameter.
	Param() string

	value() // Sealed
}

// String is a string setting value.
type String string

func (String) value() {}

// Literal quotes the string with single quotes, escaping backslashes and quotes.
func (s String) Literal() string {
	var b strings.Builder
	b.Grow(len(s) + 2)
	b.WriteByte('\'')
	for _, r := range string(s) {
		switch r {
		case '\\':
			b.WriteString(`\\`)
		case '\'':
			b.WriteString(`\'`)
		default:
			b.WriteRune(r)
		}
	}
	b.WriteByte('\'')
	return b.String()
}

// Param returns the raw string.
func (s String) Param() string { return string(s) }

// Int is an integer setting value.
type Int int64

func (Int) value() {}

func (i Int) Literal() string { return strconv.FormatInt(int64(i), 10) }
func (i Int) Param() string   { return strconv.FormatInt(int64(i), 10) }

// Bool is a boolean setting value. It renders as 1 or 0.
type Bool bool

func (Bool) value() {}

func (b Bool) Literal() string { return b.Param() }

func (b Bool) Param() string {
	if b {
		return "1"
	}
	return "0"
}

// ParseLiteral parses a value written on a command line or in a
// `name=value` pair. Integers become Int, true/false become Bool, quoted
// text becomes String with the quotes removed, anything else is a String.
func ParseLiteral(s string) Value {
	s = strings.TrimSpace(s)
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return Int(n)
	}
	switch strings.ToLower(s) {
	case "true":
		return Bool(true)
	case "false":
		return Bool(false)
	}
	if len(s) >= 2 && s[0] == '\'' && s[len(s)-1] == '\'' {
		return String(unescapeLiteral(s[1 : len(s)-1]))
	}
	return String(s)
}

// unescapeLiteral undoes the escaping applied by String.Literal.
func unescapeLiteral(s string) string {
	if !strings.ContainsRune(s, '\\') {
		return s
	}
	var b strings.Builder
	escaped := false
	for _, r := range s {
		if escaped {
			b.WriteRune(r)
			escaped = false
			continue
		}
		if r == '\\' {
			escaped = true
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// FromAny converts a decoded YAML or JSON value to a Value.
// Integral floats are accepted (JSON numbers decode as float64); fractional
// floats, nulls and composite values are rejected.
func FromAny(v any) (Value, error) {
	switch val := v.(type) {
	case nil:
		return nil, fmt.Errorf("null setting values are not allowed")
	case Value:
		return val, nil
	case string:
		return String(val), nil
	case int:
		return Int(int64(val)), nil
	case int64:
		return Int(val), nil
	case uint64:
		if val > 1<<63-1 {
			return nil, fmt.Errorf("integer %d overflows int64", val)
		}
		return Int(int64(val)), nil
	case bool:
		return Bool(val), nil
	case float64:
		if val == float64(int64(val)) {
			return Int(int64(val)), nil
		}
		return nil, fmt.Errorf("fractional value %v: pass it as a string", val)
	default:
		return nil, fmt.Errorf("unsupported setting value type %T", v)
	}
}

