package ir

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// validName matches setting names. Names are interpolated into SQL text,
// so anything else is rejected before a request is built.
var validName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ValidName reports whether name is usable as a setting name.
func ValidName(name string) bool {
	return validName.MatchString(name)
}

// Setting is a single name/value pair.
type Setting struct {
	Name  string
	Value Value
}

// String renders the pair as name=value using the literal form.
func (s Setting) String() string {
	return s.Name + "=" + s.Value.Literal()
}

// Settings is an ordered settings mapping.
// Iteration order is insertion order; it decides the order of SET
// statements and of SETTINGS clauses built from it.
type Settings []Setting

// NewSettings builds Settings from pairs, in argument order.
func NewSettings(pairs ...Setting) Settings {
	var s Settings
	for _, p := range pairs {
		s = s.With(p.Name, p.Value)
	}
	return s
}

// S is shorthand for Setting construction.
func S(name string, v Value) Setting {
	return Setting{Name: name, Value: v}
}

// With returns a copy of s with name set to v. An existing entry keeps its
// position; a new entry is appended.
func (s Settings) With(name string, v Value) Settings {
	out := make(Settings, len(s), len(s)+1)
	copy(out, s)
	for i := range out {
		if out[i].Name == name {
			out[i].Value = v
			return out
		}
	}
	return append(out, Setting{Name: name, Value: v})
}

// Get returns the value for name.
func (s Settings) Get(name string) (Value, bool) {
	for _, st := range s {
		if st.Name == name {
			return st.Value, true
		}
	}
	return nil, false
}

// Names returns setting names in order.
func (s Settings) Names() []string {
	names := make([]string, len(s))
	for i, st := range s {
		names[i] = st.Name
	}
	return names
}

// Params returns the settings as a name to bare-value map.
func (s Settings) Params() map[string]string {
	m := make(map[string]string, len(s))
	for _, st := range s {
		m[st.Name] = st.Value.Param()
	}
	return m
}

// Validate checks every name and that no name appears twice.
func (s Settings) Validate() error {
	seen := make(map[string]struct{}, len(s))
	for i, st := range s {
		if !ValidName(st.Name) {
			return fmt.Errorf("settings[%d]: invalid setting name %q", i, st.Name)
		}
		if st.Value == nil {
			return fmt.Errorf("settings[%d]: %s has no value", i, st.Name)
		}
		if _, dup := seen[st.Name]; dup {
			return fmt.Errorf("settings[%d]: duplicate setting %q", i, st.Name)
		}
		seen[st.Name] = struct{}{}
	}
	return nil
}

// String renders settings as "a=1, b='x'".
func (s Settings) String() string {
	parts := make([]string, len(s))
	for i, st := range s {
		parts[i] = st.String()
	}
	return strings.Join(parts, ", ")
}

// ParsePairs parses "name=value" strings, in order.
func ParsePairs(pairs []string) (Settings, error) {
	var s Settings
	for _, p := range pairs {
		name, raw, ok := strings.Cut(p, "=")
		if !ok {
			return nil, fmt.Errorf("invalid setting %q: expected name=value", p)
		}
		name = strings.TrimSpace(name)
		if !ValidName(name) {
			return nil, fmt.Errorf("invalid setting name %q", name)
		}
		s = s.With(name, ParseLiteral(raw))
	}
	return s, nil
}

// MarshalJSON encodes settings in order as [{"name":..,"value":..}], the
// canonical form. Nil settings encode as [].
func (s Settings) MarshalJSON() ([]byte, error) {
	return MarshalCanonical(s)
}

// UnmarshalJSON decodes the form written by MarshalJSON. Numbers must be
// integers and keep their 64-bit precision. An empty list decodes to nil.
func (s *Settings) UnmarshalJSON(data []byte) error {
	if string(bytes.TrimSpace(data)) == "null" {
		return nil
	}
	var items []struct {
		Name  string `json:"name"`
		Value any    `json:"value"`
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&items); err != nil {
		return err
	}
	if len(items) == 0 {
		*s = nil
		return nil
	}

	out := make(Settings, 0, len(items))
	for _, it := range items {
		v, err := jsonValue(it.Value)
		if err != nil {
			return fmt.Errorf("setting %s: %w", it.Name, err)
		}
		out = append(out, Setting{Name: it.Name, Value: v})
	}
	if err := out.Validate(); err != nil {
		return err
	}
	*s = out
	return nil
}

func jsonValue(v any) (Value, error) {
	if n, ok := v.(json.Number); ok {
		i, err := n.Int64()
		if err != nil {
			return nil, fmt.Errorf("non-integer number %s", n)
		}
		return Int(i), nil
	}
	return FromAny(v)
}

// UnmarshalYAML decodes a YAML mapping keeping document order.
// Scalars are typed by their YAML tag: !!int → Int, !!bool → Bool,
// everything else → String.
func (s *Settings) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: settings must be a mapping", node.Line)
	}
	out := make(Settings, 0, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		key, val := node.Content[i], node.Content[i+1]
		if val.Kind != yaml.ScalarNode {
			return fmt.Errorf("line %d: setting %q must be a scalar", val.Line, key.Value)
		}
		v, err := scalarValue(val)
		if err != nil {
			return fmt.Errorf("line %d: setting %q: %w", val.Line, key.Value, err)
		}
		if _, dup := out.Get(key.Value); dup {
			return fmt.Errorf("line %d: duplicate setting %q", key.Line, key.Value)
		}
		out = out.With(key.Value, v)
	}
	if err := out.Validate(); err != nil {
		return err
	}
	*s = out
	return nil
}

func scalarValue(n *yaml.Node) (Value, error) {
	switch n.ShortTag() {
	case "!!int":
		var i int64
		if err := n.Decode(&i); err != nil {
			return nil, err
		}
		return Int(i), nil
	case "!!bool":
		var b bool
		if err := n.Decode(&b); err != nil {
			return nil, err
		}
		return Bool(b), nil
	case "!!null":
		return nil, fmt.Errorf("null setting values are not allowed")
	default:
		return String(n.Value), nil
	}
}
