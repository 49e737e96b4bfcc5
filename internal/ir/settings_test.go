package ir

import (
	"encoding/json"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestSettingsWithPreservesOrder(t *testing.T) {
	s := NewSettings(
		S("max_memory_usage", Int(1)),
		S("readonly", Int(0)),
	)
	s = s.With("max_memory_usage", Int(2))
	s = s.With("allow_ddl", Bool(true))

	assert.Equal(t, []string{"max_memory_usage", "readonly", "allow_ddl"}, s.Names())
	v, ok := s.Get("max_memory_usage")
	require.True(t, ok)
	assert.Equal(t, Int(2), v)
	assert.Equal(t, "max_memory_usage=2, readonly=0, allow_ddl=1", s.String())
}

func TestSettingsWithDoesNotAlias(t *testing.T) {
	base := NewSettings(S("a", Int(1)))
	derived := base.With("a", Int(2))

	v, _ := base.Get("a")
	assert.Equal(t, Int(1), v)
	v, _ = derived.Get("a")
	assert.Equal(t, Int(2), v)
}

func TestSettingsValidate(t *testing.T) {
	assert.NoError(t, Settings{}.Validate())
	assert.NoError(t, NewSettings(S("max_threads", Int(4))).Validate())

	err := Settings{{Name: "x; DROP TABLE t", Value: Int(1)}}.Validate()
	assert.ErrorContains(t, err, "invalid setting name")

	err = Settings{{Name: "a", Value: Int(1)}, {Name: "a", Value: Int(2)}}.Validate()
	assert.ErrorContains(t, err, "duplicate")

	err = Settings{{Name: "a"}}.Validate()
	assert.ErrorContains(t, err, "no value")
}

func TestParsePairs(t *testing.T) {
	s, err := ParsePairs([]string{"max_memory_usage=6000000002", "kafka_handle_error_mode='stream'"})
	require.NoError(t, err)

	want := Settings{
		{Name: "max_memory_usage", Value: Int(6000000002)},
		{Name: "kafka_handle_error_mode", Value: String("stream")},
	}
	if diff := cmp.Diff(want, s); diff != "" {
		t.Errorf("ParsePairs mismatch (-want +got):\n%s", diff)
	}

	_, err = ParsePairs([]string{"novalue"})
	assert.ErrorContains(t, err, "expected name=value")

	_, err = ParsePairs([]string{"bad name=1"})
	assert.ErrorContains(t, err, "invalid setting name")
}

func TestSettingsUnmarshalYAMLKeepsDocumentOrder(t *testing.T) {
	var doc struct {
		Settings Settings `yaml:"settings"`
	}
	err := yaml.Unmarshal([]byte(`
settings:
  zeta: 1
  alpha: stream
  mid: true
`), &doc)
	require.NoError(t, err)

	want := Settings{
		{Name: "zeta", Value: Int(1)},
		{Name: "alpha", Value: String("stream")},
		{Name: "mid", Value: Bool(true)},
	}
	if diff := cmp.Diff(want, doc.Settings); diff != "" {
		t.Errorf("settings mismatch (-want +got):\n%s", diff)
	}
}

func TestSettingsUnmarshalYAMLRejectsNonScalars(t *testing.T) {
	var doc struct {
		Settings Settings `yaml:"settings"`
	}
	err := yaml.Unmarshal([]byte("settings:\n  a: [1, 2]\n"), &doc)
	assert.ErrorContains(t, err, "must be a scalar")

	err = yaml.Unmarshal([]byte("settings: [a]\n"), &doc)
	assert.ErrorContains(t, err, "must be a mapping")

	err = yaml.Unmarshal([]byte("settings:\n  a: ~\n"), &doc)
	assert.ErrorContains(t, err, "null")
}

func TestSettingsParams(t *testing.T) {
	s := NewSettings(S("a", Int(1)), S("b", Bool(false)), S("c", String("x")))
	assert.Equal(t, map[string]string{"a": "1", "b": "0", "c": "x"}, s.Params())
}

func TestSettingsJSON(t *testing.T) {
	in := NewSettings(
		S("max_memory_usage", Int(9223372036854775807)),
		S("async_insert", Bool(true)),
		S("load_balancing", String("random")),
	)
	doc := struct {
		Settings Settings `json:"settings"`
	}{Settings: in}

	data, err := json.Marshal(doc)
	require.NoError(t, err)
	assert.Equal(t,
		`{"settings":[{"name":"max_memory_usage","value":9223372036854775807},{"name":"async_insert","value":true},{"name":"load_balancing","value":"random"}]}`,
		string(data))

	doc.Settings = nil
	require.NoError(t, json.Unmarshal(data, &doc))
	if diff := cmp.Diff(in, doc.Settings); diff != "" {
		t.Errorf("settings mismatch (-want +got):\n%s", diff)
	}
}

func TestSettingsJSONEmptyAndInvalid(t *testing.T) {
	data, err := json.Marshal(Settings(nil))
	require.NoError(t, err)
	assert.Equal(t, "[]", string(data))

	s := NewSettings(S("a", Int(1)))
	require.NoError(t, json.Unmarshal([]byte("[]"), &s))
	assert.Nil(t, s)

	tests := []struct {
		name string
		data string
		want string
	}{
		{"fraction", `[{"name":"x","value":1.5}]`, "non-integer number 1.5"},
		{"null value", `[{"name":"x","value":null}]`, "null"},
		{"bad name", `[{"name":"x y","value":1}]`, "invalid setting name"},
		{"duplicate", `[{"name":"x","value":1},{"name":"x","value":2}]`, "duplicate setting"},
		{"not a list", `{"x":1}`, "cannot unmarshal"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got Settings
			err := json.Unmarshal([]byte(tt.data), &got)
			assert.ErrorContains(t, err, tt.want)
		})
	}
}
