package cli

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mrk-andreev/chprobe/internal/testutil"
)

func TestSettings(t *testing.T) {
	out, err := execute(t, testutil.NewReferenceServer(), "settings", "max_memory_usage")
	require.NoError(t, err)
	assert.Equal(t, `name: max_memory_usage
table: settings
value: 10000000000
min: 5000000000
max: 20000000000
readonly: false
disallowed_values: ['6000000000','6000000001']
`, out)
}

func TestSettings_MergeTreeJSON(t *testing.T) {
	out, err := execute(t, testutil.NewReferenceServer(), "--format", "json", "settings", "max_parts_in_total", "--merge-tree")
	require.NoError(t, err)

	var resp struct {
		Data ConstraintView `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, ConstraintView{
		Name:       "max_parts_in_total",
		Table:      "merge_tree",
		Value:      "100000",
		Disallowed: "['5000']",
	}, resp.Data)
}

func TestSettings_Const(t *testing.T) {
	out, err := execute(t, testutil.NewReferenceServer(), "settings", "force_index_by_date")
	require.NoError(t, err)
	assert.Contains(t, out, "min: unbounded\n")
	assert.Contains(t, out, "readonly: true\n")
}

func TestSettings_Unknown(t *testing.T) {
	out, err := execute(t, testutil.NewReferenceServer(), "settings", "no_such_setting")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "Error [E_UNKNOWN_SETTING]")

	// A merge tree setting is not listed in system.settings.
	_, err = execute(t, testutil.NewReferenceServer(), "settings", "max_parts_in_total")
	assert.Equal(t, ExitFailure, GetExitCode(err))
}
