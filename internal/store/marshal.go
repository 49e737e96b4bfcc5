package store

import (
	"encoding/json"
	"fmt"

	"github.com/mrk-andreev/chprobe/internal/ir"
)

// marshalSettings converts settings to canonical JSON TEXT for storage.
// Order is kept: [{"name":..,"value":..}, ...].
func marshalSettings(s ir.Settings) (string, error) {
	data, err := ir.MarshalCanonical(s)
	if err != nil {
		return "", fmt.Errorf("marshal settings: %w", err)
	}
	return string(data), nil
}

// unmarshalSettings parses the stored form back with ir.Settings'
// JSON decoding, the same one CLI output uses.
func unmarshalSettings(data string) (ir.Settings, error) {
	if data == "" {
		return nil, nil
	}
	var out ir.Settings
	if err := json.Unmarshal([]byte(data), &out); err != nil {
		return nil, fmt.Errorf("unmarshal settings: %w", err)
	}
	return out, nil
}
