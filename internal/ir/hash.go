package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for content-addressed identity.
const (
	DomainProbe   = "chprobe/probe/v1"
	DomainOutcome = "chprobe/outcome/v1"
)

// hashWithDomain computes SHA256(domain + 0x00 + data).
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// ProbeID computes a stable identity for a logical probe: the same query,
// settings (in order), identity and expectation always hash to the same ID.
// It is used to line up outcomes of one probe across runs.
func ProbeID(query string, settings Settings, user, expectKind, expectText string) (string, error) {
	obj := map[string]any{
		"query":       query,
		"settings":    settings,
		"user":        user,
		"expect_kind": expectKind,
		"expect":      expectText,
	}
	canonical, err := MarshalCanonical(obj)
	if err != nil {
		return "", fmt.Errorf("ProbeID: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainProbe, canonical), nil
}

// OutcomeID computes the identity of one channel outcome inside a run. A
// step may verify several probes, so the probe is part of the identity.
func OutcomeID(runID string, step int, probeID, channel string) (string, error) {
	obj := map[string]any{
		"run_id":   runID,
		"step":     step,
		"probe_id": probeID,
		"channel":  channel,
	}
	canonical, err := MarshalCanonical(obj)
	if err != nil {
		return "", fmt.Errorf("OutcomeID: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainOutcome, canonical), nil
}
