package probe

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

// Require verifies pr and fails the test immediately if any channel
// disagrees or cannot be reached.
func Require(t testing.TB, p *Prober, pr Probe) *Report {
	t.Helper()
	report, err := p.Verify(context.Background(), pr)
	require.NoError(t, err, "probe %q with settings [%s]", pr.Query, pr.Settings)
	return report
}
