package cli

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mrk-andreev/chprobe/internal/cluster"
	"github.com/mrk-andreev/chprobe/internal/testutil"
)

// brokerless behaves like a cluster without kafka.brokers.
type brokerless struct {
	*testutil.FakeServer
}

func (brokerless) CreateTopic(context.Context, string) error { return cluster.ErrNoBroker }

func TestTopicLifecycle(t *testing.T) {
	server := testutil.NewReferenceServer()

	out, err := execute(t, server, "topic", "create", "bad_messages")
	require.NoError(t, err)
	assert.Equal(t, "created topic bad_messages\n", out)
	assert.True(t, server.HasTopic("bad_messages"))

	out, err = execute(t, server, "produce", "bad_messages", `{"a": 1}`, "not json")
	require.NoError(t, err)
	assert.Equal(t, "produced 2 messages to bad_messages\n", out)
	assert.Equal(t, []string{`{"a": 1}`, "not json"}, server.Messages("bad_messages"))

	_, err = execute(t, server, "topic", "delete", "bad_messages")
	require.NoError(t, err)
	assert.False(t, server.HasTopic("bad_messages"))
}

func TestProduce_UnknownTopic(t *testing.T) {
	_, err := execute(t, testutil.NewReferenceServer(), "produce", "nope", "x")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "unknown topic")
}

func TestTopic_NoBroker(t *testing.T) {
	_, err := execute(t, brokerless{testutil.NewReferenceServer()}, "topic", "create", "t")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.ErrorIs(t, err, cluster.ErrNoBroker)
	assert.Contains(t, err.Error(), "kafka.brokers is not configured")
}

func TestProduce_Args(t *testing.T) {
	_, err := execute(t, testutil.NewReferenceServer(), "produce", "only-topic")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "requires at least 2 arg(s)")
}
