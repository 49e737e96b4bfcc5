package probe

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mrk-andreev/chprobe/internal/ir"
)

func TestProbeValidate(t *testing.T) {
	tests := []struct {
		name string
		p    Probe
		want string
	}{
		{"ok result", Probe{Query: "SELECT 1", Expect: Result("1")}, ""},
		{"ok empty result", Probe{Query: "SELECT ''", Expect: Result("")}, ""},
		{"ok error", Probe{Query: "SELECT 1", Expect: ErrorContaining("x")}, ""},
		{"no expectation", Probe{Query: "SELECT 1"}, "exactly one"},
		{"empty substring", Probe{Query: "SELECT 1", Expect: ErrorContaining("")}, "substring is empty"},
		{"empty query", Probe{Query: "  ", Expect: Result("1")}, "query is empty"},
		{"bad setting", Probe{
			Query:    "SELECT 1",
			Settings: ir.Settings{{Name: "bad name", Value: ir.Int(1)}},
			Expect:   Result("1"),
		}, "invalid setting name"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.p.Validate()
			if tt.want == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

// scripted answers every request with the result or error for its channel.
func scripted(results map[Channel]string, errs map[Channel]error) (Executor, *[]Request) {
	var seen []Request
	return ExecutorFunc(func(_ context.Context, req Request) (string, error) {
		seen = append(seen, req)
		if err, ok := errs[req.Channel]; ok {
			return "", err
		}
		return results[req.Channel], nil
	}), &seen
}

func allChannels(result string) map[Channel]string {
	m := make(map[Channel]string)
	for _, c := range Channels {
		m[c] = result
	}
	return m
}

func TestVerify_ResultOnEveryChannel(t *testing.T) {
	exec, seen := scripted(allChannels("10000000000\n"), nil)
	p := New(exec)

	report, err := p.Verify(context.Background(), Probe{Query: memQuery, Expect: Result("10000000000")})
	require.NoError(t, err)
	require.Len(t, report.Outcomes, 4)
	for i, o := range report.Outcomes {
		assert.Equal(t, Channels[i], o.Channel)
		assert.True(t, o.Succeeded)
		assert.Equal(t, "10000000000", o.Payload)
	}
	assert.Len(t, *seen, 4)
}

func TestVerify_StopsAtFirstFailingChannel(t *testing.T) {
	results := allChannels("5000000000")
	results[Params] = "10000000000"
	exec, seen := scripted(results, nil)

	report, err := New(exec).Verify(context.Background(), Probe{Query: memQuery, Expect: Result("5000000000")})

	var cerr *ChannelError
	require.True(t, errors.As(err, &cerr))
	assert.Equal(t, Params, cerr.Channel)
	assert.Equal(t, ExpectationMismatch, cerr.Kind)
	assert.Contains(t, cerr.Error(), "channel http_params: expectation mismatch")
	assert.Len(t, *seen, 2, "channels after the failure are not run")
	assert.Len(t, report.Outcomes, 2)
}

func TestVerify_MissingExpectedError(t *testing.T) {
	exec, _ := scripted(allChannels("4999999999"), nil)

	_, err := New(exec).Verify(context.Background(), Probe{
		Query:  memQuery,
		Expect: ErrorContaining("shouldn't be less than"),
	})

	var cerr *ChannelError
	require.True(t, errors.As(err, &cerr))
	assert.Equal(t, SettingsPacket, cerr.Channel)
	assert.Equal(t, MissingExpectedError, cerr.Kind)
}

func TestVerify_ErrorTextMismatch(t *testing.T) {
	serr := &ServerError{Code: 452, Message: "Setting max_memory_usage shouldn't be greater than 20000000000"}
	exec, _ := scripted(nil, map[Channel]error{
		SettingsPacket: serr, Params: serr, SessionSet: serr, InlineClause: serr,
	})

	_, err := New(exec).Verify(context.Background(), Probe{
		Query:  memQuery,
		Expect: ErrorContaining("shouldn't be less than"),
	})

	var cerr *ChannelError
	require.True(t, errors.As(err, &cerr))
	assert.Equal(t, ExpectationMismatch, cerr.Kind)
	assert.Contains(t, cerr.Actual, "greater than")
}

func TestVerify_ServerErrorWhereResultExpected(t *testing.T) {
	exec, _ := scripted(allChannels("1"), map[Channel]error{
		SessionSet: &ServerError{Code: 164, Message: "Cannot modify 'readonly' setting in readonly mode"},
	})

	_, err := New(exec).Verify(context.Background(), Probe{Query: "SELECT 1", Expect: Result("1")})

	var cerr *ChannelError
	require.True(t, errors.As(err, &cerr))
	assert.Equal(t, SessionSet, cerr.Channel)
	assert.Equal(t, ExpectationMismatch, cerr.Kind)
	assert.Equal(t, "error: Cannot modify 'readonly' setting in readonly mode", cerr.Actual)
}

func TestVerify_TransportErrorPropagates(t *testing.T) {
	boom := errors.New("connection refused")
	exec, seen := scripted(allChannels("1"), map[Channel]error{Params: boom})

	_, err := New(exec).Verify(context.Background(), Probe{Query: "SELECT 1", Expect: Result("1")})

	var terr *TransportError
	require.True(t, errors.As(err, &terr))
	assert.Equal(t, Params, terr.Channel)
	assert.ErrorIs(t, err, boom)
	assert.Len(t, *seen, 2, "no retry")

	var cerr *ChannelError
	assert.False(t, errors.As(err, &cerr))
}

func TestVerify_TransportErrorNeverMatchesExpectedError(t *testing.T) {
	boom := errors.New("connection refused")
	exec, seen := scripted(nil, map[Channel]error{
		SettingsPacket: boom, Params: boom, SessionSet: boom, InlineClause: boom,
	})

	_, err := New(exec).Verify(context.Background(), Probe{Query: "SELECT 1", Expect: ErrorContaining("connection refused")})

	var terr *TransportError
	require.True(t, errors.As(err, &terr))
	assert.Equal(t, SettingsPacket, terr.Channel)
	assert.Len(t, *seen, 1)
}

func TestVerify_WrappedServerError(t *testing.T) {
	wrapped := errors.Join(errors.New("query failed"), &ServerError{Code: 452, Message: "Setting x should not be changed"})
	exec, _ := scripted(nil, map[Channel]error{
		SettingsPacket: wrapped, Params: wrapped, SessionSet: wrapped, InlineClause: wrapped,
	})

	_, err := New(exec).Verify(context.Background(), Probe{Query: "SELECT 1", Expect: ErrorContaining("should not be changed")})
	assert.NoError(t, err)
}

func TestVerify_IdentityOnEveryChannel(t *testing.T) {
	exec, seen := scripted(allChannels("1"), nil)

	_, err := New(exec).Verify(context.Background(), Probe{Query: "SELECT 1", User: "readonly_user", Expect: Result("1")})
	require.NoError(t, err)
	for _, req := range *seen {
		assert.Equal(t, "readonly_user", req.User)
	}
}

func TestVerify_InvalidProbe(t *testing.T) {
	exec, seen := scripted(nil, nil)

	_, err := New(exec).Verify(context.Background(), Probe{Query: "SELECT 1"})
	require.Error(t, err)
	assert.Empty(t, *seen)
}

func TestVerify_StrictInline(t *testing.T) {
	exec, seen := scripted(allChannels("1"), nil)
	settings := ir.NewSettings(ir.S("max_threads", ir.Int(1)))

	_, err := New(exec, WithStrictInline(true)).Verify(context.Background(), Probe{Query: "SELECT 1", Settings: settings, Expect: Result("1")})
	require.NoError(t, err)
	assert.Equal(t, []string{"SELECT 1 SETTINGS max_threads = 1"}, (*seen)[3].Statements)
}

func TestVerifyChannel(t *testing.T) {
	results := allChannels("1")
	results[InlineClause] = "2"
	exec, seen := scripted(results, nil)
	p := New(exec)

	o, err := p.VerifyChannel(context.Background(), Probe{Query: "SELECT 1", Expect: Result("1")}, SessionSet)
	require.NoError(t, err)
	assert.Equal(t, SessionSet, o.Channel)

	_, err = p.VerifyChannel(context.Background(), Probe{Query: "SELECT 1", Expect: Result("1")}, InlineClause)
	var cerr *ChannelError
	require.True(t, errors.As(err, &cerr))
	assert.Equal(t, InlineClause, cerr.Channel)
	assert.Len(t, *seen, 2)
}

func TestObserve(t *testing.T) {
	results := allChannels("1\n")
	exec, _ := scripted(results, map[Channel]error{Params: &ServerError{Code: 1, Message: "boom"}})

	outcomes, err := New(exec).Observe(context.Background(), Probe{Query: "SELECT 1"})
	require.NoError(t, err)
	require.Len(t, outcomes, 4)
	assert.True(t, outcomes[0].Succeeded)
	assert.Equal(t, "1", outcomes[0].Payload)
	assert.False(t, outcomes[1].Succeeded)
	assert.Equal(t, "boom", outcomes[1].Payload)
}

func TestTrimResult(t *testing.T) {
	assert.Equal(t, "a\tb", trimResult("a\tb\n\n "))
	assert.Equal(t, "  lead", trimResult("  lead\n"))
}

func TestProbeID_Stable(t *testing.T) {
	a := Probe{Query: "SELECT 1", Settings: ir.NewSettings(ir.S("a", ir.Int(1))), Expect: Result("1")}
	b := a

	idA, err := a.ID()
	require.NoError(t, err)
	idB, err := b.ID()
	require.NoError(t, err)
	assert.Equal(t, idA, idB)

	b.Expect = ErrorContaining("1")
	idC, err := b.ID()
	require.NoError(t, err)
	assert.NotEqual(t, idA, idC)
}
