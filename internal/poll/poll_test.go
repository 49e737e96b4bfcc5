package poll

import (
	"context"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// counter returns a fetch that yields "1", "2", ... on successive calls.
func counter() (func(context.Context) (string, error), *int) {
	calls := 0
	return func(context.Context) (string, error) {
		calls++
		return strconv.Itoa(calls), nil
	}, &calls
}

func TestUntil_MatchOnThirdAttempt(t *testing.T) {
	fetch, calls := counter()

	v, err := Until(context.Background(), fetch, Equals("3"), Options{Attempts: 20})
	require.NoError(t, err)
	assert.Equal(t, "3", v)
	assert.Equal(t, 3, *calls)
}

func TestUntil_TimeoutCarriesLastValue(t *testing.T) {
	fetch, calls := counter()

	_, err := Until(context.Background(), fetch, Equals("never"), Options{Attempts: 5})
	require.Error(t, err)

	var te *TimeoutError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, 5, te.Attempts)
	assert.Equal(t, "5", te.Last)
	assert.Equal(t, 5, *calls)
	assert.Contains(t, err.Error(), `last value: "5"`)
}

func TestUntil_FetchErrorNotRetried(t *testing.T) {
	boom := errors.New("connection refused")
	calls := 0
	fetch := func(context.Context) (string, error) {
		calls++
		return "", boom
	}

	_, err := Until(context.Background(), fetch, Equals("x"), Options{Attempts: 10})
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 1, calls)

	var te *TimeoutError
	assert.False(t, errors.As(err, &te))
}

func TestUntil_DefaultAttempts(t *testing.T) {
	fetch, calls := counter()

	_, err := Until(context.Background(), fetch, Equals("never"), Options{})
	require.Error(t, err)
	assert.Equal(t, DefaultAttempts, *calls)
}

func TestUntil_IntervalBetweenAttempts(t *testing.T) {
	fetch, _ := counter()

	start := time.Now()
	_, err := Until(context.Background(), fetch, Equals("3"), Options{Attempts: 3, Interval: 20 * time.Millisecond})
	require.NoError(t, err)
	// Two sleeps between three attempts.
	assert.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)
}

func TestUntil_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	fetch := func(context.Context) (string, error) {
		cancel()
		return "x", nil
	}

	_, err := Until(ctx, fetch, Equals("y"), Options{Attempts: 5, Interval: time.Second})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestUntil_GenericValue(t *testing.T) {
	n := 0
	fetch := func(context.Context) (int, error) {
		n += 10
		return n, nil
	}

	v, err := Until(context.Background(), fetch, func(v int) bool { return v >= 30 }, Options{Attempts: 5})
	require.NoError(t, err)
	assert.Equal(t, 30, v)
}

func TestReplaceTabs(t *testing.T) {
	assert.Equal(t, "1|foo|2", ReplaceTabs("1\tfoo\t2\n"))
	assert.Equal(t, "a|b\nc|d", ReplaceTabs("a\tb\nc\td\n"))
}

func TestContains(t *testing.T) {
	check := Contains("Cannot parse")
	assert.True(t, check("Code: 27. Cannot parse input"))
	assert.False(t, check("ok"))
}
