// Package poll waits for asynchronous server state to converge.
//
// Until re-runs a read-only fetch at a fixed interval until its value passes
// a check, giving up after a bounded number of attempts. Fetch errors are
// returned at once: a failed fetch is not a "not yet" answer.
package poll

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// Defaults used by the ingestion checks.
const (
	DefaultAttempts = 20
	DefaultInterval = time.Second
)

// Options bounds a poll. A zero Attempts means DefaultAttempts. A zero
// Interval polls without sleeping.
type Options struct {
	Attempts int
	Interval time.Duration
}

// DefaultOptions returns 20 attempts one second apart.
func DefaultOptions() Options {
	return Options{Attempts: DefaultAttempts, Interval: DefaultInterval}
}

// TimeoutError is returned when no fetched value passed the check.
type TimeoutError struct {
	Attempts int
	Last     any
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("condition not met after %d attempts, last value: %q", e.Attempts, fmt.Sprint(e.Last))
}

var errNotYet = errors.New("poll: condition not met")

// Until fetches until check accepts the value and returns that value.
func Until[T any](ctx context.Context, fetch func(context.Context) (T, error), check func(T) bool, opts Options) (T, error) {
	attempts := opts.Attempts
	if attempts <= 0 {
		attempts = DefaultAttempts
	}

	var last T
	tries := 0
	op := func() (T, error) {
		tries++
		v, err := fetch(ctx)
		if err != nil {
			return v, backoff.Permanent(err)
		}
		last = v
		if !check(v) {
			return v, errNotYet
		}
		return v, nil
	}

	v, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(backoff.NewConstantBackOff(opts.Interval)),
		backoff.WithMaxTries(uint(attempts)),
		backoff.WithMaxElapsedTime(0),
	)
	if errors.Is(err, errNotYet) {
		return last, &TimeoutError{Attempts: tries, Last: last}
	}
	return v, err
}

// Equals returns a check matching want exactly.
func Equals(want string) func(string) bool {
	return func(got string) bool { return got == want }
}

// Contains returns a check matching values that contain substr.
func Contains(substr string) func(string) bool {
	return func(got string) bool { return strings.Contains(got, substr) }
}

// ReplaceTabs rewrites a tab-separated result with "|" between columns and
// without the trailing newline, the form ingestion expectations are
// written in.
func ReplaceTabs(s string) string {
	return strings.ReplaceAll(strings.TrimRight(s, "\n"), "\t", "|")
}
