package probe

import (
	"fmt"
	"strings"
)

// FailureKind classifies a channel that did not meet its expectation.
type FailureKind int

const (
	// ExpectationMismatch: wrong result text, or an error that does not
	// contain the expected substring, or an error where a result was
	// expected.
	ExpectationMismatch FailureKind = iota
	// MissingExpectedError: an error was expected but the channel succeeded.
	MissingExpectedError
)

func (k FailureKind) String() string {
	if k == MissingExpectedError {
		return "missing expected error"
	}
	return "expectation mismatch"
}

// ChannelError reports the first channel that disagreed with a probe.
type ChannelError struct {
	Channel  Channel
	Kind     FailureKind
	Expected string
	Actual   string
	Request  Request
}

func (e *ChannelError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "channel %s: %s\n", e.Channel, e.Kind)
	fmt.Fprintf(&b, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&b, "  Actual:   %s\n", e.Actual)
	fmt.Fprintf(&b, "  Sent:     %s", e.Request.Text())
	if len(e.Request.Settings) > 0 {
		fmt.Fprintf(&b, "\n  Settings: %s", e.Request.Settings)
	}
	return b.String()
}

// ServerError is an error raised by the server while executing a request.
// It is the only kind of error an error expectation can match.
type ServerError struct {
	Code    int32
	Message string
}

func (e *ServerError) Error() string {
	return e.Message
}

// TransportError is a failure to reach the server or to complete the
// exchange. It is never retried and never matches an error expectation.
type TransportError struct {
	Channel Channel
	Err     error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("channel %s: transport: %v", e.Channel, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}
