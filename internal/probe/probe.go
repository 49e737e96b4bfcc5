package probe

import (
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/mrk-andreev/chprobe/internal/ir"
)

// ExpectKind says what a probe expects from every channel.
type ExpectKind int

const (
	ExpectNone ExpectKind = iota
	ExpectResult
	ExpectError
)

func (k ExpectKind) String() string {
	switch k {
	case ExpectResult:
		return "result"
	case ExpectError:
		return "error"
	default:
		return "none"
	}
}

// Expectation is exactly one of an expected result text or an expected
// error substring. The zero value expects nothing and fails validation.
type Expectation struct {
	Kind ExpectKind
	Text string
}

// Result expects the channel to succeed with text as its result, compared
// after trailing whitespace is trimmed.
func Result(text string) Expectation {
	return Expectation{Kind: ExpectResult, Text: text}
}

// ErrorContaining expects the channel to fail with a server error whose
// message contains substr.
func ErrorContaining(substr string) Expectation {
	return Expectation{Kind: ExpectError, Text: substr}
}

func (e Expectation) String() string {
	switch e.Kind {
	case ExpectResult:
		return fmt.Sprintf("result %q", e.Text)
	case ExpectError:
		return fmt.Sprintf("error containing %q", e.Text)
	default:
		return "nothing"
	}
}

// Probe is one (query, settings) pair and what every channel must yield.
type Probe struct {
	Query    string
	Settings ir.Settings
	// User overrides the executor's default identity on every channel.
	User   string
	Expect Expectation
}

// Validate checks the probe is well-formed.
func (p Probe) Validate() error {
	if strings.TrimSpace(p.Query) == "" {
		return errors.New("probe: query is empty")
	}
	if err := p.Settings.Validate(); err != nil {
		return fmt.Errorf("probe: %w", err)
	}
	switch p.Expect.Kind {
	case ExpectResult:
	case ExpectError:
		if p.Expect.Text == "" {
			return errors.New("probe: expected error substring is empty")
		}
	default:
		return errors.New("probe: exactly one of expected result or expected error must be set")
	}
	return nil
}

// ID returns the content-addressed identity of the probe.
func (p Probe) ID() (string, error) {
	return ir.ProbeID(p.Query, p.Settings, p.User, p.Expect.Kind.String(), p.Expect.Text)
}

// Outcome is what one channel yielded.
type Outcome struct {
	Channel   Channel
	Request   Request
	Succeeded bool
	// Payload is the trimmed result text on success, the server error
	// message on failure.
	Payload string
}

// Report collects the outcomes of a verification, in channel order.
type Report struct {
	Probe    Probe
	Outcomes []Outcome
}

// check compares an outcome with the expectation.
func (p Probe) check(o Outcome) *ChannelError {
	fail := func(kind FailureKind, actual string) *ChannelError {
		return &ChannelError{
			Channel:  o.Channel,
			Kind:     kind,
			Expected: p.Expect.String(),
			Actual:   actual,
			Request:  o.Request,
		}
	}

	switch p.Expect.Kind {
	case ExpectResult:
		if !o.Succeeded {
			return fail(ExpectationMismatch, "error: "+o.Payload)
		}
		if o.Payload != p.Expect.Text {
			return fail(ExpectationMismatch, fmt.Sprintf("result %q", o.Payload))
		}
	case ExpectError:
		if o.Succeeded {
			return fail(MissingExpectedError, fmt.Sprintf("result %q", o.Payload))
		}
		if !strings.Contains(o.Payload, p.Expect.Text) {
			return fail(ExpectationMismatch, "error: "+o.Payload)
		}
	}
	return nil
}

func trimResult(s string) string {
	return strings.TrimRightFunc(s, unicode.IsSpace)
}
