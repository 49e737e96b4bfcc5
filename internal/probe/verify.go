package probe

import (
	"context"
	"errors"
	"io"
	"log/slog"
)

// Executor sends a wire request and returns the result text.
//
// A failure raised by the server must be returned as a *ServerError (or wrap
// one). Anything else is treated as a transport failure.
type Executor interface {
	Execute(ctx context.Context, req Request) (string, error)
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(ctx context.Context, req Request) (string, error)

func (f ExecutorFunc) Execute(ctx context.Context, req Request) (string, error) {
	return f(ctx, req)
}

// Prober runs probes through an Executor.
type Prober struct {
	exec         Executor
	logger       *slog.Logger
	strictInline bool
}

// Option configures a Prober.
type Option func(*Prober)

// WithLogger sets the logger. Requests are logged at debug level.
func WithLogger(l *slog.Logger) Option {
	return func(p *Prober) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithStrictInline makes the InlineClause channel send the query with its
// trailing SETTINGS clause instead of the session SET statements.
func WithStrictInline(strict bool) Option {
	return func(p *Prober) {
		p.strictInline = strict
	}
}

// New creates a Prober.
func New(exec Executor, opts ...Option) *Prober {
	p := &Prober{
		exec:   exec,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// StrictInline reports whether channel 4 sends the inline form.
func (p *Prober) StrictInline() bool {
	return p.strictInline
}

// Encode builds the wire request of one channel for pr.
func (p *Prober) Encode(pr Probe, c Channel) Request {
	req := EncoderFor(c, p.strictInline).Encode(pr.Query, pr.Settings)
	req.User = pr.User
	return req
}

// Verify delivers pr through every channel in order and checks each outcome
// against the expectation. It returns at the first channel that fails with a
// *ChannelError, or with a *TransportError if a channel could not be
// delivered. The report holds the outcomes gathered so far.
func (p *Prober) Verify(ctx context.Context, pr Probe) (*Report, error) {
	if err := pr.Validate(); err != nil {
		return nil, err
	}
	report := &Report{Probe: pr}
	for _, c := range Channels {
		o, err := p.run(ctx, pr, c)
		if err != nil {
			return report, err
		}
		report.Outcomes = append(report.Outcomes, o)
		if cerr := pr.check(o); cerr != nil {
			p.logger.Debug("channel failed",
				"channel", c.String(),
				"kind", cerr.Kind.String(),
				"actual", cerr.Actual)
			return report, cerr
		}
	}
	return report, nil
}

// VerifyChannel delivers pr through a single channel.
func (p *Prober) VerifyChannel(ctx context.Context, pr Probe, c Channel) (Outcome, error) {
	if err := pr.Validate(); err != nil {
		return Outcome{}, err
	}
	o, err := p.run(ctx, pr, c)
	if err != nil {
		return o, err
	}
	if cerr := pr.check(o); cerr != nil {
		return o, cerr
	}
	return o, nil
}

// Observe delivers pr through every channel and returns all outcomes without
// checking them. The expectation may be unset. A transport failure stops
// observation.
func (p *Prober) Observe(ctx context.Context, pr Probe) ([]Outcome, error) {
	if pr.Query == "" {
		return nil, errors.New("probe: query is empty")
	}
	if err := pr.Settings.Validate(); err != nil {
		return nil, err
	}
	outcomes := make([]Outcome, 0, len(Channels))
	for _, c := range Channels {
		o, err := p.run(ctx, pr, c)
		if err != nil {
			return outcomes, err
		}
		outcomes = append(outcomes, o)
	}
	return outcomes, nil
}

func (p *Prober) run(ctx context.Context, pr Probe, c Channel) (Outcome, error) {
	req := p.Encode(pr, c)
	p.logger.Debug("probe request",
		"channel", c.String(),
		"protocol", req.Protocol.String(),
		"user", req.User,
		"settings", pr.Settings.Names(),
		"text", req.Text())

	out := Outcome{Channel: c, Request: req}
	result, err := p.exec.Execute(ctx, req)
	if err == nil {
		out.Succeeded = true
		out.Payload = trimResult(result)
		return out, nil
	}

	var serr *ServerError
	if errors.As(err, &serr) {
		out.Payload = serr.Message
		return out, nil
	}

	var terr *TransportError
	if errors.As(err, &terr) {
		terr.Channel = c
		return out, terr
	}
	return out, &TransportError{Channel: c, Err: err}
}
