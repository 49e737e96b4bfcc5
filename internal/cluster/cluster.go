// Package cluster is the narrow view of a running database and broker that
// tests drive: start, stop, topic administration, production and queries.
package cluster

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/mrk-andreev/chprobe/internal/broker"
	"github.com/mrk-andreev/chprobe/internal/chclient"
	"github.com/mrk-andreev/chprobe/internal/probe"
)

// QueryOptions controls a free-form query.
type QueryOptions = chclient.QueryOptions

var (
	// ErrNoBroker is returned by topic operations when no broker is
	// configured.
	ErrNoBroker = errors.New("cluster: no broker configured")
	// ErrUnexpectedSuccess is returned by QueryExpectingError when the query
	// succeeded.
	ErrUnexpectedSuccess = errors.New("cluster: query succeeded, an error was expected")
)

// Cluster is everything a scenario needs from the system under test.
type Cluster interface {
	probe.Executor

	Start(ctx context.Context) error
	Stop() error

	CreateTopic(ctx context.Context, name string) error
	DeleteTopic(ctx context.Context, name string) error
	Produce(ctx context.Context, topic string, messages []string) error

	// Query runs text and returns its TabSeparated result.
	Query(ctx context.Context, sql string, opts QueryOptions) (string, error)
	// QueryExpectingError runs text that must fail on the server and
	// returns the server's error message.
	QueryExpectingError(ctx context.Context, sql string, opts QueryOptions) (string, error)
}

// External is a Cluster whose endpoints are already running.
type External struct {
	db     *chclient.Instance
	broker *broker.Broker
	logger *slog.Logger
}

// Option configures External.
type Option func(*External)

// WithBroker attaches a broker for topic operations.
func WithBroker(b *broker.Broker) Option {
	return func(e *External) { e.broker = b }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *External) {
		if l != nil {
			e.logger = l
		}
	}
}

// NewExternal wraps existing endpoints.
func NewExternal(db *chclient.Instance, opts ...Option) *External {
	e := &External{
		db:     db,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Start checks that both database endpoints answer.
func (e *External) Start(ctx context.Context) error {
	if err := e.db.Ping(ctx); err != nil {
		return fmt.Errorf("cluster start: %w", err)
	}
	e.logger.Info("cluster reachable", "broker", e.broker != nil)
	return nil
}

// Stop closes every client.
func (e *External) Stop() error {
	if e.broker != nil {
		e.broker.Close()
	}
	return e.db.Close()
}

func (e *External) Execute(ctx context.Context, req probe.Request) (string, error) {
	return e.db.Execute(ctx, req)
}

func (e *External) Query(ctx context.Context, sql string, opts QueryOptions) (string, error) {
	return e.db.Query(ctx, sql, opts)
}

func (e *External) QueryExpectingError(ctx context.Context, sql string, opts QueryOptions) (string, error) {
	return ExpectError(e.db.Query(ctx, sql, opts))
}

func (e *External) CreateTopic(ctx context.Context, name string) error {
	if e.broker == nil {
		return ErrNoBroker
	}
	return e.broker.CreateTopic(ctx, name)
}

func (e *External) DeleteTopic(ctx context.Context, name string) error {
	if e.broker == nil {
		return ErrNoBroker
	}
	return e.broker.DeleteTopic(ctx, name)
}

func (e *External) Produce(ctx context.Context, topic string, messages []string) error {
	if e.broker == nil {
		return ErrNoBroker
	}
	return e.broker.Produce(ctx, topic, messages)
}

// ExpectError turns the result of a query that should have failed into the
// server's error message. A server error is the expected outcome; success
// yields ErrUnexpectedSuccess and any other error is returned as is.
func ExpectError(_ string, err error) (string, error) {
	if err == nil {
		return "", ErrUnexpectedSuccess
	}
	var se *probe.ServerError
	if errors.As(err, &se) {
		return se.Message, nil
	}
	return "", err
}

var _ Cluster = (*External)(nil)
