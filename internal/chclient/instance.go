package chclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"github.com/mrk-andreev/chprobe/internal/ir"
	"github.com/mrk-andreev/chprobe/internal/probe"
)

// DefaultUser is the identity used when none is configured.
const DefaultUser = "default"

// Config describes one server instance.
type Config struct {
	// NativeAddr is host:port of the native TCP endpoint.
	NativeAddr string
	// HTTPAddr is host:port of the HTTP endpoint.
	HTTPAddr string
	Database string
	// User is the default identity. Empty means DefaultUser.
	User string
	// Passwords maps user names to passwords. Missing users authenticate
	// with an empty password.
	Passwords   map[string]string
	DialTimeout time.Duration
	ReadTimeout time.Duration
}

// Validate checks that both endpoints are set.
func (c Config) Validate() error {
	if c.NativeAddr == "" {
		return errors.New("chclient: native address is required")
	}
	if c.HTTPAddr == "" {
		return errors.New("chclient: http address is required")
	}
	return nil
}

// QueryOptions controls a free-form query.
type QueryOptions struct {
	// User overrides the default identity.
	User string
	// Settings are attached to the query context.
	Settings ir.Settings
	// HTTP sends the query over the HTTP protocol instead of native.
	HTTP bool
}

type connKey struct {
	protocol clickhouse.Protocol
	user     string
}

type openFunc func(*clickhouse.Options) (driver.Conn, error)

// Instance is a connection manager for one server. Connections are opened on
// first use per (protocol, user) and reused until Close.
type Instance struct {
	cfg    Config
	logger *slog.Logger
	open   openFunc

	mu    sync.Mutex
	conns map[connKey]driver.Conn
}

// Option configures an Instance.
type Option func(*Instance)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(in *Instance) {
		if l != nil {
			in.logger = l
		}
	}
}

// New creates an Instance. No connection is made until the first request.
func New(cfg Config, opts ...Option) (*Instance, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.User == "" {
		cfg.User = DefaultUser
	}
	in := &Instance{
		cfg:    cfg,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		open:   clickhouse.Open,
		conns:  make(map[connKey]driver.Conn),
	}
	for _, opt := range opts {
		opt(in)
	}
	return in, nil
}

// DefaultUser returns the identity used when a request names none.
func (in *Instance) DefaultUser() string {
	return in.cfg.User
}

func (in *Instance) options(p clickhouse.Protocol, user string, maxConns int) *clickhouse.Options {
	addr := in.cfg.NativeAddr
	if p == clickhouse.HTTP {
		addr = in.cfg.HTTPAddr
	}
	return &clickhouse.Options{
		Protocol: p,
		Addr:     []string{addr},
		Auth: clickhouse.Auth{
			Database: in.cfg.Database,
			Username: user,
			Password: in.cfg.Passwords[user],
		},
		DialTimeout:  in.cfg.DialTimeout,
		ReadTimeout:  in.cfg.ReadTimeout,
		MaxOpenConns: maxConns,
		MaxIdleConns: maxConns,
	}
}

func (in *Instance) user(u string) string {
	if u == "" {
		return in.cfg.User
	}
	return u
}

// conn returns the cached pool for (protocol, user), opening it if needed.
func (in *Instance) conn(p clickhouse.Protocol, user string) (driver.Conn, error) {
	key := connKey{protocol: p, user: user}

	in.mu.Lock()
	defer in.mu.Unlock()
	if c, ok := in.conns[key]; ok {
		return c, nil
	}
	c, err := in.open(in.options(p, user, 0))
	if err != nil {
		return nil, fmt.Errorf("open %s connection as %s: %w", protocolName(p), user, err)
	}
	in.conns[key] = c
	return c, nil
}

// Ping checks both endpoints with the default identity.
func (in *Instance) Ping(ctx context.Context) error {
	for _, p := range []clickhouse.Protocol{clickhouse.Native, clickhouse.HTTP} {
		c, err := in.conn(p, in.cfg.User)
		if err != nil {
			return err
		}
		if err := c.Ping(ctx); err != nil {
			return fmt.Errorf("ping %s: %w", protocolName(p), classify(err))
		}
	}
	return nil
}

// Close closes every cached connection.
func (in *Instance) Close() error {
	in.mu.Lock()
	defer in.mu.Unlock()
	var errs []error
	for key, c := range in.conns {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
		delete(in.conns, key)
	}
	return errors.Join(errs...)
}

func protocolName(p clickhouse.Protocol) string {
	if p == clickhouse.HTTP {
		return "http"
	}
	return "native"
}

var _ probe.Executor = (*Instance)(nil)
