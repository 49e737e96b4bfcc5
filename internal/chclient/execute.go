package chclient

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"github.com/mrk-andreev/chprobe/internal/ir"
	"github.com/mrk-andreev/chprobe/internal/probe"
)

// Execute sends a probe request and returns its result as TabSeparated text.
func (in *Instance) Execute(ctx context.Context, req probe.Request) (string, error) {
	return in.run(ctx, req.Statements, QueryOptions{
		User:     req.User,
		Settings: req.Settings,
		HTTP:     req.Protocol == probe.HTTP,
	})
}

// Query runs free-form text, which may hold several statements separated by
// semicolons. Only the last statement's result is returned.
func (in *Instance) Query(ctx context.Context, sql string, opts QueryOptions) (string, error) {
	return in.run(ctx, SplitStatements(sql), opts)
}

func (in *Instance) run(ctx context.Context, stmts []string, opts QueryOptions) (string, error) {
	if len(stmts) == 0 {
		return "", errors.New("chclient: empty query")
	}
	user := in.user(opts.User)
	protocol := clickhouse.Native
	if opts.HTTP {
		protocol = clickhouse.HTTP
	}
	if len(opts.Settings) > 0 {
		ctx = clickhouse.Context(ctx, clickhouse.WithSettings(toSettings(opts.Settings)))
	}

	in.logger.Debug("query",
		"protocol", protocolName(protocol),
		"user", user,
		"statements", len(stmts),
		"settings", opts.Settings.String())

	if len(stmts) == 1 {
		c, err := in.conn(protocol, user)
		if err != nil {
			return "", err
		}
		return statement(ctx, c, stmts[0])
	}

	if opts.HTTP {
		return "", errors.New("chclient: multi-statement requests need the native protocol")
	}
	// SET statements live in the connection's session, so a multi-statement
	// request gets a connection of its own that is closed afterwards.
	c, err := in.open(in.options(clickhouse.Native, user, 1))
	if err != nil {
		return "", fmt.Errorf("open session as %s: %w", user, err)
	}
	defer c.Close()

	last := len(stmts) - 1
	for _, st := range stmts[:last] {
		if err := c.Exec(ctx, st); err != nil {
			return "", classify(err)
		}
	}
	return statement(ctx, c, stmts[last])
}

// statement runs one statement. Statements that return no rows are sent
// with Exec.
func statement(ctx context.Context, c driver.Conn, sql string) (string, error) {
	if !returnsRows(sql) {
		if err := c.Exec(ctx, sql); err != nil {
			return "", classify(err)
		}
		return "", nil
	}
	rows, err := c.Query(ctx, sql)
	if err != nil {
		return "", classify(err)
	}
	text, err := FormatRows(rows)
	if err != nil {
		return "", classify(err)
	}
	return text, nil
}

var noRowKeywords = map[string]bool{
	"INSERT": true, "CREATE": true, "DROP": true, "ALTER": true,
	"SET": true, "TRUNCATE": true, "RENAME": true, "OPTIMIZE": true,
	"SYSTEM": true, "USE": true, "GRANT": true, "REVOKE": true,
	"KILL": true, "DETACH": true, "ATTACH": true,
}

func returnsRows(sql string) bool {
	fields := strings.Fields(stripLeadingComments(sql))
	if len(fields) == 0 {
		return true
	}
	return !noRowKeywords[strings.ToUpper(fields[0])]
}

func toSettings(s ir.Settings) clickhouse.Settings {
	out := make(clickhouse.Settings, len(s))
	for name, v := range s.Params() {
		out[name] = v
	}
	return out
}
