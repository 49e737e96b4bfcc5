// Package chclient talks to a ClickHouse server over its native TCP protocol
// and its HTTP protocol using clickhouse-go.
//
// An Instance implements probe.Executor. Results are rendered as
// TabSeparated text, the same text clickhouse-client prints, so expectations
// can be written as plain strings.
//
// Server-side failures come back as *probe.ServerError. Everything else
// (dial failures, timeouts, broken connections) is returned wrapped but
// otherwise untouched, and is treated as a transport failure by callers.
package chclient
