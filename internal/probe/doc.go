// Package probe verifies that a query run with a set of settings behaves the
// same whichever way the settings reach the server.
//
// A Probe is delivered through four channels, in this order:
//
//  1. SettingsPacket: the query as-is, settings as protocol-level settings
//     over the native protocol
//  2. Params: the query as-is, settings as HTTP request parameters
//  3. SessionSet: one "SET name=value;" per setting followed by the query,
//     sent as one multi-statement request over the native protocol
//  4. InlineClause: the query with a trailing "SETTINGS a = 1, b = 2" clause
//
// Channel 4 renders the inline clause but, unless the Prober is built with
// WithStrictInline, sends the same statements as channel 3. Existing
// expectations were recorded against that behaviour; the rendered clause is
// kept on Request.Inline so it shows up in traces.
//
// Each channel's outcome is checked independently against the Probe's
// expectation. Verify stops at the first channel that disagrees and returns a
// *ChannelError naming it. Transport failures are returned as
// *TransportError and are never retried here; callers that wait for
// asynchronous server state use package poll.
//
// Usage:
//
//	p := probe.New(exec)
//	_, err := p.Verify(ctx, probe.Probe{
//	    Query:    "SELECT value FROM system.settings WHERE name='max_memory_usage'",
//	    Settings: ir.NewSettings(ir.S("max_memory_usage", ir.Int(4999999999))),
//	    Expect:   probe.ErrorContaining("shouldn't be less than 5000000000"),
//	})
package probe
