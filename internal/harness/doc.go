// Package harness runs settings scenarios against a cluster.
//
// A scenario is a YAML file listing steps that are executed in order. Every
// step holds exactly one action:
//
//	name: max_memory_usage_bounds
//	description: "Bounds are enforced on every channel"
//	user: default
//	steps:
//	  - sql: "CREATE TABLE t (a UInt64, b Array(UInt64)) ENGINE=MergeTree() ORDER BY a"
//	  - probe:
//	      query: "SELECT value FROM system.settings WHERE name='max_memory_usage'"
//	      settings: {max_memory_usage: 5000000000}
//	      expect: {result: "5000000000"}
//	  - probe:
//	      query: "SELECT 1"
//	      settings: {max_memory_usage: 4999999999}
//	      expect: {error: "shouldn't be less than"}
//	  - sql_error: {query: "SELECT * FROM missing", contains: "does not exist"}
//	  - create_topic: bad_messages
//	  - produce: {topic: bad_messages, messages: ["{\"a\": 1}"]}
//	  - poll:
//	      query: "SELECT count() FROM t"
//	      expect: "1"
//	      attempts: 20
//	      interval: 1s
//	  - insert: {table: t, threads: 15, tasks: 100, seed: 1}
//	  - profile: {path: users.cue}
//	assertions:
//	  - type: trace_count
//	    kind: probe
//	    count: 8
//	  - type: final_state
//	    query: "SELECT count() FROM t"
//	    expect: "1"
//
// Unknown fields are rejected. Paths are relative to the scenario file.
//
// # Assertion Types
//
//   - trace_contains: an event of kind with the given query text was recorded
//   - trace_order: queries were sent in the given order
//   - trace_count: exactly count events of kind were recorded
//   - final_state: a query run after the last step yields expect
//
// # Traces
//
// Run records one trace event per probe channel and one per other step; a
// poll step records its last attempt. Sequence numbers come from a logical
// clock, so a scenario run against the same server state always produces
// the same trace.
// RunWithGolden compares that trace with a snapshot under testdata/golden.
package harness
