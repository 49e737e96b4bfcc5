// Package store is the SQLite run journal.
//
// Every scenario run gets a row in runs; every channel outcome observed
// during the run gets a row in outcomes. Outcomes are keyed by
// (run, step, probe, channel), so recording the same outcome twice is a
// no-op. CompareRuns lines up two runs by that key and reports where they
// disagree, which is how repeated runs are checked for idempotence.
//
// # Ordering
//
// Runs and outcomes carry a logical sequence number assigned on insert.
// Queries order by seq and then id, never by wall time.
//
// # Database Configuration
//
//   - WAL mode: concurrent reads during writes
//   - synchronous=NORMAL
//   - busy_timeout=5000: wait for locks up to 5 seconds
//   - foreign_keys=ON: outcomes must belong to a run
package store
