// Package ir holds the typed representation shared by every other package:
// setting values, the ordered settings mapping, canonical JSON and the
// content-addressed identities used by the run journal.
//
// This package imports nothing internal.
//
// Key constraints:
//   - No float setting values; fractional settings travel as strings
//   - Settings preserve insertion order; order is observable on the wire
//   - Setting names are validated before they reach any SQL text
package ir
