package ir

// FormatVersion is stamped on golden trace snapshots. Bump it when the
// snapshot encoding changes.
const FormatVersion = "1"
