// Package logging builds the daemon's structured loggers on log/slog.
//
// Console output uses a compact single-line format with the component name
// folded into the message prefix; JSON output is for log shippers. Context
// helpers stamp task, stage, and correlation identifiers onto every record
// so one task's lifecycle can be traced across workers.
package logging
