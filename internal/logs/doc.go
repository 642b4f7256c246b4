// Package logs reads the daemon log file in offset-addressed pages.
//
// The daemon serves its own log over the control socket, so the CLI never
// touches the file directly; it pages through Tail results and resumes from
// the returned offset. Negative offsets mean "last N lines", and follow mode
// long-polls for new lines so `capstan logs --follow` does not busy-loop
// across the socket.
package logs
