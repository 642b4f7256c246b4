// Package daemon coordinates the long-running capstand process.
//
// It wires configuration, the history archive, and the task manager into a
// single lifecycle with flock-based locking to prevent multiple instances
// against one state directory. The daemon is the facade the IPC layer calls:
// submit/cancel/await, archive queries, probe-only metadata requests, log
// tailing, and the status snapshot all pass through here.
//
// Keep orchestration logic here: pipeline behavior lives in the manager and
// worker packages while the daemon focuses on startup, shutdown, and
// cross-request state such as the id alias map.
package daemon
