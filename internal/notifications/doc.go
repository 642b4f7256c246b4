// Package notifications delivers task lifecycle events via pluggable notifiers.
//
// The default implementation publishes to ntfy using the topic configured in
// config.toml and gracefully degrades to a no-op when notifications are
// disabled. The manager emits one notification per terminal outcome so users
// learn about finished, failed, and cancelled downloads without watching the
// daemon.
//
// Extend this package if you need alternative transports; the manager depends
// only on the simple Service interface.
package notifications
