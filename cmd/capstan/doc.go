// Package main hosts the Capstan CLI entrypoint and command graph.
//
// The Cobra-based command tree translates terminal invocations into JSON-RPC
// calls against the capstand daemon: submitting and cancelling fetch tasks,
// probing URLs, inspecting live tasks and archived history, tailing daemon
// logs, and scaffolding configuration. It centralizes configuration
// resolution and socket discovery so subcommands can focus on user
// experience instead of wiring.
//
// Keep this package lean: add new functionality by extending the internal
// packages first, then surface it through dedicated commands or flags here.
package main
