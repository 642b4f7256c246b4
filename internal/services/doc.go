// Package services defines shared utilities consumed by the pipeline workers
// and external tool clients.
//
// Key responsibilities:
//   - Context helpers that stamp task IDs, stage names, and correlation
//     identifiers for logging.
//   - Structured error markers plus the Wrap helper that resolve every worker
//     failure to exactly one terminal task state (failed vs cancelled).
//
// Use these helpers when wiring new pipeline logic so error handling and
// observability stay uniform across stages.
package services
