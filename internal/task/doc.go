// Package task defines the domain model shared across the pipeline: the Task
// record, its lifecycle Status vocabulary, and the Event types workers emit.
//
// The package is intentionally dependency-free so every layer (manager,
// workers, IPC, CLI) can exchange these values without import cycles.
package task
