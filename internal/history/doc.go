// Package history archives finished tasks in SQLite. The live task registry
// stays in memory with the manager; this store only records terminal
// outcomes for later inspection.
package history
