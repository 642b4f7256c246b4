// Package manager owns the live task registry and the probe/fetch worker
// lifecycle.
//
// A single event loop goroutine holds the task table. Submissions,
// cancellations, snapshots, and worker events all funnel through channels
// into that loop, which makes the probe-success identity swap (temporary id
// retired, final id bound to the resolved output path) one critical section
// with no lock ordering to reason about. Workers talk to the loop only
// through the event channel and the loop never blocks on a worker.
package manager
