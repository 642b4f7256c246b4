// Package preflight provides readiness checks for the filesystem paths and
// runtime artifacts capstan depends on.
//
// These checks run in two contexts:
//   - The daemon calls RunAll at startup. If any check fails, startup aborts
//     before the first task can land in a broken directory.
//   - The CLI "capstan status" command uses Liveness to explain an
//     unreachable daemon: a present socket with a stale lock means a crash,
//     a missing lock means it was never started.
package preflight
