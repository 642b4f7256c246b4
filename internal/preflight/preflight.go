package preflight

import (
	"capstan/internal/config"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string
	Passed bool
	Detail string
}

// RunAll executes the filesystem checks the daemon needs before serving.
func RunAll(cfg *config.Config) []Result {
	if cfg == nil {
		return nil
	}
	return []Result{
		CheckDirectoryAccess("Download directory", cfg.Paths.DownloadDir),
		CheckDirectoryAccess("Log directory", cfg.Paths.LogDir),
		CheckDirectoryAccess("State directory", cfg.Paths.StateDir),
	}
}

// AllPassed reports whether every result passed.
func AllPassed(results []Result) bool {
	for _, result := range results {
		if !result.Passed {
			return false
		}
	}
	return true
}

// Liveness probes the daemon's lock and socket without connecting, for
// status output when the control plane is unreachable.
func Liveness(cfg *config.Config) []Result {
	if cfg == nil {
		return nil
	}
	return []Result{
		CheckLock(cfg.LockPath()),
		CheckSocket(cfg.SocketPath()),
	}
}
