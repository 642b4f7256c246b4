package preflight

import (
	"fmt"
	"os"

	"github.com/gofrs/flock"
)

// CheckSocket reports whether the daemon control socket exists.
func CheckSocket(path string) Result {
	const name = "Control socket"
	if path == "" {
		return Result{Name: name, Detail: "no socket path configured"}
	}
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (not present)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: %v)", path, err)}
	}
	if info.Mode()&os.ModeSocket == 0 {
		return Result{Name: name, Detail: fmt.Sprintf("%s (not a socket)", path)}
	}
	return Result{Name: name, Passed: true, Detail: path}
}

// CheckLock reports whether another process holds the daemon lock. A held
// lock passes: it means a daemon is alive.
func CheckLock(path string) Result {
	const name = "Daemon lock"
	if path == "" {
		return Result{Name: name, Detail: "no lock path configured"}
	}
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: "not present (daemon not running)"}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: %v)", path, err)}
	}
	probe := flock.New(path)
	acquired, err := probe.TryLock()
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("probe failed: %v", err)}
	}
	if acquired {
		_ = probe.Unlock()
		return Result{Name: name, Detail: fmt.Sprintf("%s (stale, no live daemon)", path)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (held by a running daemon)", path)}
}
