// Package deps checks the external binaries capstan drives.
package deps

import (
	"fmt"
	"os/exec"
	"strings"

	"capstan/internal/config"
)

// Requirement defines an external tool the daemon depends on.
type Requirement struct {
	Name        string
	Command     string
	Description string
	Optional    bool
}

// Status reports the availability of a dependency.
type Status struct {
	Name        string
	Command     string
	Description string
	Optional    bool
	Available   bool
	Detail      string
}

// Requirements builds the requirement set for a configuration. The fetch
// tool is mandatory; the transcoder only gates re-encode, trim, and
// thumbnail conversion, so plain fetches run degraded without it.
func Requirements(cfg *config.Config) []Requirement {
	return []Requirement{
		{
			Name:        "Fetch tool",
			Command:     cfg.Tools.Fetcher,
			Description: "Probes metadata and downloads media",
		},
		{
			Name:        "FFmpeg",
			Command:     cfg.Tools.FFmpeg,
			Description: "Transcodes, trims, and converts thumbnails",
			Optional:    true,
		},
	}
}

// Check evaluates the full dependency set: the fetch tool by plain lookup,
// the transcoder through the same resolution order the fetch tool is
// pointed at.
func Check(cfg *config.Config) []Status {
	statuses := CheckBinaries(Requirements(cfg)[:1])
	return append(statuses, CheckFFmpeg(cfg))
}

// CheckBinaries evaluates the provided requirements and reports availability.
func CheckBinaries(requirements []Requirement) []Status {
	results := make([]Status, 0, len(requirements))
	for _, req := range requirements {
		cmd := strings.TrimSpace(req.Command)
		status := Status{
			Name:        req.Name,
			Command:     cmd,
			Description: strings.TrimSpace(req.Description),
			Optional:    req.Optional,
		}
		if cmd == "" {
			status.Available = false
			status.Detail = "command not configured"
			results = append(results, status)
			continue
		}
		if _, err := exec.LookPath(cmd); err != nil {
			status.Available = false
			status.Detail = fmt.Sprintf("binary %q not found", cmd)
			results = append(results, status)
			continue
		}
		status.Available = true
		results = append(results, status)
	}
	return results
}
