package deps

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"

	"capstan/internal/config"
)

// CheckFFmpeg reports the transcoder binary the daemon will actually run.
//
// The fetch tool prefers an ffmpeg that sits next to its own executable over
// one from PATH, so the check mirrors that order: the configured override
// first, then a sidecar adjacent to the fetch tool, then PATH.
func CheckFFmpeg(cfg *config.Config) Status {
	result := Status{
		Name:        "FFmpeg",
		Description: "Transcodes, trims, and converts thumbnails",
		Optional:    true,
	}

	if resolved, ok := resolveFFmpeg(cfg); ok {
		result.Command = resolved
		result.Available = true
		return result
	}

	result.Command = strings.TrimSpace(cfg.Tools.FFmpeg)
	if result.Command == "" {
		result.Command = "ffmpeg"
	}
	result.Available = false
	result.Detail = fmt.Sprintf("binary %q not found", result.Command)
	return result
}

// ResolveFFmpegLocation returns the directory hint passed to the fetch tool
// as --ffmpeg-location. A configured override is honored verbatim even when
// it does not resolve, so a misconfiguration fails loudly in tool output
// instead of silently falling back. Empty means no hint: the fetch tool
// resolves on its own.
func ResolveFFmpegLocation(cfg *config.Config) string {
	if override := strings.TrimSpace(cfg.Tools.FFmpegLocation); override != "" {
		if info, err := os.Stat(override); err == nil && !info.IsDir() {
			return filepath.Dir(override)
		}
		return override
	}
	if candidate, ok := sidecarCandidate(cfg.Tools.Fetcher); ok {
		return filepath.Dir(candidate)
	}
	if path, err := exec.LookPath(strings.TrimSpace(cfg.Tools.FFmpeg)); err == nil {
		return filepath.Dir(path)
	}
	return ""
}

func resolveFFmpeg(cfg *config.Config) (string, bool) {
	if override := strings.TrimSpace(cfg.Tools.FFmpegLocation); override != "" {
		info, err := os.Stat(override)
		if err != nil {
			return "", false
		}
		if info.IsDir() {
			candidate := filepath.Join(override, executableName("ffmpeg"))
			if fi, statErr := os.Stat(candidate); statErr == nil && isExecutable(fi) {
				return candidate, true
			}
			return "", false
		}
		if isExecutable(info) {
			return override, true
		}
		return "", false
	}

	if candidate, ok := sidecarCandidate(cfg.Tools.Fetcher); ok {
		return candidate, true
	}
	if path, err := exec.LookPath(strings.TrimSpace(cfg.Tools.FFmpeg)); err == nil {
		return path, true
	}
	return "", false
}

// sidecarCandidate resolves the fetch tool and checks for an executable
// ffmpeg in the same directory.
func sidecarCandidate(fetcherCommand string) (string, bool) {
	fetcher := strings.TrimSpace(fetcherCommand)
	if fetcher == "" {
		return "", false
	}
	resolved, err := exec.LookPath(fetcher)
	if err != nil {
		return "", false
	}
	candidate := filepath.Join(filepath.Dir(resolved), executableName("ffmpeg"))
	info, err := os.Stat(candidate)
	if err != nil || !isExecutable(info) {
		return "", false
	}
	return candidate, true
}

func executableName(base string) string {
	if runtime.GOOS == "windows" {
		return base + ".exe"
	}
	return base
}

func isExecutable(info os.FileInfo) bool {
	if info == nil || info.IsDir() {
		return false
	}
	if runtime.GOOS == "windows" {
		return true
	}
	return info.Mode().Perm()&0o111 != 0
}
