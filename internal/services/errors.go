package services

import (
	"errors"
	"fmt"
	"strings"

	"capstan/internal/task"
)

var (
	// ErrSpawn marks a missing or unusable external binary. Fatal, never retried.
	ErrSpawn = errors.New("spawn error")
	// ErrProbe marks probe failures: no info returned or no compatible formats.
	ErrProbe = errors.New("probe error")
	// ErrFetch marks a nonzero fetch-tool exit not attributable to cancellation.
	ErrFetch = errors.New("fetch error")
	// ErrTranscode marks a nonzero transcoder exit; the _raw artifact is preserved.
	ErrTranscode = errors.New("transcode error")
	// ErrCancelled marks any stage aborted because the cancellation flag was observed.
	ErrCancelled = errors.New("cancelled")
	// ErrValidation marks submissions rejected before any worker ran.
	ErrValidation = errors.New("validation error")
	// ErrConfiguration marks unusable configuration discovered at runtime.
	ErrConfiguration = errors.New("configuration error")
	// ErrNotFound marks lookups for task ids that no longer resolve.
	ErrNotFound = errors.New("not found")
)

// Wrap builds an error message that includes stage context while tagging it
// with the provided marker for later terminal-state classification. The marker
// should be one of the exported sentinel errors above.
func Wrap(marker error, stage, operation, message string, err error) error {
	detail := buildDetail(stage, operation, message)
	if marker == nil {
		marker = ErrFetch
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// IsCancelled reports whether the error chain represents a cooperative
// cancellation rather than a failure.
func IsCancelled(err error) bool {
	return errors.Is(err, ErrCancelled)
}

// TerminalStatus maps a worker error to the terminal task status the manager
// should record. Every pipeline error resolves to exactly one terminal state;
// there are no retries.
func TerminalStatus(err error) task.Status {
	if IsCancelled(err) {
		return task.StatusCancelled
	}
	return task.StatusFailed
}

func buildDetail(stage, operation, message string) string {
	parts := make([]string, 0, 3)
	if stage = strings.TrimSpace(stage); stage != "" {
		parts = append(parts, stage)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
