package task

import "strings"

// Status represents the lifecycle state of a task.
type Status string

const (
	StatusPendingExtract  Status = "PENDING_EXTRACT"
	StatusExtracting      Status = "EXTRACTING"
	StatusPendingDownload Status = "PENDING_DOWNLOAD"
	StatusDownloading     Status = "DOWNLOADING"
	StatusProcessing      Status = "PROCESSING"
	StatusCompleted       Status = "COMPLETED"
	StatusFailed          Status = "FAILED"
	StatusCancelled       Status = "CANCELLED"
	StatusCancelling      Status = "CANCELLING"
)

var allStatuses = []Status{
	StatusPendingExtract,
	StatusExtracting,
	StatusPendingDownload,
	StatusDownloading,
	StatusProcessing,
	StatusCompleted,
	StatusFailed,
	StatusCancelled,
	StatusCancelling,
}

var statusSet = func() map[Status]struct{} {
	set := make(map[Status]struct{}, len(allStatuses))
	for _, status := range allStatuses {
		set[status] = struct{}{}
	}
	return set
}()

// validNext encodes the state machine. CANCELLING is reachable from every
// non-terminal state and always resolves to CANCELLED.
var validNext = map[Status][]Status{
	StatusPendingExtract:  {StatusExtracting, StatusCancelling, StatusCancelled},
	StatusExtracting:      {StatusPendingDownload, StatusFailed, StatusCancelling, StatusCancelled},
	StatusPendingDownload: {StatusDownloading, StatusCompleted, StatusFailed, StatusCancelling, StatusCancelled},
	StatusDownloading:     {StatusProcessing, StatusCompleted, StatusFailed, StatusCancelling, StatusCancelled},
	StatusProcessing:      {StatusCompleted, StatusFailed, StatusCancelling, StatusCancelled},
	StatusCancelling:      {StatusCancelled},
}

// AllStatuses returns the ordered list of known statuses.
func AllStatuses() []Status {
	cp := make([]Status, len(allStatuses))
	copy(cp, allStatuses)
	return cp
}

// ParseStatus converts a string into a known Status.
func ParseStatus(value string) (Status, bool) {
	normalized := Status(strings.ToUpper(strings.TrimSpace(value)))
	if normalized == "" {
		return "", false
	}
	_, ok := statusSet[normalized]
	return normalized, ok
}

// Terminal reports whether no further transition leaves the status.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// Active reports whether the status describes in-flight work, including the
// transient CANCELLING state.
func (s Status) Active() bool {
	_, known := statusSet[s]
	return known && !s.Terminal()
}

// ValidTransition reports whether moving from one status to another follows
// the state machine. Terminal states absorb: nothing leaves them.
func ValidTransition(from, to Status) bool {
	if from.Terminal() {
		return false
	}
	for _, next := range validNext[from] {
		if next == to {
			return true
		}
	}
	return false
}
