package ipc

import "time"

// SubmitRequest enqueues one acquisition job.
type SubmitRequest struct {
	URL                string `json:"url"`
	DestDir            string `json:"dest_dir"`
	CookiesFile        string `json:"cookies_file"`
	CookiesFromBrowser string `json:"cookies_from_browser"`
	Start              string `json:"start"`
	End                string `json:"end"`
	Format             string `json:"format"`
	Codec              string `json:"codec"`
	Preset             string `json:"preset"`
	Debug              bool   `json:"debug"`
}

// SubmitResponse carries the submit-time snapshot. The id is temporary and
// rebinds once the probe resolves the output name.
type SubmitResponse struct {
	Task TaskView `json:"task"`
}

// TaskView is the wire form of a live or archived task.
type TaskView struct {
	ID           string    `json:"id"`
	SourceURL    string    `json:"source_url"`
	Title        string    `json:"title"`
	DestDir      string    `json:"dest_dir"`
	OutputPath   string    `json:"output_path"`
	Status       string    `json:"status"`
	Percent      float64   `json:"percent"`
	Speed        string    `json:"speed"`
	ETA          string    `json:"eta"`
	Codec        string    `json:"codec"`
	Preset       string    `json:"preset"`
	ErrorMessage string    `json:"error_message"`
	CreatedAt    time.Time `json:"created_at"`
}

// HistoryEntry is the wire form of one archived outcome.
type HistoryEntry struct {
	ID           int64     `json:"id"`
	TaskID       string    `json:"task_id"`
	SourceURL    string    `json:"source_url"`
	Title        string    `json:"title"`
	OutputPath   string    `json:"output_path"`
	Status       string    `json:"status"`
	ErrorMessage string    `json:"error_message"`
	Bytes        int64     `json:"bytes"`
	CreatedAt    time.Time `json:"created_at"`
	FinishedAt   time.Time `json:"finished_at"`
}

// CancelRequest asks a task to wind down. The id may be the submit-time
// temporary id or the final one.
type CancelRequest struct {
	ID string `json:"id"`
}

// CancelResponse acknowledges the cancellation request.
type CancelResponse struct {
	Cancelled bool `json:"cancelled"`
}

// TasksRequest lists the live task table.
type TasksRequest struct{}

// TasksResponse contains live tasks in submission order.
type TasksResponse struct {
	Tasks []TaskView `json:"tasks"`
}

// DescribeRequest fetches a single task by id.
type DescribeRequest struct {
	ID string `json:"id"`
}

// DescribeResponse contains the task snapshot. Archived reports whether the
// finished-task archive served it.
type DescribeResponse struct {
	Task     TaskView `json:"task"`
	Archived bool     `json:"archived"`
}

// AwaitRequest blocks until the task finishes or the wait window elapses.
type AwaitRequest struct {
	ID         string `json:"id"`
	WaitMillis int    `json:"wait_millis"`
}

// AwaitResponse reports how far the task got within one window. Entry is set
// when Done; Task is the live snapshot otherwise, nil if the id is unknown.
type AwaitResponse struct {
	Done  bool          `json:"done"`
	Entry *HistoryEntry `json:"entry"`
	Task  *TaskView     `json:"task"`
}

// StatusRequest fetches the daemon runtime snapshot.
type StatusRequest struct{}

// DependencyStatus describes availability of an external tool.
type DependencyStatus struct {
	Name        string `json:"name"`
	Command     string `json:"command"`
	Description string `json:"description"`
	Optional    bool   `json:"optional"`
	Available   bool   `json:"available"`
	Detail      string `json:"detail"`
}

// CheckResult is one preflight directory check.
type CheckResult struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
	Detail string `json:"detail"`
}

// StatusResponse represents the combined daemon status.
type StatusResponse struct {
	Running       bool               `json:"running"`
	PID           int                `json:"pid"`
	StartedAt     time.Time          `json:"started_at"`
	SocketPath    string             `json:"socket_path"`
	LockPath      string             `json:"lock_path"`
	HistoryDBPath string             `json:"history_db_path"`
	LogPath       string             `json:"log_path"`
	Active        int                `json:"active"`
	Live          map[string]int     `json:"live"`
	Archived      map[string]int     `json:"archived"`
	Dependencies  []DependencyStatus `json:"dependencies"`
	Checks        []CheckResult      `json:"checks"`
}

// HistoryRequest lists archived outcomes, optionally filtered by status.
type HistoryRequest struct {
	Limit    int      `json:"limit"`
	Statuses []string `json:"statuses"`
}

// HistoryResponse contains archive entries, newest first.
type HistoryResponse struct {
	Entries []HistoryEntry `json:"entries"`
}

// HistoryClearRequest empties the archive.
type HistoryClearRequest struct{}

// HistoryClearResponse reports the number of removed rows.
type HistoryClearResponse struct {
	Removed int64 `json:"removed"`
}

// ProbeRequest inspects a URL without enqueueing work.
type ProbeRequest struct {
	URL                string `json:"url"`
	CookiesFile        string `json:"cookies_file"`
	CookiesFromBrowser string `json:"cookies_from_browser"`
}

// FormatView is one downloadable encoding surfaced by a probe.
type FormatView struct {
	ID         string `json:"id"`
	Ext        string `json:"ext"`
	Resolution string `json:"resolution"`
	Note       string `json:"note"`
}

// ProbeResponse carries the probed metadata.
type ProbeResponse struct {
	ID       string       `json:"id"`
	Title    string       `json:"title"`
	Duration float64      `json:"duration"`
	Formats  []FormatView `json:"formats"`
}

// LogTailRequest fetches log lines based on offset and follow semantics.
type LogTailRequest struct {
	Offset     int64 `json:"offset"`
	Limit      int   `json:"limit"`
	Follow     bool  `json:"follow"`
	WaitMillis int   `json:"wait_millis"`
}

// LogTailResponse returns log lines and the next offset.
type LogTailResponse struct {
	Lines  []string `json:"lines"`
	Offset int64    `json:"offset"`
}

// TestNotificationRequest triggers a notification test.
type TestNotificationRequest struct{}

// TestNotificationResponse reports the notification test outcome.
type TestNotificationResponse struct {
	Sent    bool   `json:"sent"`
	Message string `json:"message"`
}

// ShutdownRequest asks the daemon process to exit.
type ShutdownRequest struct{}

// ShutdownResponse acknowledges that shutdown is underway.
type ShutdownResponse struct {
	Stopping bool `json:"stopping"`
}
