package testsupport

import (
	"context"
	"sync"
)

// NotificationCall records one dispatched notification.
type NotificationCall struct {
	Kind   string // "completed", "failed", "cancelled", "test"
	Title  string
	Detail string
}

// RecordingNotifier satisfies notifications.Service and captures every
// dispatch for later assertions. Safe for concurrent use; the zero value is
// ready.
type RecordingNotifier struct {
	mu    sync.Mutex
	calls []NotificationCall
}

func (r *RecordingNotifier) record(kind, title, detail string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, NotificationCall{Kind: kind, Title: title, Detail: detail})
	return nil
}

func (r *RecordingNotifier) NotifyTaskCompleted(_ context.Context, title, outputPath string) error {
	return r.record("completed", title, outputPath)
}

func (r *RecordingNotifier) NotifyTaskFailed(_ context.Context, title, reason string) error {
	return r.record("failed", title, reason)
}

func (r *RecordingNotifier) NotifyTaskCancelled(_ context.Context, title string) error {
	return r.record("cancelled", title, "")
}

func (r *RecordingNotifier) TestNotification(_ context.Context) error {
	return r.record("test", "", "")
}

// Calls returns a copy of the recorded dispatches in order.
func (r *RecordingNotifier) Calls() []NotificationCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]NotificationCall, len(r.calls))
	copy(out, r.calls)
	return out
}

// ByKind filters recorded dispatches to one kind.
func (r *RecordingNotifier) ByKind(kind string) []NotificationCall {
	var out []NotificationCall
	for _, call := range r.Calls() {
		if call.Kind == kind {
			out = append(out, call)
		}
	}
	return out
}
