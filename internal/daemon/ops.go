package daemon

import (
	"context"
	"errors"
	"strings"
	"time"

	"capstan/internal/history"
	"capstan/internal/logs"
	"capstan/internal/notifications"
	"capstan/internal/services"
	"capstan/internal/services/ytdlp"
	"capstan/internal/task"
)

const (
	// maxAwaitWindow caps one Await long-poll so a single RPC never holds
	// the connection indefinitely; callers loop.
	maxAwaitWindow = 30 * time.Second

	awaitBuffer = 128
	awaitTick   = 200 * time.Millisecond
)

// Submit validates and enqueues an acquisition task, returning the
// temporary-id snapshot.
func (d *Daemon) Submit(ctx context.Context, sub task.Submission) (*task.Task, error) {
	return d.manager.Submit(ctx, sub)
}

// Cancel requests cooperative cancellation. The id may be either the
// submit-time temporary id or the rebound final id.
func (d *Daemon) Cancel(ctx context.Context, id string) error {
	return d.manager.Cancel(ctx, d.resolveID(strings.TrimSpace(id)))
}

// Tasks snapshots the live registry in submission order.
func (d *Daemon) Tasks(ctx context.Context) ([]*task.Task, error) {
	return d.manager.Tasks(ctx)
}

// Describe reports a live snapshot, falling back to the archive when the
// task already finished. The boolean reports whether the result came from
// the archive.
func (d *Daemon) Describe(ctx context.Context, id string) (*task.Task, bool, error) {
	id = d.resolveID(strings.TrimSpace(id))
	snapshot, err := d.manager.Describe(ctx, id)
	if err == nil {
		return snapshot, false, nil
	}
	if !errors.Is(err, services.ErrNotFound) {
		return nil, false, err
	}
	entry, ferr := d.store.Find(ctx, id)
	if ferr != nil {
		return nil, false, ferr
	}
	if entry == nil {
		return nil, false, err
	}
	return taskFromEntry(entry), true, nil
}

// AwaitResult reports how far a task got within one Await window.
type AwaitResult struct {
	Done  bool
	Entry *history.Entry // terminal outcome when Done
	Task  *task.Task     // live snapshot when still running, nil if unknown
}

// Await blocks until the task reaches a terminal state or the wait window
// elapses. It follows the probe-success rebind, so the submit-time id stays
// valid for the whole watch. An unknown id yields Done=false with a nil
// snapshot rather than an error: the id may simply not have crossed the
// rebind yet, and the next call resolves it.
func (d *Daemon) Await(ctx context.Context, id string, wait time.Duration) (AwaitResult, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return AwaitResult{}, services.Wrap(services.ErrValidation, "await", "watch task", "task id required", nil)
	}
	if wait <= 0 {
		wait = time.Second
	}
	if wait > maxAwaitWindow {
		wait = maxAwaitWindow
	}

	// The event stream is a fast path; the tick loop below re-checks the
	// archive and the live table from scratch, so a rebind or finish that
	// happened before the subscription cannot be missed.
	events, cancelSub := d.manager.Subscribe(awaitBuffer)
	defer cancelSub()

	deadline := time.Now().Add(wait)
	ticker := time.NewTicker(awaitTick)
	defer ticker.Stop()

	for {
		watched := d.resolveID(id)
		entry, err := d.store.Find(ctx, watched)
		if err != nil {
			return AwaitResult{}, err
		}
		if entry != nil {
			return AwaitResult{Done: true, Entry: entry}, nil
		}
		snapshot, derr := d.manager.Describe(ctx, watched)
		if derr != nil && !errors.Is(derr, services.ErrNotFound) {
			return AwaitResult{}, derr
		}

		if !time.Now().Before(deadline) {
			return AwaitResult{Done: false, Task: snapshot}, nil
		}

		select {
		case ev, ok := <-events:
			if !ok {
				return AwaitResult{}, errors.New("daemon is shutting down")
			}
			switch e := ev.(type) {
			case task.ProbeResult:
				if e.ID == watched && e.Err == "" && e.FinalID != "" {
					id = e.FinalID
				}
			case task.Finished:
				if e.ID == watched {
					// The archive row is written before the event
					// publishes, so this lookup normally hits.
					if entry, err := d.store.Find(ctx, watched); err == nil && entry != nil {
						return AwaitResult{Done: true, Entry: entry}, nil
					}
					return AwaitResult{Done: true, Entry: entryFromFinished(e)}, nil
				}
			}
		case <-ticker.C:
		case <-ctx.Done():
			return AwaitResult{}, ctx.Err()
		}
	}
}

// History lists archived outcomes, newest first.
func (d *Daemon) History(ctx context.Context, limit int, statuses ...task.Status) ([]*history.Entry, error) {
	return d.store.List(ctx, limit, statuses...)
}

// HistoryClear empties the archive and reports how many rows were removed.
func (d *Daemon) HistoryClear(ctx context.Context) (int64, error) {
	return d.store.Clear(ctx)
}

// Probe fetches metadata for a URL without enqueueing a task.
func (d *Daemon) Probe(ctx context.Context, req ytdlp.ProbeRequest) (*ytdlp.Info, error) {
	if d.fetcher == nil {
		return nil, errors.New("fetch tool client unavailable")
	}
	return d.fetcher.Probe(ctx, req)
}

// TestNotification sends a test push through the configured topic.
func (d *Daemon) TestNotification(ctx context.Context) (bool, string, error) {
	if strings.TrimSpace(d.cfg.Notifications.NtfyTopic) == "" {
		return false, "ntfy topic not configured", nil
	}
	notifier := notifications.NewService(d.cfg)
	if err := notifier.TestNotification(ctx); err != nil {
		return false, "failed to send notification", err
	}
	return true, "test notification sent", nil
}

// LogTail pages through the daemon log file.
func (d *Daemon) LogTail(ctx context.Context, opts logs.TailOptions) (logs.TailResult, error) {
	return logs.Tail(ctx, d.logPath, opts)
}

func taskFromEntry(entry *history.Entry) *task.Task {
	t := &task.Task{
		ID:           entry.TaskID,
		SourceURL:    entry.SourceURL,
		Title:        entry.Title,
		OutputPath:   entry.OutputPath,
		Status:       entry.Status,
		ErrorMessage: entry.ErrorMessage,
		CreatedAt:    entry.CreatedAt,
	}
	if entry.Status == task.StatusCompleted {
		t.Percent = 100
	}
	return t
}

func entryFromFinished(ev task.Finished) *history.Entry {
	status := task.StatusFailed
	if ev.Success {
		status = task.StatusCompleted
	}
	entry := &history.Entry{
		TaskID:     ev.ID,
		Status:     status,
		FinishedAt: time.Now().UTC(),
	}
	if !ev.Success {
		entry.ErrorMessage = ev.Message
	}
	return entry
}
