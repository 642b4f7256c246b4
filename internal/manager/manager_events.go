package manager

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"capstan/internal/fetch"
	"capstan/internal/fileutil"
	"capstan/internal/history"
	"capstan/internal/logging"
	"capstan/internal/notifications"
	"capstan/internal/probe"
	"capstan/internal/services"
	"capstan/internal/task"
)

const (
	archiveTimeout     = 5 * time.Second
	notifyTimeout      = 30 * time.Second
	progressBucketSize = 5.0
)

func (m *Manager) handleSubmit(ctx context.Context, req *submitRequest) {
	id := task.NewTemporaryID()
	t := &task.Task{
		ID:                 id,
		SourceURL:          req.sub.SourceURL,
		DestDir:            req.sub.DestDir,
		CookiesPath:        req.sub.CookiesPath,
		CookiesFromBrowser: req.sub.CookiesFromBrowser,
		StartTime:          req.sub.StartTime,
		EndTime:            req.sub.EndTime,
		FormatExpr:         req.sub.FormatExpr,
		Codec:              req.sub.Codec,
		Preset:             req.sub.Preset,
		Status:             task.StatusExtracting,
		Debug:              req.sub.Debug,
		CreatedAt:          time.Now(),
	}

	worker := probe.New(m.fetcher, probe.Request{
		TaskID:             id,
		URL:                t.SourceURL,
		CookiesFile:        t.CookiesPath,
		CookiesFromBrowser: t.CookiesFromBrowser,
	}, m.inbox, m.logger)

	m.tasks[id] = &entry{
		task:      t,
		worker:    worker,
		videoArgs: req.videoArgs,
		sampler:   logging.NewProgressSampler(progressBucketSize),
	}
	m.spawn(ctx, worker)

	m.logger.Info("task submitted",
		slog.String(logging.FieldTaskID, id),
		slog.String(logging.FieldURL, t.SourceURL))
	req.reply <- submitReply{snapshot: t.Clone()}
}

func (m *Manager) handleEvent(ctx context.Context, ev task.Event) {
	switch event := ev.(type) {
	case task.Progress:
		m.handleProgress(event)
	case task.LogLine:
		m.handleLogLine(event)
	case task.ProbeResult:
		m.handleProbeResult(ctx, event)
	case task.Finished:
		m.handleFinished(event)
	}
}

func (m *Manager) handleProgress(event task.Progress) {
	ent, ok := m.tasks[event.ID]
	if !ok {
		return
	}
	t := ent.task
	if t.Status.Terminal() || t.Status == task.StatusCancelling {
		return
	}
	if event.Indeterminate() && t.Status == task.StatusDownloading {
		m.transition(t, task.StatusProcessing)
	}
	t.Percent = event.Percent
	t.Speed = event.Speed
	t.ETA = event.ETA
	m.publish(event)

	if ent.sampler.ShouldLog(event.Percent, string(t.Status)) {
		attrs := []any{
			slog.String(logging.FieldTaskID, t.ID),
			slog.String(logging.FieldStage, strings.ToLower(string(t.Status))),
			slog.Float64("percent", event.Percent),
		}
		if event.Speed != "" {
			attrs = append(attrs, slog.String("speed", event.Speed))
		}
		if event.ETA != "" {
			attrs = append(attrs, slog.String("eta", event.ETA))
		}
		m.logger.Info("progress", attrs...)
	}
}

func (m *Manager) handleLogLine(event task.LogLine) {
	ent, ok := m.tasks[event.ID]
	if !ok {
		return
	}
	m.publish(event)

	level := slog.LevelDebug
	if ent.task.Debug {
		level = slog.LevelInfo
	}
	m.logger.Log(context.Background(), level, "tool output",
		slog.String(logging.FieldTaskID, event.ID),
		slog.String("line", event.Text))
}

// handleProbeResult performs the identity swap on success: the temporary id
// is retired, the task is rebound to the base name of the collision-resolved
// output path, and a fetch worker is spawned under the new id. The probe
// worker's trailing Finished event still names the temporary id, so the
// table lookup misses and it is dropped, leaving ProbeResult as the last
// externally visible event of a successful probe.
func (m *Manager) handleProbeResult(ctx context.Context, event task.ProbeResult) {
	ent, ok := m.tasks[event.ID]
	if !ok {
		return
	}
	t := ent.task

	if event.Err != "" {
		if event.Title != "" {
			t.Title = event.Title
		}
		m.publish(event)
		// The worker's Finished{false} follows and resolves the task.
		return
	}

	if t.Status != task.StatusExtracting {
		// Cancelled while the probe result was in flight; the pending
		// Finished event resolves the task under its current status.
		return
	}

	stem := fileutil.SafeTitle(event.Title)
	outputPath, err := fileutil.UniquePath(t.DestDir, stem, m.container(), func(candidate string) bool {
		_, taken := m.tasks[filepath.Base(candidate)]
		return taken
	})
	if err != nil {
		t.Title = event.Title
		failure := event
		failure.Formats = nil
		failure.Err = fmt.Sprintf("Could not allocate output name: %v", err)
		m.logger.Error("output naming failed",
			slog.String(logging.FieldTaskID, t.ID),
			logging.Error(err))
		m.publish(failure)
		m.finalize(ent, task.StatusFailed, task.Finished{ID: t.ID, Success: false, Message: failure.Err})
		return
	}

	finalID := filepath.Base(outputPath)
	delete(m.tasks, t.ID)
	t.ID = finalID
	t.Title = event.Title
	t.OutputPath = outputPath
	m.tasks[finalID] = ent
	m.transition(t, task.StatusPendingDownload)

	annotated := event
	annotated.FinalID = finalID
	m.publish(annotated)

	m.logger.Info("extraction resolved",
		slog.String(logging.FieldTaskID, finalID),
		slog.String("title", event.Title),
		slog.String("output", outputPath),
		slog.Int("formats", len(event.Formats)))

	m.transition(t, task.StatusDownloading)
	worker := fetch.New(m.fetcher, m.transcoder, fetch.Request{
		TaskID:              finalID,
		URL:                 t.SourceURL,
		OutputPath:          outputPath,
		FormatExpr:          t.FormatExpr,
		MergeContainer:      m.cfg.Fetch.MergeContainer,
		ConcurrentFragments: m.cfg.Fetch.ConcurrentFragments,
		ForceOverwrites:     m.cfg.Fetch.ForceOverwrites,
		WriteThumbnail:      m.cfg.Fetch.WriteThumbnail,
		CookiesFile:         t.CookiesPath,
		CookiesFromBrowser:  t.CookiesFromBrowser,
		Start:               t.StartTime,
		End:                 t.EndTime,
		VideoArgs:           ent.videoArgs,
	}, m.inbox, m.logger)
	ent.worker = worker
	m.spawn(ctx, worker)
}

// handleFinished resolves a terminal state from the task's current status,
// not the event alone: a worker may finish "successfully" after a cancel
// already moved the state on, and that still resolves to CANCELLED.
func (m *Manager) handleFinished(event task.Finished) {
	ent, ok := m.tasks[event.ID]
	if !ok {
		// The probe-success Finished for a retired temporary id, or a
		// repeat for an already finalized task. Dropped either way.
		return
	}

	var status task.Status
	switch {
	case ent.task.Status == task.StatusCancelling:
		status = task.StatusCancelled
	case event.Success:
		status = task.StatusCompleted
	default:
		status = task.StatusFailed
	}
	m.finalize(ent, status, event)
}

func (m *Manager) handleCancel(id string) error {
	ent, ok := m.tasks[id]
	if !ok {
		return services.Wrap(services.ErrNotFound, "cancel", "lookup", fmt.Sprintf("no active task %q", id), nil)
	}
	t := ent.task
	if t.Status.Terminal() || t.Status == task.StatusCancelling {
		m.logger.Info("cancel ignored",
			slog.String(logging.FieldTaskID, id),
			slog.String("status", string(t.Status)))
		return nil
	}

	m.transition(t, task.StatusCancelling)
	t.Speed = ""
	t.ETA = ""
	m.logger.Info("task cancelling", slog.String(logging.FieldTaskID, id))

	if ent.worker == nil {
		// No worker bound yet: resolve the cancel inline.
		m.discardOutput(t)
		m.finalize(ent, task.StatusCancelled, task.Finished{ID: id, Success: false, Message: "Cancelled"})
		return nil
	}
	ent.worker.Cancel()
	return nil
}

func (m *Manager) handleDescribe(id string) describeReply {
	ent, ok := m.tasks[id]
	if !ok {
		return describeReply{err: services.Wrap(services.ErrNotFound, "describe", "lookup", fmt.Sprintf("no active task %q", id), nil)}
	}
	return describeReply{snapshot: ent.task.Clone()}
}

func (m *Manager) snapshotAll() []*task.Task {
	out := make([]*task.Task, 0, len(m.tasks))
	for _, ent := range m.tasks {
		out = append(out, ent.task.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// finalize records the terminal outcome: table removal, archive row,
// resolved Finished event, notification. The published event reflects the
// resolved status, which can differ from what the worker reported.
func (m *Manager) finalize(ent *entry, status task.Status, event task.Finished) {
	t := ent.task
	message := event.Message

	m.transition(t, status)
	t.Speed = ""
	t.ETA = ""

	switch status {
	case task.StatusCompleted:
		t.Percent = 100
		t.ErrorMessage = ""
		if err := fileutil.Touch(t.OutputPath); err != nil {
			m.logger.Warn("cleanup warning",
				slog.String(logging.FieldTaskID, t.ID),
				slog.String("path", t.OutputPath),
				logging.Error(err))
		}
	case task.StatusCancelled:
		if event.Success {
			// The worker finished its job before the cancel took effect;
			// honor the cancel by removing what it produced.
			m.discardOutput(t)
			message = "Download cancelled"
		}
		if message == "" {
			message = "Cancelled"
		}
		t.ErrorMessage = message
	case task.StatusFailed:
		if message == "" {
			message = "Task failed"
		}
		t.ErrorMessage = message
	}

	delete(m.tasks, t.ID)
	m.archiveOutcome(t)
	m.publish(task.Finished{ID: t.ID, Success: status == task.StatusCompleted, Message: message})
	m.notifyOutcome(t.Clone())

	m.logger.Info("task finished",
		slog.String(logging.FieldTaskID, t.ID),
		slog.String("status", string(status)),
		slog.String("message", message))
}

func (m *Manager) archiveOutcome(t *task.Task) {
	if m.archive == nil {
		return
	}
	record := &history.Entry{
		TaskID:       t.ID,
		SourceURL:    t.SourceURL,
		Title:        t.Title,
		OutputPath:   t.OutputPath,
		Status:       t.Status,
		ErrorMessage: t.ErrorMessage,
		CreatedAt:    t.CreatedAt,
		FinishedAt:   time.Now(),
	}
	if t.Status == task.StatusCompleted && t.OutputPath != "" {
		if info, err := os.Stat(t.OutputPath); err == nil {
			record.Bytes = info.Size()
		}
	}
	ctx, cancel := context.WithTimeout(context.Background(), archiveTimeout)
	defer cancel()
	if err := m.archive.Record(ctx, record); err != nil {
		m.logger.Warn("history record failed",
			slog.String(logging.FieldTaskID, t.ID),
			logging.Error(err))
	}
}

func (m *Manager) notifyOutcome(snapshot *task.Task) {
	if m.notifier == nil {
		return
	}
	m.notifyWg.Add(1)
	go func() {
		defer m.notifyWg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
		defer cancel()
		title := displayName(snapshot)
		var err error
		switch snapshot.Status {
		case task.StatusCompleted:
			err = m.notifier.NotifyTaskCompleted(ctx, title, snapshot.OutputPath)
		case task.StatusFailed:
			err = m.notifier.NotifyTaskFailed(ctx, title, snapshot.ErrorMessage)
		case task.StatusCancelled:
			err = m.notifier.NotifyTaskCancelled(ctx, title)
		default:
			return
		}
		if err != nil {
			m.logger.Warn("notification failed",
				slog.String(logging.FieldTaskID, snapshot.ID),
				logging.Error(err))
		}
	}()
}

func (m *Manager) discardOutput(t *task.Task) {
	if t.OutputPath == "" {
		return
	}
	if fileutil.Exists(t.OutputPath) {
		if err := os.Remove(t.OutputPath); err != nil {
			m.logger.Warn("cleanup warning",
				slog.String("path", t.OutputPath),
				logging.Error(err))
		}
	}
	base := filepath.Base(t.OutputPath)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	if _, err := fileutil.SweepArtifacts(filepath.Dir(t.OutputPath), stem, true); err != nil {
		m.logger.Warn("cleanup warning", logging.Error(err))
	}
}

// transition applies a status change and logs moves that fall outside the
// state machine.
func (m *Manager) transition(t *task.Task, next task.Status) {
	if !task.ValidTransition(t.Status, next) {
		m.logger.Warn("irregular status transition",
			slog.String(logging.FieldTaskID, t.ID),
			slog.String("from", string(t.Status)),
			slog.String("to", string(next)))
	}
	t.Status = next
}

func (m *Manager) container() string {
	if c := strings.TrimSpace(m.cfg.Fetch.MergeContainer); c != "" {
		return c
	}
	return "mp4"
}

// displayName favors the output file stem so collision suffixes show up in
// notifications, then the probe title, then the task id.
func displayName(t *task.Task) string {
	if t.OutputPath != "" {
		base := filepath.Base(t.OutputPath)
		stem := strings.TrimSuffix(base, filepath.Ext(base))
		if title := notifications.DisplayTitle(stem); title != "" {
			return title
		}
	}
	if t.Title != "" {
		return t.Title
	}
	return t.ID
}
