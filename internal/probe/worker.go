// Package probe runs the metadata extraction stage: one external probe
// invocation per task, resolved into a title and the list of compatible
// video formats.
package probe

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"

	"capstan/internal/logging"
	"capstan/internal/services"
	"capstan/internal/services/ytdlp"
	"capstan/internal/task"
)

// Canonical failure messages surfaced to callers in ProbeResult events.
const (
	msgNoInfo    = "Failed to retrieve video information"
	msgNoFormats = "No compatible video formats found"
	msgCancelled = "Extraction cancelled"
)

// Request identifies the task a worker probes and what it passes to the
// fetch tool.
type Request struct {
	TaskID             string
	URL                string
	CookiesFile        string
	CookiesFromBrowser string
}

// Worker owns one probe invocation. Cancellation is cooperative: the flag is
// checked immediately before the process spawns and again after the call
// returns, and while the process runs Cancel tears it down through the
// driver's grace-then-kill contract.
type Worker struct {
	req    Request
	client *ytdlp.Client
	events chan<- task.Event
	logger *slog.Logger

	mu          sync.Mutex
	cancelled   bool
	cancelProbe context.CancelFunc
}

// New constructs a probe worker. Events are delivered on the supplied
// channel in emission order; Finished is always last. The consumer must
// keep draining until Finished arrives.
func New(client *ytdlp.Client, req Request, events chan<- task.Event, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Worker{
		req:    req,
		client: client,
		events: events,
		logger: logging.NewComponentLogger(logger, "probe"),
	}
}

// Cancel sets the cancellation flag and terminates an in-flight probe
// process. Safe to call from any goroutine, any number of times.
func (w *Worker) Cancel() {
	w.mu.Lock()
	w.cancelled = true
	cancel := w.cancelProbe
	w.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Run executes the probe and emits ProbeResult followed by Finished. It is
// meant to run on its own goroutine.
func (w *Worker) Run(ctx context.Context) {
	log := w.logger.With(slog.String(logging.FieldTaskID, w.req.TaskID))
	log.Info("starting extraction", slog.String(logging.FieldURL, w.req.URL))

	if w.isCancelled() {
		log.Info("extraction cancelled before start")
		w.finishFailure(task.ProbeResult{ID: w.req.TaskID, Title: "Unknown", Err: msgCancelled})
		return
	}

	probeCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	w.mu.Lock()
	w.cancelProbe = cancel
	flagged := w.cancelled
	w.mu.Unlock()
	if flagged {
		cancel()
	}

	info, err := w.client.Probe(probeCtx, ytdlp.ProbeRequest{
		URL:                w.req.URL,
		CookiesFile:        w.req.CookiesFile,
		CookiesFromBrowser: w.req.CookiesFromBrowser,
	})

	w.mu.Lock()
	w.cancelProbe = nil
	w.mu.Unlock()

	if w.isCancelled() || services.IsCancelled(err) {
		log.Info("extraction cancelled")
		w.finishFailure(task.ProbeResult{ID: w.req.TaskID, Title: "Unknown", Err: msgCancelled})
		return
	}
	if err != nil {
		message := err.Error()
		if errors.Is(err, ytdlp.ErrNoMetadata) {
			message = msgNoInfo
		}
		log.Error("extraction failed", logging.Error(err))
		w.finishFailure(task.ProbeResult{ID: w.req.TaskID, Title: "Unknown", Err: message})
		return
	}

	title := info.DisplayTitle()
	formats := formatOptions(info.CompatibleFormats())
	if len(formats) == 0 {
		log.Warn("no compatible formats", slog.String("title", title))
		w.finishFailure(task.ProbeResult{ID: w.req.TaskID, Title: title, Err: msgNoFormats})
		return
	}

	log.Info("extraction successful",
		slog.String("title", title),
		slog.Int("formats", len(formats)))
	w.events <- task.ProbeResult{ID: w.req.TaskID, Title: title, Formats: formats}
	w.events <- task.Finished{ID: w.req.TaskID, Success: true}
}

func (w *Worker) isCancelled() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.cancelled
}

func (w *Worker) finishFailure(result task.ProbeResult) {
	w.events <- result
	w.events <- task.Finished{ID: result.ID, Success: false, Message: result.Err}
}

func formatOptions(formats []ytdlp.Format) []task.FormatOption {
	options := make([]task.FormatOption, 0, len(formats))
	for _, f := range formats {
		note := strings.TrimSpace(f.FormatNote)
		if note == "" {
			note = f.Ext
		}
		options = append(options, task.FormatOption{
			ID:         f.FormatID,
			Resolution: f.Resolution(),
			Note:       note,
		})
	}
	return options
}
