// Package fetch runs the acquisition stage: an external download into a
// temporary output template, thumbnail normalization, and a finalize pass
// that renames, trims, or re-encodes into the final output path.
package fetch

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"capstan/internal/driver"
	"capstan/internal/fileutil"
	"capstan/internal/logging"
	"capstan/internal/progress"
	"capstan/internal/services"
	"capstan/internal/services/ffmpeg"
	"capstan/internal/services/ytdlp"
	"capstan/internal/task"
)

const msgCancelled = "Download cancelled"

// Request carries everything one fetch worker needs. VideoArgs holds the
// resolved codec argument template; empty means the fetched container ships
// as-is (subject to a stream-copy pass when trim bounds are set).
type Request struct {
	TaskID              string
	URL                 string
	OutputPath          string
	FormatExpr          string
	MergeContainer      string
	ConcurrentFragments int
	ForceOverwrites     bool
	WriteThumbnail      bool
	CookiesFile         string
	CookiesFromBrowser  string
	Start               string
	End                 string
	VideoArgs           []string
}

// Worker owns the fetch stage for one task: phase A downloads into a
// temporary template, phase B finalizes into the output path. Cancellation
// is cooperative; the flag is checked before each process spawn and on every
// line while a process runs, and observing it tears the process down through
// the driver's grace-then-kill contract.
type Worker struct {
	req        Request
	fetcher    *ytdlp.Client
	transcoder *ffmpeg.Client
	events     chan<- task.Event
	logger     *slog.Logger

	dir  string
	stem string
	ext  string

	// finalPartial flags that a finalize pass may have written to the
	// final output path, making it removable on cancellation.
	finalPartial bool

	mu        sync.Mutex
	cancelled bool
	cancelRun context.CancelFunc
}

// New constructs a fetch worker. Events are delivered on the supplied
// channel in emission order; Finished is always last. The consumer must
// keep draining until Finished arrives.
func New(fetcher *ytdlp.Client, transcoder *ffmpeg.Client, req Request, events chan<- task.Event, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = logging.NewNop()
	}
	base := filepath.Base(req.OutputPath)
	ext := filepath.Ext(base)
	return &Worker{
		req:        req,
		fetcher:    fetcher,
		transcoder: transcoder,
		events:     events,
		logger:     logging.NewComponentLogger(logger, "fetch"),
		dir:        filepath.Dir(req.OutputPath),
		stem:       strings.TrimSuffix(base, ext),
		ext:        ext,
	}
}

// Cancel sets the cancellation flag and releases any blocking sub-call.
// Safe to call from any goroutine, any number of times.
func (w *Worker) Cancel() {
	w.mu.Lock()
	w.cancelled = true
	cancel := w.cancelRun
	w.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Run executes both phases and emits Finished last. It is meant to run on
// its own goroutine.
func (w *Worker) Run(ctx context.Context) {
	log := w.logger.With(slog.String(logging.FieldTaskID, w.req.TaskID))

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	w.mu.Lock()
	w.cancelRun = cancel
	flagged := w.cancelled
	w.mu.Unlock()
	if flagged {
		cancel()
	}

	log.Info("starting download",
		slog.String(logging.FieldURL, w.req.URL),
		slog.String("output", w.req.OutputPath))

	if w.isCancelled() {
		w.finishCancelled(log, "")
		return
	}

	tempPath, err := w.fetchPhase(runCtx, log)
	if err != nil {
		if services.IsCancelled(err) {
			w.finishCancelled(log, tempPath)
			return
		}
		log.Error("download failed", logging.Error(err))
		w.finish(false, err.Error())
		return
	}

	if w.req.WriteThumbnail {
		w.normalizeThumbnail(runCtx, log)
	}

	if w.isCancelled() {
		w.finishCancelled(log, tempPath)
		return
	}

	if err := w.finalizePhase(runCtx, log, tempPath); err != nil {
		if services.IsCancelled(err) {
			w.finishCancelled(log, tempPath)
			return
		}
		log.Error("finalize failed", logging.Error(err))
		w.finish(false, err.Error())
		return
	}

	log.Info("download complete", slog.String("output", w.req.OutputPath))
	w.finish(true, w.req.OutputPath)
}

// fetchPhase drives the fetch tool and returns the path of the retrieved
// container. The returned path is best-effort valid even on error so the
// caller can clean up.
func (w *Worker) fetchPhase(ctx context.Context, log *slog.Logger) (string, error) {
	container := w.req.MergeContainer
	if container == "" {
		container = "mp4"
	}
	current := w.tempStem() + "." + container

	cmd := w.fetcher.FetchCommand(ytdlp.FetchRequest{
		URL:                 w.req.URL,
		OutputTemplate:      w.tempStem() + ".%(ext)s",
		Format:              w.req.FormatExpr,
		MergeContainer:      container,
		ConcurrentFragments: w.req.ConcurrentFragments,
		ForceOverwrites:     w.req.ForceOverwrites,
		WriteThumbnail:      w.req.WriteThumbnail,
		CookiesFile:         w.req.CookiesFile,
		CookiesFromBrowser:  w.req.CookiesFromBrowser,
		WorkDir:             w.dir,
	})
	handle, err := w.fetcher.Executor().Start(ctx, cmd)
	if err != nil {
		return current, services.Wrap(services.ErrSpawn, "downloading", "start fetch tool", cmd.Binary, err)
	}

	var toolError string
	terminated := false
	for line := range handle.Lines() {
		if !terminated && w.isCancelled() {
			handle.Terminate(w.fetcher.Grace())
			terminated = true
		}
		if trimmed := strings.TrimSpace(line); strings.HasPrefix(trimmed, "ERROR") {
			toolError = trimmed
		}
		w.consumeFetchLine(line, &current)
	}
	waitErr := handle.Wait()

	if w.isCancelled() {
		return current, services.Wrap(services.ErrCancelled, "downloading", "fetch", "terminated", nil)
	}
	if waitErr != nil {
		message := toolError
		if message == "" {
			message = fmt.Sprintf("Download process failed with code %d", driver.ExitCode(waitErr))
		}
		return current, services.Wrap(services.ErrFetch, "downloading", "fetch", message, waitErr)
	}

	w.events <- task.Progress{ID: w.req.TaskID, Percent: 100}
	return current, nil
}

func (w *Worker) consumeFetchLine(line string, current *string) {
	event, ok := progress.ParseFetchLine(line)
	if !ok {
		w.events <- task.LogLine{ID: w.req.TaskID, Text: line}
		return
	}
	switch event.Kind {
	case progress.FetchProgress:
		w.events <- task.Progress{
			ID:      w.req.TaskID,
			Percent: event.Percent,
			Speed:   event.Speed,
			ETA:     event.ETA,
		}
	case progress.FetchDestination:
		*current = w.absolute(event.Path)
		w.events <- task.LogLine{ID: w.req.TaskID, Text: line}
	case progress.FetchMerging:
		*current = w.absolute(event.Path)
		w.events <- task.Progress{ID: w.req.TaskID}
		w.events <- task.LogLine{ID: w.req.TaskID, Text: line}
	case progress.FetchAlreadyDone:
		*current = w.absolute(event.Path)
		w.events <- task.Progress{ID: w.req.TaskID, Percent: 100}
		w.events <- task.LogLine{ID: w.req.TaskID, Text: line}
	}
}

// normalizeThumbnail converts a lossy thumbnail written against the
// temporary template to PNG, falling back to a plain rename so the artifact
// is never lost. Entirely best-effort.
func (w *Worker) normalizeThumbnail(ctx context.Context, log *slog.Logger) {
	finalStem := filepath.Join(w.dir, w.stem)

	if src := w.tempStem() + ".webp"; fileutil.Exists(src) {
		target := finalStem + ".png"
		if err := w.transcoder.ConvertThumbnail(ctx, src, target); err != nil {
			if services.IsCancelled(err) {
				return
			}
			log.Warn("thumbnail conversion failed, keeping original", logging.Error(err))
			if err := fileutil.MoveFile(src, finalStem+".webp"); err != nil {
				log.Warn("cleanup warning", slog.String("path", src), logging.Error(err))
			}
			return
		}
		if err := os.Remove(src); err != nil {
			log.Warn("cleanup warning", slog.String("path", src), logging.Error(err))
		}
		log.Debug("thumbnail converted", slog.String("path", target))
		return
	}

	for _, ext := range []string{".png", ".jpg", ".jpeg"} {
		src := w.tempStem() + ext
		if !fileutil.Exists(src) {
			continue
		}
		if err := fileutil.MoveFile(src, finalStem+ext); err != nil {
			log.Warn("cleanup warning", slog.String("path", src), logging.Error(err))
		}
		return
	}
}

// finalizePhase moves the fetched container to the final output path. A
// requested re-encode or trim range routes through the transcoder with the
// input parked as a _raw sibling; a bare request is a rename.
func (w *Worker) finalizePhase(ctx context.Context, log *slog.Logger, tempPath string) error {
	encode := len(w.req.VideoArgs) > 0
	trims := w.req.Start != "" || w.req.End != ""

	if !encode && !trims {
		if err := fileutil.MoveFile(tempPath, w.req.OutputPath); err != nil {
			return services.Wrap(services.ErrFetch, "processing", "finalize", fmt.Sprintf("File rename failed: %v", err), err)
		}
		return nil
	}

	// Indeterminate progress: the manager flips the task to PROCESSING.
	w.events <- task.Progress{ID: w.req.TaskID}

	rawPath := filepath.Join(w.dir, w.stem+"_raw"+w.ext)
	if fileutil.Exists(rawPath) {
		if err := os.Remove(rawPath); err != nil {
			log.Warn("cleanup warning", slog.String("path", rawPath), logging.Error(err))
		}
	}
	if err := fileutil.MoveFile(tempPath, rawPath); err != nil {
		return services.Wrap(services.ErrTranscode, "processing", "finalize", fmt.Sprintf("File rename failed: %v", err), err)
	}

	total, err := w.transcoder.ProbeDuration(ctx, rawPath)
	if err != nil {
		return err
	}
	span := ffmpeg.EffectiveSpan(total, w.req.Start, w.req.End)

	if w.isCancelled() {
		return services.Wrap(services.ErrCancelled, "processing", "transcode", "terminated", nil)
	}

	cmd := w.transcoder.TranscodeCommand(ffmpeg.TranscodeRequest{
		Input:     rawPath,
		Output:    w.req.OutputPath,
		Start:     w.req.Start,
		End:       w.req.End,
		VideoArgs: w.req.VideoArgs,
	})
	handle, err := w.transcoder.Executor().Start(ctx, cmd)
	if err != nil {
		return services.Wrap(services.ErrSpawn, "processing", "start transcoder", cmd.Binary, err)
	}
	w.finalPartial = true

	var lastLine string
	terminated := false
	for line := range handle.Lines() {
		if !terminated && w.isCancelled() {
			handle.Terminate(w.transcoder.Grace())
			terminated = true
		}
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			lastLine = trimmed
		}
		if d, ok := progress.ParseTranscodeDuration(line); ok {
			if span == 0 {
				span = ffmpeg.EffectiveSpan(d, w.req.Start, w.req.End)
			}
			continue
		}
		if event, ok := progress.ParseTranscodeLine(line, span); ok {
			w.events <- task.Progress{ID: w.req.TaskID, Percent: event.Percent, Speed: event.Speed}
			continue
		}
		w.events <- task.LogLine{ID: w.req.TaskID, Text: line}
	}
	waitErr := handle.Wait()

	if w.isCancelled() {
		return services.Wrap(services.ErrCancelled, "processing", "transcode", "terminated", nil)
	}
	if waitErr != nil {
		// The _raw input stays for manual recovery; only the partial
		// output is removed.
		if fileutil.Exists(w.req.OutputPath) {
			if err := os.Remove(w.req.OutputPath); err != nil {
				log.Warn("cleanup warning", slog.String("path", w.req.OutputPath), logging.Error(err))
			}
		}
		log.Error("transcoder failed", slog.String("last_line", lastLine))
		message := fmt.Sprintf("Encoding failed with code %d", driver.ExitCode(waitErr))
		return services.Wrap(services.ErrTranscode, "processing", "transcode", message, waitErr)
	}

	if err := os.Remove(rawPath); err != nil {
		log.Warn("cleanup warning", slog.String("path", rawPath), logging.Error(err))
	}
	w.events <- task.Progress{ID: w.req.TaskID, Percent: 100}
	return nil
}

func (w *Worker) finishCancelled(log *slog.Logger, tempPath string) {
	log.Info("download cancelled")
	if tempPath != "" && fileutil.Exists(tempPath) {
		if err := os.Remove(tempPath); err != nil {
			log.Warn("cleanup warning", slog.String("path", tempPath), logging.Error(err))
		} else {
			log.Debug("removed artifact", slog.String("path", tempPath))
		}
	}
	if w.finalPartial && fileutil.Exists(w.req.OutputPath) {
		if err := os.Remove(w.req.OutputPath); err != nil {
			log.Warn("cleanup warning", slog.String("path", w.req.OutputPath), logging.Error(err))
		} else {
			log.Debug("removed artifact", slog.String("path", w.req.OutputPath))
		}
	}
	removed, err := fileutil.SweepArtifacts(w.dir, w.stem, true)
	if err != nil {
		log.Warn("cleanup warning", logging.Error(err))
	}
	for _, path := range removed {
		log.Debug("removed artifact", slog.String("path", path))
	}
	w.finish(false, msgCancelled)
}

func (w *Worker) finish(success bool, message string) {
	w.events <- task.Finished{ID: w.req.TaskID, Success: success, Message: message}
}

func (w *Worker) isCancelled() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.cancelled
}

func (w *Worker) tempStem() string {
	return filepath.Join(w.dir, w.stem+".fetch")
}

func (w *Worker) absolute(path string) string {
	if filepath.IsAbs(path) {
		return filepath.Clean(path)
	}
	return filepath.Join(w.dir, path)
}
