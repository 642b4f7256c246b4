package manager

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"capstan/internal/progress"
	"capstan/internal/services"
	"capstan/internal/services/ffmpeg"
	"capstan/internal/task"
)

var errNotRunning = errors.New("manager is not running")

// Submit validates a submission and enqueues it. The returned snapshot
// carries the temporary id the task runs under until its probe succeeds.
func (m *Manager) Submit(ctx context.Context, sub task.Submission) (*task.Task, error) {
	normalized, videoArgs, err := m.prepare(sub)
	if err != nil {
		return nil, err
	}

	stopped, err := m.liveChannel()
	if err != nil {
		return nil, err
	}
	req := &submitRequest{sub: normalized, videoArgs: videoArgs, reply: make(chan submitReply, 1)}
	select {
	case m.submits <- req:
	case <-stopped:
		return nil, errNotRunning
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case reply := <-req.reply:
		return reply.snapshot, reply.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Cancel requests cooperative cancellation of a live task. Unknown ids
// (never submitted, or already finished) report a not-found error; repeated
// cancels of a live task are logged no-ops.
func (m *Manager) Cancel(ctx context.Context, id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return services.Wrap(services.ErrValidation, "cancel", "validate", "task id is required", nil)
	}
	stopped, err := m.liveChannel()
	if err != nil {
		return err
	}
	req := &cancelRequest{id: id, reply: make(chan error, 1)}
	select {
	case m.cancels <- req:
	case <-stopped:
		return errNotRunning
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-req.reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Tasks returns snapshots of every live task ordered by submission time.
func (m *Manager) Tasks(ctx context.Context) ([]*task.Task, error) {
	stopped, err := m.liveChannel()
	if err != nil {
		return nil, err
	}
	req := &listRequest{reply: make(chan []*task.Task, 1)}
	select {
	case m.lists <- req:
	case <-stopped:
		return nil, errNotRunning
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case tasks := <-req.reply:
		return tasks, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Describe returns a snapshot of one live task.
func (m *Manager) Describe(ctx context.Context, id string) (*task.Task, error) {
	id = strings.TrimSpace(id)
	stopped, err := m.liveChannel()
	if err != nil {
		return nil, err
	}
	req := &describeRequest{id: id, reply: make(chan describeReply, 1)}
	select {
	case m.describes <- req:
	case <-stopped:
		return nil, errNotRunning
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case reply := <-req.reply:
		return reply.snapshot, reply.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (m *Manager) liveChannel() (<-chan struct{}, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.running {
		return nil, errNotRunning
	}
	return m.stopped, nil
}

// prepare validates a submission and applies configuration defaults,
// resolving the codec argument template up front so bad codec/preset pairs
// never reach a worker.
func (m *Manager) prepare(sub task.Submission) (task.Submission, []string, error) {
	sub.SourceURL = strings.TrimSpace(sub.SourceURL)
	if sub.SourceURL == "" {
		return sub, nil, services.Wrap(services.ErrValidation, "submit", "validate", "source url is required", nil)
	}

	if sub.DestDir = strings.TrimSpace(sub.DestDir); sub.DestDir == "" {
		sub.DestDir = m.cfg.Paths.DownloadDir
	}
	if sub.FormatExpr = strings.TrimSpace(sub.FormatExpr); sub.FormatExpr == "" {
		sub.FormatExpr = m.cfg.Fetch.Format
	}
	if sub.CookiesPath == "" {
		sub.CookiesPath = m.cfg.Fetch.CookiesFile
	}
	if sub.CookiesFromBrowser == "" {
		sub.CookiesFromBrowser = m.cfg.Fetch.CookiesFromBrowser
	}

	for _, bound := range []struct {
		name  string
		value string
	}{{"start", sub.StartTime}, {"end", sub.EndTime}} {
		if bound.value == "" {
			continue
		}
		if _, ok := progress.ParseClock(bound.value); !ok {
			message := fmt.Sprintf("invalid %s time %q (want HH:MM:SS)", bound.name, bound.value)
			return sub, nil, services.Wrap(services.ErrValidation, "submit", "validate", message, nil)
		}
	}
	if sub.StartTime != "" && sub.EndTime != "" {
		start, _ := progress.ParseClock(sub.StartTime)
		end, _ := progress.ParseClock(sub.EndTime)
		if end <= start {
			return sub, nil, services.Wrap(services.ErrValidation, "submit", "validate", "end time must be after start time", nil)
		}
	}

	codec := strings.ToLower(strings.TrimSpace(sub.Codec))
	preset := strings.ToLower(strings.TrimSpace(sub.Preset))
	if codec == "" && preset != "" {
		codec = strings.ToLower(strings.TrimSpace(m.cfg.Transcode.Codec))
		if codec == "" {
			return sub, nil, services.Wrap(services.ErrValidation, "submit", "validate", "preset requires a codec", nil)
		}
	}
	if codec == "" {
		return sub, nil, nil
	}
	if preset == "" {
		preset = strings.ToLower(strings.TrimSpace(m.cfg.Transcode.Preset))
	}
	args, err := ffmpeg.CodecArgs(codec, preset)
	if err != nil {
		return sub, nil, err
	}
	if preset == "" {
		preset = ffmpeg.PresetDefault
	}
	sub.Codec = codec
	sub.Preset = preset
	return sub, args, nil
}
