package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"capstan/internal/config"
)

const userAgent = "Capstan-Go/0.1.0"

// Service defines the notification surface exposed to the task manager.
type Service interface {
	NotifyTaskCompleted(ctx context.Context, title, outputPath string) error
	NotifyTaskFailed(ctx context.Context, title, reason string) error
	NotifyTaskCancelled(ctx context.Context, title string) error
	TestNotification(ctx context.Context) error
}

// NewService builds a notification service backed by ntfy when configured.
// When no ntfy topic is configured, a noop implementation is returned.
func NewService(cfg *config.Config) Service {
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return noopService{}
	}

	timeout := time.Duration(cfg.Notifications.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	client := &http.Client{Timeout: timeout}
	return &ntfyService{
		endpoint: topic,
		client:   client,
	}
}

type payload struct {
	title    string
	message  string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint string
	client   *http.Client
}

func (n *ntfyService) NotifyTaskCompleted(ctx context.Context, title, outputPath string) error {
	title = strings.TrimSpace(title)
	outputPath = strings.TrimSpace(outputPath)
	message := fmt.Sprintf("✅ Ready to watch: %s", title)
	if outputPath != "" {
		message = fmt.Sprintf("%s\nFile: %s", message, outputPath)
	}
	data := payload{
		title:    "Capstan - Complete",
		message:  message,
		tags:     []string{"capstan", "task", "completed"},
		priority: "high",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyTaskFailed(ctx context.Context, title, reason string) error {
	title = strings.TrimSpace(title)
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = "unknown error"
	}
	data := payload{
		title:    "Capstan - Failed",
		message:  fmt.Sprintf("❌ Failed: %s\n%s", title, reason),
		tags:     []string{"capstan", "task", "failed"},
		priority: "high",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyTaskCancelled(ctx context.Context, title string) error {
	title = strings.TrimSpace(title)
	data := payload{
		title:   "Capstan - Cancelled",
		message: fmt.Sprintf("🚫 Cancelled: %s", title),
		tags:    []string{"capstan", "task", "cancelled"},
	}
	return n.send(ctx, data)
}

func (n *ntfyService) TestNotification(ctx context.Context) error {
	data := payload{
		title:    "Capstan - Test",
		message:  "🧪 Notification system test",
		tags:     []string{"capstan", "test"},
		priority: "low",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) send(ctx context.Context, data payload) error {
	if n == nil || n.client == nil {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(data.message))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if data.title != "" {
		req.Header.Set("Title", data.title)
	}
	if len(data.tags) > 0 {
		req.Header.Set("Tags", strings.Join(data.tags, ","))
	}
	if data.priority != "" && data.priority != "default" {
		req.Header.Set("Priority", data.priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

type noopService struct{}

func (noopService) NotifyTaskCompleted(context.Context, string, string) error { return nil }
func (noopService) NotifyTaskFailed(context.Context, string, string) error    { return nil }
func (noopService) NotifyTaskCancelled(context.Context, string) error         { return nil }
func (noopService) TestNotification(context.Context) error                    { return nil }
