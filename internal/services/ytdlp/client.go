package ytdlp

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"capstan/internal/driver"
	"capstan/internal/services"
)

// ErrNoMetadata marks a probe that exited cleanly without emitting a
// metadata document.
var ErrNoMetadata = errors.New("no metadata emitted")

// Client wraps fetch-tool CLI interactions: metadata probes and download
// command construction.
type Client struct {
	binary         string
	ffmpegLocation string
	grace          time.Duration
	exec           driver.Executor
}

// Option configures the client.
type Option func(*Client)

// WithExecutor injects a custom executor (primarily for tests).
func WithExecutor(exec driver.Executor) Option {
	return func(c *Client) {
		if exec != nil {
			c.exec = exec
		}
	}
}

// WithFFmpegLocation passes a transcoder directory to the fetch tool for its
// container merges.
func WithFFmpegLocation(dir string) Option {
	return func(c *Client) {
		c.ffmpegLocation = strings.TrimSpace(dir)
	}
}

// WithGrace sets the SIGTERM-to-SIGKILL window for driven processes.
func WithGrace(grace time.Duration) Option {
	return func(c *Client) {
		if grace > 0 {
			c.grace = grace
		}
	}
}

// New constructs a fetch-tool client.
func New(binary string, opts ...Option) (*Client, error) {
	binary = strings.TrimSpace(binary)
	if binary == "" {
		return nil, services.Wrap(services.ErrConfiguration, "", "new fetch client", "binary required", nil)
	}
	client := &Client{
		binary: binary,
		grace:  2 * time.Second,
		exec:   driver.NewExecutor(),
	}
	for _, opt := range opts {
		opt(client)
	}
	return client, nil
}

// ProbeRequest describes a metadata-only invocation.
type ProbeRequest struct {
	URL                string
	CookiesFile        string
	CookiesFromBrowser string
}

// Probe runs the fetch tool in metadata mode and decodes the emitted JSON
// document. Cancelling ctx terminates the external process.
func (c *Client) Probe(ctx context.Context, req ProbeRequest) (*Info, error) {
	if strings.TrimSpace(req.URL) == "" {
		return nil, services.Wrap(services.ErrValidation, "extracting", "probe", "url required", nil)
	}

	args := []string{"--dump-single-json", "--skip-download", "--no-warnings"}
	args = appendCookieArgs(args, req.CookiesFile, req.CookiesFromBrowser)
	args = append(args, req.URL)

	handle, err := c.exec.Start(ctx, driver.Command{
		Binary: c.binary,
		Args:   args,
		Grace:  c.grace,
	})
	if err != nil {
		return nil, services.Wrap(services.ErrSpawn, "extracting", "start fetch tool", c.binary, err)
	}

	var payload, toolError string
	for line := range handle.Lines() {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "{") {
			payload = trimmed
			continue
		}
		if strings.HasPrefix(trimmed, "ERROR") {
			toolError = trimmed
		}
	}
	waitErr := handle.Wait()

	if ctx.Err() != nil {
		return nil, services.Wrap(services.ErrCancelled, "extracting", "probe", "terminated", ctx.Err())
	}
	if waitErr != nil {
		message := toolError
		if message == "" {
			message = fmt.Sprintf("fetch tool exited with code %d", driver.ExitCode(waitErr))
		}
		return nil, services.Wrap(services.ErrProbe, "extracting", "probe metadata", message, waitErr)
	}
	if payload == "" {
		return nil, services.Wrap(services.ErrProbe, "extracting", "probe metadata", "", ErrNoMetadata)
	}

	info, err := ParseInfo([]byte(payload))
	if err != nil {
		return nil, services.Wrap(services.ErrProbe, "extracting", "decode metadata", "", err)
	}
	return info, nil
}

// FetchRequest describes one download invocation.
type FetchRequest struct {
	URL                 string
	OutputTemplate      string
	Format              string
	MergeContainer      string
	ConcurrentFragments int
	ForceOverwrites     bool
	WriteThumbnail      bool
	CookiesFile         string
	CookiesFromBrowser  string
	WorkDir             string
}

// FetchCommand builds the download invocation. The caller starts it through
// the driver and owns the resulting line stream.
func (c *Client) FetchCommand(req FetchRequest) driver.Command {
	args := []string{"--newline", "-o", req.OutputTemplate}
	if req.ConcurrentFragments > 1 {
		args = append(args, "-N", strconv.Itoa(req.ConcurrentFragments))
	}
	if req.Format != "" {
		args = append(args, "-f", req.Format)
	}
	if req.MergeContainer != "" {
		args = append(args, "--merge-output-format", req.MergeContainer)
	}
	if req.ForceOverwrites {
		args = append(args, "--force-overwrites")
	} else {
		args = append(args, "--no-overwrites")
	}
	if req.WriteThumbnail {
		args = append(args, "--write-thumbnail")
	}
	args = appendCookieArgs(args, req.CookiesFile, req.CookiesFromBrowser)
	if c.ffmpegLocation != "" {
		args = append(args, "--ffmpeg-location", c.ffmpegLocation)
	}
	args = append(args, req.URL)

	return driver.Command{
		Binary: c.binary,
		Args:   args,
		Dir:    req.WorkDir,
		Grace:  c.grace,
	}
}

// Executor exposes the configured executor so workers can start fetch
// commands through the same seam tests script.
func (c *Client) Executor() driver.Executor {
	return c.exec
}

// Grace reports the configured termination grace period.
func (c *Client) Grace() time.Duration {
	return c.grace
}

func appendCookieArgs(args []string, cookiesFile, cookiesFromBrowser string) []string {
	switch {
	case cookiesFile != "":
		return append(args, "--cookies", cookiesFile)
	case cookiesFromBrowser != "":
		return append(args, "--cookies-from-browser", cookiesFromBrowser)
	}
	return args
}
