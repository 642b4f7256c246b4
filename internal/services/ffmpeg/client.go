package ffmpeg

import (
	"context"
	"fmt"
	"strings"
	"time"

	"capstan/internal/driver"
	"capstan/internal/progress"
	"capstan/internal/services"
)

// Client wraps transcoder CLI interactions: duration probes, finalize
// re-encodes, and thumbnail conversion.
type Client struct {
	binary string
	grace  time.Duration
	exec   driver.Executor
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

// WithGrace sets the SIGTERM-to-SIGKILL window for driven processes.
func WithGrace(grace time.Duration) Option {
	return func(c *Client) {
		if grace > 0 {
			c.grace = grace
		}
	}
}

// New constructs a transcoder client.
func New(binary string, opts ...Option) (*Client, error) {
	binary = strings.TrimSpace(binary)
	if binary == "" {
		return nil, services.Wrap(services.ErrConfiguration, "", "new transcoder client", "binary required", nil)
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

// ProbeDuration runs the transcoder against the input with no output file
// and extracts the duration from the banner it prints before bailing out.
// The nonzero exit of that invocation is expected and ignored; a missing
// duration reports zero, which downstream treats as indeterminate.
func (c *Client) ProbeDuration(ctx context.Context, input string) (time.Duration, error) {
	handle, err := c.exec.Start(ctx, driver.Command{
		Binary: c.binary,
		Args:   []string{"-i", input},
		Grace:  c.grace,
	})
	if err != nil {
		return 0, services.Wrap(services.ErrSpawn, "processing", "start transcoder", c.binary, err)
	}

	var total time.Duration
	for line := range handle.Lines() {
		if d, ok := progress.ParseTranscodeDuration(line); ok {
			total = d
		}
	}
	_ = handle.Wait()

	if ctx.Err() != nil {
		return 0, services.Wrap(services.ErrCancelled, "processing", "probe duration", "terminated", ctx.Err())
	}
	return total, nil
}

// TranscodeRequest describes one finalize pass. Empty VideoArgs selects a
// pure stream copy, used to apply trim bounds when no re-encode was
// requested.
type TranscodeRequest struct {
	Input     string
	Output    string
	Start     string
	End       string
	VideoArgs []string
}

// TranscodeCommand builds the finalize invocation. The caller starts it
// through the driver and owns the resulting line stream. Audio streams are
// always copied, never re-encoded.
func (c *Client) TranscodeCommand(req TranscodeRequest) driver.Command {
	args := []string{"-y"}
	if req.Start != "" {
		args = append(args, "-ss", req.Start)
	}
	if req.End != "" {
		args = append(args, "-to", req.End)
	}
	args = append(args, "-i", req.Input)
	if len(req.VideoArgs) > 0 {
		args = append(args, req.VideoArgs...)
		args = append(args, "-c:a", "copy")
	} else {
		args = append(args, "-c", "copy")
	}
	args = append(args, req.Output)

	return driver.Command{
		Binary: c.binary,
		Args:   args,
		Grace:  c.grace,
	}
}

// ConvertThumbnail re-encodes a thumbnail into the format implied by the
// output extension. Used to normalize lossy webp stills to PNG.
func (c *Client) ConvertThumbnail(ctx context.Context, input, output string) error {
	handle, err := c.exec.Start(ctx, driver.Command{
		Binary: c.binary,
		Args:   []string{"-y", "-i", input, output},
		Grace:  c.grace,
	})
	if err != nil {
		return services.Wrap(services.ErrSpawn, "downloading", "start transcoder", c.binary, err)
	}

	var lastLine string
	for line := range handle.Lines() {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			lastLine = trimmed
		}
	}
	waitErr := handle.Wait()

	if ctx.Err() != nil {
		return services.Wrap(services.ErrCancelled, "downloading", "convert thumbnail", "terminated", ctx.Err())
	}
	if waitErr != nil {
		message := lastLine
		if message == "" {
			message = fmt.Sprintf("transcoder exited with code %d", driver.ExitCode(waitErr))
		}
		return services.Wrap(services.ErrTranscode, "downloading", "convert thumbnail", message, waitErr)
	}
	return nil
}

// Executor exposes the configured executor so workers can start transcode
// commands through the same seam tests script.
func (c *Client) Executor() driver.Executor {
	return c.exec
}

// Grace reports the configured termination grace period.
func (c *Client) Grace() time.Duration {
	return c.grace
}

// EffectiveSpan computes the duration a trimmed pass will actually process,
// the denominator for its percent math. Unparseable bounds fall back to the
// untrimmed total; zero means unknown.
func EffectiveSpan(total time.Duration, start, end string) time.Duration {
	from := time.Duration(0)
	if start != "" {
		if d, ok := progress.ParseClock(start); ok {
			from = d
		}
	}
	if end != "" {
		if to, ok := progress.ParseClock(end); ok {
			if to > from {
				return to - from
			}
			return 0
		}
	}
	if total > from {
		return total - from
	}
	return 0
}
