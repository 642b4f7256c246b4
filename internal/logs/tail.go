package logs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"
)

const (
	// tailWindow bounds how far back a negative-offset read scans. Older
	// lines stay reachable by paging with explicit offsets.
	tailWindow = 256 * 1024

	// maxChunk bounds the bytes decoded per forward read so a single RPC
	// response stays small. Callers resume from the returned offset.
	maxChunk = 512 * 1024

	pollInterval = 250 * time.Millisecond
)

// TailOptions controls a single Tail call.
type TailOptions struct {
	// Offset is the byte position to resume from. Negative means start at
	// the end of the file and return at most Limit trailing lines.
	Offset int64
	// Limit caps the number of lines returned when Offset is negative.
	Limit int
	// Follow blocks up to Wait for new lines when the read comes back empty.
	Follow bool
	Wait   time.Duration
}

// TailResult is one page of log lines plus the offset to resume from.
type TailResult struct {
	Lines  []string
	Offset int64
}

// Tail reads lines from the log file at path. Only complete lines are
// returned; a trailing line still being written stays pending until its
// newline lands.
func Tail(ctx context.Context, path string, opts TailOptions) (TailResult, error) {
	if info, err := os.Stat(path); err == nil && info.IsDir() {
		return TailResult{Offset: opts.Offset}, fmt.Errorf("log path %q is a directory", path)
	}
	if opts.Wait < 0 {
		opts.Wait = 0
	}

	var (
		lines  []string
		offset int64
		err    error
	)
	if opts.Offset < 0 {
		lines, offset, err = lastLines(path, opts.Limit)
	} else {
		lines, offset, err = readFrom(path, opts.Offset)
	}
	if err != nil {
		return TailResult{Offset: opts.Offset}, err
	}
	if len(lines) == 0 && opts.Follow {
		return poll(ctx, path, offset, opts.Wait)
	}
	return TailResult{Lines: lines, Offset: offset}, nil
}

// lastLines returns up to limit trailing lines and the end-of-file offset.
// It reads at most tailWindow bytes from the end rather than scanning the
// whole file.
func lastLines(path string, limit int) ([]string, int64, error) {
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, 0, nil
		}
		return nil, 0, fmt.Errorf("open log file: %w", err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return nil, 0, fmt.Errorf("stat log file: %w", err)
	}
	size := info.Size()
	if limit <= 0 || size == 0 {
		return nil, size, nil
	}

	start := size - tailWindow
	if start < 0 {
		start = 0
	}
	buf := make([]byte, size-start)
	if _, err := file.ReadAt(buf, start); err != nil && !errors.Is(err, io.EOF) {
		return nil, 0, fmt.Errorf("read log file: %w", err)
	}

	text := string(buf)
	if start > 0 {
		// The window may open mid-line; drop the partial head.
		if i := strings.IndexByte(text, '\n'); i >= 0 {
			text = text[i+1:]
		} else {
			text = ""
		}
	}
	lines := splitLines(text)
	if len(lines) > limit {
		lines = lines[len(lines)-limit:]
	}
	return lines, size, nil
}

// readFrom returns the complete lines between offset and the end of the
// file, capped at maxChunk bytes. An offset past the end of the file (the
// file was truncated or rotated) resets to zero so the replacement file is
// replayed.
func readFrom(path string, offset int64) ([]string, int64, error) {
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, 0, nil
		}
		return nil, offset, fmt.Errorf("open log file: %w", err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return nil, offset, fmt.Errorf("stat log file: %w", err)
	}
	size := info.Size()
	if offset > size {
		offset = 0
	}
	if offset == size {
		return nil, offset, nil
	}

	n := size - offset
	if n > maxChunk {
		n = maxChunk
	}
	buf := make([]byte, n)
	if _, err := file.ReadAt(buf, offset); err != nil && !errors.Is(err, io.EOF) {
		return nil, offset, fmt.Errorf("read log file: %w", err)
	}

	end := bytes.LastIndexByte(buf, '\n')
	if end < 0 {
		if n < maxChunk {
			// Partial trailing line; wait for the newline.
			return nil, offset, nil
		}
		// A line longer than the window. Hand it over in pieces so the
		// reader still makes progress.
		return []string{string(buf)}, offset + n, nil
	}
	return strings.Split(string(buf[:end]), "\n"), offset + int64(end) + 1, nil
}

// poll re-reads from offset until a complete line shows up or wait expires.
func poll(ctx context.Context, path string, offset int64, wait time.Duration) (TailResult, error) {
	deadline := time.Now().Add(wait)

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		lines, next, err := readFrom(path, offset)
		if err != nil {
			return TailResult{Offset: offset}, err
		}
		if len(lines) > 0 {
			return TailResult{Lines: lines, Offset: next}, nil
		}
		offset = next

		if !time.Now().Before(deadline) {
			return TailResult{Offset: offset}, nil
		}
		select {
		case <-ctx.Done():
			return TailResult{Offset: offset}, ctx.Err()
		case <-ticker.C:
		}
	}
}

func splitLines(text string) []string {
	text = strings.TrimSuffix(text, "\n")
	if text == "" {
		return nil
	}
	return strings.Split(text, "\n")
}
