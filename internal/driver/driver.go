package driver

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"
)

// Command describes one external tool invocation.
type Command struct {
	Binary string
	Args   []string
	Dir    string
	// Env entries are appended to the inherited environment.
	Env []string
	// Grace bounds how long a context-cancelled process may linger between
	// SIGTERM and the hard kill.
	Grace time.Duration
}

// Handle is a started tool process whose merged output is consumed as lines.
//
// Callers must drain Lines until it closes; Wait does not return before the
// output is fully consumed.
type Handle interface {
	// Lines streams merged stdout+stderr. Tool progress rewrites using
	// carriage returns arrive as separate lines. The channel closes when
	// the process exits and output drains.
	Lines() <-chan string
	// Terminate asks the process to stop: SIGTERM immediately, SIGKILL
	// after the grace period if it has not exited. Safe to call from any
	// goroutine and more than once.
	Terminate(grace time.Duration)
	// Wait blocks until the process is reaped and returns its exit error.
	Wait() error
}

// Executor starts tool processes. Tests substitute scripted implementations.
type Executor interface {
	Start(ctx context.Context, cmd Command) (Handle, error)
}

// NewExecutor returns the Executor backed by os/exec.
func NewExecutor() Executor {
	return execRunner{}
}

type execRunner struct{}

func (execRunner) Start(ctx context.Context, c Command) (Handle, error) {
	if strings.TrimSpace(c.Binary) == "" {
		return nil, errors.New("binary required")
	}

	cmd := exec.CommandContext(ctx, c.Binary, c.Args...) //nolint:gosec
	cmd.Dir = c.Dir
	if len(c.Env) > 0 {
		cmd.Env = append(os.Environ(), c.Env...)
	}
	cmd.Cancel = func() error {
		return cmd.Process.Signal(syscall.SIGTERM)
	}
	if c.Grace > 0 {
		cmd.WaitDelay = c.Grace
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	cmd.Stderr = cmd.Stdout

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", c.Binary, err)
	}

	h := &procHandle{
		cmd:   cmd,
		lines: make(chan string, 64),
		done:  make(chan struct{}),
	}
	go h.pump(stdout)
	return h, nil
}

type procHandle struct {
	cmd      *exec.Cmd
	lines    chan string
	done     chan struct{}
	waitErr  error
	termOnce sync.Once
}

func (h *procHandle) pump(r io.Reader) {
	scanner := bufio.NewScanner(r)
	// Probe output can be a single multi-megabyte JSON line.
	scanner.Buffer(make([]byte, 64*1024), 32*1024*1024)
	scanner.Split(ScanToolLines)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		h.lines <- line
	}
	close(h.lines)
	h.waitErr = h.cmd.Wait()
	close(h.done)
}

func (h *procHandle) Lines() <-chan string {
	return h.lines
}

func (h *procHandle) Wait() error {
	<-h.done
	return h.waitErr
}

func (h *procHandle) Terminate(grace time.Duration) {
	h.termOnce.Do(func() {
		proc := h.cmd.Process
		if proc == nil {
			return
		}
		_ = proc.Signal(syscall.SIGTERM)
		go func() {
			select {
			case <-h.done:
			case <-time.After(grace):
				_ = proc.Kill()
			}
		}()
	})
}

// ExitCode extracts the process exit code from a Wait error, or -1 when the
// error carries none (signal death, start failure, nil process state).
func ExitCode(err error) int {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}

// ScanToolLines is a bufio.SplitFunc that terminates tokens on \n, \r, or
// \r\n so in-place progress rewrites surface as individual lines.
func ScanToolLines(data []byte, atEOF bool) (int, []byte, error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
		advance := i + 1
		if data[i] == '\r' {
			if i+1 == len(data) && !atEOF {
				// Cannot yet tell \r from \r\n.
				return 0, nil, nil
			}
			if i+1 < len(data) && data[i+1] == '\n' {
				advance = i + 2
			}
		}
		return advance, data[:i], nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}
