package testsupport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"capstan/internal/driver"
)

// ErrTerminated is the Wait error a scripted run reports after Terminate.
var ErrTerminated = errors.New("terminated")

// ScriptedRun describes one scripted process execution.
type ScriptedRun struct {
	// Lines are emitted on the handle's line stream in order.
	Lines []string
	// Err is returned from Wait once the run finishes on its own.
	Err error
	// Hook runs when the command starts, before any lines are emitted.
	// Useful for creating the files a real tool would have written. A
	// non-nil error fails the spawn.
	Hook func(cmd driver.Command) error
	// Block keeps the process "running" after the last line until the
	// handle is terminated or the context is cancelled.
	Block bool
}

// FakeExecutor replays scripted runs in order and records every command it
// was asked to start. The zero value fails all starts.
type FakeExecutor struct {
	mu       sync.Mutex
	Runs     []ScriptedRun
	Commands []driver.Command
	started  int
}

// Start implements driver.Executor.
func (f *FakeExecutor) Start(ctx context.Context, cmd driver.Command) (driver.Handle, error) {
	f.mu.Lock()
	f.Commands = append(f.Commands, cmd)
	if f.started >= len(f.Runs) {
		f.mu.Unlock()
		return nil, fmt.Errorf("unscripted execution of %s", cmd.Binary)
	}
	run := f.Runs[f.started]
	f.started++
	f.mu.Unlock()

	if run.Hook != nil {
		if err := run.Hook(cmd); err != nil {
			return nil, err
		}
	}

	h := &fakeHandle{
		lines:      make(chan string, len(run.Lines)+1),
		done:       make(chan struct{}),
		terminated: make(chan struct{}),
	}
	go h.replay(ctx, run)
	return h, nil
}

// StartedCount reports how many runs were consumed.
func (f *FakeExecutor) StartedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.started
}

type fakeHandle struct {
	lines      chan string
	done       chan struct{}
	terminated chan struct{}
	termOnce   sync.Once
	err        error
}

func (h *fakeHandle) replay(ctx context.Context, run ScriptedRun) {
	defer close(h.done)
	for _, line := range run.Lines {
		select {
		case h.lines <- line:
		case <-h.terminated:
			close(h.lines)
			h.err = ErrTerminated
			return
		case <-ctx.Done():
			close(h.lines)
			h.err = ctx.Err()
			return
		}
	}
	if run.Block {
		select {
		case <-h.terminated:
			close(h.lines)
			h.err = ErrTerminated
			return
		case <-ctx.Done():
			close(h.lines)
			h.err = ctx.Err()
			return
		}
	}
	close(h.lines)
	h.err = run.Err
}

func (h *fakeHandle) Lines() <-chan string {
	return h.lines
}

func (h *fakeHandle) Terminate(time.Duration) {
	h.termOnce.Do(func() { close(h.terminated) })
}

func (h *fakeHandle) Wait() error {
	<-h.done
	return h.err
}
