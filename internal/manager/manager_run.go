package manager

import (
	"context"
	"errors"
)

// Start launches the event loop. A Manager runs at most once; construct a
// fresh one after Stop.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return errors.New("manager already running")
	}
	if m.stopped != nil {
		return errors.New("manager already stopped")
	}
	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.running = true
	m.stopped = make(chan struct{})
	m.wg.Add(1)
	go m.run(runCtx)
	return nil
}

// Stop cancels every active task, waits for their workers to resolve, and
// shuts the event loop down. Safe to call more than once.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	cancel := m.cancel
	m.cancel = nil
	m.mu.Unlock()

	cancel()
	m.wg.Wait()
}

// Running reports whether the event loop is live.
func (m *Manager) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

func (m *Manager) run(ctx context.Context) {
	defer m.wg.Done()
	defer close(m.stopped)

	for {
		select {
		case <-ctx.Done():
			m.shutdown(ctx)
			return
		case ev := <-m.inbox:
			m.handleEvent(ctx, ev)
		case req := <-m.submits:
			m.handleSubmit(ctx, req)
		case req := <-m.cancels:
			req.reply <- m.handleCancel(req.id)
		case req := <-m.lists:
			req.reply <- m.snapshotAll()
		case req := <-m.describes:
			req.reply <- m.handleDescribe(req.id)
		}
	}
}

// shutdown cancels every live task, then keeps consuming worker events until
// all workers resolved. Terminal outcomes reached here are archived and
// notified like any other.
func (m *Manager) shutdown(ctx context.Context) {
	ids := make([]string, 0, len(m.tasks))
	for id := range m.tasks {
		ids = append(ids, id)
	}
	for _, id := range ids {
		_ = m.handleCancel(id)
	}

	settled := make(chan struct{})
	go func() {
		m.workers.Wait()
		close(settled)
	}()

	for {
		select {
		case ev := <-m.inbox:
			m.handleEvent(ctx, ev)
		case <-settled:
			for {
				select {
				case ev := <-m.inbox:
					m.handleEvent(ctx, ev)
				default:
					m.notifyWg.Wait()
					m.closeSubscribers()
					return
				}
			}
		}
	}
}

func (m *Manager) spawn(ctx context.Context, w stageWorker) {
	m.workers.Add(1)
	go func() {
		defer m.workers.Done()
		w.Run(ctx)
	}()
}
