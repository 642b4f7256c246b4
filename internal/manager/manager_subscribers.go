package manager

import "capstan/internal/task"

const defaultSubscriberBuffer = 64

// Subscribe registers an event consumer. The returned cancel func releases
// the subscription and closes the channel. When a subscriber falls behind,
// Progress and LogLine events are dropped; ProbeResult and Finished push out
// the oldest buffered event instead, so lifecycle milestones always arrive.
func (m *Manager) Subscribe(buffer int) (<-chan task.Event, func()) {
	if buffer <= 0 {
		buffer = defaultSubscriberBuffer
	}
	m.subsMu.Lock()
	defer m.subsMu.Unlock()
	if m.subsClosed {
		ch := make(chan task.Event)
		close(ch)
		return ch, func() {}
	}
	id := m.nextSubID
	m.nextSubID++
	ch := make(chan task.Event, buffer)
	m.subs[id] = ch
	cancel := func() {
		m.subsMu.Lock()
		defer m.subsMu.Unlock()
		if sub, ok := m.subs[id]; ok {
			delete(m.subs, id)
			close(sub)
		}
	}
	return ch, cancel
}

// publish runs on the event loop goroutine; the mutex only fences it against
// Subscribe/cancel calls, never against another publisher.
func (m *Manager) publish(ev task.Event) {
	m.subsMu.Lock()
	defer m.subsMu.Unlock()
	for _, ch := range m.subs {
		select {
		case ch <- ev:
			continue
		default:
		}
		switch ev.(type) {
		case task.ProbeResult, task.Finished:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- ev:
			default:
			}
		default:
			// Progress and LogLine overflow is dropped.
		}
	}
}

func (m *Manager) closeSubscribers() {
	m.subsMu.Lock()
	defer m.subsMu.Unlock()
	m.subsClosed = true
	for id, ch := range m.subs {
		delete(m.subs, id)
		close(ch)
	}
}
