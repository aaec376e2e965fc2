package realtime

import "sync"

// mailbox runs queued deliveries for one subscriber on its own goroutine, in order.
// The queue is unbounded so a slow handler never blocks publishers.
type mailbox struct {
	mu     sync.Mutex
	items  []func()
	closed bool

	wake chan struct{}
	done chan struct{}
}

func newMailbox() *mailbox {
	m := &mailbox{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	go m.run()
	return m
}

func (m *mailbox) push(item func()) bool {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return false
	}
	m.items = append(m.items, item)
	m.mu.Unlock()

	select {
	case m.wake <- struct{}{}:
	default:
	}
	return true
}

// close drops pending deliveries. It does not wait for a running handler, so it
// is safe to call from inside one.
func (m *mailbox) close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	m.items = nil
	m.mu.Unlock()

	select {
	case m.wake <- struct{}{}:
	default:
	}
}

func (m *mailbox) run() {
	defer close(m.done)
	for range m.wake {
		for {
			m.mu.Lock()
			if m.closed {
				m.mu.Unlock()
				return
			}
			if len(m.items) == 0 {
				m.mu.Unlock()
				break
			}
			item := m.items[0]
			m.items[0] = nil
			m.items = m.items[1:]
			m.mu.Unlock()

			item()
		}
	}
}
