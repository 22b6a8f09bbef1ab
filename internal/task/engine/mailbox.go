package engine

import "sync"

// mailbox is the completion channel between workers and the reconciler.
//
// It is unbounded so a worker never blocks on report, and it exposes a
// one-slot wake channel so the reconciler can react without waiting for a tick.
type mailbox struct {
	mu    sync.Mutex
	items []completion
	wake  chan struct{}
}

func newMailbox() *mailbox {
	return &mailbox{wake: make(chan struct{}, 1)}
}

func (m *mailbox) push(c completion) {
	m.mu.Lock()
	m.items = append(m.items, c)
	m.mu.Unlock()

	select {
	case m.wake <- struct{}{}:
	default:
	}
}

// drain takes everything available right now.
func (m *mailbox) drain() []completion {
	m.mu.Lock()
	out := m.items
	m.items = nil
	m.mu.Unlock()
	return out
}

func (m *mailbox) len() int {
	m.mu.Lock()
	n := len(m.items)
	m.mu.Unlock()
	return n
}

// ready is signaled after every push.
func (m *mailbox) ready() <-chan struct{} { return m.wake }
