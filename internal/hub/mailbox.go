package hub

import (
	"sync"

	"github.com/austinkregel/local-media/tandem/internal/socket"
)

// mailbox is an unbounded FIFO drained by a single consumer goroutine
type mailbox struct {
	mu     sync.Mutex
	items  []socket.Envelope
	closed bool
	signal chan struct{}
}

func newMailbox() *mailbox {
	return &mailbox{signal: make(chan struct{}, 1)}
}

func (m *mailbox) push(env socket.Envelope) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.items = append(m.items, env)
	m.mu.Unlock()
	m.wake()
}

func (m *mailbox) wake() {
	select {
	case m.signal <- struct{}{}:
	default:
	}
}

// close stops the consumer once the queued items are delivered
func (m *mailbox) close() {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	m.wake()
}

// run delivers items in order until the mailbox is closed and drained
func (m *mailbox) run(fn func(socket.Envelope)) {
	for {
		m.mu.Lock()
		for len(m.items) == 0 {
			if m.closed {
				m.mu.Unlock()
				return
			}
			m.mu.Unlock()
			<-m.signal
			m.mu.Lock()
		}
		batch := m.items
		m.items = nil
		m.mu.Unlock()

		for _, env := range batch {
			fn(env)
		}
	}
}
