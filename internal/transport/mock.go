package transport

import (
	"context"
	"sync"
)

// Mock is an in-process transport. It records every reply and lets callers
// inject inbound messages, which is all the engine needs when no Signal
// account is registered (mock mode) and in tests.
type Mock struct {
	mu    sync.Mutex
	sent  []string
	inbox chan Message
}

// NewMock creates a mock transport with a buffered inbox.
func NewMock() *Mock {
	return &Mock{inbox: make(chan Message, 64)}
}

// Send records the reply text.
func (m *Mock) Send(_ context.Context, _ Message, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, text)
	return nil
}

// ResolveSender returns the sender carried on the message.
func (m *Mock) ResolveSender(msg Message) string {
	return msg.Sender
}

// Inject queues an inbound message.
func (m *Mock) Inject(msg Message) {
	m.inbox <- msg
}

// Messages returns the inbound message stream.
func (m *Mock) Messages() <-chan Message {
	return m.inbox
}

// Sent returns a copy of all replies sent so far.
func (m *Mock) Sent() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.sent))
	copy(out, m.sent)
	return out
}

// LastReply returns the most recent reply, empty if none.
func (m *Mock) LastReply() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sent) == 0 {
		return ""
	}
	return m.sent[len(m.sent)-1]
}

// Reset clears the recorded replies.
func (m *Mock) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = nil
}
