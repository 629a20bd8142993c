package bus

import (
	"context"
	"fmt"
	"sync"
)

// MockTransport is an in-process Transport used in tests and by the
// injection subcommands. Published payloads loop straight back to local
// subscribers, so a single process observes its own fan-out.
type MockTransport struct {
	mu        sync.Mutex
	connected bool
	handlers  map[string]MessageHandler
	state     StateHandler

	// Published records every payload by topic, in arrival order.
	Published map[string][][]byte
	// FailTopics makes Publish fail for the listed topics.
	FailTopics map[string]bool
	// ConnectErr makes Connect fail.
	ConnectErr error
	// Closed counts Close calls.
	Closed int
}

// NewMockTransport creates an empty MockTransport.
func NewMockTransport() *MockTransport {
	return &MockTransport{
		handlers:   make(map[string]MessageHandler),
		Published:  make(map[string][][]byte),
		FailTopics: make(map[string]bool),
	}
}

func (m *MockTransport) Connect(context.Context) error {
	m.mu.Lock()
	if m.ConnectErr != nil {
		err := m.ConnectErr
		m.mu.Unlock()
		return err
	}
	m.connected = true
	state := m.state
	m.mu.Unlock()
	if state != nil {
		state(true)
	}
	return nil
}

func (m *MockTransport) Publish(topic string, payload []byte) error {
	m.mu.Lock()
	if !m.connected {
		m.mu.Unlock()
		return fmt.Errorf("mock transport: not connected")
	}
	if m.FailTopics[topic] {
		m.mu.Unlock()
		return fmt.Errorf("mock transport: publish failed")
	}
	m.Published[topic] = append(m.Published[topic], payload)
	h := m.handlers[topic]
	m.mu.Unlock()
	if h != nil {
		h(topic, payload)
	}
	return nil
}

func (m *MockTransport) Subscribe(topic string, h MessageHandler) error {
	m.mu.Lock()
	m.handlers[topic] = h
	m.mu.Unlock()
	return nil
}

func (m *MockTransport) Unsubscribe(topic string) error {
	m.mu.Lock()
	delete(m.handlers, topic)
	m.mu.Unlock()
	return nil
}

func (m *MockTransport) OnState(h StateHandler) {
	m.mu.Lock()
	m.state = h
	m.mu.Unlock()
}

func (m *MockTransport) Close() {
	m.mu.Lock()
	m.connected = false
	m.Closed++
	m.mu.Unlock()
}

// SetConnected flips the connection state and fires the state callback,
// simulating a transport outage or recovery.
func (m *MockTransport) SetConnected(connected bool) {
	m.mu.Lock()
	m.connected = connected
	state := m.state
	m.mu.Unlock()
	if state != nil {
		state(connected)
	}
}

// Deliver injects an inbound payload as if it arrived from the broker.
func (m *MockTransport) Deliver(topic string, payload []byte) {
	m.mu.Lock()
	h := m.handlers[topic]
	m.mu.Unlock()
	if h != nil {
		h(topic, payload)
	}
}
