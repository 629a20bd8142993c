package bus

import "context"

// MessageHandler receives raw payloads delivered on a subscribed topic.
type MessageHandler func(topic string, payload []byte)

// StateHandler receives connection-state changes from the transport.
type StateHandler func(connected bool)

// Transport is the underlying publish/subscribe network service the bus
// fans out through. Any broker addressed by topic string satisfies it; the
// MQTT adapter in infra/mqtt is the production implementation.
type Transport interface {
	// Connect establishes the connection. OnState must be registered
	// before Connect so the initial transition is observed.
	Connect(ctx context.Context) error
	Publish(topic string, payload []byte) error
	Subscribe(topic string, h MessageHandler) error
	Unsubscribe(topic string) error
	// OnState registers the connection-state callback.
	OnState(h StateHandler)
	Close()
}
