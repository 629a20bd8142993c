// Package mqtt adapts the Eclipse Paho client to the bus transport port.
package mqtt

import (
	"context"
	"fmt"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/loadline/dispatchd/core/bus"
	"github.com/loadline/dispatchd/infra/logger"
)

// pahoClient is the subset of the paho client used by the transport.
type pahoClient interface {
	IsConnected() bool
	Connect() paho.Token
	Disconnect(quiesce uint)
	Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token
	Subscribe(topic string, qos byte, callback paho.MessageHandler) paho.Token
	Unsubscribe(topics ...string) paho.Token
}

var newMQTTClient = func(opts *paho.ClientOptions) pahoClient {
	return paho.NewClient(opts)
}

// PahoTransport implements bus.Transport over an MQTT broker. Reconnection
// is delegated to paho; the transport reports state changes upward and the
// bus handles resubscription and buffered replay.
type PahoTransport struct {
	cfg Config
	log logger.Logger

	mu      sync.Mutex
	cli     pahoClient
	state   bus.StateHandler
	backoff time.Duration
}

// NewPahoTransport creates an unconnected transport. Connect is driven by
// the bus when the first subscriber or publisher needs the wire.
func NewPahoTransport(cfg Config, log logger.Logger) (*PahoTransport, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &PahoTransport{
		cfg:     cfg,
		log:     log,
		backoff: time.Duration(cfg.BackoffMS) * time.Millisecond,
	}, nil
}

// Connect dials the broker and blocks until the connection settles or the
// context is done.
func (t *PahoTransport) Connect(ctx context.Context) error {
	opts, err := NewClientOptions(t.cfg)
	if err != nil {
		return err
	}
	opts.OnConnect = func(paho.Client) {
		t.log.Infof("MQTT connected to %s", t.cfg.Broker)
		t.fireState(true)
	}
	opts.OnConnectionLost = func(_ paho.Client, err error) {
		t.log.Errorf("MQTT connection lost: %v", err)
		t.fireState(false)
	}
	opts.OnReconnecting = func(_ paho.Client, _ *paho.ClientOptions) {
		t.log.Warnf("reconnecting to MQTT broker")
	}

	cli := newMQTTClient(opts)
	token := cli.Connect()
	done := make(chan struct{})
	go func() {
		token.Wait()
		close(done)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("connect %s: %w", t.cfg.Broker, err)
	}

	t.mu.Lock()
	t.cli = cli
	t.mu.Unlock()
	return nil
}

// Publish sends the payload, retrying with exponential backoff on failure.
func (t *PahoTransport) Publish(topic string, payload []byte) error {
	t.mu.Lock()
	cli := t.cli
	t.mu.Unlock()
	if cli == nil {
		return fmt.Errorf("publish %s: transport not connected", topic)
	}

	qos := t.qosFor("event")
	var publishErr error
	for attempt := 0; attempt <= t.cfg.MaxRetries; attempt++ {
		token := cli.Publish(topic, qos, false, payload)
		token.Wait()
		publishErr = token.Error()
		if publishErr == nil {
			return nil
		}
		t.log.Errorf("publish attempt %d on %s failed: %v", attempt+1, topic, publishErr)
		time.Sleep(t.backoff * time.Duration(1<<attempt))
	}
	return fmt.Errorf("publish %s: %w", topic, publishErr)
}

// Subscribe wires the handler into a broker subscription. Resubscription
// after a reconnect is the bus's job, so no handler state is kept here.
func (t *PahoTransport) Subscribe(topic string, h bus.MessageHandler) error {
	t.mu.Lock()
	cli := t.cli
	t.mu.Unlock()
	if cli == nil {
		return fmt.Errorf("subscribe %s: transport not connected", topic)
	}

	token := cli.Subscribe(topic, t.qosFor("event"), func(_ paho.Client, msg paho.Message) {
		h(msg.Topic(), msg.Payload())
	})
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("subscribe %s: %w", topic, token.Error())
	}
	return nil
}

// Unsubscribe drops the broker subscription.
func (t *PahoTransport) Unsubscribe(topic string) error {
	t.mu.Lock()
	cli := t.cli
	t.mu.Unlock()
	if cli == nil {
		return nil
	}
	token := cli.Unsubscribe(topic)
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("unsubscribe %s: %w", topic, token.Error())
	}
	return nil
}

// OnState registers the connection state callback.
func (t *PahoTransport) OnState(h bus.StateHandler) {
	t.mu.Lock()
	t.state = h
	t.mu.Unlock()
}

// Close disconnects from the broker.
func (t *PahoTransport) Close() {
	t.mu.Lock()
	cli := t.cli
	t.cli = nil
	t.mu.Unlock()
	if cli != nil && cli.IsConnected() {
		cli.Disconnect(250)
	}
}

func (t *PahoTransport) fireState(connected bool) {
	t.mu.Lock()
	h := t.state
	t.mu.Unlock()
	if h != nil {
		h(connected)
	}
}

func (t *PahoTransport) qosFor(kind string) byte {
	if q, ok := t.cfg.QoS[kind]; ok {
		return q
	}
	return 1
}
