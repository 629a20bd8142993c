// Package bus implements the addressable pub/sub fabric every other
// component publishes through. It layers topic naming, per-topic fan-out,
// presence tracking and outage buffering over a Transport, and manages the
// process-wide transport connection as a reference-counted handle.
package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/loadline/dispatchd/core/events"
	"github.com/loadline/dispatchd/core/logger"
	"github.com/loadline/dispatchd/internal/eventbus"
)

// Well-known event names carried on the bus.
const (
	EventAssignmentNew      = "assignment-new"
	EventAssignmentAccepted = "assignment-accepted"
	EventAssignmentRejected = "assignment-rejected"
	EventStatusChange       = "status-change"
	EventLocationUpdate     = "location-update"
	EventDriverSOS          = "driver-sos"
	EventSOSAcknowledged    = "sos-acknowledged"
	EventSOSResolved        = "sos-resolved"
	EventSOSCancelled       = "sos-cancelled"
	EventDriverOnline       = "driver-online"
	EventDriverOffline      = "driver-offline"
)

// Config defines bus buffering and replay settings.
type Config struct {
	// BufferSize bounds the outgoing queue kept while the transport is
	// down. Beyond it the oldest buffered events are dropped.
	BufferSize int `json:"buffer_size"`
	// ReplayWindowSeconds bounds duplicate suppression after a
	// reconnect replay.
	ReplayWindowSeconds int `json:"replay_window_seconds"`
	// SubscriberQueue is the per-subscription delivery queue length.
	SubscriberQueue int `json:"subscriber_queue"`
}

// SetDefaults applies sane defaults.
func (c *Config) SetDefaults() {
	if c.BufferSize <= 0 {
		c.BufferSize = 256
	}
	if c.ReplayWindowSeconds <= 0 {
		c.ReplayWindowSeconds = 60
	}
	if c.SubscriberQueue <= 0 {
		c.SubscriberQueue = 32
	}
}

// Envelope is the wire shape of every event on the bus.
type Envelope struct {
	ID        string          `json:"id"`
	Event     string          `json:"event"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`

	// Topic is set on delivery, not carried on the wire.
	Topic string `json:"-"`
}

// Decode unmarshals the payload into v.
func (e Envelope) Decode(v any) error { return json.Unmarshal(e.Payload, v) }

type outbound struct {
	topic string
	raw   []byte
	event string
}

// Bus is the channel fabric. All methods are safe for concurrent use.
type Bus struct {
	transport Transport
	cfg       Config
	log       logger.Logger
	states    *eventbus.Bus[events.ConnectionEvent]

	mu        sync.Mutex
	refs      int
	connected bool
	subs      map[string][]*Subscription
	topicRefs map[string]int
	pending   []outbound
	seen      map[string]time.Time

	now func() time.Time
}

// New creates a Bus over the given transport. The transport connection is
// not established until the first handle is acquired.
func New(t Transport, cfg Config, log logger.Logger) *Bus {
	cfg.SetDefaults()
	b := &Bus{
		transport: t,
		cfg:       cfg,
		log:       log,
		states:    eventbus.New[events.ConnectionEvent](),
		subs:      make(map[string][]*Subscription),
		topicRefs: make(map[string]int),
		seen:      make(map[string]time.Time),
		now:       time.Now,
	}
	t.OnState(b.onState)
	return b
}

// ConnRef is a handle on the shared transport connection. The connection is
// established when the first handle is acquired and torn down when the last
// one is released.
type ConnRef struct {
	bus  *Bus
	once sync.Once
}

// Release gives the handle back. Safe to call more than once.
func (r *ConnRef) Release() {
	r.once.Do(func() { r.bus.release() })
}

// Acquire returns a handle on the shared transport connection, connecting
// lazily on the first acquisition.
func (b *Bus) Acquire(ctx context.Context) (*ConnRef, error) {
	b.mu.Lock()
	b.refs++
	first := b.refs == 1
	b.mu.Unlock()

	if first {
		if err := b.transport.Connect(ctx); err != nil {
			b.mu.Lock()
			b.refs--
			b.mu.Unlock()
			return nil, fmt.Errorf("bus: connect transport: %w", err)
		}
	}
	return &ConnRef{bus: b}, nil
}

func (b *Bus) release() {
	b.mu.Lock()
	if b.refs > 0 {
		b.refs--
	}
	last := b.refs == 0
	b.mu.Unlock()
	if last {
		b.transport.Close()
	}
}

// Subscription is a subscriber bound to one topic and a set of event names.
type Subscription struct {
	topic  string
	events map[string]bool
	ch     chan Envelope
	bus    *Bus
	ref    *ConnRef
	once   sync.Once
}

// C returns the delivery channel.
func (s *Subscription) C() <-chan Envelope { return s.ch }

// Close releases the subscription and, when it was the last holder, the
// underlying transport connection.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.bus.dropSubscription(s)
		s.ref.Release()
	})
}

func (s *Subscription) wants(event string) bool {
	return len(s.events) == 0 || s.events[event]
}

// Subscribe binds a new subscriber to topic for the given event names. An
// empty event list receives every event on the topic.
func (b *Bus) Subscribe(ctx context.Context, topic string, eventNames ...string) (*Subscription, error) {
	ref, err := b.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	sub := &Subscription{
		topic: topic,
		ch:    make(chan Envelope, b.cfg.SubscriberQueue),
		bus:   b,
		ref:   ref,
	}
	if len(eventNames) > 0 {
		sub.events = make(map[string]bool, len(eventNames))
		for _, e := range eventNames {
			sub.events[e] = true
		}
	}

	b.mu.Lock()
	b.subs[topic] = append(b.subs[topic], sub)
	b.topicRefs[topic]++
	needTransportSub := b.topicRefs[topic] == 1
	b.mu.Unlock()

	if needTransportSub {
		if err := b.transport.Subscribe(topic, b.onMessage); err != nil {
			b.mu.Lock()
			b.removeSub(sub)
			b.mu.Unlock()
			ref.Release()
			return nil, fmt.Errorf("bus: subscribe %s: %w", topic, err)
		}
	}
	return sub, nil
}

// removeSub must be called with b.mu held. Returns true when the topic has
// no subscribers left.
func (b *Bus) removeSub(sub *Subscription) bool {
	list := b.subs[sub.topic]
	for i, s := range list {
		if s == sub {
			b.subs[sub.topic] = append(list[:i], list[i+1:]...)
			b.topicRefs[sub.topic]--
			break
		}
	}
	if b.topicRefs[sub.topic] <= 0 {
		delete(b.subs, sub.topic)
		delete(b.topicRefs, sub.topic)
		return true
	}
	return false
}

func (b *Bus) dropSubscription(sub *Subscription) {
	b.mu.Lock()
	lastOnTopic := b.removeSub(sub)
	b.mu.Unlock()
	if lastOnTopic {
		if err := b.transport.Unsubscribe(sub.topic); err != nil {
			b.log.Errorf("unsubscribe %s: %v", sub.topic, err)
		}
	}
	close(sub.ch)
}

// Publish fans the payload out to every live subscription on the topic.
// During a transport outage the event is buffered rather than failing the
// caller; beyond the buffer bound the oldest events are dropped and the
// backpressure counter incremented.
func (b *Bus) Publish(_ context.Context, topic, event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("bus: encode %s: %w", event, err)
	}
	env := Envelope{
		ID:        uuid.NewString(),
		Event:     event,
		Timestamp: b.now(),
		Payload:   data,
	}
	raw, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("bus: encode envelope: %w", err)
	}

	b.mu.Lock()
	if !b.connected {
		b.buffer(outbound{topic: topic, raw: raw, event: event})
		b.mu.Unlock()
		return nil
	}
	b.mu.Unlock()

	if err := b.transport.Publish(topic, raw); err != nil {
		b.log.Warnf("publish %s on %s failed, buffering: %v", event, topic, err)
		b.mu.Lock()
		b.buffer(outbound{topic: topic, raw: raw, event: event})
		b.mu.Unlock()
		return nil
	}
	publishedTotal.WithLabelValues(event).Inc()
	return nil
}

// buffer must be called with b.mu held.
func (b *Bus) buffer(o outbound) {
	b.pending = append(b.pending, o)
	if len(b.pending) > b.cfg.BufferSize {
		dropped := b.pending[0]
		b.pending = b.pending[1:]
		backpressureDrops.Inc()
		b.log.Warnf("backpressure: dropped buffered %s on %s", dropped.event, dropped.topic)
	}
	bufferedGauge.Set(float64(len(b.pending)))
}

// onMessage delivers an inbound envelope to local subscribers in arrival
// order for its topic. Duplicates inside the replay window are suppressed.
func (b *Bus) onMessage(topic string, payload []byte) {
	var env Envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		b.log.Errorf("invalid envelope on %s: %v", topic, err)
		return
	}
	env.Topic = topic

	b.mu.Lock()
	if b.isDuplicate(env.ID) {
		b.mu.Unlock()
		return
	}
	targets := append([]*Subscription(nil), b.subs[topic]...)
	b.mu.Unlock()

	for _, sub := range targets {
		if !sub.wants(env.Event) {
			continue
		}
		select {
		case sub.ch <- env:
		default:
			subscriberDrops.Inc()
			b.log.Warnf("subscriber queue full on %s, dropped %s", topic, env.Event)
		}
	}
}

// isDuplicate must be called with b.mu held. It records the ID and prunes
// entries that fell out of the replay window.
func (b *Bus) isDuplicate(id string) bool {
	if id == "" {
		return false
	}
	now := b.now()
	window := time.Duration(b.cfg.ReplayWindowSeconds) * time.Second
	if _, ok := b.seen[id]; ok {
		return true
	}
	b.seen[id] = now
	if len(b.seen) > 4*b.cfg.BufferSize {
		for k, ts := range b.seen {
			if now.Sub(ts) > window {
				delete(b.seen, k)
			}
		}
	}
	return false
}

// onState reacts to transport connection changes: on reconnect it restores
// every active topic subscription and flushes the outage buffer in order.
func (b *Bus) onState(connected bool) {
	b.mu.Lock()
	b.connected = connected
	var topics []string
	var flush []outbound
	if connected {
		for t := range b.topicRefs {
			topics = append(topics, t)
		}
		flush = b.pending
		b.pending = nil
		bufferedGauge.Set(0)
	}
	b.mu.Unlock()

	b.states.Publish(events.ConnectionEvent{Connected: connected, Time: b.now()})
	if !connected {
		b.log.Warnf("transport disconnected, buffering publishes")
		return
	}

	for _, t := range topics {
		if err := b.transport.Subscribe(t, b.onMessage); err != nil {
			b.log.Errorf("resubscribe %s: %v", t, err)
		}
	}
	for _, o := range flush {
		if err := b.transport.Publish(o.topic, o.raw); err != nil {
			b.log.Errorf("flush %s on %s: %v", o.event, o.topic, err)
			continue
		}
		publishedTotal.WithLabelValues(o.event).Inc()
	}
	if n := len(flush); n > 0 {
		b.log.Infof("flushed %d buffered events after reconnect", n)
	}
}

// ConnectionStates returns a channel of connection-state transitions for
// in-process observers. The caller releases it with StopStates.
func (b *Bus) ConnectionStates() <-chan events.ConnectionEvent {
	return b.states.Subscribe()
}

// StopStates removes a connection-state observer.
func (b *Bus) StopStates(ch <-chan events.ConnectionEvent) {
	b.states.Unsubscribe(ch)
}

// Close tears down the observer bus. Transport teardown is reference
// driven, not part of Close.
func (b *Bus) Close() error {
	b.states.Close()
	return nil
}
