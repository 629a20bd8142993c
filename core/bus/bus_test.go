package bus

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/loadline/dispatchd/infra/logger"
)

func newTestBus(t *testing.T) (*Bus, *MockTransport) {
	t.Helper()
	tr := NewMockTransport()
	b := New(tr, Config{BufferSize: 4, SubscriberQueue: 8}, logger.NopLogger{})
	return b, tr
}

func recvEnvelope(t *testing.T, ch <-chan Envelope) Envelope {
	t.Helper()
	select {
	case env := <-ch:
		return env
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for envelope")
		return Envelope{}
	}
}

func TestBus_PublishReachesSubscriber(t *testing.T) {
	b, _ := newTestBus(t)
	ctx := context.Background()
	sub, err := b.Subscribe(ctx, LoadTopic("L1"), EventStatusChange)
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Close()

	if err := b.Publish(ctx, LoadTopic("L1"), EventStatusChange, map[string]string{"new_status": "assigned"}); err != nil {
		t.Fatal(err)
	}
	env := recvEnvelope(t, sub.C())
	if env.Event != EventStatusChange || env.Topic != "load:L1" {
		t.Fatalf("envelope: %#v", env)
	}
	var body map[string]string
	if err := env.Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body["new_status"] != "assigned" {
		t.Fatalf("payload: %v", body)
	}
}

func TestBus_EventNameFilter(t *testing.T) {
	b, _ := newTestBus(t)
	ctx := context.Background()
	sub, err := b.Subscribe(ctx, DriverTopic("D1"), EventAssignmentNew)
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Close()

	_ = b.Publish(ctx, DriverTopic("D1"), EventLocationUpdate, map[string]int{"n": 1})
	_ = b.Publish(ctx, DriverTopic("D1"), EventAssignmentNew, map[string]int{"n": 2})

	env := recvEnvelope(t, sub.C())
	if env.Event != EventAssignmentNew {
		t.Fatalf("filter leaked %s", env.Event)
	}
	select {
	case extra := <-sub.C():
		t.Fatalf("unexpected extra delivery: %#v", extra)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestBus_PerTopicOrder(t *testing.T) {
	b, _ := newTestBus(t)
	ctx := context.Background()
	sub, err := b.Subscribe(ctx, LoadTopic("L1"))
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Close()

	for i := 0; i < 5; i++ {
		if err := b.Publish(ctx, LoadTopic("L1"), EventLocationUpdate, map[string]int{"seq": i}); err != nil {
			t.Fatal(err)
		}
	}
	for i := 0; i < 5; i++ {
		env := recvEnvelope(t, sub.C())
		var body map[string]int
		_ = env.Decode(&body)
		if body["seq"] != i {
			t.Fatalf("out of order: got %d want %d", body["seq"], i)
		}
	}
}

func TestBus_ConnectionRefCounting(t *testing.T) {
	b, tr := newTestBus(t)
	ctx := context.Background()

	sub1, err := b.Subscribe(ctx, LoadTopic("L1"))
	if err != nil {
		t.Fatal(err)
	}
	sub2, err := b.Subscribe(ctx, DriverTopic("D1"))
	if err != nil {
		t.Fatal(err)
	}
	if tr.Closed != 0 {
		t.Fatal("transport closed while subscribers remain")
	}
	sub1.Close()
	sub1.Close() // redundant close is safe
	if tr.Closed != 0 {
		t.Fatal("transport closed while one subscriber remains")
	}
	sub2.Close()
	if tr.Closed != 1 {
		t.Fatalf("transport not torn down at zero subscribers: %d", tr.Closed)
	}
}

func TestBus_BuffersDuringOutageAndFlushes(t *testing.T) {
	b, tr := newTestBus(t)
	ctx := context.Background()
	ref, err := b.Acquire(ctx)
	if err != nil {
		t.Fatal(err)
	}
	defer ref.Release()

	tr.SetConnected(false)
	for i := 0; i < 6; i++ {
		if err := b.Publish(ctx, LoadTopic("L1"), EventLocationUpdate, map[string]int{"seq": i}); err != nil {
			t.Fatalf("publish during outage must not fail: %v", err)
		}
	}
	if got := len(tr.Published["load:L1"]); got != 0 {
		t.Fatalf("published during outage: %d", got)
	}

	tr.SetConnected(true)
	// Buffer bound is 4, so the two oldest were dropped.
	msgs := tr.Published["load:L1"]
	if len(msgs) != 4 {
		t.Fatalf("flushed %d events, want 4", len(msgs))
	}
	var env Envelope
	if err := json.Unmarshal(msgs[0], &env); err != nil {
		t.Fatal(err)
	}
	var body map[string]int
	_ = env.Decode(&body)
	if body["seq"] != 2 {
		t.Fatalf("oldest surviving event is seq %d, want 2", body["seq"])
	}
}

func TestBus_ReplayDeduplication(t *testing.T) {
	b, tr := newTestBus(t)
	ctx := context.Background()
	sub, err := b.Subscribe(ctx, LoadTopic("L1"))
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Close()

	env := Envelope{ID: "evt-1", Event: EventStatusChange, Timestamp: time.Now(), Payload: []byte(`{}`)}
	raw, _ := json.Marshal(env)
	tr.Deliver("load:L1", raw)
	tr.Deliver("load:L1", raw) // replayed duplicate

	first := recvEnvelope(t, sub.C())
	if first.ID != "evt-1" {
		t.Fatalf("envelope: %#v", first)
	}
	select {
	case dup := <-sub.C():
		t.Fatalf("duplicate delivered: %#v", dup)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestBus_ResubscribesAfterReconnect(t *testing.T) {
	b, tr := newTestBus(t)
	ctx := context.Background()
	sub, err := b.Subscribe(ctx, LoadTopic("L1"))
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Close()

	stateCh := b.ConnectionStates()
	defer b.StopStates(stateCh)

	tr.SetConnected(false)
	ev := <-stateCh
	if ev.Connected {
		t.Fatal("expected disconnected event")
	}
	tr.SetConnected(true)
	ev = <-stateCh
	if !ev.Connected {
		t.Fatal("expected connected event")
	}

	if err := b.Publish(ctx, LoadTopic("L1"), EventStatusChange, map[string]int{"n": 1}); err != nil {
		t.Fatal(err)
	}
	env := recvEnvelope(t, sub.C())
	if env.Event != EventStatusChange {
		t.Fatalf("after reconnect: %#v", env)
	}
}
