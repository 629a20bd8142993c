package test

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"testing"
	"time"

	"github.com/loadline/dispatchd/app"
	"github.com/loadline/dispatchd/core/assignment"
	"github.com/loadline/dispatchd/core/bus"
	"github.com/loadline/dispatchd/core/model"
	"github.com/loadline/dispatchd/core/sos"
	"github.com/loadline/dispatchd/core/store"
	"github.com/loadline/dispatchd/core/tracking"
	"github.com/loadline/dispatchd/infra/logger"
	"github.com/loadline/dispatchd/infra/mqtt"
	"github.com/loadline/dispatchd/test/util"
)

// newBrokerBus connects a fresh transport and bus to the given broker.
func newBrokerBus(t *testing.T, broker, clientID string) *bus.Bus {
	t.Helper()
	transport, err := mqtt.NewPahoTransport(mqtt.Config{
		Broker:   broker,
		ClientID: fmt.Sprintf("%s-%d", clientID, time.Now().UnixNano()),
	}, logger.NopLogger{})
	if err != nil {
		t.Fatalf("transport: %v", err)
	}
	b := bus.New(transport, bus.Config{BufferSize: 32, SubscriberQueue: 32}, logger.NopLogger{})
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func recvEvent(t *testing.T, sub *bus.Subscription, timeout time.Duration) bus.Envelope {
	t.Helper()
	select {
	case env, ok := <-sub.C():
		if !ok {
			t.Fatal("subscription closed")
		}
		return env
	case <-time.After(timeout):
		t.Fatal("timed out waiting for event")
	}
	return bus.Envelope{}
}

// TestOfferAcceptOverMQTTContainer runs the full offer/accept flow through a
// real Mosquitto broker: a driver-side client publishes commands on the
// intake topic and observes the resulting events on its own topics.
func TestOfferAcceptOverMQTTContainer(t *testing.T) {
	if _, err := exec.LookPath("docker"); err != nil {
		t.Skip("docker not installed")
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	broker, terminate, err := util.StartMosquitto(ctx)
	if err != nil {
		t.Skipf("mosquitto not available: %v", err)
	}
	defer terminate()

	// Service side.
	st := store.NewMemory()
	if err := st.PutLoad(ctx, &model.Load{ID: "L1", CompanyID: "C1", Status: model.StatusBooked}); err != nil {
		t.Fatalf("seed load: %v", err)
	}
	svcBus := newBrokerBus(t, broker, "svc")
	coordinator := assignment.New(assignment.Config{}, st, svcBus, nil, logger.NopLogger{})
	defer coordinator.Close()
	tracker := tracking.New(tracking.Config{}, st, svcBus, nil, logger.NopLogger{})
	escalation := sos.New(st, svcBus, sos.StaticDirectory{}, nil, logger.NopLogger{})
	defer escalation.Close()
	presence := bus.NewPresence(svcBus, bus.PresenceConfig{}, logger.NopLogger{})
	defer presence.Close()
	commands := app.NewCommands(svcBus, coordinator, tracker, escalation, presence, logger.NopLogger{})
	go func() { _ = commands.Run(ctx) }()

	// Driver side.
	driverBus := newBrokerBus(t, broker, "driver")
	driverSub, err := driverBus.Subscribe(ctx, bus.DriverTopic("D1"),
		bus.EventAssignmentNew, bus.EventAssignmentAccepted)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer driverSub.Close()
	loadSub, err := driverBus.Subscribe(ctx, bus.LoadTopic("L1"), bus.EventStatusChange)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer loadSub.Close()

	// Subscriptions race the service's intake subscription, give the
	// broker a moment to settle both.
	time.Sleep(250 * time.Millisecond)

	cmd := app.OfferCommand{LoadID: "L1", DriverID: "D1", TruckID: "T1", Actor: "dispatcher-1"}
	if err := driverBus.Publish(ctx, app.CommandTopic, app.CmdOffer, cmd); err != nil {
		t.Fatalf("publish offer: %v", err)
	}

	env := recvEvent(t, driverSub, 10*time.Second)
	if env.Event != bus.EventAssignmentNew {
		t.Fatalf("expected assignment-new, got %s", env.Event)
	}
	var offered struct {
		AssignmentID string `json:"assignment_id"`
		LoadID       string `json:"load_id"`
	}
	if err := json.Unmarshal(env.Payload, &offered); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if offered.LoadID != "L1" || offered.AssignmentID == "" {
		t.Fatalf("unexpected offer payload: %+v", offered)
	}

	accept := app.DecisionCommand{AssignmentID: offered.AssignmentID, Actor: "D1"}
	if err := driverBus.Publish(ctx, app.CommandTopic, app.CmdAccept, accept); err != nil {
		t.Fatalf("publish accept: %v", err)
	}

	env = recvEvent(t, driverSub, 10*time.Second)
	if env.Event != bus.EventAssignmentAccepted {
		t.Fatalf("expected assignment-accepted, got %s", env.Event)
	}

	// The load topic sees the status changes from the acceptance.
	env = recvEvent(t, loadSub, 10*time.Second)
	if env.Event != bus.EventStatusChange {
		t.Fatalf("expected status-change, got %s", env.Event)
	}

	deadline := time.Now().Add(10 * time.Second)
	for {
		l, err := st.GetLoad(ctx, "L1")
		if err == nil && l.Status == model.StatusTripAccepted && l.DriverID == "D1" {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("load never reached trip_accepted: %+v", l)
		}
		time.Sleep(50 * time.Millisecond)
	}
}
