package app

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loadline/dispatchd/core/assignment"
	"github.com/loadline/dispatchd/core/bus"
	"github.com/loadline/dispatchd/core/model"
	"github.com/loadline/dispatchd/core/sos"
	"github.com/loadline/dispatchd/core/store"
	"github.com/loadline/dispatchd/core/tracking"
	"github.com/loadline/dispatchd/infra/logger"
)

type commandsFixture struct {
	st       *store.Memory
	bus      *bus.Bus
	commands *Commands
	cancel   context.CancelFunc
}

func newCommandsFixture(t *testing.T) *commandsFixture {
	t.Helper()
	st := store.NewMemory()
	tr := bus.NewMockTransport()
	tr.SetConnected(true)
	b := bus.New(tr, bus.Config{BufferSize: 16, SubscriberQueue: 16}, logger.NopLogger{})

	coordinator := assignment.New(assignment.Config{}, st, b, nil, logger.NopLogger{})
	tracker := tracking.New(tracking.Config{}, st, b, nil, logger.NopLogger{})
	escalation := sos.New(st, b, sos.StaticDirectory{}, nil, logger.NopLogger{})
	presence := bus.NewPresence(b, bus.PresenceConfig{}, logger.NopLogger{})

	c := NewCommands(b, coordinator, tracker, escalation, presence, logger.NopLogger{})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		_ = c.Run(ctx)
	}()
	// Wait for the intake subscription before publishing commands.
	require.Eventually(t, func() bool {
		return b.Publish(ctx, CommandTopic, "probe", nil) == nil
	}, time.Second, 10*time.Millisecond)

	f := &commandsFixture{st: st, bus: b, commands: c, cancel: cancel}
	t.Cleanup(func() {
		cancel()
		presence.Close()
		coordinator.Close()
		escalation.Close()
		_ = b.Close()
	})
	return f
}

func (f *commandsFixture) seedLoad(t *testing.T, id string) {
	t.Helper()
	require.NoError(t, f.st.PutLoad(context.Background(), &model.Load{
		ID:        id,
		CompanyID: "C1",
		Status:    model.StatusBooked,
	}))
}

func TestCommandsOfferAcceptFlow(t *testing.T) {
	f := newCommandsFixture(t)
	f.seedLoad(t, "L1")
	ctx := context.Background()

	err := f.bus.Publish(ctx, CommandTopic, CmdOffer, OfferCommand{
		LoadID: "L1", DriverID: "D1", TruckID: "T1", Actor: "dispatcher-1",
	})
	require.NoError(t, err)

	var assignmentID string
	require.Eventually(t, func() bool {
		as, err := f.st.OfferedForLoad(ctx, "L1")
		if err != nil || as == nil {
			return false
		}
		assignmentID = as.ID
		return true
	}, time.Second, 10*time.Millisecond)

	err = f.bus.Publish(ctx, CommandTopic, CmdAccept, DecisionCommand{
		AssignmentID: assignmentID, Actor: "D1",
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		l, err := f.st.GetLoad(ctx, "L1")
		return err == nil && l.Status == model.StatusTripAccepted
	}, time.Second, 10*time.Millisecond)

	l, err := f.st.GetLoad(ctx, "L1")
	require.NoError(t, err)
	assert.Equal(t, "D1", l.DriverID)
}

func TestCommandsHeartbeatMarksOnline(t *testing.T) {
	f := newCommandsFixture(t)
	ctx := context.Background()

	err := f.bus.Publish(ctx, CommandTopic, CmdHeartbeat, HeartbeatCommand{
		DriverID: "D7", CompanyID: "C1",
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return f.commands.presence.OnlineCount() == 1
	}, time.Second, 10*time.Millisecond)
}

func TestCommandsSOSCreate(t *testing.T) {
	f := newCommandsFixture(t)
	ctx := context.Background()

	err := f.bus.Publish(ctx, CommandTopic, CmdSOSCreate, sos.CreateRequest{
		DriverID: "D1",
		Message:  "blowout on I-80",
		Location: &model.LatLng{Lat: 41.2, Lng: -95.9},
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		alerts, err := f.commands.escalation.ListOpen(ctx)
		return err == nil && len(alerts) == 1
	}, time.Second, 10*time.Millisecond)
}

func TestCommandsMalformedPayloadDoesNotStopIntake(t *testing.T) {
	f := newCommandsFixture(t)
	f.seedLoad(t, "L2")
	ctx := context.Background()

	// Payload shape mismatch: decode fails, intake must keep going.
	require.NoError(t, f.bus.Publish(ctx, CommandTopic, CmdOffer, "not-an-object"))

	err := f.bus.Publish(ctx, CommandTopic, CmdOffer, OfferCommand{
		LoadID: "L2", DriverID: "D2", TruckID: "T2", Actor: "dispatcher-1",
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		as, err := f.st.OfferedForLoad(ctx, "L2")
		return err == nil && as != nil
	}, time.Second, 10*time.Millisecond)
}
