package bus

import (
	"context"
	"testing"
	"time"

	"github.com/loadline/dispatchd/infra/logger"
)

func newTestPresence(t *testing.T, ttlSeconds int) (*Presence, *MockTransport) {
	t.Helper()
	tr := NewMockTransport()
	b := New(tr, Config{}, logger.NopLogger{})
	p := NewPresence(b, PresenceConfig{TTLSeconds: ttlSeconds, SweepSeconds: 1}, logger.NopLogger{})
	t.Cleanup(p.Close)
	return p, tr
}

func TestPresence_HeartbeatMarksOnlineOnce(t *testing.T) {
	p, _ := newTestPresence(t, 90)
	ctx := context.Background()
	ch := p.Events()
	defer p.StopEvents(ch)

	p.Heartbeat(ctx, "D1", "C1")
	select {
	case ev := <-ch:
		if ev.DriverID != "D1" || !ev.Online {
			t.Fatalf("event: %#v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("no online event")
	}

	// A second heartbeat inside the window only refreshes the TTL.
	p.Heartbeat(ctx, "D1", "C1")
	select {
	case ev := <-ch:
		t.Fatalf("unexpected event on refresh: %#v", ev)
	case <-time.After(50 * time.Millisecond):
	}

	if p.OnlineCount() != 1 {
		t.Fatalf("online count %d", p.OnlineCount())
	}
	entry, ok := p.Entry("D1")
	if !ok || entry.CompanyID != "C1" || !entry.Online {
		t.Fatalf("entry: %#v ok=%v", entry, ok)
	}
}

func TestPresence_ExpiryEmitsOffline(t *testing.T) {
	p, _ := newTestPresence(t, 1)
	ctx := context.Background()
	ch := p.Events()
	defer p.StopEvents(ch)

	p.Heartbeat(ctx, "D1", "")
	<-ch // online

	select {
	case ev := <-ch:
		if ev.Online {
			t.Fatalf("expected offline, got %#v", ev)
		}
		if ev.DriverID != "D1" {
			t.Fatalf("event: %#v", ev)
		}
	case <-time.After(4 * time.Second):
		t.Fatal("no offline event after TTL expiry")
	}
	if p.OnlineCount() != 0 {
		t.Fatalf("online count %d after expiry", p.OnlineCount())
	}
	if _, ok := p.Entry("D1"); ok {
		t.Fatal("entry survived expiry")
	}
}

func TestPresence_AnnouncesOnDriverAndCompanyTopics(t *testing.T) {
	p, tr := newTestPresence(t, 90)
	tr.SetConnected(true) // announce without a live subscriber connection

	p.Heartbeat(context.Background(), "D1", "C1")
	if len(tr.Published[DriverTopic("D1")]) != 1 {
		t.Fatal("no announce on driver topic")
	}
	if len(tr.Published[CompanyTopic("C1")]) != 1 {
		t.Fatal("no announce on company topic")
	}
}
