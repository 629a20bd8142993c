package bus

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/loadline/dispatchd/core/events"
	"github.com/loadline/dispatchd/core/logger"
	"github.com/loadline/dispatchd/internal/eventbus"
)

// PresenceConfig defines heartbeat expiry settings.
type PresenceConfig struct {
	// TTLSeconds is the window after which a driver without a heartbeat
	// is considered offline.
	TTLSeconds int `json:"ttl_seconds"`
	// SweepSeconds is the interval of the background expiry sweep.
	SweepSeconds int `json:"sweep_seconds"`
}

// SetDefaults applies sane defaults.
func (c *PresenceConfig) SetDefaults() {
	if c.TTLSeconds <= 0 {
		c.TTLSeconds = 90
	}
	if c.SweepSeconds <= 0 {
		c.SweepSeconds = c.TTLSeconds / 3
		if c.SweepSeconds == 0 {
			c.SweepSeconds = 1
		}
	}
}

// PresenceEntry is the runtime record of one driver's connection liveness.
type PresenceEntry struct {
	DriverID      string    `json:"driver_id"`
	CompanyID     string    `json:"company_id,omitempty"`
	Online        bool      `json:"online"`
	LastHeartbeat time.Time `json:"last_heartbeat"`
}

// Presence tracks per-driver heartbeats with TTL expiry. A missed heartbeat
// is the offline signal itself; expiry is detected by the cache sweep, not
// by per-driver timers.
type Presence struct {
	bus     *Bus
	entries *gocache.Cache
	events  *eventbus.Bus[events.PresenceEvent]
	log     logger.Logger
}

// NewPresence creates a Presence tracker publishing through b.
func NewPresence(b *Bus, cfg PresenceConfig, log logger.Logger) *Presence {
	cfg.SetDefaults()
	p := &Presence{
		bus:     b,
		entries: gocache.New(time.Duration(cfg.TTLSeconds)*time.Second, time.Duration(cfg.SweepSeconds)*time.Second),
		events:  eventbus.New[events.PresenceEvent](),
		log:     log,
	}
	p.entries.OnEvicted(p.onExpired)
	return p
}

// Heartbeat refreshes the driver's presence window, emitting driver-online
// on the transition from offline.
func (p *Presence) Heartbeat(ctx context.Context, driverID, companyID string) {
	now := time.Now()
	_, wasOnline := p.entries.Get(driverID)
	p.entries.Set(driverID, PresenceEntry{
		DriverID:      driverID,
		CompanyID:     companyID,
		Online:        true,
		LastHeartbeat: now,
	}, gocache.DefaultExpiration)

	if wasOnline {
		return
	}
	p.log.Infof("driver %s online", driverID)
	p.events.Publish(events.PresenceEvent{DriverID: driverID, Online: true, Time: now})
	p.announce(ctx, EventDriverOnline, driverID, companyID, now)
}

func (p *Presence) onExpired(driverID string, v any) {
	entry, ok := v.(PresenceEntry)
	if !ok {
		return
	}
	now := time.Now()
	p.log.Infof("driver %s offline (last heartbeat %s)", driverID, entry.LastHeartbeat.Format(time.RFC3339))
	p.events.Publish(events.PresenceEvent{DriverID: driverID, Online: false, Time: now})
	p.announce(context.Background(), EventDriverOffline, driverID, entry.CompanyID, now)
}

func (p *Presence) announce(ctx context.Context, event, driverID, companyID string, at time.Time) {
	payload := map[string]any{"driver_id": driverID, "timestamp": at}
	if err := p.bus.Publish(ctx, DriverTopic(driverID), event, payload); err != nil {
		p.log.Errorf("%s publish: %v", event, err)
	}
	if companyID != "" {
		if err := p.bus.Publish(ctx, CompanyTopic(companyID), event, payload); err != nil {
			p.log.Errorf("%s publish: %v", event, err)
		}
	}
}

// Entry returns the live presence entry for a driver.
func (p *Presence) Entry(driverID string) (PresenceEntry, bool) {
	v, ok := p.entries.Get(driverID)
	if !ok {
		return PresenceEntry{}, false
	}
	return v.(PresenceEntry), true
}

// OnlineCount returns the number of drivers inside their heartbeat window.
func (p *Presence) OnlineCount() int {
	return len(p.entries.Items())
}

// Events returns a channel of presence transitions for in-process
// observers.
func (p *Presence) Events() <-chan events.PresenceEvent {
	return p.events.Subscribe()
}

// StopEvents removes a presence observer.
func (p *Presence) StopEvents(ch <-chan events.PresenceEvent) {
	p.events.Unsubscribe(ch)
}

// Close stops the observer bus.
func (p *Presence) Close() {
	p.events.Close()
}
