// Package app wires the coordination core to its transport, store and
// sinks, and runs the long-lived service loops.
package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/loadline/dispatchd/api/loads"
	"github.com/loadline/dispatchd/config"
	"github.com/loadline/dispatchd/core/assignment"
	"github.com/loadline/dispatchd/core/bus"
	coremetrics "github.com/loadline/dispatchd/core/metrics"
	"github.com/loadline/dispatchd/core/sos"
	"github.com/loadline/dispatchd/core/store"
	"github.com/loadline/dispatchd/core/tracking"
	"github.com/loadline/dispatchd/infra/logger"
	"github.com/loadline/dispatchd/infra/metrics"
	"github.com/loadline/dispatchd/infra/mqtt"
	"github.com/loadline/dispatchd/infra/redisstore"
)

// Service orchestrates the coordination core.
type Service struct {
	Bus         *bus.Bus
	Presence    *bus.Presence
	Coordinator *assignment.Coordinator
	Tracker     *tracking.Tracker
	Escalation  *sos.Escalation
	Store       store.Store

	commands *Commands
	sink     coremetrics.Sink
	cfg      *config.Config
	log      logger.Logger
	closers  []func()
}

// New creates a Service from the configuration. The transport connection
// itself is established lazily by the bus when Run subscribes.
func New(ctx context.Context, cfg *config.Config) (*Service, error) {
	logg := logger.New("service")

	transport, err := mqtt.NewPahoTransport(cfg.MQTT, logger.New("mqtt"))
	if err != nil {
		return nil, fmt.Errorf("mqtt transport: %w", err)
	}

	var st store.Store
	switch cfg.Store.Backend {
	case "redis":
		rs, err := redisstore.New(ctx, cfg.Store)
		if err != nil {
			return nil, fmt.Errorf("redis store: %w", err)
		}
		st = rs
	default:
		st = store.NewMemory()
	}

	var sinks []coremetrics.Sink
	if cfg.Metrics.PrometheusEnabled {
		sink, err := metrics.NewPromSink()
		if err != nil {
			return nil, fmt.Errorf("prom sink: %w", err)
		}
		sinks = append(sinks, sink)
	}
	if cfg.Metrics.InfluxEnabled {
		sinks = append(sinks, metrics.NewInfluxSinkWithFallback(
			cfg.Metrics.InfluxURL, cfg.Metrics.InfluxToken,
			cfg.Metrics.InfluxOrg, cfg.Metrics.InfluxBucket))
	}
	var sink coremetrics.Sink = coremetrics.NopSink{}
	if len(sinks) == 1 {
		sink = sinks[0]
	} else if len(sinks) > 1 {
		sink = metrics.NewMultiSink(sinks...)
	}

	b := bus.New(transport, cfg.Bus, logger.New("bus"))
	presence := bus.NewPresence(b, cfg.Presence, logger.New("presence"))
	coordinator := assignment.New(cfg.Assignment, st, b, sink, logger.New("assignment"))
	tracker := tracking.New(cfg.Tracking, st, b, sink, logger.New("tracking"))
	escalation := sos.New(st, b, cfg.SOS.Directory, sink, logger.New("sos"))

	svc := &Service{
		Bus:         b,
		Presence:    presence,
		Coordinator: coordinator,
		Tracker:     tracker,
		Escalation:  escalation,
		Store:       st,
		sink:        sink,
		cfg:         cfg,
		log:         logg,
	}
	svc.commands = NewCommands(b, coordinator, tracker, escalation, presence, logger.New("commands"))
	return svc, nil
}

// Run starts the service loops and blocks until the context is cancelled.
func (s *Service) Run(ctx context.Context) error {
	ref, err := s.Bus.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("connect transport: %w", err)
	}
	defer ref.Release()

	go func() {
		if err := s.commands.Run(ctx); err != nil {
			s.log.Errorf("command intake: %v", err)
		}
	}()
	go s.Coordinator.RunExpirySweep(ctx)
	go s.runPresenceRecorder(ctx)

	if s.cfg.Metrics.PrometheusEnabled {
		go func() {
			addr := ":" + s.cfg.Metrics.PrometheusPort
			if err := metrics.StartPromServer(ctx, addr); err != nil {
				s.log.Errorf("prom server: %v", err)
			}
		}()
	}
	if s.cfg.API.Addr != "" {
		go s.runAPI(ctx)
	}

	s.log.Infof("dispatchd running")
	<-ctx.Done()
	return nil
}

// runPresenceRecorder pushes the online driver count to the metrics sink
// once a minute.
func (s *Service) runPresenceRecorder(ctx context.Context) {
	rec, ok := s.sink.(coremetrics.PresenceRecorder)
	if !ok {
		return
	}
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := rec.RecordOnlineCount(s.Presence.OnlineCount()); err != nil {
				s.log.Errorf("record online count: %v", err)
			}
		}
	}
}

// runAPI serves the read-only operations endpoints until the context is
// cancelled.
func (s *Service) runAPI(ctx context.Context) {
	srv := &http.Server{Addr: s.cfg.API.Addr, Handler: loads.NewMux(s.Store, s.Presence)}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.log.Errorf("api shutdown: %v", err)
		}
	}()
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		s.log.Errorf("api server: %v", err)
	}
}

// Close releases resources held by the service.
func (s *Service) Close() error {
	s.Presence.Close()
	s.Coordinator.Close()
	s.Escalation.Close()
	if err := s.Bus.Close(); err != nil {
		return err
	}
	if c, ok := s.Store.(interface{ Close() error }); ok {
		return c.Close()
	}
	return nil
}
