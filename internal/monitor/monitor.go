// Package monitor runs the periodic service heartbeat. Every tick delivers
// the current service status into the monitoring room, so dashboards that
// joined it keep a live view without polling the REST surface.
package monitor

import (
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"
	"go.uber.org/zap"

	"github.com/episensor/app-template/internal/hub"
)

// RoomName is the room heartbeats are delivered to. Clients opt in by
// joining it like any other room.
const RoomName = "monitoring"

// heartbeat mirrors the status endpoint payload.
type heartbeat struct {
	Status           string    `json:"status"`
	ConnectedClients int       `json:"connectedClients"`
	Uptime           int64     `json:"uptime"`
	Timestamp        time.Time `json:"timestamp"`
}

// Monitor wraps gocron and emits the heartbeat through the dispatcher, so
// delivery follows the same room rules as any REST-initiated room message.
// The zero value is not usable; create instances with New.
type Monitor struct {
	cron     gocron.Scheduler
	hub      *hub.Hub
	dispatch *hub.Dispatcher
	interval time.Duration
	started  time.Time
	logger   *zap.Logger
}

// New creates a Monitor emitting every interval. Call Start to begin.
func New(h *hub.Hub, d *hub.Dispatcher, interval time.Duration, logger *zap.Logger) (*Monitor, error) {
	cron, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("failed to create gocron scheduler: %w", err)
	}

	return &Monitor{
		cron:     cron,
		hub:      h,
		dispatch: d,
		interval: interval,
		started:  time.Now(),
		logger:   logger.Named("monitor"),
	}, nil
}

// Start schedules the heartbeat and starts the underlying scheduler. A zero
// or negative interval disables the heartbeat entirely.
func (m *Monitor) Start() error {
	if m.interval <= 0 {
		m.logger.Info("heartbeat disabled")
		return nil
	}

	_, err := m.cron.NewJob(
		gocron.DurationJob(m.interval),
		gocron.NewTask(m.beat),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return fmt.Errorf("gocron.NewJob failed for heartbeat: %w", err)
	}

	m.cron.Start()
	m.logger.Info("heartbeat started", zap.Duration("interval", m.interval))
	return nil
}

// Stop gracefully shuts down the underlying scheduler, waiting for a tick in
// flight to complete before returning.
func (m *Monitor) Stop() error {
	if err := m.cron.Shutdown(); err != nil {
		return fmt.Errorf("monitor shutdown error: %w", err)
	}
	m.logger.Info("heartbeat stopped")
	return nil
}

// beat delivers one status frame to the monitoring room.
func (m *Monitor) beat() {
	delivered := m.dispatch.SendToRoom(RoomName, heartbeat{
		Status:           "active",
		ConnectedClients: m.hub.Count(),
		Uptime:           int64(time.Since(m.started).Seconds()),
		Timestamp:        time.Now().UTC(),
	})
	m.logger.Debug("heartbeat delivered", zap.Int("recipients", delivered))
}
