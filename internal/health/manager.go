// Package health implements periodic health checks for the Guild Hall
// client: transport state, reliable send backlog and silent peers.
package health

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/guildhall-project/guildhall/internal/config"
	"github.com/guildhall-project/guildhall/internal/events"
	"github.com/guildhall-project/guildhall/internal/network"
	"github.com/guildhall-project/guildhall/internal/util"
)

// BacklogWarnThreshold is the number of unacknowledged reliable sends
// above which a warning is raised.
const BacklogWarnThreshold = 32

// Target is the client surface the checks inspect.
type Target interface {
	Running() bool
	Transport() *network.UDPTransport
	Peers() *network.PeerTable
}

// Status is the result of the most recent round of checks.
type Status struct {
	CheckedAt   time.Time          `json:"checked_at"`
	LoopRunning bool               `json:"loop_running"`
	Transport   bool               `json:"transport_open"`
	Backlog     int                `json:"retry_backlog"`
	Dropped     uint64             `json:"dropped_datagrams"`
	SilentPeers []network.PeerStat `json:"silent_peers"`
	Warnings    []string           `json:"warnings"`
}

// Manager runs periodic health checks on the client.
type Manager struct {
	cfg      *config.Config
	eventBus *events.EventBus
	target   Target
	logger   zerolog.Logger
	now      func() time.Time

	mu         sync.Mutex
	lastSilent map[string]bool
}

// NewManager creates a new health check manager.
func NewManager(cfg *config.Config, eventBus *events.EventBus, target Target) *Manager {
	return &Manager{
		cfg:        cfg,
		eventBus:   eventBus,
		target:     target,
		logger:     util.ComponentLogger("health"),
		now:        time.Now,
		lastSilent: make(map[string]bool),
	}
}

// Start runs the checks on the configured interval until ctx is canceled.
func (m *Manager) Start(ctx context.Context) {
	interval := time.Duration(m.cfg.GetApplicationData().Timers.HealthCheckInterval) * time.Second
	if interval <= 0 {
		m.logger.Info().Msg("health checks disabled")
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	m.logger.Info().Dur("interval", interval).Msg("health check manager started")
	for {
		select {
		case <-ctx.Done():
			m.logger.Info().Msg("health check manager stopped")
			return
		case <-ticker.C:
			m.Check(ctx)
		}
	}
}

// Check runs every check once, emits a warning event per finding and
// returns the collected status. A silent peer is reported once until it
// is heard from again.
func (m *Manager) Check(ctx context.Context) Status {
	status := m.Snapshot()

	m.mu.Lock()
	current := make(map[string]bool, len(status.SilentPeers))
	for _, p := range status.SilentPeers {
		current[p.Address.String()] = true
	}
	previous := m.lastSilent
	m.lastSilent = current
	m.mu.Unlock()

	for _, w := range status.Warnings {
		check, detail := splitWarning(w)
		if check == "silent_peer" && previous[strings.Fields(detail)[0]] {
			continue
		}
		m.logger.Warn().Str("check", check).Msg(detail)
		if m.eventBus != nil {
			m.eventBus.Emit(ctx, events.Event{
				Type:   events.EventHealthWarning,
				Source: "health_check",
				Payload: events.HealthWarningPayload{
					Check:   check,
					Message: detail,
				},
			})
		}
	}
	return status
}

// Snapshot collects the current status without emitting events.
func (m *Manager) Snapshot() Status {
	timers := m.cfg.GetApplicationData().Timers
	now := m.now()
	status := Status{
		CheckedAt:   now,
		LoopRunning: m.target.Running(),
		SilentPeers: []network.PeerStat{},
		Warnings:    []string{},
	}

	if !status.LoopRunning {
		status.Warnings = append(status.Warnings, "loop: update loop is not running")
	}

	if udp := m.target.Transport(); udp != nil {
		status.Transport = udp.IsOpen()
		status.Backlog = udp.Queue().Pending()
		status.Dropped = udp.Dropped()
		if !status.Transport {
			status.Warnings = append(status.Warnings, "transport: UDP socket is closed")
		}
		if status.Backlog > BacklogWarnThreshold {
			status.Warnings = append(status.Warnings,
				fmt.Sprintf("backlog: %d reliable sends awaiting acknowledgement", status.Backlog))
		}
	}

	if peers := m.target.Peers(); peers != nil && timers.SilentPeerAfter > 0 {
		if silent := peers.Silent(now, time.Duration(timers.SilentPeerAfter)*time.Second); silent != nil {
			status.SilentPeers = silent
		}
		for _, p := range status.SilentPeers {
			status.Warnings = append(status.Warnings,
				fmt.Sprintf("silent_peer: %s not heard since %s", p.Address, p.LastSeen.Format(time.RFC3339)))
		}
	}
	return status
}

func splitWarning(warning string) (check, detail string) {
	if name, rest, ok := strings.Cut(warning, ": "); ok {
		return name, rest
	}
	return "general", warning
}
