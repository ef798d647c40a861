// Package scheduler runs periodic maintenance for the Guild Hall client:
// adventure history retention and roster statistics.
package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/guildhall-project/guildhall/internal/config"
	"github.com/guildhall-project/guildhall/internal/presence"
	"github.com/guildhall-project/guildhall/internal/roster"
	"github.com/guildhall-project/guildhall/internal/util"
)

// HistoryPruner deletes history rows older than a cutoff.
type HistoryPruner interface {
	Prune(cutoff time.Time) (int64, error)
}

// Loop runs a function on the presence update loop.
type Loop interface {
	Do(ctx context.Context, fn func(*presence.Service) error) error
}

// RosterStats is a snapshot of who is present, by location.
type RosterStats struct {
	Present   int `json:"present"`
	Town      int `json:"town"`
	GuildHall int `json:"guild_hall"`
	InLevel   int `json:"in_level"`
	OpenGames int `json:"open_games"`
}

// Scheduler manages periodic background tasks.
type Scheduler struct {
	cfg     *config.Config
	history HistoryPruner
	loop    Loop
	logger  zerolog.Logger
	now     func() time.Time
}

// NewScheduler creates a new task scheduler. Either dependency may be nil,
// which disables the corresponding task.
func NewScheduler(cfg *config.Config, history HistoryPruner, loop Loop) *Scheduler {
	return &Scheduler{
		cfg:     cfg,
		history: history,
		loop:    loop,
		logger:  util.ComponentLogger("scheduler"),
		now:     time.Now,
	}
}

// Start runs all scheduled tasks until ctx is canceled.
func (s *Scheduler) Start(ctx context.Context) {
	app := s.cfg.GetApplicationData()
	s.logger.Info().Msg("scheduler started")

	if s.history != nil && app.Storage.RetentionDays > 0 {
		go s.every(ctx, app.Timers.HistoryPruneInterval, func() { s.pruneHistory(app.Storage.RetentionDays) })
	}
	if s.loop != nil {
		go s.every(ctx, app.Timers.RosterStatsInterval, func() { s.logRosterStats(ctx) })
	}

	<-ctx.Done()
	s.logger.Info().Msg("scheduler stopped")
}

func (s *Scheduler) every(ctx context.Context, seconds int, fn func()) {
	if seconds <= 0 {
		return
	}
	ticker := time.NewTicker(time.Duration(seconds) * time.Second)
	defer ticker.Stop()

	fn()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn()
		}
	}
}

// pruneHistory removes adventures older than the retention window.
func (s *Scheduler) pruneHistory(retentionDays int) {
	cutoff := s.now().Add(-time.Duration(retentionDays) * 24 * time.Hour)
	removed, err := s.history.Prune(cutoff)
	if err != nil {
		s.logger.Warn().Err(err).Msg("history prune failed")
		return
	}
	if removed > 0 {
		s.logger.Info().
			Int64("removed", removed).
			Time("cutoff", cutoff).
			Msg("pruned adventure history")
	}
}

func (s *Scheduler) logRosterStats(ctx context.Context) {
	stats, err := CollectRosterStats(ctx, s.loop)
	if err != nil {
		s.logger.Debug().Err(err).Msg("roster stats unavailable")
		return
	}
	s.logger.Info().
		Int("present", stats.Present).
		Int("town", stats.Town).
		Int("guild_hall", stats.GuildHall).
		Int("in_level", stats.InLevel).
		Int("open_games", stats.OpenGames).
		Msg("roster stats")
}

// CollectRosterStats counts the roster on the update loop.
func CollectRosterStats(ctx context.Context, loop Loop) (RosterStats, error) {
	var stats RosterStats
	err := loop.Do(ctx, func(svc *presence.Service) error {
		stats = countRoster(svc)
		return nil
	})
	return stats, err
}

func countRoster(svc *presence.Service) RosterStats {
	var stats RosterStats
	svc.Roster().Each(func(rec *roster.PlayerRecord) bool {
		stats.Present++
		switch rec.Location {
		case roster.LocationTown:
			stats.Town++
		case roster.LocationGuildHall:
			stats.GuildHall++
		case roster.LocationInGame:
			stats.InLevel++
		}
		return true
	})
	stats.OpenGames = len(svc.OpenGames())
	return stats
}
