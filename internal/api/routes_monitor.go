package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/guildhall-project/guildhall/internal/events"
	"github.com/guildhall-project/guildhall/internal/peer"
	"github.com/guildhall-project/guildhall/internal/presence"
	"github.com/guildhall-project/guildhall/internal/roster"
	"github.com/guildhall-project/guildhall/internal/scheduler"
)

// read runs fn on the update loop and writes its result as JSON.
func (s *Server) read(c *gin.Context, fn func(*presence.Service) interface{}) {
	var result interface{}
	err := s.client.Do(c.Request.Context(), func(svc *presence.Service) error {
		result = fn(svc)
		return nil
	})
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, result)
}

// handleGetLocal returns our own presence state.
func (s *Server) handleGetLocal(c *gin.Context) {
	s.read(c, func(svc *presence.Service) interface{} {
		return svc.Local()
	})
}

// handleGetRoster returns every known player.
func (s *Server) handleGetRoster(c *gin.Context) {
	s.read(c, func(svc *presence.Service) interface{} {
		players := svc.Roster().Snapshot()
		return gin.H{"players": players, "total": len(players)}
	})
}

// handleGetRoom returns the players at our location.
func (s *Server) handleGetRoom(c *gin.Context) {
	s.read(c, func(svc *presence.Service) interface{} {
		players := orEmpty(svc.Room())
		return gin.H{"location": svc.Location(), "players": players}
	})
}

// handleGetParty returns the members of a group, by default our own.
func (s *Server) handleGetParty(c *gin.Context) {
	var requested peer.Address
	if g := c.Query("group"); g != "" {
		parsed, err := peer.ParseAny(g)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		requested = parsed
	}

	s.read(c, func(svc *presence.Service) interface{} {
		group := requested
		if group.IsBlank() {
			local := svc.Local()
			group = local.GroupID
		}
		return gin.H{"group_id": group, "members": orEmpty(svc.Party(group))}
	})
}

// handleGetGames lists open games in the guild hall.
func (s *Server) handleGetGames(c *gin.Context) {
	s.read(c, func(svc *presence.Service) interface{} {
		games := svc.OpenGames()
		if games == nil {
			games = []events.GameListingPayload{}
		}
		return gin.H{"games": games, "total": len(games)}
	})
}

// handleGetHistory returns the most recent adventures.
func (s *Server) handleGetHistory(c *gin.Context) {
	if s.history == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "history is not enabled"})
		return
	}

	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil || limit <= 0 || limit > 500 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be between 1 and 500"})
		return
	}

	adventures, err := s.history.Recent(limit)
	if err != nil {
		s.logger.Error().Err(err).Msg("API: history query failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "history query failed"})
		return
	}
	total, err := s.history.Count()
	if err != nil {
		total = len(adventures)
	}

	c.JSON(http.StatusOK, gin.H{
		"adventures": adventures,
		"total":      total,
	})
}

// handleGetPeers returns per-peer traffic stats.
func (s *Server) handleGetPeers(c *gin.Context) {
	peers := s.client.Peers().All()
	c.JSON(http.StatusOK, gin.H{
		"peers": peers,
		"total": len(peers),
	})
}

// handleGetHealth returns the latest health check status.
func (s *Server) handleGetHealth(c *gin.Context) {
	if s.health == nil {
		c.JSON(http.StatusOK, gin.H{"loop_running": s.client.Running()})
		return
	}
	c.JSON(http.StatusOK, s.health.Snapshot())
}

// handleGetStats returns roster counts by location.
func (s *Server) handleGetStats(c *gin.Context) {
	stats, err := scheduler.CollectRosterStats(c.Request.Context(), s.client)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, stats)
}

func orEmpty(records []roster.PlayerRecord) []roster.PlayerRecord {
	if records == nil {
		return []roster.PlayerRecord{}
	}
	return records
}
