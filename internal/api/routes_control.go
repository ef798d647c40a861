package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/guildhall-project/guildhall/internal/client"
	"github.com/guildhall-project/guildhall/internal/peer"
	"github.com/guildhall-project/guildhall/internal/presence"
)

// statusFor maps a refused operation to an HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, presence.ErrInvalidName),
		errors.Is(err, presence.ErrNameTooLong),
		errors.Is(err, presence.ErrInvalidLevel):
		return http.StatusBadRequest
	case errors.Is(err, presence.ErrUnknownGame):
		return http.StatusNotFound
	case errors.Is(err, presence.ErrNotInGuildHall),
		errors.Is(err, presence.ErrBusy),
		errors.Is(err, presence.ErrNotHosting),
		errors.Is(err, presence.ErrNotJoining),
		errors.Is(err, presence.ErrNotLaunched):
		return http.StatusConflict
	case errors.Is(err, client.ErrNotRunning):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// act runs op on the update loop and replies with the resulting local state.
func (s *Server) act(c *gin.Context, action string, op func(*presence.Service) error) {
	var local presence.LocalState
	err := s.client.Do(c.Request.Context(), func(svc *presence.Service) error {
		if err := op(svc); err != nil {
			return err
		}
		local = svc.Local()
		return nil
	})
	if err != nil {
		s.logger.Warn().Err(err).Str("action", action).Msg("API: operation refused")
		c.JSON(statusFor(err), gin.H{"error": err.Error(), "action": action})
		return
	}

	s.logger.Info().Str("action", action).Str("activity", local.Activity.String()).Msg("API: operation applied")
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"action": action,
		"local":  local,
	})
}

// handleSetScreen switches the active screen.
func (s *Server) handleSetScreen(c *gin.Context) {
	var body struct {
		Screen string `json:"screen" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	screen, err := presence.ParseScreen(body.Screen)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	s.act(c, "set_screen", func(svc *presence.Service) error {
		svc.SetScreen(screen)
		return nil
	})
}

// handleCreateGame starts hosting a game.
func (s *Server) handleCreateGame(c *gin.Context) {
	var body struct {
		AdventureID uint16 `json:"adventure_id"`
		QuestID     uint16 `json:"quest_id"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	s.act(c, "create_game", func(svc *presence.Service) error {
		return svc.CreateGame(body.AdventureID, body.QuestID)
	})
}

// handleCancelCreate stops hosting.
func (s *Server) handleCancelCreate(c *gin.Context) {
	s.act(c, "cancel_create", func(svc *presence.Service) error {
		return svc.CancelCreate()
	})
}

// handleJoinGame asks a host to admit us.
func (s *Server) handleJoinGame(c *gin.Context) {
	var body struct {
		GroupID string `json:"group_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	groupID, err := peer.ParseAny(body.GroupID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	s.act(c, "join_game", func(svc *presence.Service) error {
		return svc.JoinGame(groupID)
	})
}

// handleCancelJoin abandons a pending join.
func (s *Server) handleCancelJoin(c *gin.Context) {
	s.act(c, "cancel_join", func(svc *presence.Service) error {
		return svc.CancelJoin()
	})
}

// handleLaunch starts the hosted adventure for the whole party.
func (s *Server) handleLaunch(c *gin.Context) {
	var body struct {
		StartingLevel uint16 `json:"starting_level" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	s.act(c, "launch_game", func(svc *presence.Service) error {
		return svc.LaunchGame(body.StartingLevel)
	})
}

// handleOutcome reports how the launched adventure ended.
func (s *Server) handleOutcome(c *gin.Context) {
	var body struct {
		Success *bool `json:"success" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	s.act(c, "report_outcome", func(svc *presence.Service) error {
		return svc.ReportOutcome(*body.Success)
	})
}
