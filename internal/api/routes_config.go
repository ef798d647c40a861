package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/guildhall-project/guildhall/internal/config"
)

// handleGetConfig returns the full current configuration.
func (s *Server) handleGetConfig(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"player_data":      s.cfg.GetPlayerData(),
		"application_data": s.cfg.GetApplicationData(),
	})
}

// handleSetAppData validates and persists application settings. Timer and
// network changes apply on the next start.
func (s *Server) handleSetAppData(c *gin.Context) {
	var appData config.ApplicationData
	if err := c.ShouldBindJSON(&appData); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	candidate := config.DefaultConfig()
	candidate.SetPlayerData(s.cfg.GetPlayerData())
	candidate.SetApplicationData(appData)
	if result := config.Validate(candidate); !result.IsValid() {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":    "invalid application data",
			"errors":   messages(result.Errors),
			"warnings": messages(result.Warnings),
		})
		return
	}

	s.cfg.SetApplicationData(appData)
	if err := s.cfg.Save(); err != nil {
		s.logger.Error().Err(err).Msg("API: failed to save config")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to save config"})
		return
	}

	s.logger.Info().Msg("API: application data updated")
	c.JSON(http.StatusOK, gin.H{
		"status":           "updated",
		"restart_required": true,
	})
}

func messages(errs []config.ValidationError) []string {
	out := make([]string, 0, len(errs))
	for _, e := range errs {
		out = append(out, e.Error())
	}
	return out
}
