package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/guildhall-project/guildhall/internal/util"
)

// Version is reported by the public endpoints.
var Version = "1.0.0"

// handlePing returns a simple liveness response.
func (s *Server) handlePing(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "guildhall",
		"version": Version,
	})
}

// handleGetInfo returns the player identity and host information.
func (s *Server) handleGetInfo(c *gin.Context) {
	player := s.cfg.GetPlayerData()
	sysInfo := util.GetSystemInfo()

	info := gin.H{
		"player_name":     player.PlayerName,
		"listen_port":     player.ListenPort,
		"loop_running":    s.client.Running(),
		"ticks":           s.client.Ticks(),
		"version":         Version,
		"platform":        sysInfo.Platform,
		"os":              sysInfo.OS,
		"hostname":        sysInfo.Hostname,
		"cpu_model":       sysInfo.CPUModel,
		"cpu_cores":       sysInfo.CPUCores,
		"total_memory_mb": sysInfo.TotalMemory,
	}

	if load, err := util.GetHostLoad(); err == nil {
		info["load"] = load
	} else {
		s.logger.Debug().Err(err).Msg("host load unavailable")
	}

	c.JSON(http.StatusOK, info)
}
