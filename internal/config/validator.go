package config

import (
	"fmt"
	"net"
	"strings"
)

// MaxPlayerNameLen is the width of the name field on the wire.
const MaxPlayerNameLen = 30

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("config validation error [%s]: %s", e.Field, e.Message)
}

// ValidationResult holds the results of configuration validation.
type ValidationResult struct {
	Errors   []ValidationError
	Warnings []ValidationError
}

// IsValid returns true if there are no validation errors.
func (r *ValidationResult) IsValid() bool {
	return len(r.Errors) == 0
}

// AddError adds a validation error.
func (r *ValidationResult) AddError(field, message string) {
	r.Errors = append(r.Errors, ValidationError{Field: field, Message: message})
}

// AddWarning adds a validation warning.
func (r *ValidationResult) AddWarning(field, message string) {
	r.Warnings = append(r.Warnings, ValidationError{Field: field, Message: message})
}

// Validate performs comprehensive validation of the configuration.
func Validate(cfg *Config) *ValidationResult {
	result := &ValidationResult{}

	player := cfg.GetPlayerData()
	app := cfg.GetApplicationData()
	validatePlayerData(&player, result)
	validateApplicationData(&app, result)

	return result
}

func validatePlayerData(data *PlayerData, result *ValidationResult) {
	name := strings.TrimSpace(data.PlayerName)
	switch {
	case name == "":
		result.AddError("player_data.player_name", "player name is required")
	case len(data.PlayerName) > MaxPlayerNameLen:
		result.AddError("player_data.player_name",
			fmt.Sprintf("player name is %d bytes (max %d)", len(data.PlayerName), MaxPlayerNameLen))
	case name != data.PlayerName:
		result.AddWarning("player_data.player_name", "player name has leading or trailing spaces")
	}

	validatePort(data.ListenPort, "player_data.listen_port", result)
	validatePort(data.APIPort, "player_data.api_port", result)
	if data.ListenPort == data.APIPort {
		result.AddError("player_data.ports", "port conflict detected: listen and api ports must differ")
	}

	// "subnet" is resolved from the LAN interface at startup.
	if data.BroadcastAddress != BroadcastSubnet {
		if ip := net.ParseIP(data.BroadcastAddress); ip == nil || ip.To4() == nil {
			result.AddError("player_data.broadcast_address",
				fmt.Sprintf("invalid IPv4 broadcast address: %q (or %q)", data.BroadcastAddress, BroadcastSubnet))
		}
	}

	if data.AdvertiseIP != "" {
		if ip := net.ParseIP(data.AdvertiseIP); ip == nil || ip.To4() == nil {
			result.AddError("player_data.advertise_ip",
				fmt.Sprintf("invalid IPv4 address: %q", data.AdvertiseIP))
		}
	}
}

func validateApplicationData(data *ApplicationData, result *ValidationResult) {
	validateTimers(&data.Timers, result)

	// MQTT
	if data.MQTT.Enabled {
		if strings.TrimSpace(data.MQTT.BrokerURL) == "" {
			result.AddError("application_data.mqtt.broker_url", "MQTT broker URL is required when enabled")
		}
		if data.MQTT.Port < 1 || data.MQTT.Port > 65535 {
			result.AddError("application_data.mqtt.port", "invalid MQTT port")
		}
	}

	// Security
	if data.Security.TLSEnabled {
		if strings.TrimSpace(data.Security.TLSCertFile) == "" {
			result.AddError("application_data.security.tls_cert_file",
				"TLS certificate file is required when TLS is enabled")
		}
		if strings.TrimSpace(data.Security.TLSKeyFile) == "" {
			result.AddError("application_data.security.tls_key_file",
				"TLS key file is required when TLS is enabled")
		}
	}

	if data.Security.RateLimitRPS < 1 {
		result.AddWarning("application_data.security.rate_limit_rps",
			"rate limit is disabled (0 RPS), this may expose the API to abuse")
	}

	// Storage
	if strings.TrimSpace(data.Storage.DatabasePath) == "" {
		result.AddError("application_data.storage.database_path", "database path is required")
	}
	if data.Storage.RetentionDays < 1 {
		result.AddError("application_data.storage.history_retention_days",
			"retention days must be at least 1")
	}
}

func validateTimers(timers *TimerConfig, result *ValidationResult) {
	if timers.TickIntervalMs < 10 || timers.TickIntervalMs > 1000 {
		result.AddError("timers.tick_interval_ms",
			fmt.Sprintf("tick interval %dms is outside 10-1000ms", timers.TickIntervalMs))
	}
	if timers.HeartbeatInterval < 1 {
		result.AddError("timers.heartbeat_interval_sec", "heartbeat interval must be at least 1s")
	} else if timers.HeartbeatInterval > 10 {
		result.AddWarning("timers.heartbeat_interval_sec",
			"heartbeat interval above 10s makes the roster slow to converge")
	}
	if timers.RetryIntervalTicks < 1 {
		result.AddError("timers.retry_interval_ticks", "retry interval must be at least 1 tick")
	}
	if timers.MaxSendAttempts < 1 {
		result.AddError("timers.max_send_attempts", "at least 1 send attempt is required")
	}
	if timers.SilentPeerAfter > 0 && timers.SilentPeerAfter <= timers.HeartbeatInterval {
		result.AddWarning("timers.silent_peer_after_sec",
			"silent peer threshold should exceed the heartbeat interval")
	}
}

func validatePort(port int, field string, result *ValidationResult) {
	if port < 1 || port > 65535 {
		result.AddError(field, fmt.Sprintf("invalid port number: %d (must be 1-65535)", port))
		return
	}
	if port < 1024 {
		result.AddWarning(field,
			fmt.Sprintf("port %d is a privileged port, may require elevated permissions", port))
	}
}

// IsPortAvailable checks if a UDP port is available for binding.
func IsPortAvailable(port int) bool {
	conn, err := net.ListenPacket("udp4", fmt.Sprintf(":%d", port))
	if err != nil {
		return false
	}
	conn.Close()
	return true
}
