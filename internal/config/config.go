// Package config handles configuration loading, validation, and persistence
// for the Guild Hall client.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	DefaultConfigDir        = "config"
	DefaultConfigFile       = "config.json"
	DefaultListenPort       = 27900
	DefaultAPIPort          = 8090
	DefaultBroadcastAddress = "255.255.255.255"

	// BroadcastSubnet selects the directed broadcast of the LAN interface.
	BroadcastSubnet = "subnet"
)

// Config is the root configuration structure for the Guild Hall client.
type Config struct {
	mu   sync.RWMutex
	path string

	PlayerData      PlayerData      `json:"player_data"`
	ApplicationData ApplicationData `json:"application_data"`
}

// PlayerData identifies the local player and the network endpoints.
type PlayerData struct {
	PlayerName       string `json:"player_name"`
	ListenPort       int    `json:"listen_port"`
	BroadcastAddress string `json:"broadcast_address"`
	AdvertiseIP      string `json:"advertise_ip"`
	APIPort          int    `json:"api_port"`
}

// ApplicationData contains client application configuration.
type ApplicationData struct {
	Timers   TimerConfig    `json:"timers"`
	MQTT     MQTTConfig     `json:"mqtt"`
	Security SecurityConfig `json:"security"`
	Logging  LoggingConfig  `json:"logging"`
	Storage  StorageConfig  `json:"storage"`
}

// TimerConfig holds the update loop, retry and health check intervals.
type TimerConfig struct {
	TickIntervalMs       int `json:"tick_interval_ms"`
	HeartbeatInterval    int `json:"heartbeat_interval_sec"`
	RetryIntervalTicks   int `json:"retry_interval_ticks"`
	MaxSendAttempts      int `json:"max_send_attempts"`
	HealthCheckInterval  int `json:"health_check_interval_sec"`
	SilentPeerAfter      int `json:"silent_peer_after_sec"`
	HistoryPruneInterval int `json:"history_prune_interval_sec"`
	RosterStatsInterval  int `json:"roster_stats_interval_sec"`
}

// MQTTConfig holds MQTT telemetry settings.
type MQTTConfig struct {
	Enabled     bool   `json:"enabled"`
	BrokerURL   string `json:"broker_url"`
	Port        int    `json:"port"`
	UseTLS      bool   `json:"use_tls"`
	CertFile    string `json:"cert_file"`
	KeyFile     string `json:"key_file"`
	CAFile      string `json:"ca_file"`
	ClientID    string `json:"client_id"`
	TopicPrefix string `json:"topic_prefix"`
}

// SecurityConfig holds API security settings.
type SecurityConfig struct {
	TLSEnabled     bool     `json:"tls_enabled"`
	TLSCertFile    string   `json:"tls_cert_file"`
	TLSKeyFile     string   `json:"tls_key_file"`
	AllowedOrigins []string `json:"allowed_origins"`
	RateLimitRPS   int      `json:"rate_limit_rps"`
	IPWhitelist    []string `json:"ip_whitelist"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `json:"level"`
	Directory  string `json:"directory"`
	MaxSizeMB  int    `json:"max_size_mb"`
	MaxBackups int    `json:"max_backups"`
}

// StorageConfig holds the adventure history database settings.
type StorageConfig struct {
	DatabasePath  string `json:"database_path"`
	RetentionDays int    `json:"history_retention_days"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		PlayerData: PlayerData{
			ListenPort:       DefaultListenPort,
			BroadcastAddress: DefaultBroadcastAddress,
			APIPort:          DefaultAPIPort,
		},
		ApplicationData: ApplicationData{
			Timers: TimerConfig{
				TickIntervalMs:       50,
				HeartbeatInterval:    2,
				RetryIntervalTicks:   10,
				MaxSendAttempts:      8,
				HealthCheckInterval:  30,
				SilentPeerAfter:      30,
				HistoryPruneInterval: 3600,
				RosterStatsInterval:  60,
			},
			MQTT: MQTTConfig{
				Enabled:     false,
				Port:        1883,
				TopicPrefix: "guildhall",
			},
			Security: SecurityConfig{
				AllowedOrigins: []string{"http://localhost:5173"},
				RateLimitRPS:   50,
			},
			Logging: LoggingConfig{
				Level:      "info",
				Directory:  "logs",
				MaxSizeMB:  10,
				MaxBackups: 5,
			},
			Storage: StorageConfig{
				DatabasePath:  filepath.Join("data", "guildhall.db"),
				RetentionDays: 30,
			},
		},
	}
}

// Load reads configuration from a JSON file and applies environment
// overrides on top.
func Load(configDir string) (*Config, error) {
	configPath := filepath.Join(configDir, DefaultConfigFile)

	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			log.Info().Str("path", configPath).Msg("config file not found, creating default")
			cfg := DefaultConfig()
			cfg.path = configPath
			if saveErr := cfg.Save(); saveErr != nil {
				return nil, fmt.Errorf("failed to save default config: %w", saveErr)
			}
			if envErr := cfg.ApplyEnv(); envErr != nil {
				return nil, envErr
			}
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	cfg := DefaultConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", configPath, err)
	}

	cfg.path = configPath
	log.Info().Str("path", configPath).Msg("configuration loaded")

	// Re-save so config.json picks up fields added since it was written.
	if saveErr := cfg.Save(); saveErr != nil {
		log.Warn().Err(saveErr).Msg("failed to re-save config with updated defaults")
	}

	// Overrides are applied after saving so they never leak into the file.
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the current configuration to disk.
func (c *Config) Save() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	dir := filepath.Dir(c.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(c.path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	log.Debug().Str("path", c.path).Msg("configuration saved")
	return nil
}

// GetPlayerData returns a copy of the player configuration.
func (c *Config) GetPlayerData() PlayerData {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.PlayerData
}

// SetPlayerData updates the player configuration.
func (c *Config) SetPlayerData(data PlayerData) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.PlayerData = data
}

// GetApplicationData returns a copy of the application data configuration.
func (c *Config) GetApplicationData() ApplicationData {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ApplicationData
}

// SetApplicationData updates the application data configuration.
func (c *Config) SetApplicationData(data ApplicationData) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ApplicationData = data
}

// UpdatePlayerField updates a single player_data field by its JSON key.
func (c *Config) UpdatePlayerField(key string, value interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	data, _ := json.Marshal(c.PlayerData)
	m := make(map[string]interface{})
	json.Unmarshal(data, &m)

	if _, ok := m[key]; !ok {
		return fmt.Errorf("unknown player_data field %q", key)
	}
	m[key] = value

	updated, _ := json.Marshal(m)
	if err := json.Unmarshal(updated, &c.PlayerData); err != nil {
		return fmt.Errorf("failed to update field %s: %w", key, err)
	}
	return nil
}

// Path returns the config file path.
func (c *Config) Path() string {
	return c.path
}

// SetPath sets the file Save writes to.
func (c *Config) SetPath(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.path = path
}

// IsFirstRun returns true if the configuration needs initial setup.
func (c *Config) IsFirstRun() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.PlayerData.PlayerName == ""
}

// TickInterval returns the update loop period.
func (t TimerConfig) TickInterval() time.Duration {
	return time.Duration(t.TickIntervalMs) * time.Millisecond
}

// HeartbeatTicks converts the heartbeat period into loop ticks.
func (t TimerConfig) HeartbeatTicks() uint64 {
	if t.TickIntervalMs <= 0 {
		return 0
	}
	ticks := t.HeartbeatInterval * 1000 / t.TickIntervalMs
	if ticks < 1 {
		ticks = 1
	}
	return uint64(ticks)
}
