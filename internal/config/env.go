package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
	"github.com/rs/zerolog/log"
)

// EnvOverrides lists the settings that may be replaced from the
// environment. Unset variables leave the file value in place.
type EnvOverrides struct {
	PlayerName       *string `env:"GUILDHALL_PLAYER_NAME"`
	ListenPort       *int    `env:"GUILDHALL_LISTEN_PORT"`
	BroadcastAddress *string `env:"GUILDHALL_BROADCAST_ADDRESS"`
	AdvertiseIP      *string `env:"GUILDHALL_ADVERTISE_IP"`
	APIPort          *int    `env:"GUILDHALL_API_PORT"`
	LogLevel         *string `env:"GUILDHALL_LOG_LEVEL"`
	DatabasePath     *string `env:"GUILDHALL_DATABASE_PATH"`
}

// ApplyEnv overlays environment overrides onto the configuration.
func (c *Config) ApplyEnv() error {
	return c.applyEnv(env.Options{})
}

func (c *Config) applyEnv(opts env.Options) error {
	var o EnvOverrides
	if err := env.ParseWithOptions(&o, opts); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	applied := 0
	set := func(dst *string, v *string) {
		if v != nil {
			*dst = *v
			applied++
		}
	}
	setInt := func(dst *int, v *int) {
		if v != nil {
			*dst = *v
			applied++
		}
	}

	set(&c.PlayerData.PlayerName, o.PlayerName)
	setInt(&c.PlayerData.ListenPort, o.ListenPort)
	set(&c.PlayerData.BroadcastAddress, o.BroadcastAddress)
	set(&c.PlayerData.AdvertiseIP, o.AdvertiseIP)
	setInt(&c.PlayerData.APIPort, o.APIPort)
	set(&c.ApplicationData.Logging.Level, o.LogLevel)
	set(&c.ApplicationData.Storage.DatabasePath, o.DatabasePath)

	if applied > 0 {
		log.Debug().Int("count", applied).Msg("environment overrides applied")
	}
	return nil
}
