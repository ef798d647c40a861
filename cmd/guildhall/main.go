// Guild Hall - peer-to-peer presence and matchmaking client.
//
// Guild Hall broadcasts the local player's presence on the LAN, keeps a
// roster of everyone else, negotiates who joins whose game, and tells the
// whole party when an adventure starts and how it ended. A REST API,
// websocket feed and MQTT telemetry expose the same events to other tools.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/guildhall-project/guildhall/internal/api"
	"github.com/guildhall-project/guildhall/internal/cli"
	"github.com/guildhall-project/guildhall/internal/client"
	"github.com/guildhall-project/guildhall/internal/config"
	"github.com/guildhall-project/guildhall/internal/db"
	"github.com/guildhall-project/guildhall/internal/events"
	"github.com/guildhall-project/guildhall/internal/health"
	"github.com/guildhall-project/guildhall/internal/scheduler"
	"github.com/guildhall-project/guildhall/internal/telemetry"
	"github.com/guildhall-project/guildhall/internal/util"
)

const (
	AppName    = "Guild Hall"
	AppVersion = "1.0.0"
	Banner     = `
   ____       _ _     _   _   _       _ _
  / ___|_   _(_) | __| | | | | | __ _| | |
 | |  _| | | | | |/ _' | | |_| |/ _' | | |
 | |_| | |_| | | | (_| | |  _  | (_| | | |
  \____|\__,_|_|_|\__,_| |_| |_|\__,_|_|_|  v%s
 Peer-to-peer presence & matchmaking
`
)

func main() {
	fmt.Printf(Banner, AppVersion)
	fmt.Println()
	api.Version = AppVersion

	// Defaults first; reconfigured once the config is loaded.
	if err := util.InitLogger(util.DefaultLogConfig()); err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	log.Info().
		Str("version", AppVersion).
		Str("platform", runtime.GOOS).
		Str("arch", runtime.GOARCH).
		Int("cpus", runtime.NumCPU()).
		Msg("starting Guild Hall")

	configDir := os.Getenv("GUILDHALL_CONFIG_DIR")
	if configDir == "" {
		configDir = config.DefaultConfigDir
	}
	cfg, err := config.Load(configDir)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	if cfg.IsFirstRun() {
		log.Info().Msg("first run detected, launching setup wizard")
		if err := config.RunSetupWizard(cfg); err != nil {
			log.Fatal().Err(err).Msg("setup wizard failed")
		}
	}

	logging := cfg.GetApplicationData().Logging
	if err := util.InitLogger(util.LogConfig{
		Level:      logging.Level,
		Directory:  logging.Directory,
		MaxSizeMB:  logging.MaxSizeMB,
		MaxBackups: logging.MaxBackups,
		Console:    true,
	}); err != nil {
		log.Warn().Err(err).Msg("failed to reconfigure logger, using defaults")
	}

	validation := config.Validate(cfg)
	for _, w := range validation.Warnings {
		log.Warn().Str("field", w.Field).Msg(w.Message)
	}
	if !validation.IsValid() {
		for _, e := range validation.Errors {
			log.Error().Str("field", e.Field).Msg(e.Message)
		}
		log.Fatal().Msg("configuration validation failed, please fix the errors above")
	}

	sysInfo := util.GetSystemInfo()
	log.Info().
		Str("hostname", sysInfo.Hostname).
		Str("os", sysInfo.OS).
		Str("cpu", sysInfo.CPUModel).
		Int("cores", sysInfo.CPUCores).
		Uint64("memory_mb", sysInfo.TotalMemory).
		Msg("system information")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	eventBus := events.NewEventBus()

	gh, err := client.New(ctx, cfg, eventBus)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create guild hall client")
	}
	log.Info().
		Str("player", cfg.GetPlayerData().PlayerName).
		Str("address", gh.Self().String()).
		Msg("client created")

	// History is optional: the client runs without it.
	var (
		history     *db.HistoryStore
		apiHistory  api.History
		cliHistory  cli.History
		schedPruner scheduler.HistoryPruner
	)
	history, err = db.NewHistoryStore(cfg.GetApplicationData().Storage.DatabasePath, gh.Self())
	if err != nil {
		log.Warn().Err(err).Msg("failed to open adventure history, history disabled")
	} else {
		history.Subscribe(eventBus)
		apiHistory, cliHistory, schedPruner = history, history, history
	}

	healthMgr := health.NewManager(cfg, eventBus, gh)
	sched := scheduler.NewScheduler(cfg, schedPruner, gh)
	apiServer := api.NewServer(cfg, eventBus, gh, apiHistory, healthMgr)
	cliHandler := cli.NewCLI(cfg, eventBus, gh, cliHistory)

	var mqttHandler *telemetry.MQTTHandler
	if cfg.GetApplicationData().MQTT.Enabled {
		mqttHandler, err = telemetry.NewMQTTHandler(cfg, eventBus)
		if err != nil {
			log.Warn().Err(err).Msg("failed to initialize MQTT, telemetry disabled")
		}
	}

	var wg sync.WaitGroup
	errCh := make(chan error, 4)

	// Update loop: without it there is nothing to serve.
	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Info().Int("port", cfg.GetPlayerData().ListenPort).Msg("starting update loop")
		if err := gh.Start(ctx); err != nil {
			errCh <- fmt.Errorf("update loop: %w", err)
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Info().Int("port", cfg.GetPlayerData().APIPort).Msg("starting REST API server")
		if err := startWithRetry(ctx, "API server", apiServer.Start, 5); err != nil {
			log.Warn().Err(err).Msg("API server failed after retries (non-fatal)")
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		healthMgr.Start(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		sched.Start(ctx)
	}()

	if mqttHandler != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			log.Info().Msg("starting MQTT telemetry")
			if err := mqttHandler.Start(ctx); err != nil {
				log.Warn().Err(err).Msg("MQTT telemetry failed")
			}
		}()
	}

	// The console stops on its own when stdin closes.
	go cliHandler.Start(ctx)

	quitCh := make(chan struct{}, 1)
	eventBus.Subscribe(events.EventShutdown, "main.shutdown", func(_ context.Context, event events.Event) error {
		if event.Source != "main" {
			select {
			case quitCh <- struct{}{}:
			default:
			}
		}
		return nil
	})

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("received shutdown signal")
	case <-quitCh:
		log.Info().Msg("shutdown requested from console")
	case err := <-errCh:
		log.Error().Err(err).Msg("critical error, initiating shutdown")
	}

	log.Info().Msg("initiating graceful shutdown...")

	// The loop announces that we left as it stops.
	cancel()

	eventBus.Emit(context.Background(), events.Event{
		Type:   events.EventShutdown,
		Source: "main",
	})

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info().Msg("all tasks stopped gracefully")
	case <-time.After(15 * time.Second):
		log.Warn().Msg("shutdown timed out after 15 seconds, forcing exit")
	}

	if mqttHandler != nil {
		mqttHandler.PublishShutdown()
	}

	eventBus.Stop()

	if history != nil {
		if err := history.Close(); err != nil {
			log.Warn().Err(err).Msg("failed to close adventure history")
		}
	}

	log.Info().Msg("Guild Hall stopped")
}

// startWithRetry attempts to start a listener/server with retry on bind
// errors, waiting 3 seconds between attempts.
func startWithRetry(ctx context.Context, name string, startFn func(context.Context) error, maxRetries int) error {
	var lastErr error
	for i := 0; i <= maxRetries; i++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		lastErr = startFn(ctx)
		if lastErr == nil {
			return nil
		}
		if i < maxRetries {
			log.Warn().Err(lastErr).Str("component", name).Int("retry", i+1).Int("max", maxRetries).Msg("bind failed, retrying in 3s...")
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(3 * time.Second):
			}
		}
	}
	return lastErr
}
