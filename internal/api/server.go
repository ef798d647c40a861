package api

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/guildhall-project/guildhall/internal/config"
	"github.com/guildhall-project/guildhall/internal/db"
	"github.com/guildhall-project/guildhall/internal/events"
	"github.com/guildhall-project/guildhall/internal/health"
	"github.com/guildhall-project/guildhall/internal/network"
	"github.com/guildhall-project/guildhall/internal/presence"
	"github.com/guildhall-project/guildhall/internal/util"
)

// Presence is the client surface the API drives. All presence reads and
// writes go through Do so they run on the update loop.
type Presence interface {
	Do(ctx context.Context, fn func(*presence.Service) error) error
	Running() bool
	Ticks() uint64
	Peers() *network.PeerTable
}

// History reads stored adventures.
type History interface {
	Recent(limit int) ([]db.Adventure, error)
	Count() (int, error)
}

// HealthSource reports the latest health status.
type HealthSource interface {
	Snapshot() health.Status
}

// Server is the REST API and event feed for UI collaborators.
type Server struct {
	cfg      *config.Config
	eventBus *events.EventBus
	client   Presence
	history  History
	health   HealthSource
	feed     *Feed
	logger   zerolog.Logger

	httpServer *http.Server
	router     *gin.Engine
}

// NewServer creates a new API server. history and health may be nil.
func NewServer(cfg *config.Config, eventBus *events.EventBus, client Presence, history History, healthSrc HealthSource) *Server {
	if cfg.GetApplicationData().Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{
		cfg:      cfg,
		eventBus: eventBus,
		client:   client,
		history:  history,
		health:   healthSrc,
		feed:     NewFeed(eventBus, cfg.GetApplicationData().Security.AllowedOrigins),
		logger:   log.With().Str("component", "api").Logger(),
	}
	s.router = s.buildRouter()
	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start listens on the configured API port until ctx is canceled.
func (s *Server) Start(ctx context.Context) error {
	player := s.cfg.GetPlayerData()
	security := s.cfg.GetApplicationData().Security

	addr := fmt.Sprintf(":%d", player.APIPort)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	if security.TLSEnabled {
		if err := util.EnsureCert(security.TLSCertFile, security.TLSKeyFile); err != nil {
			return fmt.Errorf("failed to prepare TLS certificate: %w", err)
		}
		cert, err := tls.LoadX509KeyPair(security.TLSCertFile, security.TLSKeyFile)
		if err != nil {
			return fmt.Errorf("failed to load TLS certificate: %w", err)
		}
		s.httpServer.TLSConfig = &tls.Config{
			MinVersion:   tls.VersionTLS12,
			Certificates: []tls.Certificate{cert},
		}
	}

	// SO_REUSEADDR for immediate rebinding after restart
	lc := network.ReuseAddrListenConfig()
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("API server error: %w", err)
	}

	s.feed.Start(ctx)
	s.logger.Info().Str("addr", addr).Bool("tls", security.TLSEnabled).Msg("REST API server starting")

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn().Err(err).Msg("API shutdown incomplete")
		}
	}()

	if security.TLSEnabled {
		err = s.httpServer.Serve(tls.NewListener(ln, s.httpServer.TLSConfig))
	} else {
		err = s.httpServer.Serve(ln)
	}

	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("API server error: %w", err)
	}
	return nil
}

// buildRouter creates the Gin router with all routes and middleware.
func (s *Server) buildRouter() *gin.Engine {
	security := s.cfg.GetApplicationData().Security
	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(RequestLogger())
	router.Use(SecurityHeaders())
	router.Use(AllowList(security.IPWhitelist))

	allowedOrigins := security.AllowedOrigins
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}
	router.Use(cors.New(cors.Config{
		AllowOrigins:     allowedOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: false, // must stay false while "*" is allowed
		MaxAge:           12 * time.Hour,
	}))

	rateLimiter := NewRateLimiter(security.RateLimitRPS)
	router.Use(rateLimiter.Middleware())

	public := router.Group("/api/public")
	{
		public.GET("/ping", s.handlePing)
		public.GET("/info", s.handleGetInfo)
	}

	presenceGroup := router.Group("/api/presence")
	{
		presenceGroup.GET("/local", s.handleGetLocal)
		presenceGroup.GET("/roster", s.handleGetRoster)
		presenceGroup.GET("/room", s.handleGetRoom)
		presenceGroup.GET("/party", s.handleGetParty)
		presenceGroup.POST("/screen", s.handleSetScreen)
	}

	games := router.Group("/api/games")
	{
		games.GET("", s.handleGetGames)
		games.POST("", s.handleCreateGame)
		games.DELETE("", s.handleCancelCreate)
		games.POST("/join", s.handleJoinGame)
		games.DELETE("/join", s.handleCancelJoin)
	}

	adventure := router.Group("/api/adventure")
	{
		adventure.POST("/launch", s.handleLaunch)
		adventure.POST("/outcome", s.handleOutcome)
	}

	monitor := router.Group("/api/monitor")
	{
		monitor.GET("/history", s.handleGetHistory)
		monitor.GET("/peers", s.handleGetPeers)
		monitor.GET("/health", s.handleGetHealth)
		monitor.GET("/stats", s.handleGetStats)
	}

	configure := router.Group("/api/configure")
	{
		configure.GET("/config", s.handleGetConfig)
		configure.POST("/app_data", s.handleSetAppData)
	}

	router.GET("/api/events", s.feed.Handle)

	router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "endpoint not found"})
	})

	return router
}

// Stop gracefully stops the API server.
func (s *Server) Stop() error {
	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}
