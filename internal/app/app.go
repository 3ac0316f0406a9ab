package app

import (
	"context"
	"errors"
	"fmt"
	stdhttp "net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/mindsync/internal/auth"
	"github.com/vovakirdan/mindsync/internal/config"
	"github.com/vovakirdan/mindsync/internal/core"
	"github.com/vovakirdan/mindsync/internal/log"
	"github.com/vovakirdan/mindsync/internal/store"
	"github.com/vovakirdan/mindsync/internal/store/memory"
	"github.com/vovakirdan/mindsync/internal/store/redis"
	"github.com/vovakirdan/mindsync/internal/store/sqlite"
	transporthttp "github.com/vovakirdan/mindsync/internal/transport/http"
)

// redisConnectTimeout bounds the startup ping.
const redisConnectTimeout = 5 * time.Second

// App wires together core and transport layers.
type App struct {
	server          *stdhttp.Server
	shutdownTimeout time.Duration
	hub             core.Hub
	store           store.Store
	roster          store.RosterStore
	log             *zerolog.Logger
}

// New constructs the application with provided configuration.
func New(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	a := &App{
		shutdownTimeout: cfg.ShutdownTimeout,
		log:             logger,
	}

	roster, err := newRosterStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.roster = roster
	logger.Info().Str("backend", cfg.RosterBackend).Msg("roster store initialized")

	// Accounts need a signing key; without one only guest handshakes work.
	var authService *auth.Service
	if cfg.JWTSecret != "" {
		st, err := sqlite.New(cfg.DatabasePath)
		if err != nil {
			a.cleanup()
			return nil, fmt.Errorf("init store: %w", err)
		}
		a.store = st
		logger.Info().Str("db_path", cfg.DatabasePath).Msg("database initialized")

		authService = auth.NewService(st, &auth.JWTConfig{
			Secret:   []byte(cfg.JWTSecret),
			Issuer:   cfg.JWTIssuer,
			Audience: cfg.JWTAudience,
			TTL:      cfg.JWTTTL,
		})
	} else {
		logger.Warn().Msg("jwt_secret not set, accounts disabled and guest handshakes only")
	}

	a.hub = core.NewHub(roster, log.Component(logger, "hub"))
	a.server = transporthttp.NewServer(a.hub, authService, cfg, log.Component(logger, "http"))
	return a, nil
}

func newRosterStore(ctx context.Context, cfg *config.Config) (store.RosterStore, error) {
	switch cfg.RosterBackend {
	case config.RosterRedis:
		ctx, cancel := context.WithTimeout(ctx, redisConnectTimeout)
		defer cancel()
		rs, err := redis.Connect(ctx, redis.Options{
			Addr:      cfg.RedisAddr,
			Password:  cfg.RedisPassword,
			DB:        cfg.RedisDB,
			KeyPrefix: cfg.RedisKeyPrefix,
		})
		if err != nil {
			return nil, fmt.Errorf("init redis roster: %w", err)
		}
		return rs, nil
	default:
		return memory.New(), nil
	}
}

// Handler exposes the HTTP handler, mainly for tests.
func (a *App) Handler() stdhttp.Handler {
	return a.server.Handler
}

// Run starts the HTTP server and blocks until context cancellation or fatal error.
func (a *App) Run(ctx context.Context) error {
	serverErr := make(chan error, 1)

	hubCtx, stopHub := context.WithCancel(ctx)
	hubDone := make(chan struct{})
	go func() {
		a.hub.Run(hubCtx)
		close(hubDone)
	}()

	go func() {
		a.log.Info().Str("addr", a.server.Addr).Msg("http server listening")
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, stdhttp.ErrServerClosed) {
			serverErr <- err
			return
		}
		serverErr <- nil
	}()

	stop := func() {
		stopHub()
		<-hubDone
		a.cleanup()
	}

	select {
	case err := <-serverErr:
		stop()
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout)
		defer cancel()

		a.log.Info().Msg("shutting down http server")
		if err := a.server.Shutdown(shutdownCtx); err != nil {
			stop()
			return err
		}

		stop()
		return <-serverErr
	}
}

// cleanup closes database and other resources.
func (a *App) cleanup() {
	if a.roster != nil {
		if err := a.roster.Close(); err != nil {
			a.log.Warn().Err(err).Msg("failed to close roster store")
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn().Err(err).Msg("failed to close store")
		} else {
			a.log.Info().Msg("store closed")
		}
	}
}
