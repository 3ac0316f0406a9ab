package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/vovakirdan/mindsync/internal/app"
	"github.com/vovakirdan/mindsync/internal/config"
	"github.com/vovakirdan/mindsync/internal/log"
)

func newServeCmd(logLevel *string) *cobra.Command {
	var (
		configPath string
		overrides  config.Config
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the collaboration server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			bootLogger := log.New("info")
			cfg, path, err := config.Load(bootLogger, configPath)
			if err != nil {
				return err
			}
			overrides.LogLevel = *logLevel
			cfg.UpdateFrom(overrides)
			if cmd.Flags().Changed("jwt-required") {
				cfg.JWTRequired = overrides.JWTRequired
			}

			logger := log.NewWithFormat(os.Stdout, cfg.LogLevel, cfg.LogFormat)
			logger.Info().Str("config", path).Msg("configuration loaded")

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			application, err := app.New(ctx, &cfg, logger)
			if err != nil {
				return err
			}

			logger.Info().Str("addr", cfg.Addr).Msg("starting mindsync server")
			if err := application.Run(ctx); err != nil {
				logger.Error().Err(err).Msg("server exited with error")
				return err
			}
			logger.Info().Msg("server stopped")
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&configPath, "config", "", "config file path")
	flags.StringVar(&overrides.Addr, "addr", "", "HTTP listen address")
	flags.DurationVar(&overrides.ReadHeaderTimeout, "read-header-timeout", 0, "HTTP read header timeout")
	flags.DurationVar(&overrides.ShutdownTimeout, "shutdown-timeout", 0, "graceful shutdown timeout")
	flags.StringVar(&overrides.LogFormat, "log-format", "", "log format: console|json")
	flags.IntVar(&overrides.RateLimitPerMinute, "rate-limit", 0, "inbound messages per connection per minute")
	flags.StringVar(&overrides.JWTSecret, "jwt-secret", "", "HMAC secret for identity tokens")
	flags.BoolVar(&overrides.JWTRequired, "jwt-required", false, "reject guest handshakes")
	flags.DurationVar(&overrides.JWTTTL, "jwt-ttl", 0, "issued token lifetime")
	flags.StringVar(&overrides.DatabasePath, "db", "", "SQLite database path")
	flags.StringVar(&overrides.RosterBackend, "roster", "", "roster backend: memory|redis")
	flags.StringVar(&overrides.RedisAddr, "redis-addr", "", "Redis address for the redis roster backend")
	return cmd
}
