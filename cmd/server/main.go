package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/episensor/app-template/internal/api"
	"github.com/episensor/app-template/internal/db"
	"github.com/episensor/app-template/internal/hub"
	"github.com/episensor/app-template/internal/monitor"
	"github.com/episensor/app-template/internal/repositories"
	"github.com/episensor/app-template/internal/ws"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

type config struct {
	addr              string
	dbDriver          string
	dbDSN             string
	logLevel          string
	heartbeatInterval time.Duration
	allowedOrigins    []string
}

func main() {
	// Load a local .env if present so flag defaults pick its values up.
	_ = godotenv.Load()

	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cfg := &config{}

	root := &cobra.Command{
		Use:   "app-template",
		Short: "Realtime event broadcast service",
		Long: `app-template is a realtime layer for web applications. Clients hold a
WebSocket connection for rooms, direct messages, and filtered
subscriptions, while backend services drive deliveries through the
REST control surface.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), cfg)
		},
	}

	root.AddCommand(newVersionCmd())
	root.AddCommand(newMigrateCmd(cfg))

	root.PersistentFlags().StringVar(&cfg.addr, "addr", envOrDefault("APP_ADDR", ":8080"), "HTTP and WebSocket listen address")
	root.PersistentFlags().StringVar(&cfg.dbDriver, "db-driver", envOrDefault("APP_DB_DRIVER", "sqlite"), "Database driver (sqlite or postgres)")
	root.PersistentFlags().StringVar(&cfg.dbDSN, "db-dsn", envOrDefault("APP_DB_DSN", "./app.db"), "Database DSN or file path for SQLite")
	root.PersistentFlags().StringVar(&cfg.logLevel, "log-level", envOrDefault("APP_LOG_LEVEL", "info"), "Log level (debug, info, warn, error)")
	root.PersistentFlags().DurationVar(&cfg.heartbeatInterval, "heartbeat-interval", envDurationOrDefault("APP_HEARTBEAT_INTERVAL", 30*time.Second), "Interval between status heartbeats to the monitoring room (0 disables)")
	root.PersistentFlags().StringSliceVar(&cfg.allowedOrigins, "allowed-origins", strings.Split(envOrDefault("APP_ALLOWED_ORIGINS", "*"), ","), "CORS allow-list for the REST surface")

	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("app-template %s (commit: %s, built: %s)\n", version, commit, date)
		},
	}
}

func newMigrateCmd(cfg *config) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := buildLogger(cfg.logLevel)
			if err != nil {
				return fmt.Errorf("failed to build logger: %w", err)
			}
			defer logger.Sync() //nolint:errcheck

			database, err := db.New(db.Config{
				Driver: cfg.dbDriver,
				DSN:    cfg.dbDSN,
				Logger: logger,
			})
			if err != nil {
				return err
			}
			if sqlDB, err := database.DB(); err == nil {
				_ = sqlDB.Close()
			}
			return nil
		},
	}
}

func run(ctx context.Context, cfg *config) error {
	logger, err := buildLogger(cfg.logLevel)
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck

	logger.Info("starting app-template",
		zap.String("version", version),
		zap.String("addr", cfg.addr),
		zap.String("db_driver", cfg.dbDriver),
		zap.String("log_level", cfg.logLevel),
		zap.Duration("heartbeat_interval", cfg.heartbeatInterval),
	)

	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	database, err := db.New(db.Config{
		Driver: cfg.dbDriver,
		DSN:    cfg.dbDSN,
		Logger: logger,
	})
	if err != nil {
		return err
	}
	defer func() {
		if sqlDB, err := database.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}()

	settingsRepo := repositories.NewSettingsRepository(database)

	h := hub.New(logger)
	dispatch := hub.NewDispatcher(h, logger)
	wsHandler := ws.NewHandler(h, dispatch, logger)

	mon, err := monitor.New(h, dispatch, cfg.heartbeatInterval, logger)
	if err != nil {
		return err
	}
	if err := mon.Start(); err != nil {
		return err
	}

	router := api.NewRouter(api.RouterConfig{
		Hub:            h,
		Dispatch:       dispatch,
		Settings:       settingsRepo,
		Logger:         logger,
		WS:             wsHandler,
		AllowedOrigins: cfg.allowedOrigins,
	})

	srv := &http.Server{
		Addr:              cfg.addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", zap.String("addr", cfg.addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down app-template")
	case err := <-errCh:
		return fmt.Errorf("http server error: %w", err)
	}

	// Stop accepting new requests first, then close down the realtime side.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http server shutdown incomplete", zap.Error(err))
	}

	if err := mon.Stop(); err != nil {
		logger.Warn("monitor stop failed", zap.Error(err))
	}

	h.Shutdown("server shutting down")

	logger.Info("app-template stopped")
	return nil
}

func buildLogger(level string) (*zap.Logger, error) {
	var cfg zap.Config

	switch level {
	case "debug":
		cfg = zap.NewDevelopmentConfig()
	default:
		cfg = zap.NewProductionConfig()
	}

	switch level {
	case "debug":
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	case "info":
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	case "warn":
		cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		cfg.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}

	return cfg.Build()
}

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envDurationOrDefault(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}
