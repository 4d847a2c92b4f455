package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/clinica/agenda/internal/config"
	"github.com/clinica/agenda/internal/domain/agenda"
	"github.com/clinica/agenda/internal/domain/scheduling"
	"github.com/clinica/agenda/internal/platform/auth"
	"github.com/clinica/agenda/internal/platform/db"
	"github.com/clinica/agenda/internal/platform/localcache"
	"github.com/clinica/agenda/internal/platform/middleware"
	"github.com/clinica/agenda/internal/platform/remote"
	"github.com/clinica/agenda/internal/platform/websocket"
	"github.com/clinica/agenda/migrations"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "agenda-server",
		Short: "Clinic scheduling API server",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the scheduling API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func newLogger(cfg *config.Config) zerolog.Logger {
	if cfg != nil && cfg.IsDev() {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

// openMigrator loads config and connects to the database for the migrate
// subcommands. The caller closes the returned pool.
func openMigrator(ctx context.Context, schema string) (*db.Migrator, *pgxpool.Pool, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	if cfg.DatabaseURL == "" {
		return nil, nil, errors.New("DATABASE_URL is required for migrations")
	}
	pool, err := db.NewPool(ctx, poolConfig(cfg))
	if err != nil {
		return nil, nil, err
	}
	return db.NewMigrator(pool, migrations.FS).WithSchema(schema), pool, nil
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			schema, _ := cmd.Flags().GetString("schema")

			ctx := context.Background()
			migrator, pool, err := openMigrator(ctx, schema)
			if err != nil {
				return err
			}
			defer pool.Close()

			fmt.Fprintf(cmd.OutOrStdout(), "Running migrations on schema: %s\n", schema)
			count, err := migrator.Up(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().String("schema", db.DefaultSchema, "Target schema for migrations")
	cmd.AddCommand(upCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			schema, _ := cmd.Flags().GetString("schema")

			ctx := context.Background()
			migrator, pool, err := openMigrator(ctx, schema)
			if err != nil {
				return err
			}
			defer pool.Close()

			statuses, err := migrator.Status(ctx)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}
			printStatuses(cmd, schema, statuses)
			return nil
		},
	}
	statusCmd.Flags().String("schema", db.DefaultSchema, "Target schema for migrations")
	cmd.AddCommand(statusCmd)

	return cmd
}

func printStatuses(cmd *cobra.Command, schema string, statuses []db.MigrationStatus) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Migration status for schema: %s\n", schema)
	fmt.Fprintf(out, "%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
	for _, s := range statuses {
		status := "pending"
		appliedAt := ""
		if s.Applied {
			status = "applied"
			if s.AppliedAt != nil {
				appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
			}
		}
		fmt.Fprintf(out, "%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
	}
}

func poolConfig(cfg *config.Config) db.PoolConfig {
	return db.PoolConfig{URL: cfg.DatabaseURL, MaxConns: cfg.DBMaxConns, MinConns: cfg.DBMinConns}
}

// newRemote builds the backend store for the configured mode. It returns a
// nil store, and a nil pool, when the service should run offline.
func newRemote(ctx context.Context, cfg *config.Config) (remote.Store, *pgxpool.Pool, error) {
	switch cfg.ResolvedRemoteMode() {
	case config.RemotePostgres:
		pool, err := db.NewPool(ctx, poolConfig(cfg))
		if err != nil {
			return nil, nil, err
		}
		return remote.NewPG(pool), pool, nil
	case config.RemoteREST:
		return remote.NewREST(cfg.RemoteRESTURL, cfg.RemoteRESTKey), nil, nil
	default:
		return nil, nil, nil
	}
}

func runServer() error {
	cfg, err := config.Load()
	logger := newLogger(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}
	policy, err := scheduling.ParseConflictPolicy(cfg.BookingConflictPolicy)
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid booking conflict policy")
	}

	ctx := context.Background()
	store, pool, err := newRemote(ctx, cfg)
	if err != nil {
		// Without a reachable backend the service runs on its cache.
		logger.Error().Err(err).Msg("remote store unavailable, starting offline")
	}
	if pool != nil {
		defer pool.Close()
	}
	logger.Info().Str("remote", cfg.ResolvedRemoteMode()).Msg("remote store configured")

	cache, err := localcache.Open(cfg.CacheDir)
	if err != nil {
		logger.Fatal().Err(err).Str("dir", cfg.CacheDir).Msg("failed to open local cache")
	}

	hub := websocket.NewHub(logger)
	coord, err := agenda.New(agenda.Deps{
		Remote:   store,
		Cache:    cache,
		Notifier: agenda.HubNotifier{Publisher: hub, Log: logger},
		Logger:   logger,
		Policy:   policy,
	})
	if err != nil {
		cache.Close()
		logger.Fatal().Err(err).Msg("failed to start coordinator")
	}

	fetchCtx, cancelFetch := context.WithTimeout(ctx, 30*time.Second)
	if err := coord.FetchData(fetchCtx); err != nil {
		logger.Warn().Err(err).Msg("initial fetch failed, serving cached data")
	}
	cancelFetch()

	e := newServer(cfg, logger, coord, hub, pool)

	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
	}
	if err := coord.Close(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("pending remote writes abandoned")
	}
	logger.Info().Msg("server stopped")
	return nil
}

// newServer wires middleware and routes.
func newServer(cfg *config.Config, logger zerolog.Logger, coord *agenda.Coordinator, hub *websocket.Hub, pool *pgxpool.Pool) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", middleware.RequestIDHeader},
	}))

	e.GET("/health", db.HealthHandler(pool))

	apiV1 := e.Group("/api/v1")

	rateLimitCfg := middleware.DefaultRateLimitConfig()
	if cfg.RateLimitRPS > 0 {
		rateLimitCfg.RequestsPerSecond = cfg.RateLimitRPS
		rateLimitCfg.BurstSize = cfg.RateLimitBurst
		if rateLimitCfg.BurstSize <= 0 {
			rateLimitCfg.BurstSize = int(cfg.RateLimitRPS) + 1
		}
	}
	apiV1.Use(middleware.RateLimit(rateLimitCfg))

	jwtCfg := auth.JWTConfig{Issuer: cfg.AuthIssuer, SigningKey: []byte(cfg.AuthSigningKey)}
	if cfg.IsDev() {
		apiV1.Use(auth.DevAuthMiddleware(jwtCfg))
	} else {
		apiV1.Use(auth.JWTMiddleware(jwtCfg))
	}

	agenda.NewHandler(coord).RegisterRoutes(apiV1)
	websocket.NewHandler(hub, websocket.HandlerConfig{
		AllowedOrigins: cfg.CORSOrigins,
		DefaultTopics:  []string{agenda.ToastTopic},
	}).RegisterRoutes(apiV1)

	return e
}
