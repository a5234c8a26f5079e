package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/sakif/hypest/internal/config"
	"github.com/sakif/hypest/internal/logging"
	"github.com/sakif/hypest/internal/observability"
	"github.com/sakif/hypest/internal/repository/postgres"
	"github.com/sakif/hypest/internal/server"
	"github.com/sakif/hypest/internal/service"
)

// NewRootCmd creates the root command. With no subcommand it serves.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "hypest",
		Short: "hypest - photo sharing backend",
		Long: `hypest serves the account and session API of the photo sharing
service. Configuration comes from the environment and an optional .env file.`,
		SilenceUsage: true,
		RunE:         runServe,
	}

	cmd.AddCommand(NewServeCmd())
	cmd.AddCommand(NewMigrateCmd())
	cmd.AddCommand(NewPruneSessionsCmd())
	return cmd
}

// NewServeCmd creates the serve subcommand.
func NewServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		Long:  `Start the HTTP server. SIGINT or SIGTERM drains requests for up to 30s.`,
		RunE:  runServe,
	}
}

// NewMigrateCmd creates the migrate subcommand.
func NewMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "migrate up|down",
		Short:     "Apply or roll back the PostgreSQL schema",
		Long:      `Run the embedded migrations against DATABASE_URL. SQLite applies its schema on open and needs no migrations.`,
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{string(postgres.Up), string(postgres.Down)},
		RunE:      runMigrate,
	}
}

// NewPruneSessionsCmd creates the prune-sessions subcommand.
func NewPruneSessionsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "prune-sessions",
		Short: "Delete expired sessions once and exit",
		RunE:  runPruneSessions,
	}
}

func setup() (config.Config, *slog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, nil, err
	}
	logger := logging.Setup("hypest", version, cfg.LogFormat, cfg.LogLevel, os.Stdout)
	return cfg, logger, nil
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	store, err := server.OpenStore(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to open store", slog.Any("error", err))
		return err
	}

	rdb, limiter := server.OpenLimiter(ctx, cfg, logger)
	if rdb != nil {
		defer rdb.Close()
	}

	srv, err := server.New(cfg, server.Deps{
		Store:   store,
		Limiter: limiter,
		Metrics: observability.New(),
	}, logger)
	if err != nil {
		store.Close()
		logger.Error("failed to create server", slog.Any("error", err))
		return err
	}

	// Start() blocks until the server is shut down (via Ctrl+C or SIGTERM)
	if err := srv.Start(); err != nil {
		logger.Error("server error", slog.Any("error", err))
		return err
	}
	return nil
}

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg, _, err := setup()
	if err != nil {
		return err
	}
	if cfg.DBDriver != config.DriverPostgres {
		return errors.New("migrate: DB_DRIVER must be postgres")
	}

	dir := postgres.Direction(args[0])
	cmd.Printf("Running migrations %s...\n", dir)
	if err := postgres.Migrate(cfg.DatabaseURL, dir); err != nil {
		return err
	}
	cmd.Println("Migrations completed successfully")
	return nil
}

func runPruneSessions(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	store, err := server.OpenStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	sessions := service.NewSessionAuthority(store, service.SessionOptions{
		TTL:          cfg.SessionTTL,
		StoreTimeout: cfg.StoreTimeout,
	}, nil, logger)

	n, err := sessions.PruneExpired(ctx)
	if err != nil {
		return fmt.Errorf("prune-sessions: %w", err)
	}
	cmd.Printf("Pruned %d expired sessions\n", n)
	return nil
}
